// Edgewatch - IoT Security Telemetry Pipeline
// Copyright 2026 Edgewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/edgewatch/edgewatch

// Package transport provides the MQTT ingress and the synthetic telemetry
// publisher used for load and demo runs.
package transport

import (
	"context"
	"fmt"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/edgewatch/edgewatch/internal/config"
	"github.com/edgewatch/edgewatch/internal/logging"
	"github.com/edgewatch/edgewatch/internal/metrics"
	"github.com/edgewatch/edgewatch/internal/telemetry"
)

// recordBuffer bounds in-flight records between the broker callback and
// the pipeline. When full, the broker's own inflight window provides
// backpressure at QoS 1.
const recordBuffer = 256

// Subscriber consumes telemetry packets from the MQTT broker and exposes
// them as decoded raw records. Malformed payloads are counted and dropped
// at the edge; everything decodable flows downstream for validation.
type Subscriber struct {
	cfg    config.BrokerConfig
	client mqtt.Client
	out    chan map[string]any
	log    zerolog.Logger

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewSubscriber creates a subscriber for the configured broker. Connect is
// deferred to Start.
func NewSubscriber(cfg config.BrokerConfig) *Subscriber {
	return &Subscriber{
		cfg: cfg,
		out: make(chan map[string]any, recordBuffer),
		log: logging.With().Str("component", "mqtt_subscriber").Logger(),
	}
}

// Records is the stream of decoded raw records. Closed when the subscriber
// stops.
func (s *Subscriber) Records() <-chan map[string]any { return s.out }

// Start connects to the broker and subscribes. The subscription is
// re-established automatically after reconnects.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("subscriber already started")
	}

	// Random suffix avoids session collisions when multiple instances
	// share a client_id prefix.
	clientID := fmt.Sprintf("%s-%s", s.cfg.ClientID, uuid.New().String()[:8])

	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.URL).
		SetClientID(clientID).
		SetKeepAlive(s.cfg.KeepAlive).
		SetConnectTimeout(s.cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetOrderMatters(true)

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		s.log.Info().Str("broker", s.cfg.URL).Str("client_id", clientID).Msg("connected to broker")
		token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, s.handleMessage(ctx))
		token.Wait()
		if err := token.Error(); err != nil {
			s.log.Error().Err(err).Str("topic", s.cfg.Topic).Msg("subscribe failed")
			return
		}
		s.log.Info().Str("topic", s.cfg.Topic).Msg("subscribed")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.log.Warn().Err(err).Msg("broker connection lost, reconnecting")
	})

	s.client = mqtt.NewClient(opts)

	token := s.client.Connect()
	if !token.WaitTimeout(s.cfg.ConnectTimeout) {
		return fmt.Errorf("connect to %s: timeout after %s", s.cfg.URL, s.cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to %s: %w", s.cfg.URL, err)
	}

	s.started = true
	return nil
}

// handleMessage decodes a payload and hands it to the pipeline. Undecodable
// payloads never reach validation; they are dropped here.
func (s *Subscriber) handleMessage(ctx context.Context) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		raw, err := telemetry.DecodePayload(msg.Payload())
		if err != nil {
			metrics.PacketsDropped.WithLabelValues("decode", "malformed_payload").Inc()
			s.log.Warn().Err(err).Int("bytes", len(msg.Payload())).Msg("undecodable payload dropped")
			return
		}

		select {
		case s.out <- raw:
		case <-ctx.Done():
		}
	}
}

// Stop unsubscribes, disconnects, and closes the record stream. Safe to
// call once; the pipeline drains the channel and exits on close.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true

	if s.client != nil && s.client.IsConnected() {
		if token := s.client.Unsubscribe(s.cfg.Topic); token.WaitTimeout(s.cfg.ConnectTimeout) {
			if err := token.Error(); err != nil {
				s.log.Warn().Err(err).Msg("unsubscribe failed")
			}
		}
		s.client.Disconnect(250)
	}
	close(s.out)
	s.log.Info().Msg("subscriber stopped")
}
