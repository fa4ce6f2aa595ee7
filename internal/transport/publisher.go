// Edgewatch - IoT Security Telemetry Pipeline
// Copyright 2026 Edgewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/edgewatch/edgewatch

package transport

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/edgewatch/edgewatch/internal/config"
	"github.com/edgewatch/edgewatch/internal/logging"
)

// PublisherConfig tunes the synthetic telemetry generator.
type PublisherConfig struct {
	// DeviceCount is the size of the simulated fleet (EdgeCam_1..N).
	DeviceCount int

	// Interval between published packets.
	Interval time.Duration

	// Seed makes generation reproducible when nonzero.
	Seed int64
}

// DefaultPublisherConfig matches the demo fleet: five cameras, one packet
// every two seconds.
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		DeviceCount: 5,
		Interval:    2 * time.Second,
	}
}

// Publisher emits synthetic telemetry packets to the broker for load and
// demo runs.
type Publisher struct {
	broker config.BrokerConfig
	cfg    PublisherConfig
	client mqtt.Client
	rng    *rand.Rand
	log    zerolog.Logger
}

// NewPublisher creates a publisher; Connect is deferred to Run.
func NewPublisher(broker config.BrokerConfig, cfg PublisherConfig) *Publisher {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Publisher{
		broker: broker,
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(seed)), //nolint:gosec // synthetic telemetry, not security material
		log:    logging.With().Str("component", "mqtt_publisher").Logger(),
	}
}

// Run connects and publishes packets until the context is canceled.
func (p *Publisher) Run(ctx context.Context) error {
	clientID := fmt.Sprintf("%s-pub-%s", p.broker.ClientID, uuid.New().String()[:8])
	opts := mqtt.NewClientOptions().
		AddBroker(p.broker.URL).
		SetClientID(clientID).
		SetKeepAlive(p.broker.KeepAlive).
		SetConnectTimeout(p.broker.ConnectTimeout).
		SetAutoReconnect(true)

	p.client = mqtt.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(p.broker.ConnectTimeout) {
		return fmt.Errorf("connect to %s: timeout after %s", p.broker.URL, p.broker.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to %s: %w", p.broker.URL, err)
	}
	defer p.client.Disconnect(250)

	p.log.Info().
		Str("broker", p.broker.URL).
		Str("topic", p.broker.Topic).
		Int("devices", p.cfg.DeviceCount).
		Msg("publisher started")

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("publisher stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := p.publishOne(); err != nil {
				p.log.Warn().Err(err).Msg("publish failed")
			}
		}
	}
}

func (p *Publisher) publishOne() error {
	pkt := p.generatePacket()
	payload, err := json.Marshal(pkt)
	if err != nil {
		return fmt.Errorf("marshal packet: %w", err)
	}

	token := p.client.Publish(p.broker.Topic, p.broker.QoS, false, payload)
	if !token.WaitTimeout(p.broker.ConnectTimeout) {
		return fmt.Errorf("publish: timeout after %s", p.broker.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	p.log.Debug().Str("device", pkt["device_id"].(string)).Msg("packet published")
	return nil
}

// generatePacket produces one telemetry packet: a random device from the
// fleet, four behavioral features in [0.1, 1.0], and random control flags.
func (p *Publisher) generatePacket() map[string]any {
	return map[string]any{
		"device_id": fmt.Sprintf("EdgeCam_%d", p.rng.Intn(p.cfg.DeviceCount)+1),
		"feature1":  p.feature(),
		"feature2":  p.feature(),
		"feature3":  p.feature(),
		"feature4":  p.feature(),
		"mfa":       p.rng.Intn(2),
		"vpn":       p.rng.Intn(2),
		"firewall":  p.rng.Intn(2),
	}
}

func (p *Publisher) feature() float64 {
	v := 0.1 + p.rng.Float64()*0.9
	return math.Round(v*100) / 100
}
