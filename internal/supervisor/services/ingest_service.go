// Edgewatch - IoT Security Telemetry Pipeline
// Copyright 2026 Edgewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/edgewatch/edgewatch

package services

import (
	"context"
	"fmt"

	"github.com/edgewatch/edgewatch/internal/config"
	"github.com/edgewatch/edgewatch/internal/pipeline"
	"github.com/edgewatch/edgewatch/internal/transport"
)

// IngestService runs the broker subscription and the pipeline loop as one
// supervised unit. Each (re)start builds a fresh subscriber: a connect
// failure or a fatal pipeline error returns from Serve, and suture's
// backoff handles the retry cadence.
type IngestService struct {
	broker       config.BrokerConfig
	orchestrator *pipeline.Orchestrator
}

// NewIngestService creates the ingest service.
func NewIngestService(broker config.BrokerConfig, orchestrator *pipeline.Orchestrator) *IngestService {
	return &IngestService{broker: broker, orchestrator: orchestrator}
}

// Serve implements suture.Service.
func (s *IngestService) Serve(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sub := transport.NewSubscriber(s.broker)
	if err := sub.Start(runCtx); err != nil {
		return fmt.Errorf("start subscriber: %w", err)
	}

	err := s.orchestrator.Run(runCtx, &pipeline.ChanSource{C: sub.Records()})

	// Stop message delivery before tearing down the channel.
	cancel()
	sub.Stop()
	return err
}

func (s *IngestService) String() string { return "ingest" }
