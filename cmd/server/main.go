// Edgewatch - IoT Security Telemetry Pipeline
// Copyright 2026 Edgewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/edgewatch/edgewatch

// The edgewatch server subscribes to the telemetry topic, runs every packet
// through validation, anomaly scoring, and policy evaluation, appends the
// resulting decisions to the durable log, and serves the read-side API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/edgewatch/edgewatch/internal/api"
	"github.com/edgewatch/edgewatch/internal/config"
	"github.com/edgewatch/edgewatch/internal/decisionlog"
	"github.com/edgewatch/edgewatch/internal/logging"
	"github.com/edgewatch/edgewatch/internal/pipeline"
	"github.com/edgewatch/edgewatch/internal/scoring"
	"github.com/edgewatch/edgewatch/internal/supervisor"
	"github.com/edgewatch/edgewatch/internal/supervisor/services"
	"github.com/edgewatch/edgewatch/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("broker", cfg.Broker.URL).
		Str("topic", cfg.Broker.Topic).
		Str("log_path", cfg.Store.LogPath).
		Msg("Starting edgewatch")

	// Durable store: staging WAL plus the append-only decision log.
	walCfg := decisionlog.DefaultWALConfig(cfg.Store.WALPath)
	walCfg.SyncWrites = cfg.Store.WALSyncWrites
	wal, err := decisionlog.OpenWAL(walCfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open staging WAL")
	}
	defer func() {
		if err := wal.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing WAL")
		}
	}()

	log, err := decisionlog.Open(cfg.Store.LogPath)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open decision log")
	}
	defer func() {
		if err := log.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing decision log")
		}
	}()

	appender := decisionlog.NewAppender(wal, log)
	appender.RetryBackoff = cfg.Store.RetryBackoff

	// Replay anything staged before the last shutdown.
	replayed, err := appender.Recover(context.Background())
	if err != nil {
		logging.Fatal().Err(err).Msg("WAL recovery failed")
	}
	if replayed > 0 {
		logging.Info().Int("replayed", replayed).Msg("Recovered staged decisions")
	}

	scorer, err := scoring.NewONNXScorer(cfg.Model.Path)
	if err != nil {
		logging.Fatal().Err(err).Str("model", cfg.Model.Path).Msg("Failed to load anomaly model")
	}
	integrator := scoring.NewIntegrator(scorer, scoring.BreakerConfig{
		FailureThreshold: cfg.Model.BreakerFailures,
		Timeout:          cfg.Model.BreakerTimeout,
	})
	defer func() {
		if err := integrator.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing scorer")
		}
	}()

	orchestrator := pipeline.New(telemetry.NewValidator(), integrator, appender)

	reader := decisionlog.NewReader(cfg.Store.LogPath)
	handler := api.NewHandler(reader, wal, cfg.Windows.Sizes, cfg.Windows.ReportLimit)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(handler, cfg.Server.RateLimit),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddIngestService(services.NewIngestService(cfg.Broker, orchestrator))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.Timeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Drain until the supervisor has fully stopped.
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Stopped gracefully")
}
