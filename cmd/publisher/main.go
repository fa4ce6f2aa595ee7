// Edgewatch - IoT Security Telemetry Pipeline
// Copyright 2026 Edgewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/edgewatch/edgewatch

// The publisher emits synthetic telemetry from a simulated camera fleet to
// the broker, for demos and end-to-end load runs against the server.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edgewatch/edgewatch/internal/config"
	"github.com/edgewatch/edgewatch/internal/logging"
	"github.com/edgewatch/edgewatch/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	devices := flag.Int("devices", 5, "number of simulated devices")
	interval := flag.Duration("interval", 2*time.Second, "publish interval")
	seed := flag.Int64("seed", 0, "RNG seed (0 = time-based)")
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

	pub := transport.NewPublisher(cfg.Broker, transport.PublisherConfig{
		DeviceCount: *devices,
		Interval:    *interval,
		Seed:        *seed,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := pub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal().Err(err).Msg("Publisher failed")
	}
	logging.Info().Msg("Publisher stopped")
}
