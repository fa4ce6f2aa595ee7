// Edgewatch - IoT Security Telemetry Pipeline
// Copyright 2026 Edgewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/edgewatch/edgewatch

// The analyze tool runs the pipeline offline. With -input it scores a CSV
// of raw telemetry packets through the configured model and reports on the
// resulting decisions; without it, it reports on the existing decision log.
// Results (rolling-window metrics plus the three report views) are printed
// as JSON.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"github.com/edgewatch/edgewatch/internal/aggregate"
	"github.com/edgewatch/edgewatch/internal/config"
	"github.com/edgewatch/edgewatch/internal/decisionlog"
	"github.com/edgewatch/edgewatch/internal/logging"
	"github.com/edgewatch/edgewatch/internal/pipeline"
	"github.com/edgewatch/edgewatch/internal/scoring"
	"github.com/edgewatch/edgewatch/internal/telemetry"
)

// analysis is the printed result document.
type analysis struct {
	Source  string                    `json:"source"`
	Records int                       `json:"records"`
	Windows []aggregate.WindowMetrics `json:"windows"`
	Report  aggregate.ReportViews     `json:"report"`
}

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	input := flag.String("input", "", "raw telemetry CSV to score (default: report on the decision log)")
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

	var result *analysis
	if *input != "" {
		result, err = analyzeTelemetry(cfg, *input)
	} else {
		result, err = analyzeDecisionLog(cfg)
	}
	if err != nil {
		logging.Fatal().Err(err).Msg("Analysis failed")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		logging.Fatal().Err(err).Msg("Failed to encode result")
	}
}

// analyzeTelemetry scores raw packets from a CSV through the full pipeline
// with an in-memory sink, then aggregates the decisions.
func analyzeTelemetry(cfg *config.Config, path string) (*analysis, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	src, err := pipeline.NewCSVSource(f)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}

	scorer, err := scoring.NewONNXScorer(cfg.Model.Path)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
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

	sink := &pipeline.BatchSink{}
	orchestrator := pipeline.New(telemetry.NewValidator(), integrator, sink)
	if err := orchestrator.Run(context.Background(), src); err != nil {
		return nil, fmt.Errorf("process input: %w", err)
	}

	return aggregateRecords(cfg, path, sink.Records), nil
}

// analyzeDecisionLog aggregates over the persisted decision log.
func analyzeDecisionLog(cfg *config.Config) (*analysis, error) {
	reader := decisionlog.NewReader(cfg.Store.LogPath)
	records, err := reader.SnapshotAll()
	if err != nil {
		return nil, fmt.Errorf("read decision log: %w", err)
	}
	return aggregateRecords(cfg, cfg.Store.LogPath, records), nil
}

func aggregateRecords(cfg *config.Config, source string, records []telemetry.DecisionRecord) *analysis {
	bySize := aggregate.MultiWindow(cfg.Windows.Sizes, records)
	windows := make([]aggregate.WindowMetrics, 0, len(bySize))
	for _, size := range aggregate.SortedSizes(cfg.Windows.Sizes) {
		windows = append(windows, bySize[size])
	}

	return &analysis{
		Source:  source,
		Records: len(records),
		Windows: windows,
		Report:  aggregate.BuildReportViews(records, cfg.Windows.ReportLimit),
	}
}
