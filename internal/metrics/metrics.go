// Edgewatch - IoT Security Telemetry Pipeline
// Copyright 2026 Edgewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/edgewatch/edgewatch

// Package metrics exposes Prometheus instrumentation for the ingest
// pipeline: packet throughput, per-stage drop reasons, scoring latency,
// append durability cost, and threat decision outcomes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingest throughput
	PacketsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "edgewatch_packets_received_total",
			Help: "Total telemetry packets received from the broker",
		},
	)

	PacketsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgewatch_packets_dropped_total",
			Help: "Total packets dropped before reaching the decision log",
		},
		[]string{"stage", "reason"}, // stage: validate|score|append; reason: missing_field|malformed_value|...
	)

	DecisionsAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgewatch_decisions_appended_total",
			Help: "Total decision records appended to the durable log",
		},
		[]string{"threat_level"},
	)

	// Scoring collaborator
	ScoringDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "edgewatch_scoring_duration_seconds",
			Help:    "Anomaly model inference latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	ScoringFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgewatch_scoring_failures_total",
			Help: "Total anomaly model failures by kind",
		},
		[]string{"kind"}, // unavailable|out_of_range
	)

	// Durable log
	AppendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "edgewatch_log_append_duration_seconds",
			Help:    "Decision log append latency (including fsync) in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	WALPendingEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "edgewatch_wal_pending_entries",
			Help: "Staged decision records not yet confirmed in the log",
		},
	)

	// Read side
	TailReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgewatch_tail_reads_total",
			Help: "Total tail reads served to dashboard and report readers",
		},
		[]string{"outcome"}, // ok|no_data|error
	)
)

// ObserveScoring records one model invocation.
func ObserveScoring(start time.Time) {
	ScoringDuration.Observe(time.Since(start).Seconds())
}

// ObserveAppend records one durable append.
func ObserveAppend(start time.Time) {
	AppendDuration.Observe(time.Since(start).Seconds())
}
