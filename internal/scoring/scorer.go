// Edgewatch - IoT Security Telemetry Pipeline
// Copyright 2026 Edgewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/edgewatch/edgewatch

// Package scoring attaches anomaly scores to validated packets.
//
// The model itself is an external collaborator (a pretrained sequence
// classifier exported to ONNX). This package owns only shape adaptation
// (packet to model input) and score-range validation. It never trains,
// selects, or substitutes for the model: if the collaborator is down, the
// failure is surfaced, never papered over with a default score.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/edgewatch/edgewatch/internal/telemetry"
)

var (
	// ErrScorerUnavailable indicates the model collaborator cannot be
	// reached or loaded. Records failing with this error are dropped and
	// reported; a silent default score would corrupt the threat decision.
	ErrScorerUnavailable = errors.New("scorer unavailable")

	// ErrScoreOutOfRange indicates the collaborator returned a score
	// outside [0, 1]. Fatal for the record, not for the pipeline.
	ErrScoreOutOfRange = errors.New("anomaly score out of range")
)

// Scorer is the anomaly model collaborator. Implementations accept a
// fixed-arity feature vector and return a score in [0, 1]. Implementations
// may be instantiated once and reused across calls.
type Scorer interface {
	// Score returns the anomaly score for one feature vector.
	Score(ctx context.Context, features []float64) (float64, error)

	// Close releases model resources.
	Close() error
}

// Integrator adapts packets to the model collaborator and validates the
// returned score. Collaborator calls run through a circuit breaker so that
// a dead model short-circuits quickly instead of stalling ingestion on
// every packet.
type Integrator struct {
	scorer  Scorer
	breaker *gobreaker.CircuitBreaker[float64]
}

// BreakerConfig tunes the circuit breaker guarding the model collaborator.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive collaborator failures
	// before the breaker opens.
	FailureThreshold uint32

	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Timeout:          30 * time.Second,
	}
}

// NewIntegrator creates an Integrator around the given collaborator.
func NewIntegrator(scorer Scorer, cfg BreakerConfig) *Integrator {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[float64](gobreaker.Settings{
		Name:    "anomaly-scorer",
		Timeout: cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	})

	return &Integrator{scorer: scorer, breaker: breaker}
}

// Score attaches an anomaly score to a validated packet.
//
// Failure modes: ErrScorerUnavailable when the collaborator cannot be
// invoked (including an open breaker), ErrScoreOutOfRange when the returned
// value falls outside [0, 1]. On success the returned record embeds the
// packet unchanged.
func (in *Integrator) Score(ctx context.Context, pkt *telemetry.Packet) (*telemetry.ScoredRecord, error) {
	if len(pkt.Features) != telemetry.FeatureArity {
		// The validator guarantees arity; a mismatch here is a programming
		// error upstream, reported rather than scored.
		return nil, fmt.Errorf("%w: feature arity %d, want %d",
			ErrScorerUnavailable, len(pkt.Features), telemetry.FeatureArity)
	}

	score, err := in.breaker.Execute(func() (float64, error) {
		return in.scorer.Score(ctx, pkt.Features)
	})
	if err != nil {
		if errors.Is(err, ErrScoreOutOfRange) {
			return nil, err
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open: %v", ErrScorerUnavailable, err)
		}
		if errors.Is(err, ErrScorerUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrScorerUnavailable, err)
	}

	if score < 0 || score > 1 {
		return nil, fmt.Errorf("%w: got %v", ErrScoreOutOfRange, score)
	}

	return &telemetry.ScoredRecord{Packet: *pkt, AnomalyScore: score}, nil
}

// BreakerState reports the circuit breaker state for monitoring.
func (in *Integrator) BreakerState() string {
	return in.breaker.State().String()
}

// Close releases the underlying collaborator.
func (in *Integrator) Close() error {
	return in.scorer.Close()
}
