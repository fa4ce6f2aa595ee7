// Edgewatch - IoT Security Telemetry Pipeline
// Copyright 2026 Edgewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/edgewatch/edgewatch

// Package pipeline orchestrates the per-record flow: validate, score,
// evaluate policy, decide, durably append.
//
// One orchestrator serves both modes. Streaming mode feeds it from the
// broker subscription; offline mode feeds it from CSV rows and swaps the
// sink. The per-record logic is identical, not two codepaths.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/edgewatch/edgewatch/internal/logging"
	"github.com/edgewatch/edgewatch/internal/metrics"
	"github.com/edgewatch/edgewatch/internal/policy"
	"github.com/edgewatch/edgewatch/internal/scoring"
	"github.com/edgewatch/edgewatch/internal/telemetry"
)

// Stage names a pipeline stage for error attribution.
type Stage string

const (
	StageValidate Stage = "validate"
	StageScore    Stage = "score"
	StageAppend   Stage = "append"
)

// Error tags a stage failure. Use errors.As to recover the stage and
// errors.Is against the underlying sentinels (telemetry.ErrMissingField,
// scoring.ErrScorerUnavailable, ...) to classify it.
type Error struct {
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("pipeline stage %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func stageError(stage Stage, err error) *Error {
	return &Error{Stage: stage, Err: err}
}

// Sink receives fully derived decision records. The durable log appender
// is the streaming sink; offline mode uses an in-memory batch.
type Sink interface {
	Append(ctx context.Context, rec *telemetry.DecisionRecord) error
}

// Source yields raw key-value records. Next returns io.EOF when the source
// is exhausted (offline mode) and blocks awaiting the next message in
// streaming mode.
type Source interface {
	Next(ctx context.Context) (map[string]any, error)
}

// Orchestrator composes the pipeline stages over a configured scorer and
// sink.
type Orchestrator struct {
	validator  *telemetry.Validator
	integrator *scoring.Integrator
	sink       Sink
}

// New creates an orchestrator.
func New(validator *telemetry.Validator, integrator *scoring.Integrator, sink Sink) *Orchestrator {
	return &Orchestrator{
		validator:  validator,
		integrator: integrator,
		sink:       sink,
	}
}

// ProcessOne runs a single raw record through every stage, short-circuiting
// on the first failure. The returned error carries the stage that produced
// it; on success the appended decision record is returned.
func (o *Orchestrator) ProcessOne(ctx context.Context, raw map[string]any) (*telemetry.DecisionRecord, error) {
	metrics.PacketsReceived.Inc()

	pkt, err := o.validator.Validate(raw)
	if err != nil {
		metrics.PacketsDropped.WithLabelValues(string(StageValidate), dropReason(err)).Inc()
		return nil, stageError(StageValidate, err)
	}

	start := time.Now()
	scored, err := o.integrator.Score(ctx, pkt)
	metrics.ObserveScoring(start)
	if err != nil {
		metrics.PacketsDropped.WithLabelValues(string(StageScore), dropReason(err)).Inc()
		metrics.ScoringFailures.WithLabelValues(dropReason(err)).Inc()
		return nil, stageError(StageScore, err)
	}

	// Policy evaluation and the threat decision are pure and total; they
	// contribute no failure modes.
	dec := policy.Decide(scored, policy.Evaluate(scored))

	start = time.Now()
	if err := o.sink.Append(ctx, dec); err != nil {
		metrics.PacketsDropped.WithLabelValues(string(StageAppend), "io").Inc()
		return nil, stageError(StageAppend, err)
	}
	metrics.ObserveAppend(start)
	metrics.DecisionsAppended.WithLabelValues(string(dec.ThreatLevel)).Inc()

	return dec, nil
}

// Run consumes the source until it is exhausted or the context is
// canceled. Per-record validation and scoring failures are logged and
// skipped; they never abort the loop. Append failures abort: the sink has
// already retried, and continuing to ingest without durability would
// silently drop decisions.
//
// Cancellation takes effect between records; an in-flight append always
// completes before Run returns.
func (o *Orchestrator) Run(ctx context.Context, src Source) error {
	log := logging.With().Str("component", "pipeline").Logger()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		raw, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read source: %w", err)
		}

		dec, err := o.ProcessOne(ctx, raw)
		if err != nil {
			var perr *Error
			if errors.As(err, &perr) && perr.Stage == StageAppend {
				return err
			}
			// Validation and scoring failures are isolated per record.
			log.Warn().Err(err).Msg("record dropped")
			continue
		}

		log.Debug().
			Str("device", dec.DeviceID).
			Float64("score", dec.AnomalyScore).
			Str("threat_level", string(dec.ThreatLevel)).
			Msg("decision appended")
	}
}

// dropReason maps errors to a low-cardinality metric label.
func dropReason(err error) string {
	switch {
	case errors.Is(err, telemetry.ErrMissingField):
		return "missing_field"
	case errors.Is(err, telemetry.ErrMalformedValue):
		return "malformed_value"
	case errors.Is(err, scoring.ErrScoreOutOfRange):
		return "out_of_range"
	case errors.Is(err, scoring.ErrScorerUnavailable):
		return "unavailable"
	default:
		return "other"
	}
}

// BatchSink collects decision records in memory. Offline mode uses it to
// assemble report input instead of writing to the durable log.
type BatchSink struct {
	Records []telemetry.DecisionRecord
}

// Append implements Sink.
func (b *BatchSink) Append(_ context.Context, rec *telemetry.DecisionRecord) error {
	b.Records = append(b.Records, *rec)
	return nil
}
