// Edgewatch - IoT Security Telemetry Pipeline
// Copyright 2026 Edgewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/edgewatch/edgewatch

package decisionlog

import (
	"context"
	"fmt"
	"time"

	"github.com/edgewatch/edgewatch/internal/logging"
	"github.com/edgewatch/edgewatch/internal/telemetry"
)

// Appender is the durable sink for the ingest pipeline: stage in the WAL,
// append to the CSV log, confirm. An append failure is retried once after a
// backoff; a second failure is reported to the caller (fatal to the ingest
// task per the error contract) while the staged entry survives for replay.
type Appender struct {
	wal    *WAL
	log    *Log
	reader *Reader

	// RetryBackoff is the wait before the single append retry.
	RetryBackoff time.Duration
}

// NewAppender wires a WAL and a decision log into a durable sink.
func NewAppender(wal *WAL, log *Log) *Appender {
	return &Appender{
		wal:          wal,
		log:          log,
		reader:       NewReader(log.Path()),
		RetryBackoff: 2 * time.Second,
	}
}

// Append durably records one decision. The record is staged before the log
// append, so it survives a crash at any point; the CSV row itself is
// flushed before Append returns.
func (a *Appender) Append(ctx context.Context, rec *telemetry.DecisionRecord) error {
	entryID, err := a.wal.Write(ctx, rec)
	if err != nil {
		return fmt.Errorf("stage decision: %w", err)
	}

	if err := a.appendWithRetry(ctx, rec, entryID); err != nil {
		// Leave the entry staged; Recover replays it after restart.
		return err
	}

	if err := a.wal.Confirm(ctx, entryID); err != nil {
		// The row is durable; a failed confirm only means the entry is
		// replayed (and deduplicated) on the next recovery.
		logging.Warn().Err(err).Str("entry_id", entryID).Msg("confirm after append failed")
	}
	return nil
}

func (a *Appender) appendWithRetry(ctx context.Context, rec *telemetry.DecisionRecord, entryID string) error {
	err := a.log.Append(rec, entryID)
	if err == nil {
		return nil
	}

	logging.Warn().Err(err).
		Dur("backoff", a.RetryBackoff).
		Msg("decision log append failed, retrying once")

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(a.RetryBackoff):
	}

	if err := a.log.Append(rec, entryID); err != nil {
		return fmt.Errorf("append decision after retry: %w", err)
	}
	return nil
}

// Recover replays staged entries that never reached the decision log.
// Entries whose record ID is already present in the log (a crash between
// append and confirm) are confirmed without re-appending, keeping replay
// idempotent. Called once at startup, before ingestion begins.
func (a *Appender) Recover(ctx context.Context) (int, error) {
	entries, err := a.wal.Pending(ctx)
	if err != nil {
		return 0, fmt.Errorf("read staged entries: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	logging.Info().Int("staged", len(entries)).Msg("replaying staged decisions")

	replayed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return replayed, err
		}

		appended, err := a.reader.HasRecordID(entry.ID)
		if err != nil {
			return replayed, fmt.Errorf("check staged entry %s: %w", entry.ID, err)
		}
		if !appended {
			if err := a.log.Append(entry.Record, entry.ID); err != nil {
				return replayed, fmt.Errorf("replay staged entry %s: %w", entry.ID, err)
			}
			replayed++
		}
		if err := a.wal.Confirm(ctx, entry.ID); err != nil {
			logging.Warn().Err(err).Str("entry_id", entry.ID).Msg("confirm replayed entry failed")
		}
	}
	return replayed, nil
}
