// Edgewatch - IoT Security Telemetry Pipeline
// Copyright 2026 Edgewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/edgewatch/edgewatch

package decisionlog

import (
	"context"
	"errors"
	"testing"
	"time"
)

func openTestWAL(t *testing.T) *WAL {
	t.Helper()
	cfg := DefaultWALConfig(t.TempDir())
	// fsync per write is slow on CI filesystems and irrelevant to the
	// semantics under test.
	cfg.SyncWrites = false

	w, err := OpenWAL(cfg)
	if err != nil {
		t.Fatalf("open WAL: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func TestWALWriteConfirmLifecycle(t *testing.T) {
	w := openTestWAL(t)
	ctx := context.Background()

	id, err := w.Write(ctx, decision("EdgeCam_1", 0.95, 2))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if id == "" {
		t.Fatal("empty entry ID")
	}

	pending, err := w.Pending(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != id {
		t.Fatalf("pending = %+v, want single entry %s", pending, id)
	}
	if pending[0].Record.DeviceID != "EdgeCam_1" {
		t.Errorf("staged record device = %q", pending[0].Record.DeviceID)
	}

	if err := w.Confirm(ctx, id); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	pending, err = w.Pending(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("confirmed entry still pending: %+v", pending)
	}
}

func TestWALConfirmUnknownEntry(t *testing.T) {
	w := openTestWAL(t)
	if err := w.Confirm(context.Background(), "no-such-entry"); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("expected ErrEntryNotFound, got %v", err)
	}
}

func TestWALPendingArrivalOrder(t *testing.T) {
	w := openTestWAL(t)
	ctx := context.Background()

	devices := []string{"first", "second", "third", "fourth"}
	for _, d := range devices {
		if _, err := w.Write(ctx, decision(d, 0.5, 0)); err != nil {
			t.Fatalf("write: %v", err)
		}
		time.Sleep(2 * time.Millisecond) // distinct CreatedAt
	}

	pending, err := w.Pending(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != len(devices) {
		t.Fatalf("pending count = %d", len(pending))
	}
	for i, d := range devices {
		if pending[i].Record.DeviceID != d {
			t.Errorf("pending[%d] = %s, want %s", i, pending[i].Record.DeviceID, d)
		}
	}
}

func TestWALClosedOperations(t *testing.T) {
	w := openTestWAL(t)
	w.Close()

	if _, err := w.Write(context.Background(), decision("d", 0.1, 0)); !errors.Is(err, ErrWALClosed) {
		t.Errorf("write after close: %v", err)
	}
	if _, err := w.Pending(context.Background()); !errors.Is(err, ErrWALClosed) {
		t.Errorf("pending after close: %v", err)
	}
}
