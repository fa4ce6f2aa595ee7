// Edgewatch - IoT Security Telemetry Pipeline
// Copyright 2026 Edgewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/edgewatch/edgewatch

package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/edgewatch/edgewatch/internal/aggregate"
	"github.com/edgewatch/edgewatch/internal/decisionlog"
	"github.com/edgewatch/edgewatch/internal/metrics"
	"github.com/edgewatch/edgewatch/internal/telemetry"
)

// maxDecisionsLimit caps the /decisions window so a client cannot force an
// unbounded read.
const maxDecisionsLimit = 1000

// PendingCounter reports WAL staging depth for health checks.
type PendingCounter interface {
	PendingCount(ctx context.Context) (int, error)
}

// Handler serves the read-side endpoints over the durable decision log.
// Every request reads the log fresh; an absent or empty log is "no data",
// never an error.
type Handler struct {
	reader      *decisionlog.Reader
	wal         PendingCounter
	windowSizes []int
	reportLimit int
}

// NewHandler creates the read-side handler.
func NewHandler(reader *decisionlog.Reader, wal PendingCounter, windowSizes []int, reportLimit int) *Handler {
	return &Handler{
		reader:      reader,
		wal:         wal,
		windowSizes: windowSizes,
		reportLimit: reportLimit,
	}
}

// healthData is the /health response body.
type healthData struct {
	Status     string `json:"status"`
	WALPending int    `json:"wal_pending"`
	Timestamp  string `json:"timestamp"`
}

// Health reports liveness plus WAL staging depth.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	pending := 0
	if h.wal != nil {
		n, err := h.wal.PendingCount(r.Context())
		if err != nil {
			rw.Error(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "staging store unavailable")
			return
		}
		pending = n
	}
	metrics.WALPendingEntries.Set(float64(pending))

	rw.Success(healthData{
		Status:     "ok",
		WALPending: pending,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
}

// windowsData is the /windows response body.
type windowsData struct {
	Windows []aggregate.WindowMetrics `json:"windows"`
}

// Windows computes rolling-window metrics for every configured window size
// from a single tail fetch.
func (h *Handler) Windows(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	tail, err := h.tail(aggregate.MaxWindow(h.windowSizes))
	if err != nil {
		rw.InternalError(err)
		return
	}

	bySize := aggregate.MultiWindow(h.windowSizes, tail)
	windows := make([]aggregate.WindowMetrics, 0, len(bySize))
	for _, size := range aggregate.SortedSizes(h.windowSizes) {
		windows = append(windows, bySize[size])
	}
	rw.Success(windowsData{Windows: windows})
}

// decisionsData is the /decisions response body.
type decisionsData struct {
	Decisions []telemetry.DecisionRecord `json:"decisions"`
	Count     int                        `json:"count"`
}

// Decisions returns the most recent decision records, newest last. The
// limit query parameter bounds the window (default 100, max 1000).
func (h *Handler) Decisions(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			rw.Error(http.StatusBadRequest, ErrCodeBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > maxDecisionsLimit {
		limit = maxDecisionsLimit
	}

	tail, err := h.tail(limit)
	if err != nil {
		rw.InternalError(err)
		return
	}
	rw.Success(decisionsData{Decisions: tail, Count: len(tail)})
}

// Report returns the three filtered report views: recent anomalies, recent
// control violations, and recent automated actions.
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	// The views filter independently, so the tail must be wide enough to
	// fill each view even when matches are sparse.
	tail, err := h.reader.SnapshotAll()
	if err != nil {
		rw.InternalError(err)
		return
	}
	rw.Success(aggregate.BuildReportViews(tail, h.reportLimit))
}

func (h *Handler) tail(n int) ([]telemetry.DecisionRecord, error) {
	tail, err := h.reader.Tail(n)
	if err != nil {
		metrics.TailReads.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.TailReads.WithLabelValues("ok").Inc()
	if tail == nil {
		tail = []telemetry.DecisionRecord{}
	}
	return tail, nil
}
