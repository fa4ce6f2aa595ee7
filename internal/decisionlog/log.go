// Edgewatch - IoT Security Telemetry Pipeline
// Copyright 2026 Edgewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/edgewatch/edgewatch

// Package decisionlog persists decision records in an append-only,
// row-oriented log with single-writer/multi-reader discipline.
//
// The store is a CSV file with a fixed header written once at creation.
// Each append is a single write-and-flush of one complete row, so readers
// only ever observe a well-formed prefix and no locks are needed between
// the one writer and any number of readers. Readers parse rows by column
// name, not position, to tolerate future additive columns.
//
// Durability beyond the single fsync is provided by the Badger-backed WAL
// in wal.go: records are staged there before the CSV append and confirmed
// after, so a crash between the two is recovered on restart.
package decisionlog

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/edgewatch/edgewatch/internal/telemetry"
)

// Store columns, in stable order. device_id through firewall are the
// minimum contract with external readers; the decision fields and
// record_id are writer extensions.
var columns = []string{
	"device_id",
	"anomaly_score",
	"mfa",
	"vpn",
	"firewall",
	"policy_violations",
	"threat_level",
	"auto_action",
	"timestamp",
	"record_id",
}

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("decision log closed")

// tailChunkSize is the backward-read granularity for Tail.
const tailChunkSize = 16 * 1024

// Log is the single-writer append handle for the decision log.
//
// Open is idempotent: an absent or empty store is created with the schema
// header; an existing non-empty store is left untouched.
type Log struct {
	path string

	mu     sync.Mutex
	f      *os.File
	closed bool
}

// Open opens the decision log for appending, creating it (and its parent
// directory) with the schema header on first run.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open decision log: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat decision log: %w", err)
	}

	if info.Size() == 0 {
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		if err := w.Write(columns); err != nil {
			f.Close()
			return nil, fmt.Errorf("encode header: %w", err)
		}
		w.Flush()
		if _, err := f.Write(buf.Bytes()); err != nil {
			f.Close()
			return nil, fmt.Errorf("write header: %w", err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, fmt.Errorf("sync header: %w", err)
		}
	}

	return &Log{path: path, f: f}, nil
}

// Path returns the location of the underlying store.
func (l *Log) Path() string { return l.path }

// Append writes one decision record as a single atomic row and flushes it
// to stable storage before returning. Append order equals call order; the
// caller (the ingest pipeline) is the only writer.
//
// recordID is the WAL entry ID, persisted so crash recovery can tell which
// staged records already reached the log.
func (l *Log) Append(rec *telemetry.DecisionRecord, recordID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(encodeRow(rec, recordID)); err != nil {
		return fmt.Errorf("encode row: %w", err)
	}
	w.Flush()

	// One write, one fsync: readers never see a partial row and there is
	// no buffered-but-lost window on crash.
	if _, err := l.f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("append row: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("sync row: %w", err)
	}
	return nil
}

// Close releases the writer handle. Readers are unaffected.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.f.Close()
}

func encodeRow(rec *telemetry.DecisionRecord, recordID string) []string {
	return []string{
		rec.DeviceID,
		strconv.FormatFloat(rec.AnomalyScore, 'f', -1, 64),
		strconv.Itoa(rec.MFA),
		strconv.Itoa(rec.VPN),
		strconv.Itoa(rec.Firewall),
		strconv.Itoa(rec.PolicyViolations),
		string(rec.ThreatLevel),
		string(rec.AutoAction),
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
		recordID,
	}
}

// Reader provides read access to a decision log. Any number of Readers may
// run concurrently with the single writer; a Reader must never assume the
// log stops growing once opened.
type Reader struct {
	path string
}

// NewReader creates a reader for the store at path. The store need not
// exist yet: reads against an absent store report "no data" (empty
// results), not an error.
func NewReader(path string) *Reader {
	return &Reader{path: path}
}

// SnapshotAll returns every record in the log in append order. Used by
// batch/offline mode.
func (r *Reader) SnapshotAll() ([]telemetry.DecisionRecord, error) {
	f, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open decision log: %w", err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := columnIndex(header)

	var records []telemetry.DecisionRecord
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// A torn trailing row means the writer is mid-append of a
			// format we cannot parse yet; the prefix read so far is
			// still well-formed.
			break
		}
		rec, ok := decodeRow(row, idx)
		if !ok {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Tail returns the n most recent records in append order (oldest of the
// window first). It returns fewer when the log holds fewer, and empty
// results when the store is absent. The read cost is bounded by the window
// size, not the log length.
func (r *Reader) Tail(n int) ([]telemetry.DecisionRecord, error) {
	if n <= 0 {
		return nil, nil
	}

	f, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open decision log: %w", err)
	}
	defer f.Close()

	// Header first; it carries the column order for name-based parsing.
	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := columnIndex(header)

	// Snapshot the size once; rows appended after this point belong to
	// the next read.
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat decision log: %w", err)
	}

	tail, atStart, err := readTailBytes(f, info.Size(), n)
	if err != nil {
		return nil, err
	}

	rows, err := parseRows(tail)
	if err != nil {
		return nil, err
	}
	if !atStart && len(rows) > 0 {
		// The first row of a mid-file chunk may be a fragment.
		rows = rows[1:]
	}
	if atStart && len(rows) > 0 {
		// The chunk reaches the start of the file and so includes the
		// header row.
		rows = rows[1:]
	}
	if len(rows) > n {
		rows = rows[len(rows)-n:]
	}

	records := make([]telemetry.DecisionRecord, 0, len(rows))
	for _, row := range rows {
		if rec, ok := decodeRow(row, idx); ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

// HasRecordID reports whether a row carrying the given WAL record ID has
// already been appended. Used by crash recovery to keep replay idempotent.
func (r *Reader) HasRecordID(id string) (bool, error) {
	if id == "" {
		return false, nil
	}

	f, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("open decision log: %w", err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return false, nil
	}
	col := -1
	for i, name := range header {
		if name == "record_id" {
			col = i
			break
		}
	}
	if col < 0 {
		return false, nil
	}

	for {
		row, err := cr.Read()
		if err != nil {
			return false, nil
		}
		if col < len(row) && row[col] == id {
			return true, nil
		}
	}
}

// readTailBytes reads backwards from offset end until the data contains at
// least want+2 newlines (window rows plus a possible fragment and header)
// or the file start is reached.
func readTailBytes(f *os.File, end int64, want int) ([]byte, bool, error) {
	var (
		buf   []byte
		start = end
	)
	needed := want + 2

	for start > 0 && bytes.Count(buf, []byte{'\n'}) < needed {
		chunk := int64(tailChunkSize)
		if start < chunk {
			chunk = start
		}
		start -= chunk

		head := make([]byte, chunk, chunk+int64(len(buf)))
		if _, err := f.ReadAt(head, start); err != nil && !errors.Is(err, io.EOF) {
			return nil, false, fmt.Errorf("read decision log tail: %w", err)
		}
		buf = append(head, buf...)
	}
	return buf, start == 0, nil
}

func parseRows(data []byte) ([][]string, error) {
	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1

	var rows [][]string
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Skip fragments; the remaining rows are intact.
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// columnIndex maps column names to positions for name-based row parsing.
func columnIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[name] = i
	}
	return idx
}

// decodeRow reconstructs a decision record from one CSV row. Rows that do
// not carry the minimum parseable columns are skipped rather than failing
// the whole read.
func decodeRow(row []string, idx map[string]int) (telemetry.DecisionRecord, bool) {
	field := func(name string) (string, bool) {
		i, ok := idx[name]
		if !ok || i >= len(row) {
			return "", false
		}
		return row[i], true
	}

	var rec telemetry.DecisionRecord

	deviceID, ok := field("device_id")
	if !ok || deviceID == "" {
		return rec, false
	}
	rec.DeviceID = deviceID

	scoreStr, ok := field("anomaly_score")
	if !ok {
		return rec, false
	}
	score, err := strconv.ParseFloat(scoreStr, 64)
	if err != nil {
		return rec, false
	}
	rec.AnomalyScore = score

	for _, f := range []struct {
		name string
		dst  *int
	}{
		{"mfa", &rec.MFA},
		{"vpn", &rec.VPN},
		{"firewall", &rec.Firewall},
		{"policy_violations", &rec.PolicyViolations},
	} {
		s, ok := field(f.name)
		if !ok {
			return rec, false
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			return rec, false
		}
		*f.dst = v
	}

	if s, ok := field("threat_level"); ok {
		rec.ThreatLevel = telemetry.ThreatLevel(s)
	}
	if s, ok := field("auto_action"); ok {
		rec.AutoAction = telemetry.AutoAction(s)
	}
	if s, ok := field("timestamp"); ok && s != "" {
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			rec.Timestamp = ts
		}
	}
	return rec, true
}
