// Edgewatch - IoT Security Telemetry Pipeline
// Copyright 2026 Edgewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/edgewatch/edgewatch

package pipeline

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
)

// CSVSource yields raw records from a CSV of telemetry packets (offline
// mode). Rows are mapped to key-value records by header name, so column
// order does not matter; empty cells are omitted from the record and take
// the validator's defaults.
type CSVSource struct {
	reader *csv.Reader
	header []string
}

// NewCSVSource wraps a CSV stream. The first row must be the header.
func NewCSVSource(r io.Reader) (*CSVSource, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("empty input: %w", err)
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	return &CSVSource{reader: cr, header: header}, nil
}

// Next implements Source. Returns io.EOF when the file is exhausted.
func (s *CSVSource) Next(ctx context.Context) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	row, err := s.reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read row: %w", err)
	}

	raw := make(map[string]any, len(s.header))
	for i, name := range s.header {
		if i >= len(row) || row[i] == "" {
			continue
		}
		raw[name] = row[i]
	}
	return raw, nil
}

// ChanSource adapts a channel of raw records to the Source interface
// (streaming mode: the broker subscription feeds the channel). Next blocks
// until a record arrives, the channel closes (io.EOF), or the context is
// canceled.
type ChanSource struct {
	C <-chan map[string]any
}

// Next implements Source.
func (s *ChanSource) Next(ctx context.Context) (map[string]any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case raw, ok := <-s.C:
		if !ok {
			return nil, io.EOF
		}
		return raw, nil
	}
}
