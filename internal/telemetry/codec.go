// Edgewatch - IoT Security Telemetry Pipeline
// Copyright 2026 Edgewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/edgewatch/edgewatch

package telemetry

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// DecodePayload decodes an opaque broker payload into the raw key-value
// record consumed by the Validator. Numbers are preserved as json.Number so
// coercion failures are reported per field instead of being flattened by
// the decoder.
func DecodePayload(payload []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return raw, nil
}
