// Edgewatch - IoT Security Telemetry Pipeline
// Copyright 2026 Edgewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/edgewatch/edgewatch

package telemetry

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// Validation failure categories. Use errors.Is against these sentinels to
// discriminate; the concrete error is always a *ValidationError carrying the
// offending field name.
var (
	// ErrMissingField indicates a required field is absent or empty.
	ErrMissingField = errors.New("missing field")

	// ErrMalformedValue indicates a field cannot be coerced to its
	// declared type.
	ErrMalformedValue = errors.New("malformed value")
)

// ValidationError describes why a raw record was rejected.
type ValidationError struct {
	Field  string
	Reason string
	kind   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("field %q: %s", e.Field, e.Reason)
}

// Unwrap returns the failure category (ErrMissingField or ErrMalformedValue).
func (e *ValidationError) Unwrap() error { return e.kind }

func missingField(field string) *ValidationError {
	return &ValidationError{Field: field, Reason: "required but absent or empty", kind: ErrMissingField}
}

func malformedValue(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason, kind: ErrMalformedValue}
}

// Validator normalizes raw key-value records into well-formed Packets.
// It is pure apart from the injected clock, which supplies the ingestion
// timestamp when the source carries none.
type Validator struct {
	// Now supplies the ingestion timestamp for sources without one.
	// Defaults to time.Now.
	Now func() time.Time
}

// NewValidator creates a Validator using the wall clock.
func NewValidator() *Validator {
	return &Validator{Now: time.Now}
}

// Validate coerces a raw record into a Packet or reports the first
// validation failure. The feature vector is accepted either as a "features"
// array or as discrete "feature1".."featureN" keys (the broker wire format).
//
// Absent control flags default to ControlSatisfied. This is the documented
// "unknown posture assumed compliant" default; do not invert it.
func (v *Validator) Validate(raw map[string]any) (*Packet, error) {
	deviceID, err := stringField(raw, "device_id")
	if err != nil {
		return nil, err
	}

	features, err := featureVector(raw)
	if err != nil {
		return nil, err
	}

	pkt := &Packet{
		DeviceID: deviceID,
		Features: features,
	}

	for _, f := range []struct {
		name string
		dst  *int
	}{
		{"mfa", &pkt.MFA},
		{"vpn", &pkt.VPN},
		{"firewall", &pkt.Firewall},
	} {
		flag, err := controlFlag(raw, f.name)
		if err != nil {
			return nil, err
		}
		*f.dst = flag
	}

	ts, err := v.timestamp(raw)
	if err != nil {
		return nil, err
	}
	pkt.Timestamp = ts

	return pkt, nil
}

// stringField extracts a required non-empty string.
func stringField(raw map[string]any, field string) (string, error) {
	val, ok := raw[field]
	if !ok || val == nil {
		return "", missingField(field)
	}
	s, ok := val.(string)
	if !ok {
		return "", malformedValue(field, fmt.Sprintf("expected string, got %T", val))
	}
	if s == "" {
		return "", missingField(field)
	}
	return s, nil
}

// featureVector extracts exactly FeatureArity numeric features. Missing
// features are a validation failure, never defaulted.
func featureVector(raw map[string]any) ([]float64, error) {
	if val, ok := raw["features"]; ok {
		list, ok := val.([]any)
		if !ok {
			return nil, malformedValue("features", fmt.Sprintf("expected array, got %T", val))
		}
		if len(list) != FeatureArity {
			return nil, missingField("features")
		}
		features := make([]float64, FeatureArity)
		for i, item := range list {
			f, err := toFloat(item)
			if err != nil {
				return nil, malformedValue(fmt.Sprintf("features[%d]", i), err.Error())
			}
			features[i] = f
		}
		return features, nil
	}

	features := make([]float64, FeatureArity)
	for i := range features {
		field := fmt.Sprintf("feature%d", i+1)
		val, ok := raw[field]
		if !ok || val == nil {
			return nil, missingField(field)
		}
		f, err := toFloat(val)
		if err != nil {
			return nil, malformedValue(field, err.Error())
		}
		features[i] = f
	}
	return features, nil
}

// controlFlag extracts a 0/1 posture flag, defaulting absent or empty values
// to ControlSatisfied.
func controlFlag(raw map[string]any, field string) (int, error) {
	val, ok := raw[field]
	if !ok || val == nil {
		return ControlSatisfied, nil
	}
	if s, ok := val.(string); ok && s == "" {
		return ControlSatisfied, nil
	}
	if b, ok := val.(bool); ok {
		if b {
			return ControlSatisfied, nil
		}
		return ControlViolated, nil
	}
	f, err := toFloat(val)
	if err != nil {
		return 0, malformedValue(field, err.Error())
	}
	switch f {
	case 0:
		return ControlViolated, nil
	case 1:
		return ControlSatisfied, nil
	default:
		return 0, malformedValue(field, fmt.Sprintf("expected 0 or 1, got %v", f))
	}
}

// timestamp parses an RFC3339 timestamp when present, otherwise assigns the
// ingestion time.
func (v *Validator) timestamp(raw map[string]any) (time.Time, error) {
	val, ok := raw["timestamp"]
	if !ok || val == nil {
		return v.now(), nil
	}
	s, ok := val.(string)
	if !ok {
		return time.Time{}, malformedValue("timestamp", fmt.Sprintf("expected RFC3339 string, got %T", val))
	}
	if s == "" {
		return v.now(), nil
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, malformedValue("timestamp", err.Error())
	}
	return ts, nil
}

func (v *Validator) now() time.Time {
	if v.Now != nil {
		return v.Now().UTC()
	}
	return time.Now().UTC()
}

// toFloat coerces JSON and CSV scalar encodings to float64.
func toFloat(val any) (float64, error) {
	switch n := val.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("non-numeric value %q", n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("non-numeric value of type %T", val)
	}
}
