// Edgewatch - IoT Security Telemetry Pipeline
// Copyright 2026 Edgewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/edgewatch/edgewatch

package telemetry

import (
	"errors"
	"testing"
	"time"
)

// fixedClock returns a Validator with a deterministic ingestion timestamp.
func fixedClock(t time.Time) *Validator {
	return &Validator{Now: func() time.Time { return t }}
}

func validRaw() map[string]any {
	return map[string]any{
		"device_id": "EdgeCam_1",
		"feature1":  0.9,
		"feature2":  0.8,
		"feature3":  0.7,
		"feature4":  0.6,
		"mfa":       float64(0),
		"vpn":       float64(1),
		"firewall":  float64(1),
	}
}

func TestValidateDiscreteFeatures(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pkt, err := fixedClock(now).Validate(validRaw())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if pkt.DeviceID != "EdgeCam_1" {
		t.Errorf("device_id = %q", pkt.DeviceID)
	}
	want := []float64{0.9, 0.8, 0.7, 0.6}
	for i, f := range want {
		if pkt.Features[i] != f {
			t.Errorf("feature[%d] = %v, want %v", i, pkt.Features[i], f)
		}
	}
	if pkt.MFA != ControlViolated || pkt.VPN != ControlSatisfied || pkt.Firewall != ControlSatisfied {
		t.Errorf("flags = mfa:%d vpn:%d firewall:%d", pkt.MFA, pkt.VPN, pkt.Firewall)
	}
	if !pkt.Timestamp.Equal(now) {
		t.Errorf("timestamp = %v, want assigned ingestion time %v", pkt.Timestamp, now)
	}
}

func TestValidateFeatureArray(t *testing.T) {
	raw := map[string]any{
		"device_id": "EdgeCam_2",
		"features":  []any{0.1, 0.2, 0.3, 0.4},
	}
	pkt, err := NewValidator().Validate(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pkt.Features) != FeatureArity {
		t.Fatalf("arity = %d, want %d", len(pkt.Features), FeatureArity)
	}
}

func TestValidateMissingDeviceID(t *testing.T) {
	for _, raw := range []map[string]any{
		{"feature1": 0.1, "feature2": 0.2, "feature3": 0.3, "feature4": 0.4},
		{"device_id": "", "feature1": 0.1, "feature2": 0.2, "feature3": 0.3, "feature4": 0.4},
	} {
		_, err := NewValidator().Validate(raw)
		if !errors.Is(err, ErrMissingField) {
			t.Errorf("expected ErrMissingField, got %v", err)
		}
		var verr *ValidationError
		if !errors.As(err, &verr) || verr.Field != "device_id" {
			t.Errorf("expected device_id field error, got %v", err)
		}
	}
}

func TestValidateWrongArity(t *testing.T) {
	raw := map[string]any{
		"device_id": "EdgeCam_3",
		"features":  []any{0.1, 0.2},
	}
	if _, err := NewValidator().Validate(raw); !errors.Is(err, ErrMissingField) {
		t.Errorf("short feature vector: expected ErrMissingField, got %v", err)
	}

	// Missing features are a validation failure, never defaulted.
	raw = map[string]any{"device_id": "EdgeCam_3", "feature1": 0.1, "feature2": 0.2}
	if _, err := NewValidator().Validate(raw); !errors.Is(err, ErrMissingField) {
		t.Errorf("partial discrete features: expected ErrMissingField, got %v", err)
	}
}

func TestValidateMalformedValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"non-numeric feature", func(m map[string]any) { m["feature2"] = "fast" }},
		{"non-binary flag", func(m map[string]any) { m["vpn"] = float64(3) }},
		{"non-numeric flag", func(m map[string]any) { m["mfa"] = "yes" }},
		{"unparseable timestamp", func(m map[string]any) { m["timestamp"] = "last tuesday" }},
		{"non-string timestamp", func(m map[string]any) { m["timestamp"] = float64(1700000000) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := validRaw()
			tt.mutate(raw)
			if _, err := NewValidator().Validate(raw); !errors.Is(err, ErrMalformedValue) {
				t.Errorf("expected ErrMalformedValue, got %v", err)
			}
		})
	}
}

func TestValidateAbsentFlagsDefaultSatisfied(t *testing.T) {
	raw := map[string]any{
		"device_id": "EdgeCam_4",
		"feature1":  0.1, "feature2": 0.2, "feature3": 0.3, "feature4": 0.4,
	}
	pkt, err := NewValidator().Validate(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pkt.MFA != ControlSatisfied || pkt.VPN != ControlSatisfied || pkt.Firewall != ControlSatisfied {
		t.Errorf("absent flags must default to satisfied, got mfa:%d vpn:%d firewall:%d",
			pkt.MFA, pkt.VPN, pkt.Firewall)
	}

	// Empty-string flags (blank CSV cells) take the same default.
	raw["mfa"] = ""
	pkt, err = NewValidator().Validate(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pkt.MFA != ControlSatisfied {
		t.Errorf("blank flag must default to satisfied, got %d", pkt.MFA)
	}
}

func TestValidateExplicitTimestamp(t *testing.T) {
	raw := validRaw()
	raw["timestamp"] = "2026-02-15T08:30:00Z"

	pkt, err := NewValidator().Validate(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2026, 2, 15, 8, 30, 0, 0, time.UTC)
	if !pkt.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", pkt.Timestamp, want)
	}
}

func TestValidateBoolFlags(t *testing.T) {
	raw := validRaw()
	raw["mfa"] = false
	raw["vpn"] = true

	pkt, err := NewValidator().Validate(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pkt.MFA != ControlViolated || pkt.VPN != ControlSatisfied {
		t.Errorf("bool coercion: mfa=%d vpn=%d", pkt.MFA, pkt.VPN)
	}
}

func TestDecodePayload(t *testing.T) {
	payload := []byte(`{"device_id":"EdgeCam_5","feature1":0.42,"feature2":0.1,"feature3":0.2,"feature4":0.3,"mfa":0,"vpn":1,"firewall":0}`)

	raw, err := DecodePayload(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pkt, err := NewValidator().Validate(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pkt.Features[0] != 0.42 {
		t.Errorf("feature1 = %v, want 0.42", pkt.Features[0])
	}
	if pkt.Firewall != ControlViolated {
		t.Errorf("firewall = %d, want violated", pkt.Firewall)
	}
}

func TestDecodePayloadMalformed(t *testing.T) {
	if _, err := DecodePayload([]byte(`{"device_id":`)); err == nil {
		t.Error("expected error for truncated payload")
	}
	if _, err := DecodePayload([]byte(`[1,2,3]`)); err == nil {
		t.Error("expected error for non-object payload")
	}
}
