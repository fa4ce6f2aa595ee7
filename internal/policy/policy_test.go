// Edgewatch - IoT Security Telemetry Pipeline
// Copyright 2026 Edgewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/edgewatch/edgewatch

package policy

import (
	"reflect"
	"testing"
	"time"

	"github.com/edgewatch/edgewatch/internal/telemetry"
)

func scored(score float64, mfa, vpn, firewall int) *telemetry.ScoredRecord {
	return &telemetry.ScoredRecord{
		Packet: telemetry.Packet{
			DeviceID:  "Cam_1",
			Features:  []float64{0.9, 0.9, 0.9, 0.9},
			MFA:       mfa,
			VPN:       vpn,
			Firewall:  firewall,
			Timestamp: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		AnomalyScore: score,
	}
}

func TestEvaluateViolationCounts(t *testing.T) {
	tests := []struct {
		name               string
		mfa, vpn, firewall int
		want               int
		wantFlags          Flags
	}{
		{"all satisfied", 1, 1, 1, 0, Flags{}},
		{"mfa violated", 0, 1, 1, 1, Flags{MFA: true}},
		{"vpn violated", 1, 0, 1, 1, Flags{VPN: true}},
		{"firewall violated", 1, 1, 0, 1, Flags{Firewall: true}},
		{"two violated", 0, 0, 1, 2, Flags{MFA: true, VPN: true}},
		{"all violated", 0, 0, 0, 3, Flags{MFA: true, VPN: true, Firewall: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Evaluate(scored(0.5, tt.mfa, tt.vpn, tt.firewall))
			if res.Violations != tt.want {
				t.Errorf("violations = %d, want %d", res.Violations, tt.want)
			}
			if res.Flags != tt.wantFlags {
				t.Errorf("flags = %+v, want %+v", res.Flags, tt.wantFlags)
			}
			if res.Violations < 0 || res.Violations > 3 {
				t.Errorf("violations %d outside [0,3]", res.Violations)
			}
		})
	}
}

func TestDecideThresholdBoundary(t *testing.T) {
	tests := []struct {
		name       string
		score      float64
		violations [3]int // mfa, vpn, firewall
		wantLevel  telemetry.ThreatLevel
		wantAction telemetry.AutoAction
	}{
		{"exactly 0.9 stays normal", 0.9, [3]int{0, 0, 1}, telemetry.ThreatNormal, telemetry.ActionNone},
		{"just above 0.9 escalates", 0.9001, [3]int{0, 0, 1}, telemetry.ThreatHigh, telemetry.ActionQuarantined},
		{"high score one violation stays normal", 0.95, [3]int{0, 1, 1}, telemetry.ThreatNormal, telemetry.ActionNone},
		{"high score no violations stays normal", 0.99, [3]int{1, 1, 1}, telemetry.ThreatNormal, telemetry.ActionNone},
		{"low score all violations stays normal", 0.1, [3]int{0, 0, 0}, telemetry.ThreatNormal, telemetry.ActionNone},
		{"high score three violations escalates", 0.95, [3]int{0, 0, 0}, telemetry.ThreatHigh, telemetry.ActionQuarantined},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := scored(tt.score, tt.violations[0], tt.violations[1], tt.violations[2])
			dec := Decide(rec, Evaluate(rec))
			if dec.ThreatLevel != tt.wantLevel {
				t.Errorf("threat_level = %s, want %s", dec.ThreatLevel, tt.wantLevel)
			}
			if dec.AutoAction != tt.wantAction {
				t.Errorf("auto_action = %s, want %s", dec.AutoAction, tt.wantAction)
			}
		})
	}
}

// Scenario from the live feed: Cam_1 with two violated controls and a 0.95
// score must be quarantined; the same packet at 0.85 must not.
func TestDecideScenarios(t *testing.T) {
	rec := scored(0.95, 0, 0, 1)
	dec := Decide(rec, Evaluate(rec))
	if dec.PolicyViolations != 2 {
		t.Errorf("policy_violations = %d, want 2", dec.PolicyViolations)
	}
	if dec.ThreatLevel != telemetry.ThreatHigh || dec.AutoAction != telemetry.ActionQuarantined {
		t.Errorf("got %s/%s, want High/Quarantined", dec.ThreatLevel, dec.AutoAction)
	}

	rec = scored(0.85, 0, 0, 1)
	dec = Decide(rec, Evaluate(rec))
	if dec.ThreatLevel != telemetry.ThreatNormal || dec.AutoAction != telemetry.ActionNone {
		t.Errorf("got %s/%s, want Normal/None", dec.ThreatLevel, dec.AutoAction)
	}
}

// Decide is pure: identical inputs yield identical decision records.
func TestDecideIdempotent(t *testing.T) {
	rec := scored(0.92, 0, 0, 1)
	first := Decide(rec, Evaluate(rec))
	second := Decide(rec, Evaluate(rec))

	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated derivation differs:\n%+v\n%+v", first, second)
	}
}

func TestDecideQuarantineOnlyWhenHigh(t *testing.T) {
	// Sweep the score/violation grid: Quarantined must appear exactly when
	// the level is High.
	for _, score := range []float64{0, 0.5, 0.9, 0.90001, 0.95, 1} {
		for violations := 0; violations <= 3; violations++ {
			flags := [3]int{1, 1, 1}
			for i := 0; i < violations; i++ {
				flags[i] = 0
			}
			rec := scored(score, flags[0], flags[1], flags[2])
			dec := Decide(rec, Evaluate(rec))

			wantHigh := score > ScoreThreshold && violations >= ViolationThreshold
			if (dec.ThreatLevel == telemetry.ThreatHigh) != wantHigh {
				t.Errorf("score=%v violations=%d: level=%s", score, violations, dec.ThreatLevel)
			}
			if (dec.AutoAction == telemetry.ActionQuarantined) != (dec.ThreatLevel == telemetry.ThreatHigh) {
				t.Errorf("score=%v violations=%d: action=%s with level=%s",
					score, violations, dec.AutoAction, dec.ThreatLevel)
			}
		}
	}
}
