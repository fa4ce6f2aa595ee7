// Edgewatch - IoT Security Telemetry Pipeline
// Copyright 2026 Edgewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/edgewatch/edgewatch

// Package policy derives security-posture results and threat decisions from
// scored telemetry records.
//
// Both Evaluate and Decide are pure, total functions: they depend only on
// the record passed in, never on prior records, and re-deriving a decision
// from the same scored record always yields an identical result.
package policy

import (
	"github.com/edgewatch/edgewatch/internal/telemetry"
)

// Threat decision thresholds.
const (
	// ScoreThreshold is the anomaly score above which a record is eligible
	// for escalation. Strictly greater-than: a score of exactly 0.9 stays
	// Normal.
	ScoreThreshold = 0.9

	// ViolationThreshold is the minimum number of violated controls
	// required for escalation.
	ViolationThreshold = 2
)

// Flags records which posture controls a device failed.
type Flags struct {
	VPN      bool `json:"vpn"`
	MFA      bool `json:"mfa"`
	Firewall bool `json:"firewall"`
}

// Result is the outcome of evaluating one record's posture controls.
type Result struct {
	// Violations is the count of violated controls, in [0, 3].
	Violations int `json:"violations"`

	// Flags marks each violated control individually.
	Flags Flags `json:"flags"`
}

// Evaluate derives the per-control violation flags and violation count for
// a scored record. A control is violated when its flag is 0.
func Evaluate(rec *telemetry.ScoredRecord) Result {
	res := Result{
		Flags: Flags{
			VPN:      rec.VPN == telemetry.ControlViolated,
			MFA:      rec.MFA == telemetry.ControlViolated,
			Firewall: rec.Firewall == telemetry.ControlViolated,
		},
	}
	for _, violated := range []bool{res.Flags.VPN, res.Flags.MFA, res.Flags.Firewall} {
		if violated {
			res.Violations++
		}
	}
	return res
}

// Decide applies the threat-level state machine to a scored record and its
// policy result, producing the decision record appended to the durable log.
//
// The machine has exactly two states and is stateless across records:
// a record enters High iff its anomaly score exceeds ScoreThreshold AND at
// least ViolationThreshold controls are violated; otherwise it is Normal.
// The auto action is a deterministic function of the threat level and is
// advisory only; nothing here executes a quarantine against a device.
func Decide(rec *telemetry.ScoredRecord, res Result) *telemetry.DecisionRecord {
	level := telemetry.ThreatNormal
	action := telemetry.ActionNone

	if rec.AnomalyScore > ScoreThreshold && res.Violations >= ViolationThreshold {
		level = telemetry.ThreatHigh
		action = telemetry.ActionQuarantined
	}

	return &telemetry.DecisionRecord{
		ScoredRecord:     *rec,
		PolicyViolations: res.Violations,
		ThreatLevel:      level,
		AutoAction:       action,
	}
}
