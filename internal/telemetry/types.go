// Edgewatch - IoT Security Telemetry Pipeline
// Copyright 2026 Edgewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/edgewatch/edgewatch

// Package telemetry defines the packet data model and inbound validation.
//
// A Packet is one normalized telemetry observation from an edge device. The
// validator is the only place where raw broker payloads or CSV rows become
// typed records; everything downstream (scoring, policy evaluation, threat
// decision) may assume a well-formed Packet.
package telemetry

import (
	"time"
)

// FeatureArity is the fixed length of the feature vector expected by the
// anomaly model. Packets with a different arity fail validation.
const FeatureArity = 4

// Control flag values. Controls are wire-encoded as 0/1 integers.
const (
	// ControlViolated means the posture control is not met on the device.
	ControlViolated = 0

	// ControlSatisfied means the posture control is met. Absent flags
	// default to satisfied ("unknown posture assumed compliant").
	ControlSatisfied = 1
)

// ThreatLevel classifies a decision record.
type ThreatLevel string

const (
	ThreatNormal ThreatLevel = "Normal"
	ThreatHigh   ThreatLevel = "High"
)

// AutoAction is the advisory response attached to a decision record. The
// pipeline only emits the label; enforcement belongs to downstream hooks.
type AutoAction string

const (
	ActionNone        AutoAction = "None"
	ActionQuarantined AutoAction = "Device Quarantined"
)

// Packet is one telemetry observation from a device.
//
// Invariants guaranteed by the validator: DeviceID is non-empty, Features
// has exactly FeatureArity entries, control flags are 0 or 1, and Timestamp
// is set (assigned at ingestion when absent from the source).
type Packet struct {
	DeviceID  string    `json:"device_id"`
	Features  []float64 `json:"features"`
	MFA       int       `json:"mfa"`
	VPN       int       `json:"vpn"`
	Firewall  int       `json:"firewall"`
	Timestamp time.Time `json:"timestamp"`
}

// ScoredRecord is a Packet with the model's anomaly score attached.
// AnomalyScore is always in [0, 1]; the score integrator rejects anything
// outside that range before a ScoredRecord is constructed.
type ScoredRecord struct {
	Packet
	AnomalyScore float64 `json:"anomaly_score"`
}

// DecisionRecord is the fully derived record appended to the durable log.
//
// ThreatLevel and AutoAction are pure functions of the scored record:
// re-deriving them from the same ScoredRecord always yields an identical
// DecisionRecord.
type DecisionRecord struct {
	ScoredRecord
	PolicyViolations int         `json:"policy_violations"`
	ThreatLevel      ThreatLevel `json:"threat_level"`
	AutoAction       AutoAction  `json:"auto_action"`
}
