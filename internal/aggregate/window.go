// Edgewatch - IoT Security Telemetry Pipeline
// Copyright 2026 Edgewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/edgewatch/edgewatch

// Package aggregate computes rolling-window metrics and report views over
// the tail of the decision log.
//
// All functions operate purely on a supplied tail slice: the caller fetches
// the tail once (storage is a separate concern) and every window or view is
// derived from that single fetch.
package aggregate

import (
	"sort"

	"github.com/edgewatch/edgewatch/internal/telemetry"
)

// AnomalyThreshold is the score above which a record counts as anomalous
// for dashboard metrics. Distinct from the threat-escalation threshold.
const AnomalyThreshold = 0.5

// DefaultWindowSizes are the rolling windows shown on the dashboard.
var DefaultWindowSizes = []int{10, 20, 50, 100}

// WindowMetrics summarizes one window over the log tail.
type WindowMetrics struct {
	// WindowSize is the requested window; Records is how many records
	// were actually available.
	WindowSize int `json:"window_size"`
	Records    int `json:"records"`

	// AnomalyCount is the number of records scoring above
	// AnomalyThreshold.
	AnomalyCount int `json:"anomaly_count"`

	// Per-control violation counts over the window.
	VPNViolations      int `json:"vpn_violations"`
	MFAViolations      int `json:"mfa_violations"`
	FirewallViolations int `json:"firewall_violations"`

	// TotalViolations counts records with at least one violated control.
	// A device failing all three controls counts once here, not three
	// times. Deliberately a different rule from the per-record
	// policy_violations sum used in threat decisions.
	TotalViolations int `json:"total_violations"`
}

// Metrics computes the rolling metrics for one window size over the tail.
// tail must be ordered oldest-first (arrival order, as returned by the log
// reader); the window is the most recent windowSize records.
func Metrics(windowSize int, tail []telemetry.DecisionRecord) WindowMetrics {
	m := WindowMetrics{WindowSize: windowSize}
	if windowSize <= 0 || len(tail) == 0 {
		return m
	}

	window := tail
	if len(window) > windowSize {
		window = window[len(window)-windowSize:]
	}
	m.Records = len(window)

	for i := range window {
		rec := &window[i]
		if rec.AnomalyScore > AnomalyThreshold {
			m.AnomalyCount++
		}

		vpn := rec.VPN == telemetry.ControlViolated
		mfa := rec.MFA == telemetry.ControlViolated
		firewall := rec.Firewall == telemetry.ControlViolated
		if vpn {
			m.VPNViolations++
		}
		if mfa {
			m.MFAViolations++
		}
		if firewall {
			m.FirewallViolations++
		}
		if vpn || mfa || firewall {
			m.TotalViolations++
		}
	}
	return m
}

// MultiWindow computes metrics for several window sizes from one tail
// fetch. The caller should fetch a tail at least as long as the largest
// window; results are keyed by window size.
func MultiWindow(windowSizes []int, tail []telemetry.DecisionRecord) map[int]WindowMetrics {
	out := make(map[int]WindowMetrics, len(windowSizes))
	for _, size := range windowSizes {
		out[size] = Metrics(size, tail)
	}
	return out
}

// MaxWindow returns the largest of the given window sizes, or 0 for an
// empty list. Used to size the single tail fetch backing MultiWindow.
func MaxWindow(windowSizes []int) int {
	max := 0
	for _, size := range windowSizes {
		if size > max {
			max = size
		}
	}
	return max
}

// SortedSizes returns the window sizes in ascending order without
// modifying the input. Stable output for API responses.
func SortedSizes(windowSizes []int) []int {
	out := make([]int, len(windowSizes))
	copy(out, windowSizes)
	sort.Ints(out)
	return out
}
