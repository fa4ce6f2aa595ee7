// Edgewatch - IoT Security Telemetry Pipeline
// Copyright 2026 Edgewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/edgewatch/edgewatch

package aggregate

import (
	"github.com/edgewatch/edgewatch/internal/telemetry"
)

// ReportViews holds the three filtered sequences the report collaborator
// renders: anomalous records, records with violated controls, and records
// with a non-None auto action. Each is capped to the most recent N by the
// same tail convention as the window metrics; rendering (layout, paging)
// belongs to the collaborator, not here.
type ReportViews struct {
	Anomalies  []telemetry.DecisionRecord `json:"anomalies"`
	Violations []telemetry.DecisionRecord `json:"violations"`
	Actions    []telemetry.DecisionRecord `json:"actions"`
}

// BuildReportViews derives the three report views from a tail slice,
// keeping at most limit records per view (most recent last).
func BuildReportViews(tail []telemetry.DecisionRecord, limit int) ReportViews {
	var views ReportViews
	for i := range tail {
		rec := tail[i]
		if rec.AnomalyScore > AnomalyThreshold {
			views.Anomalies = append(views.Anomalies, rec)
		}
		if rec.VPN == telemetry.ControlViolated ||
			rec.MFA == telemetry.ControlViolated ||
			rec.Firewall == telemetry.ControlViolated {
			views.Violations = append(views.Violations, rec)
		}
		if rec.AutoAction != "" && rec.AutoAction != telemetry.ActionNone {
			views.Actions = append(views.Actions, rec)
		}
	}

	views.Anomalies = capTail(views.Anomalies, limit)
	views.Violations = capTail(views.Violations, limit)
	views.Actions = capTail(views.Actions, limit)
	return views
}

// capTail keeps the most recent limit records of an ordered slice.
func capTail(recs []telemetry.DecisionRecord, limit int) []telemetry.DecisionRecord {
	if limit > 0 && len(recs) > limit {
		return recs[len(recs)-limit:]
	}
	return recs
}
