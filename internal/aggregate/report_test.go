// Edgewatch - IoT Security Telemetry Pipeline
// Copyright 2026 Edgewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/edgewatch/edgewatch

package aggregate

import (
	"testing"

	"github.com/edgewatch/edgewatch/internal/telemetry"
)

func TestBuildReportViews(t *testing.T) {
	quarantined := rec(0.95, 0, 0, 1)
	quarantined.ThreatLevel = telemetry.ThreatHigh
	quarantined.AutoAction = telemetry.ActionQuarantined

	tail := []telemetry.DecisionRecord{
		rec(0.2, 1, 1, 1),  // clean
		rec(0.7, 1, 1, 1),  // anomalous only
		rec(0.3, 0, 1, 1),  // violation only
		quarantined,        // all three views
	}
	for i := range tail {
		tail[i].AutoAction = orNone(tail[i].AutoAction)
	}

	views := BuildReportViews(tail, 10)

	if len(views.Anomalies) != 2 {
		t.Errorf("anomalies = %d, want 2", len(views.Anomalies))
	}
	if len(views.Violations) != 2 {
		t.Errorf("violations = %d, want 2", len(views.Violations))
	}
	if len(views.Actions) != 1 {
		t.Errorf("actions = %d, want 1", len(views.Actions))
	}
	if len(views.Actions) == 1 && views.Actions[0].AutoAction != telemetry.ActionQuarantined {
		t.Errorf("action view holds %s", views.Actions[0].AutoAction)
	}
}

func orNone(a telemetry.AutoAction) telemetry.AutoAction {
	if a == "" {
		return telemetry.ActionNone
	}
	return a
}

func TestBuildReportViewsCapsToMostRecent(t *testing.T) {
	var tail []telemetry.DecisionRecord
	for i := 0; i < 30; i++ {
		r := rec(0.9, 1, 1, 1)
		r.DeviceID = string(rune('a' + i))
		tail = append(tail, r)
	}

	views := BuildReportViews(tail, 10)
	if len(views.Anomalies) != 10 {
		t.Fatalf("anomalies = %d, want 10", len(views.Anomalies))
	}
	// Most recent records survive the cap.
	if views.Anomalies[9].DeviceID != tail[29].DeviceID {
		t.Errorf("cap kept %q, want most recent %q", views.Anomalies[9].DeviceID, tail[29].DeviceID)
	}
}

func TestBuildReportViewsEmptyTail(t *testing.T) {
	views := BuildReportViews(nil, 10)
	if len(views.Anomalies)+len(views.Violations)+len(views.Actions) != 0 {
		t.Errorf("empty tail produced views: %+v", views)
	}
}
