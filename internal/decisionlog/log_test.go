// Edgewatch - IoT Security Telemetry Pipeline
// Copyright 2026 Edgewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/edgewatch/edgewatch

package decisionlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/edgewatch/edgewatch/internal/telemetry"
)

func decision(device string, score float64, violations int) *telemetry.DecisionRecord {
	level := telemetry.ThreatNormal
	action := telemetry.ActionNone
	if score > 0.9 && violations >= 2 {
		level = telemetry.ThreatHigh
		action = telemetry.ActionQuarantined
	}
	return &telemetry.DecisionRecord{
		ScoredRecord: telemetry.ScoredRecord{
			Packet: telemetry.Packet{
				DeviceID:  device,
				MFA:       1,
				VPN:       1,
				Firewall:  1,
				Timestamp: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
			},
			AnomalyScore: score,
		},
		PolicyViolations: violations,
		ThreatLevel:      level,
		AutoAction:       action,
	}
}

func openTestLog(t *testing.T) (*Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "decisions.csv")
	log, err := Open(path)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	t.Cleanup(func() { log.Close() })
	return log, path
}

func TestOpenCreatesHeaderOnce(t *testing.T) {
	log, path := openTestLog(t)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.HasPrefix(string(data), "device_id,anomaly_score,mfa,vpn,firewall") {
		t.Errorf("missing schema header, got %q", string(data))
	}

	// Re-opening an existing non-empty store is a no-op.
	if err := log.Append(decision("EdgeCam_1", 0.5, 0), "id-1"); err != nil {
		t.Fatalf("append: %v", err)
	}
	log.Close()

	log2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen log: %v", err)
	}
	defer log2.Close()

	data, _ = os.ReadFile(path)
	if got := strings.Count(string(data), "device_id,"); got != 1 {
		t.Errorf("header written %d times, want 1", got)
	}
	if !strings.Contains(string(data), "EdgeCam_1") {
		t.Error("reopen lost existing rows")
	}
}

func TestAppendTailOrderPreserved(t *testing.T) {
	log, path := openTestLog(t)

	const n = 25
	for i := 0; i < n; i++ {
		rec := decision(fmt.Sprintf("EdgeCam_%d", i), float64(i)/n, i%4)
		if err := log.Append(rec, fmt.Sprintf("id-%d", i)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	got, err := NewReader(path).Tail(n)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(got) != n {
		t.Fatalf("tail returned %d records, want %d", len(got), n)
	}
	for i, rec := range got {
		if want := fmt.Sprintf("EdgeCam_%d", i); rec.DeviceID != want {
			t.Errorf("tail[%d].device_id = %q, want %q", i, rec.DeviceID, want)
		}
	}
}

func TestTailWindowSmallerThanLog(t *testing.T) {
	log, path := openTestLog(t)
	for i := 0; i < 50; i++ {
		if err := log.Append(decision(fmt.Sprintf("d%03d", i), 0.4, 0), ""); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := NewReader(path).Tail(10)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("tail(10) returned %d records", len(got))
	}
	if got[0].DeviceID != "d040" || got[9].DeviceID != "d049" {
		t.Errorf("window = %s..%s, want d040..d049", got[0].DeviceID, got[9].DeviceID)
	}
}

func TestTailLargerThanLogReturnsAll(t *testing.T) {
	log, path := openTestLog(t)
	for i := 0; i < 3; i++ {
		if err := log.Append(decision(fmt.Sprintf("d%d", i), 0.4, 0), ""); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := NewReader(path).Tail(100)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("tail(100) over 3-row log returned %d records", len(got))
	}
}

func TestReadAbsentStoreIsNoData(t *testing.T) {
	r := NewReader(filepath.Join(t.TempDir(), "never-created.csv"))

	recs, err := r.Tail(20)
	if err != nil {
		t.Fatalf("tail of absent store must not error: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("expected no data, got %d records", len(recs))
	}

	recs, err = r.SnapshotAll()
	if err != nil {
		t.Fatalf("snapshot of absent store must not error: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("expected no data, got %d records", len(recs))
	}
}

func TestSnapshotAllRoundTrip(t *testing.T) {
	log, path := openTestLog(t)

	want := decision("EdgeCam_9", 0.987654321, 2)
	want.MFA = 0
	want.VPN = 0
	want.ThreatLevel = telemetry.ThreatHigh
	want.AutoAction = telemetry.ActionQuarantined
	if err := log.Append(want, "rt-1"); err != nil {
		t.Fatalf("append: %v", err)
	}

	recs, err := NewReader(path).SnapshotAll()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records", len(recs))
	}
	got := recs[0]
	if got.DeviceID != want.DeviceID ||
		got.AnomalyScore != want.AnomalyScore ||
		got.MFA != want.MFA || got.VPN != want.VPN || got.Firewall != want.Firewall ||
		got.PolicyViolations != want.PolicyViolations ||
		got.ThreatLevel != want.ThreatLevel ||
		got.AutoAction != want.AutoAction ||
		!got.Timestamp.Equal(want.Timestamp) {
		t.Errorf("round trip mismatch:\ngot  %+v\nwant %+v", got, want)
	}
}

// Readers parse by column name, so rows written with additive columns (or
// a reordered header) still decode.
func TestReaderParsesByColumnName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "external.csv")
	content := "anomaly_score,device_id,mfa,vpn,firewall,policy_violations,threat_level,auto_action,extra\n" +
		"0.75,EdgeCam_2,0,1,1,1,Normal,None,whatever\n"
	if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
		t.Fatal(err)
	}

	recs, err := NewReader(path).SnapshotAll()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records", len(recs))
	}
	if recs[0].DeviceID != "EdgeCam_2" || recs[0].AnomalyScore != 0.75 || recs[0].MFA != 0 {
		t.Errorf("column-name parsing failed: %+v", recs[0])
	}
}

func TestConcurrentReadersDuringAppends(t *testing.T) {
	log, path := openTestLog(t)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	// Readers tolerate the log growing between and during reads: every
	// observed prefix must be well-formed and in order.
	for r := 0; r < 3; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reader := NewReader(path)
			for {
				select {
				case <-stop:
					return
				default:
				}
				recs, err := reader.Tail(20)
				if err != nil {
					t.Errorf("concurrent tail: %v", err)
					return
				}
				for i := 1; i < len(recs); i++ {
					if recs[i].Timestamp.Before(recs[i-1].Timestamp) {
						t.Error("tail out of order")
						return
					}
				}
			}
		}()
	}

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 200; i++ {
		rec := decision(fmt.Sprintf("d%04d", i), 0.3, 0)
		rec.Timestamp = base.Add(time.Duration(i) * time.Second)
		if err := log.Append(rec, ""); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	close(stop)
	wg.Wait()
}

func TestAppendAfterClose(t *testing.T) {
	log, _ := openTestLog(t)
	log.Close()
	if err := log.Append(decision("d", 0.1, 0), ""); err == nil {
		t.Error("expected error appending to closed log")
	}
}
