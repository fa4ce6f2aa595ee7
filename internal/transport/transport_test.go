// Edgewatch - IoT Security Telemetry Pipeline
// Copyright 2026 Edgewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/edgewatch/edgewatch

package transport

import (
	"fmt"
	"testing"
	"time"

	"github.com/edgewatch/edgewatch/internal/config"
	"github.com/edgewatch/edgewatch/internal/telemetry"
)

func testBrokerConfig() config.BrokerConfig {
	return config.BrokerConfig{
		URL:            "tcp://localhost:1883",
		Topic:          "iot/security/anomaly",
		ClientID:       "edgewatch-test",
		QoS:            1,
		ConnectTimeout: time.Second,
		KeepAlive:      30 * time.Second,
	}
}

func TestGeneratePacketShape(t *testing.T) {
	cfg := DefaultPublisherConfig()
	cfg.Seed = 42
	p := NewPublisher(testBrokerConfig(), cfg)

	for i := 0; i < 100; i++ {
		pkt := p.generatePacket()

		device, ok := pkt["device_id"].(string)
		if !ok || device == "" {
			t.Fatalf("packet %d: missing device_id: %+v", i, pkt)
		}

		for f := 1; f <= telemetry.FeatureArity; f++ {
			key := fmt.Sprintf("feature%d", f)
			v, ok := pkt[key].(float64)
			if !ok {
				t.Fatalf("packet %d: missing %s", i, key)
			}
			if v < 0.1 || v > 1.0 {
				t.Errorf("packet %d: %s = %v out of [0.1, 1.0]", i, key, v)
			}
		}

		for _, flag := range []string{"mfa", "vpn", "firewall"} {
			v, ok := pkt[flag].(int)
			if !ok || (v != 0 && v != 1) {
				t.Errorf("packet %d: %s = %v, want 0 or 1", i, flag, pkt[flag])
			}
		}
	}
}

func TestGeneratePacketFleetBounds(t *testing.T) {
	cfg := DefaultPublisherConfig()
	cfg.Seed = 7
	cfg.DeviceCount = 3
	p := NewPublisher(testBrokerConfig(), cfg)

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		seen[p.generatePacket()["device_id"].(string)] = true
	}

	for device := range seen {
		switch device {
		case "EdgeCam_1", "EdgeCam_2", "EdgeCam_3":
		default:
			t.Errorf("device %s outside configured fleet", device)
		}
	}
	if len(seen) != 3 {
		t.Errorf("saw %d devices over 200 packets, want full fleet of 3", len(seen))
	}
}

func TestGeneratePacketReproducible(t *testing.T) {
	cfg := DefaultPublisherConfig()
	cfg.Seed = 99

	a := NewPublisher(testBrokerConfig(), cfg)
	b := NewPublisher(testBrokerConfig(), cfg)

	for i := 0; i < 10; i++ {
		pa, pb := a.generatePacket(), b.generatePacket()
		if pa["device_id"] != pb["device_id"] || pa["feature1"] != pb["feature1"] {
			t.Fatalf("packet %d diverged: %+v vs %+v", i, pa, pb)
		}
	}
}

// Generated packets round-trip through the ingress validator.
func TestGeneratedPacketsValidate(t *testing.T) {
	cfg := DefaultPublisherConfig()
	cfg.Seed = 5
	p := NewPublisher(testBrokerConfig(), cfg)
	v := telemetry.NewValidator()

	for i := 0; i < 50; i++ {
		pkt, err := v.Validate(p.generatePacket())
		if err != nil {
			t.Fatalf("packet %d rejected: %v", i, err)
		}
		if len(pkt.Features) != telemetry.FeatureArity {
			t.Errorf("packet %d: %d features", i, len(pkt.Features))
		}
	}
}

func TestSubscriberStopBeforeStart(t *testing.T) {
	s := NewSubscriber(testBrokerConfig())
	s.Stop()

	// Channel closes even when never connected.
	if _, ok := <-s.Records(); ok {
		t.Error("records channel should be closed")
	}

	// Second Stop is a no-op, not a double close.
	s.Stop()
}
