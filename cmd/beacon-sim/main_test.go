package main

import (
	"testing"
	"time"
)

func TestBuildSightingDeviceOnly(t *testing.T) {
	s := buildSighting(simOptions{deviceID: "d1", deviceName: "Beacon", baseRSSI: -60}, time.Unix(0, 0))
	if s.DeviceID != "d1" || s.DeviceName != "Beacon" {
		t.Fatalf("sighting = %+v", s)
	}
	if s.RSSI == nil || *s.RSSI != -60 {
		t.Fatalf("rssi = %v, want -60", s.RSSI)
	}
	if s.UserID != "" || s.DistanceM != nil {
		t.Fatalf("device-only sighting carries user fields: %+v", s)
	}
}

func TestBuildSightingWithUser(t *testing.T) {
	s := buildSighting(simOptions{deviceID: "d1", userID: "u2", userName: "Marco", distance: 12.5}, time.Now())
	if s.UserID != "u2" || s.UserName != "Marco" {
		t.Fatalf("sighting = %+v", s)
	}
	if s.DistanceM == nil || *s.DistanceM != 12.5 {
		t.Fatalf("distance = %v, want 12.5", s.DistanceM)
	}
}

func TestRandomRSSIStaysWithinJitter(t *testing.T) {
	for range 200 {
		got := randomRSSI(-60, 5)
		if got < -65 || got > -55 {
			t.Fatalf("randomRSSI = %d, outside [-65, -55]", got)
		}
	}
}
