// Package radio provides the scanning backends behind the discovery model.
package radio

import (
	"context"
	"time"

	"github.com/4xmen/cafemeet/internal/models"
)

// Static serves a fixed universe of devices and users. It backs demos and
// local development where no sightings feed exists.
type Static struct {
	Devices []models.RadioDevice
	Users   []models.User
	// Delay simulates scan time; scans end early when the ctx is done.
	Delay time.Duration
}

func NewStatic(delay time.Duration) *Static {
	return &Static{
		Devices: DemoDevices(),
		Users:   DemoUsers(),
		Delay:   delay,
	}
}

func (s *Static) Enable(ctx context.Context) error {
	return ctx.Err()
}

func (s *Static) Scan(ctx context.Context) ([]models.RadioDevice, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	return append([]models.RadioDevice{}, s.Devices...), nil
}

func (s *Static) Peers(ctx context.Context) ([]models.User, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	return append([]models.User{}, s.Users...), nil
}

func (s *Static) wait(ctx context.Context) error {
	if s.Delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.Delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func DemoDevices() []models.RadioDevice {
	return []models.RadioDevice{
		{ID: "device1", Name: "iPhone 14 Pro", RSSI: intPtr(-75)},
		{ID: "device2", Name: "Samsung Galaxy S22", RSSI: intPtr(-82)},
		{ID: "device3", Name: "Macbook Pro", RSSI: intPtr(-66)},
		{ID: "device4", Name: "Bluetooth Speaker", RSSI: intPtr(-88)},
		{ID: "device5", Name: "AirPods Pro", RSSI: intPtr(-72)},
	}
}

func DemoUsers() []models.User {
	photo := func(id string) *string {
		url := "https://images.pexels.com/photos/" + id + "/pexels-photo-" + id + ".jpeg?auto=compress&cs=tinysrgb&w=400"
		return &url
	}
	return []models.User{
		{ID: "1", Name: "Sofia Chen", AvatarURL: photo("1036623"), Distance: floatPtr(15), DeviceID: strPtr("device1")},
		{ID: "2", Name: "Marco Rossi", AvatarURL: photo("614810"), Distance: floatPtr(23), DeviceID: strPtr("device2")},
		{ID: "3", Name: "Camila Lopez", AvatarURL: photo("774909"), Distance: floatPtr(37), DeviceID: strPtr("device3")},
		{ID: "4", Name: "David Kim", AvatarURL: photo("936119"), Distance: floatPtr(42), DeviceID: strPtr("device4")},
		{ID: "5", Name: "Basile Edoardo", AvatarURL: photo("415829"), Distance: floatPtr(50), DeviceID: strPtr("device5")},
		{ID: "6", Name: "Loris Basile", AvatarURL: photo("415829"), Distance: floatPtr(50), DeviceID: strPtr("device5")},
	}
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

func strPtr(v string) *string { return &v }
