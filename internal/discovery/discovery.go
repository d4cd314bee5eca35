// Package discovery tracks radio enablement, device scans and the nearby-user view
// of one signed-in user.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/4xmen/cafemeet/internal/apperr"
	"github.com/4xmen/cafemeet/internal/models"
)

const (
	DefaultDetectionRange = 50
	MinDetectionRange     = 10
	MaxDetectionRange     = 100
)

// Radio is the short-range scanning service the model drives.
type Radio interface {
	Enable(ctx context.Context) error
	Scan(ctx context.Context) ([]models.RadioDevice, error)
	Peers(ctx context.Context) ([]models.User, error)
}

// Listener receives a state snapshot after every change.
type Listener func(models.DiscoveryState)

type Model struct {
	userID string
	radio  Radio
	logger *slog.Logger

	lifetime context.Context
	shutdown context.CancelFunc

	mu         sync.Mutex
	state      models.DiscoveryState
	listeners  map[int]Listener
	nextListen int
}

type Option func(*Model)

// WithDetectionRange sets the initial range; the value is clamped.
func WithDetectionRange(meters int) Option {
	return func(m *Model) {
		m.state.DetectionRange = ClampRange(meters)
	}
}

func New(userID string, radio Radio, logger *slog.Logger, opts ...Option) *Model {
	if logger == nil {
		logger = slog.Default()
	}
	lifetime, shutdown := context.WithCancel(context.Background())
	m := &Model{
		userID:    userID,
		radio:     radio,
		logger:    logger.With("component", "discovery", "user", userID),
		lifetime:  lifetime,
		shutdown:  shutdown,
		listeners: make(map[int]Listener),
		state: models.DiscoveryState{
			Devices:        []models.RadioDevice{},
			NearbyUsers:    []models.User{},
			DetectionRange: DefaultDetectionRange,
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ClampRange bounds meters to [MinDetectionRange, MaxDetectionRange].
func ClampRange(meters int) int {
	if meters < MinDetectionRange {
		return MinDetectionRange
	}
	if meters > MaxDetectionRange {
		return MaxDetectionRange
	}
	return meters
}

// Enable turns the radio on. Calling it again once enabled is a no-op.
func (m *Model) Enable(ctx context.Context) error {
	m.mu.Lock()
	enabled := m.state.Enabled
	m.mu.Unlock()
	if enabled {
		return nil
	}

	if err := m.radio.Enable(ctx); err != nil {
		m.logger.Warn("radio enable failed", "error", err)
		return fmt.Errorf("enable radio: %w: %v", apperr.ErrCollaboratorFailure, err)
	}

	m.mu.Lock()
	m.state.Enabled = true
	m.mu.Unlock()

	m.logger.Info("radio enabled")
	m.notify()
	return nil
}

// StartDeviceScan replaces the device list with a fresh scan.
func (m *Model) StartDeviceScan(ctx context.Context) error {
	scanCtx, release, err := m.acquireScan(ctx, func(s *models.DiscoveryState) {
		s.Devices = []models.RadioDevice{}
	})
	if err != nil {
		return err
	}
	defer release()

	devices, err := m.radio.Scan(scanCtx)
	if err != nil {
		m.logger.Warn("device scan failed", "error", err)
		return fmt.Errorf("scan devices: %w: %v", apperr.ErrCollaboratorFailure, err)
	}

	m.mu.Lock()
	m.state.Devices = append([]models.RadioDevice{}, devices...)
	m.mu.Unlock()

	m.logger.Info("device scan finished", "devices", len(devices))
	return nil
}

// ScanForNearbyUsers refreshes the nearby-user view, keeping only peers within
// the detection range.
func (m *Model) ScanForNearbyUsers(ctx context.Context) error {
	scanCtx, release, err := m.acquireScan(ctx, func(s *models.DiscoveryState) {
		s.NearbyUsers = []models.User{}
	})
	if err != nil {
		return err
	}
	defer release()

	peers, err := m.radio.Peers(scanCtx)
	if err != nil {
		m.logger.Warn("nearby user scan failed", "error", err)
		return fmt.Errorf("scan nearby users: %w: %v", apperr.ErrCollaboratorFailure, err)
	}

	m.mu.Lock()
	nearby := FilterInRange(peers, m.state.DetectionRange)
	m.state.NearbyUsers = nearby
	detectionRange := m.state.DetectionRange
	m.mu.Unlock()

	m.logger.Info("nearby user scan finished", "seen", len(peers), "in_range", len(nearby), "range", detectionRange)
	return nil
}

// FilterInRange keeps the users whose distance is at most meters.
func FilterInRange(users []models.User, meters int) []models.User {
	out := make([]models.User, 0, len(users))
	for _, u := range users {
		if u.DistanceOrZero() <= float64(meters) {
			u.IsNearby = true
			out = append(out, u)
		}
	}
	return out
}

// acquireScan moves the model into the scanning state. The returned release func
// must run on every path; it restores scanning=false and publishes the snapshot.
func (m *Model) acquireScan(ctx context.Context, reset func(*models.DiscoveryState)) (context.Context, func(), error) {
	m.mu.Lock()
	if !m.state.Enabled {
		m.mu.Unlock()
		return nil, nil, apperr.ErrRadioDisabled
	}
	if m.state.Scanning {
		m.mu.Unlock()
		return nil, nil, apperr.ErrScanInProgress
	}
	if m.lifetime.Err() != nil {
		m.mu.Unlock()
		return nil, nil, fmt.Errorf("discovery closed: %w", apperr.ErrInvalidState)
	}
	m.state.Scanning = true
	reset(&m.state)
	m.mu.Unlock()
	m.notify()

	scanCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(m.lifetime, cancel)

	release := func() {
		stop()
		cancel()
		m.mu.Lock()
		m.state.Scanning = false
		m.mu.Unlock()
		m.notify()
	}
	return scanCtx, release, nil
}

// Connect marks exactly one device as connected.
func (m *Model) Connect(deviceID string) error {
	return m.setConnected(deviceID, true)
}

// Disconnect marks exactly one device as disconnected.
func (m *Model) Disconnect(deviceID string) error {
	return m.setConnected(deviceID, false)
}

func (m *Model) setConnected(deviceID string, connected bool) error {
	m.mu.Lock()
	idx := -1
	for i, d := range m.state.Devices {
		if d.ID == deviceID {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return fmt.Errorf("device not found: %q: %w", deviceID, apperr.ErrNotFound)
	}
	m.state.Devices[idx].IsConnected = connected
	m.mu.Unlock()

	m.notify()
	return nil
}

// SetDetectionRange clamps and stores the range. It does not rescan.
func (m *Model) SetDetectionRange(meters int) int {
	clamped := ClampRange(meters)

	m.mu.Lock()
	m.state.DetectionRange = clamped
	m.mu.Unlock()

	m.notify()
	return clamped
}

func (m *Model) Snapshot() models.DiscoveryState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Model) snapshotLocked() models.DiscoveryState {
	s := m.state
	s.Devices = append([]models.RadioDevice{}, m.state.Devices...)
	s.NearbyUsers = append([]models.User{}, m.state.NearbyUsers...)
	return s
}

// Subscribe registers fn for state snapshots and returns its unsubscribe func.
func (m *Model) Subscribe(fn Listener) func() {
	m.mu.Lock()
	id := m.nextListen
	m.nextListen++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

func (m *Model) notify() {
	m.mu.Lock()
	snapshot := m.snapshotLocked()
	listeners := make([]Listener, 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
}

// Close cancels any in-flight scan and refuses new ones.
func (m *Model) Close() {
	m.shutdown()
}
