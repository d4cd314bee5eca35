package radio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/4xmen/cafemeet/internal/models"
)

const (
	TopicPrefix       = "cafemeet/sightings/"
	DefaultScanWindow = 3 * time.Second
)

var ErrNotConnected = errors.New("sightings gateway not connected")

// SightingTopic is the topic a client publishes its own scan results to.
func SightingTopic(observerID string) string {
	return TopicPrefix + observerID
}

// Sighting is one advertisement a client's scanner heard. User fields are set
// when the advertiser is another signed-in app user.
type Sighting struct {
	DeviceID   string   `json:"device_id"`
	DeviceName string   `json:"device_name"`
	RSSI       *int     `json:"rssi,omitempty"`
	UserID     string   `json:"user_id,omitempty"`
	UserName   string   `json:"user_name,omitempty"`
	Avatar     string   `json:"avatar,omitempty"`
	DistanceM  *float64 `json:"distance_m,omitempty"`
	Timestamp  string   `json:"timestamp,omitempty"`
}

type collector struct {
	sightings []Sighting
}

// Gateway holds one MQTT subscription for all observers and hands sightings to
// the scans that are currently collecting for that observer.
type Gateway struct {
	client mqtt.Client
	window time.Duration
	logger *slog.Logger

	mu         sync.Mutex
	collectors map[string]map[*collector]struct{}
}

func newGateway(client mqtt.Client, window time.Duration, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if window <= 0 {
		window = DefaultScanWindow
	}
	return &Gateway{
		client:     client,
		window:     window,
		logger:     logger.With("component", "radio", "driver", "mqtt"),
		collectors: make(map[string]map[*collector]struct{}),
	}
}

// Connect dials broker and subscribes to every observer's sighting topic.
func Connect(broker, clientID string, window time.Duration, logger *slog.Logger) (*Gateway, error) {
	if clientID == "" {
		clientID = fmt.Sprintf("cafemeet-gateway-%d", time.Now().UnixNano())
	}
	opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID(clientID)
	opts = opts.SetOrderMatters(false).SetAutoReconnect(true)

	g := newGateway(nil, window, logger)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		// Subscriptions do not survive a reconnect with a clean session.
		token := c.Subscribe(TopicPrefix+"+", 0, g.handleMessage)
		if token.Wait() && token.Error() != nil {
			g.logger.Error("subscribe sightings", "error", token.Error())
			return
		}
		g.logger.Info("subscribed to sightings", "broker", broker)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect mqtt broker %s: %w", broker, token.Error())
	}
	g.client = client
	return g, nil
}

func (g *Gateway) Close() {
	if g.client != nil {
		g.client.Disconnect(250)
	}
}

func (g *Gateway) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	observer := strings.TrimPrefix(msg.Topic(), TopicPrefix)
	if observer == "" || strings.Contains(observer, "/") {
		return
	}

	var s Sighting
	if err := json.Unmarshal(msg.Payload(), &s); err != nil {
		g.logger.Warn("dropping malformed sighting", "topic", msg.Topic(), "error", err)
		return
	}
	g.route(observer, s)
}

func (g *Gateway) route(observer string, s Sighting) {
	if s.DeviceID == "" && s.UserID == "" {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for c := range g.collectors[observer] {
		c.sightings = append(c.sightings, s)
	}
}

// collect gathers the observer's sightings for one scan window.
func (g *Gateway) collect(ctx context.Context, observer string) ([]Sighting, error) {
	c := &collector{}

	g.mu.Lock()
	if g.collectors[observer] == nil {
		g.collectors[observer] = make(map[*collector]struct{})
	}
	g.collectors[observer][c] = struct{}{}
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.collectors[observer], c)
		if len(g.collectors[observer]) == 0 {
			delete(g.collectors, observer)
		}
		g.mu.Unlock()
	}()

	timer := time.NewTimer(g.window)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Sighting{}, c.sightings...), nil
}

func (g *Gateway) collecting(observer string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.collectors[observer])
}

// Radio returns the scanner view of one observer.
func (g *Gateway) Radio(observerID string) *MQTTRadio {
	return &MQTTRadio{gateway: g, observer: observerID}
}

// MQTTRadio scans by listening to the sightings its observer's client publishes.
type MQTTRadio struct {
	gateway  *Gateway
	observer string
}

func (r *MQTTRadio) Enable(ctx context.Context) error {
	if r.gateway.client == nil || !r.gateway.client.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Scan returns one device per advertiser, keeping the latest reading.
func (r *MQTTRadio) Scan(ctx context.Context) ([]models.RadioDevice, error) {
	sightings, err := r.gateway.collect(ctx, r.observer)
	if err != nil {
		return nil, err
	}
	return devicesFrom(sightings), nil
}

// Peers returns the app users heard during the scan window, excluding the
// observer itself.
func (r *MQTTRadio) Peers(ctx context.Context) ([]models.User, error) {
	sightings, err := r.gateway.collect(ctx, r.observer)
	if err != nil {
		return nil, err
	}
	return usersFrom(r.observer, sightings), nil
}

func devicesFrom(sightings []Sighting) []models.RadioDevice {
	index := make(map[string]int)
	devices := []models.RadioDevice{}
	for _, s := range sightings {
		if s.DeviceID == "" {
			continue
		}
		d := models.RadioDevice{ID: s.DeviceID, Name: s.DeviceName, RSSI: s.RSSI}
		if d.Name == "" {
			d.Name = s.DeviceID
		}
		if i, ok := index[s.DeviceID]; ok {
			devices[i] = d
			continue
		}
		index[s.DeviceID] = len(devices)
		devices = append(devices, d)
	}
	return devices
}

func usersFrom(observer string, sightings []Sighting) []models.User {
	index := make(map[string]int)
	users := []models.User{}
	for _, s := range sightings {
		if s.UserID == "" || s.UserID == observer {
			continue
		}
		u := models.User{ID: s.UserID, Name: s.UserName, Distance: s.DistanceM}
		if s.Avatar != "" {
			avatar := s.Avatar
			u.AvatarURL = &avatar
		}
		if s.DeviceID != "" {
			device := s.DeviceID
			u.DeviceID = &device
		}
		if i, ok := index[s.UserID]; ok {
			users[i] = u
			continue
		}
		index[s.UserID] = len(users)
		users = append(users, u)
	}
	return users
}
