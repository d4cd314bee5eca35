// Command beacon-sim publishes fake scan results for one observer so the MQTT
// radio driver can be exercised without real hardware.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/4xmen/cafemeet/internal/radio"
)

type simOptions struct {
	observer   string
	deviceID   string
	deviceName string
	userID     string
	userName   string
	avatar     string
	baseRSSI   int
	rssiJitter int
	distance   float64
}

func main() {
	brokerAddr := flag.String("broker", "tcp://localhost:1883", "MQTT broker address, e.g. tcp://localhost:1883")
	observer := flag.String("observer", "", "User id of the scanning client (required)")
	deviceID := flag.String("device-id", "sim-device-1", "Advertised device identifier")
	deviceName := flag.String("device-name", "Simulated Beacon", "Advertised device name")
	userID := flag.String("user-id", "", "App user behind the device, if any")
	userName := flag.String("user-name", "", "Display name of that user")
	avatar := flag.String("avatar", "", "Avatar of that user")
	distance := flag.Float64("distance", 10, "Estimated distance in meters reported with user sightings")
	interval := flag.Duration("interval", time.Second, "Interval between published sightings")
	baseRSSI := flag.Int("base-rssi", -60, "Baseline RSSI value to simulate")
	rssiJitter := flag.Int("rssi-jitter", 6, "Maximum random jitter applied to RSSI readings")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil)).With("component", "beacon-sim")

	if *observer == "" {
		logger.Error("missing -observer")
		flag.Usage()
		os.Exit(2)
	}

	opts := simOptions{
		observer:   *observer,
		deviceID:   *deviceID,
		deviceName: *deviceName,
		userID:     *userID,
		userName:   *userName,
		avatar:     *avatar,
		baseRSSI:   *baseRSSI,
		rssiJitter: *rssiJitter,
		distance:   *distance,
	}

	clientID := fmt.Sprintf("%s-simulator-%d", *deviceID, time.Now().UnixNano())
	clientOpts := mqtt.NewClientOptions().AddBroker(*brokerAddr).SetClientID(clientID)
	clientOpts = clientOpts.SetOrderMatters(false)

	client := mqtt.NewClient(clientOpts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		logger.Error("failed to connect to broker", "broker", *brokerAddr, "error", token.Error())
		os.Exit(1)
	}
	logger.Info("connected to MQTT broker", "broker", *brokerAddr, "client_id", clientID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	topic := radio.SightingTopic(opts.observer)
	publish := func() {
		data, err := json.Marshal(buildSighting(opts, time.Now()))
		if err != nil {
			logger.Warn("failed to encode sighting", "error", err)
			return
		}
		token := client.Publish(topic, 0, false, data)
		token.Wait()
		if err := token.Error(); err != nil {
			logger.Warn("publish error", "topic", topic, "error", err)
			return
		}
		logger.Debug("published sighting", "topic", topic)
	}

	publish()

	for {
		select {
		case <-ctx.Done():
			logger.Info("received shutdown signal, disconnecting")
			client.Disconnect(250)
			return
		case <-ticker.C:
			publish()
		}
	}
}

func buildSighting(opts simOptions, now time.Time) radio.Sighting {
	rssi := randomRSSI(opts.baseRSSI, opts.rssiJitter)
	s := radio.Sighting{
		DeviceID:   opts.deviceID,
		DeviceName: opts.deviceName,
		RSSI:       &rssi,
		Timestamp:  now.UTC().Format(time.RFC3339Nano),
	}
	if opts.userID != "" {
		distance := opts.distance
		s.UserID = opts.userID
		s.UserName = opts.userName
		s.Avatar = opts.avatar
		s.DistanceM = &distance
	}
	return s
}

func randomRSSI(base, jitter int) int {
	if jitter <= 0 {
		return base
	}
	return base + rand.IntN(jitter*2+1) - jitter
}
