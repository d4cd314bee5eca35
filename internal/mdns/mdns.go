// Package mdns advertises the API on the local network so phones on the same
// Wi-Fi can find the server without configuration.
package mdns

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

const (
	ServiceType = "_cafemeet._tcp"
	Domain      = "local."

	maxLabel = 63
)

type Advertiser struct {
	mu     sync.Mutex
	server *zeroconf.Server
	logger *slog.Logger

	// register is swapped in tests.
	register func(instance string, port int, txt []string) (*zeroconf.Server, error)
}

func NewAdvertiser(logger *slog.Logger) *Advertiser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Advertiser{
		logger: logger.With("component", "mdns"),
		register: func(instance string, port int, txt []string) (*zeroconf.Server, error) {
			return zeroconf.Register(instance, ServiceType, Domain, port, txt, nil)
		},
	}
}

// Start registers the service on port, replacing any earlier advertisement.
func (a *Advertiser) Start(port int, radioDriver string) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port %d", port)
	}

	a.Stop()

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "cafemeet"
	}

	instance := SanitizeInstance(fmt.Sprintf("CafeMeet (%s)", hostname))
	host := SanitizeHost(hostname)
	if !strings.Contains(host, ".") {
		host += ".local"
	}

	server, err := a.register(instance, port, TXTRecords(port, radioDriver, host))
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}

	a.mu.Lock()
	a.server = server
	a.mu.Unlock()
	a.logger.Info("mDNS advertisement started", "instance", instance, "port", port)
	return nil
}

func (a *Advertiser) Stop() {
	a.mu.Lock()
	server := a.server
	a.server = nil
	a.mu.Unlock()

	if server == nil {
		return
	}
	server.Shutdown()
	a.logger.Info("mDNS advertisement stopped")
}

func TXTRecords(port int, radioDriver, host string) []string {
	return []string{
		fmt.Sprintf("http_port=%d", port),
		"ws_path=/ws",
		"radio=" + radioDriver,
		"proto=v1",
		"host=" + host,
	}
}

// SanitizeInstance makes name usable as a DNS-SD instance label.
func SanitizeInstance(name string) string {
	cleaned := strings.TrimSpace(name)
	cleaned = strings.NewReplacer("\n", " ", "\r", " ", ".", " ", "_", " ").Replace(cleaned)
	if cleaned == "" {
		cleaned = "CafeMeet"
	}
	return truncate(cleaned)
}

// SanitizeHost lowercases name into a single host label.
func SanitizeHost(name string) string {
	cleaned := strings.TrimSpace(strings.ToLower(name))
	cleaned = strings.NewReplacer(" ", "-", "_", "-", "\n", "", "\r", "").Replace(cleaned)
	if cleaned == "" {
		cleaned = "cafemeet"
	}
	return truncate(cleaned)
}

func truncate(s string) string {
	runes := []rune(s)
	if len(runes) > maxLabel {
		return string(runes[:maxLabel])
	}
	return s
}
