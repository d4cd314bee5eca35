package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds server settings. Values come from defaults, then the TOML file
// named by CAFEMEET_CONFIG_FILE, then environment variables.
type Config struct {
	Port         string `toml:"port"`
	Environment  string `toml:"environment"`
	DatabasePath string `toml:"database_path"`
	JWTSecret    string `toml:"jwt_secret"`
	CORSOrigins  string `toml:"cors_origins"`
	LogLevel     string `toml:"log_level"`

	DefaultDetectionRange int           `toml:"default_detection_range"`
	MaxMessageLength      int           `toml:"max_message_length"`
	ScanWindow            time.Duration `toml:"scan_window"`

	RadioDriver string `toml:"radio_driver"`
	MQTTBroker  string `toml:"mqtt_broker"`
	RelayDriver string `toml:"relay_driver"`
	RedisAddr   string `toml:"redis_addr"`

	VAPIDPublicKey  string `toml:"vapid_public_key"`
	VAPIDPrivateKey string `toml:"vapid_private_key"`

	MDNSEnabled bool   `toml:"mdns_enabled"`
	RateLimit   string `toml:"rate_limit"`
}

const (
	RadioStatic = "static"
	RadioMQTT   = "mqtt"
	RelayLocal  = "local"
	RelayRedis  = "redis"
)

// ConfigFileEnv names the environment variable holding the TOML file path.
const ConfigFileEnv = "CAFEMEET_CONFIG_FILE"

func defaults() *Config {
	return &Config{
		Port:                  "8080",
		Environment:           "development",
		DatabasePath:          "./data/cafemeet.db",
		JWTSecret:             "your-secret-key-change-in-production",
		CORSOrigins:           "*",
		LogLevel:              "info",
		DefaultDetectionRange: 50,
		MaxMessageLength:      1000,
		ScanWindow:            3 * time.Second,
		RadioDriver:           RadioStatic,
		MQTTBroker:            "tcp://localhost:1883",
		RelayDriver:           RelayLocal,
		RedisAddr:             "localhost:6379",
		RateLimit:             "20-M",
	}
}

// Load builds the configuration. A config file that is named but missing or
// malformed is an error.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv(ConfigFileEnv); path != "" {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			slog.Warn("config file contains undecoded keys", "path", path, "keys", keys)
		}
	}

	overlayEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func overlayEnv(cfg *Config) {
	setString(&cfg.Port, "PORT")
	setString(&cfg.Environment, "ENVIRONMENT")
	setString(&cfg.DatabasePath, "DATABASE_PATH")
	setString(&cfg.JWTSecret, "JWT_SECRET")
	setString(&cfg.CORSOrigins, "CORS_ORIGINS")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setInt(&cfg.DefaultDetectionRange, "DETECTION_RANGE")
	setInt(&cfg.MaxMessageLength, "MAX_MESSAGE_LENGTH")
	setDuration(&cfg.ScanWindow, "SCAN_WINDOW")
	setString(&cfg.RadioDriver, "RADIO_DRIVER")
	setString(&cfg.MQTTBroker, "MQTT_BROKER")
	setString(&cfg.RelayDriver, "RELAY_DRIVER")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.VAPIDPublicKey, "VAPID_PUBLIC_KEY")
	setString(&cfg.VAPIDPrivateKey, "VAPID_PRIVATE_KEY")
	setBool(&cfg.MDNSEnabled, "MDNS_ENABLED")
	setString(&cfg.RateLimit, "RATE_LIMIT")
}

func (c *Config) validate() error {
	c.RadioDriver = strings.ToLower(strings.TrimSpace(c.RadioDriver))
	if c.RadioDriver != RadioStatic && c.RadioDriver != RadioMQTT {
		return fmt.Errorf("invalid radio_driver %q: must be one of static, mqtt", c.RadioDriver)
	}
	c.RelayDriver = strings.ToLower(strings.TrimSpace(c.RelayDriver))
	if c.RelayDriver != RelayLocal && c.RelayDriver != RelayRedis {
		return fmt.Errorf("invalid relay_driver %q: must be one of local, redis", c.RelayDriver)
	}
	if c.MaxMessageLength <= 0 {
		return fmt.Errorf("invalid max_message_length %d", c.MaxMessageLength)
	}
	if c.ScanWindow <= 0 {
		return fmt.Errorf("invalid scan_window %s", c.ScanWindow)
	}
	return nil
}

// SlogLevel maps LogLevel onto slog, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setString(dst *string, key string) {
	if value, exists := os.LookupEnv(key); exists {
		*dst = value
	}
}

func setInt(dst *int, key string) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return
	}
	if n, err := strconv.Atoi(value); err == nil {
		*dst = n
	} else {
		slog.Warn("ignoring invalid integer setting", "key", key, "value", value)
	}
}

func setBool(dst *bool, key string) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return
	}
	if b, err := strconv.ParseBool(value); err == nil {
		*dst = b
	} else {
		slog.Warn("ignoring invalid boolean setting", "key", key, "value", value)
	}
}

func setDuration(dst *time.Duration, key string) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return
	}
	if d, err := time.ParseDuration(value); err == nil {
		*dst = d
	} else {
		slog.Warn("ignoring invalid duration setting", "key", key, "value", value)
	}
}
