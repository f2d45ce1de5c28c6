// Package config provides configuration helpers that define runtime defaults,
// environment overrides, and validation for the pipechat broker and client.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/Tyrowin/pipechat/internal/broker"
	"github.com/Tyrowin/pipechat/internal/endpoint"
)

// LogConfig selects the structured logger's level and output format.
type LogConfig struct {
	Level  string
	Format string
}

// MonitorConfig configures the optional WebSocket event feed. An empty Addr
// disables it.
type MonitorConfig struct {
	Addr           string
	AllowedOrigins []string
}

// ClientConfig holds settings used only by the client role.
type ClientConfig struct {
	ConnectTimeout time.Duration
}

// Config holds every setting of both process roles.
type Config struct {
	Root          string
	MaxSessions   int
	StrictFraming bool
	KeepFiles     bool
	OpenTimeout   time.Duration
	RateLimit     broker.RateLimitConfig
	Monitor       MonitorConfig
	Log           LogConfig
	Client        ClientConfig
}

const (
	defaultLogLevel       = "info"
	defaultLogFormat      = "console"
	defaultConnectTimeout = 5 * time.Second
	defaultRefillInterval = time.Second
)

// Default returns a Config populated with default values for all settings.
func Default() Config {
	return Config{
		Root:        endpoint.DefaultRoot,
		MaxSessions: broker.DefaultMaxSessions,
		RateLimit: broker.RateLimitConfig{
			RefillInterval: defaultRefillInterval,
		},
		Monitor: MonitorConfig{
			AllowedOrigins: []string{"http://localhost:8080"},
		},
		Log: LogConfig{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
		Client: ClientConfig{
			ConnectTimeout: defaultConnectTimeout,
		},
	}
}

// Sanitize replaces unusable values with defaults.
func Sanitize(cfg Config) Config {
	if cfg.Root == "" {
		cfg.Root = endpoint.DefaultRoot
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = broker.DefaultMaxSessions
	}
	if cfg.RateLimit.Burst < 0 {
		cfg.RateLimit.Burst = 0
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaultRefillInterval
	}
	if cfg.OpenTimeout < 0 {
		cfg.OpenTimeout = 0
	}
	if cfg.Client.ConnectTimeout <= 0 {
		cfg.Client.ConnectTimeout = defaultConnectTimeout
	}

	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaultLogLevel
	}
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	if cfg.Log.Format != "json" {
		cfg.Log.Format = defaultLogFormat
	}

	cfg.Monitor.AllowedOrigins = append([]string(nil), cfg.Monitor.AllowedOrigins...)
	return cfg
}

// Load reads envFile (if non-empty) into the process environment without
// overriding variables that are already set, then builds a Config from the
// environment. A missing envFile is an error; pass "" to skip it.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, errors.Wrapf(err, "load env file %s", envFile)
		}
	}
	return FromEnv(), nil
}

// FromEnv creates a Config from CHAT_* environment variables.
// Falls back to default values if environment variables are not set.
func FromEnv() Config {
	cfg := Default()

	if root := os.Getenv("CHAT_ROOT"); root != "" {
		cfg.Root = root
	}

	if v := os.Getenv("CHAT_MAX_SESSIONS"); v != "" {
		cfg.MaxSessions = parseIntValue(v, cfg.MaxSessions)
	}

	if v := os.Getenv("CHAT_STRICT_FRAMING"); v != "" {
		cfg.StrictFraming = parseBool(v, cfg.StrictFraming)
	}

	if v := os.Getenv("CHAT_KEEP_FILES"); v != "" {
		cfg.KeepFiles = parseBool(v, cfg.KeepFiles)
	}

	if v := os.Getenv("CHAT_OPEN_TIMEOUT"); v != "" {
		cfg.OpenTimeout = parseDuration(v, cfg.OpenTimeout)
	}

	if v := os.Getenv("CHAT_RATE_LIMIT_BURST"); v != "" {
		cfg.RateLimit.Burst = parseIntValue(v, cfg.RateLimit.Burst)
	}

	if v := os.Getenv("CHAT_RATE_LIMIT_REFILL_INTERVAL"); v != "" {
		cfg.RateLimit.RefillInterval = parseDuration(v, cfg.RateLimit.RefillInterval)
	}

	if v := os.Getenv("CHAT_MONITOR_ADDR"); v != "" {
		cfg.Monitor.Addr = v
	}

	if v := os.Getenv("CHAT_MONITOR_ALLOWED_ORIGINS"); v != "" {
		cfg.Monitor.AllowedOrigins = parseList(v)
	}

	if v := os.Getenv("CHAT_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	if v := os.Getenv("CHAT_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	if v := os.Getenv("CHAT_CONNECT_TIMEOUT"); v != "" {
		cfg.Client.ConnectTimeout = parseDuration(v, cfg.Client.ConnectTimeout)
	}

	return Sanitize(cfg)
}

// Broker converts the broker-related settings into a broker.Config.
func (c Config) Broker() broker.Config {
	return broker.Config{
		Namespace:     endpoint.NewNamespace(c.Root),
		MaxSessions:   c.MaxSessions,
		StrictFraming: c.StrictFraming,
		RateLimit:     c.RateLimit,
		KeepFiles:     c.KeepFiles,
		OpenTimeout:   c.OpenTimeout,
	}
}

func parseList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed >= 0 {
		return parsed
	}
	return defaultValue
}

func parseBool(value string, defaultValue bool) bool {
	if parsed, err := strconv.ParseBool(value); err == nil {
		return parsed
	}
	return defaultValue
}

// parseDuration accepts Go durations ("250ms") or a bare number of seconds.
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
