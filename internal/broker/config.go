package broker

import (
	"time"

	"github.com/Tyrowin/pipechat/internal/endpoint"
)

// DefaultMaxSessions bounds the registry when no capacity is configured.
const DefaultMaxSessions = 100

// Config holds the broker's runtime settings.
type Config struct {
	Namespace   endpoint.Namespace
	MaxSessions int
	// StrictFraming makes a short read on any session fatal to the broker
	// instead of disconnecting only that session.
	StrictFraming bool
	RateLimit     RateLimitConfig
	// KeepFiles leaves a session's FIFOs in the namespace after disconnect.
	KeepFiles bool
	// OpenTimeout bounds each endpoint rendezvous during a handshake. Zero
	// waits forever, which lets one abandoned handshake stall the broker.
	OpenTimeout time.Duration
}

// DefaultConfig returns a Config rooted at endpoint.DefaultRoot.
func DefaultConfig() Config {
	return Config{
		Namespace:   endpoint.NewNamespace(""),
		MaxSessions: DefaultMaxSessions,
	}
}

func (c Config) sanitized() Config {
	if c.Namespace.Root == "" {
		c.Namespace = endpoint.NewNamespace("")
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = DefaultMaxSessions
	}
	if c.RateLimit.Burst < 0 {
		c.RateLimit.Burst = 0
	}
	if c.OpenTimeout < 0 {
		c.OpenTimeout = 0
	}
	return c
}
