package broker

import (
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig defines the parameters for per-session message rate limiting.
// A zero Burst disables limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Enabled reports whether messages are throttled at all.
func (c RateLimitConfig) Enabled() bool {
	return c.Burst > 0
}

type rateLimiter struct {
	limiter *rate.Limiter
}

// newRateLimiter refills the whole bucket of capacity tokens once per interval.
// It returns nil when limiting is disabled; a nil limiter allows everything.
func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	if !cfg.Enabled() {
		return nil
	}
	interval := cfg.RefillInterval
	if interval <= 0 {
		interval = time.Second
	}

	every := rate.Every(interval / time.Duration(cfg.Burst))
	return &rateLimiter{limiter: rate.NewLimiter(every, cfg.Burst)}
}

func (rl *rateLimiter) allow() bool {
	if rl == nil {
		return true
	}
	return rl.limiter.Allow()
}
