package server

import (
	"sync"
	"time"
)

// rateLimiter is a token bucket over one connection's inbound events. It
// starts full; each event spends one token and tokens return at
// Burst per RefillInterval.
type rateLimiter struct {
	mu       sync.Mutex
	tokens   float64
	burst    float64
	perSec   float64
	refilled time.Time
	now      func() time.Time
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	burst := max(cfg.Burst, 1)
	interval := cfg.RefillInterval
	if interval <= 0 {
		interval = defaultRefillInterval
	}

	return &rateLimiter{
		tokens:   float64(burst),
		burst:    float64(burst),
		perSec:   float64(burst) / interval.Seconds(),
		refilled: time.Now(),
		now:      time.Now,
	}
}

// refill credits the tokens earned since the last call, capped at burst.
func (rl *rateLimiter) refill() {
	now := rl.now()
	if elapsed := now.Sub(rl.refilled); elapsed > 0 {
		rl.tokens = min(rl.burst, rl.tokens+elapsed.Seconds()*rl.perSec)
	}
	rl.refilled = now
}

// allow spends a token for the next event and reports whether one was left.
func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	if rl.tokens < 1 {
		return false
	}
	rl.tokens--
	return true
}
