// Package ratelimit implements fixed-window request counting. Counts live
// either in process memory or in Redis so multiple instances can share a
// window; the backend is chosen at startup.
package ratelimit

import (
	"context"
	"time"
)

// Counter increments the hit count for a key inside the current fixed
// window. The first increment of a window starts its expiry clock; once the
// window lapses the next increment starts a fresh count at 1.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed    bool
	Count      int64
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter answers whether a request fits its per-window budget. Each
// (identifier, endpoint) pair counts independently.
type Limiter struct {
	counter Counter
	window  time.Duration
}

const defaultWindow = time.Minute

// NewLimiter creates a Limiter over the given counter backend.
func NewLimiter(counter Counter, window time.Duration) *Limiter {
	if window <= 0 {
		window = defaultWindow
	}
	return &Limiter{counter: counter, window: window}
}

// Window returns the fixed window size.
func (l *Limiter) Window() time.Duration { return l.window }

// Allow records one hit for identifier on endpoint and reports whether the
// request is within limit. Denied requests are still counted, so a client
// that keeps retrying keeps pushing its window count up.
func (l *Limiter) Allow(ctx context.Context, identifier, endpoint string, limit int) (Decision, error) {
	count, err := l.counter.Incr(ctx, Key(identifier, endpoint), l.window)
	if err != nil {
		return Decision{}, err
	}
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:    count <= int64(limit),
		Count:      count,
		Limit:      limit,
		Remaining:  remaining,
		RetryAfter: l.window,
	}, nil
}

// Key builds the counter key for an identifier and endpoint.
func Key(identifier, endpoint string) string {
	return "ratelimit:" + identifier + ":" + endpoint
}
