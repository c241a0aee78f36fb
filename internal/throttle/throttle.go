// Package throttle implements the fixed-window request throttle.
//
// A Limiter counts requests per key through an injected Counter. The first
// increment of a key opens a window; when the window elapses the key is
// removed and the next request starts a fresh count at 1.
//
// Two counters are provided:
//   - MemoryCounter: per process, for development and single-instance deployments
//   - RedisCounter:  shared by every instance pointing at the same Redis
package throttle

import (
	"context"
	"fmt"
	"time"
)

// Defaults applied to strategy creation.
const (
	DefaultLimit  = 30
	DefaultWindow = 60 * time.Second
)

// Counter increments key and returns the new count. The first increment in
// a window returns 1 and arranges for key to disappear after window.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Limiter allows at most Limit requests per key per Window.
type Limiter struct {
	counter Counter
	limit   int64
	window  time.Duration
}

// NewLimiter returns a Limiter over counter. Non-positive values fall back
// to DefaultLimit and DefaultWindow.
func NewLimiter(counter Counter, limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{counter: counter, limit: int64(limit), window: window}
}

// Allow records one request for key and reports whether it is within the
// limit: the request that brings the count to Limit+1 is the first rejected.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	n, err := l.counter.Incr(ctx, key, l.window)
	if err != nil {
		return false, fmt.Errorf("throttle: incrementing %s: %w", key, err)
	}
	return n <= l.limit, nil
}

// Window returns the configured window length.
func (l *Limiter) Window() time.Duration { return l.window }
