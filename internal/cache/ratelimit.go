package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/hyperjump/kioku/internal/backend"
)

const ratelimitPrefix = "ratelimit"

// RateLimiter enforces a fixed-window request quota per identifier. The
// counter's TTL is the window length, so the window restarts silently when
// it expires. A caller can burst up to twice the quota across a window
// boundary; that imprecision is the price of O(1) operations.
type RateLimiter struct {
	backend     backend.Backend
	maxRequests int
	window      time.Duration
}

// NewRateLimiter creates a limiter allowing maxRequests per window.
func NewRateLimiter(b backend.Backend, maxRequests int, window time.Duration) *RateLimiter {
	if maxRequests <= 0 {
		maxRequests = 100
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{backend: b, maxRequests: maxRequests, window: window}
}

func (l *RateLimiter) key(identifier string) string {
	return ratelimitPrefix + ":" + identifier
}

// Allow reports whether the identifier may make another request in the
// current window, counting this request if so.
func (l *RateLimiter) Allow(ctx context.Context, identifier string) (bool, error) {
	key := l.key(identifier)
	current, ok, err := l.backend.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok {
		// First request opens the window.
		if err := l.backend.Set(ctx, key, "1", l.window); err != nil {
			return false, err
		}
		return true, nil
	}
	count, err := strconv.Atoi(current)
	if err != nil {
		return false, fmt.Errorf("corrupt rate counter %q: %w", current, err)
	}
	if count >= l.maxRequests {
		return false, nil
	}
	if _, err := l.backend.Incr(ctx, key); err != nil {
		return false, err
	}
	return true, nil
}

// Remaining returns how many requests the identifier has left in the
// current window; the full quota when no window is open.
func (l *RateLimiter) Remaining(ctx context.Context, identifier string) (int, error) {
	current, ok, err := l.backend.Get(ctx, l.key(identifier))
	if err != nil {
		return 0, err
	}
	if !ok {
		return l.maxRequests, nil
	}
	count, err := strconv.Atoi(current)
	if err != nil {
		return 0, fmt.Errorf("corrupt rate counter %q: %w", current, err)
	}
	if count >= l.maxRequests {
		return 0, nil
	}
	return l.maxRequests - count, nil
}

// Reset deletes the identifier's counter, reopening its window.
func (l *RateLimiter) Reset(ctx context.Context, identifier string) error {
	_, err := l.backend.Delete(ctx, l.key(identifier))
	return err
}

// Max returns the configured per-window quota.
func (l *RateLimiter) Max() int { return l.maxRequests }
