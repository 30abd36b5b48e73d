// Package ratelimit throttles write endpoints with fixed-window counters in
// Redis. The counters live in an external key-expiry store rather than an
// in-process map so the limits hold across service instances.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

// CounterStore is the slice of redis.Client the limiter needs.
type CounterStore interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// Limiter enforces at most limit operations per key per window.
type Limiter struct {
	store  CounterStore
	limit  int64
	window time.Duration
	logger *slog.Logger
}

func NewLimiter(store CounterStore, limit int64, window time.Duration, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{store: store, limit: limit, window: window, logger: logger}
}

// Allow increments the key's window counter and reports whether the caller
// is under the limit. A Redis failure allows the request: the cache is a
// throttle, never a correctness dependency.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	if l.store == nil {
		return true
	}

	full := fmt.Sprintf("ratelimit:%s", key)
	n, err := l.store.Incr(ctx, full).Result()
	if err != nil {
		l.logger.Warn("rate limit counter unavailable", "key", key, "err", err)
		return true
	}
	if n == 1 {
		if err := l.store.Expire(ctx, full, l.window).Err(); err != nil {
			l.logger.Warn("rate limit expire failed", "key", key, "err", err)
		}
	}
	return n <= l.limit
}
