package storage

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by Get when the key does not exist.
var ErrCacheMiss = errors.New("cache miss")

// WindowResult is the outcome of a two-bucket conditional increment.
// Current is the current-window count after the call (incremented only when
// Allowed), Previous the untouched previous-window count.
type WindowResult struct {
	Allowed  bool
	Current  int64
	Previous int64
}

// CounterStore is the narrow contract the rate limiter needs from an atomic,
// TTL-capable counter service. Implementations must make each method atomic
// with respect to concurrent callers on the same keys.
type CounterStore interface {
	// IncrementWithExpiry increments key and sets ttl on first creation.
	IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// ConditionalIncrement computes current + previous*previousWeight and,
	// only if that is below limit, increments currentKey (setting ttl on creation).
	ConditionalIncrement(ctx context.Context, currentKey, previousKey string, limit int64, previousWeight float64, ttl time.Duration) (WindowResult, error)

	// Counts reads both window counters without modifying them.
	Counts(ctx context.Context, currentKey, previousKey string) (current int64, previous int64, err error)

	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
	Close() error
}
