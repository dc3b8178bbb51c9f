package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/aman-churiwal/tenant-admission/internal/storage"
)

// FixedWindowLimiter counts requests per aligned window with INCR + EXPIRE.
// Bursts at a boundary can reach twice the limit over a rolling window.
type FixedWindowLimiter struct {
	store  storage.CounterStore
	window time.Duration
	now    func() time.Time
}

func NewFixedWindow(store storage.CounterStore, window time.Duration, now func() time.Time) *FixedWindowLimiter {
	if now == nil {
		now = time.Now
	}
	return &FixedWindowLimiter{
		store:  store,
		window: window,
		now:    now,
	}
}

func (f *FixedWindowLimiter) key(identity, class string, id int64) string {
	return fmt.Sprintf("ratelimit:fixed:%s:%s:%d", identity, class, id)
}

func (f *FixedWindowLimiter) Allow(ctx context.Context, identity, class string, limit int) (Decision, error) {
	now := f.now()
	id, start := windowBounds(now, f.window)

	count, err := f.store.IncrementWithExpiry(ctx, f.key(identity, class, id), f.window)
	if err != nil {
		return Decision{}, err
	}

	resetAt := start.Add(f.window)
	d := Decision{
		Allowed: count <= int64(limit),
		Limit:   limit,
		Current: int(count) - 1,
		ResetAt: resetAt,
	}
	if d.Allowed {
		d.Remaining = limit - int(count)
	} else {
		d.RetryAfter = retryAfter(now, resetAt, f.window)
	}
	return d, nil
}

func (f *FixedWindowLimiter) Peek(ctx context.Context, identity, class string, limit int) (Decision, error) {
	now := f.now()
	id, start := windowBounds(now, f.window)
	key := f.key(identity, class, id)

	count, _, err := f.store.Counts(ctx, key, f.key(identity, class, id-1))
	if err != nil {
		return Decision{}, err
	}

	resetAt := start.Add(f.window)
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	d := Decision{
		Allowed:   remaining > 0,
		Limit:     limit,
		Remaining: remaining,
		Current:   int(count),
		ResetAt:   resetAt,
	}
	if !d.Allowed {
		d.RetryAfter = retryAfter(now, resetAt, f.window)
	}
	return d, nil
}

func (f *FixedWindowLimiter) Window() time.Duration {
	return f.window
}
