package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/aman-churiwal/tenant-admission/internal/storage"
)

// SlidingWindowLimiter approximates a rolling window with two adjacent fixed
// buckets. The previous bucket is weighted by the share of it still inside
// the trailing window:
//
//	effective = current + previous * (1 - elapsed/window)
//
// A request is admitted while effective < limit.
type SlidingWindowLimiter struct {
	store  storage.CounterStore
	window time.Duration
	now    func() time.Time
}

func NewSlidingWindowLimiter(store storage.CounterStore, window time.Duration, now func() time.Time) *SlidingWindowLimiter {
	if now == nil {
		now = time.Now
	}
	return &SlidingWindowLimiter{
		store:  store,
		window: window,
		now:    now,
	}
}

func (s *SlidingWindowLimiter) keys(identity, class string, id int64) (string, string) {
	return fmt.Sprintf("ratelimit:%s:%s:%d", identity, class, id),
		fmt.Sprintf("ratelimit:%s:%s:%d", identity, class, id-1)
}

func (s *SlidingWindowLimiter) weight(now, start time.Time) float64 {
	elapsed := float64(now.Sub(start)) / float64(s.window)
	return 1 - elapsed
}

func (s *SlidingWindowLimiter) Allow(ctx context.Context, identity, class string, limit int) (Decision, error) {
	now := s.now()
	id, start := windowBounds(now, s.window)
	curKey, prevKey := s.keys(identity, class, id)
	weight := s.weight(now, start)

	// Keys live for two windows so the next window can still weight this one.
	res, err := s.store.ConditionalIncrement(ctx, curKey, prevKey, int64(limit), weight, 2*s.window)
	if err != nil {
		return Decision{}, err
	}

	current := res.Current
	if res.Allowed {
		current--
	}
	effective := float64(current) + float64(res.Previous)*weight

	return s.decision(now, start, limit, effective, res.Allowed), nil
}

func (s *SlidingWindowLimiter) Peek(ctx context.Context, identity, class string, limit int) (Decision, error) {
	now := s.now()
	id, start := windowBounds(now, s.window)
	curKey, prevKey := s.keys(identity, class, id)
	weight := s.weight(now, start)

	current, previous, err := s.store.Counts(ctx, curKey, prevKey)
	if err != nil {
		return Decision{}, err
	}
	effective := float64(current) + float64(previous)*weight

	d := s.decision(now, start, limit, effective, effective < float64(limit))
	// Peek describes the next request, so nothing has been consumed yet.
	if d.Allowed {
		d.Remaining = clampRemaining(float64(limit) - effective)
	}
	return d, nil
}

func (s *SlidingWindowLimiter) decision(now, start time.Time, limit int, effective float64, allowed bool) Decision {
	resetAt := start.Add(s.window)
	d := Decision{
		Allowed: allowed,
		Limit:   limit,
		Current: int(math.Ceil(effective)),
		ResetAt: resetAt,
	}
	if allowed {
		d.Remaining = clampRemaining(float64(limit) - effective - 1)
	} else {
		d.RetryAfter = retryAfter(now, resetAt, s.window)
	}
	return d
}

func clampRemaining(v float64) int {
	return int(math.Max(0, math.Floor(v)))
}

func (s *SlidingWindowLimiter) Window() time.Duration {
	return s.window
}
