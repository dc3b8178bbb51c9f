package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// Current is the window count seen before this request, rounded up.
	Current int
	ResetAt time.Time
	// RetryAfter is set only on denial, in whole seconds.
	RetryAfter *int
}

type Limiter interface {
	// Allow checks identity against limit for class and, when admitted,
	// counts the request. Check and increment are atomic in the store.
	Allow(ctx context.Context, identity, class string, limit int) (Decision, error)

	// Peek reports the state Allow would see without counting anything.
	Peek(ctx context.Context, identity, class string, limit int) (Decision, error)

	Window() time.Duration
}

// windowBounds returns the id and start of the fixed window containing now.
func windowBounds(now time.Time, window time.Duration) (int64, time.Time) {
	id := now.UnixNano() / int64(window)
	return id, time.Unix(0, id*int64(window))
}

// retryAfter is the whole number of seconds until resetAt, within [1, window].
func retryAfter(now, resetAt time.Time, window time.Duration) *int {
	d := resetAt.Sub(now)
	secs := int((d + time.Second - 1) / time.Second)
	max := int(window / time.Second)
	if secs > max {
		secs = max
	}
	if secs < 1 {
		secs = 1
	}
	return &secs
}
