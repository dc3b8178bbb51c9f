package ratelimit

import (
	"time"

	"github.com/aman-churiwal/tenant-admission/internal/storage"
)

const (
	AlgorithmSlidingWindow = "sliding_window"
	AlgorithmFixedWindow   = "fixed_window"

	DefaultWindow = time.Minute
)

func NewLimiter(store storage.CounterStore, algorithm string, window time.Duration, now func() time.Time) Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	switch algorithm {
	case AlgorithmFixedWindow:
		return NewFixedWindow(store, window, now)
	default:
		return NewSlidingWindowLimiter(store, window, now)
	}
}
