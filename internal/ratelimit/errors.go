package ratelimit

import (
	"errors"
	"fmt"
)

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrCounterStoreUnavailable wraps counter store faults. The service fails
	// open on it, so it never reaches an end user.
	ErrCounterStoreUnavailable = errors.New("counter store unavailable")
)

// RateLimitError carries the denial so callers can render headers and body.
type RateLimitError struct {
	Decision Decision
}

func (e *RateLimitError) Error() string {
	retry := 0
	if e.Decision.RetryAfter != nil {
		retry = *e.Decision.RetryAfter
	}
	return fmt.Sprintf("rate limit exceeded: limit %d, retry after %ds", e.Decision.Limit, retry)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimitExceeded
}

// DecisionFrom extracts the denial carried by err, if any.
func DecisionFrom(err error) (Decision, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle.Decision, true
	}
	return Decision{}, false
}
