package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aman-churiwal/tenant-admission/internal/circuitbreaker"
	"github.com/aman-churiwal/tenant-admission/internal/metrics"
	log "github.com/sirupsen/logrus"
)

// Service fronts a Limiter for the admission path.
//
// It fails OPEN: when the counter store errors or the breaker is open the
// request is admitted and the fault is logged. Quota checks fail closed; the
// two policies are intentionally different and must not be unified.
type Service struct {
	limiter Limiter
	breaker *circuitbreaker.CircuitBreaker
	metrics *metrics.Metrics
	now     func() time.Time
}

// breaker and m may be nil.
func NewService(limiter Limiter, breaker *circuitbreaker.CircuitBreaker, m *metrics.Metrics) *Service {
	return &Service{
		limiter: limiter,
		breaker: breaker,
		metrics: m,
		now:     time.Now,
	}
}

// Check counts one request for identity. A denial is returned both as the
// Decision and as a *RateLimitError.
func (s *Service) Check(ctx context.Context, identity, class string, limit int) (Decision, error) {
	var d Decision
	err := s.call(func() error {
		var err error
		d, err = s.limiter.Allow(ctx, identity, class, limit)
		return err
	})
	if err != nil {
		s.storeFault(err, identity, class)
		return s.failOpen(limit), nil
	}

	if !d.Allowed {
		if s.metrics != nil {
			s.metrics.RateLimited.WithLabelValues(class).Inc()
		}
		return d, &RateLimitError{Decision: d}
	}
	return d, nil
}

// Peek reports the current window state without counting.
func (s *Service) Peek(ctx context.Context, identity, class string, limit int) Decision {
	var d Decision
	err := s.call(func() error {
		var err error
		d, err = s.limiter.Peek(ctx, identity, class, limit)
		return err
	})
	if err != nil {
		s.storeFault(err, identity, class)
		d = s.failOpen(limit)
		d.Remaining = limit
	}
	return d
}

func (s *Service) call(fn func() error) error {
	if s.breaker == nil {
		return fn()
	}
	return s.breaker.Call(fn)
}

func (s *Service) storeFault(err error, identity, class string) {
	reason := "store"
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		reason = "breaker_open"
	}
	if s.metrics != nil {
		s.metrics.LimiterErrors.WithLabelValues(reason).Inc()
	}

	// An open breaker is logged once on the transition, not per request.
	if reason == "breaker_open" {
		return
	}
	log.WithFields(log.Fields{
		"identity": identity,
		"class":    class,
	}).WithError(fmt.Errorf("%w: %v", ErrCounterStoreUnavailable, err)).Warn("rate limiter failing open")
}

func (s *Service) failOpen(limit int) Decision {
	window := s.limiter.Window()
	_, start := windowBounds(s.now(), window)
	remaining := limit - 1
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   start.Add(window),
	}
}
