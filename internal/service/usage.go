package service

import (
	"context"
	"time"

	"github.com/aman-churiwal/tenant-admission/internal/models"
	"github.com/aman-churiwal/tenant-admission/internal/plans"
	"github.com/aman-churiwal/tenant-admission/internal/quota"
	"github.com/aman-churiwal/tenant-admission/internal/ratelimit"
	"github.com/aman-churiwal/tenant-admission/internal/repository"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// UsageService is the read side over the usage ledger, the plan resolver and
// the rate limiter, used by the dashboard and admin endpoints.
type UsageService struct {
	tracker  *quota.Tracker
	resolver *plans.Resolver
	limiter  *ratelimit.Service
	events   *repository.EventRepository
}

func NewUsageService(tracker *quota.Tracker, resolver *plans.Resolver, limiter *ratelimit.Service, events *repository.EventRepository) *UsageService {
	return &UsageService{
		tracker:  tracker,
		resolver: resolver,
		limiter:  limiter,
		events:   events,
	}
}

type RateLimitStatus struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	ResetAt   int64 `json:"reset_at"`
}

type UsageSummary struct {
	*quota.Summary
	RateLimit RateLimitStatus `json:"rate_limit"`
}

type TenantDetail struct {
	TenantID uuid.UUID                   `json:"tenant_id"`
	Plan     string                      `json:"plan"`
	Quotas   plans.Quota                 `json:"quotas"`
	Override *models.TenantQuotaOverride `json:"override"`
	Usage    *quota.Summary              `json:"usage"`
	History  []quota.MonthSnapshot       `json:"history"`
	Denials  map[string]int64            `json:"denials_this_period"`
}

// Quotas returns the tenant's effective limits. Override lookup failures fall
// back to plan defaults.
func (s *UsageService) Quotas(ctx context.Context, tenantID uuid.UUID, plan string) plans.Quota {
	q, err := s.resolver.ResolveForTenant(ctx, tenantID, plan)
	if err != nil {
		log.WithField("tenant_id", tenantID).WithError(err).Warn("quota override lookup failed, using plan defaults")
	}
	return q
}

// RateLimit reports the tenant's default-class window without counting.
func (s *UsageService) RateLimit(ctx context.Context, tenantID uuid.UUID, plan string) RateLimitStatus {
	q := s.Quotas(ctx, tenantID, plan)
	return s.rateLimit(ctx, tenantID, q)
}

func (s *UsageService) rateLimit(ctx context.Context, tenantID uuid.UUID, q plans.Quota) RateLimitStatus {
	d := s.limiter.Peek(ctx, tenantID.String(), ratelimit.DefaultClass, q.RateLimitPerMinute)
	return RateLimitStatus{
		Limit:     d.Limit,
		Remaining: d.Remaining,
		ResetAt:   d.ResetAt.Unix(),
	}
}

func (s *UsageService) Summary(ctx context.Context, tenantID uuid.UUID, plan string) (*UsageSummary, error) {
	q := s.Quotas(ctx, tenantID, plan)

	summary, err := s.tracker.GetUsageSummary(ctx, tenantID, q)
	if err != nil {
		return nil, err
	}

	return &UsageSummary{
		Summary:   summary,
		RateLimit: s.rateLimit(ctx, tenantID, q),
	}, nil
}

func (s *UsageService) History(ctx context.Context, tenantID uuid.UUID, months int) ([]quota.MonthSnapshot, error) {
	return s.tracker.GetUsageHistory(ctx, tenantID, months)
}

// TenantDetail is the admin view of one tenant.
func (s *UsageService) TenantDetail(ctx context.Context, tenantID uuid.UUID, plan string) (*TenantDetail, error) {
	override, err := s.resolver.Override(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	q := plans.Merge(s.resolver.Resolve(plan), override)

	usage, err := s.tracker.GetUsageSummary(ctx, tenantID, q)
	if err != nil {
		return nil, err
	}

	history, err := s.tracker.GetUsageHistory(ctx, tenantID, quota.DefaultHistoryMonths)
	if err != nil {
		return nil, err
	}

	from, to := periodBounds(time.Now())
	denials, err := s.events.CountByLimitType(ctx, tenantID, from, to)
	if err != nil {
		return nil, err
	}

	return &TenantDetail{
		TenantID: tenantID,
		Plan:     plan,
		Quotas:   q,
		Override: override,
		Usage:    usage,
		History:  history,
		Denials:  denials,
	}, nil
}

// Events lists a tenant's denial events, newest first.
func (s *UsageService) Events(ctx context.Context, f repository.EventFilter) ([]models.RateLimitEvent, int64, error) {
	if f.To.IsZero() {
		f.To = time.Now().UTC()
	}
	if f.From.IsZero() {
		f.From = f.To.AddDate(0, 0, -30)
	}
	return s.events.List(ctx, f)
}

func (s *UsageService) UpdateOverride(ctx context.Context, tenantID uuid.UUID, patch map[string]*int) (*models.TenantQuotaOverride, error) {
	return s.resolver.UpdateOverride(ctx, tenantID, patch)
}

func (s *UsageService) ResetOverride(ctx context.Context, tenantID uuid.UUID) error {
	return s.resolver.ResetOverride(ctx, tenantID)
}

// periodBounds returns the start of now's calendar month and now, in UTC.
func periodBounds(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC), now
}
