package quota

import (
	"context"
	"time"

	"github.com/aman-churiwal/tenant-admission/internal/models"
	"github.com/aman-churiwal/tenant-admission/internal/plans"
	"github.com/google/uuid"
)

const (
	DefaultHistoryMonths = 6
	MaxHistoryMonths     = 24
)

type UsageStat struct {
	Used      int64  `json:"used"`
	Limit     int    `json:"limit"`
	Remaining *int64 `json:"remaining"`
}

type Summary struct {
	Period string                         `json:"period"`
	Plan   string                         `json:"plan"`
	Usage  map[models.UsageType]UsageStat `json:"usage"`
}

type MonthSnapshot struct {
	Month              string `json:"month"`
	APICalls           int64  `json:"api_calls"`
	PagesCrawled       int64  `json:"pages_crawled"`
	KeywordsResearched int64  `json:"keywords_researched"`
	AuditsRun          int64  `json:"audits_run"`
	ContentGenerated   int64  `json:"content_generated"`
	JSRenders          int64  `json:"js_renders"`
}

// GetUsageSummary reports the current period against the tenant's
// effective limits.
func (t *Tracker) GetUsageSummary(ctx context.Context, tenantID uuid.UUID, q plans.Quota) (*Summary, error) {
	month := t.CurrentMonth()
	row, err := t.ledger.Get(ctx, tenantID, month)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		Period: month,
		Plan:   q.Plan,
		Usage:  make(map[models.UsageType]UsageStat, len(models.AllUsageTypes)),
	}
	for _, ut := range models.AllUsageTypes {
		used := row.Count(ut)
		limit := q.Limit(ut)
		stat := UsageStat{Used: used, Limit: limit}
		if limit > 0 {
			remaining := int64(limit) - used
			if remaining < 0 {
				remaining = 0
			}
			stat.Remaining = &remaining
		}
		summary.Usage[ut] = stat
	}

	return summary, nil
}

// GetUsageHistory returns one snapshot per month, most recent first, with
// months lacking a record filled with zeros. months is clamped to
// [1, MaxHistoryMonths]; zero or less selects DefaultHistoryMonths.
func (t *Tracker) GetUsageHistory(ctx context.Context, tenantID uuid.UUID, months int) ([]MonthSnapshot, error) {
	if months <= 0 {
		months = DefaultHistoryMonths
	}
	if months > MaxHistoryMonths {
		months = MaxHistoryMonths
	}

	keys := monthKeys(t.now(), months)
	rows, err := t.ledger.Months(ctx, tenantID, keys)
	if err != nil {
		return nil, err
	}

	byMonth := make(map[string]models.MonthlyUsage, len(rows))
	for _, r := range rows {
		byMonth[r.Month] = r
	}

	history := make([]MonthSnapshot, 0, len(keys))
	for _, m := range keys {
		r := byMonth[m]
		history = append(history, MonthSnapshot{
			Month:              m,
			APICalls:           r.APICalls,
			PagesCrawled:       r.PagesCrawled,
			KeywordsResearched: r.KeywordsResearched,
			AuditsRun:          r.AuditsRun,
			ContentGenerated:   r.ContentGenerated,
			JSRenders:          r.JSRenders,
		})
	}

	return history, nil
}

// monthKeys lists n months ending at now's month, newest first.
func monthKeys(now time.Time, n int) []string {
	now = now.UTC()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	keys := make([]string, 0, n)
	for i := 0; i < n; i++ {
		keys = append(keys, first.AddDate(0, -i, 0).Format(monthLayout))
	}
	return keys
}
