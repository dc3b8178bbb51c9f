package plans

import (
	"github.com/aman-churiwal/tenant-admission/internal/models"
)

// Merge applies every non-nil override field on top of base. It has no side
// effects and a nil override returns base unchanged.
func Merge(base Quota, o *models.TenantQuotaOverride) Quota {
	if o == nil {
		return base
	}

	pick := func(def int, v *int) int {
		if v != nil {
			return *v
		}
		return def
	}

	merged := base
	merged.RateLimitPerMinute = pick(base.RateLimitPerMinute, o.RateLimitPerMinute)
	merged.MonthlyAPICalls = pick(base.MonthlyAPICalls, o.MonthlyAPICalls)
	merged.MonthlyCrawlPages = pick(base.MonthlyCrawlPages, o.MonthlyCrawlPages)
	merged.MonthlyKeywordLookups = pick(base.MonthlyKeywordLookups, o.MonthlyKeywordLookups)
	merged.MonthlyAudits = pick(base.MonthlyAudits, o.MonthlyAudits)
	merged.MonthlyContentGenerations = pick(base.MonthlyContentGenerations, o.MonthlyContentGenerations)
	merged.MonthlyJSRenders = pick(base.MonthlyJSRenders, o.MonthlyJSRenders)
	return merged
}

// ValidatePatch checks an override patch. Keys must be override columns;
// values must be nil (revert to plan default) or non-negative.
func ValidatePatch(patch map[string]*int) error {
	if len(patch) == 0 {
		return &ValidationError{Field: "body", Message: "no override fields provided"}
	}

	allowed := make(map[string]struct{}, len(models.OverrideColumns))
	for _, c := range models.OverrideColumns {
		allowed[c] = struct{}{}
	}

	for field, v := range patch {
		if _, ok := allowed[field]; !ok {
			return &ValidationError{Field: field, Message: "unknown override field"}
		}
		if v == nil {
			continue
		}
		if *v < 0 {
			return &ValidationError{Field: field, Message: "must not be negative"}
		}
		if field == "rate_limit_per_minute" && *v == 0 {
			return &ValidationError{Field: field, Message: "must be positive"}
		}
	}
	return nil
}
