package plans

import (
	"sort"
	"strings"

	"github.com/aman-churiwal/tenant-admission/internal/config"
	"github.com/aman-churiwal/tenant-admission/internal/models"
)

const (
	PlanFree       = "free"
	PlanPro        = "pro"
	PlanEnterprise = "enterprise"
)

// Quota is the resolved set of limits for a plan, optionally with a tenant
// override applied. Monthly limits of zero mean unlimited.
type Quota struct {
	Plan                      string `json:"plan"`
	RateLimitPerMinute        int    `json:"rate_limit_per_minute"`
	PathMultiplier            int    `json:"path_multiplier"`
	MonthlyAPICalls           int    `json:"monthly_api_calls"`
	MonthlyCrawlPages         int    `json:"monthly_crawl_pages"`
	MonthlyKeywordLookups     int    `json:"monthly_keyword_lookups"`
	MonthlyAudits             int    `json:"monthly_audits"`
	MonthlyContentGenerations int    `json:"monthly_content_generations"`
	MonthlyJSRenders          int    `json:"monthly_js_renders"`
}

// Limit returns the monthly limit for t, 0 meaning unlimited.
func (q Quota) Limit(t models.UsageType) int {
	switch t {
	case models.UsageAPICall:
		return q.MonthlyAPICalls
	case models.UsageCrawlPage:
		return q.MonthlyCrawlPages
	case models.UsageKeywordLookup:
		return q.MonthlyKeywordLookups
	case models.UsageAuditRun:
		return q.MonthlyAudits
	case models.UsageContentGeneration:
		return q.MonthlyContentGenerations
	case models.UsageJSRender:
		return q.MonthlyJSRenders
	default:
		return 0
	}
}

var defaultPlans = map[string]Quota{
	PlanFree: {
		Plan:                      PlanFree,
		RateLimitPerMinute:        60,
		PathMultiplier:            1,
		MonthlyAPICalls:           1000,
		MonthlyCrawlPages:         500,
		MonthlyKeywordLookups:     100,
		MonthlyAudits:             5,
		MonthlyContentGenerations: 10,
		MonthlyJSRenders:          50,
	},
	PlanPro: {
		Plan:                      PlanPro,
		RateLimitPerMinute:        120,
		PathMultiplier:            4,
		MonthlyAPICalls:           50000,
		MonthlyCrawlPages:         10000,
		MonthlyKeywordLookups:     2000,
		MonthlyAudits:             100,
		MonthlyContentGenerations: 200,
		MonthlyJSRenders:          1000,
	},
	PlanEnterprise: {
		Plan:                      PlanEnterprise,
		RateLimitPerMinute:        600,
		PathMultiplier:            20,
		MonthlyAPICalls:           0,
		MonthlyCrawlPages:         100000,
		MonthlyKeywordLookups:     20000,
		MonthlyAudits:             1000,
		MonthlyContentGenerations: 2000,
		MonthlyJSRenders:          10000,
	},
}

// Table maps plan names to quotas. It is built once at startup and never
// mutated, so it is safe to share between goroutines.
type Table struct {
	plans map[string]Quota
}

// DefaultTable returns the built-in plans.
func DefaultTable() *Table {
	return NewTable(nil)
}

// NewTable overlays configured plans on the built-in ones. A configured plan
// that has no built-in counterpart starts from the free plan.
func NewTable(cfg map[string]config.PlanConfig) *Table {
	plans := make(map[string]Quota, len(defaultPlans)+len(cfg))
	for name, q := range defaultPlans {
		plans[name] = q
	}

	for rawName, pc := range cfg {
		name := normalize(rawName)
		base, ok := plans[name]
		if !ok {
			base = defaultPlans[PlanFree]
		}
		base.Plan = name
		plans[name] = applyConfig(base, pc)
	}

	return &Table{plans: plans}
}

func applyConfig(q Quota, pc config.PlanConfig) Quota {
	set := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}
	set(&q.RateLimitPerMinute, pc.RateLimitPerMinute)
	set(&q.PathMultiplier, pc.PathMultiplier)
	set(&q.MonthlyAPICalls, pc.MonthlyAPICalls)
	set(&q.MonthlyCrawlPages, pc.MonthlyCrawlPages)
	set(&q.MonthlyKeywordLookups, pc.MonthlyKeywordLookups)
	set(&q.MonthlyAudits, pc.MonthlyAudits)
	set(&q.MonthlyContentGenerations, pc.MonthlyContentGenerations)
	set(&q.MonthlyJSRenders, pc.MonthlyJSRenders)
	return q
}

// Resolve returns the quota for plan. Unknown plans resolve to free so that a
// configuration mismatch never blocks a tenant.
func (t *Table) Resolve(plan string) Quota {
	if q, ok := t.plans[normalize(plan)]; ok {
		return q
	}
	return t.plans[PlanFree]
}

// Has reports whether plan is defined.
func (t *Table) Has(plan string) bool {
	_, ok := t.plans[normalize(plan)]
	return ok
}

func (t *Table) Names() []string {
	names := make([]string, 0, len(t.plans))
	for name := range t.plans {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalize(plan string) string {
	return strings.ToLower(strings.TrimSpace(plan))
}
