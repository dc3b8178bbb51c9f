package models

import "fmt"

// UsageType is one metered resource category with its own monthly counter.
type UsageType string

const (
	UsageAPICall           UsageType = "api_call"
	UsageCrawlPage         UsageType = "crawl_page"
	UsageKeywordLookup     UsageType = "keyword_lookup"
	UsageAuditRun          UsageType = "audit_run"
	UsageContentGeneration UsageType = "content_generation"
	UsageJSRender          UsageType = "js_render"
)

// AllUsageTypes lists every usage type in reporting order.
var AllUsageTypes = []UsageType{
	UsageAPICall,
	UsageCrawlPage,
	UsageKeywordLookup,
	UsageAuditRun,
	UsageContentGeneration,
	UsageJSRender,
}

// Column names in monthly_usage, one per usage type.
var usageColumns = map[UsageType]string{
	UsageAPICall:           "api_calls",
	UsageCrawlPage:         "pages_crawled",
	UsageKeywordLookup:     "keywords_researched",
	UsageAuditRun:          "audits_run",
	UsageContentGeneration: "content_generated",
	UsageJSRender:          "js_renders",
}

func (t UsageType) Valid() bool {
	_, ok := usageColumns[t]
	return ok
}

// Column returns the monthly_usage column holding this usage type's counter.
func (t UsageType) Column() string {
	return usageColumns[t]
}

func ParseUsageType(s string) (UsageType, error) {
	t := UsageType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown usage type: %s", s)
	}
	return t, nil
}
