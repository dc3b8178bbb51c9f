package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TenantQuotaOverride replaces plan defaults for a single tenant. A nil field
// means "use the plan default"; zero means unlimited.
type TenantQuotaOverride struct {
	ID       uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	TenantID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"tenant_id"`

	RateLimitPerMinute        *int `gorm:"column:rate_limit_per_minute" json:"rate_limit_per_minute"`
	MonthlyAPICalls           *int `gorm:"column:monthly_api_calls" json:"monthly_api_calls"`
	MonthlyCrawlPages         *int `gorm:"column:monthly_crawl_pages" json:"monthly_crawl_pages"`
	MonthlyKeywordLookups     *int `gorm:"column:monthly_keyword_lookups" json:"monthly_keyword_lookups"`
	MonthlyAudits             *int `gorm:"column:monthly_audits" json:"monthly_audits"`
	MonthlyContentGenerations *int `gorm:"column:monthly_content_generations" json:"monthly_content_generations"`
	MonthlyJSRenders          *int `gorm:"column:monthly_js_renders" json:"monthly_js_renders"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (o *TenantQuotaOverride) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

func (TenantQuotaOverride) TableName() string {
	return "tenant_quota_overrides"
}

// OverrideColumns are the patchable override fields.
var OverrideColumns = []string{
	"rate_limit_per_minute",
	"monthly_api_calls",
	"monthly_crawl_pages",
	"monthly_keyword_lookups",
	"monthly_audits",
	"monthly_content_generations",
	"monthly_js_renders",
}

// QuotaColumn returns the override column for a usage type's monthly limit.
func QuotaColumn(t UsageType) string {
	switch t {
	case UsageAPICall:
		return "monthly_api_calls"
	case UsageCrawlPage:
		return "monthly_crawl_pages"
	case UsageKeywordLookup:
		return "monthly_keyword_lookups"
	case UsageAuditRun:
		return "monthly_audits"
	case UsageContentGeneration:
		return "monthly_content_generations"
	case UsageJSRender:
		return "monthly_js_renders"
	default:
		return ""
	}
}
