package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MonthlyUsage is the durable ledger row for one tenant and calendar month.
type MonthlyUsage struct {
	ID       uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	TenantID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_monthly_usage_tenant_month" json:"tenant_id"`
	Month    string    `gorm:"size:7;not null;uniqueIndex:idx_monthly_usage_tenant_month" json:"month"` // YYYY-MM

	APICalls           int64 `gorm:"column:api_calls;not null;default:0" json:"api_calls"`
	PagesCrawled       int64 `gorm:"column:pages_crawled;not null;default:0" json:"pages_crawled"`
	KeywordsResearched int64 `gorm:"column:keywords_researched;not null;default:0" json:"keywords_researched"`
	AuditsRun          int64 `gorm:"column:audits_run;not null;default:0" json:"audits_run"`
	ContentGenerated   int64 `gorm:"column:content_generated;not null;default:0" json:"content_generated"`
	JSRenders          int64 `gorm:"column:js_renders;not null;default:0" json:"js_renders"`

	// {endpoint: {usage_type: count}}
	EndpointBreakdown datatypes.JSON `json:"endpoint_breakdown,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (m *MonthlyUsage) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

func (MonthlyUsage) TableName() string {
	return "monthly_usage"
}

// Count returns the counter for t.
func (m *MonthlyUsage) Count(t UsageType) int64 {
	if m == nil {
		return 0
	}
	switch t {
	case UsageAPICall:
		return m.APICalls
	case UsageCrawlPage:
		return m.PagesCrawled
	case UsageKeywordLookup:
		return m.KeywordsResearched
	case UsageAuditRun:
		return m.AuditsRun
	case UsageContentGeneration:
		return m.ContentGenerated
	case UsageJSRender:
		return m.JSRenders
	default:
		return 0
	}
}
