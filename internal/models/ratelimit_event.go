package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	LimitTypeRate  = "rate"
	LimitTypeQuota = "quota"
)

// RateLimitEvent is an append-only audit entry written on every denial.
type RateLimitEvent struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	TenantID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"tenant_id"`
	LimitType    string         `gorm:"size:16;not null;index" json:"limit_type"`
	UsageType    string         `gorm:"size:32" json:"usage_type,omitempty"`
	Endpoint     string         `json:"endpoint,omitempty"`
	LimitValue   int64          `gorm:"not null" json:"limit_value"`
	CurrentValue int64          `gorm:"not null" json:"current_value"`
	Metadata     datatypes.JSON `json:"metadata,omitempty"`
	CreatedAt    time.Time      `gorm:"index" json:"created_at"`
}

func (RateLimitEvent) TableName() string {
	return "rate_limit_events"
}
