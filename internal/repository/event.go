package repository

import (
	"context"
	"time"

	"github.com/aman-churiwal/tenant-admission/internal/models"
	"github.com/aman-churiwal/tenant-admission/internal/storage"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type EventRepository struct {
	db *storage.Database
}

func NewEventRepository(db *storage.Database) *EventRepository {
	return &EventRepository{db: db}
}

// Appends a denial event
func (r *EventRepository) Create(ctx context.Context, event *models.RateLimitEvent) error {
	return r.db.DB.WithContext(ctx).Create(event).Error
}

type EventFilter struct {
	TenantID  uuid.UUID
	LimitType string // empty for all
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

// Lists events for a tenant, newest first, with the total matching count
func (r *EventRepository) List(ctx context.Context, f EventFilter) ([]models.RateLimitEvent, int64, error) {
	q := r.db.DB.WithContext(ctx).
		Model(&models.RateLimitEvent{}).
		Where("tenant_id = ? AND created_at BETWEEN ? AND ?", f.TenantID, f.From, f.To)
	if f.LimitType != "" {
		q = q.Where("limit_type = ?", f.LimitType)
	}
	// Reusable for both the count and the page query.
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var events []models.RateLimitEvent
	err := q.Order("created_at DESC").
		Order("id DESC").
		Limit(f.Limit).
		Offset(f.Offset).
		Find(&events).Error

	return events, total, err
}

// Counts a tenant's events in a time range grouped by limit type
func (r *EventRepository) CountByLimitType(ctx context.Context, tenantID uuid.UUID, from, to time.Time) (map[string]int64, error) {
	rows, err := r.db.DB.WithContext(ctx).
		Model(&models.RateLimitEvent{}).
		Select("limit_type, COUNT(*) as count").
		Where("tenant_id = ? AND created_at BETWEEN ? AND ?", tenantID, from, to).
		Group("limit_type").
		Rows()

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int64{
		models.LimitTypeRate:  0,
		models.LimitTypeQuota: 0,
	}
	for rows.Next() {
		var limitType string
		var count int64
		if err := rows.Scan(&limitType, &count); err != nil {
			return nil, err
		}
		counts[limitType] = count
	}

	return counts, rows.Err()
}
