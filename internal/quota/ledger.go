package quota

import (
	"context"

	"github.com/aman-churiwal/tenant-admission/internal/models"
	"github.com/google/uuid"
)

// Ledger is the durable monthly usage store.
type Ledger interface {
	// Increment adds amount to the (tenant, month) counter for usageType,
	// creating the row when absent. With limit > 0 the increment is applied
	// only if used+amount <= limit, atomically with respect to concurrent
	// callers. It returns the counter value after the call and whether the
	// increment was applied. endpoint, when set, is added to the row's
	// per-endpoint breakdown.
	Increment(ctx context.Context, tenantID uuid.UUID, month string, usageType models.UsageType, amount, limit int64, endpoint string) (int64, bool, error)

	// Get returns the row for (tenant, month), or nil when none exists.
	Get(ctx context.Context, tenantID uuid.UUID, month string) (*models.MonthlyUsage, error)

	// Months returns the rows for the given months that exist.
	Months(ctx context.Context, tenantID uuid.UUID, months []string) ([]models.MonthlyUsage, error)
}

// EventSink appends denial audit entries.
type EventSink interface {
	Create(ctx context.Context, event *models.RateLimitEvent) error
}
