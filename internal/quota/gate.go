package quota

import (
	"context"

	"github.com/aman-churiwal/tenant-admission/internal/models"
	"github.com/aman-churiwal/tenant-admission/internal/plans"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// QuotaResolver yields a tenant's effective limits.
type QuotaResolver interface {
	ResolveForTenant(ctx context.Context, tenantID uuid.UUID, plan string) (plans.Quota, error)
}

// Gate guards metered operations: it resolves the tenant's limit and checks
// and counts the usage in one step, before the expensive work starts.
type Gate struct {
	resolver QuotaResolver
	tracker  *Tracker
}

func NewGate(resolver QuotaResolver, tracker *Tracker) *Gate {
	return &Gate{
		resolver: resolver,
		tracker:  tracker,
	}
}

// Enforce returns a *QuotaExceededError when the operation must be rejected.
func (g *Gate) Enforce(ctx context.Context, tenantID uuid.UUID, plan string, usageType models.UsageType, amount int, endpoint string) (Result, error) {
	q, err := g.resolver.ResolveForTenant(ctx, tenantID, plan)
	if err != nil {
		// Plan defaults are still returned; overrides are best effort.
		log.WithField("tenant_id", tenantID).WithError(err).Warn("quota override lookup failed, using plan defaults")
	}

	return g.tracker.CheckQuotaForEndpoint(ctx, tenantID, usageType, q.Limit(usageType), amount, endpoint)
}
