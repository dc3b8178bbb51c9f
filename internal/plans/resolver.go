package plans

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aman-churiwal/tenant-admission/internal/models"
	"github.com/aman-churiwal/tenant-admission/internal/storage"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	overrideCacheTTL    = 5 * time.Minute
	overrideCachePrefix = "quota:override:"
	noOverride          = "none"
)

// OverrideStore persists tenant overrides. Get returns nil, nil when the
// tenant has none.
type OverrideStore interface {
	Get(ctx context.Context, tenantID uuid.UUID) (*models.TenantQuotaOverride, error)
	Upsert(ctx context.Context, tenantID uuid.UUID, fields map[string]*int) (*models.TenantQuotaOverride, error)
	Delete(ctx context.Context, tenantID uuid.UUID) error
}

// Cache is the subset of the counter store used to cache overrides.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

type Resolver struct {
	table     *Table
	overrides OverrideStore
	cache     Cache
}

// cache may be nil.
func NewResolver(table *Table, overrides OverrideStore, cache Cache) *Resolver {
	return &Resolver{
		table:     table,
		overrides: overrides,
		cache:     cache,
	}
}

func (r *Resolver) Table() *Table {
	return r.table
}

// Resolve is a pure plan lookup with the free fallback.
func (r *Resolver) Resolve(plan string) Quota {
	return r.table.Resolve(plan)
}

// ResolveForTenant merges the tenant's override over its plan. On a store
// error the plan defaults are returned together with the error.
func (r *Resolver) ResolveForTenant(ctx context.Context, tenantID uuid.UUID, plan string) (Quota, error) {
	base := r.table.Resolve(plan)

	o, err := r.Override(ctx, tenantID)
	if err != nil {
		return base, err
	}
	return Merge(base, o), nil
}

// Override returns the tenant's override row, or nil.
func (r *Resolver) Override(ctx context.Context, tenantID uuid.UUID) (*models.TenantQuotaOverride, error) {
	key := overrideCachePrefix + tenantID.String()

	if r.cache != nil {
		if o, ok := r.fromCache(ctx, key); ok {
			return o, nil
		}
	}

	o, err := r.overrides.Get(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load quota override: %w", err)
	}

	if r.cache != nil {
		r.toCache(ctx, key, o)
	}
	return o, nil
}

func (r *Resolver) fromCache(ctx context.Context, key string) (*models.TenantQuotaOverride, bool) {
	raw, err := r.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrCacheMiss) {
			log.WithError(err).WithField("key", key).Debug("override cache read failed")
		}
		return nil, false
	}
	if raw == noOverride {
		return nil, true
	}

	var o models.TenantQuotaOverride
	if err := json.Unmarshal([]byte(raw), &o); err != nil {
		return nil, false
	}
	return &o, true
}

func (r *Resolver) toCache(ctx context.Context, key string, o *models.TenantQuotaOverride) {
	value := noOverride
	if o != nil {
		data, err := json.Marshal(o)
		if err != nil {
			return
		}
		value = string(data)
	}
	if err := r.cache.Set(ctx, key, value, overrideCacheTTL); err != nil {
		log.WithError(err).WithField("key", key).Debug("override cache write failed")
	}
}

func (r *Resolver) invalidate(ctx context.Context, tenantID uuid.UUID) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Del(ctx, overrideCachePrefix+tenantID.String()); err != nil {
		log.WithError(err).WithField("tenant_id", tenantID).Warn("override cache invalidation failed")
	}
}

// UpdateOverride applies a partial patch. Keys absent from patch are left
// alone; a key present with a nil value clears that field back to the plan
// default. The row is created when the tenant has none.
func (r *Resolver) UpdateOverride(ctx context.Context, tenantID uuid.UUID, patch map[string]*int) (*models.TenantQuotaOverride, error) {
	if err := ValidatePatch(patch); err != nil {
		return nil, err
	}

	o, err := r.overrides.Upsert(ctx, tenantID, patch)
	if err != nil {
		return nil, fmt.Errorf("update quota override: %w", err)
	}

	r.invalidate(ctx, tenantID)
	return o, nil
}

// ResetOverride removes the tenant's override entirely.
func (r *Resolver) ResetOverride(ctx context.Context, tenantID uuid.UUID) error {
	if err := r.overrides.Delete(ctx, tenantID); err != nil {
		return fmt.Errorf("reset quota override: %w", err)
	}

	r.invalidate(ctx, tenantID)
	return nil
}
