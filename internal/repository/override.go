package repository

import (
	"context"
	"errors"

	"github.com/aman-churiwal/tenant-admission/internal/models"
	"github.com/aman-churiwal/tenant-admission/internal/storage"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OverrideRepository struct {
	db *storage.Database
}

func NewOverrideRepository(db *storage.Database) *OverrideRepository {
	return &OverrideRepository{db: db}
}

// Returns nil, nil when the tenant has no override
func (r *OverrideRepository) Get(ctx context.Context, tenantID uuid.UUID) (*models.TenantQuotaOverride, error) {
	var o models.TenantQuotaOverride
	err := r.db.DB.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		First(&o).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &o, nil
}

// Creates the override row if missing and sets only the given columns. A nil
// value writes NULL.
func (r *OverrideRepository) Upsert(ctx context.Context, tenantID uuid.UUID, fields map[string]*int) (*models.TenantQuotaOverride, error) {
	var o models.TenantQuotaOverride

	err := r.db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := models.TenantQuotaOverride{TenantID: tenantID}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}},
			DoNothing: true,
		}).Create(&row).Error
		if err != nil {
			return err
		}

		updates := make(map[string]interface{}, len(fields))
		for col, v := range fields {
			if v == nil {
				updates[col] = nil
			} else {
				updates[col] = *v
			}
		}

		if len(updates) > 0 {
			err := tx.Model(&models.TenantQuotaOverride{}).
				Where("tenant_id = ?", tenantID).
				Updates(updates).Error
			if err != nil {
				return err
			}
		}

		return tx.Where("tenant_id = ?", tenantID).First(&o).Error
	})
	if err != nil {
		return nil, err
	}

	return &o, nil
}

func (r *OverrideRepository) Delete(ctx context.Context, tenantID uuid.UUID) error {
	return r.db.DB.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Delete(&models.TenantQuotaOverride{}).Error
}
