package repository

import (
	"context"
	"errors"
	"time"

	"github.com/aman-churiwal/tenant-admission/internal/models"
	"github.com/aman-churiwal/tenant-admission/internal/storage"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type APIKeyRepository struct {
	db *storage.Database
}

func NewAPIKeyRepository(db *storage.Database) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

func (r *APIKeyRepository) Create(ctx context.Context, apiKey *models.APIKey) error {
	return r.db.DB.WithContext(ctx).Create(apiKey).Error
}

func (r *APIKeyRepository) FindByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	var apiKey models.APIKey
	err := r.db.DB.WithContext(ctx).
		Where("key_hash = ? AND is_active = ?", hash, true).
		First(&apiKey).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &apiKey, nil
}

func (r *APIKeyRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.APIKey, error) {
	var apiKey models.APIKey
	err := r.db.DB.WithContext(ctx).
		Where("id = ?", id).
		First(&apiKey).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &apiKey, nil
}

// Lists keys, newest first. A nil tenantID lists every tenant's keys.
func (r *APIKeyRepository) List(ctx context.Context, tenantID uuid.UUID) ([]models.APIKey, error) {
	q := r.db.DB.WithContext(ctx).Order("created_at DESC")
	if tenantID != uuid.Nil {
		q = q.Where("tenant_id = ?", tenantID)
	}

	var keys []models.APIKey
	err := q.Find(&keys).Error
	return keys, err
}

func (r *APIKeyRepository) UpdateLastUsed(ctx context.Context, id uuid.UUID) error {
	return r.db.DB.WithContext(ctx).
		Model(&models.APIKey{}).
		Where("id = ?", id).
		Update("last_used_at", time.Now().UTC()).Error
}

// Deactivates a key. Rows are kept so past usage can still be attributed.
func (r *APIKeyRepository) Revoke(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.DB.WithContext(ctx).
		Model(&models.APIKey{}).
		Where("id = ? AND is_active = ?", id, true).
		Update("is_active", false)

	return res.RowsAffected > 0, res.Error
}
