package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aman-churiwal/tenant-admission/internal/models"
	"github.com/aman-churiwal/tenant-admission/internal/plans"
	"github.com/aman-churiwal/tenant-admission/internal/repository"
	"github.com/aman-churiwal/tenant-admission/internal/storage"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const apiKeyCacheTTL = 5 * time.Minute

type APIKeyService struct {
	repository *repository.APIKeyRepository
	cache      storage.CounterStore
	plans      *plans.Table
}

// cache may be nil.
func NewAPIKeyService(repo *repository.APIKeyRepository, cache storage.CounterStore, table *plans.Table) *APIKeyService {
	return &APIKeyService{
		repository: repo,
		cache:      cache,
		plans:      table,
	}
}

func hashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

func cacheKey(keyHash string) string {
	return "apikey:cache:" + keyHash
}

// Create issues a key bound to tenantID and plan. The plain key is returned
// once and only its hash is stored.
func (s *APIKeyService) Create(ctx context.Context, name, createdBy string, tenantID uuid.UUID, plan string) (string, *models.APIKey, error) {
	if !s.plans.Has(plan) {
		return "", nil, &plans.ValidationError{Field: "plan", Message: fmt.Sprintf("unknown plan %q", plan)}
	}

	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", nil, fmt.Errorf("failed to generate random key: %w", err)
	}
	key := "tk_" + base64.RawURLEncoding.EncodeToString(keyBytes)

	apiKey := &models.APIKey{
		KeyHash:   hashKey(key),
		Name:      name,
		TenantID:  tenantID,
		Plan:      plan,
		CreatedBy: createdBy,
		IsActive:  true,
	}
	if err := s.repository.Create(ctx, apiKey); err != nil {
		return "", nil, fmt.Errorf("failed to create API key: %w", err)
	}

	return key, apiKey, nil
}

// Validate returns the active key matching key, or nil.
func (s *APIKeyService) Validate(ctx context.Context, key string) (*models.APIKey, error) {
	keyHash := hashKey(key)

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey(keyHash)); err == nil && cached != "" {
			var apiKey models.APIKey
			if err := json.Unmarshal([]byte(cached), &apiKey); err == nil {
				return &apiKey, nil
			}
		}
	}

	apiKey, err := s.repository.FindByHash(ctx, keyHash)
	if err != nil {
		return nil, err
	}
	if apiKey == nil {
		return nil, nil
	}

	if s.cache != nil {
		if data, err := json.Marshal(apiKey); err == nil {
			if err := s.cache.Set(ctx, cacheKey(keyHash), data, apiKeyCacheTTL); err != nil {
				log.WithError(err).Debug("api key cache write failed")
			}
		}
	}

	return apiKey, nil
}

func (s *APIKeyService) Get(ctx context.Context, id uuid.UUID) (*models.APIKey, error) {
	return s.repository.FindByID(ctx, id)
}

// List returns keys for tenantID, or all keys when it is uuid.Nil.
func (s *APIKeyService) List(ctx context.Context, tenantID uuid.UUID) ([]models.APIKey, error) {
	return s.repository.List(ctx, tenantID)
}

// TenantPlan returns the plan of the tenant's newest active key, or an empty
// string when the tenant has none.
func (s *APIKeyService) TenantPlan(ctx context.Context, tenantID uuid.UUID) (string, error) {
	keys, err := s.repository.List(ctx, tenantID)
	if err != nil {
		return "", err
	}
	for _, k := range keys {
		if k.IsActive {
			return k.Plan, nil
		}
	}
	return "", nil
}

// Revoke deactivates a key and drops it from the cache. It reports false
// when no active key had that id.
func (s *APIKeyService) Revoke(ctx context.Context, id uuid.UUID) (bool, error) {
	apiKey, err := s.repository.FindByID(ctx, id)
	if err != nil {
		return false, err
	}
	if apiKey == nil {
		return false, nil
	}

	revoked, err := s.repository.Revoke(ctx, id)
	if err != nil {
		return false, err
	}

	if s.cache != nil {
		if err := s.cache.Del(ctx, cacheKey(apiKey.KeyHash)); err != nil {
			log.WithError(err).WithField("api_key_id", id).Warn("api key cache invalidation failed")
		}
	}

	return revoked, nil
}

// UpdateLastUsed stamps the key in the background.
func (s *APIKeyService) UpdateLastUsed(id uuid.UUID) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := s.repository.UpdateLastUsed(ctx, id); err != nil {
			log.WithError(err).WithField("api_key_id", id).Debug("failed to update api key last_used_at")
		}
	}()
}
