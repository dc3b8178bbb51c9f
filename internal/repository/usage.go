package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aman-churiwal/tenant-admission/internal/models"
	"github.com/aman-churiwal/tenant-admission/internal/storage"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UsageRepository struct {
	db *storage.Database
}

func NewUsageRepository(db *storage.Database) *UsageRepository {
	return &UsageRepository{db: db}
}

// Increment runs in one transaction scoped to the (tenant, month) row:
// create-if-absent, then a single conditional UPDATE. The UPDATE's WHERE
// clause carries the limit check, so a rejected increment never touches the
// row and concurrent callers cannot both pass the check.
func (r *UsageRepository) Increment(ctx context.Context, tenantID uuid.UUID, month string, usageType models.UsageType, amount, limit int64, endpoint string) (int64, bool, error) {
	col := usageType.Column()
	if col == "" {
		return 0, false, fmt.Errorf("unknown usage type: %s", usageType)
	}

	var (
		used    int64
		applied bool
	)

	err := r.db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := models.MonthlyUsage{TenantID: tenantID, Month: month}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "month"}},
			DoNothing: true,
		}).Create(&row).Error
		if err != nil {
			return err
		}

		q := tx.Model(&models.MonthlyUsage{}).
			Where("tenant_id = ? AND month = ?", tenantID, month)
		if limit > 0 {
			q = q.Where(col+" + ? <= ?", amount, limit)
		}
		res := q.Updates(map[string]interface{}{
			col:          gorm.Expr(col+" + ?", amount),
			"updated_at": time.Now().UTC(),
		})
		if res.Error != nil {
			return res.Error
		}
		applied = res.RowsAffected > 0

		var current models.MonthlyUsage
		if err := tx.Where("tenant_id = ? AND month = ?", tenantID, month).First(&current).Error; err != nil {
			return err
		}
		used = current.Count(usageType)

		if applied && endpoint != "" {
			return r.addToBreakdown(tx, &current, endpoint, usageType, amount)
		}
		return nil
	})
	if err != nil {
		return 0, false, err
	}

	return used, applied, nil
}

// The conditional UPDATE above holds the row lock for the rest of the
// transaction, so this read-modify-write cannot interleave.
func (r *UsageRepository) addToBreakdown(tx *gorm.DB, row *models.MonthlyUsage, endpoint string, usageType models.UsageType, amount int64) error {
	breakdown := map[string]map[string]int64{}
	if len(row.EndpointBreakdown) > 0 {
		if err := json.Unmarshal(row.EndpointBreakdown, &breakdown); err != nil {
			breakdown = map[string]map[string]int64{}
		}
	}

	counts, ok := breakdown[endpoint]
	if !ok {
		counts = map[string]int64{}
		breakdown[endpoint] = counts
	}
	counts[string(usageType)] += amount

	data, err := json.Marshal(breakdown)
	if err != nil {
		return err
	}

	return tx.Model(&models.MonthlyUsage{}).
		Where("id = ?", row.ID).
		Update("endpoint_breakdown", datatypes.JSON(data)).Error
}

func (r *UsageRepository) Get(ctx context.Context, tenantID uuid.UUID, month string) (*models.MonthlyUsage, error) {
	var usage models.MonthlyUsage
	err := r.db.DB.WithContext(ctx).
		Where("tenant_id = ? AND month = ?", tenantID, month).
		First(&usage).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &usage, nil
}

func (r *UsageRepository) Months(ctx context.Context, tenantID uuid.UUID, months []string) ([]models.MonthlyUsage, error) {
	if len(months) == 0 {
		return nil, nil
	}

	var rows []models.MonthlyUsage
	err := r.db.DB.WithContext(ctx).
		Where("tenant_id = ? AND month IN ?", tenantID, months).
		Order("month DESC").
		Find(&rows).Error

	return rows, err
}
