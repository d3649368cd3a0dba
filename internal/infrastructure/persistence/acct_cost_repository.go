package persistence

import (
	"context"

	"github.com/google/uuid"
	"github.com/textress/backend/internal/domain/account"
	"github.com/textress/backend/internal/domain/shared"
	"github.com/textress/backend/internal/infrastructure/persistence/models"
	"github.com/textress/backend/internal/infrastructure/persistence/tenant"
	"gorm.io/gorm"
)

// GormAcctCostRepository implements account.AcctCostRepository using GORM
type GormAcctCostRepository struct {
	db *gorm.DB
}

// NewGormAcctCostRepository creates a new GormAcctCostRepository
func NewGormAcctCostRepository(db *gorm.DB) *GormAcctCostRepository {
	return &GormAcctCostRepository{db: db}
}

// FindByTenant returns the tenant's policy
func (r *GormAcctCostRepository) FindByTenant(ctx context.Context, tenantID uuid.UUID) (*account.AcctCost, error) {
	var row models.AcctCostModel
	if err := r.db.WithContext(ctx).Scopes(tenant.Scope(tenantID)).First(&row).Error; err != nil {
		return nil, translate(err)
	}
	return row.ToDomain(), nil
}

// Create inserts a policy. The unique tenant_id index turns a second insert
// into shared.ErrAlreadyExists.
func (r *GormAcctCostRepository) Create(ctx context.Context, cost *account.AcctCost) error {
	return translate(r.db.WithContext(ctx).Create(models.AcctCostModelFromDomain(cost)).Error)
}

// Update saves every policy field
func (r *GormAcctCostRepository) Update(ctx context.Context, cost *account.AcctCost) error {
	result := r.db.WithContext(ctx).
		Model(&models.AcctCostModel{}).
		Where("id = ?", cost.ID).
		Select("init_amt", "balance_min", "recharge_amt", "auto_recharge", "per_unit_cost", "updated_at").
		Updates(models.AcctCostModelFromDomain(cost))
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

var _ account.AcctCostRepository = (*GormAcctCostRepository)(nil)
