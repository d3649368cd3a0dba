package persistence

import (
	"context"

	"github.com/google/uuid"
	"github.com/textress/backend/internal/domain/account"
	"github.com/textress/backend/internal/infrastructure/persistence/models"
	"github.com/textress/backend/internal/infrastructure/persistence/tenant"
	"gorm.io/gorm"
)

// GormPricingRepository implements account.PricingRepository using GORM
type GormPricingRepository struct {
	db *gorm.DB
}

// NewGormPricingRepository creates a new GormPricingRepository
func NewGormPricingRepository(db *gorm.DB) *GormPricingRepository {
	return &GormPricingRepository{db: db}
}

// FindTable returns a tenant's override tiers, or the global tiers when
// tenantID is nil, ordered by tier.
func (r *GormPricingRepository) FindTable(ctx context.Context, tenantID *uuid.UUID) ([]account.PricingTier, error) {
	query := r.db.WithContext(ctx).Model(&models.PricingTierModel{}).
		Scopes(tenant.GlobalOr(tenantID))

	var rows []models.PricingTierModel
	if err := query.Order("tier ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	tiers := make([]account.PricingTier, len(rows))
	for i := range rows {
		tiers[i] = rows[i].ToDomain()
	}
	return tiers, nil
}

// FindByID finds a tier by its ID
func (r *GormPricingRepository) FindByID(ctx context.Context, id uuid.UUID) (*account.PricingTier, error) {
	var row models.PricingTierModel
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	tier := row.ToDomain()
	return &tier, nil
}

// SaveAll stores the tiers in one transaction
func (r *GormPricingRepository) SaveAll(ctx context.Context, tiers []account.PricingTier) error {
	if len(tiers) == 0 {
		return nil
	}
	rows := make([]*models.PricingTierModel, len(tiers))
	for i := range tiers {
		rows[i] = models.PricingTierModelFromDomain(tiers[i])
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return translate(tx.Save(rows).Error)
	})
}

var _ account.PricingRepository = (*GormPricingRepository)(nil)
