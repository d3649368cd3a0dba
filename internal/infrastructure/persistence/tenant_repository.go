package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/textress/backend/internal/domain/account"
	"github.com/textress/backend/internal/domain/shared"
	"github.com/textress/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormTenantRepository implements account.TenantRepository using GORM
type GormTenantRepository struct {
	db *gorm.DB
}

// NewGormTenantRepository creates a new GormTenantRepository
func NewGormTenantRepository(db *gorm.DB) *GormTenantRepository {
	return &GormTenantRepository{db: db}
}

// FindByID finds a tenant by its ID
func (r *GormTenantRepository) FindByID(ctx context.Context, id uuid.UUID) (*account.Tenant, error) {
	var model models.TenantModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return model.ToDomain(), nil
}

// FindActive returns every active tenant
func (r *GormTenantRepository) FindActive(ctx context.Context) ([]*account.Tenant, error) {
	return r.find(r.db.WithContext(ctx).Where("active = ?", true))
}

// FindAll returns every tenant
func (r *GormTenantRepository) FindAll(ctx context.Context) ([]*account.Tenant, error) {
	return r.find(r.db.WithContext(ctx))
}

func (r *GormTenantRepository) find(query *gorm.DB) ([]*account.Tenant, error) {
	var rows []models.TenantModel
	if err := query.Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*account.Tenant, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

// Save inserts or updates a tenant
func (r *GormTenantRepository) Save(ctx context.Context, tenant *account.Tenant) error {
	model := models.TenantModelFromDomain(tenant)
	return translate(r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "email", "active", "payment_customer_id", "updated_at"}),
	}).Create(model).Error)
}

// SetActive flips the tenant's active flag
func (r *GormTenantRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	result := r.db.WithContext(ctx).
		Model(&models.TenantModel{}).
		Where("id = ?", id).
		Updates(map[string]any{"active": active, "updated_at": time.Now()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

var _ account.TenantRepository = (*GormTenantRepository)(nil)
