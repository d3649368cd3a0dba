package persistence

import (
	"context"

	"github.com/textress/backend/internal/domain/account"
	"github.com/textress/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormTransTypeRepository implements account.TransTypeRepository using GORM
type GormTransTypeRepository struct {
	db *gorm.DB
}

// NewGormTransTypeRepository creates a new GormTransTypeRepository
func NewGormTransTypeRepository(db *gorm.DB) *GormTransTypeRepository {
	return &GormTransTypeRepository{db: db}
}

// FindByName finds a transaction type by name
func (r *GormTransTypeRepository) FindByName(ctx context.Context, name account.TransTypeName) (*account.TransType, error) {
	var row models.TransTypeModel
	if err := r.db.WithContext(ctx).Where("name = ?", name.String()).First(&row).Error; err != nil {
		return nil, translate(err)
	}
	return row.ToDomain(), nil
}

// Create stores a new transaction type. A concurrent insert of the same
// name surfaces as shared.ErrAlreadyExists.
func (r *GormTransTypeRepository) Create(ctx context.Context, tt *account.TransType) error {
	return translate(r.db.WithContext(ctx).Create(models.TransTypeModelFromDomain(tt)).Error)
}

// List returns every registered type ordered by name
func (r *GormTransTypeRepository) List(ctx context.Context) ([]*account.TransType, error) {
	var rows []models.TransTypeModel
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*account.TransType, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

var _ account.TransTypeRepository = (*GormTransTypeRepository)(nil)
