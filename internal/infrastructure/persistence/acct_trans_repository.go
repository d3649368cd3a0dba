package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/textress/backend/internal/domain/account"
	"github.com/textress/backend/internal/domain/shared"
	"github.com/textress/backend/internal/infrastructure/persistence/models"
	"github.com/textress/backend/internal/infrastructure/persistence/tenant"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormAcctTransRepository implements account.AcctTransRepository using GORM
type GormAcctTransRepository struct {
	db *gorm.DB
}

// NewGormAcctTransRepository creates a new GormAcctTransRepository
func NewGormAcctTransRepository(db *gorm.DB) *GormAcctTransRepository {
	return &GormAcctTransRepository{db: db}
}

func (r *GormAcctTransRepository) entries(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.AcctTransModel{}).Preload("TransType")
}

// Create inserts an entry. A duplicate (tenant, sequence) pair means another
// writer raced past the tenant lock and is reported as a concurrency conflict.
func (r *GormAcctTransRepository) Create(ctx context.Context, entry *account.AcctTrans) error {
	err := r.db.WithContext(ctx).Omit(clause.Associations).Create(models.AcctTransModelFromDomain(entry)).Error
	return r.conflict(err)
}

// Update rewrites an entry's amount, units, snapshot and sequence
func (r *GormAcctTransRepository) Update(ctx context.Context, entry *account.AcctTrans) error {
	result := r.db.WithContext(ctx).
		Model(&models.AcctTransModel{}).
		Scopes(tenant.Scope(entry.TenantID)).
		Where("id = ?", entry.ID).
		Updates(map[string]any{
			"amount":     entry.Amount,
			"units_used": entry.UnitsUsed,
			"balance":    entry.Balance,
			"sequence":   entry.Sequence,
			"updated_at": entry.UpdatedAt,
		})
	if result.Error != nil {
		return r.conflict(result.Error)
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *GormAcctTransRepository) conflict(err error) error {
	err = translate(err)
	if errors.Is(err, shared.ErrAlreadyExists) {
		return shared.ErrConcurrencyConflict
	}
	return err
}

// Latest returns the tenant's most recently written entry
func (r *GormAcctTransRepository) Latest(ctx context.Context, tenantID uuid.UUID) (*account.AcctTrans, error) {
	var row models.AcctTransModel
	err := r.entries(ctx).
		Scopes(tenant.Scope(tenantID)).
		Order("sequence DESC").
		First(&row).Error
	if err != nil {
		return nil, translate(err)
	}
	return row.ToDomain(), nil
}

// FindByTypeAndDate finds the tenant's entry of one type on one day
func (r *GormAcctTransRepository) FindByTypeAndDate(ctx context.Context, tenantID, transTypeID uuid.UUID, date time.Time) (*account.AcctTrans, error) {
	day := account.DateOf(date, nil)
	var row models.AcctTransModel
	err := r.entries(ctx).
		Scopes(tenant.Scope(tenantID)).
		Where("trans_type_id = ?", transTypeID).
		Where("insert_date >= ? AND insert_date < ?", day, day.AddDate(0, 0, 1)).
		Order("sequence DESC").
		First(&row).Error
	if err != nil {
		return nil, translate(err)
	}
	return row.ToDomain(), nil
}

// Find lists a tenant's entries matching filter
func (r *GormAcctTransRepository) Find(ctx context.Context, tenantID uuid.UUID, filter account.AcctTransFilter) ([]*account.AcctTrans, error) {
	query := r.entries(ctx).Scopes(tenant.Scope(tenantID))
	if len(filter.TransTypeIDs) > 0 {
		query = query.Where("trans_type_id IN ?", filter.TransTypeIDs)
	}
	if filter.DateFrom != nil {
		query = query.Where("insert_date >= ?", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		query = query.Where("insert_date < ?", *filter.DateTo)
	}
	if filter.Descending {
		query = query.Order("insert_date DESC").Order("sequence DESC")
	} else {
		query = query.Order("insert_date ASC").Order("sequence ASC")
	}

	var rows []models.AcctTransModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*account.AcctTrans, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

// SumAmount totals entry amounts for a tenant, or for every tenant when tenantID is nil
func (r *GormAcctTransRepository) SumAmount(ctx context.Context, tenantID *uuid.UUID) (decimal.Decimal, error) {
	query := r.db.WithContext(ctx).Model(&models.AcctTransModel{}).
		Scopes(tenant.Optional(tenantID))
	var sum decimal.NullDecimal
	if err := query.Select("SUM(amount)").Row().Scan(&sum); err != nil {
		return decimal.Zero, err
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return models.Money(sum.Decimal), nil
}

// SumAmountBefore totals a tenant's entry amounts dated before the cutoff
func (r *GormAcctTransRepository) SumAmountBefore(ctx context.Context, tenantID uuid.UUID, before time.Time) (decimal.Decimal, error) {
	var sum decimal.NullDecimal
	err := r.db.WithContext(ctx).
		Model(&models.AcctTransModel{}).
		Scopes(tenant.Scope(tenantID)).
		Where("insert_date < ?", before).
		Select("SUM(amount)").
		Row().Scan(&sum)
	if err != nil {
		return decimal.Zero, err
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return models.Money(sum.Decimal), nil
}

// SumUnits totals units of one type dated in [from, to)
func (r *GormAcctTransRepository) SumUnits(ctx context.Context, tenantID, transTypeID uuid.UUID, from, to time.Time) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).
		Model(&models.AcctTransModel{}).
		Scopes(tenant.Scope(tenantID)).
		Where("trans_type_id = ?", transTypeID).
		Where("insert_date >= ? AND insert_date < ?", from, to).
		Select("COALESCE(SUM(units_used), 0)").
		Row().Scan(&sum)
	if err != nil {
		return 0, err
	}
	return sum, nil
}

var _ account.AcctTransRepository = (*GormAcctTransRepository)(nil)
