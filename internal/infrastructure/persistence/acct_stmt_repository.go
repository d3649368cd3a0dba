package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/textress/backend/internal/domain/account"
	"github.com/textress/backend/internal/domain/shared"
	"github.com/textress/backend/internal/infrastructure/persistence/models"
	"github.com/textress/backend/internal/infrastructure/persistence/tenant"
	"gorm.io/gorm"
)

// GormAcctStmtRepository implements account.AcctStmtRepository using GORM
type GormAcctStmtRepository struct {
	db *gorm.DB
}

// NewGormAcctStmtRepository creates a new GormAcctStmtRepository
func NewGormAcctStmtRepository(db *gorm.DB) *GormAcctStmtRepository {
	return &GormAcctStmtRepository{db: db}
}

// FindByPeriod finds the tenant's statement for a month
func (r *GormAcctStmtRepository) FindByPeriod(ctx context.Context, tenantID uuid.UUID, year int, month time.Month) (*account.AcctStmt, error) {
	var row models.AcctStmtModel
	err := r.db.WithContext(ctx).
		Scopes(tenant.Scope(tenantID)).
		Where("year = ? AND month = ?", year, int(month)).
		First(&row).Error
	if err != nil {
		return nil, translate(err)
	}
	return row.ToDomain(), nil
}

// Create inserts a statement; a second one for the period is shared.ErrAlreadyExists
func (r *GormAcctStmtRepository) Create(ctx context.Context, stmt *account.AcctStmt) error {
	return translate(r.db.WithContext(ctx).Create(models.AcctStmtModelFromDomain(stmt)).Error)
}

// Update rewrites a statement's totals
func (r *GormAcctStmtRepository) Update(ctx context.Context, stmt *account.AcctStmt) error {
	result := r.db.WithContext(ctx).
		Model(&models.AcctStmtModel{}).
		Where("id = ?", stmt.ID).
		Updates(map[string]any{
			"monthly_costs": stmt.MonthlyCosts,
			"total_sms":     stmt.TotalSMS,
			"balance":       stmt.Balance,
			"updated_at":    stmt.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ListByTenant returns a tenant's statements, newest period first
func (r *GormAcctStmtRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*account.AcctStmt, error) {
	var rows []models.AcctStmtModel
	err := r.db.WithContext(ctx).
		Scopes(tenant.Scope(tenantID)).
		Order("year DESC").Order("month DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*account.AcctStmt, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

var _ account.AcctStmtRepository = (*GormAcctStmtRepository)(nil)
