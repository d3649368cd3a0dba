package persistence

import (
	"context"

	"github.com/google/uuid"
	appaccount "github.com/textress/backend/internal/application/account"
	"github.com/textress/backend/internal/domain/account"
	"github.com/textress/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormLedgerScope implements LedgerScope using GORM transactions. Each
// Execute locks the tenant row first, so ledger writers in other processes
// queue behind it.
type GormLedgerScope struct {
	db *gorm.DB
}

// NewGormLedgerScope creates a new GormLedgerScope.
func NewGormLedgerScope(db *gorm.DB) *GormLedgerScope {
	return &GormLedgerScope{db: db}
}

// Execute runs fn within a transaction holding the tenant's row lock.
// The transaction is rolled back if fn returns an error.
func (s *GormLedgerScope) Execute(ctx context.Context, tenantID uuid.UUID, fn func(repos appaccount.TransactionalRepositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tenant models.TenantModel
		err := tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
			Select("id").
			Where("id = ?", tenantID).
			Take(&tenant).Error
		if err != nil {
			return translate(err)
		}
		return fn(&gormTransactionalRepositories{tx: tx})
	})
}

// gormTransactionalRepositories provides access to all repositories within a transaction.
type gormTransactionalRepositories struct {
	tx *gorm.DB
}

// TransRepo returns the ledger entry repository scoped to the current transaction.
func (r *gormTransactionalRepositories) TransRepo() account.AcctTransRepository {
	return NewGormAcctTransRepository(r.tx)
}

// CostRepo returns the policy repository scoped to the current transaction.
func (r *gormTransactionalRepositories) CostRepo() account.AcctCostRepository {
	return NewGormAcctCostRepository(r.tx)
}

// StmtRepo returns the statement repository scoped to the current transaction.
func (r *gormTransactionalRepositories) StmtRepo() account.AcctStmtRepository {
	return NewGormAcctStmtRepository(r.tx)
}

// TenantRepo returns the tenant repository scoped to the current transaction.
func (r *gormTransactionalRepositories) TenantRepo() account.TenantRepository {
	return NewGormTenantRepository(r.tx)
}

var (
	_ appaccount.LedgerScope               = (*GormLedgerScope)(nil)
	_ appaccount.TransactionalRepositories = (*gormTransactionalRepositories)(nil)
)
