package account

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PricingRepository persists pricing tiers.
type PricingRepository interface {
	// FindTable returns a tenant's override tiers, or the global tiers when tenantID is nil.
	FindTable(ctx context.Context, tenantID *uuid.UUID) ([]PricingTier, error)
	FindByID(ctx context.Context, id uuid.UUID) (*PricingTier, error)
	SaveAll(ctx context.Context, tiers []PricingTier) error
}

// TransTypeRepository persists ledger entry kinds.
type TransTypeRepository interface {
	FindByName(ctx context.Context, name TransTypeName) (*TransType, error)
	// Create returns shared.ErrAlreadyExists if the name was taken concurrently.
	Create(ctx context.Context, tt *TransType) error
	List(ctx context.Context) ([]*TransType, error)
}

// AcctCostRepository persists per-tenant policies. TenantID is unique.
type AcctCostRepository interface {
	FindByTenant(ctx context.Context, tenantID uuid.UUID) (*AcctCost, error)
	// Create returns shared.ErrAlreadyExists when the tenant already has a record.
	Create(ctx context.Context, cost *AcctCost) error
	Update(ctx context.Context, cost *AcctCost) error
}

// AcctTransFilter narrows ledger queries.
type AcctTransFilter struct {
	TransTypeIDs []uuid.UUID
	DateFrom     *time.Time // inclusive
	DateTo       *time.Time // exclusive
	Descending   bool
}

// AcctTransRepository persists ledger entries.
type AcctTransRepository interface {
	Create(ctx context.Context, t *AcctTrans) error
	Update(ctx context.Context, t *AcctTrans) error
	// Latest returns the most recently modified entry, or shared.ErrNotFound.
	Latest(ctx context.Context, tenantID uuid.UUID) (*AcctTrans, error)
	// FindByTypeAndDate returns the entry of a kind on a date, or shared.ErrNotFound.
	FindByTypeAndDate(ctx context.Context, tenantID, transTypeID uuid.UUID, date time.Time) (*AcctTrans, error)
	Find(ctx context.Context, tenantID uuid.UUID, filter AcctTransFilter) ([]*AcctTrans, error)
	// SumAmount totals amounts for a tenant, or across all tenants when tenantID is nil.
	SumAmount(ctx context.Context, tenantID *uuid.UUID) (decimal.Decimal, error)
	// SumAmountBefore totals a tenant's amounts with insert_date < before.
	SumAmountBefore(ctx context.Context, tenantID uuid.UUID, before time.Time) (decimal.Decimal, error)
	// SumUnits totals units of a kind with insert_date in [from, to).
	SumUnits(ctx context.Context, tenantID, transTypeID uuid.UUID, from, to time.Time) (int64, error)
}

// AcctStmtRepository persists monthly statements. (tenant, year, month) is unique.
type AcctStmtRepository interface {
	FindByPeriod(ctx context.Context, tenantID uuid.UUID, year int, month time.Month) (*AcctStmt, error)
	// Create returns shared.ErrAlreadyExists when the period already has a statement.
	Create(ctx context.Context, stmt *AcctStmt) error
	Update(ctx context.Context, stmt *AcctStmt) error
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*AcctStmt, error)
}

// TenantRepository reads tenants and flips their activation flag.
type TenantRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Tenant, error)
	FindActive(ctx context.Context) ([]*Tenant, error)
	FindAll(ctx context.Context) ([]*Tenant, error)
	Save(ctx context.Context, tenant *Tenant) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}
