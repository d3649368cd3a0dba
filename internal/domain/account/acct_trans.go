package account

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/textress/backend/internal/domain/shared"
)

// AcctTrans is one signed ledger entry. Balance is the tenant's running total
// immediately after this entry was posted.
type AcctTrans struct {
	shared.BaseEntity
	TenantID    uuid.UUID
	TransTypeID uuid.UUID
	TransType   TransTypeName
	Amount      decimal.Decimal
	UnitsUsed   int64
	InsertDate  time.Time
	Balance     decimal.NullDecimal
	// Sequence orders a tenant's entries by modification; it is reassigned when
	// the open usage entry is updated.
	Sequence int64
}

// NewAcctTrans creates an entry, signing amount by the entry kind.
func NewAcctTrans(tenantID uuid.UUID, tt *TransType, amount decimal.Decimal, unitsUsed int64, insertDate time.Time) (*AcctTrans, error) {
	if tenantID == uuid.Nil {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "Tenant ID cannot be empty")
	}
	if tt == nil || !tt.Name.IsValid() {
		return nil, ErrTransTypeMissing
	}
	if unitsUsed < 0 {
		return nil, ErrNegativeUnits
	}
	if tt.Name != TransTypeSmsUsed {
		unitsUsed = 0
	}
	return &AcctTrans{
		BaseEntity:  shared.NewBaseEntity(),
		TenantID:    tenantID,
		TransTypeID: tt.ID,
		TransType:   tt.Name,
		Amount:      tt.Name.Signed(amount),
		UnitsUsed:   unitsUsed,
		InsertDate:  DateOf(insertDate, time.UTC),
	}, nil
}

// IsUsage reports whether this is a daily usage entry.
func (t *AcctTrans) IsUsage() bool {
	return t.TransType == TransTypeSmsUsed
}

// IsPayment reports whether this entry is money paid into the account.
func (t *AcctTrans) IsPayment() bool {
	return t.TransType == TransTypeInitAmt || t.TransType == TransTypeRechargeAmt
}

// ChangeUsage replaces the units and cost of an open usage entry.
// Returns false when nothing changed.
func (t *AcctTrans) ChangeUsage(unitsUsed int64, cost decimal.Decimal) (bool, error) {
	if !t.IsUsage() {
		return false, shared.ErrInvalidState
	}
	if unitsUsed < 0 {
		return false, ErrNegativeUnits
	}
	amount := TransTypeSmsUsed.Signed(cost)
	if t.UnitsUsed == unitsUsed && t.Amount.Equal(amount) {
		return false, nil
	}
	t.UnitsUsed = unitsUsed
	t.Amount = amount
	t.Touch()
	return true, nil
}

// ApplySnapshot sets the running balance from the balance before this entry.
func (t *AcctTrans) ApplySnapshot(prior decimal.Decimal) {
	t.Balance = decimal.NewNullDecimal(prior.Add(t.Amount))
}

// ResolveLastTransBalance returns the snapshot of an entry, or zero when the
// entry or its snapshot is missing.
func ResolveLastTransBalance(t *AcctTrans) decimal.Decimal {
	if t == nil || !t.Balance.Valid {
		return decimal.Zero
	}
	return t.Balance.Decimal
}
