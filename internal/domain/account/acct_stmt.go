package account

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/textress/backend/internal/domain/shared"
)

// AcctStmt is the monthly statement for a tenant. It is a derived view of the
// ledger and can always be recomputed from it.
type AcctStmt struct {
	shared.BaseEntity
	TenantID     uuid.UUID
	Year         int
	Month        time.Month
	MonthlyCosts decimal.Decimal
	TotalSMS     int64
	Balance      decimal.Decimal
}

// NewAcctStmt creates an empty statement for a tenant and period.
func NewAcctStmt(tenantID uuid.UUID, year int, month time.Month, monthlyCosts decimal.Decimal) (*AcctStmt, error) {
	if tenantID == uuid.Nil {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "Tenant ID cannot be empty")
	}
	if month < time.January || month > time.December || year < 2000 {
		return nil, ErrInvalidPeriod
	}
	return &AcctStmt{
		BaseEntity:   shared.NewBaseEntity(),
		TenantID:     tenantID,
		Year:         year,
		Month:        month,
		MonthlyCosts: monthlyCosts,
	}, nil
}

// Fill sets the ledger-derived totals.
func (s *AcctStmt) Fill(totalSMS int64, balance decimal.Decimal) {
	s.TotalSMS = totalSMS
	s.Balance = balance
	s.Touch()
}

// Period returns the first day of the statement month.
func (s *AcctStmt) Period() time.Time {
	return time.Date(s.Year, s.Month, 1, 0, 0, 0, 0, time.UTC)
}
