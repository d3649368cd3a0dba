package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/textress/backend/internal/domain/account"
	"github.com/textress/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// DefaultMonthlyFee is the flat monthly cost shown on statements.
var DefaultMonthlyFee = decimal.RequireFromString("2.00")

// StatementService folds the ledger into monthly statements. Statements are a
// read cache: once created they only change through Recompute.
type StatementService struct {
	ledger     *LedgerService
	transRepo  account.AcctTransRepository
	stmtRepo   account.AcctStmtRepository
	monthlyFee decimal.Decimal
	logger     *zap.Logger
}

// NewStatementService creates a new StatementService
func NewStatementService(
	ledger *LedgerService,
	transRepo account.AcctTransRepository,
	stmtRepo account.AcctStmtRepository,
	monthlyFee decimal.Decimal,
	logger *zap.Logger,
) *StatementService {
	if monthlyFee.IsZero() {
		monthlyFee = DefaultMonthlyFee
	}
	return &StatementService{
		ledger:     ledger,
		transRepo:  transRepo,
		stmtRepo:   stmtRepo,
		monthlyFee: monthlyFee,
		logger:     logger,
	}
}

// GetOrCreate returns the tenant's statement for the period, computing it from
// the ledger the first time. created reports whether it was just built.
func (s *StatementService) GetOrCreate(ctx context.Context, tenantID uuid.UUID, month time.Month, year int) (*account.AcctStmt, bool, error) {
	stmt, err := s.stmtRepo.FindByPeriod(ctx, tenantID, year, month)
	if err == nil {
		return stmt, false, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, false, err
	}

	stmt, err = account.NewAcctStmt(tenantID, year, month, s.monthlyFee)
	if err != nil {
		return nil, false, err
	}
	if err := s.fill(ctx, stmt); err != nil {
		return nil, false, err
	}

	err = s.stmtRepo.Create(ctx, stmt)
	if errors.Is(err, shared.ErrAlreadyExists) {
		existing, err := s.stmtRepo.FindByPeriod(ctx, tenantID, year, month)
		return existing, false, err
	}
	if err != nil {
		return nil, false, fmt.Errorf("create statement %d-%02d for tenant %s: %w", year, month, tenantID, err)
	}

	s.logger.Info("Statement created",
		zap.String("tenant_id", tenantID.String()),
		zap.Int("year", year),
		zap.Int("month", int(month)),
		zap.Int64("total_sms", stmt.TotalSMS),
		zap.String("balance", stmt.Balance.String()))
	return stmt, true, nil
}

// Recompute rebuilds the period's totals from the ledger.
func (s *StatementService) Recompute(ctx context.Context, tenantID uuid.UUID, month time.Month, year int) (*account.AcctStmt, error) {
	stmt, created, err := s.GetOrCreate(ctx, tenantID, month, year)
	if err != nil || created {
		return stmt, err
	}
	if err := s.fill(ctx, stmt); err != nil {
		return nil, err
	}
	if err := s.stmtRepo.Update(ctx, stmt); err != nil {
		return nil, fmt.Errorf("update statement %d-%02d for tenant %s: %w", year, month, tenantID, err)
	}
	return stmt, nil
}

// List returns a tenant's statements, newest first.
func (s *StatementService) List(ctx context.Context, tenantID uuid.UUID) ([]*account.AcctStmt, error) {
	return s.stmtRepo.ListByTenant(ctx, tenantID)
}

// fill sets total_sms for the month and the balance at the end of it.
func (s *StatementService) fill(ctx context.Context, stmt *account.AcctStmt) error {
	from, to := account.MonthBounds(stmt.Year, stmt.Month)

	smsUsed, err := s.ledger.types.SmsUsed(ctx)
	if err != nil {
		return err
	}
	total, err := s.transRepo.SumUnits(ctx, stmt.TenantID, smsUsed.ID, from, to)
	if err != nil {
		return err
	}

	balance, err := s.transRepo.SumAmountBefore(ctx, stmt.TenantID, to)
	if err != nil {
		return err
	}

	stmt.Fill(total, balance)
	return nil
}
