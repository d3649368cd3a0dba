package account

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/textress/backend/internal/domain/account"
	"go.uber.org/zap"
)

// OpenResult describes an account opening.
type OpenResult struct {
	Cost      *account.AcctCost
	InitEntry *account.AcctTrans
	// Opened is false when the tenant already had its initial credit.
	Opened bool
}

// AccountService opens, closes and reactivates billing accounts.
type AccountService struct {
	ledger     *LedgerService
	costs      *AcctCostService
	tenantRepo account.TenantRepository
	gateway    PaymentGateway
	logger     *zap.Logger
}

// NewAccountService creates a new AccountService
func NewAccountService(
	ledger *LedgerService,
	costs *AcctCostService,
	tenantRepo account.TenantRepository,
	gateway PaymentGateway,
	logger *zap.Logger,
) *AccountService {
	return &AccountService{
		ledger:     ledger,
		costs:      costs,
		tenantRepo: tenantRepo,
		gateway:    gateway,
		logger:     logger,
	}
}

// OpenAccount stores the tenant's policy, captures the initial credit and
// posts it. Opening an account that already has its credit only updates the policy.
func (s *AccountService) OpenAccount(ctx context.Context, tenantID uuid.UUID, in account.AcctCostInput) (*OpenResult, error) {
	tenant, err := s.tenantRepo.FindByID(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load tenant %s: %w", tenantID, err)
	}
	cost, _, err := s.costs.Upsert(ctx, tenantID, in)
	if err != nil {
		return nil, err
	}

	initType, err := s.ledger.types.InitAmt(ctx)
	if err != nil {
		return nil, err
	}

	unlock, err := s.ledger.lockTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	existing, err := s.ledger.transRepo.Find(ctx, tenantID, account.AcctTransFilter{
		TransTypeIDs: []uuid.UUID{initType.ID},
	})
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return &OpenResult{Cost: cost, InitEntry: existing[0]}, nil
	}

	receipt, err := s.gateway.Charge(ctx, ChargeRequest{
		TenantID:       tenantID,
		CustomerID:     tenant.PaymentCustomerID,
		Amount:         cost.InitAmt,
		Description:    fmt.Sprintf("Textress initial SMS credit for %s", tenant.Name),
		IdempotencyKey: "init-" + tenantID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("capture initial credit for tenant %s: %w", tenantID, err)
	}

	entry, err := s.ledger.post(ctx, tenantID, initType, cost.InitAmt, s.ledger.Today())
	if err != nil {
		s.logger.Error("Initial credit captured but ledger write failed",
			zap.String("tenant_id", tenantID.String()),
			zap.String("charge_id", receipt.ChargeID),
			zap.Error(err))
		return nil, err
	}

	if !tenant.Active {
		if err := s.tenantRepo.SetActive(ctx, tenantID, true); err != nil {
			return nil, err
		}
	}
	s.logger.Info("Account opened",
		zap.String("tenant_id", tenantID.String()),
		zap.String("init_amt", cost.InitAmt.String()))
	return &OpenResult{Cost: cost, InitEntry: entry, Opened: true}, nil
}

// CloseAccount deactivates the tenant and turns off auto recharge.
func (s *AccountService) CloseAccount(ctx context.Context, tenantID uuid.UUID) error {
	if _, err := s.tenantRepo.FindByID(ctx, tenantID); err != nil {
		return err
	}
	off := false
	if _, _, err := s.costs.Upsert(ctx, tenantID, account.AcctCostInput{AutoRecharge: &off}); err != nil {
		return err
	}
	if err := s.tenantRepo.SetActive(ctx, tenantID, false); err != nil {
		return fmt.Errorf("deactivate tenant %s: %w", tenantID, err)
	}
	s.logger.Info("Account closed", zap.String("tenant_id", tenantID.String()))
	return nil
}

// Reactivate marks a suspended tenant active again, e.g. after a manual payment.
func (s *AccountService) Reactivate(ctx context.Context, tenantID uuid.UUID) error {
	if _, err := s.tenantRepo.FindByID(ctx, tenantID); err != nil {
		return err
	}
	if err := s.tenantRepo.SetActive(ctx, tenantID, true); err != nil {
		return fmt.Errorf("activate tenant %s: %w", tenantID, err)
	}
	s.logger.Info("Account reactivated", zap.String("tenant_id", tenantID.String()))
	return nil
}
