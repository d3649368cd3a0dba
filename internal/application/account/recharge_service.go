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
	"github.com/textress/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// Outcome is the terminal state of a balance check.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeRecharged Outcome = "recharged"
	OutcomeSuspended Outcome = "suspended"
)

// CheckResult reports what CheckBalance did.
type CheckResult struct {
	TenantID   uuid.UUID
	Outcome    Outcome
	Balance    decimal.Decimal
	BalanceMin decimal.Decimal
	Usage      *account.AcctTrans
	Recharge   *account.AcctTrans
	Reason     string
}

// RechargeConfig contains configuration for RechargeService
type RechargeConfig struct {
	// NotifyTimeout bounds the suspension email. Default 10s.
	NotifyTimeout time.Duration
}

// RechargeService keeps tenants above their minimum balance. A breach is met
// with one capture of the policy's fixed recharge amount; when that is not
// possible the tenant is suspended and told about it.
type RechargeService struct {
	ledger     *LedgerService
	usage      *UsageService
	costRepo   account.AcctCostRepository
	tenantRepo account.TenantRepository
	gateway    PaymentGateway
	notifier   Notifier
	recorder   BillingRecorder
	logger     *zap.Logger

	notifyTimeout time.Duration
}

// NewRechargeService creates a new RechargeService
func NewRechargeService(
	ledger *LedgerService,
	usage *UsageService,
	costRepo account.AcctCostRepository,
	tenantRepo account.TenantRepository,
	gateway PaymentGateway,
	notifier Notifier,
	recorder BillingRecorder,
	logger *zap.Logger,
	cfg RechargeConfig,
) *RechargeService {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 10 * time.Second
	}
	return &RechargeService{
		ledger:        ledger,
		usage:         usage,
		costRepo:      costRepo,
		tenantRepo:    tenantRepo,
		gateway:       gateway,
		notifier:      notifier,
		recorder:      recorder,
		logger:        logger,
		notifyTimeout: cfg.NotifyTimeout,
	}
}

// CheckBalance refreshes today's usage and then settles the tenant's balance
// against its policy. A tenant that cannot be recharged is returned with
// OutcomeSuspended together with an *account.AutoRechargeError.
func (s *RechargeService) CheckBalance(ctx context.Context, tenantID uuid.UUID) (result *CheckResult, err error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "recharge", "check_balance",
		telemetry.SpanAttrTenantID, tenantID.String())
	defer func() {
		if result != nil {
			telemetry.SetAttributes(span,
				telemetry.SpanAttrOutcome, string(result.Outcome),
				telemetry.SpanAttrBalance, result.Balance.String())
		}
		telemetry.RecordError(span, err)
		span.End()
	}()

	unlock, err := s.ledger.lockTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	tenant, policy, err := s.load(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	usage, err := s.usage.upsertUsage(ctx, tenantID, s.ledger.Today())
	if err != nil {
		return nil, err
	}

	// the latest snapshot already carries today's usage
	balance, err := s.ledger.GetBalance(ctx, tenantID, false)
	if err != nil {
		return nil, err
	}

	result = &CheckResult{
		TenantID:   tenantID,
		Outcome:    OutcomeOK,
		Balance:    balance,
		BalanceMin: policy.BalanceMin,
		Usage:      usage,
	}
	s.recorder.RecordBalance(ctx, tenantID, balance)

	entry, recharged, err := s.recharge(ctx, tenant, policy, balance)
	if err != nil {
		if are, ok := account.IsAutoRechargeUnavailable(err); ok {
			result.Outcome = OutcomeSuspended
			result.Reason = are.Reason
			return result, err
		}
		return nil, err
	}
	if recharged {
		result.Outcome = OutcomeRecharged
		result.Recharge = entry
		result.Balance = entry.Balance.Decimal
		telemetry.AddEvent(span, "recharged", telemetry.SpanAttrAmount, entry.Amount.String())
	}
	return result, nil
}

// Recharge tops up the tenant if its balance is below the minimum. balance is
// what the caller last saw; the ledger balance read under the tenant lock
// decides. It returns (nil, false, nil) when no recharge was needed.
func (s *RechargeService) Recharge(ctx context.Context, tenantID uuid.UUID, balance decimal.Decimal) (*account.AcctTrans, bool, error) {
	unlock, err := s.ledger.lockTenant(ctx, tenantID)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	tenant, policy, err := s.load(ctx, tenantID)
	if err != nil {
		return nil, false, err
	}
	current, err := s.ledger.GetBalance(ctx, tenantID, false)
	if err != nil {
		return nil, false, err
	}
	if !current.Equal(balance) {
		s.logger.Debug("Recharge called with a stale balance",
			zap.String("tenant_id", tenantID.String()),
			zap.String("seen", balance.String()),
			zap.String("ledger", current.String()))
	}
	return s.recharge(ctx, tenant, policy, current)
}

// load reads the tenant and its policy. Callers hold the tenant lock so the
// active flag cannot go stale before recharge checks it.
func (s *RechargeService) load(ctx context.Context, tenantID uuid.UUID) (*account.Tenant, *account.AcctCost, error) {
	tenant, err := s.tenantRepo.FindByID(ctx, tenantID)
	if err != nil {
		return nil, nil, fmt.Errorf("load tenant %s: %w", tenantID, err)
	}
	policy, err := s.policy(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}
	return tenant, policy, nil
}

// recharge runs the breach state machine. The tenant lock must be held.
func (s *RechargeService) recharge(ctx context.Context, tenant *account.Tenant, policy *account.AcctCost, balance decimal.Decimal) (*account.AcctTrans, bool, error) {
	if !policy.BelowMinimum(balance) {
		return nil, false, nil
	}
	log := s.logger.With(
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("balance", balance.String()),
		zap.String("balance_min", policy.BalanceMin.String()))

	if !tenant.Active {
		log.Debug("Tenant already suspended, skipping recharge")
		return nil, false, &account.AutoRechargeError{TenantID: tenant.ID, Reason: account.ReasonTenantSuspended}
	}
	if !policy.AutoRecharge {
		return nil, false, s.suspend(ctx, tenant, account.ReasonAutoRechargeDisabled, nil)
	}

	rechargeType, err := s.ledger.types.RechargeAmt(ctx)
	if err != nil {
		return nil, false, err
	}
	key, err := s.idempotencyKey(ctx, tenant)
	if err != nil {
		return nil, false, err
	}

	receipt, err := s.gateway.Charge(ctx, ChargeRequest{
		TenantID:       tenant.ID,
		CustomerID:     tenant.PaymentCustomerID,
		Amount:         policy.RechargeAmt,
		Description:    fmt.Sprintf("Textress SMS credit recharge for %s", tenant.Name),
		IdempotencyKey: key,
	})
	if err != nil {
		log.Warn("Recharge capture failed", zap.Error(err))
		return nil, false, s.suspend(ctx, tenant, account.ReasonCaptureFailed, err)
	}

	entry, err := s.ledger.post(ctx, tenant.ID, rechargeType, policy.RechargeAmt, s.ledger.Today())
	if err != nil {
		// funds are captured; the charge id is needed to repair the ledger by hand
		log.Error("Recharge captured but ledger write failed",
			zap.String("charge_id", receipt.ChargeID),
			zap.Error(err))
		return nil, false, err
	}

	s.recorder.RecordRecharge(ctx, tenant.ID, policy.RechargeAmt)
	after := entry.Balance.Decimal
	if policy.BelowMinimum(after) {
		log.Warn("Recharge left balance below minimum", zap.String("balance_after", after.String()))
	}
	log.Info("Tenant recharged",
		zap.String("charge_id", receipt.ChargeID),
		zap.String("amount", policy.RechargeAmt.String()),
		zap.String("balance_after", after.String()))
	return entry, true, nil
}

// idempotencyKey ties a capture to the ledger position it tops up and to the
// tenant revision it was attempted under. A retry of the same attempt reuses
// the key; reactivation bumps the revision and so starts a fresh attempt.
func (s *RechargeService) idempotencyKey(ctx context.Context, tenant *account.Tenant) (string, error) {
	latest, err := s.ledger.latest(ctx, s.ledger.transRepo, tenant.ID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("recharge-%s-%d-%d", tenant.ID, nextSequence(latest), tenant.Revision()), nil
}

// suspend flips the tenant inactive, sends the notice, and returns the
// caller-visible failure. Notification errors are logged only.
func (s *RechargeService) suspend(ctx context.Context, tenant *account.Tenant, reason string, cause error) error {
	failure := &account.AutoRechargeError{TenantID: tenant.ID, Reason: reason, Cause: cause}

	if err := s.tenantRepo.SetActive(ctx, tenant.ID, false); err != nil {
		return errors.Join(failure, fmt.Errorf("deactivate tenant %s: %w", tenant.ID, err))
	}
	tenant.Active = false
	s.recorder.RecordSuspension(ctx, tenant.ID, reason)
	s.logger.Warn("Tenant suspended",
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("reason", reason),
		zap.Error(cause))

	if s.notifier != nil {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
		defer cancel()
		if err := s.notifier.NotifySuspended(nctx, tenant, reason); err != nil {
			s.logger.Error("Failed to send suspension notice",
				zap.String("tenant_id", tenant.ID.String()),
				zap.Error(err))
		}
	}
	return failure
}

// policy returns the tenant's stored policy or the defaults.
func (s *RechargeService) policy(ctx context.Context, tenantID uuid.UUID) (*account.AcctCost, error) {
	policy, err := s.costRepo.FindByTenant(ctx, tenantID)
	if errors.Is(err, shared.ErrNotFound) {
		return account.NewAcctCost(tenantID, account.AcctCostInput{})
	}
	if err != nil {
		return nil, fmt.Errorf("load policy for tenant %s: %w", tenantID, err)
	}
	return policy, nil
}
