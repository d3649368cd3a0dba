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

// UsageService prices each day's message count into a single sms_used entry.
type UsageService struct {
	ledger    *LedgerService
	pricing   *PricingService
	source    UsageEventSource
	transRepo account.AcctTransRepository
	costRepo  account.AcctCostRepository
	recorder  BillingRecorder
	logger    *zap.Logger
}

// NewUsageService creates a new UsageService
func NewUsageService(
	ledger *LedgerService,
	pricing *PricingService,
	source UsageEventSource,
	transRepo account.AcctTransRepository,
	costRepo account.AcctCostRepository,
	recorder BillingRecorder,
	logger *zap.Logger,
) *UsageService {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &UsageService{
		ledger:    ledger,
		pricing:   pricing,
		source:    source,
		transRepo: transRepo,
		costRepo:  costRepo,
		recorder:  recorder,
		logger:    logger,
	}
}

// SmsUsedCount counts the tenant's metered messages on date.
func (s *UsageService) SmsUsedCount(ctx context.Context, tenantID uuid.UUID, date time.Time) (int64, error) {
	return s.source.CountEvents(ctx, tenantID, account.DateOf(date, nil))
}

// SmsUsedMTD returns units recorded from the start of date's month through date.
func (s *UsageService) SmsUsedMTD(ctx context.Context, tenantID uuid.UUID, date time.Time) (int64, error) {
	day := account.DateOf(date, nil)
	return s.sumUnits(ctx, tenantID, account.MonthStart(day), day.AddDate(0, 0, 1))
}

// SmsUsedMTDPrior returns units recorded in date's month strictly before date.
// Nothing carries over from earlier months.
func (s *UsageService) SmsUsedMTDPrior(ctx context.Context, tenantID uuid.UUID, date time.Time) (int64, error) {
	day := account.DateOf(date, nil)
	return s.sumUnits(ctx, tenantID, account.MonthStart(day), day)
}

func (s *UsageService) sumUnits(ctx context.Context, tenantID uuid.UUID, from, to time.Time) (int64, error) {
	if !from.Before(to) {
		return 0, nil
	}
	smsUsed, err := s.ledger.types.SmsUsed(ctx)
	if err != nil {
		return 0, err
	}
	return s.transRepo.SumUnits(ctx, tenantID, smsUsed.ID, from, to)
}

// CreateOrUpdateUsage makes the tenant's sms_used entry for date match the
// current event count. Repeating it with an unchanged count writes nothing.
func (s *UsageService) CreateOrUpdateUsage(ctx context.Context, tenantID uuid.UUID, date time.Time) (*account.AcctTrans, error) {
	day := account.DateOf(date, nil)
	if day.After(s.ledger.Today()) {
		return nil, fmt.Errorf("%w: %s", account.ErrFutureUsageDate, day.Format(time.DateOnly))
	}

	unlock, err := s.ledger.lockTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return s.upsertUsage(ctx, tenantID, day)
}

// CloseDay records usage for a completed day. Today and later are rejected.
func (s *UsageService) CloseDay(ctx context.Context, tenantID uuid.UUID, date time.Time) (*account.AcctTrans, error) {
	day := account.DateOf(date, nil)
	if !day.Before(s.ledger.Today()) {
		return nil, fmt.Errorf("%w: %s", account.ErrUsageDayOpen, day.Format(time.DateOnly))
	}
	return s.CreateOrUpdateUsage(ctx, tenantID, day)
}

// upsertUsage does the work of CreateOrUpdateUsage. The tenant lock must be held.
func (s *UsageService) upsertUsage(ctx context.Context, tenantID uuid.UUID, day time.Time) (*account.AcctTrans, error) {
	smsUsed, err := s.ledger.types.SmsUsed(ctx)
	if err != nil {
		return nil, err
	}
	count, err := s.SmsUsedCount(ctx, tenantID, day)
	if err != nil {
		return nil, fmt.Errorf("count usage for tenant %s: %w", tenantID, err)
	}
	cost, err := s.price(ctx, tenantID, day, count)
	if err != nil {
		return nil, err
	}

	var (
		entry   *account.AcctTrans
		written bool
	)
	err = s.ledger.scope.Execute(ctx, tenantID, func(repos TransactionalRepositories) error {
		repo := repos.TransRepo()
		existing, err := repo.FindByTypeAndDate(ctx, tenantID, smsUsed.ID, day)
		if errors.Is(err, shared.ErrNotFound) {
			created, err := account.NewAcctTrans(tenantID, smsUsed, cost, count, day)
			if err != nil {
				return err
			}
			if err := s.ledger.appendEntry(ctx, repo, created); err != nil {
				return err
			}
			entry, written = created, true
			return nil
		}
		if err != nil {
			return err
		}

		oldAmount := existing.Amount
		changed, err := existing.ChangeUsage(count, cost)
		if err != nil {
			return err
		}
		entry = existing
		if !changed {
			return nil
		}
		written = true
		return s.ledger.replaceEntry(ctx, repo, existing, oldAmount)
	})
	if err != nil {
		return nil, fmt.Errorf("record usage for tenant %s on %s: %w", tenantID, day.Format(time.DateOnly), err)
	}

	if written {
		s.recorder.RecordUsagePosted(ctx, tenantID, count)
		s.logger.Info("Usage recorded",
			zap.String("tenant_id", tenantID.String()),
			zap.Time("insert_date", day),
			zap.Int64("units_used", count),
			zap.String("amount", entry.Amount.String()),
			zap.String("balance", entry.Balance.Decimal.String()))
	}
	return entry, nil
}

// price returns the cost of count messages on day. A per-unit override on the
// tenant's policy replaces the tier table.
func (s *UsageService) price(ctx context.Context, tenantID uuid.UUID, day time.Time, count int64) (decimal.Decimal, error) {
	policy, err := s.costRepo.FindByTenant(ctx, tenantID)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return decimal.Zero, err
	}
	if policy != nil && policy.PerUnitCost != nil {
		return policy.PerUnitCost.Mul(decimal.NewFromInt(count)), nil
	}

	prior, err := s.SmsUsedMTDPrior(ctx, tenantID, day)
	if err != nil {
		return decimal.Zero, err
	}
	return s.pricing.GetCost(ctx, tenantID, count, prior)
}
