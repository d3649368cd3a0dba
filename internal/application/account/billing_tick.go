package account

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/textress/backend/internal/domain/account"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Job names used in reports and metrics.
const (
	JobDailyTick       = "daily_tick"
	JobStatements      = "monthly_statements"
	JobPhoneNumberFees = "phone_number_fees"
)

// TenantFailure is one tenant's error during a billing job.
type TenantFailure struct {
	TenantID uuid.UUID
	Err      error
}

// TickReport summarises a billing job over many tenants.
type TickReport struct {
	Job       string
	Tenants   int
	Recharged int
	Suspended int
	Created   int
	Failures  []TenantFailure
	Duration  time.Duration
}

// BillingTickConfig contains configuration for BillingTickService
type BillingTickConfig struct {
	// MaxConcurrentTenants bounds per-job parallelism. Default 8.
	MaxConcurrentTenants int
}

// BillingTickService runs billing jobs across all tenants. Tenants are
// processed in parallel and a failure for one never stops the others.
type BillingTickService struct {
	tenantRepo account.TenantRepository
	ledger     *LedgerService
	usage      *UsageService
	recharge   *RechargeService
	statements *StatementService
	notifier   Notifier
	recorder   BillingRecorder
	logger     *zap.Logger
	limit      int
}

// NewBillingTickService creates a new BillingTickService
func NewBillingTickService(
	tenantRepo account.TenantRepository,
	ledger *LedgerService,
	usage *UsageService,
	recharge *RechargeService,
	statements *StatementService,
	notifier Notifier,
	recorder BillingRecorder,
	logger *zap.Logger,
	cfg BillingTickConfig,
) *BillingTickService {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	if cfg.MaxConcurrentTenants <= 0 {
		cfg.MaxConcurrentTenants = 8
	}
	return &BillingTickService{
		tenantRepo: tenantRepo,
		ledger:     ledger,
		usage:      usage,
		recharge:   recharge,
		statements: statements,
		notifier:   notifier,
		recorder:   recorder,
		logger:     logger,
		limit:      cfg.MaxConcurrentTenants,
	}
}

// RunDaily closes usage for day, when day is already over, and checks every
// active tenant's balance.
func (s *BillingTickService) RunDaily(ctx context.Context, day time.Time) (*TickReport, error) {
	tenants, err := s.tenantRepo.FindActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active tenants: %w", err)
	}
	day = account.DateOf(day, nil)
	closeDay := day.Before(s.ledger.Today())

	return s.forEach(ctx, JobDailyTick, tenants, func(ctx context.Context, t *account.Tenant, r *TickReport, mu *sync.Mutex) error {
		if closeDay {
			if _, err := s.usage.CloseDay(ctx, t.ID, day); err != nil {
				return err
			}
		}
		res, err := s.recharge.CheckBalance(ctx, t.ID)
		if res != nil {
			mu.Lock()
			switch res.Outcome {
			case OutcomeRecharged:
				r.Recharged++
			case OutcomeSuspended:
				r.Suspended++
			}
			mu.Unlock()
		}
		if errors.Is(err, account.ErrAutoRechargeUnavailable) {
			// reported through the outcome; the tenant has been notified
			return nil
		}
		return err
	})
}

// RunMonthlyStatements builds the period's statement for every tenant and
// announces newly created ones.
func (s *BillingTickService) RunMonthlyStatements(ctx context.Context, year int, month time.Month) (*TickReport, error) {
	tenants, err := s.tenantRepo.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}

	return s.forEach(ctx, JobStatements, tenants, func(ctx context.Context, t *account.Tenant, r *TickReport, mu *sync.Mutex) error {
		stmt, created, err := s.statements.GetOrCreate(ctx, t.ID, month, year)
		if err != nil || !created {
			return err
		}
		mu.Lock()
		r.Created++
		mu.Unlock()

		if s.notifier != nil {
			if err := s.notifier.NotifyStatementReady(ctx, t, stmt); err != nil {
				s.logger.Error("Failed to send statement notice",
					zap.String("tenant_id", t.ID.String()),
					zap.Error(err))
			}
		}
		return nil
	})
}

// RunPhoneNumberFees charges the monthly phone number fee to every active tenant.
func (s *BillingTickService) RunPhoneNumberFees(ctx context.Context, date time.Time) (*TickReport, error) {
	tenants, err := s.tenantRepo.FindActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active tenants: %w", err)
	}

	return s.forEach(ctx, JobPhoneNumberFees, tenants, func(ctx context.Context, t *account.Tenant, r *TickReport, mu *sync.Mutex) error {
		_, created, err := s.ledger.PhoneNumberCharge(ctx, t.ID, date)
		if err == nil && created {
			mu.Lock()
			r.Created++
			mu.Unlock()
		}
		return err
	})
}

type tenantJob func(ctx context.Context, t *account.Tenant, r *TickReport, mu *sync.Mutex) error

func (s *BillingTickService) forEach(ctx context.Context, job string, tenants []*account.Tenant, fn tenantJob) (*TickReport, error) {
	start := time.Now()
	report := &TickReport{Job: job, Tenants: len(tenants)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.limit)
	for _, t := range tenants {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if err := fn(gctx, t, report, &mu); err != nil {
				s.logger.Error("Billing job failed for tenant",
					zap.String("job", job),
					zap.String("tenant_id", t.ID.String()),
					zap.Error(err))
				mu.Lock()
				report.Failures = append(report.Failures, TenantFailure{TenantID: t.ID, Err: err})
				mu.Unlock()
			}
			return nil
		})
	}
	// only cancellation of ctx surfaces here
	err := g.Wait()

	report.Duration = time.Since(start)
	s.recorder.RecordJob(ctx, job, report.Duration, len(report.Failures))
	s.logger.Info("Billing job finished",
		zap.String("job", job),
		zap.Int("tenants", report.Tenants),
		zap.Int("recharged", report.Recharged),
		zap.Int("suspended", report.Suspended),
		zap.Int("created", report.Created),
		zap.Int("failed", len(report.Failures)),
		zap.Duration("duration", report.Duration))
	return report, err
}
