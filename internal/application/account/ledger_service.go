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

// LedgerConfig contains configuration for LedgerService
type LedgerConfig struct {
	// Location decides which calendar day "today" is. Defaults to UTC.
	Location *time.Location
	// PhoneNumberFee is the monthly phone number charge.
	PhoneNumberFee decimal.Decimal
	Clock          Clock
}

// DefaultPhoneNumberFee is the monthly fee charged for a tenant's number.
var DefaultPhoneNumberFee = decimal.RequireFromString("2.00")

// LedgerService reads and appends ledger entries. Every write runs under the
// tenant lock and inside a LedgerScope, and sets the entry's running balance.
type LedgerService struct {
	scope     LedgerScope
	transRepo account.AcctTransRepository
	types     *TransTypeCache
	locker    TenantLocker
	logger    *zap.Logger

	loc      *time.Location
	phoneFee decimal.Decimal
	now      Clock
}

// NewLedgerService creates a new LedgerService
func NewLedgerService(
	scope LedgerScope,
	transRepo account.AcctTransRepository,
	types *TransTypeCache,
	locker TenantLocker,
	logger *zap.Logger,
	cfg LedgerConfig,
) *LedgerService {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.PhoneNumberFee.IsZero() {
		cfg.PhoneNumberFee = DefaultPhoneNumberFee
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &LedgerService{
		scope:     scope,
		transRepo: transRepo,
		types:     types,
		locker:    locker,
		logger:    logger,
		loc:       cfg.Location,
		phoneFee:  cfg.PhoneNumberFee,
		now:       cfg.Clock,
	}
}

// Today returns the current billing day.
func (s *LedgerService) Today() time.Time {
	return account.DateOf(s.now(), s.loc)
}

// Balance sums every entry amount for a tenant, or across all tenants when
// tenantID is nil. This is the ground truth the snapshots must agree with.
func (s *LedgerService) Balance(ctx context.Context, tenantID *uuid.UUID) (decimal.Decimal, error) {
	return s.transRepo.SumAmount(ctx, tenantID)
}

// GetBalance returns the snapshot on the most recently modified entry, or zero
// when the tenant has none. With excludes set, today's open usage entry is
// taken out of the figure.
func (s *LedgerService) GetBalance(ctx context.Context, tenantID uuid.UUID, excludes bool) (decimal.Decimal, error) {
	latest, err := s.latest(ctx, s.transRepo, tenantID)
	if err != nil {
		return decimal.Zero, err
	}
	balance := account.ResolveLastTransBalance(latest)
	if !excludes || latest == nil {
		return balance, nil
	}

	smsUsed, err := s.types.SmsUsed(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	open, err := s.transRepo.FindByTypeAndDate(ctx, tenantID, smsUsed.ID, s.Today())
	if errors.Is(err, shared.ErrNotFound) {
		return balance, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return balance.Sub(open.Amount), nil
}

// MonthlyTrans returns the entries dated in the month containing date, oldest first.
func (s *LedgerService) MonthlyTrans(ctx context.Context, tenantID uuid.UUID, date time.Time) ([]*account.AcctTrans, error) {
	if date.IsZero() {
		date = s.Today()
	}
	from, to := account.MonthBounds(date.Year(), date.Month())
	return s.transRepo.Find(ctx, tenantID, account.AcctTransFilter{DateFrom: &from, DateTo: &to})
}

// PaymentHistory returns money paid into the account, newest first.
func (s *LedgerService) PaymentHistory(ctx context.Context, tenantID uuid.UUID) ([]*account.AcctTrans, error) {
	initAmt, err := s.types.InitAmt(ctx)
	if err != nil {
		return nil, err
	}
	recharge, err := s.types.RechargeAmt(ctx)
	if err != nil {
		return nil, err
	}
	return s.transRepo.Find(ctx, tenantID, account.AcctTransFilter{
		TransTypeIDs: []uuid.UUID{initAmt.ID, recharge.ID},
		Descending:   true,
	})
}

// Post appends a credit or fee entry. Usage is recorded through UsageService.
func (s *LedgerService) Post(ctx context.Context, tenantID uuid.UUID, name account.TransTypeName, amount decimal.Decimal, date time.Time) (*account.AcctTrans, error) {
	if name == account.TransTypeSmsUsed {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "Usage entries are recorded by the usage aggregator")
	}
	tt, err := s.types.GetOrSet(ctx, name)
	if err != nil {
		return nil, err
	}

	unlock, err := s.lockTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return s.post(ctx, tenantID, tt, amount, date)
}

// PhoneNumberCharge posts the monthly phone number fee once per month.
// Returns false with the existing entry if the month was already charged.
func (s *LedgerService) PhoneNumberCharge(ctx context.Context, tenantID uuid.UUID, date time.Time) (*account.AcctTrans, bool, error) {
	tt, err := s.types.PhoneNumber(ctx)
	if err != nil {
		return nil, false, err
	}

	unlock, err := s.lockTenant(ctx, tenantID)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	day := account.DateOf(date, nil)
	from, to := account.MonthBounds(day.Year(), day.Month())
	existing, err := s.transRepo.Find(ctx, tenantID, account.AcctTransFilter{
		TransTypeIDs: []uuid.UUID{tt.ID},
		DateFrom:     &from,
		DateTo:       &to,
	})
	if err != nil {
		return nil, false, err
	}
	if len(existing) > 0 {
		return existing[0], false, nil
	}

	entry, err := s.post(ctx, tenantID, tt, s.phoneFee, day)
	if err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

// Reconciliation compares the summed ledger against the latest snapshot.
type Reconciliation struct {
	TenantID   uuid.UUID
	Balance    decimal.Decimal
	Snapshot   decimal.Decimal
	Consistent bool
}

// Reconcile checks that the running snapshot matches a full recompute.
func (s *LedgerService) Reconcile(ctx context.Context, tenantID uuid.UUID) (*Reconciliation, error) {
	sum, err := s.Balance(ctx, &tenantID)
	if err != nil {
		return nil, err
	}
	snap, err := s.GetBalance(ctx, tenantID, false)
	if err != nil {
		return nil, err
	}
	r := &Reconciliation{TenantID: tenantID, Balance: sum, Snapshot: snap, Consistent: sum.Equal(snap)}
	if !r.Consistent {
		s.logger.Warn("Ledger snapshot drifted from summed balance",
			zap.String("tenant_id", tenantID.String()),
			zap.String("balance", sum.String()),
			zap.String("snapshot", snap.String()))
	}
	return r, nil
}

// lockTenant takes the per-tenant lock. Callers must not re-enter it.
func (s *LedgerService) lockTenant(ctx context.Context, tenantID uuid.UUID) (func(), error) {
	unlock, err := s.locker.Lock(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("lock tenant %s: %w", tenantID, err)
	}
	return unlock, nil
}

// post appends an entry. The tenant lock must be held.
func (s *LedgerService) post(ctx context.Context, tenantID uuid.UUID, tt *account.TransType, amount decimal.Decimal, date time.Time) (*account.AcctTrans, error) {
	entry, err := account.NewAcctTrans(tenantID, tt, amount, 0, date)
	if err != nil {
		return nil, err
	}
	err = s.scope.Execute(ctx, tenantID, func(repos TransactionalRepositories) error {
		return s.appendEntry(ctx, repos.TransRepo(), entry)
	})
	if err != nil {
		return nil, fmt.Errorf("post %s for tenant %s: %w", tt.Name, tenantID, err)
	}

	s.logger.Info("Ledger entry posted",
		zap.String("tenant_id", tenantID.String()),
		zap.String("trans_type", tt.Name.String()),
		zap.String("amount", entry.Amount.String()),
		zap.String("balance", entry.Balance.Decimal.String()))
	return entry, nil
}

// appendEntry chains entry onto the tenant's latest snapshot and stores it.
func (s *LedgerService) appendEntry(ctx context.Context, repo account.AcctTransRepository, entry *account.AcctTrans) error {
	latest, err := s.latest(ctx, repo, entry.TenantID)
	if err != nil {
		return err
	}
	entry.ApplySnapshot(account.ResolveLastTransBalance(latest))
	entry.Sequence = nextSequence(latest)
	return repo.Create(ctx, entry)
}

// replaceEntry re-chains an updated entry whose previous amount was oldAmount.
// The entry moves to the head of the tenant's sequence.
func (s *LedgerService) replaceEntry(ctx context.Context, repo account.AcctTransRepository, entry *account.AcctTrans, oldAmount decimal.Decimal) error {
	latest, err := s.latest(ctx, repo, entry.TenantID)
	if err != nil {
		return err
	}
	prior := account.ResolveLastTransBalance(latest).Sub(oldAmount)
	entry.ApplySnapshot(prior)
	entry.Sequence = nextSequence(latest)
	return repo.Update(ctx, entry)
}

func (s *LedgerService) latest(ctx context.Context, repo account.AcctTransRepository, tenantID uuid.UUID) (*account.AcctTrans, error) {
	latest, err := repo.Latest(ctx, tenantID)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest entry for tenant %s: %w", tenantID, err)
	}
	return latest, nil
}

func nextSequence(latest *account.AcctTrans) int64 {
	if latest == nil {
		return 1
	}
	return latest.Sequence + 1
}
