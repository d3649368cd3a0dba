package account

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/textress/backend/internal/domain/account"
)

// UsageEventSource counts metered usage events in the externally owned message log.
type UsageEventSource interface {
	CountEvents(ctx context.Context, tenantID uuid.UUID, date time.Time) (int64, error)
}

// ChargeRequest asks the payment gateway to capture funds for a tenant.
type ChargeRequest struct {
	TenantID       uuid.UUID
	CustomerID     string
	Amount         decimal.Decimal
	Description    string
	IdempotencyKey string
}

// ChargeReceipt is a successful capture.
type ChargeReceipt struct {
	ChargeID   string
	Amount     decimal.Decimal
	CapturedAt time.Time
}

// PaymentGateway captures funds. A non-nil error is a failed capture; the
// engine never retries it on its own.
type PaymentGateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeReceipt, error)
}

// Notifier sends tenant-facing messages. Failures are logged by callers and never
// abort the billing operation.
type Notifier interface {
	NotifySuspended(ctx context.Context, tenant *account.Tenant, reason string) error
	NotifyStatementReady(ctx context.Context, tenant *account.Tenant, stmt *account.AcctStmt) error
}

// TenantLocker serialises balance-mutating work per tenant. The returned
// function releases the lock and is safe to call once.
type TenantLocker interface {
	Lock(ctx context.Context, tenantID uuid.UUID) (unlock func(), err error)
}

// BillingRecorder receives billing metrics. *telemetry.BillingMetrics implements it.
type BillingRecorder interface {
	RecordUsagePosted(ctx context.Context, tenantID uuid.UUID, units int64)
	RecordRecharge(ctx context.Context, tenantID uuid.UUID, amount decimal.Decimal)
	RecordSuspension(ctx context.Context, tenantID uuid.UUID, reason string)
	RecordBalance(ctx context.Context, tenantID uuid.UUID, balance decimal.Decimal)
	RecordJob(ctx context.Context, job string, d time.Duration, failed int)
}

// LedgerScope runs ledger writes for one tenant atomically. Implementations
// hold a row lock on the tenant for the life of fn so that concurrent writers
// in other processes observe a serial order.
type LedgerScope interface {
	Execute(ctx context.Context, tenantID uuid.UUID, fn func(repos TransactionalRepositories) error) error
}

// TransactionalRepositories exposes repositories bound to the scope's transaction.
type TransactionalRepositories interface {
	TransRepo() account.AcctTransRepository
	CostRepo() account.AcctCostRepository
	StmtRepo() account.AcctStmtRepository
	TenantRepo() account.TenantRepository
}

// NoOpLedgerScope runs fn directly against the given repositories. Useful in
// tests together with an in-process TenantLocker.
type NoOpLedgerScope struct {
	transRepo  account.AcctTransRepository
	costRepo   account.AcctCostRepository
	stmtRepo   account.AcctStmtRepository
	tenantRepo account.TenantRepository
}

// NewNoOpLedgerScope creates a NoOpLedgerScope.
func NewNoOpLedgerScope(
	transRepo account.AcctTransRepository,
	costRepo account.AcctCostRepository,
	stmtRepo account.AcctStmtRepository,
	tenantRepo account.TenantRepository,
) *NoOpLedgerScope {
	return &NoOpLedgerScope{
		transRepo:  transRepo,
		costRepo:   costRepo,
		stmtRepo:   stmtRepo,
		tenantRepo: tenantRepo,
	}
}

// Execute runs fn without a transaction.
func (s *NoOpLedgerScope) Execute(_ context.Context, _ uuid.UUID, fn func(repos TransactionalRepositories) error) error {
	return fn(s)
}

func (s *NoOpLedgerScope) TransRepo() account.AcctTransRepository { return s.transRepo }
func (s *NoOpLedgerScope) CostRepo() account.AcctCostRepository { return s.costRepo }
func (s *NoOpLedgerScope) StmtRepo() account.AcctStmtRepository { return s.stmtRepo }
func (s *NoOpLedgerScope) TenantRepo() account.TenantRepository { return s.tenantRepo }

var (
	_ LedgerScope               = (*NoOpLedgerScope)(nil)
	_ TransactionalRepositories = (*NoOpLedgerScope)(nil)
)

type noopRecorder struct{}

func (noopRecorder) RecordUsagePosted(context.Context, uuid.UUID, int64) {}
func (noopRecorder) RecordRecharge(context.Context, uuid.UUID, decimal.Decimal) {}
func (noopRecorder) RecordSuspension(context.Context, uuid.UUID, string) {}
func (noopRecorder) RecordBalance(context.Context, uuid.UUID, decimal.Decimal) {}
func (noopRecorder) RecordJob(context.Context, string, time.Duration, int) {}

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time
