package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appaccount "github.com/textress/backend/internal/application/account"
	"github.com/textress/backend/internal/domain/account"
	"github.com/textress/backend/internal/infrastructure/config"
	"github.com/textress/backend/internal/infrastructure/persistence"
	"github.com/textress/backend/internal/infrastructure/persistence/models"
)

var today = time.Date(2024, 6, 15, 15, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type countingGateway struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (g *countingGateway) Charge(_ context.Context, req appaccount.ChargeRequest) (*appaccount.ChargeReceipt, error) {
	g.calls.Add(1)
	time.Sleep(g.delay)
	if g.err != nil {
		return nil, g.err
	}
	return &appaccount.ChargeReceipt{ChargeID: "ch_" + req.IdempotencyKey, Amount: req.Amount, CapturedAt: today}, nil
}

type recordingNotifier struct {
	mu         sync.Mutex
	suspended  []string
	statements int
}

func (n *recordingNotifier) NotifySuspended(_ context.Context, _ *account.Tenant, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.suspended = append(n.suspended, reason)
	return nil
}

func (n *recordingNotifier) NotifyStatementReady(context.Context, *account.Tenant, *account.AcctStmt) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statements++
	return nil
}

type harness struct {
	*Billing
	gateway  *countingGateway
	notifier *recordingNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := persistence.NewDatabase(&config.DatabaseConfig{Driver: config.DriverSQLite, Path: ":memory:"}, nil)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(context.Background()))
	t.Cleanup(func() { _ = db.Close() })

	h := &harness{gateway: &countingGateway{}, notifier: &recordingNotifier{}}
	h.Billing = NewBilling(db.DB, config.BillingConfig{}, Deps{
		Gateway:  h.gateway,
		Notifier: h.notifier,
		Clock:    func() time.Time { return today },
	}, zap.NewNop())

	seeded, err := h.Pricing.SeedDefaults(context.Background())
	require.NoError(t, err)
	require.True(t, seeded)
	return h
}

// openTenant stores a tenant and opens its account with the default $10 credit.
func (h *harness) openTenant(t *testing.T, name string) *account.Tenant {
	t.Helper()
	ctx := context.Background()
	tenant := account.NewTenant(name, "billing@"+name+".example.com")
	require.NoError(t, h.Tenants.Save(ctx, tenant))
	res, err := h.Accounts.OpenAccount(ctx, tenant.ID, account.AcctCostInput{})
	require.NoError(t, err)
	require.True(t, res.Opened)
	return tenant
}

func (h *harness) sendMessages(t *testing.T, tenantID uuid.UUID, n int, at time.Time, status string) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, h.Messages.Record(context.Background(), &models.MessageModel{
			TenantID:  tenantID,
			SID:       fmt.Sprintf("SM%s%04d%s", tenantID.String()[:8], i, at.Format("0102")+status[:1]),
			Direction: models.DirectionOutbound,
			Status:    status,
			SentAt:    at,
		}))
	}
}

func (h *harness) assertConsistent(t *testing.T, tenantID uuid.UUID) decimal.Decimal {
	t.Helper()
	r, err := h.Ledger.Reconcile(context.Background(), tenantID)
	require.NoError(t, err)
	assert.True(t, r.Consistent, "sum %s snapshot %s", r.Balance, r.Snapshot)
	return r.Snapshot
}

func TestBilling_GetBalanceIsZeroWithoutEntries(t *testing.T) {
	h := newHarness(t)
	balance, err := h.Ledger.GetBalance(context.Background(), uuid.New(), false)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestBilling_OpenAccountCreditsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tenant := h.openTenant(t, "harbour")

	again, err := h.Accounts.OpenAccount(ctx, tenant.ID, account.AcctCostInput{})
	require.NoError(t, err)
	assert.False(t, again.Opened)
	assert.Equal(t, int32(1), h.gateway.calls.Load())

	balance := h.assertConsistent(t, tenant.ID)
	assert.True(t, balance.Equal(dec("10")), balance.String())

	payments, err := h.Ledger.PaymentHistory(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 1)
}

func TestBilling_UsageUpsertIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tenant := h.openTenant(t, "harbour")
	h.sendMessages(t, tenant.ID, 300, today.Add(-2*time.Hour), "delivered")
	h.sendMessages(t, tenant.ID, 5, today.Add(-time.Hour), "failed")

	first, err := h.Usage.CreateOrUpdateUsage(ctx, tenant.ID, today)
	require.NoError(t, err)
	assert.Equal(t, int64(300), first.UnitsUsed)
	assert.True(t, first.Amount.Equal(dec("-5.5")), first.Amount.String())

	second, err := h.Usage.CreateOrUpdateUsage(ctx, tenant.ID, today)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Sequence, second.Sequence)

	balance := h.assertConsistent(t, tenant.ID)
	assert.True(t, balance.Equal(dec("4.5")), balance.String())

	h.sendMessages(t, tenant.ID, 100, today.Add(-30*time.Minute), "sent")
	third, err := h.Usage.CreateOrUpdateUsage(ctx, tenant.ID, today)
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID)
	assert.Equal(t, int64(400), third.UnitsUsed)
	assert.True(t, third.Amount.Equal(dec("-11")), third.Amount.String())

	balance = h.assertConsistent(t, tenant.ID)
	assert.True(t, balance.Equal(dec("-1")), balance.String())

	open, err := h.Ledger.GetBalance(ctx, tenant.ID, true)
	require.NoError(t, err)
	assert.True(t, open.Equal(dec("10")), open.String())

	_, err = h.Usage.CreateOrUpdateUsage(ctx, tenant.ID, today.AddDate(0, 0, 1))
	assert.ErrorIs(t, err, account.ErrFutureUsageDate)
}

func TestBilling_CheckBalanceRechargesOncePerBreach(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tenant := h.openTenant(t, "harbour")
	h.sendMessages(t, tenant.ID, 300, today.Add(-time.Hour), "delivered")

	res, err := h.Recharge.CheckBalance(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, appaccount.OutcomeRecharged, res.Outcome)
	assert.True(t, res.Balance.Equal(dec("14.5")), res.Balance.String())
	assert.Equal(t, int32(2), h.gateway.calls.Load())

	res, err = h.Recharge.CheckBalance(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, appaccount.OutcomeOK, res.Outcome)
	assert.Equal(t, int32(2), h.gateway.calls.Load())

	h.assertConsistent(t, tenant.ID)
}

func TestBilling_SuspensionIsMonotonic(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tenant := h.openTenant(t, "harbour")
	h.gateway.err = errors.New("card_declined")
	h.sendMessages(t, tenant.ID, 300, today.Add(-time.Hour), "delivered")

	res, err := h.Recharge.CheckBalance(ctx, tenant.ID)
	are, ok := account.IsAutoRechargeUnavailable(err)
	require.True(t, ok, "%v", err)
	assert.Equal(t, account.ReasonCaptureFailed, are.Reason)
	assert.Equal(t, appaccount.OutcomeSuspended, res.Outcome)

	stored, err := h.Tenants.FindByID(ctx, tenant.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active)

	res, err = h.Recharge.CheckBalance(ctx, tenant.ID)
	are, ok = account.IsAutoRechargeUnavailable(err)
	require.True(t, ok)
	assert.Equal(t, account.ReasonTenantSuspended, are.Reason)
	assert.Equal(t, appaccount.OutcomeSuspended, res.Outcome)

	// the opening capture plus the one failed recharge
	assert.Equal(t, int32(2), h.gateway.calls.Load())
	assert.Equal(t, []string{account.ReasonCaptureFailed}, h.notifier.suspended)

	require.NoError(t, h.Accounts.Reactivate(ctx, tenant.ID))
	stored, err = h.Tenants.FindByID(ctx, tenant.ID)
	require.NoError(t, err)
	assert.True(t, stored.Active)
}

func TestBilling_ConcurrentChecksSuspendOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tenant := h.openTenant(t, "harbour")
	h.sendMessages(t, tenant.ID, 300, today.Add(-time.Hour), "delivered")
	h.gateway.err = errors.New("card_declined")
	h.gateway.delay = 50 * time.Millisecond

	const checkers = 4
	var wg sync.WaitGroup
	reasons := make(chan string, checkers)
	for i := 0; i < checkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.Recharge.CheckBalance(ctx, tenant.ID)
			if are, ok := account.IsAutoRechargeUnavailable(err); ok {
				reasons <- are.Reason
				return
			}
			reasons <- fmt.Sprintf("unexpected: %v", err)
		}()
	}
	wg.Wait()
	close(reasons)

	counts := make(map[string]int)
	for r := range reasons {
		counts[r]++
	}
	assert.Equal(t, map[string]int{
		account.ReasonCaptureFailed:   1,
		account.ReasonTenantSuspended: checkers - 1,
	}, counts)

	// the opening capture plus exactly one recharge attempt
	assert.Equal(t, int32(2), h.gateway.calls.Load())
	assert.Equal(t, []string{account.ReasonCaptureFailed}, h.notifier.suspended)
	h.assertConsistent(t, tenant.ID)
}

func TestBilling_ConcurrentRechargesCreditOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tenant := h.openTenant(t, "harbour")
	h.sendMessages(t, tenant.ID, 300, today.Add(-time.Hour), "delivered")
	_, err := h.Usage.CreateOrUpdateUsage(ctx, tenant.ID, today)
	require.NoError(t, err)
	seen, err := h.Ledger.GetBalance(ctx, tenant.ID, false)
	require.NoError(t, err)
	h.gateway.delay = 20 * time.Millisecond

	const callers = 4
	var wg sync.WaitGroup
	var recharged atomic.Int32
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := h.Recharge.Recharge(ctx, tenant.ID, seen)
			assert.NoError(t, err)
			if ok {
				recharged.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), recharged.Load())
	assert.Equal(t, int32(2), h.gateway.calls.Load())
	assert.True(t, h.assertConsistent(t, tenant.ID).Equal(dec("14.5")))
}

func TestBilling_TenantsAreIsolated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	busy := h.openTenant(t, "busy")
	quiet := h.openTenant(t, "quiet")
	h.sendMessages(t, busy.ID, 400, today.Add(-time.Hour), "delivered")

	_, err := h.Usage.CreateOrUpdateUsage(ctx, busy.ID, today)
	require.NoError(t, err)
	_, err = h.Usage.CreateOrUpdateUsage(ctx, quiet.ID, today)
	require.NoError(t, err)

	assert.True(t, h.assertConsistent(t, busy.ID).Equal(dec("-1")))
	assert.True(t, h.assertConsistent(t, quiet.ID).Equal(dec("10")))

	total, err := h.Ledger.Balance(ctx, nil)
	require.NoError(t, err)
	assert.True(t, total.Equal(dec("9")), total.String())
}

func TestBilling_ConcurrentWritersKeepSnapshotConsistent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tenant := h.openTenant(t, "harbour")
	h.sendMessages(t, tenant.ID, 250, today.Add(-time.Hour), "delivered")

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, 2*writers)
	for i := 0; i < writers; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := h.Ledger.Post(ctx, tenant.ID, account.TransTypeRechargeAmt, dec("10"), today)
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := h.Usage.CreateOrUpdateUsage(ctx, tenant.ID, today)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	balance := h.assertConsistent(t, tenant.ID)
	assert.True(t, balance.Equal(dec("87.25")), balance.String())

	entries, err := h.Ledger.MonthlyTrans(ctx, tenant.ID, today)
	require.NoError(t, err)
	smsUsed, err := h.Types.SmsUsed(ctx)
	require.NoError(t, err)
	seen := make(map[int64]bool)
	usage := 0
	for _, e := range entries {
		assert.False(t, seen[e.Sequence], "duplicate sequence %d", e.Sequence)
		seen[e.Sequence] = true
		if e.TransTypeID == smsUsed.ID {
			usage++
		}
	}
	assert.Equal(t, 1, usage)
}

func TestBilling_DailyTickAndStatements(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tenant := h.openTenant(t, "harbour")
	yesterday := today.AddDate(0, 0, -1)
	h.sendMessages(t, tenant.ID, 250, yesterday.Add(-3*time.Hour), "delivered")

	report, err := h.Tick.RunDaily(ctx, yesterday)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Tenants)
	assert.Empty(t, report.Failures)

	closed, err := h.Usage.SmsUsedCount(ctx, tenant.ID, yesterday)
	require.NoError(t, err)
	assert.Equal(t, int64(250), closed)

	fees, err := h.Tick.RunPhoneNumberFees(ctx, today)
	require.NoError(t, err)
	assert.Equal(t, 1, fees.Created)
	fees, err = h.Tick.RunPhoneNumberFees(ctx, today)
	require.NoError(t, err)
	assert.Equal(t, 0, fees.Created)

	stmts, err := h.Tick.RunMonthlyStatements(ctx, 2024, time.June)
	require.NoError(t, err)
	assert.Equal(t, 1, stmts.Created)
	assert.Equal(t, 1, h.notifier.statements)

	stmt, created, err := h.Statements.GetOrCreate(ctx, tenant.ID, time.June, 2024)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(250), stmt.TotalSMS)

	balance := h.assertConsistent(t, tenant.ID)
	// 10 credit - 2.75 usage - 2.00 phone number
	assert.True(t, balance.Equal(dec("5.25")), balance.String())
}
