package account

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/textress/backend/internal/domain/account"
)

func TestBillingTickService_RunDaily(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	yesterday := f.today().AddDate(0, 0, -1)

	busy := openWithUsage(t, f, account.AcctCostInput{}, 300)
	broken := openWithUsage(t, f, account.AcctCostInput{}, 0)
	closed := openWithUsage(t, f, account.AcctCostInput{}, 0)
	require.NoError(t, f.accounts.CloseAccount(ctx, closed.ID))
	f.events.set(busy.ID, yesterday, 12)
	f.events.fail(broken.ID, errors.New("message log unavailable"))

	report, err := f.tick.RunDaily(ctx, yesterday)
	require.NoError(t, err)
	assert.Equal(t, JobDailyTick, report.Job)
	assert.Equal(t, 2, report.Tenants)
	assert.Equal(t, 1, report.Recharged)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, broken.ID, report.Failures[0].TenantID)

	closedDay, err := memTransRepo{f.store}.FindByTypeAndDate(ctx, busy.ID, mustType(t, f, account.TransTypeSmsUsed), yesterday)
	require.NoError(t, err)
	assert.Equal(t, int64(12), closedDay.UnitsUsed)
}

func TestBillingTickService_RunDailyCancelled(t *testing.T) {
	f := newFixture()
	openWithUsage(t, f, account.AcctCostInput{}, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.tick.RunDaily(ctx, f.today())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBillingTickService_RunMonthlyStatements(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	openWithUsage(t, f, account.AcctCostInput{}, 0)
	openWithUsage(t, f, account.AcctCostInput{}, 0)

	report, err := f.tick.RunMonthlyStatements(ctx, 2024, time.May)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Created)
	assert.Empty(t, report.Failures)
	// notice failures are logged, not reported
	assert.Equal(t, 2, f.notifier.stmts)

	report, err = f.tick.RunMonthlyStatements(ctx, 2024, time.May)
	require.NoError(t, err)
	assert.Zero(t, report.Created)
	assert.Equal(t, 2, f.notifier.stmts)
}

func TestBillingTickService_RunPhoneNumberFees(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	openWithUsage(t, f, account.AcctCostInput{}, 0)
	openWithUsage(t, f, account.AcctCostInput{}, 0)

	report, err := f.tick.RunPhoneNumberFees(ctx, f.today())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Created)

	report, err = f.tick.RunPhoneNumberFees(ctx, f.today())
	require.NoError(t, err)
	assert.Zero(t, report.Created)
}

func mustType(t *testing.T, f *fixture, name account.TransTypeName) uuid.UUID {
	t.Helper()
	tt, err := f.types.GetOrSet(context.Background(), name)
	require.NoError(t, err)
	return tt.ID
}
