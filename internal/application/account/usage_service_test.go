package account

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/textress/backend/internal/domain/account"
)

func june(d int) time.Time {
	return time.Date(2024, time.June, d, 0, 0, 0, 0, time.UTC)
}

func TestUsageService_CreateOrUpdateUsage(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	tenant := f.store.addTenant("harbor")
	today := f.today()

	f.events.set(tenant.ID, today, 300)
	first, err := f.usage.CreateOrUpdateUsage(ctx, tenant.ID, today)
	require.NoError(t, err)
	assert.Equal(t, int64(300), first.UnitsUsed)
	assertDec(t, "-5.5", first.Amount)
	assertDec(t, "-5.5", first.Balance.Decimal)

	t.Run("unchanged count writes nothing", func(t *testing.T) {
		again, err := f.usage.CreateOrUpdateUsage(ctx, tenant.ID, today)
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID)
		assert.Equal(t, first.Sequence, again.Sequence)
	})

	t.Run("changed count updates the same entry", func(t *testing.T) {
		f.events.set(tenant.ID, today, 320)
		updated, err := f.usage.CreateOrUpdateUsage(ctx, tenant.ID, today)
		require.NoError(t, err)
		assert.Equal(t, first.ID, updated.ID)
		assert.Equal(t, int64(320), updated.UnitsUsed)
		assertDec(t, "-6.6", updated.Amount)
		assert.Greater(t, updated.Sequence, first.Sequence)

		sum, err := f.ledger.Balance(ctx, &tenant.ID)
		require.NoError(t, err)
		assert.True(t, sum.Equal(updated.Balance.Decimal))
	})
}

func TestUsageService_DateGuards(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	tenant := f.store.addTenant("harbor")

	_, err := f.usage.CreateOrUpdateUsage(ctx, tenant.ID, f.today().AddDate(0, 0, 1))
	assert.ErrorIs(t, err, account.ErrFutureUsageDate)

	_, err = f.usage.CloseDay(ctx, tenant.ID, f.today())
	assert.ErrorIs(t, err, account.ErrUsageDayOpen)

	f.events.set(tenant.ID, f.today().AddDate(0, 0, -1), 5)
	entry, err := f.usage.CloseDay(ctx, tenant.ID, f.today().AddDate(0, 0, -1))
	require.NoError(t, err)
	assert.Equal(t, int64(5), entry.UnitsUsed)
	assert.True(t, entry.Amount.IsZero())
}

func TestUsageService_TiersAccumulateWithinMonth(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	tenant := f.store.addTenant("harbor")
	may31 := time.Date(2024, time.May, 31, 0, 0, 0, 0, time.UTC)

	f.events.set(tenant.ID, may31, 300)
	f.events.set(tenant.ID, june(1), 250)
	f.events.set(tenant.ID, june(2), 10)

	_, err := f.usage.CreateOrUpdateUsage(ctx, tenant.ID, may31)
	require.NoError(t, err)
	day1, err := f.usage.CreateOrUpdateUsage(ctx, tenant.ID, june(1))
	require.NoError(t, err)
	day2, err := f.usage.CreateOrUpdateUsage(ctx, tenant.ID, june(2))
	require.NoError(t, err)

	// May usage does not carry into June
	assertDec(t, "-2.75", day1.Amount)
	assertDec(t, "-0.55", day2.Amount)

	mtd, err := f.usage.SmsUsedMTD(ctx, tenant.ID, june(2))
	require.NoError(t, err)
	assert.Equal(t, int64(260), mtd)

	prior, err := f.usage.SmsUsedMTDPrior(ctx, tenant.ID, june(2))
	require.NoError(t, err)
	assert.Equal(t, int64(250), prior)

	prior, err = f.usage.SmsUsedMTDPrior(ctx, tenant.ID, june(1))
	require.NoError(t, err)
	assert.Zero(t, prior)
}

func TestUsageService_PerUnitCostOverride(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	tenant := f.store.addTenant("harbor")

	perUnit := dec("0.03")
	_, _, err := f.costs.Upsert(ctx, tenant.ID, account.AcctCostInput{PerUnitCost: &perUnit})
	require.NoError(t, err)

	f.events.set(tenant.ID, f.today(), 100)
	entry, err := f.usage.CreateOrUpdateUsage(ctx, tenant.ID, f.today())
	require.NoError(t, err)
	assertDec(t, "-3", entry.Amount)
}

func TestUsageService_SmsUsedCount(t *testing.T) {
	f := newFixture()
	tenant := f.store.addTenant("harbor")
	f.events.set(tenant.ID, f.today(), 42)

	n, err := f.usage.SmsUsedCount(context.Background(), tenant.ID, f.now)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}
