package account

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/textress/backend/internal/domain/account"
)

func TestStatementService(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	tenant := f.store.addTenant("harbor")
	may20 := time.Date(2024, time.May, 20, 0, 0, 0, 0, time.UTC)
	may25 := time.Date(2024, time.May, 25, 0, 0, 0, 0, time.UTC)

	_, err := f.ledger.Post(ctx, tenant.ID, account.TransTypeInitAmt, dec("10"), may20)
	require.NoError(t, err)
	f.events.set(tenant.ID, may25, 250)
	f.events.set(tenant.ID, june(3), 300)
	_, err = f.usage.CreateOrUpdateUsage(ctx, tenant.ID, may25)
	require.NoError(t, err)
	_, err = f.usage.CreateOrUpdateUsage(ctx, tenant.ID, june(3))
	require.NoError(t, err)

	mayStmt, created, err := f.statements.GetOrCreate(ctx, tenant.ID, time.May, 2024)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(250), mayStmt.TotalSMS)
	assertDec(t, "7.25", mayStmt.Balance)
	assertDec(t, "2", mayStmt.MonthlyCosts)

	juneStmt, created, err := f.statements.GetOrCreate(ctx, tenant.ID, time.June, 2024)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(300), juneStmt.TotalSMS)
	assertDec(t, "1.75", juneStmt.Balance)

	t.Run("existing statement is returned unchanged", func(t *testing.T) {
		f.events.set(tenant.ID, june(4), 10)
		_, err := f.usage.CreateOrUpdateUsage(ctx, tenant.ID, june(4))
		require.NoError(t, err)

		again, created, err := f.statements.GetOrCreate(ctx, tenant.ID, time.June, 2024)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, juneStmt.ID, again.ID)
		assert.Equal(t, int64(300), again.TotalSMS)
	})

	t.Run("recompute picks up new entries", func(t *testing.T) {
		stmt, err := f.statements.Recompute(ctx, tenant.ID, time.June, 2024)
		require.NoError(t, err)
		assert.Equal(t, int64(310), stmt.TotalSMS)
		assertDec(t, "1.2", stmt.Balance)
	})

	t.Run("list is newest first", func(t *testing.T) {
		list, err := f.statements.List(ctx, tenant.ID)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, time.June, list[0].Month)
	})

	t.Run("invalid period", func(t *testing.T) {
		_, _, err := f.statements.GetOrCreate(ctx, tenant.ID, time.Month(13), 2024)
		assert.ErrorIs(t, err, account.ErrInvalidPeriod)
	})
}
