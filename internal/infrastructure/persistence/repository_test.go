package persistence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/textress/backend/internal/domain/account"
	"github.com/textress/backend/internal/domain/shared"
	"github.com/textress/backend/internal/infrastructure/persistence/models"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seedTenant(t *testing.T, db *Database, name string) *account.Tenant {
	t.Helper()
	tenant := account.NewTenant(name, name+"@example.com")
	require.NoError(t, NewGormTenantRepository(db.DB).Save(context.Background(), tenant))
	return tenant
}

func seedType(t *testing.T, db *Database, name account.TransTypeName) *account.TransType {
	t.Helper()
	tt, err := account.NewTransType(name)
	require.NoError(t, err)
	require.NoError(t, NewGormTransTypeRepository(db.DB).Create(context.Background(), tt))
	return tt
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestGormPricingRepository(t *testing.T) {
	db := newTestDatabase(t)
	repo := NewGormPricingRepository(db.DB)
	ctx := context.Background()

	tiers := account.DefaultPricingTiers()
	for i := range tiers {
		tiers[i].BaseEntity = shared.NewBaseEntity()
	}
	require.NoError(t, repo.SaveAll(ctx, tiers))

	t.Run("global table ordered by tier", func(t *testing.T) {
		got, err := repo.FindTable(ctx, nil)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, 1, got[0].Tier)
		assert.Equal(t, int64(0), got[2].End)
		assert.True(t, dec("0.055").Equal(got[1].Price))
		assert.True(t, dec("0.0525").Equal(got[2].Price))
		assert.NoError(t, account.NewPricingTable(got).Validate())
	})

	t.Run("tenant without override has no rows", func(t *testing.T) {
		id := uuid.New()
		got, err := repo.FindTable(ctx, &id)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("tenant override is separate from global", func(t *testing.T) {
		tenantID := uuid.New()
		override := []account.PricingTier{{
			BaseEntity: shared.NewBaseEntity(), TenantID: &tenantID,
			Tier: 1, Start: 1, End: 0, Price: dec("0.04"), TierName: "Flat",
		}}
		require.NoError(t, repo.SaveAll(ctx, override))

		got, err := repo.FindTable(ctx, &tenantID)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "Flat", got[0].TierName)

		global, err := repo.FindTable(ctx, nil)
		require.NoError(t, err)
		assert.Len(t, global, 3)
	})

	t.Run("find by id", func(t *testing.T) {
		got, err := repo.FindByID(ctx, tiers[1].ID)
		require.NoError(t, err)
		assert.Equal(t, "Standard", got.TierName)

		_, err = repo.FindByID(ctx, uuid.New())
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}

func TestGormTransTypeRepository(t *testing.T) {
	db := newTestDatabase(t)
	repo := NewGormTransTypeRepository(db.DB)
	ctx := context.Background()

	created := seedType(t, db, account.TransTypeSmsUsed)

	got, err := repo.FindByName(ctx, account.TransTypeSmsUsed)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = repo.FindByName(ctx, account.TransTypeInitAmt)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	dup, _ := account.NewTransType(account.TransTypeSmsUsed)
	assert.ErrorIs(t, repo.Create(ctx, dup), shared.ErrAlreadyExists)

	seedType(t, db, account.TransTypeInitAmt)
	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, account.TransTypeInitAmt, all[0].Name)
}

func TestGormAcctCostRepository(t *testing.T) {
	db := newTestDatabase(t)
	repo := NewGormAcctCostRepository(db.DB)
	ctx := context.Background()
	tenantID := uuid.New()

	_, err := repo.FindByTenant(ctx, tenantID)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	cost, err := account.NewAcctCost(tenantID, account.AcctCostInput{})
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, cost))

	second, _ := account.NewAcctCost(tenantID, account.AcctCostInput{})
	assert.ErrorIs(t, repo.Create(ctx, second), shared.ErrAlreadyExists)

	off := false
	perUnit := dec("0.03")
	twenty := dec("20")
	require.NoError(t, cost.Apply(account.AcctCostInput{AutoRecharge: &off, PerUnitCost: &perUnit, RechargeAmt: &twenty}))
	require.NoError(t, repo.Update(ctx, cost))

	got, err := repo.FindByTenant(ctx, tenantID)
	require.NoError(t, err)
	assert.False(t, got.AutoRecharge)
	require.NotNil(t, got.PerUnitCost)
	assert.True(t, perUnit.Equal(*got.PerUnitCost))
	assert.True(t, twenty.Equal(got.RechargeAmt))
	assert.True(t, account.DefaultBalanceMin.Equal(got.BalanceMin))

	missing, _ := account.NewAcctCost(uuid.New(), account.AcctCostInput{})
	assert.ErrorIs(t, repo.Update(ctx, missing), shared.ErrNotFound)
}

func TestGormAcctTransRepository(t *testing.T) {
	db := newTestDatabase(t)
	repo := NewGormAcctTransRepository(db.DB)
	ctx := context.Background()

	tenant := seedTenant(t, db, "harbor")
	other := seedTenant(t, db, "lakeside")
	initType := seedType(t, db, account.TransTypeInitAmt)
	smsType := seedType(t, db, account.TransTypeSmsUsed)

	post := func(tenantID uuid.UUID, tt *account.TransType, amount string, units int64, on time.Time, seq int64, prior string) *account.AcctTrans {
		e, err := account.NewAcctTrans(tenantID, tt, dec(amount), units, on)
		require.NoError(t, err)
		e.ApplySnapshot(dec(prior))
		e.Sequence = seq
		require.NoError(t, repo.Create(ctx, e))
		return e
	}

	_, err := repo.Latest(ctx, tenant.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	post(tenant.ID, initType, "10", 0, day(2024, 5, 31), 1, "0")
	usage := post(tenant.ID, smsType, "2.75", 300, day(2024, 6, 1), 2, "10")
	post(tenant.ID, smsType, "0.055", 1, day(2024, 6, 2), 3, "7.25")
	post(other.ID, initType, "50", 0, day(2024, 6, 1), 1, "0")

	t.Run("latest is highest sequence", func(t *testing.T) {
		latest, err := repo.Latest(ctx, tenant.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(3), latest.Sequence)
		assert.Equal(t, account.TransTypeSmsUsed, latest.TransType)
		assert.True(t, dec("7.195").Equal(latest.Balance.Decimal))
	})

	t.Run("duplicate sequence is a concurrency conflict", func(t *testing.T) {
		e, _ := account.NewAcctTrans(tenant.ID, initType, dec("1"), 0, day(2024, 6, 3))
		e.Sequence = 3
		assert.ErrorIs(t, repo.Create(ctx, e), shared.ErrConcurrencyConflict)
	})

	t.Run("find by type and date", func(t *testing.T) {
		got, err := repo.FindByTypeAndDate(ctx, tenant.ID, smsType.ID, day(2024, 6, 1))
		require.NoError(t, err)
		assert.Equal(t, usage.ID, got.ID)
		assert.Equal(t, int64(300), got.UnitsUsed)
		assert.True(t, dec("-2.75").Equal(got.Amount))

		_, err = repo.FindByTypeAndDate(ctx, tenant.ID, smsType.ID, day(2024, 6, 5))
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("update moves entry to head", func(t *testing.T) {
		got, err := repo.FindByTypeAndDate(ctx, tenant.ID, smsType.ID, day(2024, 6, 1))
		require.NoError(t, err)
		_, err = got.ChangeUsage(320, dec("3.85"))
		require.NoError(t, err)
		got.ApplySnapshot(dec("7.195").Add(dec("2.75")))
		got.Sequence = 4
		require.NoError(t, repo.Update(ctx, got))

		latest, err := repo.Latest(ctx, tenant.ID)
		require.NoError(t, err)
		assert.Equal(t, got.ID, latest.ID)
		assert.Equal(t, int64(320), latest.UnitsUsed)
		assert.True(t, dec("6.095").Equal(latest.Balance.Decimal))
	})

	t.Run("find filters by type and month", func(t *testing.T) {
		from, to := account.MonthBounds(2024, time.June)
		june, err := repo.Find(ctx, tenant.ID, account.AcctTransFilter{DateFrom: &from, DateTo: &to})
		require.NoError(t, err)
		require.Len(t, june, 2)
		assert.True(t, june[0].InsertDate.Before(june[1].InsertDate))

		payments, err := repo.Find(ctx, tenant.ID, account.AcctTransFilter{
			TransTypeIDs: []uuid.UUID{initType.ID},
			Descending:   true,
		})
		require.NoError(t, err)
		require.Len(t, payments, 1)
		assert.Equal(t, account.TransTypeInitAmt, payments[0].TransType)
	})

	t.Run("sums are per tenant", func(t *testing.T) {
		sum, err := repo.SumAmount(ctx, &tenant.ID)
		require.NoError(t, err)
		assert.True(t, dec("6.095").Equal(sum), sum.String())

		all, err := repo.SumAmount(ctx, nil)
		require.NoError(t, err)
		assert.True(t, dec("56.095").Equal(all), all.String())

		none := uuid.New()
		zero, err := repo.SumAmount(ctx, &none)
		require.NoError(t, err)
		assert.True(t, zero.IsZero())

		from, to := account.MonthBounds(2024, time.June)
		units, err := repo.SumUnits(ctx, tenant.ID, smsType.ID, from, to)
		require.NoError(t, err)
		assert.Equal(t, int64(321), units)

		units, err = repo.SumUnits(ctx, other.ID, smsType.ID, from, to)
		require.NoError(t, err)
		assert.Zero(t, units)
	})

	t.Run("sum before a cutoff ignores later entries", func(t *testing.T) {
		cases := []struct {
			before time.Time
			want   string
		}{
			{day(2024, 5, 31), "0"},
			{day(2024, 6, 1), "10"},
			{day(2024, 6, 2), "6.15"},
			{day(2024, 7, 1), "6.095"},
		}
		for _, c := range cases {
			sum, err := repo.SumAmountBefore(ctx, tenant.ID, c.before)
			require.NoError(t, err)
			assert.True(t, dec(c.want).Equal(sum), "before %s: got %s", c.before.Format(time.DateOnly), sum)
		}

		sum, err := repo.SumAmountBefore(ctx, other.ID, day(2024, 6, 1))
		require.NoError(t, err)
		assert.True(t, sum.IsZero())
	})
}

func TestGormAcctStmtRepository(t *testing.T) {
	db := newTestDatabase(t)
	repo := NewGormAcctStmtRepository(db.DB)
	ctx := context.Background()
	tenantID := uuid.New()

	may, _ := account.NewAcctStmt(tenantID, 2024, time.May, dec("2"))
	june, _ := account.NewAcctStmt(tenantID, 2024, time.June, dec("2"))
	require.NoError(t, repo.Create(ctx, may))
	require.NoError(t, repo.Create(ctx, june))

	dup, _ := account.NewAcctStmt(tenantID, 2024, time.June, dec("2"))
	assert.ErrorIs(t, repo.Create(ctx, dup), shared.ErrAlreadyExists)

	june.Fill(321, dec("6.095"))
	require.NoError(t, repo.Update(ctx, june))

	got, err := repo.FindByPeriod(ctx, tenantID, 2024, time.June)
	require.NoError(t, err)
	assert.Equal(t, int64(321), got.TotalSMS)
	assert.True(t, dec("6.095").Equal(got.Balance))

	_, err = repo.FindByPeriod(ctx, tenantID, 2024, time.July)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	list, err := repo.ListByTenant(ctx, tenantID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, time.June, list[0].Month)
}

func TestGormTenantRepository(t *testing.T) {
	db := newTestDatabase(t)
	repo := NewGormTenantRepository(db.DB)
	ctx := context.Background()

	a := seedTenant(t, db, "alpha")
	b := seedTenant(t, db, "beta")

	require.NoError(t, repo.SetActive(ctx, b.ID, false))
	active, err := repo.FindActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, a.ID, active[0].ID)

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	a.PaymentCustomerID = "cus_123"
	require.NoError(t, repo.Save(ctx, a))
	got, err := repo.FindByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "cus_123", got.PaymentCustomerID)

	assert.ErrorIs(t, repo.SetActive(ctx, uuid.New(), true), shared.ErrNotFound)
	_, err = repo.FindByID(ctx, uuid.New())
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGormMessageLogSource(t *testing.T) {
	db := newTestDatabase(t)
	src := NewGormMessageLogSource(db.DB)
	ctx := context.Background()
	tenantID := uuid.New()
	on := day(2024, 6, 10)

	record := func(tenant uuid.UUID, at time.Time, status string) {
		require.NoError(t, src.Record(ctx, &models.MessageModel{
			TenantID: tenant, SID: uuid.NewString(), Direction: models.DirectionOutbound, Status: status, SentAt: at,
		}))
	}
	record(tenantID, on.Add(time.Hour), "delivered")
	record(tenantID, on.Add(23*time.Hour), "sent")
	record(tenantID, on.Add(2*time.Hour), "failed")
	record(tenantID, on.AddDate(0, 0, 1), "delivered")
	record(uuid.New(), on.Add(time.Hour), "delivered")

	n, err := src.CountEvents(ctx, tenantID, on)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = src.CountEvents(ctx, tenantID, on.AddDate(0, 0, -1))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGormMessageLogSource_Upsert(t *testing.T) {
	db := newTestDatabase(t)
	src := NewGormMessageLogSource(db.DB)
	ctx := context.Background()
	tenantID := uuid.New()
	on := day(2024, 6, 10)

	msg := func(status string) *models.MessageModel {
		return &models.MessageModel{
			TenantID: tenantID, SID: "SM123", Direction: models.DirectionOutbound, Status: status, SentAt: on.Add(time.Hour),
		}
	}
	require.NoError(t, src.Upsert(ctx, msg("sent")))
	n, err := src.CountEvents(ctx, tenantID, on)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// a later failure receipt for the same sid stops it being billed
	require.NoError(t, src.Upsert(ctx, msg("failed")))
	n, err = src.CountEvents(ctx, tenantID, on)
	require.NoError(t, err)
	assert.Zero(t, n)

	var rows int64
	require.NoError(t, db.DB.Model(&models.MessageModel{}).Count(&rows).Error)
	assert.Equal(t, int64(1), rows)
}

func TestGormLedgerScope(t *testing.T) {
	db := newTestDatabase(t)
	scope := NewGormLedgerScope(db.DB)
	ctx := context.Background()
	tenant := seedTenant(t, db, "scoped")
	initType := seedType(t, db, account.TransTypeInitAmt)

	t.Run("commits on success", func(t *testing.T) {
		err := scope.Execute(ctx, tenant.ID, func(repos appRepos) error {
			e, _ := account.NewAcctTrans(tenant.ID, initType, dec("10"), 0, day(2024, 6, 1))
			e.ApplySnapshot(decimal.Zero)
			e.Sequence = 1
			return repos.TransRepo().Create(ctx, e)
		})
		require.NoError(t, err)
		sum, err := NewGormAcctTransRepository(db.DB).SumAmount(ctx, &tenant.ID)
		require.NoError(t, err)
		assert.True(t, dec("10").Equal(sum))
	})

	t.Run("rolls back on error", func(t *testing.T) {
		err := scope.Execute(ctx, tenant.ID, func(repos appRepos) error {
			e, _ := account.NewAcctTrans(tenant.ID, initType, dec("20"), 0, day(2024, 6, 2))
			e.ApplySnapshot(dec("10"))
			e.Sequence = 2
			if err := repos.TransRepo().Create(ctx, e); err != nil {
				return err
			}
			return assert.AnError
		})
		require.ErrorIs(t, err, assert.AnError)
		latest, err := NewGormAcctTransRepository(db.DB).Latest(ctx, tenant.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), latest.Sequence)
	})

	t.Run("unknown tenant", func(t *testing.T) {
		called := false
		err := scope.Execute(ctx, uuid.New(), func(appRepos) error { called = true; return nil })
		assert.ErrorIs(t, err, shared.ErrNotFound)
		assert.False(t, called)
	})

	t.Run("serialises writers", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = scope.Execute(ctx, tenant.ID, func(repos appRepos) error {
					repo := repos.TransRepo()
					latest, err := repo.Latest(ctx, tenant.ID)
					if err != nil {
						return err
					}
					e, _ := account.NewAcctTrans(tenant.ID, initType, dec("1"), 0, day(2024, 6, 3))
					e.ApplySnapshot(latest.Balance.Decimal)
					e.Sequence = latest.Sequence + 1
					return repo.Create(ctx, e)
				})
			}()
		}
		wg.Wait()

		repo := NewGormAcctTransRepository(db.DB)
		latest, err := repo.Latest(ctx, tenant.ID)
		require.NoError(t, err)
		sum, err := repo.SumAmount(ctx, &tenant.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(9), latest.Sequence)
		assert.True(t, sum.Equal(latest.Balance.Decimal))
	})
}
