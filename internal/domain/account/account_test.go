package account

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/textress/backend/internal/domain/shared"
)

func TestTransTypeName(t *testing.T) {
	t.Run("known names are valid", func(t *testing.T) {
		for _, n := range KnownTransTypes {
			assert.True(t, n.IsValid(), "expected %s to be valid", n)
			assert.NotEmpty(t, n.Description())
		}
		assert.False(t, TransTypeName("refund").IsValid())
	})

	t.Run("Signed follows the entry kind", func(t *testing.T) {
		ten := decimal.NewFromInt(10)
		assert.True(t, TransTypeInitAmt.Signed(ten).Equal(ten))
		assert.True(t, TransTypeRechargeAmt.Signed(ten.Neg()).Equal(ten))
		assert.True(t, TransTypeBulkDiscount.Signed(ten).Equal(ten))
		assert.True(t, TransTypeSmsUsed.Signed(ten).Equal(ten.Neg()))
		assert.True(t, TransTypePhoneNumber.Signed(ten.Neg()).Equal(ten.Neg()))
	})

	t.Run("NewTransType rejects unknown names", func(t *testing.T) {
		_, err := NewTransType("refund")
		assert.ErrorIs(t, err, ErrTransTypeMissing)

		tt, err := NewTransType(TransTypeSmsUsed)
		require.NoError(t, err)
		assert.Equal(t, TransTypeSmsUsed, tt.Name)
		assert.NotEqual(t, uuid.Nil, tt.ID)
	})
}

func TestAcctCost(t *testing.T) {
	tenantID := uuid.New()

	t.Run("defaults", func(t *testing.T) {
		c, err := NewAcctCost(tenantID, AcctCostInput{})
		require.NoError(t, err)
		assert.True(t, c.InitAmt.Equal(decimal.NewFromInt(10)))
		assert.True(t, c.BalanceMin.Equal(decimal.NewFromInt(5)))
		assert.True(t, c.RechargeAmt.Equal(decimal.NewFromInt(10)))
		assert.True(t, c.AutoRecharge)
		assert.Nil(t, c.PerUnitCost)
	})

	t.Run("rejects empty tenant", func(t *testing.T) {
		_, err := NewAcctCost(uuid.Nil, AcctCostInput{})
		require.Error(t, err)
	})

	t.Run("Apply validates every field before merging", func(t *testing.T) {
		c, err := NewAcctCost(tenantID, AcctCostInput{})
		require.NoError(t, err)

		good := decimal.NewFromInt(50)
		bad := decimal.NewFromInt(7)
		err = c.Apply(AcctCostInput{RechargeAmt: &good, BalanceMin: &bad})
		assert.ErrorIs(t, err, ErrInvalidAmount)
		assert.True(t, c.RechargeAmt.Equal(DefaultRechargeAmt), "no partial update")
	})

	t.Run("Apply merges allowed values", func(t *testing.T) {
		c, err := NewAcctCost(tenantID, AcctCostInput{})
		require.NoError(t, err)
		before := c.UpdatedAt

		min20 := decimal.NewFromInt(20)
		off := false
		perUnit := dec("0.05")
		time.Sleep(time.Millisecond)
		require.NoError(t, c.Apply(AcctCostInput{BalanceMin: &min20, AutoRecharge: &off, PerUnitCost: &perUnit}))
		assert.True(t, c.BalanceMin.Equal(min20))
		assert.False(t, c.AutoRecharge)
		require.NotNil(t, c.PerUnitCost)
		assert.True(t, c.PerUnitCost.Equal(perUnit))
		assert.True(t, c.UpdatedAt.After(before))
	})

	t.Run("init amount must be a charge amount", func(t *testing.T) {
		five := decimal.NewFromInt(5)
		_, err := NewAcctCost(tenantID, AcctCostInput{InitAmt: &five})
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("BelowMinimum", func(t *testing.T) {
		c, err := NewAcctCost(tenantID, AcctCostInput{})
		require.NoError(t, err)
		assert.True(t, c.BelowMinimum(dec("4.99")))
		assert.False(t, c.BelowMinimum(dec("5")))
	})
}

func TestAcctTrans(t *testing.T) {
	tenantID := uuid.New()
	smsUsed, _ := NewTransType(TransTypeSmsUsed)
	recharge, _ := NewTransType(TransTypeRechargeAmt)

	t.Run("usage entries are debits dated at UTC midnight", func(t *testing.T) {
		when := time.Date(2026, 3, 14, 18, 30, 0, 0, time.UTC)
		e, err := NewAcctTrans(tenantID, smsUsed, dec("2.75"), 300, when)
		require.NoError(t, err)
		assert.True(t, e.Amount.Equal(dec("-2.75")))
		assert.Equal(t, int64(300), e.UnitsUsed)
		assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), e.InsertDate)
		assert.True(t, e.IsUsage())
		assert.False(t, e.IsPayment())
		assert.False(t, e.Balance.Valid)
	})

	t.Run("units are dropped for non-usage entries", func(t *testing.T) {
		e, err := NewAcctTrans(tenantID, recharge, dec("10"), 99, time.Now())
		require.NoError(t, err)
		assert.Zero(t, e.UnitsUsed)
		assert.True(t, e.IsPayment())
	})

	t.Run("rejects missing type and negative units", func(t *testing.T) {
		_, err := NewAcctTrans(tenantID, nil, dec("1"), 0, time.Now())
		assert.ErrorIs(t, err, ErrTransTypeMissing)

		_, err = NewAcctTrans(tenantID, smsUsed, dec("1"), -1, time.Now())
		assert.ErrorIs(t, err, ErrNegativeUnits)
	})

	t.Run("ChangeUsage reports unchanged input", func(t *testing.T) {
		e, err := NewAcctTrans(tenantID, smsUsed, dec("2.75"), 300, time.Now())
		require.NoError(t, err)

		changed, err := e.ChangeUsage(300, dec("2.75"))
		require.NoError(t, err)
		assert.False(t, changed)

		changed, err = e.ChangeUsage(320, dec("3.85"))
		require.NoError(t, err)
		assert.True(t, changed)
		assert.True(t, e.Amount.Equal(dec("-3.85")))
	})

	t.Run("ChangeUsage is refused on non-usage entries", func(t *testing.T) {
		e, err := NewAcctTrans(tenantID, recharge, dec("10"), 0, time.Now())
		require.NoError(t, err)
		_, err = e.ChangeUsage(1, dec("1"))
		assert.ErrorIs(t, err, shared.ErrInvalidState)
	})

	t.Run("ApplySnapshot chains from the prior balance", func(t *testing.T) {
		e, err := NewAcctTrans(tenantID, smsUsed, dec("2.75"), 300, time.Now())
		require.NoError(t, err)
		e.ApplySnapshot(dec("10"))
		assert.True(t, ResolveLastTransBalance(e).Equal(dec("7.25")))
	})

	t.Run("ResolveLastTransBalance is nil safe", func(t *testing.T) {
		assert.True(t, ResolveLastTransBalance(nil).IsZero())
		assert.True(t, ResolveLastTransBalance(&AcctTrans{}).IsZero())
	})
}

func TestAcctStmt(t *testing.T) {
	tenantID := uuid.New()

	_, err := NewAcctStmt(tenantID, 2026, 13, decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidPeriod)

	stmt, err := NewAcctStmt(tenantID, 2026, time.February, dec("2.00"))
	require.NoError(t, err)
	stmt.Fill(420, dec("17.5"))
	assert.Equal(t, int64(420), stmt.TotalSMS)
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), stmt.Period())
}

func TestAutoRechargeError(t *testing.T) {
	cause := errors.New("card declined")
	err := error(&AutoRechargeError{TenantID: uuid.New(), Reason: ReasonCaptureFailed, Cause: cause})

	assert.ErrorIs(t, err, ErrAutoRechargeUnavailable)
	assert.ErrorIs(t, err, cause)

	are, ok := IsAutoRechargeUnavailable(err)
	require.True(t, ok)
	assert.Equal(t, ReasonCaptureFailed, are.Reason)
	assert.Contains(t, err.Error(), "card declined")

	_, ok = IsAutoRechargeUnavailable(cause)
	assert.False(t, ok)
}

func TestDates(t *testing.T) {
	loc := time.FixedZone("PDT", -7*60*60)

	// 02:00 UTC on the 2nd is still the 1st at UTC-7
	ts := time.Date(2026, 6, 2, 2, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), DateOf(ts, loc))
	assert.Equal(t, time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC), DateOf(ts, nil))

	start, next := MonthBounds(2026, time.December)
	assert.Equal(t, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), next)
	assert.Equal(t, start, MonthStart(time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)))
	assert.True(t, SameMonth(start, next.AddDate(0, 0, -1)))
	assert.False(t, SameMonth(start, next))
}
