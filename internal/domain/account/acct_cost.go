package account

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/textress/backend/internal/domain/shared"
)

// Allowed policy amounts, in dollars.
var (
	ChargeAmounts  = []int64{10, 20, 50, 100}
	BalanceAmounts = []int64{5, 10, 20, 50}
)

// Default policy values applied to a tenant without overrides.
var (
	DefaultInitAmt     = decimal.NewFromInt(ChargeAmounts[0])
	DefaultBalanceMin  = decimal.NewFromInt(BalanceAmounts[0])
	DefaultRechargeAmt = decimal.NewFromInt(ChargeAmounts[0])
)

// AcctCost is the per-tenant billing policy. One live record per tenant.
type AcctCost struct {
	shared.BaseEntity
	TenantID     uuid.UUID
	InitAmt      decimal.Decimal
	BalanceMin   decimal.Decimal
	RechargeAmt  decimal.Decimal
	AutoRecharge bool
	PerUnitCost  *decimal.Decimal
}

// AcctCostInput carries optional overrides for an upsert. Nil fields keep the current value.
type AcctCostInput struct {
	InitAmt      *decimal.Decimal
	BalanceMin   *decimal.Decimal
	RechargeAmt  *decimal.Decimal
	AutoRecharge *bool
	PerUnitCost  *decimal.Decimal
}

// IsEmpty reports whether the input overrides nothing.
func (in AcctCostInput) IsEmpty() bool {
	return in.InitAmt == nil && in.BalanceMin == nil && in.RechargeAmt == nil &&
		in.AutoRecharge == nil && in.PerUnitCost == nil
}

// NewAcctCost creates a policy with defaults and applies the input on top.
func NewAcctCost(tenantID uuid.UUID, in AcctCostInput) (*AcctCost, error) {
	if tenantID == uuid.Nil {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "Tenant ID cannot be empty")
	}
	c := &AcctCost{
		BaseEntity:   shared.NewBaseEntity(),
		TenantID:     tenantID,
		InitAmt:      DefaultInitAmt,
		BalanceMin:   DefaultBalanceMin,
		RechargeAmt:  DefaultRechargeAmt,
		AutoRecharge: true,
	}
	if err := c.Apply(in); err != nil {
		return nil, err
	}
	return c, nil
}

// Apply validates every override before merging any of them.
func (c *AcctCost) Apply(in AcctCostInput) error {
	if in.InitAmt != nil && !allowed(*in.InitAmt, ChargeAmounts) {
		return ErrInvalidAmount
	}
	if in.RechargeAmt != nil && !allowed(*in.RechargeAmt, ChargeAmounts) {
		return ErrInvalidAmount
	}
	if in.BalanceMin != nil && !allowed(*in.BalanceMin, BalanceAmounts) {
		return ErrInvalidAmount
	}
	if in.PerUnitCost != nil && in.PerUnitCost.IsNegative() {
		return ErrInvalidAmount
	}

	if in.InitAmt != nil {
		c.InitAmt = *in.InitAmt
	}
	if in.BalanceMin != nil {
		c.BalanceMin = *in.BalanceMin
	}
	if in.RechargeAmt != nil {
		c.RechargeAmt = *in.RechargeAmt
	}
	if in.AutoRecharge != nil {
		c.AutoRecharge = *in.AutoRecharge
	}
	if in.PerUnitCost != nil {
		v := *in.PerUnitCost
		c.PerUnitCost = &v
	}
	if !in.IsEmpty() {
		c.Touch()
	}
	return nil
}

// BelowMinimum reports whether a balance breaches the recharge threshold.
func (c *AcctCost) BelowMinimum(balance decimal.Decimal) bool {
	return balance.LessThan(c.BalanceMin)
}

func allowed(v decimal.Decimal, choices []int64) bool {
	for _, c := range choices {
		if v.Equal(decimal.NewFromInt(c)) {
			return true
		}
	}
	return false
}
