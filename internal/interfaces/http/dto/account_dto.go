package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/textress/backend/internal/domain/account"
)

// PricingTierResponse is one row of a pricing table
type PricingTierResponse struct {
	ID          uuid.UUID       `json:"id"`
	TenantID    *uuid.UUID      `json:"tenant_id,omitempty"`
	Tier        int             `json:"tier"`
	Start       int64           `json:"start"`
	End         int64           `json:"end"`
	Price       decimal.Decimal `json:"price"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
}

// FromPricingTier converts a domain tier
func FromPricingTier(t account.PricingTier) PricingTierResponse {
	return PricingTierResponse{
		ID:          t.ID,
		TenantID:    t.TenantID,
		Tier:        t.Tier,
		Start:       t.Start,
		End:         t.End,
		Price:       t.Price,
		Name:        t.TierName,
		Description: t.Description,
	}
}

// TransResponse is one ledger entry
type TransResponse struct {
	ID         uuid.UUID        `json:"id"`
	TransType  string           `json:"trans_type"`
	Amount     decimal.Decimal  `json:"amount"`
	UnitsUsed  int64            `json:"units_used"`
	InsertDate string           `json:"insert_date"`
	Balance    *decimal.Decimal `json:"balance"`
	Sequence   int64            `json:"sequence"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// FromTrans converts a ledger entry. A nil entry yields nil.
func FromTrans(t *account.AcctTrans) *TransResponse {
	if t == nil {
		return nil
	}
	resp := &TransResponse{
		ID:         t.ID,
		TransType:  t.TransType.String(),
		Amount:     t.Amount,
		UnitsUsed:  t.UnitsUsed,
		InsertDate: t.InsertDate.Format(time.DateOnly),
		Sequence:   t.Sequence,
		UpdatedAt:  t.UpdatedAt,
	}
	if t.Balance.Valid {
		b := t.Balance.Decimal
		resp.Balance = &b
	}
	return resp
}

// FromTransList converts ledger entries in order
func FromTransList(entries []*account.AcctTrans) []*TransResponse {
	out := make([]*TransResponse, len(entries))
	for i, e := range entries {
		out[i] = FromTrans(e)
	}
	return out
}

// BalanceResponse reports a tenant's balance
type BalanceResponse struct {
	TenantID uuid.UUID       `json:"tenant_id"`
	Balance  decimal.Decimal `json:"balance"`
	// Available leaves out today's still-open usage entry.
	Available decimal.Decimal `json:"available"`
	AsOf      string          `json:"as_of"`
}

// StatementResponse is a monthly statement
type StatementResponse struct {
	ID           uuid.UUID       `json:"id"`
	Year         int             `json:"year"`
	Month        int             `json:"month"`
	MonthlyCosts decimal.Decimal `json:"monthly_costs"`
	TotalSMS     int64           `json:"total_sms"`
	Balance      decimal.Decimal `json:"balance"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// FromStatement converts a statement
func FromStatement(s *account.AcctStmt) StatementResponse {
	return StatementResponse{
		ID:           s.ID,
		Year:         s.Year,
		Month:        int(s.Month),
		MonthlyCosts: s.MonthlyCosts,
		TotalSMS:     s.TotalSMS,
		Balance:      s.Balance,
		UpdatedAt:    s.UpdatedAt,
	}
}

// CostResponse is a tenant's billing policy
type CostResponse struct {
	TenantID     uuid.UUID        `json:"tenant_id"`
	InitAmt      decimal.Decimal  `json:"init_amt"`
	BalanceMin   decimal.Decimal  `json:"balance_min"`
	RechargeAmt  decimal.Decimal  `json:"recharge_amt"`
	AutoRecharge bool             `json:"auto_recharge"`
	PerUnitCost  *decimal.Decimal `json:"per_unit_cost,omitempty"`
}

// FromCost converts a policy
func FromCost(c *account.AcctCost) CostResponse {
	return CostResponse{
		TenantID:     c.TenantID,
		InitAmt:      c.InitAmt,
		BalanceMin:   c.BalanceMin,
		RechargeAmt:  c.RechargeAmt,
		AutoRecharge: c.AutoRecharge,
		PerUnitCost:  c.PerUnitCost,
	}
}

// CostPolicyRequest overrides policy fields. Omitted fields keep their value.
// Charge and balance amounts are whole dollars from the allowed lists.
type CostPolicyRequest struct {
	InitAmt      *int64           `json:"init_amt" binding:"omitempty,charge_amount"`
	BalanceMin   *int64           `json:"balance_min" binding:"omitempty,balance_amount"`
	RechargeAmt  *int64           `json:"recharge_amt" binding:"omitempty,charge_amount"`
	AutoRecharge *bool            `json:"auto_recharge"`
	PerUnitCost  *decimal.Decimal `json:"per_unit_cost"`
}

// ToInput converts the request to a policy input
func (r CostPolicyRequest) ToInput() account.AcctCostInput {
	return account.AcctCostInput{
		InitAmt:      dollars(r.InitAmt),
		BalanceMin:   dollars(r.BalanceMin),
		RechargeAmt:  dollars(r.RechargeAmt),
		AutoRecharge: r.AutoRecharge,
		PerUnitCost:  r.PerUnitCost,
	}
}

func dollars(v *int64) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := decimal.NewFromInt(*v)
	return &d
}

// OpenAccountResponse reports an account opening
type OpenAccountResponse struct {
	Opened    bool           `json:"opened"`
	Cost      CostResponse   `json:"cost"`
	InitEntry *TransResponse `json:"init_entry,omitempty"`
}

// CheckBalanceResponse reports a balance check
type CheckBalanceResponse struct {
	TenantID   uuid.UUID       `json:"tenant_id"`
	Outcome    string          `json:"outcome"`
	Balance    decimal.Decimal `json:"balance"`
	BalanceMin decimal.Decimal `json:"balance_min"`
	Reason     string          `json:"reason,omitempty"`
	Usage      *TransResponse  `json:"usage,omitempty"`
	Recharge   *TransResponse  `json:"recharge,omitempty"`
}

// PeriodRequest binds /statements/:year/:month
type PeriodRequest struct {
	Year  int `uri:"year" binding:"required,gte=2000,lte=9999"`
	Month int `uri:"month" binding:"required,gte=1,lte=12"`
}
