package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/textress/backend/internal/domain/account"
)

// PricingTierModel is the persistence model for a PricingTier.
// A NULL tenant_id row belongs to the global table.
type PricingTierModel struct {
	BaseModel
	TenantID    *uuid.UUID      `gorm:"type:uuid;uniqueIndex:idx_pricing_tenant_tier,priority:1"`
	Tier        int             `gorm:"not null;uniqueIndex:idx_pricing_tenant_tier,priority:2"`
	Start       int64           `gorm:"column:start_units;not null"`
	End         int64           `gorm:"column:end_units;not null;default:0"`
	Price       decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	TierName    string          `gorm:"type:varchar(100);not null"`
	Description string          `gorm:"type:varchar(255)"`
}

// TableName returns the table name for GORM
func (PricingTierModel) TableName() string {
	return "pricing_tiers"
}

// ToDomain converts the model to a domain PricingTier
func (m *PricingTierModel) ToDomain() account.PricingTier {
	return account.PricingTier{
		BaseEntity:  m.Entity(),
		TenantID:    m.TenantID,
		Tier:        m.Tier,
		Start:       m.Start,
		End:         m.End,
		Price:       Money(m.Price),
		TierName:    m.TierName,
		Description: m.Description,
	}
}

// PricingTierModelFromDomain creates a model from a domain PricingTier
func PricingTierModelFromDomain(t account.PricingTier) *PricingTierModel {
	m := &PricingTierModel{
		TenantID:    t.TenantID,
		Tier:        t.Tier,
		Start:       t.Start,
		End:         t.End,
		Price:       t.Price,
		TierName:    t.TierName,
		Description: t.Description,
	}
	m.setEntity(t.BaseEntity)
	return m
}

// TransTypeModel is the persistence model for a TransType
type TransTypeModel struct {
	BaseModel
	Name        string `gorm:"type:varchar(50);not null;uniqueIndex"`
	Description string `gorm:"type:varchar(255)"`
}

// TableName returns the table name for GORM
func (TransTypeModel) TableName() string {
	return "trans_types"
}

// ToDomain converts the model to a domain TransType
func (m *TransTypeModel) ToDomain() *account.TransType {
	return &account.TransType{
		BaseEntity:  m.Entity(),
		Name:        account.TransTypeName(m.Name),
		Description: m.Description,
	}
}

// TransTypeModelFromDomain creates a model from a domain TransType
func TransTypeModelFromDomain(t *account.TransType) *TransTypeModel {
	m := &TransTypeModel{Name: t.Name.String(), Description: t.Description}
	m.setEntity(t.BaseEntity)
	return m
}

// AcctCostModel is the persistence model for a tenant's AcctCost policy.
// The unique tenant_id backs the one-record-per-tenant rule.
type AcctCostModel struct {
	BaseModel
	TenantID     uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex"`
	InitAmt      decimal.Decimal  `gorm:"type:decimal(18,4);not null"`
	BalanceMin   decimal.Decimal  `gorm:"type:decimal(18,4);not null"`
	RechargeAmt  decimal.Decimal  `gorm:"type:decimal(18,4);not null"`
	AutoRecharge bool             `gorm:"not null;default:true"`
	PerUnitCost  *decimal.Decimal `gorm:"type:decimal(18,4)"`
}

// TableName returns the table name for GORM
func (AcctCostModel) TableName() string {
	return "acct_costs"
}

// ToDomain converts the model to a domain AcctCost
func (m *AcctCostModel) ToDomain() *account.AcctCost {
	c := &account.AcctCost{
		BaseEntity:   m.Entity(),
		TenantID:     m.TenantID,
		InitAmt:      Money(m.InitAmt),
		BalanceMin:   Money(m.BalanceMin),
		RechargeAmt:  Money(m.RechargeAmt),
		AutoRecharge: m.AutoRecharge,
	}
	if m.PerUnitCost != nil {
		v := Money(*m.PerUnitCost)
		c.PerUnitCost = &v
	}
	return c
}

// AcctCostModelFromDomain creates a model from a domain AcctCost
func AcctCostModelFromDomain(c *account.AcctCost) *AcctCostModel {
	m := &AcctCostModel{
		TenantID:     c.TenantID,
		InitAmt:      c.InitAmt,
		BalanceMin:   c.BalanceMin,
		RechargeAmt:  c.RechargeAmt,
		AutoRecharge: c.AutoRecharge,
		PerUnitCost:  c.PerUnitCost,
	}
	m.setEntity(c.BaseEntity)
	return m
}

// AcctTransModel is the persistence model for a ledger entry.
type AcctTransModel struct {
	BaseModel
	TenantID    uuid.UUID           `gorm:"type:uuid;not null;index:idx_acct_trans_tenant_date,priority:1;uniqueIndex:idx_acct_trans_tenant_seq,priority:1"`
	TransTypeID uuid.UUID           `gorm:"type:uuid;not null;index"`
	TransType   TransTypeModel      `gorm:"foreignKey:TransTypeID"`
	Amount      decimal.Decimal     `gorm:"type:decimal(18,4);not null"`
	UnitsUsed   int64               `gorm:"not null;default:0"`
	InsertDate  time.Time           `gorm:"type:date;not null;index:idx_acct_trans_tenant_date,priority:2"`
	Balance     decimal.NullDecimal `gorm:"type:decimal(18,4)"`
	Sequence    int64               `gorm:"not null;uniqueIndex:idx_acct_trans_tenant_seq,priority:2,sort:desc"`
}

// TableName returns the table name for GORM
func (AcctTransModel) TableName() string {
	return "acct_trans"
}

// ToDomain converts the model to a domain AcctTrans. TransType must be loaded.
func (m *AcctTransModel) ToDomain() *account.AcctTrans {
	balance := m.Balance
	if balance.Valid {
		balance.Decimal = Money(balance.Decimal)
	}
	return &account.AcctTrans{
		BaseEntity:  m.Entity(),
		TenantID:    m.TenantID,
		TransTypeID: m.TransTypeID,
		TransType:   account.TransTypeName(m.TransType.Name),
		Amount:      Money(m.Amount),
		UnitsUsed:   m.UnitsUsed,
		InsertDate:  m.InsertDate.UTC(),
		Balance:     balance,
		Sequence:    m.Sequence,
	}
}

// AcctTransModelFromDomain creates a model from a domain AcctTrans. The
// TransType association is left empty so GORM never upserts it.
func AcctTransModelFromDomain(t *account.AcctTrans) *AcctTransModel {
	m := &AcctTransModel{
		TenantID:    t.TenantID,
		TransTypeID: t.TransTypeID,
		Amount:      t.Amount,
		UnitsUsed:   t.UnitsUsed,
		InsertDate:  t.InsertDate,
		Balance:     t.Balance,
		Sequence:    t.Sequence,
	}
	m.setEntity(t.BaseEntity)
	return m
}

// AcctStmtModel is the persistence model for a monthly statement
type AcctStmtModel struct {
	BaseModel
	TenantID     uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_acct_stmt_period,priority:1"`
	Year         int             `gorm:"not null;uniqueIndex:idx_acct_stmt_period,priority:2"`
	Month        int             `gorm:"not null;uniqueIndex:idx_acct_stmt_period,priority:3"`
	MonthlyCosts decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	TotalSMS     int64           `gorm:"column:total_sms;not null;default:0"`
	Balance      decimal.Decimal `gorm:"type:decimal(18,4);not null"`
}

// TableName returns the table name for GORM
func (AcctStmtModel) TableName() string {
	return "acct_stmts"
}

// ToDomain converts the model to a domain AcctStmt
func (m *AcctStmtModel) ToDomain() *account.AcctStmt {
	return &account.AcctStmt{
		BaseEntity:   m.Entity(),
		TenantID:     m.TenantID,
		Year:         m.Year,
		Month:        time.Month(m.Month),
		MonthlyCosts: Money(m.MonthlyCosts),
		TotalSMS:     m.TotalSMS,
		Balance:      Money(m.Balance),
	}
}

// AcctStmtModelFromDomain creates a model from a domain AcctStmt
func AcctStmtModelFromDomain(s *account.AcctStmt) *AcctStmtModel {
	m := &AcctStmtModel{
		TenantID:     s.TenantID,
		Year:         s.Year,
		Month:        int(s.Month),
		MonthlyCosts: s.MonthlyCosts,
		TotalSMS:     s.TotalSMS,
		Balance:      s.Balance,
	}
	m.setEntity(s.BaseEntity)
	return m
}
