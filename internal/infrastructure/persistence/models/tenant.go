package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/textress/backend/internal/domain/account"
)

// TenantModel is the persistence model for a billed tenant
type TenantModel struct {
	BaseModel
	Name              string `gorm:"type:varchar(200);not null"`
	Email             string `gorm:"type:varchar(255)"`
	Active            bool   `gorm:"not null;default:true;index"`
	PaymentCustomerID string `gorm:"type:varchar(100)"`
}

// TableName returns the table name for GORM
func (TenantModel) TableName() string {
	return "tenants"
}

// ToDomain converts the model to a domain Tenant
func (m *TenantModel) ToDomain() *account.Tenant {
	return &account.Tenant{
		BaseEntity:        m.Entity(),
		Name:              m.Name,
		Email:             m.Email,
		Active:            m.Active,
		PaymentCustomerID: m.PaymentCustomerID,
	}
}

// TenantModelFromDomain creates a model from a domain Tenant
func TenantModelFromDomain(t *account.Tenant) *TenantModel {
	m := &TenantModel{
		Name:              t.Name,
		Email:             t.Email,
		Active:            t.Active,
		PaymentCustomerID: t.PaymentCustomerID,
	}
	m.setEntity(t.BaseEntity)
	return m
}

// Message directions
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// MessageModel is a row of the message delivery log. The messaging side of
// the application owns it; billing only counts rows.
type MessageModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID  uuid.UUID `gorm:"type:uuid;not null;index:idx_messages_tenant_sent,priority:1"`
	SID       string    `gorm:"column:sid;type:varchar(64);uniqueIndex"`
	Direction string    `gorm:"type:varchar(10);not null"`
	Status    string    `gorm:"type:varchar(20);not null"`
	SentAt    time.Time `gorm:"not null;index:idx_messages_tenant_sent,priority:2"`
}

// TableName returns the table name for GORM
func (MessageModel) TableName() string {
	return "messages"
}

// All lists every model for auto-migration in development and tests.
func All() []any {
	return []any{
		&TenantModel{},
		&PricingTierModel{},
		&TransTypeModel{},
		&AcctCostModel{},
		&AcctTransModel{},
		&AcctStmtModel{},
		&MessageModel{},
	}
}
