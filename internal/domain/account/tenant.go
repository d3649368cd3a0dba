package account

import "github.com/textress/backend/internal/domain/shared"

// Tenant is the billed hotel. The record is owned by the guest-messaging
// application; billing only reads it and toggles Active.
type Tenant struct {
	shared.BaseEntity
	Name              string
	Email             string
	Active            bool
	PaymentCustomerID string
}

// NewTenant creates an active tenant.
func NewTenant(name, email string) *Tenant {
	return &Tenant{
		BaseEntity: shared.NewBaseEntity(),
		Name:       name,
		Email:      email,
		Active:     true,
	}
}
