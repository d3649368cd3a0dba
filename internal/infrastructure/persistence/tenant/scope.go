// Package tenant provides GORM scopes that confine queries to one tenant's rows.
package tenant

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Column is the tenant key on every tenant-owned table.
const Column = "tenant_id"

// ErrTenantIDRequired is added to the query when the tenant ID is the nil UUID.
var ErrTenantIDRequired = errors.New("tenant_id is required")

// Scope filters by tenantID. A nil UUID fails the query instead of
// matching nothing, so a missing tenant never reads as an empty ledger.
func Scope(tenantID uuid.UUID) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if tenantID == uuid.Nil {
			_ = db.AddError(ErrTenantIDRequired)
			return db
		}
		return db.Where(Column+" = ?", tenantID)
	}
}

// GlobalOr filters by tenantID, or selects the rows owned by no tenant when
// tenantID is nil.
func GlobalOr(tenantID *uuid.UUID) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if tenantID == nil {
			return db.Where(Column + " IS NULL")
		}
		return Scope(*tenantID)(db)
	}
}

// Optional filters by tenantID when set and leaves the query unscoped otherwise.
func Optional(tenantID *uuid.UUID) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if tenantID == nil {
			return db
		}
		return Scope(*tenantID)(db)
	}
}
