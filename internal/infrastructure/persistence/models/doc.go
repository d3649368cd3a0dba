// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from domain entities to keep the domain layer free of
// ORM concerns; each model carries ToDomain/FromDomain mappers.
//
// Structure:
//   - base.go: BaseModel shared by every table and the Money scale
//   - account.go: billing ledger tables (pricing, trans types, costs, entries, statements)
//   - tenant.go: tenants and the externally-owned message log
package models
