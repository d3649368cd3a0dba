package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/textress/backend/internal/domain/shared"
	"gorm.io/gorm"
)

// moneyPlaces is the scale of every stored amount.
const moneyPlaces = 4

// BaseModel holds the id and audit columns every billing table shares.
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// BeforeCreate assigns an ID to rows built without one.
func (m *BaseModel) BeforeCreate(*gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// Entity returns the stored identity as a domain BaseEntity.
func (m *BaseModel) Entity() shared.BaseEntity {
	return shared.BaseEntity{ID: m.ID, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt}
}

func (m *BaseModel) setEntity(e shared.BaseEntity) {
	m.ID, m.CreatedAt, m.UpdatedAt = e.ID, e.CreatedAt, e.UpdatedAt
}

// Money normalises a scanned amount. Drivers without a fixed-point type hand
// back floats, so values are rounded to the column scale.
func Money(d decimal.Decimal) decimal.Decimal {
	return d.Round(moneyPlaces)
}
