package shared

import (
	"time"

	"github.com/google/uuid"
)

// BaseEntity is the identity and audit stamps of a stored record.
type BaseEntity struct {
	ID        uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewBaseEntity assigns a fresh ID and stamps both times with the current UTC time.
func NewBaseEntity() BaseEntity {
	now := time.Now().UTC()
	return BaseEntity{ID: uuid.New(), CreatedAt: now, UpdatedAt: now}
}

// Touch bumps UpdatedAt.
func (e *BaseEntity) Touch() {
	e.UpdatedAt = time.Now().UTC()
}

// Revision identifies the record's current state by its UpdatedAt in
// microseconds, the finest resolution postgres keeps.
func (e BaseEntity) Revision() int64 {
	return e.UpdatedAt.UnixMicro()
}
