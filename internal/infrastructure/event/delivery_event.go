package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/textress/backend/internal/infrastructure/persistence/models"
)

// ErrInvalidEvent marks a record that can never be processed.
var ErrInvalidEvent = errors.New("invalid delivery event")

// DeliveryEvent is a message receipt published by the messaging service.
// The same sid is published again whenever its status changes.
type DeliveryEvent struct {
	EventID   string    `json:"event_id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	SID       string    `json:"sid"`
	Direction string    `json:"direction"`
	Status    string    `json:"status"`
	SentAt    time.Time `json:"sent_at"`
}

// DecodeDeliveryEvent parses and validates a record value.
func DecodeDeliveryEvent(data []byte) (*DeliveryEvent, error) {
	var ev DeliveryEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Validate checks the fields the billing side depends on.
func (e *DeliveryEvent) Validate() error {
	switch {
	case e.TenantID == uuid.Nil:
		return fmt.Errorf("%w: missing tenant_id", ErrInvalidEvent)
	case e.SID == "":
		return fmt.Errorf("%w: missing sid", ErrInvalidEvent)
	case e.Status == "":
		return fmt.Errorf("%w: missing status", ErrInvalidEvent)
	case e.SentAt.IsZero():
		return fmt.Errorf("%w: missing sent_at", ErrInvalidEvent)
	}
	if e.Direction != models.DirectionInbound && e.Direction != models.DirectionOutbound {
		return fmt.Errorf("%w: direction %q", ErrInvalidEvent, e.Direction)
	}
	return nil
}

// DedupKey identifies one receipt. Producers that omit event_id are keyed by
// sid and status, which is unique per state transition.
func (e *DeliveryEvent) DedupKey() string {
	if e.EventID != "" {
		return e.EventID
	}
	return e.SID + ":" + e.Status
}

// ToModel maps the event onto the message log row.
func (e *DeliveryEvent) ToModel() *models.MessageModel {
	return &models.MessageModel{
		TenantID:  e.TenantID,
		SID:       e.SID,
		Direction: e.Direction,
		Status:    e.Status,
		SentAt:    e.SentAt.UTC(),
	}
}
