package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	appaccount "github.com/textress/backend/internal/application/account"
	"github.com/textress/backend/internal/domain/account"
	"github.com/textress/backend/internal/infrastructure/persistence/models"
	"github.com/textress/backend/internal/infrastructure/persistence/tenant"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Message statuses that are never billed
var unbilledStatuses = []string{"failed", "undelivered"}

// GormMessageLogSource counts billable messages in the delivery log.
// Both directions are metered; failed sends are not.
type GormMessageLogSource struct {
	db *gorm.DB
}

// NewGormMessageLogSource creates a new GormMessageLogSource
func NewGormMessageLogSource(db *gorm.DB) *GormMessageLogSource {
	return &GormMessageLogSource{db: db}
}

// CountEvents counts the tenant's billable messages sent on date (UTC day)
func (s *GormMessageLogSource) CountEvents(ctx context.Context, tenantID uuid.UUID, date time.Time) (int64, error) {
	day := account.DateOf(date, nil)
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.MessageModel{}).
		Scopes(tenant.Scope(tenantID)).
		Where("sent_at >= ? AND sent_at < ?", day, day.AddDate(0, 0, 1)).
		Where("status NOT IN ?", unbilledStatuses).
		Count(&count).Error
	return count, err
}

// Record appends a message to the log. The messaging side owns this table;
// it is exposed for seeding and tests.
func (s *GormMessageLogSource) Record(ctx context.Context, m *models.MessageModel) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return translate(s.db.WithContext(ctx).Create(m).Error)
}

// Upsert records a delivery receipt, updating the status of a message
// already logged under the same sid.
func (s *GormMessageLogSource) Upsert(ctx context.Context, m *models.MessageModel) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return translate(s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "sid"}},
			DoUpdates: clause.AssignmentColumns([]string{"status"}),
		}).
		Create(m).Error)
}

var _ appaccount.UsageEventSource = (*GormMessageLogSource)(nil)
