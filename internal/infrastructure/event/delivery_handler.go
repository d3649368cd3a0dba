package event

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/textress/backend/internal/domain/shared"
	"github.com/textress/backend/internal/infrastructure/persistence/models"
	"go.uber.org/zap"
)

// MessageLog stores delivery receipts.
type MessageLog interface {
	Upsert(ctx context.Context, m *models.MessageModel) error
}

// ReconcileQueue defers a usage re-count for a tenant's day.
type ReconcileQueue interface {
	Schedule(ctx context.Context, tenantID uuid.UUID, date time.Time) (bool, error)
}

// DeliveryMetrics tracks delivery handling statistics
type DeliveryMetrics struct {
	Processed atomic.Int64
	Duplicate atomic.Int64
	Invalid   atomic.Int64
	Failed    atomic.Int64
}

// DeliveryStats is a snapshot of DeliveryMetrics
type DeliveryStats struct {
	Processed int64 `json:"processed"`
	Duplicate int64 `json:"duplicate"`
	Invalid   int64 `json:"invalid"`
	Failed    int64 `json:"failed"`
}

// Stats returns a snapshot of the current metrics
func (m *DeliveryMetrics) Stats() DeliveryStats {
	return DeliveryStats{
		Processed: m.Processed.Load(),
		Duplicate: m.Duplicate.Load(),
		Invalid:   m.Invalid.Load(),
		Failed:    m.Failed.Load(),
	}
}

// DeliveryHandler applies delivery receipts to the message log and queues a
// usage re-count for the affected day.
type DeliveryHandler struct {
	log     MessageLog
	dedup   shared.IdempotencyStore
	queue   ReconcileQueue
	ttl     time.Duration
	logger  *zap.Logger
	metrics *DeliveryMetrics
}

// DeliveryHandlerOption is a functional option for DeliveryHandler
type DeliveryHandlerOption func(*DeliveryHandler)

// WithReconcileQueue enables deferred usage reconciliation.
func WithReconcileQueue(q ReconcileQueue) DeliveryHandlerOption {
	return func(h *DeliveryHandler) {
		h.queue = q
	}
}

// WithDedupTTL sets how long processed receipts are remembered.
func WithDedupTTL(ttl time.Duration) DeliveryHandlerOption {
	return func(h *DeliveryHandler) {
		h.ttl = ttl
	}
}

// NewDeliveryHandler creates a handler.
func NewDeliveryHandler(log MessageLog, dedup shared.IdempotencyStore, logger *zap.Logger, opts ...DeliveryHandlerOption) *DeliveryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &DeliveryHandler{
		log:     log,
		dedup:   dedup,
		ttl:     48 * time.Hour,
		logger:  logger,
		metrics: &DeliveryMetrics{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle processes one record. Malformed records are dropped so they cannot
// block their partition; storage failures are returned for redelivery.
func (h *DeliveryHandler) Handle(ctx context.Context, msg Message) error {
	ev, err := DecodeDeliveryEvent(msg.Value)
	if err != nil {
		h.metrics.Invalid.Add(1)
		h.logger.Warn("Dropping invalid delivery event",
			zap.String("topic", msg.Topic),
			zap.Int32("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return nil
	}

	key := ev.DedupKey()
	seen, err := h.dedup.IsProcessed(ctx, key)
	if err != nil {
		// upsert is idempotent, so a dedup outage only costs a write
		h.logger.Warn("Failed to check delivery dedup, processing anyway",
			zap.String("key", key),
			zap.Error(err))
	} else if seen {
		h.metrics.Duplicate.Add(1)
		return nil
	}

	if err := h.log.Upsert(ctx, ev.ToModel()); err != nil {
		h.metrics.Failed.Add(1)
		return err
	}
	// marked after the write so a crash in between redelivers the receipt
	if _, err := h.dedup.MarkProcessed(ctx, key, h.ttl); err != nil {
		h.logger.Warn("Failed to mark delivery processed",
			zap.String("key", key),
			zap.Error(err))
	}

	if h.queue != nil {
		if _, err := h.queue.Schedule(ctx, ev.TenantID, ev.SentAt); err != nil && !errors.Is(err, context.Canceled) {
			// the daily tick recounts the day regardless
			h.logger.Warn("Failed to queue usage reconciliation",
				zap.String("tenant_id", ev.TenantID.String()),
				zap.Error(err))
		}
	}

	h.metrics.Processed.Add(1)
	h.logger.Debug("Delivery event applied",
		zap.String("tenant_id", ev.TenantID.String()),
		zap.String("sid", ev.SID),
		zap.String("status", ev.Status))
	return nil
}

// Metrics returns the handler's counters.
func (h *DeliveryHandler) Metrics() *DeliveryMetrics {
	return h.metrics
}
