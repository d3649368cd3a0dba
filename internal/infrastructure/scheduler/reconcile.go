package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/textress/backend/internal/domain/account"
	"github.com/textress/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// UsageReconciler re-counts a tenant's usage for a day.
type UsageReconciler interface {
	CreateOrUpdateUsage(ctx context.Context, tenantID uuid.UUID, date time.Time) (*account.AcctTrans, error)
}

// ReconcileConfig holds deferred reconciliation settings.
type ReconcileConfig struct {
	Delay      time.Duration
	JobTimeout time.Duration
}

// DefaultReconcileConfig returns default reconciliation settings.
func DefaultReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		Delay:      time.Minute,
		JobTimeout: 30 * time.Second,
	}
}

// ReconcileScheduler re-counts a tenant's day a fixed delay after a delivery
// event. Events for the same tenant and day inside one delay window collapse
// into a single run.
type ReconcileScheduler struct {
	config ReconcileConfig
	usage  UsageReconciler
	dedup  shared.IdempotencyStore
	logger *zap.Logger
	now    func() time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	timers    map[string]*time.Timer
}

// NewReconcileScheduler creates a reconcile scheduler.
func NewReconcileScheduler(cfg ReconcileConfig, usage UsageReconciler, dedup shared.IdempotencyStore, logger *zap.Logger) (*ReconcileScheduler, error) {
	if cfg.Delay <= 0 || cfg.JobTimeout <= 0 {
		return nil, fmt.Errorf("%w: reconcile delay and timeout must be positive", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconcileScheduler{
		config: cfg,
		usage:  usage,
		dedup:  dedup,
		logger: logger,
		now:    time.Now,
		timers: make(map[string]*time.Timer),
	}, nil
}

// Start enables scheduling.
func (s *ReconcileScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.isRunning = true
	s.logger.Info("Reconcile scheduler started", zap.Duration("delay", s.config.Delay))
	return nil
}

// Stop drops pending runs and waits for in-flight ones.
func (s *ReconcileScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	for key, t := range s.timers {
		if t.Stop() {
			s.wg.Done()
		}
		delete(s.timers, key)
	}
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Reconcile scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Reconcile scheduler stop timed out")
		return ctx.Err()
	}
}

// Schedule queues a re-count of tenantID's usage on date. It returns false
// when a run for the same tenant, day and window is already queued.
func (s *ReconcileScheduler) Schedule(ctx context.Context, tenantID uuid.UUID, date time.Time) (bool, error) {
	day := account.DateOf(date, nil)
	window := s.now().Truncate(s.config.Delay).Unix()
	key := fmt.Sprintf("reconcile:%s:%s:%d", tenantID, day.Format("2006-01-02"), window)

	s.mu.Lock()
	running := s.isRunning
	s.mu.Unlock()
	if !running {
		return false, ErrSchedulerNotRunning
	}

	fresh, err := s.dedup.MarkProcessed(ctx, key, 2*s.config.Delay)
	if err != nil {
		return false, fmt.Errorf("dedup reconcile %s: %w", key, err)
	}
	if !fresh {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return false, ErrSchedulerNotRunning
	}
	s.wg.Add(1)
	s.timers[key] = time.AfterFunc(s.config.Delay, func() {
		defer s.wg.Done()
		s.mu.Lock()
		delete(s.timers, key)
		base := s.ctx
		s.mu.Unlock()
		s.reconcile(base, tenantID, day)
	})
	return true, nil
}

// Pending returns the number of queued runs.
func (s *ReconcileScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *ReconcileScheduler) reconcile(ctx context.Context, tenantID uuid.UUID, day time.Time) {
	if ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()

	entry, err := s.usage.CreateOrUpdateUsage(ctx, tenantID, day)
	if err != nil {
		s.logger.Error("Deferred usage reconciliation failed",
			zap.String("tenant_id", tenantID.String()),
			zap.Time("date", day),
			zap.Error(err))
		return
	}
	fields := []zap.Field{
		zap.String("tenant_id", tenantID.String()),
		zap.Time("date", day),
	}
	if entry != nil {
		fields = append(fields, zap.Int64("units", entry.UnitsUsed), zap.String("amount", entry.Amount.String()))
	}
	s.logger.Debug("Usage reconciled", fields...)
}
