package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	appaccount "github.com/textress/backend/internal/application/account"
	"github.com/textress/backend/internal/domain/account"
	"github.com/textress/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// JobStatus represents the status of a scheduled job
type JobStatus string

const (
	JobStatusPending JobStatus = "PENDING"
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusFailed  JobStatus = "FAILED"
)

// Job is one run of a billing job for a period.
type Job struct {
	ID          uuid.UUID
	Name        string
	Date        time.Time // billing day or first day of the statement month
	Period      string    // dedup key, e.g. 2024-06-14 or 2024-05
	Status      JobStatus
	Error       string
	Report      *appaccount.TickReport
	StartedAt   *time.Time
	CompletedAt *time.Time
	RetryCount  int
	MaxRetries  int
	NextRetryAt *time.Time
}

// NewJob creates a pending job.
func NewJob(name string, date time.Time, period string, maxRetries int) *Job {
	return &Job{
		ID:         uuid.New(),
		Name:       name,
		Date:       date,
		Period:     period,
		Status:     JobStatusPending,
		MaxRetries: maxRetries,
	}
}

// Start marks the job as running
func (j *Job) Start(now time.Time) {
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.Error = ""
}

// Complete marks the job as successful
func (j *Job) Complete(now time.Time, report *appaccount.TickReport) {
	j.Status = JobStatusSuccess
	j.CompletedAt = &now
	j.Report = report
}

// Fail marks the job as failed
func (j *Job) Fail(now time.Time, err string) {
	j.Status = JobStatusFailed
	j.CompletedAt = &now
	j.Error = err
}

// ShouldRetry returns true if the job should be retried
func (j *Job) ShouldRetry() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// ScheduleRetry schedules the job for retry
func (j *Job) ScheduleRetry(now time.Time, delay time.Duration) {
	j.RetryCount++
	j.Status = JobStatusPending
	next := now.Add(delay)
	j.NextRetryAt = &next
	j.Error = ""
}

// BillingRunner runs billing jobs over all tenants.
type BillingRunner interface {
	RunDaily(ctx context.Context, day time.Time) (*appaccount.TickReport, error)
	RunMonthlyStatements(ctx context.Context, year int, month time.Month) (*appaccount.TickReport, error)
	RunPhoneNumberFees(ctx context.Context, date time.Time) (*appaccount.TickReport, error)
}

var _ BillingRunner = (*appaccount.BillingTickService)(nil)

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	Enabled       bool
	Location      *time.Location
	TickHour      int // local hour of the daily tick
	StatementDay  int // day of month the previous month's statements are built
	StatementHour int
	CheckInterval time.Duration
	JobTimeout    time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

// DefaultSchedulerConfig returns default scheduler configuration
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled:       true,
		Location:      time.UTC,
		TickHour:      1,
		StatementDay:  1,
		StatementHour: 3,
		CheckInterval: time.Minute,
		JobTimeout:    30 * time.Minute,
		RetryAttempts: 3,
		RetryDelay:    5 * time.Minute,
	}
}

// ConfigFrom builds the scheduler configuration from billing settings.
func ConfigFrom(cfg config.BillingConfig) SchedulerConfig {
	c := DefaultSchedulerConfig()
	c.Location = cfg.Location()
	c.TickHour = cfg.TickHour
	c.StatementDay = cfg.StatementDay
	c.StatementHour = cfg.StatementHour
	return c
}

// Validate checks the configuration.
func (c SchedulerConfig) Validate() error {
	if c.TickHour < 0 || c.TickHour > 23 || c.StatementHour < 0 || c.StatementHour > 23 {
		return fmt.Errorf("%w: hours must be between 0 and 23", ErrInvalidConfig)
	}
	// day 28 is the last day present in every month
	if c.StatementDay < 1 || c.StatementDay > 28 {
		return fmt.Errorf("%w: statement day must be between 1 and 28", ErrInvalidConfig)
	}
	if c.CheckInterval <= 0 || c.JobTimeout <= 0 {
		return fmt.Errorf("%w: check interval and job timeout must be positive", ErrInvalidConfig)
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("%w: retry attempts must not be negative", ErrInvalidConfig)
	}
	return nil
}

// BillingScheduler fires the daily tick, the monthly phone number fees and the
// monthly statements. Each job runs at most once per period; a process that
// starts after the scheduled hour catches up on its first check, which is
// safe because every job is idempotent per period.
type BillingScheduler struct {
	config SchedulerConfig
	runner BillingRunner
	logger *zap.Logger
	now    func() time.Time

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	lastRun   map[string]string // job name -> completed period
	pending   map[string]*Job   // failed jobs waiting for retry
	active    map[string]bool
}

// NewBillingScheduler creates a new scheduler instance
func NewBillingScheduler(cfg SchedulerConfig, runner BillingRunner, logger *zap.Logger) (*BillingScheduler, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BillingScheduler{
		config:  cfg,
		runner:  runner,
		logger:  logger,
		now:     time.Now,
		lastRun: make(map[string]string),
		pending: make(map[string]*Job),
		active:  make(map[string]bool),
	}, nil
}

// Start starts the scheduler
func (s *BillingScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if !s.config.Enabled {
		s.mu.Unlock()
		s.logger.Info("Billing scheduler is disabled")
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.runLoop(ctx)

	s.logger.Info("Billing scheduler started",
		zap.Int("tick_hour", s.config.TickHour),
		zap.Int("statement_day", s.config.StatementDay),
		zap.Int("statement_hour", s.config.StatementHour),
		zap.String("timezone", s.config.Location.String()),
	)
	return nil
}

// Stop gracefully stops the scheduler
func (s *BillingScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Billing scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Billing scheduler stop timed out")
		return ctx.Err()
	}
}

func (s *BillingScheduler) runLoop(ctx context.Context) {
	defer s.wg.Done()

	s.checkAndTrigger(ctx)

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkAndTrigger(ctx)
		}
	}
}

// dueJobs returns the jobs whose period has started and not yet completed.
func (s *BillingScheduler) dueJobs(now time.Time) []*Job {
	local := now.In(s.config.Location)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)

	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*Job
	add := func(name string, date time.Time, period string) {
		if s.lastRun[name] == period || s.active[name] {
			return
		}
		if p, ok := s.pending[name]; ok && p.Period == period {
			if p.NextRetryAt != nil && now.Before(*p.NextRetryAt) {
				return
			}
			due = append(due, p)
			return
		}
		due = append(due, NewJob(name, date, period, s.config.RetryAttempts))
	}

	if local.Hour() >= s.config.TickHour {
		// fees first so the daily balance check sees them
		add(appaccount.JobPhoneNumberFees, account.MonthStart(today), today.Format("2006-01"))
		yesterday := today.AddDate(0, 0, -1)
		add(appaccount.JobDailyTick, yesterday, yesterday.Format("2006-01-02"))
	}
	if local.Day() >= s.config.StatementDay && local.Hour() >= s.config.StatementHour ||
		local.Day() > s.config.StatementDay {
		prev := account.MonthStart(today).AddDate(0, -1, 0)
		add(appaccount.JobStatements, prev, prev.Format("2006-01"))
	}
	return due
}

func (s *BillingScheduler) checkAndTrigger(ctx context.Context) {
	for _, job := range s.dueJobs(s.now()) {
		if ctx.Err() != nil {
			return
		}
		s.execute(ctx, job)
	}
}

func (s *BillingScheduler) execute(ctx context.Context, job *Job) {
	s.mu.Lock()
	if s.active[job.Name] {
		s.mu.Unlock()
		return
	}
	s.active[job.Name] = true
	s.mu.Unlock()

	err := s.run(ctx, job)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, job.Name)
	if err == nil {
		s.lastRun[job.Name] = job.Period
		delete(s.pending, job.Name)
		return
	}
	if job.ShouldRetry() {
		job.ScheduleRetry(s.now(), s.config.RetryDelay)
		s.pending[job.Name] = job
		s.logger.Info("Billing job scheduled for retry",
			zap.String("job", job.Name),
			zap.String("period", job.Period),
			zap.Int("retry_count", job.RetryCount),
		)
		return
	}
	// give up on this period
	s.lastRun[job.Name] = job.Period
	delete(s.pending, job.Name)
}

// run executes one job with the configured timeout.
func (s *BillingScheduler) run(ctx context.Context, job *Job) error {
	job.Start(s.now())
	s.logger.Info("Running billing job",
		zap.String("job_id", job.ID.String()),
		zap.String("job", job.Name),
		zap.String("period", job.Period),
	)

	jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()

	var (
		report *appaccount.TickReport
		err    error
	)
	switch job.Name {
	case appaccount.JobDailyTick:
		report, err = s.runner.RunDaily(jobCtx, job.Date)
	case appaccount.JobStatements:
		report, err = s.runner.RunMonthlyStatements(jobCtx, job.Date.Year(), job.Date.Month())
	case appaccount.JobPhoneNumberFees:
		report, err = s.runner.RunPhoneNumberFees(jobCtx, job.Date)
	default:
		err = fmt.Errorf("%w: %s", ErrUnknownJob, job.Name)
	}
	if err != nil {
		job.Fail(s.now(), err.Error())
		s.logger.Error("Billing job failed",
			zap.String("job_id", job.ID.String()),
			zap.String("job", job.Name),
			zap.String("period", job.Period),
			zap.Error(err),
		)
		return err
	}

	job.Complete(s.now(), report)
	fields := []zap.Field{
		zap.String("job_id", job.ID.String()),
		zap.String("job", job.Name),
		zap.String("period", job.Period),
	}
	if report != nil {
		fields = append(fields,
			zap.Int("tenants", report.Tenants),
			zap.Int("failures", len(report.Failures)),
			zap.Duration("duration", report.Duration))
	}
	s.logger.Info("Billing job completed", fields...)
	return nil
}

// TriggerImmediate runs a job for date now, independent of the schedule.
// For statements, date selects the month.
func (s *BillingScheduler) TriggerImmediate(ctx context.Context, name string, date time.Time) (*Job, error) {
	var period string
	switch name {
	case appaccount.JobDailyTick:
		date = account.DateOf(date, nil)
		period = date.Format("2006-01-02")
	case appaccount.JobStatements, appaccount.JobPhoneNumberFees:
		date = account.MonthStart(date)
		period = date.Format("2006-01")
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}

	s.mu.Lock()
	if s.active[name] {
		s.mu.Unlock()
		return nil, ErrJobAlreadyRunning
	}
	s.active[name] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.active, name)
		s.mu.Unlock()
	}()

	job := NewJob(name, date, period, 0)
	err := s.run(ctx, job)
	return job, err
}

// LastRun returns the last completed period of a job.
func (s *BillingScheduler) LastRun(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun[name]
}
