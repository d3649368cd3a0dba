package scheduler

import "errors"

var (
	// ErrSchedulerNotRunning is returned when work is submitted to a stopped scheduler
	ErrSchedulerNotRunning = errors.New("scheduler is not running")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid scheduler configuration")

	// ErrUnknownJob is returned when triggering a job name the scheduler does not run
	ErrUnknownJob = errors.New("unknown billing job")

	// ErrJobAlreadyRunning is returned when a manual trigger overlaps a run of the same job
	ErrJobAlreadyRunning = errors.New("billing job already running")
)
