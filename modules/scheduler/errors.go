package scheduler

import (
	"errors"
)

// Module-specific errors for scheduler module.
var (
	ErrJobNameEmpty     = errors.New("job name is empty")
	ErrJobFuncNil       = errors.New("job function is nil")
	ErrJobExists        = errors.New("job already scheduled")
	ErrJobNotFound      = errors.New("job not found")
	ErrInvalidSchedule  = errors.New("invalid cron schedule")
	ErrJobPanicked      = errors.New("job panicked")
	ErrStopTimeout      = errors.New("timed out waiting for running jobs")
	ErrSchedulerRunning = errors.New("scheduler already running")
	ErrNotBooted        = errors.New("scheduler not booted")
)
