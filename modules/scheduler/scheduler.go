package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/GoCodeAlone/magkernel/logging"
)

// JobFunc defines a function that can be executed as a job
type JobFunc func(ctx context.Context) error

// JobStatus represents the outcome of a job's last run
type JobStatus string

const (
	// JobStatusPending indicates a job has not run yet
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates a job is currently executing
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the last run succeeded
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the last run failed
	JobStatusFailed JobStatus = "failed"
)

// Job is a snapshot of a scheduled job.
type Job struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	Status    JobStatus  `json:"status"`
	Runs      int        `json:"runs"`
	LastError string     `json:"lastError,omitempty"`
	LastRun   *time.Time `json:"lastRun,omitempty"`
	NextRun   *time.Time `json:"nextRun,omitempty"`
}

// Publisher announces job results. *eventbus.Bus satisfies it.
type Publisher interface {
	Emit(ctx context.Context, name string, payload any) error
}

// MetricsSink counts job runs. *telemetry.Telemetry satisfies it.
type MetricsSink interface {
	IncrementCounter(name string, delta float64, labels map[string]string) error
}

type job struct {
	Job
	fn    JobFunc
	entry cron.EntryID
}

// Scheduler runs named jobs on cron schedules. Jobs may be added before or
// after Start; a job never overlaps with itself.
type Scheduler struct {
	logger    logging.Logger
	publisher Publisher
	metrics   MetricsSink

	cron *cron.Cron

	mu      sync.Mutex
	jobs    map[string]*job
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// SchedulerOption defines a function that can configure a scheduler
type SchedulerOption func(*Scheduler)

// WithLogger sets the logger
func WithLogger(logger logging.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPublisher announces job results.
func WithPublisher(p Publisher) SchedulerOption {
	return func(s *Scheduler) { s.publisher = p }
}

// WithMetrics counts job runs.
func WithMetrics(m MetricsSink) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

// NewScheduler creates a new scheduler
func NewScheduler(opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		logger: logging.Nop(),
		jobs:   make(map[string]*job),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	return s
}

// Add schedules fn under name. spec is a standard five-field cron
// expression or a descriptor such as "@every 30s" or "@hourly".
func (s *Scheduler) Add(name, spec string, fn JobFunc) (string, error) {
	if name == "" {
		return "", ErrJobNameEmpty
	}
	if fn == nil {
		return "", ErrJobFuncNil
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return "", fmt.Errorf("%w %q for %s: %w", ErrInvalidSchedule, spec, name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return "", fmt.Errorf("%w: %s", ErrJobExists, name)
	}
	j := &job{
		Job: Job{
			ID:       uuid.NewString(),
			Name:     name,
			Schedule: spec,
			Status:   JobStatusPending,
		},
		fn: fn,
	}
	j.entry = s.cron.Schedule(schedule, cron.FuncJob(func() { s.execute(name) }))
	s.jobs[name] = j

	s.logger.Debug("Job scheduled", "job", name, "schedule", spec)
	return j.ID, nil
}

// Remove unschedules name. A run in progress completes.
func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	s.cron.Remove(j.entry)
	delete(s.jobs, name)
	return nil
}

// Jobs returns a snapshot of every job sorted by name.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		snap := j.Job
		if s.started {
			if next := s.cron.Entry(j.entry).Next; !next.IsZero() {
				snap.NextRun = &next
			}
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// Job returns a snapshot of one job.
func (s *Scheduler) Job(name string) (Job, error) {
	for _, j := range s.Jobs() {
		if j.Name == name {
			return j, nil
		}
	}
	return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, name)
}

// RunNow runs name synchronously, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return s.run(ctx, j)
}

// Start starts the cron loop. Jobs receive a context that is cancelled by
// Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrSchedulerRunning
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.cron.Start()
	s.started = true
	s.logger.Info("Starting scheduler", "jobs", len(s.jobs))
	return nil
}

// Stop stops scheduling new runs, cancels the job context and waits for
// running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	s.logger.Info("Stopping scheduler")
	cancel()
	cronCtx := s.cron.Stop()

	select {
	case <-cronCtx.Done():
		s.logger.Info("Scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out, jobs still running")
		return fmt.Errorf("%w: %w", ErrStopTimeout, ctx.Err())
	}
}

func (s *Scheduler) execute(name string) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	ctx := s.ctx
	s.mu.Unlock()
	if !ok || ctx == nil {
		return
	}
	_ = s.run(ctx, j)
}

// run executes j and records the outcome.
func (s *Scheduler) run(ctx context.Context, j *job) (err error) {
	s.mu.Lock()
	j.Status = JobStatusRunning
	s.mu.Unlock()

	s.logger.Debug("Executing job", "job", j.Name)
	start := time.Now()

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
			}
		}()
		err = j.fn(ctx)
	}()

	now := time.Now()
	result := "success"

	s.mu.Lock()
	j.Runs++
	j.LastRun = &now
	if err != nil {
		j.Status = JobStatusFailed
		j.LastError = err.Error()
		result = "failure"
	} else {
		j.Status = JobStatusCompleted
		j.LastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Job execution failed", "job", j.Name, "error", err)
	} else {
		s.logger.Debug("Job execution completed", "job", j.Name, "duration", now.Sub(start))
	}

	if s.metrics != nil {
		if merr := s.metrics.IncrementCounter(MetricJobRuns, 1, map[string]string{"job": j.Name, "result": result}); merr != nil {
			s.logger.Debug("Failed to count job run", "error", merr)
		}
	}
	if s.publisher != nil {
		event := EventJobCompleted
		payload := map[string]any{"job": j.Name, "duration_ms": now.Sub(start).Milliseconds()}
		if err != nil {
			event = EventJobFailed
			payload["error"] = err.Error()
		}
		if perr := s.publisher.Emit(ctx, event, payload); perr != nil {
			s.logger.Warn("Job event handler failed", "job", j.Name, "error", perr)
		}
	}
	return err
}
