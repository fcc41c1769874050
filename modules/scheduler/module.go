// Package scheduler provides the "scheduler" component, which runs named
// jobs on cron schedules while the kernel is running.
//
// Other components and the entry point add jobs through AddJob. When the
// component is attached to a kernel it also schedules a periodic health
// sweep so that component degradation is detected without an external
// probe.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/GoCodeAlone/magkernel"
	"github.com/GoCodeAlone/magkernel/config"
	"github.com/GoCodeAlone/magkernel/health"
	"github.com/GoCodeAlone/magkernel/logging"
)

// ModuleName is the component name.
const ModuleName = "scheduler"

// HealthCheckJob is the name of the built-in health sweep.
const HealthCheckJob = "health_check"

// Module is the scheduler component.
type Module struct {
	kernel *magkernel.Kernel
	logger logging.Logger

	// mu guards the fields below. It is never held while waiting on a
	// running job, since the health sweep calls back into Health.
	mu        sync.RWMutex
	config    *Config
	scheduler *Scheduler
	jobs      []jobSpec
}

type jobSpec struct {
	name, spec string
	fn         JobFunc
}

var (
	_ magkernel.Component      = (*Module)(nil)
	_ magkernel.Configurable   = (*Module)(nil)
	_ magkernel.Bootable       = (*Module)(nil)
	_ magkernel.Startable      = (*Module)(nil)
	_ magkernel.Stoppable      = (*Module)(nil)
	_ magkernel.Shutdownable   = (*Module)(nil)
	_ magkernel.HealthReporter = (*Module)(nil)
	_ magkernel.KernelAware    = (*Module)(nil)
)

// NewModule creates the component with default settings.
func NewModule() *Module {
	cfg := &Config{}
	_ = config.ProcessDefaults(cfg)
	return &Module{config: cfg, logger: logging.Nop()}
}

func (m *Module) Name() string           { return ModuleName }
func (m *Module) Version() string        { return "1.0.0" }
func (m *Module) Dependencies() []string { return nil }

func (m *Module) SetKernel(k *magkernel.Kernel) {
	m.kernel = k
	m.logger = k.Logger()
}

// Configure decodes the section. Schedules apply on the next Boot.
func (m *Module) Configure(section map[string]any) error {
	cfg := &Config{}
	if err := config.Decode(section, cfg); err != nil {
		return err
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// AddJob registers a job with its default schedule; Config.Jobs may
// override or disable it. Jobs are (re)scheduled on every Boot.
func (m *Module) AddJob(name, spec string, fn JobFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, jobSpec{name: name, spec: spec, fn: fn})
	if m.scheduler == nil {
		return nil
	}
	return m.schedule(name, spec, fn)
}

func (m *Module) schedule(name, spec string, fn JobFunc) error {
	if override, ok := m.config.Jobs[name]; ok {
		spec = override
	}
	if spec == ScheduleOff || spec == "" {
		m.logger.Info("Job disabled", "job", name)
		return nil
	}
	_, err := m.scheduler.Add(name, spec, fn)
	return err
}

// Boot creates the scheduler and schedules the health sweep and every
// added job.
func (m *Module) Boot(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	opts := []SchedulerOption{WithLogger(m.logger)}
	if m.kernel != nil {
		opts = append(opts, WithPublisher(m.kernel.Bus()), WithMetrics(m.kernel.Telemetry()))
	}
	m.scheduler = NewScheduler(opts...)

	if m.kernel != nil {
		if err := m.schedule(HealthCheckJob, m.config.HealthCheck, m.healthSweep); err != nil {
			return err
		}
	}

	for _, j := range m.jobs {
		if err := m.schedule(j.name, j.spec, j.fn); err != nil {
			return err
		}
	}
	return nil
}

func (m *Module) healthSweep(ctx context.Context) error {
	agg := m.kernel.Health(ctx)
	if agg.Health.Critical() {
		m.logger.Warn("Health sweep found critical components", "health", agg.Health)
	}
	return nil
}

func (m *Module) Start(ctx context.Context) error {
	s := m.Scheduler()
	if s == nil {
		return ErrNotBooted
	}
	return s.Start(ctx)
}

func (m *Module) Stop(ctx context.Context) error {
	s := m.Scheduler()
	if s == nil {
		return nil
	}
	return s.Stop(ctx)
}

// Shutdown stops scheduling and waits up to timeout for running jobs.
func (m *Module) Shutdown(ctx context.Context, timeout time.Duration) error {
	s := m.Scheduler()
	if s == nil {
		return nil
	}
	stopCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.Stop(stopCtx)
}

func (m *Module) Health(context.Context) health.Report {
	s := m.Scheduler()
	if s == nil {
		return health.Unhealthy("scheduler not booted")
	}
	jobs := s.Jobs()
	failing := 0
	for _, j := range jobs {
		if j.Status == JobStatusFailed {
			failing++
		}
	}
	report := health.Healthy(fmt.Sprintf("%d jobs scheduled", len(jobs)))
	if failing > 0 {
		report.Status = health.StatusDegraded
		report.Message = fmt.Sprintf("%d of %d jobs failing", failing, len(jobs))
	}
	report.Details = map[string]any{"jobs": jobs}
	return report
}

// Scheduler returns the underlying scheduler, or nil before Boot.
func (m *Module) Scheduler() *Scheduler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scheduler
}
