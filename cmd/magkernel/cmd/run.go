package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/magkernel"
	"github.com/GoCodeAlone/magkernel/logging"
	"github.com/GoCodeAlone/magkernel/modules/adminhttp"
	"github.com/GoCodeAlone/magkernel/modules/cache"
	"github.com/GoCodeAlone/magkernel/modules/configwatcher"
	"github.com/GoCodeAlone/magkernel/modules/eventlogger"
	"github.com/GoCodeAlone/magkernel/modules/magmigrate"
	"github.com/GoCodeAlone/magkernel/modules/scheduler"
	"github.com/GoCodeAlone/magkernel/state"
)

// CachePurgeJob is the scheduler job that drops expired cache entries.
const CachePurgeJob = "cache_purge"

// ErrKernelStopped is returned when no component reached running.
var ErrKernelStopped = errors.New("kernel did not reach a serving state")

// builtins records the instances the factories hand out so they can be
// wired to each other after registration.
type builtins struct {
	cache     *cache.Module
	scheduler *scheduler.Module
}

// newFactories returns the factory registry for every built-in component.
// configPath is watched by the configwatcher component.
func newFactories(configPath string) (*magkernel.FactoryRegistry, *builtins) {
	b := &builtins{}
	r := magkernel.NewFactoryRegistry()
	_ = r.Register(cache.ModuleName, func() (magkernel.Component, error) {
		b.cache = cache.NewModule()
		return b.cache, nil
	})
	_ = r.Register(scheduler.ModuleName, func() (magkernel.Component, error) {
		b.scheduler = scheduler.NewModule()
		return b.scheduler, nil
	})
	_ = r.Register(magmigrate.ModuleName, func() (magkernel.Component, error) {
		return magmigrate.NewModule(), nil
	})
	_ = r.Register(adminhttp.ModuleName, func() (magkernel.Component, error) {
		return adminhttp.NewModule(), nil
	})
	_ = r.Register(eventlogger.ModuleName, func() (magkernel.Component, error) {
		return eventlogger.NewModule(), nil
	})
	_ = r.Register(configwatcher.ModuleName, func() (magkernel.Component, error) {
		return configwatcher.NewModule(configPath), nil
	})
	return r, b
}

// wire connects built-ins that cooperate.
func (b *builtins) wire(logger logging.Logger) error {
	if b.cache == nil || b.scheduler == nil {
		return nil
	}
	c := b.cache
	return b.scheduler.AddJob(CachePurgeJob, "@every 1m", func(ctx context.Context) error {
		manager := c.Manager()
		if manager == nil {
			return nil
		}
		if n := manager.PurgeExpired(ctx); n > 0 {
			logger.Debug("Purged expired cache entries", "count", n)
		}
		return nil
	})
}

// NewRunCommand creates the run command.
func NewRunCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Boot and start the configured components until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, *configPath)
		},
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	k, err := magkernel.New(
		magkernel.WithName(cfg.Name),
		magkernel.WithLogger(logger),
		magkernel.WithStatePath(cfg.StatePath),
	)
	if err != nil {
		return err
	}

	factories, b := newFactories(configPath)
	if err := k.RegisterFromConfig(factories, cfg.Enabled); err != nil {
		return err
	}
	if err := b.wire(logger); err != nil {
		return err
	}
	for _, name := range cfg.Enabled {
		if section := cfg.Section(name); section != nil {
			if err := k.Configure(name, section); err != nil {
				return err
			}
		}
	}

	// component failures are isolated; the kernel keeps going without them
	if err := k.BootAll(ctx); err != nil {
		logger.Error("Some components failed to boot", "error", err)
	}
	if err := k.StartAll(ctx); err != nil {
		logger.Error("Some components failed to start", "error", err)
	}

	switch k.SystemState() {
	case state.SystemRunning, state.SystemDegraded:
	default:
		shutdownErr := k.ShutdownAll(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		return errors.Join(fmt.Errorf("%w: %s", ErrKernelStopped, k.SystemState()), shutdownErr)
	}

	logger.Info("Kernel running", "name", cfg.Name, "components", len(cfg.Enabled))
	<-ctx.Done()
	logger.Info("Shutting down", "timeout", cfg.ShutdownTimeout)

	return k.ShutdownAll(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
}
