// Package adminhttp provides the "adminhttp" component: a small HTTP
// server exposing the kernel's metrics, health and state.
package adminhttp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/GoCodeAlone/magkernel"
	"github.com/GoCodeAlone/magkernel/config"
	"github.com/GoCodeAlone/magkernel/health"
	"github.com/GoCodeAlone/magkernel/logging"
)

// ModuleName is the component name.
const ModuleName = "adminhttp"

// Module serves the admin routes while running.
type Module struct {
	kernel *magkernel.Kernel
	logger logging.Logger

	mu       sync.Mutex
	config   *Config
	handler  http.Handler
	server   *http.Server
	listener net.Listener
	done     chan struct{}
}

var (
	_ magkernel.Component      = (*Module)(nil)
	_ magkernel.Configurable   = (*Module)(nil)
	_ magkernel.Bootable       = (*Module)(nil)
	_ magkernel.Startable      = (*Module)(nil)
	_ magkernel.Stoppable      = (*Module)(nil)
	_ magkernel.Shutdownable   = (*Module)(nil)
	_ magkernel.HealthReporter = (*Module)(nil)
	_ magkernel.Optional       = (*Module)(nil)
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

// Optional keeps the admin surface out of readiness.
func (m *Module) Optional() bool { return true }

func (m *Module) SetKernel(k *magkernel.Kernel) {
	m.kernel = k
	m.logger = k.Logger()
}

// Configure decodes the section; a new address applies on the next Start.
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

// Boot builds the router.
func (m *Module) Boot(context.Context) error {
	if m.kernel == nil {
		return ErrNoKernel
	}
	handler := NewRouter(m.kernel, m.logger)
	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()
	return nil
}

// Start binds the listener and serves in the background. A bind error is
// returned directly.
func (m *Module) Start(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handler == nil {
		return ErrNoKernel
	}
	listener, err := net.Listen("tcp", m.config.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", m.config.Addr, err)
	}

	server := &http.Server{
		Handler:      m.handler,
		ReadTimeout:  m.config.ReadTimeout,
		WriteTimeout: m.config.WriteTimeout,
		IdleTimeout:  m.config.IdleTimeout,
	}
	done := make(chan struct{})
	m.server, m.listener, m.done = server, listener, done

	go func() {
		defer close(done)
		m.logger.Info("Starting admin HTTP server", "address", listener.Addr().String())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("Admin HTTP server stopped unexpectedly", "error", err)
		}
	}()
	return nil
}

// Stop drains in-flight requests within the configured shutdown timeout.
func (m *Module) Stop(ctx context.Context) error {
	m.mu.Lock()
	started, timeout := m.server != nil, m.config.ShutdownTimeout
	m.mu.Unlock()
	if !started {
		return ErrServerNotStarted
	}
	return m.Shutdown(ctx, timeout)
}

// Shutdown drains in-flight requests within timeout. It is a no-op when the
// server was never started.
func (m *Module) Shutdown(ctx context.Context, timeout time.Duration) error {
	m.mu.Lock()
	server, done, limit := m.server, m.done, m.config.ShutdownTimeout
	m.server, m.listener, m.done = nil, nil, nil
	m.mu.Unlock()

	if server == nil {
		return nil
	}
	if timeout <= 0 || timeout > limit {
		timeout = limit
	}

	m.logger.Info("Stopping admin HTTP server", "timeout", timeout)
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		_ = server.Close()
		<-done
		return fmt.Errorf("error shutting down admin HTTP server: %w", err)
	}
	<-done
	m.logger.Info("Admin HTTP server stopped")
	return nil
}

// Addr returns the bound address while serving, or "".
func (m *Module) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener == nil {
		return ""
	}
	return m.listener.Addr().String()
}

func (m *Module) Health(context.Context) health.Report {
	addr := m.Addr()
	if addr == "" {
		return health.Unhealthy("admin server not listening")
	}
	return health.Healthy("listening on " + addr)
}
