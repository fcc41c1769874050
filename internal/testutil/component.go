// Package testutil holds scriptable fakes shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/GoCodeAlone/magkernel/health"
)

// CallLog records lifecycle calls across several fake components, in order.
type CallLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *CallLog) record(name, call string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.entries = append(l.entries, name+"."+call)
	l.mu.Unlock()
}

// Entries returns the calls as "<component>.<call>".
func (l *CallLog) Entries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

// Filter returns the component names that received call, in order.
func (l *CallLog) Filter(call string) []string {
	var out []string
	for _, e := range l.Entries() {
		for i := len(e) - 1; i >= 0; i-- {
			if e[i] == '.' {
				if e[i+1:] == call {
					out = append(out, e[:i])
				}
				break
			}
		}
	}
	return out
}

// Component is a fake implementing every optional capability. The exported
// error fields script failures; set them before the lifecycle call.
type Component struct {
	ComponentName    string
	ComponentVersion string
	Deps             []string
	Log              *CallLog

	ConfigureErr error
	BootErr      error
	StartErr     error
	StopErr      error
	ShutdownErr  error
	RecoverErr   error

	// ShutdownDelay makes Shutdown ignore its context and sleep.
	ShutdownDelay time.Duration
	// BootPanic makes Boot panic with this value when non-nil.
	BootPanic any
	IsOptional bool

	mu      sync.Mutex
	status  health.Status
	message string
	configs []map[string]any
	calls   []string
}

// NewComponent returns a healthy fake named name.
func NewComponent(name string, deps ...string) *Component {
	return &Component{
		ComponentName:    name,
		ComponentVersion: "1.0.0",
		Deps:             deps,
		status:           health.StatusHealthy,
	}
}

// WithLog attaches a shared call log and returns c.
func (c *Component) WithLog(l *CallLog) *Component {
	c.Log = l
	return c
}

func (c *Component) Name() string           { return c.ComponentName }
func (c *Component) Version() string        { return c.ComponentVersion }
func (c *Component) Dependencies() []string { return c.Deps }
func (c *Component) Optional() bool         { return c.IsOptional }

func (c *Component) record(call string) {
	c.mu.Lock()
	c.calls = append(c.calls, call)
	c.mu.Unlock()
	c.Log.record(c.ComponentName, call)
}

// Calls returns the lifecycle methods invoked on this component, in order.
func (c *Component) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// Configs returns every configuration received.
func (c *Component) Configs() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]any(nil), c.configs...)
}

// SetHealth changes what Health reports.
func (c *Component) SetHealth(status health.Status, message string) {
	c.mu.Lock()
	c.status, c.message = status, message
	c.mu.Unlock()
}

func (c *Component) Configure(cfg map[string]any) error {
	c.record("configure")
	if c.ConfigureErr != nil {
		return c.ConfigureErr
	}
	c.mu.Lock()
	c.configs = append(c.configs, maps.Clone(cfg))
	c.mu.Unlock()
	return nil
}

func (c *Component) Boot(context.Context) error {
	c.record("boot")
	if c.BootPanic != nil {
		panic(c.BootPanic)
	}
	return c.BootErr
}

func (c *Component) Start(context.Context) error {
	c.record("start")
	return c.StartErr
}

func (c *Component) Stop(context.Context) error {
	c.record("stop")
	return c.StopErr
}

func (c *Component) Shutdown(_ context.Context, timeout time.Duration) error {
	c.record("shutdown")
	if c.ShutdownDelay > 0 {
		time.Sleep(c.ShutdownDelay)
	}
	if c.ShutdownErr != nil {
		return fmt.Errorf("shutdown within %s: %w", timeout, c.ShutdownErr)
	}
	return nil
}

func (c *Component) Recover(context.Context) error {
	c.record("recover")
	return c.RecoverErr
}

func (c *Component) Health(context.Context) health.Report {
	c.record("health")
	c.mu.Lock()
	defer c.mu.Unlock()
	return health.Report{Status: c.status, Message: c.message, CheckedAt: time.Now()}
}

// Bare implements only the mandatory Component methods.
type Bare struct {
	ComponentName string
	Deps          []string
}

func (b *Bare) Name() string           { return b.ComponentName }
func (b *Bare) Version() string        { return "0.0.0" }
func (b *Bare) Dependencies() []string { return b.Deps }
