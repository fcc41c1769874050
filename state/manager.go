// Package state persists the kernel's system state, per-component lifecycle
// states and free-form values in a single JSON document.
//
// Every mutation is written through to disk with an atomic replace. A document
// that cannot be read is treated as corrupt: it is set aside, logged, and
// replaced with defaults. Callers never see the read error.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/GoCodeAlone/magkernel/lifecycle"
	"github.com/GoCodeAlone/magkernel/logging"
)

// SystemState is the aggregate state of the whole kernel.
type SystemState string

const (
	SystemStarting SystemState = "starting"
	SystemRunning  SystemState = "running"
	SystemDegraded SystemState = "degraded"
	SystemStopped  SystemState = "stopped"
)

// Valid reports whether s is one of the enumerated system states.
func (s SystemState) Valid() bool {
	switch s {
	case SystemStarting, SystemRunning, SystemDegraded, SystemStopped:
		return true
	}
	return false
}

func (s SystemState) String() string { return string(s) }

// Reserved key paths for Get and Set.
const (
	KeySystemState      = "system.state"
	KeyComponentsPrefix = "components."
)

// Document is the persisted record.
type Document struct {
	SystemState SystemState                `json:"system_state"`
	Components  map[string]lifecycle.State `json:"components"`
	Values      map[string]any             `json:"values,omitempty"`
	UpdatedAt   time.Time                  `json:"updated_at"`
}

func defaultDocument() Document {
	return Document{
		SystemState: SystemStopped,
		Components:  make(map[string]lifecycle.State),
		Values:      make(map[string]any),
		UpdatedAt:   time.Now().UTC(),
	}
}

func (d Document) clone() Document {
	out := d
	out.Components = maps.Clone(d.Components)
	out.Values = maps.Clone(d.Values)
	if out.Components == nil {
		out.Components = make(map[string]lifecycle.State)
	}
	if out.Values == nil {
		out.Values = make(map[string]any)
	}
	return out
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(m *Manager) { m.logger = logging.OrNop(l) }
}

// WithClock overrides the time source used for updated_at.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager owns the in-memory document and its file.
type Manager struct {
	mu     sync.RWMutex
	path   string
	doc    Document
	logger logging.Logger
	now    func() time.Time
}

// NewManager returns a manager for the document at path. The in-memory state
// starts at the defaults; call Load to read the file.
func NewManager(path string, opts ...Option) *Manager {
	m := &Manager{
		path:   path,
		doc:    defaultDocument(),
		logger: logging.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Path returns the document location.
func (m *Manager) Path() string { return m.path }

// Load reads the document from disk. A missing file yields the defaults, which
// are written out. An unreadable or malformed file is copied to
// "<path>.corrupt", logged as a StorageCorruptionError and replaced by the
// defaults. The only error returned is a failure to persist those defaults.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		m.logger.Info("State document not found, writing defaults", "path", m.path)
		return m.resetLocked()
	}
	if err != nil {
		m.recoverLocked(nil, err)
		return m.resetLocked()
	}

	doc, err := decode(data)
	if err != nil {
		m.recoverLocked(data, err)
		return m.resetLocked()
	}

	m.doc = doc
	m.logger.Debug("State document loaded", "path", m.path, "system_state", doc.SystemState, "components", len(doc.Components))
	return nil
}

func decode(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, err
	}
	if !doc.SystemState.Valid() {
		return doc, fmt.Errorf("%w: system_state %q", ErrInvalidState, doc.SystemState)
	}
	for name, st := range doc.Components {
		if !st.Valid() {
			return doc, fmt.Errorf("%w: component %s state %q", ErrInvalidState, name, st)
		}
	}
	return doc.clone(), nil
}

func (m *Manager) recoverLocked(data []byte, cause error) {
	corruption := &StorageCorruptionError{Path: m.path, Err: cause}
	if data != nil {
		backup := m.path + ".corrupt"
		if err := os.WriteFile(backup, data, 0o600); err != nil {
			m.logger.Warn("Failed to keep copy of corrupt state document", "path", backup, "error", err)
		} else {
			corruption.Backup = backup
		}
	}
	m.logger.Warn("State document corrupted, resetting to defaults",
		"path", m.path, "backup", corruption.Backup, "error", corruption)
}

func (m *Manager) resetLocked() error {
	m.doc = defaultDocument()
	m.doc.UpdatedAt = m.now().UTC()
	return m.persistLocked()
}

// persistLocked writes the document to a temporary file in the same directory,
// syncs it and renames it over the target.
func (m *Manager) persistLocked() error {
	data, err := json.MarshalIndent(m.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state document: %w", err)
	}

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(m.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary state file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write state document: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync state document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close state document: %w", err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		cleanup()
		return fmt.Errorf("failed to replace state document: %w", err)
	}
	return nil
}

// mutate applies fn to a copy of the document and persists it. The in-memory
// document only changes when the write succeeds.
func (m *Manager) mutate(fn func(*Document) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	previous := m.doc
	next := m.doc.clone()
	if err := fn(&next); err != nil {
		return err
	}
	next.UpdatedAt = m.now().UTC()
	m.doc = next
	if err := m.persistLocked(); err != nil {
		m.doc = previous
		return err
	}
	return nil
}

// SystemState returns the current system state.
func (m *Manager) SystemState() SystemState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.doc.SystemState
}

// SetSystemState validates and persists the system state.
func (m *Manager) SetSystemState(s SystemState) error {
	if !s.Valid() {
		return fmt.Errorf("%w: system state %q", ErrInvalidState, s)
	}
	return m.mutate(func(d *Document) error {
		d.SystemState = s
		return nil
	})
}

// ResetLifecycle sets the system state and drops every component entry in a
// single write. Free-form values are kept.
func (m *Manager) ResetLifecycle(s SystemState) error {
	if !s.Valid() {
		return fmt.Errorf("%w: system state %q", ErrInvalidState, s)
	}
	return m.mutate(func(d *Document) error {
		d.SystemState = s
		d.Components = make(map[string]lifecycle.State)
		return nil
	})
}

// ComponentState returns the recorded state of a component.
func (m *Manager) ComponentState(name string) (lifecycle.State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.doc.Components[name]
	return st, ok
}

// SetComponentState validates and persists a component state.
func (m *Manager) SetComponentState(name string, s lifecycle.State) error {
	if name == "" {
		return ErrComponentNameEmpty
	}
	if !s.Valid() {
		return fmt.Errorf("%w: component %s state %q", ErrInvalidState, name, s)
	}
	return m.mutate(func(d *Document) error {
		d.Components[name] = s
		return nil
	})
}

// ComponentStates returns a copy of every recorded component state.
func (m *Manager) ComponentStates() map[string]lifecycle.State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.doc.Components)
}

// Get resolves a key path. "system.state" returns the SystemState,
// "components.<name>" a component's lifecycle.State; any other key is looked
// up in the free-form values.
func (m *Manager) Get(key string) (any, error) {
	if key == "" {
		return nil, ErrKeyEmpty
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	switch {
	case key == KeySystemState:
		return m.doc.SystemState, nil
	case strings.HasPrefix(key, KeyComponentsPrefix):
		name := strings.TrimPrefix(key, KeyComponentsPrefix)
		st, ok := m.doc.Components[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
		}
		return st, nil
	}

	v, ok := m.doc.Values[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	return v, nil
}

// Set writes a key path through to disk, with the same key routing as Get.
// Reserved keys accept their typed value or its string form.
func (m *Manager) Set(key string, value any) error {
	if key == "" {
		return ErrKeyEmpty
	}

	switch {
	case key == KeySystemState:
		s, ok := asString(value)
		if !ok {
			return fmt.Errorf("%w: %s: %T", ErrInvalidValueType, key, value)
		}
		return m.SetSystemState(SystemState(s))
	case strings.HasPrefix(key, KeyComponentsPrefix):
		s, ok := asString(value)
		if !ok {
			return fmt.Errorf("%w: %s: %T", ErrInvalidValueType, key, value)
		}
		return m.SetComponentState(strings.TrimPrefix(key, KeyComponentsPrefix), lifecycle.State(s))
	}

	return m.mutate(func(d *Document) error {
		d.Values[key] = value
		return nil
	})
}

// Delete removes a free-form value.
func (m *Manager) Delete(key string) error {
	return m.mutate(func(d *Document) error {
		if _, ok := d.Values[key]; !ok {
			return fmt.Errorf("%w: %s", ErrKeyNotFound, key)
		}
		delete(d.Values, key)
		return nil
	})
}

func asString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case SystemState:
		return string(s), true
	case lifecycle.State:
		return string(s), true
	case fmt.Stringer:
		return s.String(), true
	}
	return "", false
}

// Snapshot returns a copy of the whole document.
func (m *Manager) Snapshot() Document {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.doc.clone()
}
