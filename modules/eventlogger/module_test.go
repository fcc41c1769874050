package eventlogger

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/magkernel"
	"github.com/GoCodeAlone/magkernel/health"
	"github.com/GoCodeAlone/magkernel/internal/testutil"
	"github.com/GoCodeAlone/magkernel/lifecycle"
)

func newKernel(t *testing.T) *magkernel.Kernel {
	t.Helper()
	k, err := magkernel.New(magkernel.WithStatePath(filepath.Join(t.TempDir(), "state.json")))
	require.NoError(t, err)
	return k
}

func readEntries(t *testing.T, path string) []LogEntry {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []LogEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e LogEntry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	require.NoError(t, scanner.Err())
	return entries
}

func types(entries []LogEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Type
	}
	return out
}

func TestConfigure(t *testing.T) {
	tests := []struct {
		name    string
		section map[string]any
		wantErr error
	}{
		{name: "defaults", section: nil},
		{name: "lowercase level", section: map[string]any{"level": "warn"}},
		{name: "bad level", section: map[string]any{"level": "LOUD"}, wantErr: ErrInvalidLogLevel},
		{name: "bad pattern", section: map[string]any{"events": []any{"component.[a"}}, wantErr: ErrInvalidEventPattern},
		{
			name:    "file without path",
			section: map[string]any{"outputs": []any{map[string]any{"type": "file"}}},
			wantErr: ErrMissingFilePath,
		},
		{
			name:    "unknown target",
			section: map[string]any{"outputs": []any{map[string]any{"type": "syslog"}}},
			wantErr: ErrUnknownOutputTargetType,
		},
		{
			name:    "bad format",
			section: map[string]any{"outputs": []any{map[string]any{"type": "file", "path": "x", "format": "xml"}}},
			wantErr: ErrInvalidFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewModule()
			err := m.Configure(tt.section)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, levels, m.config.Level)
		})
	}
}

func TestLogsKernelEventsToFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "logs", "events.jsonl")

	k := newKernel(t)
	m := NewModule()
	require.NoError(t, k.Register(m))
	require.NoError(t, k.Register(testutil.NewComponent("worker")))
	require.NoError(t, k.Configure(ModuleName, map[string]any{
		"outputs": []any{map[string]any{"type": "file", "path": path}},
	}))

	require.NoError(t, k.BootAll(ctx))
	require.NoError(t, k.StartAll(ctx))
	require.NoError(t, k.ShutdownAll(ctx, time.Second))

	entries := readEntries(t, path)
	got := types(entries)
	assert.Contains(t, got, lifecycle.EventComponentBooted)
	assert.Contains(t, got, lifecycle.EventComponentStarted)

	for _, e := range entries {
		assert.NotEmpty(t, e.ID)
		assert.Equal(t, "INFO", e.Level)
		if e.Type == lifecycle.EventComponentStarted {
			data, ok := e.Data.(map[string]any)
			require.True(t, ok)
			assert.Contains(t, []any{"worker", ModuleName}, data["component"])
		}
	}
}

func TestPatternAndLevelFilters(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.jsonl")

	k := newKernel(t)
	m := NewModule()
	require.NoError(t, k.Register(m))
	require.NoError(t, m.Configure(map[string]any{
		"level":    "WARN",
		"events":   []any{"component.*", "app.**"},
		"outputs":  []any{map[string]any{"type": "file", "path": path}},
	}))
	require.NoError(t, k.BootAll(ctx))

	bus := k.Bus()
	require.NoError(t, bus.Emit(ctx, "app.info", map[string]any{"n": 1}))
	require.NoError(t, bus.Emit(ctx, "app.sync.failed", map[string]any{"n": 2}))
	require.NoError(t, bus.Emit(ctx, "other.failed", nil))
	require.NoError(t, bus.Emit(ctx, lifecycle.EventComponentDegraded, map[string]any{"component": "cache"}))
	require.NoError(t, bus.Emit(ctx, lifecycle.EventComponentStopped, map[string]any{"component": "cache", "forced": true}))

	require.NoError(t, k.ShutdownAll(ctx, time.Second))

	entries := readEntries(t, path)
	assert.Equal(t, []string{"app.sync.failed", lifecycle.EventComponentDegraded, lifecycle.EventComponentStopped}, types(entries))
	assert.Equal(t, "ERROR", entries[0].Level)
	assert.Equal(t, "WARN", entries[1].Level)
	assert.Equal(t, "WARN", entries[2].Level)
}

func TestStopUnsubscribesAndStartResubscribes(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.log")

	k := newKernel(t)
	m := NewModule()
	require.NoError(t, k.Register(m))
	require.NoError(t, m.Configure(map[string]any{
		"events":   []any{"app.*"},
		"outputs":  []any{map[string]any{"type": "file", "path": path, "format": "text"}},
	}))
	require.NoError(t, k.BootAll(ctx))
	require.NoError(t, k.StartAll(ctx))

	require.NoError(t, k.Bus().Emit(ctx, "app.one", map[string]any{"b": 2, "a": 1}))
	require.NoError(t, m.Stop(ctx))
	assert.Equal(t, health.StatusDegraded, m.Health(ctx).Status)
	require.NoError(t, k.Bus().Emit(ctx, "app.dropped", nil))
	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.Start(ctx), "start is idempotent")
	require.NoError(t, k.Bus().Emit(ctx, "app.two", "plain"))

	assert.Equal(t, 1, k.Bus().SubscriberCount("app.two"))
	report := m.Health(ctx)
	assert.Equal(t, health.StatusHealthy, report.Status)
	assert.Equal(t, uint64(2), report.Details["logged"])

	require.NoError(t, k.ShutdownAll(ctx, time.Second))
	assert.Zero(t, k.Bus().SubscriberCount("app.two"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "INFO [app.one] magkernel a=1 b=2")
	assert.Contains(t, lines[1], "INFO [app.two] magkernel plain")
}

func TestRebootClosesPreviousTargets(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.jsonl")

	k := newKernel(t)
	m := NewModule()
	require.NoError(t, k.Register(m))
	require.NoError(t, m.Configure(map[string]any{
		"outputs": []any{map[string]any{"type": "file", "path": path}},
	}))
	require.NoError(t, k.BootAll(ctx))
	require.NoError(t, k.StartAll(ctx))

	m.mu.Lock()
	first := m.targets
	m.mu.Unlock()
	require.Len(t, first, 1)

	require.NoError(t, k.StopAll(ctx))
	require.NoError(t, k.BootAll(ctx))
	require.ErrorIs(t, first[0].WriteEvent(&LogEntry{Type: "x"}), ErrFileNotOpen)

	require.NoError(t, k.StartAll(ctx))
	require.NoError(t, k.Bus().Emit(ctx, "app.after", nil))
	require.NoError(t, k.ShutdownAll(ctx, time.Second))
	assert.Contains(t, types(readEntries(t, path)), "app.after")
}

func TestBootFailsOnUnwritablePath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	k := newKernel(t)
	m := NewModule()
	require.NoError(t, k.Register(m))
	require.NoError(t, m.Configure(map[string]any{
		"outputs": []any{
			map[string]any{"type": "log"},
			map[string]any{"type": "file", "path": filepath.Join(blocker, "events.jsonl")},
		},
	}))

	err := m.Boot(context.Background())
	var targetErr *OutputTargetError
	require.ErrorAs(t, err, &targetErr)
	assert.Equal(t, 1, targetErr.Index)
	assert.Zero(t, k.Bus().SubscriberCount("anything"))
}

func TestBootWithoutKernel(t *testing.T) {
	require.ErrorIs(t, NewModule().Boot(context.Background()), ErrNoKernel)
}

func TestFileTargetNotOpen(t *testing.T) {
	target := &FileTarget{config: OutputConfig{Type: "file", Format: "json", Path: "unused"}}
	require.ErrorIs(t, target.WriteEvent(&LogEntry{Type: "x"}), ErrFileNotOpen)
	require.NoError(t, target.Close())
}

func TestEventPatterns(t *testing.T) {
	m := NewModule()
	require.NoError(t, m.Configure(map[string]any{"events": []any{"component.*", "migration.**"}}))

	assert.True(t, shouldLogEvent(m.filters, "component.started"))
	assert.False(t, shouldLogEvent(m.filters, "component.started.late"))
	assert.True(t, shouldLogEvent(m.filters, "migration.applied"))
	assert.True(t, shouldLogEvent(m.filters, "migration.store.applied"))
	assert.False(t, shouldLogEvent(m.filters, "cache.hit"))
	assert.True(t, shouldLogEvent(nil, "anything"))
}

func TestShouldLogLevel(t *testing.T) {
	assert.True(t, shouldLogLevel("ERROR", "INFO"))
	assert.True(t, shouldLogLevel("INFO", "INFO"))
	assert.False(t, shouldLogLevel("DEBUG", "INFO"))
	assert.False(t, shouldLogLevel("WARN", "ERROR"))
}
