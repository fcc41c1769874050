package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/magkernel"
	"github.com/GoCodeAlone/magkernel/config"
	"github.com/GoCodeAlone/magkernel/health"
	"github.com/GoCodeAlone/magkernel/lifecycle"
)

func TestModuleConfigure(t *testing.T) {
	tests := []struct {
		name    string
		section map[string]any
		wantErr error
		engine  string
	}{
		{name: "defaults", section: nil, engine: EngineMemory},
		{name: "redis", section: map[string]any{"engine": "redis", "redis_url": "redis://localhost:6379"}, engine: EngineRedis},
		{name: "redis without url", section: map[string]any{"engine": "redis"}, wantErr: config.ErrConfigRequiredFieldMissing},
		{name: "unknown engine", section: map[string]any{"engine": "memcached"}, wantErr: ErrUnknownEngine},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewModule()
			err := m.Configure(tt.section)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, EngineMemory, m.config.Engine, "failed configure keeps previous config")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.engine, m.config.Engine)
			assert.Equal(t, 10000, m.config.MaxItems)
		})
	}
}

func TestModuleLifecycleInKernel(t *testing.T) {
	ctx := context.Background()
	k, err := magkernel.New(magkernel.WithStatePath(t.TempDir() + "/state.json"))
	require.NoError(t, err)

	m := NewModule()
	require.NoError(t, k.Register(m))
	require.NoError(t, k.BootAll(ctx))
	require.NoError(t, k.StartAll(ctx))
	assert.Equal(t, lifecycle.StateRunning, k.ComponentState(ModuleName))

	manager := m.Manager()
	require.NotNil(t, manager)
	require.NoError(t, manager.Set(ctx, "k", "v", 0))
	value, found := manager.Get(ctx, "k")
	require.True(t, found)
	assert.Equal(t, "v", value)

	exposition, err := k.Telemetry().ToExpositionFormat()
	require.NoError(t, err)
	assert.Contains(t, exposition, `magkernel_cache_requests_total{result="hit"} 1`)

	report := m.Health(ctx)
	assert.Equal(t, health.StatusHealthy, report.Status)

	require.NoError(t, k.ShutdownAll(ctx, time.Second))
	assert.Nil(t, m.Manager())
	assert.Equal(t, health.StatusUnhealthy, m.Health(ctx).Status)
}

func TestModuleRedisHealthFollowsServer(t *testing.T) {
	ctx := context.Background()
	server := miniredis.RunT(t)

	m := NewModule()
	require.NoError(t, m.Configure(map[string]any{"engine": "redis", "redis_url": "redis://" + server.Addr()}))
	require.NoError(t, m.Boot(ctx))
	t.Cleanup(func() { _ = m.Shutdown(ctx, time.Second) })

	assert.Equal(t, health.StatusHealthy, m.Health(ctx).Status)

	server.SetError("LOADING")
	assert.Equal(t, health.StatusUnhealthy, m.Health(ctx).Status)
}

func TestModuleBootFailsWithoutServer(t *testing.T) {
	server := miniredis.RunT(t)
	addr := server.Addr()
	server.Close()

	m := NewModule()
	require.NoError(t, m.Configure(map[string]any{"engine": "redis", "redis_url": "redis://" + addr}))
	require.Error(t, m.Boot(context.Background()))
	assert.Nil(t, m.Manager())
}

func TestModuleRebootClosesPreviousEngine(t *testing.T) {
	ctx := context.Background()
	server := miniredis.RunT(t)
	k, err := magkernel.New(magkernel.WithStatePath(t.TempDir() + "/state.json"))
	require.NoError(t, err)

	m := NewModule()
	require.NoError(t, k.Register(m))
	require.NoError(t, k.Configure(ModuleName, map[string]any{"engine": "redis", "redis_url": "redis://" + server.Addr()}))
	require.NoError(t, k.BootAll(ctx))
	require.NoError(t, k.StartAll(ctx))
	first := m.Manager().Engine()

	require.NoError(t, k.StopAll(ctx))
	require.NoError(t, k.BootAll(ctx))
	second := m.Manager().Engine()
	assert.NotSame(t, first, second)
	require.ErrorIs(t, first.Ping(ctx), ErrNotConnected)
	require.NoError(t, second.Ping(ctx))

	require.NoError(t, k.ShutdownAll(ctx, time.Second))
	require.ErrorIs(t, second.Ping(ctx), ErrNotConnected)
}

func TestModuleHealthDuringShutdown(t *testing.T) {
	ctx := context.Background()
	k, err := magkernel.New(magkernel.WithStatePath(t.TempDir() + "/state.json"))
	require.NoError(t, err)

	m := NewModule()
	require.NoError(t, k.Register(m))
	require.NoError(t, k.BootAll(ctx))
	require.NoError(t, k.StartAll(ctx))

	done := make(chan struct{})
	checked := make(chan struct{})
	go func() {
		defer close(checked)
		for {
			select {
			case <-done:
				return
			default:
				k.Health(ctx)
				_ = m.Manager()
			}
		}
	}()

	require.NoError(t, k.ShutdownAll(ctx, time.Second))
	close(done)
	<-checked

	assert.Nil(t, m.Manager())
	assert.Equal(t, health.StatusUnhealthy, m.Health(ctx).Status)
}
