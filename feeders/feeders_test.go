package feeders

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/magkernel/internal/testutil"
)

type logSection struct {
	Level  string `yaml:"level" toml:"level" json:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" toml:"format" json:"format" env:"LOG_FORMAT"`
}

type sampleConfig struct {
	Name    string        `yaml:"name" toml:"name" json:"name" env:"NAME"`
	Port    int           `yaml:"port" toml:"port" json:"port" env:"PORT"`
	Debug   bool          `yaml:"debug" toml:"debug" json:"debug" env:"DEBUG"`
	Timeout time.Duration `yaml:"timeout" toml:"timeout" env:"TIMEOUT"`
	Enabled []string      `yaml:"enabled" toml:"enabled" json:"enabled" env:"ENABLED"`
	Log     logSection    `yaml:"log" toml:"log" json:"log"`
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFileFeederFormats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "yaml",
			file: "kernel.yaml",
			content: `name: edge
port: 8080
debug: true
enabled: [cache, magmigrate]
log:
  level: debug
`,
		},
		{
			name: "toml",
			file: "kernel.toml",
			content: `name = "edge"
port = 8080
debug = true
enabled = ["cache", "magmigrate"]

[log]
level = "debug"
`,
		},
		{
			name:    "json",
			file:    "kernel.json",
			content: `{"name":"edge","port":8080,"debug":true,"enabled":["cache","magmigrate"],"log":{"level":"debug"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &sampleConfig{}
			require.NoError(t, NewFile(writeFile(t, tt.file, tt.content)).Feed(cfg))
			assert.Equal(t, "edge", cfg.Name)
			assert.Equal(t, 8080, cfg.Port)
			assert.True(t, cfg.Debug)
			assert.Equal(t, []string{"cache", "magmigrate"}, cfg.Enabled)
			assert.Equal(t, "debug", cfg.Log.Level)
		})
	}
}

func TestFileFeederErrors(t *testing.T) {
	require.ErrorIs(t, NewFile("kernel.ini").Feed(&sampleConfig{}), ErrUnsupportedFormat)
	require.Error(t, NewFile(filepath.Join(t.TempDir(), "missing.yaml")).Feed(&sampleConfig{}))
}

func TestEnvFeeder(t *testing.T) {
	testutil.Isolate(t)
	t.Setenv("MAGKERNEL_NAME", "from-env")
	t.Setenv("MAGKERNEL_PORT", "9090")
	t.Setenv("MAGKERNEL_DEBUG", "true")
	t.Setenv("MAGKERNEL_TIMEOUT", "1m30s")
	t.Setenv("MAGKERNEL_ENABLED", "cache, scheduler,")
	t.Setenv("MAGKERNEL_LOG_LEVEL", "warn")

	cfg := &sampleConfig{Log: logSection{Format: "console"}}
	require.NoError(t, NewEnv("MAGKERNEL").Feed(cfg))

	assert.Equal(t, "from-env", cfg.Name)
	assert.Equal(t, 9090, cfg.Port)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 90*time.Second, cfg.Timeout)
	assert.Equal(t, []string{"cache", "scheduler"}, cfg.Enabled)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestEnvFeederErrors(t *testing.T) {
	testutil.Isolate(t)
	require.ErrorIs(t, NewEnv("").Feed(&sampleConfig{}), ErrEnvEmptyPrefix)
	require.ErrorIs(t, NewEnv("MAGKERNEL").Feed(sampleConfig{}), ErrEnvInvalidStructure)

	t.Setenv("MAGKERNEL_PORT", "not-a-number")
	require.Error(t, NewEnv("MAGKERNEL").Feed(&sampleConfig{}))

	t.Setenv("MAGKERNEL_PORT", "")
	t.Setenv("MAGKERNEL_TIMEOUT", "soon")
	require.Error(t, NewEnv("MAGKERNEL").Feed(&sampleConfig{}))
}
