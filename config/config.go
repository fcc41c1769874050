// Package config loads the kernel configuration: defaults from struct tags,
// then a YAML, TOML or JSON file, then MAGKERNEL_* environment variables,
// then a required-field check.
package config

import (
	"fmt"
	"maps"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/magkernel/feeders"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "MAGKERNEL"

// LogConfig selects the logger backend settings.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level" json:"level" env:"LOG_LEVEL" default:"info"`
	Format string `yaml:"format" toml:"format" json:"format" env:"LOG_FORMAT" default:"json"`
}

// Config is the kernel configuration.
type Config struct {
	// Name is the kernel name and CloudEvent source.
	Name string `yaml:"name" toml:"name" json:"name" env:"NAME" default:"magkernel"`

	Log LogConfig `yaml:"log" toml:"log" json:"log"`

	// StatePath is where the state document is kept.
	StatePath string `yaml:"state_path" toml:"state_path" json:"state_path" env:"STATE_PATH" default:"magkernel-state.json" required:"true"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout" json:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" default:"30s"`

	// Enabled lists the component identifiers to build, in registration order.
	Enabled []string `yaml:"enabled" toml:"enabled" json:"enabled" env:"ENABLED"`

	// Components holds one free-form section per component name, passed to
	// the component's Configure.
	Components map[string]map[string]any `yaml:"components" toml:"components" json:"components"`
}

// Section returns a copy of the named component section, or nil.
func (c *Config) Section(name string) map[string]any {
	section, ok := c.Components[name]
	if !ok {
		return nil
	}
	return maps.Clone(section)
}

// Load builds a Config. path may be empty to skip the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := ProcessDefaults(cfg); err != nil {
		return nil, err
	}

	sources := []feeders.Feeder{}
	if path != "" {
		sources = append(sources, feeders.NewFile(path))
	}
	sources = append(sources, feeders.NewEnv(EnvPrefix))

	for _, f := range sources {
		if err := f.Feed(cfg); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfigFeederError, err)
		}
	}

	// a file may have blanked a defaulted field
	if err := ProcessDefaults(cfg); err != nil {
		return nil, err
	}
	if err := ValidateRequired(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode converts a free-form component section into a typed struct, then
// applies its defaults and required checks. Section keys follow the
// struct's yaml tags.
func Decode(section map[string]any, target any) error {
	if _, err := structValue(target); err != nil {
		return err
	}
	if len(section) > 0 {
		raw, err := yaml.Marshal(section)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSectionDecode, err)
		}
		if err := yaml.Unmarshal(raw, target); err != nil {
			return fmt.Errorf("%w: %w", ErrSectionDecode, err)
		}
	}
	if err := ProcessDefaults(target); err != nil {
		return err
	}
	return ValidateRequired(target)
}
