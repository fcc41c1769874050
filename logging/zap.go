package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger adapts a zap logger to the Logger interface.
type ZapLogger struct {
	sugar *zap.SugaredLogger
	level zap.AtomicLevel
}

// NewZap builds a zap-backed Logger. format is "json" (production encoder)
// or "console" (development encoder); level is any zapcore level name.
func NewZap(level, format string) (*ZapLogger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch format {
	case "", "json":
		cfg = zap.NewProductionConfig()
	case "console":
		cfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	base, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("failed to build zap logger: %w", err)
	}
	return &ZapLogger{sugar: base.Sugar(), level: cfg.Level}, nil
}

// FromZap wraps an existing zap logger. SetLevel does not reach the wrapped
// core; the caller owns that logger's level.
func FromZap(l *zap.Logger) *ZapLogger {
	return &ZapLogger{sugar: l.WithOptions(zap.AddCallerSkip(1)).Sugar(), level: zap.NewAtomicLevelAt(l.Level())}
}

func (z *ZapLogger) Info(msg string, args ...any)  { z.sugar.Infow(msg, args...) }
func (z *ZapLogger) Error(msg string, args ...any) { z.sugar.Errorw(msg, args...) }
func (z *ZapLogger) Warn(msg string, args ...any)  { z.sugar.Warnw(msg, args...) }
func (z *ZapLogger) Debug(msg string, args ...any) { z.sugar.Debugw(msg, args...) }

// SetLevel changes the level at runtime.
func (z *ZapLogger) SetLevel(level string) error {
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	z.level.SetLevel(lvl)
	return nil
}

// Sync flushes buffered entries.
func (z *ZapLogger) Sync() error {
	return z.sugar.Sync()
}
