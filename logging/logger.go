// Package logging defines the structured logger used across the kernel and its
// components, plus the zap backend and a no-op implementation.
package logging

// Logger defines the interface for kernel logging.
// Every package uses structured logging with key-value pairs so that kernel
// and component output stays consistent and parseable.
//
// The interface uses variadic arguments in key-value pairs:
//
//	logger.Info("component booted", "component", "cache", "version", "1.2.0")
//
// This matches the calling convention of slog, zap's SugaredLogger and
// similar libraries, so adapters are thin.
type Logger interface {
	// Info logs an informational message, e.g. a lifecycle transition.
	Info(msg string, args ...any)

	// Error logs an error that the caller recovered from or isolated.
	Error(msg string, args ...any)

	// Warn logs an unusual condition that does not stop normal operation,
	// such as a recovered storage corruption.
	Warn(msg string, args ...any)

	// Debug logs detailed diagnostic information.
	Debug(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return nopLogger{}
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}
