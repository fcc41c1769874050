package eventlogger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GoCodeAlone/magkernel/logging"
)

// LogEntry is one logged event.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	ID        string    `json:"id"`
	Data      any       `json:"data,omitempty"`
}

// OutputTarget receives log entries.
type OutputTarget interface {
	Open() error
	WriteEvent(entry *LogEntry) error
	Close() error
}

// NewOutputTarget creates a new output target based on configuration.
func NewOutputTarget(config OutputConfig, logger logging.Logger) (OutputTarget, error) {
	switch config.Type {
	case "", "log":
		return &LoggerTarget{logger: logging.OrNop(logger)}, nil
	case "file":
		if config.Path == "" {
			return nil, ErrMissingFilePath
		}
		if config.Format != "json" && config.Format != "text" {
			return nil, fmt.Errorf("%w: %s", ErrInvalidFormat, config.Format)
		}
		return &FileTarget{config: config}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownOutputTargetType, config.Type)
	}
}

// LoggerTarget writes entries through the structured logger at the
// entry's level.
type LoggerTarget struct {
	logger logging.Logger
}

func (l *LoggerTarget) Open() error  { return nil }
func (l *LoggerTarget) Close() error { return nil }

func (l *LoggerTarget) WriteEvent(entry *LogEntry) error {
	args := []any{"type", entry.Type, "id", entry.ID, "source", entry.Source, "data", entry.Data}
	switch entry.Level {
	case "ERROR":
		l.logger.Error("Event", args...)
	case "WARN":
		l.logger.Warn("Event", args...)
	case "DEBUG":
		l.logger.Debug("Event", args...)
	default:
		l.logger.Info("Event", args...)
	}
	return nil
}

// FileTarget appends one line per entry to a file.
type FileTarget struct {
	config OutputConfig
	mu     sync.Mutex
	file   *os.File
}

// Open creates the parent directory and opens the file for append.
func (f *FileTarget) Open() error {
	if err := os.MkdirAll(filepath.Dir(f.config.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", filepath.Dir(f.config.Path), err)
	}
	file, err := os.OpenFile(f.config.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", f.config.Path, err)
	}
	f.mu.Lock()
	f.file = file
	f.mu.Unlock()
	return nil
}

// Close syncs and closes the file.
func (f *FileTarget) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	_ = f.file.Sync()
	err := f.file.Close()
	f.file = nil
	return err
}

func (f *FileTarget) WriteEvent(entry *LogEntry) error {
	var line string
	if f.config.Format == "text" {
		line = formatText(entry)
	} else {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal log entry to JSON: %w", err)
		}
		line = string(data)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return ErrFileNotOpen
	}
	if _, err := fmt.Fprintln(f.file, line); err != nil {
		return fmt.Errorf("failed to write to file: %w", err)
	}
	return nil
}

// formatText renders "2026-01-15T10:30:15Z INFO [component.started] magkernel component=cache".
func formatText(entry *LogEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s [%s] %s", entry.Timestamp.UTC().Format(time.RFC3339), entry.Level, entry.Type, entry.Source)
	if m, ok := entry.Data.(map[string]any); ok {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, m[k])
		}
	} else if entry.Data != nil {
		fmt.Fprintf(&b, " %v", entry.Data)
	}
	return b.String()
}

var levels = map[string]int{
	"DEBUG": 0,
	"INFO":  1,
	"WARN":  2,
	"ERROR": 3,
}

// shouldLogLevel checks if a log level should be included based on minimum level.
func shouldLogLevel(eventLevel, minLevel string) bool {
	return levels[eventLevel] >= levels[minLevel]
}
