// Package health defines component health reports and their aggregation.
package health

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status represents the health of a component or of the whole kernel.
type Status int

const (
	// StatusUnknown means the status could not be determined, e.g. the
	// component does not report health and is not serving.
	StatusUnknown Status = iota

	// StatusHealthy means the component is operating normally.
	StatusHealthy

	// StatusDegraded means the component serves with impaired functionality.
	StatusDegraded

	// StatusUnhealthy means the component cannot serve reliably.
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// ParseStatus is the inverse of String.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "healthy":
		return StatusHealthy, nil
	case "degraded":
		return StatusDegraded, nil
	case "unhealthy":
		return StatusUnhealthy, nil
	case "unknown":
		return StatusUnknown, nil
	}
	return StatusUnknown, fmt.Errorf("unknown health status %q", s)
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("health status must be a string: %w", err)
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Report is the structured status a component returns from Health.
type Report struct {
	Component string         `json:"component"`
	Status    Status         `json:"status"`
	Message   string         `json:"message,omitempty"`
	State     string         `json:"state,omitempty"`
	Optional  bool           `json:"optional,omitempty"`
	CheckedAt time.Time      `json:"checkedAt"`
	Details   map[string]any `json:"details,omitempty"`
}

// Healthy is a shorthand for a passing report.
func Healthy(message string) Report {
	return Report{Status: StatusHealthy, Message: message, CheckedAt: time.Now()}
}

// Unhealthy is a shorthand for a failing report.
func Unhealthy(message string) Report {
	return Report{Status: StatusUnhealthy, Message: message, CheckedAt: time.Now()}
}

// Aggregated is a kernel-wide health snapshot.
type Aggregated struct {
	// Health considers every component.
	Health Status `json:"health"`
	// Readiness ignores optional components.
	Readiness   Status    `json:"readiness"`
	Reports     []Report  `json:"reports"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// Critical reports whether s means the component cannot be relied on.
func (s Status) Critical() bool {
	return s == StatusUnhealthy || s == StatusUnknown
}
