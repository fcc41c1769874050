package telemetry

import "errors"

// Static errors for telemetry package
var (
	ErrNegativeDelta     = errors.New("counter delta must not be negative")
	ErrLabelMismatch     = errors.New("metric label keys differ from first use")
	ErrKindMismatch      = errors.New("metric name already used by a different metric kind")
	ErrMetricNameEmpty   = errors.New("metric name cannot be empty")
	ErrBucketsNotSorted  = errors.New("histogram buckets must be strictly ascending")
	ErrHistogramInUse    = errors.New("histogram buckets cannot change after first observation")
	ErrMetricRegistering = errors.New("failed to register metric")
)
