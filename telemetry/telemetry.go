// Package telemetry is the kernel's in-process metrics registry. Counters,
// histograms and the fixed kernel gauges live in a dedicated Prometheus
// registry and render deterministically in the Prometheus text format.
package telemetry

import (
	"bytes"
	"fmt"
	"net/http"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "magkernel"

// DefaultBuckets are the histogram boundaries, in milliseconds, used when a
// histogram was not registered with its own.
var DefaultBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

type counterMetric struct {
	vec    *prometheus.CounterVec
	labels []string
}

type histogramMetric struct {
	vec    *prometheus.HistogramVec
	labels []string
}

// Telemetry holds the metric tables. It is safe for concurrent use.
type Telemetry struct {
	mu         sync.Mutex
	namespace  string
	registry   *prometheus.Registry
	counters   map[string]*counterMetric
	histograms map[string]*histogramMetric
	buckets    map[string][]float64

	bootDuration prometheus.Gauge
	ready        prometheus.Gauge
}

// Option configures Telemetry.
type Option func(*Telemetry)

// WithNamespace overrides the metric name prefix.
func WithNamespace(ns string) Option {
	return func(t *Telemetry) {
		if ns != "" {
			t.namespace = ns
		}
	}
}

// New creates a telemetry registry with the boot duration and readiness gauges
// already registered at zero.
func New(opts ...Option) *Telemetry {
	t := &Telemetry{
		namespace:  DefaultNamespace,
		registry:   prometheus.NewRegistry(),
		counters:   make(map[string]*counterMetric),
		histograms: make(map[string]*histogramMetric),
		buckets:    make(map[string][]float64),
	}
	for _, opt := range opts {
		opt(t)
	}

	t.bootDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: t.namespace,
		Name:      "boot_duration_ms",
		Help:      "Duration of the last kernel boot in milliseconds.",
	})
	t.ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: t.namespace,
		Name:      "ready",
		Help:      "1 once the kernel has started serving.",
	})
	t.registry.MustRegister(t.bootDuration, t.ready)
	return t
}

// Registry exposes the underlying Prometheus registry.
func (t *Telemetry) Registry() *prometheus.Registry { return t.registry }

// IncrementCounter adds delta to the counter (name, labels), creating it at
// zero on first use.
func (t *Telemetry) IncrementCounter(name string, delta float64, labels map[string]string) error {
	if delta < 0 {
		return fmt.Errorf("%w: %s by %v", ErrNegativeDelta, name, delta)
	}
	c, err := t.counter(name, labels)
	if err != nil {
		return err
	}
	m, err := c.vec.GetMetricWith(labels)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrLabelMismatch, name, err)
	}
	m.Add(delta)
	return nil
}

func (t *Telemetry) counter(name string, labels map[string]string) (*counterMetric, error) {
	if name == "" {
		return nil, ErrMetricNameEmpty
	}
	keys := labelKeys(labels)

	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.counters[name]; ok {
		if !slices.Equal(c.labels, keys) {
			return nil, fmt.Errorf("%w: %s uses %v, got %v", ErrLabelMismatch, name, c.labels, keys)
		}
		return c, nil
	}
	if _, ok := t.histograms[name]; ok {
		return nil, fmt.Errorf("%w: %s is a histogram", ErrKindMismatch, name)
	}

	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: t.namespace,
		Name:      name,
		Help:      "Counter " + name + ".",
	}, keys)
	if err := t.registry.Register(vec); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMetricRegistering, name, err)
	}
	c := &counterMetric{vec: vec, labels: keys}
	t.counters[name] = c
	return c, nil
}

// RegisterHistogram sets the bucket boundaries of a histogram before its first
// observation.
func (t *Telemetry) RegisterHistogram(name string, buckets []float64) error {
	if name == "" {
		return ErrMetricNameEmpty
	}
	for i := 1; i < len(buckets); i++ {
		if buckets[i] <= buckets[i-1] {
			return fmt.Errorf("%w: %s %v", ErrBucketsNotSorted, name, buckets)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.histograms[name]; ok {
		return fmt.Errorf("%w: %s", ErrHistogramInUse, name)
	}
	t.buckets[name] = slices.Clone(buckets)
	return nil
}

// ObserveHistogram records value in the histogram (name, labels). Every bucket
// with an upper bound at or above value is incremented, as is +Inf.
func (t *Telemetry) ObserveHistogram(name string, value float64, labels map[string]string) error {
	h, err := t.histogram(name, labels)
	if err != nil {
		return err
	}
	m, err := h.vec.GetMetricWith(labels)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrLabelMismatch, name, err)
	}
	m.Observe(value)
	return nil
}

// ObserveDuration records d in milliseconds.
func (t *Telemetry) ObserveDuration(name string, d time.Duration, labels map[string]string) error {
	return t.ObserveHistogram(name, float64(d)/float64(time.Millisecond), labels)
}

func (t *Telemetry) histogram(name string, labels map[string]string) (*histogramMetric, error) {
	if name == "" {
		return nil, ErrMetricNameEmpty
	}
	keys := labelKeys(labels)

	t.mu.Lock()
	defer t.mu.Unlock()

	if h, ok := t.histograms[name]; ok {
		if !slices.Equal(h.labels, keys) {
			return nil, fmt.Errorf("%w: %s uses %v, got %v", ErrLabelMismatch, name, h.labels, keys)
		}
		return h, nil
	}
	if _, ok := t.counters[name]; ok {
		return nil, fmt.Errorf("%w: %s is a counter", ErrKindMismatch, name)
	}

	buckets, ok := t.buckets[name]
	if !ok {
		buckets = DefaultBuckets
	}
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: t.namespace,
		Name:      name,
		Help:      "Histogram " + name + ".",
		Buckets:   buckets,
	}, keys)
	if err := t.registry.Register(vec); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMetricRegistering, name, err)
	}
	h := &histogramMetric{vec: vec, labels: keys}
	t.histograms[name] = h
	return h, nil
}

// SetBootDuration records how long the last boot took.
func (t *Telemetry) SetBootDuration(d time.Duration) {
	t.bootDuration.Set(float64(d) / float64(time.Millisecond))
}

// MarkReady flips the readiness gauge to 1.
func (t *Telemetry) MarkReady() { t.ready.Set(1) }

// MarkNotReady flips the readiness gauge back to 0.
func (t *Telemetry) MarkNotReady() { t.ready.Set(0) }

// ToExpositionFormat renders every metric in the Prometheus text format.
// Families are sorted by name and label pairs by key, so unchanged state
// renders byte-identically.
func (t *Telemetry) ToExpositionFormat() (string, error) {
	families, err := t.registry.Gather()
	if err != nil {
		return "", fmt.Errorf("failed to gather metrics: %w", err)
	}
	var buf bytes.Buffer
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return "", fmt.Errorf("failed to render metric %s: %w", mf.GetName(), err)
		}
	}
	return buf.String(), nil
}

// Handler serves the registry over HTTP.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

func labelKeys(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
