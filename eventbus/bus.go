// Package eventbus is a synchronous, in-process publish/subscribe hub.
// Handlers run on the publishing call, in subscription order, and a failing
// handler never prevents the handlers after it from running.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/GoCodeAlone/magkernel/logging"
)

const (
	// DefaultSource is the CloudEvent source used when none is configured.
	DefaultSource = "magkernel"

	metricEvents          = "events_total"
	metricHandlerFailures = "event_handler_failures_total"
)

// Handler processes one event.
type Handler func(ctx context.Context, event Event) error

// MetricsSink receives the bus counters. telemetry.Telemetry satisfies it.
type MetricsSink interface {
	IncrementCounter(name string, delta float64, labels map[string]string) error
}

// Subscription is returned by Subscribe.
type Subscription interface {
	// Topic returns the event name or pattern this subscription listens on.
	Topic() string
	// Unsubscribe removes the handler. Calling it more than once is harmless.
	Unsubscribe()
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used to report isolated handler failures.
func WithLogger(l logging.Logger) Option {
	return func(b *Bus) { b.logger = logging.OrNop(l) }
}

// WithMetrics attaches a metrics sink.
func WithMetrics(m MetricsSink) Option {
	return func(b *Bus) { b.metrics = m }
}

// WithSource sets the CloudEvent source attribute of emitted events.
func WithSource(source string) Option {
	return func(b *Bus) {
		if source != "" {
			b.source = source
		}
	}
}

// Bus is the in-process event hub. The zero value is not usable; use New.
type Bus struct {
	mu      sync.RWMutex
	subs    []*subscription
	nextSeq uint64
	logger  logging.Logger
	metrics MetricsSink
	source  string
}

type subscription struct {
	bus     *Bus
	seq     uint64
	topic   string
	handler Handler
	once    sync.Once
}

func (s *subscription) Topic() string { return s.topic }

func (s *subscription) Unsubscribe() {
	s.once.Do(func() { s.bus.remove(s) })
}

// New creates a bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		logger: logging.Nop(),
		source: DefaultSource,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetMetrics attaches or replaces the metrics sink after construction.
func (b *Bus) SetMetrics(m MetricsSink) {
	b.mu.Lock()
	b.metrics = m
	b.mu.Unlock()
}

// Subscribe appends handler to the handlers of topic. topic is either an exact
// event name, a prefix pattern such as "component.*", or "*" for every event.
func (b *Bus) Subscribe(topic string, handler Handler) (Subscription, error) {
	if topic == "" {
		return nil, ErrEventNameEmpty
	}
	if handler == nil {
		return nil, ErrHandlerNil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	sub := &subscription{bus: b, seq: b.nextSeq, topic: topic, handler: handler}
	b.subs = append(b.subs, sub)
	return sub, nil
}

func (b *Bus) remove(target *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subs {
		if sub == target {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Emit wraps payload in a CloudEvent named name and delivers it.
func (b *Bus) Emit(ctx context.Context, name string, payload any) error {
	if name == "" {
		return ErrEventNameEmpty
	}
	event, err := NewEvent(name, b.source, payload)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPayloadEncoding, name, err)
	}
	return b.Publish(ctx, event)
}

// Publish delivers a prepared event to every matching handler in subscription
// order. Handler errors and panics are logged, counted and joined into the
// returned error; they never stop delivery to the remaining handlers.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	name := event.Type()
	if name == "" {
		return ErrEventNameEmpty
	}

	b.mu.RLock()
	matching := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if matchesTopic(name, sub.topic) {
			matching = append(matching, sub)
		}
	}
	metrics := b.metrics
	b.mu.RUnlock()

	b.count(metrics, metricEvents, name)

	var errs []error
	for _, sub := range matching {
		if err := b.invoke(ctx, sub, event); err != nil {
			b.logger.Error("Event handler failed", "event", name, "subscription", sub.topic, "error", err)
			b.count(metrics, metricHandlerFailures, name)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Bus) invoke(ctx context.Context, sub *subscription, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", ErrHandlerPanicked, event.Type(), r)
		}
	}()
	if herr := sub.handler(ctx, event); herr != nil {
		return fmt.Errorf("%w: %s: %w", ErrHandlerFailed, event.Type(), herr)
	}
	return nil
}

func (b *Bus) count(metrics MetricsSink, metric, event string) {
	if metrics == nil {
		return
	}
	if err := metrics.IncrementCounter(metric, 1, map[string]string{"event": event}); err != nil {
		b.logger.Debug("Failed to record event metric", "metric", metric, "error", err)
	}
}

// SubscriberCount returns how many subscriptions would receive an event named name.
func (b *Bus) SubscriberCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, sub := range b.subs {
		if matchesTopic(name, sub.topic) {
			n++
		}
	}
	return n
}

// Topics returns the distinct subscribed topics, sorted.
func (b *Bus) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	seen := make(map[string]struct{}, len(b.subs))
	topics := make([]string, 0, len(b.subs))
	for _, sub := range b.subs {
		if _, ok := seen[sub.topic]; ok {
			continue
		}
		seen[sub.topic] = struct{}{}
		topics = append(topics, sub.topic)
	}
	sort.Strings(topics)
	return topics
}

// matchesTopic checks if an event name matches a subscription topic.
// "user.*" matches "user.created", and "*" matches everything.
func matchesTopic(eventTopic, subscriptionTopic string) bool {
	if eventTopic == subscriptionTopic || subscriptionTopic == "*" {
		return true
	}
	if len(subscriptionTopic) > 1 && subscriptionTopic[len(subscriptionTopic)-1] == '*' {
		prefix := subscriptionTopic[:len(subscriptionTopic)-1]
		return len(eventTopic) >= len(prefix) && eventTopic[:len(prefix)] == prefix
	}
	return false
}
