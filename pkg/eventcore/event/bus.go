package event

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/randalmurphal/eventcore/pkg/eventcore/observability"
)

// DefaultHistoryCapacity bounds bus history when no capacity is given.
const DefaultHistoryCapacity = 1000

// Bus is a concurrency-safe publish/subscribe hub with a bounded,
// append-only event history. Publish appends to history, dispatches to
// every matching non-expired subscription, and removes subscriptions
// that expired during the dispatch, all atomically with respect to
// other publish/subscribe calls on the same instance.
//
// Because the instance lock is held across dispatch, handlers must not
// call back into the same bus synchronously.
type Bus struct {
	mu      sync.Mutex
	subs    map[string]*Subscription
	history []Event

	capacity int
	matcher  Matcher
	logger   *slog.Logger
	metrics  observability.MetricsRecorder
	spans    observability.SpanManager
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithHistoryCapacity bounds the event history (default
// DefaultHistoryCapacity). Oldest entries are evicted first.
func WithHistoryCapacity(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.capacity = n
		}
	}
}

// WithBusMatcher sets the matching strategy (default: DefaultMatcher).
func WithBusMatcher(m Matcher) BusOption {
	return func(b *Bus) {
		if m != nil {
			b.matcher = m
		}
	}
}

// WithBusLogger sets the logger for dispatch failures.
func WithBusLogger(logger *slog.Logger) BusOption {
	return func(b *Bus) {
		b.logger = logger
	}
}

// WithBusMetrics sets the metrics recorder (default: noop).
func WithBusMetrics(rec observability.MetricsRecorder) BusOption {
	return func(b *Bus) {
		if rec != nil {
			b.metrics = rec
		}
	}
}

// WithBusSpans sets the span manager (default: the global OTel tracer
// provider).
func WithBusSpans(sm observability.SpanManager) BusOption {
	return func(b *Bus) {
		if sm != nil {
			b.spans = sm
		}
	}
}

// NewBus creates a bus with an empty history and no subscriptions.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subs:     make(map[string]*Subscription),
		capacity: DefaultHistoryCapacity,
		matcher:  NewDefaultMatcher(),
		metrics:  observability.NoopMetrics{},
		spans:    observability.NewSpanManager(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a handler and returns the subscription id.
func (b *Bus) Subscribe(pattern Pattern, handler Handler, opts ...SubscriptionOption) (string, error) {
	sub, err := NewSubscription(pattern, handler, opts...)
	if err != nil {
		return "", err
	}

	b.mu.Lock()
	b.subs[sub.ID] = sub
	b.mu.Unlock()
	return sub.ID, nil
}

// Unsubscribe removes the subscription with the given id.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[id]; !ok {
		return false
	}
	delete(b.subs, id)
	return true
}

// SubscriptionCount returns the number of registered subscriptions,
// expired ones included until the next publish prunes them.
func (b *Bus) SubscriptionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish appends the event to history and dispatches it to every
// matching non-expired subscription. Handler failures are logged and do
// not abort delivery to the remaining subscriptions; the returned error
// is always nil for valid events and exists to satisfy publisher
// interfaces.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	start := time.Now()

	ctx, span := b.spans.StartPublishSpan(ctx, e.Type, e.ID)
	defer b.spans.EndSpanWithError(span, nil)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.history = append(b.history, e)
	if len(b.history) > b.capacity {
		b.history = b.history[len(b.history)-b.capacity:]
	}

	subs := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	matched := b.matcher.FindMatching(e, subs)

	for _, sub := range matched {
		if err := sub.Process(ctx, e); err != nil {
			observability.LogDispatchError(b.logger, e.ID, sub.ID, err)
		}
	}

	// Dispatch may have pushed subscriptions past their event cap;
	// sweep everything expired before releasing the lock.
	for id, sub := range b.subs {
		if sub.IsExpired() {
			delete(b.subs, id)
		}
	}

	b.metrics.RecordPublish(ctx, e.Type, len(matched), time.Since(start), nil)
	return nil
}

// HistoryQuery filters History results. Zero values mean "no filter";
// a zero Limit returns all matching entries.
type HistoryQuery struct {
	Limit   int
	Types   []string
	Sources []string
}

// History returns the most recent events satisfying the query, oldest
// first. Filters apply before the limit.
func (b *Bus) History(q HistoryQuery) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	var filtered []Event
	for _, e := range b.history {
		if len(q.Types) > 0 && !slices.Contains(q.Types, e.Type) {
			continue
		}
		if len(q.Sources) > 0 && !slices.Contains(q.Sources, e.Source) {
			continue
		}
		filtered = append(filtered, e)
	}

	if q.Limit > 0 && len(filtered) > q.Limit {
		filtered = filtered[len(filtered)-q.Limit:]
	}
	return filtered
}

// HistorySize returns the number of events currently retained.
func (b *Bus) HistorySize() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.history)
}

// ClearHistory discards all retained events.
func (b *Bus) ClearHistory() {
	b.mu.Lock()
	b.history = nil
	b.mu.Unlock()
}
