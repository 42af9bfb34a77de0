package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	ecerrors "github.com/randalmurphal/eventcore/pkg/eventcore/errors"
	"github.com/randalmurphal/eventcore/pkg/eventcore/observability"
)

// ConfirmationEventType is the type of delivery-confirmation events the
// router emits when confirmations are enabled.
const ConfirmationEventType = "system.delivery.confirmation"

// ErrorHandler observes dispatch failures. The subscription may be nil
// for failures not attributable to a single subscriber.
type ErrorHandler func(e Event, sub *Subscription, err error)

// RouterStats is a snapshot of router delivery counters.
type RouterStats struct {
	Published     int64
	Delivered     int64
	Failed        int64
	Queued        int64
	Subscriptions int
}

// Router owns a subscription set and dispatches published events to the
// matching subscriptions according to the requested delivery mode.
// Safe for concurrent use.
type Router struct {
	mu   sync.RWMutex
	subs map[string]*Subscription

	matcher       Matcher
	queue         EventQueue
	logger        *slog.Logger
	metrics       observability.MetricsRecorder
	spans         observability.SpanManager
	sem           chan struct{}
	confirmations bool

	handlerMu     sync.RWMutex
	errorHandlers []ErrorHandler

	published atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
	queued    atomic.Int64
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterMatcher sets the matching strategy (default: DefaultMatcher).
func WithRouterMatcher(m Matcher) RouterOption {
	return func(r *Router) {
		if m != nil {
			r.matcher = m
		}
	}
}

// WithRouterQueue sets the queue used in queued delivery mode
// (default: an unbounded MemoryQueue).
func WithRouterQueue(q EventQueue) RouterOption {
	return func(r *Router) {
		if q != nil {
			r.queue = q
		}
	}
}

// WithRouterLogger sets the logger for dispatch failures.
func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithRouterMetrics sets the metrics recorder (default: noop).
func WithRouterMetrics(rec observability.MetricsRecorder) RouterOption {
	return func(r *Router) {
		if rec != nil {
			r.metrics = rec
		}
	}
}

// WithRouterSpans sets the span manager (default: the global OTel
// tracer provider).
func WithRouterSpans(sm observability.SpanManager) RouterOption {
	return func(r *Router) {
		if sm != nil {
			r.spans = sm
		}
	}
}

// WithMaxConcurrentDeliveries bounds the goroutines used for async
// delivery (default 64).
func WithMaxConcurrentDeliveries(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.sem = make(chan struct{}, n)
		}
	}
}

// WithDeliveryConfirmations makes the router publish a
// ConfirmationEventType event after each synchronous dispatch,
// summarizing delivered and failed counts.
func WithDeliveryConfirmations() RouterOption {
	return func(r *Router) {
		r.confirmations = true
	}
}

// NewRouter creates a router with no subscriptions.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		subs:    make(map[string]*Subscription),
		matcher: NewDefaultMatcher(),
		queue:   NewMemoryQueue(0),
		metrics: observability.NoopMetrics{},
		spans:   observability.NewSpanManager(),
		sem:     make(chan struct{}, 64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe registers a handler for events matching the pattern.
func (r *Router) Subscribe(pattern Pattern, handler Handler, opts ...SubscriptionOption) (*Subscription, error) {
	sub, err := NewSubscription(pattern, handler, opts...)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.subs[sub.ID] = sub
	r.mu.Unlock()
	return sub, nil
}

// Unsubscribe removes the subscription. Returns false if unknown.
func (r *Router) Unsubscribe(sub *Subscription) bool {
	if sub == nil {
		return false
	}
	return r.UnsubscribeByID(sub.ID)
}

// UnsubscribeByID removes the subscription with the given id.
func (r *Router) UnsubscribeByID(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[id]; !ok {
		return false
	}
	delete(r.subs, id)
	return true
}

// GetSubscription returns the subscription with the given id.
func (r *Router) GetSubscription(id string) (*Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subs[id]
	return sub, ok
}

// PauseSubscription deactivates the subscription without removing it.
func (r *Router) PauseSubscription(id string) bool {
	sub, ok := r.GetSubscription(id)
	if !ok {
		return false
	}
	sub.Deactivate()
	return true
}

// ResumeSubscription reactivates a paused subscription.
func (r *Router) ResumeSubscription(id string) bool {
	sub, ok := r.GetSubscription(id)
	if !ok {
		return false
	}
	sub.Activate()
	return true
}

// ActiveSubscriptions returns the currently eligible subscriptions.
func (r *Router) ActiveSubscriptions() []*Subscription {
	var active []*Subscription
	for _, sub := range r.snapshot() {
		if sub.Eligible() {
			active = append(active, sub)
		}
	}
	return active
}

// CleanupExpired removes expired subscriptions, returning how many were
// removed. The router also prunes lazily on the publish path.
func (r *Router) CleanupExpired() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, sub := range r.subs {
		if sub.IsExpired() {
			delete(r.subs, id)
			removed++
		}
	}
	return removed
}

// OnError registers a handler observing dispatch failures.
func (r *Router) OnError(h ErrorHandler) {
	if h == nil {
		return
	}
	r.handlerMu.Lock()
	r.errorHandlers = append(r.errorHandlers, h)
	r.handlerMu.Unlock()
}

// Stats returns a snapshot of delivery counters.
func (r *Router) Stats() RouterStats {
	r.mu.RLock()
	subs := len(r.subs)
	r.mu.RUnlock()
	return RouterStats{
		Published:     r.published.Load(),
		Delivered:     r.delivered.Load(),
		Failed:        r.failed.Load(),
		Queued:        r.queued.Load(),
		Subscriptions: subs,
	}
}

func (r *Router) snapshot() []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs := make([]*Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		subs = append(subs, sub)
	}
	return subs
}

// Publish dispatches the event to all matching subscriptions.
//
// Sync delivery invokes handlers inline and returns their errors,
// joined, after every matched subscription has been served. Async
// delivery invokes each handler on its own goroutine and never returns
// handler errors. Queued delivery enqueues one copy of the event per
// matched subscription and returns only enqueue failures.
func (r *Router) Publish(ctx context.Context, e Event, mode DeliveryMode) error {
	start := time.Now()
	r.published.Add(1)

	ctx, span := r.spans.StartPublishSpan(ctx, e.Type, e.ID)

	matched := r.matcher.FindMatching(e, r.snapshot())

	var err error
	switch mode {
	case DeliverySync:
		err = r.dispatchSync(ctx, e, matched)
	case DeliveryAsync:
		r.dispatchAsync(ctx, e, matched)
	case DeliveryQueued:
		err = r.dispatchQueued(e, matched)
	default:
		err = fmt.Errorf("unknown delivery mode %d", mode)
	}

	r.spans.EndSpanWithError(span, err)
	r.metrics.RecordPublish(ctx, e.Type, len(matched), time.Since(start), err)
	r.pruneExpired(matched)
	return err
}

func (r *Router) dispatchSync(ctx context.Context, e Event, matched []*Subscription) error {
	var errs []error
	for _, sub := range matched {
		if err := sub.Process(ctx, e); err != nil {
			errs = append(errs, &ecerrors.DispatchError{EventID: e.ID, SubscriptionID: sub.ID, Err: err})
			r.reportError(e, sub, err)
		} else {
			r.delivered.Add(1)
		}
	}

	err := errors.Join(errs...)
	r.confirmDelivery(ctx, e, len(matched)-len(errs), len(errs))
	return err
}

// dispatchAsync never blocks the publisher: the concurrency bound is
// acquired on the delivery goroutine, so a saturated semaphore delays
// handlers, not Publish.
func (r *Router) dispatchAsync(ctx context.Context, e Event, matched []*Subscription) {
	for _, sub := range matched {
		sub := sub
		go func() {
			r.sem <- struct{}{}
			defer func() { <-r.sem }()
			if err := sub.Process(ctx, e); err != nil {
				r.reportError(e, sub, err)
			} else {
				r.delivered.Add(1)
			}
		}()
	}
}

func (r *Router) dispatchQueued(e Event, matched []*Subscription) error {
	var errs []error
	for _, sub := range matched {
		queued := e
		queued.ID = uuid.NewString()
		queued.Metadata = cloneMetadata(e.Metadata)
		queued.Metadata["subscription_id"] = sub.ID

		if err := r.queue.Enqueue(queued); err != nil {
			errs = append(errs, err)
			r.reportError(e, sub, err)
		} else {
			r.queued.Add(1)
		}
	}
	return errors.Join(errs...)
}

// confirmDelivery publishes a confirmation event summarizing a
// synchronous dispatch. Confirmation events never confirm themselves.
func (r *Router) confirmDelivery(ctx context.Context, e Event, delivered, failed int) {
	if !r.confirmations || e.Type == ConfirmationEventType {
		return
	}

	confirmation, err := e.Derive(ConfirmationEventType,
		WithSource("router"),
		WithPayload(map[string]any{
			"event_id":   e.ID,
			"event_type": e.Type,
			"delivered":  delivered,
			"failed":     failed,
		}),
	)
	if err != nil {
		return
	}
	if err := r.Publish(ctx, confirmation, DeliverySync); err != nil {
		observability.LogDispatchError(r.logger, confirmation.ID, "", err)
	}
}

// PublishWithRetry publishes with exponential backoff on retryable
// failures.
func (r *Router) PublishWithRetry(ctx context.Context, e Event, mode DeliveryMode, cfg ecerrors.RetryConfig) error {
	result := ecerrors.WithRetryContext(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.Publish(ctx, e, mode)
	})
	return result.Err
}

func (r *Router) reportError(e Event, sub *Subscription, err error) {
	r.failed.Add(1)
	subID := ""
	if sub != nil {
		subID = sub.ID
	}
	observability.LogDispatchError(r.logger, e.ID, subID, err)

	r.handlerMu.RLock()
	handlers := r.errorHandlers
	r.handlerMu.RUnlock()
	for _, h := range handlers {
		h(e, sub, err)
	}
}

// pruneExpired drops subscriptions that expired as a result of this
// dispatch (maxEvents reached) or earlier (expiration elapsed).
func (r *Router) pruneExpired(matched []*Subscription) {
	var expired []string
	for _, sub := range matched {
		if sub.IsExpired() {
			expired = append(expired, sub.ID)
		}
	}
	if len(expired) == 0 {
		return
	}

	r.mu.Lock()
	for _, id := range expired {
		delete(r.subs, id)
	}
	r.mu.Unlock()
}

func cloneMetadata(metadata map[string]any) map[string]any {
	clone := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		clone[k] = v
	}
	return clone
}
