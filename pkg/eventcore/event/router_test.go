package event_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/randalmurphal/eventcore/pkg/eventcore/event"
	ecerrors "github.com/randalmurphal/eventcore/pkg/eventcore/errors"
	"github.com/randalmurphal/eventcore/pkg/eventcore/observability"
)

// recordingSpans records span activity without a tracer backend.
type recordingSpans struct {
	mu        sync.Mutex
	publishes []string
	errs      []error
}

var _ observability.SpanManager = (*recordingSpans)(nil)

func (r *recordingSpans) StartPublishSpan(ctx context.Context, eventType, eventID string) (context.Context, trace.Span) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishes = append(r.publishes, eventType)
	return ctx, trace.SpanFromContext(ctx)
}

func (r *recordingSpans) StartSendSpan(ctx context.Context, receiverID string) (context.Context, trace.Span) {
	return ctx, trace.SpanFromContext(ctx)
}

func (r *recordingSpans) StartReplaySpan(ctx context.Context, batchSize int) (context.Context, trace.Span) {
	return ctx, trace.SpanFromContext(ctx)
}

func (r *recordingSpans) EndSpanWithError(span trace.Span, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recordingSpans) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {}

func TestRouterSyncDelivery(t *testing.T) {
	router := event.NewRouter()

	var received atomic.Int32
	_, err := router.Subscribe(event.Pattern{EventType: "order.*"},
		func(ctx context.Context, e event.Event) error {
			received.Add(1)
			return nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	e := event.MustNew("order.created", "checkout")
	if err := router.Publish(context.Background(), e, event.DeliverySync); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if received.Load() != 1 {
		t.Errorf("expected 1 delivery, got %d", received.Load())
	}

	// Non-matching event reaches nobody.
	other := event.MustNew("user.created", "signup")
	if err := router.Publish(context.Background(), other, event.DeliverySync); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if received.Load() != 1 {
		t.Errorf("expected still 1 delivery, got %d", received.Load())
	}
}

func TestRouterSyncErrorsPropagate(t *testing.T) {
	router := event.NewRouter()

	boom := errors.New("boom")
	var delivered atomic.Int32

	router.Subscribe(event.Pattern{EventType: "*"},
		func(ctx context.Context, e event.Event) error { return boom },
		event.WithPriority(10))
	router.Subscribe(event.Pattern{EventType: "*"},
		func(ctx context.Context, e event.Event) error {
			delivered.Add(1)
			return nil
		})

	err := router.Publish(context.Background(), event.MustNew("a", "s"), event.DeliverySync)
	if !errors.Is(err, boom) {
		t.Fatalf("expected handler error to surface, got %v", err)
	}

	// The failing subscriber must not block the second one.
	if delivered.Load() != 1 {
		t.Errorf("expected remaining subscriber served, got %d", delivered.Load())
	}
}

func TestRouterAsyncDelivery(t *testing.T) {
	router := event.NewRouter()

	var received atomic.Int32
	router.Subscribe(event.Pattern{EventType: "*"},
		func(ctx context.Context, e event.Event) error {
			received.Add(1)
			return nil
		})

	// Async handler failures never surface to the publisher.
	router.Subscribe(event.Pattern{EventType: "*"},
		func(ctx context.Context, e event.Event) error {
			return errors.New("boom")
		})

	if err := router.Publish(context.Background(), event.MustNew("a", "s"), event.DeliveryAsync); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if received.Load() != 1 {
		t.Errorf("expected 1 async delivery, got %d", received.Load())
	}
}

func TestRouterQueuedDelivery(t *testing.T) {
	queue := event.NewMemoryQueue(0)
	router := event.NewRouter(event.WithRouterQueue(queue))

	sub, _ := router.Subscribe(event.Pattern{EventType: "*"},
		func(ctx context.Context, e event.Event) error {
			t.Error("queued delivery must not invoke handlers")
			return nil
		})

	e := event.MustNew("a", "s")
	if err := router.Publish(context.Background(), e, event.DeliveryQueued); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	queued, ok := queue.Dequeue()
	if !ok {
		t.Fatal("expected a queued event")
	}
	if queued.ID == e.ID {
		t.Error("queued copy must carry a fresh id")
	}
	if queued.Metadata["subscription_id"] != sub.ID {
		t.Errorf("expected subscription id in metadata, got %v", queued.Metadata)
	}
}

func TestRouterQueuedBackpressure(t *testing.T) {
	queue := event.NewMemoryQueue(1)
	router := event.NewRouter(event.WithRouterQueue(queue))

	router.Subscribe(event.Pattern{EventType: "*"}, nopHandler)
	router.Subscribe(event.Pattern{EventType: "*"}, nopHandler)

	err := router.Publish(context.Background(), event.MustNew("a", "s"), event.DeliveryQueued)
	var full *ecerrors.QueueFullError
	if !errors.As(err, &full) {
		t.Fatalf("expected QueueFullError for the second copy, got %v", err)
	}
	if queue.Len() != 1 {
		t.Errorf("expected 1 queued copy, got %d", queue.Len())
	}
}

func TestRouterUnsubscribe(t *testing.T) {
	router := event.NewRouter()

	var received atomic.Int32
	sub, _ := router.Subscribe(event.Pattern{EventType: "*"},
		func(ctx context.Context, e event.Event) error {
			received.Add(1)
			return nil
		})

	router.Publish(context.Background(), event.MustNew("a", "s"), event.DeliverySync)
	if !router.Unsubscribe(sub) {
		t.Fatal("expected unsubscribe to succeed")
	}
	if router.Unsubscribe(sub) {
		t.Error("expected second unsubscribe to fail")
	}

	router.Publish(context.Background(), event.MustNew("a", "s"), event.DeliverySync)
	if received.Load() != 1 {
		t.Errorf("expected no delivery after unsubscribe, got %d", received.Load())
	}
}

func TestRouterPauseResume(t *testing.T) {
	router := event.NewRouter()

	var received atomic.Int32
	sub, _ := router.Subscribe(event.Pattern{EventType: "*"},
		func(ctx context.Context, e event.Event) error {
			received.Add(1)
			return nil
		})

	if !router.PauseSubscription(sub.ID) {
		t.Fatal("expected pause to succeed")
	}
	router.Publish(context.Background(), event.MustNew("a", "s"), event.DeliverySync)
	if received.Load() != 0 {
		t.Errorf("expected no delivery while paused, got %d", received.Load())
	}

	if !router.ResumeSubscription(sub.ID) {
		t.Fatal("expected resume to succeed")
	}
	router.Publish(context.Background(), event.MustNew("a", "s"), event.DeliverySync)
	if received.Load() != 1 {
		t.Errorf("expected delivery after resume, got %d", received.Load())
	}

	if router.PauseSubscription("unknown") {
		t.Error("expected pause of unknown id to fail")
	}
}

func TestRouterMaxEventsPrunedAfterPublish(t *testing.T) {
	router := event.NewRouter()

	sub, _ := router.Subscribe(event.Pattern{EventType: "*"}, nopHandler,
		event.WithMaxEvents(1))

	router.Publish(context.Background(), event.MustNew("a", "s"), event.DeliverySync)

	if _, ok := router.GetSubscription(sub.ID); ok {
		t.Error("expected capped subscription removed after publish")
	}
}

func TestRouterCleanupExpired(t *testing.T) {
	router := event.NewRouter()

	router.Subscribe(event.Pattern{EventType: "*"}, nopHandler,
		event.WithExpiration(time.Nanosecond))
	router.Subscribe(event.Pattern{EventType: "*"}, nopHandler)

	time.Sleep(5 * time.Millisecond)
	if removed := router.CleanupExpired(); removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}
	if len(router.ActiveSubscriptions()) != 1 {
		t.Errorf("expected 1 active subscription")
	}
}

func TestRouterStats(t *testing.T) {
	router := event.NewRouter()

	router.Subscribe(event.Pattern{EventType: "*"}, nopHandler)
	router.Subscribe(event.Pattern{EventType: "*"},
		func(ctx context.Context, e event.Event) error { return errors.New("boom") })

	router.Publish(context.Background(), event.MustNew("a", "s"), event.DeliverySync)
	router.Publish(context.Background(), event.MustNew("b", "s"), event.DeliveryQueued)

	stats := router.Stats()
	if stats.Published != 2 {
		t.Errorf("expected 2 published, got %d", stats.Published)
	}
	if stats.Delivered != 1 {
		t.Errorf("expected 1 delivered, got %d", stats.Delivered)
	}
	if stats.Failed != 1 {
		t.Errorf("expected 1 failed, got %d", stats.Failed)
	}
	if stats.Queued != 2 {
		t.Errorf("expected 2 queued copies, got %d", stats.Queued)
	}
}

func TestRouterErrorHandlers(t *testing.T) {
	router := event.NewRouter()

	var observed atomic.Int32
	router.OnError(func(e event.Event, sub *event.Subscription, err error) {
		observed.Add(1)
	})

	router.Subscribe(event.Pattern{EventType: "*"},
		func(ctx context.Context, e event.Event) error { return errors.New("boom") })

	router.Publish(context.Background(), event.MustNew("a", "s"), event.DeliverySync)
	if observed.Load() != 1 {
		t.Errorf("expected error handler invoked once, got %d", observed.Load())
	}
}

func TestRouterPublishWithRetry(t *testing.T) {
	router := event.NewRouter()

	var attempts atomic.Int32
	router.Subscribe(event.Pattern{EventType: "*"},
		func(ctx context.Context, e event.Event) error {
			if attempts.Add(1) < 3 {
				return &ecerrors.TimeoutError{Operation: "handler", Duration: time.Millisecond}
			}
			return nil
		})

	cfg := ecerrors.RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2.0,
		RetryableFunc:  func(error) bool { return true },
	}
	if err := router.PublishWithRetry(context.Background(), event.MustNew("a", "s"), event.DeliverySync, cfg); err != nil {
		t.Fatalf("expected retries to succeed, got %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestRouterDeliveryConfirmations(t *testing.T) {
	router := event.NewRouter(event.WithDeliveryConfirmations())

	var confirmations atomic.Int32
	router.Subscribe(event.Pattern{EventType: event.ConfirmationEventType},
		func(ctx context.Context, e event.Event) error {
			confirmations.Add(1)
			if e.Payload["delivered"] != 1 {
				t.Errorf("expected 1 delivered in confirmation, got %v", e.Payload["delivered"])
			}
			return nil
		})
	router.Subscribe(event.Pattern{EventType: "order.*"}, nopHandler)

	e := event.MustNew("order.created", "checkout")
	if err := router.Publish(context.Background(), e, event.DeliverySync); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if confirmations.Load() != 1 {
		t.Errorf("expected exactly one confirmation, got %d", confirmations.Load())
	}
}

// An async publish must return even when every delivery slot is busy;
// the concurrency bound throttles handlers, not publishers.
func TestRouterAsyncDoesNotBlockPublisher(t *testing.T) {
	router := event.NewRouter(event.WithMaxConcurrentDeliveries(1))

	release := make(chan struct{})
	var received atomic.Int32
	router.Subscribe(event.Pattern{EventType: "*"},
		func(ctx context.Context, e event.Event) error {
			received.Add(1)
			<-release
			return nil
		})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 3; i++ {
			router.Publish(context.Background(), event.MustNew("a", "s"), event.DeliveryAsync)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("async publish blocked on saturated deliveries")
	}

	close(release)
	deadline := time.Now().Add(time.Second)
	for received.Load() != 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected 3 deliveries, got %d", received.Load())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRouterPublishTraced(t *testing.T) {
	spans := &recordingSpans{}
	router := event.NewRouter(event.WithRouterSpans(spans))

	boom := errors.New("boom")
	router.Subscribe(event.Pattern{EventType: "order.*"},
		func(ctx context.Context, e event.Event) error { return boom })

	router.Publish(context.Background(), event.MustNew("order.created", "s"), event.DeliverySync)
	router.Publish(context.Background(), event.MustNew("user.created", "s"), event.DeliverySync)

	spans.mu.Lock()
	defer spans.mu.Unlock()
	if len(spans.publishes) != 2 || len(spans.errs) != 2 {
		t.Fatalf("expected a span per publish, got %d/%d", len(spans.publishes), len(spans.errs))
	}
	if spans.publishes[0] != "order.created" {
		t.Errorf("expected span for order.created, got %q", spans.publishes[0])
	}
	if !errors.Is(spans.errs[0], boom) {
		t.Errorf("expected first span to end with the dispatch error, got %v", spans.errs[0])
	}
	if spans.errs[1] != nil {
		t.Errorf("expected clean span for the unmatched publish, got %v", spans.errs[1])
	}
}
