package event

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	ecerrors "github.com/randalmurphal/eventcore/pkg/eventcore/errors"
)

// Handler processes a delivered event. Handlers are invoked exactly
// once per delivered event.
type Handler func(ctx context.Context, e Event) error

// Subscription is a standing interest registration: a pattern, a
// handler, and dispatch bookkeeping. All runtime state is guarded by an
// internal mutex; the handler itself is invoked outside the lock so it
// may safely interact with the owning router or bus.
type Subscription struct {
	// ID uniquely identifies the subscription.
	ID string

	// Pattern selects which events this subscription receives.
	Pattern Pattern

	// Priority orders dispatch among simultaneously-matching
	// subscriptions: higher values first.
	Priority int

	handler    Handler
	maxEvents  int
	expiration time.Duration
	createdAt  time.Time

	mu              sync.Mutex
	active          bool
	eventsProcessed int
	lastEventTime   time.Time
}

// SubscriptionOption configures a subscription at creation.
type SubscriptionOption func(*Subscription)

// WithSubscriptionID sets a specific subscription ID (default:
// auto-generated UUID).
func WithSubscriptionID(id string) SubscriptionOption {
	return func(s *Subscription) {
		s.ID = id
	}
}

// WithPriority sets the dispatch priority (default 0). Higher values
// are dispatched first.
func WithPriority(priority int) SubscriptionOption {
	return func(s *Subscription) {
		s.Priority = priority
	}
}

// WithMaxEvents caps the number of events the subscription processes;
// once reached, the subscription is expired. Zero means unlimited.
func WithMaxEvents(n int) SubscriptionOption {
	return func(s *Subscription) {
		s.maxEvents = n
	}
}

// WithExpiration expires the subscription the given duration after
// creation regardless of event count. Zero means never.
func WithExpiration(d time.Duration) SubscriptionOption {
	return func(s *Subscription) {
		s.expiration = d
	}
}

// NewSubscription creates an active subscription for the given pattern
// and handler. The handler is mandatory.
func NewSubscription(pattern Pattern, handler Handler, opts ...SubscriptionOption) (*Subscription, error) {
	if handler == nil {
		return nil, &ecerrors.ValidationError{Field: "handler", Message: "subscription handler cannot be nil"}
	}

	s := &Subscription{
		ID:        uuid.NewString(),
		Pattern:   pattern,
		handler:   handler,
		createdAt: time.Now(),
		active:    true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// IsActive reports whether the subscription participates in matching.
func (s *Subscription) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Activate re-enables matching.
func (s *Subscription) Activate() {
	s.mu.Lock()
	s.active = true
	s.mu.Unlock()
}

// Deactivate disables matching without removing the subscription.
func (s *Subscription) Deactivate() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

// IsExpired reports whether the subscription has reached its event cap
// or outlived its expiration window.
func (s *Subscription) IsExpired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiredLocked()
}

func (s *Subscription) expiredLocked() bool {
	if s.maxEvents > 0 && s.eventsProcessed >= s.maxEvents {
		return true
	}
	if s.expiration > 0 && time.Since(s.createdAt) >= s.expiration {
		return true
	}
	return false
}

// Eligible reports whether the subscription should be considered for
// matching: active and not expired.
func (s *Subscription) Eligible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active && !s.expiredLocked()
}

// EventsProcessed returns the number of successfully handled events.
func (s *Subscription) EventsProcessed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eventsProcessed
}

// CreatedAt returns the fixed creation time.
func (s *Subscription) CreatedAt() time.Time {
	return s.createdAt
}

// LastEventTime returns the time of the most recent dispatch, zero if
// no event has been processed yet.
func (s *Subscription) LastEventTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEventTime
}

// Process invokes the handler with the event. The processed-event count
// advances only when the handler succeeds. A handler panic is recovered
// and returned as an error so one subscriber cannot take down dispatch.
func (s *Subscription) Process(ctx context.Context, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	if err = s.handler(ctx, e); err != nil {
		return err
	}

	s.mu.Lock()
	s.eventsProcessed++
	s.lastEventTime = time.Now()
	s.mu.Unlock()
	return nil
}
