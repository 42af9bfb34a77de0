// Package store provides durable event storage backing replay and
// audit queries.
package store

import (
	"errors"
	"time"

	"github.com/randalmurphal/eventcore/pkg/eventcore/event"
)

// Store persists events for later query and replay.
// Implementations must be safe for concurrent use.
type Store interface {
	// Append stores an event. Appending an already-stored event id
	// returns ErrDuplicate.
	Append(e event.Event) error

	// Get retrieves an event by id.
	// Returns ErrNotFound if the event doesn't exist.
	Get(id string) (event.Event, error)

	// Query returns stored events matching the options, ordered by
	// timestamp ascending with insertion order breaking ties.
	// Returns an empty slice (not an error) when nothing matches.
	Query(q QueryOptions) ([]event.Event, error)

	// Count returns the number of stored events.
	Count() (int, error)

	// Prune removes events violating the retention policy, returning
	// how many were removed.
	Prune(policy RetentionPolicy) (int, error)

	// Clear removes all events, returning how many were removed.
	Clear() (int, error)

	// Close releases any resources (connections, files).
	Close() error
}

// QueryOptions filters Query results. Zero values mean "no filter".
type QueryOptions struct {
	// Types restricts results to these event types.
	Types []string

	// Sources restricts results to these producing components.
	Sources []string

	// CorrelationID restricts results to one causal chain.
	CorrelationID string

	// Since/Until bound the event timestamp (inclusive since,
	// exclusive until).
	Since time.Time
	Until time.Time

	// Offset skips that many matching events; Limit caps the result
	// (zero = unlimited).
	Offset int
	Limit  int
}

// RetentionPolicy bounds what Prune keeps. Zero values disable the
// corresponding bound.
type RetentionPolicy struct {
	// MaxAge removes events older than now-MaxAge.
	MaxAge time.Duration

	// MaxCount keeps only the newest MaxCount events.
	MaxCount int
}

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates an event doesn't exist.
	ErrNotFound = errors.New("event not found")

	// ErrDuplicate indicates an event id was already stored.
	ErrDuplicate = errors.New("event already stored")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("event store closed")
)
