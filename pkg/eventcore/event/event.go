package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	ecerrors "github.com/randalmurphal/eventcore/pkg/eventcore/errors"
)

// Event is the unit of communication: an immutable, typed fact.
// Events have value semantics - any modification creates a new event.
type Event struct {
	// ID uniquely identifies the event. Generated if not supplied.
	ID string `json:"id"`

	// Type classifies the event using dot-segmented names
	// (e.g. "order.created"). Never empty.
	Type string `json:"type"`

	// Source identifies the producing component. Never empty.
	Source string `json:"source"`

	// Timestamp is the creation time. Defaults to now.
	Timestamp time.Time `json:"timestamp"`

	// CorrelationID links a causally-related event chain.
	CorrelationID string `json:"correlation_id,omitempty"`

	// CausationID is the ID of the event that directly caused this one.
	CausationID string `json:"causation_id,omitempty"`

	// Payload carries the event's data.
	Payload map[string]any `json:"payload"`

	// Metadata carries additional context, copied across derivation.
	Metadata map[string]any `json:"metadata,omitempty"`

	// IsReplay is true when the event was produced by the replay
	// component rather than live.
	IsReplay bool `json:"is_replay,omitempty"`
}

// Option configures event creation.
type Option func(*Event)

// WithID sets a specific event ID (default: auto-generated UUID).
func WithID(id string) Option {
	return func(e *Event) {
		e.ID = id
	}
}

// WithTimestamp sets a specific timestamp (default: time.Now()).
func WithTimestamp(t time.Time) Option {
	return func(e *Event) {
		e.Timestamp = t
	}
}

// WithCorrelationID sets the correlation ID linking related events.
func WithCorrelationID(id string) Option {
	return func(e *Event) {
		e.CorrelationID = id
	}
}

// WithCausationID sets the ID of the causing event.
func WithCausationID(id string) Option {
	return func(e *Event) {
		e.CausationID = id
	}
}

// WithPayload sets the event payload.
func WithPayload(payload map[string]any) Option {
	return func(e *Event) {
		e.Payload = payload
	}
}

// WithMetadata sets the event metadata.
func WithMetadata(metadata map[string]any) Option {
	return func(e *Event) {
		e.Metadata = metadata
	}
}

// WithSource overrides the event source. Useful with Derive when the
// derived event comes from a different component than its parent.
func WithSource(source string) Option {
	return func(e *Event) {
		e.Source = source
	}
}

// AsReplay marks the event as produced by the replay component.
func AsReplay() Option {
	return func(e *Event) {
		e.IsReplay = true
	}
}

// New creates a new event with the given type and source.
// Type and source are mandatory; construction fails otherwise.
func New(eventType, source string, opts ...Option) (Event, error) {
	e := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now(),
		Payload:   map[string]any{},
		Metadata:  map[string]any{},
	}

	for _, opt := range opts {
		opt(&e)
	}

	if e.Type == "" {
		return Event{}, &ecerrors.ValidationError{Field: "type", Message: "event type cannot be empty"}
	}
	if e.Source == "" {
		return Event{}, &ecerrors.ValidationError{Field: "source", Message: "event source cannot be empty"}
	}
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}

	return e, nil
}

// MustNew creates a new event, panicking on validation failure.
// Intended for tests and static event construction.
func MustNew(eventType, source string, opts ...Option) Event {
	e, err := New(eventType, source, opts...)
	if err != nil {
		panic(err)
	}
	return e
}

// Derive creates a new event caused by this one, maintaining the
// correlation chain: the derived event's correlation ID is this event's
// correlation ID (or this event's ID when it is the chain root) and its
// causation ID is this event's ID. Metadata is copied; the source
// defaults to this event's source.
func (e Event) Derive(eventType string, opts ...Option) (Event, error) {
	correlationID := e.CorrelationID
	if correlationID == "" {
		correlationID = e.ID
	}

	metadata := make(map[string]any, len(e.Metadata))
	for k, v := range e.Metadata {
		metadata[k] = v
	}

	base := []Option{
		WithCorrelationID(correlationID),
		WithCausationID(e.ID),
		WithMetadata(metadata),
	}
	return New(eventType, e.Source, append(base, opts...)...)
}

// MarshalBinary implements encoding.BinaryMarshaler via JSON.
func (e Event) MarshalBinary() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler via JSON.
func (e *Event) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, e)
}
