package errors

import (
	"fmt"
	"time"
)

// ValidationError indicates a construction-time validation failure.
// These are the only errors that propagate out of constructors; they
// are never silently coerced into defaults.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// QueueFullError indicates a bounded queue rejected new work.
// Callers normally see this as a boolean false; the typed error exists
// for code paths that need the receiver and capacity.
type QueueFullError struct {
	Receiver string
	Capacity int
}

// Error implements the error interface.
func (e *QueueFullError) Error() string {
	return fmt.Sprintf("queue full for receiver %s (capacity %d)", e.Receiver, e.Capacity)
}

// TimeoutError indicates an operation timed out.
type TimeoutError struct {
	Operation string
	Duration  time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %s: %s", e.Duration, e.Operation)
}

// PersistenceError indicates a save/load failure in the replay or store layer.
type PersistenceError struct {
	Op   string // "save", "load", "append", ...
	Path string
	Err  error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// DispatchError wraps a handler failure during event delivery.
type DispatchError struct {
	EventID        string
	SubscriptionID string
	Err            error
}

// Error implements the error interface.
func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch event %s to subscription %s: %v", e.EventID, e.SubscriptionID, e.Err)
}

// Unwrap returns the underlying error.
func (e *DispatchError) Unwrap() error {
	return e.Err
}
