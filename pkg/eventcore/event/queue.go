package event

import (
	"sync"

	ecerrors "github.com/randalmurphal/eventcore/pkg/eventcore/errors"
)

// EventQueue receives events published in queued delivery mode.
// Consumption of the queue is the owner's responsibility.
type EventQueue interface {
	// Enqueue adds an event to the queue.
	Enqueue(e Event) error

	// Dequeue removes and returns the oldest queued event. The second
	// return is false when the queue is empty.
	Dequeue() (Event, bool)

	// Len returns the number of queued events.
	Len() int
}

// MemoryQueue is a mutex-guarded in-process FIFO. A zero capacity means
// unbounded.
type MemoryQueue struct {
	mu       sync.Mutex
	items    []Event
	capacity int
}

// NewMemoryQueue creates a FIFO queue. Non-positive capacity means
// unbounded.
func NewMemoryQueue(capacity int) *MemoryQueue {
	return &MemoryQueue{capacity: capacity}
}

// Enqueue adds an event, failing with QueueFullError at capacity.
func (q *MemoryQueue) Enqueue(e Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.capacity > 0 && len(q.items) >= q.capacity {
		return &ecerrors.QueueFullError{Receiver: "event-queue", Capacity: q.capacity}
	}
	q.items = append(q.items, e)
	return nil
}

// Dequeue removes the oldest event.
func (q *MemoryQueue) Dequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Event{}, false
	}
	e := q.items[0]
	q.items = q.items[1:]
	return e, true
}

// Len returns the number of queued events.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
