package event

import "fmt"

// DeliveryMode controls how events are delivered to subscribers.
type DeliveryMode int

const (
	// DeliverySync invokes handlers inline; handler failures surface to
	// the publisher.
	DeliverySync DeliveryMode = iota

	// DeliveryAsync invokes handlers without blocking the publisher;
	// handler failures never surface to the publisher.
	DeliveryAsync

	// DeliveryQueued hands the event to an event queue for later
	// processing; consumption of that queue is an external concern.
	DeliveryQueued
)

// String returns the mode name.
func (m DeliveryMode) String() string {
	switch m {
	case DeliverySync:
		return "sync"
	case DeliveryAsync:
		return "async"
	case DeliveryQueued:
		return "queued"
	default:
		return "unknown"
	}
}

// ParseDeliveryMode converts a string to a DeliveryMode.
func ParseDeliveryMode(s string) (DeliveryMode, error) {
	switch s {
	case "sync":
		return DeliverySync, nil
	case "async":
		return DeliveryAsync, nil
	case "queued":
		return DeliveryQueued, nil
	default:
		return DeliverySync, fmt.Errorf("invalid delivery mode: %q (valid modes: sync, async, queued)", s)
	}
}

// IsSynchronous reports whether the publisher waits for handler completion.
func (m DeliveryMode) IsSynchronous() bool {
	return m == DeliverySync
}

// IsAsynchronous reports whether delivery is decoupled from the publisher.
func (m DeliveryMode) IsAsynchronous() bool {
	return m == DeliveryAsync || m == DeliveryQueued
}
