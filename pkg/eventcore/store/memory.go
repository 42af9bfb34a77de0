package store

import (
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/randalmurphal/eventcore/pkg/eventcore/event"
)

// MemoryStore is an in-memory event store for testing and small
// deployments. Data is lost when the process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	events []event.Event
	byID   map[string]int // id -> index into events
	closed bool
}

// NewMemoryStore creates a new in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID: make(map[string]int),
	}
}

// Append implements Store.
func (m *MemoryStore) Append(e event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if _, ok := m.byID[e.ID]; ok {
		return ErrDuplicate
	}

	m.byID[e.ID] = len(m.events)
	m.events = append(m.events, e)
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(id string) (event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return event.Event{}, ErrStoreClosed
	}
	idx, ok := m.byID[id]
	if !ok {
		return event.Event{}, ErrNotFound
	}
	return m.events[idx], nil
}

// Query implements Store.
func (m *MemoryStore) Query(q QueryOptions) ([]event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	matched := make([]event.Event, 0)
	for _, e := range m.events {
		if queryMatches(q, e) {
			matched = append(matched, e)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.Before(matched[j].Timestamp)
	})

	return paginate(matched, q.Offset, q.Limit), nil
}

// Count implements Store.
func (m *MemoryStore) Count() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrStoreClosed
	}
	return len(m.events), nil
}

// Prune implements Store.
func (m *MemoryStore) Prune(policy RetentionPolicy) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrStoreClosed
	}

	kept := make([]event.Event, 0, len(m.events))
	cutoff := time.Time{}
	if policy.MaxAge > 0 {
		cutoff = time.Now().Add(-policy.MaxAge)
	}
	for _, e := range m.events {
		if !cutoff.IsZero() && e.Timestamp.Before(cutoff) {
			continue
		}
		kept = append(kept, e)
	}

	if policy.MaxCount > 0 && len(kept) > policy.MaxCount {
		// Keep the newest MaxCount by timestamp, preserving insertion
		// order among the survivors.
		byTime := make([]event.Event, len(kept))
		copy(byTime, kept)
		sort.SliceStable(byTime, func(i, j int) bool {
			return byTime[i].Timestamp.Before(byTime[j].Timestamp)
		})
		evict := make(map[string]bool, len(byTime)-policy.MaxCount)
		for _, e := range byTime[:len(byTime)-policy.MaxCount] {
			evict[e.ID] = true
		}
		surviving := kept[:0]
		for _, e := range kept {
			if !evict[e.ID] {
				surviving = append(surviving, e)
			}
		}
		kept = surviving
	}

	removed := len(m.events) - len(kept)
	m.events = kept
	m.byID = make(map[string]int, len(kept))
	for i, e := range kept {
		m.byID[e.ID] = i
	}
	return removed, nil
}

// Clear implements Store.
func (m *MemoryStore) Clear() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrStoreClosed
	}

	removed := len(m.events)
	m.events = nil
	m.byID = make(map[string]int)
	return removed, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.events = nil
	m.byID = nil
	return nil
}

func queryMatches(q QueryOptions, e event.Event) bool {
	if len(q.Types) > 0 && !slices.Contains(q.Types, e.Type) {
		return false
	}
	if len(q.Sources) > 0 && !slices.Contains(q.Sources, e.Source) {
		return false
	}
	if q.CorrelationID != "" && e.CorrelationID != q.CorrelationID {
		return false
	}
	if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && !e.Timestamp.Before(q.Until) {
		return false
	}
	return true
}

func paginate(events []event.Event, offset, limit int) []event.Event {
	if offset > 0 {
		if offset >= len(events) {
			return []event.Event{}
		}
		events = events[offset:]
	}
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events
}
