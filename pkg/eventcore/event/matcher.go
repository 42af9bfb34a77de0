package event

import (
	"container/list"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/randalmurphal/eventcore/pkg/eventcore/observability"
)

// Matcher decides which subscriptions an event reaches. Implementations
// must be safe for concurrent use.
type Matcher interface {
	// Matches reports whether the event satisfies the pattern.
	Matches(e Event, p Pattern) bool

	// FindMatching returns the eligible subscriptions whose patterns
	// match the event, ordered by priority descending with ties broken
	// by creation time ascending.
	FindMatching(e Event, subs []*Subscription) []*Subscription
}

// findMatching applies a match predicate to the eligible subscriptions
// and returns them in dispatch order. Shared by all matchers so the
// ordering guarantee holds regardless of strategy.
func findMatching(e Event, subs []*Subscription, matches func(Event, Pattern) bool) []*Subscription {
	var matched []*Subscription
	for _, sub := range subs {
		if !sub.Eligible() {
			continue
		}
		if matches(e, sub.Pattern) {
			matched = append(matched, sub)
		}
	}
	sortByDispatchOrder(matched)
	return matched
}

func sortByDispatchOrder(subs []*Subscription) {
	sort.SliceStable(subs, func(i, j int) bool {
		if subs[i].Priority != subs[j].Priority {
			return subs[i].Priority > subs[j].Priority
		}
		return subs[i].createdAt.Before(subs[j].createdAt)
	})
}

// DefaultMatcher delegates to the pattern's own matching logic.
type DefaultMatcher struct{}

// NewDefaultMatcher returns the direct pattern-delegating matcher.
func NewDefaultMatcher() *DefaultMatcher {
	return &DefaultMatcher{}
}

func (m *DefaultMatcher) Matches(e Event, p Pattern) bool {
	return p.Matches(e)
}

func (m *DefaultMatcher) FindMatching(e Event, subs []*Subscription) []*Subscription {
	return findMatching(e, subs, m.Matches)
}

// WildcardMatcher compiles each distinct type expression into a regular
// expression the first time it is seen and matches against the compiled
// form thereafter. Expressions that fail to compile match nothing; the
// degradation is logged once, on first compile.
type WildcardMatcher struct {
	logger   *slog.Logger
	mu       sync.Mutex
	compiled map[string]*regexp.Regexp // nil entry records a failed compile
}

// WildcardMatcherOption configures a WildcardMatcher.
type WildcardMatcherOption func(*WildcardMatcher)

// WithWildcardLogger sets the logger for expressions that degrade to
// match-nothing.
func WithWildcardLogger(logger *slog.Logger) WildcardMatcherOption {
	return func(m *WildcardMatcher) {
		m.logger = logger
	}
}

// NewWildcardMatcher returns a matcher with an empty compilation cache.
func NewWildcardMatcher(opts ...WildcardMatcherOption) *WildcardMatcher {
	m := &WildcardMatcher{compiled: make(map[string]*regexp.Regexp)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *WildcardMatcher) Matches(e Event, p Pattern) bool {
	expr := p.EventType

	negate := false
	if strings.HasPrefix(expr, "!") {
		negate = true
		expr = expr[1:]
	}

	matched := m.matchType(expr, e.Type)
	if negate {
		matched = !matched
	}
	return matched && p.MatchesAttributes(e.Payload)
}

func (m *WildcardMatcher) FindMatching(e Event, subs []*Subscription) []*Subscription {
	return findMatching(e, subs, m.Matches)
}

func (m *WildcardMatcher) matchType(expr, eventType string) bool {
	m.mu.Lock()
	re, seen := m.compiled[expr]
	if !seen {
		var err error
		re, err = translateWildcard(expr)
		if err != nil {
			observability.LogMatchDegraded(m.logger, expr, err)
		}
		m.compiled[expr] = re
	}
	m.mu.Unlock()

	if re == nil {
		return false
	}
	return re.MatchString(eventType)
}

// translateWildcard converts a type expression into a compiled regex:
// wildcards via wildcardSource, a "regex:" prefix verbatim. A nil
// regexp with an error means the expression matches nothing.
func translateWildcard(expr string) (*regexp.Regexp, error) {
	var source string
	switch {
	case expr == "" || expr == "*":
		source = `^.*$`
	case strings.HasPrefix(expr, "regex:"):
		source = strings.TrimPrefix(expr, "regex:")
	default:
		source = wildcardSource(expr)
	}
	return regexp.Compile(source)
}

// CachedMatcher wraps another matcher with a bounded LRU cache of match
// decisions keyed by event type, event source, and hashes of the
// pattern and payload. The oldest entry is evicted at capacity.
type CachedMatcher struct {
	inner    Matcher
	capacity int

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used
}

type cacheEntry struct {
	key     string
	matched bool
}

// DefaultCacheCapacity bounds the match cache when no capacity is given.
const DefaultCacheCapacity = 1000

// NewCachedMatcher wraps inner with a decision cache of the given
// capacity. Non-positive capacities use DefaultCacheCapacity; a nil
// inner matcher defaults to the DefaultMatcher.
func NewCachedMatcher(inner Matcher, capacity int) *CachedMatcher {
	if inner == nil {
		inner = NewDefaultMatcher()
	}
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &CachedMatcher{
		inner:    inner,
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (m *CachedMatcher) Matches(e Event, p Pattern) bool {
	key := matchCacheKey(e, p)

	m.mu.Lock()
	if el, ok := m.entries[key]; ok {
		m.order.MoveToFront(el)
		matched := el.Value.(*cacheEntry).matched
		m.mu.Unlock()
		return matched
	}
	m.mu.Unlock()

	matched := m.inner.Matches(e, p)

	m.mu.Lock()
	if _, ok := m.entries[key]; !ok {
		if m.order.Len() >= m.capacity {
			oldest := m.order.Back()
			if oldest != nil {
				m.order.Remove(oldest)
				delete(m.entries, oldest.Value.(*cacheEntry).key)
			}
		}
		m.entries[key] = m.order.PushFront(&cacheEntry{key: key, matched: matched})
	}
	m.mu.Unlock()
	return matched
}

func (m *CachedMatcher) FindMatching(e Event, subs []*Subscription) []*Subscription {
	return findMatching(e, subs, m.Matches)
}

// Len returns the current number of cached decisions.
func (m *CachedMatcher) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

// ClearCache discards all cached decisions.
func (m *CachedMatcher) ClearCache() {
	m.mu.Lock()
	m.entries = make(map[string]*list.Element)
	m.order.Init()
	m.mu.Unlock()
}

// matchCacheKey builds a stable cache key. Patterns and payloads are
// hashed via their JSON form, which sorts map keys and so is stable for
// equal contents.
func matchCacheKey(e Event, p Pattern) string {
	return fmt.Sprintf("%s|%s|%d|%d", e.Type, e.Source, stableHash(p), stableHash(e.Payload))
}

func stableHash(v any) uint64 {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte(fmt.Sprintf("%#v", v))
	}
	h := fnv.New64a()
	h.Write(data)
	return h.Sum64()
}
