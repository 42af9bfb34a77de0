package event_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/randalmurphal/eventcore/pkg/eventcore/event"
)

func nopHandler(ctx context.Context, e event.Event) error { return nil }

func mustSub(t *testing.T, pattern string, opts ...event.SubscriptionOption) *event.Subscription {
	t.Helper()
	sub, err := event.NewSubscription(event.Pattern{EventType: pattern}, nopHandler, opts...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return sub
}

func allMatchers() map[string]event.Matcher {
	return map[string]event.Matcher{
		"default":  event.NewDefaultMatcher(),
		"wildcard": event.NewWildcardMatcher(),
		"cached":   event.NewCachedMatcher(nil, 100),
	}
}

// Dispatch order is a contract shared by every matcher: priority
// descending, creation time ascending on ties.
func TestMatchersOrdering(t *testing.T) {
	low := mustSub(t, "order.*", event.WithPriority(1), event.WithSubscriptionID("low"))
	oldHigh := mustSub(t, "order.*", event.WithPriority(10), event.WithSubscriptionID("old-high"))
	time.Sleep(time.Millisecond) // distinct creation times for the tie-break
	newHigh := mustSub(t, "order.*", event.WithPriority(10), event.WithSubscriptionID("new-high"))
	unrelated := mustSub(t, "user.*", event.WithPriority(100), event.WithSubscriptionID("unrelated"))

	subs := []*event.Subscription{newHigh, low, unrelated, oldHigh}
	e := event.MustNew("order.created", "checkout")

	for name, m := range allMatchers() {
		t.Run(name, func(t *testing.T) {
			matched := m.FindMatching(e, subs)
			if len(matched) != 3 {
				t.Fatalf("expected 3 matches, got %d", len(matched))
			}
			got := []string{matched[0].ID, matched[1].ID, matched[2].ID}
			want := []string{"old-high", "new-high", "low"}
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("expected order %v, got %v", want, got)
				}
			}
		})
	}
}

func TestMatchersSkipIneligible(t *testing.T) {
	active := mustSub(t, "order.*", event.WithSubscriptionID("active"))
	paused := mustSub(t, "order.*", event.WithSubscriptionID("paused"))
	paused.Deactivate()
	capped := mustSub(t, "order.*", event.WithSubscriptionID("capped"), event.WithMaxEvents(1))
	if err := capped.Process(context.Background(), event.MustNew("order.created", "s")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	subs := []*event.Subscription{active, paused, capped}
	e := event.MustNew("order.created", "checkout")

	for name, m := range allMatchers() {
		t.Run(name, func(t *testing.T) {
			matched := m.FindMatching(e, subs)
			if len(matched) != 1 || matched[0].ID != "active" {
				t.Errorf("expected only the active subscription, got %d matches", len(matched))
			}
		})
	}
}

// The wildcard matcher compiles each distinct expression once and the
// compiled form must agree with the pattern's own matching.
func TestWildcardMatcherAgreesWithPattern(t *testing.T) {
	m := event.NewWildcardMatcher()
	cases := []struct {
		pattern   string
		eventType string
	}{
		{"*", "anything.at.all"},
		{"order.*", "order.created"},
		{"order.*", "order.created.v2"},
		{"order.**", "order"},
		{"order.**", "order.created.v2"},
		{"order.*.created", "order.us.created"},
		{"order.*.created", "order.us.east.created"},
		{"*.created", "order.created"},
		{"regex:^ord", "order.created"},
		{"!order.*", "order.created"},
		{"order.created", "order.created"},
		{"order.created", "order.deleted"},
	}

	for _, tc := range cases {
		e := event.MustNew(tc.eventType, "s")
		p := event.Pattern{EventType: tc.pattern}
		if m.Matches(e, p) != p.Matches(e) {
			t.Errorf("wildcard matcher disagrees with pattern for %q vs %q", tc.pattern, tc.eventType)
		}
	}
}

func TestWildcardMatcherBadRegex(t *testing.T) {
	m := event.NewWildcardMatcher()
	e := event.MustNew("anything", "s")
	p := event.Pattern{EventType: "regex:["}

	// Bad regex degrades to match-nothing, on first and repeat lookups.
	if m.Matches(e, p) {
		t.Error("expected bad regex to match nothing")
	}
	if m.Matches(e, p) {
		t.Error("expected cached bad regex to match nothing")
	}
}

func TestWildcardMatcherLogsDegradedPattern(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	m := event.NewWildcardMatcher(event.WithWildcardLogger(logger))
	e := event.MustNew("anything", "s")
	p := event.Pattern{EventType: "regex:["}

	if m.Matches(e, p) {
		t.Error("expected bad regex to match nothing")
	}
	if !strings.Contains(buf.String(), "pattern degraded to match-nothing") {
		t.Errorf("expected a degraded-pattern log entry, got %q", buf.String())
	}

	// The failed compile is cached, so repeat lookups stay quiet.
	buf.Reset()
	m.Matches(e, p)
	if buf.Len() != 0 {
		t.Errorf("expected no repeat log, got %q", buf.String())
	}
}

func TestCachedMatcherCaches(t *testing.T) {
	m := event.NewCachedMatcher(event.NewDefaultMatcher(), 100)
	e := event.MustNew("order.created", "checkout",
		event.WithPayload(map[string]any{"amount": 1}))
	p := event.Pattern{EventType: "order.*"}

	if !m.Matches(e, p) {
		t.Fatal("expected match")
	}
	if m.Len() != 1 {
		t.Errorf("expected 1 cached decision, got %d", m.Len())
	}

	// Same type/source/pattern/payload hits the cache.
	m.Matches(e, p)
	if m.Len() != 1 {
		t.Errorf("expected cache hit, got %d entries", m.Len())
	}

	// A different payload is a different decision.
	other := event.MustNew("order.created", "checkout",
		event.WithPayload(map[string]any{"amount": 2}))
	m.Matches(other, p)
	if m.Len() != 2 {
		t.Errorf("expected 2 cached decisions, got %d", m.Len())
	}

	m.ClearCache()
	if m.Len() != 0 {
		t.Errorf("expected empty cache, got %d", m.Len())
	}
}

func TestCachedMatcherEviction(t *testing.T) {
	m := event.NewCachedMatcher(event.NewDefaultMatcher(), 3)
	p := event.Pattern{EventType: "*"}

	for _, typ := range []string{"a", "b", "c", "d", "e"} {
		m.Matches(event.MustNew(typ, "s"), p)
	}
	if m.Len() != 3 {
		t.Errorf("expected cache capped at 3, got %d", m.Len())
	}
}
