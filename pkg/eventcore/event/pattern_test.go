package event_test

import (
	"testing"

	"github.com/randalmurphal/eventcore/pkg/eventcore/event"
)

func TestPatternEventType(t *testing.T) {
	tests := []struct {
		name      string
		pattern   string
		eventType string
		want      bool
	}{
		{"empty matches everything", "", "order.created", true},
		{"star matches everything", "*", "order.created", true},
		{"exact match", "order.created", "order.created", true},
		{"exact mismatch", "order.created", "order.deleted", false},

		{"single wildcard matches child", "order.*", "order.created", true},
		{"single wildcard rejects grandchild", "order.*", "order.created.v2", false},
		{"single wildcard rejects parent", "order.*", "order", false},
		{"single wildcard rejects other prefix", "order.*", "user.created", false},

		{"double wildcard matches parent itself", "order.**", "order", true},
		{"double wildcard matches child", "order.**", "order.created", true},
		{"double wildcard matches grandchild", "order.**", "order.created.v2", true},
		{"double wildcard rejects other prefix", "order.**", "user.created", false},

		{"mid wildcard one segment", "order.*.created", "order.us.created", true},
		{"mid wildcard rejects two segments", "order.*.created", "order.us.east.created", false},
		{"mid wildcard rejects missing segment", "order.*.created", "order.created", false},
		{"leading wildcard", "*.created", "order.created", true},
		{"leading wildcard rejects deeper type", "*.created", "order.us.created", false},
		{"mid double wildcard spans segments", "order.**.created", "order.us.east.created", true},
		{"mid double wildcard spans none", "order.**.created", "order.created", true},

		{"regex prefix", "regex:^(order|user)\\.created$", "user.created", true},
		{"regex prefix mismatch", "regex:^order\\.", "user.created", false},
		{"invalid regex matches nothing", "regex:[", "anything", false},

		{"negated exact", "!order.created", "order.created", false},
		{"negated exact other", "!order.created", "order.deleted", true},
		{"negated wildcard", "!order.*", "order.created", false},
		{"negated wildcard other", "!order.*", "user.created", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := event.Pattern{EventType: tt.pattern}
			if got := p.MatchesEventType(tt.eventType); got != tt.want {
				t.Errorf("pattern %q vs %q: got %v, want %v", tt.pattern, tt.eventType, got, tt.want)
			}
		})
	}
}

func TestPatternAttributes(t *testing.T) {
	payload := map[string]any{
		"amount": 42,
		"status": "paid",
		"user": map[string]any{
			"id":   "u1",
			"tier": "gold",
		},
		"note": nil,
	}

	tests := []struct {
		name  string
		attrs map[string]any
		want  bool
	}{
		{"no attributes matches", nil, true},
		{"literal equality", map[string]any{"status": "paid"}, true},
		{"literal mismatch", map[string]any{"status": "refunded"}, false},
		{"numeric literal coerced", map[string]any{"amount": 42.0}, true},
		{"missing key fails", map[string]any{"missing": "x"}, false},
		{"conjunction all must match", map[string]any{"status": "paid", "amount": 41}, false},

		{"nested dot lookup", map[string]any{"user.id": "u1"}, true},
		{"nested mismatch", map[string]any{"user.id": "u2"}, false},
		{"intermediate non-map fails", map[string]any{"status.x": "paid"}, false},

		{"$eq", map[string]any{"amount": map[string]any{"$eq": 42}}, true},
		{"$ne", map[string]any{"amount": map[string]any{"$ne": 41}}, true},
		{"$ne equal fails", map[string]any{"amount": map[string]any{"$ne": 42}}, false},
		{"$gt", map[string]any{"amount": map[string]any{"$gt": 41}}, true},
		{"$gt equal fails", map[string]any{"amount": map[string]any{"$gt": 42}}, false},
		{"$gte equal", map[string]any{"amount": map[string]any{"$gte": 42}}, true},
		{"$lt", map[string]any{"amount": map[string]any{"$lt": 43}}, true},
		{"$lte equal", map[string]any{"amount": map[string]any{"$lte": 42}}, true},
		{"$gt on non-numeric fails", map[string]any{"status": map[string]any{"$gt": 1}}, false},

		{"$in", map[string]any{"status": map[string]any{"$in": []any{"paid", "shipped"}}}, true},
		{"$in absent", map[string]any{"status": map[string]any{"$in": []any{"refunded"}}}, false},
		{"$nin", map[string]any{"status": map[string]any{"$nin": []any{"refunded"}}}, true},
		{"$in numeric coercion", map[string]any{"amount": map[string]any{"$in": []any{42.0}}}, true},

		{"$exists true", map[string]any{"status": map[string]any{"$exists": true}}, true},
		{"$exists true on nil value", map[string]any{"note": map[string]any{"$exists": true}}, true},
		{"$exists false on present", map[string]any{"status": map[string]any{"$exists": false}}, false},
		{"$exists false on absent", map[string]any{"missing": map[string]any{"$exists": false}}, false},
		{"$exists true on absent", map[string]any{"missing": map[string]any{"$exists": true}}, false},
		{"operator on absent key fails", map[string]any{"missing": map[string]any{"$gt": 1}}, false},

		{"operator bundle conjunction", map[string]any{"amount": map[string]any{"$gt": 40, "$lt": 45}}, true},
		{"operator bundle partial fail", map[string]any{"amount": map[string]any{"$gt": 40, "$lt": 42}}, false},
		{"unknown operator ignored", map[string]any{"amount": map[string]any{"$bogus": 1}}, true},

		{"mixed map evaluates operators", map[string]any{"amount": map[string]any{"$gt": 40, "note": "x"}}, true},
		{"mixed map non-operator keys carry no constraint", map[string]any{"amount": map[string]any{"$gt": 42, "note": "x"}}, false},

		{"plain map is a literal", map[string]any{"user": map[string]any{"id": "u1"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := event.Pattern{EventType: "*", Attributes: tt.attrs}
			if got := p.MatchesAttributes(payload); got != tt.want {
				t.Errorf("attrs %v: got %v, want %v", tt.attrs, got, tt.want)
			}
		})
	}
}

func TestPatternMatchesWholeEvent(t *testing.T) {
	e := event.MustNew("order.created", "checkout",
		event.WithPayload(map[string]any{"amount": 100}))

	matching := event.Pattern{
		EventType:  "order.*",
		Attributes: map[string]any{"amount": map[string]any{"$gte": 100}},
	}
	if !matching.Matches(e) {
		t.Error("expected pattern to match")
	}

	typeMismatch := event.Pattern{EventType: "user.*", Attributes: matching.Attributes}
	if typeMismatch.Matches(e) {
		t.Error("expected type mismatch to fail")
	}

	attrMismatch := event.Pattern{
		EventType:  "order.*",
		Attributes: map[string]any{"amount": map[string]any{"$gt": 100}},
	}
	if attrMismatch.Matches(e) {
		t.Error("expected attribute mismatch to fail")
	}
}
