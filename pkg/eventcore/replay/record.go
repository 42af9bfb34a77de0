package replay

import (
	"time"

	"github.com/randalmurphal/eventcore/pkg/eventcore/event"
)

// Metadata keys carrying record fields that have no direct counterpart
// on the event itself.
const (
	metaTarget     = "target"
	metaPriority   = "priority"
	metaComplexity = "complexity_score"
)

// Record is the on-disk shape of a persisted event. Field names and the
// ISO-8601 timestamp format are the stable file format; changing them
// breaks previously saved replay files.
type Record struct {
	ID              string         `json:"id"`
	Type            string         `json:"type"`
	Timestamp       string         `json:"timestamp"`
	Source          string         `json:"source"`
	Target          string         `json:"target,omitempty"`
	Payload         map[string]any `json:"payload"`
	Priority        int            `json:"priority"`
	ComplexityScore float64        `json:"complexity_score"`
}

// RecordFromEvent converts an event to its persisted shape. Target,
// priority and complexity ride in the event metadata when present.
func RecordFromEvent(e event.Event) Record {
	r := Record{
		ID:        e.ID,
		Type:      e.Type,
		Timestamp: e.Timestamp.Format(time.RFC3339Nano),
		Source:    e.Source,
		Payload:   e.Payload,
	}
	if target, ok := e.Metadata[metaTarget].(string); ok {
		r.Target = target
	}
	if priority, ok := numeric(e.Metadata[metaPriority]); ok {
		r.Priority = int(priority)
	}
	if score, ok := numeric(e.Metadata[metaComplexity]); ok {
		r.ComplexityScore = score
	}
	return r
}

// Event reconstructs an event from its persisted shape. An unparseable
// timestamp yields the zero time rather than an error; replay order is
// positional, not time-derived.
func (r Record) Event() event.Event {
	ts, _ := time.Parse(time.RFC3339Nano, r.Timestamp)

	metadata := map[string]any{}
	if r.Target != "" {
		metadata[metaTarget] = r.Target
	}
	if r.Priority != 0 {
		metadata[metaPriority] = r.Priority
	}
	if r.ComplexityScore != 0 {
		metadata[metaComplexity] = r.ComplexityScore
	}

	payload := r.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	return event.Event{
		ID:        r.ID,
		Type:      r.Type,
		Source:    r.Source,
		Timestamp: ts,
		Payload:   payload,
		Metadata:  metadata,
	}
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
