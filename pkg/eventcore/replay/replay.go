// Package replay persists event sequences to disk and reproduces them
// through a publisher, preserving original order and, optionally, the
// original inter-arrival timing. Intended for recovery drills and
// deterministic testing.
package replay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/randalmurphal/eventcore/pkg/eventcore/event"
	"github.com/randalmurphal/eventcore/pkg/eventcore/observability"
	"github.com/randalmurphal/eventcore/pkg/eventcore/store"
)

// Publisher re-publishes replayed events. Both the event.Bus and a
// delivery-mode-curried event.Router satisfy it.
type Publisher interface {
	Publish(ctx context.Context, e event.Event) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, e event.Event) error

func (f PublisherFunc) Publish(ctx context.Context, e event.Event) error {
	return f(ctx, e)
}

// Replayer saves, loads, and replays event sequences.
type Replayer struct {
	publisher Publisher
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
	spans     observability.SpanManager
}

// ReplayerOption configures a Replayer.
type ReplayerOption func(*Replayer)

// WithLogger sets the logger for persistence and publish failures.
func WithLogger(logger *slog.Logger) ReplayerOption {
	return func(r *Replayer) {
		r.logger = logger
	}
}

// WithMetrics sets the metrics recorder (default: noop).
func WithMetrics(rec observability.MetricsRecorder) ReplayerOption {
	return func(r *Replayer) {
		if rec != nil {
			r.metrics = rec
		}
	}
}

// WithSpans sets the span manager (default: the global OTel tracer
// provider).
func WithSpans(sm observability.SpanManager) ReplayerOption {
	return func(r *Replayer) {
		if sm != nil {
			r.spans = sm
		}
	}
}

// New creates a replayer that re-publishes through the given publisher.
func New(publisher Publisher, opts ...ReplayerOption) *Replayer {
	r := &Replayer{
		publisher: publisher,
		metrics:   observability.NoopMetrics{},
		spans:     observability.NewSpanManager(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SaveToFile serializes the events to path as an indented JSON array of
// records. Returns false and logs on any failure; never panics or
// propagates the error.
func (r *Replayer) SaveToFile(path string, events []event.Event) bool {
	records := make([]Record, len(events))
	for i, e := range events {
		records[i] = RecordFromEvent(e)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		observability.LogPersistenceError(r.logger, "save", path, err)
		return false
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		observability.LogPersistenceError(r.logger, "save", path, err)
		return false
	}
	return true
}

// LoadFromFile reads a previously saved event sequence. Returns an
// empty slice and logs on any failure.
func (r *Replayer) LoadFromFile(path string) []event.Event {
	data, err := os.ReadFile(path)
	if err != nil {
		observability.LogPersistenceError(r.logger, "load", path, err)
		return nil
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		observability.LogPersistenceError(r.logger, "load", path, err)
		return nil
	}

	events := make([]event.Event, len(records))
	for i, rec := range records {
		events[i] = rec.Event()
	}
	return events
}

// Options control replay pacing.
type Options struct {
	// Delay is a fixed wait inserted before each event after the first.
	Delay time.Duration

	// PreserveTiming reproduces the original inter-arrival gaps instead
	// of the fixed delay when at least two events are present.
	PreserveTiming bool
}

// Replay re-publishes the events in original order, marked as replays.
// A publish failure counts but never aborts the run. Cancellation stops
// the replay early; counts reflect the events attempted so far.
func (r *Replayer) Replay(ctx context.Context, events []event.Event, opts Options) (success, failure int) {
	elapsed := observability.TimedOperation()
	ctx, span := r.spans.StartReplaySpan(ctx, len(events))
	defer func() {
		r.spans.EndSpanWithError(span, nil)
		d := elapsed()
		r.metrics.RecordReplay(ctx, success, failure, d)
		observability.LogReplayComplete(r.logger, success, failure, float64(d.Milliseconds()))
	}()

	for i, e := range events {
		if i > 0 {
			if !r.pause(ctx, gap(events, i, opts)) {
				return success, failure
			}
		}
		if ctx.Err() != nil {
			return success, failure
		}

		replayed := e
		replayed.IsReplay = true
		if err := r.publisher.Publish(ctx, replayed); err != nil {
			failure++
			observability.LogDispatchError(r.logger, e.ID, "", err)
			continue
		}
		success++
	}
	return success, failure
}

// SaveToStore appends the events to a durable store. Events already
// present are skipped; any other failure is logged and reported with
// false after the remaining events have been attempted.
func (r *Replayer) SaveToStore(st store.Store, events []event.Event) bool {
	ok := true
	for _, e := range events {
		if err := st.Append(e); err != nil && !errors.Is(err, store.ErrDuplicate) {
			observability.LogPersistenceError(r.logger, "append", "store", err)
			ok = false
		}
	}
	return ok
}

// ReplayFromStore queries the store and replays the result in stored
// order. A query failure is logged and reported as zero counts.
func (r *Replayer) ReplayFromStore(ctx context.Context, st store.Store, q store.QueryOptions, opts Options) (success, failure int) {
	events, err := st.Query(q)
	if err != nil {
		observability.LogPersistenceError(r.logger, "query", "store", err)
		return 0, 0
	}
	return r.Replay(ctx, events, opts)
}

// gap returns the wait before publishing events[i].
func gap(events []event.Event, i int, opts Options) time.Duration {
	if opts.PreserveTiming && len(events) >= 2 {
		d := events[i].Timestamp.Sub(events[i-1].Timestamp)
		if d < 0 {
			return 0
		}
		return d
	}
	return opts.Delay
}

// pause waits d, returning false if the context is cancelled first.
func (r *Replayer) pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
