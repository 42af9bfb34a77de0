package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records eventcore metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordPublish records an event publication with the number of matched
	// subscriptions, the dispatch duration, and error status.
	RecordPublish(ctx context.Context, eventType string, matched int, duration time.Duration, err error)

	// RecordMessage records a point-to-point send attempt and whether the
	// receiver's queue accepted it.
	RecordMessage(ctx context.Context, receiverID string, accepted bool)

	// RecordReplay records a replay batch completion.
	RecordReplay(ctx context.Context, success, failure int, duration time.Duration)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	eventsPublished  metric.Int64Counter
	dispatchLatency  metric.Float64Histogram
	dispatchErrors   metric.Int64Counter
	matchedSubs      metric.Int64Histogram
	messagesSent     metric.Int64Counter
	messagesRejected metric.Int64Counter
	replayBatchSize  metric.Int64Histogram
	replayLatency    metric.Float64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("eventcore")

	eventsPublished, err := meter.Int64Counter("eventcore.events.published",
		metric.WithDescription("Number of events published"),
	)
	if err != nil {
		return nil, err
	}

	dispatchLatency, err := meter.Float64Histogram("eventcore.dispatch.latency_ms",
		metric.WithDescription("Event dispatch latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	dispatchErrors, err := meter.Int64Counter("eventcore.dispatch.errors",
		metric.WithDescription("Number of handler failures during dispatch"),
	)
	if err != nil {
		return nil, err
	}

	matchedSubs, err := meter.Int64Histogram("eventcore.dispatch.matched_subscriptions",
		metric.WithDescription("Matched subscriptions per published event"),
	)
	if err != nil {
		return nil, err
	}

	messagesSent, err := meter.Int64Counter("eventcore.messages.sent",
		metric.WithDescription("Number of messages accepted by receiver queues"),
	)
	if err != nil {
		return nil, err
	}

	messagesRejected, err := meter.Int64Counter("eventcore.messages.rejected",
		metric.WithDescription("Number of messages rejected by full receiver queues"),
	)
	if err != nil {
		return nil, err
	}

	replayBatchSize, err := meter.Int64Histogram("eventcore.replay.batch_size",
		metric.WithDescription("Events per replay batch"),
	)
	if err != nil {
		return nil, err
	}

	replayLatency, err := meter.Float64Histogram("eventcore.replay.latency_ms",
		metric.WithDescription("Replay batch latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		eventsPublished:  eventsPublished,
		dispatchLatency:  dispatchLatency,
		dispatchErrors:   dispatchErrors,
		matchedSubs:      matchedSubs,
		messagesSent:     messagesSent,
		messagesRejected: messagesRejected,
		replayBatchSize:  replayBatchSize,
		replayLatency:    replayLatency,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordPublish records an event publication.
func (m *otelMetrics) RecordPublish(ctx context.Context, eventType string, matched int, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("event_type", eventType),
	}

	m.eventsPublished.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.dispatchLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	m.matchedSubs.Record(ctx, int64(matched), metric.WithAttributes(attrs...))

	if err != nil {
		m.dispatchErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordMessage records a send attempt.
func (m *otelMetrics) RecordMessage(ctx context.Context, receiverID string, accepted bool) {
	attrs := []attribute.KeyValue{
		attribute.String("receiver_id", receiverID),
	}
	if accepted {
		m.messagesSent.Add(ctx, 1, metric.WithAttributes(attrs...))
	} else {
		m.messagesRejected.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordReplay records a replay batch.
func (m *otelMetrics) RecordReplay(ctx context.Context, success, failure int, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.Bool("clean", failure == 0),
	}
	m.replayBatchSize.Record(ctx, int64(success+failure), metric.WithAttributes(attrs...))
	m.replayLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}
