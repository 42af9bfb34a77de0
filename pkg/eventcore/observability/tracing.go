package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is the eventcore tracer instance.
// Uses the global OTel tracer provider.
var tracer = otel.Tracer("eventcore")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartPublishSpan starts a span for an event publication.
	StartPublishSpan(ctx context.Context, eventType, eventID string) (context.Context, trace.Span)

	// StartSendSpan starts a span for a point-to-point message send.
	StartSendSpan(ctx context.Context, receiverID string) (context.Context, trace.Span)

	// StartReplaySpan starts a span for a replay batch.
	StartReplaySpan(ctx context.Context, batchSize int) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the
// provider before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

// StartPublishSpan starts a span for an event publication.
func (m *otelSpanManager) StartPublishSpan(ctx context.Context, eventType, eventID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "eventcore.publish",
		trace.WithAttributes(
			attribute.String("event.type", eventType),
			attribute.String("event.id", eventID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartSendSpan starts a span for a message send.
func (m *otelSpanManager) StartSendSpan(ctx context.Context, receiverID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "eventcore.send",
		trace.WithAttributes(
			attribute.String("receiver.id", receiverID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartReplaySpan starts a span for a replay batch.
func (m *otelSpanManager) StartReplaySpan(ctx context.Context, batchSize int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "eventcore.replay",
		trace.WithAttributes(
			attribute.Int("replay.batch_size", batchSize),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span.
func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
