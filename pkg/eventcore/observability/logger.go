// Package observability provides production-grade observability features
// for eventcore: structured logging, metrics, and distributed tracing.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds eventcore context to a logger.
// Returns a new logger with component and node_id fields.
func EnrichLogger(logger *slog.Logger, component, nodeID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("component", component),
		slog.String("node_id", nodeID),
	)
}

// LogDispatchError logs a handler failure during event delivery.
func LogDispatchError(logger *slog.Logger, eventID, subscriptionID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("event dispatch failed",
		slog.String("event_id", eventID),
		slog.String("subscription_id", subscriptionID),
		slog.String("error", err.Error()),
	)
}

// LogQueueFull logs a rejected send due to backpressure.
func LogQueueFull(logger *slog.Logger, receiverID string, capacity int) {
	if logger == nil {
		return
	}
	logger.Warn("message queue full",
		slog.String("receiver_id", receiverID),
		slog.Int("capacity", capacity),
	)
}

// LogMatchDegraded logs a pattern that degraded to match-nothing.
func LogMatchDegraded(logger *slog.Logger, pattern string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("pattern degraded to match-nothing",
		slog.String("pattern", pattern),
		slog.String("error", err.Error()),
	)
}

// LogReplayComplete logs the outcome of a replay batch.
func LogReplayComplete(logger *slog.Logger, success, failure int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("replay completed",
		slog.Int("success", success),
		slog.Int("failure", failure),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogPersistenceError logs a save/load failure (non-fatal to the caller).
func LogPersistenceError(logger *slog.Logger, op, path string, err error) {
	if logger == nil {
		return
	}
	logger.Error("persistence failed",
		slog.String("operation", op),
		slog.String("path", path),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time.
func TimedOperation() func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		return time.Since(start)
	}
}
