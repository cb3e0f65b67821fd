// Package observability provides logging, metrics and tracing for the event
// bus.
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

// EnrichLogger adds bus context to a logger.
//
// Example:
//
//	enriched := EnrichLogger(logger, "orders", 16)
//	enriched.Info("ready") // includes bus and replay_capacity
func EnrichLogger(logger *slog.Logger, busName string, replayCapacity int) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("bus", busName),
		slog.Int("replay_capacity", replayCapacity),
	)
}

// LogPublish logs a single event placed on the fast path.
func LogPublish(logger *slog.Logger, eventID, kind string) {
	if logger == nil {
		return
	}
	logger.Debug("event published",
		slog.String("event_id", eventID),
		slog.String("event_kind", kind),
	)
}

// LogPublishFallback logs that the fast path refused an event and the
// publisher is about to wait for lagging subscribers.
func LogPublishFallback(logger *slog.Logger, eventID, kind string, waiting int) {
	if logger == nil {
		return
	}
	logger.Debug("replay buffer full, waiting for subscribers",
		slog.String("event_id", eventID),
		slog.String("event_kind", kind),
		slog.Int("waiting_publishers", waiting),
	)
}

// LogPublishSuspended logs completion of a publish that had to wait.
func LogPublishSuspended(logger *slog.Logger, eventID string, waitMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("event published after waiting",
		slog.String("event_id", eventID),
		slog.Float64("wait_ms", waitMs),
	)
}

// LogDeliveryFailure logs an isolated delivery failure. Failures never
// reach publishers, so this is where they become visible.
func LogDeliveryFailure(logger *slog.Logger, stage, eventID, kind string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("event delivery failed",
		slog.String("stage", stage),
		slog.String("event_id", eventID),
		slog.String("event_kind", kind),
		slog.String("error", err.Error()),
	)
}

// LogSequenceStart logs the start of an aggregate sequence.
func LogSequenceStart(logger *slog.Logger, aggregateID string, members int, delay time.Duration) {
	if logger == nil {
		return
	}
	logger.Debug("aggregate sequence starting",
		slog.String("aggregate_id", aggregateID),
		slog.Int("members", members),
		slog.Duration("delay", delay),
	)
}

// LogSequenceComplete logs the end of an aggregate sequence.
func LogSequenceComplete(logger *slog.Logger, aggregateID string, delivered, failed int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("aggregate sequence completed",
		slog.String("aggregate_id", aggregateID),
		slog.Int("delivered", delivered),
		slog.Int("failed", failed),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogSubscribe logs a new subscription.
func LogSubscribe(logger *slog.Logger, subscriberID string, replayed int) {
	if logger == nil {
		return
	}
	logger.Debug("subscriber attached",
		slog.String("subscriber_id", subscriberID),
		slog.Int("replayed", replayed),
	)
}

// LogUnsubscribe logs a cancelled subscription.
func LogUnsubscribe(logger *slog.Logger, subscriberID string) {
	if logger == nil {
		return
	}
	logger.Debug("subscriber detached",
		slog.String("subscriber_id", subscriberID),
	)
}

// LogClose logs bus shutdown.
func LogClose(logger *slog.Logger, pendingSequences int, err error) {
	if logger == nil {
		return
	}
	if err != nil {
		logger.Error("bus closed with errors",
			slog.Int("pending_sequences", pendingSequences),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Info("bus closed",
		slog.Int("pending_sequences", pendingSequences),
	)
}
