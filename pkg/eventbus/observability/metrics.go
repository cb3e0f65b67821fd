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

// Publish paths reported by RecordPublish.
const (
	PathFast     = "fast"
	PathFallback = "fallback"
)

// MetricsRecorder records event bus metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordPublish records an appended event and how long the publisher waited.
	RecordPublish(ctx context.Context, path string, wait time.Duration)

	// RecordDeliveryFailure records an isolated failure at the given stage.
	RecordDeliveryFailure(ctx context.Context, stage string)

	// RecordSubscribers records a change in the number of live subscribers.
	RecordSubscribers(ctx context.Context, delta int64)

	// RecordSequence records a finished aggregate sequence.
	RecordSequence(ctx context.Context, members int, duration time.Duration, err error)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	published       metric.Int64Counter
	publishWait     metric.Float64Histogram
	failures        metric.Int64Counter
	subscribers     metric.Int64UpDownCounter
	sequences       metric.Int64Counter
	sequenceLatency metric.Float64Histogram
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
	meter := otel.Meter("eventbus")

	published, err := meter.Int64Counter("eventbus.events.published",
		metric.WithDescription("Number of events appended to the replay channel"),
	)
	if err != nil {
		return nil, err
	}

	publishWait, err := meter.Float64Histogram("eventbus.publish.wait_ms",
		metric.WithDescription("Time publishers spent waiting for lagging subscribers"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter("eventbus.delivery.failures",
		metric.WithDescription("Number of isolated delivery failures"),
	)
	if err != nil {
		return nil, err
	}

	subscribers, err := meter.Int64UpDownCounter("eventbus.subscribers",
		metric.WithDescription("Number of live subscribers"),
	)
	if err != nil {
		return nil, err
	}

	sequences, err := meter.Int64Counter("eventbus.aggregate.sequences",
		metric.WithDescription("Number of aggregate sequences run"),
	)
	if err != nil {
		return nil, err
	}

	sequenceLatency, err := meter.Float64Histogram("eventbus.aggregate.latency_ms",
		metric.WithDescription("Aggregate sequence duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		published:       published,
		publishWait:     publishWait,
		failures:        failures,
		subscribers:     subscribers,
		sequences:       sequences,
		sequenceLatency: sequenceLatency,
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

// RecordPublish records an appended event.
func (m *otelMetrics) RecordPublish(ctx context.Context, path string, wait time.Duration) {
	attrs := metric.WithAttributes(attribute.String("path", path))
	m.published.Add(ctx, 1, attrs)
	if path == PathFallback {
		m.publishWait.Record(ctx, float64(wait.Microseconds())/1000, attrs)
	}
}

// RecordDeliveryFailure records an isolated failure.
func (m *otelMetrics) RecordDeliveryFailure(ctx context.Context, stage string) {
	m.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordSubscribers records a subscriber count change.
func (m *otelMetrics) RecordSubscribers(ctx context.Context, delta int64) {
	m.subscribers.Add(ctx, delta)
}

// RecordSequence records a finished aggregate sequence.
func (m *otelMetrics) RecordSequence(ctx context.Context, members int, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.Bool("success", err == nil),
		attribute.Int("members", members),
	)
	m.sequences.Add(ctx, 1, attrs)
	m.sequenceLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
}
