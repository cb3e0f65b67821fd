package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing.
// Use when metrics are disabled to avoid overhead.
type NoopMetrics struct{}

// Compile-time interface check.
var _ MetricsRecorder = NoopMetrics{}

// RecordPublish does nothing.
func (NoopMetrics) RecordPublish(_ context.Context, _ string, _ time.Duration) {}

// RecordDeliveryFailure does nothing.
func (NoopMetrics) RecordDeliveryFailure(_ context.Context, _ string) {}

// RecordSubscribers does nothing.
func (NoopMetrics) RecordSubscribers(_ context.Context, _ int64) {}

// RecordSequence does nothing.
func (NoopMetrics) RecordSequence(_ context.Context, _ int, _ time.Duration, _ error) {}

// NoopSpanManager is a SpanManager that does nothing.
// Use when tracing is disabled to avoid overhead.
type NoopSpanManager struct{}

// Compile-time interface check.
var _ SpanManager = NoopSpanManager{}

var noopSpan = noop.Span{}

// StartSequenceSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartSequenceSpan(ctx context.Context, _ string, _ int, _ time.Duration) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// EndSpanWithError does nothing.
func (NoopSpanManager) EndSpanWithError(_ trace.Span, _ error) {}

// AddSpanEvent does nothing.
func (NoopSpanManager) AddSpanEvent(_ context.Context, _ string, _ ...attribute.KeyValue) {}
