package eventbus

import (
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/randalmurphal/eventbus/pkg/eventbus/diagnostics"
	"github.com/randalmurphal/eventbus/pkg/eventbus/event"
	"github.com/randalmurphal/eventbus/pkg/eventbus/observability"
)

// FailureHandler is called once for every isolated delivery failure.
// It runs on the goroutine that hit the failure and must not block.
type FailureHandler func(f *diagnostics.Failure)

// busConfig holds configuration collected from options.
type busConfig struct {
	name           string
	logger         *slog.Logger
	metrics        observability.MetricsRecorder
	spans          observability.SpanManager
	clock          clock.Clock
	newID          event.IDFunc
	onFailure      FailureHandler
	sink           diagnostics.Sink
	ownsSink       bool
	maxSequencers  int
	publishTimeout time.Duration
}

// defaultBusConfig returns the default bus configuration.
func defaultBusConfig() busConfig {
	return busConfig{
		name:    "eventbus",
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
		clock:   clock.New(),
		newID:   event.UUIDs(),
		sink:    diagnostics.NewMemorySink(diagnostics.DefaultMemoryCapacity),
	}
}

// Option configures a Bus.
type Option func(*busConfig)

// WithName names the bus in logs and failure records.
// Default: "eventbus"
func WithName(name string) Option {
	return func(c *busConfig) {
		if name != "" {
			c.name = name
		}
	}
}

// WithLogger enables structured logging. A nil logger disables it.
//
// Example:
//
//	bus, err := eventbus.New(16, eventbus.WithLogger(slog.Default()))
func WithLogger(logger *slog.Logger) Option {
	return func(c *busConfig) {
		c.logger = logger
	}
}

// WithMetrics enables OpenTelemetry metrics using the global meter provider.
func WithMetrics(enabled bool) Option {
	return func(c *busConfig) {
		if enabled {
			c.metrics = observability.NewMetricsRecorder()
		} else {
			c.metrics = observability.NoopMetrics{}
		}
	}
}

// WithTracing enables OpenTelemetry tracing using the global tracer provider.
// Each aggregate sequence gets its own span.
func WithTracing(enabled bool) Option {
	return func(c *busConfig) {
		if enabled {
			c.spans = observability.NewSpanManager()
		} else {
			c.spans = observability.NoopSpanManager{}
		}
	}
}

// WithClock sets the clock used for aggregate delays and timings.
// Tests pass clock.NewMock().
func WithClock(clk clock.Clock) Option {
	return func(c *busConfig) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithIDs sets the generator for subscription IDs.
// Default: event.UUIDs()
func WithIDs(newID event.IDFunc) Option {
	return func(c *busConfig) {
		if newID != nil {
			c.newID = newID
		}
	}
}

// WithFailureHandler registers a hook called for every delivery failure.
func WithFailureHandler(fn FailureHandler) Option {
	return func(c *busConfig) {
		c.onFailure = fn
	}
}

// WithSink records delivery failures in sink. The caller keeps ownership
// and closes the sink after the bus. A nil sink disables recording.
// Default: an in-memory ring of diagnostics.DefaultMemoryCapacity failures.
func WithSink(sink diagnostics.Sink) Option {
	return func(c *busConfig) {
		c.sink = sink
		c.ownsSink = false
	}
}

// withOwnedSink records failures in sink and closes it on Close.
func withOwnedSink(sink diagnostics.Sink) Option {
	return func(c *busConfig) {
		c.sink = sink
		c.ownsSink = true
	}
}

// WithMaxSequencers bounds how many aggregate sequences run at once.
// When the bound is reached further aggregates are reported as failures
// with ErrSequencerSaturated. Default: 0 (unbounded)
func WithMaxSequencers(n int) Option {
	return func(c *busConfig) {
		if n >= 0 {
			c.maxSequencers = n
		}
	}
}

// WithPublishTimeout bounds how long RaiseEvent waits for lagging
// subscribers. An event still not placed when d elapses is reported as a
// failure with context.DeadlineExceeded. Default: 0 (wait until placed)
func WithPublishTimeout(d time.Duration) Option {
	return func(c *busConfig) {
		if d >= 0 {
			c.publishTimeout = d
		}
	}
}
