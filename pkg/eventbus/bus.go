package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/eventbus/pkg/eventbus/config"
	"github.com/randalmurphal/eventbus/pkg/eventbus/diagnostics"
	"github.com/randalmurphal/eventbus/pkg/eventbus/event"
	"github.com/randalmurphal/eventbus/pkg/eventbus/observability"
	"github.com/randalmurphal/eventbus/pkg/eventbus/replay"
)

// Bus fans every raised event out to all subscribers, replaying the most
// recent events to late subscribers. A Bus is safe for concurrent use.
type Bus struct {
	name      string
	channel   *replay.Channel[event.Event]
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
	spans     observability.SpanManager
	clock     clock.Clock
	newID     event.IDFunc
	onFailure FailureHandler
	sink      diagnostics.Sink
	ownsSink  bool
	timeout   time.Duration

	// scope owns aggregate sequencers; Close cancels it.
	scope      context.Context
	cancel     context.CancelFunc
	sequencers errgroup.Group
	bounded    bool
	pumps      sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	running  atomic.Int64
	failures atomic.Uint64
}

// Stats is a point-in-time view of a bus.
type Stats struct {
	Name              string
	ReplayCapacity    int
	Subscribers       int    // live subscriptions
	Retained          int    // events held in memory, including unread ones
	Published         uint64 // events appended since creation
	WaitingPublishers int    // publishers suspended on lagging subscribers
	RunningSequences  int    // aggregate sequences in flight
	Failures          uint64 // delivery failures reported since creation
	Closed            bool
}

// New creates a bus that replays the last replayCapacity events to new
// subscribers. It returns ErrNegativeCapacity when replayCapacity < 0.
//
// Example:
//
//	bus, err := eventbus.New(16,
//	    eventbus.WithLogger(logger),
//	    eventbus.WithMetrics(true),
//	)
//	if err != nil {
//	    return err
//	}
//	defer bus.Close()
func New(replayCapacity int, opts ...Option) (*Bus, error) {
	ch, err := replay.New[event.Event](replayCapacity)
	if err != nil {
		return nil, err
	}

	cfg := defaultBusConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	scope, cancel := context.WithCancel(context.Background())
	b := &Bus{
		name:      cfg.name,
		channel:   ch,
		logger:    observability.EnrichLogger(cfg.logger, cfg.name, replayCapacity),
		metrics:   cfg.metrics,
		spans:     cfg.spans,
		clock:     cfg.clock,
		newID:     cfg.newID,
		onFailure: cfg.onFailure,
		sink:      cfg.sink,
		ownsSink:  cfg.ownsSink,
		timeout:   cfg.publishTimeout,
		scope:     scope,
		cancel:    cancel,
	}
	if cfg.maxSequencers > 0 {
		b.sequencers.SetLimit(cfg.maxSequencers)
		b.bounded = true
	}
	return b, nil
}

// NewFromSettings creates a bus from loaded configuration. The diagnostics
// sink named by the settings is owned by the bus and closed by Close.
// opts are applied after the settings and win over them.
func NewFromSettings(s config.BusSettings, opts ...Option) (*Bus, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	base := []Option{
		WithName(s.Name),
		WithMaxSequencers(s.MaxSequencers),
		WithPublishTimeout(s.PublishTimeout),
		WithMetrics(s.Metrics),
		WithTracing(s.Tracing),
	}

	var owned diagnostics.Sink
	switch s.Diagnostics.Sink {
	case config.SinkMemory:
		base = append(base, WithSink(diagnostics.NewMemorySink(s.Diagnostics.Capacity)))
	case config.SinkSQLite:
		sink, err := diagnostics.NewSQLiteSink(s.Diagnostics.Path, s.Diagnostics.Capacity)
		if err != nil {
			return nil, fmt.Errorf("open diagnostics sink: %w", err)
		}
		owned = sink
		base = append(base, withOwnedSink(sink))
	case config.SinkNone:
		base = append(base, WithSink(nil))
	}

	b, err := New(s.ReplayCapacity, append(base, opts...)...)
	if err != nil && owned != nil {
		err = multierr.Append(err, owned.Close())
	}
	return b, err
}

// RaiseEvent publishes evt to every subscriber.
//
// Aggregate events are handed to a sequencer that publishes each member in
// order with the aggregate's delay between them; RaiseEvent returns without
// waiting for it. Any other event is published directly and RaiseEvent may
// wait while subscribers lag a full replay window behind.
//
// RaiseEvent never reports failures to the caller. They are logged, counted
// and recorded in the diagnostics sink instead.
func (b *Bus) RaiseEvent(ctx context.Context, evt event.Event) {
	if evt == nil {
		b.fail(ctx, delivery{stage: diagnostics.StagePublish, member: -1}, ErrNilEvent)
		return
	}

	if agg, ok := asAggregate(evt); ok {
		if agg == nil {
			b.fail(ctx, delivery{stage: diagnostics.StageSequence, member: -1}, ErrNilEvent)
			return
		}
		b.startSequence(ctx, agg)
		return
	}

	if b.isClosed() {
		b.fail(ctx, delivery{stage: diagnostics.StagePublish, evt: evt, member: -1}, ErrClosed)
		return
	}

	_ = b.deliver(ctx, delivery{stage: diagnostics.StagePublish, evt: evt, member: -1}, func(ctx context.Context) error {
		return b.publish(ctx, evt)
	})
}

// Replay returns the events a new subscriber would replay, oldest first.
func (b *Bus) Replay() []event.Event {
	return b.channel.Snapshot()
}

// Failures returns up to limit recorded delivery failures, newest first.
// It returns nil when the bus records no failures.
func (b *Bus) Failures(ctx context.Context, limit int) ([]*diagnostics.Failure, error) {
	if b.sink == nil {
		return nil, nil
	}
	return b.sink.Recent(ctx, limit)
}

// Stats returns a point-in-time view of the bus.
func (b *Bus) Stats() Stats {
	cs := b.channel.Stats()
	return Stats{
		Name:              b.name,
		ReplayCapacity:    cs.Capacity,
		Subscribers:       cs.Subscribers,
		Retained:          cs.Retained,
		Published:         cs.Appended,
		WaitingPublishers: cs.Waiting,
		RunningSequences:  int(b.running.Load()),
		Failures:          b.failures.Load(),
		Closed:            b.isClosed(),
	}
}

// Close stops the bus. Running aggregate sequences are cancelled and their
// undelivered members reported as failures, suspended publishers are
// released with ErrClosed, and subscribers drain what was already published.
// Close waits for SubscribeFunc handlers to finish draining.
//
// Calling Close more than once is a no-op.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	pending := int(b.running.Load())
	b.cancel()
	err := b.sequencers.Wait()

	b.channel.Close()
	b.pumps.Wait()

	if b.ownsSink && b.sink != nil {
		err = multierr.Append(err, b.sink.Close())
	}

	observability.LogClose(b.logger, pending, err)
	return err
}

func (b *Bus) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// publish places a single event on the channel, falling back to the
// suspending path when a subscriber lags a full window behind. The
// suspension is bounded by the publish timeout when one is set.
func (b *Bus) publish(ctx context.Context, evt event.Event) error {
	if evt == nil {
		return ErrNilEvent
	}
	id, kind := evt.ID(), event.Kind(evt)

	if b.channel.TryPublish(evt) {
		observability.LogPublish(b.logger, id, kind)
		b.metrics.RecordPublish(ctx, observability.PathFast, 0)
		return nil
	}

	observability.LogPublishFallback(b.logger, id, kind, b.channel.Stats().Waiting)
	start := b.clock.Now()
	waitCtx := ctx
	if b.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = b.clock.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	if _, err := b.channel.Publish(waitCtx, evt); err != nil {
		return err
	}
	wait := b.clock.Since(start)

	observability.LogPublishSuspended(b.logger, id, float64(wait.Microseconds())/1000)
	b.metrics.RecordPublish(ctx, observability.PathFallback, wait)
	return nil
}

// startSequence launches a sequencer for agg in the bus scope.
func (b *Bus) startSequence(ctx context.Context, agg *event.AggregateEvent) {
	d := delivery{stage: diagnostics.StageSequence, evt: agg, aggregateID: agg.ID(), member: -1}

	// The sequence outlives the caller's context but stays in its trace.
	seqCtx := trace.ContextWithSpanContext(b.scope, trace.SpanContextFromContext(ctx))
	members := slices.Clone(agg.Events)
	run := func() error {
		b.runSequence(seqCtx, agg, members)
		return nil
	}

	// Held across launch so Close cannot start waiting before Go registers.
	b.mu.RLock()
	closed, launched := b.closed, false
	if !closed {
		b.running.Add(1)
		if b.bounded {
			launched = b.sequencers.TryGo(run)
		} else {
			b.sequencers.Go(run)
			launched = true
		}
		if !launched {
			b.running.Add(-1)
		}
	}
	b.mu.RUnlock()

	switch {
	case closed:
		b.fail(ctx, d, ErrClosed)
	case !launched:
		b.fail(ctx, d, ErrSequencerSaturated)
	}
}

// runSequence publishes each member of agg in order, pausing between them.
// A failed member does not stop the ones after it.
func (b *Bus) runSequence(ctx context.Context, agg *event.AggregateEvent, members []event.Event) {
	defer b.running.Add(-1)

	delay := agg.Pause()
	ctx, span := b.spans.StartSequenceSpan(ctx, agg.ID(), len(members), delay)
	observability.LogSequenceStart(b.logger, agg.ID(), len(members), delay)
	start := b.clock.Now()

	var (
		errs      error
		delivered int
		failed    int
	)
	for i, member := range members {
		if i > 0 {
			_ = b.sleep(ctx, delay)
		}

		d := delivery{stage: diagnostics.StageMember, evt: member, aggregateID: agg.ID(), member: i}
		var err error
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = b.fail(ctx, d, ctxErr)
		} else {
			err = b.deliver(ctx, d, func(ctx context.Context) error {
				return b.publish(ctx, member)
			})
		}
		if err != nil {
			failed++
			errs = multierr.Append(errs, err)
			continue
		}

		delivered++
		b.spans.AddSpanEvent(ctx, "member.delivered",
			attribute.String("event.id", eventID(member)),
			attribute.Int("member.index", i),
		)
	}

	duration := b.clock.Since(start)
	b.metrics.RecordSequence(ctx, len(members), duration, errs)
	observability.LogSequenceComplete(b.logger, agg.ID(), delivered, failed, float64(duration.Microseconds())/1000)
	b.spans.EndSpanWithError(span, errs)
}

// sleep waits d on the bus clock or until ctx ends.
func (b *Bus) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := b.clock.Timer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// asAggregate reports whether evt is an aggregate, in pointer or value form.
// A nil *AggregateEvent is reported as an aggregate with a nil result.
func asAggregate(evt event.Event) (*event.AggregateEvent, bool) {
	switch e := evt.(type) {
	case *event.AggregateEvent:
		return e, true
	case event.AggregateEvent:
		return &e, true
	}
	return nil, false
}
