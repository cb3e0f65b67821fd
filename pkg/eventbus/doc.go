/*
Package eventbus provides an in-process event bus with bounded replay.

# Overview

A Bus fans every raised event out to all subscribers in one global order.
The most recent events are kept in a replay window so that a subscriber
joining late still sees recent history before live events:
  - Broadcast only: every subscriber sees every event
  - Replay: new subscribers start with the last N events
  - Backpressure: publishers wait for subscribers that lag a full window behind
  - Aggregates: composite events are delivered member by member with a delay

# Basic Usage

	bus, err := eventbus.New(16)
	if err != nil {
	    log.Fatal(err)
	}
	defer bus.Close()

	sub := bus.Subscribe()
	defer sub.Cancel()

	bus.RaiseEvent(ctx, event.NewEmpty())

	evt, err := sub.Next(ctx)

Subscriptions can also be ranged over:

	for evt := range sub.Events(ctx) {
	    fmt.Println(event.Kind(evt))
	}

or handed a callback that runs on a bus-owned goroutine:

	bus.SubscribeFunc(func(ctx context.Context, evt event.Event) error {
	    return store.Save(ctx, evt)
	})

# Custom Events

Any type with an ID method is an event. Embed event.Base to get one:

	type OrderPlaced struct {
	    event.Base
	    OrderID string
	}

	bus.RaiseEvent(ctx, &OrderPlaced{Base: event.NewBase(), OrderID: "o-1"})

# Aggregates

An *event.AggregateEvent is never delivered itself. Its members are
published one at a time, in order, with the aggregate's delay between
consecutive members. RaiseEvent returns as soon as the sequence starts:

	bus.RaiseEvent(ctx, event.NewAggregate(50*time.Millisecond, []event.Event{
	    event.NewEmpty(),
	    event.NewError("disk full", nil),
	}))

Sequences run in a scope owned by the bus. They keep running when the
caller's context ends and are cancelled by Close. An aggregate nested inside
another aggregate is delivered as a single event.

# Failure Isolation

RaiseEvent never returns an error. Failures that happen while delivering,
including panics in SubscribeFunc handlers, are caught at a single boundary
and reported to:
  - the logger (WithLogger)
  - the eventbus.delivery.failures metric (WithMetrics)
  - the active trace span (WithTracing)
  - the failure hook (WithFailureHandler)
  - the diagnostics sink (WithSink), queryable with Failures

# Configuration

Buses can be built from YAML or JSON:

	settings, err := config.Load("eventbus.yaml")
	if err != nil {
	    log.Fatal(err)
	}
	bus, err := eventbus.NewFromSettings(settings)

A publish waits for lagging subscribers until they catch up. Set
publish_timeout (or WithPublishTimeout) to give up instead; the event is
then reported as a failure with context.DeadlineExceeded.

# Thread Safety

Bus is safe for concurrent use. A Subscription must be read from one
goroutine at a time; Cancel may be called from anywhere.
*/
package eventbus
