package eventbus_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/eventbus/pkg/eventbus"
	"github.com/randalmurphal/eventbus/pkg/eventbus/diagnostics"
	"github.com/randalmurphal/eventbus/pkg/eventbus/event"
)

// failureLog collects failures reported through WithFailureHandler.
type failureLog struct {
	mu       sync.Mutex
	failures []*diagnostics.Failure
}

func (l *failureLog) record(f *diagnostics.Failure) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = append(l.failures, f)
}

func (l *failureLog) all() []*diagnostics.Failure {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*diagnostics.Failure(nil), l.failures...)
}

func (l *failureLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.failures)
}

func TestAggregate_DeliversMembersInOrderToAllSubscribers(t *testing.T) {
	bus := newBus(t, 8)
	subs := []*eventbus.Subscription{bus.Subscribe(), bus.Subscribe()}
	members := empties("m", 3)

	bus.RaiseEvent(context.Background(), event.NewAggregate(5*time.Millisecond, members))

	for _, sub := range subs {
		assert.Equal(t, idsOf(members...), take(t, sub, 3))
	}
}

func TestAggregate_DelayBetweenMembers(t *testing.T) {
	const delay = 25 * time.Millisecond
	bus := newBus(t, 8)
	sub := bus.Subscribe()
	members := empties("m", 3)

	start := time.Now()
	bus.RaiseEvent(context.Background(), event.NewAggregate(delay, members))

	var received []time.Duration
	for range members {
		next(t, sub)
		received = append(received, time.Since(start))
	}

	// Member i cannot be published before i delays have passed.
	for i, at := range received {
		assert.GreaterOrEqual(t, at, time.Duration(i)*delay, "member %d arrived early", i)
	}
}

func TestAggregate_ReturnsBeforeSequenceCompletes(t *testing.T) {
	mock := clock.NewMock()
	bus := newBus(t, 8, eventbus.WithClock(mock))
	sub := bus.Subscribe()
	members := empties("m", 3)

	bus.RaiseEvent(context.Background(), event.NewAggregate(time.Second, members))

	// The first member goes out without waiting; the rest need the clock.
	assert.Equal(t, members[0].ID(), next(t, sub).ID())
	assert.Equal(t, 0, sub.Lag())
	assert.Equal(t, 1, bus.Stats().RunningSequences)

	got := []string{members[0].ID()}
	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		for sub.Lag() > 0 {
			evt, err := sub.Next(context.Background())
			if err != nil {
				return false
			}
			got = append(got, evt.ID())
		}
		return len(got) == len(members)
	}, waitFor, 5*time.Millisecond)

	assert.Equal(t, idsOf(members...), got)
	require.Eventually(t, func() bool {
		return bus.Stats().RunningSequences == 0
	}, waitFor, time.Millisecond)
}

func TestAggregate_Empty(t *testing.T) {
	failures := &failureLog{}
	bus := newBus(t, 4, eventbus.WithFailureHandler(failures.record))
	sub := bus.Subscribe()

	bus.RaiseEvent(context.Background(), event.NewAggregate(time.Hour, nil))

	require.Eventually(t, func() bool {
		return bus.Stats().RunningSequences == 0
	}, waitFor, time.Millisecond)
	assert.Equal(t, uint64(0), bus.Stats().Published)
	assert.Equal(t, 0, sub.Lag())
	assert.Zero(t, failures.len())
}

func TestAggregate_ZeroDelayBackToBack(t *testing.T) {
	mock := clock.NewMock()
	bus := newBus(t, 8, eventbus.WithClock(mock))
	sub := bus.Subscribe()
	members := empties("m", 5)

	// The mock clock never moves, so any pause would hang the sequence.
	bus.RaiseEvent(context.Background(), event.NewAggregate(0, members))

	assert.Equal(t, idsOf(members...), take(t, sub, 5))
}

func TestAggregate_NegativeDelayTreatedAsZero(t *testing.T) {
	mock := clock.NewMock()
	bus := newBus(t, 8, eventbus.WithClock(mock))
	sub := bus.Subscribe()
	members := empties("m", 2)

	bus.RaiseEvent(context.Background(), &event.AggregateEvent{
		Base:   event.NewBase(),
		Events: members,
		Delay:  -time.Second,
	})

	assert.Equal(t, idsOf(members...), take(t, sub, 2))
}

func TestAggregate_ValueForm(t *testing.T) {
	bus := newBus(t, 8)
	sub := bus.Subscribe()
	members := empties("m", 2)

	bus.RaiseEvent(context.Background(), *event.NewAggregate(0, members))

	assert.Equal(t, idsOf(members...), take(t, sub, 2))
}

func TestAggregate_NestedAggregateIsSingleEvent(t *testing.T) {
	bus := newBus(t, 8)
	sub := bus.Subscribe()

	inner := event.NewAggregate(0, empties("inner", 2))
	outer := event.NewAggregate(0, []event.Event{event.NewEmpty(), inner})

	bus.RaiseEvent(context.Background(), outer)

	next(t, sub)
	assert.Same(t, inner, next(t, sub))
	assert.Equal(t, 0, sub.Lag())
}

func TestAggregate_OutlivesCallerContext(t *testing.T) {
	bus := newBus(t, 8)
	sub := bus.Subscribe()
	members := empties("m", 3)

	ctx, cancel := context.WithCancel(context.Background())
	bus.RaiseEvent(ctx, event.NewAggregate(5*time.Millisecond, members))
	cancel()

	assert.Equal(t, idsOf(members...), take(t, sub, 3))
}

func TestAggregate_MemberFailureIsolated(t *testing.T) {
	failures := &failureLog{}
	bus := newBus(t, 8, eventbus.WithFailureHandler(failures.record))
	sub := bus.Subscribe()

	first, last := event.NewEmpty(), event.NewEmpty()
	agg := event.NewAggregate(0, []event.Event{first, nil, last})
	bus.RaiseEvent(context.Background(), agg)

	assert.Equal(t, idsOf(first, last), take(t, sub, 2))

	require.Eventually(t, func() bool { return failures.len() == 1 }, waitFor, time.Millisecond)
	f := failures.all()[0]
	assert.Equal(t, diagnostics.StageMember, f.Stage)
	assert.Equal(t, agg.ID(), f.AggregateID)
	assert.Equal(t, 1, f.MemberIndex)
	assert.Equal(t, "nil", f.EventKind)
	assert.ErrorIs(t, f.Err, eventbus.ErrNilEvent)
}

func TestAggregate_CloseCancelsSequence(t *testing.T) {
	bus, err := eventbus.New(8)
	require.NoError(t, err)
	sub := bus.Subscribe()
	members := empties("m", 3)

	bus.RaiseEvent(context.Background(), event.NewAggregate(time.Hour, members))
	assert.Equal(t, members[0].ID(), next(t, sub).ID())

	require.NoError(t, bus.Close())
	assert.Zero(t, bus.Stats().RunningSequences)

	// Only the first member was published; the subscriber drains it and stops.
	_, err = sub.Next(context.Background())
	assert.ErrorIs(t, err, eventbus.ErrClosed)

	failures, err := bus.Failures(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, failures, 2)
	for i, f := range failures {
		assert.Equal(t, diagnostics.StageMember, f.Stage)
		assert.Equal(t, 2-i, f.MemberIndex, "newest first")
		assert.True(t, errors.Is(f.Err, context.Canceled))
	}
}

func TestAggregate_SequencerLimit(t *testing.T) {
	mock := clock.NewMock()
	failures := &failureLog{}
	bus := newBus(t, 8,
		eventbus.WithClock(mock),
		eventbus.WithMaxSequencers(1),
		eventbus.WithFailureHandler(failures.record),
	)

	parked := event.NewAggregate(time.Second, empties("a", 2))
	dropped := event.NewAggregate(0, empties("b", 2))

	bus.RaiseEvent(context.Background(), parked)
	bus.RaiseEvent(context.Background(), dropped)

	require.Equal(t, 1, failures.len())
	f := failures.all()[0]
	assert.Equal(t, diagnostics.StageSequence, f.Stage)
	assert.Equal(t, dropped.ID(), f.AggregateID)
	assert.ErrorIs(t, f.Err, eventbus.ErrSequencerSaturated)
}

func TestAggregate_AfterClose(t *testing.T) {
	failures := &failureLog{}
	bus, err := eventbus.New(4, eventbus.WithFailureHandler(failures.record))
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	agg := event.NewAggregate(0, empties("m", 1))
	bus.RaiseEvent(context.Background(), agg)

	require.Equal(t, 1, failures.len())
	assert.Equal(t, diagnostics.StageSequence, failures.all()[0].Stage)
	assert.ErrorIs(t, failures.all()[0].Err, eventbus.ErrClosed)
	assert.Zero(t, bus.Stats().Published)
}
