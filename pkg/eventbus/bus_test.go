package eventbus_test

import (
	"context"
	"fmt"
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

const waitFor = 2 * time.Second

// newBus creates a bus that is closed when the test ends.
func newBus(t *testing.T, capacity int, opts ...eventbus.Option) *eventbus.Bus {
	t.Helper()
	bus, err := eventbus.New(capacity, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

// next reads one event or fails the test after waitFor.
func next(t *testing.T, sub *eventbus.Subscription) event.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	evt, err := sub.Next(ctx)
	require.NoError(t, err)
	return evt
}

// take reads n events.
func take(t *testing.T, sub *eventbus.Subscription, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for range n {
		ids = append(ids, next(t, sub).ID())
	}
	return ids
}

func idsOf(events ...event.Event) []string {
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.ID()
	}
	return ids
}

func empties(prefix string, n int) []event.Event {
	f := event.NewFactory(event.Sequential(prefix))
	out := make([]event.Event, n)
	for i := range out {
		out[i] = f.Empty()
	}
	return out
}

func raiseAll(bus *eventbus.Bus, events []event.Event) {
	for _, e := range events {
		bus.RaiseEvent(context.Background(), e)
	}
}

func TestNew_NegativeCapacity(t *testing.T) {
	bus, err := eventbus.New(-1)
	assert.Nil(t, bus)
	assert.ErrorIs(t, err, eventbus.ErrNegativeCapacity)
}

func TestReplay_CapacityOneKeepsLatest(t *testing.T) {
	bus := newBus(t, 1)
	ctx := context.Background()

	empty := event.NewEmpty()
	failed := event.NewError("x", nil)
	bus.RaiseEvent(ctx, empty)
	bus.RaiseEvent(ctx, failed)

	sub := bus.Subscribe()
	got := next(t, sub)
	assert.Same(t, failed, got)
	assert.Equal(t, 0, sub.Lag())
	assert.Equal(t, []event.Event{failed}, bus.Replay())
}

func TestLiveDelivery_SubscribedFirst(t *testing.T) {
	bus := newBus(t, 5)

	sub := bus.Subscribe()
	empty := event.NewEmpty()
	bus.RaiseEvent(context.Background(), empty)

	assert.Same(t, empty, next(t, sub))
}

func TestReplay_FirstKEventsBeforeLive(t *testing.T) {
	const capacity = 4
	for k := 0; k <= capacity; k++ {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			bus := newBus(t, capacity)
			history := empties("h", k)
			raiseAll(bus, history)

			sub := bus.Subscribe()
			live := event.NewEmpty()
			// With k == capacity the live publish waits for sub to catch up.
			go bus.RaiseEvent(context.Background(), live)

			want := append(idsOf(history...), live.ID())
			assert.Equal(t, want, take(t, sub, k+1))
		})
	}
}

func TestReplay_LastNEvents(t *testing.T) {
	bus := newBus(t, 3)
	history := empties("h", 10)
	raiseAll(bus, history)

	sub := bus.Subscribe()
	assert.Equal(t, idsOf(history[7:]...), take(t, sub, 3))
	assert.Equal(t, 0, sub.Lag())
}

func TestRaiseEvent_NoSubscribersNeverBlocks(t *testing.T) {
	for _, capacity := range []int{0, 1, 8} {
		t.Run(fmt.Sprintf("capacity=%d", capacity), func(t *testing.T) {
			bus := newBus(t, capacity)
			raiseAll(bus, empties("e", 100))
			assert.Equal(t, uint64(100), bus.Stats().Published)
		})
	}
}

func TestSubscribers_SameOrder(t *testing.T) {
	const (
		publishers = 4
		perPub     = 100
		subs       = 3
	)
	bus := newBus(t, 4)

	subscriptions := make([]*eventbus.Subscription, subs)
	for i := range subscriptions {
		subscriptions[i] = bus.Subscribe()
	}

	seen := make([][]string, subs)
	var readers sync.WaitGroup
	for i, sub := range subscriptions {
		readers.Add(1)
		go func() {
			defer readers.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			for range publishers * perPub {
				evt, err := sub.Next(ctx)
				if err != nil {
					return
				}
				seen[i] = append(seen[i], evt.ID())
			}
		}()
	}

	var writers sync.WaitGroup
	for p := range publishers {
		writers.Add(1)
		go func() {
			defer writers.Done()
			raiseAll(bus, empties(fmt.Sprintf("p%d", p), perPub))
		}()
	}
	writers.Wait()
	readers.Wait()

	require.Len(t, seen[0], publishers*perPub)
	for i := 1; i < subs; i++ {
		assert.Equal(t, seen[0], seen[i], "subscriber %d saw a different order", i)
	}
}

func TestBackpressure_UnblocksWhenSubscriberAdvances(t *testing.T) {
	bus := newBus(t, 1)
	sub := bus.Subscribe()
	first, second := event.NewEmpty(), event.NewEmpty()

	bus.RaiseEvent(context.Background(), first)

	done := make(chan struct{})
	go func() {
		defer close(done)
		bus.RaiseEvent(context.Background(), second)
	}()

	require.Eventually(t, func() bool {
		return bus.Stats().WaitingPublishers == 1
	}, waitFor, time.Millisecond)

	assert.Same(t, first, next(t, sub))
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("publisher still blocked after subscriber advanced")
	}
	assert.Same(t, second, next(t, sub))
}

func TestBackpressure_UnblocksWhenSubscriberCancels(t *testing.T) {
	bus := newBus(t, 2)
	sub := bus.Subscribe()
	raiseAll(bus, empties("e", 2))

	done := make(chan struct{})
	go func() {
		defer close(done)
		bus.RaiseEvent(context.Background(), event.NewEmpty())
	}()

	require.Eventually(t, func() bool {
		return bus.Stats().WaitingPublishers == 1
	}, waitFor, time.Millisecond)

	sub.Cancel()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("publisher still blocked after subscriber cancelled")
	}
	assert.Equal(t, uint64(3), bus.Stats().Published)
}

func TestBackpressure_CallerContextEnds(t *testing.T) {
	var (
		mu       sync.Mutex
		failures []*diagnostics.Failure
	)
	bus := newBus(t, 1, eventbus.WithFailureHandler(func(f *diagnostics.Failure) {
		mu.Lock()
		defer mu.Unlock()
		failures = append(failures, f)
	}))
	_ = bus.Subscribe()
	bus.RaiseEvent(context.Background(), event.NewEmpty())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	blocked := event.NewEmpty()
	bus.RaiseEvent(ctx, blocked)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, failures, 1)
	assert.Equal(t, diagnostics.StagePublish, failures[0].Stage)
	assert.Equal(t, blocked.ID(), failures[0].EventID)
	assert.ErrorIs(t, failures[0].Err, context.DeadlineExceeded)
	assert.Equal(t, uint64(1), bus.Stats().Published)
}

func TestBackpressure_PublishTimeout(t *testing.T) {
	mock := clock.NewMock()
	failures := &failureLog{}
	bus := newBus(t, 1,
		eventbus.WithClock(mock),
		eventbus.WithPublishTimeout(time.Second),
		eventbus.WithFailureHandler(failures.record),
	)
	_ = bus.Subscribe()
	bus.RaiseEvent(context.Background(), event.NewEmpty())

	blocked := event.NewEmpty()
	done := make(chan struct{})
	go func() {
		defer close(done)
		bus.RaiseEvent(context.Background(), blocked)
	}()
	require.Eventually(t, func() bool {
		return bus.Stats().WaitingPublishers == 1
	}, waitFor, time.Millisecond)

	mock.Add(time.Second)
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("publisher still blocked after the publish timeout")
	}

	require.Equal(t, 1, failures.len())
	f := failures.all()[0]
	assert.Equal(t, diagnostics.StagePublish, f.Stage)
	assert.Equal(t, blocked.ID(), f.EventID)
	assert.ErrorIs(t, f.Err, context.DeadlineExceeded)
	assert.Equal(t, uint64(1), bus.Stats().Published)
}

func TestSubscription_EventsBreakCancels(t *testing.T) {
	bus := newBus(t, 4)
	raiseAll(bus, empties("e", 3))

	sub := bus.Subscribe()
	require.Equal(t, 1, bus.Stats().Subscribers)

	var got int
	for range sub.Events(context.Background()) {
		got++
		if got == 2 {
			break
		}
	}

	assert.Equal(t, 2, got)
	assert.Equal(t, 0, bus.Stats().Subscribers)

	_, err := sub.Next(context.Background())
	assert.ErrorIs(t, err, eventbus.ErrCancelled)
}

func TestSubscription_EventsIndependentPerSubscribe(t *testing.T) {
	bus := newBus(t, 4)
	history := empties("e", 3)
	raiseAll(bus, history)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	for range 2 {
		var got []string
		for evt := range bus.Subscribe().Events(ctx) {
			got = append(got, evt.ID())
			if len(got) == len(history) {
				break
			}
		}
		assert.Equal(t, idsOf(history...), got)
	}
}

func TestSubscription_CancelIdempotent(t *testing.T) {
	bus := newBus(t, 1)
	sub := bus.Subscribe()

	sub.Cancel()
	sub.Cancel()

	assert.Equal(t, 0, bus.Stats().Subscribers)
}

func TestSubscription_IDsFromGenerator(t *testing.T) {
	bus := newBus(t, 1, eventbus.WithIDs(event.Sequential("sub")))

	assert.Equal(t, "sub-1", bus.Subscribe().ID())
	assert.Equal(t, "sub-2", bus.Subscribe().ID())
}

func TestStats(t *testing.T) {
	bus := newBus(t, 2, eventbus.WithName("orders"))
	_ = bus.Subscribe()
	raiseAll(bus, empties("e", 2))

	stats := bus.Stats()
	assert.Equal(t, "orders", stats.Name)
	assert.Equal(t, 2, stats.ReplayCapacity)
	assert.Equal(t, 1, stats.Subscribers)
	assert.Equal(t, 2, stats.Retained)
	assert.Equal(t, uint64(2), stats.Published)
	assert.Zero(t, stats.WaitingPublishers)
	assert.Zero(t, stats.RunningSequences)
	assert.Zero(t, stats.Failures)
	assert.False(t, stats.Closed)
}

func TestCustomEvent(t *testing.T) {
	type orderPlaced struct {
		event.Base
		OrderID string
	}

	bus := newBus(t, 1)
	sub := bus.Subscribe()
	bus.RaiseEvent(context.Background(), &orderPlaced{Base: event.NewBase(), OrderID: "o-1"})

	got, ok := next(t, sub).(*orderPlaced)
	require.True(t, ok)
	assert.Equal(t, "o-1", got.OrderID)
	assert.NotEmpty(t, got.ID())
}

func TestWithClock_NilKeepsDefault(t *testing.T) {
	bus := newBus(t, 0, eventbus.WithClock(nil))
	sub := bus.Subscribe()
	bus.RaiseEvent(context.Background(), event.NewAggregate(time.Millisecond, empties("m", 2)))
	assert.Len(t, take(t, sub, 2), 2)
}
