package eventbus

import (
	"context"
	"iter"
	"sync"

	"github.com/randalmurphal/eventbus/pkg/eventbus/diagnostics"
	"github.com/randalmurphal/eventbus/pkg/eventbus/event"
	"github.com/randalmurphal/eventbus/pkg/eventbus/observability"
	"github.com/randalmurphal/eventbus/pkg/eventbus/replay"
)

// Handler consumes events pumped by SubscribeFunc. A returned error or a
// panic is recorded as a delivery failure; the handler keeps receiving
// later events.
type Handler func(ctx context.Context, evt event.Event) error

// Subscription is one subscriber's view of the bus: the replayed window
// followed by every later event, in publish order.
//
// Reads are not safe from several goroutines at once. Cancel may be called
// from any goroutine.
type Subscription struct {
	id     string
	bus    *Bus
	cursor *replay.Cursor[event.Event]
	once   sync.Once
}

// Subscribe registers a subscription immediately. It starts at the oldest
// event in the replay window.
func (b *Bus) Subscribe() *Subscription {
	cur := b.channel.Subscribe()
	sub := &Subscription{
		id:     b.newID(),
		bus:    b,
		cursor: cur,
	}

	b.metrics.RecordSubscribers(context.Background(), 1)
	observability.LogSubscribe(b.logger, sub.id, cur.Lag())
	return sub
}

// SubscribeFunc subscribes and calls handler for every event on a goroutine
// owned by the bus. The pump stops when the subscription is cancelled or
// the bus is closed and the subscription drained. On a closed bus the
// returned subscription is already cancelled and handler is never called.
//
// Example:
//
//	sub := bus.SubscribeFunc(func(ctx context.Context, evt event.Event) error {
//	    log.Printf("got %s", event.Kind(evt))
//	    return nil
//	})
//	defer sub.Cancel()
func (b *Bus) SubscribeFunc(handler Handler) *Subscription {
	// Registered under the lock so Close cannot start waiting before Add.
	b.mu.RLock()
	closed := b.closed
	if !closed {
		b.pumps.Add(1)
	}
	b.mu.RUnlock()

	sub := b.Subscribe()
	if closed {
		sub.Cancel()
		return sub
	}

	go func() {
		defer b.pumps.Done()
		defer sub.Cancel()

		ctx := context.Background()
		for {
			evt, err := sub.Next(ctx)
			if err != nil {
				return
			}
			d := delivery{stage: diagnostics.StageHandle, evt: evt, member: -1}
			_ = b.deliver(ctx, d, func(ctx context.Context) error {
				return handler(ctx, evt)
			})
		}
	}()
	return sub
}

// ID returns the subscription ID used in logs.
func (s *Subscription) ID() string {
	return s.id
}

// Next returns the next event, waiting until one is raised.
//
// It returns ErrCancelled after Cancel, ErrClosed once the bus is closed and
// everything published before Close was read, or ctx.Err().
func (s *Subscription) Next(ctx context.Context) (event.Event, error) {
	return s.cursor.Next(ctx)
}

// Events returns the subscription as a sequence. Iteration stops when ctx
// ends or the bus is closed and drained. Leaving the loop, for any reason,
// cancels the subscription.
//
// Example:
//
//	for evt := range bus.Subscribe().Events(ctx) {
//	    handle(evt)
//	}
func (s *Subscription) Events(ctx context.Context) iter.Seq[event.Event] {
	return func(yield func(event.Event) bool) {
		defer s.Cancel()
		for evt := range s.cursor.All(ctx) {
			if !yield(evt) {
				return
			}
		}
	}
}

// Lag returns how many raised events this subscription has not read yet.
func (s *Subscription) Lag() int {
	return s.cursor.Lag()
}

// Cancel detaches the subscription. Publishers waiting on it are released
// and events already read stay read. Calling Cancel more than once is a
// no-op.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.cursor.Cancel()
		s.bus.metrics.RecordSubscribers(context.Background(), -1)
		observability.LogUnsubscribe(s.bus.logger, s.id)
	})
}
