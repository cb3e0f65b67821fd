package replay

import (
	"context"
	"errors"
	"sync"
)

// Sentinel errors for channel operations.
var (
	// ErrNegativeCapacity indicates New was called with a capacity below zero.
	ErrNegativeCapacity = errors.New("replay capacity must not be negative")

	// ErrClosed indicates the channel has been closed.
	ErrClosed = errors.New("replay channel closed")

	// ErrCancelled indicates the cursor was cancelled.
	ErrCancelled = errors.New("cursor cancelled")
)

// Outcome reports how Publish placed a value.
type Outcome int

// Publish outcomes.
const (
	// Delivered means the value was appended without waiting.
	Delivered Outcome = iota + 1

	// SuspendedThenDelivered means the publisher waited for lagging cursors
	// before the value could be appended.
	SuspendedThenDelivered
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case SuspendedThenDelivered:
		return "suspended_then_delivered"
	default:
		return "unknown"
	}
}

// Stats is a point-in-time view of a channel.
//
// Retained counts the replay window plus values live cursors have not read,
// so it can exceed Capacity. At capacity 0 it is 1 while a live cursor has
// not taken the hand-off value.
type Stats struct {
	Capacity    int    // replay capacity
	Subscribers int    // live cursors
	Retained    int    // values held in memory
	Appended    uint64 // values published since creation
	Waiting     int    // publishers suspended in Publish
	Closed      bool
}

// Channel is a bounded replay broadcast log. The zero value is not usable;
// create one with New.
type Channel[T any] struct {
	capacity int

	mu      sync.Mutex
	entries []T    // entries[i] holds position head+i
	head    uint64 // position of entries[0]
	tail    uint64 // position the next value will get
	cursors map[*Cursor[T]]struct{}
	changed chan struct{}
	waiting int
	closed  bool
}

// New creates a channel that keeps the last capacity values for new cursors.
func New[T any](capacity int) (*Channel[T], error) {
	if capacity < 0 {
		return nil, ErrNegativeCapacity
	}
	return &Channel[T]{
		capacity: capacity,
		cursors:  make(map[*Cursor[T]]struct{}),
		changed:  make(chan struct{}),
	}, nil
}

// Capacity returns the replay capacity.
func (c *Channel[T]) Capacity() int {
	return c.capacity
}

// Subscribe registers a cursor positioned at the oldest value in the replay
// window. The cursor then follows every later value until cancelled.
func (c *Channel[T]) Subscribe() *Cursor[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := &Cursor[T]{ch: c, next: c.replayStartLocked()}
	c.cursors[cur] = struct{}{}
	return cur
}

// TryPublish appends v if that keeps every live cursor within the lag bound.
// It never blocks and returns false if the value was not appended, either
// because a cursor lags too far behind or because the channel is closed.
func (c *Channel[T]) TryPublish(v T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || !c.canAppendLocked() {
		return false
	}
	c.appendLocked(v)
	return true
}

// Publish appends v, waiting for lagging cursors if necessary.
//
// It returns ctx.Err() if ctx ends while waiting and ErrClosed if the channel
// is or becomes closed. The fast path does not consult ctx.
func (c *Channel[T]) Publish(ctx context.Context, v T) (Outcome, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrClosed
	}
	if c.canAppendLocked() {
		c.appendLocked(v)
		c.mu.Unlock()
		return Delivered, nil
	}

	c.waiting++
	for {
		wake := c.changed
		c.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			c.mu.Lock()
			c.waiting--
			c.mu.Unlock()
			return 0, ctx.Err()
		}

		c.mu.Lock()
		if c.closed {
			c.waiting--
			c.mu.Unlock()
			return 0, ErrClosed
		}
		if c.canAppendLocked() {
			c.waiting--
			c.appendLocked(v)
			c.mu.Unlock()
			return SuspendedThenDelivered, nil
		}
	}
}

// Snapshot returns the values in the replay window, oldest first.
func (c *Channel[T]) Snapshot() []T {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := c.replayStartLocked()
	out := make([]T, 0, c.tail-start)
	return append(out, c.entries[start-c.head:]...)
}

// Stats returns a point-in-time view of the channel.
func (c *Channel[T]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Capacity:    c.capacity,
		Subscribers: len(c.cursors),
		Retained:    len(c.entries),
		Appended:    c.tail,
		Waiting:     c.waiting,
		Closed:      c.closed,
	}
}

// Close wakes every suspended publisher with ErrClosed. Cursors keep reading
// what was appended before Close and then report ErrClosed.
func (c *Channel[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.notifyLocked()
}

// window is the maximum lag of the slowest live cursor.
func (c *Channel[T]) window() uint64 {
	if c.capacity < 1 {
		return 1
	}
	return uint64(c.capacity)
}

func (c *Channel[T]) replayStartLocked() uint64 {
	if c.tail < uint64(c.capacity) {
		return 0
	}
	return c.tail - uint64(c.capacity)
}

// slowestLocked returns the lowest unread position among live cursors.
func (c *Channel[T]) slowestLocked() (uint64, bool) {
	var (
		lowest uint64
		found  bool
	)
	for cur := range c.cursors {
		if !found || cur.next < lowest {
			lowest = cur.next
			found = true
		}
	}
	return lowest, found
}

func (c *Channel[T]) canAppendLocked() bool {
	slowest, ok := c.slowestLocked()
	if !ok {
		return true
	}
	return c.tail-slowest < c.window()
}

func (c *Channel[T]) appendLocked(v T) {
	c.entries = append(c.entries, v)
	c.tail++
	c.trimLocked()
	c.notifyLocked()
}

// trimLocked drops values that are outside the replay window and already
// read by every live cursor.
func (c *Channel[T]) trimLocked() {
	floor := c.replayStartLocked()
	if slowest, ok := c.slowestLocked(); ok && slowest < floor {
		floor = slowest
	}
	if floor <= c.head {
		return
	}

	drop := floor - c.head
	clear(c.entries[:drop])
	c.entries = c.entries[drop:]
	c.head = floor
}

// notifyLocked wakes every goroutine waiting on the current change channel.
func (c *Channel[T]) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}
