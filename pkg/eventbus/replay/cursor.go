package replay

import (
	"context"
	"iter"
)

// Cursor is one reader's position in a Channel. A cursor is not safe for
// concurrent reads from several goroutines; Cancel may be called from any
// goroutine.
type Cursor[T any] struct {
	ch        *Channel[T]
	next      uint64 // guarded by ch.mu
	cancelled bool   // guarded by ch.mu
}

// Next returns the next value, waiting until one is published.
//
// It returns ErrCancelled after Cancel, ErrClosed once the channel is closed
// and every value appended before Close was read, or ctx.Err().
func (cur *Cursor[T]) Next(ctx context.Context) (T, error) {
	var zero T
	c := cur.ch

	c.mu.Lock()
	for {
		if cur.cancelled {
			c.mu.Unlock()
			return zero, ErrCancelled
		}
		if cur.next < c.tail {
			v := cur.takeLocked()
			c.mu.Unlock()
			return v, nil
		}
		if c.closed {
			c.mu.Unlock()
			return zero, ErrClosed
		}

		wake := c.changed
		c.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
		c.mu.Lock()
	}
}

// TryNext returns the next value if one is available without waiting.
func (cur *Cursor[T]) TryNext() (T, bool) {
	var zero T
	c := cur.ch

	c.mu.Lock()
	defer c.mu.Unlock()

	if cur.cancelled || cur.next >= c.tail {
		return zero, false
	}
	return cur.takeLocked(), true
}

// All yields values until ctx ends, the cursor is cancelled, or the channel
// is closed and drained. Breaking out of the loop leaves the cursor live.
func (cur *Cursor[T]) All(ctx context.Context) iter.Seq[T] {
	return func(yield func(T) bool) {
		for {
			v, err := cur.Next(ctx)
			if err != nil {
				return
			}
			if !yield(v) {
				return
			}
		}
	}
}

// Cancel removes the cursor from the channel. Publishers waiting only on
// this cursor are released and a pending Next returns ErrCancelled.
// Calling Cancel more than once is a no-op.
func (cur *Cursor[T]) Cancel() {
	c := cur.ch

	c.mu.Lock()
	defer c.mu.Unlock()

	if cur.cancelled {
		return
	}
	cur.cancelled = true
	delete(c.cursors, cur)
	c.trimLocked()
	c.notifyLocked()
}

// Cancelled reports whether Cancel was called.
func (cur *Cursor[T]) Cancelled() bool {
	cur.ch.mu.Lock()
	defer cur.ch.mu.Unlock()
	return cur.cancelled
}

// Position returns the log position of the next value this cursor will read.
func (cur *Cursor[T]) Position() uint64 {
	cur.ch.mu.Lock()
	defer cur.ch.mu.Unlock()
	return cur.next
}

// Lag returns how many published values this cursor has not read yet.
func (cur *Cursor[T]) Lag() int {
	cur.ch.mu.Lock()
	defer cur.ch.mu.Unlock()
	return int(cur.ch.tail - cur.next)
}

func (cur *Cursor[T]) takeLocked() T {
	c := cur.ch
	v := c.entries[cur.next-c.head]
	cur.next++
	c.trimLocked()

	// Only publishers wait on reader progress.
	if c.waiting > 0 {
		c.notifyLocked()
	}
	return v
}
