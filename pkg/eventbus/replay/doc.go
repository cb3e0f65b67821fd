// Package replay implements a bounded, ordered, multi-reader broadcast log.
//
// # Overview
//
// A Channel is an append-only log with a fixed replay window. Every value
// published to the channel gets the next position in one global order. Readers
// attach with Subscribe and receive a Cursor that starts at the oldest value
// still in the replay window and then follows the live tail:
//
//	ch, err := replay.New[string](2)
//	ch.TryPublish("a")
//	ch.TryPublish("b")
//	ch.TryPublish("c")
//
//	cur := ch.Subscribe() // replays "b", "c"
//	v, _ := cur.Next(ctx) // "b"
//
// # Backpressure
//
// Memory is bounded by the replay capacity. A value is dropped from the log
// only when it has left the replay window AND every live cursor has read it.
// The slowest live cursor may therefore lag the tail by at most
// max(capacity, 1) values:
//
//   - TryPublish appends only if the lag bound still holds and reports false
//     otherwise (fast path, never blocks).
//   - Publish tries the fast path first and then suspends until cursors read
//     or cancel (fallback path).
//
// With capacity 0 nothing is kept for late readers; each live cursor holds a
// single hand-off slot, so a publisher waits until every live cursor took the
// previous value. Without live cursors publishing never blocks.
//
// # Concurrency
//
// All structural changes (append, trim, register, advance, cancel) happen
// under one mutex, which is the linearization point for ordering. Waiters
// select on a broadcast channel that is replaced on every change, so both
// Publish and Cursor.Next honour context cancellation. Cursor.Cancel may be
// called at any time, including while a publisher is suspended on that very
// cursor; the publisher is woken immediately.
package replay
