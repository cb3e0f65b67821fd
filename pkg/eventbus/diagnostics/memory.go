package diagnostics

import (
	"context"
	"sync"
)

// DefaultMemoryCapacity is used when NewMemorySink gets a non-positive capacity.
const DefaultMemoryCapacity = 1000

// MemorySink keeps the most recent failures in a fixed-size ring.
// Suitable for tests and single-instance deployments.
type MemorySink struct {
	mu      sync.RWMutex
	ring    []*Failure
	next    int // index the next record goes to
	size    int
	total   int64 // failures recorded since creation
	evicted int64
	closed  bool
}

// NewMemorySink creates a ring holding up to capacity failures.
func NewMemorySink(capacity int) *MemorySink {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemorySink{ring: make([]*Failure, capacity)}
}

// Record implements Sink. When the ring is full the oldest failure is evicted.
func (s *MemorySink) Record(_ context.Context, f *Failure) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}

	if s.size == len(s.ring) {
		s.evicted++
	} else {
		s.size++
	}
	s.ring[s.next] = f
	s.next = (s.next + 1) % len(s.ring)
	s.total++
	return nil
}

// Recent implements Sink.
func (s *MemorySink) Recent(_ context.Context, limit int) ([]*Failure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrSinkClosed
	}
	if limit <= 0 || limit > s.size {
		limit = s.size
	}

	out := make([]*Failure, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (s.next - i + len(s.ring)) % len(s.ring)
		out = append(out, s.ring[idx])
	}
	return out, nil
}

// Count implements Sink.
func (s *MemorySink) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrSinkClosed
	}
	return s.size, nil
}

// Totals returns how many failures were recorded and evicted since creation.
func (s *MemorySink) Totals() (recorded, evicted int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total, s.evicted
}

// Close implements Sink.
func (s *MemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.ring = nil
	s.size = 0
	return nil
}
