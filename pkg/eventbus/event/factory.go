package event

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// IDFunc generates event identifiers. It must be safe for concurrent use.
type IDFunc func() string

// UUIDs returns an IDFunc producing random (v4) UUID strings.
func UUIDs() IDFunc {
	return func() string {
		return uuid.New().String()
	}
}

// Sequential returns an IDFunc producing prefix-1, prefix-2, ...
// Useful when tests need predictable identifiers.
func Sequential(prefix string) IDFunc {
	var n atomic.Uint64
	return func() string {
		return prefix + "-" + strconv.FormatUint(n.Add(1), 10)
	}
}

// Option configures a single event at construction.
type Option func(*eventConfig)

type eventConfig struct {
	id string
}

// WithID sets a specific event ID instead of a generated one.
func WithID(id string) Option {
	return func(cfg *eventConfig) {
		cfg.id = id
	}
}

// Factory builds events with identifiers from its IDFunc.
type Factory struct {
	newID IDFunc
}

var defaultFactory = NewFactory(nil)

// NewFactory creates a Factory. A nil IDFunc falls back to UUIDs.
func NewFactory(newID IDFunc) *Factory {
	if newID == nil {
		newID = UUIDs()
	}
	return &Factory{newID: newID}
}

// Base returns a Base with a freshly generated ID.
func (f *Factory) Base(opts ...Option) Base {
	cfg := &eventConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.id == "" {
		cfg.id = f.newID()
	}
	return Base{EventID: cfg.id}
}

// Empty creates an EmptyEvent.
func (f *Factory) Empty(opts ...Option) *EmptyEvent {
	return &EmptyEvent{Base: f.Base(opts...)}
}

// Error creates an ErrorEvent. cause may be nil.
func (f *Factory) Error(message string, cause error, opts ...Option) *ErrorEvent {
	return &ErrorEvent{
		Base:    f.Base(opts...),
		Message: message,
		Cause:   cause,
	}
}

// Aggregate creates an AggregateEvent. The member slice is copied so later
// changes by the caller do not affect delivery.
func (f *Factory) Aggregate(delay time.Duration, events []Event, opts ...Option) *AggregateEvent {
	return &AggregateEvent{
		Base:   f.Base(opts...),
		Events: append([]Event(nil), events...),
		Delay:  delay,
	}
}
