// Package event defines the values carried by the event bus.
//
// Every event satisfies the Event interface, which only requires a stable
// identifier. The package ships three built-in variants:
//   - EmptyEvent: a marker with no payload
//   - ErrorEvent: a diagnostic message with an optional cause
//   - AggregateEvent: an ordered list of member events delivered one by one
//
// Consumers define their own variants by embedding Base:
//
//	type OrderPlaced struct {
//	    event.Base
//	    OrderID string
//	}
//
//	evt := &OrderPlaced{Base: event.NewBase(), OrderID: "o-1"}
package event

import (
	"fmt"
	"time"
)

// Event is the capability every bus value must expose.
// Implementations should be treated as immutable once published.
type Event interface {
	// ID returns the identifier assigned at construction.
	ID() string
}

// Base provides the identity part of an event.
// Embed it in consumer-defined events.
type Base struct {
	EventID string `json:"id"`
}

// ID returns the event identifier.
func (b Base) ID() string {
	return b.EventID
}

// NewBase returns a Base with an identifier from the default factory.
func NewBase() Base {
	return defaultFactory.Base()
}

// EmptyEvent is a marker event without payload.
type EmptyEvent struct {
	Base
}

// String implements fmt.Stringer.
func (e *EmptyEvent) String() string {
	return "EmptyEvent(" + e.EventID + ")"
}

// ErrorEvent carries a diagnostic message and an optional underlying failure.
type ErrorEvent struct {
	Base
	Message string `json:"error"`
	Cause   error  `json:"-"`
}

// Unwrap returns the underlying failure, if any.
func (e *ErrorEvent) Unwrap() error {
	return e.Cause
}

// String implements fmt.Stringer.
func (e *ErrorEvent) String() string {
	if e.Cause != nil {
		return fmt.Sprintf("ErrorEvent(%s: %s: %v)", e.EventID, e.Message, e.Cause)
	}
	return fmt.Sprintf("ErrorEvent(%s: %s)", e.EventID, e.Message)
}

// AggregateEvent is a composite whose members are delivered individually,
// in order, with Delay between successive deliveries.
//
// Members that are themselves aggregates are delivered as single events.
type AggregateEvent struct {
	Base
	Events []Event       `json:"-"`
	Delay  time.Duration `json:"delay"`
}

// Len returns the number of members.
func (e *AggregateEvent) Len() int {
	return len(e.Events)
}

// Pause returns the delay between members, clamped at zero.
func (e *AggregateEvent) Pause() time.Duration {
	if e.Delay < 0 {
		return 0
	}
	return e.Delay
}

// String implements fmt.Stringer.
func (e *AggregateEvent) String() string {
	return fmt.Sprintf("AggregateEvent(%s: %d events, delay %s)", e.EventID, len(e.Events), e.Pause())
}

// Kind classifies an event for logs and diagnostics.
// Built-in variants map to "empty", "error" and "aggregate"; any other
// event is named by its Go type.
func Kind(evt Event) string {
	switch evt.(type) {
	case nil:
		return "nil"
	case *EmptyEvent, EmptyEvent:
		return "empty"
	case *ErrorEvent, ErrorEvent:
		return "error"
	case *AggregateEvent, AggregateEvent:
		return "aggregate"
	default:
		return fmt.Sprintf("%T", evt)
	}
}

// NewEmpty creates an EmptyEvent using the default factory.
func NewEmpty(opts ...Option) *EmptyEvent {
	return defaultFactory.Empty(opts...)
}

// NewError creates an ErrorEvent using the default factory.
// cause may be nil.
func NewError(message string, cause error, opts ...Option) *ErrorEvent {
	return defaultFactory.Error(message, cause, opts...)
}

// NewAggregate creates an AggregateEvent using the default factory.
func NewAggregate(delay time.Duration, events []Event, opts ...Option) *AggregateEvent {
	return defaultFactory.Aggregate(delay, events, opts...)
}
