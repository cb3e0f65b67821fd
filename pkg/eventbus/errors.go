package eventbus

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/eventbus/pkg/eventbus/diagnostics"
	"github.com/randalmurphal/eventbus/pkg/eventbus/replay"
)

// Sentinel errors re-exported from the replay channel.
var (
	// ErrNegativeCapacity indicates New was called with a negative replay capacity.
	ErrNegativeCapacity = replay.ErrNegativeCapacity

	// ErrClosed indicates the bus has been closed.
	ErrClosed = replay.ErrClosed

	// ErrCancelled indicates the subscription was cancelled.
	ErrCancelled = replay.ErrCancelled
)

// Sentinel errors reported through diagnostics.
var (
	// ErrNilEvent indicates RaiseEvent or an aggregate member was nil.
	ErrNilEvent = errors.New("event is nil")

	// ErrSequencerSaturated indicates an aggregate was dropped because
	// WithMaxSequencers sequences were already running.
	ErrSequencerSaturated = errors.New("aggregate sequencer limit reached")
)

// DeliveryError wraps a failure with the event and stage it happened at.
// It is what FailureHandler hooks and sinks see in Failure.Err.
type DeliveryError struct {
	// EventID is the ID of the event being delivered, empty for nil events.
	EventID string
	// Stage is where in the pipeline the failure happened.
	Stage diagnostics.Stage
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s of event %q: %v", e.Stage, e.EventID, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// PanicError captures a panic recovered during delivery.
// It includes the stack trace for debugging.
type PanicError struct {
	// Value is the value passed to panic().
	Value any
	// Stack is the full stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("delivery panicked: %v", e.Value)
}
