// Package diagnostics records delivery failures that the bus isolates from
// publishers.
//
// Publishing never returns subscriber-side failures to the caller. Instead
// each failure becomes a Failure value handed to a Sink, where operators can
// inspect it later. Two sinks are provided:
//   - MemorySink: bounded in-memory ring, oldest records evicted first
//   - SQLiteSink: failure journal in a SQLite database
//
// Sinks hold failure metadata only; the events themselves are never stored.
package diagnostics

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Stage names the point in the delivery pipeline where a failure happened.
type Stage string

// Delivery stages.
const (
	// StagePublish is a single-event publish through the replay channel.
	StagePublish Stage = "publish"

	// StageMember is the delivery of one aggregate member.
	StageMember Stage = "member"

	// StageSequence is the start of an aggregate sequence.
	StageSequence Stage = "sequence"

	// StageHandle is a subscriber handler consuming an event.
	StageHandle Stage = "handle"
)

// Failure describes one isolated delivery failure.
type Failure struct {
	ID          string    `json:"id"`
	Bus         string    `json:"bus,omitempty"`
	EventID     string    `json:"event_id"`
	EventKind   string    `json:"event_kind"`
	Stage       Stage     `json:"stage"`
	Message     string    `json:"message"`
	AggregateID string    `json:"aggregate_id,omitempty"`
	MemberIndex int       `json:"member_index"`
	OccurredAt  time.Time `json:"occurred_at"`

	// Err is the original error. It is not persisted by SQLiteSink.
	Err error `json:"-"`
}

// NewFailure creates a Failure for err at stage. MemberIndex is -1 until
// set for aggregate members.
func NewFailure(stage Stage, eventID, eventKind string, err error) *Failure {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &Failure{
		ID:          uuid.New().String(),
		EventID:     eventID,
		EventKind:   eventKind,
		Stage:       stage,
		Message:     msg,
		MemberIndex: -1,
		OccurredAt:  time.Now(),
		Err:         err,
	}
}

// Sink stores failures for later inspection.
// Implementations must be safe for concurrent use.
type Sink interface {
	// Record stores a failure.
	Record(ctx context.Context, f *Failure) error

	// Recent returns up to limit failures, newest first.
	Recent(ctx context.Context, limit int) ([]*Failure, error)

	// Count returns the number of stored failures.
	Count(ctx context.Context) (int, error)

	// Close releases any resources.
	Close() error
}

// ErrSinkClosed indicates the sink has been closed.
var ErrSinkClosed = errors.New("diagnostics sink closed")
