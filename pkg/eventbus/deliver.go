package eventbus

import (
	"context"
	"log/slog"
	"runtime/debug"

	"go.opentelemetry.io/otel/attribute"

	"github.com/randalmurphal/eventbus/pkg/eventbus/diagnostics"
	"github.com/randalmurphal/eventbus/pkg/eventbus/event"
	"github.com/randalmurphal/eventbus/pkg/eventbus/observability"
)

// delivery identifies one unit of work guarded by deliver.
type delivery struct {
	stage       diagnostics.Stage
	evt         event.Event
	aggregateID string
	member      int // index within the aggregate, -1 otherwise
}

// deliver is the isolation boundary between the bus and the code it calls.
// It runs fn, converts a panic into a *PanicError, and reports any failure.
// The returned error is for the bus's own bookkeeping and never reaches a
// publisher.
func (b *Bus) deliver(ctx context.Context, d delivery, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{
				Value: r,
				Stack: string(debug.Stack()),
			}
		}
		if err != nil {
			err = b.fail(ctx, d, err)
		}
	}()

	return fn(ctx)
}

// fail reports cause to every failure observer and returns it wrapped in a
// *DeliveryError.
func (b *Bus) fail(ctx context.Context, d delivery, cause error) error {
	id, kind := eventID(d.evt), event.Kind(d.evt)
	derr := &DeliveryError{EventID: id, Stage: d.stage, Err: cause}
	b.failures.Add(1)

	f := diagnostics.NewFailure(d.stage, id, kind, derr)
	f.Bus = b.name
	f.AggregateID = d.aggregateID
	f.MemberIndex = d.member
	f.OccurredAt = b.clock.Now()

	observability.LogDeliveryFailure(b.logger, string(d.stage), id, kind, cause)
	b.metrics.RecordDeliveryFailure(ctx, string(d.stage))
	b.spans.AddSpanEvent(ctx, "delivery.failure",
		attribute.String("stage", string(d.stage)),
		attribute.String("event.id", id),
		attribute.String("error", cause.Error()),
	)

	if b.sink != nil {
		if err := b.sink.Record(context.WithoutCancel(ctx), f); err != nil && b.logger != nil {
			b.logger.Warn("failed to record delivery failure",
				slog.String("failure_id", f.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	b.notifyFailure(f)
	return derr
}

// notifyFailure calls the failure hook. A panicking hook is logged and
// otherwise ignored.
func (b *Bus) notifyFailure(f *diagnostics.Failure) {
	if b.onFailure == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil && b.logger != nil {
			b.logger.Error("failure handler panicked",
				slog.String("failure_id", f.ID),
				slog.Any("panic", r),
			)
		}
	}()
	b.onFailure(f)
}

// eventID returns evt's ID, or "" for nil events and typed nil pointers
// whose ID method panics.
func eventID(evt event.Event) (id string) {
	if evt == nil {
		return ""
	}
	defer func() {
		if recover() != nil {
			id = ""
		}
	}()
	return evt.ID()
}
