package engine

import (
	"context"

	"indicatorline/internal/events"
)

// Wire subscribes the workflow to its own events. The engine's Sink must deliver to d,
// directly or through a Fanout, for the chain to advance.
func (e Engine) Wire(d *events.Dispatcher) {
	d.Subscribe(events.TypeSubmissionSubmitted, func(ctx context.Context, evt events.Event) error {
		return e.ProcessSubmissionForVerification(ctx, evt.EntityID)
	})
	d.Subscribe(events.TypeSubmissionApproved, func(ctx context.Context, evt events.Event) error {
		return e.HandleApprovedReview(ctx, evt.EntityID)
	})
	d.Subscribe(events.TypeSubmissionRejected, func(ctx context.Context, evt events.Event) error {
		return e.HandleRejectedReview(ctx, evt.EntityID)
	})
	d.Subscribe(events.TypeTaskCompleted, func(ctx context.Context, evt events.Event) error {
		_, err := e.CompleteTaskAndSubmission(ctx, evt.EntityID)
		return err
	})
}
