package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

const (
	TypeSubmissionSubmitted  = "submission.submitted"
	TypeAwaitingVerification = "verification.awaiting"
	TypeTaskCompleted        = "task.completed"
	TypeSubmissionApproved   = "submission.approved"
	TypeSubmissionRejected   = "submission.rejected"
	TypeReviewTaskCreated    = "review_task.created"
	TypeReviewTaskAssigned   = "review_task.assigned"
	TypeSubmissionCompleted  = "submission.completed"
	TypeStatusChanged        = "status.changed"
	TypeAssociationPublished = "indicator_programme.published"

	SystemActor = "system"
)

// Event is a workflow fact. EntityID names the primary subject; the payload carries the rest.
type Event struct {
	Type       string
	EntityKind string
	EntityID   string
	ActorID    string
	Payload    EventPayload
}

// String renders the payload value at key as a string, or "" when absent.
func (e Event) String(key string) string {
	v, ok := e.Payload[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func SubmissionSubmitted(submissionID, taskID, actorID string) Event {
	return Event{Type: TypeSubmissionSubmitted, EntityKind: "submission", EntityID: submissionID, ActorID: actorID,
		Payload: EventPayload{"task_id": taskID}}
}

func AwaitingVerification(reviewTaskID, submissionID string, level int, verifierID string) Event {
	return Event{Type: TypeAwaitingVerification, EntityKind: "review_task", EntityID: reviewTaskID,
		Payload: EventPayload{"submission_id": submissionID, "level": level, "verifier_id": verifierID}}
}

func TaskCompleted(submissionID, taskID string) Event {
	return Event{Type: TypeTaskCompleted, EntityKind: "submission", EntityID: submissionID,
		Payload: EventPayload{"task_id": taskID}}
}

func SubmissionApproved(reviewID, submissionID string, level int, reviewerID string) Event {
	return Event{Type: TypeSubmissionApproved, EntityKind: "review", EntityID: reviewID, ActorID: reviewerID,
		Payload: EventPayload{"submission_id": submissionID, "level": level}}
}

func SubmissionRejected(reviewID, submissionID string, level int, reviewerID string) Event {
	return Event{Type: TypeSubmissionRejected, EntityKind: "review", EntityID: reviewID, ActorID: reviewerID,
		Payload: EventPayload{"submission_id": submissionID, "level": level}}
}

func ReviewTaskCreated(reviewTaskID, submissionID string, level int, roleID string) Event {
	return Event{Type: TypeReviewTaskCreated, EntityKind: "review_task", EntityID: reviewTaskID,
		Payload: EventPayload{"submission_id": submissionID, "level": level, "role_id": roleID}}
}

func ReviewTaskAssigned(reviewTaskID, verifierID, actorID string) Event {
	return Event{Type: TypeReviewTaskAssigned, EntityKind: "review_task", EntityID: reviewTaskID, ActorID: actorID,
		Payload: EventPayload{"verifier_id": verifierID}}
}

func SubmissionCompleted(submissionID, taskID string) Event {
	return Event{Type: TypeSubmissionCompleted, EntityKind: "submission", EntityID: submissionID,
		Payload: EventPayload{"task_id": taskID}}
}

// Sink receives events after the transaction that produced them has committed.
// Emit never reports failure to the caller.
type Sink interface {
	Emit(ctx context.Context, evt Event)
}

// Listener reacts to one event. Returned errors are logged by the Dispatcher.
type Listener func(ctx context.Context, evt Event) error

// Dispatcher delivers events to in-process listeners synchronously, in subscription order.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners map[string][]Listener
	logger    *slog.Logger
}

func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{listeners: make(map[string][]Listener), logger: logger}
}

func (d *Dispatcher) Subscribe(evtType string, fn Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[evtType] = append(d.listeners[evtType], fn)
}

func (d *Dispatcher) Emit(ctx context.Context, evt Event) {
	d.mu.RLock()
	ls := append([]Listener(nil), d.listeners[evt.Type]...)
	d.mu.RUnlock()
	for _, fn := range ls {
		d.deliver(ctx, fn, evt)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, fn Listener, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event listener panicked", "type", evt.Type, "entity_id", evt.EntityID, "panic", r)
		}
	}()
	if err := fn(ctx, evt); err != nil {
		d.logger.Error("event listener failed", "type", evt.Type, "entity_id", evt.EntityID, "err", err)
	}
}

// Fanout forwards each event to every sink.
type Fanout []Sink

func (f Fanout) Emit(ctx context.Context, evt Event) {
	for _, s := range f {
		if s != nil {
			s.Emit(ctx, evt)
		}
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(context.Context, Event) {}
