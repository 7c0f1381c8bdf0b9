package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"indicatorline/internal/domain"
	"indicatorline/internal/events"
	"indicatorline/internal/repo"
)

func ensureSubmissionTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case "":
		if newStatus == domain.SubmissionPendingVerification1 || newStatus == domain.SubmissionApproved {
			return nil
		}
	case domain.SubmissionPendingVerification1:
		if newStatus == domain.SubmissionPendingVerification2 || newStatus == domain.SubmissionApproved || newStatus == domain.SubmissionRejected {
			return nil
		}
	case domain.SubmissionPendingVerification2:
		if newStatus == domain.SubmissionApproved || newStatus == domain.SubmissionRejected {
			return nil
		}
	}
	return TransitionError{Entity: "submission", From: oldStatus, To: newStatus}
}

func ensureTaskTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case domain.TaskPending:
		if newStatus == domain.TaskSubmitted || newStatus == domain.TaskCompleted {
			return nil
		}
	case domain.TaskSubmitted:
		if newStatus == domain.TaskCompleted || newStatus == domain.TaskNeedsRevision {
			return nil
		}
	case domain.TaskNeedsRevision:
		if newStatus == domain.TaskSubmitted || newStatus == domain.TaskCompleted {
			return nil
		}
	}
	return TransitionError{Entity: "task", From: oldStatus, To: newStatus}
}

// StatusChange is one submission status write. From is empty for a newly created submission.
type StatusChange struct {
	Submission domain.Submission
	From       string
	At         string
}

// SubmissionObserver runs inside the transaction of every submission status write.
// Returning an error aborts the whole unit of work.
type SubmissionObserver interface {
	SubmissionStatusChanged(ctx context.Context, tx *sql.Tx, change StatusChange) error
}

// TaskStatusObserver keeps the owning task in step with its latest submission. Changes to
// superseded submissions leave the task alone.
type TaskStatusObserver struct {
	Repo repo.Repo
}

func (o TaskStatusObserver) SubmissionStatusChanged(ctx context.Context, tx *sql.Tx, change StatusChange) error {
	sub := change.Submission
	var target string
	var achieved *bool
	switch sub.Status {
	case domain.SubmissionPendingVerification1:
		if change.From != "" {
			return nil
		}
		target = domain.TaskSubmitted
	case domain.SubmissionApproved:
		target = domain.TaskCompleted
		a := sub.IsAchieved
		achieved = &a
	case domain.SubmissionRejected:
		target = domain.TaskNeedsRevision
	default:
		return nil
	}
	task, err := o.Repo.GetTask(ctx, tx, sub.TaskID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, sub.TaskID)
		}
		return err
	}
	// only the task's latest submission speaks for it
	latest, err := o.Repo.LatestSubmission(ctx, tx, task.ID)
	if err != nil {
		return err
	}
	if latest.ID != sub.ID {
		return nil
	}
	if task.Status == target && target != domain.TaskCompleted {
		return nil
	}
	if task.Status != target {
		if err := ensureTaskTransition(task.Status, target); err != nil {
			return err
		}
	}
	return o.Repo.UpdateTaskStatus(ctx, tx, task.ID, target, achieved, change.At)
}

// setSubmissionStatus is the only place submission status is written after creation.
func (e Engine) setSubmissionStatus(ctx context.Context, tx *sql.Tx, b *batch, sub *domain.Submission, status, actorID string) error {
	if err := ensureSubmissionTransition(sub.Status, status); err != nil {
		return err
	}
	now := e.nowString()
	if err := e.Repo.UpdateSubmissionStatus(ctx, tx, sub.ID, status, now); err != nil {
		return err
	}
	from := sub.Status
	sub.Status = status
	sub.UpdatedAt = now
	if err := e.record(ctx, tx, b, events.Event{
		Type:       events.TypeStatusChanged,
		EntityKind: "submission",
		EntityID:   sub.ID,
		ActorID:    actorID,
		Payload:    events.EventPayload{"from": from, "to": status},
	}, false); err != nil {
		return err
	}
	return e.observe(ctx, tx, StatusChange{Submission: *sub, From: from, At: now})
}

func (e Engine) observe(ctx context.Context, tx *sql.Tx, change StatusChange) error {
	for _, o := range e.Observers {
		if err := o.SubmissionStatusChanged(ctx, tx, change); err != nil {
			return err
		}
	}
	return nil
}
