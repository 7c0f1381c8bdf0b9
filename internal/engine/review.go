package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"indicatorline/internal/domain"
	"indicatorline/internal/events"
	"indicatorline/internal/repo"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ReviewInput is a verifier's decision on one review task.
type ReviewInput struct {
	ReviewTaskID string `validate:"required"`
	ReviewerID   string `validate:"required"`
	Approved     bool
	Comment      string `validate:"max=2000"`
}

// RecordReview closes a pending review task with a decision. Unassigned review tasks may be
// decided by any reviewer; assigned ones only by their verifier.
func (e Engine) RecordReview(ctx context.Context, in ReviewInput) (domain.SubmissionReview, error) {
	if err := validate.Struct(in); err != nil {
		return domain.SubmissionReview{}, fmt.Errorf("invalid review: %w", err)
	}
	var b batch
	var review domain.SubmissionReview
	err := e.Repo.InTx(ctx, func(tx *sql.Tx) error {
		rt, err := e.Repo.GetReviewTask(ctx, tx, in.ReviewTaskID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrReviewTaskNotFound, in.ReviewTaskID)
			}
			return err
		}
		if !rt.Pending() {
			return fmt.Errorf("%w: review task %s", ErrReviewAlreadyRecorded, rt.ID)
		}
		if !rt.Unassigned() && *rt.VerifierUserID != in.ReviewerID {
			return fmt.Errorf("%w: review task %s belongs to %s", ErrReviewerMismatch, rt.ID, *rt.VerifierUserID)
		}
		sub, err := e.Repo.GetSubmission(ctx, tx, rt.SubmissionID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrSubmissionNotFound, rt.SubmissionID)
			}
			return err
		}
		if sub.Terminal() {
			return fmt.Errorf("%w: submission %s is %s", ErrInvalidTransition, sub.ID, sub.Status)
		}
		now := e.nowString()
		ok, err := e.Repo.CompleteReviewTask(ctx, tx, rt.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: review task %s", ErrReviewAlreadyRecorded, rt.ID)
		}
		review = domain.SubmissionReview{
			ID:            uuid.NewString(),
			ReviewTaskID:  rt.ID,
			SubmissionID:  sub.ID,
			Approved:      in.Approved,
			VerifierLevel: rt.VerifierLevel,
			Comment:       in.Comment,
			ReviewerID:    in.ReviewerID,
			ReviewedAt:    now,
		}
		if err := e.Repo.InsertReview(ctx, tx, review); err != nil {
			return err
		}
		evt := events.SubmissionRejected(review.ID, sub.ID, review.VerifierLevel, review.ReviewerID)
		if review.Approved {
			evt = events.SubmissionApproved(review.ID, sub.ID, review.VerifierLevel, review.ReviewerID)
		}
		return e.record(ctx, tx, &b, evt, true)
	})
	if err != nil {
		return domain.SubmissionReview{}, err
	}
	e.logActivity(ctx, "submission reviewed", Subject{Type: "submission", ID: review.SubmissionID}, review.ReviewerID, map[string]any{
		"review_id": review.ID,
		"level":     review.VerifierLevel,
		"approved":  review.Approved,
	})
	e.publish(ctx, b)
	return review, nil
}

// AssignReviewTask hands an open review task to a verifier, typically one created unassigned.
func (e Engine) AssignReviewTask(ctx context.Context, reviewTaskID, userID, actorID string) (domain.ReviewTask, error) {
	if userID == "" {
		return domain.ReviewTask{}, fmt.Errorf("%w: empty verifier id", ErrUserNotFound)
	}
	var b batch
	var rt domain.ReviewTask
	err := e.Repo.InTx(ctx, func(tx *sql.Tx) error {
		var err error
		rt, err = e.Repo.GetReviewTask(ctx, tx, reviewTaskID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrReviewTaskNotFound, reviewTaskID)
			}
			return err
		}
		if !rt.Pending() {
			return fmt.Errorf("%w: review task %s", ErrReviewAlreadyRecorded, rt.ID)
		}
		if _, err := e.Repo.GetUser(ctx, tx, userID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
			}
			return err
		}
		if err := e.Repo.AssignReviewTask(ctx, tx, rt.ID, userID); err != nil {
			return err
		}
		rt.VerifierUserID = &userID
		if err := e.record(ctx, tx, &b, events.ReviewTaskAssigned(rt.ID, userID, actorID), true); err != nil {
			return err
		}
		return e.record(ctx, tx, &b, events.AwaitingVerification(rt.ID, rt.SubmissionID, rt.VerifierLevel, userID), true)
	})
	if err != nil {
		return domain.ReviewTask{}, err
	}
	e.logActivity(ctx, "review task assigned", Subject{Type: "review_task", ID: rt.ID}, actorID, map[string]any{"verifier_id": userID})
	e.publish(ctx, b)
	return rt, nil
}
