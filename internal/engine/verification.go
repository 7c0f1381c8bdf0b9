package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"indicatorline/internal/domain"
	"indicatorline/internal/engine/resolver"
	"indicatorline/internal/events"
	"indicatorline/internal/repo"
)

// workItem is a submission together with the task and indicator it reports on.
type workItem struct {
	sub       domain.Submission
	task      domain.Task
	indicator domain.Indicator
}

func (e Engine) loadWorkItem(ctx context.Context, q repo.Querier, submissionID string) (workItem, error) {
	sub, err := e.Repo.GetSubmission(ctx, q, submissionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return workItem{}, fmt.Errorf("%w: %s", ErrSubmissionNotFound, submissionID)
		}
		return workItem{}, err
	}
	task, err := e.Repo.GetTask(ctx, q, sub.TaskID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return workItem{}, fmt.Errorf("%w: %s for submission %s", ErrTaskNotFound, sub.TaskID, sub.ID)
		}
		return workItem{}, err
	}
	if task.Orphaned() {
		return workItem{}, fmt.Errorf("%w: task %s has no resolvable indicator month", ErrMissingIndicatorAssociation, task.ID)
	}
	return workItem{sub: sub, task: task, indicator: task.Indicatable.Indicator()}, nil
}

// requireContext fails when the task lacks the entrepreneur, organisation or programme a verifier is resolved against.
func requireContext(task domain.Task) error {
	switch {
	case task.EntrepreneurID == nil || *task.EntrepreneurID == "":
		return fmt.Errorf("%w: task %s has no entrepreneur", ErrMissingIndicatorAssociation, task.ID)
	case task.OrganisationID == nil || *task.OrganisationID == "":
		return fmt.Errorf("%w: task %s has no organisation", ErrMissingIndicatorAssociation, task.ID)
	case task.ProgrammeID == nil || *task.ProgrammeID == "":
		return fmt.Errorf("%w: task %s has no programme", ErrMissingIndicatorAssociation, task.ID)
	}
	return nil
}

// ProcessSubmissionForVerification starts the review chain for a submission. Indicators without
// verifier roles complete the task straight away.
func (e Engine) ProcessSubmissionForVerification(ctx context.Context, submissionID string) error {
	log := e.logger().With("submission_id", submissionID)
	var b batch
	var item workItem
	var created []createdReviewTask
	completed := false
	err := e.Repo.InTx(ctx, func(tx *sql.Tx) error {
		var err error
		item, err = e.loadWorkItem(ctx, tx, submissionID)
		if err != nil {
			return err
		}
		if !item.indicator.RequiresVerification() {
			completed, err = e.completeWithoutVerification(ctx, tx, &b, item)
			return err
		}
		if err := requireContext(item.task); err != nil {
			return err
		}
		level := 1
		switch item.sub.Status {
		case domain.SubmissionPendingVerification1:
		case domain.SubmissionPendingVerification2:
			level = 2
		default:
			log.Debug("submission already resolved", "status", item.sub.Status)
			return nil
		}
		c, err := e.initiate(ctx, tx, &b, item, level)
		if err != nil {
			return err
		}
		created = append(created, c)
		return nil
	})
	if err != nil {
		return err
	}
	e.publish(ctx, b)
	e.afterReviewTasks(ctx, created)
	if completed {
		log.Info("task completed without verification", "task_id", item.task.ID)
		e.invalidate(item.task)
	}
	return nil
}

// completeWithoutVerification reports false when the task was already completed.
func (e Engine) completeWithoutVerification(ctx context.Context, tx *sql.Tx, b *batch, item workItem) (bool, error) {
	if item.task.Status == domain.TaskCompleted {
		return false, nil
	}
	sub := item.sub
	if sub.Status == domain.SubmissionApproved {
		return true, e.observe(ctx, tx, StatusChange{Submission: sub, From: sub.Status, At: e.nowString()})
	}
	return true, e.setSubmissionStatus(ctx, tx, b, &sub, domain.SubmissionApproved, events.SystemActor)
}

// InitiateVerificationForLevel finds or creates the review task for (submission, level) and assigns
// the resolved verifier. Repeated calls return the existing review task.
func (e Engine) InitiateVerificationForLevel(ctx context.Context, submissionID string, level int) (domain.ReviewTask, error) {
	var b batch
	var c createdReviewTask
	err := e.Repo.InTx(ctx, func(tx *sql.Tx) error {
		item, err := e.loadWorkItem(ctx, tx, submissionID)
		if err != nil {
			return err
		}
		if err := requireContext(item.task); err != nil {
			return err
		}
		c, err = e.initiate(ctx, tx, &b, item, level)
		return err
	})
	if err != nil {
		return domain.ReviewTask{}, err
	}
	e.publish(ctx, b)
	e.afterReviewTasks(ctx, []createdReviewTask{c})
	return c.rt, nil
}

type createdReviewTask struct {
	rt      domain.ReviewTask
	created bool
}

func (e Engine) initiate(ctx context.Context, tx *sql.Tx, b *batch, item workItem, level int) (createdReviewTask, error) {
	if level != 1 && level != 2 {
		return createdReviewTask{}, fmt.Errorf("verification level %d out of range", level)
	}
	if item.sub.Terminal() {
		return createdReviewTask{}, fmt.Errorf("%w: submission %s is %s", ErrInvalidTransition, item.sub.ID, item.sub.Status)
	}
	if level == 2 && item.sub.Status != domain.SubmissionPendingVerification2 {
		return createdReviewTask{}, fmt.Errorf("%w: submission %s is %s, level 2 needs %s",
			ErrInvalidTransition, item.sub.ID, item.sub.Status, domain.SubmissionPendingVerification2)
	}
	roleID, ok := item.indicator.VerifierRoleID(level)
	if !ok {
		return createdReviewTask{}, fmt.Errorf("%w: indicator %s has no role for level %d", ErrRoleNotFoundForVerificationLevel, item.indicator.ID, level)
	}
	verifier, err := e.Resolver.ResolveVerifier(ctx, tx, resolver.ScopeOf(item.task), roleID)
	if err != nil {
		var unmapped resolver.UnmappedDesignationError
		if errors.Is(err, resolver.ErrRoleNotFound) || errors.As(err, &unmapped) {
			return createdReviewTask{}, fmt.Errorf("%w: level %d: %w", ErrRoleNotFoundForVerificationLevel, level, err)
		}
		return createdReviewTask{}, err
	}
	now := e.now().UTC()
	rt := domain.ReviewTask{
		ID:             uuid.NewString(),
		SubmissionID:   item.sub.ID,
		TaskID:         item.task.ID,
		VerifierRoleID: roleID,
		VerifierLevel:  level,
		DueDate:        now.Add(time.Duration(e.reviewWindowDays()) * 24 * time.Hour).Format(time.RFC3339),
		CreatedAt:      now.Format(time.RFC3339),
	}
	if verifier != nil {
		rt.VerifierUserID = &verifier.ID
	}
	stored, created, err := e.Repo.FindOrCreateReviewTask(ctx, tx, rt)
	if err != nil {
		return createdReviewTask{}, err
	}
	if !created {
		e.logger().Debug("review task already exists", "review_task_id", stored.ID, "level", level)
		return createdReviewTask{rt: stored}, nil
	}
	if err := e.record(ctx, tx, b, events.ReviewTaskCreated(stored.ID, stored.SubmissionID, level, roleID), true); err != nil {
		return createdReviewTask{}, err
	}
	if stored.Unassigned() {
		e.logger().Warn("review task created without verifier", "review_task_id", stored.ID, "submission_id", item.sub.ID, "level", level, "role_id", roleID)
	} else {
		evt := events.AwaitingVerification(stored.ID, stored.SubmissionID, level, *stored.VerifierUserID)
		if err := e.record(ctx, tx, b, evt, true); err != nil {
			return createdReviewTask{}, err
		}
	}
	return createdReviewTask{rt: stored, created: true}, nil
}

func (e Engine) afterReviewTasks(ctx context.Context, list []createdReviewTask) {
	for _, c := range list {
		if !c.created {
			continue
		}
		e.logActivity(ctx, "review task created", Subject{Type: "review_task", ID: c.rt.ID}, deref(c.rt.VerifierUserID), map[string]any{
			"submission_id": c.rt.SubmissionID,
			"level":         c.rt.VerifierLevel,
			"role_id":       c.rt.VerifierRoleID,
			"due_date":      c.rt.DueDate,
		})
	}
}

// HandleApprovedReview escalates a level-1 approval to level 2 when the indicator has a second
// verifier role, otherwise it signals completion.
func (e Engine) HandleApprovedReview(ctx context.Context, reviewID string) error {
	var b batch
	var created []createdReviewTask
	var task domain.Task
	err := e.Repo.InTx(ctx, func(tx *sql.Tx) error {
		review, item, err := e.loadReview(ctx, tx, reviewID)
		if err != nil {
			return err
		}
		if !review.Approved {
			return fmt.Errorf("%w: review %s is a rejection", ErrInvalidTransition, review.ID)
		}
		task = item.task
		if item.sub.Terminal() {
			e.logger().Debug("submission already resolved", "submission_id", item.sub.ID, "status", item.sub.Status)
			return nil
		}
		if _, hasSecond := item.indicator.VerifierRoleID(2); review.VerifierLevel == 1 && hasSecond {
			if err := requireContext(item.task); err != nil {
				return err
			}
			if item.sub.Status == domain.SubmissionPendingVerification1 {
				if err := e.setSubmissionStatus(ctx, tx, &b, &item.sub, domain.SubmissionPendingVerification2, review.ReviewerID); err != nil {
					return err
				}
			}
			c, err := e.initiate(ctx, tx, &b, item, 2)
			if err != nil {
				return err
			}
			created = append(created, c)
			return nil
		}
		return e.record(ctx, tx, &b, events.TaskCompleted(item.sub.ID, item.task.ID), true)
	})
	if err != nil {
		return err
	}
	e.publish(ctx, b)
	e.afterReviewTasks(ctx, created)
	if len(created) > 0 {
		e.invalidate(task)
	}
	return nil
}

// HandleRejectedReview ends the review chain; the task moves to needs_revision through the observer.
func (e Engine) HandleRejectedReview(ctx context.Context, reviewID string) error {
	var b batch
	var task domain.Task
	changed := false
	err := e.Repo.InTx(ctx, func(tx *sql.Tx) error {
		review, item, err := e.loadReview(ctx, tx, reviewID)
		if err != nil {
			return err
		}
		if review.Approved {
			return fmt.Errorf("%w: review %s is an approval", ErrInvalidTransition, review.ID)
		}
		task = item.task
		if item.sub.Status == domain.SubmissionRejected {
			return nil
		}
		changed = true
		return e.setSubmissionStatus(ctx, tx, &b, &item.sub, domain.SubmissionRejected, review.ReviewerID)
	})
	if err != nil {
		return err
	}
	e.publish(ctx, b)
	if changed {
		e.invalidate(task)
	}
	return nil
}

// CompleteTaskAndSubmission approves the submission unless it is already resolved. It reports
// whether this call made the change.
func (e Engine) CompleteTaskAndSubmission(ctx context.Context, submissionID string) (bool, error) {
	var b batch
	var item workItem
	done := false
	err := e.Repo.InTx(ctx, func(tx *sql.Tx) error {
		var err error
		item, err = e.loadWorkItem(ctx, tx, submissionID)
		if err != nil {
			return err
		}
		if item.sub.Terminal() {
			return nil
		}
		if err := e.setSubmissionStatus(ctx, tx, &b, &item.sub, domain.SubmissionApproved, events.SystemActor); err != nil {
			return err
		}
		done = true
		return e.record(ctx, tx, &b, events.SubmissionCompleted(item.sub.ID, item.task.ID), true)
	})
	if err != nil {
		return false, err
	}
	if !done {
		e.logger().Debug("completion skipped; submission already resolved", "submission_id", submissionID, "status", item.sub.Status)
		return false, nil
	}
	e.publish(ctx, b)
	e.invalidate(item.task)
	return true, nil
}

func (e Engine) loadReview(ctx context.Context, q repo.Querier, reviewID string) (domain.SubmissionReview, workItem, error) {
	review, err := e.Repo.GetReview(ctx, q, reviewID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return review, workItem{}, fmt.Errorf("%w: %s", ErrReviewNotFound, reviewID)
		}
		return review, workItem{}, err
	}
	item, err := e.loadWorkItem(ctx, q, review.SubmissionID)
	return review, item, err
}

func (e Engine) invalidate(task domain.Task) {
	if e.Cache == nil {
		return
	}
	s := resolver.ScopeOf(task)
	e.Cache.Invalidate(s.EntrepreneurID, s.OrganisationID, s.ProgrammeID)
}
