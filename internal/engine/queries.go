package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"indicatorline/internal/domain"
	"indicatorline/internal/repo"
)

// TaskView is a task with its derived display status.
type TaskView struct {
	domain.Task
	DisplayStatus string `json:"display_status"`
	Orphaned      bool   `json:"orphaned"`
}

// ListTasks returns tasks matching f. A Status of "overdue" selects pending tasks past due.
func (e Engine) ListTasks(ctx context.Context, f repo.TaskFilter) ([]TaskView, error) {
	overdue := f.Status == domain.TaskOverdue
	if overdue {
		f.Status = domain.TaskPending
	}
	tasks, err := e.Repo.ListTasks(ctx, e.DB, f)
	if err != nil {
		return nil, err
	}
	now := e.now()
	res := make([]TaskView, 0, len(tasks))
	for _, t := range tasks {
		v := TaskView{Task: t, DisplayStatus: t.DisplayStatus(now), Orphaned: t.Orphaned()}
		if overdue && v.DisplayStatus != domain.TaskOverdue {
			continue
		}
		res = append(res, v)
	}
	return res, nil
}

func (e Engine) GetTask(ctx context.Context, id string) (TaskView, error) {
	t, err := e.Repo.GetTask(ctx, e.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return TaskView{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
		return TaskView{}, err
	}
	return TaskView{Task: t, DisplayStatus: t.DisplayStatus(e.now()), Orphaned: t.Orphaned()}, nil
}

// SubmissionHistory lists a task's submissions, most recent first.
func (e Engine) SubmissionHistory(ctx context.Context, taskID string) ([]domain.Submission, error) {
	if _, err := e.Repo.GetTask(ctx, e.DB, taskID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		return nil, err
	}
	return e.Repo.ListSubmissionsByTask(ctx, e.DB, taskID)
}

// SubmissionDetail is a submission with its review chain.
type SubmissionDetail struct {
	domain.Submission
	ReviewTasks []domain.ReviewTask       `json:"review_tasks"`
	Reviews     []domain.SubmissionReview `json:"reviews"`
}

func (e Engine) GetSubmission(ctx context.Context, id string) (SubmissionDetail, error) {
	sub, err := e.Repo.GetSubmission(ctx, e.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return SubmissionDetail{}, fmt.Errorf("%w: %s", ErrSubmissionNotFound, id)
		}
		return SubmissionDetail{}, err
	}
	rts, err := e.Repo.ListReviewTasks(ctx, e.DB, repo.ReviewTaskFilter{SubmissionID: id})
	if err != nil {
		return SubmissionDetail{}, err
	}
	reviews, err := e.Repo.ListReviewsBySubmission(ctx, e.DB, id)
	if err != nil {
		return SubmissionDetail{}, err
	}
	return SubmissionDetail{Submission: sub, ReviewTasks: rts, Reviews: reviews}, nil
}

// PendingReviewTasks lists open review tasks assigned to a verifier, soonest due first.
func (e Engine) PendingReviewTasks(ctx context.Context, verifierID string, limit int) ([]domain.ReviewTask, error) {
	return e.Repo.ListReviewTasks(ctx, e.DB, repo.ReviewTaskFilter{VerifierUserID: verifierID, PendingOnly: true, Limit: limit})
}

// UnassignedReviewTasks lists open review tasks no verifier could be resolved for.
func (e Engine) UnassignedReviewTasks(ctx context.Context, limit int) ([]domain.ReviewTask, error) {
	return e.Repo.ListReviewTasks(ctx, e.DB, repo.ReviewTaskFilter{PendingOnly: true, UnassignedOnly: true, Limit: limit})
}

// OverdueReviewTasks lists open review tasks whose due date has passed. Nothing escalates them.
func (e Engine) OverdueReviewTasks(ctx context.Context, limit int) ([]domain.ReviewTask, error) {
	now := e.now().UTC().Format(time.RFC3339)
	return e.Repo.ListReviewTasks(ctx, e.DB, repo.ReviewTaskFilter{PendingOnly: true, DueBefore: now, Limit: limit})
}
