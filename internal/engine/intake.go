package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"indicatorline/internal/attach"
	"indicatorline/internal/domain"
	"indicatorline/internal/events"
	"indicatorline/internal/repo"
)

// SubmissionInput is an entrepreneur's report against a task.
type SubmissionInput struct {
	TaskID      string            `validate:"required"`
	Value       string            `validate:"required"`
	Comment     string            `validate:"max=2000"`
	Attachments []AttachmentInput `validate:"dive"`
}

// AttachmentInput carries exactly one of Upload, ExistingAttachmentID or StoredPath.
type AttachmentInput struct {
	Title                string `validate:"max=255"`
	Upload               *Upload
	ExistingAttachmentID string
	StoredPath           string
}

type Upload struct {
	Name   string    `validate:"required"`
	Reader io.Reader `validate:"required"`
}

func (a AttachmentInput) shapes() int {
	n := 0
	if a.Upload != nil {
		n++
	}
	if a.ExistingAttachmentID != "" {
		n++
	}
	if a.StoredPath != "" {
		n++
	}
	return n
}

// CreateSubmission records a new submission for a task and computes whether it meets the
// indicator's acceptance value. Verification is started by listeners of the submitted event.
func (e Engine) CreateSubmission(ctx context.Context, in SubmissionInput, submitterID string) (domain.Submission, error) {
	if err := validate.Struct(in); err != nil {
		return domain.Submission{}, fmt.Errorf("invalid submission: %w", err)
	}
	if submitterID == "" {
		return domain.Submission{}, fmt.Errorf("invalid submission: submitter is required")
	}
	for i, a := range in.Attachments {
		if a.shapes() != 1 {
			return domain.Submission{}, fmt.Errorf("invalid submission: attachment %d must be an upload, an existing attachment or a stored path", i)
		}
	}

	var b batch
	var sub domain.Submission
	var task domain.Task
	var written []string
	err := e.Repo.InTx(ctx, func(tx *sql.Tx) error {
		var err error
		task, err = e.Repo.GetTask(ctx, tx, in.TaskID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrTaskNotFound, in.TaskID)
			}
			return err
		}
		if task.Orphaned() {
			return fmt.Errorf("%w: task %s has no resolvable indicator month", ErrMissingIndicatorAssociation, task.ID)
		}
		// one submission under review at a time; a new one follows a rejection or starts a pending task
		if err := ensureTaskTransition(task.Status, domain.TaskSubmitted); err != nil {
			return err
		}
		ind := task.Indicatable.Indicator()
		status := domain.SubmissionApproved
		if ind.RequiresVerification() {
			status = domain.SubmissionPendingVerification1
		}
		if err := ensureSubmissionTransition("", status); err != nil {
			return err
		}
		now := e.nowString()
		sub = domain.Submission{
			ID:          uuid.NewString(),
			TaskID:      task.ID,
			Value:       in.Value,
			Comment:     in.Comment,
			IsAchieved:  task.Indicatable.Achieved(in.Value),
			Status:      status,
			SubmitterID: submitterID,
			SubmittedAt: now,
			UpdatedAt:   now,
		}
		if err := e.Repo.InsertSubmission(ctx, tx, sub); err != nil {
			return err
		}
		for _, a := range in.Attachments {
			att, fresh, err := e.storeAttachment(ctx, tx, sub.ID, a)
			if fresh {
				written = append(written, att.Path)
			}
			if err != nil {
				return err
			}
			att.CreatedAt = now
			if err := e.Repo.InsertAttachment(ctx, tx, att); err != nil {
				return err
			}
			sub.Attachments = append(sub.Attachments, att)
		}
		if err := e.record(ctx, tx, &b, events.SubmissionSubmitted(sub.ID, task.ID, submitterID), true); err != nil {
			return err
		}
		return e.observe(ctx, tx, StatusChange{Submission: sub, At: now})
	})
	if err != nil {
		for _, p := range written {
			if rmErr := e.Store.Remove(ctx, p); rmErr != nil {
				e.logger().Warn("failed to remove attachment after rollback", "path", p, "err", rmErr)
			}
		}
		return domain.Submission{}, err
	}
	e.logger().Info("submission created", "submission_id", sub.ID, "task_id", task.ID, "status", sub.Status, "achieved", sub.IsAchieved)
	e.publish(ctx, b)
	e.invalidate(task)
	return sub, nil
}

// storeAttachment materialises one attachment input. fresh reports whether a file was written
// and must be removed if the transaction fails.
func (e Engine) storeAttachment(ctx context.Context, tx *sql.Tx, submissionID string, in AttachmentInput) (domain.Attachment, bool, error) {
	if e.Store == nil {
		return domain.Attachment{}, false, errors.New("no attachment store configured")
	}
	att := domain.Attachment{ID: uuid.NewString(), SubmissionID: submissionID, Title: in.Title}
	var stored attach.Stored
	var err error
	fresh := false
	switch {
	case in.Upload != nil:
		stored, err = e.Store.Save(ctx, submissionID, in.Upload.Name, in.Upload.Reader)
		fresh = err == nil
		if att.Title == "" {
			att.Title = in.Upload.Name
		}
	case in.ExistingAttachmentID != "":
		prior, gerr := e.Repo.GetAttachment(ctx, tx, in.ExistingAttachmentID)
		if gerr != nil {
			if errors.Is(gerr, repo.ErrNotFound) {
				return att, false, AttachmentNotFoundError{ID: in.ExistingAttachmentID}
			}
			return att, false, gerr
		}
		stored, err = e.Store.Copy(ctx, submissionID, prior.Path)
		fresh = err == nil
		if att.Title == "" {
			att.Title = prior.Title
		}
	default:
		stored, err = e.Store.Stat(ctx, in.StoredPath)
		if att.Title == "" {
			att.Title = in.StoredPath
		}
	}
	if err != nil {
		return att, false, fmt.Errorf("store attachment %q: %w", att.Title, err)
	}
	att.Path = stored.Path
	att.Mime = stored.Mime
	att.Size = stored.Size
	return att, fresh, nil
}
