package repo

import (
	"context"
	"database/sql"

	"indicatorline/internal/domain"
)

const submissionColumns = `id,task_id,value,comment,is_achieved,status,submitter_id,submitted_at,updated_at`

func scanSubmission(row interface{ Scan(...any) error }) (domain.Submission, error) {
	var s domain.Submission
	var comment sql.NullString
	var achieved int
	if err := row.Scan(&s.ID, &s.TaskID, &s.Value, &comment, &achieved, &s.Status, &s.SubmitterID, &s.SubmittedAt, &s.UpdatedAt); err != nil {
		return s, err
	}
	s.Comment = comment.String
	s.IsAchieved = achieved != 0
	return s, nil
}

func (r Repo) InsertSubmission(ctx context.Context, q Querier, s domain.Submission) error {
	_, err := q.ExecContext(ctx, `INSERT INTO submissions(`+submissionColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		s.ID, s.TaskID, s.Value, nullable(s.Comment), boolInt(s.IsAchieved), s.Status, s.SubmitterID, s.SubmittedAt, s.UpdatedAt)
	return err
}

func (r Repo) GetSubmission(ctx context.Context, q Querier, id string) (domain.Submission, error) {
	s, err := scanSubmission(q.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id=?`, id))
	if err != nil {
		return s, notFound(err)
	}
	atts, err := r.ListAttachments(ctx, q, id)
	if err != nil {
		return s, err
	}
	s.Attachments = atts
	return s, nil
}

func (r Repo) UpdateSubmissionStatus(ctx context.Context, q Querier, id, status, now string) error {
	res, err := q.ExecContext(ctx, `UPDATE submissions SET status=?, updated_at=? WHERE id=?`, status, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSubmissionsByTask returns the submission history, most recent first.
func (r Repo) ListSubmissionsByTask(ctx context.Context, q Querier, taskID string) ([]domain.Submission, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE task_id=? ORDER BY submitted_at DESC, rowid DESC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// LatestSubmission returns the submission that currently speaks for the task.
func (r Repo) LatestSubmission(ctx context.Context, q Querier, taskID string) (domain.Submission, error) {
	s, err := scanSubmission(q.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE task_id=? ORDER BY submitted_at DESC, rowid DESC LIMIT 1`, taskID))
	return s, notFound(err)
}

func (r Repo) InsertAttachment(ctx context.Context, q Querier, a domain.Attachment) error {
	_, err := q.ExecContext(ctx, `INSERT INTO attachments(id,submission_id,title,path,mime,size,created_at) VALUES (?,?,?,?,?,?,?)`,
		a.ID, a.SubmissionID, a.Title, a.Path, nullable(a.Mime), a.Size, a.CreatedAt)
	return err
}

func (r Repo) GetAttachment(ctx context.Context, q Querier, id string) (domain.Attachment, error) {
	var a domain.Attachment
	var mime sql.NullString
	err := q.QueryRowContext(ctx, `SELECT id,submission_id,title,path,mime,size,created_at FROM attachments WHERE id=?`, id).
		Scan(&a.ID, &a.SubmissionID, &a.Title, &a.Path, &mime, &a.Size, &a.CreatedAt)
	if err != nil {
		return a, notFound(err)
	}
	a.Mime = mime.String
	return a, nil
}

func (r Repo) ListAttachments(ctx context.Context, q Querier, submissionID string) ([]domain.Attachment, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,submission_id,title,path,mime,size,created_at FROM attachments WHERE submission_id=? ORDER BY created_at, rowid`, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Attachment
	for rows.Next() {
		var a domain.Attachment
		var mime sql.NullString
		if err := rows.Scan(&a.ID, &a.SubmissionID, &a.Title, &a.Path, &mime, &a.Size, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Mime = mime.String
		res = append(res, a)
	}
	return res, rows.Err()
}
