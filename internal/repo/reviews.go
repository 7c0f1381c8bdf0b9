package repo

import (
	"context"
	"database/sql"
	"strings"

	"indicatorline/internal/domain"
)

const reviewTaskColumns = `id,submission_id,task_id,verifier_user_id,verifier_role_id,verifier_level,due_date,completed_at,created_at`

func scanReviewTask(row interface{ Scan(...any) error }) (domain.ReviewTask, error) {
	var rt domain.ReviewTask
	var verifier, completed sql.NullString
	if err := row.Scan(&rt.ID, &rt.SubmissionID, &rt.TaskID, &verifier, &rt.VerifierRoleID, &rt.VerifierLevel, &rt.DueDate, &completed, &rt.CreatedAt); err != nil {
		return rt, err
	}
	rt.VerifierUserID = stringPtr(verifier)
	rt.CompletedAt = stringPtr(completed)
	return rt, nil
}

// FindOrCreateReviewTask inserts rt unless a row for (submission, level) exists, then returns
// the stored row. created is false when the row already existed.
func (r Repo) FindOrCreateReviewTask(ctx context.Context, q Querier, rt domain.ReviewTask) (domain.ReviewTask, bool, error) {
	res, err := q.ExecContext(ctx, `INSERT INTO review_tasks(`+reviewTaskColumns+`) VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(submission_id, verifier_level) DO NOTHING`,
		rt.ID, rt.SubmissionID, rt.TaskID, nullableStringPtr(rt.VerifierUserID), rt.VerifierRoleID, rt.VerifierLevel,
		rt.DueDate, nullableStringPtr(rt.CompletedAt), rt.CreatedAt)
	if err != nil {
		return domain.ReviewTask{}, false, err
	}
	n, _ := res.RowsAffected()
	stored, err := scanReviewTask(q.QueryRowContext(ctx, `SELECT `+reviewTaskColumns+` FROM review_tasks WHERE submission_id=? AND verifier_level=?`,
		rt.SubmissionID, rt.VerifierLevel))
	if err != nil {
		return stored, false, notFound(err)
	}
	return stored, n > 0, nil
}

func (r Repo) GetReviewTask(ctx context.Context, q Querier, id string) (domain.ReviewTask, error) {
	rt, err := scanReviewTask(q.QueryRowContext(ctx, `SELECT `+reviewTaskColumns+` FROM review_tasks WHERE id=?`, id))
	return rt, notFound(err)
}

func (r Repo) CountReviewTasks(ctx context.Context, q Querier, submissionID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM review_tasks WHERE submission_id=?`, submissionID).Scan(&n)
	return n, err
}

// CompleteReviewTask stamps completed_at on a pending review task. It reports false
// when the task was already completed.
func (r Repo) CompleteReviewTask(ctx context.Context, q Querier, id, now string) (bool, error) {
	res, err := q.ExecContext(ctx, `UPDATE review_tasks SET completed_at=? WHERE id=? AND completed_at IS NULL`, now, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) AssignReviewTask(ctx context.Context, q Querier, id, userID string) error {
	res, err := q.ExecContext(ctx, `UPDATE review_tasks SET verifier_user_id=? WHERE id=? AND completed_at IS NULL`, userID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReviewTaskFilter narrows ListReviewTasks. Empty fields are ignored.
type ReviewTaskFilter struct {
	SubmissionID   string
	VerifierUserID string
	PendingOnly    bool
	UnassignedOnly bool
	DueBefore      string
	Limit          int
}

func (r Repo) ListReviewTasks(ctx context.Context, q Querier, f ReviewTaskFilter) ([]domain.ReviewTask, error) {
	var clauses []string
	var args []any
	if f.SubmissionID != "" {
		clauses = append(clauses, "submission_id=?")
		args = append(args, f.SubmissionID)
	}
	if f.VerifierUserID != "" {
		clauses = append(clauses, "verifier_user_id=?")
		args = append(args, f.VerifierUserID)
	}
	if f.PendingOnly {
		clauses = append(clauses, "completed_at IS NULL")
	}
	if f.UnassignedOnly {
		clauses = append(clauses, "verifier_user_id IS NULL")
	}
	if f.DueBefore != "" {
		clauses = append(clauses, "due_date < ?")
		args = append(args, f.DueBefore)
	}
	query := `SELECT ` + reviewTaskColumns + ` FROM review_tasks`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY due_date ASC, verifier_level ASC, id ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ReviewTask
	for rows.Next() {
		rt, err := scanReviewTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rt)
	}
	return res, rows.Err()
}

const reviewColumns = `id,review_task_id,submission_id,approved,verifier_level,comment,reviewer_id,reviewed_at`

func scanReview(row interface{ Scan(...any) error }) (domain.SubmissionReview, error) {
	var rv domain.SubmissionReview
	var approved int
	var comment sql.NullString
	if err := row.Scan(&rv.ID, &rv.ReviewTaskID, &rv.SubmissionID, &approved, &rv.VerifierLevel, &comment, &rv.ReviewerID, &rv.ReviewedAt); err != nil {
		return rv, err
	}
	rv.Approved = approved != 0
	rv.Comment = comment.String
	return rv, nil
}

func (r Repo) InsertReview(ctx context.Context, q Querier, rv domain.SubmissionReview) error {
	_, err := q.ExecContext(ctx, `INSERT INTO submission_reviews(`+reviewColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		rv.ID, rv.ReviewTaskID, rv.SubmissionID, boolInt(rv.Approved), rv.VerifierLevel, nullable(rv.Comment), rv.ReviewerID, rv.ReviewedAt)
	return err
}

func (r Repo) GetReview(ctx context.Context, q Querier, id string) (domain.SubmissionReview, error) {
	rv, err := scanReview(q.QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM submission_reviews WHERE id=?`, id))
	return rv, notFound(err)
}

func (r Repo) GetReviewByReviewTask(ctx context.Context, q Querier, reviewTaskID string) (domain.SubmissionReview, error) {
	rv, err := scanReview(q.QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM submission_reviews WHERE review_task_id=?`, reviewTaskID))
	return rv, notFound(err)
}

func (r Repo) ListReviewsBySubmission(ctx context.Context, q Querier, submissionID string) ([]domain.SubmissionReview, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+reviewColumns+` FROM submission_reviews WHERE submission_id=? ORDER BY verifier_level`, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SubmissionReview
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rv)
	}
	return res, rows.Err()
}
