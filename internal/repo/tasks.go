package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"indicatorline/internal/domain"
)

const taskColumns = `id,entrepreneur_id,organisation_id,programme_id,month_type,month_id,indicator_type,indicator_id,responsible_type,responsible_role_id,responsible_user_id,due_date,status,is_achieved,created_at,updated_at`

func scanTask(row interface{ Scan(...any) error }) (domain.Task, error) {
	var t domain.Task
	var entrepreneur, organisation, programme, respRole, respUser sql.NullString
	var achieved sql.NullInt64
	err := row.Scan(&t.ID, &entrepreneur, &organisation, &programme, &t.MonthType, &t.MonthID, &t.IndicatorType, &t.IndicatorID,
		&t.ResponsibleType, &respRole, &respUser, &t.DueDate, &t.Status, &achieved, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, err
	}
	t.EntrepreneurID = stringPtr(entrepreneur)
	t.OrganisationID = stringPtr(organisation)
	t.ProgrammeID = stringPtr(programme)
	t.ResponsibleRoleID = stringPtr(respRole)
	t.ResponsibleUserID = stringPtr(respUser)
	t.IsAchieved = boolPtr(achieved)
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, q Querier, t domain.Task) error {
	if t.ResponsibleType == "" {
		t.ResponsibleType = domain.ResponsibleUser
	}
	_, err := q.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, nullableStringPtr(t.EntrepreneurID), nullableStringPtr(t.OrganisationID), nullableStringPtr(t.ProgrammeID),
		t.MonthType, t.MonthID, t.IndicatorType, t.IndicatorID, t.ResponsibleType,
		nullableStringPtr(t.ResponsibleRoleID), nullableStringPtr(t.ResponsibleUserID), t.DueDate, t.Status,
		nullableBoolPtr(t.IsAchieved), t.CreatedAt, t.UpdatedAt)
	return err
}

// GetTask loads a task and resolves its indicatable month. An unresolvable month leaves
// Indicatable nil (orphaned) rather than failing.
func (r Repo) GetTask(ctx context.Context, q Querier, id string) (domain.Task, error) {
	t, err := scanTask(q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
	if err != nil {
		return t, notFound(err)
	}
	ind, err := r.ResolveIndicatable(ctx, q, t.MonthType, t.MonthID, t.IndicatorType, t.IndicatorID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return t, err
	}
	t.Indicatable = ind
	return t, nil
}

func (r Repo) UpdateTaskStatus(ctx context.Context, q Querier, id, status string, achieved *bool, now string) error {
	res, err := q.ExecContext(ctx, `UPDATE tasks SET status=?, is_achieved=COALESCE(?, is_achieved), updated_at=? WHERE id=?`,
		status, nullableBoolPtr(achieved), now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TaskFilter narrows ListTasks. Empty fields are ignored.
type TaskFilter struct {
	EntrepreneurID string
	OrganisationID string
	ProgrammeID    string
	Status         string
	Limit          int
}

func (r Repo) ListTasks(ctx context.Context, q Querier, f TaskFilter) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.EntrepreneurID != "" {
		clauses = append(clauses, "entrepreneur_id=?")
		args = append(args, f.EntrepreneurID)
	}
	if f.OrganisationID != "" {
		clauses = append(clauses, "organisation_id=?")
		args = append(args, f.OrganisationID)
	}
	if f.ProgrammeID != "" {
		clauses = append(clauses, "programme_id=?")
		args = append(args, f.ProgrammeID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY due_date ASC, id ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	for i := range res {
		ind, err := r.ResolveIndicatable(ctx, q, res[i].MonthType, res[i].MonthID, res[i].IndicatorType, res[i].IndicatorID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		res[i].Indicatable = ind
	}
	return res, nil
}

// TaskStatusCounts groups tasks of one entrepreneur/organisation/programme by stored status.
func (r Repo) TaskStatusCounts(ctx context.Context, q Querier, entrepreneurID, organisationID, programmeID string) (map[string]int, error) {
	rows, err := q.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks
WHERE entrepreneur_id=? AND organisation_id=? AND programme_id=? GROUP BY status`, entrepreneurID, organisationID, programmeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
