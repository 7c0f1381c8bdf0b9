package repo

import (
	"context"
	"database/sql"

	"indicatorline/internal/domain"
)

const indicatorColumns = `id,kind,name,response_format,acceptance_value,verifier_1_role_id,verifier_2_role_id,COALESCE(compliance_type,''),created_at`

func scanIndicator(row interface{ Scan(...any) error }) (domain.Indicator, error) {
	var ind domain.Indicator
	var acceptance, v1, v2 sql.NullString
	if err := row.Scan(&ind.ID, &ind.Kind, &ind.Name, &ind.ResponseFormat, &acceptance, &v1, &v2, &ind.ComplianceType, &ind.CreatedAt); err != nil {
		return ind, err
	}
	ind.AcceptanceValue = stringPtr(acceptance)
	ind.Verifier1RoleID = stringPtr(v1)
	ind.Verifier2RoleID = stringPtr(v2)
	return ind, nil
}

func (r Repo) InsertIndicator(ctx context.Context, q Querier, ind domain.Indicator) error {
	_, err := q.ExecContext(ctx, `INSERT INTO indicators(id,kind,name,response_format,acceptance_value,verifier_1_role_id,verifier_2_role_id,compliance_type,created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		ind.ID, ind.Kind, ind.Name, ind.ResponseFormat, nullableStringPtr(ind.AcceptanceValue),
		nullableStringPtr(ind.Verifier1RoleID), nullableStringPtr(ind.Verifier2RoleID), nullable(ind.ComplianceType), ind.CreatedAt)
	return err
}

// GetIndicator returns a live (not soft-deleted) indicator.
func (r Repo) GetIndicator(ctx context.Context, q Querier, id string) (domain.Indicator, error) {
	ind, err := scanIndicator(q.QueryRowContext(ctx, `SELECT `+indicatorColumns+` FROM indicators WHERE id=? AND deleted_at IS NULL`, id))
	return ind, notFound(err)
}

func (r Repo) UpdateIndicatorVerifiers(ctx context.Context, q Querier, id string, v1, v2 *string) error {
	res, err := q.ExecContext(ctx, `UPDATE indicators SET verifier_1_role_id=?, verifier_2_role_id=? WHERE id=? AND deleted_at IS NULL`,
		nullableStringPtr(v1), nullableStringPtr(v2), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SoftDeleteIndicator(ctx context.Context, q Querier, id, now string) error {
	_, err := q.ExecContext(ctx, `UPDATE indicators SET deleted_at=? WHERE id=?`, now, id)
	return err
}

// IndicatorPublished reports whether any programme association of the indicator is published.
func (r Repo) IndicatorPublished(ctx context.Context, q Querier, indicatorID string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM indicator_programmes WHERE indicator_id=? AND status='published' LIMIT 1`, indicatorID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) InsertAssociation(ctx context.Context, q Querier, a domain.IndicatorProgramme) error {
	_, err := q.ExecContext(ctx, `INSERT INTO indicator_programmes(id,indicator_id,programme_id,status,published_at) VALUES (?,?,?,?,?)`,
		a.ID, a.IndicatorID, a.ProgrammeID, a.Status, nullableStringPtr(a.PublishedAt))
	return err
}

func (r Repo) GetAssociation(ctx context.Context, q Querier, id string) (domain.IndicatorProgramme, error) {
	var a domain.IndicatorProgramme
	var published sql.NullString
	err := q.QueryRowContext(ctx, `SELECT id,indicator_id,programme_id,status,published_at FROM indicator_programmes WHERE id=?`, id).
		Scan(&a.ID, &a.IndicatorID, &a.ProgrammeID, &a.Status, &published)
	if err != nil {
		return a, notFound(err)
	}
	a.PublishedAt = stringPtr(published)
	months, err := r.ListMonths(ctx, q, id)
	if err != nil {
		return a, err
	}
	a.Months = months
	return a, nil
}

// PublishAssociation flips pending -> published; it never reverts.
func (r Repo) PublishAssociation(ctx context.Context, q Querier, id, now string) (bool, error) {
	res, err := q.ExecContext(ctx, `UPDATE indicator_programmes SET status='published', published_at=? WHERE id=? AND status='pending'`, now, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) InsertMonth(ctx context.Context, q Querier, m domain.IndicatorMonth) error {
	_, err := q.ExecContext(ctx, `INSERT INTO indicator_months(id,association_id,programme_month,target_value) VALUES (?,?,?,?)`,
		m.ID, m.AssociationID, m.ProgrammeMonth, nullableStringPtr(m.TargetValue))
	return err
}

func (r Repo) SoftDeleteMonth(ctx context.Context, q Querier, id, now string) error {
	_, err := q.ExecContext(ctx, `UPDATE indicator_months SET deleted_at=? WHERE id=?`, now, id)
	return err
}

func (r Repo) ListMonths(ctx context.Context, q Querier, associationID string) ([]domain.IndicatorMonth, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,association_id,programme_month,target_value,deleted_at FROM indicator_months
WHERE association_id=? AND deleted_at IS NULL ORDER BY programme_month`, associationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.IndicatorMonth
	for rows.Next() {
		var m domain.IndicatorMonth
		var target, deleted sql.NullString
		if err := rows.Scan(&m.ID, &m.AssociationID, &m.ProgrammeMonth, &target, &deleted); err != nil {
			return nil, err
		}
		m.TargetValue = stringPtr(target)
		m.DeletedAt = stringPtr(deleted)
		res = append(res, m)
	}
	return res, rows.Err()
}

// ResolveIndicatable loads the month and its indicator for a task's polymorphic references.
// It returns ErrNotFound when either side is gone or the kinds disagree.
func (r Repo) ResolveIndicatable(ctx context.Context, q Querier, monthType, monthID, indicatorType, indicatorID string) (domain.Indicatable, error) {
	var m domain.IndicatorMonth
	var target sql.NullString
	var assocIndicator string
	err := q.QueryRowContext(ctx, `
SELECT m.id,m.association_id,m.programme_month,m.target_value,ip.indicator_id
FROM indicator_months m
JOIN indicator_programmes ip ON ip.id=m.association_id
WHERE m.id=? AND m.deleted_at IS NULL`, monthID).Scan(&m.ID, &m.AssociationID, &m.ProgrammeMonth, &target, &assocIndicator)
	if err != nil {
		return nil, notFound(err)
	}
	m.TargetValue = stringPtr(target)
	if assocIndicator != indicatorID {
		return nil, ErrNotFound
	}
	ind, err := r.GetIndicator(ctx, q, indicatorID)
	if err != nil {
		return nil, err
	}
	if ind.Kind != indicatorType || domain.MonthKindFor(ind.Kind) != monthType {
		return nil, ErrNotFound
	}
	return domain.NewIndicatable(m, ind), nil
}
