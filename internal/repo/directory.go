package repo

import (
	"context"
	"database/sql"

	"indicatorline/internal/domain"
)

func (r Repo) InsertUser(ctx context.Context, q Querier, u domain.User) error {
	_, err := q.ExecContext(ctx, `INSERT INTO users(id,name,email,created_at) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, email=excluded.email`,
		u.ID, u.Name, nullable(u.Email), u.CreatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, q Querier, id string) (domain.User, error) {
	var u domain.User
	var email sql.NullString
	err := q.QueryRowContext(ctx, `SELECT id,name,email,created_at FROM users WHERE id=?`, id).
		Scan(&u.ID, &u.Name, &email, &u.CreatedAt)
	if err != nil {
		return u, notFound(err)
	}
	u.Email = email.String
	return u, nil
}

func (r Repo) InsertRole(ctx context.Context, q Querier, role domain.Role) error {
	if _, err := q.ExecContext(ctx, `INSERT INTO roles(id,slug,name) VALUES (?,?,?)
ON CONFLICT(id) DO UPDATE SET slug=excluded.slug, name=excluded.name`, role.ID, role.Slug, role.Name); err != nil {
		return err
	}
	for _, p := range role.Permissions {
		if _, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO role_permissions(role_id,permission) VALUES (?,?)`, role.ID, p); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetRole(ctx context.Context, q Querier, id string) (domain.Role, error) {
	var role domain.Role
	err := q.QueryRowContext(ctx, `SELECT id,slug,name FROM roles WHERE id=?`, id).Scan(&role.ID, &role.Slug, &role.Name)
	if err != nil {
		return role, notFound(err)
	}
	rows, err := q.QueryContext(ctx, `SELECT permission FROM role_permissions WHERE role_id=? ORDER BY permission`, id)
	if err != nil {
		return role, err
	}
	defer rows.Close()
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return role, err
		}
		role.Permissions = append(role.Permissions, p)
	}
	return role, rows.Err()
}

func (r Repo) InsertCluster(ctx context.Context, q Querier, id, name string) error {
	_, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO clusters(id,name) VALUES (?,?)`, id, name)
	return err
}

func (r Repo) InsertTenant(ctx context.Context, q Querier, t domain.Tenant) error {
	_, err := q.ExecContext(ctx, `INSERT INTO tenants(id,name,cluster_id) VALUES (?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, cluster_id=excluded.cluster_id`, t.ID, t.Name, nullableStringPtr(t.ClusterID))
	return err
}

func (r Repo) GetTenant(ctx context.Context, q Querier, id string) (domain.Tenant, error) {
	var t domain.Tenant
	var cluster sql.NullString
	err := q.QueryRowContext(ctx, `SELECT id,name,cluster_id FROM tenants WHERE id=?`, id).Scan(&t.ID, &t.Name, &cluster)
	if err != nil {
		return t, notFound(err)
	}
	t.ClusterID = stringPtr(cluster)
	return t, nil
}

func (r Repo) InsertDeliveryLocation(ctx context.Context, q Querier, id, name string) error {
	_, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO delivery_locations(id,name) VALUES (?,?)`, id, name)
	return err
}

func (r Repo) InsertOrganisation(ctx context.Context, q Querier, o domain.Organisation) error {
	_, err := q.ExecContext(ctx, `INSERT INTO organisations(id,name,delivery_location_id,tenant_id) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, delivery_location_id=excluded.delivery_location_id, tenant_id=excluded.tenant_id`,
		o.ID, o.Name, nullableStringPtr(o.DeliveryLocationID), nullableStringPtr(o.TenantID))
	return err
}

func (r Repo) GetOrganisation(ctx context.Context, q Querier, id string) (domain.Organisation, error) {
	var o domain.Organisation
	var loc, tenant sql.NullString
	err := q.QueryRowContext(ctx, `SELECT id,name,delivery_location_id,tenant_id FROM organisations WHERE id=?`, id).
		Scan(&o.ID, &o.Name, &loc, &tenant)
	if err != nil {
		return o, notFound(err)
	}
	o.DeliveryLocationID = stringPtr(loc)
	o.TenantID = stringPtr(tenant)
	return o, nil
}

func (r Repo) InsertProgramme(ctx context.Context, q Querier, p domain.Programme) error {
	if p.PeriodMonths <= 0 {
		p.PeriodMonths = 12
	}
	_, err := q.ExecContext(ctx, `INSERT INTO programmes(id,name,period_months) VALUES (?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, period_months=excluded.period_months`, p.ID, p.Name, p.PeriodMonths)
	return err
}

func (r Repo) GetProgramme(ctx context.Context, q Querier, id string) (domain.Programme, error) {
	var p domain.Programme
	err := q.QueryRowContext(ctx, `SELECT id,name,period_months FROM programmes WHERE id=?`, id).Scan(&p.ID, &p.Name, &p.PeriodMonths)
	return p, notFound(err)
}

// UpsertEntrepreneur records the entrepreneur's primary tenant.
func (r Repo) UpsertEntrepreneur(ctx context.Context, q Querier, userID string, primaryTenantID *string) error {
	_, err := q.ExecContext(ctx, `INSERT INTO entrepreneurs(user_id,primary_tenant_id) VALUES (?,?)
ON CONFLICT(user_id) DO UPDATE SET primary_tenant_id=excluded.primary_tenant_id`, userID, nullableStringPtr(primaryTenantID))
	return err
}

func (r Repo) EntrepreneurPrimaryTenant(ctx context.Context, q Querier, userID string) (*string, error) {
	var tenant sql.NullString
	err := q.QueryRowContext(ctx, `SELECT primary_tenant_id FROM entrepreneurs WHERE user_id=?`, userID).Scan(&tenant)
	if err != nil {
		return nil, notFound(err)
	}
	return stringPtr(tenant), nil
}

func (r Repo) Assign(ctx context.Context, q Querier, a domain.Assignment) error {
	_, err := q.ExecContext(ctx, `INSERT INTO role_assignments(user_id,role_id,scope_type,scope_id,assigned_at) VALUES (?,?,?,?,?)
ON CONFLICT(user_id,role_id,scope_type,scope_id) DO UPDATE SET assigned_at=excluded.assigned_at`,
		a.UserID, a.RoleID, a.ScopeType, a.ScopeID, a.AssignedAt)
	return err
}

func (r Repo) Unassign(ctx context.Context, q Querier, a domain.Assignment) error {
	_, err := q.ExecContext(ctx, `DELETE FROM role_assignments WHERE user_id=? AND role_id=? AND scope_type=? AND scope_id=?`,
		a.UserID, a.RoleID, a.ScopeType, a.ScopeID)
	return err
}

// LatestAssignee returns the user most recently assigned the role on the scope.
func (r Repo) LatestAssignee(ctx context.Context, q Querier, scopeType, scopeID, roleID string) (domain.User, error) {
	var u domain.User
	var email sql.NullString
	err := q.QueryRowContext(ctx, `
SELECT u.id,u.name,u.email,u.created_at
FROM role_assignments ra
JOIN users u ON u.id=ra.user_id
WHERE ra.scope_type=? AND ra.scope_id=? AND ra.role_id=?
ORDER BY ra.assigned_at DESC, ra.id DESC
LIMIT 1`, scopeType, scopeID, roleID).Scan(&u.ID, &u.Name, &email, &u.CreatedAt)
	if err != nil {
		return u, notFound(err)
	}
	u.Email = email.String
	return u, nil
}

// GuideUsers lists distinct users holding any organisation-scoped role that carries the permission.
func (r Repo) GuideUsers(ctx context.Context, q Querier, organisationID, permission string) ([]domain.User, error) {
	rows, err := q.QueryContext(ctx, `
SELECT DISTINCT u.id,u.name,u.email,u.created_at
FROM role_assignments ra
JOIN role_permissions rp ON rp.role_id=ra.role_id
JOIN users u ON u.id=ra.user_id
WHERE ra.scope_type='organisation' AND ra.scope_id=? AND rp.permission=?
ORDER BY u.id`, organisationID, permission)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		var email sql.NullString
		if err := rows.Scan(&u.ID, &u.Name, &email, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.Email = email.String
		res = append(res, u)
	}
	return res, rows.Err()
}
