package resolver_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"indicatorline/internal/config"
	"indicatorline/internal/db"
	"indicatorline/internal/domain"
	"indicatorline/internal/engine/resolver"
	"indicatorline/internal/migrate"
	"indicatorline/internal/repo"
)

type fixture struct {
	ctx  context.Context
	conn *sql.DB
	repo repo.Repo
	res  *resolver.Resolver
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	r := repo.Repo{DB: conn}
	f := fixture{ctx: context.Background(), conn: conn, repo: r, res: resolver.New(r, config.Static{}, nil)}

	for _, role := range []domain.Role{
		{ID: "r-mentor", Slug: resolver.Mentor, Name: "Mentor", Permissions: []string{"guide"}},
		{ID: "r-pm", Slug: resolver.ProgrammeManager, Name: "Programme manager"},
		{ID: "r-pc", Slug: resolver.ProgrammeCoordinator, Name: "Programme coordinator"},
		{ID: "r-rc", Slug: resolver.RegionalCoordinator, Name: "Regional coordinator"},
		{ID: "r-rm", Slug: resolver.RegionalManager, Name: "Regional manager"},
		{ID: "r-eso", Slug: resolver.ESOManager, Name: "ESO manager"},
		{ID: "r-odd", Slug: "auditor", Name: "Auditor"},
	} {
		require.NoError(t, r.InsertRole(f.ctx, conn, role))
	}
	for _, id := range []string{"ent", "u1", "u2", "u3"} {
		require.NoError(t, r.InsertUser(f.ctx, conn, domain.User{ID: id, Name: id, CreatedAt: "2024-01-01T00:00:00Z"}))
	}
	require.NoError(t, r.InsertProgramme(f.ctx, conn, domain.Programme{ID: "prog", Name: "Programme"}))
	return f
}

func (f fixture) assign(t *testing.T, user, role, scopeType, scopeID, at string) {
	t.Helper()
	require.NoError(t, f.repo.Assign(f.ctx, f.conn, domain.Assignment{UserID: user, RoleID: role, ScopeType: scopeType, ScopeID: scopeID, AssignedAt: at}))
}

func (f fixture) org(t *testing.T, o domain.Organisation) {
	t.Helper()
	require.NoError(t, f.repo.InsertOrganisation(f.ctx, f.conn, o))
}

func ptr(s string) *string { return &s }

func scope() resolver.Scope {
	return resolver.Scope{EntrepreneurID: "ent", OrganisationID: "org", ProgrammeID: "prog"}
}

func TestMentorSingleGuide(t *testing.T) {
	f := newFixture(t)
	f.org(t, domain.Organisation{ID: "org", Name: "Org"})
	f.assign(t, "u1", "r-mentor", domain.ScopeOrganisation, "org", "2024-01-01T00:00:00Z")

	u, err := f.res.ResolveVerifier(f.ctx, f.conn, scope(), "r-mentor")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "u1", u.ID)
}

func TestMentorAmbiguousOrMissingResolvesToNobody(t *testing.T) {
	f := newFixture(t)
	f.org(t, domain.Organisation{ID: "org", Name: "Org"})

	u, err := f.res.ResolveVerifier(f.ctx, f.conn, scope(), "r-mentor")
	require.NoError(t, err)
	assert.Nil(t, u)

	f.assign(t, "u1", "r-mentor", domain.ScopeOrganisation, "org", "2024-01-01T00:00:00Z")
	f.assign(t, "u2", "r-mentor", domain.ScopeOrganisation, "org", "2024-02-01T00:00:00Z")
	u, err = f.res.ResolveVerifier(f.ctx, f.conn, scope(), "r-mentor")
	require.NoError(t, err)
	assert.Nil(t, u, "two mentors must not be tie-broken")
}

func TestProgrammeRolesPickMostRecent(t *testing.T) {
	f := newFixture(t)
	f.assign(t, "u1", "r-pm", domain.ScopeProgramme, "prog", "2024-01-01T00:00:00Z")
	f.assign(t, "u2", "r-pm", domain.ScopeProgramme, "prog", "2024-03-01T00:00:00Z")
	f.assign(t, "u3", "r-pc", domain.ScopeProgramme, "prog", "2024-02-01T00:00:00Z")

	u, err := f.res.ResolveVerifier(f.ctx, f.conn, scope(), "r-pm")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "u2", u.ID)

	u, err = f.res.ResolveVerifier(f.ctx, f.conn, scope(), "r-pc")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "u3", u.ID)

	u, err = f.res.ResolveVerifier(f.ctx, f.conn, resolver.Scope{ProgrammeID: "other"}, "r-pm")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestRegionalRolesFollowDeliveryLocation(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.repo.InsertDeliveryLocation(f.ctx, f.conn, "loc", "North"))
	f.org(t, domain.Organisation{ID: "org", Name: "Org", DeliveryLocationID: ptr("loc")})
	f.assign(t, "u1", "r-rc", domain.ScopeDeliveryLocation, "loc", "2024-01-01T00:00:00Z")
	f.assign(t, "u2", "r-rm", domain.ScopeDeliveryLocation, "loc", "2024-01-01T00:00:00Z")

	u, err := f.res.ResolveVerifier(f.ctx, f.conn, scope(), "r-rc")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "u1", u.ID)

	u, err = f.res.ResolveVerifier(f.ctx, f.conn, scope(), "r-rm")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "u2", u.ID)
}

func TestRegionalWithoutDeliveryLocation(t *testing.T) {
	f := newFixture(t)
	f.org(t, domain.Organisation{ID: "org", Name: "Org"})
	u, err := f.res.ResolveVerifier(f.ctx, f.conn, scope(), "r-rc")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestESOManagerPrefersOrganisationTenant(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.repo.InsertCluster(f.ctx, f.conn, "c1", "Cluster 1"))
	require.NoError(t, f.repo.InsertCluster(f.ctx, f.conn, "c2", "Cluster 2"))
	require.NoError(t, f.repo.InsertTenant(f.ctx, f.conn, domain.Tenant{ID: "t1", Name: "T1", ClusterID: ptr("c1")}))
	require.NoError(t, f.repo.InsertTenant(f.ctx, f.conn, domain.Tenant{ID: "t2", Name: "T2", ClusterID: ptr("c2")}))
	require.NoError(t, f.repo.UpsertEntrepreneur(f.ctx, f.conn, "ent", ptr("t2")))
	f.assign(t, "u1", "r-eso", domain.ScopeCluster, "c1", "2024-01-01T00:00:00Z")
	f.assign(t, "u2", "r-eso", domain.ScopeCluster, "c2", "2024-01-01T00:00:00Z")

	f.org(t, domain.Organisation{ID: "org", Name: "Org", TenantID: ptr("t1")})
	u, err := f.res.ResolveVerifier(f.ctx, f.conn, scope(), "r-eso")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "u1", u.ID)

	// without an organisation tenant the entrepreneur's primary tenant is used
	f.org(t, domain.Organisation{ID: "org", Name: "Org"})
	u, err = f.res.ResolveVerifier(f.ctx, f.conn, scope(), "r-eso")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "u2", u.ID)
}

func TestESOManagerMissingClusterResolvesToNobody(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.repo.InsertTenant(f.ctx, f.conn, domain.Tenant{ID: "t1", Name: "T1"}))
	f.org(t, domain.Organisation{ID: "org", Name: "Org", TenantID: ptr("t1")})
	u, err := f.res.ResolveVerifier(f.ctx, f.conn, scope(), "r-eso")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestUnmappedDesignationIsAnError(t *testing.T) {
	f := newFixture(t)
	_, err := f.res.ResolveVerifier(f.ctx, f.conn, scope(), "r-odd")
	var unmapped resolver.UnmappedDesignationError
	require.True(t, errors.As(err, &unmapped))
	assert.Equal(t, "auditor", unmapped.Slug)
}

func TestUnknownRoleIsAnError(t *testing.T) {
	f := newFixture(t)
	_, err := f.res.ResolveVerifier(f.ctx, f.conn, scope(), "missing")
	require.ErrorIs(t, err, resolver.ErrRoleNotFound)
}

func TestRegisterAddsDesignation(t *testing.T) {
	f := newFixture(t)
	require.False(t, f.res.Supports("auditor"))
	f.res.Register("auditor", func(ctx context.Context, l resolver.Lookup) (*domain.User, error) {
		return &domain.User{ID: "u3"}, nil
	})
	u, err := f.res.ResolveVerifier(f.ctx, f.conn, scope(), "r-odd")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "u3", u.ID)
	assert.NoError(t, f.res.Validate(config.Default().Roles.Designations))
	assert.Error(t, f.res.Validate([]string{"treasurer"}))
}
