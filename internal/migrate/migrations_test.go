package migrate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"indicatorline/internal/db"
	"indicatorline/internal/migrate"
)

func TestUpIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	ctx := context.Background()

	v, err := migrate.Version(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, 0, v)
	pending, err := migrate.Pending(ctx, conn)
	require.NoError(t, err)
	require.NotEmpty(t, pending)

	require.NoError(t, migrate.Up(ctx, conn, nil))
	require.NoError(t, migrate.Migrate(conn))

	v, err = migrate.Version(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, pending[len(pending)-1].Version, v)
	pending, err = migrate.Pending(ctx, conn)
	require.NoError(t, err)
	assert.Empty(t, pending)

	var n int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n))
	assert.Equal(t, v, n)
}
