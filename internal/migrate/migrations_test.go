package migrate

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planline/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Path: filepath.Join(t.TempDir(), "pl.db")})
	require.NoError(t, err)
	defer conn.Close()

	require.Error(t, Check(ctx, conn))

	v1, err := Migrate(ctx, conn)
	require.NoError(t, err)
	latest, err := Latest()
	require.NoError(t, err)
	assert.Equal(t, latest, v1)

	v2, err := Migrate(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	require.NoError(t, Check(ctx, conn))

	var n int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestLoadMigrationsOrdered(t *testing.T) {
	ms, err := loadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, ms)
	for i := 1; i < len(ms); i++ {
		assert.Less(t, ms[i-1].Version, ms[i].Version)
	}
}
