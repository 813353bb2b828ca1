package app

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planline/internal/engine"
	"planline/internal/logging"
	"planline/internal/migrate"
)

func TestOpenAndResolveProject(t *testing.T) {
	ctx := context.Background()
	ws := t.TempDir()
	rt, err := Open(ctx, ws, "", logging.Discard())
	require.NoError(t, err)
	defer rt.Close()
	assert.FileExists(t, filepath.Join(ws, ".planline", "planline.db"))

	_, err = ResolveProject(ctx, rt.Engine.Repo, "")
	require.Error(t, err)

	_, _, err = rt.Engine.RegisterProject(ctx, engine.RegisterProjectOptions{ID: "alpha"})
	require.NoError(t, err)
	id, err := ResolveProject(ctx, rt.Engine.Repo, "")
	require.NoError(t, err)
	assert.Equal(t, "alpha", id)

	_, _, err = rt.Engine.RegisterProject(ctx, engine.RegisterProjectOptions{ID: "beta"})
	require.NoError(t, err)
	_, err = ResolveProject(ctx, rt.Engine.Repo, "")
	require.Error(t, err)
	id, err = ResolveProject(ctx, rt.Engine.Repo, "beta")
	require.NoError(t, err)
	assert.Equal(t, "beta", id)
}

func TestOpenReadsConfigFile(t *testing.T) {
	ws := t.TempDir()
	dbPath := filepath.Join(ws, "custom", "store.db")
	cfgPath := filepath.Join(ws, "alt.yml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("store:\n  path: "+dbPath+"\nleases:\n  default_ttl_seconds: 60\n"), 0o644))

	rt, err := Open(context.Background(), ws, cfgPath, logging.Discard())
	require.NoError(t, err)
	defer rt.Close()
	assert.Equal(t, 60, rt.Config.Leases.DefaultTTLSeconds)
	assert.FileExists(t, dbPath)

	_, err = Open(context.Background(), ws, filepath.Join(ws, "missing.yml"), logging.Discard())
	require.Error(t, err)
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	ctx := context.Background()
	ws := t.TempDir()
	rt, err := Open(ctx, ws, "", logging.Discard())
	require.NoError(t, err)
	latest, err := migrate.Latest()
	require.NoError(t, err)
	_, err = rt.DB.ExecContext(ctx, `UPDATE schema_version SET version=?`, latest+1)
	require.NoError(t, err)
	require.NoError(t, rt.Close())

	_, err = Open(ctx, ws, "", logging.Discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")
}

func TestOpenLogsMigrationsOnlyWhenApplied(t *testing.T) {
	ctx := context.Background()
	ws := t.TempDir()
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	rt, err := Open(ctx, ws, "", log)
	require.NoError(t, err)
	require.NoError(t, rt.Close())
	assert.Equal(t, 1, strings.Count(buf.String(), "applied migrations"))

	rt, err = Open(ctx, ws, "", log)
	require.NoError(t, err)
	require.NoError(t, rt.Close())
	assert.Equal(t, 1, strings.Count(buf.String(), "applied migrations"))
}
