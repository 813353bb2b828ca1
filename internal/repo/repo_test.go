package repo

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planline/internal/db"
	"planline/internal/domain"
	"planline/internal/migrate"
)

const (
	t0 = "2024-01-01T10:00:00.000000000Z"
	t1 = "2024-01-01T10:00:30.000000000Z"
	t2 = "2024-01-01T10:01:00.000000000Z"
	t3 = "2024-01-01T10:02:00.000000000Z"
)

func newRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Path: filepath.Join(t.TempDir(), "planline.db")})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)
	r := Repo{DB: conn}
	ctx := context.Background()
	require.NoError(t, r.UpsertProject(ctx, domain.Project{ID: "proj", Name: "proj", CreatedAt: t0, UpdatedAt: t0}))
	require.NoError(t, r.InsertStory(ctx, domain.Story{
		ID: StoryID("proj", "1-1"), ProjectID: "proj", Key: "1-1", Title: "Login",
		Status: domain.StoryDraft, CreatedAt: t0, UpdatedAt: t0,
	}))
	return r
}

func lease(agent, expires string) domain.Reservation {
	return domain.Reservation{ProjectID: "proj", StoryID: "proj:1-1", TaskIdx: 1, Agent: agent, ExpiresAt: expires, CreatedAt: t0}
}

func TestTryReserveHonoursHolderAndExpiry(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	ok, err := r.TryReserve(ctx, lease("alice", t2), t0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.TryReserve(ctx, lease("bob", t3), t1)
	require.NoError(t, err)
	assert.False(t, ok, "live lease of another agent must not be taken")

	ok, err = r.TryReserve(ctx, lease("alice", t3), t1)
	require.NoError(t, err)
	assert.True(t, ok, "holder renews")
	got, err := r.GetReservation(ctx, "proj:1-1", 1)
	require.NoError(t, err)
	assert.Equal(t, t3, got.ExpiresAt)

	ok, err = r.TryReserve(ctx, lease("bob", "2024-01-01T11:00:00.000000000Z"), t3)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease is taken over")
	got, err = r.GetReservation(ctx, "proj:1-1", 1)
	require.NoError(t, err)
	assert.Equal(t, "bob", got.Agent)
}

func TestSweepExpired(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	_, err := r.TryReserve(ctx, lease("alice", t1), t0)
	require.NoError(t, err)

	n, err := r.SweepExpired(ctx, t0)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = r.SweepExpired(ctx, t1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	_, err = r.GetReservation(ctx, "proj:1-1", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateStoryIfToken(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	s, err := r.GetStory(ctx, "proj:1-1")
	require.NoError(t, err)

	s.Title = "Login v2"
	s.UpdatedAt = t1
	ok, err := r.UpdateStoryIfToken(ctx, s, t0)
	require.NoError(t, err)
	assert.True(t, ok)

	s.Title = "lost write"
	s.UpdatedAt = t2
	ok, err = r.UpdateStoryIfToken(ctx, s, t0)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := r.GetStory(ctx, "proj:1-1")
	require.NoError(t, err)
	assert.Equal(t, "Login v2", got.Title)
	assert.Equal(t, t1, got.UpdatedAt)
}

func TestInsertStoryDuplicate(t *testing.T) {
	r := newRepo(t)
	err := r.InsertStory(context.Background(), domain.Story{
		ID: StoryID("proj", "1-1"), ProjectID: "proj", Key: "1-1", Title: "again",
		Status: domain.StoryDraft, CreatedAt: t0, UpdatedAt: t0,
	})
	assert.ErrorIs(t, err, ErrDuplicate)
}
