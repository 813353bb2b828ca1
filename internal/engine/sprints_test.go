package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planline/internal/apperr"
	"planline/internal/domain"
	"planline/internal/engine"
)

func TestCurrentSprintShowsInStatusAndContext(t *testing.T) {
	env := newTestEnv(t)
	st, err := env.Engine.GetSprintStatus(env.Ctx, projectID)
	require.NoError(t, err)
	assert.Nil(t, st.CurrentSprint)

	cur, err := env.Engine.SetCurrentSprint(env.Ctx, projectID, " sprint-3 ", "pm")
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, "sprint-3", *cur)

	st, err = env.Engine.GetSprintStatus(env.Ctx, projectID)
	require.NoError(t, err)
	require.NotNil(t, st.CurrentSprint)
	assert.Equal(t, "sprint-3", *st.CurrentSprint)
	pc, err := env.Engine.GetProjectContext(env.Ctx, projectID)
	require.NoError(t, err)
	require.NotNil(t, pc.CurrentSprint)
	assert.Equal(t, "sprint-3", *pc.CurrentSprint)

	cur, err = env.Engine.SetCurrentSprint(env.Ctx, projectID, "", "pm")
	require.NoError(t, err)
	assert.Nil(t, cur)
	st, err = env.Engine.GetSprintStatus(env.Ctx, projectID)
	require.NoError(t, err)
	assert.Nil(t, st.CurrentSprint)

	_, err = env.Engine.SetCurrentSprint(env.Ctx, "missing", "s1", "pm")
	requireKind(t, err, apperr.KindNotFound)
}

func TestStorySprintAssignment(t *testing.T) {
	env := newTestEnv(t)
	b := env.seedStory(t, "S-2")
	a := env.seedStory(t, "S-1")
	env.seedStory(t, "S-3")
	require.NoError(t, env.Engine.SetStorySprint(env.Ctx, b.ID, "s1", "pm"))
	require.NoError(t, env.Engine.SetStorySprint(env.Ctx, a.ID, "s1", "pm"))

	items, err := env.Engine.ListStoriesBySprint(env.Ctx, projectID, "s1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "S-1", items[0].Key)
	assert.Equal(t, "S-2", items[1].Key)
	assert.Equal(t, domain.StoryDraft, items[0].Status)

	// reassigning moves the story, an empty label removes it
	require.NoError(t, env.Engine.SetStorySprint(env.Ctx, b.ID, "s2", "pm"))
	require.NoError(t, env.Engine.SetStorySprint(env.Ctx, a.ID, "", "pm"))
	items, err = env.Engine.ListStoriesBySprint(env.Ctx, projectID, "s1")
	require.NoError(t, err)
	assert.Empty(t, items)
	items, err = env.Engine.ListStoriesBySprint(env.Ctx, projectID, "s2")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, b.ID, items[0].ID)

	// sprint membership is not story content
	_, err = env.Engine.UpdateStory(env.Ctx, engine.StoryUpdate{StoryID: b.ID, Title: strp("fresh"), ExpectedUpdatedAt: b.UpdatedAt})
	require.NoError(t, err)

	err = env.Engine.SetStorySprint(env.Ctx, "proj:nope", "s1", "pm")
	requireKind(t, err, apperr.KindNotFound)
	_, err = env.Engine.ListStoriesBySprint(env.Ctx, projectID, "")
	requireKind(t, err, apperr.KindInvalidArgument)
}

func TestStoryLabels(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedStory(t, "S-1")
	b := env.seedStory(t, "S-2")

	labels, err := env.Engine.SetStoryLabels(env.Ctx, a.ID, []string{"ui", "auth", "ui"}, "pm")
	require.NoError(t, err)
	assert.Equal(t, []string{"auth", "ui"}, labels)
	got, err := env.Engine.ListStoryLabels(env.Ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"auth", "ui"}, got)

	env.Clock.Advance(time.Second)
	_, err = env.Engine.SetStoryLabels(env.Ctx, b.ID, []string{"auth"}, "pm")
	require.NoError(t, err)
	_, err = env.Engine.UpdateStory(env.Ctx, engine.StoryUpdate{StoryID: b.ID, Title: strp("touched")})
	require.NoError(t, err)

	hits, err := env.Engine.SearchByLabel(env.Ctx, projectID, "auth")
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, b.ID, hits[0].ID, "most recently updated first")
	assert.Equal(t, a.ID, hits[1].ID)

	// replace, not merge
	_, err = env.Engine.SetStoryLabels(env.Ctx, a.ID, []string{"backend"}, "pm")
	require.NoError(t, err)
	got, err = env.Engine.ListStoryLabels(env.Ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"backend"}, got)
	hits, err = env.Engine.SearchByLabel(env.Ctx, projectID, "ui")
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, err = env.Engine.SetStoryLabels(env.Ctx, a.ID, []string{" "}, "pm")
	requireKind(t, err, apperr.KindInvalidArgument)
	_, err = env.Engine.ListStoryLabels(env.Ctx, "proj:nope")
	requireKind(t, err, apperr.KindNotFound)
}

func TestDeleteEpic(t *testing.T) {
	env := newTestEnv(t)
	s := env.seedStory(t, "S-1")

	deleted, err := env.Engine.DeleteEpic(env.Ctx, projectID, 9, false, "pm")
	require.NoError(t, err)
	assert.False(t, deleted, "absent epic")

	_, err = env.Engine.DeleteEpic(env.Ctx, projectID, 1, false, "pm")
	ae := requireKind(t, err, apperr.KindInvalidState)
	assert.Equal(t, "stories-exist", ae.Details["reason"])

	deleted, err = env.Engine.DeleteEpic(env.Ctx, projectID, 1, true, "pm")
	require.NoError(t, err)
	assert.True(t, deleted)
	_, err = env.Engine.GetEpic(env.Ctx, projectID, 1)
	requireKind(t, err, apperr.KindNotFound)

	sc, err := env.Engine.GetStoryContext(env.Ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, sc.Story.EpicID)
	assert.Greater(t, sc.Story.UpdatedAt, s.UpdatedAt, "detaching is a story write")
	_, err = env.Engine.UpdateStory(env.Ctx, engine.StoryUpdate{StoryID: s.ID, Title: strp("stale"), ExpectedUpdatedAt: s.UpdatedAt})
	requireKind(t, err, apperr.KindConflict)
}

func TestEpicChangelog(t *testing.T) {
	env := newTestEnv(t)
	env.seedStory(t, "S-1")
	for _, entry := range []string{"scoped", "re-planned", "shipped"} {
		_, err := env.Engine.AddEpicChangelog(env.Ctx, projectID, 1, entry, "pm")
		require.NoError(t, err)
	}
	items, err := env.Engine.GetEpicChangelog(env.Ctx, projectID, 1, 0)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "shipped", items[0].Entry)
	assert.Equal(t, "scoped", items[2].Entry)

	items, err = env.Engine.GetEpicChangelog(env.Ctx, projectID, 1, 2)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	_, err = env.Engine.AddEpicChangelog(env.Ctx, projectID, 7, "nothing", "pm")
	requireKind(t, err, apperr.KindNotFound)
	_, err = env.Engine.AddEpicChangelog(env.Ctx, projectID, 1, "", "pm")
	requireKind(t, err, apperr.KindInvalidArgument)
}
