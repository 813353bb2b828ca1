package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planline/internal/apperr"
	"planline/internal/domain"
	"planline/internal/engine"
)

func strp(s string) *string { return &s }

func TestUpdateStoryStaleTokenConflicts(t *testing.T) {
	env := newTestEnv(t)
	s := env.seedStory(t, "S-1")
	token := s.UpdatedAt

	first, err := env.Engine.UpdateStory(env.Ctx, engine.StoryUpdate{StoryID: s.ID, Title: strp("first"), ExpectedUpdatedAt: token})
	require.NoError(t, err)
	assert.NotEqual(t, token, first.UpdatedAt)

	_, err = env.Engine.UpdateStory(env.Ctx, engine.StoryUpdate{StoryID: s.ID, Title: strp("second"), ExpectedUpdatedAt: token})
	ae := requireKind(t, err, apperr.KindConflict)
	assert.Equal(t, true, ae.Details["conflict"])
	assert.Equal(t, first.UpdatedAt, ae.Details["current_updated_at"])

	sc, err := env.Engine.GetStoryContext(env.Ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", sc.Story.Title)
	assert.Equal(t, first.UpdatedAt, sc.Story.UpdatedAt)

	// retry with the fresh token
	_, err = env.Engine.UpdateStory(env.Ctx, engine.StoryUpdate{StoryID: s.ID, Title: strp("second"), ExpectedUpdatedAt: first.UpdatedAt})
	require.NoError(t, err)
}

func TestUpdateStoryWithoutTokenLastWriterWins(t *testing.T) {
	env := newTestEnv(t)
	s := env.seedStory(t, "S-1")

	a, err := env.Engine.UpdateStory(env.Ctx, engine.StoryUpdate{StoryID: s.ID, Description: strp("a")})
	require.NoError(t, err)
	b, err := env.Engine.UpdateStory(env.Ctx, engine.StoryUpdate{StoryID: s.ID, Description: strp("b")})
	require.NoError(t, err)
	assert.Greater(t, b.UpdatedAt, a.UpdatedAt)

	sc, err := env.Engine.GetStoryContext(env.Ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "b", sc.Story.Description)
}

func TestUpdateStoryStatusReportsPrevious(t *testing.T) {
	env := newTestEnv(t)
	s := env.seedStory(t, "S-1")
	res, err := env.Engine.UpdateStoryStatus(env.Ctx, s.ID, domain.StoryInProgress, "picked up", s.UpdatedAt, "dev")
	require.NoError(t, err)
	assert.Equal(t, "draft", res.PreviousStatus)

	_, err = env.Engine.UpdateStoryStatus(env.Ctx, s.ID, "shipped", "", "", "dev")
	requireKind(t, err, apperr.KindInvalidArgument)

	_, err = env.Engine.UpdateStoryStatus(env.Ctx, s.ID, domain.StoryDone, "", s.UpdatedAt, "dev")
	requireKind(t, err, apperr.KindConflict)
}

func TestAddDevNoteAppendsSections(t *testing.T) {
	env := newTestEnv(t)
	s := env.seedStory(t, "S-1")
	_, err := env.Engine.AddDevNote(env.Ctx, s.ID, "used WAL", "decisions", "", "dev")
	require.NoError(t, err)
	_, err = env.Engine.AddDevNote(env.Ctx, s.ID, "plain", "", "", "dev")
	require.NoError(t, err)

	sc, err := env.Engine.GetStoryContext(env.Ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "\n\n### decisions\nused WAL\n\n\nplain\n", sc.Story.DevNotes)

	_, err = env.Engine.AddDevNote(env.Ctx, s.ID, "x", "rumours", "", "dev")
	requireKind(t, err, apperr.KindInvalidArgument)
}

func TestUpdateAcceptanceCriteriaGuarded(t *testing.T) {
	env := newTestEnv(t)
	s := env.seedStory(t, "S-1")
	res, err := env.Engine.UpdateAcceptanceCriteria(env.Ctx, s.ID, domain.Criteria("fast", "safe"), s.UpdatedAt, "pm")
	require.NoError(t, err)

	_, err = env.Engine.UpdateAcceptanceCriteria(env.Ctx, s.ID, domain.Criteria("late"), s.UpdatedAt, "pm")
	requireKind(t, err, apperr.KindConflict)

	sc, err := env.Engine.GetStoryContext(env.Ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Criteria("fast", "safe"), sc.Story.AcceptanceCriteria)
	assert.Equal(t, res.UpdatedAt, sc.Story.UpdatedAt)

	_, err = env.Engine.UpdateAcceptanceCriteria(env.Ctx, s.ID, domain.Criteria("fast", " "), "", "pm")
	requireKind(t, err, apperr.KindInvalidArgument)
}

func TestAcceptanceCriterionMarkedMet(t *testing.T) {
	env := newTestEnv(t)
	s := env.seedStory(t, "S-1")
	sc, err := env.Engine.GetStoryContext(env.Ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, []domain.AcceptanceCriterion{{Criterion: "works", Met: false}}, sc.Story.AcceptanceCriteria)

	criteria := sc.Story.AcceptanceCriteria
	criteria[0].Met = true
	criteria = append(criteria, domain.AcceptanceCriterion{Criterion: "documented"})
	_, err = env.Engine.UpdateAcceptanceCriteria(env.Ctx, s.ID, criteria, sc.Story.UpdatedAt, "dev")
	require.NoError(t, err)

	sc, err = env.Engine.GetStoryContext(env.Ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.AcceptanceCriterion{
		{Criterion: "works", Met: true},
		{Criterion: "documented", Met: false},
	}, sc.Story.AcceptanceCriteria)

	// met flags survive a snapshot round trip
	_, err = env.Engine.SnapshotStory(env.Ctx, s.ID, "v1", "pm")
	require.NoError(t, err)
	_, err = env.Engine.UpdateAcceptanceCriteria(env.Ctx, s.ID, domain.Criteria("reset"), "", "pm")
	require.NoError(t, err)
	_, err = env.Engine.SwitchStoryVersion(env.Ctx, s.ID, "v1", "pm")
	require.NoError(t, err)
	sc, err = env.Engine.GetStoryContext(env.Ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, sc.Story.AcceptanceCriteria[0].Met)
}

func TestCompleteTaskLeavesStoryTokenAlone(t *testing.T) {
	env := newTestEnv(t)
	s := env.seedStory(t, "S-1")
	_, err := env.Engine.CompleteTask(env.Ctx, engine.CompleteTaskOptions{StoryID: s.ID, TaskIdx: 1})
	require.NoError(t, err)
	_, err = env.Engine.UpdateStory(env.Ctx, engine.StoryUpdate{StoryID: s.ID, Title: strp("still fresh"), ExpectedUpdatedAt: s.UpdatedAt})
	require.NoError(t, err)
}
