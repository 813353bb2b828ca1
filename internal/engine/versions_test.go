package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planline/internal/apperr"
	"planline/internal/domain"
	"planline/internal/engine"
	"planline/internal/repo"
)

// withoutIDs drops row ids, which are not part of a task's identity.
func withoutIDs(roots []domain.RootTask) []domain.RootTask {
	out := make([]domain.RootTask, len(roots))
	for i, r := range roots {
		r.ID = 0
		subs := make([]domain.Subtask, len(r.Subtasks))
		for j, st := range r.Subtasks {
			st.ID = 0
			subs[j] = st
		}
		r.Subtasks = subs
		out[i] = r
	}
	return out
}

func TestStorySnapshotSwitchRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	s := env.seedStory(t, "S-1")
	_, err := env.Engine.CompleteTask(env.Ctx, engine.CompleteTaskOptions{StoryID: s.ID, TaskIdx: 1, SubtaskIdx: 2})
	require.NoError(t, err)

	before, err := env.Engine.GetStoryContext(env.Ctx, s.ID)
	require.NoError(t, err)
	_, err = env.Engine.SnapshotStory(env.Ctx, s.ID, "v1", "pm")
	require.NoError(t, err)

	_, err = env.Engine.UpdateStory(env.Ctx, engine.StoryUpdate{
		StoryID: s.ID, Title: strp("rewritten"), AcceptanceCriteria: domain.Criteria("other"), DevNotes: strp("notes"),
	})
	require.NoError(t, err)
	_, err = env.Engine.CompleteTask(env.Ctx, engine.CompleteTaskOptions{StoryID: s.ID, TaskIdx: 2})
	require.NoError(t, err)
	_, err = env.Engine.AddFollowUpTasks(env.Ctx, s.ID, []domain.FollowUp{{Description: "extra", Severity: "low"}}, "rev")
	require.NoError(t, err)

	res, err := env.Engine.SwitchStoryVersion(env.Ctx, s.ID, "v1", "pm")
	require.NoError(t, err)

	after, err := env.Engine.GetStoryContext(env.Ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, withoutIDs(before.Tasks), withoutIDs(after.Tasks))
	assert.Equal(t, before.Progress, after.Progress)

	b, a := before.Story, after.Story
	assert.Equal(t, res.UpdatedAt, a.UpdatedAt)
	assert.Greater(t, a.UpdatedAt, b.UpdatedAt)
	b.UpdatedAt, a.UpdatedAt = "", ""
	assert.Equal(t, b, a)
}

func TestStorySwitchRebuildsDeletedTree(t *testing.T) {
	env := newTestEnv(t)
	s := env.seedStory(t, "S-1")
	_, err := env.Engine.SnapshotStory(env.Ctx, s.ID, "v1", "pm")
	require.NoError(t, err)

	_, err = env.Engine.DB.ExecContext(env.Ctx, `DELETE FROM tasks WHERE story_id=?`, s.ID)
	require.NoError(t, err)

	_, err = env.Engine.SwitchStoryVersion(env.Ctx, s.ID, "v1", "pm")
	require.NoError(t, err)
	sc, err := env.Engine.GetStoryContext(env.Ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, sc.Tasks, 2)
	assert.Equal(t, []int{1, 2}, []int{sc.Tasks[0].Subtasks[0].Idx, sc.Tasks[0].Subtasks[1].Idx})
	assert.Equal(t, "schema", sc.Tasks[0].Subtasks[0].Description)
}

func TestStorySwitchDropsLeasesOnVanishedTasks(t *testing.T) {
	env := newTestEnv(t)
	s := env.seedStory(t, "S-1")
	_, err := env.Engine.SnapshotStory(env.Ctx, s.ID, "v1", "pm")
	require.NoError(t, err)
	added, err := env.Engine.AddFollowUpTasks(env.Ctx, s.ID, []domain.FollowUp{{Description: "late", Severity: "high"}}, "rev")
	require.NoError(t, err)
	for _, idx := range []int{1, added[0]} {
		_, err = env.Engine.ReserveTask(env.Ctx, engine.ReserveOptions{StoryID: s.ID, TaskIdx: idx, Agent: "alice"})
		require.NoError(t, err)
	}

	_, err = env.Engine.SwitchStoryVersion(env.Ctx, s.ID, "v1", "pm")
	require.NoError(t, err)

	items, err := env.Engine.ListReservations(env.Ctx, repo.ReservationFilters{StoryID: s.ID})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].TaskIdx)
}

func TestSnapshotLabelsAreImmutable(t *testing.T) {
	env := newTestEnv(t)
	s := env.seedStory(t, "S-1")
	_, err := env.Engine.SnapshotStory(env.Ctx, s.ID, "v1", "pm")
	require.NoError(t, err)
	_, err = env.Engine.SnapshotStory(env.Ctx, s.ID, "v1", "pm")
	ae := requireKind(t, err, apperr.KindConflict)
	assert.Equal(t, "v1", ae.Details["version"])

	_, err = env.Engine.SnapshotStory(env.Ctx, s.ID, "", "pm")
	requireKind(t, err, apperr.KindInvalidArgument)
	_, err = env.Engine.SwitchStoryVersion(env.Ctx, s.ID, "v9", "pm")
	requireKind(t, err, apperr.KindNotFound)
	_, err = env.Engine.SnapshotStory(env.Ctx, "proj:none", "v1", "pm")
	requireKind(t, err, apperr.KindNotFound)
}

func TestListVersionsNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	s := env.seedStory(t, "S-1")
	for _, label := range []string{"alpha", "beta", "gamma"} {
		_, err := env.Engine.SnapshotStory(env.Ctx, s.ID, label, "pm")
		require.NoError(t, err)
	}
	versions, err := env.Engine.ListStoryVersions(env.Ctx, s.ID)
	require.NoError(t, err)
	labels := make([]string, 0, len(versions))
	for _, v := range versions {
		labels = append(labels, v.Version)
	}
	assert.Equal(t, []string{"gamma", "beta", "alpha"}, labels)
}

func TestEpicSnapshotSwitch(t *testing.T) {
	env := newTestEnv(t)
	key := engine.EpicKey{ProjectID: projectID, Number: 3}
	_, err := env.Engine.UpsertEpic(env.Ctx, engine.UpsertEpicOptions{ProjectID: projectID, Number: 3, Title: strp("Search"), Status: strp("planned")})
	require.NoError(t, err)
	_, err = env.Engine.SnapshotEpic(env.Ctx, key, "v1", "pm")
	require.NoError(t, err)
	_, err = env.Engine.UpsertEpic(env.Ctx, engine.UpsertEpicOptions{ProjectID: projectID, Number: 3, Title: strp("Search v2"), Status: strp("in-progress")})
	require.NoError(t, err)

	_, err = env.Engine.SwitchEpicVersion(env.Ctx, key, "v1", "pm")
	require.NoError(t, err)
	ep, err := env.Engine.GetEpic(env.Ctx, projectID, 3)
	require.NoError(t, err)
	assert.Equal(t, "Search", ep.Title)
	assert.Equal(t, "planned", ep.Status)

	versions, err := env.Engine.ListEpicVersions(env.Ctx, key)
	require.NoError(t, err)
	assert.Len(t, versions, 1)

	_, err = env.Engine.SnapshotEpic(env.Ctx, engine.EpicKey{ProjectID: projectID, Number: 99}, "v1", "pm")
	requireKind(t, err, apperr.KindNotFound)
}

func TestPlanningDocSnapshotSwitch(t *testing.T) {
	env := newTestEnv(t)
	key := engine.DocKey{ProjectID: projectID, Type: "prd"}
	_, err := env.Engine.SnapshotPlanningDoc(env.Ctx, key, "v1", "pm")
	requireKind(t, err, apperr.KindNotFound)

	_, err = env.Engine.UpdatePlanningDoc(env.Ctx, engine.UpdatePlanningDocOptions{ProjectID: projectID, Type: "prd", Content: "first draft", GenerateSummary: true})
	require.NoError(t, err)
	_, err = env.Engine.SnapshotPlanningDoc(env.Ctx, key, "v1", "pm")
	require.NoError(t, err)
	_, err = env.Engine.UpdatePlanningDoc(env.Ctx, engine.UpdatePlanningDocOptions{ProjectID: projectID, Type: "prd", Content: "second draft", GenerateSummary: true})
	require.NoError(t, err)

	res, err := env.Engine.SwitchPlanningDocVersion(env.Ctx, key, "v1", "pm")
	require.NoError(t, err)
	doc, err := env.Engine.GetPlanningDoc(env.Ctx, projectID, "prd", "full")
	require.NoError(t, err)
	assert.Equal(t, "first draft", doc.Content)
	assert.Equal(t, "first draft", doc.Summary)
	assert.Equal(t, res.UpdatedAt, doc.UpdatedAt)

	_, err = env.Engine.ListPlanningDocVersions(env.Ctx, engine.DocKey{ProjectID: projectID, Type: "memo"})
	requireKind(t, err, apperr.KindInvalidArgument)
}
