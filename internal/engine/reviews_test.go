package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planline/internal/apperr"
	"planline/internal/domain"
	"planline/internal/engine"
)

func TestCompleteReviewItems(t *testing.T) {
	env := newTestEnv(t)
	s := env.seedStory(t, "S-1")
	idxs, err := env.Engine.AddFollowUpTasks(env.Ctx, s.ID, []domain.FollowUp{
		{Description: "rename", Severity: "low"},
		{Description: "null check", Severity: "high"},
		{Description: "docs", Severity: "medium"},
	}, "rev")
	require.NoError(t, err)
	require.Equal(t, []int{3, 4, 5}, idxs)

	ok, err := env.Engine.CompleteReviewItem(env.Ctx, s.ID, 4, "dev")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = env.Engine.CompleteReviewItem(env.Ctx, s.ID, 1, "dev")
	require.NoError(t, err)
	assert.False(t, ok, "task 1 is not a follow-up")

	n, err := env.Engine.BulkCompleteReview(env.Ctx, s.ID, []int{3, 5, 2, 99}, "dev")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	backlog, err := env.Engine.ReviewBacklog(env.Ctx, projectID)
	require.NoError(t, err)
	assert.Empty(t, backlog)
	sc, err := env.Engine.GetStoryContext(env.Ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, sc.Tasks[0].Done)
	assert.False(t, sc.Tasks[1].Done)

	_, err = env.Engine.BulkCompleteReview(env.Ctx, "proj:nope", []int{1}, "dev")
	requireKind(t, err, apperr.KindNotFound)
	_, err = env.Engine.BulkCompleteReview(env.Ctx, s.ID, []int{0}, "dev")
	requireKind(t, err, apperr.KindInvalidArgument)
}

func TestReviewSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	s := env.seedStory(t, "S-1")

	rs, err := env.Engine.StartReview(env.Ctx, engine.StartReviewOptions{ProjectID: projectID, StoryID: s.ID, Reviewer: "rev"})
	require.NoError(t, err)
	assert.Equal(t, "proj:rev-1", rs.ID)
	assert.Equal(t, domain.ReviewOpen, rs.Status)

	idx, err := env.Engine.AddReviewFinding(env.Ctx, engine.AddFindingOptions{SessionID: rs.ID, Description: "leaks fd", File: "db.go", Line: 42, Severity: "high"})
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	idx, err = env.Engine.AddReviewFinding(env.Ctx, engine.AddFindingOptions{SessionID: rs.ID, Description: "typo"})
	require.NoError(t, err)
	assert.Equal(t, 2, idx)

	require.NoError(t, env.Engine.UpdateReviewFinding(env.Ctx, rs.ID, 1, "fixed", "dev"))
	err = env.Engine.UpdateReviewFinding(env.Ctx, rs.ID, 9, "fixed", "dev")
	requireKind(t, err, apperr.KindNotFound)
	err = env.Engine.UpdateReviewFinding(env.Ctx, rs.ID, 1, "forgotten", "dev")
	requireKind(t, err, apperr.KindInvalidArgument)

	got, err := env.Engine.GetReview(env.Ctx, rs.ID)
	require.NoError(t, err)
	require.Len(t, got.Findings, 2)
	assert.Equal(t, domain.ReviewFinding{Idx: 1, Severity: "high", Description: "leaks fd", File: "db.go", Line: 42, Status: "fixed", CreatedAt: got.Findings[0].CreatedAt}, got.Findings[0])
	assert.Equal(t, "medium", got.Findings[1].Severity)
	assert.Equal(t, "open", got.Findings[1].Status)

	approved, err := env.Engine.ApproveReview(env.Ctx, rs.ID, "lead")
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewApproved, approved.Status)
	assert.Greater(t, approved.UpdatedAt, rs.UpdatedAt)

	// a finished session takes no new findings and cannot be finished twice
	_, err = env.Engine.AddReviewFinding(env.Ctx, engine.AddFindingOptions{SessionID: rs.ID, Description: "late"})
	ae := requireKind(t, err, apperr.KindInvalidState)
	assert.Equal(t, domain.ReviewApproved, ae.Details["status"])
	_, err = env.Engine.RejectReview(env.Ctx, rs.ID, "changed my mind", "lead")
	requireKind(t, err, apperr.KindInvalidState)
	require.NoError(t, env.Engine.UpdateReviewFinding(env.Ctx, rs.ID, 2, "wont-fix", "dev"))
}

func TestListAndCloseReviews(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedStory(t, "S-1")
	b := env.seedStory(t, "S-2")

	first, err := env.Engine.StartReview(env.Ctx, engine.StartReviewOptions{ProjectID: projectID, StoryID: a.ID})
	require.NoError(t, err)
	second, err := env.Engine.StartReview(env.Ctx, engine.StartReviewOptions{ProjectID: projectID, StoryID: b.ID})
	require.NoError(t, err)
	third, err := env.Engine.StartReview(env.Ctx, engine.StartReviewOptions{ProjectID: projectID})
	require.NoError(t, err)

	all, err := env.Engine.ListReviews(env.Ctx, projectID, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, third.ID, all[0].ID)
	assert.Equal(t, first.ID, all[2].ID)

	forB, err := env.Engine.ListReviews(env.Ctx, projectID, b.ID, 0)
	require.NoError(t, err)
	require.Len(t, forB, 1)
	assert.Equal(t, second.ID, forB[0].ID)

	closed, err := env.Engine.CloseReview(env.Ctx, first.ID, "", "rev")
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewClosed, closed.Status)
	rejected, err := env.Engine.RejectReview(env.Ctx, second.ID, "needs tests", "rev")
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewRejected, rejected.Status)
	_, err = env.Engine.CloseReview(env.Ctx, third.ID, "open", "rev")
	requireKind(t, err, apperr.KindInvalidArgument)

	_, err = env.Engine.StartReview(env.Ctx, engine.StartReviewOptions{ProjectID: projectID, StoryID: "proj:nope"})
	requireKind(t, err, apperr.KindNotFound)
	_, err = env.Engine.GetReview(env.Ctx, "proj:rev-99")
	requireKind(t, err, apperr.KindNotFound)
}
