package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"planline/internal/apperr"
	"planline/internal/domain"
	"planline/internal/events"
	"planline/internal/repo"
)

// CompleteReviewItem marks review follow-up idx of a story done. It reports
// false, without error, when idx is not a follow-up.
func (e Engine) CompleteReviewItem(ctx context.Context, storyID string, idx int, actor string) (bool, error) {
	n, err := e.BulkCompleteReview(ctx, storyID, []int{idx}, actor)
	return n == 1, err
}

// BulkCompleteReview marks several follow-ups done in one transaction and
// returns how many matched.
func (e Engine) BulkCompleteReview(ctx context.Context, storyID string, idxs []int, actor string) (int, error) {
	idxs, err := normalizeIdxs(idxs)
	if err != nil {
		return 0, err
	}
	var completed int
	err = e.tx(ctx, func(tx *sql.Tx) error {
		completed = 0
		r := e.Repo.WithTx(tx)
		s, err := e.loadStory(ctx, r, storyID)
		if err != nil {
			return err
		}
		now := e.stamp()
		done := []int{}
		for _, idx := range idxs {
			ok, err := r.CompleteFollowUp(ctx, storyID, idx, now)
			if err != nil {
				return err
			}
			if ok {
				done = append(done, idx)
			}
		}
		completed = len(done)
		if completed == 0 {
			return nil
		}
		return e.record(ctx, tx, events.Entry{Type: "review.items_completed", ProjectID: s.ProjectID, EntityKind: "story", EntityID: storyID, ActorID: actor},
			events.EventPayload{"task_idx": done})
	})
	return completed, err
}

type StartReviewOptions struct {
	ProjectID string
	StoryID   string
	Reviewer  string
	Actor     string
}

// StartReview opens a review session, optionally tied to a story.
func (e Engine) StartReview(ctx context.Context, opts StartReviewOptions) (domain.ReviewSession, error) {
	var out domain.ReviewSession
	err := e.tx(ctx, func(tx *sql.Tx) error {
		r := e.Repo.WithTx(tx)
		if _, err := e.loadProject(ctx, r, opts.ProjectID); err != nil {
			return err
		}
		if opts.StoryID != "" {
			s, err := e.loadStory(ctx, r, opts.StoryID)
			if err != nil {
				return err
			}
			if s.ProjectID != opts.ProjectID {
				return apperr.InvalidArgument("story %s does not belong to project %s", s.ID, opts.ProjectID)
			}
		}
		seq, err := r.NextReviewSeq(ctx, opts.ProjectID)
		if err != nil {
			return err
		}
		now := e.stamp()
		out = domain.ReviewSession{
			ID:        fmt.Sprintf("%s:rev-%d", opts.ProjectID, seq),
			ProjectID: opts.ProjectID,
			StoryID:   opts.StoryID,
			Reviewer:  opts.Reviewer,
			Status:    domain.ReviewOpen,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := r.InsertReview(ctx, out); err != nil {
			return err
		}
		return e.record(ctx, tx, events.Entry{Type: "review.started", ProjectID: opts.ProjectID, EntityKind: "review", EntityID: out.ID, ActorID: opts.Actor},
			events.EventPayload{"story_id": opts.StoryID, "reviewer": opts.Reviewer})
	})
	return out, err
}

type AddFindingOptions struct {
	SessionID   string
	Severity    string
	Description string
	File        string
	Line        int
	Actor       string
}

// AddReviewFinding appends a finding to an open session and returns its idx.
func (e Engine) AddReviewFinding(ctx context.Context, opts AddFindingOptions) (int, error) {
	if err := required("description", opts.Description); err != nil {
		return 0, err
	}
	if opts.Severity == "" {
		opts.Severity = "medium"
	}
	if !severities[opts.Severity] {
		return 0, apperr.InvalidArgument("invalid severity %q", opts.Severity)
	}
	var idx int
	err := e.tx(ctx, func(tx *sql.Tx) error {
		r := e.Repo.WithTx(tx)
		rs, err := e.loadReview(ctx, r, opts.SessionID)
		if err != nil {
			return err
		}
		if err := requireOpen(rs); err != nil {
			return err
		}
		idx, err = r.AddFinding(ctx, rs.ID, domain.ReviewFinding{
			Severity:    opts.Severity,
			Description: opts.Description,
			File:        opts.File,
			Line:        opts.Line,
			Status:      "open",
			CreatedAt:   e.stamp(),
		})
		if err != nil {
			return err
		}
		return e.record(ctx, tx, events.Entry{Type: "review.finding_added", ProjectID: rs.ProjectID, EntityKind: "review", EntityID: rs.ID, ActorID: opts.Actor},
			events.EventPayload{"idx": idx, "severity": opts.Severity})
	})
	return idx, err
}

var findingStatuses = map[string]bool{"open": true, "fixed": true, "wont-fix": true, "duplicate": true}

// UpdateReviewFinding sets the status of one finding. Findings of closed
// sessions may still be updated.
func (e Engine) UpdateReviewFinding(ctx context.Context, sessionID string, idx int, status, actor string) error {
	if !findingStatuses[status] {
		return apperr.InvalidArgument("invalid finding status %q", status)
	}
	return e.tx(ctx, func(tx *sql.Tx) error {
		r := e.Repo.WithTx(tx)
		rs, err := e.loadReview(ctx, r, sessionID)
		if err != nil {
			return err
		}
		ok, err := r.SetFindingStatus(ctx, sessionID, idx, status)
		if err != nil {
			return err
		}
		if !ok {
			nf := apperr.NotFound("finding %d not found in review %s", idx, sessionID)
			nf.Details = map[string]any{"session_id": sessionID, "idx": idx}
			return nf
		}
		return e.record(ctx, tx, events.Entry{Type: "review.finding_updated", ProjectID: rs.ProjectID, EntityKind: "review", EntityID: rs.ID, ActorID: actor},
			events.EventPayload{"idx": idx, "status": status})
	})
}

var reviewOutcomes = map[string]bool{domain.ReviewClosed: true, domain.ReviewApproved: true, domain.ReviewRejected: true}

// CloseReview ends an open session with outcome, "closed" when empty.
func (e Engine) CloseReview(ctx context.Context, sessionID, outcome, actor string) (domain.ReviewSession, error) {
	if outcome == "" {
		outcome = domain.ReviewClosed
	}
	return e.finishReview(ctx, sessionID, outcome, "", actor)
}

func (e Engine) ApproveReview(ctx context.Context, sessionID, actor string) (domain.ReviewSession, error) {
	return e.finishReview(ctx, sessionID, domain.ReviewApproved, "", actor)
}

func (e Engine) RejectReview(ctx context.Context, sessionID, reason, actor string) (domain.ReviewSession, error) {
	return e.finishReview(ctx, sessionID, domain.ReviewRejected, reason, actor)
}

func (e Engine) finishReview(ctx context.Context, sessionID, outcome, reason, actor string) (domain.ReviewSession, error) {
	if !reviewOutcomes[outcome] {
		return domain.ReviewSession{}, apperr.InvalidArgument("invalid review outcome %q", outcome)
	}
	var out domain.ReviewSession
	err := e.tx(ctx, func(tx *sql.Tx) error {
		r := e.Repo.WithTx(tx)
		rs, err := e.loadReview(ctx, r, sessionID)
		if err != nil {
			return err
		}
		if err := requireOpen(rs); err != nil {
			return err
		}
		rs.Status, rs.UpdatedAt = outcome, e.nextToken(rs.UpdatedAt)
		if err := r.SetReviewStatus(ctx, rs.ID, rs.Status, rs.UpdatedAt); err != nil {
			return err
		}
		out = rs
		payload := events.EventPayload{"outcome": outcome}
		if reason != "" {
			payload["reason"] = reason
		}
		return e.record(ctx, tx, events.Entry{Type: "review." + outcome, ProjectID: rs.ProjectID, EntityKind: "review", EntityID: rs.ID, ActorID: actor}, payload)
	})
	return out, err
}

// GetReview returns a session with its findings.
func (e Engine) GetReview(ctx context.Context, sessionID string) (domain.ReviewSession, error) {
	rs, err := e.loadReview(ctx, e.Repo, sessionID)
	if err != nil {
		return rs, err
	}
	rs.Findings, err = e.Repo.ListFindings(ctx, sessionID)
	return rs, err
}

// ListReviews returns sessions newest first, optionally for one story.
func (e Engine) ListReviews(ctx context.Context, projectID, storyID string, limit int) ([]domain.ReviewSession, error) {
	if limit <= 0 {
		limit = 50
	}
	if _, err := e.loadProject(ctx, e.Repo, projectID); err != nil {
		return nil, err
	}
	return e.Repo.ListReviews(ctx, projectID, storyID, limit)
}

func (e Engine) loadReview(ctx context.Context, r repo.Repo, id string) (domain.ReviewSession, error) {
	rs, err := r.GetReview(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		nf := apperr.NotFound("review %s not found", id)
		nf.Details = map[string]any{"session_id": id}
		return rs, nf
	}
	return rs, err
}

func requireOpen(rs domain.ReviewSession) error {
	if rs.Status == domain.ReviewOpen {
		return nil
	}
	ise := apperr.InvalidState("review %s is %s", rs.ID, rs.Status)
	ise.Details = map[string]any{"session_id": rs.ID, "status": rs.Status}
	return ise
}
