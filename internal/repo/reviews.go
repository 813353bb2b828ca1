package repo

import (
	"context"
	"database/sql"
	"fmt"

	"planline/internal/domain"
)

const reviewCols = `id,project_id,story_id,reviewer,status,created_at,updated_at`

func scanReview(row interface{ Scan(...any) error }) (domain.ReviewSession, error) {
	var s domain.ReviewSession
	var story, reviewer sql.NullString
	if err := row.Scan(&s.ID, &s.ProjectID, &story, &reviewer, &s.Status, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return s, notFound(err)
	}
	s.StoryID, s.Reviewer = story.String, reviewer.String
	return s, nil
}

// NextReviewSeq returns the sequence number for the project's next session.
func (r Repo) NextReviewSeq(ctx context.Context, projectID string) (int, error) {
	var n int
	err := r.conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM review_sessions WHERE project_id=?`, projectID).Scan(&n)
	return n + 1, err
}

func (r Repo) InsertReview(ctx context.Context, s domain.ReviewSession) error {
	_, err := r.conn().ExecContext(ctx, `INSERT INTO review_sessions(`+reviewCols+`) VALUES (?,?,?,?,?,?,?)`,
		s.ID, s.ProjectID, nullable(s.StoryID), nullable(s.Reviewer), s.Status, s.CreatedAt, s.UpdatedAt)
	return duplicate(err)
}

func (r Repo) GetReview(ctx context.Context, id string) (domain.ReviewSession, error) {
	return scanReview(r.conn().QueryRowContext(ctx, `SELECT `+reviewCols+` FROM review_sessions WHERE id=?`, id))
}

func (r Repo) SetReviewStatus(ctx context.Context, id, status, at string) error {
	n, err := affected(r.conn().ExecContext(ctx, `UPDATE review_sessions SET status=?, updated_at=? WHERE id=?`, status, at, id))
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListReviews returns sessions newest first. An empty storyID matches all.
func (r Repo) ListReviews(ctx context.Context, projectID, storyID string, limit int) ([]domain.ReviewSession, error) {
	q := `SELECT ` + reviewCols + ` FROM review_sessions WHERE project_id=?`
	args := []any{projectID}
	if storyID != "" {
		q += ` AND story_id=?`
		args = append(args, storyID)
	}
	q += fmt.Sprintf(` ORDER BY created_at DESC, rowid DESC LIMIT %d`, limit)
	rows, err := r.conn().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.ReviewSession{}
	for rows.Next() {
		s, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// AddFinding appends a finding after the session's highest idx and returns its idx.
func (r Repo) AddFinding(ctx context.Context, sessionID string, f domain.ReviewFinding) (int, error) {
	var last int
	if err := r.conn().QueryRowContext(ctx, `SELECT COALESCE(MAX(idx),0) FROM review_findings WHERE session_id=?`, sessionID).Scan(&last); err != nil {
		return 0, err
	}
	var line any
	if f.Line > 0 {
		line = f.Line
	}
	_, err := r.conn().ExecContext(ctx, `INSERT INTO review_findings(session_id,idx,severity,description,file,line,status,created_at)
		VALUES (?,?,?,?,?,?,?,?)`, sessionID, last+1, f.Severity, f.Description, nullable(f.File), line, f.Status, f.CreatedAt)
	return last + 1, err
}

// SetFindingStatus reports whether the finding exists.
func (r Repo) SetFindingStatus(ctx context.Context, sessionID string, idx int, status string) (bool, error) {
	n, err := affected(r.conn().ExecContext(ctx, `UPDATE review_findings SET status=? WHERE session_id=? AND idx=?`, status, sessionID, idx))
	return n > 0, err
}

func (r Repo) ListFindings(ctx context.Context, sessionID string) ([]domain.ReviewFinding, error) {
	rows, err := r.conn().QueryContext(ctx, `SELECT idx, severity, description, file, line, status, created_at
		FROM review_findings WHERE session_id=? ORDER BY idx`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.ReviewFinding{}
	for rows.Next() {
		var f domain.ReviewFinding
		var file sql.NullString
		var line sql.NullInt64
		if err := rows.Scan(&f.Idx, &f.Severity, &f.Description, &file, &line, &f.Status, &f.CreatedAt); err != nil {
			return nil, err
		}
		f.File, f.Line = file.String, int(line.Int64)
		out = append(out, f)
	}
	return out, rows.Err()
}
