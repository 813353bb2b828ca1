package repo

import (
	"context"
	"strings"

	"planline/internal/domain"
)

const reservationCols = `project_id,story_id,task_idx,agent,expires_at,created_at`

func scanReservation(row interface{ Scan(...any) error }) (domain.Reservation, error) {
	var res domain.Reservation
	err := row.Scan(&res.ProjectID, &res.StoryID, &res.TaskIdx, &res.Agent, &res.ExpiresAt, &res.CreatedAt)
	return res, notFound(err)
}

// TryReserve claims (story, idx) in one statement. The row is written when it
// is absent, already held by the same agent, or expired at now. It reports
// whether the claim took effect.
func (r Repo) TryReserve(ctx context.Context, res domain.Reservation, now string) (bool, error) {
	n, err := affected(r.conn().ExecContext(ctx, `INSERT INTO reservations(`+reservationCols+`) VALUES (?,?,?,?,?,?)
		ON CONFLICT(story_id, task_idx) DO UPDATE SET
			agent=excluded.agent,
			expires_at=excluded.expires_at,
			created_at=CASE WHEN reservations.agent=excluded.agent THEN reservations.created_at ELSE excluded.created_at END
		WHERE reservations.agent=excluded.agent OR reservations.expires_at <= ?`,
		res.ProjectID, res.StoryID, res.TaskIdx, res.Agent, res.ExpiresAt, res.CreatedAt, now))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r Repo) GetReservation(ctx context.Context, storyID string, idx int) (domain.Reservation, error) {
	return scanReservation(r.conn().QueryRowContext(ctx, `SELECT `+reservationCols+` FROM reservations WHERE story_id=? AND task_idx=?`, storyID, idx))
}

func (r Repo) DeleteReservation(ctx context.Context, storyID string, idx int) error {
	_, err := r.conn().ExecContext(ctx, `DELETE FROM reservations WHERE story_id=? AND task_idx=?`, storyID, idx)
	return err
}

// DeleteReservationsFor drops leases on the given root indices of a story.
func (r Repo) DeleteReservationsFor(ctx context.Context, storyID string, idxs []int) error {
	if len(idxs) == 0 {
		return nil
	}
	args := []any{storyID}
	marks := make([]string, 0, len(idxs))
	for _, idx := range idxs {
		marks = append(marks, "?")
		args = append(args, idx)
	}
	_, err := r.conn().ExecContext(ctx, `DELETE FROM reservations WHERE story_id=? AND task_idx IN (`+strings.Join(marks, ",")+`)`, args...)
	return err
}

// SweepExpired deletes reservations whose expiry is at or before now.
func (r Repo) SweepExpired(ctx context.Context, now string) (int64, error) {
	return affected(r.conn().ExecContext(ctx, `DELETE FROM reservations WHERE expires_at <= ?`, now))
}

type ReservationFilters struct {
	ProjectID string
	StoryID   string
	Agent     string
}

func (r Repo) ListReservations(ctx context.Context, f ReservationFilters) ([]domain.Reservation, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.StoryID != "" {
		clauses = append(clauses, "story_id=?")
		args = append(args, f.StoryID)
	}
	if f.Agent != "" {
		clauses = append(clauses, "agent=?")
		args = append(args, f.Agent)
	}
	q := `SELECT ` + reservationCols + ` FROM reservations`
	if len(clauses) > 0 {
		q += " WHERE " + strings.Join(clauses, " AND ")
	}
	q += " ORDER BY story_id, task_idx"
	rows, err := r.conn().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.Reservation{}
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}
