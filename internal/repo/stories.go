package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"planline/internal/domain"
)

const storyCols = `id,project_id,epic_id,key,title,description,status,acceptance_criteria_json,dev_notes,created_at,updated_at`

// StoryID derives the stable id of a story.
func StoryID(projectID, key string) string {
	return projectID + ":" + key
}

func scanStory(row interface{ Scan(...any) error }) (domain.Story, error) {
	var s domain.Story
	var epic, desc, ac, notes sql.NullString
	var status string
	if err := row.Scan(&s.ID, &s.ProjectID, &epic, &s.Key, &s.Title, &desc, &status, &ac, &notes, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return s, notFound(err)
	}
	s.EpicID = epic.String
	s.Description = desc.String
	s.Status = domain.StoryStatus(status)
	s.DevNotes = notes.String
	criteria, err := fromJSON[[]domain.AcceptanceCriterion](ac)
	if err != nil {
		return s, fmt.Errorf("decode acceptance criteria: %w", err)
	}
	s.AcceptanceCriteria = nonNil(criteria)
	return s, nil
}

func (r Repo) InsertStory(ctx context.Context, s domain.Story) error {
	ac, err := toJSON(nonNil(s.AcceptanceCriteria))
	if err != nil {
		return err
	}
	_, err = r.conn().ExecContext(ctx, `INSERT INTO stories(`+storyCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.ProjectID, nullable(s.EpicID), s.Key, s.Title, nullable(s.Description), string(s.Status), ac, nullable(s.DevNotes), s.CreatedAt, s.UpdatedAt)
	return duplicate(err)
}

func (r Repo) GetStory(ctx context.Context, id string) (domain.Story, error) {
	return scanStory(r.conn().QueryRowContext(ctx, `SELECT `+storyCols+` FROM stories WHERE id=?`, id))
}

// UpdateStoryIfToken writes every mutable field of s only while the stored
// updated_at still equals token. It reports whether the row was written.
func (r Repo) UpdateStoryIfToken(ctx context.Context, s domain.Story, token string) (bool, error) {
	ac, err := toJSON(nonNil(s.AcceptanceCriteria))
	if err != nil {
		return false, err
	}
	n, err := affected(r.conn().ExecContext(ctx, `UPDATE stories
		SET epic_id=?, title=?, description=?, status=?, acceptance_criteria_json=?, dev_notes=?, updated_at=?
		WHERE id=? AND updated_at=?`,
		nullable(s.EpicID), s.Title, nullable(s.Description), string(s.Status), ac, nullable(s.DevNotes), s.UpdatedAt,
		s.ID, token))
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) DeleteStory(ctx context.Context, id string) error {
	n, err := affected(r.conn().ExecContext(ctx, `DELETE FROM stories WHERE id=?`, id))
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type StoryFilters struct {
	ProjectID string
	EpicID    string
	Status    string
	Limit     int
}

func (r Repo) ListStories(ctx context.Context, f StoryFilters) ([]domain.Story, error) {
	clauses := []string{"project_id=?"}
	args := []any{f.ProjectID}
	if f.EpicID != "" {
		clauses = append(clauses, "epic_id=?")
		args = append(args, f.EpicID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	q := `SELECT ` + storyCols + ` FROM stories WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY key`
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	rows, err := r.conn().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Story
	for rows.Next() {
		s, err := scanStory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// NextStory returns the least recently touched story in the given status.
func (r Repo) NextStory(ctx context.Context, projectID, status string) (domain.Story, error) {
	return scanStory(r.conn().QueryRowContext(ctx, `SELECT `+storyCols+` FROM stories
		WHERE project_id=? AND status=? ORDER BY updated_at ASC, id ASC LIMIT 1`, projectID, status))
}

func (r Repo) CountStoriesByStatus(ctx context.Context, projectID string) (map[string]int, error) {
	rows, err := r.conn().QueryContext(ctx, `SELECT status, COUNT(*) FROM stories WHERE project_id=? GROUP BY status`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
