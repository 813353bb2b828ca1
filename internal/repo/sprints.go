package repo

import (
	"context"
	"database/sql"
	"errors"

	"planline/internal/domain"
)

// SetCurrentSprint records the project's active sprint. An empty label clears it.
func (r Repo) SetCurrentSprint(ctx context.Context, projectID, label, at string) error {
	_, err := r.conn().ExecContext(ctx, `INSERT INTO sprint_status(project_id,current_sprint,updated_at) VALUES (?,?,?)
		ON CONFLICT(project_id) DO UPDATE SET current_sprint=excluded.current_sprint, updated_at=excluded.updated_at`,
		projectID, nullable(label), at)
	return err
}

// CurrentSprint returns "" when no sprint is set.
func (r Repo) CurrentSprint(ctx context.Context, projectID string) (string, error) {
	var label sql.NullString
	err := r.conn().QueryRowContext(ctx, `SELECT current_sprint FROM sprint_status WHERE project_id=?`, projectID).Scan(&label)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return label.String, err
}

func (r Repo) SetStorySprint(ctx context.Context, storyID, label, at string) error {
	_, err := r.conn().ExecContext(ctx, `INSERT INTO story_sprints(story_id,sprint_label,updated_at) VALUES (?,?,?)
		ON CONFLICT(story_id) DO UPDATE SET sprint_label=excluded.sprint_label, updated_at=excluded.updated_at`,
		storyID, label, at)
	return err
}

func (r Repo) ClearStorySprint(ctx context.Context, storyID string) error {
	_, err := r.conn().ExecContext(ctx, `DELETE FROM story_sprints WHERE story_id=?`, storyID)
	return err
}

func (r Repo) StorySprint(ctx context.Context, storyID string) (string, error) {
	var label string
	err := r.conn().QueryRowContext(ctx, `SELECT sprint_label FROM story_sprints WHERE story_id=?`, storyID).Scan(&label)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return label, err
}

func (r Repo) ListStoriesBySprint(ctx context.Context, projectID, label string) ([]domain.StoryRef, error) {
	return r.storyRefs(ctx, `SELECT s.id, s.key, s.title, s.status, s.updated_at
		FROM stories s JOIN story_sprints ss ON ss.story_id=s.id
		WHERE s.project_id=? AND ss.sprint_label=? ORDER BY s.key`, projectID, label)
}

func (r Repo) storyRefs(ctx context.Context, query string, args ...any) ([]domain.StoryRef, error) {
	rows, err := r.conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.StoryRef{}
	for rows.Next() {
		var s domain.StoryRef
		var status string
		if err := rows.Scan(&s.ID, &s.Key, &s.Title, &status, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.Status = domain.StoryStatus(status)
		out = append(out, s)
	}
	return out, rows.Err()
}
