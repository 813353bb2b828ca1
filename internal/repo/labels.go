package repo

import (
	"context"

	"planline/internal/domain"
)

// ReplaceStoryLabels swaps the label set of a story.
func (r Repo) ReplaceStoryLabels(ctx context.Context, storyID string, labels []string) error {
	if _, err := r.conn().ExecContext(ctx, `DELETE FROM story_labels WHERE story_id=?`, storyID); err != nil {
		return err
	}
	for _, l := range labels {
		if _, err := r.conn().ExecContext(ctx, `INSERT OR IGNORE INTO story_labels(story_id,label) VALUES (?,?)`, storyID, l); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) ListStoryLabels(ctx context.Context, storyID string) ([]string, error) {
	rows, err := r.conn().QueryContext(ctx, `SELECT label FROM story_labels WHERE story_id=? ORDER BY label`, storyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// StoriesByLabel lists labelled stories, most recently updated first.
func (r Repo) StoriesByLabel(ctx context.Context, projectID, label string) ([]domain.StoryRef, error) {
	return r.storyRefs(ctx, `SELECT s.id, s.key, s.title, s.status, s.updated_at
		FROM stories s JOIN story_labels l ON l.story_id=s.id
		WHERE s.project_id=? AND l.label=? ORDER BY s.updated_at DESC, s.key`, projectID, label)
}
