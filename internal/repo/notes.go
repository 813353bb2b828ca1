package repo

import (
	"context"

	"planline/internal/domain"
)

func (r Repo) InsertChangelog(ctx context.Context, storyID, entry, at string) (int64, error) {
	res, err := r.conn().ExecContext(ctx, `INSERT INTO changelog(story_id,entry,created_at) VALUES (?,?,?)`, storyID, entry, at)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) ListChangelog(ctx context.Context, storyID string) ([]domain.ChangelogEntry, error) {
	rows, err := r.conn().QueryContext(ctx, `SELECT id, entry, created_at FROM changelog WHERE story_id=? ORDER BY id`, storyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.ChangelogEntry{}
	for rows.Next() {
		var c domain.ChangelogEntry
		if err := rows.Scan(&c.ID, &c.Entry, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r Repo) InsertStoryFile(ctx context.Context, storyID string, f domain.StoryFile) error {
	_, err := r.conn().ExecContext(ctx, `INSERT INTO story_files(story_id,file_path,change_type,created_at) VALUES (?,?,?,?)`,
		storyID, f.Path, f.ChangeType, f.CreatedAt)
	return err
}

func (r Repo) ListStoryFiles(ctx context.Context, storyID string) ([]domain.StoryFile, error) {
	rows, err := r.conn().QueryContext(ctx, `SELECT file_path, change_type, created_at FROM story_files WHERE story_id=? ORDER BY id`, storyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.StoryFile{}
	for rows.Next() {
		var f domain.StoryFile
		if err := rows.Scan(&f.Path, &f.ChangeType, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
