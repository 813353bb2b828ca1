package repo

import (
	"context"
	"database/sql"
	"fmt"

	"planline/internal/domain"
)

const epicCols = `id,project_id,number,title,description,status,created_at,updated_at`

// EpicID derives the stable id of an epic.
func EpicID(projectID string, number int) string {
	return fmt.Sprintf("%s:epic-%d", projectID, number)
}

func scanEpic(row interface{ Scan(...any) error }) (domain.Epic, error) {
	var e domain.Epic
	var desc sql.NullString
	if err := row.Scan(&e.ID, &e.ProjectID, &e.Number, &e.Title, &desc, &e.Status, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return e, notFound(err)
	}
	e.Description = desc.String
	return e, nil
}

func (r Repo) InsertEpic(ctx context.Context, e domain.Epic) error {
	_, err := r.conn().ExecContext(ctx, `INSERT INTO epics(`+epicCols+`) VALUES (?,?,?,?,?,?,?,?)`,
		e.ID, e.ProjectID, e.Number, e.Title, nullable(e.Description), e.Status, e.CreatedAt, e.UpdatedAt)
	return duplicate(err)
}

// UpdateEpic overwrites the mutable fields of an epic.
func (r Repo) UpdateEpic(ctx context.Context, e domain.Epic) error {
	n, err := affected(r.conn().ExecContext(ctx, `UPDATE epics SET title=?, description=?, status=?, updated_at=? WHERE id=?`,
		e.Title, nullable(e.Description), e.Status, e.UpdatedAt, e.ID))
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetEpic(ctx context.Context, projectID string, number int) (domain.Epic, error) {
	return scanEpic(r.conn().QueryRowContext(ctx, `SELECT `+epicCols+` FROM epics WHERE project_id=? AND number=?`, projectID, number))
}

func (r Repo) GetEpicByID(ctx context.Context, id string) (domain.Epic, error) {
	return scanEpic(r.conn().QueryRowContext(ctx, `SELECT `+epicCols+` FROM epics WHERE id=?`, id))
}

func (r Repo) ListEpics(ctx context.Context, projectID string) ([]domain.Epic, error) {
	rows, err := r.conn().QueryContext(ctx, `SELECT `+epicCols+` FROM epics WHERE project_id=? ORDER BY number`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Epic
	for rows.Next() {
		e, err := scanEpic(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r Repo) DeleteEpic(ctx context.Context, epicID string) error {
	_, err := r.conn().ExecContext(ctx, `DELETE FROM epics WHERE id=?`, epicID)
	return err
}

func (r Repo) InsertEpicChangelog(ctx context.Context, projectID string, number int, entry, at string) (int64, error) {
	res, err := r.conn().ExecContext(ctx, `INSERT INTO epic_changelog(project_id,epic_number,entry,created_at) VALUES (?,?,?,?)`,
		projectID, number, entry, at)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListEpicChangelog returns entries newest first.
func (r Repo) ListEpicChangelog(ctx context.Context, projectID string, number, limit int) ([]domain.EpicChangelogEntry, error) {
	rows, err := r.conn().QueryContext(ctx, `SELECT id, epic_number, entry, created_at FROM epic_changelog
		WHERE project_id=? AND epic_number=? ORDER BY id DESC LIMIT ?`, projectID, number, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.EpicChangelogEntry{}
	for rows.Next() {
		var c domain.EpicChangelogEntry
		if err := rows.Scan(&c.ID, &c.EpicNumber, &c.Entry, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
