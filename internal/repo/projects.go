package repo

import (
	"context"
	"database/sql"
	"fmt"

	"planline/internal/domain"
)

const projectCols = `id,name,root_path,config_json,created_at,updated_at`

func scanProject(row interface{ Scan(...any) error }) (domain.Project, error) {
	var p domain.Project
	var root, cfg sql.NullString
	if err := row.Scan(&p.ID, &p.Name, &root, &cfg, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return p, notFound(err)
	}
	p.RootPath = root.String
	m, err := fromJSON[map[string]any](cfg)
	if err != nil {
		return p, fmt.Errorf("decode project config: %w", err)
	}
	p.Config = m
	return p, nil
}

// UpsertProject inserts the project or refreshes name, root path and config.
func (r Repo) UpsertProject(ctx context.Context, p domain.Project) error {
	var cfg any
	if p.Config != nil {
		s, err := toJSON(p.Config)
		if err != nil {
			return err
		}
		cfg = s
	}
	_, err := r.conn().ExecContext(ctx, `INSERT INTO projects(`+projectCols+`) VALUES (?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, root_path=excluded.root_path,
			config_json=COALESCE(excluded.config_json, projects.config_json), updated_at=excluded.updated_at`,
		p.ID, p.Name, nullable(p.RootPath), cfg, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(r.conn().QueryRowContext(ctx, `SELECT `+projectCols+` FROM projects WHERE id=?`, id))
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.conn().QueryContext(ctx, `SELECT `+projectCols+` FROM projects ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SingleProject returns the only project, or ErrNotFound when there are zero or several.
func (r Repo) SingleProject(ctx context.Context) (domain.Project, error) {
	items, err := r.ListProjects(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	if len(items) != 1 {
		return domain.Project{}, ErrNotFound
	}
	return items[0], nil
}
