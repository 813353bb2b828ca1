package repo

import (
	"context"
	"database/sql"

	"planline/internal/domain"
)

const planningCols = `id,project_id,type,content,summary,created_at,updated_at`

// PlanningDocID derives the stable id of a planning document.
func PlanningDocID(projectID, docType string) string {
	return projectID + ":" + docType
}

func (r Repo) GetPlanningDoc(ctx context.Context, projectID, docType string) (domain.PlanningDoc, error) {
	var d domain.PlanningDoc
	var summary sql.NullString
	err := r.conn().QueryRowContext(ctx, `SELECT `+planningCols+` FROM planning_docs WHERE project_id=? AND type=?`, projectID, docType).
		Scan(&d.ID, &d.ProjectID, &d.Type, &d.Content, &summary, &d.CreatedAt, &d.UpdatedAt)
	d.Summary = summary.String
	return d, notFound(err)
}

func (r Repo) InsertPlanningDoc(ctx context.Context, d domain.PlanningDoc) error {
	_, err := r.conn().ExecContext(ctx, `INSERT INTO planning_docs(`+planningCols+`) VALUES (?,?,?,?,?,?,?)`,
		d.ID, d.ProjectID, d.Type, d.Content, nullable(d.Summary), d.CreatedAt, d.UpdatedAt)
	return duplicate(err)
}

// UpdatePlanningDocIfToken writes content and summary while updated_at still equals token.
func (r Repo) UpdatePlanningDocIfToken(ctx context.Context, d domain.PlanningDoc, token string) (bool, error) {
	n, err := affected(r.conn().ExecContext(ctx, `UPDATE planning_docs SET content=?, summary=?, updated_at=?
		WHERE id=? AND updated_at=?`, d.Content, nullable(d.Summary), d.UpdatedAt, d.ID, token))
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) ListPlanningDocs(ctx context.Context, projectID string) ([]domain.PlanningDoc, error) {
	rows, err := r.conn().QueryContext(ctx, `SELECT `+planningCols+` FROM planning_docs WHERE project_id=? ORDER BY type`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.PlanningDoc
	for rows.Next() {
		var d domain.PlanningDoc
		var summary sql.NullString
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Type, &d.Content, &summary, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		d.Summary = summary.String
		out = append(out, d)
	}
	return out, rows.Err()
}
