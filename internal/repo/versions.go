package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"planline/internal/domain"
)

// VersionTable describes one append-only snapshot table and the columns that
// identify the versioned entity.
type VersionTable struct {
	Name    string
	KeyCols []string
}

var (
	EpicVersions  = VersionTable{Name: "epic_versions", KeyCols: []string{"project_id", "epic_number"}}
	StoryVersions = VersionTable{Name: "story_versions", KeyCols: []string{"story_id"}}
	DocVersions   = VersionTable{Name: "planning_doc_versions", KeyCols: []string{"project_id", "type"}}
)

func (t VersionTable) where(key []any) (string, error) {
	if len(key) != len(t.KeyCols) {
		return "", fmt.Errorf("%s: expected %d key values, got %d", t.Name, len(t.KeyCols), len(key))
	}
	parts := make([]string, len(t.KeyCols))
	for i, c := range t.KeyCols {
		parts[i] = c + "=?"
	}
	return strings.Join(parts, " AND "), nil
}

// ListVersions returns snapshot labels for an entity, newest first.
func (r Repo) ListVersions(ctx context.Context, t VersionTable, key ...any) ([]domain.VersionInfo, error) {
	where, err := t.where(key)
	if err != nil {
		return nil, err
	}
	rows, err := r.conn().QueryContext(ctx, `SELECT version, created_at FROM `+t.Name+` WHERE `+where+` ORDER BY id DESC`, key...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.VersionInfo{}
	for rows.Next() {
		var v domain.VersionInfo
		if err := rows.Scan(&v.Version, &v.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r Repo) VersionExists(ctx context.Context, t VersionTable, label string, key ...any) (bool, error) {
	where, err := t.where(key)
	if err != nil {
		return false, err
	}
	var n int
	args := append(append([]any{}, key...), label)
	err = r.conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM `+t.Name+` WHERE `+where+` AND version=?`, args...).Scan(&n)
	return n > 0, err
}

type EpicSnapshot struct {
	Title       string
	Description string
	Status      string
	CreatedAt   string
}

func (r Repo) InsertEpicVersion(ctx context.Context, projectID string, number int, label string, s EpicSnapshot) error {
	_, err := r.conn().ExecContext(ctx, `INSERT INTO epic_versions(project_id,epic_number,version,title,description,status,created_at)
		VALUES (?,?,?,?,?,?,?)`, projectID, number, label, s.Title, nullable(s.Description), s.Status, s.CreatedAt)
	return duplicate(err)
}

func (r Repo) GetEpicVersion(ctx context.Context, projectID string, number int, label string) (EpicSnapshot, error) {
	var s EpicSnapshot
	var desc sql.NullString
	err := r.conn().QueryRowContext(ctx, `SELECT title, description, status, created_at FROM epic_versions
		WHERE project_id=? AND epic_number=? AND version=?`, projectID, number, label).Scan(&s.Title, &desc, &s.Status, &s.CreatedAt)
	s.Description = desc.String
	return s, notFound(err)
}

type StorySnapshot struct {
	Title              string
	Description        string
	Status             string
	EpicID             string
	AcceptanceCriteria []domain.AcceptanceCriterion
	DevNotes           string
	Tasks              []domain.RootTask
	CreatedAt          string
}

func (r Repo) InsertStoryVersion(ctx context.Context, storyID, label string, s StorySnapshot) error {
	ac, err := toJSON(nonNil(s.AcceptanceCriteria))
	if err != nil {
		return err
	}
	tasks := s.Tasks
	if tasks == nil {
		tasks = []domain.RootTask{}
	}
	tj, err := toJSON(tasks)
	if err != nil {
		return err
	}
	_, err = r.conn().ExecContext(ctx, `INSERT INTO story_versions(story_id,version,title,description,status,epic_id,
			acceptance_criteria_json,dev_notes,tasks_snapshot_json,created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		storyID, label, s.Title, nullable(s.Description), s.Status, nullable(s.EpicID), ac, nullable(s.DevNotes), tj, s.CreatedAt)
	return duplicate(err)
}

func (r Repo) GetStoryVersion(ctx context.Context, storyID, label string) (StorySnapshot, error) {
	var s StorySnapshot
	var desc, epic, ac, notes, tasks sql.NullString
	err := r.conn().QueryRowContext(ctx, `SELECT title, description, status, epic_id, acceptance_criteria_json, dev_notes,
			tasks_snapshot_json, created_at
		FROM story_versions WHERE story_id=? AND version=?`, storyID, label).
		Scan(&s.Title, &desc, &s.Status, &epic, &ac, &notes, &tasks, &s.CreatedAt)
	if err != nil {
		return s, notFound(err)
	}
	s.Description, s.EpicID, s.DevNotes = desc.String, epic.String, notes.String
	if s.AcceptanceCriteria, err = fromJSON[[]domain.AcceptanceCriterion](ac); err != nil {
		return s, fmt.Errorf("decode snapshot criteria: %w", err)
	}
	if s.Tasks, err = fromJSON[[]domain.RootTask](tasks); err != nil {
		return s, fmt.Errorf("decode snapshot tasks: %w", err)
	}
	return s, nil
}

type DocSnapshot struct {
	Content   string
	Summary   string
	CreatedAt string
}

func (r Repo) InsertDocVersion(ctx context.Context, projectID, docType, label string, s DocSnapshot) error {
	_, err := r.conn().ExecContext(ctx, `INSERT INTO planning_doc_versions(project_id,type,version,content,summary,created_at)
		VALUES (?,?,?,?,?,?)`, projectID, docType, label, s.Content, nullable(s.Summary), s.CreatedAt)
	return duplicate(err)
}

func (r Repo) GetDocVersion(ctx context.Context, projectID, docType, label string) (DocSnapshot, error) {
	var s DocSnapshot
	var summary sql.NullString
	err := r.conn().QueryRowContext(ctx, `SELECT content, summary, created_at FROM planning_doc_versions
		WHERE project_id=? AND type=? AND version=?`, projectID, docType, label).Scan(&s.Content, &summary, &s.CreatedAt)
	s.Summary = summary.String
	return s, notFound(err)
}
