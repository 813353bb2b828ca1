package repo

import (
	"context"
	"database/sql"

	"planline/internal/domain"
)

func (r Repo) InsertRootTask(ctx context.Context, storyID string, t domain.RootTask) (int64, error) {
	res, err := r.conn().ExecContext(ctx, `INSERT INTO tasks(story_id,parent_task_id,idx,description,done,is_review_followup,severity,created_at,completed_at)
		VALUES (?,NULL,?,?,?,?,?,?,?)`,
		storyID, t.Idx, t.Description, boolInt(t.Done), boolInt(t.IsReviewFollowup), nullable(t.Severity), t.CreatedAt, nullable(t.CompletedAt))
	if err != nil {
		return 0, duplicate(err)
	}
	return res.LastInsertId()
}

func (r Repo) InsertSubtask(ctx context.Context, storyID string, parentID int64, s domain.Subtask) error {
	_, err := r.conn().ExecContext(ctx, `INSERT INTO tasks(story_id,parent_task_id,idx,description,done,is_review_followup,created_at,completed_at)
		VALUES (?,?,?,?,?,0,?,?)`,
		storyID, parentID, s.Idx, s.Description, boolInt(s.Done), s.CreatedAt, nullable(s.CompletedAt))
	return duplicate(err)
}

// LoadTree returns the root tasks of a story in idx order, each with its subtasks in idx order.
func (r Repo) LoadTree(ctx context.Context, storyID string) ([]domain.RootTask, error) {
	rows, err := r.conn().QueryContext(ctx, `SELECT id, parent_task_id, idx, description, done, is_review_followup,
			COALESCE(severity,''), created_at, COALESCE(completed_at,'')
		FROM tasks WHERE story_id=?
		ORDER BY CASE WHEN parent_task_id IS NULL THEN 0 ELSE 1 END, idx`, storyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	roots := []domain.RootTask{}
	pos := map[int64]int{}
	type pending struct {
		parent int64
		sub    domain.Subtask
	}
	var subs []pending
	for rows.Next() {
		var (
			id       int64
			parent   sql.NullInt64
			idx      int
			desc     string
			done     bool
			followup bool
			severity string
			created  string
			complete string
		)
		if err := rows.Scan(&id, &parent, &idx, &desc, &done, &followup, &severity, &created, &complete); err != nil {
			return nil, err
		}
		if !parent.Valid {
			pos[id] = len(roots)
			roots = append(roots, domain.RootTask{
				ID: id, Idx: idx, Description: desc, Done: done, IsReviewFollowup: followup,
				Severity: severity, CreatedAt: created, CompletedAt: complete, Subtasks: []domain.Subtask{},
			})
			continue
		}
		subs = append(subs, pending{parent: parent.Int64, sub: domain.Subtask{
			ID: id, Idx: idx, Description: desc, Done: done, CreatedAt: created, CompletedAt: complete,
		}})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, p := range subs {
		if i, ok := pos[p.parent]; ok {
			roots[i].Subtasks = append(roots[i].Subtasks, p.sub)
		}
	}
	return roots, nil
}

func (r Repo) GetRootTask(ctx context.Context, storyID string, idx int) (domain.RootTask, error) {
	var t domain.RootTask
	err := r.conn().QueryRowContext(ctx, `SELECT id, idx, description, done, is_review_followup, COALESCE(severity,''),
			created_at, COALESCE(completed_at,'')
		FROM tasks WHERE story_id=? AND parent_task_id IS NULL AND idx=?`, storyID, idx).
		Scan(&t.ID, &t.Idx, &t.Description, &t.Done, &t.IsReviewFollowup, &t.Severity, &t.CreatedAt, &t.CompletedAt)
	return t, notFound(err)
}

func (r Repo) GetSubtask(ctx context.Context, parentID int64, idx int) (domain.Subtask, error) {
	var s domain.Subtask
	err := r.conn().QueryRowContext(ctx, `SELECT id, idx, description, done, created_at, COALESCE(completed_at,'')
		FROM tasks WHERE parent_task_id=? AND idx=?`, parentID, idx).
		Scan(&s.ID, &s.Idx, &s.Description, &s.Done, &s.CreatedAt, &s.CompletedAt)
	return s, notFound(err)
}

// MarkTaskDone sets done and keeps the first completion time.
func (r Repo) MarkTaskDone(ctx context.Context, id int64, at string) error {
	_, err := r.conn().ExecContext(ctx, `UPDATE tasks SET done=1, completed_at=COALESCE(completed_at, ?) WHERE id=?`, at, id)
	return err
}

// CompleteFollowUp marks a review follow-up root task done. It reports false
// when idx is not a follow-up of the story.
func (r Repo) CompleteFollowUp(ctx context.Context, storyID string, idx int, at string) (bool, error) {
	n, err := affected(r.conn().ExecContext(ctx, `UPDATE tasks SET done=1, completed_at=COALESCE(completed_at, ?)
		WHERE story_id=? AND parent_task_id IS NULL AND idx=? AND is_review_followup=1`, at, storyID, idx))
	return n > 0, err
}

func (r Repo) CountTasks(ctx context.Context, storyID string) (int, error) {
	var n int
	err := r.conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE story_id=?`, storyID).Scan(&n)
	return n, err
}

// CountIncompleteTasks counts root tasks and subtasks not yet done.
func (r Repo) CountIncompleteTasks(ctx context.Context, storyID string) (int, error) {
	var n int
	err := r.conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE story_id=? AND done=0`, storyID).Scan(&n)
	return n, err
}

func (r Repo) MaxRootIdx(ctx context.Context, storyID string) (int, error) {
	var n int
	err := r.conn().QueryRowContext(ctx, `SELECT COALESCE(MAX(idx),0) FROM tasks WHERE story_id=? AND parent_task_id IS NULL`, storyID).Scan(&n)
	return n, err
}

// RootProgress counts completed and total root tasks.
func (r Repo) RootProgress(ctx context.Context, storyID string) (domain.Progress, error) {
	var p domain.Progress
	err := r.conn().QueryRowContext(ctx, `SELECT COALESCE(SUM(done),0), COUNT(*) FROM tasks
		WHERE story_id=? AND parent_task_id IS NULL`, storyID).Scan(&p.Done, &p.Total)
	return p, err
}

// NextPendingRoot returns the lowest-idx root task that is not done.
func (r Repo) NextPendingRoot(ctx context.Context, storyID string) (domain.TaskRef, error) {
	var t domain.TaskRef
	err := r.conn().QueryRowContext(ctx, `SELECT idx, description FROM tasks
		WHERE story_id=? AND parent_task_id IS NULL AND done=0 ORDER BY idx LIMIT 1`, storyID).Scan(&t.Idx, &t.Description)
	return t, notFound(err)
}

func (r Repo) DeleteTasks(ctx context.Context, storyID string) error {
	_, err := r.conn().ExecContext(ctx, `DELETE FROM tasks WHERE story_id=?`, storyID)
	return err
}

// MoveRootTask relocates a root task and its subtasks to another story under a new idx.
func (r Repo) MoveRootTask(ctx context.Context, id int64, toStory string, newIdx int) error {
	if _, err := r.conn().ExecContext(ctx, `UPDATE tasks SET story_id=?, idx=? WHERE id=?`, toStory, newIdx, id); err != nil {
		return duplicate(err)
	}
	_, err := r.conn().ExecContext(ctx, `UPDATE tasks SET story_id=? WHERE parent_task_id=?`, toStory, id)
	return err
}

// BacklogItem is an open review follow-up.
type BacklogItem struct {
	StoryID     string `json:"story_id"`
	StoryKey    string `json:"story_key"`
	Idx         int    `json:"idx"`
	Description string `json:"description"`
	Severity    string `json:"severity,omitempty"`
}

func (r Repo) ReviewBacklog(ctx context.Context, projectID string) ([]BacklogItem, error) {
	rows, err := r.conn().QueryContext(ctx, `SELECT s.id, s.key, t.idx, t.description, COALESCE(t.severity,'')
		FROM tasks t JOIN stories s ON s.id = t.story_id
		WHERE s.project_id=? AND t.parent_task_id IS NULL AND t.is_review_followup=1 AND t.done=0
		ORDER BY CASE t.severity WHEN 'high' THEN 0 WHEN 'medium' THEN 1 WHEN 'low' THEN 2 ELSE 3 END, s.key, t.idx`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []BacklogItem{}
	for rows.Next() {
		var b BacklogItem
		if err := rows.Scan(&b.StoryID, &b.StoryKey, &b.Idx, &b.Description, &b.Severity); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
