package engine

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"

	"planline/internal/apperr"
	"planline/internal/domain"
	"planline/internal/events"
	"planline/internal/repo"
)

func validateTaskSpecs(specs []domain.TaskSpec) error {
	for i, t := range specs {
		if strings.TrimSpace(t.Description) == "" {
			return apperr.InvalidArgument("task %d has an empty description", i+1)
		}
		for j, st := range t.Subtasks {
			if strings.TrimSpace(st) == "" {
				return apperr.InvalidArgument("subtask %d.%d has an empty description", i+1, j+1)
			}
		}
	}
	return nil
}

// insertTree numbers roots 1..n and each root's subtasks 1..m.
func (e Engine) insertTree(ctx context.Context, r repo.Repo, storyID string, specs []domain.TaskSpec) error {
	now := e.stamp()
	for i, t := range specs {
		id, err := r.InsertRootTask(ctx, storyID, domain.RootTask{Idx: i + 1, Description: t.Description, CreatedAt: now})
		if err != nil {
			return err
		}
		for j, st := range t.Subtasks {
			if err := r.InsertSubtask(ctx, storyID, id, domain.Subtask{Idx: j + 1, Description: st, CreatedAt: now}); err != nil {
				return err
			}
		}
	}
	return nil
}

// restoreTree writes a previously captured tree verbatim, keeping idx,
// done flags and timestamps.
func restoreTree(ctx context.Context, r repo.Repo, storyID string, roots []domain.RootTask) error {
	for _, t := range roots {
		id, err := r.InsertRootTask(ctx, storyID, t)
		if err != nil {
			return err
		}
		for _, st := range t.Subtasks {
			if err := r.InsertSubtask(ctx, storyID, id, st); err != nil {
				return err
			}
		}
	}
	return nil
}

func nextTask(ctx context.Context, r repo.Repo, storyID string) (*domain.TaskRef, error) {
	t, err := r.NextPendingRoot(ctx, storyID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTasks builds the task tree of a story that has none yet.
func (e Engine) CreateTasks(ctx context.Context, storyID string, specs []domain.TaskSpec, actor string) ([]domain.RootTask, error) {
	if err := validateTaskSpecs(specs); err != nil {
		return nil, err
	}
	var out []domain.RootTask
	err := e.tx(ctx, func(tx *sql.Tx) error {
		r := e.Repo.WithTx(tx)
		s, err := e.loadStory(ctx, r, storyID)
		if err != nil {
			return err
		}
		n, err := r.CountTasks(ctx, storyID)
		if err != nil {
			return err
		}
		if n > 0 {
			return apperr.InvalidState("story %s already has %d tasks", storyID, n)
		}
		if err := e.insertTree(ctx, r, storyID, specs); err != nil {
			return err
		}
		if err := e.record(ctx, tx, events.Entry{Type: "tasks.created", ProjectID: s.ProjectID, EntityKind: "story", EntityID: storyID, ActorID: actor},
			events.EventPayload{"count": len(specs)}); err != nil {
			return err
		}
		out, err = r.LoadTree(ctx, storyID)
		return err
	})
	return out, err
}

type CompleteTaskOptions struct {
	StoryID string
	TaskIdx int
	// SubtaskIdx of 0 completes the root task itself.
	SubtaskIdx int
	Note       string
	Actor      string
}

type CompleteResult struct {
	StoryID      string          `json:"story_id"`
	Progress     domain.Progress `json:"story_progress"`
	NextTask     *domain.TaskRef `json:"next_task"`
	AllTasksDone bool            `json:"all_tasks_done"`
}

// CompleteTask marks a root task or one of its subtasks done. Progress counts
// root tasks only.
func (e Engine) CompleteTask(ctx context.Context, opts CompleteTaskOptions) (CompleteResult, error) {
	if opts.TaskIdx <= 0 || opts.SubtaskIdx < 0 {
		return CompleteResult{}, apperr.InvalidArgument("task indices are 1-based")
	}
	var out CompleteResult
	err := e.tx(ctx, func(tx *sql.Tx) error {
		r := e.Repo.WithTx(tx)
		s, err := e.loadStory(ctx, r, opts.StoryID)
		if err != nil {
			return err
		}
		root, err := e.loadRootTask(ctx, r, opts.StoryID, opts.TaskIdx)
		if err != nil {
			return err
		}
		now := e.stamp()
		target := root.ID
		if opts.SubtaskIdx > 0 {
			sub, err := r.GetSubtask(ctx, root.ID, opts.SubtaskIdx)
			if errors.Is(err, repo.ErrNotFound) {
				ise := apperr.InvalidState("task %d of story %s has no subtask %d", opts.TaskIdx, opts.StoryID, opts.SubtaskIdx)
				ise.Details = map[string]any{"task_idx": opts.TaskIdx, "subtask_idx": opts.SubtaskIdx}
				return ise
			}
			if err != nil {
				return err
			}
			target = sub.ID
		}
		if err := r.MarkTaskDone(ctx, target, now); err != nil {
			return err
		}
		if opts.Note != "" {
			if _, err := r.InsertChangelog(ctx, opts.StoryID, opts.Note, now); err != nil {
				return err
			}
		}
		if out.Progress, err = r.RootProgress(ctx, opts.StoryID); err != nil {
			return err
		}
		if out.NextTask, err = nextTask(ctx, r, opts.StoryID); err != nil {
			return err
		}
		out.StoryID = opts.StoryID
		out.AllTasksDone = out.Progress.Done == out.Progress.Total
		return e.record(ctx, tx, events.Entry{Type: "task.completed", ProjectID: s.ProjectID, EntityKind: "story", EntityID: opts.StoryID, ActorID: opts.Actor},
			events.EventPayload{"task_idx": opts.TaskIdx, "subtask_idx": opts.SubtaskIdx, "done": out.Progress.Done, "total": out.Progress.Total})
	})
	return out, err
}

var severities = map[string]bool{"high": true, "medium": true, "low": true}

// AddFollowUpTasks appends review follow-up root tasks after the current last idx.
func (e Engine) AddFollowUpTasks(ctx context.Context, storyID string, items []domain.FollowUp, actor string) ([]int, error) {
	if len(items) == 0 {
		return nil, apperr.InvalidArgument("at least one follow-up task is required")
	}
	for _, it := range items {
		if err := required("description", it.Description); err != nil {
			return nil, err
		}
		if it.Severity != "" && !severities[it.Severity] {
			return nil, apperr.InvalidArgument("invalid severity %q", it.Severity)
		}
	}
	var added []int
	err := e.tx(ctx, func(tx *sql.Tx) error {
		added = added[:0]
		r := e.Repo.WithTx(tx)
		s, err := e.loadStory(ctx, r, storyID)
		if err != nil {
			return err
		}
		last, err := r.MaxRootIdx(ctx, storyID)
		if err != nil {
			return err
		}
		now := e.stamp()
		for i, it := range items {
			idx := last + i + 1
			if _, err := r.InsertRootTask(ctx, storyID, domain.RootTask{
				Idx: idx, Description: it.Description, IsReviewFollowup: true, Severity: it.Severity, CreatedAt: now,
			}); err != nil {
				return err
			}
			added = append(added, idx)
		}
		return e.record(ctx, tx, events.Entry{Type: "tasks.followups_added", ProjectID: s.ProjectID, EntityKind: "story", EntityID: storyID, ActorID: actor},
			events.EventPayload{"idx": added})
	})
	return added, err
}

func (e Engine) ReviewBacklog(ctx context.Context, projectID string) ([]repo.BacklogItem, error) {
	if _, err := e.loadProject(ctx, e.Repo, projectID); err != nil {
		return nil, err
	}
	return e.Repo.ReviewBacklog(ctx, projectID)
}

// Move records where a relocated root task ended up.
type Move struct {
	From int `json:"from"`
	To   int `json:"to"`
}

type SplitStoryOptions struct {
	StoryID     string
	NewKey      string
	Title       string
	Description string
	TaskIdxs    []int
	Actor       string
}

type SplitResult struct {
	StoryID    string `json:"story_id"`
	NewStoryID string `json:"new_story_id"`
	Moved      []Move `json:"moved"`
}

// SplitStory moves the selected root tasks, with their subtasks, into a new
// story in the same project and epic.
func (e Engine) SplitStory(ctx context.Context, opts SplitStoryOptions) (SplitResult, error) {
	if err := required("new_key", opts.NewKey); err != nil {
		return SplitResult{}, err
	}
	if err := required("title", opts.Title); err != nil {
		return SplitResult{}, err
	}
	idxs, err := normalizeIdxs(opts.TaskIdxs)
	if err != nil {
		return SplitResult{}, err
	}
	if len(idxs) == 0 {
		return SplitResult{}, apperr.InvalidArgument("task_idxs must not be empty")
	}
	var out SplitResult
	err = e.tx(ctx, func(tx *sql.Tx) error {
		r := e.Repo.WithTx(tx)
		src, err := e.loadStory(ctx, r, opts.StoryID)
		if err != nil {
			return err
		}
		now := e.stamp()
		dst := domain.Story{
			ID:                 repo.StoryID(src.ProjectID, opts.NewKey),
			ProjectID:          src.ProjectID,
			EpicID:             src.EpicID,
			Key:                opts.NewKey,
			Title:              opts.Title,
			Description:        opts.Description,
			Status:             domain.StoryDraft,
			AcceptanceCriteria: []domain.AcceptanceCriterion{},
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := r.InsertStory(ctx, dst); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return apperr.Conflict(map[string]any{"story_id": dst.ID}, "story %s already exists", dst.ID)
			}
			return err
		}
		moved, err := e.moveTasks(ctx, r, src.ID, dst.ID, idxs)
		if err != nil {
			return err
		}
		out = SplitResult{StoryID: src.ID, NewStoryID: dst.ID, Moved: moved}
		return e.record(ctx, tx, events.Entry{Type: "story.split", ProjectID: src.ProjectID, EntityKind: "story", EntityID: src.ID, ActorID: opts.Actor},
			events.EventPayload{"new_story_id": dst.ID, "moved": moved})
	})
	return out, err
}

type MergeStoriesOptions struct {
	TargetStoryID string
	SourceStoryID string
	// TaskIdxs selects source root tasks; empty moves all of them.
	TaskIdxs     []int
	DeleteSource bool
	Actor        string
}

type MergeResult struct {
	TargetStoryID string `json:"target_story_id"`
	SourceStoryID string `json:"source_story_id"`
	Moved         []Move `json:"moved"`
	SourceDeleted bool   `json:"source_deleted"`
}

// MergeStories moves root tasks, with their subtasks, from source to target
// and optionally deletes the source story.
func (e Engine) MergeStories(ctx context.Context, opts MergeStoriesOptions) (MergeResult, error) {
	if opts.TargetStoryID == opts.SourceStoryID {
		return MergeResult{}, apperr.InvalidArgument("cannot merge a story into itself")
	}
	idxs, err := normalizeIdxs(opts.TaskIdxs)
	if err != nil {
		return MergeResult{}, err
	}
	var out MergeResult
	err = e.tx(ctx, func(tx *sql.Tx) error {
		r := e.Repo.WithTx(tx)
		dst, err := e.loadStory(ctx, r, opts.TargetStoryID)
		if err != nil {
			return err
		}
		src, err := e.loadStory(ctx, r, opts.SourceStoryID)
		if err != nil {
			return err
		}
		if src.ProjectID != dst.ProjectID {
			return apperr.InvalidArgument("stories %s and %s belong to different projects", src.ID, dst.ID)
		}
		selected := idxs
		if len(selected) == 0 {
			tree, err := r.LoadTree(ctx, src.ID)
			if err != nil {
				return err
			}
			for _, t := range tree {
				selected = append(selected, t.Idx)
			}
		}
		moved, err := e.moveTasks(ctx, r, src.ID, dst.ID, selected)
		if err != nil {
			return err
		}
		if opts.DeleteSource {
			if err := r.DeleteStory(ctx, src.ID); err != nil {
				return err
			}
		}
		out = MergeResult{TargetStoryID: dst.ID, SourceStoryID: src.ID, Moved: moved, SourceDeleted: opts.DeleteSource}
		return e.record(ctx, tx, events.Entry{Type: "story.merged", ProjectID: dst.ProjectID, EntityKind: "story", EntityID: dst.ID, ActorID: opts.Actor},
			events.EventPayload{"source_story_id": src.ID, "moved": moved, "source_deleted": opts.DeleteSource})
	})
	return out, err
}

// moveTasks relocates root tasks in ascending idx order, numbering them after
// the destination's current maximum. Leases on the moved source indices are dropped.
func (e Engine) moveTasks(ctx context.Context, r repo.Repo, srcID, dstID string, idxs []int) ([]Move, error) {
	roots := make([]domain.RootTask, 0, len(idxs))
	for _, idx := range idxs {
		t, err := e.loadRootTask(ctx, r, srcID, idx)
		if err != nil {
			return nil, err
		}
		roots = append(roots, t)
	}
	last, err := r.MaxRootIdx(ctx, dstID)
	if err != nil {
		return nil, err
	}
	moved := make([]Move, 0, len(roots))
	for i, t := range roots {
		to := last + i + 1
		if err := r.MoveRootTask(ctx, t.ID, dstID, to); err != nil {
			return nil, err
		}
		moved = append(moved, Move{From: t.Idx, To: to})
	}
	if err := r.DeleteReservationsFor(ctx, srcID, idxs); err != nil {
		return nil, err
	}
	return moved, nil
}

func normalizeIdxs(in []int) ([]int, error) {
	seen := map[int]bool{}
	out := make([]int, 0, len(in))
	for _, idx := range in {
		if idx <= 0 {
			return nil, apperr.InvalidArgument("task idx %d is not 1-based", idx)
		}
		if seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, idx)
	}
	sort.Ints(out)
	return out, nil
}
