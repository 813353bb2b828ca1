package tools

import (
	"context"

	"planline/internal/apperr"
	"planline/internal/domain"
	"planline/internal/engine"
	"planline/internal/repo"
)

type projectArgs struct {
	ProjectID string `json:"project_id" validate:"required"`
}

type storyArgs struct {
	StoryID string `json:"story_id" validate:"required"`
}

type registerProjectArgs struct {
	ProjectID string         `json:"project_id" validate:"required"`
	Name      string         `json:"name,omitempty"`
	RootPath  string         `json:"root_path,omitempty"`
	Config    map[string]any `json:"config,omitempty"`
}

type epicArgs struct {
	ProjectID  string `json:"project_id" validate:"required"`
	EpicNumber int    `json:"epic_number" validate:"gt=0"`
}

type upsertEpicArgs struct {
	ProjectID   string  `json:"project_id" validate:"required"`
	EpicNumber  int     `json:"epic_number" validate:"gt=0"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty"`
}

type createStoryArgs struct {
	ProjectID          string            `json:"project_id" validate:"required"`
	EpicNumber         int               `json:"epic_number,omitempty" validate:"gte=0"`
	Key                string            `json:"key" validate:"required" jsonschema_description:"Story key unique within the project such as 1-2"`
	Title              string            `json:"title" validate:"required"`
	Description        string            `json:"description,omitempty"`
	AcceptanceCriteria []criterionArg     `json:"acceptance_criteria,omitempty" validate:"omitempty,dive"`
	DevNotes           string            `json:"dev_notes,omitempty"`
	Status             string            `json:"status,omitempty" validate:"omitempty,oneof=draft ready-for-dev in-progress review done blocked"`
	Tasks              []domain.TaskSpec `json:"tasks,omitempty"`
}

type nextStoryArgs struct {
	ProjectID string `json:"project_id" validate:"required"`
	Status    string `json:"status,omitempty" validate:"omitempty,oneof=draft ready-for-dev in-progress review done blocked"`
}

type listStoriesArgs struct {
	ProjectID  string `json:"project_id" validate:"required"`
	EpicNumber int    `json:"epic_number,omitempty" validate:"gte=0"`
	Status     string `json:"status,omitempty" validate:"omitempty,oneof=draft ready-for-dev in-progress review done blocked"`
	Limit      int    `json:"limit,omitempty" validate:"gte=0,lte=1000"`
}

type updateStoryArgs struct {
	StoryID            string         `json:"story_id" validate:"required"`
	Title              *string        `json:"title,omitempty"`
	Description        *string        `json:"description,omitempty"`
	Status             *string        `json:"status,omitempty" validate:"omitempty,oneof=draft ready-for-dev in-progress review done blocked"`
	EpicNumber         *int           `json:"epic_number,omitempty"`
	AcceptanceCriteria []criterionArg `json:"acceptance_criteria,omitempty" validate:"omitempty,dive"`
	DevNotes           *string        `json:"dev_notes,omitempty"`
	ExpectedUpdatedAt  string         `json:"expected_updated_at,omitempty" jsonschema_description:"Version token from the last read; the write is rejected if the story changed since"`
}

type updateStatusArgs struct {
	StoryID           string `json:"story_id" validate:"required"`
	Status            string `json:"status" validate:"required,oneof=draft ready-for-dev in-progress review done blocked"`
	Reason            string `json:"reason,omitempty"`
	ExpectedUpdatedAt string `json:"expected_updated_at,omitempty"`
}

type criterionArg struct {
	Criterion string `json:"criterion" validate:"required"`
	Met       bool   `json:"met,omitempty"`
}

func criteria(in []criterionArg) []domain.AcceptanceCriterion {
	if in == nil {
		return nil
	}
	out := make([]domain.AcceptanceCriterion, 0, len(in))
	for _, c := range in {
		out = append(out, domain.AcceptanceCriterion{Criterion: c.Criterion, Met: c.Met})
	}
	return out
}

type updateCriteriaArgs struct {
	StoryID           string         `json:"story_id" validate:"required"`
	Criteria          []criterionArg `json:"acceptance_criteria" validate:"required,dive"`
	ExpectedUpdatedAt string         `json:"expected_updated_at,omitempty"`
}

type devNoteArgs struct {
	StoryID           string `json:"story_id" validate:"required"`
	Note              string `json:"note" validate:"required"`
	Section           string `json:"section,omitempty" validate:"omitempty,oneof=implementation decisions issues general"`
	ExpectedUpdatedAt string `json:"expected_updated_at,omitempty"`
}

type deleteStoryArgs struct {
	StoryID string `json:"story_id" validate:"required"`
	Force   bool   `json:"force,omitempty"`
}

type createTasksArgs struct {
	StoryID string            `json:"story_id" validate:"required"`
	Tasks   []domain.TaskSpec `json:"tasks" validate:"required,min=1"`
}

type completeTaskArgs struct {
	StoryID    string `json:"story_id" validate:"required"`
	TaskIdx    int    `json:"task_idx" validate:"gt=0"`
	SubtaskIdx int    `json:"subtask_idx,omitempty" validate:"gte=0"`
	Note       string `json:"note,omitempty"`
}

type reviewTasksArgs struct {
	StoryID string            `json:"story_id" validate:"required"`
	Tasks   []domain.FollowUp `json:"tasks" validate:"required,min=1"`
}

type splitStoryArgs struct {
	StoryID     string `json:"story_id" validate:"required"`
	NewKey      string `json:"new_key" validate:"required"`
	Title       string `json:"title" validate:"required"`
	Description string `json:"description,omitempty"`
	TaskIdxs    []int  `json:"task_idxs" validate:"required,min=1,dive,gt=0"`
}

type mergeStoriesArgs struct {
	TargetStoryID string `json:"target_story_id" validate:"required"`
	SourceStoryID string `json:"source_story_id" validate:"required"`
	TaskIdxs      []int  `json:"task_idxs,omitempty" validate:"omitempty,dive,gt=0"`
	DeleteSource  *bool  `json:"delete_source,omitempty" jsonschema:"default=true" jsonschema_description:"Delete the source story after the move; defaults to true"`
}

type fileArg struct {
	Path       string `json:"path" validate:"required"`
	ChangeType string `json:"change_type,omitempty" validate:"omitempty,oneof=added modified deleted"`
}

type registerFilesArgs struct {
	StoryID string    `json:"story_id" validate:"required"`
	Files   []fileArg `json:"files" validate:"required,min=1,dive"`
}

type changelogArgs struct {
	StoryID string `json:"story_id" validate:"required"`
	Entry   string `json:"entry" validate:"required"`
}

type reserveArgs struct {
	StoryID    string `json:"story_id" validate:"required"`
	TaskIdx    int    `json:"task_idx" validate:"gt=0"`
	Agent      string `json:"agent" validate:"required"`
	TTLSeconds int    `json:"ttl_seconds,omitempty" validate:"gte=0" jsonschema_description:"Lease duration; omitted or 0 uses the configured default"`
}

type releaseArgs struct {
	StoryID string `json:"story_id" validate:"required"`
	TaskIdx int    `json:"task_idx" validate:"gt=0"`
	Agent   string `json:"agent" validate:"required"`
}

type reservationsArgs struct {
	ProjectID string `json:"project_id,omitempty"`
	StoryID   string `json:"story_id,omitempty"`
	Agent     string `json:"agent,omitempty"`
}

type getDocArgs struct {
	ProjectID string `json:"project_id" validate:"required"`
	Type      string `json:"type" validate:"required"`
	Format    string `json:"format,omitempty" validate:"omitempty,oneof=full summary"`
}

type updateDocArgs struct {
	ProjectID         string `json:"project_id" validate:"required"`
	Type              string `json:"type" validate:"required"`
	Content           string `json:"content"`
	GenerateSummary   bool   `json:"generate_summary,omitempty"`
	ExpectedUpdatedAt string `json:"expected_updated_at,omitempty"`
}

type epicVersionArgs struct {
	ProjectID  string `json:"project_id" validate:"required"`
	EpicNumber int    `json:"epic_number" validate:"gt=0"`
	Version    string `json:"version" validate:"required"`
}

type storyVersionArgs struct {
	StoryID string `json:"story_id" validate:"required"`
	Version string `json:"version" validate:"required"`
}

type docVersionArgs struct {
	ProjectID string `json:"project_id" validate:"required"`
	Type      string `json:"type" validate:"required"`
	Version   string `json:"version" validate:"required"`
}

type docKeyArgs struct {
	ProjectID string `json:"project_id" validate:"required"`
	Type      string `json:"type" validate:"required"`
}

type logActionArgs struct {
	ProjectID string `json:"project_id" validate:"required"`
	StoryID   string `json:"story_id,omitempty"`
	Type      string `json:"type" validate:"required"`
	Content   string `json:"content" validate:"required"`
}

type listEventsArgs struct {
	ProjectID  string `json:"project_id,omitempty"`
	Type       string `json:"type,omitempty"`
	EntityKind string `json:"entity_kind,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`
	BeforeID   int64  `json:"before_id,omitempty" validate:"gte=0"`
	Limit      int    `json:"limit,omitempty" validate:"gte=0,lte=500"`
}

type currentSprintArgs struct {
	ProjectID     string `json:"project_id" validate:"required"`
	CurrentSprint string `json:"current_sprint,omitempty" jsonschema_description:"Sprint label; empty clears the current sprint"`
}

type storySprintArgs struct {
	StoryID     string `json:"story_id" validate:"required"`
	SprintLabel string `json:"sprint_label,omitempty" jsonschema_description:"Sprint label; empty removes the assignment"`
}

type sprintStoriesArgs struct {
	ProjectID   string `json:"project_id" validate:"required"`
	SprintLabel string `json:"sprint_label" validate:"required"`
}

type storyLabelsArgs struct {
	StoryID string   `json:"story_id" validate:"required"`
	Labels  []string `json:"labels" validate:"dive,required"`
}

type labelSearchArgs struct {
	ProjectID string `json:"project_id" validate:"required"`
	Label     string `json:"label" validate:"required"`
}

type reviewItemArgs struct {
	StoryID string `json:"story_id" validate:"required"`
	Idx     int    `json:"idx" validate:"gt=0"`
}

type bulkReviewArgs struct {
	StoryID string `json:"story_id" validate:"required"`
	Indices []int  `json:"indices" validate:"required,min=1,dive,gt=0"`
}

type deleteEpicArgs struct {
	ProjectID  string `json:"project_id" validate:"required"`
	EpicNumber int    `json:"epic_number" validate:"gt=0"`
	Force      bool   `json:"force,omitempty" jsonschema_description:"Detach the epic's stories and delete it anyway"`
}

type epicChangelogArgs struct {
	ProjectID  string `json:"project_id" validate:"required"`
	EpicNumber int    `json:"epic_number" validate:"gt=0"`
	Entry      string `json:"entry" validate:"required"`
}

type epicChangelogListArgs struct {
	ProjectID  string `json:"project_id" validate:"required"`
	EpicNumber int    `json:"epic_number" validate:"gt=0"`
	Limit      int    `json:"limit,omitempty" validate:"gte=0,lte=1000"`
}

type startReviewArgs struct {
	ProjectID string `json:"project_id" validate:"required"`
	StoryID   string `json:"story_id,omitempty"`
	Reviewer  string `json:"reviewer,omitempty"`
}

type sessionArgs struct {
	SessionID string `json:"session_id" validate:"required"`
}

type addFindingArgs struct {
	SessionID   string `json:"session_id" validate:"required"`
	Severity    string `json:"severity,omitempty" validate:"omitempty,oneof=high medium low"`
	Description string `json:"description" validate:"required"`
	File        string `json:"file,omitempty"`
	Line        int    `json:"line,omitempty" validate:"gte=0"`
}

type updateFindingArgs struct {
	SessionID string `json:"session_id" validate:"required"`
	Idx       int    `json:"idx" validate:"gt=0"`
	Status    string `json:"status" validate:"required,oneof=open fixed wont-fix duplicate"`
}

type closeReviewArgs struct {
	SessionID string `json:"session_id" validate:"required"`
	Outcome   string `json:"outcome,omitempty" validate:"omitempty,oneof=closed approved rejected"`
}

type rejectReviewArgs struct {
	SessionID string `json:"session_id" validate:"required"`
	Reason    string `json:"reason,omitempty"`
}

type listReviewsArgs struct {
	ProjectID string `json:"project_id" validate:"required"`
	StoryID   string `json:"story_id,omitempty"`
	Limit     int    `json:"limit,omitempty" validate:"gte=0,lte=500"`
}

func statusPtr(s *string) *domain.StoryStatus {
	if s == nil {
		return nil
	}
	st := domain.StoryStatus(*s)
	return &st
}

func registerCatalog(r *Registry) {
	registerProjectTools(r)
	registerStoryTools(r)
	registerTaskTools(r)
	registerLeaseTools(r)
	registerDocTools(r)
	registerVersionTools(r)
	registerActivityTools(r)
	registerSprintTools(r)
	registerReviewTools(r)
}

func registerProjectTools(r *Registry) {
	add(r, "register_project", "Register a project or update its name, root path and config.",
		func(ctx context.Context, e engine.Engine, a registerProjectArgs) (any, error) {
			p, created, err := e.RegisterProject(ctx, engine.RegisterProjectOptions{
				ID: a.ProjectID, Name: a.Name, RootPath: a.RootPath, Config: a.Config, Actor: ActorFrom(ctx),
			})
			return Result{"project": p, "created": created}, err
		})
	add(r, "get_project_context", "Project overview: epics, story counts by status, planning docs, live reservations and recent activity.",
		func(ctx context.Context, e engine.Engine, a projectArgs) (any, error) {
			return e.GetProjectContext(ctx, a.ProjectID)
		})
	add(r, "list_projects", "List registered projects.",
		func(ctx context.Context, e engine.Engine, _ struct{}) (any, error) {
			items, err := e.ListProjects(ctx)
			return Result{"projects": items}, err
		})
	add(r, "get_sprint_status", "Epics with their stories and progress plus story counts by status.",
		func(ctx context.Context, e engine.Engine, a projectArgs) (any, error) {
			return e.GetSprintStatus(ctx, a.ProjectID)
		})
	add(r, "upsert_epic", "Create an epic or update only the fields given.",
		func(ctx context.Context, e engine.Engine, a upsertEpicArgs) (any, error) {
			ep, err := e.UpsertEpic(ctx, engine.UpsertEpicOptions{
				ProjectID: a.ProjectID, Number: a.EpicNumber, Title: a.Title, Description: a.Description, Status: a.Status, Actor: ActorFrom(ctx),
			})
			return Result{"epic": ep}, err
		})
	add(r, "get_epic", "Read one epic.",
		func(ctx context.Context, e engine.Engine, a epicArgs) (any, error) {
			ep, err := e.GetEpic(ctx, a.ProjectID, a.EpicNumber)
			return Result{"epic": ep}, err
		})
	add(r, "list_epics", "List the epics of a project.",
		func(ctx context.Context, e engine.Engine, a projectArgs) (any, error) {
			items, err := e.ListEpics(ctx, a.ProjectID)
			return Result{"epics": items}, err
		})
	add(r, "delete_epic", "Delete an epic. An epic with stories needs force, which leaves the stories without an epic.",
		func(ctx context.Context, e engine.Engine, a deleteEpicArgs) (any, error) {
			deleted, err := e.DeleteEpic(ctx, a.ProjectID, a.EpicNumber, a.Force, ActorFrom(ctx))
			return Result{"deleted": deleted}, err
		})
	add(r, "add_epic_changelog", "Append an entry to an epic changelog.",
		func(ctx context.Context, e engine.Engine, a epicChangelogArgs) (any, error) {
			id, err := e.AddEpicChangelog(ctx, a.ProjectID, a.EpicNumber, a.Entry, ActorFrom(ctx))
			return Result{"entry_id": id}, err
		})
	add(r, "get_epic_changelog", "Epic changelog entries, newest first.",
		func(ctx context.Context, e engine.Engine, a epicChangelogListArgs) (any, error) {
			items, err := e.GetEpicChangelog(ctx, a.ProjectID, a.EpicNumber, a.Limit)
			return Result{"entries": items}, err
		})
}

func registerStoryTools(r *Registry) {
	add(r, "create_story", "Create a story with an optional task tree. A missing epic is created as a placeholder.",
		func(ctx context.Context, e engine.Engine, a createStoryArgs) (any, error) {
			s, err := e.CreateStory(ctx, engine.CreateStoryOptions{
				ProjectID:          a.ProjectID,
				EpicNumber:         a.EpicNumber,
				Key:                a.Key,
				Title:              a.Title,
				Description:        a.Description,
				AcceptanceCriteria: criteria(a.AcceptanceCriteria),
				DevNotes:           a.DevNotes,
				Status:             domain.StoryStatus(a.Status),
				Tasks:              a.Tasks,
				Actor:              ActorFrom(ctx),
			})
			return Result{"story": s}, err
		})
	add(r, "get_story_context", "Full story: fields, version token, task tree, progress, files, changelog and reservations.",
		func(ctx context.Context, e engine.Engine, a storyArgs) (any, error) {
			return e.GetStoryContext(ctx, a.StoryID)
		})
	add(r, "get_story_summary", "Story status, progress and the next pending task.",
		func(ctx context.Context, e engine.Engine, a storyArgs) (any, error) {
			return e.GetStorySummary(ctx, a.StoryID)
		})
	add(r, "get_next_story", "Least recently updated story with the given status (ready-for-dev by default).",
		func(ctx context.Context, e engine.Engine, a nextStoryArgs) (any, error) {
			s, found, err := e.NextStory(ctx, a.ProjectID, domain.StoryStatus(a.Status))
			if err != nil || !found {
				return Result{"found": false}, err
			}
			return Result{"found": true, "story": s}, nil
		})
	add(r, "list_stories", "List stories filtered by epic and status.",
		func(ctx context.Context, e engine.Engine, a listStoriesArgs) (any, error) {
			f := repo.StoryFilters{ProjectID: a.ProjectID, Status: a.Status, Limit: a.Limit}
			if a.EpicNumber > 0 {
				f.EpicID = repo.EpicID(a.ProjectID, a.EpicNumber)
			}
			items, err := e.ListStories(ctx, f)
			return Result{"stories": items}, err
		})
	add(r, "update_story", "Change story fields. With expected_updated_at the write fails with a conflict if the story changed since it was read.",
		func(ctx context.Context, e engine.Engine, a updateStoryArgs) (any, error) {
			return e.UpdateStory(ctx, engine.StoryUpdate{
				StoryID:            a.StoryID,
				Title:              a.Title,
				Description:        a.Description,
				Status:             statusPtr(a.Status),
				EpicNumber:         a.EpicNumber,
				AcceptanceCriteria: criteria(a.AcceptanceCriteria),
				DevNotes:           a.DevNotes,
				ExpectedUpdatedAt:  a.ExpectedUpdatedAt,
				Actor:              ActorFrom(ctx),
			})
		})
	add(r, "update_story_status", "Move a story to another status.",
		func(ctx context.Context, e engine.Engine, a updateStatusArgs) (any, error) {
			return e.UpdateStoryStatus(ctx, a.StoryID, domain.StoryStatus(a.Status), a.Reason, a.ExpectedUpdatedAt, ActorFrom(ctx))
		})
	add(r, "update_acceptance_criteria", "Replace the acceptance criteria of a story. Each criterion carries a met flag.",
		func(ctx context.Context, e engine.Engine, a updateCriteriaArgs) (any, error) {
			return e.UpdateAcceptanceCriteria(ctx, a.StoryID, criteria(a.Criteria), a.ExpectedUpdatedAt, ActorFrom(ctx))
		})
	add(r, "add_dev_note", "Append a note to the story dev notes, optionally under a section heading.",
		func(ctx context.Context, e engine.Engine, a devNoteArgs) (any, error) {
			return e.AddDevNote(ctx, a.StoryID, a.Note, a.Section, a.ExpectedUpdatedAt, ActorFrom(ctx))
		})
	add(r, "delete_story", "Delete a story with its tasks, files, changelog, reservations and versions. Incomplete tasks require force.",
		func(ctx context.Context, e engine.Engine, a deleteStoryArgs) (any, error) {
			err := e.DeleteStory(ctx, a.StoryID, a.Force, ActorFrom(ctx))
			return Result{"story_id": a.StoryID, "deleted": err == nil}, err
		})
	add(r, "register_files", "Record files added, modified or deleted while implementing a story.",
		func(ctx context.Context, e engine.Engine, a registerFilesArgs) (any, error) {
			files := make([]domain.StoryFile, 0, len(a.Files))
			for _, f := range a.Files {
				files = append(files, domain.StoryFile{Path: f.Path, ChangeType: f.ChangeType})
			}
			n, err := e.RegisterFiles(ctx, a.StoryID, files, ActorFrom(ctx))
			return Result{"registered": n}, err
		})
	add(r, "add_changelog_entry", "Append an entry to the story changelog.",
		func(ctx context.Context, e engine.Engine, a changelogArgs) (any, error) {
			id, err := e.AddChangelogEntry(ctx, a.StoryID, a.Entry, ActorFrom(ctx))
			return Result{"entry_id": id}, err
		})
}

func registerTaskTools(r *Registry) {
	add(r, "create_tasks", "Create the task tree of a story that has none. Tasks and subtasks are numbered from 1.",
		func(ctx context.Context, e engine.Engine, a createTasksArgs) (any, error) {
			roots, err := e.CreateTasks(ctx, a.StoryID, a.Tasks, ActorFrom(ctx))
			return Result{"tasks": roots}, err
		})
	add(r, "complete_task", "Mark a task, or one of its subtasks, done. Returns progress over root tasks and the next pending task.",
		func(ctx context.Context, e engine.Engine, a completeTaskArgs) (any, error) {
			return e.CompleteTask(ctx, engine.CompleteTaskOptions{
				StoryID: a.StoryID, TaskIdx: a.TaskIdx, SubtaskIdx: a.SubtaskIdx, Note: a.Note, Actor: ActorFrom(ctx),
			})
		})
	add(r, "add_review_tasks", "Append review follow-up tasks after the last task of a story.",
		func(ctx context.Context, e engine.Engine, a reviewTasksArgs) (any, error) {
			idxs, err := e.AddFollowUpTasks(ctx, a.StoryID, a.Tasks, ActorFrom(ctx))
			return Result{"added_idx": idxs}, err
		})
	add(r, "get_review_backlog", "Open review follow-ups across the project, most severe first.",
		func(ctx context.Context, e engine.Engine, a projectArgs) (any, error) {
			items, err := e.ReviewBacklog(ctx, a.ProjectID)
			return Result{"items": items}, err
		})
	add(r, "split_story", "Move root tasks, with their subtasks, into a new story.",
		func(ctx context.Context, e engine.Engine, a splitStoryArgs) (any, error) {
			return e.SplitStory(ctx, engine.SplitStoryOptions{
				StoryID: a.StoryID, NewKey: a.NewKey, Title: a.Title, Description: a.Description, TaskIdxs: a.TaskIdxs, Actor: ActorFrom(ctx),
			})
		})
	add(r, "merge_stories", "Move root tasks from a source story to a target story. The source story is deleted unless delete_source is false.",
		func(ctx context.Context, e engine.Engine, a mergeStoriesArgs) (any, error) {
			return e.MergeStories(ctx, engine.MergeStoriesOptions{
				TargetStoryID: a.TargetStoryID, SourceStoryID: a.SourceStoryID, TaskIdxs: a.TaskIdxs, DeleteSource: a.DeleteSource == nil || *a.DeleteSource, Actor: ActorFrom(ctx),
			})
		})
}

func registerLeaseTools(r *Registry) {
	add(r, "reserve_task", "Claim a root task for an agent until the lease expires. The holder may renew.",
		func(ctx context.Context, e engine.Engine, a reserveArgs) (any, error) {
			res, err := e.ReserveTask(ctx, engine.ReserveOptions{StoryID: a.StoryID, TaskIdx: a.TaskIdx, Agent: a.Agent, TTLSeconds: a.TTLSeconds})
			return Result{"reservation": res}, err
		})
	add(r, "release_task", "Release a lease held by the agent. Releasing an absent or expired lease succeeds.",
		func(ctx context.Context, e engine.Engine, a releaseArgs) (any, error) {
			released, err := e.ReleaseTask(ctx, a.StoryID, a.TaskIdx, a.Agent)
			return Result{"released": released}, err
		})
	add(r, "get_reservations", "Live reservations filtered by project, story or agent.",
		func(ctx context.Context, e engine.Engine, a reservationsArgs) (any, error) {
			items, err := e.ListReservations(ctx, repo.ReservationFilters{ProjectID: a.ProjectID, StoryID: a.StoryID, Agent: a.Agent})
			return Result{"reservations": items}, err
		})
}

func registerDocTools(r *Registry) {
	add(r, "get_planning_doc", "Read a planning document and its version token. A document never written reads as empty.",
		func(ctx context.Context, e engine.Engine, a getDocArgs) (any, error) {
			return e.GetPlanningDoc(ctx, a.ProjectID, a.Type, a.Format)
		})
	add(r, "update_planning_doc", "Replace a planning document. With expected_updated_at the write fails with a conflict if the document changed since it was read.",
		func(ctx context.Context, e engine.Engine, a updateDocArgs) (any, error) {
			return e.UpdatePlanningDoc(ctx, engine.UpdatePlanningDocOptions{
				ProjectID: a.ProjectID, Type: a.Type, Content: a.Content, GenerateSummary: a.GenerateSummary,
				ExpectedUpdatedAt: a.ExpectedUpdatedAt, Actor: ActorFrom(ctx),
			})
		})
}

func registerVersionTools(r *Registry) {
	add(r, "snapshot_epic", "Save the epic under a new version label.",
		func(ctx context.Context, e engine.Engine, a epicVersionArgs) (any, error) {
			return e.SnapshotEpic(ctx, engine.EpicKey{ProjectID: a.ProjectID, Number: a.EpicNumber}, a.Version, ActorFrom(ctx))
		})
	add(r, "list_epic_versions", "Version labels of an epic, newest first.",
		func(ctx context.Context, e engine.Engine, a epicArgs) (any, error) {
			items, err := e.ListEpicVersions(ctx, engine.EpicKey{ProjectID: a.ProjectID, Number: a.EpicNumber})
			return Result{"versions": items}, err
		})
	add(r, "switch_epic_version", "Overwrite the epic with a saved version.",
		func(ctx context.Context, e engine.Engine, a epicVersionArgs) (any, error) {
			return e.SwitchEpicVersion(ctx, engine.EpicKey{ProjectID: a.ProjectID, Number: a.EpicNumber}, a.Version, ActorFrom(ctx))
		})
	add(r, "snapshot_story", "Save the story and its whole task tree under a new version label.",
		func(ctx context.Context, e engine.Engine, a storyVersionArgs) (any, error) {
			return e.SnapshotStory(ctx, a.StoryID, a.Version, ActorFrom(ctx))
		})
	add(r, "list_story_versions", "Version labels of a story, newest first.",
		func(ctx context.Context, e engine.Engine, a storyArgs) (any, error) {
			items, err := e.ListStoryVersions(ctx, a.StoryID)
			return Result{"versions": items}, err
		})
	add(r, "switch_story_version", "Overwrite the story with a saved version and rebuild its task tree exactly as saved.",
		func(ctx context.Context, e engine.Engine, a storyVersionArgs) (any, error) {
			return e.SwitchStoryVersion(ctx, a.StoryID, a.Version, ActorFrom(ctx))
		})
	add(r, "snapshot_planning_doc", "Save a planning document under a new version label.",
		func(ctx context.Context, e engine.Engine, a docVersionArgs) (any, error) {
			return e.SnapshotPlanningDoc(ctx, engine.DocKey{ProjectID: a.ProjectID, Type: a.Type}, a.Version, ActorFrom(ctx))
		})
	add(r, "list_planning_doc_versions", "Version labels of a planning document, newest first.",
		func(ctx context.Context, e engine.Engine, a docKeyArgs) (any, error) {
			items, err := e.ListPlanningDocVersions(ctx, engine.DocKey{ProjectID: a.ProjectID, Type: a.Type})
			return Result{"versions": items}, err
		})
	add(r, "switch_planning_doc_version", "Overwrite a planning document with a saved version.",
		func(ctx context.Context, e engine.Engine, a docVersionArgs) (any, error) {
			return e.SwitchPlanningDocVersion(ctx, engine.DocKey{ProjectID: a.ProjectID, Type: a.Type}, a.Version, ActorFrom(ctx))
		})
}

func registerActivityTools(r *Registry) {
	add(r, "log_action", "Append a free-form entry to the project activity log.",
		func(ctx context.Context, e engine.Engine, a logActionArgs) (any, error) {
			id, err := e.LogAction(ctx, engine.LogActionOptions{
				ProjectID: a.ProjectID, StoryID: a.StoryID, Type: a.Type, Content: a.Content, Actor: ActorFrom(ctx),
			})
			return Result{"event_id": id}, err
		})
	add(r, "list_events", "Activity log entries, newest first.",
		func(ctx context.Context, e engine.Engine, a listEventsArgs) (any, error) {
			items, err := e.ListEvents(ctx, repo.EventFilters{
				ProjectID: a.ProjectID, Type: a.Type, EntityKind: a.EntityKind, EntityID: a.EntityID, BeforeID: a.BeforeID, Limit: a.Limit,
			})
			return Result{"events": items}, err
		})
}

func registerSprintTools(r *Registry) {
	add(r, "set_current_sprint", "Set the current sprint of a project. An empty label clears it.",
		func(ctx context.Context, e engine.Engine, a currentSprintArgs) (any, error) {
			cur, err := e.SetCurrentSprint(ctx, a.ProjectID, a.CurrentSprint, ActorFrom(ctx))
			return Result{"current_sprint": cur}, err
		})
	add(r, "set_story_sprint", "Assign a story to a sprint. An empty label removes the assignment.",
		func(ctx context.Context, e engine.Engine, a storySprintArgs) (any, error) {
			return nil, e.SetStorySprint(ctx, a.StoryID, a.SprintLabel, ActorFrom(ctx))
		})
	add(r, "list_stories_by_sprint", "Stories assigned to a sprint, ordered by key.",
		func(ctx context.Context, e engine.Engine, a sprintStoriesArgs) (any, error) {
			items, err := e.ListStoriesBySprint(ctx, a.ProjectID, a.SprintLabel)
			return Result{"stories": items}, err
		})
	add(r, "set_story_labels", "Replace the labels of a story.",
		func(ctx context.Context, e engine.Engine, a storyLabelsArgs) (any, error) {
			labels, err := e.SetStoryLabels(ctx, a.StoryID, a.Labels, ActorFrom(ctx))
			return Result{"labels": labels}, err
		})
	add(r, "list_story_labels", "Labels of a story in alphabetical order.",
		func(ctx context.Context, e engine.Engine, a storyArgs) (any, error) {
			labels, err := e.ListStoryLabels(ctx, a.StoryID)
			return Result{"labels": labels}, err
		})
	add(r, "search_by_label", "Stories carrying a label, most recently updated first.",
		func(ctx context.Context, e engine.Engine, a labelSearchArgs) (any, error) {
			items, err := e.SearchByLabel(ctx, a.ProjectID, a.Label)
			return Result{"stories": items}, err
		})
}

func registerReviewTools(r *Registry) {
	add(r, "complete_review_item", "Mark a review follow-up task done. success is false when idx is not a follow-up.",
		func(ctx context.Context, e engine.Engine, a reviewItemArgs) (any, error) {
			ok, err := e.CompleteReviewItem(ctx, a.StoryID, a.Idx, ActorFrom(ctx))
			if err != nil || ok {
				return Result{"completed": ok}, err
			}
			nf := apperr.NotFound("task %d of story %s is not a review follow-up", a.Idx, a.StoryID)
			nf.Details = map[string]any{"story_id": a.StoryID, "idx": a.Idx}
			return nil, nf
		})
	add(r, "bulk_complete_review", "Mark several review follow-up tasks done and report how many matched.",
		func(ctx context.Context, e engine.Engine, a bulkReviewArgs) (any, error) {
			n, err := e.BulkCompleteReview(ctx, a.StoryID, a.Indices, ActorFrom(ctx))
			return Result{"completed": n}, err
		})
	add(r, "start_review", "Open a review session, optionally for one story.",
		func(ctx context.Context, e engine.Engine, a startReviewArgs) (any, error) {
			rs, err := e.StartReview(ctx, engine.StartReviewOptions{ProjectID: a.ProjectID, StoryID: a.StoryID, Reviewer: a.Reviewer, Actor: ActorFrom(ctx)})
			return Result{"session_id": rs.ID, "review": rs}, err
		})
	add(r, "add_review_finding", "Record a finding in an open review session.",
		func(ctx context.Context, e engine.Engine, a addFindingArgs) (any, error) {
			idx, err := e.AddReviewFinding(ctx, engine.AddFindingOptions{
				SessionID: a.SessionID, Severity: a.Severity, Description: a.Description, File: a.File, Line: a.Line, Actor: ActorFrom(ctx),
			})
			return Result{"idx": idx}, err
		})
	add(r, "update_review_finding", "Change the status of a review finding.",
		func(ctx context.Context, e engine.Engine, a updateFindingArgs) (any, error) {
			return nil, e.UpdateReviewFinding(ctx, a.SessionID, a.Idx, a.Status, ActorFrom(ctx))
		})
	add(r, "close_review", "Close an open review session with an outcome, closed by default.",
		func(ctx context.Context, e engine.Engine, a closeReviewArgs) (any, error) {
			rs, err := e.CloseReview(ctx, a.SessionID, a.Outcome, ActorFrom(ctx))
			return Result{"review": rs}, err
		})
	add(r, "approve_review", "Close an open review session as approved.",
		func(ctx context.Context, e engine.Engine, a sessionArgs) (any, error) {
			rs, err := e.ApproveReview(ctx, a.SessionID, ActorFrom(ctx))
			return Result{"review": rs}, err
		})
	add(r, "reject_review", "Close an open review session as rejected.",
		func(ctx context.Context, e engine.Engine, a rejectReviewArgs) (any, error) {
			rs, err := e.RejectReview(ctx, a.SessionID, a.Reason, ActorFrom(ctx))
			return Result{"review": rs}, err
		})
	add(r, "get_review", "A review session with its findings.",
		func(ctx context.Context, e engine.Engine, a sessionArgs) (any, error) {
			rs, err := e.GetReview(ctx, a.SessionID)
			return Result{"review": rs}, err
		})
	add(r, "list_reviews", "Review sessions of a project, newest first.",
		func(ctx context.Context, e engine.Engine, a listReviewsArgs) (any, error) {
			items, err := e.ListReviews(ctx, a.ProjectID, a.StoryID, a.Limit)
			return Result{"reviews": items}, err
		})
}
