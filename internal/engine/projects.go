package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"planline/internal/apperr"
	"planline/internal/domain"
	"planline/internal/events"
	"planline/internal/repo"
)

type RegisterProjectOptions struct {
	ID       string
	Name     string
	RootPath string
	Config   map[string]any
	Actor    string
}

// RegisterProject creates the project or refreshes its name, root path and config.
func (e Engine) RegisterProject(ctx context.Context, opts RegisterProjectOptions) (domain.Project, bool, error) {
	if err := required("project_id", opts.ID); err != nil {
		return domain.Project{}, false, err
	}
	if opts.Name == "" {
		opts.Name = opts.ID
	}
	var out domain.Project
	var created bool
	err := e.tx(ctx, func(tx *sql.Tx) error {
		r := e.Repo.WithTx(tx)
		now := e.stamp()
		existing, err := r.GetProject(ctx, opts.ID)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			created = true
			existing = domain.Project{ID: opts.ID, CreatedAt: now}
		case err != nil:
			return err
		}
		p := domain.Project{
			ID:        opts.ID,
			Name:      opts.Name,
			RootPath:  opts.RootPath,
			Config:    opts.Config,
			CreatedAt: existing.CreatedAt,
			UpdatedAt: now,
		}
		if err := r.UpsertProject(ctx, p); err != nil {
			return err
		}
		evt := "project.updated"
		if created {
			evt = "project.registered"
		}
		if err := e.record(ctx, tx, events.Entry{Type: evt, ProjectID: p.ID, EntityKind: "project", EntityID: p.ID, ActorID: opts.Actor},
			events.EventPayload{"name": p.Name, "root_path": p.RootPath}); err != nil {
			return err
		}
		out, err = r.GetProject(ctx, p.ID)
		return err
	})
	return out, created, err
}

func (e Engine) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return e.loadProject(ctx, e.Repo, id)
}

func (e Engine) ListProjects(ctx context.Context) ([]domain.Project, error) {
	items, err := e.Repo.ListProjects(ctx)
	if items == nil {
		items = []domain.Project{}
	}
	return items, err
}

// ProjectContext is the overview an agent reads before picking work.
type ProjectContext struct {
	Project        domain.Project       `json:"project"`
	EpicCount      int                  `json:"epic_count"`
	StoryCount     int                  `json:"story_count"`
	StoriesByState map[string]int       `json:"stories_by_status"`
	PlanningDocs   []PlanningDocInfo    `json:"planning_docs"`
	ActiveLeases   int                  `json:"active_reservations"`
	RecentActivity []domain.Event       `json:"recent_activity"`
	ReviewBacklog  int                  `json:"open_review_followups"`
	Epics          []domain.Epic        `json:"epics"`
	Reservations   []domain.Reservation `json:"reservations"`
	CurrentSprint  *string              `json:"current_sprint"`
}

type PlanningDocInfo struct {
	Type      string `json:"type"`
	UpdatedAt string `json:"updated_at"`
	Length    int    `json:"length"`
}

func (e Engine) GetProjectContext(ctx context.Context, projectID string) (ProjectContext, error) {
	var out ProjectContext
	err := e.tx(ctx, func(tx *sql.Tx) error {
		out = ProjectContext{}
		r := e.Repo.WithTx(tx)
		p, err := e.loadProject(ctx, r, projectID)
		if err != nil {
			return err
		}
		out.Project = p
		if out.Epics, err = r.ListEpics(ctx, projectID); err != nil {
			return err
		}
		if out.Epics == nil {
			out.Epics = []domain.Epic{}
		}
		out.EpicCount = len(out.Epics)
		if out.StoriesByState, err = r.CountStoriesByStatus(ctx, projectID); err != nil {
			return err
		}
		for _, n := range out.StoriesByState {
			out.StoryCount += n
		}
		docs, err := r.ListPlanningDocs(ctx, projectID)
		if err != nil {
			return err
		}
		out.PlanningDocs = []PlanningDocInfo{}
		for _, d := range docs {
			out.PlanningDocs = append(out.PlanningDocs, PlanningDocInfo{Type: d.Type, UpdatedAt: d.UpdatedAt, Length: len(d.Content)})
		}
		if _, err := r.SweepExpired(ctx, e.stamp()); err != nil {
			return err
		}
		if out.Reservations, err = r.ListReservations(ctx, repo.ReservationFilters{ProjectID: projectID}); err != nil {
			return err
		}
		out.ActiveLeases = len(out.Reservations)
		backlog, err := r.ReviewBacklog(ctx, projectID)
		if err != nil {
			return err
		}
		out.ReviewBacklog = len(backlog)
		if out.CurrentSprint, err = currentSprint(ctx, r, projectID); err != nil {
			return err
		}
		out.RecentActivity, err = r.LatestEvents(ctx, repo.EventFilters{ProjectID: projectID, Limit: 10})
		return err
	})
	return out, err
}

// SprintStatus lists epics with their stories plus story counts by status.
type SprintStatus struct {
	ProjectID     string         `json:"project_id"`
	CurrentSprint *string        `json:"current_sprint"`
	Epics         []SprintEpic   `json:"epics"`
	Unassigned    []SprintStory  `json:"unassigned_stories"`
	TotalStories  int            `json:"total_stories"`
	ByStatus      map[string]int `json:"by_status"`
}

type SprintEpic struct {
	Number  int           `json:"number"`
	Title   string        `json:"title"`
	Status  string        `json:"status"`
	Stories []SprintStory `json:"stories"`
}

type SprintStory struct {
	ID       string          `json:"id"`
	Key      string          `json:"key"`
	Title    string          `json:"title"`
	Status   string          `json:"status"`
	Progress domain.Progress `json:"progress"`
}

func (e Engine) GetSprintStatus(ctx context.Context, projectID string) (SprintStatus, error) {
	var out SprintStatus
	err := e.tx(ctx, func(tx *sql.Tx) error {
		out = SprintStatus{ProjectID: projectID, Epics: []SprintEpic{}, Unassigned: []SprintStory{}, ByStatus: map[string]int{}}
		r := e.Repo.WithTx(tx)
		if _, err := e.loadProject(ctx, r, projectID); err != nil {
			return err
		}
		var err error
		if out.CurrentSprint, err = currentSprint(ctx, r, projectID); err != nil {
			return err
		}
		epics, err := r.ListEpics(ctx, projectID)
		if err != nil {
			return err
		}
		pos := map[string]int{}
		for _, ep := range epics {
			pos[ep.ID] = len(out.Epics)
			out.Epics = append(out.Epics, SprintEpic{Number: ep.Number, Title: ep.Title, Status: ep.Status, Stories: []SprintStory{}})
		}
		stories, err := r.ListStories(ctx, repo.StoryFilters{ProjectID: projectID})
		if err != nil {
			return err
		}
		for _, s := range stories {
			prog, err := r.RootProgress(ctx, s.ID)
			if err != nil {
				return err
			}
			item := SprintStory{ID: s.ID, Key: s.Key, Title: s.Title, Status: string(s.Status), Progress: prog}
			out.TotalStories++
			out.ByStatus[string(s.Status)]++
			if i, ok := pos[s.EpicID]; ok {
				out.Epics[i].Stories = append(out.Epics[i].Stories, item)
				continue
			}
			out.Unassigned = append(out.Unassigned, item)
		}
		return nil
	})
	return out, err
}

func currentSprint(ctx context.Context, r repo.Repo, projectID string) (*string, error) {
	label, err := r.CurrentSprint(ctx, projectID)
	if err != nil || label == "" {
		return nil, err
	}
	return &label, nil
}

type UpsertEpicOptions struct {
	ProjectID   string
	Number      int
	Title       *string
	Description *string
	Status      *string
	Actor       string
}

// UpsertEpic creates the epic or updates only the fields that are set.
func (e Engine) UpsertEpic(ctx context.Context, opts UpsertEpicOptions) (domain.Epic, error) {
	if opts.Number <= 0 {
		return domain.Epic{}, apperr.InvalidArgument("epic number must be positive")
	}
	var out domain.Epic
	err := e.tx(ctx, func(tx *sql.Tx) error {
		r := e.Repo.WithTx(tx)
		if _, err := e.loadProject(ctx, r, opts.ProjectID); err != nil {
			return err
		}
		if _, err := e.ensureEpic(ctx, tx, opts.ProjectID, opts.Number, opts.Actor); err != nil {
			return err
		}
		ep, err := r.GetEpic(ctx, opts.ProjectID, opts.Number)
		if err != nil {
			return err
		}
		if opts.Title != nil {
			ep.Title = *opts.Title
		}
		if opts.Description != nil {
			ep.Description = *opts.Description
		}
		if opts.Status != nil {
			ep.Status = *opts.Status
		}
		ep.UpdatedAt = e.nextToken(ep.UpdatedAt)
		if err := r.UpdateEpic(ctx, ep); err != nil {
			return err
		}
		if err := e.record(ctx, tx, events.Entry{Type: "epic.updated", ProjectID: ep.ProjectID, EntityKind: "epic", EntityID: ep.ID, ActorID: opts.Actor},
			events.EventPayload{"title": ep.Title, "status": ep.Status}); err != nil {
			return err
		}
		out = ep
		return nil
	})
	return out, err
}

func (e Engine) GetEpic(ctx context.Context, projectID string, number int) (domain.Epic, error) {
	ep, err := e.Repo.GetEpic(ctx, projectID, number)
	if errors.Is(err, repo.ErrNotFound) {
		return ep, apperr.NotFound("epic %d not found in project %s", number, projectID)
	}
	return ep, err
}

func (e Engine) ListEpics(ctx context.Context, projectID string) ([]domain.Epic, error) {
	if _, err := e.loadProject(ctx, e.Repo, projectID); err != nil {
		return nil, err
	}
	items, err := e.Repo.ListEpics(ctx, projectID)
	if items == nil {
		items = []domain.Epic{}
	}
	return items, err
}

// DeleteEpic removes an epic. Deleting an absent epic succeeds and reports
// false. An epic that still has stories needs force, which detaches them.
func (e Engine) DeleteEpic(ctx context.Context, projectID string, number int, force bool, actor string) (bool, error) {
	var deleted bool
	err := e.tx(ctx, func(tx *sql.Tx) error {
		deleted = false
		r := e.Repo.WithTx(tx)
		if _, err := e.loadProject(ctx, r, projectID); err != nil {
			return err
		}
		ep, err := r.GetEpic(ctx, projectID, number)
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		stories, err := r.ListStories(ctx, repo.StoryFilters{ProjectID: projectID, EpicID: ep.ID})
		if err != nil {
			return err
		}
		if len(stories) > 0 && !force {
			ise := apperr.InvalidState("epic %d still has %d stories", number, len(stories))
			ise.Details = map[string]any{"reason": "stories-exist", "stories": len(stories)}
			return ise
		}
		for _, s := range stories {
			prev := s.UpdatedAt
			s.EpicID = ""
			s.UpdatedAt = e.nextToken(prev)
			ok, err := r.UpdateStoryIfToken(ctx, s, prev)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("detach story %s: row changed inside transaction", s.ID)
			}
		}
		if err := r.DeleteEpic(ctx, ep.ID); err != nil {
			return err
		}
		deleted = true
		return e.record(ctx, tx, events.Entry{Type: "epic.deleted", ProjectID: projectID, EntityKind: "epic", EntityID: ep.ID, ActorID: actor},
			events.EventPayload{"number": number, "force": force, "detached_stories": len(stories)})
	})
	return deleted, err
}

// AddEpicChangelog appends an entry to an existing epic's changelog.
func (e Engine) AddEpicChangelog(ctx context.Context, projectID string, number int, entry, actor string) (int64, error) {
	if err := required("entry", entry); err != nil {
		return 0, err
	}
	var id int64
	err := e.tx(ctx, func(tx *sql.Tx) error {
		r := e.Repo.WithTx(tx)
		ep, err := r.GetEpic(ctx, projectID, number)
		if errors.Is(err, repo.ErrNotFound) {
			return apperr.NotFound("epic %d not found in project %s", number, projectID)
		}
		if err != nil {
			return err
		}
		if id, err = r.InsertEpicChangelog(ctx, projectID, number, entry, e.stamp()); err != nil {
			return err
		}
		return e.record(ctx, tx, events.Entry{Type: "epic.changelog_added", ProjectID: projectID, EntityKind: "epic", EntityID: ep.ID, ActorID: actor}, nil)
	})
	return id, err
}

// GetEpicChangelog returns up to limit entries, newest first. Limit
// defaults to 100.
func (e Engine) GetEpicChangelog(ctx context.Context, projectID string, number, limit int) ([]domain.EpicChangelogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	if _, err := e.loadProject(ctx, e.Repo, projectID); err != nil {
		return nil, err
	}
	return e.Repo.ListEpicChangelog(ctx, projectID, number, limit)
}
