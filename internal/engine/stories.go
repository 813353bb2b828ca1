package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"planline/internal/apperr"
	"planline/internal/domain"
	"planline/internal/events"
	"planline/internal/repo"
)

type CreateStoryOptions struct {
	ProjectID          string
	EpicNumber         int
	Key                string
	Title              string
	Description        string
	AcceptanceCriteria []domain.AcceptanceCriterion
	DevNotes           string
	Status             domain.StoryStatus
	Tasks              []domain.TaskSpec
	Actor              string
}

// CreateStory inserts a story and its task tree in one transaction. A
// missing epic is created as a placeholder.
func (e Engine) CreateStory(ctx context.Context, opts CreateStoryOptions) (domain.Story, error) {
	if err := required("key", opts.Key); err != nil {
		return domain.Story{}, err
	}
	if err := required("title", opts.Title); err != nil {
		return domain.Story{}, err
	}
	if opts.Status == "" {
		opts.Status = domain.StoryDraft
	}
	if !opts.Status.Valid() {
		return domain.Story{}, apperr.InvalidArgument("invalid story status %q", opts.Status)
	}
	if err := validateTaskSpecs(opts.Tasks); err != nil {
		return domain.Story{}, err
	}
	if err := validateCriteria(opts.AcceptanceCriteria); err != nil {
		return domain.Story{}, err
	}
	var out domain.Story
	err := e.tx(ctx, func(tx *sql.Tx) error {
		r := e.Repo.WithTx(tx)
		if _, err := e.loadProject(ctx, r, opts.ProjectID); err != nil {
			return err
		}
		var epicID string
		if opts.EpicNumber > 0 {
			id, err := e.ensureEpic(ctx, tx, opts.ProjectID, opts.EpicNumber, opts.Actor)
			if err != nil {
				return err
			}
			epicID = id
		}
		now := e.stamp()
		s := domain.Story{
			ID:                 repo.StoryID(opts.ProjectID, opts.Key),
			ProjectID:          opts.ProjectID,
			EpicID:             epicID,
			Key:                opts.Key,
			Title:              opts.Title,
			Description:        opts.Description,
			Status:             opts.Status,
			AcceptanceCriteria: nonNil(opts.AcceptanceCriteria),
			DevNotes:           opts.DevNotes,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := r.InsertStory(ctx, s); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return apperr.Conflict(map[string]any{"story_id": s.ID}, "story %s already exists", s.ID)
			}
			return err
		}
		if err := e.insertTree(ctx, r, s.ID, opts.Tasks); err != nil {
			return err
		}
		if err := e.record(ctx, tx, events.Entry{Type: "story.created", ProjectID: s.ProjectID, EntityKind: "story", EntityID: s.ID, ActorID: opts.Actor},
			events.EventPayload{"key": s.Key, "tasks": len(opts.Tasks)}); err != nil {
			return err
		}
		out = s
		return nil
	})
	return out, err
}

// StoryContext is everything an agent needs to work on a story.
type StoryContext struct {
	Story     domain.Story            `json:"story"`
	Epic      *domain.Epic            `json:"epic,omitempty"`
	Tasks     []domain.RootTask       `json:"tasks"`
	Progress  domain.Progress         `json:"progress"`
	Files     []domain.StoryFile      `json:"files"`
	Changelog []domain.ChangelogEntry `json:"changelog"`
	Leases    []domain.Reservation    `json:"reservations"`
}

func (e Engine) GetStoryContext(ctx context.Context, storyID string) (StoryContext, error) {
	var out StoryContext
	err := e.tx(ctx, func(tx *sql.Tx) error {
		r := e.Repo.WithTx(tx)
		s, err := e.loadStory(ctx, r, storyID)
		if err != nil {
			return err
		}
		out.Story = s
		if s.EpicID != "" {
			ep, err := r.GetEpicByID(ctx, s.EpicID)
			if err != nil && !errors.Is(err, repo.ErrNotFound) {
				return err
			}
			if err == nil {
				out.Epic = &ep
			}
		}
		if out.Tasks, err = r.LoadTree(ctx, storyID); err != nil {
			return err
		}
		if out.Progress, err = r.RootProgress(ctx, storyID); err != nil {
			return err
		}
		if out.Files, err = r.ListStoryFiles(ctx, storyID); err != nil {
			return err
		}
		if out.Changelog, err = r.ListChangelog(ctx, storyID); err != nil {
			return err
		}
		if _, err := r.SweepExpired(ctx, e.stamp()); err != nil {
			return err
		}
		out.Leases, err = r.ListReservations(ctx, repo.ReservationFilters{StoryID: storyID})
		return err
	})
	return out, err
}

// StorySummary is the short form of a story with its current task.
type StorySummary struct {
	ID          string          `json:"id"`
	Key         string          `json:"key"`
	Title       string          `json:"title"`
	Status      string          `json:"status"`
	Progress    domain.Progress `json:"progress"`
	CurrentTask *domain.TaskRef `json:"current_task"`
	UpdatedAt   string          `json:"updated_at"`
}

func (e Engine) GetStorySummary(ctx context.Context, storyID string) (StorySummary, error) {
	var out StorySummary
	err := e.tx(ctx, func(tx *sql.Tx) error {
		r := e.Repo.WithTx(tx)
		s, err := e.loadStory(ctx, r, storyID)
		if err != nil {
			return err
		}
		out = StorySummary{ID: s.ID, Key: s.Key, Title: s.Title, Status: string(s.Status), UpdatedAt: s.UpdatedAt}
		if out.Progress, err = r.RootProgress(ctx, storyID); err != nil {
			return err
		}
		out.CurrentTask, err = nextTask(ctx, r, storyID)
		return err
	})
	return out, err
}

// NextStory picks the least recently touched story with the given status,
// defaulting to ready-for-dev. found is false when nothing matches.
func (e Engine) NextStory(ctx context.Context, projectID string, status domain.StoryStatus) (StorySummary, bool, error) {
	if status == "" {
		status = domain.StoryReadyForDev
	}
	if !status.Valid() {
		return StorySummary{}, false, apperr.InvalidArgument("invalid story status %q", status)
	}
	var out StorySummary
	var found bool
	err := e.tx(ctx, func(tx *sql.Tx) error {
		r := e.Repo.WithTx(tx)
		if _, err := e.loadProject(ctx, r, projectID); err != nil {
			return err
		}
		s, err := r.NextStory(ctx, projectID, string(status))
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		out = StorySummary{ID: s.ID, Key: s.Key, Title: s.Title, Status: string(s.Status), UpdatedAt: s.UpdatedAt}
		if out.Progress, err = r.RootProgress(ctx, s.ID); err != nil {
			return err
		}
		out.CurrentTask, err = nextTask(ctx, r, s.ID)
		return err
	})
	return out, found, err
}

func (e Engine) ListStories(ctx context.Context, f repo.StoryFilters) ([]domain.Story, error) {
	if _, err := e.loadProject(ctx, e.Repo, f.ProjectID); err != nil {
		return nil, err
	}
	items, err := e.Repo.ListStories(ctx, f)
	if items == nil {
		items = []domain.Story{}
	}
	return items, err
}

// StoryUpdate carries the fields to change. Nil pointers and a nil slice
// leave the stored value untouched.
type StoryUpdate struct {
	StoryID            string
	Title              *string
	Description        *string
	Status             *domain.StoryStatus
	EpicNumber         *int
	AcceptanceCriteria []domain.AcceptanceCriterion
	DevNotes           *string
	ExpectedUpdatedAt  string
	Actor              string
}

// WriteResult is returned by every guarded write.
type WriteResult struct {
	ID             string `json:"id"`
	UpdatedAt      string `json:"updated_at"`
	PreviousStatus string `json:"previous_status,omitempty"`
}

// UpdateStory applies a partial update under the optimistic concurrency guard.
func (e Engine) UpdateStory(ctx context.Context, u StoryUpdate) (WriteResult, error) {
	if u.Status != nil && !u.Status.Valid() {
		return WriteResult{}, apperr.InvalidArgument("invalid story status %q", *u.Status)
	}
	if u.Title != nil && strings.TrimSpace(*u.Title) == "" {
		return WriteResult{}, apperr.InvalidArgument("title must not be empty")
	}
	if err := validateCriteria(u.AcceptanceCriteria); err != nil {
		return WriteResult{}, err
	}
	return e.guardedStoryWrite(ctx, u.StoryID, u.ExpectedUpdatedAt, u.Actor, "story.updated",
		func(ctx context.Context, tx *sql.Tx, s *domain.Story) (events.EventPayload, error) {
			changed := []string{}
			if u.Title != nil {
				s.Title = *u.Title
				changed = append(changed, "title")
			}
			if u.Description != nil {
				s.Description = *u.Description
				changed = append(changed, "description")
			}
			if u.Status != nil {
				s.Status = *u.Status
				changed = append(changed, "status")
			}
			if u.EpicNumber != nil {
				if *u.EpicNumber <= 0 {
					s.EpicID = ""
				} else {
					id, err := e.ensureEpic(ctx, tx, s.ProjectID, *u.EpicNumber, u.Actor)
					if err != nil {
						return nil, err
					}
					s.EpicID = id
				}
				changed = append(changed, "epic")
			}
			if u.AcceptanceCriteria != nil {
				s.AcceptanceCriteria = u.AcceptanceCriteria
				changed = append(changed, "acceptance_criteria")
			}
			if u.DevNotes != nil {
				s.DevNotes = *u.DevNotes
				changed = append(changed, "dev_notes")
			}
			return events.EventPayload{"fields": changed}, nil
		})
}

func (e Engine) UpdateStoryStatus(ctx context.Context, storyID string, status domain.StoryStatus, reason, expected, actor string) (WriteResult, error) {
	if !status.Valid() {
		return WriteResult{}, apperr.InvalidArgument("invalid story status %q", status)
	}
	return e.guardedStoryWrite(ctx, storyID, expected, actor, "story.status_changed",
		func(_ context.Context, _ *sql.Tx, s *domain.Story) (events.EventPayload, error) {
			prev := s.Status
			s.Status = status
			return events.EventPayload{"from": string(prev), "to": string(status), "reason": reason}, nil
		})
}

var devNoteSections = map[string]bool{"implementation": true, "decisions": true, "issues": true, "general": true}

// AddDevNote appends a note to the story's dev notes, optionally under a section heading.
func (e Engine) AddDevNote(ctx context.Context, storyID, note, section, expected, actor string) (WriteResult, error) {
	if err := required("note", note); err != nil {
		return WriteResult{}, err
	}
	if section != "" && !devNoteSections[section] {
		return WriteResult{}, apperr.InvalidArgument("invalid dev note section %q", section)
	}
	return e.guardedStoryWrite(ctx, storyID, expected, actor, "story.dev_note_added",
		func(_ context.Context, _ *sql.Tx, s *domain.Story) (events.EventPayload, error) {
			header := "\n\n"
			if section != "" {
				header = "\n\n### " + section + "\n"
			}
			s.DevNotes = s.DevNotes + header + note + "\n"
			return events.EventPayload{"section": section}, nil
		})
}

// UpdateAcceptanceCriteria replaces the criteria list, met flags included.
func (e Engine) UpdateAcceptanceCriteria(ctx context.Context, storyID string, criteria []domain.AcceptanceCriterion, expected, actor string) (WriteResult, error) {
	if err := validateCriteria(criteria); err != nil {
		return WriteResult{}, err
	}
	return e.guardedStoryWrite(ctx, storyID, expected, actor, "story.acceptance_criteria_updated",
		func(_ context.Context, _ *sql.Tx, s *domain.Story) (events.EventPayload, error) {
			s.AcceptanceCriteria = nonNil(criteria)
			met := 0
			for _, c := range criteria {
				if c.Met {
					met++
				}
			}
			return events.EventPayload{"count": len(criteria), "met": met}, nil
		})
}

func validateCriteria(criteria []domain.AcceptanceCriterion) error {
	for i, c := range criteria {
		if strings.TrimSpace(c.Criterion) == "" {
			return apperr.InvalidArgument("acceptance criterion %d is empty", i+1)
		}
	}
	return nil
}

// guardedStoryWrite loads the story, checks the precondition, applies
// mutate and writes the row only if its token is still the one read.
func (e Engine) guardedStoryWrite(ctx context.Context, storyID, expected, actor, evtType string,
	mutate func(ctx context.Context, tx *sql.Tx, s *domain.Story) (events.EventPayload, error)) (WriteResult, error) {
	var out WriteResult
	err := e.tx(ctx, func(tx *sql.Tx) error {
		r := e.Repo.WithTx(tx)
		s, err := e.loadStory(ctx, r, storyID)
		if err != nil {
			return err
		}
		if err := checkToken("story", storyID, expected, s.UpdatedAt); err != nil {
			return err
		}
		prevToken, prevStatus := s.UpdatedAt, s.Status
		payload, err := mutate(ctx, tx, &s)
		if err != nil {
			return err
		}
		s.UpdatedAt = e.nextToken(prevToken)
		ok, err := r.UpdateStoryIfToken(ctx, s, prevToken)
		if err != nil {
			return err
		}
		if !ok {
			cur, err := r.GetStory(ctx, storyID)
			if err != nil {
				return err
			}
			return tokenConflict("story", storyID, cur.UpdatedAt)
		}
		if payload == nil {
			payload = events.EventPayload{}
		}
		payload["updated_at"] = s.UpdatedAt
		if err := e.record(ctx, tx, events.Entry{Type: evtType, ProjectID: s.ProjectID, EntityKind: "story", EntityID: s.ID, ActorID: actor}, payload); err != nil {
			return err
		}
		out = WriteResult{ID: s.ID, UpdatedAt: s.UpdatedAt}
		if prevStatus != s.Status {
			out.PreviousStatus = string(prevStatus)
		}
		return nil
	})
	return out, err
}

// DeleteStory removes a story and everything that hangs off it. Stories with
// an incomplete task or subtask are only deleted with force.
func (e Engine) DeleteStory(ctx context.Context, storyID string, force bool, actor string) error {
	return e.tx(ctx, func(tx *sql.Tx) error {
		r := e.Repo.WithTx(tx)
		s, err := e.loadStory(ctx, r, storyID)
		if err != nil {
			return err
		}
		open, err := r.CountIncompleteTasks(ctx, storyID)
		if err != nil {
			return err
		}
		if open > 0 && !force {
			ise := apperr.InvalidState("story %s has %d incomplete tasks", storyID, open)
			ise.Details = map[string]any{"incomplete_tasks": open}
			return ise
		}
		if err := r.DeleteStory(ctx, storyID); err != nil {
			return err
		}
		return e.record(ctx, tx, events.Entry{Type: "story.deleted", ProjectID: s.ProjectID, EntityKind: "story", EntityID: storyID, ActorID: actor},
			events.EventPayload{"force": force, "incomplete_tasks": open})
	})
}

var fileChangeTypes = map[string]bool{"added": true, "modified": true, "deleted": true}

// RegisterFiles records files touched while implementing a story.
func (e Engine) RegisterFiles(ctx context.Context, storyID string, files []domain.StoryFile, actor string) (int, error) {
	for _, f := range files {
		if err := required("path", f.Path); err != nil {
			return 0, err
		}
		if f.ChangeType != "" && !fileChangeTypes[f.ChangeType] {
			return 0, apperr.InvalidArgument("invalid change_type %q", f.ChangeType)
		}
	}
	err := e.tx(ctx, func(tx *sql.Tx) error {
		r := e.Repo.WithTx(tx)
		s, err := e.loadStory(ctx, r, storyID)
		if err != nil {
			return err
		}
		now := e.stamp()
		for _, f := range files {
			if f.ChangeType == "" {
				f.ChangeType = "modified"
			}
			f.CreatedAt = now
			if err := r.InsertStoryFile(ctx, storyID, f); err != nil {
				return err
			}
		}
		return e.record(ctx, tx, events.Entry{Type: "story.files_registered", ProjectID: s.ProjectID, EntityKind: "story", EntityID: storyID, ActorID: actor},
			events.EventPayload{"count": len(files)})
	})
	if err != nil {
		return 0, err
	}
	return len(files), nil
}

// AddChangelogEntry appends an immutable note to the story changelog.
func (e Engine) AddChangelogEntry(ctx context.Context, storyID, entry, actor string) (int64, error) {
	if err := required("entry", entry); err != nil {
		return 0, err
	}
	var id int64
	err := e.tx(ctx, func(tx *sql.Tx) error {
		r := e.Repo.WithTx(tx)
		s, err := e.loadStory(ctx, r, storyID)
		if err != nil {
			return err
		}
		if id, err = r.InsertChangelog(ctx, storyID, entry, e.stamp()); err != nil {
			return err
		}
		return e.record(ctx, tx, events.Entry{Type: "story.changelog_added", ProjectID: s.ProjectID, EntityKind: "story", EntityID: storyID, ActorID: actor}, nil)
	})
	return id, err
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
