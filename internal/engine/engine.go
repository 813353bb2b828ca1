package engine

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"planline/internal/apperr"
	"planline/internal/config"
	"planline/internal/db"
	"planline/internal/domain"
	"planline/internal/events"
	"planline/internal/repo"
)

// Engine performs every planline operation. Each exported method runs in
// exactly one transaction and either commits fully or leaves the store untouched.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(conn *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:     conn,
		Repo:   repo.Repo{DB: conn},
		Events: events.Writer{},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

// tx runs fn in a write transaction, retrying while the store is locked.
// A lock that outlasts the retry window becomes apperr.KindBusy.
func (e Engine) tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	err := db.InTx(ctx, e.DB, db.RetryPolicy{MaxElapsed: e.Config.RetryMaxElapsed()}, fn)
	if err != nil && (errors.Is(err, db.ErrRetriesExhausted) || db.IsBusy(err)) {
		if _, ok := apperr.As(err); !ok {
			return apperr.Busy(err)
		}
	}
	return err
}

func (e Engine) record(ctx context.Context, tx *sql.Tx, entry events.Entry, payload events.EventPayload) error {
	w := e.Events
	w.Now = e.now
	_, err := w.Append(ctx, tx, entry, payload)
	return err
}

// nextToken returns a version token strictly greater than prev, so two
// writes inside the same clock tick still produce distinct tokens.
func (e Engine) nextToken(prev string) string {
	t := e.now()
	if p, err := domain.ParseTime(prev); err == nil && !t.After(p) {
		t = p.Add(time.Microsecond)
	}
	return domain.FormatTime(t)
}

func (e Engine) stamp() string {
	return domain.FormatTime(e.now())
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return apperr.InvalidArgument("%s is required", field)
	}
	return nil
}

func (e Engine) loadProject(ctx context.Context, r repo.Repo, id string) (domain.Project, error) {
	p, err := r.GetProject(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return p, apperr.NotFound("project %s not found", id)
	}
	return p, err
}

func (e Engine) loadStory(ctx context.Context, r repo.Repo, id string) (domain.Story, error) {
	s, err := r.GetStory(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		nf := apperr.NotFound("story %s not found", id)
		nf.Details = map[string]any{"story_id": id}
		return s, nf
	}
	return s, err
}

func (e Engine) loadRootTask(ctx context.Context, r repo.Repo, storyID string, idx int) (domain.RootTask, error) {
	t, err := r.GetRootTask(ctx, storyID, idx)
	if errors.Is(err, repo.ErrNotFound) {
		nf := apperr.NotFound("task %d not found in story %s", idx, storyID)
		nf.Details = map[string]any{"story_id": storyID, "task_idx": idx}
		return t, nf
	}
	return t, err
}

// ensureEpic returns the epic id for (project, number), creating a
// placeholder epic when it does not exist yet.
func (e Engine) ensureEpic(ctx context.Context, tx *sql.Tx, projectID string, number int, actor string) (string, error) {
	r := e.Repo.WithTx(tx)
	ep, err := r.GetEpic(ctx, projectID, number)
	if err == nil {
		return ep.ID, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return "", err
	}
	now := e.stamp()
	ep = domain.Epic{
		ID:        repo.EpicID(projectID, number),
		ProjectID: projectID,
		Number:    number,
		Title:     "Epic " + strconv.Itoa(number),
		Status:    "draft",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.InsertEpic(ctx, ep); err != nil {
		return "", err
	}
	if err := e.record(ctx, tx, events.Entry{Type: "epic.created", ProjectID: projectID, EntityKind: "epic", EntityID: ep.ID, ActorID: actor},
		events.EventPayload{"number": number, "placeholder": true}); err != nil {
		return "", err
	}
	return ep.ID, nil
}
