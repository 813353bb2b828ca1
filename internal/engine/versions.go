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

// EpicKey addresses an epic by project and number.
type EpicKey struct {
	ProjectID string
	Number    int
}

// DocKey addresses a planning document by project and type.
type DocKey struct {
	ProjectID string
	Type      string
}

// versionKind binds the snapshot table of one entity kind to the code that
// captures and restores its current row. K identifies a single entity.
type versionKind[K any] struct {
	entity string
	table  repo.VersionTable
	key    func(K) []any
	// load returns the entity's id, project and current token, or NotFound.
	load    func(ctx context.Context, e Engine, r repo.Repo, k K) (currentRow, error)
	capture func(ctx context.Context, e Engine, r repo.Repo, k K, label, at string) error
	// restore overwrites current state from the snapshot and returns the new token.
	restore func(ctx context.Context, e Engine, r repo.Repo, cur currentRow, k K, label string) (string, error)
}

type currentRow struct {
	ID        string
	ProjectID string
	Token     string
}

func (v versionKind[K]) missingLabel(id, label string) error {
	nf := apperr.NotFound("%s %s has no version %q", v.entity, id, label)
	nf.Details = map[string]any{"version": label}
	return nf
}

func (v versionKind[K]) snapshot(ctx context.Context, e Engine, k K, label, actor string) (domain.VersionInfo, error) {
	if err := required("version", label); err != nil {
		return domain.VersionInfo{}, err
	}
	var out domain.VersionInfo
	err := e.tx(ctx, func(tx *sql.Tx) error {
		r := e.Repo.WithTx(tx)
		cur, err := v.load(ctx, e, r, k)
		if err != nil {
			return err
		}
		exists, err := r.VersionExists(ctx, v.table, label, v.key(k)...)
		if err != nil {
			return err
		}
		if exists {
			return apperr.Conflict(map[string]any{"version": label}, "%s %s already has version %q", v.entity, cur.ID, label)
		}
		at := e.stamp()
		if err := v.capture(ctx, e, r, k, label, at); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return apperr.Conflict(map[string]any{"version": label}, "%s %s already has version %q", v.entity, cur.ID, label)
			}
			return err
		}
		out = domain.VersionInfo{Version: label, CreatedAt: at}
		return e.record(ctx, tx, events.Entry{Type: v.entity + ".version.created", ProjectID: cur.ProjectID, EntityKind: v.entity, EntityID: cur.ID, ActorID: actor},
			events.EventPayload{"version": label})
	})
	return out, err
}

func (v versionKind[K]) list(ctx context.Context, e Engine, k K) ([]domain.VersionInfo, error) {
	var out []domain.VersionInfo
	err := e.tx(ctx, func(tx *sql.Tx) error {
		r := e.Repo.WithTx(tx)
		if _, err := v.load(ctx, e, r, k); err != nil {
			return err
		}
		var err error
		out, err = r.ListVersions(ctx, v.table, v.key(k)...)
		return err
	})
	return out, err
}

// switchTo is not guarded by the caller's token; it always replaces the
// current state when the label exists, and always issues a new token.
func (v versionKind[K]) switchTo(ctx context.Context, e Engine, k K, label, actor string) (WriteResult, error) {
	if err := required("version", label); err != nil {
		return WriteResult{}, err
	}
	var out WriteResult
	err := e.tx(ctx, func(tx *sql.Tx) error {
		r := e.Repo.WithTx(tx)
		cur, err := v.load(ctx, e, r, k)
		if err != nil {
			return err
		}
		token, err := v.restore(ctx, e, r, cur, k, label)
		if errors.Is(err, repo.ErrNotFound) {
			return v.missingLabel(cur.ID, label)
		}
		if err != nil {
			return err
		}
		out = WriteResult{ID: cur.ID, UpdatedAt: token}
		return e.record(ctx, tx, events.Entry{Type: v.entity + ".version.switched", ProjectID: cur.ProjectID, EntityKind: v.entity, EntityID: cur.ID, ActorID: actor},
			events.EventPayload{"version": label, "replaced_updated_at": cur.Token, "updated_at": token})
	})
	return out, err
}

var epicVersions = versionKind[EpicKey]{
	entity: "epic",
	table:  repo.EpicVersions,
	key:    func(k EpicKey) []any { return []any{k.ProjectID, k.Number} },
	load: func(ctx context.Context, _ Engine, r repo.Repo, k EpicKey) (currentRow, error) {
		ep, err := r.GetEpic(ctx, k.ProjectID, k.Number)
		if errors.Is(err, repo.ErrNotFound) {
			return currentRow{}, apperr.NotFound("epic %d not found in project %s", k.Number, k.ProjectID)
		}
		return currentRow{ID: ep.ID, ProjectID: ep.ProjectID, Token: ep.UpdatedAt}, err
	},
	capture: func(ctx context.Context, _ Engine, r repo.Repo, k EpicKey, label, at string) error {
		ep, err := r.GetEpic(ctx, k.ProjectID, k.Number)
		if err != nil {
			return err
		}
		return r.InsertEpicVersion(ctx, k.ProjectID, k.Number, label, repo.EpicSnapshot{
			Title: ep.Title, Description: ep.Description, Status: ep.Status, CreatedAt: at,
		})
	},
	restore: func(ctx context.Context, e Engine, r repo.Repo, cur currentRow, k EpicKey, label string) (string, error) {
		snap, err := r.GetEpicVersion(ctx, k.ProjectID, k.Number, label)
		if err != nil {
			return "", err
		}
		ep, err := r.GetEpic(ctx, k.ProjectID, k.Number)
		if err != nil {
			return "", err
		}
		ep.Title, ep.Description, ep.Status = snap.Title, snap.Description, snap.Status
		ep.UpdatedAt = e.nextToken(cur.Token)
		if err := r.UpdateEpic(ctx, ep); err != nil {
			return "", fmt.Errorf("restore epic %s: %w", ep.ID, err)
		}
		return ep.UpdatedAt, nil
	},
}

var storyVersions = versionKind[string]{
	entity: "story",
	table:  repo.StoryVersions,
	key:    func(id string) []any { return []any{id} },
	load: func(ctx context.Context, e Engine, r repo.Repo, id string) (currentRow, error) {
		s, err := e.loadStory(ctx, r, id)
		return currentRow{ID: s.ID, ProjectID: s.ProjectID, Token: s.UpdatedAt}, err
	},
	capture: func(ctx context.Context, _ Engine, r repo.Repo, id, label, at string) error {
		s, err := r.GetStory(ctx, id)
		if err != nil {
			return err
		}
		tree, err := r.LoadTree(ctx, id)
		if err != nil {
			return err
		}
		return r.InsertStoryVersion(ctx, id, label, repo.StorySnapshot{
			Title:              s.Title,
			Description:        s.Description,
			Status:             string(s.Status),
			EpicID:             s.EpicID,
			AcceptanceCriteria: s.AcceptanceCriteria,
			DevNotes:           s.DevNotes,
			Tasks:              tree,
			CreatedAt:          at,
		})
	},
	restore: func(ctx context.Context, e Engine, r repo.Repo, cur currentRow, id, label string) (string, error) {
		snap, err := r.GetStoryVersion(ctx, id, label)
		if err != nil {
			return "", err
		}
		s, err := r.GetStory(ctx, id)
		if err != nil {
			return "", err
		}
		s.Title, s.Description, s.EpicID, s.DevNotes = snap.Title, snap.Description, snap.EpicID, snap.DevNotes
		s.Status = domain.StoryStatus(snap.Status)
		s.AcceptanceCriteria = snap.AcceptanceCriteria
		s.UpdatedAt = e.nextToken(cur.Token)
		ok, err := r.UpdateStoryIfToken(ctx, s, cur.Token)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("restore story %s: row changed inside transaction", id)
		}
		if err := r.DeleteTasks(ctx, id); err != nil {
			return "", err
		}
		if err := restoreTree(ctx, r, id, snap.Tasks); err != nil {
			return "", err
		}
		return s.UpdatedAt, dropOrphanLeases(ctx, r, id, snap.Tasks)
	},
}

// dropOrphanLeases removes leases on root indices the restored tree no longer has.
func dropOrphanLeases(ctx context.Context, r repo.Repo, storyID string, roots []domain.RootTask) error {
	held, err := r.ListReservations(ctx, repo.ReservationFilters{StoryID: storyID})
	if err != nil {
		return err
	}
	keep := make(map[int]bool, len(roots))
	for _, t := range roots {
		keep[t.Idx] = true
	}
	var gone []int
	for _, res := range held {
		if !keep[res.TaskIdx] {
			gone = append(gone, res.TaskIdx)
		}
	}
	return r.DeleteReservationsFor(ctx, storyID, gone)
}

var docVersions = versionKind[DocKey]{
	entity: "planning_doc",
	table:  repo.DocVersions,
	key:    func(k DocKey) []any { return []any{k.ProjectID, k.Type} },
	load: func(ctx context.Context, _ Engine, r repo.Repo, k DocKey) (currentRow, error) {
		d, err := r.GetPlanningDoc(ctx, k.ProjectID, k.Type)
		if errors.Is(err, repo.ErrNotFound) {
			nf := apperr.NotFound("planning doc %s not found in project %s", k.Type, k.ProjectID)
			nf.Details = map[string]any{"type": k.Type}
			return currentRow{}, nf
		}
		return currentRow{ID: d.ID, ProjectID: d.ProjectID, Token: d.UpdatedAt}, err
	},
	capture: func(ctx context.Context, _ Engine, r repo.Repo, k DocKey, label, at string) error {
		d, err := r.GetPlanningDoc(ctx, k.ProjectID, k.Type)
		if err != nil {
			return err
		}
		return r.InsertDocVersion(ctx, k.ProjectID, k.Type, label, repo.DocSnapshot{Content: d.Content, Summary: d.Summary, CreatedAt: at})
	},
	restore: func(ctx context.Context, e Engine, r repo.Repo, cur currentRow, k DocKey, label string) (string, error) {
		snap, err := r.GetDocVersion(ctx, k.ProjectID, k.Type, label)
		if err != nil {
			return "", err
		}
		d, err := r.GetPlanningDoc(ctx, k.ProjectID, k.Type)
		if err != nil {
			return "", err
		}
		d.Content, d.Summary = snap.Content, snap.Summary
		d.UpdatedAt = e.nextToken(cur.Token)
		ok, err := r.UpdatePlanningDocIfToken(ctx, d, cur.Token)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("restore planning doc %s: row changed inside transaction", d.ID)
		}
		return d.UpdatedAt, nil
	},
}

func (e Engine) SnapshotEpic(ctx context.Context, k EpicKey, label, actor string) (domain.VersionInfo, error) {
	return epicVersions.snapshot(ctx, e, k, label, actor)
}

func (e Engine) ListEpicVersions(ctx context.Context, k EpicKey) ([]domain.VersionInfo, error) {
	return epicVersions.list(ctx, e, k)
}

func (e Engine) SwitchEpicVersion(ctx context.Context, k EpicKey, label, actor string) (WriteResult, error) {
	return epicVersions.switchTo(ctx, e, k, label, actor)
}

// SnapshotStory captures the story fields and its whole task tree.
func (e Engine) SnapshotStory(ctx context.Context, storyID, label, actor string) (domain.VersionInfo, error) {
	return storyVersions.snapshot(ctx, e, storyID, label, actor)
}

func (e Engine) ListStoryVersions(ctx context.Context, storyID string) ([]domain.VersionInfo, error) {
	return storyVersions.list(ctx, e, storyID)
}

// SwitchStoryVersion replaces the story and rebuilds its task tree exactly
// as captured. Leases on root indices missing from the snapshot are dropped.
func (e Engine) SwitchStoryVersion(ctx context.Context, storyID, label, actor string) (WriteResult, error) {
	return storyVersions.switchTo(ctx, e, storyID, label, actor)
}

func (e Engine) SnapshotPlanningDoc(ctx context.Context, k DocKey, label, actor string) (domain.VersionInfo, error) {
	if err := e.checkDocType(k.Type); err != nil {
		return domain.VersionInfo{}, err
	}
	return docVersions.snapshot(ctx, e, k, label, actor)
}

func (e Engine) ListPlanningDocVersions(ctx context.Context, k DocKey) ([]domain.VersionInfo, error) {
	if err := e.checkDocType(k.Type); err != nil {
		return nil, err
	}
	return docVersions.list(ctx, e, k)
}

func (e Engine) SwitchPlanningDocVersion(ctx context.Context, k DocKey, label, actor string) (WriteResult, error) {
	if err := e.checkDocType(k.Type); err != nil {
		return WriteResult{}, err
	}
	return docVersions.switchTo(ctx, e, k, label, actor)
}
