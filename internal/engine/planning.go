package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"unicode/utf8"

	"planline/internal/apperr"
	"planline/internal/domain"
	"planline/internal/events"
	"planline/internal/repo"
)

// PlanningDocView is a planning document as returned to callers. A document
// that was never written is reported with Exists false and empty content.
type PlanningDocView struct {
	ProjectID string `json:"project_id"`
	Type      string `json:"type"`
	Exists    bool   `json:"exists"`
	Content   string `json:"content,omitempty"`
	Summary   string `json:"summary,omitempty"`
	UpdatedAt string `json:"updated_at"`
}

func (e Engine) checkDocType(docType string) error {
	if err := required("type", docType); err != nil {
		return err
	}
	if !e.Config.DocTypeAllowed(docType) {
		return apperr.InvalidArgument("planning doc type %q is not allowed", docType)
	}
	return nil
}

// GetPlanningDoc reads the current document. format "summary" omits the content.
func (e Engine) GetPlanningDoc(ctx context.Context, projectID, docType, format string) (PlanningDocView, error) {
	if err := e.checkDocType(docType); err != nil {
		return PlanningDocView{}, err
	}
	switch format {
	case "", "full", "summary":
	default:
		return PlanningDocView{}, apperr.InvalidArgument("format must be full or summary")
	}
	if _, err := e.loadProject(ctx, e.Repo, projectID); err != nil {
		return PlanningDocView{}, err
	}
	out := PlanningDocView{ProjectID: projectID, Type: docType}
	d, err := e.Repo.GetPlanningDoc(ctx, projectID, docType)
	if errors.Is(err, repo.ErrNotFound) {
		return out, nil
	}
	if err != nil {
		return out, err
	}
	out.Exists = true
	out.Summary = d.Summary
	out.UpdatedAt = d.UpdatedAt
	if format != "summary" {
		out.Content = d.Content
	}
	return out, nil
}

type UpdatePlanningDocOptions struct {
	ProjectID         string
	Type              string
	Content           string
	GenerateSummary   bool
	ExpectedUpdatedAt string
	Actor             string
}

// UpdatePlanningDoc replaces the document content, creating it on first write.
// Without GenerateSummary the stored summary is kept.
func (e Engine) UpdatePlanningDoc(ctx context.Context, opts UpdatePlanningDocOptions) (WriteResult, error) {
	if err := e.checkDocType(opts.Type); err != nil {
		return WriteResult{}, err
	}
	var out WriteResult
	err := e.tx(ctx, func(tx *sql.Tx) error {
		r := e.Repo.WithTx(tx)
		if _, err := e.loadProject(ctx, r, opts.ProjectID); err != nil {
			return err
		}
		id := repo.PlanningDocID(opts.ProjectID, opts.Type)
		cur, err := r.GetPlanningDoc(ctx, opts.ProjectID, opts.Type)
		created := errors.Is(err, repo.ErrNotFound)
		if err != nil && !created {
			return err
		}
		if err := checkToken("planning doc", id, opts.ExpectedUpdatedAt, cur.UpdatedAt); err != nil {
			return err
		}
		d := cur
		d.Content = opts.Content
		if opts.GenerateSummary {
			d.Summary = summarize(opts.Content, e.Config.Planning.SummaryLength)
		}
		if created {
			now := e.stamp()
			d = domain.PlanningDoc{ID: id, ProjectID: opts.ProjectID, Type: opts.Type, Content: d.Content, Summary: d.Summary, CreatedAt: now, UpdatedAt: now}
			if err := r.InsertPlanningDoc(ctx, d); err != nil {
				if errors.Is(err, repo.ErrDuplicate) {
					return tokenConflict("planning doc", id, "")
				}
				return err
			}
		} else {
			d.UpdatedAt = e.nextToken(cur.UpdatedAt)
			ok, err := r.UpdatePlanningDocIfToken(ctx, d, cur.UpdatedAt)
			if err != nil {
				return err
			}
			if !ok {
				latest, err := r.GetPlanningDoc(ctx, opts.ProjectID, opts.Type)
				if err != nil {
					return err
				}
				return tokenConflict("planning doc", id, latest.UpdatedAt)
			}
		}
		out = WriteResult{ID: id, UpdatedAt: d.UpdatedAt}
		return e.record(ctx, tx, events.Entry{Type: "planning_doc.updated", ProjectID: opts.ProjectID, EntityKind: "planning_doc", EntityID: id, ActorID: opts.Actor},
			events.EventPayload{"type": opts.Type, "length": len(d.Content), "created": created})
	})
	return out, err
}

// summarize collapses whitespace and cuts the text at limit runes.
func summarize(content string, limit int) string {
	flat := strings.Join(strings.Fields(content), " ")
	if limit <= 0 || utf8.RuneCountInString(flat) <= limit {
		return flat
	}
	runes := []rune(flat)
	return strings.TrimRight(string(runes[:limit]), " ") + "..."
}
