package engine

import (
	"context"
	"database/sql"

	"planline/internal/domain"
	"planline/internal/events"
	"planline/internal/repo"
)

type LogActionOptions struct {
	ProjectID string
	StoryID   string
	Type      string
	Content   string
	Actor     string
}

// LogAction appends a free-form entry to the activity log.
func (e Engine) LogAction(ctx context.Context, opts LogActionOptions) (int64, error) {
	if err := required("type", opts.Type); err != nil {
		return 0, err
	}
	if err := required("content", opts.Content); err != nil {
		return 0, err
	}
	var id int64
	err := e.tx(ctx, func(tx *sql.Tx) error {
		r := e.Repo.WithTx(tx)
		if _, err := e.loadProject(ctx, r, opts.ProjectID); err != nil {
			return err
		}
		entry := events.Entry{Type: "action." + opts.Type, ProjectID: opts.ProjectID, EntityKind: "project", EntityID: opts.ProjectID, ActorID: opts.Actor}
		if opts.StoryID != "" {
			if _, err := e.loadStory(ctx, r, opts.StoryID); err != nil {
				return err
			}
			entry.EntityKind, entry.EntityID = "story", opts.StoryID
		}
		w := e.Events
		w.Now = e.now
		var err error
		id, err = w.Append(ctx, tx, entry, events.EventPayload{"content": opts.Content})
		return err
	})
	return id, err
}

// ListEvents returns matching events newest first.
func (e Engine) ListEvents(ctx context.Context, f repo.EventFilters) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, f)
}
