package engine

import (
	"context"
	"database/sql"
	"strings"

	"planline/internal/domain"
	"planline/internal/events"
)

// SetCurrentSprint names the project's active sprint. An empty label clears it.
// It returns the stored label, nil when cleared.
func (e Engine) SetCurrentSprint(ctx context.Context, projectID, label, actor string) (*string, error) {
	label = strings.TrimSpace(label)
	err := e.tx(ctx, func(tx *sql.Tx) error {
		r := e.Repo.WithTx(tx)
		if _, err := e.loadProject(ctx, r, projectID); err != nil {
			return err
		}
		if err := r.SetCurrentSprint(ctx, projectID, label, e.stamp()); err != nil {
			return err
		}
		return e.record(ctx, tx, events.Entry{Type: "sprint.current_set", ProjectID: projectID, EntityKind: "project", EntityID: projectID, ActorID: actor},
			events.EventPayload{"current_sprint": label})
	})
	if err != nil || label == "" {
		return nil, err
	}
	return &label, nil
}

// SetStorySprint assigns a story to a sprint label. An empty label removes
// the assignment. The story's version token is left alone.
func (e Engine) SetStorySprint(ctx context.Context, storyID, label, actor string) error {
	label = strings.TrimSpace(label)
	return e.tx(ctx, func(tx *sql.Tx) error {
		r := e.Repo.WithTx(tx)
		s, err := e.loadStory(ctx, r, storyID)
		if err != nil {
			return err
		}
		if label == "" {
			err = r.ClearStorySprint(ctx, storyID)
		} else {
			err = r.SetStorySprint(ctx, storyID, label, e.stamp())
		}
		if err != nil {
			return err
		}
		return e.record(ctx, tx, events.Entry{Type: "story.sprint_set", ProjectID: s.ProjectID, EntityKind: "story", EntityID: storyID, ActorID: actor},
			events.EventPayload{"sprint": label})
	})
}

// ListStoriesBySprint returns the stories assigned to label, ordered by key.
func (e Engine) ListStoriesBySprint(ctx context.Context, projectID, label string) ([]domain.StoryRef, error) {
	if err := required("sprint_label", label); err != nil {
		return nil, err
	}
	if _, err := e.loadProject(ctx, e.Repo, projectID); err != nil {
		return nil, err
	}
	return e.Repo.ListStoriesBySprint(ctx, projectID, label)
}
