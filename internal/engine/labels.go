package engine

import (
	"context"
	"database/sql"
	"sort"
	"strings"

	"planline/internal/apperr"
	"planline/internal/domain"
	"planline/internal/events"
)

// SetStoryLabels replaces the label set of a story and returns it sorted.
// Duplicates collapse; blank labels are rejected.
func (e Engine) SetStoryLabels(ctx context.Context, storyID string, labels []string, actor string) ([]string, error) {
	set := map[string]bool{}
	clean := make([]string, 0, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			return nil, apperr.InvalidArgument("labels must not be blank")
		}
		if !set[l] {
			set[l] = true
			clean = append(clean, l)
		}
	}
	sort.Strings(clean)
	err := e.tx(ctx, func(tx *sql.Tx) error {
		r := e.Repo.WithTx(tx)
		s, err := e.loadStory(ctx, r, storyID)
		if err != nil {
			return err
		}
		if err := r.ReplaceStoryLabels(ctx, storyID, clean); err != nil {
			return err
		}
		return e.record(ctx, tx, events.Entry{Type: "story.labels_set", ProjectID: s.ProjectID, EntityKind: "story", EntityID: storyID, ActorID: actor},
			events.EventPayload{"labels": clean})
	})
	if err != nil {
		return nil, err
	}
	return clean, nil
}

func (e Engine) ListStoryLabels(ctx context.Context, storyID string) ([]string, error) {
	if _, err := e.loadStory(ctx, e.Repo, storyID); err != nil {
		return nil, err
	}
	return e.Repo.ListStoryLabels(ctx, storyID)
}

// SearchByLabel lists the project's stories carrying label, most recently
// updated first.
func (e Engine) SearchByLabel(ctx context.Context, projectID, label string) ([]domain.StoryRef, error) {
	if err := required("label", label); err != nil {
		return nil, err
	}
	if _, err := e.loadProject(ctx, e.Repo, projectID); err != nil {
		return nil, err
	}
	return e.Repo.StoriesByLabel(ctx, projectID, strings.TrimSpace(label))
}
