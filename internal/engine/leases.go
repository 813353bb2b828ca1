package engine

import (
	"context"
	"database/sql"
	"errors"

	"planline/internal/apperr"
	"planline/internal/domain"
	"planline/internal/events"
	"planline/internal/repo"
)

type ReserveOptions struct {
	StoryID string
	TaskIdx int
	Agent   string
	// TTLSeconds of zero or less uses the configured default.
	TTLSeconds int
}

// ReserveTask claims exclusive ownership of a root task until the lease
// expires. The holder may renew; anyone else gets a conflict naming the
// holder until the lease has expired.
func (e Engine) ReserveTask(ctx context.Context, opts ReserveOptions) (domain.Reservation, error) {
	if err := required("agent", opts.Agent); err != nil {
		return domain.Reservation{}, err
	}
	if opts.TaskIdx <= 0 {
		return domain.Reservation{}, apperr.InvalidArgument("task_idx is 1-based")
	}
	ttl := e.Config.LeaseTTL(opts.TTLSeconds)
	var out domain.Reservation
	err := e.tx(ctx, func(tx *sql.Tx) error {
		r := e.Repo.WithTx(tx)
		s, err := e.loadStory(ctx, r, opts.StoryID)
		if err != nil {
			return err
		}
		if _, err := e.loadRootTask(ctx, r, opts.StoryID, opts.TaskIdx); err != nil {
			return err
		}
		now := e.now()
		res := domain.Reservation{
			ProjectID: s.ProjectID,
			StoryID:   opts.StoryID,
			TaskIdx:   opts.TaskIdx,
			Agent:     opts.Agent,
			ExpiresAt: domain.FormatTime(now.Add(ttl)),
			CreatedAt: domain.FormatTime(now),
		}
		ok, err := r.TryReserve(ctx, res, domain.FormatTime(now))
		if err != nil {
			return err
		}
		if !ok {
			held, err := r.GetReservation(ctx, opts.StoryID, opts.TaskIdx)
			if err != nil {
				return err
			}
			return apperr.Conflict(map[string]any{
				"reserved_by": held.Agent,
				"expires_at":  held.ExpiresAt,
			}, "task %d of story %s is reserved by %s", opts.TaskIdx, opts.StoryID, held.Agent)
		}
		if out, err = r.GetReservation(ctx, opts.StoryID, opts.TaskIdx); err != nil {
			return err
		}
		return e.record(ctx, tx, events.Entry{Type: "task.reserved", ProjectID: s.ProjectID, EntityKind: "story", EntityID: opts.StoryID, ActorID: opts.Agent},
			events.EventPayload{"task_idx": opts.TaskIdx, "expires_at": out.ExpiresAt})
	})
	return out, err
}

// ReleaseTask drops a lease held by agent. Releasing an absent or expired
// lease succeeds without effect; released reports whether a live lease was removed.
func (e Engine) ReleaseTask(ctx context.Context, storyID string, taskIdx int, agent string) (bool, error) {
	if err := required("agent", agent); err != nil {
		return false, err
	}
	var released bool
	err := e.tx(ctx, func(tx *sql.Tx) error {
		released = false
		r := e.Repo.WithTx(tx)
		held, err := r.GetReservation(ctx, storyID, taskIdx)
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		now := e.stamp()
		if held.ExpiresAt <= now {
			return r.DeleteReservation(ctx, storyID, taskIdx)
		}
		if held.Agent != agent {
			return apperr.NotOwner(map[string]any{
				"reserved_by": held.Agent,
				"expires_at":  held.ExpiresAt,
			}, "task %d of story %s is reserved by %s", taskIdx, storyID, held.Agent)
		}
		if err := r.DeleteReservation(ctx, storyID, taskIdx); err != nil {
			return err
		}
		released = true
		return e.record(ctx, tx, events.Entry{Type: "task.released", ProjectID: held.ProjectID, EntityKind: "story", EntityID: storyID, ActorID: agent},
			events.EventPayload{"task_idx": taskIdx})
	})
	return released, err
}

// ListReservations removes expired leases and returns the live ones.
func (e Engine) ListReservations(ctx context.Context, f repo.ReservationFilters) ([]domain.Reservation, error) {
	var out []domain.Reservation
	err := e.tx(ctx, func(tx *sql.Tx) error {
		r := e.Repo.WithTx(tx)
		if _, err := r.SweepExpired(ctx, e.stamp()); err != nil {
			return err
		}
		var err error
		out, err = r.ListReservations(ctx, f)
		return err
	})
	return out, err
}

// SweepLeases deletes every expired lease and reports how many were removed.
func (e Engine) SweepLeases(ctx context.Context) (int64, error) {
	var n int64
	err := e.tx(ctx, func(tx *sql.Tx) error {
		var err error
		n, err = e.Repo.WithTx(tx).SweepExpired(ctx, e.stamp())
		return err
	})
	return n, err
}
