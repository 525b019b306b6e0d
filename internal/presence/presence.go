// Package presence reconciles locally tracked participant sessions against
// the conferencing platform's room-presence API.
//
// The platform is the truth when it answers: session rows go stale when a
// browser dies without a leave event. A meeting is deactivated only when
// the platform reports it empty, someone actually attended, and no join
// handshake is in flight (see [PendingJoins]).
package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/reflector-media/reflector/internal/store"
	"github.com/reflector-media/reflector/pkg/types"
)

// ErrRoomNotFound is returned by [Platform] implementations when the room no
// longer exists on the platform side.
var ErrRoomNotFound = errors.New("presence: room not found")

// Platform is the conferencing platform's presence surface.
type Platform interface {
	// ParticipantCount returns the number of participants currently in the
	// room. A deleted room returns [ErrRoomNotFound].
	ParticipantCount(ctx context.Context, roomName string) (int, error)

	// DeleteRoom removes the platform room. Deleting a missing room must
	// succeed; cleanup is idempotent.
	DeleteRoom(ctx context.Context, roomName string) error
}

// Reconciler sweeps active meetings and deactivates the ones the platform
// reports empty.
type Reconciler struct {
	meetings store.MeetingStore
	sessions store.SessionStore
	platform Platform
	pending  *PendingJoins
	log      *slog.Logger
}

// NewReconciler creates a Reconciler. pending may be nil, which disables the
// join grace window.
func NewReconciler(meetings store.MeetingStore, sessions store.SessionStore, platform Platform, pending *PendingJoins, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{
		meetings: meetings,
		sessions: sessions,
		platform: platform,
		pending:  pending,
		log:      log.With("component", "presence"),
	}
}

// Run sweeps on the given interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := r.Sweep(ctx); err != nil {
			r.log.Error("presence sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep reconciles every active meeting once. Per-meeting failures are
// logged and do not stop the sweep.
func (r *Reconciler) Sweep(ctx context.Context) error {
	active, err := r.meetings.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("presence: list active meetings: %w", err)
	}
	for _, m := range active {
		if err := r.reconcileMeeting(ctx, m); err != nil {
			r.log.Error("meeting reconciliation failed",
				"meeting_id", m.ID, "room_name", m.RoomName, "error", err)
		}
	}
	return nil
}

func (r *Reconciler) reconcileMeeting(ctx context.Context, m types.Meeting) error {
	count, err := r.platform.ParticipantCount(ctx, m.RoomName)
	switch {
	case errors.Is(err, ErrRoomNotFound):
		// The room is already gone; treat as empty.
		count = 0
	case err != nil:
		// Platform unreachable: keep the meeting alive while any session
		// still looks open. Wrongly deactivating cuts off live recording.
		open, serr := r.sessions.CountOpen(ctx, m.ID)
		if serr != nil {
			return fmt.Errorf("presence: count open sessions: %w", serr)
		}
		if open > 0 {
			r.log.Warn("platform unavailable, keeping meeting active",
				"meeting_id", m.ID, "open_sessions", open, "error", err)
			return nil
		}
		return fmt.Errorf("presence: participant count for %s: %w", m.RoomName, err)
	}

	if count > 0 {
		return nil
	}

	total, err := r.sessions.CountTotal(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("presence: count sessions: %w", err)
	}
	if total == 0 {
		// Nobody ever joined; the meeting may still be warming up.
		return nil
	}

	if r.pending != nil {
		joining, err := r.pending.Any(ctx, m.ID)
		if err != nil {
			return fmt.Errorf("presence: pending joins for %s: %w", m.ID, err)
		}
		if joining {
			r.log.Debug("join in flight, keeping meeting active", "meeting_id", m.ID)
			return nil
		}
	}

	now := time.Now().UTC()
	if err := r.meetings.Deactivate(ctx, m.ID, now); err != nil {
		return fmt.Errorf("presence: deactivate meeting %s: %w", m.ID, err)
	}
	closed, err := r.sessions.CloseOpen(ctx, m.ID, now)
	if err != nil {
		return fmt.Errorf("presence: close sessions of %s: %w", m.ID, err)
	}

	// Best effort only; the platform cleaning up on its own is fine.
	if err := r.platform.DeleteRoom(ctx, m.RoomName); err != nil && !errors.Is(err, ErrRoomNotFound) {
		r.log.Warn("platform room delete failed",
			"meeting_id", m.ID, "room_name", m.RoomName, "error", err)
	}

	r.log.Info("meeting deactivated",
		"meeting_id", m.ID, "room_name", m.RoomName, "closed_sessions", closed)
	return nil
}
