package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reflector-media/reflector/pkg/types"
)

// CalendarStoreImpl implements [store.CalendarStore] on PostgreSQL.
// Obtain one via [Store.Calendar].
type CalendarStoreImpl struct {
	pool *pgxpool.Pool
}

// Upsert implements [store.CalendarStore]. Re-seeing an event resurrects it if
// a previous sync had soft-deleted it.
func (s *CalendarStoreImpl) Upsert(ctx context.Context, ev *types.CalendarEvent) error {
	const q = `
		INSERT INTO calendar_events
		    (id, room_id, ics_uid, title, start_time, end_time, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULL)
		ON CONFLICT (room_id, ics_uid) DO UPDATE
		SET title = EXCLUDED.title,
		    start_time = EXCLUDED.start_time,
		    end_time = EXCLUDED.end_time,
		    deleted_at = NULL`

	_, err := s.pool.Exec(ctx, q,
		ev.ID, ev.RoomID, ev.ICSUID, ev.Title, ev.StartTime, ev.EndTime)
	if err != nil {
		return fmt.Errorf("calendar store: upsert: %w", err)
	}
	return nil
}

// SoftDeleteMissing implements [store.CalendarStore].
func (s *CalendarStoreImpl) SoftDeleteMissing(ctx context.Context, roomID string, keep []string) (int, error) {
	const q = `
		UPDATE calendar_events
		SET    deleted_at = now()
		WHERE  room_id = $1
		  AND  deleted_at IS NULL
		  AND  NOT (ics_uid = ANY($2))`

	tag, err := s.pool.Exec(ctx, q, roomID, orEmptySlice(keep))
	if err != nil {
		return 0, fmt.Errorf("calendar store: soft delete missing: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListUpcoming implements [store.CalendarStore]. Soft-deleted events are
// excluded; results are ordered by start time.
func (s *CalendarStoreImpl) ListUpcoming(ctx context.Context, roomID string, from time.Time) ([]types.CalendarEvent, error) {
	const q = `
		SELECT id, room_id, ics_uid, title, start_time, end_time, deleted_at
		FROM   calendar_events
		WHERE  room_id = $1 AND deleted_at IS NULL AND end_time >= $2
		ORDER BY start_time`

	rows, err := s.pool.Query(ctx, q, roomID, from)
	if err != nil {
		return nil, fmt.Errorf("calendar store: list upcoming: %w", err)
	}
	defer rows.Close()

	var events []types.CalendarEvent
	for rows.Next() {
		var ev types.CalendarEvent
		err := rows.Scan(&ev.ID, &ev.RoomID, &ev.ICSUID, &ev.Title,
			&ev.StartTime, &ev.EndTime, &ev.DeletedAt)
		if err != nil {
			return nil, fmt.Errorf("calendar store: list upcoming: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("calendar store: list upcoming: %w", err)
	}
	return events, nil
}
