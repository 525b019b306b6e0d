package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reflector-media/reflector/internal/store"
	"github.com/reflector-media/reflector/pkg/types"
)

// MeetingStoreImpl implements [store.MeetingStore] on PostgreSQL.
// Obtain one via [Store.Meetings].
type MeetingStoreImpl struct {
	pool *pgxpool.Pool
}

const meetingColumns = `
	id, room_name, room_id, platform, start_date, end_date,
	num_clients, is_active, composed_video_key`

func scanMeeting(row rowScanner) (*types.Meeting, error) {
	var (
		m       types.Meeting
		endDate *time.Time
	)
	err := row.Scan(
		&m.ID, &m.RoomName, &m.RoomID, &m.Platform, &m.StartDate, &endDate,
		&m.NumClients, &m.IsActive, &m.ComposedVideoKey,
	)
	if err != nil {
		return nil, err
	}
	if endDate != nil {
		m.EndDate = *endDate
	}
	return &m, nil
}

// Get implements [store.MeetingStore].
func (s *MeetingStoreImpl) Get(ctx context.Context, id string) (*types.Meeting, error) {
	q := `SELECT ` + meetingColumns + ` FROM meetings WHERE id = $1`
	m, err := scanMeeting(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("meeting store: get: %w", err)
	}
	return m, nil
}

// Create implements [store.MeetingStore].
func (s *MeetingStoreImpl) Create(ctx context.Context, m *types.Meeting) error {
	const q = `
		INSERT INTO meetings
		    (id, room_name, room_id, platform, start_date, end_date,
		     num_clients, is_active, composed_video_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	var endDate *time.Time
	if !m.EndDate.IsZero() {
		endDate = &m.EndDate
	}
	_, err := s.pool.Exec(ctx, q,
		m.ID, m.RoomName, m.RoomID, m.Platform, m.StartDate, endDate,
		m.NumClients, m.IsActive, m.ComposedVideoKey,
	)
	if err != nil {
		return fmt.Errorf("meeting store: create: %w", err)
	}
	return nil
}

// ListActive implements [store.MeetingStore].
func (s *MeetingStoreImpl) ListActive(ctx context.Context) ([]types.Meeting, error) {
	q := `SELECT ` + meetingColumns + ` FROM meetings WHERE is_active ORDER BY start_date`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("meeting store: list active: %w", err)
	}
	defer rows.Close()

	var meetings []types.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, fmt.Errorf("meeting store: list active scan: %w", err)
		}
		meetings = append(meetings, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("meeting store: list active: %w", err)
	}
	return meetings, nil
}

// Deactivate implements [store.MeetingStore].
func (s *MeetingStoreImpl) Deactivate(ctx context.Context, id string, endDate time.Time) error {
	const q = `
		UPDATE meetings
		SET    is_active = FALSE, end_date = $2, num_clients = 0
		WHERE  id = $1`
	tag, err := s.pool.Exec(ctx, q, id, endDate)
	if err != nil {
		return fmt.Errorf("meeting store: deactivate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// SetCloudRecordingIfMissing implements [store.MeetingStore]. The IS NULL
// guard makes the first write win; concurrent and repeated writes for the
// same meeting match zero rows and report false.
func (s *MeetingStoreImpl) SetCloudRecordingIfMissing(ctx context.Context, id, objectKey string) (bool, error) {
	const q = `
		UPDATE meetings
		SET    composed_video_key = $2
		WHERE  id = $1 AND composed_video_key IS NULL`
	tag, err := s.pool.Exec(ctx, q, id, objectKey)
	if err != nil {
		return false, fmt.Errorf("meeting store: set cloud recording: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// FindByRoomNameAround implements [store.MeetingStore]. Boundaries are
// inclusive; recordings slightly before a meeting start are legal (clock
// skew, early join).
func (s *MeetingStoreImpl) FindByRoomNameAround(ctx context.Context, roomName string, at time.Time, window time.Duration) ([]types.Meeting, error) {
	q := `SELECT ` + meetingColumns + `
		FROM  meetings
		WHERE room_name = $1
		  AND start_date >= $2
		  AND start_date <= $3
		ORDER BY start_date`

	rows, err := s.pool.Query(ctx, q, roomName, at.Add(-window), at.Add(window))
	if err != nil {
		return nil, fmt.Errorf("meeting store: find by room name: %w", err)
	}
	defer rows.Close()

	var meetings []types.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, fmt.Errorf("meeting store: find by room name scan: %w", err)
		}
		meetings = append(meetings, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("meeting store: find by room name: %w", err)
	}
	return meetings, nil
}
