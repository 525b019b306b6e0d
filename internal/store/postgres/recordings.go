package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reflector-media/reflector/internal/store"
	"github.com/reflector-media/reflector/pkg/types"
)

// uniqueViolation is the PostgreSQL error code for a unique constraint hit.
const uniqueViolation = "23505"

// RecordingStoreImpl implements [store.RecordingStore] on PostgreSQL.
// Obtain one via [Store.Recordings].
type RecordingStoreImpl struct {
	pool *pgxpool.Pool
}

const recordingColumns = `
	id, bucket_name, room_name, object_key, track_keys,
	recorded_at, meeting_id, status`

func scanRecording(row rowScanner) (*types.Recording, error) {
	var (
		r        types.Recording
		trackRaw []byte
	)
	err := row.Scan(
		&r.ID, &r.BucketName, &r.RoomName, &r.ObjectKey, &trackRaw,
		&r.RecordedAt, &r.MeetingID, &r.Status,
	)
	if err != nil {
		return nil, err
	}
	if len(trackRaw) > 0 {
		if err := json.Unmarshal(trackRaw, &r.TrackKeys); err != nil {
			return nil, fmt.Errorf("decode track keys: %w", err)
		}
	}
	return &r, nil
}

// Get implements [store.RecordingStore].
func (s *RecordingStoreImpl) Get(ctx context.Context, id string) (*types.Recording, error) {
	q := `SELECT ` + recordingColumns + ` FROM recordings WHERE id = $1`
	r, err := scanRecording(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("recording store: get: %w", err)
	}
	return r, nil
}

// TryCreateWithMeeting implements [store.RecordingStore]. The primary key on
// id is the dispatch lock: under concurrent pollers exactly one INSERT
// succeeds, the rest hit the unique violation and report false.
func (s *RecordingStoreImpl) TryCreateWithMeeting(ctx context.Context, rec *types.Recording) (bool, error) {
	if rec.MeetingID == nil {
		return false, fmt.Errorf("recording store: try create: meeting id must not be nil")
	}
	trackKeys, err := json.Marshal(orEmptySlice(rec.TrackKeys))
	if err != nil {
		return false, fmt.Errorf("recording store: encode track keys: %w", err)
	}

	const q = `
		INSERT INTO recordings
		    (id, bucket_name, room_name, object_key, track_keys,
		     recorded_at, meeting_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = s.pool.Exec(ctx, q,
		rec.ID, rec.BucketName, rec.RoomName, rec.ObjectKey, trackKeys,
		rec.RecordedAt, rec.MeetingID, types.RecordingPending,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return false, nil
		}
		return false, fmt.Errorf("recording store: try create: %w", err)
	}
	return true, nil
}

// CreateOrphan implements [store.RecordingStore]. ON CONFLICT DO NOTHING
// makes a second discovery of the same orphan a no-op.
func (s *RecordingStoreImpl) CreateOrphan(ctx context.Context, rec *types.Recording) error {
	trackKeys, err := json.Marshal(orEmptySlice(rec.TrackKeys))
	if err != nil {
		return fmt.Errorf("recording store: encode track keys: %w", err)
	}

	const q = `
		INSERT INTO recordings
		    (id, bucket_name, room_name, object_key, track_keys,
		     recorded_at, meeting_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, NULL, $7)
		ON CONFLICT (id) DO NOTHING`

	_, err = s.pool.Exec(ctx, q,
		rec.ID, rec.BucketName, rec.RoomName, rec.ObjectKey, trackKeys,
		rec.RecordedAt, types.RecordingOrphan,
	)
	if err != nil {
		return fmt.Errorf("recording store: create orphan: %w", err)
	}
	return nil
}

// MarkCompleted implements [store.RecordingStore].
func (s *RecordingStoreImpl) MarkCompleted(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE recordings SET status = $2 WHERE id = $1`, id, types.RecordingCompleted)
	if err != nil {
		return fmt.Errorf("recording store: mark completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// RecordingRequestStoreImpl implements [store.RecordingRequestStore] on
// PostgreSQL. Obtain one via [Store.RecordingRequests].
type RecordingRequestStoreImpl struct {
	pool *pgxpool.Pool
}

// Append implements [store.RecordingRequestStore]. A duplicate recording_id
// is a no-op: the platform occasionally re-emits the start webhook.
func (s *RecordingRequestStoreImpl) Append(ctx context.Context, req *types.RecordingRequest) error {
	const q = `
		INSERT INTO recording_requests
		    (recording_id, meeting_id, instance_id, type, requested_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (recording_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, q,
		req.RecordingID, req.MeetingID, req.InstanceID, req.Type, req.RequestedAt)
	if err != nil {
		return fmt.Errorf("recording request store: append: %w", err)
	}
	return nil
}

// GetByRecordingID implements [store.RecordingRequestStore].
func (s *RecordingRequestStoreImpl) GetByRecordingID(ctx context.Context, recordingID string) (*types.RecordingRequest, error) {
	const q = `
		SELECT recording_id, meeting_id, instance_id, type, requested_at
		FROM   recording_requests
		WHERE  recording_id = $1`

	var req types.RecordingRequest
	err := s.pool.QueryRow(ctx, q, recordingID).Scan(
		&req.RecordingID, &req.MeetingID, &req.InstanceID, &req.Type, &req.RequestedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("recording request store: get: %w", err)
	}
	return &req, nil
}

// GetByMeetingID implements [store.RecordingRequestStore].
func (s *RecordingRequestStoreImpl) GetByMeetingID(ctx context.Context, meetingID string) ([]types.RecordingRequest, error) {
	const q = `
		SELECT recording_id, meeting_id, instance_id, type, requested_at
		FROM   recording_requests
		WHERE  meeting_id = $1
		ORDER  BY requested_at, recording_id`

	rows, err := s.pool.Query(ctx, q, meetingID)
	if err != nil {
		return nil, fmt.Errorf("recording request store: by meeting: %w", err)
	}
	defer rows.Close()

	var reqs []types.RecordingRequest
	for rows.Next() {
		var req types.RecordingRequest
		err := rows.Scan(
			&req.RecordingID, &req.MeetingID, &req.InstanceID, &req.Type, &req.RequestedAt)
		if err != nil {
			return nil, fmt.Errorf("recording request store: by meeting: %w", err)
		}
		reqs = append(reqs, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recording request store: by meeting: %w", err)
	}
	return reqs, nil
}
