package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reflector-media/reflector/internal/store"
	"github.com/reflector-media/reflector/pkg/types"
)

// RoomStoreImpl implements [store.RoomStore] on PostgreSQL.
// Obtain one via [Store.Rooms].
type RoomStoreImpl struct {
	pool *pgxpool.Pool
}

const roomColumns = `id, name, user_id, platform, recording_type,
	recording_trigger, is_shared, webhook_url, ics_url`

func scanRoom(row rowScanner) (*types.Room, error) {
	var r types.Room
	err := row.Scan(&r.ID, &r.Name, &r.UserID, &r.Platform, &r.RecordingType,
		&r.RecordingTrigger, &r.IsShared, &r.WebhookURL, &r.ICSURL)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Get implements [store.RoomStore].
func (s *RoomStoreImpl) Get(ctx context.Context, id string) (*types.Room, error) {
	q := `SELECT ` + roomColumns + ` FROM rooms WHERE id = $1`
	r, err := scanRoom(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("room store: get: %w", err)
	}
	return r, nil
}

// GetByName implements [store.RoomStore].
func (s *RoomStoreImpl) GetByName(ctx context.Context, name string) (*types.Room, error) {
	q := `SELECT ` + roomColumns + ` FROM rooms WHERE name = $1`
	r, err := scanRoom(s.pool.QueryRow(ctx, q, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("room store: get by name: %w", err)
	}
	return r, nil
}

// Create implements [store.RoomStore].
func (s *RoomStoreImpl) Create(ctx context.Context, r *types.Room) error {
	const q = `
		INSERT INTO rooms
		    (id, name, user_id, platform, recording_type, recording_trigger,
		     is_shared, webhook_url, ics_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.pool.Exec(ctx, q,
		r.ID, r.Name, r.UserID, r.Platform, r.RecordingType,
		r.RecordingTrigger, r.IsShared, r.WebhookURL, r.ICSURL)
	if err != nil {
		return fmt.Errorf("room store: create: %w", err)
	}
	return nil
}

// Delete implements [store.RoomStore]. Meetings and calendar events of the
// room cascade at the database level.
func (s *RoomStoreImpl) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("room store: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
