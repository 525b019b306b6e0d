package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reflector-media/reflector/pkg/types"
)

// SessionStoreImpl implements [store.SessionStore] on PostgreSQL.
// Obtain one via [Store.Sessions].
type SessionStoreImpl struct {
	pool *pgxpool.Pool
}

// Upsert implements [store.SessionStore]. The (meeting_id, session_id) key
// makes rejoin with the same session id update the existing row.
func (s *SessionStoreImpl) Upsert(ctx context.Context, sess *types.ParticipantSession) error {
	const q = `
		INSERT INTO participant_sessions
		    (meeting_id, session_id, user_id, user_name, joined_at, left_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (meeting_id, session_id) DO UPDATE
		SET user_id = EXCLUDED.user_id,
		    user_name = EXCLUDED.user_name,
		    left_at = EXCLUDED.left_at`

	_, err := s.pool.Exec(ctx, q,
		sess.MeetingID, sess.SessionID, sess.UserID, sess.UserName,
		sess.JoinedAt, sess.LeftAt)
	if err != nil {
		return fmt.Errorf("session store: upsert: %w", err)
	}
	return nil
}

// CountOpen implements [store.SessionStore].
func (s *SessionStoreImpl) CountOpen(ctx context.Context, meetingID string) (int, error) {
	const q = `
		SELECT count(*) FROM participant_sessions
		WHERE  meeting_id = $1 AND left_at IS NULL`
	var n int
	if err := s.pool.QueryRow(ctx, q, meetingID).Scan(&n); err != nil {
		return 0, fmt.Errorf("session store: count open: %w", err)
	}
	return n, nil
}

// CountTotal implements [store.SessionStore].
func (s *SessionStoreImpl) CountTotal(ctx context.Context, meetingID string) (int, error) {
	const q = `SELECT count(*) FROM participant_sessions WHERE meeting_id = $1`
	var n int
	if err := s.pool.QueryRow(ctx, q, meetingID).Scan(&n); err != nil {
		return 0, fmt.Errorf("session store: count total: %w", err)
	}
	return n, nil
}

// CloseOpen implements [store.SessionStore].
func (s *SessionStoreImpl) CloseOpen(ctx context.Context, meetingID string, at time.Time) (int, error) {
	const q = `
		UPDATE participant_sessions
		SET    left_at = $2
		WHERE  meeting_id = $1 AND left_at IS NULL`
	tag, err := s.pool.Exec(ctx, q, meetingID, at)
	if err != nil {
		return 0, fmt.Errorf("session store: close open: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ConsentStoreImpl implements [store.ConsentStore] on PostgreSQL.
// Obtain one via [Store.Consents].
type ConsentStoreImpl struct {
	pool *pgxpool.Pool
}

// Record implements [store.ConsentStore]. A participant may change their
// decision; the latest one wins.
func (s *ConsentStoreImpl) Record(ctx context.Context, c *types.Consent) error {
	const q = `
		INSERT INTO consents (meeting_id, user_name, given, decided_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (meeting_id, user_name) DO UPDATE
		SET given = EXCLUDED.given, decided_at = EXCLUDED.decided_at`

	_, err := s.pool.Exec(ctx, q, c.MeetingID, c.UserName, c.Given, c.DecidedAt)
	if err != nil {
		return fmt.Errorf("consent store: record: %w", err)
	}
	return nil
}

// HasDenial implements [store.ConsentStore].
func (s *ConsentStoreImpl) HasDenial(ctx context.Context, meetingID string) (bool, error) {
	const q = `
		SELECT EXISTS (
		    SELECT 1 FROM consents WHERE meeting_id = $1 AND NOT given
		)`
	var denied bool
	if err := s.pool.QueryRow(ctx, q, meetingID).Scan(&denied); err != nil {
		return false, fmt.Errorf("consent store: has denial: %w", err)
	}
	return denied, nil
}
