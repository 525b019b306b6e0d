package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reflector-media/reflector/internal/store"
)

// Compile-time interface checks.
var (
	_ store.TranscriptStore       = (*TranscriptStoreImpl)(nil)
	_ store.MeetingStore          = (*MeetingStoreImpl)(nil)
	_ store.RecordingStore        = (*RecordingStoreImpl)(nil)
	_ store.RecordingRequestStore = (*RecordingRequestStoreImpl)(nil)
	_ store.SessionStore          = (*SessionStoreImpl)(nil)
	_ store.ConsentStore          = (*ConsentStoreImpl)(nil)
	_ store.RoomStore             = (*RoomStoreImpl)(nil)
	_ store.CalendarStore         = (*CalendarStoreImpl)(nil)
)

// Store is the central PostgreSQL-backed persistence layer. It holds a single
// [pgxpool.Pool] and exposes one sub-store per aggregate. All operations are
// safe for concurrent use.
type Store struct {
	pool        *pgxpool.Pool
	transcripts *TranscriptStoreImpl
	meetings    *MeetingStoreImpl
	recordings  *RecordingStoreImpl
	requests    *RecordingRequestStoreImpl
	sessions    *SessionStoreImpl
	consents    *ConsentStoreImpl
	rooms       *RoomStoreImpl
	calendar    *CalendarStoreImpl
}

// New creates a Store, establishes a connection pool to the PostgreSQL
// database at dsn, and runs [Migrate] to ensure all required tables exist.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{
		pool:        pool,
		transcripts: &TranscriptStoreImpl{pool: pool},
		meetings:    &MeetingStoreImpl{pool: pool},
		recordings:  &RecordingStoreImpl{pool: pool},
		requests:    &RecordingRequestStoreImpl{pool: pool},
		sessions:    &SessionStoreImpl{pool: pool},
		consents:    &ConsentStoreImpl{pool: pool},
		rooms:       &RoomStoreImpl{pool: pool},
		calendar:    &CalendarStoreImpl{pool: pool},
	}, nil
}

// Transcripts returns the [store.TranscriptStore] implementation.
func (s *Store) Transcripts() *TranscriptStoreImpl { return s.transcripts }

// Meetings returns the [store.MeetingStore] implementation.
func (s *Store) Meetings() *MeetingStoreImpl { return s.meetings }

// Recordings returns the [store.RecordingStore] implementation.
func (s *Store) Recordings() *RecordingStoreImpl { return s.recordings }

// RecordingRequests returns the [store.RecordingRequestStore] implementation.
func (s *Store) RecordingRequests() *RecordingRequestStoreImpl { return s.requests }

// Sessions returns the [store.SessionStore] implementation.
func (s *Store) Sessions() *SessionStoreImpl { return s.sessions }

// Consents returns the [store.ConsentStore] implementation.
func (s *Store) Consents() *ConsentStoreImpl { return s.consents }

// Rooms returns the [store.RoomStore] implementation.
func (s *Store) Rooms() *RoomStoreImpl { return s.rooms }

// Calendar returns the [store.CalendarStore] implementation.
func (s *Store) Calendar() *CalendarStoreImpl { return s.calendar }

// Pool exposes the underlying connection pool, e.g. for readiness checks.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}
