// Package postgres implements the store interfaces on PostgreSQL via pgx.
//
// All sub-stores share a single [pgxpool.Pool]. Invariant-guarding writes
// (status transitions, recording dedup, first-write-wins cloud recording)
// are single atomic statements; the database, not the application, is the
// arbiter under concurrent pollers.
//
// Usage:
//
//	st, err := postgres.New(ctx, dsn)
//	if err != nil { … }
//	defer st.Close()
//
//	tr, err := st.Transcripts().Get(ctx, id)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlTranscripts = `
CREATE TABLE IF NOT EXISTS transcripts (
    id               TEXT         PRIMARY KEY,
    name             TEXT         NOT NULL DEFAULT '',
    status           TEXT         NOT NULL DEFAULT 'idle',
    source_kind      TEXT         NOT NULL DEFAULT 'file',
    locked           BOOLEAN      NOT NULL DEFAULT FALSE,
    user_id          TEXT,
    share_mode       TEXT         NOT NULL DEFAULT 'private',
    room_id          TEXT,
    language         TEXT         NOT NULL DEFAULT '',
    meeting_id       TEXT,
    recording_id     TEXT,
    workflow_run_id  TEXT,
    duration         DOUBLE PRECISION,
    title            TEXT         NOT NULL DEFAULT '',
    short_summary    TEXT         NOT NULL DEFAULT '',
    long_summary     TEXT         NOT NULL DEFAULT '',
    topics           JSONB        NOT NULL DEFAULT '[]',
    participants     JSONB        NOT NULL DEFAULT '[]',
    audio_location   TEXT         NOT NULL DEFAULT 'local',
    audio_deleted    BOOLEAN      NOT NULL DEFAULT FALSE,
    webvtt           TEXT         NOT NULL DEFAULT '',
    search_vector    TSVECTOR     GENERATED ALWAYS AS (
        to_tsvector('english',
            title || ' ' || short_summary || ' ' || long_summary || ' ' ||
            coalesce(jsonb_path_query_array(topics, '$[*].title')::text, ''))
    ) STORED,
    created_at       TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcripts_user_id
    ON transcripts (user_id);

CREATE INDEX IF NOT EXISTS idx_transcripts_recording_id
    ON transcripts (recording_id);

CREATE INDEX IF NOT EXISTS idx_transcripts_search
    ON transcripts USING GIN (search_vector);

CREATE TABLE IF NOT EXISTS transcript_events (
    id             BIGSERIAL    PRIMARY KEY,
    transcript_id  TEXT         NOT NULL REFERENCES transcripts (id) ON DELETE CASCADE,
    event          TEXT         NOT NULL,
    data           JSONB        NOT NULL DEFAULT '{}',
    created_at     TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcript_events_transcript
    ON transcript_events (transcript_id, id);
`

const ddlRooms = `
CREATE TABLE IF NOT EXISTS rooms (
    id                TEXT         PRIMARY KEY,
    name              TEXT         NOT NULL UNIQUE,
    user_id           TEXT         NOT NULL DEFAULT '',
    platform          TEXT         NOT NULL DEFAULT '',
    recording_type    TEXT         NOT NULL DEFAULT '',
    recording_trigger TEXT         NOT NULL DEFAULT '',
    is_shared         BOOLEAN      NOT NULL DEFAULT FALSE,
    webhook_url       TEXT         NOT NULL DEFAULT '',
    ics_url           TEXT         NOT NULL DEFAULT '',
    created_at        TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

const ddlMeetings = `
CREATE TABLE IF NOT EXISTS meetings (
    id                 TEXT         PRIMARY KEY,
    room_name          TEXT         NOT NULL,
    room_id            TEXT         NOT NULL REFERENCES rooms (id) ON DELETE CASCADE,
    platform           TEXT         NOT NULL DEFAULT '',
    start_date         TIMESTAMPTZ  NOT NULL,
    end_date           TIMESTAMPTZ,
    num_clients        INTEGER      NOT NULL DEFAULT 0,
    is_active          BOOLEAN      NOT NULL DEFAULT TRUE,
    composed_video_key TEXT
);

CREATE INDEX IF NOT EXISTS idx_meetings_room_name_start
    ON meetings (room_name, start_date);

CREATE INDEX IF NOT EXISTS idx_meetings_active
    ON meetings (is_active) WHERE is_active;
`

const ddlRecordings = `
CREATE TABLE IF NOT EXISTS recordings (
    id          TEXT         PRIMARY KEY,
    bucket_name TEXT         NOT NULL DEFAULT '',
    room_name   TEXT         NOT NULL DEFAULT '',
    object_key  TEXT         NOT NULL DEFAULT '',
    track_keys  JSONB        NOT NULL DEFAULT '[]',
    recorded_at TIMESTAMPTZ  NOT NULL,
    meeting_id  TEXT         REFERENCES meetings (id) ON DELETE CASCADE,
    status      TEXT         NOT NULL DEFAULT 'pending',
    CONSTRAINT recordings_orphan_consistency CHECK (
        (status = 'orphan') = (meeting_id IS NULL)
    )
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_recordings_meeting_recording
    ON recordings (meeting_id, id) WHERE meeting_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS recording_requests (
    recording_id TEXT         NOT NULL UNIQUE,
    meeting_id   TEXT         NOT NULL,
    instance_id  TEXT         NOT NULL,
    type         TEXT         NOT NULL,
    requested_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_recording_requests_instance
    ON recording_requests (instance_id);
`

const ddlSessions = `
CREATE TABLE IF NOT EXISTS participant_sessions (
    meeting_id TEXT         NOT NULL REFERENCES meetings (id) ON DELETE CASCADE,
    session_id TEXT         NOT NULL,
    user_id    TEXT,
    user_name  TEXT         NOT NULL DEFAULT '',
    joined_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    left_at    TIMESTAMPTZ,
    PRIMARY KEY (meeting_id, session_id)
);

CREATE INDEX IF NOT EXISTS idx_sessions_open
    ON participant_sessions (meeting_id) WHERE left_at IS NULL;

CREATE TABLE IF NOT EXISTS consents (
    meeting_id TEXT         NOT NULL REFERENCES meetings (id) ON DELETE CASCADE,
    user_name  TEXT         NOT NULL DEFAULT '',
    given      BOOLEAN      NOT NULL,
    decided_at TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (meeting_id, user_name)
);
`

const ddlCalendar = `
CREATE TABLE IF NOT EXISTS calendar_events (
    id         TEXT         PRIMARY KEY,
    room_id    TEXT         NOT NULL REFERENCES rooms (id) ON DELETE CASCADE,
    ics_uid    TEXT         NOT NULL,
    title      TEXT         NOT NULL DEFAULT '',
    start_time TIMESTAMPTZ  NOT NULL,
    end_time   TIMESTAMPTZ  NOT NULL,
    deleted_at TIMESTAMPTZ,
    UNIQUE (room_id, ics_uid)
);
`

// Migrate creates or ensures all required tables and indexes exist. It is
// idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		ddlTranscripts,
		ddlRooms,
		ddlMeetings,
		ddlRecordings,
		ddlSessions,
		ddlCalendar,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
