package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reflector-media/reflector/internal/store"
	"github.com/reflector-media/reflector/pkg/types"
)

// TranscriptStoreImpl implements [store.TranscriptStore] on PostgreSQL.
//
// Obtain one via [Store.Transcripts] rather than constructing directly.
// All methods are safe for concurrent use.
type TranscriptStoreImpl struct {
	pool *pgxpool.Pool
}

const transcriptColumns = `
	id, name, status, source_kind, locked, user_id, share_mode, room_id,
	language, meeting_id, recording_id, workflow_run_id, duration,
	title, short_summary, long_summary, topics, participants,
	audio_location, audio_deleted, webvtt, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTranscript(row rowScanner) (*types.Transcript, error) {
	var (
		t                          types.Transcript
		topicsRaw, participantsRaw []byte
	)
	err := row.Scan(
		&t.ID, &t.Name, &t.Status, &t.Source, &t.Locked, &t.UserID, &t.Share,
		&t.RoomID, &t.Language, &t.MeetingID, &t.RecordingID, &t.WorkflowRunID,
		&t.Duration, &t.Title, &t.ShortSummary, &t.LongSummary,
		&topicsRaw, &participantsRaw,
		&t.AudioLocation, &t.AudioDeleted, &t.WebVTT, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(topicsRaw) > 0 {
		if err := json.Unmarshal(topicsRaw, &t.Topics); err != nil {
			return nil, fmt.Errorf("decode topics: %w", err)
		}
	}
	if len(participantsRaw) > 0 {
		if err := json.Unmarshal(participantsRaw, &t.Participants); err != nil {
			return nil, fmt.Errorf("decode participants: %w", err)
		}
	}
	return &t, nil
}

// Get implements [store.TranscriptStore].
func (s *TranscriptStoreImpl) Get(ctx context.Context, id string) (*types.Transcript, error) {
	q := `SELECT ` + transcriptColumns + ` FROM transcripts WHERE id = $1`
	t, err := scanTranscript(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("transcript store: get: %w", err)
	}
	return t, nil
}

// GetByRecordingID implements [store.TranscriptStore].
func (s *TranscriptStoreImpl) GetByRecordingID(ctx context.Context, recordingID string) (*types.Transcript, error) {
	q := `SELECT ` + transcriptColumns + ` FROM transcripts WHERE recording_id = $1`
	t, err := scanTranscript(s.pool.QueryRow(ctx, q, recordingID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("transcript store: get by recording: %w", err)
	}
	return t, nil
}

// Create implements [store.TranscriptStore].
func (s *TranscriptStoreImpl) Create(ctx context.Context, t *types.Transcript) error {
	topics, err := json.Marshal(orEmptySlice(t.Topics))
	if err != nil {
		return fmt.Errorf("transcript store: encode topics: %w", err)
	}
	participants, err := json.Marshal(orEmptySlice(t.Participants))
	if err != nil {
		return fmt.Errorf("transcript store: encode participants: %w", err)
	}

	const q = `
		INSERT INTO transcripts
		    (id, name, status, source_kind, locked, user_id, share_mode, room_id,
		     language, meeting_id, recording_id, workflow_run_id, duration,
		     title, short_summary, long_summary, topics, participants,
		     audio_location, audio_deleted, webvtt)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		        $14, $15, $16, $17, $18, $19, $20, $21)`

	_, err = s.pool.Exec(ctx, q,
		t.ID, t.Name, t.Status, t.Source, t.Locked, t.UserID, t.Share, t.RoomID,
		t.Language, t.MeetingID, t.RecordingID, t.WorkflowRunID, t.Duration,
		t.Title, t.ShortSummary, t.LongSummary, topics, participants,
		t.AudioLocation, t.AudioDeleted, t.WebVTT,
	)
	if err != nil {
		return fmt.Errorf("transcript store: create: %w", err)
	}
	return nil
}

// Update implements [store.TranscriptStore]. Nil patch fields are untouched;
// each set field is last-writer-wins.
func (s *TranscriptStoreImpl) Update(ctx context.Context, id string, patch store.TranscriptPatch) error {
	var (
		sets []string
		args = []any{id} // $1 = id
	)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if patch.Name != nil {
		sets = append(sets, "name = "+next(*patch.Name))
	}
	if patch.Title != nil {
		sets = append(sets, "title = "+next(*patch.Title))
	}
	if patch.ShortSummary != nil {
		sets = append(sets, "short_summary = "+next(*patch.ShortSummary))
	}
	if patch.LongSummary != nil {
		sets = append(sets, "long_summary = "+next(*patch.LongSummary))
	}
	if patch.Duration != nil {
		sets = append(sets, "duration = "+next(*patch.Duration))
	}
	if patch.WebVTT != nil {
		sets = append(sets, "webvtt = "+next(*patch.WebVTT))
	}
	if patch.AudioDeleted != nil {
		sets = append(sets, "audio_deleted = "+next(*patch.AudioDeleted))
	}
	if patch.Locked != nil {
		sets = append(sets, "locked = "+next(*patch.Locked))
	}
	if patch.Topics != nil {
		raw, err := json.Marshal(patch.Topics)
		if err != nil {
			return fmt.Errorf("transcript store: encode topics: %w", err)
		}
		sets = append(sets, "topics = "+next(raw))
	}
	if patch.Participants != nil {
		raw, err := json.Marshal(patch.Participants)
		if err != nil {
			return fmt.Errorf("transcript store: encode participants: %w", err)
		}
		sets = append(sets, "participants = "+next(raw))
	}
	if patch.ClearWorkflowRun {
		sets = append(sets, "workflow_run_id = NULL")
	} else if patch.WorkflowRunID != nil {
		sets = append(sets, "workflow_run_id = "+next(*patch.WorkflowRunID))
	}

	if len(sets) == 0 {
		return nil
	}

	q := "UPDATE transcripts SET "
	for i, set := range sets {
		if i > 0 {
			q += ", "
		}
		q += set
	}
	q += " WHERE id = $1"

	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("transcript store: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// UpdateStatus implements [store.TranscriptStore]. The transition guard is
// part of the UPDATE's WHERE clause, so two concurrent callers cannot both
// advance the same transcript: the loser matches zero rows.
func (s *TranscriptStoreImpl) UpdateStatus(ctx context.Context, id string, to types.TranscriptStatus) (*types.Transcript, error) {
	if !to.IsValid() {
		return nil, fmt.Errorf("transcript store: unknown status %q", to)
	}

	sources := store.TransitionSources(to)
	from := make([]string, len(sources))
	for i, src := range sources {
		from[i] = string(src)
	}

	q := `UPDATE transcripts SET status = $2 WHERE id = $1 AND status = ANY($3)
	      RETURNING ` + transcriptColumns
	t, err := scanTranscript(s.pool.QueryRow(ctx, q, id, to, from))
	if errors.Is(err, pgx.ErrNoRows) {
		// Distinguish a missing row from a disallowed transition.
		var exists bool
		if checkErr := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM transcripts WHERE id = $1)`, id,
		).Scan(&exists); checkErr != nil {
			return nil, fmt.Errorf("transcript store: update status: %w", checkErr)
		}
		if !exists {
			return nil, store.ErrNotFound
		}
		return nil, store.ErrInvalidTransition
	}
	if err != nil {
		return nil, fmt.Errorf("transcript store: update status: %w", err)
	}
	return t, nil
}

// AppendEvent implements [store.TranscriptStore]. The serial id doubles as
// the event's sequence number.
func (s *TranscriptStoreImpl) AppendEvent(ctx context.Context, id string, event string, data []byte) (int64, error) {
	if len(data) == 0 {
		data = []byte("{}")
	}
	const q = `
		INSERT INTO transcript_events (transcript_id, event, data)
		VALUES ($1, $2, $3)
		RETURNING id`
	var seq int64
	if err := s.pool.QueryRow(ctx, q, id, event, data).Scan(&seq); err != nil {
		return 0, fmt.Errorf("transcript store: append event: %w", err)
	}
	return seq, nil
}

// Events implements [store.TranscriptStore]. Insertion order is the serial id.
func (s *TranscriptStoreImpl) Events(ctx context.Context, id string) ([]types.TranscriptEvent, error) {
	const q = `
		SELECT id, event, data, created_at
		FROM   transcript_events
		WHERE  transcript_id = $1
		ORDER  BY id`

	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("transcript store: events: %w", err)
	}
	defer rows.Close()

	var events []types.TranscriptEvent
	for rows.Next() {
		var ev types.TranscriptEvent
		if err := rows.Scan(&ev.Seq, &ev.Event, &ev.Data, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("transcript store: scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transcript store: events: %w", err)
	}
	return events, nil
}

// Search implements [store.TranscriptStore]. A non-nil userID restricts
// results to that owner's transcripts plus public ones.
func (s *TranscriptStoreImpl) Search(ctx context.Context, query string, userID *string, limit int) ([]types.Transcript, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `SELECT ` + transcriptColumns + `
		FROM  transcripts
		WHERE search_vector @@ plainto_tsquery('english', $1)`
	args := []any{query}
	if userID != nil {
		args = append(args, *userID)
		q += ` AND (user_id = $2 OR share_mode = 'public')`
	}
	args = append(args, limit)
	q += fmt.Sprintf(`
		ORDER BY ts_rank(search_vector, plainto_tsquery('english', $1)) DESC
		LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("transcript store: search: %w", err)
	}
	defer rows.Close()

	var results []types.Transcript
	for rows.Next() {
		t, err := scanTranscript(rows)
		if err != nil {
			return nil, fmt.Errorf("transcript store: search scan: %w", err)
		}
		results = append(results, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transcript store: search: %w", err)
	}
	return results, nil
}

// DeleteExpired implements [store.TranscriptStore]. Anonymous transcripts
// older than the cutoff are removed together with their meeting and recording
// rows; participant sessions and consents cascade from the meeting.
func (s *TranscriptStoreImpl) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("transcript store: delete expired: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const selectQ = `
		SELECT id, meeting_id, recording_id
		FROM   transcripts
		WHERE  user_id IS NULL AND created_at < $1`

	rows, err := tx.Query(ctx, selectQ, cutoff)
	if err != nil {
		return 0, fmt.Errorf("transcript store: delete expired: %w", err)
	}
	var ids, meetingIDs, recordingIDs []string
	for rows.Next() {
		var id string
		var meetingID, recordingID *string
		if err := rows.Scan(&id, &meetingID, &recordingID); err != nil {
			rows.Close()
			return 0, fmt.Errorf("transcript store: delete expired scan: %w", err)
		}
		ids = append(ids, id)
		if meetingID != nil {
			meetingIDs = append(meetingIDs, *meetingID)
		}
		if recordingID != nil {
			recordingIDs = append(recordingIDs, *recordingID)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("transcript store: delete expired: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if len(recordingIDs) > 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM recordings WHERE id = ANY($1)`, recordingIDs); err != nil {
			return 0, fmt.Errorf("transcript store: delete expired recordings: %w", err)
		}
	}
	if len(meetingIDs) > 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM meetings WHERE id = ANY($1)`, meetingIDs); err != nil {
			return 0, fmt.Errorf("transcript store: delete expired meetings: %w", err)
		}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM transcripts WHERE id = ANY($1)`, ids); err != nil {
		return 0, fmt.Errorf("transcript store: delete expired transcripts: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("transcript store: delete expired commit: %w", err)
	}
	return len(ids), nil
}

// Delete implements [store.TranscriptStore].
func (s *TranscriptStoreImpl) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM transcripts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("transcript store: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// orEmptySlice keeps JSONB columns as [] instead of null for nil slices.
func orEmptySlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
