// Package store defines the persistence interfaces of the transcript system.
//
// Implementations live in subpackages: postgres is the production backend,
// mock provides in-memory doubles for tests. All methods are safe for
// concurrent use; mutating operations that guard invariants (status
// transitions, recording dedup, cloud-recording first-write-wins) are atomic
// at the database level, never via application locks.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/reflector-media/reflector/pkg/types"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrInvalidTransition is returned by UpdateStatus when the requested status
// change is not allowed from the transcript's current status. The check and
// the write are one atomic statement, so concurrent pollers cannot both
// advance the same transcript.
var ErrInvalidTransition = errors.New("store: invalid status transition")

// TranscriptPatch is a last-writer-wins partial update. Nil fields are left
// untouched.
type TranscriptPatch struct {
	Name         *string
	Title        *string
	ShortSummary *string
	LongSummary  *string
	Duration     *float64
	WebVTT       *string
	AudioDeleted *bool
	Locked       *bool
	Topics       []types.Topic
	Participants []types.Participant

	// WorkflowRunID sets the engine run reference. SetWorkflowRunID with a
	// nil inner value clears it (reprocess).
	WorkflowRunID    *string
	ClearWorkflowRun bool
}

// TranscriptStore persists transcripts and their append-only event logs.
type TranscriptStore interface {
	Get(ctx context.Context, id string) (*types.Transcript, error)
	Create(ctx context.Context, t *types.Transcript) error
	Update(ctx context.Context, id string, patch TranscriptPatch) error

	// UpdateStatus atomically advances the status machine. Returns
	// ErrInvalidTransition when the transcript is not in a status the
	// machine allows to move to `to`.
	UpdateStatus(ctx context.Context, id string, to types.TranscriptStatus) (*types.Transcript, error)

	// AppendEvent adds an event to the transcript's log and returns the
	// assigned sequence number, strictly increasing within the log.
	AppendEvent(ctx context.Context, id string, event string, data []byte) (int64, error)

	// Events returns the persisted event log in insertion order.
	Events(ctx context.Context, id string) ([]types.TranscriptEvent, error)

	// GetByRecordingID finds the transcript created for a recording.
	GetByRecordingID(ctx context.Context, recordingID string) (*types.Transcript, error)

	// Search runs a full-text query over titles, summaries and topic text.
	// A non-nil userID restricts results to that owner plus public ones.
	Search(ctx context.Context, query string, userID *string, limit int) ([]types.Transcript, error)

	// DeleteExpired hard-deletes anonymous transcripts created before the
	// cutoff, cascading their meeting and recording rows. Returns the
	// number of transcripts removed.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int, error)

	Delete(ctx context.Context, id string) error
}

// MeetingStore persists meetings.
type MeetingStore interface {
	Get(ctx context.Context, id string) (*types.Meeting, error)
	Create(ctx context.Context, m *types.Meeting) error
	ListActive(ctx context.Context) ([]types.Meeting, error)
	Deactivate(ctx context.Context, id string, endDate time.Time) error

	// SetCloudRecordingIfMissing writes the composed recording key only if
	// none is set yet. Returns true when this call performed the write.
	SetCloudRecordingIfMissing(ctx context.Context, id, objectKey string) (bool, error)

	// FindByRoomNameAround returns meetings of the given room whose
	// start_date lies within ±window of at, boundaries included.
	FindByRoomNameAround(ctx context.Context, roomName string, at time.Time, window time.Duration) ([]types.Meeting, error)
}

// RecordingStore persists discovered recordings. The recording row doubles as
// the dispatch lock: whoever creates it owns processing.
type RecordingStore interface {
	Get(ctx context.Context, id string) (*types.Recording, error)

	// TryCreateWithMeeting inserts the recording linked to its meeting.
	// Returns false without error when the row already exists; the caller
	// lost the race and must not dispatch.
	TryCreateWithMeeting(ctx context.Context, rec *types.Recording) (bool, error)

	// CreateOrphan records a recording no meeting could be matched to.
	// Idempotent: rediscovering the same orphan is a no-op.
	CreateOrphan(ctx context.Context, rec *types.Recording) error

	MarkCompleted(ctx context.Context, id string) error
}

// RecordingRequestStore is the append-only registry mapping external
// recording ids to meetings. Rows are never deleted by reconciliation.
type RecordingRequestStore interface {
	Append(ctx context.Context, req *types.RecordingRequest) error

	// GetByRecordingID returns the request row for an external recording id,
	// or ErrNotFound.
	GetByRecordingID(ctx context.Context, recordingID string) (*types.RecordingRequest, error)

	// GetByMeetingID returns every request row of the meeting in request
	// order. A stop/restart cycle yields multiple rows sharing an
	// instance_id; all of them are returned.
	GetByMeetingID(ctx context.Context, meetingID string) ([]types.RecordingRequest, error)
}

// SessionStore persists participant sessions per meeting.
type SessionStore interface {
	Upsert(ctx context.Context, s *types.ParticipantSession) error

	// CountOpen returns how many sessions have left_at IS NULL.
	CountOpen(ctx context.Context, meetingID string) (int, error)

	// CountTotal returns how many sessions the meeting has ever had.
	CountTotal(ctx context.Context, meetingID string) (int, error)

	// CloseOpen stamps left_at on all open sessions. Returns the number closed.
	CloseOpen(ctx context.Context, meetingID string, at time.Time) (int, error)
}

// ConsentStore persists recording-consent decisions.
type ConsentStore interface {
	Record(ctx context.Context, c *types.Consent) error

	// HasDenial reports whether any participant denied consent.
	HasDenial(ctx context.Context, meetingID string) (bool, error)
}

// RoomStore persists rooms.
type RoomStore interface {
	Get(ctx context.Context, id string) (*types.Room, error)
	GetByName(ctx context.Context, name string) (*types.Room, error)
	Create(ctx context.Context, r *types.Room) error
	Delete(ctx context.Context, id string) error
}

// CalendarStore persists ICS-sourced calendar events. Events are soft-deleted
// so a feed hiccup cannot destroy history.
type CalendarStore interface {
	Upsert(ctx context.Context, ev *types.CalendarEvent) error

	// SoftDeleteMissing marks events of the room deleted whose ics_uid is
	// not in keep. Returns the number marked.
	SoftDeleteMissing(ctx context.Context, roomID string, keep []string) (int, error)

	ListUpcoming(ctx context.Context, roomID string, from time.Time) ([]types.CalendarEvent, error)
}
