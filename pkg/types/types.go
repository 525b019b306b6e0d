// Package types defines the shared domain types used across all Reflector packages.
//
// These types form the lingua franca between the object store, the inference
// clients, the workflow engine, the reconcilers, and the event broadcaster.
// They are intentionally minimal — each package defines its own internal types,
// but cross-cutting data structures live here to avoid circular imports.
package types

import "time"

// TranscriptStatus is the lifecycle state of a [Transcript].
//
// Transitions are monotone in the forward direction:
//
//	idle → uploaded → processing → ended
//
// Any state may transition to error, which is absorbing until an operator
// reprocess clears the workflow run id and moves the transcript back to
// processing. The store layer enforces the allowed transitions atomically.
type TranscriptStatus string

const (
	StatusIdle       TranscriptStatus = "idle"
	StatusUploaded   TranscriptStatus = "uploaded"
	StatusRecording  TranscriptStatus = "recording"
	StatusProcessing TranscriptStatus = "processing"
	StatusEnded      TranscriptStatus = "ended"
	StatusError      TranscriptStatus = "error"
)

// IsValid reports whether s is a recognised transcript status.
func (s TranscriptStatus) IsValid() bool {
	switch s {
	case StatusIdle, StatusUploaded, StatusRecording, StatusProcessing, StatusEnded, StatusError:
		return true
	}
	return false
}

// SourceKind describes how a transcript's audio entered the system.
type SourceKind string

const (
	// SourceLive is a transcript produced from a live streaming session.
	SourceLive SourceKind = "live"

	// SourceFile is a transcript produced from a directly uploaded file.
	SourceFile SourceKind = "file"

	// SourceRoom is a transcript produced from a platform room recording.
	// Room transcripts must resolve their meeting and recording references.
	SourceRoom SourceKind = "room"
)

// IsValid reports whether k is a recognised source kind.
func (k SourceKind) IsValid() bool {
	return k == SourceLive || k == SourceFile || k == SourceRoom
}

// ShareMode controls who may read a transcript.
type ShareMode string

const (
	SharePrivate ShareMode = "private"
	SharePublic  ShareMode = "public"
)

// AudioLocation tells where the transcript's processed audio lives.
type AudioLocation string

const (
	AudioLocal AudioLocation = "local"
	AudioS3    AudioLocation = "s3"
)

// Word is a single transcribed word with timing and a speaker label.
type Word struct {
	// Text is the word as emitted by the transcription model.
	Text string `json:"text"`

	// Start and End are offsets in seconds from the beginning of the meeting.
	Start float64 `json:"start"`
	End   float64 `json:"end"`

	// Speaker is a small integer speaker label. For multitrack recordings it
	// is initially the track index; diarization may relabel it.
	Speaker int `json:"speaker"`
}

// DiarizationSegment is a span of audio attributed to one speaker by the
// diarization service.
type DiarizationSegment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker int     `json:"speaker"`
}

// Topic is a contiguous thematic section of a transcript, produced by the
// topic-detection stage.
type Topic struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Summary string `json:"summary"`

	// Timestamp is the topic's start offset in seconds into the recording.
	Timestamp float64 `json:"timestamp"`

	// Duration is the topic's length in seconds.
	Duration float64 `json:"duration"`

	// Transcript is the plain text covered by this topic.
	Transcript string `json:"transcript"`

	// Words carries the word-level detail for the topic span.
	Words []Word `json:"words,omitempty"`
}

// Participant identifies one attendee of the source meeting.
type Participant struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Speaker int    `json:"speaker"`
}

// TranscriptEvent is one entry of a transcript's append-only event log.
// Events are persisted in insertion order and replayed to every new
// subscriber of the transcript's room.
type TranscriptEvent struct {
	// Seq orders the event within its transcript's log. Live broadcasts
	// carry the same number, letting subscribers drop events they already
	// received through history replay.
	Seq int64 `json:"seq"`

	// Event is the event tag, e.g. "STATUS", "TOPIC", "DAG_STATUS".
	Event string `json:"event"`

	// Data is the opaque JSON payload for the event.
	Data []byte `json:"data"`

	// CreatedAt is when the event was persisted.
	CreatedAt time.Time `json:"created_at"`
}

// Event tags published through the broadcaster. Clients key off these values.
const (
	EventStatus            = "STATUS"
	EventTranscript        = "TRANSCRIPT"
	EventTopic             = "TOPIC"
	EventFinalTitle        = "FINAL_TITLE"
	EventFinalLongSummary  = "FINAL_LONG_SUMMARY"
	EventFinalShortSummary = "FINAL_SHORT_SUMMARY"
	EventWaveform          = "WAVEFORM"
	EventDuration          = "DURATION"
	EventDagStatus         = "DAG_STATUS"
)

// Transcript is the durable meeting-to-text entity. It is created by ingestion
// or meeting end, mutated only by pipeline stages and owner edits, and
// destroyed by the retention sweeper or an explicit delete.
type Transcript struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Status   TranscriptStatus `json:"status"`
	Source   SourceKind       `json:"source_kind"`
	Locked   bool             `json:"locked"`
	UserID   *string          `json:"user_id,omitempty"`
	Share    ShareMode        `json:"share_mode"`
	RoomID   *string          `json:"room_id,omitempty"`
	Language string           `json:"language,omitempty"`

	// MeetingID and RecordingID resolve the source for room transcripts.
	MeetingID   *string `json:"meeting_id,omitempty"`
	RecordingID *string `json:"recording_id,omitempty"`

	// WorkflowRunID is a weak reference to the engine run currently (or last)
	// processing this transcript. Status of the run is authoritative in the
	// engine, never here.
	WorkflowRunID *string `json:"workflow_run_id,omitempty"`

	// Duration is the mixdown length in seconds, set by the mixdown stage.
	Duration *float64 `json:"duration,omitempty"`

	Title        string        `json:"title,omitempty"`
	ShortSummary string        `json:"short_summary,omitempty"`
	LongSummary  string        `json:"long_summary,omitempty"`
	Topics       []Topic       `json:"topics,omitempty"`
	Participants []Participant `json:"participants,omitempty"`

	AudioLocation AudioLocation `json:"audio_location"`

	// AudioDeleted is true only after every raw-track object for this
	// transcript has been removed from the store (consent cleanup).
	AudioDeleted bool `json:"audio_deleted"`

	WebVTT string `json:"webvtt,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Words flattens the transcript's topics into a single ordered word list.
func (t *Transcript) Words() []Word {
	var words []Word
	for _, topic := range t.Topics {
		words = append(words, topic.Words...)
	}
	return words
}

// Meeting is one occurrence of a platform room being live.
type Meeting struct {
	ID        string    `json:"id"`
	RoomName  string    `json:"room_name"`
	RoomID    string    `json:"room_id"`
	Platform  string    `json:"platform"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`

	// NumClients is the last observed participant count (≥ 0).
	NumClients int  `json:"num_clients"`
	IsActive   bool `json:"is_active"`

	// ComposedVideoKey is the cloud (composed) recording object key. Written
	// at most once per meeting via an if-missing guard.
	ComposedVideoKey *string `json:"composed_video_key,omitempty"`
}

// RecordingStatus tracks a discovered recording through reconciliation.
type RecordingStatus string

const (
	RecordingPending   RecordingStatus = "pending"
	RecordingOrphan    RecordingStatus = "orphan"
	RecordingCompleted RecordingStatus = "completed"
)

// Recording is an externally produced recording discovered in the object
// store, by webhook or by polling. A Recording with a nil MeetingID is an
// orphan; the two fields are kept consistent by the store layer.
type Recording struct {
	ID         string `json:"id"`
	BucketName string `json:"bucket_name"`

	// RoomName is the platform room the recording was captured in, used for
	// time-based matching when no request row exists.
	RoomName string `json:"room_name"`

	// ObjectKey is the folder or single-file key of the recording.
	ObjectKey string `json:"object_key"`

	// TrackKeys lists individual per-participant track objects structured
	// under ObjectKey. Empty for single-file (cloud composed) recordings.
	TrackKeys []string `json:"track_keys,omitempty"`

	RecordedAt time.Time       `json:"recorded_at"`
	MeetingID  *string         `json:"meeting_id,omitempty"`
	Status     RecordingStatus `json:"status"`
}

// RecordingType distinguishes composed cloud recordings from raw track sets.
type RecordingType string

const (
	RecordingCloud     RecordingType = "cloud"
	RecordingRawTracks RecordingType = "raw-tracks"
)

// RecordingRequest maps an externally assigned recording id to the meeting it
// was started for. Stop/restart of the same session appends additional rows
// sharing the same InstanceID; rows are never deleted by reconciliation.
type RecordingRequest struct {
	RecordingID string        `json:"recording_id"`
	MeetingID   string        `json:"meeting_id"`
	InstanceID  string        `json:"instance_id"`
	Type        RecordingType `json:"type"`
	RequestedAt time.Time     `json:"requested_at"`
}

// Room is an addressable conference identity that hosts meetings over time.
type Room struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	UserID           string `json:"user_id"`
	Platform         string `json:"platform"`
	RecordingType    string `json:"recording_type"`
	RecordingTrigger string `json:"recording_trigger"`
	IsShared         bool   `json:"is_shared"`
	WebhookURL       string `json:"webhook_url,omitempty"`
	ICSURL           string `json:"ics_url,omitempty"`
}

// ParticipantSession is one person's presence in one meeting. The session is
// open while LeftAt is nil. The primary key is (MeetingID, SessionID).
type ParticipantSession struct {
	MeetingID string     `json:"meeting_id"`
	SessionID string     `json:"session_id"`
	UserID    *string    `json:"user_id,omitempty"`
	UserName  string     `json:"user_name"`
	JoinedAt  time.Time  `json:"joined_at"`
	LeftAt    *time.Time `json:"left_at,omitempty"`
}

// Consent records one participant's recording-consent decision for a meeting.
// A single denial triggers raw-audio cleanup for the whole meeting.
type Consent struct {
	MeetingID string    `json:"meeting_id"`
	UserName  string    `json:"user_name"`
	Given     bool      `json:"given"`
	DecidedAt time.Time `json:"decided_at"`
}

// CalendarEvent is a normalised event sourced from a room's ICS feed,
// unique per (RoomID, ICSUID). Rows are soft-deleted, never hard-deleted.
type CalendarEvent struct {
	ID        string     `json:"id"`
	RoomID    string     `json:"room_id"`
	ICSUID    string     `json:"ics_uid"`
	Title     string     `json:"title"`
	StartTime time.Time  `json:"start_time"`
	EndTime   time.Time  `json:"end_time"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// DagTaskStatus is the engine-reported state of one DAG task.
type DagTaskStatus string

const (
	TaskQueued    DagTaskStatus = "queued"
	TaskRunning   DagTaskStatus = "running"
	TaskCompleted DagTaskStatus = "completed"
	TaskFailed    DagTaskStatus = "failed"
	TaskCancelled DagTaskStatus = "cancelled"
)

// Terminal reports whether the status can no longer change.
func (s DagTaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// DagTask is a projection of one workflow step for UI consumption. It is
// computed from engine state on demand and never persisted.
type DagTask struct {
	Name            string        `json:"name"`
	Status          DagTaskStatus `json:"status"`
	StartedAt       *time.Time    `json:"started_at,omitempty"`
	FinishedAt      *time.Time    `json:"finished_at,omitempty"`
	DurationSeconds *float64      `json:"duration_seconds,omitempty"`
	Parents         []string      `json:"parents"`

	// Error is a single summary line extracted from the task failure.
	Error string `json:"error,omitempty"`

	// Fan-out counters, present only on fan-out parent tasks.
	ChildrenTotal     int     `json:"children_total,omitempty"`
	ChildrenCompleted int     `json:"children_completed,omitempty"`
	ProgressPct       float64 `json:"progress_pct,omitempty"`
}
