// Package workflow adapts the durable execution engine (Temporal) to the
// transcript pipeline's Validate → Prepare → Dispatch protocol.
//
// The adapter never trusts the transcript row for run status: the engine's
// identifiers are the sole source of truth. The transcript keeps a weak
// reference (workflow_run_id) that the dispatcher reads, verifies against the
// engine, and clears when the referenced run turns out to be terminal or
// deleted.
package workflow

import (
	"context"
	"time"

	"github.com/reflector-media/reflector/pkg/types"
)

// WorkflowID derives the deterministic engine workflow id for a transcript.
// Dispatch is idempotent on this key: the engine rejects a second concurrent
// start for the same id.
func WorkflowID(transcriptID string) string {
	return "pipeline-" + transcriptID
}

// ValidationOutcome classifies whether a transcript may be dispatched.
type ValidationOutcome int

const (
	// ValidationOk means the transcript may proceed to Prepare.
	ValidationOk ValidationOutcome = iota

	// ValidationLocked means the transcript is locked against processing.
	ValidationLocked

	// ValidationNotReady means no audio has arrived yet (status idle and no
	// previous run to replay).
	ValidationNotReady

	// ValidationAlreadyScheduled means the engine reports an active run for
	// this transcript.
	ValidationAlreadyScheduled
)

func (o ValidationOutcome) String() string {
	switch o {
	case ValidationOk:
		return "ok"
	case ValidationLocked:
		return "locked"
	case ValidationNotReady:
		return "not_ready"
	case ValidationAlreadyScheduled:
		return "already_scheduled"
	}
	return "unknown"
}

// Validation is the result of [Dispatcher.Validate].
type Validation struct {
	Outcome      ValidationOutcome
	TranscriptID string
	RecordingID  *string
	RoomID       *string
}

// Config is the prepared pipeline configuration, either [FileConfig] or
// [MultitrackConfig].
type Config interface {
	// Transcript returns the transcript id the pipeline will write to.
	Transcript() string
}

// FileConfig runs the single-file pipeline over one uploaded or composed
// audio object.
type FileConfig struct {
	TranscriptID string `json:"transcript_id"`
	BucketName   string `json:"bucket_name"`
	ObjectKey    string `json:"object_key"`
	Language     string `json:"language,omitempty"`
}

// Transcript implements [Config].
func (c FileConfig) Transcript() string { return c.TranscriptID }

// MultitrackConfig runs the diarization pipeline over per-participant tracks.
type MultitrackConfig struct {
	TranscriptID string   `json:"transcript_id"`
	RecordingID  string   `json:"recording_id"`
	BucketName   string   `json:"bucket_name"`
	TrackKeys    []string `json:"track_keys"`
	Language     string   `json:"language,omitempty"`
}

// Transcript implements [Config].
func (c MultitrackConfig) Transcript() string { return c.TranscriptID }

// DispatchResult reports how Dispatch resolved.
type DispatchResult int

const (
	// DispatchOk means a run is now active: freshly started, reset, or an
	// existing live run was attached to.
	DispatchOk DispatchResult = iota

	// DispatchAlreadyRunning means a concurrent dispatch won the race; the
	// caller must not treat this as an error.
	DispatchAlreadyRunning
)

func (r DispatchResult) String() string {
	if r == DispatchAlreadyRunning {
		return "already_running"
	}
	return "ok"
}

// RunStatus is the engine-reported state of one workflow run.
type RunStatus int

const (
	RunStatusUnknown RunStatus = iota
	RunStatusRunning
	RunStatusCompleted
	RunStatusFailed
	RunStatusCancelled
	RunStatusTerminated
	RunStatusTimedOut
)

// Active reports whether the run is still making progress.
func (s RunStatus) Active() bool { return s == RunStatusRunning }

// Resettable reports whether the run closed in a way the engine can reset
// and replay from the beginning.
func (s RunStatus) Resettable() bool {
	return s == RunStatusFailed || s == RunStatusTimedOut || s == RunStatusTerminated
}

// RunDescription is the engine's view of one workflow run.
type RunDescription struct {
	WorkflowID string
	RunID      string
	Status     RunStatus
}

// TaskSummary is the engine-side record of one DAG task, as reported by the
// pipeline workflow's query handler. Parents reference other task names.
type TaskSummary struct {
	Name              string              `json:"name"`
	Parents           []string            `json:"parents"`
	Status            types.DagTaskStatus `json:"status"`
	StartedAtMillis   int64               `json:"started_at_millis,omitempty"`
	FinishedAtMillis  int64               `json:"finished_at_millis,omitempty"`
	Error             string              `json:"error,omitempty"`
	ChildrenTotal     int                 `json:"children_total,omitempty"`
	ChildrenCompleted int                 `json:"children_completed,omitempty"`
}

// started returns the start time, or nil when the task has not started.
func (t TaskSummary) started() *time.Time {
	return millisTime(t.StartedAtMillis)
}

func (t TaskSummary) finished() *time.Time {
	return millisTime(t.FinishedAtMillis)
}

func millisTime(ms int64) *time.Time {
	if ms == 0 {
		return nil
	}
	at := time.UnixMilli(ms).UTC()
	return &at
}

// EngineClient is the narrow engine surface the dispatcher needs. The
// production implementation is [TemporalEngine]; tests use the mock
// subpackage.
type EngineClient interface {
	// Describe reports the current state of the run with the given workflow
	// id. A run the engine no longer knows returns [ErrRunNotFound].
	Describe(ctx context.Context, workflowID, runID string) (*RunDescription, error)

	// Start launches the pipeline workflow under the given workflow id and
	// returns the engine run id. Starting an id with a live run returns
	// [ErrAlreadyStarted].
	Start(ctx context.Context, workflowID string, cfg Config) (string, error)

	// Reset replays a closed run from the beginning, producing a new run id.
	Reset(ctx context.Context, workflowID, runID string, reason string) (string, error)

	// Cancel requests cancellation. A run the engine no longer knows is a
	// success: cancellation is idempotent.
	Cancel(ctx context.Context, workflowID, runID string) error

	// Tasks returns the pipeline's task summaries for the given run.
	Tasks(ctx context.Context, workflowID, runID string) ([]TaskSummary, error)
}
