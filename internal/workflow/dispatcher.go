package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/reflector-media/reflector/internal/store"
	"github.com/reflector-media/reflector/pkg/types"
)

// ErrRunNotFound is returned by [EngineClient.Describe] when the engine has
// no record of the run (deleted by retention or never started).
var ErrRunNotFound = errors.New("workflow: run not found")

// ErrAlreadyStarted is returned by [EngineClient.Start] when a live run
// already holds the workflow id.
var ErrAlreadyStarted = errors.New("workflow: already started")

// Dispatcher drives the Validate → Prepare → Dispatch protocol for transcript
// pipelines. It is safe for concurrent use; races between concurrent
// dispatchers are resolved by the engine's workflow-id uniqueness and a
// re-read of the transcript row immediately before starting.
type Dispatcher struct {
	transcripts store.TranscriptStore
	recordings  store.RecordingStore
	engine      EngineClient
	log         *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(transcripts store.TranscriptStore, recordings store.RecordingStore, engine EngineClient, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		transcripts: transcripts,
		recordings:  recordings,
		engine:      engine,
		log:         log.With("component", "workflow.dispatcher"),
	}
}

// Validate decides whether the transcript may be dispatched. An engine lookup
// failure for an unknown run is treated as "no active run": a stale reference
// must not block processing.
func (d *Dispatcher) Validate(ctx context.Context, tr *types.Transcript) (*Validation, error) {
	v := &Validation{
		TranscriptID: tr.ID,
		RecordingID:  tr.RecordingID,
		RoomID:       tr.RoomID,
	}

	if tr.Locked {
		v.Outcome = ValidationLocked
		return v, nil
	}
	if tr.Status == types.StatusIdle && tr.WorkflowRunID == nil {
		v.Outcome = ValidationNotReady
		return v, nil
	}

	if tr.WorkflowRunID != nil {
		desc, err := d.engine.Describe(ctx, WorkflowID(tr.ID), *tr.WorkflowRunID)
		switch {
		case errors.Is(err, ErrRunNotFound):
			// stale reference, allowed
		case err != nil:
			return nil, fmt.Errorf("workflow: validate %s: %w", tr.ID, err)
		case desc.Status.Active():
			v.Outcome = ValidationAlreadyScheduled
			return v, nil
		}
	}

	v.Outcome = ValidationOk
	return v, nil
}

// Prepare turns a successful validation into a pipeline configuration by
// reading the recording row. Track keys select the multitrack pipeline; an
// empty-but-present track list or a missing bucket is a validation error,
// never retried.
func (d *Dispatcher) Prepare(ctx context.Context, v *Validation) (Config, error) {
	if v.Outcome != ValidationOk {
		return nil, fmt.Errorf("workflow: prepare %s: validation outcome is %s", v.TranscriptID, v.Outcome)
	}

	tr, err := d.transcripts.Get(ctx, v.TranscriptID)
	if err != nil {
		return nil, fmt.Errorf("workflow: prepare %s: %w", v.TranscriptID, err)
	}

	if v.RecordingID == nil {
		// No recording row: a directly uploaded file keyed by transcript id.
		return FileConfig{
			TranscriptID: tr.ID,
			ObjectKey:    tr.ID + "/audio.mp3",
			Language:     tr.Language,
		}, nil
	}

	rec, err := d.recordings.Get(ctx, *v.RecordingID)
	if err != nil {
		return nil, fmt.Errorf("workflow: prepare %s: recording %s: %w", v.TranscriptID, *v.RecordingID, err)
	}

	if rec.TrackKeys == nil {
		return FileConfig{
			TranscriptID: tr.ID,
			BucketName:   rec.BucketName,
			ObjectKey:    rec.ObjectKey,
			Language:     tr.Language,
		}, nil
	}
	if len(rec.TrackKeys) == 0 {
		return nil, fmt.Errorf("workflow: prepare %s: recording %s has an empty track list", tr.ID, rec.ID)
	}
	if rec.BucketName == "" {
		return nil, fmt.Errorf("workflow: prepare %s: recording %s has track keys but no bucket name", tr.ID, rec.ID)
	}

	return MultitrackConfig{
		TranscriptID: tr.ID,
		RecordingID:  rec.ID,
		BucketName:   rec.BucketName,
		TrackKeys:    rec.TrackKeys,
		Language:     tr.Language,
	}, nil
}

// Dispatch starts, resets, or attaches to a pipeline run for the prepared
// configuration.
//
// If the transcript references a previous run, Dispatch asks the engine about
// it first: a live run is attached to (or cancelled when force is set), a
// resettable run is replayed, and a completed or deleted run clears the
// reference and starts fresh. Immediately before a fresh start the transcript
// is re-read; a run id that appeared in the meantime and is live resolves the
// race as [DispatchAlreadyRunning].
func (d *Dispatcher) Dispatch(ctx context.Context, cfg Config, force bool) (DispatchResult, error) {
	transcriptID := cfg.Transcript()
	workflowID := WorkflowID(transcriptID)

	tr, err := d.transcripts.Get(ctx, transcriptID)
	if err != nil {
		return DispatchOk, fmt.Errorf("workflow: dispatch %s: %w", transcriptID, err)
	}

	if tr.WorkflowRunID != nil {
		runID := *tr.WorkflowRunID
		desc, err := d.engine.Describe(ctx, workflowID, runID)
		switch {
		case errors.Is(err, ErrRunNotFound):
			// Retention deleted the run; fall through to a fresh start.
		case err != nil:
			return DispatchOk, fmt.Errorf("workflow: dispatch %s: describe run %s: %w", transcriptID, runID, err)
		case desc.Status.Active():
			if !force {
				d.log.Info("attaching to live pipeline run",
					"transcript_id", transcriptID, "run_id", runID)
				return DispatchOk, nil
			}
			if err := d.engine.Cancel(ctx, workflowID, runID); err != nil {
				return DispatchOk, fmt.Errorf("workflow: dispatch %s: cancel run %s: %w", transcriptID, runID, err)
			}
		case desc.Status.Resettable() && !force:
			newRunID, err := d.engine.Reset(ctx, workflowID, runID, "pipeline replay")
			if err != nil {
				return DispatchOk, fmt.Errorf("workflow: dispatch %s: reset run %s: %w", transcriptID, runID, err)
			}
			if err := d.recordRun(ctx, transcriptID, newRunID); err != nil {
				return DispatchOk, err
			}
			d.log.Info("replaying pipeline run",
				"transcript_id", transcriptID, "old_run_id", runID, "run_id", newRunID)
			return DispatchOk, nil
		}

		if err := d.transcripts.Update(ctx, transcriptID, store.TranscriptPatch{ClearWorkflowRun: true}); err != nil {
			return DispatchOk, fmt.Errorf("workflow: dispatch %s: clear stale run: %w", transcriptID, err)
		}
	}

	// Concurrent-dispatch re-check: another dispatcher may have started a run
	// between our Get above and here.
	tr, err = d.transcripts.Get(ctx, transcriptID)
	if err != nil {
		return DispatchOk, fmt.Errorf("workflow: dispatch %s: %w", transcriptID, err)
	}
	if tr.WorkflowRunID != nil {
		desc, err := d.engine.Describe(ctx, workflowID, *tr.WorkflowRunID)
		if err == nil && desc.Status.Active() {
			return DispatchAlreadyRunning, nil
		}
	}

	runID, err := d.engine.Start(ctx, workflowID, cfg)
	if errors.Is(err, ErrAlreadyStarted) {
		return DispatchAlreadyRunning, nil
	}
	if err != nil {
		return DispatchOk, fmt.Errorf("workflow: dispatch %s: start: %w", transcriptID, err)
	}

	if err := d.recordRun(ctx, transcriptID, runID); err != nil {
		return DispatchOk, err
	}
	d.log.Info("started pipeline run", "transcript_id", transcriptID, "run_id", runID)
	return DispatchOk, nil
}

// Cancel stops the transcript's pipeline run if one is referenced. A missing
// run is a success.
func (d *Dispatcher) Cancel(ctx context.Context, transcriptID string) error {
	tr, err := d.transcripts.Get(ctx, transcriptID)
	if err != nil {
		return fmt.Errorf("workflow: cancel %s: %w", transcriptID, err)
	}
	if tr.WorkflowRunID == nil {
		return nil
	}
	err = d.engine.Cancel(ctx, WorkflowID(transcriptID), *tr.WorkflowRunID)
	if err != nil && !errors.Is(err, ErrRunNotFound) {
		return fmt.Errorf("workflow: cancel %s: %w", transcriptID, err)
	}
	return nil
}

// StatusProjection computes the ordered DAG task list for the transcript's
// current run. A transcript without a run yields an empty projection.
func (d *Dispatcher) StatusProjection(ctx context.Context, transcriptID string) (string, []types.DagTask, error) {
	tr, err := d.transcripts.Get(ctx, transcriptID)
	if err != nil {
		return "", nil, fmt.Errorf("workflow: status projection %s: %w", transcriptID, err)
	}
	if tr.WorkflowRunID == nil {
		return "", nil, nil
	}
	runID := *tr.WorkflowRunID

	summaries, err := d.engine.Tasks(ctx, WorkflowID(transcriptID), runID)
	if err != nil {
		return "", nil, fmt.Errorf("workflow: status projection %s: %w", transcriptID, err)
	}
	tasks, err := Project(summaries)
	if err != nil {
		return "", nil, fmt.Errorf("workflow: status projection %s: %w", transcriptID, err)
	}
	return runID, tasks, nil
}

func (d *Dispatcher) recordRun(ctx context.Context, transcriptID, runID string) error {
	patch := store.TranscriptPatch{WorkflowRunID: &runID}
	if err := d.transcripts.Update(ctx, transcriptID, patch); err != nil {
		return fmt.Errorf("workflow: record run %s for %s: %w", runID, transcriptID, err)
	}
	if _, err := d.transcripts.UpdateStatus(ctx, transcriptID, types.StatusProcessing); err != nil &&
		!errors.Is(err, store.ErrInvalidTransition) {
		return fmt.Errorf("workflow: record run %s for %s: %w", runID, transcriptID, err)
	}
	return nil
}
