package workflow_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	storemock "github.com/reflector-media/reflector/internal/store/mock"
	"github.com/reflector-media/reflector/internal/workflow"
	"github.com/reflector-media/reflector/internal/workflow/mock"
	"github.com/reflector-media/reflector/pkg/types"
)

func strPtr(s string) *string { return &s }

func statusPtr(s workflow.RunStatus) *workflow.RunStatus { return &s }

type fixture struct {
	transcripts *storemock.TranscriptStore
	recordings  *storemock.RecordingStore
	engine      *mock.Engine
	dispatcher  *workflow.Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		transcripts: storemock.NewTranscriptStore(),
		recordings:  storemock.NewRecordingStore(),
		engine:      &mock.Engine{Runs: map[string]*workflow.RunDescription{}},
	}
	f.dispatcher = workflow.NewDispatcher(f.transcripts, f.recordings, f.engine, nil)
	return f
}

func (f *fixture) addTranscript(t *testing.T, tr types.Transcript) {
	t.Helper()
	if tr.Status == "" {
		tr.Status = types.StatusUploaded
	}
	if err := f.transcripts.Create(context.Background(), &tr); err != nil {
		t.Fatalf("create transcript: %v", err)
	}
}

func TestValidate(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		transcript types.Transcript
		runStatus  *workflow.RunStatus
		want       workflow.ValidationOutcome
	}{
		{
			name:       "locked",
			transcript: types.Transcript{ID: "t1", Locked: true, Status: types.StatusUploaded},
			want:       workflow.ValidationLocked,
		},
		{
			name:       "idle without run is not ready",
			transcript: types.Transcript{ID: "t2", Status: types.StatusIdle},
			want:       workflow.ValidationNotReady,
		},
		{
			name:       "live run is already scheduled",
			transcript: types.Transcript{ID: "t3", Status: types.StatusProcessing, WorkflowRunID: strPtr("r3")},
			runStatus:  statusPtr(workflow.RunStatusRunning),
			want:       workflow.ValidationAlreadyScheduled,
		},
		{
			name:       "stale run reference is allowed",
			transcript: types.Transcript{ID: "t4", Status: types.StatusError, WorkflowRunID: strPtr("r4")},
			want:       workflow.ValidationOk,
		},
		{
			name:       "closed run is allowed",
			transcript: types.Transcript{ID: "t5", Status: types.StatusError, WorkflowRunID: strPtr("r5")},
			runStatus:  statusPtr(workflow.RunStatusFailed),
			want:       workflow.ValidationOk,
		},
		{
			name:       "uploaded without run is allowed",
			transcript: types.Transcript{ID: "t6", Status: types.StatusUploaded},
			want:       workflow.ValidationOk,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.addTranscript(t, tc.transcript)
			if tc.runStatus != nil {
				f.engine.Runs[*tc.transcript.WorkflowRunID] = &workflow.RunDescription{
					RunID: *tc.transcript.WorkflowRunID, Status: *tc.runStatus,
				}
			}
			v, err := f.dispatcher.Validate(ctx, &tc.transcript)
			if err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if v.Outcome != tc.want {
				t.Errorf("outcome: want %s, got %s", tc.want, v.Outcome)
			}
		})
	}
}

func TestValidateEngineErrorPropagates(t *testing.T) {
	f := newFixture(t)
	tr := types.Transcript{ID: "t1", Status: types.StatusProcessing, WorkflowRunID: strPtr("r1")}
	f.addTranscript(t, tr)
	f.engine.DescribeErr = errors.New("engine unavailable")

	if _, err := f.dispatcher.Validate(context.Background(), &tr); err == nil {
		t.Error("want error when the engine lookup fails hard")
	}
}

func TestPrepare(t *testing.T) {
	ctx := context.Background()

	t.Run("multitrack", func(t *testing.T) {
		f := newFixture(t)
		f.addTranscript(t, types.Transcript{ID: "t1", RecordingID: strPtr("rec-1"), Language: "en"})
		ok, err := f.recordings.TryCreateWithMeeting(ctx, &types.Recording{
			ID: "rec-1", BucketName: "tracks-bucket",
			TrackKeys: []string{"r/0.webm", "r/1.webm"},
			MeetingID: strPtr("m-1"), RecordedAt: time.Now(),
		})
		if err != nil || !ok {
			t.Fatalf("seed recording: ok=%v err=%v", ok, err)
		}

		cfg, err := f.dispatcher.Prepare(ctx, &workflow.Validation{
			Outcome: workflow.ValidationOk, TranscriptID: "t1", RecordingID: strPtr("rec-1"),
		})
		if err != nil {
			t.Fatalf("Prepare: %v", err)
		}
		mt, ok2 := cfg.(workflow.MultitrackConfig)
		if !ok2 {
			t.Fatalf("want MultitrackConfig, got %T", cfg)
		}
		if mt.BucketName != "tracks-bucket" || len(mt.TrackKeys) != 2 || mt.Language != "en" {
			t.Errorf("config: %+v", mt)
		}
	})

	t.Run("single file recording", func(t *testing.T) {
		f := newFixture(t)
		f.addTranscript(t, types.Transcript{ID: "t1", RecordingID: strPtr("rec-1")})
		_, err := f.recordings.TryCreateWithMeeting(ctx, &types.Recording{
			ID: "rec-1", BucketName: "b", ObjectKey: "cloud/rec-1.mp4",
			MeetingID: strPtr("m-1"), RecordedAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("seed recording: %v", err)
		}

		cfg, err := f.dispatcher.Prepare(ctx, &workflow.Validation{
			Outcome: workflow.ValidationOk, TranscriptID: "t1", RecordingID: strPtr("rec-1"),
		})
		if err != nil {
			t.Fatalf("Prepare: %v", err)
		}
		fc, ok := cfg.(workflow.FileConfig)
		if !ok {
			t.Fatalf("want FileConfig, got %T", cfg)
		}
		if fc.ObjectKey != "cloud/rec-1.mp4" {
			t.Errorf("ObjectKey: got %q", fc.ObjectKey)
		}
	})

	t.Run("no recording falls back to upload key", func(t *testing.T) {
		f := newFixture(t)
		f.addTranscript(t, types.Transcript{ID: "t1"})
		cfg, err := f.dispatcher.Prepare(ctx, &workflow.Validation{
			Outcome: workflow.ValidationOk, TranscriptID: "t1",
		})
		if err != nil {
			t.Fatalf("Prepare: %v", err)
		}
		fc := cfg.(workflow.FileConfig)
		if fc.ObjectKey != "t1/audio.mp3" {
			t.Errorf("ObjectKey: got %q", fc.ObjectKey)
		}
	})

	t.Run("empty track list is an error", func(t *testing.T) {
		f := newFixture(t)
		f.addTranscript(t, types.Transcript{ID: "t1", RecordingID: strPtr("rec-1")})
		_, err := f.recordings.TryCreateWithMeeting(ctx, &types.Recording{
			ID: "rec-1", BucketName: "b", TrackKeys: []string{},
			MeetingID: strPtr("m-1"), RecordedAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("seed recording: %v", err)
		}
		_, err = f.dispatcher.Prepare(ctx, &workflow.Validation{
			Outcome: workflow.ValidationOk, TranscriptID: "t1", RecordingID: strPtr("rec-1"),
		})
		if err == nil || !strings.Contains(err.Error(), "empty track list") {
			t.Errorf("want empty-track-list error, got %v", err)
		}
	})

	t.Run("track keys without bucket is an error", func(t *testing.T) {
		f := newFixture(t)
		f.addTranscript(t, types.Transcript{ID: "t1", RecordingID: strPtr("rec-1")})
		_, err := f.recordings.TryCreateWithMeeting(ctx, &types.Recording{
			ID: "rec-1", TrackKeys: []string{"a.webm"},
			MeetingID: strPtr("m-1"), RecordedAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("seed recording: %v", err)
		}
		_, err = f.dispatcher.Prepare(ctx, &workflow.Validation{
			Outcome: workflow.ValidationOk, TranscriptID: "t1", RecordingID: strPtr("rec-1"),
		})
		if err == nil || !strings.Contains(err.Error(), "bucket") {
			t.Errorf("want bucket error, got %v", err)
		}
	})

	t.Run("rejects non-ok validation", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.dispatcher.Prepare(ctx, &workflow.Validation{
			Outcome: workflow.ValidationLocked, TranscriptID: "t1",
		})
		if err == nil {
			t.Error("want error for locked validation")
		}
	})
}

func TestDispatchFreshStart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addTranscript(t, types.Transcript{ID: "t1", Status: types.StatusUploaded})

	cfg := workflow.MultitrackConfig{TranscriptID: "t1", RecordingID: "rec-1",
		BucketName: "b", TrackKeys: []string{"a.webm"}}
	res, err := f.dispatcher.Dispatch(ctx, cfg, false)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res != workflow.DispatchOk {
		t.Errorf("result: want ok, got %s", res)
	}

	tr, _ := f.transcripts.Get(ctx, "t1")
	if tr.WorkflowRunID == nil || *tr.WorkflowRunID != "run-1" {
		t.Errorf("WorkflowRunID: want run-1, got %v", tr.WorkflowRunID)
	}
	if tr.Status != types.StatusProcessing {
		t.Errorf("Status: want processing, got %s", tr.Status)
	}
	if f.engine.CallCount("Start") != 1 {
		t.Errorf("Start calls: want 1, got %d", f.engine.CallCount("Start"))
	}
}

func TestDispatchAttachesToLiveRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addTranscript(t, types.Transcript{ID: "t1", Status: types.StatusProcessing,
		WorkflowRunID: strPtr("live")})
	f.engine.Runs["live"] = &workflow.RunDescription{RunID: "live", Status: workflow.RunStatusRunning}

	res, err := f.dispatcher.Dispatch(ctx, workflow.FileConfig{TranscriptID: "t1"}, false)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res != workflow.DispatchOk {
		t.Errorf("result: want ok, got %s", res)
	}
	if f.engine.CallCount("Start") != 0 {
		t.Error("attached dispatch must not start a new run")
	}
	tr, _ := f.transcripts.Get(ctx, "t1")
	if tr.WorkflowRunID == nil || *tr.WorkflowRunID != "live" {
		t.Errorf("WorkflowRunID changed: %v", tr.WorkflowRunID)
	}
}

func TestDispatchForceCancelsAndRestarts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addTranscript(t, types.Transcript{ID: "t1", Status: types.StatusProcessing,
		WorkflowRunID: strPtr("live")})
	f.engine.Runs["live"] = &workflow.RunDescription{RunID: "live", Status: workflow.RunStatusRunning}

	res, err := f.dispatcher.Dispatch(ctx, workflow.FileConfig{TranscriptID: "t1"}, true)
	if err != nil {
		t.Fatalf("Dispatch force: %v", err)
	}
	if res != workflow.DispatchOk {
		t.Errorf("result: want ok, got %s", res)
	}
	if f.engine.CallCount("Cancel") != 1 {
		t.Errorf("Cancel calls: want 1, got %d", f.engine.CallCount("Cancel"))
	}
	if f.engine.CallCount("Start") != 1 {
		t.Errorf("Start calls: want 1, got %d", f.engine.CallCount("Start"))
	}
	tr, _ := f.transcripts.Get(ctx, "t1")
	if tr.WorkflowRunID == nil || *tr.WorkflowRunID != "run-1" {
		t.Errorf("WorkflowRunID: want run-1, got %v", tr.WorkflowRunID)
	}
}

func TestDispatchResetsFailedRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addTranscript(t, types.Transcript{ID: "t1", Status: types.StatusError,
		WorkflowRunID: strPtr("dead")})
	f.engine.Runs["dead"] = &workflow.RunDescription{RunID: "dead", Status: workflow.RunStatusFailed}
	f.engine.ResetRunID = "reborn"

	res, err := f.dispatcher.Dispatch(ctx, workflow.FileConfig{TranscriptID: "t1"}, false)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res != workflow.DispatchOk {
		t.Errorf("result: want ok, got %s", res)
	}
	if f.engine.CallCount("Reset") != 1 || f.engine.CallCount("Start") != 0 {
		t.Errorf("want 1 Reset and 0 Start, got %d/%d",
			f.engine.CallCount("Reset"), f.engine.CallCount("Start"))
	}
	tr, _ := f.transcripts.Get(ctx, "t1")
	if tr.WorkflowRunID == nil || *tr.WorkflowRunID != "reborn" {
		t.Errorf("WorkflowRunID: want reborn, got %v", tr.WorkflowRunID)
	}
	if tr.Status != types.StatusProcessing {
		t.Errorf("Status: want processing after reset, got %s", tr.Status)
	}
}

func TestDispatchClearsCompletedRunAndStartsFresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addTranscript(t, types.Transcript{ID: "t1", Status: types.StatusEnded,
		WorkflowRunID: strPtr("done")})
	f.engine.Runs["done"] = &workflow.RunDescription{RunID: "done", Status: workflow.RunStatusCompleted}

	res, err := f.dispatcher.Dispatch(ctx, workflow.FileConfig{TranscriptID: "t1"}, false)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res != workflow.DispatchOk {
		t.Errorf("result: want ok, got %s", res)
	}
	if f.engine.CallCount("Start") != 1 {
		t.Errorf("Start calls: want 1, got %d", f.engine.CallCount("Start"))
	}
	tr, _ := f.transcripts.Get(ctx, "t1")
	if tr.WorkflowRunID == nil || *tr.WorkflowRunID != "run-1" {
		t.Errorf("WorkflowRunID: want run-1, got %v", tr.WorkflowRunID)
	}
}

func TestDispatchStaleDeletedRunStartsFresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// The engine has no record of "gone" (retention deleted it).
	f.addTranscript(t, types.Transcript{ID: "t1", Status: types.StatusError,
		WorkflowRunID: strPtr("gone")})

	res, err := f.dispatcher.Dispatch(ctx, workflow.FileConfig{TranscriptID: "t1"}, false)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res != workflow.DispatchOk || f.engine.CallCount("Start") != 1 {
		t.Errorf("want fresh start, got %s with %d starts", res, f.engine.CallCount("Start"))
	}
}

func TestDispatchEngineRejectsDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addTranscript(t, types.Transcript{ID: "t1", Status: types.StatusUploaded})
	f.engine.StartErr = workflow.ErrAlreadyStarted

	res, err := f.dispatcher.Dispatch(ctx, workflow.FileConfig{TranscriptID: "t1"}, false)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res != workflow.DispatchAlreadyRunning {
		t.Errorf("result: want already_running, got %s", res)
	}
}

// racingStore makes a workflow run id appear on the second read, simulating a
// concurrent dispatcher winning between the initial read and the re-check.
type racingStore struct {
	*storemock.TranscriptStore
	gets int
	run  string
}

func (r *racingStore) Get(ctx context.Context, id string) (*types.Transcript, error) {
	tr, err := r.TranscriptStore.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	r.gets++
	if r.gets >= 2 {
		run := r.run
		tr.WorkflowRunID = &run
	}
	return tr, nil
}

func TestDispatchDetectsConcurrentStart(t *testing.T) {
	ctx := context.Background()
	inner := storemock.NewTranscriptStore()
	if err := inner.Create(ctx, &types.Transcript{ID: "t1", Status: types.StatusUploaded}); err != nil {
		t.Fatalf("create: %v", err)
	}
	racing := &racingStore{TranscriptStore: inner, run: "sniped"}
	engine := &mock.Engine{Runs: map[string]*workflow.RunDescription{
		"sniped": {RunID: "sniped", Status: workflow.RunStatusRunning},
	}}
	d := workflow.NewDispatcher(racing, storemock.NewRecordingStore(), engine, nil)

	res, err := d.Dispatch(ctx, workflow.FileConfig{TranscriptID: "t1"}, false)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res != workflow.DispatchAlreadyRunning {
		t.Errorf("result: want already_running, got %s", res)
	}
	if engine.CallCount("Start") != 0 {
		t.Error("loser of the race must not start a run")
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// No run referenced: success without touching the engine.
	f.addTranscript(t, types.Transcript{ID: "t1", Status: types.StatusUploaded})
	if err := f.dispatcher.Cancel(ctx, "t1"); err != nil {
		t.Fatalf("Cancel without run: %v", err)
	}
	if f.engine.CallCount("Cancel") != 0 {
		t.Error("Cancel must not reach the engine without a run")
	}

	// Engine no longer knows the run: still a success.
	f.addTranscript(t, types.Transcript{ID: "t2", Status: types.StatusProcessing,
		WorkflowRunID: strPtr("gone")})
	f.engine.CancelErr = workflow.ErrRunNotFound
	if err := f.dispatcher.Cancel(ctx, "t2"); err != nil {
		t.Errorf("Cancel of deleted run: %v", err)
	}
}

func TestStatusProjection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addTranscript(t, types.Transcript{ID: "t1", Status: types.StatusProcessing,
		WorkflowRunID: strPtr("r1")})
	f.engine.TasksResult = pipelineSummaries()

	runID, tasks, err := f.dispatcher.StatusProjection(ctx, "t1")
	if err != nil {
		t.Fatalf("StatusProjection: %v", err)
	}
	if runID != "r1" {
		t.Errorf("runID: want r1, got %s", runID)
	}
	if len(tasks) != len(pipelineSummaries()) {
		t.Errorf("tasks: want %d, got %d", len(pipelineSummaries()), len(tasks))
	}

	// Without a run the projection is empty, not an error.
	f.addTranscript(t, types.Transcript{ID: "t2", Status: types.StatusIdle})
	runID, tasks, err = f.dispatcher.StatusProjection(ctx, "t2")
	if err != nil || runID != "" || tasks != nil {
		t.Errorf("no-run projection: want empty, got %s/%v/%v", runID, tasks, err)
	}
}
