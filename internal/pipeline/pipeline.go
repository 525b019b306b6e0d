// Package pipeline implements the Temporal workflows and activities that turn
// recorded audio into a finished transcript.
//
// Two workflows are registered: [DiarizationPipeline] fans out over
// per-participant tracks (pad, transcribe), mixes them down, and folds
// diarization into the merged word list; [FilePipeline] runs the same tail
// over a single audio object. Both expose their task graph through the
// engine.TaskQuery query handler and publish a DAG_STATUS snapshot on every
// task transition.
//
// The workflows only sequence work; everything that touches the network or
// disk lives in [Activities].
package pipeline

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	engine "github.com/reflector-media/reflector/internal/workflow"
)

// Per-stage execution timeouts. Padding and transcription are bounded by
// track length; the mixdown decodes every track once more and gets the
// largest budget.
const (
	padTrackTimeout   = 300 * time.Second
	transcribeTimeout = 600 * time.Second
	mixdownTimeout    = 15 * time.Minute
	llmStageTimeout   = 10 * time.Minute
	storeTimeout      = time.Minute
)

// Task names reported through the DAG query. The UI keys off these.
const (
	taskGetRecording = "get_recording"
	taskPrepareAudio = "prepare_audio"
	taskMerge        = "merge"
	taskMixdown      = "mixdown_tracks"
	taskAssemble     = "assemble"
	taskDetectTopics = "detect_topics"
	taskTitle        = "title"
	taskSummaries    = "summaries"
	taskFinalize     = "finalize"
)

func padTaskName(i int) string        { return fmt.Sprintf("pad_track_%d", i) }
func transcribeTaskName(i int) string { return fmt.Sprintf("transcribe_track_%d", i) }

// errTypeProtocol marks failures that retrying cannot fix: a stage produced
// no output where output is required.
const errTypeProtocol = "protocol"

// stageOptions builds the activity options for one pipeline stage: three
// attempts with exponential backoff, never retrying protocol errors.
func stageOptions(timeout time.Duration) workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		HeartbeatTimeout:    timeout / 3,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{errTypeProtocol},
		},
	}
}

// acts is a nil receiver used only to resolve activity names at call sites.
var acts *Activities

// Register registers both pipeline workflows and the activity set on w.
func Register(w worker.Worker, a *Activities) {
	w.RegisterWorkflowWithOptions(DiarizationPipeline, workflow.RegisterOptions{
		Name: engine.DiarizationPipelineName,
	})
	w.RegisterWorkflowWithOptions(FilePipeline, workflow.RegisterOptions{
		Name: engine.FilePipelineName,
	})
	w.RegisterActivity(a)
}

// NewWorker builds a worker polling the pipeline task queue with both
// workflows and all activities registered.
func NewWorker(c client.Client, a *Activities) worker.Worker {
	w := worker.New(c, engine.TaskQueue, worker.Options{})
	Register(w, a)
	return w
}
