package pipeline

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	engine "github.com/reflector-media/reflector/internal/workflow"
	"github.com/reflector-media/reflector/pkg/types"
)

// pipelineRun holds the per-execution workflow state the stage helpers need:
// the tracker behind the DAG query, and the identity used in events.
type pipelineRun struct {
	ctx          workflow.Context
	transcriptID string
	tracker      *taskTracker
	runID        string
}

func newRun(ctx workflow.Context, transcriptID string, tracker *taskTracker) (*pipelineRun, error) {
	if err := workflow.SetQueryHandler(ctx, engine.TaskQuery, tracker.query); err != nil {
		return nil, err
	}
	return &pipelineRun{
		ctx:          ctx,
		transcriptID: transcriptID,
		tracker:      tracker,
		runID:        workflow.GetInfo(ctx).WorkflowExecution.RunID,
	}, nil
}

// publish pushes a DAG_STATUS snapshot. Best effort: a broker outage must
// never fail the pipeline, subscribers can always re-query.
func (p *pipelineRun) publish() {
	p.publishOn(p.ctx)
}

func (p *pipelineRun) publishOn(ctx workflow.Context) {
	actx := workflow.WithActivityOptions(ctx, stageOptions(storeTimeout))
	err := workflow.ExecuteActivity(actx, acts.PublishDagStatus, DagStatusInput{
		TranscriptID:  p.transcriptID,
		WorkflowRunID: p.runID,
		Summaries:     p.tracker.snapshot(),
	}).Get(ctx, nil)
	if err != nil {
		workflow.GetLogger(ctx).Warn("dag status publish failed", "error", err)
	}
}

// stage runs one activity as one tracked task, publishing snapshots around
// the transition. On failure the task is marked but the snapshot is left to
// the caller's failure path, which also cancels the still-pending tasks.
func (p *pipelineRun) stage(name string, timeout time.Duration, fn any, in any, out any) error {
	p.tracker.start(name)
	p.publish()

	actx := workflow.WithActivityOptions(p.ctx, stageOptions(timeout))
	if err := workflow.ExecuteActivity(actx, fn, in).Get(p.ctx, out); err != nil {
		p.tracker.fail(name, err)
		return err
	}

	p.tracker.complete(name)
	p.publish()
	return nil
}

// failed is the single failure exit: pending tasks become cancelled, the
// final snapshot goes out, and the transcript is marked error — unless the
// workflow itself was cancelled, in which case the status is left alone.
// All of it runs on a disconnected context so a cancelled workflow can still
// clean up.
func (p *pipelineRun) failed(cause error) error {
	p.tracker.cancelPending()

	dctx, cancel := workflow.NewDisconnectedContext(p.ctx)
	defer cancel()
	p.publishOn(dctx)

	if !temporal.IsCanceledError(cause) {
		actx := workflow.WithActivityOptions(dctx, stageOptions(storeTimeout))
		err := workflow.ExecuteActivity(actx, acts.SetStatus, SetStatusInput{
			TranscriptID: p.transcriptID,
			Status:       types.StatusError,
		}).Get(dctx, nil)
		if err != nil {
			workflow.GetLogger(dctx).Error("failed to mark transcript error", "error", err)
		}
	}
	p.enforceConsentOn(dctx)
	return cause
}

// enforceConsent runs the consent policy on the success exit.
func (p *pipelineRun) enforceConsent() {
	p.enforceConsentOn(p.ctx)
}

// enforceConsentOn applies the consent policy. It runs on every terminal
// path, including failure and cancellation: a participant's denial must purge
// raw audio regardless of how the run ended. A purge failure is logged, not
// surfaced; the flag stays unset so a later run can complete the deletion.
func (p *pipelineRun) enforceConsentOn(ctx workflow.Context) {
	actx := workflow.WithActivityOptions(ctx, stageOptions(storeTimeout))
	err := workflow.ExecuteActivity(actx, acts.EnforceConsent, EnforceConsentInput{
		TranscriptID: p.transcriptID,
	}).Get(ctx, nil)
	if err != nil {
		workflow.GetLogger(ctx).Error("consent enforcement failed", "error", err)
	}
}
