package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	commonpb "go.temporal.io/api/common/v1"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"
)

// Names shared between the dispatcher and the pipeline worker.
const (
	// TaskQueue is the Temporal task queue the pipeline worker polls.
	TaskQueue = "reflector-pipeline"

	// DiarizationPipelineName is the registered multitrack workflow.
	DiarizationPipelineName = "DiarizationPipeline"

	// FilePipelineName is the registered single-file workflow.
	FilePipelineName = "FilePipeline"

	// TaskQuery is the workflow query returning []TaskSummary.
	TaskQuery = "dag_tasks"
)

// TemporalEngine implements [EngineClient] on a Temporal cluster.
type TemporalEngine struct {
	client    client.Client
	namespace string
}

var _ EngineClient = (*TemporalEngine)(nil)

// NewTemporalEngine wraps an existing Temporal client. The namespace must
// match the one the client connects to; it is needed for reset requests.
func NewTemporalEngine(c client.Client, namespace string) *TemporalEngine {
	if namespace == "" {
		namespace = client.DefaultNamespace
	}
	return &TemporalEngine{client: c, namespace: namespace}
}

// Describe implements [EngineClient].
func (e *TemporalEngine) Describe(ctx context.Context, workflowID, runID string) (*RunDescription, error) {
	resp, err := e.client.DescribeWorkflowExecution(ctx, workflowID, runID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("temporal: describe %s/%s: %w", workflowID, runID, err)
	}
	info := resp.GetWorkflowExecutionInfo()
	return &RunDescription{
		WorkflowID: workflowID,
		RunID:      info.GetExecution().GetRunId(),
		Status:     runStatus(info.GetStatus()),
	}, nil
}

// Start implements [EngineClient]. The workflow id is the dedup key: a live
// run under the same id turns the start into [ErrAlreadyStarted].
func (e *TemporalEngine) Start(ctx context.Context, workflowID string, cfg Config) (string, error) {
	var workflow string
	switch cfg.(type) {
	case MultitrackConfig:
		workflow = DiarizationPipelineName
	case FileConfig:
		workflow = FilePipelineName
	default:
		return "", fmt.Errorf("temporal: start %s: unknown config type %T", workflowID, cfg)
	}

	opts := client.StartWorkflowOptions{
		ID:                                       workflowID,
		TaskQueue:                                TaskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}
	run, err := e.client.ExecuteWorkflow(ctx, opts, workflow, cfg)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			return "", ErrAlreadyStarted
		}
		return "", fmt.Errorf("temporal: start %s: %w", workflowID, err)
	}
	return run.GetRunID(), nil
}

// Reset implements [EngineClient]. The run is replayed from its first
// workflow task, producing a fresh run id.
func (e *TemporalEngine) Reset(ctx context.Context, workflowID, runID, reason string) (string, error) {
	resp, err := e.client.ResetWorkflowExecution(ctx, &workflowservice.ResetWorkflowExecutionRequest{
		Namespace: e.namespace,
		WorkflowExecution: &commonpb.WorkflowExecution{
			WorkflowId: workflowID,
			RunId:      runID,
		},
		Reason:                    reason,
		WorkflowTaskFinishEventId: 3,
		RequestId:                 uuid.NewString(),
	})
	if err != nil {
		if isNotFound(err) {
			return "", ErrRunNotFound
		}
		return "", fmt.Errorf("temporal: reset %s/%s: %w", workflowID, runID, err)
	}
	return resp.GetRunId(), nil
}

// Cancel implements [EngineClient]. Not-found is a success.
func (e *TemporalEngine) Cancel(ctx context.Context, workflowID, runID string) error {
	err := e.client.CancelWorkflow(ctx, workflowID, runID)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("temporal: cancel %s/%s: %w", workflowID, runID, err)
	}
	return nil
}

// Tasks implements [EngineClient] via the pipeline's query handler.
func (e *TemporalEngine) Tasks(ctx context.Context, workflowID, runID string) ([]TaskSummary, error) {
	val, err := e.client.QueryWorkflow(ctx, workflowID, runID, TaskQuery)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("temporal: query tasks %s/%s: %w", workflowID, runID, err)
	}
	var summaries []TaskSummary
	if err := val.Get(&summaries); err != nil {
		return nil, fmt.Errorf("temporal: decode tasks %s/%s: %w", workflowID, runID, err)
	}
	return summaries, nil
}

func isNotFound(err error) bool {
	var nf *serviceerror.NotFound
	return errors.As(err, &nf)
}

func runStatus(s enumspb.WorkflowExecutionStatus) RunStatus {
	switch s {
	case enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING,
		enumspb.WORKFLOW_EXECUTION_STATUS_CONTINUED_AS_NEW:
		return RunStatusRunning
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		return RunStatusCompleted
	case enumspb.WORKFLOW_EXECUTION_STATUS_FAILED:
		return RunStatusFailed
	case enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED:
		return RunStatusCancelled
	case enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED:
		return RunStatusTerminated
	case enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT:
		return RunStatusTimedOut
	}
	return RunStatusUnknown
}
