package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/reflector-media/reflector/pkg/types"
)

// Publisher emits transcript events into the broker. Pipeline stages hold a
// Publisher and never talk to WebSocket connections directly.
type Publisher struct {
	broker Broker
	log    *slog.Logger
}

// NewPublisher creates a Publisher on top of broker.
func NewPublisher(broker Broker, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{broker: broker, log: log}
}

// Publish wraps data into the event envelope and publishes it to the
// transcript's room. seq is the sequence number the event log assigned on
// persist, or 0 for events that are broadcast without being persisted; it lets
// subscribers reconcile the live stream with history replay. data must
// marshal to JSON.
func (p *Publisher) Publish(ctx context.Context, transcriptID, event string, seq int64, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("broadcast: marshal %s payload: %w", event, err)
	}
	payload, err := json.Marshal(Envelope{Event: event, Seq: seq, Data: raw})
	if err != nil {
		return fmt.Errorf("broadcast: marshal %s envelope: %w", event, err)
	}
	return p.broker.Publish(ctx, TranscriptRoom(transcriptID), payload)
}

// DagStatusPayload is the DAG_STATUS event body: a full snapshot of the task
// graph for one workflow run. Later snapshots supersede earlier ones for the
// same workflow_run_id.
type DagStatusPayload struct {
	WorkflowRunID string          `json:"workflow_run_id"`
	Tasks         []types.DagTask `json:"tasks"`
}

// PublishDagStatus publishes a DAG_STATUS snapshot for the transcript.
func (p *Publisher) PublishDagStatus(ctx context.Context, transcriptID, workflowRunID string, tasks []types.DagTask) error {
	return p.Publish(ctx, transcriptID, types.EventDagStatus, 0, DagStatusPayload{
		WorkflowRunID: workflowRunID,
		Tasks:         tasks,
	})
}
