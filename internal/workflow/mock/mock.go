// Package mock provides a configurable test double for the workflow engine
// client. The mock records every call and returns whatever the exported
// fields are set to; it is safe for concurrent use.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/reflector-media/reflector/internal/workflow"
)

var _ workflow.EngineClient = (*Engine)(nil)

// Call records the name and arguments of a single method invocation.
type Call struct {
	Method string
	Args   []any
}

// Engine is a configurable test double for [workflow.EngineClient].
type Engine struct {
	mu    sync.Mutex
	calls []Call

	// Runs maps runID → description returned by Describe. A runID absent
	// from the map yields [workflow.ErrRunNotFound].
	Runs map[string]*workflow.RunDescription

	// DescribeErr overrides the Runs lookup when non-nil.
	DescribeErr error

	// StartRunID is returned by Start; defaults to "run-<n>" with n the
	// number of Start calls so far.
	StartRunID string

	// StartErr is returned by Start when non-nil.
	StartErr error

	// ResetRunID is returned by Reset; defaults to "reset-run".
	ResetRunID string

	// ResetErr is returned by Reset when non-nil.
	ResetErr error

	// CancelErr is returned by Cancel when non-nil.
	CancelErr error

	// TasksResult is returned by Tasks.
	TasksResult []workflow.TaskSummary

	// TasksErr is returned by Tasks when non-nil.
	TasksErr error

	starts int
}

// Calls returns a copy of all recorded method invocations.
func (m *Engine) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *Engine) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Describe implements [workflow.EngineClient].
func (m *Engine) Describe(_ context.Context, workflowID, runID string) (*workflow.RunDescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Describe", Args: []any{workflowID, runID}})
	if m.DescribeErr != nil {
		return nil, m.DescribeErr
	}
	desc, ok := m.Runs[runID]
	if !ok {
		return nil, workflow.ErrRunNotFound
	}
	cp := *desc
	return &cp, nil
}

// Start implements [workflow.EngineClient].
func (m *Engine) Start(_ context.Context, workflowID string, cfg workflow.Config) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Start", Args: []any{workflowID, cfg}})
	if m.StartErr != nil {
		return "", m.StartErr
	}
	m.starts++
	if m.StartRunID != "" {
		return m.StartRunID, nil
	}
	return fmt.Sprintf("run-%d", m.starts), nil
}

// Reset implements [workflow.EngineClient].
func (m *Engine) Reset(_ context.Context, workflowID, runID, reason string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Reset", Args: []any{workflowID, runID, reason}})
	if m.ResetErr != nil {
		return "", m.ResetErr
	}
	if m.ResetRunID != "" {
		return m.ResetRunID, nil
	}
	return "reset-run", nil
}

// Cancel implements [workflow.EngineClient].
func (m *Engine) Cancel(_ context.Context, workflowID, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Cancel", Args: []any{workflowID, runID}})
	return m.CancelErr
}

// Tasks implements [workflow.EngineClient].
func (m *Engine) Tasks(_ context.Context, workflowID, runID string) ([]workflow.TaskSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Tasks", Args: []any{workflowID, runID}})
	if m.TasksErr != nil {
		return nil, m.TasksErr
	}
	out := make([]workflow.TaskSummary, len(m.TasksResult))
	copy(out, m.TasksResult)
	return out, nil
}
