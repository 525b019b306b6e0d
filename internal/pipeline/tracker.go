package pipeline

import (
	"time"

	engine "github.com/reflector-media/reflector/internal/workflow"
	"github.com/reflector-media/reflector/pkg/types"
)

// taskTracker is the workflow-local record of the task graph. It backs the
// engine.TaskQuery query handler and feeds DAG_STATUS snapshots. All methods
// run on the workflow goroutine; no locking is needed or allowed there.
//
// The clock is injected because workflow code must read time through
// workflow.Now, and tests want a fixed one.
type taskTracker struct {
	order []string
	tasks map[string]*engine.TaskSummary
	now   func() time.Time
}

func newTaskTracker(now func() time.Time) *taskTracker {
	return &taskTracker{
		tasks: make(map[string]*engine.TaskSummary),
		now:   now,
	}
}

// add declares a task with its parent edges. Declaration order is preserved
// in snapshots; the projection re-sorts topologically anyway.
func (t *taskTracker) add(name string, parents ...string) {
	if parents == nil {
		parents = []string{}
	}
	t.order = append(t.order, name)
	t.tasks[name] = &engine.TaskSummary{
		Name:    name,
		Parents: parents,
		Status:  types.TaskQueued,
	}
}

// setFanOut records child-aggregation counters on a task (e.g. topic chunks
// processed). The projection turns them into a progress percentage.
func (t *taskTracker) setFanOut(name string, total, completed int) {
	s := t.tasks[name]
	s.ChildrenTotal = total
	if completed > total {
		completed = total
	}
	s.ChildrenCompleted = completed
}

func (t *taskTracker) start(name string) {
	s := t.tasks[name]
	s.Status = types.TaskRunning
	s.StartedAtMillis = t.now().UnixMilli()
}

func (t *taskTracker) complete(name string) {
	s := t.tasks[name]
	s.Status = types.TaskCompleted
	s.FinishedAtMillis = t.now().UnixMilli()
	if s.ChildrenTotal > 0 {
		s.ChildrenCompleted = s.ChildrenTotal
	}
}

func (t *taskTracker) fail(name string, err error) {
	s := t.tasks[name]
	s.Status = types.TaskFailed
	s.FinishedAtMillis = t.now().UnixMilli()
	if err != nil {
		s.Error = err.Error()
	}
}

// cancelPending marks every queued or running task cancelled. Called on the
// failure path so the snapshot does not show tasks stuck "running" forever.
func (t *taskTracker) cancelPending() {
	for _, name := range t.order {
		s := t.tasks[name]
		if !s.Status.Terminal() {
			s.Status = types.TaskCancelled
		}
	}
}

// snapshot returns value copies in declaration order, safe to hand to the
// query machinery and to activities.
func (t *taskTracker) snapshot() []engine.TaskSummary {
	out := make([]engine.TaskSummary, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, *t.tasks[name])
	}
	return out
}

// query is the engine.TaskQuery handler.
func (t *taskTracker) query() ([]engine.TaskSummary, error) {
	return t.snapshot(), nil
}
