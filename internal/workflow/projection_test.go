package workflow_test

import (
	"reflect"
	"testing"

	"github.com/reflector-media/reflector/internal/workflow"
	"github.com/reflector-media/reflector/pkg/types"
)

// pipelineSummaries models a two-track diarization run.
func pipelineSummaries() []workflow.TaskSummary {
	return []workflow.TaskSummary{
		{Name: "get_recording", Status: types.TaskCompleted},
		{Name: "pad_track_0", Parents: []string{"get_recording"}, Status: types.TaskCompleted},
		{Name: "pad_track_1", Parents: []string{"get_recording"}, Status: types.TaskCompleted},
		{Name: "transcribe_track_0", Parents: []string{"pad_track_0"}, Status: types.TaskCompleted},
		{Name: "transcribe_track_1", Parents: []string{"pad_track_1"}, Status: types.TaskRunning},
		{Name: "merge", Parents: []string{"transcribe_track_0", "transcribe_track_1"}, Status: types.TaskQueued,
			ChildrenTotal: 2, ChildrenCompleted: 1},
		{Name: "mixdown_tracks", Parents: []string{"pad_track_0", "pad_track_1"}, Status: types.TaskRunning},
		{Name: "assemble", Parents: []string{"merge", "mixdown_tracks"}, Status: types.TaskQueued},
		{Name: "detect_topics", Parents: []string{"assemble"}, Status: types.TaskQueued},
		{Name: "title", Parents: []string{"detect_topics"}, Status: types.TaskQueued},
		{Name: "summaries", Parents: []string{"detect_topics"}, Status: types.TaskQueued},
	}
}

func taskNames(tasks []types.DagTask) []string {
	names := make([]string, len(tasks))
	for i, t := range tasks {
		names[i] = t.Name
	}
	return names
}

func TestProjectOrderIsTopologicalAndStable(t *testing.T) {
	want := []string{
		"get_recording",
		"pad_track_0", "pad_track_1",
		"mixdown_tracks",
		"transcribe_track_0", "transcribe_track_1",
		"merge",
		"assemble",
		"detect_topics",
		"summaries", "title",
	}

	first, err := workflow.Project(pipelineSummaries())
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if got := taskNames(first); !reflect.DeepEqual(got, want) {
		t.Errorf("order:\n want %v\n got  %v", want, got)
	}

	// Same engine state must project identically every time, regardless of
	// the input slice order.
	shuffled := pipelineSummaries()
	shuffled[0], shuffled[len(shuffled)-1] = shuffled[len(shuffled)-1], shuffled[0]
	shuffled[2], shuffled[5] = shuffled[5], shuffled[2]
	again, err := workflow.Project(shuffled)
	if err != nil {
		t.Fatalf("Project shuffled: %v", err)
	}
	if !reflect.DeepEqual(taskNames(again), want) {
		t.Errorf("shuffled input changed the order: %v", taskNames(again))
	}
}

func TestProjectDurationsAndProgress(t *testing.T) {
	tasks, err := workflow.Project([]workflow.TaskSummary{
		{Name: "a", Status: types.TaskCompleted, StartedAtMillis: 1000, FinishedAtMillis: 3500},
		{Name: "b", Parents: []string{"a"}, Status: types.TaskRunning, StartedAtMillis: 4000,
			ChildrenTotal: 4, ChildrenCompleted: 3},
	})
	if err != nil {
		t.Fatalf("Project: %v", err)
	}

	if tasks[0].DurationSeconds == nil || *tasks[0].DurationSeconds != 2.5 {
		t.Errorf("a duration: want 2.5, got %v", tasks[0].DurationSeconds)
	}
	if tasks[0].StartedAt == nil || tasks[0].StartedAt.UnixMilli() != 1000 {
		t.Errorf("a started_at: got %v", tasks[0].StartedAt)
	}
	if tasks[1].DurationSeconds != nil {
		t.Errorf("b duration: want nil while running, got %v", tasks[1].DurationSeconds)
	}
	if tasks[1].ProgressPct != 75 {
		t.Errorf("b progress: want 75, got %v", tasks[1].ProgressPct)
	}
	if tasks[0].Parents == nil || len(tasks[0].Parents) != 0 {
		t.Errorf("root parents: want empty list, got %v", tasks[0].Parents)
	}
}

func TestProjectRejectsBadGraphs(t *testing.T) {
	if _, err := workflow.Project([]workflow.TaskSummary{
		{Name: "a", Parents: []string{"b"}},
		{Name: "b", Parents: []string{"a"}},
	}); err == nil {
		t.Error("cycle: want error, got nil")
	}

	if _, err := workflow.Project([]workflow.TaskSummary{
		{Name: "a", Parents: []string{"ghost"}},
	}); err == nil {
		t.Error("unknown parent: want error, got nil")
	}

	if _, err := workflow.Project([]workflow.TaskSummary{
		{Name: "a"}, {Name: "a"},
	}); err == nil {
		t.Error("duplicate name: want error, got nil")
	}
}

func TestSummarizeError(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"empty", "", ""},
		{"single line", "mixdown produced no frames", "mixdown produced no frames"},
		{
			"python traceback",
			"Traceback (most recent call last):\n" +
				"File \"pipeline.py\", line 12, in mixdown\n" +
				"ValueError: no decodable frames",
			"ValueError: no decodable frames",
		},
		{
			"json payload skipped",
			"{\"code\": 500}\nupstream transcription failed",
			"upstream transcription failed",
		},
		{
			"leading blank lines",
			"\n\n  connection reset by peer\n",
			"connection reset by peer",
		},
		{
			"all scaffolding keeps first line",
			"Traceback (most recent call last):\nFile \"x.py\"",
			"Traceback (most recent call last):",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := workflow.SummarizeError(tc.raw); got != tc.want {
				t.Errorf("want %q, got %q", tc.want, got)
			}
		})
	}
}
