package workflow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/reflector-media/reflector/pkg/types"
)

// Project orders the engine's task summaries into the UI-facing DAG task
// list. Ordering is a Kahn topological sort with task names compared
// lexicographically among equal candidates, so a fixed engine state always
// produces the same order.
func Project(summaries []TaskSummary) ([]types.DagTask, error) {
	if len(summaries) == 0 {
		return nil, nil
	}

	byName := make(map[string]TaskSummary, len(summaries))
	indegree := make(map[string]int, len(summaries))
	children := make(map[string][]string, len(summaries))
	for _, s := range summaries {
		if _, dup := byName[s.Name]; dup {
			return nil, fmt.Errorf("duplicate task %q", s.Name)
		}
		byName[s.Name] = s
		indegree[s.Name] = 0
	}
	for _, s := range summaries {
		for _, parent := range s.Parents {
			if _, ok := byName[parent]; !ok {
				return nil, fmt.Errorf("task %q references unknown parent %q", s.Name, parent)
			}
			children[parent] = append(children[parent], s.Name)
			indegree[s.Name]++
		}
	}

	// ready is kept sorted; always dequeue the lexicographically smallest.
	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	tasks := make([]types.DagTask, 0, len(summaries))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		tasks = append(tasks, projectTask(byName[name]))

		next := children[name]
		sort.Strings(next)
		for _, child := range next {
			indegree[child]--
			if indegree[child] == 0 {
				ready = insertSorted(ready, child)
			}
		}
	}
	if len(tasks) != len(summaries) {
		return nil, fmt.Errorf("task graph has a cycle (%d of %d ordered)", len(tasks), len(summaries))
	}
	return tasks, nil
}

func insertSorted(names []string, name string) []string {
	i := sort.SearchStrings(names, name)
	names = append(names, "")
	copy(names[i+1:], names[i:])
	names[i] = name
	return names
}

func projectTask(s TaskSummary) types.DagTask {
	t := types.DagTask{
		Name:              s.Name,
		Status:            s.Status,
		Parents:           append([]string(nil), s.Parents...),
		StartedAt:         s.started(),
		FinishedAt:        s.finished(),
		Error:             SummarizeError(s.Error),
		ChildrenTotal:     s.ChildrenTotal,
		ChildrenCompleted: s.ChildrenCompleted,
	}
	if t.Parents == nil {
		t.Parents = []string{}
	}
	if s.StartedAtMillis > 0 && s.FinishedAtMillis >= s.StartedAtMillis {
		d := float64(s.FinishedAtMillis-s.StartedAtMillis) / 1000.0
		t.DurationSeconds = &d
	}
	if s.ChildrenTotal > 0 {
		t.ProgressPct = float64(s.ChildrenCompleted) / float64(s.ChildrenTotal) * 100
	}
	return t
}

// SummarizeError reduces a raw task failure (possibly a full traceback) to a
// single display line: the first non-empty line that is not traceback
// scaffolding. When every line is scaffolding the raw first line is kept.
func SummarizeError(raw string) string {
	if raw == "" {
		return ""
	}
	lines := strings.Split(raw, "\n")
	var first string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if first == "" {
			first = trimmed
		}
		if strings.HasPrefix(trimmed, "Traceback ") ||
			strings.HasPrefix(trimmed, "File ") ||
			strings.HasPrefix(trimmed, "{") ||
			strings.HasPrefix(trimmed, ")") {
			continue
		}
		return trimmed
	}
	return first
}
