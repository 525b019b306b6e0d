package store

import "github.com/reflector-media/reflector/pkg/types"

// allowedTransitions is the transcript status machine. Forward-only, with two
// exceptions: any status may fall into error, and error returns to processing
// when an operator dispatches a new workflow run.
var allowedTransitions = map[types.TranscriptStatus][]types.TranscriptStatus{
	types.StatusIdle:       {types.StatusUploaded, types.StatusRecording, types.StatusError},
	types.StatusUploaded:   {types.StatusProcessing, types.StatusError},
	types.StatusRecording:  {types.StatusUploaded, types.StatusProcessing, types.StatusError},
	types.StatusProcessing: {types.StatusEnded, types.StatusError},
	types.StatusEnded:      {types.StatusError},
	types.StatusError:      {types.StatusProcessing, types.StatusError},
}

// CanTransition reports whether the status machine allows moving from one
// status to another. Self-transitions are not allowed except error→error,
// which keeps repeated failure reports idempotent.
func CanTransition(from, to types.TranscriptStatus) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TransitionSources returns every status from which the machine may move to
// the given status. The postgres backend embeds this set in the UPDATE's
// WHERE clause so the guard and the write are a single atomic statement.
func TransitionSources(to types.TranscriptStatus) []types.TranscriptStatus {
	var sources []types.TranscriptStatus
	for from, targets := range allowedTransitions {
		for _, t := range targets {
			if t == to {
				sources = append(sources, from)
				break
			}
		}
	}
	return sources
}
