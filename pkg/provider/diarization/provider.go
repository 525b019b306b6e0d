// Package diarization defines the Provider interface for remote speaker
// diarization services.
//
// Diarization attributes time spans of an audio file to anonymous speaker
// labels. The pipeline folds those labels into word-level transcripts during
// assembly. Implementations must be safe for concurrent use.
package diarization

import (
	"context"

	"github.com/reflector-media/reflector/pkg/types"
)

// Request asks the service to diarize the audio behind a presigned URL.
type Request struct {
	// AudioFileURL is a presigned GET URL for the audio object.
	AudioFileURL string

	// Timestamp shifts all returned segment times by a constant, aligning
	// file-local time with the meeting clock.
	Timestamp float64
}

// Provider is the abstraction over a remote diarization service.
type Provider interface {
	// Diarize returns speaker segments for the given audio, ordered by start
	// time. An empty slice is a valid result for silent or single-speaker
	// audio the model declines to split.
	Diarize(ctx context.Context, req Request) ([]types.DiarizationSegment, error)
}
