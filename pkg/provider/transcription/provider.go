// Package transcription defines the Provider interface for remote
// speech-to-text services.
//
// A transcription provider wraps an inference endpoint that accepts audio by
// presigned URL or by multipart upload and returns word-level timestamps. The
// pipeline treats it as an opaque RPC: model loading, batching, and GPU
// scheduling are the service's concern.
//
// Implementations must be safe for concurrent use.
package transcription

import (
	"context"

	"github.com/reflector-media/reflector/pkg/types"
)

// Result is a transcription response for a single audio input.
type Result struct {
	// Text is the full transcribed text.
	Text string `json:"text"`

	// Words carries word-level timestamps. Speakers are not assigned here;
	// the caller labels words with the track index after the call.
	Words []types.Word `json:"words"`

	// Filename is set on multipart responses to correlate batch results.
	Filename string `json:"filename,omitempty"`
}

// URLRequest transcribes audio the service fetches itself from a presigned URL.
type URLRequest struct {
	// AudioFileURL is a presigned GET URL for the audio object.
	AudioFileURL string

	// Language is the BCP-47 language hint (e.g. "en"). The service rejects
	// unsupported languages for language-constrained models.
	Language string

	// TimestampOffset is added to every word timestamp by the service,
	// shifting track-local time onto the meeting clock.
	TimestampOffset float64
}

// Provider is the abstraction over a remote transcription service.
type Provider interface {
	// TranscribeURL transcribes the audio behind a presigned URL.
	TranscribeURL(ctx context.Context, req URLRequest) (*Result, error)

	// TranscribeFiles uploads one or more local files as multipart form data.
	// With batch=true the service runs batched inference and returns one
	// Result per file in input order; a single file without batch returns a
	// one-element slice.
	TranscribeFiles(ctx context.Context, paths []string, language string, batch bool) ([]Result, error)
}
