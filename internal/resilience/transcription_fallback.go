package resilience

import (
	"context"

	"github.com/reflector-media/reflector/pkg/provider/transcription"
)

// TranscriptionFallback implements [transcription.Provider] with automatic
// failover across multiple transcription backends. Each backend has its own
// circuit breaker.
type TranscriptionFallback struct {
	group *FallbackGroup[transcription.Provider]
}

var _ transcription.Provider = (*TranscriptionFallback)(nil)

// NewTranscriptionFallback creates a [TranscriptionFallback] with primary as
// the preferred backend.
func NewTranscriptionFallback(primary transcription.Provider, primaryName string, cfg FallbackConfig) *TranscriptionFallback {
	return &TranscriptionFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional transcription provider as a fallback.
func (f *TranscriptionFallback) AddFallback(name string, provider transcription.Provider) {
	f.group.AddFallback(name, provider)
}

// TranscribeURL transcribes against the first healthy backend.
func (f *TranscriptionFallback) TranscribeURL(ctx context.Context, req transcription.URLRequest) (*transcription.Result, error) {
	return ExecuteWithResult(f.group, func(p transcription.Provider) (*transcription.Result, error) {
		return p.TranscribeURL(ctx, req)
	})
}

// TranscribeFiles uploads against the first healthy backend. A whole batch
// fails over together; partially transcribed batches are not merged across
// backends.
func (f *TranscriptionFallback) TranscribeFiles(ctx context.Context, paths []string, language string, batch bool) ([]transcription.Result, error) {
	return ExecuteWithResult(f.group, func(p transcription.Provider) ([]transcription.Result, error) {
		return p.TranscribeFiles(ctx, paths, language, batch)
	})
}
