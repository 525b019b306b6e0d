// Package mock provides a test double for the transcription.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/reflector-media/reflector/pkg/provider/transcription"
)

// URLCall records one invocation of TranscribeURL.
type URLCall struct {
	Req transcription.URLRequest
}

// Provider is a mock implementation of transcription.Provider.
// Zero values for response fields cause methods to return zero values and nil
// errors. Set Err fields to inject failures.
type Provider struct {
	mu sync.Mutex

	// URLResults maps an audio URL to its canned result. When nil or the URL
	// is absent, URLResult is returned instead.
	URLResults map[string]*transcription.Result

	// URLResult is the fallback result for TranscribeURL.
	URLResult *transcription.Result

	// URLErr, if non-nil, is returned by TranscribeURL.
	URLErr error

	// FileResults is returned by TranscribeFiles.
	FileResults []transcription.Result

	// FileErr, if non-nil, is returned by TranscribeFiles.
	FileErr error

	// URLCalls records every TranscribeURL invocation in order.
	URLCalls []URLCall
}

var _ transcription.Provider = (*Provider)(nil)

// TranscribeURL implements transcription.Provider.
func (p *Provider) TranscribeURL(ctx context.Context, req transcription.URLRequest) (*transcription.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.URLCalls = append(p.URLCalls, URLCall{Req: req})
	if p.URLErr != nil {
		return nil, p.URLErr
	}
	if r, ok := p.URLResults[req.AudioFileURL]; ok {
		return r, nil
	}
	if p.URLResult != nil {
		return p.URLResult, nil
	}
	return &transcription.Result{}, nil
}

// TranscribeFiles implements transcription.Provider.
func (p *Provider) TranscribeFiles(ctx context.Context, paths []string, language string, batch bool) ([]transcription.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FileErr != nil {
		return nil, p.FileErr
	}
	return p.FileResults, nil
}
