// Package mock provides a test double for the diarization.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/reflector-media/reflector/pkg/provider/diarization"
	"github.com/reflector-media/reflector/pkg/types"
)

// Provider is a mock implementation of diarization.Provider.
type Provider struct {
	mu sync.Mutex

	// Segments is returned by Diarize.
	Segments []types.DiarizationSegment

	// Err, if non-nil, is returned by Diarize.
	Err error

	// Calls records every request in order.
	Calls []diarization.Request
}

var _ diarization.Provider = (*Provider)(nil)

// Diarize implements diarization.Provider.
func (p *Provider) Diarize(ctx context.Context, req diarization.Request) ([]types.DiarizationSegment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, req)
	if p.Err != nil {
		return nil, p.Err
	}
	return p.Segments, nil
}
