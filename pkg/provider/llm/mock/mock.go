// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify that the pipeline sends correct
// CompletionRequests and to feed controlled responses without a live LLM backend.
//
// Example:
//
//	p := &mock.Provider{
//	    Responses: []mock.Response{{Content: `{"title": "Weekly Sync"}`}},
//	}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/reflector-media/reflector/pkg/provider/llm"
)

// Response is a single scripted reply for Complete. Set Err to inject a failure
// instead of returning Content.
type Response struct {
	Content string
	Err     error
}

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the CompletionRequest passed to Complete.
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
//
// Complete consumes Responses in order; once the slice is exhausted it keeps
// returning the last entry, so a single scripted response also serves callers
// that issue many parallel requests. A zero-value Provider returns empty
// completions and nil errors.
type Provider struct {
	mu sync.Mutex

	// Responses is the ordered script of replies for Complete.
	Responses []Response

	// TokenCount is returned by CountTokens when CountTokensFn is nil.
	TokenCount int

	// CountTokensFn, if set, overrides TokenCount. Useful for budget tests that
	// need counts proportional to content length.
	CountTokensFn func(messages []llm.Message) (int, error)

	// ModelCapabilities is returned by Capabilities.
	ModelCapabilities llm.ModelCapabilities

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall

	next int
}

// Complete records the call and returns the next scripted Response.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})

	if len(p.Responses) == 0 {
		return &llm.CompletionResponse{}, nil
	}
	idx := p.next
	if idx >= len(p.Responses) {
		idx = len(p.Responses) - 1
	}
	p.next++

	r := p.Responses[idx]
	if r.Err != nil {
		return nil, r.Err
	}
	return &llm.CompletionResponse{Content: r.Content}, nil
}

// CountTokens returns TokenCount, or delegates to CountTokensFn when set.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	p.mu.Lock()
	fn := p.CountTokensFn
	count := p.TokenCount
	p.mu.Unlock()

	if fn != nil {
		return fn(messages)
	}
	return count, nil
}

// Capabilities returns ModelCapabilities.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}
