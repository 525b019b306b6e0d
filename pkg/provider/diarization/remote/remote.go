// Package remote implements diarization.Provider against the diarization
// service's /diarize JSON endpoint with bearer authentication.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/reflector-media/reflector/pkg/provider/diarization"
	"github.com/reflector-media/reflector/pkg/provider/transcription"
	"github.com/reflector-media/reflector/pkg/types"
)

const maxErrBody = 512

// Option configures the Provider.
type Option func(*Provider)

// WithHTTPClient substitutes the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithRetries sets the maximum number of attempts for transient failures.
func WithRetries(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// Provider implements diarization.Provider over HTTP.
type Provider struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	maxAttempts int
}

var _ diarization.Provider = (*Provider)(nil)

// New creates a remote diarization provider.
func New(baseURL, apiKey string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("diarization remote: baseURL must not be empty")
	}
	if apiKey == "" {
		return nil, errors.New("diarization remote: apiKey must not be empty")
	}
	p := &Provider{
		baseURL:     baseURL,
		apiKey:      apiKey,
		httpClient:  &http.Client{Timeout: 10 * time.Minute},
		maxAttempts: 3,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// response is the service's wire envelope.
type response struct {
	Diarization []types.DiarizationSegment `json:"diarization"`
}

// Diarize implements diarization.Provider.
func (p *Provider) Diarize(ctx context.Context, req diarization.Request) ([]types.DiarizationSegment, error) {
	if req.AudioFileURL == "" {
		return nil, errors.New("diarization remote: audio file URL must not be empty")
	}
	payload, err := json.Marshal(map[string]any{
		"audio_file_url": req.AudioFileURL,
		"timestamp":      req.Timestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("diarization remote: encode request: %w", err)
	}

	backoff := 500 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		var out response
		lastErr = p.post(ctx, payload, &out)
		if lastErr == nil {
			return out.Diarization, nil
		}
		// The transcription package's classifier covers the same HTTP error
		// taxonomy; both services share the inference platform.
		if !transcription.IsTransient(lastErr) || attempt == p.maxAttempts {
			return nil, lastErr
		}
		sleep := backoff + time.Duration(rand.Int64N(int64(backoff)))
		slog.Warn("diarization request failed, retrying",
			"attempt", attempt,
			"backoff", sleep,
			"error", lastErr)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
		backoff *= 2
	}
	return nil, lastErr
}

func (p *Provider) post(ctx context.Context, payload []byte, out *response) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/diarize", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		return &transcription.APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("diarization remote: decode response: %w", err)
	}
	return nil
}
