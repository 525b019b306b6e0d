// Package remote implements transcription.Provider against the inference
// service's JSON/HTTP API with bearer authentication.
//
// Two endpoints are used: /v1/audio/transcriptions-from-url for presigned-URL
// input (the multitrack pipeline path) and /v1/audio/transcriptions for
// multipart uploads with optional batched inference. Transient failures are
// retried in place; both endpoints are idempotent on the service side.
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
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/reflector-media/reflector/pkg/provider/transcription"
)

const (
	urlEndpoint       = "/v1/audio/transcriptions-from-url"
	multipartEndpoint = "/v1/audio/transcriptions"

	maxErrBody = 512
)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithModel sets the model name sent with every request.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithHTTPClient substitutes the HTTP client (tests, custom transports).
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

// Provider implements transcription.Provider over HTTP.
type Provider struct {
	baseURL     string
	apiKey      string
	model       string
	httpClient  *http.Client
	maxAttempts int
}

var _ transcription.Provider = (*Provider)(nil)

// New creates a remote transcription provider. baseURL and apiKey must be
// non-empty.
func New(baseURL, apiKey string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("transcription remote: baseURL must not be empty")
	}
	if apiKey == "" {
		return nil, errors.New("transcription remote: apiKey must not be empty")
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

// TranscribeURL implements transcription.Provider.
func (p *Provider) TranscribeURL(ctx context.Context, req transcription.URLRequest) (*transcription.Result, error) {
	if req.AudioFileURL == "" {
		return nil, errors.New("transcription remote: audio file URL must not be empty")
	}
	payload, err := json.Marshal(map[string]any{
		"audio_file_url":   req.AudioFileURL,
		"model":            p.model,
		"language":         req.Language,
		"timestamp_offset": req.TimestampOffset,
	})
	if err != nil {
		return nil, fmt.Errorf("transcription remote: encode request: %w", err)
	}

	var result transcription.Result
	err = p.doWithRetry(ctx, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+urlEndpoint, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
		return p.decode(httpReq, &result)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// batchResponse is the multi-file response envelope.
type batchResponse struct {
	Results []transcription.Result `json:"results"`
}

// TranscribeFiles implements transcription.Provider.
func (p *Provider) TranscribeFiles(ctx context.Context, paths []string, language string, batch bool) ([]transcription.Result, error) {
	if len(paths) == 0 {
		return nil, errors.New("transcription remote: no files")
	}

	// Multipart bodies are rebuilt per attempt: a consumed reader cannot be
	// replayed.
	build := func() (*bytes.Buffer, string, error) {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		for _, path := range paths {
			f, err := os.Open(path)
			if err != nil {
				return nil, "", fmt.Errorf("transcription remote: open %q: %w", path, err)
			}
			part, err := w.CreateFormFile("files", filepath.Base(path))
			if err == nil {
				_, err = io.Copy(part, f)
			}
			f.Close()
			if err != nil {
				return nil, "", fmt.Errorf("transcription remote: write part %q: %w", path, err)
			}
		}
		if language != "" {
			if err := w.WriteField("language", language); err != nil {
				return nil, "", err
			}
		}
		if batch {
			if err := w.WriteField("batch", "true"); err != nil {
				return nil, "", err
			}
		}
		if p.model != "" {
			if err := w.WriteField("model", p.model); err != nil {
				return nil, "", err
			}
		}
		if err := w.Close(); err != nil {
			return nil, "", err
		}
		return &buf, w.FormDataContentType(), nil
	}

	multi := batch || len(paths) > 1
	var results []transcription.Result
	err := p.doWithRetry(ctx, func() error {
		body, contentType, err := build()
		if err != nil {
			return err
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+multipartEndpoint, body)
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", contentType)
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

		if multi {
			var envelope batchResponse
			if err := p.decode(httpReq, &envelope); err != nil {
				return err
			}
			results = envelope.Results
			return nil
		}
		var single transcription.Result
		if err := p.decode(httpReq, &single); err != nil {
			return err
		}
		results = []transcription.Result{single}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// decode executes req and decodes a 2xx JSON body into out; non-2xx becomes
// a typed *transcription.APIError.
func (p *Provider) decode(req *http.Request, out any) error {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		return &transcription.APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("transcription remote: decode response: %w", err)
	}
	return nil
}

// doWithRetry runs fn up to maxAttempts times, backing off exponentially with
// jitter between transient failures. Permanent errors bubble immediately.
func (p *Provider) doWithRetry(ctx context.Context, fn func() error) error {
	backoff := 500 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !transcription.IsTransient(lastErr) || attempt == p.maxAttempts {
			return lastErr
		}
		sleep := backoff + time.Duration(rand.Int64N(int64(backoff)))
		slog.Warn("transcription request failed, retrying",
			"attempt", attempt,
			"backoff", sleep,
			"error", lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
		backoff *= 2
	}
	return lastErr
}
