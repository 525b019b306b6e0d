// Package llm coordinates calls to Large Language Model backends for the
// transcript pipeline: template-aware chunking of long corpora, structured
// (JSON) outputs with a validation-retry loop, and deduplication of subjects
// collected across chunks.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"golang.org/x/sync/errgroup"

	"github.com/reflector-media/reflector/pkg/provider/llm"
	"github.com/reflector-media/reflector/pkg/tokenize"
)

// ContentPlaceholder marks where a template expects the corpus text.
const ContentPlaceholder = "{{content}}"

// budgetSafety is subtracted from the context window on top of the template
// overhead, absorbing tokenizer estimation error.
const budgetSafety = 50

// Coordinator drives LLM calls for the pipeline stages.
// Safe for concurrent use.
type Coordinator struct {
	provider      llm.Provider
	estimator     tokenize.Estimator
	overlapRatio  float64
	parseAttempts int
	maxAttempts   int
	baseDelay     time.Duration
	log           *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithOverlapRatio sets the chunk overlap ratio. Must be in [0, 0.5).
func WithOverlapRatio(ratio float64) Option {
	return func(c *Coordinator) { c.overlapRatio = ratio }
}

// WithParseAttempts sets how many times a structured call may re-prompt the
// model after a parse or validation failure.
func WithParseAttempts(n int) Option {
	return func(c *Coordinator) { c.parseAttempts = n }
}

// WithRetry sets the network retry policy for completions.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(c *Coordinator) {
		c.maxAttempts = maxAttempts
		c.baseDelay = baseDelay
	}
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

// New creates a Coordinator on top of the given provider.
func New(provider llm.Provider, opts ...Option) *Coordinator {
	c := &Coordinator{
		provider:      provider,
		estimator:     tokenize.Estimator{CharsPerToken: tokenize.DefaultCharsPerToken},
		overlapRatio:  0.15,
		parseAttempts: 3,
		maxAttempts:   3,
		baseDelay:     500 * time.Millisecond,
		log:           slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// render substitutes body into template's content placeholder. Templates
// without a placeholder get the body appended, so a bare prompt still works.
func render(template, body string) string {
	if strings.Contains(template, ContentPlaceholder) {
		return strings.ReplaceAll(template, ContentPlaceholder, body)
	}
	if body == "" {
		return template
	}
	return template + "\n\n" + body
}

func (c *Coordinator) countTokens(text string) (int, error) {
	return c.provider.CountTokens([]llm.Message{{Role: "user", Content: text}})
}

// complete runs a single completion with exponential-jittered backoff on
// transient failures. Non-retryable errors (client-side 4xx other than 429)
// bubble immediately.
func (c *Coordinator) complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.baseDelay * time.Duration(1<<(attempt-1))
			if c.baseDelay > 0 {
				delay += time.Duration(rand.Int63n(int64(c.baseDelay)))
			}
			c.log.Warn("llm completion failed, retrying",
				"attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := c.provider.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !transient(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("llm: completion failed after %d attempts: %w", c.maxAttempts, lastErr)
}

// transient reports whether err is worth retrying: API rate limits, server-side
// failures, and transport errors. Context cancellation and other 4xx responses
// are not.
func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// Unclassified transport-level failures; completions are idempotent.
	return true
}

// Subjects runs the template over the corpus, chunking when it exceeds the
// model's context budget, dispatches all chunks in parallel, and merges the
// collected subject lists. Chunk failures are logged and skipped; the call
// fails only when every chunk fails.
//
// The template must instruct the model to reply with a JSON object of the
// form {"subjects": ["...", ...]}.
func (c *Coordinator) Subjects(ctx context.Context, template, corpus string) ([]string, error) {
	chunks, err := c.ChunkText(template, corpus)
	if err != nil {
		return nil, err
	}

	results := make([][]string, len(chunks))
	ok := make([]bool, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, chunk := range chunks {
		g.Go(func() error {
			out, err := Structured[subjectList](gctx, c, StructuredRequest{
				UserPrompt: render(template, chunk),
			}, nil)
			if err != nil {
				// A failed chunk loses its subjects but must not sink the rest.
				c.log.Error("subject chunk failed, skipping", "chunk", i, "error", err)
				return nil
			}
			results[i] = out.Subjects
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait()

	var merged []string
	succeeded := 0
	for i := range results {
		if !ok[i] {
			continue
		}
		succeeded++
		merged = append(merged, results[i]...)
	}
	if succeeded == 0 {
		return nil, fmt.Errorf("llm: all %d subject chunks failed", len(chunks))
	}

	return c.dedupeSubjects(ctx, merged, len(chunks) > 1), nil
}

type subjectList struct {
	Subjects []string `json:"subjects"`
}

// dedupeSubjects merges subject lists collected across chunks. With multiple
// chunks and more than three subjects the overlap regions likely produced
// near-duplicates that plain string comparison misses, so an extra LLM pass
// consolidates them; any failure there falls back to exact deduplication.
func (c *Coordinator) dedupeSubjects(ctx context.Context, subjects []string, multiChunk bool) []string {
	if multiChunk && len(subjects) > 3 {
		prompt := "The following discussion subjects were extracted from overlapping sections of one conversation. " +
			"Merge duplicates and near-duplicates, keep the original order of first appearance, and reply with a JSON object " +
			"of the form {\"subjects\": [\"...\"]}.\n\n- " + strings.Join(subjects, "\n- ")
		out, err := Structured[subjectList](ctx, c, StructuredRequest{UserPrompt: prompt}, func(v *subjectList) error {
			if len(v.Subjects) == 0 {
				return errors.New("subjects must not be empty")
			}
			return nil
		})
		if err != nil {
			c.log.Warn("subject dedup pass failed, falling back to exact match", "error", err)
		} else {
			subjects = out.Subjects
		}
	}

	seen := make(map[string]struct{}, len(subjects))
	var unique []string
	for _, s := range subjects {
		key := strings.ToLower(strings.TrimSpace(s))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, strings.TrimSpace(s))
	}
	return unique
}
