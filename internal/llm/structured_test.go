package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/reflector-media/reflector/pkg/provider/llm"
	"github.com/reflector-media/reflector/pkg/provider/llm/mock"
)

type titleOut struct {
	Title string `json:"title"`
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "json fence",
			in:   "Here you go:\n```json\n{\"title\": \"Weekly Sync\"}\n```\nHope that helps!",
			want: `{"title": "Weekly Sync"}`,
		},
		{
			name: "js fence",
			in:   "```js\n{\"a\": 1}\n```",
			want: `{"a": 1}`,
		},
		{
			name: "bare fence",
			in:   "```\n[1, 2, 3]\n```",
			want: `[1, 2, 3]`,
		},
		{
			name: "trailing fence only",
			in:   "{\"a\": 1}\n```",
			want: `{"a": 1}`,
		},
		{
			name: "plain json",
			in:   `  {"a": 1}  `,
			want: `{"a": 1}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractJSON(tt.in); got != tt.want {
				t.Errorf("ExtractJSON(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestStructuredParsesFirstAttempt(t *testing.T) {
	p := &mock.Provider{Responses: []mock.Response{
		{Content: "```json\n{\"title\": \"Platform Migration\"}\n```"},
	}}
	c := newTestCoordinator(p)

	out, err := Structured[titleOut](context.Background(), c, StructuredRequest{UserPrompt: "title please"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Title != "Platform Migration" {
		t.Errorf("Title = %q", out.Title)
	}
	if len(p.CompleteCalls) != 1 {
		t.Errorf("expected 1 call, got %d", len(p.CompleteCalls))
	}
}

func TestStructuredRetriesOnInvalidJSON(t *testing.T) {
	p := &mock.Provider{Responses: []mock.Response{
		{Content: "Sure, the title is Platform Migration."},
		{Content: `{"title": "Platform Migration"}`},
	}}
	c := newTestCoordinator(p)

	out, err := Structured[titleOut](context.Background(), c, StructuredRequest{UserPrompt: "title please"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Title != "Platform Migration" {
		t.Errorf("Title = %q", out.Title)
	}
	if len(p.CompleteCalls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(p.CompleteCalls))
	}

	// The re-prompt must carry the prior failure back to the model.
	second := p.CompleteCalls[1].Req.Messages[0].Content
	if !strings.Contains(second, "previous reply could not be used") {
		t.Errorf("second prompt missing failure feedback: %q", second)
	}
	if !strings.Contains(second, "title please") {
		t.Errorf("second prompt lost the original request: %q", second)
	}
}

func TestStructuredRetriesOnValidationFailure(t *testing.T) {
	p := &mock.Provider{Responses: []mock.Response{
		{Content: `{"title": ""}`},
		{Content: `{"title": "Budget Review"}`},
	}}
	c := newTestCoordinator(p)

	validate := func(v *titleOut) error {
		if v.Title == "" {
			return errors.New("title must not be empty")
		}
		return nil
	}
	out, err := Structured[titleOut](context.Background(), c, StructuredRequest{UserPrompt: "title"}, validate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Title != "Budget Review" {
		t.Errorf("Title = %q", out.Title)
	}
	second := p.CompleteCalls[1].Req.Messages[0].Content
	if !strings.Contains(second, "title must not be empty") {
		t.Errorf("validation error not fed back: %q", second)
	}
}

func TestStructuredGivesUpAfterParseAttempts(t *testing.T) {
	p := &mock.Provider{Responses: []mock.Response{
		{Content: "never json"},
	}}
	c := newTestCoordinator(p, WithParseAttempts(3))

	_, err := Structured[titleOut](context.Background(), c, StructuredRequest{UserPrompt: "title"}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(p.CompleteCalls) != 3 {
		t.Errorf("expected 3 attempts, got %d", len(p.CompleteCalls))
	}
}

func TestStructuredDoesNotRetryNonTransientError(t *testing.T) {
	p := &mock.Provider{Responses: []mock.Response{
		{Err: context.Canceled},
	}}
	c := newTestCoordinator(p, WithRetry(3, time.Millisecond))

	_, err := Structured[titleOut](context.Background(), c, StructuredRequest{UserPrompt: "title"}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(p.CompleteCalls) != 1 {
		t.Errorf("expected 1 call for non-transient error, got %d", len(p.CompleteCalls))
	}
}

func TestStructuredRetriesTransientError(t *testing.T) {
	p := &mock.Provider{Responses: []mock.Response{
		{Err: errors.New("connection reset by peer")},
		{Content: `{"title": "Incident Review"}`},
	}}
	c := newTestCoordinator(p, WithRetry(3, time.Millisecond))

	out, err := Structured[titleOut](context.Background(), c, StructuredRequest{UserPrompt: "title"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Title != "Incident Review" {
		t.Errorf("Title = %q", out.Title)
	}
	if len(p.CompleteCalls) != 2 {
		t.Errorf("expected a retry, got %d calls", len(p.CompleteCalls))
	}
}

func TestStructuredForceJSONFollowsCapabilities(t *testing.T) {
	p := &mock.Provider{
		ModelCapabilities: llm.ModelCapabilities{ContextWindow: 8_000, SupportsJSONMode: true},
		Responses:         []mock.Response{{Content: `{"title": "x"}`}},
	}
	c := newTestCoordinator(p)

	if _, err := Structured[titleOut](context.Background(), c, StructuredRequest{UserPrompt: "t"}, nil); err != nil {
		t.Fatal(err)
	}
	if !p.CompleteCalls[0].Req.ForceJSON {
		t.Error("expected ForceJSON when model supports JSON mode")
	}
}
