package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/reflector-media/reflector/pkg/provider/transcription"
	sttmock "github.com/reflector-media/reflector/pkg/provider/transcription/mock"
	"github.com/reflector-media/reflector/pkg/types"
)

func TestTranscriptionFallback_URLFailover(t *testing.T) {
	primary := &sttmock.Provider{URLErr: errors.New("primary down")}
	secondary := &sttmock.Provider{
		URLResult: &transcription.Result{
			Words: []types.Word{{Text: "hello"}},
		},
	}

	fb := NewTranscriptionFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	res, err := fb.TranscribeURL(context.Background(), transcription.URLRequest{AudioFileURL: "https://a/x.webm"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Words) != 1 || res.Words[0].Text != "hello" {
		t.Fatalf("result = %+v, want secondary's words", res)
	}
	if len(primary.URLCalls) != 1 || len(secondary.URLCalls) != 1 {
		t.Fatalf("calls = %d/%d, want 1/1", len(primary.URLCalls), len(secondary.URLCalls))
	}
}

func TestTranscriptionFallback_AllFail(t *testing.T) {
	primary := &sttmock.Provider{URLErr: errors.New("primary down")}
	secondary := &sttmock.Provider{URLErr: errors.New("secondary down")}

	fb := NewTranscriptionFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	if _, err := fb.TranscribeURL(context.Background(), transcription.URLRequest{}); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestTranscriptionFallback_FilesUsePrimaryWhenHealthy(t *testing.T) {
	primary := &sttmock.Provider{
		FileResults: []transcription.Result{{Words: []types.Word{{Text: "ok"}}}},
	}
	fb := NewTranscriptionFallback(primary, "primary", FallbackConfig{})

	res, err := fb.TranscribeFiles(context.Background(), []string{"/tmp/a.mp3"}, "en", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res) != 1 {
		t.Fatalf("results = %d, want 1", len(res))
	}
}
