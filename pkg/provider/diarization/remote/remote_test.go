package remote_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/reflector-media/reflector/pkg/provider/diarization"
	"github.com/reflector-media/reflector/pkg/provider/diarization/remote"
	"github.com/reflector-media/reflector/pkg/provider/transcription"
)

func newService(t *testing.T, handler http.HandlerFunc, opts ...remote.Option) *remote.Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p, err := remote.New(srv.URL, "secret", opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestDiarizeRequestShape(t *testing.T) {
	t.Parallel()
	p := newService(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/diarize" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q", got)
		}

		var body struct {
			AudioFileURL string  `json:"audio_file_url"`
			Timestamp    float64 `json:"timestamp"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body.AudioFileURL != "https://bucket/mixdown.mp3?sig=x" {
			t.Errorf("audio_file_url = %q", body.AudioFileURL)
		}
		if body.Timestamp != 7.25 {
			t.Errorf("timestamp = %v", body.Timestamp)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"diarization": [
			{"start": 7.25, "end": 11.0, "speaker": 0},
			{"start": 11.2, "end": 15.8, "speaker": 1}
		]}`))
	})

	segs, err := p.Diarize(context.Background(), diarization.Request{
		AudioFileURL: "https://bucket/mixdown.mp3?sig=x",
		Timestamp:    7.25,
	})
	if err != nil {
		t.Fatalf("Diarize: %v", err)
	}
	if len(segs) != 2 || segs[0].Speaker != 0 || segs[1].Start != 11.2 {
		t.Errorf("segments = %+v", segs)
	}
}

func TestDiarizeEmptyResult(t *testing.T) {
	t.Parallel()
	p := newService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"diarization": []}`))
	})

	segs, err := p.Diarize(context.Background(), diarization.Request{
		AudioFileURL: "https://bucket/silence.mp3",
	})
	if err != nil {
		t.Fatalf("Diarize: %v", err)
	}
	if len(segs) != 0 {
		t.Errorf("segments = %+v, want none", segs)
	}
}

func TestDiarizeAuthFailureIsPermanent(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	p := newService(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}, remote.WithRetries(3))

	_, err := p.Diarize(context.Background(), diarization.Request{
		AudioFileURL: "https://bucket/mixdown.mp3",
	})
	var apiErr *transcription.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *transcription.APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d", apiErr.StatusCode)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("401 retried: %d calls", got)
	}
}

func TestDiarizeRetriesServerErrors(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	p := newService(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "model loading", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"diarization": [{"start": 0, "end": 2.0, "speaker": 0}]}`))
	}, remote.WithRetries(3))

	segs, err := p.Diarize(context.Background(), diarization.Request{
		AudioFileURL: "https://bucket/mixdown.mp3",
	})
	if err != nil {
		t.Fatalf("Diarize: %v", err)
	}
	if len(segs) != 1 {
		t.Errorf("segments = %+v", segs)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}
