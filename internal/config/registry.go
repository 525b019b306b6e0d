package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/reflector-media/reflector/pkg/provider/diarization"
	"github.com/reflector-media/reflector/pkg/provider/llm"
	"github.com/reflector-media/reflector/pkg/provider/transcription"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu            sync.RWMutex
	llm           map[string]func(LLMConfig) (llm.Provider, error)
	transcription map[string]func(ProviderEntry) (transcription.Provider, error)
	diarization   map[string]func(ProviderEntry) (diarization.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:           make(map[string]func(LLMConfig) (llm.Provider, error)),
		transcription: make(map[string]func(ProviderEntry) (transcription.Provider, error)),
		diarization:   make(map[string]func(ProviderEntry) (diarization.Provider, error)),
	}
}

// RegisterLLM registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory func(LLMConfig) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterTranscription registers a transcription provider factory under name.
func (r *Registry) RegisterTranscription(name string, factory func(ProviderEntry) (transcription.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcription[name] = factory
}

// RegisterDiarization registers a diarization provider factory under name.
func (r *Registry) RegisterDiarization(name string, factory func(ProviderEntry) (diarization.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diarization[name] = factory
}

// CreateLLM instantiates the LLM provider named in entry.
func (r *Registry) CreateLLM(entry LLMConfig) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm %q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTranscription instantiates the transcription provider named in entry.
func (r *Registry) CreateTranscription(entry ProviderEntry) (transcription.Provider, error) {
	r.mu.RLock()
	factory, ok := r.transcription[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transcription %q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateDiarization instantiates the diarization provider named in entry.
func (r *Registry) CreateDiarization(entry ProviderEntry) (diarization.Provider, error) {
	r.mu.RLock()
	factory, ok := r.diarization[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: diarization %q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
