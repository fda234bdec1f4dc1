package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/soundline/hearsay/pkg/audio/capture"
	"github.com/soundline/hearsay/pkg/provider/asr"
	"github.com/soundline/hearsay/pkg/provider/diarize"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	recognition map[string]func(ProviderEntry) (asr.Engine, error)
	diarization map[string]func(ProviderEntry) (diarize.Engine, error)
	capture     map[string]func(ProviderEntry) (capture.Opener, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		recognition: make(map[string]func(ProviderEntry) (asr.Engine, error)),
		diarization: make(map[string]func(ProviderEntry) (diarize.Engine, error)),
		capture:     make(map[string]func(ProviderEntry) (capture.Opener, error)),
	}
}

// RegisterRecognizer registers a speech recognition engine factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterRecognizer(name string, factory func(ProviderEntry) (asr.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recognition[name] = factory
}

// RegisterDiarizer registers a diarization engine factory under name.
func (r *Registry) RegisterDiarizer(name string, factory func(ProviderEntry) (diarize.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diarization[name] = factory
}

// RegisterCapture registers a capture backend factory under name.
func (r *Registry) RegisterCapture(name string, factory func(ProviderEntry) (capture.Opener, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capture[name] = factory
}

// CreateRecognizer instantiates a recognition engine using the factory
// registered under entry.Name. Returns [ErrProviderNotRegistered] if no
// factory has been registered for that name.
func (r *Registry) CreateRecognizer(entry ProviderEntry) (asr.Engine, error) {
	r.mu.RLock()
	factory, ok := r.recognition[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: recognition/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateDiarizer instantiates a diarization engine using the factory registered under entry.Name.
func (r *Registry) CreateDiarizer(entry ProviderEntry) (diarize.Engine, error) {
	r.mu.RLock()
	factory, ok := r.diarization[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: diarization/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateCapture instantiates a capture backend using the factory registered under entry.Name.
func (r *Registry) CreateCapture(entry ProviderEntry) (capture.Opener, error) {
	r.mu.RLock()
	factory, ok := r.capture[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: capture/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
