// Package mock provides a test double for the asr package interfaces.
//
// Pre-populate Result (or Results for multi-call scripts) with the values the
// consumer should receive, then inspect TranscribeCalls to verify what audio
// was delivered.
//
// Example:
//
//	eng := &mock.Engine{
//	    Result: &asr.Result{Text: " hello", Tokens: ...},
//	}
//	res, err := eng.Transcribe(ctx, samples)
package mock

import (
	"context"
	"sync"

	"github.com/soundline/hearsay/pkg/provider/asr"
)

// TranscribeCall records a single invocation of Engine.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Samples is a copy of the audio passed to Transcribe.
	Samples []float32
}

// Engine is a mock implementation of asr.Engine.
type Engine struct {
	mu sync.Mutex

	// NameValue is returned by Name. Defaults to "mock" when empty.
	NameValue string

	// Result is returned by every Transcribe call when Results is empty.
	Result *asr.Result

	// Results, when non-empty, is consumed one element per Transcribe call.
	// After the last element is used, subsequent calls fall back to Result.
	Results []*asr.Result

	// TranscribeErr, if non-nil, is returned as the error from Transcribe.
	TranscribeErr error

	// TranscribeCalls records every call to Transcribe.
	TranscribeCalls []TranscribeCall
}

// Name returns NameValue, or "mock" if unset.
func (e *Engine) Name() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.NameValue == "" {
		return "mock"
	}
	return e.NameValue
}

// Transcribe records the call and returns the scripted result.
func (e *Engine) Transcribe(ctx context.Context, samples []float32) (*asr.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := make([]float32, len(samples))
	copy(cp, samples)
	e.TranscribeCalls = append(e.TranscribeCalls, TranscribeCall{Ctx: ctx, Samples: cp})
	if e.TranscribeErr != nil {
		return nil, e.TranscribeErr
	}
	if len(e.Results) > 0 {
		r := e.Results[0]
		e.Results = e.Results[1:]
		return r, nil
	}
	if e.Result != nil {
		return e.Result, nil
	}
	return &asr.Result{Provider: "mock"}, nil
}

// TranscribeCallCount returns the number of Transcribe calls. Thread-safe.
func (e *Engine) TranscribeCallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.TranscribeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.TranscribeCalls = nil
}

// Ensure Engine implements asr.Engine at compile time.
var _ asr.Engine = (*Engine)(nil)
