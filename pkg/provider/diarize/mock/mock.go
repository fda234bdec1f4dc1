// Package mock provides a test double for the diarize package interfaces.
//
// Pre-populate Intervals with the values the consumer should receive, then
// inspect ProcessCalls to verify what audio was delivered.
package mock

import (
	"context"
	"sync"

	"github.com/soundline/hearsay/pkg/provider/diarize"
)

// ProcessCall records a single invocation of Engine.Process.
type ProcessCall struct {
	// Ctx is the context passed to Process.
	Ctx context.Context
	// SampleCount is the number of samples passed to Process.
	SampleCount int
}

// Engine is a mock implementation of diarize.Engine.
type Engine struct {
	mu sync.Mutex

	// NameValue is returned by Name. Defaults to "mock" when empty.
	NameValue string

	// Intervals is returned by every Process call.
	Intervals []diarize.SpeakerInterval

	// ProcessErr, if non-nil, is returned as the error from Process.
	ProcessErr error

	// ProcessCalls records every call to Process.
	ProcessCalls []ProcessCall
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

// Process records the call and returns the scripted intervals.
func (e *Engine) Process(ctx context.Context, samples []float32) ([]diarize.SpeakerInterval, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ProcessCalls = append(e.ProcessCalls, ProcessCall{Ctx: ctx, SampleCount: len(samples)})
	if e.ProcessErr != nil {
		return nil, e.ProcessErr
	}
	out := make([]diarize.SpeakerInterval, len(e.Intervals))
	copy(out, e.Intervals)
	return out, nil
}

// ProcessCallCount returns the number of Process calls. Thread-safe.
func (e *Engine) ProcessCallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.ProcessCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ProcessCalls = nil
}

// Ensure Engine implements diarize.Engine at compile time.
var _ diarize.Engine = (*Engine)(nil)
