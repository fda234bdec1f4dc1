package resilience

import (
	"context"

	"github.com/soundline/hearsay/pkg/provider/asr"
)

// ASRFallback implements [asr.Engine] with automatic failover across multiple
// recognition backends. Each backend has its own circuit breaker. The result
// of a successful call carries the name of the backend that answered in
// Result.Provider, so callers can always tell which engine produced the text.
type ASRFallback struct {
	group *FallbackGroup[asr.Engine]
	name  string
}

// Compile-time interface assertion.
var _ asr.Engine = (*ASRFallback)(nil)

// NewASRFallback creates an [ASRFallback] with primary as the preferred
// backend. The backend's own Name is used for circuit breaker labelling.
func NewASRFallback(primary asr.Engine, cfg FallbackConfig) *ASRFallback {
	return &ASRFallback{
		group: NewFallbackGroup(primary, primary.Name(), cfg),
		name:  primary.Name(),
	}
}

// AddFallback registers an additional recognition engine as a fallback.
func (f *ASRFallback) AddFallback(engine asr.Engine) {
	f.group.AddFallback(engine.Name(), engine)
}

// Name returns the primary engine's name.
func (f *ASRFallback) Name() string { return f.name }

// Transcribe runs the recognition pass against the first healthy backend.
// If the primary fails, subsequent fallbacks are tried in order.
func (f *ASRFallback) Transcribe(ctx context.Context, samples []float32) (*asr.Result, error) {
	return ExecuteWithResult(f.group, func(e asr.Engine) (*asr.Result, error) {
		return e.Transcribe(ctx, samples)
	})
}
