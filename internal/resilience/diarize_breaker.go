package resilience

import (
	"context"

	"github.com/soundline/hearsay/pkg/provider/diarize"
)

// DiarizeBreaker wraps a [diarize.Engine] with a circuit breaker so that a
// flapping diarization sidecar is skipped quickly instead of stalling every
// session stop. Diarization has no fallback chain; when the breaker is open
// the caller degrades to speakerless output.
type DiarizeBreaker struct {
	inner   diarize.Engine
	breaker *CircuitBreaker
}

// Compile-time interface assertion.
var _ diarize.Engine = (*DiarizeBreaker)(nil)

// NewDiarizeBreaker wraps inner with a circuit breaker. If cfg.Name is empty
// the inner engine's name is used for logging.
func NewDiarizeBreaker(inner diarize.Engine, cfg CircuitBreakerConfig) *DiarizeBreaker {
	if cfg.Name == "" {
		cfg.Name = inner.Name()
	}
	return &DiarizeBreaker{
		inner:   inner,
		breaker: NewCircuitBreaker(cfg),
	}
}

// Name returns the wrapped engine's name.
func (b *DiarizeBreaker) Name() string { return b.inner.Name() }

// Process runs the diarization pass through the circuit breaker. When the
// breaker is open, Process returns [ErrCircuitOpen] without touching the
// backend.
func (b *DiarizeBreaker) Process(ctx context.Context, samples []float32) ([]diarize.SpeakerInterval, error) {
	var intervals []diarize.SpeakerInterval
	err := b.breaker.Execute(func() error {
		var innerErr error
		intervals, innerErr = b.inner.Process(ctx, samples)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return intervals, nil
}
