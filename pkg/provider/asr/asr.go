// Package asr defines the Engine interface for speech recognition backends.
//
// An ASR engine wraps a batch transcription service (e.g. a local whisper.cpp
// model, a whisper-server instance, or a hosted API) and exposes a uniform
// one-shot interface: hand it the complete audio of a finished session, get
// back the recognised text plus per-token timing detail. Recognition runs
// exactly once per session, after capture has stopped, so there is no
// streaming surface here.
//
// Implementations must be safe for concurrent use.
package asr

import "context"

// TokenTiming is one recognised token with its position in the audio.
// Token text preserves the recogniser's leading whitespace: a token that
// begins a new word starts with a space, continuation tokens do not.
type TokenTiming struct {
	// Text is the raw token text, including any leading whitespace.
	Text string

	// Start and End bound the token in seconds from the beginning of the
	// transcribed audio.
	Start float64
	End   float64

	// Confidence is the recogniser's probability for this token (0.0–1.0).
	// Zero means the engine does not report per-token confidence.
	Confidence float64
}

// Result is the outcome of a single transcription pass.
type Result struct {
	// Provider names the engine that produced the result. Useful when an
	// engine is wrapped in a fallback chain and the caller needs to know
	// which backend actually answered.
	Provider string

	// Text is the full transcribed text. May be non-empty even when Tokens
	// is empty; some engines report text without timing detail.
	Text string

	// Tokens carries per-token timing in audio order. May be empty.
	Tokens []TokenTiming
}

// Engine is the abstraction over any speech recognition backend.
//
// Implementations must be safe for concurrent use; callers may share one
// engine across sessions.
type Engine interface {
	// Name returns a short stable identifier for the engine ("whisper",
	// "whisper-native", "mock"). It is used in logs and in Result.Provider.
	Name() string

	// Transcribe runs one batch recognition pass over the given samples.
	// Samples are mono float32 PCM in the range [-1.0, 1.0] at 16 kHz.
	//
	// Returns an error if recognition could not run (network failure, model
	// failure, ctx cancelled). An empty recognition result is not an error;
	// callers decide how to treat empty text.
	Transcribe(ctx context.Context, samples []float32) (*Result, error)
}
