// Package diarize defines the Engine interface for speaker diarization
// backends.
//
// A diarization engine answers "who spoke when": given the complete audio of
// a finished session it returns a set of labelled time intervals. Like
// recognition, diarization runs exactly once per session, so the interface is
// a single batch call. Diarization failures are expected to be survivable;
// callers should degrade to speakerless output rather than abort.
//
// Implementations must be safe for concurrent use.
package diarize

import "context"

// SpeakerInterval is one span of audio attributed to a single speaker.
type SpeakerInterval struct {
	// Speaker is the backend's raw label (e.g. "SPEAKER_00"). Labels are
	// opaque identifiers; only equality is meaningful.
	Speaker string

	// Start and End bound the interval in seconds from the beginning of
	// the audio. Intervals with End <= Start carry no usable information.
	Start float64
	End   float64
}

// Engine is the abstraction over any speaker diarization backend.
type Engine interface {
	// Name returns a short stable identifier for the engine ("pyannote",
	// "mock"). It is used in logs and health reporting.
	Name() string

	// Process runs one diarization pass over the given samples. Samples are
	// mono float32 PCM in the range [-1.0, 1.0] at 16 kHz.
	//
	// The returned intervals are not guaranteed to be sorted or disjoint;
	// callers must tolerate overlap and out-of-order results.
	Process(ctx context.Context, samples []float32) ([]SpeakerInterval, error)
}
