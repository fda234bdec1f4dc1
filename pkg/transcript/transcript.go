// Package transcript defines the shared transcript types used across the
// Hearsay packages.
//
// These types form the lingua franca between the capture engine, the
// recognition providers, and the assembler. They are intentionally minimal;
// each package defines its own domain types, but cross-cutting data
// structures live here to avoid circular imports.
package transcript

// Segment is one speaker-attributed span of a finished transcript.
// Segments are ordered by StartMS and never overlap within a session.
type Segment struct {
	// ID uniquely identifies the segment (UUID v4).
	ID string `json:"id"`

	// SessionID ties the segment to the capture session that produced it.
	SessionID string `json:"session_id"`

	// StartMS and EndMS bound the segment in milliseconds of session time.
	// EndMS is always greater than StartMS.
	StartMS int64 `json:"start_ms"`
	EndMS   int64 `json:"end_ms"`

	// Text is the transcribed speech for this span, whitespace-normalised.
	Text string `json:"text"`

	// Confidence is the mean word confidence (0.0–1.0).
	Confidence float64 `json:"confidence"`

	// Provider names the recognition engine that produced the text.
	Provider string `json:"provider"`

	// Final reports whether the segment is authoritative. Segments emitted
	// by a finished session are always final.
	Final bool `json:"final"`

	// Speaker is the normalised speaker label ("S1", "S2", ...). Empty when
	// no speaker could be attributed.
	Speaker string `json:"speaker,omitempty"`
}

// DurationMS returns the span length in milliseconds.
func (s Segment) DurationMS() int64 {
	return s.EndMS - s.StartMS
}
