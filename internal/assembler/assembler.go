// Package assembler reconstructs speaker-attributed transcripts from the
// audio captured during a recording session.
//
// The assembler buffers every chunk ingested between StartSession and
// StopSession. At stop it hands the complete session audio to the speech
// recognition engine once, merges the engine's token timings into words,
// runs an independent diarization pass, attributes each word to a speaker
// by time overlap, and buckets the words into ordered transcript segments.
//
// Failure policy: anything that would make the transcript meaningless (no
// audio, no text, recognition failure) is a hard error from StopSession.
// Anything that merely reduces richness — a failed diarization pass, a
// missing system-audio stream — degrades locally and surfaces as a warning
// on the returned Transcript.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/soundline/hearsay/internal/observe"
	"github.com/soundline/hearsay/internal/vocab"
	"github.com/soundline/hearsay/pkg/audio"
	"github.com/soundline/hearsay/pkg/provider/asr"
	"github.com/soundline/hearsay/pkg/provider/diarize"
	"github.com/soundline/hearsay/pkg/transcript"
)

// Sentinel errors for the session lifecycle. ErrSessionActive and
// ErrNoActiveSession are programmer errors (invalid state transitions);
// ErrEmptyCapture and ErrEmptyTranscript mean no usable input reached the
// reconciliation algorithm.
var (
	ErrSessionActive   = errors.New("assembler: a session is already active")
	ErrNoActiveSession = errors.New("assembler: no active session")
	ErrEmptyCapture    = errors.New("assembler: no audio was captured")
	ErrEmptyTranscript = errors.New("assembler: recognition produced no text")
)

const (
	// DefaultGapThreshold is the silence gap that splits two words into
	// separate segments. A gap of exactly the threshold still merges.
	DefaultGapThreshold = 1400 * time.Millisecond

	// DefaultMinSegment is the minimum duration of an emitted segment;
	// shorter spans are padded at the end.
	DefaultMinSegment = 80 * time.Millisecond

	// defaultWordConfidence is assumed for words with no contributing token
	// confidences and for synthesized segments.
	defaultWordConfidence = 0.85

	// synthesisPerRune estimates speech duration from text length when the
	// recognition engine returns no token timings at all.
	synthesisPerRune = 60 * time.Millisecond
)

// Transcript is the finished output of one session.
type Transcript struct {
	// SessionID identifies the session the transcript belongs to.
	SessionID string

	// Segments holds the ordered, speaker-attributed transcript.
	Segments []transcript.Segment

	// Provider names the recognition engine that produced the text.
	Provider string

	// Warning describes a non-fatal degradation (e.g. diarization failure).
	// Empty when the pipeline ran at full richness.
	Warning string
}

// Config holds the assembler's dependencies and tunables.
type Config struct {
	// Recognizer is the speech recognition engine. Required.
	Recognizer asr.Engine

	// Diarizer is the speaker diarization engine. Optional; when nil the
	// assembler produces unattributed segments without recording a warning.
	Diarizer diarize.Engine

	// Corrector optionally rewrites recognised words against a configured
	// vocabulary before segmentation.
	Corrector *vocab.Corrector

	// GapThreshold overrides DefaultGapThreshold when > 0.
	GapThreshold time.Duration

	// MinSegment overrides DefaultMinSegment when > 0.
	MinSegment time.Duration

	// Metrics receives pipeline instrumentation. Defaults to
	// observe.DefaultMetrics when nil.
	Metrics *observe.Metrics
}

// Assembler buffers session audio and reconstructs transcripts.
// All exported methods are safe for concurrent use; only one session may be
// active at a time.
type Assembler struct {
	recognizer   asr.Engine
	diarizer     diarize.Engine
	corrector    *vocab.Corrector
	gapThreshold time.Duration
	minSegment   time.Duration
	metrics      *observe.Metrics

	mu        sync.Mutex
	active    bool
	sessionID string
	buf       []byte

	// runMu serialises the reconciliation pipeline itself: the session
	// buffer swap happens under mu, the (potentially slow) engine calls
	// under runMu, so a new session can start while the previous one is
	// still being transcribed.
	runMu sync.Mutex
}

// New creates an Assembler. Returns an error when no recognizer is given.
func New(cfg Config) (*Assembler, error) {
	if cfg.Recognizer == nil {
		return nil, errors.New("assembler: recognizer is required")
	}
	if cfg.GapThreshold <= 0 {
		cfg.GapThreshold = DefaultGapThreshold
	}
	if cfg.MinSegment <= 0 {
		cfg.MinSegment = DefaultMinSegment
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Assembler{
		recognizer:   cfg.Recognizer,
		diarizer:     cfg.Diarizer,
		corrector:    cfg.Corrector,
		gapThreshold: cfg.GapThreshold,
		minSegment:   cfg.MinSegment,
		metrics:      cfg.Metrics,
	}, nil
}

// SetSegmenter updates the gap threshold and minimum segment duration used
// by subsequent reconciliations. Non-positive values restore the defaults.
func (a *Assembler) SetSegmenter(gap, min time.Duration) {
	if gap <= 0 {
		gap = DefaultGapThreshold
	}
	if min <= 0 {
		min = DefaultMinSegment
	}
	a.runMu.Lock()
	a.gapThreshold = gap
	a.minSegment = min
	a.runMu.Unlock()
}

// StartSession begins buffering audio for the session with the given id.
// Returns ErrSessionActive when a session is already running.
func (a *Assembler) StartSession(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active {
		return fmt.Errorf("%w (id=%s)", ErrSessionActive, a.sessionID)
	}
	a.active = true
	a.sessionID = id
	a.buf = nil
	slog.Info("assembler: session started", "session_id", id)
	return nil
}

// IngestAudio appends a chunk's payload to the session buffer. Chunks
// arriving outside an active session are silently dropped; the hot path
// never fails.
func (a *Assembler) IngestAudio(chunk audio.Chunk) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.active {
		return
	}
	a.buf = append(a.buf, chunk.Data...)
}

// Active returns the current session id and whether a session is running.
func (a *Assembler) Active() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID, a.active
}

// Buffered returns the number of audio bytes ingested so far.
func (a *Assembler) Buffered() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return int64(len(a.buf))
}

// StopSession ends the active session and runs the reconciliation pipeline
// over everything that was ingested.
//
// The session buffer is swapped out atomically — a fresh empty buffer is
// installed before the snapshot is processed, so a subsequent session can
// begin immediately. Session state is cleared whether StopSession succeeds
// or fails.
//
// Returns ErrNoActiveSession when nothing was started, ErrEmptyCapture when
// zero bytes were ingested, ErrEmptyTranscript when recognition yields no
// text, and a wrapped recognition error when the engine itself fails.
func (a *Assembler) StopSession(ctx context.Context) (*Transcript, error) {
	a.mu.Lock()
	if !a.active {
		a.mu.Unlock()
		return nil, ErrNoActiveSession
	}
	sessionID := a.sessionID
	buf := a.buf
	a.active = false
	a.sessionID = ""
	a.buf = nil
	a.mu.Unlock()

	if len(buf) == 0 {
		return nil, fmt.Errorf("%w (session %s)", ErrEmptyCapture, sessionID)
	}

	a.runMu.Lock()
	defer a.runMu.Unlock()

	slog.Info("assembler: session stopped, reconciling",
		"session_id", sessionID,
		"bytes", len(buf),
		"audio_duration", audio.PCMDuration(len(buf), audio.Canonical()),
	)
	return a.reconcile(ctx, sessionID, buf)
}
