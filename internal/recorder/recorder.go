// Package recorder drives a recording session end to end: it starts the
// capture engine, pumps emitted chunks into the assembler, tracks input
// levels, and on stop reconciles the session into a transcript and hands it
// to the configured sink.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soundline/hearsay/internal/assembler"
	"github.com/soundline/hearsay/internal/observe"
	"github.com/soundline/hearsay/pkg/audio"
	"github.com/soundline/hearsay/pkg/audio/capture"
)

// ErrRecordingActive is returned by Start when a recording is already running.
var ErrRecordingActive = errors.New("recorder: recording already active")

// ErrNoActiveRecording is returned by Stop when nothing is running.
var ErrNoActiveRecording = errors.New("recorder: no active recording")

// Sink receives the finished transcript of a session.
type Sink interface {
	Save(ctx context.Context, t *assembler.Transcript) error
}

// Config wires a Recorder.
type Config struct {
	// Engine is the capture engine producing audio chunks. Required.
	Engine *capture.Engine

	// Assembler buffers the session and reconstructs the transcript.
	// Required.
	Assembler *assembler.Assembler

	// Sink receives finished transcripts. Optional; when nil the transcript
	// is only returned from Stop.
	Sink Sink

	// AudioDir, when non-empty, makes the recorder retain the raw session
	// audio and write one WAV file per source on Stop.
	AudioDir string

	// Metrics receives pipeline instrumentation. Defaults to
	// observe.DefaultMetrics when nil.
	Metrics *observe.Metrics
}

// Status describes the current recording state.
type Status struct {
	Recording bool
	Paused    bool
	SessionID string
	Elapsed   time.Duration
	Buffered  int64

	// Levels holds the most recent RMS level per source, in 16-bit PCM
	// units.
	Levels map[audio.Source]float64

	Capture capture.Status
}

// Recorder owns the capture-to-transcript lifecycle of one session at a time.
// All methods are safe for concurrent use.
type Recorder struct {
	engine   *capture.Engine
	asm      *assembler.Assembler
	sink     Sink
	audioDir string
	metrics  *observe.Metrics

	mu        sync.Mutex
	recording bool
	sessionID string
	startedAt time.Time
	levels    map[audio.Source]float64
	raw       map[audio.Source][]byte
	pumpDone  chan struct{}
}

// New creates a Recorder. Engine and Assembler are required.
func New(cfg Config) (*Recorder, error) {
	if cfg.Engine == nil {
		return nil, errors.New("recorder: capture engine is required")
	}
	if cfg.Assembler == nil {
		return nil, errors.New("recorder: assembler is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Recorder{
		engine:   cfg.Engine,
		asm:      cfg.Assembler,
		sink:     cfg.Sink,
		audioDir: cfg.AudioDir,
		metrics:  cfg.Metrics,
	}, nil
}

// Start begins a new recording session. When sessionID is empty a fresh UUID
// is generated. The returned id identifies the session in transcripts and
// saved artifacts.
func (r *Recorder) Start(ctx context.Context, sessionID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording {
		return "", fmt.Errorf("%w (id=%s)", ErrRecordingActive, r.sessionID)
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	if err := r.engine.Start(); err != nil {
		return "", fmt.Errorf("recorder: start capture: %w", err)
	}
	if err := r.asm.StartSession(sessionID); err != nil {
		r.engine.Stop()
		return "", fmt.Errorf("recorder: start session: %w", err)
	}

	r.recording = true
	r.sessionID = sessionID
	r.startedAt = time.Now()
	r.levels = make(map[audio.Source]float64)
	if r.audioDir != "" {
		r.raw = make(map[audio.Source][]byte)
	} else {
		r.raw = nil
	}
	r.pumpDone = make(chan struct{})
	go r.pump(r.engine.Chunks(), r.pumpDone)

	r.metrics.ActiveSessions.Add(ctx, 1)
	slog.Info("recorder: session started",
		"session_id", sessionID,
		"mode", r.engine.Status().EffectiveMode,
	)
	return sessionID, nil
}

// pump forwards capture output into the assembler until the chunk channel
// closes. It also tracks per-source input levels and chunk metrics.
func (r *Recorder) pump(chunks <-chan audio.Chunk, done chan<- struct{}) {
	defer close(done)
	ctx := context.Background()
	for chunk := range chunks {
		r.asm.IngestAudio(chunk)

		rms := audio.RMS(chunk.Data)
		r.mu.Lock()
		if r.levels != nil {
			r.levels[chunk.Source] = rms
		}
		if r.raw != nil {
			r.raw[chunk.Source] = append(r.raw[chunk.Source], chunk.Data...)
		}
		r.mu.Unlock()

		r.metrics.RecordChunk(ctx, string(chunk.Source), len(chunk.Data))
		r.metrics.RecordLevel(ctx, string(chunk.Source), rms)
	}
}

// Pause toggles capture pause and returns the new paused state.
func (r *Recorder) Pause() bool {
	return r.engine.Pause()
}

// Stop ends the active recording, waits for all buffered audio to reach the
// assembler, and reconciles the session into a transcript. The transcript is
// returned even when saving to the sink fails; the save error is joined into
// the returned error.
func (r *Recorder) Stop(ctx context.Context) (*assembler.Transcript, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return nil, ErrNoActiveRecording
	}
	r.recording = false
	sessionID := r.sessionID
	pumpDone := r.pumpDone
	r.mu.Unlock()

	// Detach hardware and drain: the chunk channel closes once every
	// buffered frame has been chunked, so waiting on the pump guarantees
	// the assembler saw all of them.
	r.engine.Stop()
	<-pumpDone
	r.metrics.ActiveSessions.Add(ctx, -1)

	for src, st := range r.engine.Status().DroppedFrames {
		r.metrics.RecordDrops(ctx, string(src), st)
	}

	r.saveAudio(sessionID)

	t, err := r.asm.StopSession(ctx)
	if err != nil {
		return nil, err
	}

	if r.sink != nil {
		if saveErr := r.sink.Save(ctx, t); saveErr != nil {
			return t, fmt.Errorf("recorder: save transcript: %w", saveErr)
		}
	}
	return t, nil
}

// Status reports the current recording and capture state.
func (r *Recorder) Status() Status {
	cs := r.engine.Status()

	r.mu.Lock()
	defer r.mu.Unlock()
	s := Status{
		Recording: r.recording,
		Paused:    cs.Paused,
		SessionID: r.sessionID,
		Buffered:  r.asm.Buffered(),
		Capture:   cs,
	}
	if r.recording {
		s.Elapsed = time.Since(r.startedAt)
	}
	if len(r.levels) > 0 {
		s.Levels = make(map[audio.Source]float64, len(r.levels))
		for src, lvl := range r.levels {
			s.Levels[src] = lvl
		}
	}
	return s
}

// saveAudio writes the retained raw PCM to one WAV file per source. Failures
// are logged, not returned; raw audio is an auxiliary artifact.
func (r *Recorder) saveAudio(sessionID string) {
	r.mu.Lock()
	raw := r.raw
	r.raw = nil
	r.mu.Unlock()
	if len(raw) == 0 {
		return
	}

	format := audio.Canonical()
	for src, pcm := range raw {
		path := filepath.Join(r.audioDir, fmt.Sprintf("%s-%s.wav", sessionID, src))
		data := audio.EncodeWAV(pcm, format.SampleRate, format.Channels)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			slog.Warn("recorder: failed to write session audio", "path", path, "err", err)
			continue
		}
		slog.Info("recorder: session audio written", "path", path, "bytes", len(data))
	}
}
