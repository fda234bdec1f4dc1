// Package capture implements the session audio capture engine.
//
// The engine owns up to two hardware sources — the microphone and an
// optional system-audio loopback — delivered through an [Opener] backend.
// Every incoming frame is normalised to the canonical pipeline format
// (16 kHz mono 16-bit PCM), accumulated per source, and re-emitted as
// fixed-duration [audio.Chunk] values on a single consumer channel. The two
// sources are never mixed; each chunk carries its own source tag and a
// timestamp derived from the amount of audio already emitted for that
// source, so delivery jitter does not drift the timeline.
//
// Hardware delivery callbacks never block on conversion work: they check the
// running/paused flags under the engine lock and hand the raw frame to a
// buffered processing queue. A single chunker goroutine owns all conversion
// state and is the only writer to the consumer stream. Frames that arrive
// while the queue is full are dropped and counted rather than stalling the
// delivery thread.
package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/soundline/hearsay/pkg/audio"
)

// ErrHardwareUnavailable indicates the microphone could not be opened.
// Microphone failures are fatal to Start; system-audio failures are not.
var ErrHardwareUnavailable = errors.New("capture: hardware unavailable")

// Mode selects which sources a capture session records.
type Mode string

const (
	// ModeMicrophoneOnly records the microphone alone.
	ModeMicrophoneOnly Mode = "microphone_only"

	// ModeMicrophoneAndSystem records the microphone plus the system-audio
	// loopback as two independent streams.
	ModeMicrophoneAndSystem Mode = "microphone_and_system"
)

// IsValid reports whether m is a recognised capture mode.
func (m Mode) IsValid() bool {
	return m == ModeMicrophoneOnly || m == ModeMicrophoneAndSystem
}

// includesSystem reports whether m requests the system-audio source.
func (m Mode) includesSystem() bool {
	return m == ModeMicrophoneAndSystem
}

// SourceStream is a live hardware stream attached by an [Opener].
// Close detaches the stream synchronously: once it returns, the backend
// must not invoke the deliver callback again.
type SourceStream interface {
	Close() error
}

// Opener attaches hardware audio sources. The deliver callback is invoked
// from the backend's own delivery context for every captured frame; it is
// cheap and non-blocking, so backends may call it from realtime threads.
type Opener interface {
	// OpenMicrophone attaches the default (or configured) input device.
	OpenMicrophone(deliver func(audio.Frame)) (SourceStream, error)

	// OpenSystemAudio attaches the system playback loopback.
	OpenSystemAudio(deliver func(audio.Frame)) (SourceStream, error)
}

// Status is a point-in-time summary of the engine, for display or scraping.
type Status struct {
	// Running reports whether a capture is active.
	Running bool

	// Paused reports whether chunk emission is currently suppressed.
	Paused bool

	// EffectiveMode is the mode actually achieved by the last Start. It is
	// ModeMicrophoneAndSystem only when the system source attached.
	EffectiveMode Mode

	// Warning holds a human-readable note about a non-fatal degradation
	// (e.g. system audio unavailable). Empty when capture is fully healthy.
	Warning string

	// DroppedFrames counts frames discarded because the processing queue
	// was full, by source.
	DroppedFrames map[audio.Source]int64
}

const (
	// DefaultChunkDuration is the length of audio each emitted chunk holds.
	DefaultChunkDuration = 80 * time.Millisecond

	// defaultQueueSize bounds the raw-frame queue between the delivery
	// callbacks and the chunker goroutine.
	defaultQueueSize = 256

	// defaultStreamBuffer bounds the consumer-facing chunk channel.
	defaultStreamBuffer = 64
)

// Option configures an [Engine].
type Option func(*Engine)

// WithChunkDuration overrides the emitted chunk length. Values <= 0 keep
// the default.
func WithChunkDuration(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.chunkDuration = d
		}
	}
}

// WithQueueSize overrides the raw-frame queue capacity.
func WithQueueSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.queueSize = n
		}
	}
}

// WithStreamBuffer overrides the consumer chunk channel capacity.
func WithStreamBuffer(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.streamBuffer = n
		}
	}
}

// sourcedFrame pairs a raw frame with the source that delivered it.
type sourcedFrame struct {
	source audio.Source
	frame  audio.Frame
}

// Engine is the capture engine. All exported methods are safe for
// concurrent use.
type Engine struct {
	opener        Opener
	chunkDuration time.Duration
	queueSize     int
	streamBuffer  int

	mu          sync.Mutex
	desired     Mode
	running     bool
	paused      bool
	effective   Mode
	warning     string
	mic         SourceStream
	system      SourceStream
	queue       chan sourcedFrame
	out         chan audio.Chunk
	stopChunker chan struct{}
	chunkerDone chan struct{}
	drops       map[audio.Source]int64
}

// New creates an Engine that attaches hardware through opener. The desired
// mode defaults to [ModeMicrophoneOnly] until [Engine.Configure] is called.
func New(opener Opener, opts ...Option) *Engine {
	e := &Engine{
		opener:        opener,
		chunkDuration: DefaultChunkDuration,
		queueSize:     defaultQueueSize,
		streamBuffer:  defaultStreamBuffer,
		desired:       ModeMicrophoneOnly,
		drops:         make(map[audio.Source]int64),
	}
	for _, opt := range opts {
		opt(e)
	}
	// Before the first Start, Chunks observes an already-finished stream.
	e.out = make(chan audio.Chunk)
	close(e.out)
	return e
}

// Configure records the desired capture mode. It takes effect on the next
// Start; calling it during a running capture has no immediate side effect.
// Unrecognised modes are ignored.
func (e *Engine) Configure(mode Mode) {
	if !mode.IsValid() {
		slog.Warn("capture: ignoring invalid mode", "mode", string(mode))
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.desired = mode
}

// Start attaches the hardware sources and begins emitting chunks.
//
// The microphone is attached first; failure there wraps
// [ErrHardwareUnavailable] and aborts the start. When the desired mode
// includes system audio, the loopback source is attached separately; any
// failure degrades the session to microphone-only and records a warning
// instead of failing Start. Calling Start while already running is a no-op.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil
	}

	mic, err := e.opener.OpenMicrophone(e.deliver(audio.SourceMicrophone))
	if err != nil {
		return fmt.Errorf("%w: open microphone: %w", ErrHardwareUnavailable, err)
	}

	effective := ModeMicrophoneOnly
	warning := ""
	var system SourceStream
	if e.desired.includesSystem() {
		system, err = e.opener.OpenSystemAudio(e.deliver(audio.SourceSystem))
		if err != nil {
			warning = fmt.Sprintf("system audio unavailable, capturing microphone only: %v", err)
			slog.Warn("capture: system audio attach failed, degrading to microphone only", "err", err)
		} else {
			effective = ModeMicrophoneAndSystem
		}
	}

	e.running = true
	e.paused = false
	e.effective = effective
	e.warning = warning
	e.mic = mic
	e.system = system
	e.queue = make(chan sourcedFrame, e.queueSize)
	e.out = make(chan audio.Chunk, e.streamBuffer)
	e.stopChunker = make(chan struct{})
	e.chunkerDone = make(chan struct{})
	e.drops = make(map[audio.Source]int64)

	go e.chunker(e.queue, e.out, e.stopChunker, e.chunkerDone)

	slog.Info("capture started",
		"desired_mode", string(e.desired),
		"effective_mode", string(effective),
		"chunk_duration", e.chunkDuration,
	)
	return nil
}

// Pause toggles the paused state and returns the new value. While paused,
// delivered frames are discarded before the chunk pipeline; the hardware
// sources stay attached, so resuming is instantaneous.
func (e *Engine) Pause() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return false
	}
	e.paused = !e.paused
	slog.Info("capture pause toggled", "paused", e.paused)
	return e.paused
}

// Stop detaches both hardware sources, flushes any complete chunks still
// held in the accumulators, discards sub-chunk residue, and closes the
// chunk stream. It returns once the stream is finalised. Idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.paused = false
	mic, system := e.mic, e.system
	e.mic, e.system = nil, nil
	stop, done := e.stopChunker, e.chunkerDone
	e.mu.Unlock()

	// Detach hardware first: Close is synchronous, so no frame can reach the
	// queue after this point.
	if err := mic.Close(); err != nil {
		slog.Warn("capture: microphone close error", "err", err)
	}
	if system != nil {
		if err := system.Close(); err != nil {
			slog.Warn("capture: system audio close error", "err", err)
		}
	}

	// Then let the chunker drain what is already queued and finalise the
	// stream. Stop returns only after the chunker has exited.
	close(stop)
	<-done

	slog.Info("capture stopped")
}

// Chunks returns the consumer-facing chunk stream. A fresh channel is
// created by every Start; channels from earlier sessions are closed, so
// stale subscribers observe termination rather than stale data. Before the
// first Start the returned channel is already closed.
func (e *Engine) Chunks() <-chan audio.Chunk {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.out
}

// Status returns a snapshot of the engine state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	drops := make(map[audio.Source]int64, len(e.drops))
	for src, n := range e.drops {
		drops[src] = n
	}
	return Status{
		Running:       e.running,
		Paused:        e.paused,
		EffectiveMode: e.effective,
		Warning:       e.warning,
		DroppedFrames: drops,
	}
}

// deliver returns the frame callback handed to the backend for src.
// The callback only inspects flags under the lock and enqueues; it must
// never block, so a full queue drops the frame.
func (e *Engine) deliver(src audio.Source) func(audio.Frame) {
	return func(f audio.Frame) {
		e.mu.Lock()
		if !e.running || e.paused {
			e.mu.Unlock()
			return
		}
		q := e.queue
		e.mu.Unlock()

		select {
		case q <- sourcedFrame{source: src, frame: f}:
		default:
			e.mu.Lock()
			e.drops[src]++
			e.mu.Unlock()
		}
	}
}

// accumulator holds the per-source conversion and chunking state. Owned
// exclusively by the chunker goroutine.
type accumulator struct {
	conv    *audio.FormatConverter
	format  audio.Format
	buf     []byte
	emitted int64
}

// chunker is the single consumer of the raw-frame queue. It converts each
// frame to the canonical format, slices full chunks off the per-source
// accumulators, and emits them on out. On stop it drains frames already
// queued, emits any remaining complete chunks, discards partial residue,
// and closes out.
func (e *Engine) chunker(queue <-chan sourcedFrame, out chan<- audio.Chunk, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer close(out)

	chunkSize := e.chunkSize()
	accs := make(map[audio.Source]*accumulator, 2)

	for {
		select {
		case sf := <-queue:
			e.ingest(accs, sf, chunkSize, out)
		case <-stop:
			// Hardware is already detached; whatever is queued is the last
			// of the session.
			for {
				select {
				case sf := <-queue:
					e.ingest(accs, sf, chunkSize, out)
				default:
					return
				}
			}
		}
	}
}

// chunkSize returns the byte count of one chunk at the canonical format.
// The count is rounded down to whole samples.
func (e *Engine) chunkSize() int {
	bytesPerSecond := audio.CanonicalSampleRate * audio.CanonicalChannels * audio.BytesPerSample
	n := int(int64(bytesPerSecond) * int64(e.chunkDuration) / int64(time.Second))
	if n < audio.BytesPerSample {
		n = audio.BytesPerSample
	}
	return n - n%audio.BytesPerSample
}

// ingest converts one frame and emits every complete chunk it completes.
func (e *Engine) ingest(accs map[audio.Source]*accumulator, sf sourcedFrame, chunkSize int, out chan<- audio.Chunk) {
	acc := accs[sf.source]
	if acc == nil {
		acc = &accumulator{}
		accs[sf.source] = acc
	}

	format := audio.Format{SampleRate: sf.frame.SampleRate, Channels: sf.frame.Channels}
	if acc.conv == nil || acc.format != format {
		// Rebuild the conversion context only on a format signature change,
		// not per frame.
		acc.conv = &audio.FormatConverter{Target: audio.Canonical()}
		acc.format = format
	}

	converted := acc.conv.Convert(sf.frame)
	if len(converted.Data) == 0 {
		return
	}
	acc.buf = append(acc.buf, converted.Data...)

	for len(acc.buf) >= chunkSize {
		data := make([]byte, chunkSize)
		copy(data, acc.buf[:chunkSize])
		acc.buf = acc.buf[chunkSize:]

		chunk := audio.Chunk{
			Source:    sf.source,
			Data:      data,
			Timestamp: audio.PCMDuration(int(acc.emitted), audio.Canonical()),
		}
		acc.emitted += int64(chunkSize)

		select {
		case out <- chunk:
		default:
			// A stalled consumer must not back up into the delivery path.
			e.mu.Lock()
			e.drops[sf.source]++
			e.mu.Unlock()
		}
	}
}
