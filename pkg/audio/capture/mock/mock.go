// Package mock provides in-memory test doubles for the capture package's
// hardware abstraction.
//
// The mocks record every method call so that tests can assert on call counts,
// and expose exported fields the test can set to control return values.
// Frames are injected through [Opener.DeliverMic] and [Opener.DeliverSystem],
// which invoke the callbacks the engine registered at attach time.
//
// Typical usage:
//
//	opener := &mock.Opener{}
//	eng := capture.New(opener)
//	if err := eng.Start(); err != nil { ... }
//	opener.DeliverMic(audio.Frame{Data: pcm, SampleRate: 16000, Channels: 1})
package mock

import (
	"sync"

	"github.com/soundline/hearsay/pkg/audio"
	"github.com/soundline/hearsay/pkg/audio/capture"
)

// Stream is a mock implementation of [capture.SourceStream].
type Stream struct {
	mu sync.Mutex

	// CloseErr is returned by Close.
	CloseErr error

	// CloseCalls records how many times Close was called.
	CloseCalls int
}

// Close records the call and returns CloseErr.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	return s.CloseErr
}

// Closed reports whether Close has been called at least once. Thread-safe.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCalls > 0
}

// Opener is a mock implementation of [capture.Opener].
// Set the Err fields before use to simulate attach failures.
type Opener struct {
	mu sync.Mutex

	// MicErr, when non-nil, is returned by OpenMicrophone.
	MicErr error

	// SystemErr, when non-nil, is returned by OpenSystemAudio.
	SystemErr error

	// Mic and System are the streams handed out by the Open calls.
	// Auto-created on first use when left nil.
	Mic    *Stream
	System *Stream

	// OpenMicrophoneCalls and OpenSystemAudioCalls record call counts.
	OpenMicrophoneCalls  int
	OpenSystemAudioCalls int

	micDeliver    func(audio.Frame)
	systemDeliver func(audio.Frame)
}

// OpenMicrophone records the call, captures the deliver callback, and
// returns Mic (or MicErr).
func (o *Opener) OpenMicrophone(deliver func(audio.Frame)) (capture.SourceStream, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.OpenMicrophoneCalls++
	if o.MicErr != nil {
		return nil, o.MicErr
	}
	if o.Mic == nil {
		o.Mic = &Stream{}
	}
	o.micDeliver = deliver
	return o.Mic, nil
}

// OpenSystemAudio records the call, captures the deliver callback, and
// returns System (or SystemErr).
func (o *Opener) OpenSystemAudio(deliver func(audio.Frame)) (capture.SourceStream, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.OpenSystemAudioCalls++
	if o.SystemErr != nil {
		return nil, o.SystemErr
	}
	if o.System == nil {
		o.System = &Stream{}
	}
	o.systemDeliver = deliver
	return o.System, nil
}

// DeliverMic injects a frame through the microphone callback registered by
// the last OpenMicrophone call. No-op when the microphone is not attached.
func (o *Opener) DeliverMic(f audio.Frame) {
	o.mu.Lock()
	deliver := o.micDeliver
	o.mu.Unlock()
	if deliver != nil {
		deliver(f)
	}
}

// DeliverSystem injects a frame through the system-audio callback registered
// by the last OpenSystemAudio call. No-op when the source is not attached.
func (o *Opener) DeliverSystem(f audio.Frame) {
	o.mu.Lock()
	deliver := o.systemDeliver
	o.mu.Unlock()
	if deliver != nil {
		deliver(f)
	}
}

// Ensure the mocks implement the capture interfaces at compile time.
var (
	_ capture.Opener       = (*Opener)(nil)
	_ capture.SourceStream = (*Stream)(nil)
)
