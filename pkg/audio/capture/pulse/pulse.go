// Package pulse implements the capture hardware abstraction on top of a
// PulseAudio (or PipeWire with pulse compatibility) server.
//
// The microphone maps to the server's default source, or to an explicitly
// configured source ID. System audio maps to the monitor source of the
// default (or configured) sink — PulseAudio exposes every sink's playback
// as "<sinkID>.monitor", which is how loopback capture works without any
// extra routing.
//
// Each attached stream owns its own client connection so that closing one
// source never disturbs the other. Recording is requested directly at the
// pipeline's canonical format (16 kHz mono 16-bit); the server resamples
// from the device rate, and the capture engine's converter remains as a
// guard for backends that cannot.
package pulse

import (
	"encoding/binary"
	"fmt"

	"github.com/jfreymuth/pulse"

	"github.com/soundline/hearsay/pkg/audio"
	"github.com/soundline/hearsay/pkg/audio/capture"
)

// fragmentBytes asks the server for ~20 ms delivery fragments at the
// canonical format, keeping callback latency well under one chunk.
const fragmentBytes = audio.CanonicalSampleRate * audio.BytesPerSample * 20 / 1000

// Option configures an [Opener].
type Option func(*Opener)

// WithServer sets the PulseAudio server address (e.g. a unix socket path or
// "tcp:host:port"). Empty uses the environment defaults.
func WithServer(addr string) Option {
	return func(o *Opener) {
		o.server = addr
	}
}

// WithSourceID pins the microphone to a specific source instead of the
// server default.
func WithSourceID(id string) Option {
	return func(o *Opener) {
		o.sourceID = id
	}
}

// WithSinkID selects which sink's monitor feeds the system-audio stream
// instead of the server's default sink.
func WithSinkID(id string) Option {
	return func(o *Opener) {
		o.sinkID = id
	}
}

// Opener attaches PulseAudio record streams. It implements [capture.Opener].
type Opener struct {
	server   string
	sourceID string
	sinkID   string
}

// Compile-time interface assertion.
var _ capture.Opener = (*Opener)(nil)

// NewOpener creates a PulseAudio backend.
func NewOpener(opts ...Option) *Opener {
	o := &Opener{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// OpenMicrophone attaches a record stream on the configured or default
// source.
func (o *Opener) OpenMicrophone(deliver func(audio.Frame)) (capture.SourceStream, error) {
	return o.openRecord(deliver, func(c *pulse.Client) (*pulse.Source, error) {
		if o.sourceID != "" {
			return c.SourceByID(o.sourceID)
		}
		return c.DefaultSource()
	})
}

// OpenSystemAudio attaches a record stream on the monitor source of the
// configured or default sink.
func (o *Opener) OpenSystemAudio(deliver func(audio.Frame)) (capture.SourceStream, error) {
	return o.openRecord(deliver, func(c *pulse.Client) (*pulse.Source, error) {
		sinkID := o.sinkID
		if sinkID == "" {
			sink, err := c.DefaultSink()
			if err != nil {
				return nil, fmt.Errorf("default sink: %w", err)
			}
			sinkID = sink.ID()
		}
		return c.SourceByID(sinkID + ".monitor")
	})
}

// openRecord connects a client, resolves the source, and starts recording.
func (o *Opener) openRecord(deliver func(audio.Frame), pick func(*pulse.Client) (*pulse.Source, error)) (capture.SourceStream, error) {
	var clientOpts []pulse.ClientOption
	if o.server != "" {
		clientOpts = append(clientOpts, pulse.ClientServerString(o.server))
	}
	clientOpts = append(clientOpts, pulse.ClientApplicationName("hearsay"))

	client, err := pulse.NewClient(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("pulse: connect: %w", err)
	}

	source, err := pick(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("pulse: resolve source: %w", err)
	}

	writer := pulse.Int16Writer(func(p []int16) (int, error) {
		data := make([]byte, len(p)*audio.BytesPerSample)
		for i, s := range p {
			binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
		}
		deliver(audio.Frame{
			Data:       data,
			SampleRate: audio.CanonicalSampleRate,
			Channels:   audio.CanonicalChannels,
		})
		return len(p), nil
	})

	stream, err := client.NewRecord(writer,
		pulse.RecordSource(source),
		pulse.RecordSampleRate(audio.CanonicalSampleRate),
		pulse.RecordMono,
		pulse.RecordBufferFragmentSize(fragmentBytes),
	)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("pulse: open record stream on %q: %w", source.ID(), err)
	}
	stream.Start()

	return &recordStream{client: client, stream: stream}, nil
}

// recordStream wraps one pulse record stream plus its client connection.
type recordStream struct {
	client *pulse.Client
	stream *pulse.RecordStream
}

// Close stops recording and tears down the client. After Close returns no
// further frames are delivered.
func (s *recordStream) Close() error {
	s.stream.Stop()
	err := s.stream.Error()
	s.stream.Close()
	s.client.Close()
	if err != nil {
		return fmt.Errorf("pulse: record stream: %w", err)
	}
	return nil
}
