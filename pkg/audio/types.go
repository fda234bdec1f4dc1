package audio

import "time"

// Canonical capture format. Every chunk leaving the capture engine carries
// 16 kHz mono 16-bit little-endian PCM regardless of what the underlying
// device produced.
const (
	CanonicalSampleRate = 16000
	CanonicalChannels   = 1
	BytesPerSample      = 2
)

// Canonical returns the pipeline-wide target format.
func Canonical() Format {
	return Format{SampleRate: CanonicalSampleRate, Channels: CanonicalChannels}
}

// Source identifies which input a piece of audio came from.
type Source string

const (
	// SourceMicrophone is the default input device.
	SourceMicrophone Source = "microphone"

	// SourceSystem is the loopback capture of system playback.
	SourceSystem Source = "system"
)

// Frame represents a single frame of audio data as delivered by an input
// stream. Frames are the atomic unit of transport between a device backend
// and the capture engine; their format is whatever the device negotiated.
type Frame struct {
	// PCM audio data, 16-bit signed little-endian.
	Data []byte

	// SampleRate in Hz (e.g. 44100 for a typical monitor source,
	// 16000 for a microphone opened at the canonical rate).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int
}

// Chunk is a fixed-duration slice of canonical-format audio emitted by the
// capture engine. Data always holds 16 kHz mono 16-bit little-endian PCM.
type Chunk struct {
	// Source names the input the chunk was captured from.
	Source Source

	// Data is the PCM payload.
	Data []byte

	// Timestamp is the elapsed capture time of the chunk's first sample,
	// relative to the start of the source's stream.
	Timestamp time.Duration
}

// Duration returns the playback duration of the chunk at the canonical format.
func (c Chunk) Duration() time.Duration {
	return PCMDuration(len(c.Data), Canonical())
}

// PCMDuration returns the playback duration of n bytes of 16-bit PCM in
// format f. Returns 0 for invalid formats.
func PCMDuration(n int, f Format) time.Duration {
	bytesPerSecond := f.SampleRate * f.Channels * BytesPerSample
	if bytesPerSecond <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bytesPerSecond)
}
