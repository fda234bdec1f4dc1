package audio_test

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/soundline/hearsay/pkg/audio"
)

func TestEncodeWAV_Header(t *testing.T) {
	pcm := samplesToBytes([]int16{100, 200})
	wav := audio.EncodeWAV(pcm, 16000, 1)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("expected %d bytes, got %d", 44+len(pcm), len(wav))
	}
	if !bytes.Equal(wav[0:4], []byte("RIFF")) {
		t.Errorf("missing RIFF marker: %q", wav[0:4])
	}
	if got := binary.LittleEndian.Uint32(wav[4:8]); got != uint32(36+len(pcm)) {
		t.Errorf("file size field: got %d, want %d", got, 36+len(pcm))
	}
	if !bytes.Equal(wav[8:12], []byte("WAVE")) {
		t.Errorf("missing WAVE marker: %q", wav[8:12])
	}
	if got := binary.LittleEndian.Uint16(wav[20:22]); got != 1 {
		t.Errorf("audio format: got %d, want 1 (PCM)", got)
	}
	if got := binary.LittleEndian.Uint16(wav[22:24]); got != 1 {
		t.Errorf("channels: got %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Errorf("sample rate: got %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 32000 {
		t.Errorf("byte rate: got %d, want 32000", got)
	}
	if got := binary.LittleEndian.Uint16(wav[32:34]); got != 2 {
		t.Errorf("block align: got %d, want 2", got)
	}
	if got := binary.LittleEndian.Uint16(wav[34:36]); got != 16 {
		t.Errorf("bits per sample: got %d, want 16", got)
	}
	if !bytes.Equal(wav[36:40], []byte("data")) {
		t.Errorf("missing data marker: %q", wav[36:40])
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Errorf("data size: got %d, want %d", got, len(pcm))
	}
	if !bytes.Equal(wav[44:], pcm) {
		t.Error("PCM payload not copied verbatim")
	}
}

func TestEncodeWAV_Empty(t *testing.T) {
	wav := audio.EncodeWAV(nil, 16000, 1)
	if len(wav) != 44 {
		t.Fatalf("expected bare 44-byte header, got %d bytes", len(wav))
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != 0 {
		t.Errorf("data size: got %d, want 0", got)
	}
}

func TestRMS(t *testing.T) {
	// Constant amplitude 1000 → RMS exactly 1000.
	pcm := samplesToBytes([]int16{1000, 1000, 1000, 1000})
	if got := audio.RMS(pcm); got != 1000 {
		t.Errorf("constant signal: got %v, want 1000", got)
	}
	// Negative amplitude contributes the same energy.
	pcm = samplesToBytes([]int16{-500})
	if got := audio.RMS(pcm); got != 500 {
		t.Errorf("negative sample: got %v, want 500", got)
	}
	// Empty and sub-sample buffers are silent.
	if got := audio.RMS(nil); got != 0 {
		t.Errorf("empty buffer: got %v, want 0", got)
	}
	if got := audio.RMS([]byte{0x01}); got != 0 {
		t.Errorf("single byte: got %v, want 0", got)
	}
}

func TestPCMToFloat32(t *testing.T) {
	pcm := samplesToBytes([]int16{-32768, 0, 16384})
	got := audio.PCMToFloat32(pcm)
	want := []float32{-1.0, 0, 0.5}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestPCMToFloat32_IgnoresTrailingByte(t *testing.T) {
	pcm := append(samplesToBytes([]int16{100}), 0xFF)
	got := audio.PCMToFloat32(pcm)
	if len(got) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(got))
	}
}

func TestFloat32ToPCM_KnownValues(t *testing.T) {
	out := audio.Float32ToPCM([]float32{0, 0.5, -0.5, 1.0, -1.0})
	got := bytesToSamples(out)
	want := []int16{0, 16383, -16383, 32767, -32767}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestFloat32ToPCM_Clamps(t *testing.T) {
	out := audio.Float32ToPCM([]float32{2.0, -2.0})
	got := bytesToSamples(out)
	if got[0] != 32767 {
		t.Errorf("positive overflow: got %d, want 32767", got[0])
	}
	if got[1] != -32767 {
		t.Errorf("negative overflow: got %d, want -32767", got[1])
	}
}

func TestPCMDuration(t *testing.T) {
	// One second of canonical audio: 16000 samples * 2 bytes.
	if got := audio.PCMDuration(32000, audio.Canonical()); got != time.Second {
		t.Errorf("got %v, want 1s", got)
	}
	// One 80ms chunk: 1280 samples * 2 bytes.
	if got := audio.PCMDuration(2560, audio.Canonical()); got != 80*time.Millisecond {
		t.Errorf("got %v, want 80ms", got)
	}
	// Invalid format.
	if got := audio.PCMDuration(2560, audio.Format{}); got != 0 {
		t.Errorf("got %v, want 0 for zero format", got)
	}
}

func TestChunkDuration(t *testing.T) {
	c := audio.Chunk{
		Source: audio.SourceMicrophone,
		Data:   make([]byte, 2560),
	}
	if got := c.Duration(); got != 80*time.Millisecond {
		t.Errorf("got %v, want 80ms", got)
	}
}
