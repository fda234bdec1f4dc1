package config_test

import (
	"slices"
	"testing"

	"github.com/soundline/hearsay/internal/config"
	"github.com/soundline/hearsay/pkg/audio/capture"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server:     config.ServerConfig{LogLevel: config.LogInfo},
		Capture:    config.CaptureConfig{Mode: capture.ModeMicrophoneOnly},
		Segmenter:  config.SegmenterConfig{GapThresholdMS: 1400},
		Vocabulary: []string{"Kubernetes"},
	}
	d := config.Diff(cfg, cfg)
	if d.HotApplicable() {
		t.Error("expected no hot-applicable changes for identical configs")
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("expected no restart-required changes, got %v", d.RestartRequired)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
}

func TestDiff_CaptureModeChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Capture: config.CaptureConfig{Mode: capture.ModeMicrophoneOnly}}
	new := &config.Config{Capture: config.CaptureConfig{Mode: capture.ModeMicrophoneAndSystem}}

	d := config.Diff(old, new)
	if !d.CaptureModeChanged {
		t.Error("expected CaptureModeChanged=true")
	}
	if d.NewCaptureMode != capture.ModeMicrophoneAndSystem {
		t.Errorf("expected NewCaptureMode=microphone_and_system, got %q", d.NewCaptureMode)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("capture mode is hot-applicable, got restart list %v", d.RestartRequired)
	}
}

func TestDiff_SegmenterChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Segmenter: config.SegmenterConfig{GapThresholdMS: 1400}}
	new := &config.Config{Segmenter: config.SegmenterConfig{GapThresholdMS: 900, MinSegmentMS: 80}}

	d := config.Diff(old, new)
	if !d.SegmenterChanged {
		t.Error("expected SegmenterChanged=true")
	}
	if d.NewSegmenter.GapThresholdMS != 900 || d.NewSegmenter.MinSegmentMS != 80 {
		t.Errorf("unexpected NewSegmenter: %+v", d.NewSegmenter)
	}
}

func TestDiff_VocabularyChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Vocabulary: []string{"Kubernetes"}}
	new := &config.Config{Vocabulary: []string{"Kubernetes", "PostgreSQL"}}

	d := config.Diff(old, new)
	if !d.VocabularyChanged {
		t.Error("expected VocabularyChanged=true")
	}
	if !slices.Equal(d.NewVocabulary, []string{"Kubernetes", "PostgreSQL"}) {
		t.Errorf("unexpected NewVocabulary: %v", d.NewVocabulary)
	}
}

func TestDiff_ProviderChangeRequiresRestart(t *testing.T) {
	t.Parallel()
	old := &config.Config{Providers: config.ProvidersConfig{
		Recognition: config.ProviderEntry{Name: "whisper", BaseURL: "http://a"},
	}}
	new := &config.Config{Providers: config.ProvidersConfig{
		Recognition: config.ProviderEntry{Name: "whisper", BaseURL: "http://b"},
	}}

	d := config.Diff(old, new)
	if d.HotApplicable() {
		t.Error("provider change should not be hot-applicable")
	}
	if !slices.Contains(d.RestartRequired, "providers.recognition") {
		t.Errorf("expected providers.recognition in restart list, got %v", d.RestartRequired)
	}
}

func TestDiff_ProviderOptionsCompared(t *testing.T) {
	t.Parallel()
	old := &config.Config{Providers: config.ProvidersConfig{
		Diarization: config.ProviderEntry{Name: "pyannote", Options: map[string]any{"min_speakers": 1}},
	}}
	new := &config.Config{Providers: config.ProvidersConfig{
		Diarization: config.ProviderEntry{Name: "pyannote", Options: map[string]any{"min_speakers": 2}},
	}}

	d := config.Diff(old, new)
	if !slices.Contains(d.RestartRequired, "providers.diarization") {
		t.Errorf("expected providers.diarization in restart list, got %v", d.RestartRequired)
	}
}

func TestDiff_ListenAddrAndChunkDuration(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Server:  config.ServerConfig{ListenAddr: ":8080"},
		Capture: config.CaptureConfig{ChunkDurationMS: 80},
	}
	new := &config.Config{
		Server:  config.ServerConfig{ListenAddr: ":9090"},
		Capture: config.CaptureConfig{ChunkDurationMS: 20},
	}

	d := config.Diff(old, new)
	for _, want := range []string{"server.listen_addr", "capture.chunk_duration_ms"} {
		if !slices.Contains(d.RestartRequired, want) {
			t.Errorf("expected %s in restart list, got %v", want, d.RestartRequired)
		}
	}
}

func TestDiff_MultipleChanges(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Server:     config.ServerConfig{LogLevel: config.LogInfo},
		Capture:    config.CaptureConfig{Mode: capture.ModeMicrophoneOnly},
		Vocabulary: []string{"etcd"},
	}
	new := &config.Config{
		Server:     config.ServerConfig{LogLevel: config.LogWarn},
		Capture:    config.CaptureConfig{Mode: capture.ModeMicrophoneAndSystem},
		Vocabulary: []string{"etcd", "gRPC"},
	}

	d := config.Diff(old, new)
	if !d.LogLevelChanged || !d.CaptureModeChanged || !d.VocabularyChanged {
		t.Errorf("expected all three hot-applicable changes, got %+v", d)
	}
	if !d.HotApplicable() {
		t.Error("expected HotApplicable=true")
	}
}
