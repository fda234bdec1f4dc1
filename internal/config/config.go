// Package config provides the configuration schema, loader, and provider
// registry for the Hearsay recording pipeline.
package config

import (
	"log/slog"
	"time"

	"github.com/soundline/hearsay/pkg/audio/capture"
)

// LogLevel controls log verbosity for the Hearsay process.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to the corresponding slog level. Unknown values map to Info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for Hearsay.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig    `yaml:"server"`
	Capture    CaptureConfig   `yaml:"capture"`
	Providers  ProvidersConfig `yaml:"providers"`
	Segmenter  SegmenterConfig `yaml:"segmenter"`
	Vocabulary []string        `yaml:"vocabulary"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address for the health and metrics endpoints
	// (e.g., ":8080"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// CaptureConfig holds capture engine settings.
type CaptureConfig struct {
	// Mode selects which sources a session records. Defaults to
	// microphone_only when empty.
	Mode capture.Mode `yaml:"mode"`

	// ChunkDurationMS is the emitted chunk length in milliseconds.
	// 0 keeps the engine default (80 ms).
	ChunkDurationMS int `yaml:"chunk_duration_ms"`
}

// ChunkDuration returns the configured chunk length, or 0 when unset.
func (c CaptureConfig) ChunkDuration() time.Duration {
	return time.Duration(c.ChunkDurationMS) * time.Millisecond
}

// ProvidersConfig declares which implementation to use for each pipeline
// stage. Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	// Recognition is the speech recognition engine. Required for sessions
	// to produce transcripts.
	Recognition ProviderEntry `yaml:"recognition"`

	// RecognitionFallback optionally names a second recognition engine
	// tried when the primary fails.
	RecognitionFallback ProviderEntry `yaml:"recognition_fallback"`

	// Diarization is the speaker diarization engine. Optional; without it
	// transcripts carry no speaker labels.
	Diarization ProviderEntry `yaml:"diarization"`

	// Capture selects the hardware capture backend (e.g., "pulse").
	Capture ProviderEntry `yaml:"capture"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered implementation (e.g., "whisper-native",
	// "pyannote", "pulse").
	Name string `yaml:"name"`

	// BaseURL overrides the provider's default endpoint, for HTTP-backed
	// providers. Required by "whisper" and "pyannote".
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., a
	// whisper.cpp model file path for "whisper-native").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above (e.g. "language", "source_id", "sink_id").
	Options map[string]any `yaml:"options"`
}

// SegmenterConfig holds the transcript segmentation tunables.
type SegmenterConfig struct {
	// GapThresholdMS is the silence gap, in milliseconds, that splits two
	// words into separate segments. 0 keeps the default (1400 ms).
	GapThresholdMS int `yaml:"gap_threshold_ms"`

	// MinSegmentMS is the minimum emitted segment duration in
	// milliseconds. 0 keeps the default (80 ms).
	MinSegmentMS int `yaml:"min_segment_ms"`
}

// GapThreshold returns the configured gap threshold, or 0 when unset.
func (s SegmenterConfig) GapThreshold() time.Duration {
	return time.Duration(s.GapThresholdMS) * time.Millisecond
}

// MinSegment returns the configured minimum segment duration, or 0 when
// unset.
func (s SegmenterConfig) MinSegment() time.Duration {
	return time.Duration(s.MinSegmentMS) * time.Millisecond
}
