package config

import (
	"fmt"
	"slices"

	"github.com/soundline/hearsay/pkg/audio/capture"
)

// ConfigDiff describes what changed between two configs.
// Fields that can be safely hot-reloaded are tracked individually; everything
// else lands in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	CaptureModeChanged bool
	NewCaptureMode     capture.Mode

	SegmenterChanged  bool
	NewSegmenter      SegmenterConfig
	VocabularyChanged bool
	NewVocabulary     []string

	// RestartRequired lists config paths whose new values cannot be applied
	// to a running process.
	RestartRequired []string
}

// HotApplicable reports whether d contains any change that can be applied
// without a restart.
func (d ConfigDiff) HotApplicable() bool {
	return d.LogLevelChanged || d.CaptureModeChanged || d.SegmenterChanged || d.VocabularyChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Capture.Mode != new.Capture.Mode {
		d.CaptureModeChanged = true
		d.NewCaptureMode = new.Capture.Mode
	}

	if old.Segmenter != new.Segmenter {
		d.SegmenterChanged = true
		d.NewSegmenter = new.Segmenter
	}

	if !slices.Equal(old.Vocabulary, new.Vocabulary) {
		d.VocabularyChanged = true
		d.NewVocabulary = slices.Clone(new.Vocabulary)
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Capture.ChunkDurationMS != new.Capture.ChunkDurationMS {
		d.RestartRequired = append(d.RestartRequired, "capture.chunk_duration_ms")
	}
	for _, p := range []struct {
		path     string
		old, new ProviderEntry
	}{
		{"providers.recognition", old.Providers.Recognition, new.Providers.Recognition},
		{"providers.recognition_fallback", old.Providers.RecognitionFallback, new.Providers.RecognitionFallback},
		{"providers.diarization", old.Providers.Diarization, new.Providers.Diarization},
		{"providers.capture", old.Providers.Capture, new.Providers.Capture},
	} {
		if !entriesEqual(p.old, p.new) {
			d.RestartRequired = append(d.RestartRequired, p.path)
		}
	}

	return d
}

// entriesEqual compares two provider entries including their option maps.
// Option values are compared by their formatted representation since YAML
// decodes them as any.
func entriesEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, av := range a.Options {
		bv, ok := b.Options[k]
		if !ok || fmt.Sprint(av) != fmt.Sprint(bv) {
			return false
		}
	}
	return true
}
