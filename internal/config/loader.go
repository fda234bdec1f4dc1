package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"recognition": {"whisper", "whisper-native", "mock"},
	"diarization": {"pyannote"},
	"capture":     {"pulse"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Capture
	if cfg.Capture.Mode != "" && !cfg.Capture.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("capture.mode %q is invalid; valid values: microphone_only, microphone_and_system", cfg.Capture.Mode))
	}
	if d := cfg.Capture.ChunkDurationMS; d != 0 && (d < 10 || d > 1000) {
		errs = append(errs, fmt.Errorf("capture.chunk_duration_ms %d is out of range [10, 1000]", d))
	}

	// Segmenter
	if g := cfg.Segmenter.GapThresholdMS; g < 0 {
		errs = append(errs, fmt.Errorf("segmenter.gap_threshold_ms %d must not be negative", g))
	}
	if m := cfg.Segmenter.MinSegmentMS; m < 0 {
		errs = append(errs, fmt.Errorf("segmenter.min_segment_ms %d must not be negative", m))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("recognition", cfg.Providers.Recognition.Name)
	validateProviderName("recognition", cfg.Providers.RecognitionFallback.Name)
	validateProviderName("diarization", cfg.Providers.Diarization.Name)
	validateProviderName("capture", cfg.Providers.Capture.Name)

	// Provider availability warnings
	if cfg.Providers.Recognition.Name == "" {
		slog.Warn("no recognition provider configured; sessions cannot produce transcripts")
	}
	if cfg.Providers.RecognitionFallback.Name != "" && cfg.Providers.Recognition.Name == "" {
		errs = append(errs, errors.New("providers.recognition_fallback is set but providers.recognition is not"))
	}

	// Endpoint requirements for HTTP-backed providers
	for _, p := range []struct {
		path  string
		entry ProviderEntry
	}{
		{"providers.recognition", cfg.Providers.Recognition},
		{"providers.recognition_fallback", cfg.Providers.RecognitionFallback},
		{"providers.diarization", cfg.Providers.Diarization},
	} {
		switch p.entry.Name {
		case "whisper", "pyannote":
			if p.entry.BaseURL == "" {
				errs = append(errs, fmt.Errorf("%s.base_url is required for provider %q", p.path, p.entry.Name))
			}
		case "whisper-native":
			if p.entry.Model == "" {
				errs = append(errs, fmt.Errorf("%s.model is required for provider %q", p.path, p.entry.Name))
			}
		}
	}

	// Vocabulary
	seen := make(map[string]int, len(cfg.Vocabulary))
	for i, term := range cfg.Vocabulary {
		if strings.TrimSpace(term) == "" {
			errs = append(errs, fmt.Errorf("vocabulary[%d] is blank", i))
			continue
		}
		if prev, ok := seen[term]; ok {
			errs = append(errs, fmt.Errorf("vocabulary[%d] %q is a duplicate of vocabulary[%d]", i, term, prev))
		}
		seen[term] = i
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
