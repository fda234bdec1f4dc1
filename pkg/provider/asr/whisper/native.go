// This file contains the NativeEngine implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/soundline/hearsay/pkg/provider/asr"
)

// Compile-time assertion that NativeEngine satisfies asr.Engine.
var _ asr.Engine = (*NativeEngine)(nil)

// NativeEngine implements asr.Engine using whisper.cpp Go bindings (CGO),
// eliminating HTTP overhead entirely. The model is loaded once at startup;
// inference calls are serialised because whisper contexts are not reentrant.
type NativeEngine struct {
	model    whisperlib.Model
	language string
	threads  uint

	mu sync.Mutex
}

// NativeOption is a functional option for configuring a NativeEngine.
type NativeOption func(*NativeEngine)

// WithNativeLanguage sets the BCP-47 language code for transcription
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(e *NativeEngine) { e.language = lang }
}

// WithNativeThreads sets the number of CPU threads whisper.cpp may use per
// inference. Zero leaves the library default in place.
func WithNativeThreads(n uint) NativeOption {
	return func(e *NativeEngine) { e.threads = n }
}

// NewNative creates a NativeEngine that loads the whisper.cpp model from the
// given file path. The model is loaded once and reused for every Transcribe
// call. The caller must call Close when the engine is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeEngine, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	e := &NativeEngine{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Name returns "whisper-native".
func (e *NativeEngine) Name() string { return "whisper-native" }

// Close releases the whisper model. Must be called when the engine is no
// longer needed.
func (e *NativeEngine) Close() error {
	if e.model != nil {
		return e.model.Close()
	}
	return nil
}

// Transcribe runs whisper.cpp inference over the samples using a fresh
// context and returns the recognised text with per-token timing.
func (e *NativeEngine) Transcribe(ctx context.Context, samples []float32) (*asr.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Each context is NOT thread-safe, but the model can be shared.
	wctx, err := e.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(e.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", e.language, "error", err)
	}
	wctx.SetTokenTimestamps(true)
	if e.threads > 0 {
		wctx.SetThreads(e.threads)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}

	var (
		parts  []string
		tokens []asr.TokenTiming
	)
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}

		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
		for _, tok := range segment.Tokens {
			// Skip special tokens ([_BEG_], timestamps, ...).
			if !wctx.IsText(tok) {
				continue
			}
			tokens = append(tokens, asr.TokenTiming{
				Text:       tok.Text,
				Start:      tok.Start.Seconds(),
				End:        tok.End.Seconds(),
				Confidence: float64(tok.P),
			})
		}
	}

	return &asr.Result{
		Provider: e.Name(),
		Text:     strings.Join(parts, " "),
		Tokens:   tokens,
	}, nil
}
