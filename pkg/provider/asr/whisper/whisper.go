// Package whisper provides whisper.cpp-backed speech recognition engines.
//
// Two implementations are available. Engine connects to a running
// whisper-server binary (which exposes a REST API at POST /inference) and
// submits the session audio as a single batch inference request. NativeEngine
// links whisper.cpp directly via CGO and runs inference in-process, loading
// the model once at startup.
//
// Both request word-level timestamps so that downstream consumers can
// reassemble words and attribute them to speakers.
//
// Usage:
//
//	eng, err := whisper.New("http://localhost:8080",
//	    whisper.WithLanguage("en"),
//	)
//	res, err := eng.Transcribe(ctx, samples)
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/soundline/hearsay/pkg/audio"
	"github.com/soundline/hearsay/pkg/provider/asr"
)

const (
	defaultLanguage = "en"

	// defaultTimeout bounds a single batch inference request. Whole-session
	// audio can take a while on CPU-only servers.
	defaultTimeout = 2 * time.Minute
)

// Compile-time assertion that Engine implements asr.Engine.
var _ asr.Engine = (*Engine)(nil)

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with — this is the default.
func WithModel(model string) Option {
	return func(e *Engine) {
		e.model = model
	}
}

// WithLanguage sets the BCP-47 language code sent to the whisper.cpp server
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(e *Engine) {
		e.language = lang
	}
}

// WithHTTPClient replaces the default HTTP client. Useful for tests and for
// callers that need custom transport settings.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Engine) {
		if client != nil {
			e.httpClient = client
		}
	}
}

// Engine implements asr.Engine backed by a local whisper.cpp HTTP server.
// It is safe for concurrent use; each Transcribe call is an independent
// request.
type Engine struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates an Engine that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
// Functional options may be provided to override defaults.
func New(serverURL string, opts ...Option) (*Engine, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	e := &Engine{
		serverURL:  serverURL,
		model:      "",
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Name returns "whisper".
func (e *Engine) Name() string { return "whisper" }

// Ping checks that the server is reachable. Used by readiness probes.
func (e *Engine) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.serverURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("whisper: create request: %w", err)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// Transcribe encodes the samples as WAV and POSTs them to the whisper.cpp
// /inference endpoint as multipart/form-data, requesting word-level timing
// detail. It returns the transcribed text and one TokenTiming per word.
func (e *Engine) Transcribe(ctx context.Context, samples []float32) (*asr.Result, error) {
	wav := audio.EncodeWAV(audio.Float32ToPCM(samples), audio.CanonicalSampleRate, audio.CanonicalChannels)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	// Primary audio field.
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, fmt.Errorf("whisper: write wav data: %w", err)
	}

	// Request per-word timing alongside the text.
	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return nil, fmt.Errorf("whisper: write response_format field: %w", err)
	}

	// Optional hint fields.
	if e.language != "" {
		if err := mw.WriteField("language", e.language); err != nil {
			return nil, fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if e.model != "" {
		if err := mw.WriteField("model", e.model); err != nil {
			return nil, fmt.Errorf("whisper: write model field: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	endpoint := e.serverURL + "/inference"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text  string `json:"text"`
		Words []struct {
			Word        string  `json:"word"`
			Start       float64 `json:"start"`
			End         float64 `json:"end"`
			Probability float64 `json:"probability"`
		} `json:"words"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	tokens := make([]asr.TokenTiming, 0, len(result.Words))
	for _, w := range result.Words {
		text := w.Word
		// The server reports trimmed word entries; restore the word
		// boundary marker expected by TokenTiming.
		if !strings.HasPrefix(text, " ") {
			text = " " + text
		}
		tokens = append(tokens, asr.TokenTiming{
			Text:       text,
			Start:      w.Start,
			End:        w.End,
			Confidence: w.Probability,
		})
	}

	return &asr.Result{
		Provider: e.Name(),
		Text:     result.Text,
		Tokens:   tokens,
	}, nil
}
