// Package pyannote provides a diarization engine backed by a pyannote.audio
// sidecar server.
//
// The sidecar wraps a pyannote speaker-diarization pipeline behind a small
// REST API: POST /diarize accepts a WAV upload and returns the speaker
// intervals as JSON. Because pipeline inference is GPU-bound and slow to
// warm up, the sidecar is long-lived and this package is a thin HTTP client
// around it.
//
// Usage:
//
//	eng, err := pyannote.New("http://localhost:9090")
//	intervals, err := eng.Process(ctx, samples)
package pyannote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/soundline/hearsay/pkg/audio"
	"github.com/soundline/hearsay/pkg/provider/diarize"
)

// defaultTimeout bounds a single diarization request. Whole-session audio
// through a CPU-only pipeline can take tens of seconds.
const defaultTimeout = 3 * time.Minute

// Compile-time assertion that Engine implements diarize.Engine.
var _ diarize.Engine = (*Engine)(nil)

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithHTTPClient replaces the default HTTP client. Useful for tests and for
// callers that need custom transport settings.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Engine) {
		if client != nil {
			e.httpClient = client
		}
	}
}

// WithMinSpeakers hints the expected lower bound on distinct speakers.
// Zero (the default) lets the pipeline decide.
func WithMinSpeakers(n int) Option {
	return func(e *Engine) {
		e.minSpeakers = n
	}
}

// WithMaxSpeakers hints the expected upper bound on distinct speakers.
// Zero (the default) lets the pipeline decide.
func WithMaxSpeakers(n int) Option {
	return func(e *Engine) {
		e.maxSpeakers = n
	}
}

// Engine implements diarize.Engine backed by a pyannote sidecar server.
// It is safe for concurrent use; each Process call is an independent request.
type Engine struct {
	serverURL   string
	minSpeakers int
	maxSpeakers int
	httpClient  *http.Client
}

// New creates an Engine that connects to the pyannote sidecar at serverURL
// (e.g., "http://localhost:9090"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Engine, error) {
	if serverURL == "" {
		return nil, errors.New("pyannote: serverURL must not be empty")
	}
	e := &Engine{
		serverURL:  serverURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Name returns "pyannote".
func (e *Engine) Name() string { return "pyannote" }

// Ping checks that the sidecar is reachable and ready. Used by readiness
// probes; a failure here should be treated as "diarization unavailable",
// not as a fatal condition.
func (e *Engine) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.serverURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("pyannote: create request: %w", err)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pyannote: http request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pyannote: server returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// Process encodes the samples as WAV and POSTs them to the sidecar's
// /diarize endpoint as multipart/form-data. It returns the speaker intervals
// in the order the sidecar reported them.
func (e *Engine) Process(ctx context.Context, samples []float32) ([]diarize.SpeakerInterval, error) {
	wav := audio.EncodeWAV(audio.Float32ToPCM(samples), audio.CanonicalSampleRate, audio.CanonicalChannels)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("pyannote: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, fmt.Errorf("pyannote: write wav data: %w", err)
	}

	if e.minSpeakers > 0 {
		if err := mw.WriteField("min_speakers", fmt.Sprintf("%d", e.minSpeakers)); err != nil {
			return nil, fmt.Errorf("pyannote: write min_speakers field: %w", err)
		}
	}
	if e.maxSpeakers > 0 {
		if err := mw.WriteField("max_speakers", fmt.Sprintf("%d", e.maxSpeakers)); err != nil {
			return nil, fmt.Errorf("pyannote: write max_speakers field: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("pyannote: close multipart writer: %w", err)
	}

	endpoint := e.serverURL + "/diarize"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("pyannote: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pyannote: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pyannote: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("pyannote: read response body: %w", err)
	}

	var result struct {
		Segments []struct {
			Speaker string  `json:"speaker"`
			Start   float64 `json:"start"`
			End     float64 `json:"end"`
		} `json:"segments"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("pyannote: parse JSON response: %w", err)
	}

	intervals := make([]diarize.SpeakerInterval, 0, len(result.Segments))
	for _, s := range result.Segments {
		intervals = append(intervals, diarize.SpeakerInterval{
			Speaker: s.Speaker,
			Start:   s.Start,
			End:     s.End,
		})
	}
	return intervals, nil
}
