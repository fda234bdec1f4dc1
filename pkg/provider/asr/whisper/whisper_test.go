package whisper_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/soundline/hearsay/pkg/provider/asr/whisper"
)

// inferenceResponse mirrors the verbose_json shape returned by whisper-server.
type inferenceResponse struct {
	Text  string          `json:"text"`
	Words []inferenceWord `json:"words,omitempty"`
}

type inferenceWord struct {
	Word        string  `json:"word"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Probability float64 `json:"probability"`
}

// newMockServer creates a test server that responds to POST /inference with
// the provided response. It increments *callCount on every matched request.
func newMockServer(t *testing.T, resp inferenceResponse, callCount *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if callCount != nil {
			callCount.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	_, err := whisper.New("")
	if err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestNew_WithOptions_DoesNotError(t *testing.T) {
	eng, err := whisper.New("http://localhost:8080",
		whisper.WithModel("small"),
		whisper.WithLanguage("de"),
		whisper.WithHTTPClient(http.DefaultClient),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eng == nil {
		t.Fatal("expected non-nil Engine")
	}
	if eng.Name() != "whisper" {
		t.Errorf("Name() = %q, want %q", eng.Name(), "whisper")
	}
}

func TestTranscribe_ParsesTextAndWords(t *testing.T) {
	var calls atomic.Int32
	srv := newMockServer(t, inferenceResponse{
		Text: " hello there",
		Words: []inferenceWord{
			{Word: "hello", Start: 0.0, End: 0.4, Probability: 0.91},
			{Word: "there", Start: 0.5, End: 0.9, Probability: 0.88},
		},
	}, &calls)
	defer srv.Close()

	eng, err := whisper.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := eng.Transcribe(context.Background(), make([]float32, 16000))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 inference call, got %d", calls.Load())
	}
	if res.Provider != "whisper" {
		t.Errorf("Provider = %q, want %q", res.Provider, "whisper")
	}
	if res.Text != " hello there" {
		t.Errorf("Text = %q, want %q", res.Text, " hello there")
	}
	if len(res.Tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(res.Tokens))
	}
	// Trimmed word entries are given back their leading space.
	if res.Tokens[0].Text != " hello" {
		t.Errorf("token 0 text = %q, want %q", res.Tokens[0].Text, " hello")
	}
	if res.Tokens[1].Text != " there" {
		t.Errorf("token 1 text = %q, want %q", res.Tokens[1].Text, " there")
	}
	if res.Tokens[0].Start != 0.0 || res.Tokens[0].End != 0.4 {
		t.Errorf("token 0 timing = [%v, %v], want [0, 0.4]", res.Tokens[0].Start, res.Tokens[0].End)
	}
	if res.Tokens[1].Confidence != 0.88 {
		t.Errorf("token 1 confidence = %v, want 0.88", res.Tokens[1].Confidence)
	}
}

func TestTranscribe_NoWords_ReturnsTextOnly(t *testing.T) {
	srv := newMockServer(t, inferenceResponse{Text: "short clip"}, nil)
	defer srv.Close()

	eng, _ := whisper.New(srv.URL)
	res, err := eng.Transcribe(context.Background(), make([]float32, 1600))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "short clip" {
		t.Errorf("Text = %q, want %q", res.Text, "short clip")
	}
	if len(res.Tokens) != 0 {
		t.Errorf("expected no tokens, got %d", len(res.Tokens))
	}
}

func TestTranscribe_SendsExpectedFormFields(t *testing.T) {
	type seen struct {
		fileHeader     []byte
		responseFormat string
		language       string
		model          string
	}
	var got seen

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(16 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		got.responseFormat = r.FormValue("response_format")
		got.language = r.FormValue("language")
		got.model = r.FormValue("model")
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		got.fileHeader = make([]byte, 4)
		_, _ = f.Read(got.fileHeader)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(inferenceResponse{Text: "ok"})
	}))
	defer srv.Close()

	eng, _ := whisper.New(srv.URL, whisper.WithModel("base.en"), whisper.WithLanguage("de"))
	if _, err := eng.Transcribe(context.Background(), make([]float32, 160)); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if got.responseFormat != "verbose_json" {
		t.Errorf("response_format = %q, want %q", got.responseFormat, "verbose_json")
	}
	if got.language != "de" {
		t.Errorf("language = %q, want %q", got.language, "de")
	}
	if got.model != "base.en" {
		t.Errorf("model = %q, want %q", got.model, "base.en")
	}
	if !bytes.Equal(got.fileHeader, []byte("RIFF")) {
		t.Errorf("uploaded file does not start with RIFF header: %q", got.fileHeader)
	}
}

func TestTranscribe_ServerError_ReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	eng, _ := whisper.New(srv.URL)
	if _, err := eng.Transcribe(context.Background(), make([]float32, 160)); err == nil {
		t.Fatal("expected error for HTTP 500, got nil")
	}
}

func TestTranscribe_InvalidJSON_ReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	eng, _ := whisper.New(srv.URL)
	if _, err := eng.Transcribe(context.Background(), make([]float32, 160)); err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

func TestTranscribe_CancelledContext_ReturnsError(t *testing.T) {
	srv := newMockServer(t, inferenceResponse{Text: "ok"}, nil)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	eng, _ := whisper.New(srv.URL)
	if _, err := eng.Transcribe(ctx, make([]float32, 160)); err == nil {
		t.Fatal("expected error for cancelled context, got nil")
	}
}
