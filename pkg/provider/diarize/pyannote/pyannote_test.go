package pyannote_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/soundline/hearsay/pkg/provider/diarize/pyannote"
)

type diarizeResponse struct {
	Segments []diarizeSegment `json:"segments"`
}

type diarizeSegment struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

func newMockServer(t *testing.T, resp diarizeResponse) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/health":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && r.URL.Path == "/diarize":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(resp)
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	}))
}

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	_, err := pyannote.New("")
	if err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestProcess_ParsesIntervals(t *testing.T) {
	srv := newMockServer(t, diarizeResponse{
		Segments: []diarizeSegment{
			{Speaker: "SPEAKER_00", Start: 0.0, End: 1.0},
			{Speaker: "SPEAKER_01", Start: 2.8, End: 3.2},
		},
	})
	defer srv.Close()

	eng, err := pyannote.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if eng.Name() != "pyannote" {
		t.Errorf("Name() = %q, want %q", eng.Name(), "pyannote")
	}

	intervals, err := eng.Process(context.Background(), make([]float32, 16000))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(intervals) != 2 {
		t.Fatalf("expected 2 intervals, got %d", len(intervals))
	}
	if intervals[0].Speaker != "SPEAKER_00" || intervals[0].Start != 0.0 || intervals[0].End != 1.0 {
		t.Errorf("interval 0 = %+v, want SPEAKER_00 [0, 1]", intervals[0])
	}
	if intervals[1].Speaker != "SPEAKER_01" || intervals[1].Start != 2.8 || intervals[1].End != 3.2 {
		t.Errorf("interval 1 = %+v, want SPEAKER_01 [2.8, 3.2]", intervals[1])
	}
}

func TestProcess_UploadsWAVAndSpeakerHints(t *testing.T) {
	var fileHeader []byte
	var minSpeakers, maxSpeakers string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(16 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		minSpeakers = r.FormValue("min_speakers")
		maxSpeakers = r.FormValue("max_speakers")
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		fileHeader = make([]byte, 4)
		_, _ = f.Read(fileHeader)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(diarizeResponse{})
	}))
	defer srv.Close()

	eng, _ := pyannote.New(srv.URL, pyannote.WithMinSpeakers(1), pyannote.WithMaxSpeakers(4))
	if _, err := eng.Process(context.Background(), make([]float32, 160)); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if !bytes.Equal(fileHeader, []byte("RIFF")) {
		t.Errorf("uploaded file does not start with RIFF header: %q", fileHeader)
	}
	if minSpeakers != "1" {
		t.Errorf("min_speakers = %q, want %q", minSpeakers, "1")
	}
	if maxSpeakers != "4" {
		t.Errorf("max_speakers = %q, want %q", maxSpeakers, "4")
	}
}

func TestProcess_ServerError_ReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "pipeline not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	eng, _ := pyannote.New(srv.URL)
	if _, err := eng.Process(context.Background(), make([]float32, 160)); err == nil {
		t.Fatal("expected error for HTTP 503, got nil")
	}
}

func TestPing(t *testing.T) {
	srv := newMockServer(t, diarizeResponse{})
	defer srv.Close()

	eng, _ := pyannote.New(srv.URL)
	if err := eng.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	srv.Close()
	if err := eng.Ping(context.Background()); err == nil {
		t.Fatal("expected error after server shutdown, got nil")
	}
}
