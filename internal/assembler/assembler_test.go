package assembler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/soundline/hearsay/internal/assembler"
	"github.com/soundline/hearsay/internal/observe"
	"github.com/soundline/hearsay/internal/vocab"
	"github.com/soundline/hearsay/pkg/audio"
	"github.com/soundline/hearsay/pkg/provider/asr"
	asrmock "github.com/soundline/hearsay/pkg/provider/asr/mock"
	"github.com/soundline/hearsay/pkg/provider/diarize"
	diarizemock "github.com/soundline/hearsay/pkg/provider/diarize/mock"
)

// testMetrics returns a Metrics instance isolated from the global provider.
func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// newAssembler builds an assembler around the given engines with defaults.
func newAssembler(t *testing.T, rec asr.Engine, dia diarize.Engine) *assembler.Assembler {
	t.Helper()
	a, err := assembler.New(assembler.Config{
		Recognizer: rec,
		Diarizer:   dia,
		Metrics:    testMetrics(t),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

// chunk wraps pcm bytes in a microphone chunk.
func chunk(pcm []byte) audio.Chunk {
	return audio.Chunk{Source: audio.SourceMicrophone, Data: pcm}
}

// ingestSilence starts a session and feeds n bytes of zeroed PCM.
func ingestSilence(t *testing.T, a *assembler.Assembler, id string, n int) {
	t.Helper()
	if err := a.StartSession(id); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	a.IngestAudio(chunk(make([]byte, n)))
}

// twoSpeakerTokens models one speaker saying "hello there", two seconds of
// silence, then a second speaker saying "yes".
func twoSpeakerTokens() []asr.TokenTiming {
	return []asr.TokenTiming{
		{Text: " hello", Start: 0.0, End: 0.4, Confidence: 0.9},
		{Text: " there", Start: 0.5, End: 0.9, Confidence: 0.8},
		{Text: " yes", Start: 2.9, End: 3.1, Confidence: 0.95},
	}
}

func TestStopSession_TwoSpeakerAttribution(t *testing.T) {
	t.Parallel()

	rec := &asrmock.Engine{Result: &asr.Result{
		Provider: "mock",
		Text:     "hello there yes",
		Tokens:   twoSpeakerTokens(),
	}}
	dia := &diarizemock.Engine{Intervals: []diarize.SpeakerInterval{
		{Speaker: "SPEAKER_00", Start: 0.0, End: 1.0},
		{Speaker: "SPEAKER_01", Start: 2.8, End: 3.2},
	}}
	a := newAssembler(t, rec, dia)
	ingestSilence(t, a, "sess-1", 102400) // 3.2 s at 16 kHz mono

	tr, err := a.StopSession(context.Background())
	if err != nil {
		t.Fatalf("StopSession: %v", err)
	}
	if tr.Warning != "" {
		t.Errorf("unexpected warning %q", tr.Warning)
	}
	if len(tr.Segments) != 2 {
		t.Fatalf("segment count = %d, want 2", len(tr.Segments))
	}

	first, second := tr.Segments[0], tr.Segments[1]
	if first.Speaker != "S1" || first.Text != "hello there" {
		t.Errorf("first segment = %q/%q, want S1/%q", first.Speaker, first.Text, "hello there")
	}
	if first.StartMS != 0 || first.EndMS != 900 {
		t.Errorf("first segment span = %d-%d, want 0-900", first.StartMS, first.EndMS)
	}
	if second.Speaker != "S2" || second.Text != "yes" {
		t.Errorf("second segment = %q/%q, want S2/%q", second.Speaker, second.Text, "yes")
	}
	if second.StartMS != 2900 || second.EndMS != 3100 {
		t.Errorf("second segment span = %d-%d, want 2900-3100", second.StartMS, second.EndMS)
	}
	for i, seg := range tr.Segments {
		if seg.SessionID != "sess-1" {
			t.Errorf("segment %d session = %q, want sess-1", i, seg.SessionID)
		}
		if !seg.Final {
			t.Errorf("segment %d not final", i)
		}
		if seg.ID == "" {
			t.Errorf("segment %d has empty id", i)
		}
	}
}

func TestStopSession_DiarizationFailureDegrades(t *testing.T) {
	t.Parallel()

	rec := &asrmock.Engine{Result: &asr.Result{
		Provider: "mock",
		Text:     "hello there yes",
		Tokens:   twoSpeakerTokens(),
	}}
	dia := &diarizemock.Engine{ProcessErr: errors.New("sidecar unreachable")}
	a := newAssembler(t, rec, dia)
	ingestSilence(t, a, "sess-2", 102400)

	tr, err := a.StopSession(context.Background())
	if err != nil {
		t.Fatalf("StopSession must survive diarization failure: %v", err)
	}
	if tr.Warning == "" {
		t.Error("expected a non-empty warning after diarization failure")
	}
	// The 2.0 s gap exceeds the 1.4 s threshold, so the words split into
	// two segments even without speakers.
	if len(tr.Segments) != 2 {
		t.Fatalf("segment count = %d, want 2", len(tr.Segments))
	}
	for i, seg := range tr.Segments {
		if seg.Speaker != "" {
			t.Errorf("segment %d speaker = %q, want unattributed", i, seg.Speaker)
		}
	}
}

func TestStopSession_ZeroIntervalsMeansNoSpeakers(t *testing.T) {
	t.Parallel()

	rec := &asrmock.Engine{Result: &asr.Result{
		Provider: "mock",
		Text:     "hello there yes",
		Tokens:   twoSpeakerTokens(),
	}}
	failing := &diarizemock.Engine{ProcessErr: errors.New("boom")}
	empty := &diarizemock.Engine{}

	run := func(dia diarize.Engine, id string) *assembler.Transcript {
		a := newAssembler(t, rec, dia)
		ingestSilence(t, a, id, 102400)
		tr, err := a.StopSession(context.Background())
		if err != nil {
			t.Fatalf("StopSession(%s): %v", id, err)
		}
		return tr
	}

	withEmpty := run(empty, "sess-empty")
	withError := run(failing, "sess-error")

	for i, seg := range withEmpty.Segments {
		if seg.Speaker != "" {
			t.Errorf("zero-interval segment %d speaker = %q, want empty", i, seg.Speaker)
		}
	}

	// A failed diarization pass yields segments identical (modulo ids) to
	// the diarization-absent case.
	if len(withEmpty.Segments) != len(withError.Segments) {
		t.Fatalf("segment counts differ: %d vs %d", len(withEmpty.Segments), len(withError.Segments))
	}
	for i := range withEmpty.Segments {
		a, b := withEmpty.Segments[i], withError.Segments[i]
		if a.Text != b.Text || a.StartMS != b.StartMS || a.EndMS != b.EndMS || a.Speaker != b.Speaker {
			t.Errorf("segment %d differs: %+v vs %+v", i, a, b)
		}
	}
}

func TestStopSession_SynthesizedSegmentWithoutTimings(t *testing.T) {
	t.Parallel()

	rec := &asrmock.Engine{Result: &asr.Result{Provider: "mock", Text: "short clip"}}
	a := newAssembler(t, rec, nil)
	ingestSilence(t, a, "sess-3", 3200)

	tr, err := a.StopSession(context.Background())
	if err != nil {
		t.Fatalf("StopSession: %v", err)
	}
	if len(tr.Segments) != 1 {
		t.Fatalf("segment count = %d, want 1", len(tr.Segments))
	}
	seg := tr.Segments[0]
	if seg.StartMS != 0 {
		t.Errorf("start = %d, want 0", seg.StartMS)
	}
	// "short clip" is 10 runes at 60 ms each.
	if seg.EndMS != 600 {
		t.Errorf("end = %d, want 600", seg.EndMS)
	}
	if seg.Text != "short clip" {
		t.Errorf("text = %q, want %q", seg.Text, "short clip")
	}
}

func TestStopSession_GapThresholdBoundary(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		secondAt float64
		want     int
	}{
		// The second word starts exactly gap seconds after the first ends.
		{"exact threshold merges", 0.4 + 1.4, 1},
		{"threshold plus epsilon splits", 0.4 + 1.4 + 0.001, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := &asrmock.Engine{Result: &asr.Result{
				Provider: "mock",
				Text:     "one two",
				Tokens: []asr.TokenTiming{
					{Text: " one", Start: 0.0, End: 0.4, Confidence: 0.9},
					{Text: " two", Start: tc.secondAt, End: tc.secondAt + 0.3, Confidence: 0.9},
				},
			}}
			a := newAssembler(t, rec, nil)
			ingestSilence(t, a, "sess-gap", 3200)

			tr, err := a.StopSession(context.Background())
			if err != nil {
				t.Fatalf("StopSession: %v", err)
			}
			if len(tr.Segments) != tc.want {
				t.Errorf("segment count = %d, want %d", len(tr.Segments), tc.want)
			}
		})
	}
}

func TestStopSession_SegmentsSortedAndNonOverlapping(t *testing.T) {
	t.Parallel()

	rec := &asrmock.Engine{Result: &asr.Result{
		Provider: "mock",
		Text:     "a b c d",
		Tokens: []asr.TokenTiming{
			{Text: " a", Start: 0.0, End: 0.2, Confidence: 0.9},
			{Text: " b", Start: 2.0, End: 2.2, Confidence: 0.9},
			{Text: " c", Start: 4.0, End: 4.2, Confidence: 0.9},
			{Text: " d", Start: 6.0, End: 6.2, Confidence: 0.9},
		},
	}}
	// Intervals deliberately unsorted; the assembler must tolerate that.
	dia := &diarizemock.Engine{Intervals: []diarize.SpeakerInterval{
		{Speaker: "B", Start: 3.5, End: 7.0},
		{Speaker: "A", Start: 0.0, End: 3.0},
	}}
	a := newAssembler(t, rec, dia)
	ingestSilence(t, a, "sess-4", 224000)

	tr, err := a.StopSession(context.Background())
	if err != nil {
		t.Fatalf("StopSession: %v", err)
	}
	for i := 1; i < len(tr.Segments); i++ {
		prev, cur := tr.Segments[i-1], tr.Segments[i]
		if cur.StartMS < prev.StartMS {
			t.Errorf("segments out of order: %d before %d", prev.StartMS, cur.StartMS)
		}
		if cur.StartMS < prev.EndMS {
			t.Errorf("segments overlap: [%d,%d] then [%d,%d]",
				prev.StartMS, prev.EndMS, cur.StartMS, cur.EndMS)
		}
	}
	// First-seen order: interval A covers the earliest word.
	if tr.Segments[0].Speaker != "S1" {
		t.Errorf("first speaker = %q, want S1", tr.Segments[0].Speaker)
	}
}

func TestStopSession_OverlapRuleWhenMidpointAmbiguous(t *testing.T) {
	t.Parallel()

	rec := &asrmock.Engine{Result: &asr.Result{
		Provider: "mock",
		Text:     "word",
		Tokens: []asr.TokenTiming{
			// Midpoint 1.0 sits inside both intervals; the overlap rule
			// must pick the wider cover.
			{Text: " word", Start: 0.8, End: 1.2, Confidence: 0.9},
		},
	}}
	dia := &diarizemock.Engine{Intervals: []diarize.SpeakerInterval{
		{Speaker: "A", Start: 0.0, End: 1.05},
		{Speaker: "B", Start: 0.95, End: 2.0},
	}}
	a := newAssembler(t, rec, dia)
	ingestSilence(t, a, "sess-5", 64000)

	tr, err := a.StopSession(context.Background())
	if err != nil {
		t.Fatalf("StopSession: %v", err)
	}
	if len(tr.Segments) != 1 {
		t.Fatalf("segment count = %d, want 1", len(tr.Segments))
	}
	// A covers [0.8,1.05] and B covers [0.95,1.2]: both overlap 0.25 s, so
	// the earlier interval wins the tie.
	if got := tr.Segments[0].Speaker; got != "S1" {
		t.Errorf("speaker = %q, want S1 (first interval by start)", got)
	}
}

func TestStopSession_MinimumSegmentPadding(t *testing.T) {
	t.Parallel()

	rec := &asrmock.Engine{Result: &asr.Result{
		Provider: "mock",
		Text:     "hm",
		Tokens: []asr.TokenTiming{
			{Text: " hm", Start: 1.0, End: 1.02, Confidence: 0.9},
		},
	}}
	a := newAssembler(t, rec, nil)
	ingestSilence(t, a, "sess-6", 64000)

	tr, err := a.StopSession(context.Background())
	if err != nil {
		t.Fatalf("StopSession: %v", err)
	}
	seg := tr.Segments[0]
	if seg.EndMS-seg.StartMS < 80 {
		t.Errorf("segment duration = %dms, want >= 80ms", seg.EndMS-seg.StartMS)
	}
	if seg.StartMS != 1000 || seg.EndMS != 1080 {
		t.Errorf("segment span = %d-%d, want 1000-1080", seg.StartMS, seg.EndMS)
	}
}

func TestStopSession_RecognitionFailurePropagates(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("model crashed")
	rec := &asrmock.Engine{TranscribeErr: sentinel}
	a := newAssembler(t, rec, nil)
	ingestSilence(t, a, "sess-7", 3200)

	_, err := a.StopSession(context.Background())
	if !errors.Is(err, sentinel) {
		t.Fatalf("StopSession error = %v, want wrapped %v", err, sentinel)
	}

	// Session state is cleared even on failure.
	if err := a.StartSession("sess-8"); err != nil {
		t.Errorf("StartSession after failed stop: %v", err)
	}
}

func TestStopSession_EmptyTranscript(t *testing.T) {
	t.Parallel()

	rec := &asrmock.Engine{Result: &asr.Result{Provider: "mock", Text: "   \n "}}
	a := newAssembler(t, rec, nil)
	ingestSilence(t, a, "sess-9", 3200)

	_, err := a.StopSession(context.Background())
	if !errors.Is(err, assembler.ErrEmptyTranscript) {
		t.Fatalf("StopSession error = %v, want ErrEmptyTranscript", err)
	}
}

func TestSessionLifecycleErrors(t *testing.T) {
	t.Parallel()

	a := newAssembler(t, &asrmock.Engine{}, nil)

	if _, err := a.StopSession(context.Background()); !errors.Is(err, assembler.ErrNoActiveSession) {
		t.Errorf("StopSession without start = %v, want ErrNoActiveSession", err)
	}

	if err := a.StartSession("s1"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := a.StartSession("s2"); !errors.Is(err, assembler.ErrSessionActive) {
		t.Errorf("second StartSession = %v, want ErrSessionActive", err)
	}

	if _, err := a.StopSession(context.Background()); !errors.Is(err, assembler.ErrEmptyCapture) {
		t.Errorf("StopSession with no audio = %v, want ErrEmptyCapture", err)
	}
}

func TestIngestAudio_ByteConservation(t *testing.T) {
	t.Parallel()

	a := newAssembler(t, &asrmock.Engine{}, nil)

	// Ingestion outside a session is silently dropped.
	a.IngestAudio(chunk(make([]byte, 512)))
	if got := a.Buffered(); got != 0 {
		t.Fatalf("Buffered before session = %d, want 0", got)
	}

	if err := a.StartSession("sess-bytes"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	sizes := []int{2560, 1, 0, 2560, 777}
	total := int64(0)
	for _, n := range sizes {
		a.IngestAudio(chunk(make([]byte, n)))
		total += int64(n)
	}
	if got := a.Buffered(); got != total {
		t.Errorf("Buffered = %d, want %d (no loss, no duplication)", got, total)
	}
}

func TestStopSession_BucketingIsDeterministic(t *testing.T) {
	t.Parallel()

	boundaries := func(id string) [][2]int64 {
		rec := &asrmock.Engine{Result: &asr.Result{
			Provider: "mock",
			Text:     "hello there yes",
			Tokens:   twoSpeakerTokens(),
		}}
		a := newAssembler(t, rec, nil)
		ingestSilence(t, a, id, 102400)
		tr, err := a.StopSession(context.Background())
		if err != nil {
			t.Fatalf("StopSession(%s): %v", id, err)
		}
		out := make([][2]int64, len(tr.Segments))
		for i, s := range tr.Segments {
			out[i] = [2]int64{s.StartMS, s.EndMS}
		}
		return out
	}

	first := boundaries("run-1")
	second := boundaries("run-2")
	if len(first) != len(second) {
		t.Fatalf("boundary counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("boundary %d differs: %v vs %v", i, first[i], second[i])
		}
	}
}

func TestStopSession_VocabularyCorrection(t *testing.T) {
	t.Parallel()

	rec := &asrmock.Engine{Result: &asr.Result{
		Provider: "mock",
		Text:     "kubernetis rocks",
		Tokens: []asr.TokenTiming{
			{Text: " kubernetis", Start: 0.0, End: 0.5, Confidence: 0.7},
			{Text: " rocks", Start: 0.6, End: 0.9, Confidence: 0.9},
		},
	}}
	a, err := assembler.New(assembler.Config{
		Recognizer: rec,
		Corrector:  vocab.New([]string{"Kubernetes"}),
		Metrics:    testMetrics(t),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ingestSilence(t, a, "sess-vocab", 32000)

	tr, err := a.StopSession(context.Background())
	if err != nil {
		t.Fatalf("StopSession: %v", err)
	}
	if got := tr.Segments[0].Text; got != "Kubernetes rocks" {
		t.Errorf("text = %q, want %q", got, "Kubernetes rocks")
	}
}

// blockingEngine is an asr.Engine whose Transcribe call parks until released,
// so tests can observe the assembler mid-reconciliation.
type blockingEngine struct {
	entered chan struct{}
	release chan struct{}
}

func (e *blockingEngine) Name() string { return "blocking" }

func (e *blockingEngine) Transcribe(_ context.Context, _ []float32) (*asr.Result, error) {
	close(e.entered)
	<-e.release
	return &asr.Result{
		Provider: "blocking",
		Text:     "ok",
		Tokens:   []asr.TokenTiming{{Text: " ok", Start: 0, End: 0.3, Confidence: 0.9}},
	}, nil
}

func TestStopSession_BufferSwapAllowsImmediateRestart(t *testing.T) {
	t.Parallel()

	eng := &blockingEngine{entered: make(chan struct{}), release: make(chan struct{})}
	a := newAssembler(t, eng, nil)
	ingestSilence(t, a, "sess-a", 3200)

	done := make(chan *assembler.Transcript, 1)
	go func() {
		tr, err := a.StopSession(context.Background())
		if err != nil {
			t.Errorf("StopSession: %v", err)
		}
		done <- tr
	}()

	select {
	case <-eng.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("recognition never started")
	}

	// The buffer swap happened before recognition began, so a new session
	// can start while the previous reconciliation is still running, and its
	// fresh buffer must not leak into the finished transcript.
	if err := a.StartSession("sess-b"); err != nil {
		t.Fatalf("StartSession during reconciliation: %v", err)
	}
	a.IngestAudio(chunk(make([]byte, 640)))
	close(eng.release)

	tr := <-done
	if tr.SessionID != "sess-a" {
		t.Errorf("transcript session = %q, want sess-a", tr.SessionID)
	}
	if got := a.Buffered(); got != 640 {
		t.Errorf("new session buffered = %d, want 640", got)
	}
}
