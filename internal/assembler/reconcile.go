package assembler

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/soundline/hearsay/pkg/audio"
	"github.com/soundline/hearsay/pkg/provider/asr"
	"github.com/soundline/hearsay/pkg/provider/diarize"
	"github.com/soundline/hearsay/pkg/transcript"
)

// word is the ephemeral unit between token merge and segmentation: one
// whitespace-delimited word with its timing, confidence, and (after
// attribution) its normalised speaker label.
type word struct {
	text       string
	start, end float64
	confidence float64
	speaker    string
}

// reconcile runs the full post-session pipeline: recognition, token-to-word
// merge, diarization, speaker attribution, and segmentation.
func (a *Assembler) reconcile(ctx context.Context, sessionID string, pcm []byte) (*Transcript, error) {
	samples := audio.PCMToFloat32(pcm)

	recStart := time.Now()
	res, err := a.recognizer.Transcribe(ctx, samples)
	a.metrics.RecognitionDuration.Record(ctx, time.Since(recStart).Seconds())
	if err != nil {
		a.metrics.RecordProviderError(ctx, a.recognizer.Name(), "recognition")
		return nil, fmt.Errorf("assembler: recognition: %w", err)
	}

	text := strings.TrimSpace(res.Text)
	if text == "" {
		return nil, fmt.Errorf("%w (session %s)", ErrEmptyTranscript, sessionID)
	}

	words := mergeTokens(res.Tokens)
	if a.corrector != nil {
		for i := range words {
			if corrected, changed := a.corrector.Correct(words[i].text); changed {
				words[i].text = corrected
			}
		}
	}

	warning := ""
	var intervals []diarize.SpeakerInterval
	if a.diarizer != nil {
		diaStart := time.Now()
		intervals, err = a.diarizer.Process(ctx, samples)
		a.metrics.DiarizationDuration.Record(ctx, time.Since(diaStart).Seconds())
		if err != nil {
			// Diarization failure must never fail the session; degrade to
			// unattributed segments.
			warning = fmt.Sprintf("speaker diarization failed, transcript has no speaker labels: %v", err)
			slog.Warn("assembler: diarization failed, continuing without speakers",
				"session_id", sessionID, "err", err)
			a.metrics.RecordProviderError(ctx, a.diarizer.Name(), "diarization")
			a.metrics.RecordWarning(ctx, "diarization")
			intervals = nil
		}
	}

	attributeSpeakers(words, usableIntervals(intervals))

	var segments []transcript.Segment
	if len(words) == 0 {
		// Degenerate recognition output: text but no token timings.
		// Synthesize a single segment with a duration estimated from the
		// text length at an assumed reading rate.
		segments = []transcript.Segment{a.synthesizeSegment(sessionID, res.Provider, text)}
	} else {
		segments = a.segmentWords(sessionID, res.Provider, words)
	}

	// Segments are produced in order by construction; the sort is asserted
	// as an output invariant rather than assumed.
	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].StartMS < segments[j].StartMS
	})

	a.metrics.RecordSegments(ctx, res.Provider, len(segments))
	slog.Info("assembler: transcript assembled",
		"session_id", sessionID,
		"provider", res.Provider,
		"segments", len(segments),
		"speakers", countSpeakers(segments),
	)

	return &Transcript{
		SessionID: sessionID,
		Segments:  segments,
		Provider:  res.Provider,
		Warning:   warning,
	}, nil
}

// mergeTokens merges adjacent token timings into whole words. A token whose
// text carries a leading whitespace or newline marker starts a new word;
// other tokens append to the current one. Each word takes its start and end
// from its first and last constituent token and the arithmetic mean of their
// confidences.
func mergeTokens(tokens []asr.TokenTiming) []word {
	var words []word
	var cur *word
	var confSum float64
	var confN int

	flush := func() {
		if cur == nil {
			return
		}
		cur.text = strings.TrimSpace(cur.text)
		if cur.text != "" {
			cur.confidence = defaultWordConfidence
			if confN > 0 {
				cur.confidence = confSum / float64(confN)
			}
			words = append(words, *cur)
		}
		cur = nil
		confSum, confN = 0, 0
	}

	for _, tok := range tokens {
		if tok.Text == "" {
			continue
		}
		if cur == nil || startsNewWord(tok.Text) {
			flush()
			cur = &word{text: tok.Text, start: tok.Start, end: tok.End}
		} else {
			cur.text += tok.Text
			cur.end = tok.End
		}
		if tok.Confidence > 0 {
			confSum += tok.Confidence
			confN++
		}
	}
	flush()
	return words
}

// startsNewWord reports whether a token's leading marker indicates a word
// boundary.
func startsNewWord(tokenText string) bool {
	r, _ := utf8.DecodeRuneInString(tokenText)
	return r == ' ' || r == '\n' || r == '\t' || r == '\r'
}

// usableIntervals drops intervals that carry no information (empty or
// inverted windows) and returns the rest sorted by start time.
func usableIntervals(intervals []diarize.SpeakerInterval) []diarize.SpeakerInterval {
	usable := make([]diarize.SpeakerInterval, 0, len(intervals))
	for _, iv := range intervals {
		if iv.End > iv.Start {
			usable = append(usable, iv)
		}
	}
	sort.SliceStable(usable, func(i, j int) bool {
		return usable[i].Start < usable[j].Start
	})
	return usable
}

// attributeSpeakers assigns each word a normalised speaker label.
//
// A word whose midpoint falls inside exactly one interval takes that
// interval's speaker. Otherwise the interval with the greatest positive
// overlap with the word's span wins. Words overlapping no interval stay
// unattributed. Raw diarization ids are remapped to "S1", "S2", ... in
// order of first appearance, scoped to this session.
func attributeSpeakers(words []word, intervals []diarize.SpeakerInterval) {
	if len(intervals) == 0 {
		return
	}
	labels := make(map[string]string)
	for i := range words {
		raw, ok := rawSpeakerFor(words[i].start, words[i].end, intervals)
		if !ok {
			continue
		}
		label, seen := labels[raw]
		if !seen {
			label = fmt.Sprintf("S%d", len(labels)+1)
			labels[raw] = label
		}
		words[i].speaker = label
	}
}

// rawSpeakerFor resolves the diarization speaker id for one word span.
func rawSpeakerFor(start, end float64, intervals []diarize.SpeakerInterval) (string, bool) {
	mid := (start + end) / 2

	containing := -1
	containCount := 0
	for i, iv := range intervals {
		if mid >= iv.Start && mid <= iv.End {
			containCount++
			containing = i
		}
	}
	if containCount == 1 {
		return intervals[containing].Speaker, true
	}

	// Midpoint ambiguous or outside every window: greatest overlap wins.
	best := -1
	bestOverlap := 0.0
	for i, iv := range intervals {
		overlap := math.Min(end, iv.End) - math.Max(start, iv.Start)
		if overlap > bestOverlap {
			bestOverlap = overlap
			best = i
		}
	}
	if best < 0 {
		return "", false
	}
	return intervals[best].Speaker, true
}

// segmentWords buckets words into transcript segments. A new bucket opens
// when the speaker label changes or the silence gap since the previous
// word's end exceeds the gap threshold; a gap of exactly the threshold
// still merges. The bucket's speaker carries over to the segment only when
// every word in the bucket shares it.
func (a *Assembler) segmentWords(sessionID, provider string, words []word) []transcript.Segment {
	gap := a.gapThreshold.Seconds()

	var segments []transcript.Segment
	var bucket []word
	for _, w := range words {
		if len(bucket) > 0 {
			prev := bucket[len(bucket)-1]
			if w.speaker != prev.speaker || w.start-prev.end > gap {
				if seg, ok := a.flushBucket(sessionID, provider, bucket); ok {
					segments = append(segments, seg)
				}
				bucket = bucket[:0]
			}
		}
		bucket = append(bucket, w)
	}
	if seg, ok := a.flushBucket(sessionID, provider, bucket); ok {
		segments = append(segments, seg)
	}
	return segments
}

// flushBucket joins a bucket's words into one segment. Empty results are
// discarded; the segment end is padded to the minimum segment duration.
func (a *Assembler) flushBucket(sessionID, provider string, bucket []word) (transcript.Segment, bool) {
	if len(bucket) == 0 {
		return transcript.Segment{}, false
	}

	parts := make([]string, 0, len(bucket))
	confSum := 0.0
	speaker := bucket[0].speaker
	for _, w := range bucket {
		parts = append(parts, w.text)
		confSum += w.confidence
		if w.speaker != speaker {
			speaker = ""
		}
	}
	text := strings.TrimSpace(strings.Join(parts, " "))
	if text == "" {
		return transcript.Segment{}, false
	}

	startMS := secondsToMS(bucket[0].start)
	endMS := secondsToMS(bucket[len(bucket)-1].end)
	if minEnd := startMS + a.minSegment.Milliseconds(); endMS < minEnd {
		endMS = minEnd
	}

	return transcript.Segment{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		StartMS:    startMS,
		EndMS:      endMS,
		Text:       text,
		Confidence: confSum / float64(len(bucket)),
		Provider:   provider,
		Final:      true,
		Speaker:    speaker,
	}, true
}

// synthesizeSegment builds the single fallback segment used when the
// recognition engine reports text without any token timings.
func (a *Assembler) synthesizeSegment(sessionID, provider, text string) transcript.Segment {
	estimated := time.Duration(utf8.RuneCountInString(text)) * synthesisPerRune
	if estimated < a.minSegment {
		estimated = a.minSegment
	}
	return transcript.Segment{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		StartMS:    0,
		EndMS:      estimated.Milliseconds(),
		Text:       text,
		Confidence: defaultWordConfidence,
		Provider:   provider,
		Final:      true,
	}
}

// secondsToMS converts engine seconds to transcript milliseconds.
func secondsToMS(s float64) int64 {
	return int64(math.Round(s * 1000))
}

// countSpeakers returns the number of distinct non-empty speaker labels.
func countSpeakers(segments []transcript.Segment) int {
	seen := make(map[string]struct{})
	for _, s := range segments {
		if s.Speaker != "" {
			seen[s.Speaker] = struct{}{}
		}
	}
	return len(seen)
}
