// Package vocab corrects recognised words toward a configured vocabulary
// using Double Metaphone phonetic encoding combined with Jaro-Winkler string
// similarity for ranked candidate selection.
//
// Speech recognisers routinely mangle product names and domain jargon
// ("kubernetis" for "Kubernetes"). The corrector runs after recognition and
// rewrites words that phonetically match a vocabulary term.
//
// The algorithm proceeds in two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     the input word and for each vocabulary term. If any code from the input
//     overlaps with any code from a term, the term becomes a candidate.
//
//  2. Jaro-Winkler ranking: Among phonetic candidates, the term with the
//     highest Jaro-Winkler similarity (computed on the original strings,
//     case-insensitive) is selected — provided its score exceeds the
//     configurable phonetic threshold.
//
//     When no phonetic candidate is found, a secondary pass tests pure
//     Jaro-Winkler similarity against all terms using a higher fuzzy
//     threshold (default 0.85).
//
// Multi-word terms (e.g., "Blue Yeti") are supported: the corrector computes
// phonetic codes for each token and considers the best pairwise score across
// all token pairs when ranking candidates.
package vocab

import (
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Corrector].
type Option func(*Corrector)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched term to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(c *Corrector) {
		c.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found and the corrector falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(c *Corrector) {
		c.fuzzyThreshold = threshold
	}
}

// Corrector rewrites words toward a vocabulary of canonical terms.
// All methods are safe for concurrent use; the vocabulary can be swapped at
// runtime via SetTerms.
type Corrector struct {
	phoneticThreshold float64
	fuzzyThreshold    float64

	mu    sync.RWMutex
	terms []string
}

// New returns a [Corrector] over the given vocabulary terms. Default
// thresholds are 0.70 for phonetic matches and 0.85 for fuzzy fallback
// matches.
func New(terms []string, opts ...Option) *Corrector {
	c := &Corrector{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	c.SetTerms(terms)
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetTerms replaces the active vocabulary. Safe to call while corrections
// are running; in-flight calls keep the old vocabulary.
func (c *Corrector) SetTerms(terms []string) {
	cleaned := make([]string, 0, len(terms))
	for _, t := range terms {
		if strings.TrimSpace(t) != "" {
			cleaned = append(cleaned, t)
		}
	}
	c.mu.Lock()
	c.terms = cleaned
	c.mu.Unlock()
}

// Terms returns a copy of the active vocabulary.
func (c *Corrector) Terms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.terms))
	copy(out, c.terms)
	return out
}

// Correct attempts to rewrite word toward a vocabulary term. Surrounding
// punctuation is preserved ("kubernetis," becomes "Kubernetes,"). A word
// that already equals a term (ignoring case) is returned unchanged with
// changed == false.
func (c *Corrector) Correct(word string) (corrected string, changed bool) {
	core, prefix, suffix := splitPunct(word)
	if core == "" {
		return word, false
	}

	c.mu.RLock()
	terms := c.terms
	c.mu.RUnlock()

	for _, t := range terms {
		if strings.EqualFold(core, t) {
			return word, false
		}
	}

	term, _, matched := c.match(core, terms)
	if !matched || term == core {
		return word, false
	}
	return prefix + term + suffix, true
}

// match finds the vocabulary term most phonetically similar to word.
// When matched is false, corrected equals word unchanged and confidence is 0.
func (c *Corrector) match(word string, terms []string) (corrected string, confidence float64, matched bool) {
	if len(terms) == 0 || strings.TrimSpace(word) == "" {
		return word, 0, false
	}

	wordLower := strings.ToLower(strings.TrimSpace(word))
	wordTokens := strings.Fields(wordLower)

	// Build phonetic code set for the input.
	inputCodes := codesForTokens(wordTokens)

	type candidate struct {
		term     string
		score    float64
		phonetic bool
	}

	var best candidate

	for _, term := range terms {
		termLower := strings.ToLower(strings.TrimSpace(term))
		if termLower == "" {
			continue
		}
		termTokens := strings.Fields(termLower)

		// Check phonetic overlap between input tokens and term tokens.
		termCodes := codesForTokens(termTokens)
		phoneticMatch := codesOverlap(inputCodes, termCodes)

		// Compute the best Jaro-Winkler score for this term using several
		// comparison strategies to handle multi-word mismatches robustly.
		jwScore := bestJWScore(wordTokens, termTokens, wordLower, termLower)

		if phoneticMatch {
			if jwScore >= c.phoneticThreshold {
				if !best.phonetic || jwScore > best.score {
					best = candidate{term: term, score: jwScore, phonetic: true}
				}
			}
		} else if !best.phonetic {
			if jwScore >= c.fuzzyThreshold && jwScore > best.score {
				best = candidate{term: term, score: jwScore, phonetic: false}
			}
		}
	}

	if best.term != "" {
		return best.term, best.score, true
	}
	return word, 0, false
}

// splitPunct separates leading and trailing punctuation from the word core
// so that matches can be re-wrapped without losing sentence structure.
func splitPunct(word string) (core, prefix, suffix string) {
	isWordRune := func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsNumber(r) || r == '\'' || r == '-'
	}
	start := strings.IndexFunc(word, isWordRune)
	if start < 0 {
		return "", word, ""
	}
	end := strings.LastIndexFunc(word, isWordRune)
	_, size := utf8.DecodeRuneInString(word[end:])
	end += size
	return word[start:end], word[:start], word[end:]
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes (produced when the word is too short or
// contains no consonants) are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	// Iterate over the smaller set for efficiency.
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore computes the highest Jaro-Winkler similarity between the input
// and the term using three strategies:
//
//  1. Full-string comparison (e.g., "blue yetti" vs "blue yeti").
//  2. Space-stripped comparison (e.g., "blueyetti" vs "blueyeti").
//  3. Best pairwise token comparison — the maximum JW score between any input
//     token and any term token (useful when one spoken word corresponds to
//     one term word).
//
// longTolerance is passed as false to use standard Jaro-Winkler scoring.
func bestJWScore(inputTokens, termTokens []string, inputFull, termFull string) float64 {
	// Strategy 1: full strings.
	score := matchr.JaroWinkler(inputFull, termFull, false)

	// Strategy 2: concatenated (no spaces).
	if len(inputTokens) > 1 || len(termTokens) > 1 {
		concat1 := strings.Join(inputTokens, "")
		concat2 := strings.Join(termTokens, "")
		if s := matchr.JaroWinkler(concat1, concat2, false); s > score {
			score = s
		}
	}

	// Strategy 3: best pairwise token score.
	for _, it := range inputTokens {
		for _, et := range termTokens {
			if s := matchr.JaroWinkler(it, et, false); s > score {
				score = s
			}
		}
	}

	return score
}
