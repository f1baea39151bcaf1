// Package transcript holds the text-side session state: overlap
// de-duplication between consecutive segment transcriptions and the bounded
// conversation history.
//
// Segments handed to transcription repeat the previous segment's audio tail,
// so consecutive transcriptions usually repeat a few words at the seam. The
// Deduper trims that repetition from the newer text before it enters the
// history.
package transcript

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	// defaultSimilarityThreshold is the minimum per-word Jaro-Winkler score
	// for two words to count as the same word across the seam. STT output
	// for identical audio varies slightly between runs, so exact equality
	// is too strict.
	defaultSimilarityThreshold = 0.85

	// defaultMaxWindow bounds how many trailing/leading words are compared.
	// A 0.5 s overlap rarely carries more than a handful of words.
	defaultMaxWindow = 12
)

// DeduperOption is a functional option for configuring a Deduper.
type DeduperOption func(*Deduper)

// WithSimilarityThreshold sets the minimum Jaro-Winkler score for a word
// alignment to be accepted. Default: 0.85.
func WithSimilarityThreshold(threshold float64) DeduperOption {
	return func(d *Deduper) { d.threshold = threshold }
}

// WithMaxWindow sets the maximum number of words considered on each side of
// the seam. Default: 12.
func WithMaxWindow(n int) DeduperOption {
	return func(d *Deduper) { d.maxWindow = n }
}

// Deduper trims overlap-duplicated words from the head of a new
// transcription given the tail of the previously committed text. It is
// read-only after construction and safe for concurrent use.
type Deduper struct {
	threshold float64
	maxWindow int
}

// NewDeduper returns a Deduper with the supplied options applied.
func NewDeduper(opts ...DeduperOption) *Deduper {
	d := &Deduper{
		threshold: defaultSimilarityThreshold,
		maxWindow: defaultMaxWindow,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Trim returns next with its seam-duplicated head removed.
//
// It finds the longest k such that the last k words of prev align with the
// first k words of next, where every aligned pair scores at or above the
// similarity threshold (case-insensitive Jaro-Winkler), then drops those k
// words from next. When no alignment is found, next is returned unchanged.
func (d *Deduper) Trim(prev, next string) string {
	prevWords := strings.Fields(prev)
	nextWords := strings.Fields(next)
	if len(prevWords) == 0 || len(nextWords) == 0 {
		return next
	}

	window := min(d.maxWindow, len(prevWords), len(nextWords))

	best := 0
	for k := window; k > 0; k-- {
		if d.aligned(prevWords[len(prevWords)-k:], nextWords[:k]) {
			best = k
			break
		}
	}
	if best == 0 {
		return next
	}

	trimmed := nextWords[best:]
	if len(trimmed) == 0 {
		return ""
	}
	return strings.Join(trimmed, " ")
}

// aligned reports whether every word pair scores at or above the threshold.
func (d *Deduper) aligned(tail, head []string) bool {
	for i := range tail {
		a := normalizeWord(tail[i])
		b := normalizeWord(head[i])
		if a == b {
			continue
		}
		if matchr.JaroWinkler(a, b, false) < d.threshold {
			return false
		}
	}
	return true
}

// normalizeWord lowercases and strips edge punctuation so "world." aligns
// with "World".
func normalizeWord(w string) string {
	return strings.Trim(strings.ToLower(w), ".,!?;:\"'")
}
