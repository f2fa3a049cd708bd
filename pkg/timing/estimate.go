// Package timing holds the word-level timing model shared by the synthesis
// backends and the timing processor.
package timing

import "strings"

const (
	// BaseWordDuration is the per-word duration at ~150 words/minute, in seconds.
	BaseWordDuration = 0.35
	// CharsPerUnit is the word length that maps to a length factor of 1.0.
	CharsPerUnit = 5.0
	// MinLengthFactor is the floor on the length factor for short words.
	MinLengthFactor = 0.5
	// MaxLengthFactor is the ceiling on the length factor for long words.
	MaxLengthFactor = 1.5
)

// Entry is one word with its start and end offset in seconds from the
// beginning of the utterance.
type Entry struct {
	Word  string  `json:"word"`
	Start float64 `json:"start_time"`
	End   float64 `json:"end_time"`
}

// Duration returns End-Start.
func (e Entry) Duration() float64 { return e.End - e.Start }

// Estimate produces back-to-back word timings for text when the backend
// cannot supply native timing. Longer words get proportionally more time,
// bounded to [MinLengthFactor, MaxLengthFactor] of BaseWordDuration.
func Estimate(text string) []Entry {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	out := make([]Entry, 0, len(words))
	clock := 0.0
	for _, w := range words {
		d := WordDuration(w)
		out = append(out, Entry{Word: w, Start: clock, End: clock + d})
		clock += d
	}
	return out
}

// WordDuration returns the estimated spoken duration of a single word.
func WordDuration(word string) float64 {
	factor := float64(len(word)) / CharsPerUnit
	if factor < MinLengthFactor {
		factor = MinLengthFactor
	}
	if factor > MaxLengthFactor {
		factor = MaxLengthFactor
	}
	return BaseWordDuration * factor
}
