package tts

import (
	"context"

	"github.com/harunnryd/lipsync/pkg/timing"
)

// Synthesizer is the plain synthesis contract: text in, ordered PCM payloads out.
type Synthesizer interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Synthesize returns the audio for text. Concatenating the payloads in
	// order reconstructs the full utterance.
	Synthesize(ctx context.Context, text string) ([][]byte, error)
}

// CaptionedSynthesizer returns audio together with backend-native word timing.
type CaptionedSynthesizer interface {
	Name() string
	SynthesizeCaptioned(ctx context.Context, text string) (Captioned, error)
}

// Captioned is the decoded output of a captioned synthesis call.
type Captioned struct {
	Audio   [][]byte
	Timings []timing.Entry
}

// Usable reports whether both audio and timing were recovered.
func (c Captioned) Usable() bool {
	return len(c.Audio) > 0 && len(c.Timings) > 0
}

// AudioChunk is an opaque PCM payload with its format.
type AudioChunk struct {
	Data       []byte
	SampleRate int
	Channels   int
}

// Chunks wraps raw payloads with the configured format, skipping empty ones.
func Chunks(payloads [][]byte, rate, channels int) []AudioChunk {
	out := make([]AudioChunk, 0, len(payloads))
	for _, p := range payloads {
		if len(p) == 0 {
			continue
		}
		out = append(out, AudioChunk{Data: p, SampleRate: rate, Channels: channels})
	}
	return out
}
