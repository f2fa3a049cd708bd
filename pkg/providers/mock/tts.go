package mock

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/harunnryd/lipsync/pkg/adapters/tts"
	"github.com/harunnryd/lipsync/pkg/timing"
)

// ErrForced is returned when a mock is switched into failure mode.
var ErrForced = errors.New("mock synthesis failure")

// bytesPerWord is 100ms of 24kHz 16-bit mono silence.
const bytesPerWord = 4800

type TTSConfig struct {
	// ChunkBytes splits the generated audio; 0 yields one chunk per word.
	ChunkBytes int
	Fail       bool
	// Err overrides ErrForced when Fail is set.
	Err error
}

// Synthesizer produces silent PCM sized by word count.
type Synthesizer struct {
	cfg   TTSConfig
	mu    sync.Mutex
	calls []string
}

func NewSynthesizer(cfg TTSConfig) *Synthesizer {
	return &Synthesizer{cfg: cfg}
}

func (s *Synthesizer) Name() string { return "mock_tts" }

func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([][]byte, error) {
	s.record(text)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.cfg.Fail {
		return nil, forced(s.cfg)
	}
	return silence(text, s.cfg.ChunkBytes), nil
}

// Calls returns the texts seen so far.
func (s *Synthesizer) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *Synthesizer) record(text string) {
	s.mu.Lock()
	s.calls = append(s.calls, text)
	s.mu.Unlock()
}

// CaptionedSynthesizer returns silent PCM plus estimated timings shifted by
// Offset so tests can tell native timings apart from the estimator.
type CaptionedSynthesizer struct {
	Synthesizer
	Offset float64
}

func NewCaptionedSynthesizer(cfg TTSConfig, offset float64) *CaptionedSynthesizer {
	return &CaptionedSynthesizer{Synthesizer: Synthesizer{cfg: cfg}, Offset: offset}
}

func (c *CaptionedSynthesizer) Name() string { return "mock_captioned" }

func (c *CaptionedSynthesizer) SynthesizeCaptioned(ctx context.Context, text string) (tts.Captioned, error) {
	c.record(text)
	if err := ctx.Err(); err != nil {
		return tts.Captioned{}, err
	}
	if c.cfg.Fail {
		return tts.Captioned{}, forced(c.cfg)
	}
	entries := timing.Estimate(text)
	for i := range entries {
		entries[i].Start += c.Offset
		entries[i].End += c.Offset
	}
	return tts.Captioned{Audio: silence(text, c.cfg.ChunkBytes), Timings: entries}, nil
}

func forced(cfg TTSConfig) error {
	if cfg.Err != nil {
		return cfg.Err
	}
	return ErrForced
}

func silence(text string, chunkBytes int) [][]byte {
	words := len(strings.Fields(text))
	if words == 0 {
		words = 1
	}
	if chunkBytes <= 0 {
		out := make([][]byte, words)
		for i := range out {
			out[i] = make([]byte, bytesPerWord)
		}
		return out
	}
	total := words * bytesPerWord
	var out [][]byte
	for total > 0 {
		n := chunkBytes
		if n > total {
			n = total
		}
		out = append(out, make([]byte, n))
		total -= n
	}
	return out
}

var (
	_ tts.Synthesizer          = (*Synthesizer)(nil)
	_ tts.CaptionedSynthesizer = (*CaptionedSynthesizer)(nil)
)
