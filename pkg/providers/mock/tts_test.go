package mock

import (
	"context"
	"errors"
	"testing"
)

func TestSynthesizerChunks(t *testing.T) {
	s := NewSynthesizer(TTSConfig{ChunkBytes: 4000})
	chunks, err := s.Synthesize(context.Background(), "one two")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	if total != 2*bytesPerWord || len(chunks) != 3 {
		t.Fatalf("unexpected chunks %d / %d bytes", len(chunks), total)
	}
	if got := s.Calls(); len(got) != 1 || got[0] != "one two" {
		t.Fatalf("unexpected calls %v", got)
	}
}

func TestCaptionedOffsetAndFail(t *testing.T) {
	c := NewCaptionedSynthesizer(TTSConfig{}, 1.0)
	res, err := c.SynthesizeCaptioned(context.Background(), "hi there")
	if err != nil || !res.Usable() {
		t.Fatalf("expected usable result, got %v", err)
	}
	if res.Timings[0].Start != 1.0 {
		t.Fatalf("expected offset timings, got %+v", res.Timings[0])
	}

	boom := errors.New("boom")
	failing := NewCaptionedSynthesizer(TTSConfig{Fail: true, Err: boom}, 0)
	if _, err := failing.SynthesizeCaptioned(context.Background(), "hi"); !errors.Is(err, boom) {
		t.Fatalf("expected forced error, got %v", err)
	}
}
