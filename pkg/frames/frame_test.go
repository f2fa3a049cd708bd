package frames

import (
	"testing"

	"github.com/harunnryd/lipsync/pkg/timing"
)

func TestMetaIsCopied(t *testing.T) {
	meta := map[string]string{MetaSessionID: "sess-1"}
	f := NewTextFrame("stream-1", 1, "hello", meta)
	meta[MetaSessionID] = "changed"
	got := f.Meta()
	if got[MetaSessionID] != "sess-1" {
		t.Fatalf("expected frame meta to be isolated, got %q", got[MetaSessionID])
	}
	if got[MetaStreamID] != "stream-1" {
		t.Fatalf("expected stream id in meta, got %q", got[MetaStreamID])
	}
	got[MetaSessionID] = "mutated"
	if f.Meta()[MetaSessionID] != "sess-1" {
		t.Fatalf("expected Meta() to return a copy")
	}
}

func TestTimingFrameCarriesEvent(t *testing.T) {
	ev := timing.NewEvent(9, "hi", timing.Estimate("hi"))
	f := NewTimingFrame("stream-1", 1, ev, nil)
	if f.Kind() != KindTiming {
		t.Fatalf("expected timing kind, got %s", f.Kind())
	}
	if f.SequenceID() != 9 || f.Event().Len() != 1 {
		t.Fatalf("unexpected event %+v", f.Event())
	}
}

func TestPTSGenMonotonic(t *testing.T) {
	g := NewPTSGen()
	prev := g.Next("s")
	for i := 0; i < 100; i++ {
		v := g.Next("s")
		if v <= prev {
			t.Fatalf("expected strictly increasing pts, got %d after %d", v, prev)
		}
		prev = v
	}
}
