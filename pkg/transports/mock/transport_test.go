package mock

import (
	"testing"

	"github.com/harunnryd/lipsync/pkg/frames"
)

func TestSessionHelpersEmitFrames(t *testing.T) {
	tr := New()
	tr.Open("s1")
	tr.Speak("s1", "hello")
	tr.Close("s1")
	tr.Close("s1")

	start, ok := (<-tr.Recv()).(frames.SystemFrame)
	if !ok || start.Name() != frames.SystemSessionStart {
		t.Fatalf("expected session_start, got %#v", start)
	}
	if start.Meta()[frames.MetaSessionID] != "s1" {
		t.Fatalf("expected session id on start frame")
	}
	text, ok := (<-tr.Recv()).(frames.TextFrame)
	if !ok || text.Text() != "hello" || text.Meta()[frames.MetaSource] != "client" {
		t.Fatalf("unexpected text frame %#v", text)
	}
	if text.PTS() <= start.PTS() {
		t.Fatalf("expected increasing pts, got %d then %d", start.PTS(), text.PTS())
	}
	end, ok := (<-tr.Recv()).(frames.SystemFrame)
	if !ok || end.Name() != frames.SystemSessionEnd || end.Meta()[frames.MetaReason] != "client_closed" {
		t.Fatalf("unexpected end frame %#v", end)
	}
	select {
	case f := <-tr.Recv():
		t.Fatalf("expected second close to be ignored, got %#v", f)
	default:
	}
	if tr.Sessions() != 0 {
		t.Fatalf("expected no open sessions, got %d", tr.Sessions())
	}
}

func TestSendAfterStopIsDropped(t *testing.T) {
	tr := New()
	_ = tr.Send(frames.NewTextFrame("s1", 1, "a", nil))
	_ = tr.Stop()
	if err := tr.Send(frames.NewTextFrame("s1", 2, "b", nil)); err != nil {
		t.Fatalf("expected nil error after stop, got %v", err)
	}
	var got []frames.Frame
	for f := range tr.Sent() {
		got = append(got, f)
	}
	if len(got) != 1 {
		t.Fatalf("expected one recorded frame, got %d", len(got))
	}
	tr.Speak("s1", "late")
	if _, ok := <-tr.Recv(); ok {
		t.Fatalf("expected closed recv channel")
	}
}
