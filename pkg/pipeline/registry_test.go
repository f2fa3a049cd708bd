package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harunnryd/lipsync/pkg/frames"
)

func TestRegistryLifecycle(t *testing.T) {
	var ctxs []context.Context
	reg := NewSessionRegistry(func(ctx context.Context, sessionID, traceID string) (Orchestrator, error) {
		ctxs = append(ctxs, ctx)
		return New(Config{}), nil
	})
	sess, created, err := reg.GetOrCreate("sess-1", "trace-1")
	if err != nil || !created || sess.ID != "sess-1" {
		t.Fatalf("expected new session, got %v %v", created, err)
	}
	again, created, _ := reg.GetOrCreate("sess-1", "trace-2")
	if created || again != sess {
		t.Fatalf("expected existing session")
	}
	if reg.Count() != 1 {
		t.Fatalf("expected one session")
	}
	if !reg.Remove("sess-1") || reg.Remove("sess-1") {
		t.Fatalf("expected only the first remove to report a session")
	}
	if reg.Count() != 0 {
		t.Fatalf("expected registry to be empty")
	}
	if ctxs[0].Err() == nil {
		t.Fatalf("expected session context to be cancelled")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if !reg.WaitForEmpty(ctx, time.Millisecond) {
		t.Fatalf("expected WaitForEmpty to return true")
	}
}

func TestRegistryRejectsWhileDraining(t *testing.T) {
	reg := NewSessionRegistry(func(ctx context.Context, sessionID, traceID string) (Orchestrator, error) {
		return New(Config{}), nil
	})
	reg.SetDraining(true)
	if _, _, err := reg.GetOrCreate("s", "t"); !errors.Is(err, ErrDraining) {
		t.Fatalf("expected ErrDraining, got %v", err)
	}
	if sess, _, err := reg.GetOrCreate("", "t"); sess != nil || err != nil {
		t.Fatalf("expected empty id to be ignored")
	}
}

func TestRegistryFactoryError(t *testing.T) {
	boom := errors.New("boom")
	reg := NewSessionRegistry(func(ctx context.Context, sessionID, traceID string) (Orchestrator, error) {
		return nil, boom
	})
	if _, _, err := reg.GetOrCreate("s", "t"); !errors.Is(err, boom) {
		t.Fatalf("expected factory error")
	}
	reg.CloseAll()
}

func TestRegistryCloseAll(t *testing.T) {
	reg := NewSessionRegistry(func(ctx context.Context, sessionID, traceID string) (Orchestrator, error) {
		return New(Config{}), nil
	})
	for _, id := range []string{"a", "b", "c"} {
		if _, _, err := reg.GetOrCreate(id, "t"); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if got := len(reg.IDs()); got != 3 {
		t.Fatalf("expected three ids, got %d", got)
	}
	if n := reg.CloseAll(); n != 3 {
		t.Fatalf("expected three sessions closed, got %d", n)
	}
	if reg.Count() != 0 || len(reg.IDs()) != 0 {
		t.Fatalf("expected empty registry after CloseAll")
	}
}

func TestSessionEnqueueDoesNotBlock(t *testing.T) {
	gate := make(chan struct{})
	reg := NewSessionRegistry(func(ctx context.Context, sessionID, traceID string) (Orchestrator, error) {
		orch := New(Config{Buffer: 1})
		_ = orch.AddProcessor(funcProc{name: "gate", fn: func(f frames.Frame) ([]frames.Frame, error) {
			<-gate
			return []frames.Frame{f}, nil
		}})
		return orch, nil
	})
	sess, _, err := reg.GetOrCreate("s", "t")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer reg.CloseAll()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			sess.Enqueue(text(string(rune('a' + i))))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("enqueue blocked behind a busy orchestrator")
	}

	close(gate)
	for i := 0; i < 10; i++ {
		tf := recv(t, sess.Orch.Out()).(frames.TextFrame)
		if want := string(rune('a' + i)); tf.Text() != want {
			t.Fatalf("frame %d: expected %q, got %q", i, want, tf.Text())
		}
	}
}
