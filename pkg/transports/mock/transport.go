// Package mock provides an in-memory transport for tests and local runs.
package mock

import (
	"context"
	"sync"

	"github.com/harunnryd/lipsync/pkg/frames"
)

// Transport implements transports.Transport without a network. Inbound
// frames are injected with Push or the session helpers; outbound frames
// are read from Sent.
type Transport struct {
	mu       sync.Mutex
	recvCh   chan frames.Frame
	sentCh   chan frames.Frame
	pts      *frames.PTSGen
	sessions map[string]struct{}
	closed   bool
}

func New() *Transport {
	return &Transport{
		recvCh:   make(chan frames.Frame, 256),
		sentCh:   make(chan frames.Frame, 1024),
		pts:      frames.NewPTSGen(),
		sessions: make(map[string]struct{}),
	}
}

func (t *Transport) Name() string { return "mock" }

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		<-ctx.Done()
		_ = t.Stop()
	}()
	return nil
}

func (t *Transport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.recvCh)
		close(t.sentCh)
	}
	return nil
}

func (t *Transport) Recv() <-chan frames.Frame { return t.recvCh }

// Send records f; frames are dropped once the buffer is full or the
// transport is stopped.
func (t *Transport) Send(f frames.Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	select {
	case t.sentCh <- f:
	default:
	}
	return nil
}

// Sent exposes outbound frames for inspection.
func (t *Transport) Sent() <-chan frames.Frame { return t.sentCh }

// ReadyFields reports the open session count for the engine_ready log.
func (t *Transport) ReadyFields() map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return map[string]any{"transport": t.Name(), "sessions": len(t.sessions)}
}

// Push injects an inbound frame as is.
func (t *Transport) Push(f frames.Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pushLocked(f)
}

// Open announces a new client session, mirroring a websocket connect.
func (t *Transport) Open(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[sessionID] = struct{}{}
	t.pushLocked(frames.NewSystemFrame(sessionID, t.pts.Next(sessionID), frames.SystemSessionStart, meta(sessionID, "")))
}

// Speak queues text for sessionID as if the client had sent it.
func (t *Transport) Speak(sessionID, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pushLocked(frames.NewTextFrame(sessionID, t.pts.Next(sessionID), text, meta(sessionID, "client")))
}

// Close ends sessionID. Unknown sessions are ignored.
func (t *Transport) Close(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sessions[sessionID]; !ok {
		return
	}
	delete(t.sessions, sessionID)
	m := meta(sessionID, "")
	m[frames.MetaReason] = "client_closed"
	t.pushLocked(frames.NewSystemFrame(sessionID, t.pts.Next(sessionID), frames.SystemSessionEnd, m))
	t.pts.Forget(sessionID)
}

// Sessions returns the number of sessions opened and not yet closed.
func (t *Transport) Sessions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

func (t *Transport) pushLocked(f frames.Frame) {
	if t.closed {
		return
	}
	select {
	case t.recvCh <- f:
	default:
	}
}

func meta(sessionID, source string) map[string]string {
	m := map[string]string{
		frames.MetaStreamID:  sessionID,
		frames.MetaSessionID: sessionID,
		frames.MetaTraceID:   "mock-" + sessionID,
		frames.MetaSource:    "transport",
	}
	if source != "" {
		m[frames.MetaSource] = source
	}
	return m
}
