package pipeline

import (
	"sync"

	"github.com/harunnryd/lipsync/pkg/frames"
)

// mailbox is an unbounded per-session queue. The router only ever appends
// to it, so a session whose orchestrator is busy never holds up another.
type mailbox struct {
	mu    sync.Mutex
	queue []frames.Frame
	ready chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{ready: make(chan struct{}, 1)}
}

func (m *mailbox) push(f frames.Frame) {
	m.mu.Lock()
	m.queue = append(m.queue, f)
	m.mu.Unlock()
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

func (m *mailbox) pop() (frames.Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return nil, false
	}
	f := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	return f, true
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Enqueue hands f to the session without blocking. Frames are forwarded
// to the orchestrator in order; the wait for a full input channel happens
// on the session's own goroutine.
func (s *Session) Enqueue(f frames.Frame) {
	if s.Ctx.Err() != nil {
		return
	}
	s.inbox.push(f)
}

// Pending reports how many frames are queued but not yet accepted by the
// orchestrator.
func (s *Session) Pending() int { return s.inbox.len() }

func (s *Session) forward() {
	for {
		f, ok := s.inbox.pop()
		if !ok {
			select {
			case <-s.inbox.ready:
				continue
			case <-s.Ctx.Done():
				return
			}
		}
		select {
		case s.Orch.In() <- f:
		case <-s.Ctx.Done():
			return
		}
	}
}
