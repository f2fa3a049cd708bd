package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Session is one connected client with its own orchestrator.
type Session struct {
	ID      string
	TraceID string
	Orch    Orchestrator
	Ctx     context.Context
	Cancel  context.CancelFunc
	Created time.Time

	inbox *mailbox
}

type SessionFactory func(ctx context.Context, sessionID, traceID string) (Orchestrator, error)

type SessionRegistry struct {
	sessions sync.Map
	count    atomic.Int64
	factory  SessionFactory
	draining atomic.Bool
}

func NewSessionRegistry(factory SessionFactory) *SessionRegistry {
	return &SessionRegistry{factory: factory}
}

// GetOrCreate returns the session for id, building and starting one if
// needed. The bool reports whether a new session was created.
func (r *SessionRegistry) GetOrCreate(sessionID, traceID string) (*Session, bool, error) {
	if sessionID == "" {
		return nil, false, nil
	}
	if v, ok := r.sessions.Load(sessionID); ok {
		return v.(*Session), false, nil
	}
	if r.draining.Load() {
		return nil, false, ErrDraining
	}
	ctx, cancel := context.WithCancel(context.Background())
	orch, err := r.factory(ctx, sessionID, traceID)
	if err != nil {
		cancel()
		return nil, false, err
	}
	if err := orch.Start(); err != nil {
		cancel()
		return nil, false, err
	}
	sess := &Session{
		ID:      sessionID,
		TraceID: traceID,
		Orch:    orch,
		Ctx:     ctx,
		Cancel:  cancel,
		Created: time.Now(),
		inbox:   newMailbox(),
	}
	actual, loaded := r.sessions.LoadOrStore(sessionID, sess)
	if loaded {
		_ = orch.Stop()
		cancel()
		return actual.(*Session), false, nil
	}
	r.count.Add(1)
	go sess.forward()
	return sess, true, nil
}

func (r *SessionRegistry) Get(sessionID string) (*Session, bool) {
	if v, ok := r.sessions.Load(sessionID); ok {
		return v.(*Session), true
	}
	return nil, false
}

// Remove cancels the session context, which abandons in-flight synthesis,
// and stops its orchestrator. It reports whether the session existed.
func (r *SessionRegistry) Remove(sessionID string) bool {
	v, ok := r.sessions.LoadAndDelete(sessionID)
	if !ok {
		return false
	}
	sess := v.(*Session)
	sess.Cancel()
	_ = sess.Orch.Stop()
	r.count.Add(-1)
	return true
}

// IDs returns a snapshot of the live session ids.
func (r *SessionRegistry) IDs() []string {
	var ids []string
	r.sessions.Range(func(key, _ any) bool {
		ids = append(ids, key.(string))
		return true
	})
	return ids
}

// CloseAll removes every session and returns how many were closed.
func (r *SessionRegistry) CloseAll() int {
	n := 0
	for _, id := range r.IDs() {
		if r.Remove(id) {
			n++
		}
	}
	return n
}

func (r *SessionRegistry) Count() int64 {
	return r.count.Load()
}

func (r *SessionRegistry) SetDraining(v bool) {
	r.draining.Store(v)
}

func (r *SessionRegistry) Draining() bool {
	return r.draining.Load()
}

func (r *SessionRegistry) WaitForEmpty(ctx context.Context, interval time.Duration) bool {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if r.Count() == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
