package websocket

import (
	"encoding/json"
	"sync"
	"time"

	gws "github.com/gorilla/websocket"

	"github.com/harunnryd/lipsync/pkg/frames"
)

type outbound struct {
	kind int
	data []byte
}

// session owns the write side of one connection. A single writer goroutine
// keeps messages in the order they were enqueued.
type session struct {
	id      string
	traceID string
	conn    *gws.Conn
	sendCh  chan outbound
	done    chan struct{}
	once    sync.Once
	timeout time.Duration
}

func newSession(conn *gws.Conn, id, traceID string, buffer int, timeout time.Duration) *session {
	return &session{
		id:      id,
		traceID: traceID,
		conn:    conn,
		sendCh:  make(chan outbound, buffer),
		done:    make(chan struct{}),
		timeout: timeout,
	}
}

func (s *session) meta() map[string]string {
	return map[string]string{
		frames.MetaStreamID:  s.id,
		frames.MetaSessionID: s.id,
		frames.MetaTraceID:   s.traceID,
		frames.MetaSource:    "transport",
	}
}

func (s *session) enqueueJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.enqueue(gws.TextMessage, b)
}

// enqueue blocks while the buffer is full so audio is never skipped; it
// gives up once the session closes.
func (s *session) enqueue(kind int, data []byte) error {
	select {
	case <-s.done:
		return ErrSessionGone
	default:
	}
	select {
	case s.sendCh <- outbound{kind: kind, data: data}:
		return nil
	case <-s.done:
		return ErrSessionGone
	}
}

func (s *session) loop() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.sendCh:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.timeout))
			if err := s.conn.WriteMessage(msg.kind, msg.data); err != nil {
				_ = s.close()
				return
			}
		}
	}
}

func (s *session) close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}
