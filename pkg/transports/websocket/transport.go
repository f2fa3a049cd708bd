// Package websocket serves avatar clients over a WebSocket. Clients send
// text to speak; the server answers with a timing event as a JSON text
// message followed by the PCM audio as binary messages.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	gws "github.com/gorilla/websocket"

	"github.com/harunnryd/lipsync/pkg/errorsx"
	"github.com/harunnryd/lipsync/pkg/frames"
	"github.com/harunnryd/lipsync/pkg/logging"
	"github.com/harunnryd/lipsync/pkg/transports"
)

var ErrSessionGone = errors.New("websocket session closed")

type Config struct {
	ServerAddr     string        `mapstructure:"server_addr"`
	WebsocketPath  string        `mapstructure:"ws_path"`
	AllowAnyOrigin bool          `mapstructure:"allow_any_origin"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	ReadLimit      int64         `mapstructure:"read_limit"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.WebsocketPath == "" {
		c.WebsocketPath = "/ws"
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 64 * 1024
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

type Transport struct {
	cfg      Config
	mux      *http.ServeMux
	server   *http.Server
	upgrader gws.Upgrader
	logger   *slog.Logger

	recvMu sync.RWMutex
	recvCh chan frames.Frame
	closed bool

	mu       sync.Mutex
	sessions map[string]*session

	draining atomic.Bool
}

func New(cfg Config) *Transport {
	cfg = cfg.withDefaults()
	t := &Transport{
		cfg: cfg,
		mux: http.NewServeMux(),
		upgrader: gws.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 16384,
		},
		logger:   logging.NewComponentLogger(slog.Default(), "ws_transport"),
		recvCh:   make(chan frames.Frame, 512),
		sessions: make(map[string]*session),
	}
	t.upgrader.CheckOrigin = t.checkOrigin
	t.mux.Handle(cfg.WebsocketPath, t)
	t.mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if t.draining.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return t
}

func (t *Transport) Name() string { return "websocket" }

func (t *Transport) Recv() <-chan frames.Frame { return t.recvCh }

// Handle mounts an extra handler. Call it before Start.
func (t *Transport) Handle(pattern string, h http.Handler) {
	t.mux.Handle(pattern, h)
}

// Handler exposes the transport routes, mostly for tests.
func (t *Transport) Handler() http.Handler { return t.mux }

func (t *Transport) ReadyFields() map[string]any {
	return map[string]any{
		"server_addr": t.cfg.ServerAddr,
		"ws_path":     t.cfg.WebsocketPath,
	}
}

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	t.server = &http.Server{
		Addr:              t.cfg.ServerAddr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           t.mux,
	}
	go func() {
		<-ctx.Done()
		_ = t.server.Close()
	}()
	go func() {
		if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("ws_transport_server_error", slog.String("error", err.Error()))
		}
	}()
	return nil
}

func (t *Transport) Stop() error {
	t.draining.Store(true)
	if t.server != nil {
		_ = t.server.Close()
	}
	t.mu.Lock()
	for _, sess := range t.sessions {
		_ = sess.close()
	}
	t.sessions = make(map[string]*session)
	t.mu.Unlock()

	t.recvMu.Lock()
	if !t.closed {
		t.closed = true
		close(t.recvCh)
	}
	t.recvMu.Unlock()
	return nil
}

func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Warn("ws_upgrade_failed",
			slog.String("reason_code", string(errorsx.ReasonTransportUpgrade)),
			slog.String("error", err.Error()))
		return
	}
	conn.SetReadLimit(t.cfg.ReadLimit)

	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	traceID := uuid.NewString()
	sess := newSession(conn, sessionID, traceID, t.cfg.SendBuffer, t.cfg.WriteTimeout)
	if old := t.attach(sess); old != nil {
		_ = old.close()
	}
	go sess.loop()

	t.emit(frames.NewSystemFrame(sessionID, time.Now().UnixNano(), frames.SystemSessionStart, sess.meta()))
	t.logger.Info("session connected",
		slog.String("session_id", sessionID),
		slog.String("trace_id", traceID),
		slog.String("remote_addr", r.RemoteAddr))

	t.readLoop(sess)

	if t.detach(sess) {
		meta := sess.meta()
		meta[frames.MetaReason] = "client_closed"
		t.emit(frames.NewSystemFrame(sessionID, time.Now().UnixNano(), frames.SystemSessionEnd, meta))
	}
	_ = sess.close()
	t.logger.Info("session closed", slog.String("session_id", sessionID))
}

func (t *Transport) readLoop(sess *session) {
	for {
		kind, msg, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != gws.TextMessage {
			continue
		}
		var in inboundMessage
		if err := json.Unmarshal(msg, &in); err != nil {
			t.logger.Debug("ws_invalid_message",
				slog.String("session_id", sess.id),
				slog.String("reason_code", string(errorsx.ReasonTransportDecode)))
			continue
		}
		meta := sess.meta()
		switch in.Type {
		case TypeText:
			if in.Language != "" {
				meta[frames.MetaLanguage] = in.Language
			}
			meta[frames.MetaSource] = "client"
			t.emit(frames.NewTextFrame(sess.id, time.Now().UnixNano(), in.Text, meta))
		case TypeInterrupt:
			meta[frames.MetaReason] = "client_interrupt"
			t.emit(frames.NewControlFrame(sess.id, time.Now().UnixNano(), frames.ControlStartInterruption, meta))
		}
	}
}

// Send routes f to the session named in its metadata. Frames for unknown
// sessions are dropped silently.
func (t *Transport) Send(f frames.Frame) error {
	meta := f.Meta()
	id := meta[frames.MetaSessionID]
	if id == "" {
		id = meta[frames.MetaStreamID]
	}
	sess := t.session(id)
	if sess == nil {
		return nil
	}
	var err error
	switch v := f.(type) {
	case frames.TimingFrame:
		err = sess.enqueueJSON(v.Event())
	case frames.AudioFrame:
		err = sess.enqueue(gws.BinaryMessage, v.RawPayload())
	case frames.TextFrame:
		err = sess.enqueueJSON(botTextMessage{Type: TypeBotText, Text: v.Text()})
	case frames.ControlFrame:
		err = sess.enqueueJSON(controlMessage{Type: TypeControl, Code: string(v.Code()), Reason: meta[frames.MetaReason]})
	default:
		return nil
	}
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTransportSend)
	}
	return nil
}

func (t *Transport) emit(f frames.Frame) {
	t.recvMu.RLock()
	defer t.recvMu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.recvCh <- f:
	default:
		t.logger.Warn("ws_recv_full", slog.String("kind", string(f.Kind())))
	}
}

func (t *Transport) attach(sess *session) *session {
	t.mu.Lock()
	defer t.mu.Unlock()
	old := t.sessions[sess.id]
	t.sessions[sess.id] = sess
	return old
}

// detach removes sess and reports whether it was still the registered one.
func (t *Transport) detach(sess *session) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sessions[sess.id] != sess {
		return false
	}
	delete(t.sessions, sess.id)
	return true
}

func (t *Transport) session(id string) *session {
	if id == "" {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[id]
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	if t.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(origin, "https://")
	originHost = strings.TrimPrefix(originHost, "http://")
	for _, allowed := range t.cfg.AllowedOrigins {
		a := strings.TrimRight(strings.TrimSpace(allowed), "/")
		if a == "" {
			continue
		}
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}

var (
	_ transports.Transport      = (*Transport)(nil)
	_ transports.HandlerMounter = (*Transport)(nil)
	_ transports.ReadyReporter  = (*Transport)(nil)
)
