package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/lipsync/pkg/frames"
	"github.com/harunnryd/lipsync/pkg/metrics"
)

// SessionSummary aggregates what one session synthesized.
type SessionSummary struct {
	SessionID     string
	Units         int
	Native        int
	Estimated     int
	TextFallbacks int
	Words         int
	AudioSeconds  float64
	TotalLatency  time.Duration
	Started       time.Time
}

// MeanLatency returns the average synthesis latency per emitted unit.
func (s SessionSummary) MeanLatency() time.Duration {
	if s.Units == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(s.Units)
}

// SummaryObserver logs a SessionSummary when a session ends.
type SummaryObserver struct {
	mu       sync.Mutex
	sessions map[string]*SessionSummary
	log      *slog.Logger
	onClose  func(SessionSummary)
}

func NewSummaryObserver(log *slog.Logger) *SummaryObserver {
	if log == nil {
		log = slog.Default()
	}
	return &SummaryObserver{
		sessions: make(map[string]*SessionSummary),
		log:      log,
	}
}

// OnClose registers a callback for finished sessions.
func (o *SummaryObserver) OnClose(fn func(SessionSummary)) { o.onClose = fn }

func (o *SummaryObserver) RecordEvent(ev metrics.MetricsEvent) {
	id := sessionKey(ev.Tags)
	if id == "" {
		return
	}
	switch ev.Name {
	case metrics.EventSessionStart, metrics.EventTimingEmitted, metrics.EventTextFallback:
	case metrics.EventSessionEnd:
		o.finish(id)
		return
	default:
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.sessions[id]
	if s == nil {
		s = &SessionSummary{SessionID: id, Started: ev.Time}
		o.sessions[id] = s
	}
	switch ev.Name {
	case metrics.EventTimingEmitted:
		s.Units++
		s.Words += int(ev.Value)
		if ev.Tags[frames.MetaSynthesisPath] == "native" {
			s.Native++
		} else {
			s.Estimated++
		}
		if v, ok := ev.Fields["latency_ms"].(int64); ok {
			s.TotalLatency += time.Duration(v) * time.Millisecond
		}
		if v, ok := ev.Fields["audio_seconds"].(float64); ok {
			s.AudioSeconds += v
		}
	case metrics.EventTextFallback:
		s.TextFallbacks++
	}
}

func (o *SummaryObserver) finish(id string) {
	o.mu.Lock()
	s := o.sessions[id]
	delete(o.sessions, id)
	o.mu.Unlock()
	if s == nil {
		return
	}
	o.log.Info("session summary",
		slog.String("session_id", id),
		slog.Int("units", s.Units),
		slog.Int("native", s.Native),
		slog.Int("estimated", s.Estimated),
		slog.Int("text_fallbacks", s.TextFallbacks),
		slog.Int("words", s.Words),
		slog.Float64("audio_seconds", s.AudioSeconds),
		slog.Int64("mean_latency_ms", s.MeanLatency().Milliseconds()),
		slog.Int64("duration_ms", time.Since(s.Started).Milliseconds()),
	)
	if o.onClose != nil {
		o.onClose(*s)
	}
}

var _ metrics.Observer = (*SummaryObserver)(nil)
