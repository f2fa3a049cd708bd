package observers

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/lipsync/pkg/frames"
	"github.com/harunnryd/lipsync/pkg/metrics"
	"github.com/harunnryd/lipsync/pkg/redact"
)

// TimelineObserver writes one JSONL file per session so the order of
// timing and audio frames sent to a client can be inspected afterwards.
// Lines are buffered per session and flushed when the session ends.
type TimelineObserver struct {
	dir   string
	mu    sync.Mutex
	sinks map[string]*timelineSink
}

type timelineSink struct {
	f *os.File
	w *bufio.Writer
}

func (s *timelineSink) close() error {
	return errors.Join(s.w.Flush(), s.f.Close())
}

type timelineEntry struct {
	Time       time.Time      `json:"time"`
	Event      string         `json:"event"`
	SessionID  string         `json:"session_id,omitempty"`
	StreamID   string         `json:"stream_id,omitempty"`
	TraceID    string         `json:"trace_id,omitempty"`
	SequenceID string         `json:"sequence_id,omitempty"`
	Value      float64        `json:"value,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
}

func NewTimelineObserver(dir string) *TimelineObserver {
	return &TimelineObserver{dir: strings.TrimSpace(dir), sinks: make(map[string]*timelineSink)}
}

func (o *TimelineObserver) RecordEvent(ev metrics.MetricsEvent) {
	key := timelineName(sessionKey(ev.Tags))
	if key == "" || o.dir == "" {
		return
	}
	line, err := json.Marshal(timelineEntry{
		Time:       ev.Time.UTC(),
		Event:      mapEventName(ev),
		SessionID:  ev.Tags[frames.MetaSessionID],
		StreamID:   ev.Tags[frames.MetaStreamID],
		TraceID:    ev.Tags[frames.MetaTraceID],
		SequenceID: ev.Tags[frames.MetaSequenceID],
		Value:      ev.Value,
		Fields:     sanitizeFields(ev.Fields),
	})
	if err != nil {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	sink, err := o.sinkLocked(key)
	if err != nil {
		return
	}
	_, _ = sink.w.Write(append(line, '\n'))
	if ev.Name == metrics.EventSessionEnd {
		delete(o.sinks, key)
		_ = sink.close()
	}
}

// Flush pushes buffered lines of every open session to disk.
func (o *TimelineObserver) Flush() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	var err error
	for _, sink := range o.sinks {
		err = errors.Join(err, sink.w.Flush())
	}
	return err
}

func (o *TimelineObserver) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	var err error
	for key, sink := range o.sinks {
		err = errors.Join(err, sink.close())
		delete(o.sinks, key)
	}
	return err
}

func (o *TimelineObserver) sinkLocked(key string) (*timelineSink, error) {
	if sink, ok := o.sinks[key]; ok {
		return sink, nil
	}
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(o.dir, key+timelineExt), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	sink := &timelineSink{f: f, w: bufio.NewWriter(f)}
	o.sinks[key] = sink
	return sink, nil
}

func sessionKey(tags map[string]string) string {
	if tags == nil {
		return ""
	}
	if id := tags[frames.MetaSessionID]; id != "" {
		return id
	}
	return tags[frames.MetaStreamID]
}

// mapEventName gives frame events a name that says what went over the wire.
func mapEventName(ev metrics.MetricsEvent) string {
	if ev.Name != metrics.EventFrameOut && ev.Name != metrics.EventFrameIn {
		return ev.Name
	}
	dir := "out"
	if ev.Name == metrics.EventFrameIn {
		dir = "in"
	}
	switch kind := ev.Tags["kind"]; kind {
	case string(frames.KindAudio), string(frames.KindTiming), string(frames.KindText):
		return kind + "_" + dir
	default:
		return ev.Name
	}
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// timelineName maps a session id to a file name that cannot escape dir.
func timelineName(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	return unsafeName.ReplaceAllString(id, "_")
}

func sanitizeFields(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if s, ok := v.(string); ok {
			out[k] = redact.Text(s)
			continue
		}
		out[k] = v
	}
	return out
}

var (
	_ metrics.Observer = (*TimelineObserver)(nil)
	_ metrics.Flusher  = (*TimelineObserver)(nil)
)
