package observers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/harunnryd/lipsync/pkg/metrics"
)

func newTestOTel(t *testing.T) (*OTelObserver, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	o, err := NewOTelObserver(mp)
	if err != nil {
		t.Fatalf("NewOTelObserver: %v", err)
	}
	return o, reader
}

func findMetric(t *testing.T, reader *sdkmetric.ManualReader, name string) *metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestOTelObserverCounters(t *testing.T) {
	o, reader := newTestOTel(t)
	o.RecordEvent(metrics.MetricsEvent{Name: metrics.EventSynthesisFallback, Tags: map[string]string{"backend": "kokoro", "reason": "tts_status"}})
	o.RecordEvent(metrics.MetricsEvent{Name: metrics.EventSynthesisFallback, Tags: map[string]string{"backend": "kokoro", "reason": "tts_status"}})
	o.RecordEvent(metrics.MetricsEvent{Name: metrics.EventSynthesisLatency, Value: 120, Tags: map[string]string{"backend": "kokoro", "path": "estimated"}})
	o.RecordEvent(metrics.MetricsEvent{Name: metrics.EventSessionStart})

	m := findMetric(t, reader, "lipsync.synthesis.fallbacks")
	if m == nil {
		t.Fatalf("fallback counter not found")
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 2 {
		t.Fatalf("unexpected fallback data %+v", m.Data)
	}

	h := findMetric(t, reader, "lipsync.synthesis.duration")
	if h == nil {
		t.Fatalf("duration histogram not found")
	}
	hist, ok := h.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Fatalf("unexpected histogram data %+v", h.Data)
	}

	s := findMetric(t, reader, "lipsync.sessions.active")
	if s == nil {
		t.Fatalf("sessions gauge not found")
	}
	if g := s.Data.(metricdata.Sum[int64]); g.DataPoints[0].Value != 1 {
		t.Fatalf("expected one active session")
	}
}

func TestOTelObserverIgnoresUnknown(t *testing.T) {
	o, reader := newTestOTel(t)
	o.RecordEvent(metrics.MetricsEvent{Name: "something_else"})
	if m := findMetric(t, reader, "lipsync.synthesis.results"); m != nil {
		t.Fatalf("expected no data for unknown events")
	}
}

func TestTimelineObserverWritesPerSession(t *testing.T) {
	dir := t.TempDir()
	obs := NewTimelineObserver(dir)
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventFrameOut, Time: time.Now(), Tags: map[string]string{
		"session_id": "sess/1", "kind": "timing", "sequence_id": "42",
	}})
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventFrameOut, Time: time.Now(), Tags: map[string]string{
		"session_id": "sess/1", "kind": "audio", "sequence_id": "42",
	}})
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventSessionEnd, Time: time.Now(), Tags: map[string]string{"session_id": "sess/1"}})
	defer obs.Close()

	b, err := os.ReadFile(filepath.Join(dir, "sess_1.jsonl"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	var first map[string]any
	_ = json.Unmarshal([]byte(lines[0]), &first)
	if first["event"] != "timing_out" || first["sequence_id"] != "42" {
		t.Fatalf("unexpected first entry %v", first)
	}
	if !strings.Contains(lines[1], "audio_out") {
		t.Fatalf("expected audio_out after timing_out")
	}
}

func TestPurgeTimelines(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.jsonl")
	keep := filepath.Join(dir, "notes.txt")
	fresh := filepath.Join(dir, "fresh.jsonl")
	for _, p := range []string{old, keep, fresh} {
		if err := os.WriteFile(p, []byte("{}\n"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	past := time.Now().Add(-48 * time.Hour)
	_ = os.Chtimes(old, past, past)
	_ = os.Chtimes(keep, past, past)

	n, err := PurgeTimelines(dir, 24*time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("expected one removal, got %d %v", n, err)
	}
	if _, err := os.Stat(keep); err != nil {
		t.Fatalf("expected non-timeline file to stay")
	}
	if n, err := PurgeTimelines(filepath.Join(dir, "missing"), time.Hour); n != 0 || err != nil {
		t.Fatalf("expected missing dir to be a no-op")
	}
}

func TestSummaryObserver(t *testing.T) {
	var buf bytes.Buffer
	obs := NewSummaryObserver(slog.New(slog.NewJSONHandler(&buf, nil)))
	var got SessionSummary
	obs.OnClose(func(s SessionSummary) { got = s })
	tags := func(path string) map[string]string {
		return map[string]string{"session_id": "s1", "synthesis_path": path}
	}
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventSessionStart, Time: time.Now(), Tags: tags("")})
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventTimingEmitted, Value: 3, Tags: tags("native"),
		Fields: map[string]any{"latency_ms": int64(100), "audio_seconds": 1.5}})
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventTimingEmitted, Value: 2, Tags: tags("estimated"),
		Fields: map[string]any{"latency_ms": int64(300), "audio_seconds": 0.5}})
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventTextFallback, Tags: tags("")})
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventSessionEnd, Tags: tags("")})

	if got.Units != 2 || got.Native != 1 || got.Estimated != 1 || got.TextFallbacks != 1 || got.Words != 5 {
		t.Fatalf("unexpected summary %+v", got)
	}
	if got.AudioSeconds != 2.0 || got.MeanLatency() != 200*time.Millisecond {
		t.Fatalf("unexpected audio/latency %+v", got)
	}
	if !strings.Contains(buf.String(), "session summary") {
		t.Fatalf("expected summary log line")
	}
}

func TestLoggerObserverRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	NewLoggerObserver(log).RecordEvent(metrics.MetricsEvent{Name: "frame_in"})
	if buf.Len() != 0 {
		t.Fatalf("expected debug events to be filtered")
	}
	NewLoggerObserver(log).WithLevel(slog.LevelInfo).RecordEvent(metrics.MetricsEvent{Name: "frame_in"})
	if !strings.Contains(buf.String(), "name=frame_in") {
		t.Fatalf("expected event to be logged, got %q", buf.String())
	}
	multi := NewMultiObserver(nil)
	mem := metrics.NewMemoryObserver()
	multi.Add(mem)
	multi.RecordEvent(metrics.MetricsEvent{Name: "x"})
	if mem.Count("x") != 1 {
		t.Fatalf("expected multi observer to fan out")
	}
}

func TestTimelineObserverFlushKeepsSessionOpen(t *testing.T) {
	dir := t.TempDir()
	obs := NewTimelineObserver(dir)
	defer obs.Close()
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventFrameOut, Time: time.Now(), Tags: map[string]string{
		"session_id": "live", "kind": "text",
	}})
	path := filepath.Join(dir, "live.jsonl")
	if err := obs.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil || !strings.Contains(string(b), "text_out") {
		t.Fatalf("expected flushed text_out line, got %q %v", b, err)
	}
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventFrameOut, Time: time.Now(), Tags: map[string]string{
		"session_id": "live", "kind": "audio",
	}})
	if err := obs.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	b, _ = os.ReadFile(path)
	if n := strings.Count(string(b), "\n"); n != 2 {
		t.Fatalf("expected two lines after close, got %d", n)
	}
}
