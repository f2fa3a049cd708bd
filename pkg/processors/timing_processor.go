package processors

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/harunnryd/lipsync/pkg/frames"
	"github.com/harunnryd/lipsync/pkg/logging"
	"github.com/harunnryd/lipsync/pkg/metrics"
	"github.com/harunnryd/lipsync/pkg/pipeline"
	"github.com/harunnryd/lipsync/pkg/redact"
	"github.com/harunnryd/lipsync/pkg/synthesis"
	"github.com/harunnryd/lipsync/pkg/timing"
)

const logPreviewRunes = 120

// TimingSynthesizer is the part of synthesis.Client the processor needs.
type TimingSynthesizer interface {
	SynthesizeWithTiming(ctx context.Context, text string) (synthesis.Result, error)
}

// TimingProcessor converts each text frame into a timing frame followed by
// the audio frames it describes. Everything else passes through.
type TimingProcessor struct {
	client TimingSynthesizer
	ctx    context.Context
	obs    metrics.Observer
	pts    *frames.PTSGen
	seq    atomic.Int64
	logger *slog.Logger
}

func NewTimingProcessor(client TimingSynthesizer) *TimingProcessor {
	p := &TimingProcessor{
		client: client,
		ctx:    context.Background(),
		pts:    frames.NewPTSGen(),
		logger: logging.NewComponentLogger(slog.Default(), "timing_processor"),
	}
	// seeded from the wall clock so ids stay unique across restarts
	p.seq.Store(time.Now().UnixMilli())
	return p
}

func (p *TimingProcessor) Name() string { return "timing_processor" }

func (p *TimingProcessor) SetObserver(obs metrics.Observer) { p.obs = obs }

func (p *TimingProcessor) SetLogger(logger *slog.Logger) {
	if logger != nil {
		p.logger = logging.NewComponentLogger(logger, "timing_processor")
	}
}

// SetContext bounds in-flight synthesis; cancelling ctx abandons the call.
func (p *TimingProcessor) SetContext(ctx context.Context) {
	if ctx != nil {
		p.ctx = ctx
	}
}

type inputKind int

const (
	passthrough inputKind = iota
	textUnit
)

func classify(f frames.Frame) (frames.TextFrame, inputKind) {
	if f == nil || f.Kind() != frames.KindText {
		return frames.TextFrame{}, passthrough
	}
	tf, ok := f.(frames.TextFrame)
	if !ok || strings.TrimSpace(tf.Text()) == "" {
		return frames.TextFrame{}, passthrough
	}
	return tf, textUnit
}

func (p *TimingProcessor) Process(f frames.Frame) ([]frames.Frame, error) {
	tf, kind := classify(f)
	if kind == passthrough {
		return []frames.Frame{f}, nil
	}
	return p.processText(tf), nil
}

func (p *TimingProcessor) processText(tf frames.TextFrame) (out []frames.Frame) {
	meta := tf.Meta()
	streamID := meta[frames.MetaStreamID]
	text := tf.Text()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("timing processor panic, passing text through",
				slog.String("stream_id", streamID),
				slog.Any("panic", r))
			p.record(metrics.EventTextFallback, meta, 1, nil)
			out = []frames.Frame{tf}
		}
	}()

	start := time.Now()
	res, err := p.client.SynthesizeWithTiming(p.ctx, text)
	elapsed := time.Since(start)
	if err != nil {
		p.logger.Error("synthesis failed, passing text through",
			slog.String("stream_id", streamID),
			slog.String("trace_id", meta[frames.MetaTraceID]),
			slog.String("text", redact.Preview(text, logPreviewRunes)),
			slog.String("error", err.Error()))
		p.record(metrics.EventTextFallback, meta, 1, nil)
		return []frames.Frame{tf}
	}

	seq := p.seq.Add(1)
	outMeta := propagate(meta)
	outMeta[frames.MetaSequenceID] = strconv.FormatInt(seq, 10)
	outMeta[frames.MetaSynthesisPath] = string(res.Path)

	event := timing.NewEvent(seq, text, res.Timings)
	out = make([]frames.Frame, 0, 1+len(res.Chunks))
	out = append(out, frames.NewTimingFrame(streamID, p.pts.Next(streamID), event, outMeta))
	audioBytes := 0
	for _, chunk := range res.Chunks {
		audioBytes += len(chunk.Data)
		out = append(out, frames.NewAudioFrame(streamID, p.pts.Next(streamID), chunk.Data, chunk.SampleRate, chunk.Channels, outMeta))
	}

	p.logger.Debug("timing emitted",
		slog.String("stream_id", streamID),
		slog.Int64("sequence_id", seq),
		slog.String("synthesis_path", string(res.Path)),
		slog.Int("words", event.Len()),
		slog.Int("audio_chunks", len(res.Chunks)),
		slog.String("text", redact.Preview(text, logPreviewRunes)))
	fields := map[string]any{
		"latency_ms":  elapsed.Milliseconds(),
		"audio_bytes": audioBytes,
	}
	if len(res.Chunks) > 0 {
		fields["audio_seconds"] = audioSeconds(audioBytes, res.Chunks[0].SampleRate, res.Chunks[0].Channels)
	}
	p.record(metrics.EventTimingEmitted, outMeta, float64(event.Len()), fields)
	return out
}

// propagate keeps the identifying metadata of the source frame.
func propagate(meta map[string]string) map[string]string {
	out := make(map[string]string, 6)
	for _, k := range []string{frames.MetaStreamID, frames.MetaSessionID, frames.MetaTraceID, frames.MetaLanguage} {
		if v := meta[k]; v != "" {
			out[k] = v
		}
	}
	out[frames.MetaSource] = "tts"
	return out
}

// audioSeconds assumes 16-bit PCM.
func audioSeconds(n, rate, channels int) float64 {
	if rate <= 0 || channels <= 0 {
		return 0
	}
	return float64(n) / float64(2*rate*channels)
}

func (p *TimingProcessor) record(name string, meta map[string]string, value float64, fields map[string]any) {
	if p.obs == nil {
		return
	}
	tags := map[string]string{
		frames.MetaStreamID:  meta[frames.MetaStreamID],
		frames.MetaSessionID: meta[frames.MetaSessionID],
		frames.MetaTraceID:   meta[frames.MetaTraceID],
	}
	if path := meta[frames.MetaSynthesisPath]; path != "" {
		tags[frames.MetaSynthesisPath] = path
	}
	p.obs.RecordEvent(metrics.MetricsEvent{
		Name:   name,
		Time:   time.Now(),
		Value:  value,
		Tags:   tags,
		Fields: fields,
	})
}

var _ pipeline.FrameProcessor = (*TimingProcessor)(nil)
