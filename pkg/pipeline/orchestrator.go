package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/lipsync/pkg/errorsx"
	"github.com/harunnryd/lipsync/pkg/frames"
	"github.com/harunnryd/lipsync/pkg/metrics"
)

const defaultBuffer = 64

var (
	ErrStarted  = errors.New("pipeline already started")
	ErrDraining = errors.New("pipeline registry is draining")
)

// orchestrator runs every frame through all processors on a single worker,
// so one text unit is fully handled before the next one is read.
type orchestrator struct {
	in      chan frames.Frame
	out     chan frames.Frame
	procs   []FrameProcessor
	cfg     Config
	ctx     context.Context
	cancel  context.CancelFunc
	sink    func(frames.Frame)
	obs     metrics.Observer
	started bool
	wg      sync.WaitGroup
	stop    sync.Once
}

func New(cfg Config) Orchestrator {
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	o := &orchestrator{
		in:  make(chan frames.Frame, cfg.Buffer),
		out: make(chan frames.Frame, cfg.Buffer),
		cfg: cfg,
	}
	o.ctx, o.cancel = context.WithCancel(context.Background())
	return o
}

func NewWithPipelineConfig(pc PipelineConfig) Orchestrator {
	orch := New(pc.Config)
	logPipeline(pc.Processors)
	for _, p := range pc.Processors {
		_ = orch.AddProcessor(p)
	}
	return orch
}

// SetContext replaces the parent context. It has no effect after Start.
func (o *orchestrator) SetContext(ctx context.Context) {
	if ctx == nil || o.started {
		return
	}
	o.cancel()
	o.ctx, o.cancel = context.WithCancel(ctx)
}

func (o *orchestrator) In() chan frames.Frame            { return o.in }
func (o *orchestrator) Out() chan frames.Frame           { return o.out }
func (o *orchestrator) SetSink(sink func(frames.Frame))  { o.sink = sink }
func (o *orchestrator) SetObserver(obs metrics.Observer) { o.obs = obs }

func (o *orchestrator) AddProcessor(p FrameProcessor) error {
	if o.started {
		return ErrStarted
	}
	if p == nil {
		return errors.New("nil processor")
	}
	o.procs = append(o.procs, p)
	return nil
}

func (o *orchestrator) Start() error {
	if o.started {
		return ErrStarted
	}
	o.started = true
	for _, p := range o.procs {
		if ca, ok := p.(ContextAware); ok {
			ca.SetContext(o.ctx)
		}
		if oa, ok := p.(ObserverAware); ok && o.obs != nil {
			oa.SetObserver(o.obs)
		}
	}
	o.wg.Add(1)
	go o.run()
	return nil
}

// Stop cancels in-flight work, waits for the worker and closes Out.
func (o *orchestrator) Stop() error {
	o.stop.Do(func() {
		o.cancel()
		o.wg.Wait()
		close(o.out)
	})
	return nil
}

func (o *orchestrator) run() {
	defer o.wg.Done()
	for {
		select {
		case <-o.ctx.Done():
			return
		case f, ok := <-o.in:
			if !ok {
				return
			}
			o.recordIn(f)
			for _, e := range o.process(f) {
				if o.ctx.Err() != nil {
					o.recordDrop(e)
					continue
				}
				o.recordOut(e)
				o.emit(e)
			}
		}
	}
}

func (o *orchestrator) process(f frames.Frame) []frames.Frame {
	out := []frames.Frame{f}
	for _, p := range o.procs {
		var next []frames.Frame
		for _, cur := range out {
			start := time.Now()
			r, err := p.Process(cur)
			o.recordStage(p.Name(), cur, start)
			if err != nil {
				slog.Warn("processor error",
					slog.String("processor", p.Name()),
					slog.String(frames.MetaStreamID, streamIDFromFrame(cur)),
					slog.String("reason_code", string(errorsx.Reason(err))),
					slog.String("error", err.Error()))
				o.recordDrop(cur)
				continue
			}
			next = append(next, r...)
		}
		out = next
		if len(out) == 0 {
			break
		}
	}
	return out
}

func (o *orchestrator) emit(f frames.Frame) {
	if o.sink != nil {
		o.sink(f)
		return
	}
	switch o.cfg.Backpressure {
	case BackpressureDrop:
		select {
		case o.out <- f:
		default:
			o.recordDrop(f)
		}
	default:
		select {
		case <-o.ctx.Done():
			o.recordDrop(f)
		case o.out <- f:
		}
	}
}

func (o *orchestrator) recordStage(name string, f frames.Frame, start time.Time) {
	if o.obs == nil {
		return
	}
	o.obs.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventStageLatency,
		Time:  time.Now(),
		Value: float64(time.Since(start).Microseconds()),
		Tags: map[string]string{
			"processor":         name,
			frames.MetaStreamID: streamIDFromFrame(f),
			frames.MetaTraceID:  traceIDFromFrame(f),
		},
	})
}

func (o *orchestrator) recordIn(f frames.Frame) {
	o.recordFrame(metrics.EventFrameIn, f)
}

func (o *orchestrator) recordOut(f frames.Frame) {
	o.recordFrame(metrics.EventFrameOut, f)
}

func (o *orchestrator) recordDrop(f frames.Frame) {
	o.recordFrame(metrics.EventFrameDrop, f)
}

func (o *orchestrator) recordFrame(name string, f frames.Frame) {
	if o.obs == nil {
		return
	}
	tags := map[string]string{
		frames.MetaStreamID:  streamIDFromFrame(f),
		frames.MetaSessionID: sessionIDFromFrame(f),
		frames.MetaTraceID:   traceIDFromFrame(f),
		"kind":               kindFromFrame(f),
	}
	addFrameDetailTags(tags, f)
	o.obs.RecordEvent(metrics.MetricsEvent{
		Name: name,
		Time: time.Now(),
		Tags: tags,
	})
}

func streamIDFromFrame(f frames.Frame) string {
	if f == nil {
		return ""
	}
	return f.Meta()[frames.MetaStreamID]
}

func sessionIDFromFrame(f frames.Frame) string {
	if f == nil {
		return ""
	}
	return f.Meta()[frames.MetaSessionID]
}

func traceIDFromFrame(f frames.Frame) string {
	if f == nil {
		return ""
	}
	return f.Meta()[frames.MetaTraceID]
}

func logPipeline(procs []FrameProcessor) {
	if len(procs) == 0 {
		return
	}
	names := make([]string, 0, len(procs))
	for _, p := range procs {
		names = append(names, p.Name())
	}
	slog.Info("pipeline", "order", strings.Join(names, " -> "))
}

func kindFromFrame(f frames.Frame) string {
	if f == nil {
		return ""
	}
	return string(f.Kind())
}

func addFrameDetailTags(tags map[string]string, f frames.Frame) {
	if tags == nil || f == nil {
		return
	}
	meta := f.Meta()
	if source := meta[frames.MetaSource]; source != "" {
		tags["source"] = source
	}
	if seq := meta[frames.MetaSequenceID]; seq != "" {
		tags[frames.MetaSequenceID] = seq
	}
	switch v := f.(type) {
	case frames.ControlFrame:
		tags["control_code"] = string(v.Code())
		if reason := meta[frames.MetaReason]; reason != "" {
			tags["control_reason"] = reason
		}
	case frames.SystemFrame:
		if name := v.Name(); name != "" {
			tags["system_name"] = name
		}
	case frames.TimingFrame:
		tags[frames.MetaSynthesisPath] = meta[frames.MetaSynthesisPath]
	}
}
