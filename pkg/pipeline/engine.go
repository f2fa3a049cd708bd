package pipeline

import (
	"context"
	"log/slog"

	"github.com/harunnryd/lipsync/pkg/frames"
	"github.com/harunnryd/lipsync/pkg/metrics"
)

type FrameProcessor interface {
	Process(frames.Frame) ([]frames.Frame, error)
	Name() string
}

// ContextAware processors receive the orchestrator context on Start so
// that Stop abandons their in-flight work.
type ContextAware interface {
	SetContext(ctx context.Context)
}

// ObserverAware processors receive the orchestrator observer on Start.
type ObserverAware interface {
	SetObserver(obs metrics.Observer)
}

type BackpressureMode int

const (
	BackpressureWait BackpressureMode = iota
	BackpressureDrop
)

// ParseBackpressure maps "drop" to BackpressureDrop; anything else waits.
func ParseBackpressure(v string) BackpressureMode {
	if v == "drop" {
		return BackpressureDrop
	}
	return BackpressureWait
}

func (m BackpressureMode) String() string {
	if m == BackpressureDrop {
		return "drop"
	}
	return "wait"
}

type Config struct {
	// Buffer is the capacity of the In and Out channels.
	Buffer       int              `mapstructure:"buffer"`
	Backpressure BackpressureMode `mapstructure:"-"`
}

type PipelineConfig struct {
	Config     Config
	Processors []FrameProcessor
}

func LogConfiguration(logger *slog.Logger, cfg Config, procs []FrameProcessor) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("pipeline_config",
		"buffer", cfg.Buffer,
		"backpressure", cfg.Backpressure.String(),
		"processors", len(procs),
	)
}

type Orchestrator interface {
	Start() error
	Stop() error
	In() chan frames.Frame
	Out() chan frames.Frame
	AddProcessor(p FrameProcessor) error
	SetContext(ctx context.Context)
	SetSink(sink func(frames.Frame))
	SetObserver(obs metrics.Observer)
}
