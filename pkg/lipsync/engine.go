// Package lipsync wires configuration, the synthesis client, per-session
// pipelines and the client transport into a runnable engine.
package lipsync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/harunnryd/lipsync/pkg/errorsx"
	"github.com/harunnryd/lipsync/pkg/frames"
	"github.com/harunnryd/lipsync/pkg/logging"
	"github.com/harunnryd/lipsync/pkg/metrics"
	"github.com/harunnryd/lipsync/pkg/observers"
	"github.com/harunnryd/lipsync/pkg/pipeline"
	"github.com/harunnryd/lipsync/pkg/processors"
	"github.com/harunnryd/lipsync/pkg/redact"
	"github.com/harunnryd/lipsync/pkg/resilience"
	"github.com/harunnryd/lipsync/pkg/runner"
	"github.com/harunnryd/lipsync/pkg/synthesis"
	"github.com/harunnryd/lipsync/pkg/transports"
)

const drainTimeout = 20 * time.Second

type Engine struct {
	cfg       Config
	registry  *pipeline.SessionRegistry
	transport transports.Transport
	providers *ProviderRegistry
	client    *synthesis.Client
	runner    *pipeline.Runner
	obs       metrics.Observer
	logger    *slog.Logger
}

type EngineOptions struct {
	Config    Config
	Providers *ProviderRegistry
	// Transport overrides the configured transport provider.
	Transport transports.Transport
	// Observer receives every event next to the built-in log and
	// timeline observers, e.g. the OTel observer.
	Observer metrics.Observer
	Logger   *slog.Logger
	// Banner receives the startup banner; nil writes to stdout.
	Banner io.Writer

	PreProcessors  []pipeline.FrameProcessor
	PostProcessors []pipeline.FrameProcessor
}

// NewEngine builds the synthesis client once and fails on any fatal
// configuration error before a client can connect.
func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	base := opts.Logger
	if base == nil {
		base = slog.Default()
	}
	logger := logging.NewComponentLogger(base, "engine")

	providers := opts.Providers
	if providers == nil {
		providers = DefaultProviderRegistry()
	}

	var timelineObs *observers.TimelineObserver
	multiObs := observers.NewMultiObserver(
		observers.NewLoggerObserver(logging.NewComponentLogger(base, "metrics")),
		observers.NewSummaryObserver(logging.NewComponentLogger(base, "summary")),
	)
	if dir := strings.TrimSpace(cfg.Observability.TimelineDir); dir != "" {
		if cfg.Observability.TimelineRetention > 0 {
			if n, err := observers.PurgeTimelines(dir, cfg.Observability.TimelineRetention); err != nil {
				logger.Warn("timeline_purge_failed", slog.String("error", err.Error()))
			} else if n > 0 {
				logger.Info("timeline_purged", slog.Int("files", n))
			}
		}
		timelineObs = observers.NewTimelineObserver(dir)
		multiObs.Add(timelineObs)
	}
	multiObs.Add(opts.Observer)
	asyncObs := metrics.NewAsyncObserver(multiObs, 2048)

	ttsCfg, err := TTSConfig(cfg.Vendors.TTS)
	if err != nil {
		asyncObs.Close()
		return nil, err
	}
	backends, err := providers.BuildTTS(ttsCfg)
	if err != nil {
		asyncObs.Close()
		return nil, err
	}
	clientOpts := []synthesis.Option{
		synthesis.WithObserver(asyncObs),
		synthesis.WithLogger(logging.NewComponentLogger(base, "synthesis")),
		synthesis.WithRetry(resilience.NewRetryPolicy(cfg.Synthesis.Retries, cfg.Synthesis.RetryBackoff)),
	}
	if cfg.Synthesis.BreakerThreshold > 0 {
		clientOpts = append(clientOpts, synthesis.WithBreaker(
			resilience.NewCircuitBreaker(cfg.Synthesis.BreakerThreshold, cfg.Synthesis.BreakerCooldown)))
	}
	client, err := synthesis.New(ttsCfg, backends.Plain, backends.Native, clientOpts...)
	if err != nil {
		asyncObs.Close()
		return nil, err
	}

	transport := opts.Transport
	if transport == nil {
		transport, err = providers.BuildTransport(cfg.Transports)
		if err != nil {
			asyncObs.Close()
			return nil, err
		}
	}

	logger.Info("lipsync_init",
		slog.String("environment", cfg.Environment),
		slog.String("tts_provider", ttsCfg.Backend),
		slog.String("model", ttsCfg.Model),
		slog.String("voice", ttsCfg.Voice),
		slog.String("base_url", ttsCfg.BaseURL),
		slog.String("api_key", redact.Secret(ttsCfg.APIKey)),
		slog.Bool("native_timing", ttsCfg.NativeTiming()),
		slog.String("transport", transport.Name()),
	)

	sink := func(f frames.Frame) {
		if err := transport.Send(f); err != nil {
			logger.Debug("transport_send_failed",
				slog.String("session_id", f.Meta()[frames.MetaSessionID]),
				slog.String("reason_code", string(errorsx.Reason(err))),
				slog.String("error", err.Error()))
		}
	}

	var normalizer pipeline.FrameProcessor
	if len(cfg.Normalizer.Replacements) > 0 {
		normalizer = processors.NewTextNormalizer(processors.TextNormalizerConfig{
			Replacements: cfg.Normalizer.Replacements,
		})
	}

	logged := false
	registry := pipeline.NewSessionRegistry(func(ctx context.Context, sessionID, traceID string) (pipeline.Orchestrator, error) {
		tp := processors.NewTimingProcessor(client)
		tp.SetLogger(logging.NewComponentLogger(base, "timing_processor"))

		builder := pipeline.NewBuilder()
		for _, p := range opts.PreProcessors {
			builder = builder.WithNormalizer(p)
		}
		builder = builder.WithNormalizer(normalizer)
		if cfg.MaxChars > 0 {
			builder = builder.WithProcessor(processors.NewTextSplitter(cfg.MaxChars))
		}
		builder = builder.WithTTS(tp)
		for _, p := range opts.PostProcessors {
			builder = builder.WithSerializer(p)
		}
		if !logged {
			pipeline.LogConfiguration(logger, cfg.Pipeline, builder.Processors())
			logged = true
		}

		orch := builder.Build(cfg.Pipeline)
		orch.SetContext(ctx)
		orch.SetObserver(asyncObs)
		orch.SetSink(sink)
		return orch, nil
	})

	e := &Engine{
		cfg:       cfg,
		registry:  registry,
		transport: transport,
		providers: providers,
		client:    client,
		obs:       asyncObs,
		logger:    logger,
	}

	hooks := runner.Hooks{
		OnStart: func() error {
			attrs := []any{slog.String("message", "Lipsync Engine Ready")}
			if rr, ok := transport.(transports.ReadyReporter); ok {
				for k, v := range rr.ReadyFields() {
					attrs = append(attrs, slog.Any(k, v))
				}
			}
			logger.Info("engine_ready", attrs...)
			return nil
		},
		OnStop: func() {
			asyncObs.Close()
			if timelineObs != nil {
				_ = timelineObs.Close()
			}
			logger.Info("shutdown",
				slog.Int("goroutines", runtime.NumGoroutine()),
				slog.Int64("active_sessions", registry.Count()))
		},
	}

	drainer := pipeline.DrainerFunc(func() error {
		registry.SetDraining(true)
		_ = transport.Stop()
		if n := registry.CloseAll(); n > 0 {
			logger.Info("sessions_closed", slog.Int("count", n))
		}
		ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if !registry.WaitForEmpty(ctx, 200*time.Millisecond) {
			return fmt.Errorf("drain: %d sessions still active", registry.Count())
		}
		return nil
	})

	e.runner = pipeline.NewDrainRunner(drainer, hooks, drainTimeout+5*time.Second)
	if opts.Banner != nil {
		e.runner.Lifecycle().SetBannerOutput(opts.Banner)
	}
	return e, nil
}

// Run starts the transport and blocks until ctx is cancelled or Stop is
// called, then drains every session.
func (e *Engine) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := e.transport.Start(ctx); err != nil {
		return err
	}
	go e.routeTransport()
	return e.runner.Run(ctx)
}

func (e *Engine) Stop() error {
	return e.runner.Stop()
}

// routeTransport feeds inbound frames to the session they belong to. It
// returns once the transport closes its receive channel.
func (e *Engine) routeTransport() {
	for f := range e.transport.Recv() {
		meta := f.Meta()
		sessionID := meta[frames.MetaSessionID]
		if sessionID == "" {
			sessionID = meta[frames.MetaStreamID]
		}
		if sessionID == "" {
			continue
		}
		traceID := meta[frames.MetaTraceID]

		if sf, ok := f.(frames.SystemFrame); ok {
			switch sf.Name() {
			case frames.SystemSessionStart:
				if _, created, err := e.registry.GetOrCreate(sessionID, traceID); err != nil {
					e.logger.Warn("session_rejected",
						slog.String("session_id", sessionID),
						slog.String("error", err.Error()))
				} else if created {
					e.recordSession(metrics.EventSessionStart, sessionID, traceID)
				}
				continue
			case frames.SystemSessionEnd:
				if e.registry.Remove(sessionID) {
					e.recordSession(metrics.EventSessionEnd, sessionID, traceID)
				}
				continue
			}
		}

		sess, created, err := e.registry.GetOrCreate(sessionID, traceID)
		if err != nil || sess == nil {
			continue
		}
		if created {
			e.recordSession(metrics.EventSessionStart, sessionID, traceID)
		}
		e.deliver(sess, f)
	}
}

// deliver never blocks the router: drop mode discards on a full input and
// wait mode queues on the session so only that session waits.
func (e *Engine) deliver(sess *pipeline.Session, f frames.Frame) {
	if e.cfg.Pipeline.Backpressure == pipeline.BackpressureDrop {
		select {
		case sess.Orch.In() <- f:
		default:
			e.obs.RecordEvent(metrics.MetricsEvent{
				Name: metrics.EventFrameDrop,
				Time: time.Now(),
				Tags: map[string]string{
					"session_id": sess.ID,
					"kind":       string(f.Kind()),
					"component":  "engine",
				},
			})
		}
		return
	}
	sess.Enqueue(f)
}

func (e *Engine) recordSession(name, sessionID, traceID string) {
	e.obs.RecordEvent(metrics.MetricsEvent{
		Name:  name,
		Time:  time.Now(),
		Value: float64(e.registry.Count()),
		Tags: map[string]string{
			"session_id": sessionID,
			"stream_id":  sessionID,
			"trace_id":   traceID,
		},
	})
}

func (e *Engine) Config() Config                      { return e.cfg }
func (e *Engine) Transport() transports.Transport     { return e.transport }
func (e *Engine) Registry() *pipeline.SessionRegistry { return e.registry }
func (e *Engine) Client() *synthesis.Client           { return e.client }
func (e *Engine) State() runner.State                 { return e.runner.State() }
func (e *Engine) ProviderRegistry() *ProviderRegistry { return e.providers }
