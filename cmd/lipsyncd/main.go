package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harunnryd/lipsync/pkg/lipsync"
	"github.com/harunnryd/lipsync/pkg/logging"
	"github.com/harunnryd/lipsync/pkg/metrics"
	"github.com/harunnryd/lipsync/pkg/observers"
	"github.com/harunnryd/lipsync/pkg/redact"
	"github.com/harunnryd/lipsync/pkg/runner"
	"github.com/harunnryd/lipsync/pkg/transports"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "lipsyncd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := lipsync.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger := logging.InitLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	redact.SetEnabled(cfg.Privacy.RedactPII)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	extra := observers.NewMultiObserver()
	var closers []func()

	mcfg := cfg.Observability.Metrics
	if mcfg.Enabled {
		mp, shutdown, err := observers.InitMeterProvider(ctx, observers.ProviderConfig{
			ServiceName:    "lipsyncd",
			ServiceVersion: runner.EngineVersion,
		})
		if err != nil {
			return fmt.Errorf("init meter provider: %w", err)
		}
		closers = append(closers, func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				logger.Warn("meter_provider_shutdown_failed", slog.String("error", err.Error()))
			}
		})
		otelObs, err := observers.NewOTelObserver(mp)
		if err != nil {
			return fmt.Errorf("init otel observer: %w", err)
		}
		extra.Add(otelObs)
	}

	if path := strings.TrimSpace(mcfg.EventLog); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open event log: %w", err)
		}
		jsonl := metrics.NewJSONLObserver(f)
		closers = append(closers, func() { _ = jsonl.Close() })
		extra.Add(metrics.NewSamplingObserver(jsonl, mcfg.SampleRate, metrics.DefaultKeep...))
	}
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	engine, err := lipsync.NewEngine(lipsync.EngineOptions{
		Config:   cfg,
		Observer: extra,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	if mcfg.Enabled {
		if m, ok := engine.Transport().(transports.HandlerMounter); ok {
			m.Handle(mcfg.Path, promhttp.Handler())
		} else {
			logger.Warn("metrics_not_mounted", slog.String("transport", engine.Transport().Name()))
		}
	}

	return engine.Run(ctx)
}
