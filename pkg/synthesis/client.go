// Package synthesis turns text into audio plus word timing. It prefers the
// backend's captioned endpoint and falls back to plain synthesis with
// estimated timing whenever that path is unavailable or fails.
package synthesis

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/harunnryd/lipsync/pkg/adapters/tts"
	"github.com/harunnryd/lipsync/pkg/errorsx"
	"github.com/harunnryd/lipsync/pkg/logging"
	"github.com/harunnryd/lipsync/pkg/metrics"
	"github.com/harunnryd/lipsync/pkg/resilience"
	"github.com/harunnryd/lipsync/pkg/timing"
)

// Path records where the timings of a Result came from.
type Path string

const (
	PathNative    Path = "native"
	PathEstimated Path = "estimated"
)

// Result is the audio and timing for one text unit.
type Result struct {
	Chunks  []tts.AudioChunk
	Timings []timing.Entry
	Path    Path
}

type Option func(*Client)

func WithObserver(obs metrics.Observer) Option {
	return func(c *Client) {
		if obs != nil {
			c.obs = obs
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logging.NewComponentLogger(logger, "synthesis")
		}
	}
}

func WithBreaker(b *resilience.CircuitBreaker) Option {
	return func(c *Client) {
		if b != nil {
			c.breaker = b
		}
	}
}

// WithRetry sets the retry policy for the plain synthesis call.
func WithRetry(p resilience.RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// Client is safe for concurrent use by independent sessions.
type Client struct {
	cfg     tts.Config
	plain   tts.Synthesizer
	native  tts.CaptionedSynthesizer
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryPolicy
	obs     metrics.Observer
	logger  *slog.Logger
}

// New validates cfg and returns a client. native may be nil, in which case
// every call takes the estimated path.
func New(cfg tts.Config, plain tts.Synthesizer, native tts.CaptionedSynthesizer, opts ...Option) (*Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if plain == nil {
		return nil, errorsx.New(errorsx.ReasonConfigInvalid, "synthesis: plain synthesizer is required")
	}
	c := &Client{
		cfg:     cfg,
		plain:   plain,
		native:  native,
		breaker: resilience.NewCircuitBreaker(3, 30*time.Second),
		retry:   resilience.NewRetryPolicy(0, 200*time.Millisecond),
		obs:     metrics.NoopObserver{},
		logger:  logging.NewComponentLogger(slog.Default(), "synthesis"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker.OnStateChange(c.onBreakerChange)
	return c, nil
}

func (c *Client) Config() tts.Config { return c.cfg }

// SynthesizeWithTiming never fails because of the native path. The returned
// error is always a failure of plain synthesis.
func (c *Client) SynthesizeWithTiming(ctx context.Context, text string) (Result, error) {
	start := time.Now()
	if res, ok := c.tryNative(ctx, text); ok {
		c.recordLatency(start, PathNative)
		return res, nil
	}
	res, err := c.fallback(ctx, text)
	if err != nil {
		c.record(metrics.MetricsEvent{
			Name: metrics.EventSynthesisFailed,
			Time: time.Now(),
			Tags: map[string]string{"reason_code": string(errorsx.Reason(err))},
		})
		return Result{}, err
	}
	c.recordLatency(start, PathEstimated)
	return res, nil
}

func (c *Client) tryNative(ctx context.Context, text string) (Result, bool) {
	if !c.cfg.NativeTiming() || c.native == nil {
		c.recordFallback("unsupported")
		return Result{}, false
	}
	if !c.breaker.Allow() {
		c.record(metrics.MetricsEvent{Name: metrics.EventBreakerDenied, Time: time.Now(), Tags: c.tags()})
		c.recordFallback(string(errorsx.ReasonTTSCircuitOpen))
		return Result{}, false
	}

	nctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	out, err := c.native.SynthesizeCaptioned(nctx, text)
	if err == nil && !out.Usable() {
		err = errorsx.New(errorsx.ReasonCaptionedEmpty, "captioned synthesis returned no usable audio and timing")
	}
	if err != nil {
		c.onNativeError(ctx, err)
		reason := errorsx.Reason(errorsx.Wrap(err, errorsx.ReasonTTSConnect))
		c.logger.Warn("native timing failed, falling back to estimate",
			slog.String("provider", c.native.Name()),
			slog.String("reason_code", string(reason)),
			slog.String("error", err.Error()))
		c.recordFallback(string(reason))
		return Result{}, false
	}
	c.breaker.OnSuccess()

	chunks := tts.Chunks(out.Audio, c.cfg.SampleRate, c.cfg.Channels)
	if len(chunks) == 0 {
		c.recordFallback(string(errorsx.ReasonCaptionedEmpty))
		return Result{}, false
	}
	c.record(metrics.MetricsEvent{Name: metrics.EventSynthesisNativeOK, Time: time.Now(), Value: 1, Tags: c.tags()})
	return Result{Chunks: chunks, Timings: out.Timings, Path: PathNative}, true
}

func (c *Client) fallback(ctx context.Context, text string) (Result, error) {
	var payloads [][]byte
	err := c.retry.Do(ctx, func() error {
		var err error
		payloads, err = c.plain.Synthesize(ctx, text)
		return err
	})
	if err != nil {
		return Result{}, errorsx.Wrap(err, errorsx.ReasonTTSConnect)
	}
	chunks := tts.Chunks(payloads, c.cfg.SampleRate, c.cfg.Channels)
	if len(chunks) == 0 {
		return Result{}, errorsx.New(errorsx.ReasonTTSEmptyAudio, "plain synthesis returned no audio")
	}
	return Result{Chunks: chunks, Timings: timing.Estimate(text), Path: PathEstimated}, nil
}

// onNativeError feeds every backend failure to the breaker. A call
// abandoned because the session went away says nothing about the backend.
func (c *Client) onNativeError(ctx context.Context, err error) {
	if ctx.Err() != nil {
		c.breaker.Release()
		return
	}
	if resilience.IsRateLimit(err) {
		c.record(metrics.MetricsEvent{Name: metrics.EventRateLimit, Time: time.Now(), Tags: c.tags()})
	}
	c.breaker.OnError(err)
}

func (c *Client) onBreakerChange(from, to resilience.BreakerState) {
	var name string
	switch to {
	case resilience.BreakerOpen:
		name = metrics.EventBreakerOpen
		c.logger.Warn("native timing circuit open", slog.String("from", from.String()))
	case resilience.BreakerClosed:
		name = metrics.EventBreakerClose
		c.logger.Info("native timing circuit closed", slog.String("from", from.String()))
	default:
		return
	}
	c.record(metrics.MetricsEvent{Name: name, Time: time.Now(), Tags: c.tags()})
}

func (c *Client) recordFallback(reason string) {
	tags := c.tags()
	tags["reason"] = reason
	c.record(metrics.MetricsEvent{Name: metrics.EventSynthesisFallback, Time: time.Now(), Value: 1, Tags: tags})
}

func (c *Client) recordLatency(start time.Time, path Path) {
	tags := c.tags()
	tags["path"] = string(path)
	ms := float64(time.Since(start).Microseconds()) / 1000
	c.record(metrics.MetricsEvent{
		Name:   metrics.EventSynthesisLatency,
		Time:   time.Now(),
		Value:  ms,
		Tags:   tags,
		Fields: map[string]any{"latency_ms": strconv.FormatFloat(ms, 'f', 1, 64)},
	})
}

func (c *Client) tags() map[string]string {
	return map[string]string{
		"backend": c.cfg.Backend,
		"model":   c.cfg.Model,
	}
}

func (c *Client) record(ev metrics.MetricsEvent) {
	c.obs.RecordEvent(ev)
}
