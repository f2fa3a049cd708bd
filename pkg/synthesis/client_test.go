package synthesis

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harunnryd/lipsync/pkg/adapters/tts"
	"github.com/harunnryd/lipsync/pkg/errorsx"
	"github.com/harunnryd/lipsync/pkg/metrics"
	"github.com/harunnryd/lipsync/pkg/providers/mock"
	"github.com/harunnryd/lipsync/pkg/resilience"
	"github.com/harunnryd/lipsync/pkg/timing"
)

type fakeNative struct {
	calls atomic.Int32
	fn    func(ctx context.Context, text string) (tts.Captioned, error)
}

func (f *fakeNative) Name() string { return "fake_native" }

func (f *fakeNative) SynthesizeCaptioned(ctx context.Context, text string) (tts.Captioned, error) {
	f.calls.Add(1)
	return f.fn(ctx, text)
}

func kokoroConfig() tts.Config {
	return tts.Config{Backend: tts.BackendKokoro, BaseURL: "http://kokoro.local/v1", APIKey: "k"}
}

func sameTimings(a, b []timing.Entry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNativePath(t *testing.T) {
	obs := metrics.NewMemoryObserver()
	native := mock.NewCaptionedSynthesizer(mock.TTSConfig{}, 1.0)
	c, err := New(kokoroConfig(), mock.NewSynthesizer(mock.TTSConfig{}), native, WithObserver(obs))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	res, err := c.SynthesizeWithTiming(context.Background(), "hello there")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Path != PathNative {
		t.Fatalf("expected native path, got %s", res.Path)
	}
	if len(res.Timings) != 2 || res.Timings[0].Start != 1.0 {
		t.Fatalf("expected native timings, got %+v", res.Timings)
	}
	if len(res.Chunks) == 0 || res.Chunks[0].SampleRate != 24000 || res.Chunks[0].Channels != 1 {
		t.Fatalf("unexpected chunks %+v", res.Chunks)
	}
	if obs.Count(metrics.EventSynthesisNativeOK) != 1 || obs.Count(metrics.EventSynthesisLatency) != 1 {
		t.Fatalf("expected native ok and latency events")
	}
}

func TestNativeFailureMatchesPlainPath(t *testing.T) {
	text := "the quick brown fox"
	native := &fakeNative{fn: func(context.Context, string) (tts.Captioned, error) {
		return tts.Captioned{}, errorsx.Wrap(errors.New("status 500"), errorsx.ReasonTTSStatus)
	}}
	failing, _ := New(kokoroConfig(), mock.NewSynthesizer(mock.TTSConfig{}), native)
	plainCfg := kokoroConfig()
	plainCfg.BaseURL = ""
	plainOnly, _ := New(plainCfg, mock.NewSynthesizer(mock.TTSConfig{}), nil)

	a, err := failing.SynthesizeWithTiming(context.Background(), text)
	if err != nil {
		t.Fatalf("native failure must not surface: %v", err)
	}
	b, err := plainOnly.SynthesizeWithTiming(context.Background(), text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Path != PathEstimated || b.Path != PathEstimated {
		t.Fatalf("expected estimated paths, got %s and %s", a.Path, b.Path)
	}
	if !sameTimings(a.Timings, b.Timings) || !sameTimings(a.Timings, timing.Estimate(text)) {
		t.Fatalf("expected fallback timings to equal the estimator")
	}
	if len(a.Chunks) != len(b.Chunks) {
		t.Fatalf("expected identical audio layout")
	}
}

func TestUnusableNativeFallsBack(t *testing.T) {
	cases := map[string]tts.Captioned{
		"audio only":  {Audio: [][]byte{{1, 2}}},
		"timing only": {Timings: []timing.Entry{{Word: "hi", Start: 0, End: 0.2}}},
		"empty audio": {Audio: [][]byte{{}}, Timings: []timing.Entry{{Word: "hi", Start: 0, End: 0.2}}},
	}
	for name, out := range cases {
		out := out
		obs := metrics.NewMemoryObserver()
		native := &fakeNative{fn: func(context.Context, string) (tts.Captioned, error) { return out, nil }}
		c, _ := New(kokoroConfig(), mock.NewSynthesizer(mock.TTSConfig{}), native, WithObserver(obs))
		res, err := c.SynthesizeWithTiming(context.Background(), "hi")
		if err != nil {
			t.Fatalf("%s: unexpected error %v", name, err)
		}
		if res.Path != PathEstimated {
			t.Fatalf("%s: expected fallback, got %s", name, res.Path)
		}
		if obs.Count(metrics.EventSynthesisFallback) != 1 {
			t.Fatalf("%s: expected one fallback event", name)
		}
	}
}

func TestNoBaseURLSkipsNative(t *testing.T) {
	native := &fakeNative{fn: func(context.Context, string) (tts.Captioned, error) {
		t.Fatalf("native must not be called")
		return tts.Captioned{}, nil
	}}
	cfg := kokoroConfig()
	cfg.BaseURL = ""
	c, _ := New(cfg, mock.NewSynthesizer(mock.TTSConfig{}), native)
	res, err := c.SynthesizeWithTiming(context.Background(), "hi")
	if err != nil || res.Path != PathEstimated {
		t.Fatalf("expected estimated result, got %v %s", err, res.Path)
	}
	if native.calls.Load() != 0 {
		t.Fatalf("native called %d times", native.calls.Load())
	}
}

func TestNativeTimeoutFallsBack(t *testing.T) {
	cfg := kokoroConfig()
	cfg.Timeout = 30 * time.Millisecond
	native := &fakeNative{fn: func(ctx context.Context, _ string) (tts.Captioned, error) {
		<-ctx.Done()
		return tts.Captioned{}, ctx.Err()
	}}
	c, _ := New(cfg, mock.NewSynthesizer(mock.TTSConfig{}), native)
	start := time.Now()
	res, err := c.SynthesizeWithTiming(context.Background(), "slow backend")
	if err != nil || res.Path != PathEstimated {
		t.Fatalf("expected fallback after timeout, got %v %s", err, res.Path)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("native call was not bounded")
	}
}

func TestConfigErrorsFailFast(t *testing.T) {
	if _, err := New(tts.Config{Backend: tts.BackendKokoro}, mock.NewSynthesizer(mock.TTSConfig{}), nil); errorsx.Reason(err) != errorsx.ReasonConfigInvalid {
		t.Fatalf("expected config error for missing api key, got %v", err)
	}
	if _, err := New(kokoroConfig(), nil, nil); err == nil {
		t.Fatalf("expected error without plain synthesizer")
	}
}

func TestPlainFailureSurfaces(t *testing.T) {
	obs := metrics.NewMemoryObserver()
	c, _ := New(kokoroConfig(), mock.NewSynthesizer(mock.TTSConfig{Fail: true}), nil, WithObserver(obs))
	_, err := c.SynthesizeWithTiming(context.Background(), "hi")
	if !errors.Is(err, mock.ErrForced) {
		t.Fatalf("expected plain failure, got %v", err)
	}
	if errorsx.Reason(err) != errorsx.ReasonTTSConnect {
		t.Fatalf("expected reason code, got %s", errorsx.Reason(err))
	}
	if obs.Count(metrics.EventSynthesisFailed) != 1 {
		t.Fatalf("expected failure event")
	}
}

func TestPlainRetry(t *testing.T) {
	calls := 0
	plain := plainFunc(func(context.Context, string) ([][]byte, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("connection reset")
		}
		return [][]byte{{0, 0}}, nil
	})
	c, _ := New(kokoroConfig(), plain, nil, WithRetry(resilience.NewRetryPolicy(1, time.Millisecond)))
	if _, err := c.SynthesizeWithTiming(context.Background(), "hi"); err != nil || calls != 2 {
		t.Fatalf("expected retry to recover, got %v after %d calls", err, calls)
	}
}

func TestEmptyPlainAudioIsError(t *testing.T) {
	plain := plainFunc(func(context.Context, string) ([][]byte, error) { return nil, nil })
	c, _ := New(kokoroConfig(), plain, nil)
	if _, err := c.SynthesizeWithTiming(context.Background(), "hi"); errorsx.Reason(err) != errorsx.ReasonTTSEmptyAudio {
		t.Fatalf("expected empty audio error, got %v", err)
	}
}

func TestBreakerSkipsNativeAfterRateLimits(t *testing.T) {
	obs := metrics.NewMemoryObserver()
	native := &fakeNative{fn: func(context.Context, string) (tts.Captioned, error) {
		return tts.Captioned{}, resilience.RateLimitError{Provider: "kokoro"}
	}}
	c, _ := New(kokoroConfig(), mock.NewSynthesizer(mock.TTSConfig{}), native,
		WithObserver(obs),
		WithBreaker(resilience.NewCircuitBreaker(2, time.Hour)))
	for i := 0; i < 4; i++ {
		res, err := c.SynthesizeWithTiming(context.Background(), "hi")
		if err != nil || res.Path != PathEstimated {
			t.Fatalf("call %d: expected fallback, got %v", i, err)
		}
	}
	if native.calls.Load() != 2 {
		t.Fatalf("expected native to be skipped once the breaker opened, got %d calls", native.calls.Load())
	}
	if obs.Count(metrics.EventBreakerOpen) != 1 || obs.Count(metrics.EventBreakerDenied) != 2 {
		t.Fatalf("unexpected breaker events: open=%d denied=%d", obs.Count(metrics.EventBreakerOpen), obs.Count(metrics.EventBreakerDenied))
	}
}

func TestBreakerOpensOnRepeatedServerErrors(t *testing.T) {
	obs := metrics.NewMemoryObserver()
	native := &fakeNative{fn: func(context.Context, string) (tts.Captioned, error) {
		return tts.Captioned{}, errorsx.Wrap(errors.New("status 500"), errorsx.ReasonTTSStatus)
	}}
	breaker := resilience.NewCircuitBreaker(3, time.Minute)
	c, _ := New(kokoroConfig(), mock.NewSynthesizer(mock.TTSConfig{}), native,
		WithObserver(obs), WithBreaker(breaker))
	for i := 0; i < 6; i++ {
		res, err := c.SynthesizeWithTiming(context.Background(), "hi")
		if err != nil || res.Path != PathEstimated {
			t.Fatalf("call %d: expected fallback, got %v", i, err)
		}
	}
	if native.calls.Load() != 3 {
		t.Fatalf("expected native to stop after 3 failures, got %d calls", native.calls.Load())
	}
	if breaker.State() != resilience.BreakerOpen || obs.Count(metrics.EventBreakerOpen) != 1 {
		t.Fatalf("expected open breaker, got %s", breaker.State())
	}
}

func TestCallerCancelDoesNotTripBreaker(t *testing.T) {
	native := &fakeNative{fn: func(ctx context.Context, _ string) (tts.Captioned, error) {
		<-ctx.Done()
		return tts.Captioned{}, ctx.Err()
	}}
	breaker := resilience.NewCircuitBreaker(1, time.Minute)
	c, _ := New(kokoroConfig(), mock.NewSynthesizer(mock.TTSConfig{}), native, WithBreaker(breaker))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _ = c.SynthesizeWithTiming(ctx, "hi")
	if breaker.State() != resilience.BreakerClosed {
		t.Fatalf("expected cancelled call to leave breaker closed, got %s", breaker.State())
	}
}

type plainFunc func(ctx context.Context, text string) ([][]byte, error)

func (f plainFunc) Name() string { return "plain_func" }

func (f plainFunc) Synthesize(ctx context.Context, text string) ([][]byte, error) {
	return f(ctx, text)
}
