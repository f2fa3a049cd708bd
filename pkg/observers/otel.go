package observers

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/harunnryd/lipsync/pkg/frames"
	"github.com/harunnryd/lipsync/pkg/metrics"
)

const meterName = "github.com/harunnryd/lipsync"

// OTelObserver maps metrics events onto OpenTelemetry instruments.
// Events without a matching instrument are ignored.
type OTelObserver struct {
	synthesisDuration metric.Float64Histogram
	synthesisResults  metric.Int64Counter
	fallbacks         metric.Int64Counter
	textFallbacks     metric.Int64Counter
	words             metric.Int64Counter
	frames            metric.Int64Counter
	stageDuration     metric.Float64Histogram
	breaker           metric.Int64Counter
	sessions          metric.Int64UpDownCounter
}

// NewOTelObserver builds the instruments from mp. A nil mp uses the global
// meter provider.
func NewOTelObserver(mp metric.MeterProvider) (*OTelObserver, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	m := mp.Meter(meterName)
	o := &OTelObserver{}
	var err error

	if o.synthesisDuration, err = m.Float64Histogram("lipsync.synthesis.duration",
		metric.WithDescription("Synthesis latency per text unit."),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000),
	); err != nil {
		return nil, err
	}
	if o.synthesisResults, err = m.Int64Counter("lipsync.synthesis.results",
		metric.WithDescription("Completed synthesis calls by timing path."),
	); err != nil {
		return nil, err
	}
	if o.fallbacks, err = m.Int64Counter("lipsync.synthesis.fallbacks",
		metric.WithDescription("Native timing attempts that fell back to the estimator."),
	); err != nil {
		return nil, err
	}
	if o.textFallbacks, err = m.Int64Counter("lipsync.text_fallbacks",
		metric.WithDescription("Text units passed through without audio."),
	); err != nil {
		return nil, err
	}
	if o.words, err = m.Int64Counter("lipsync.timing.words",
		metric.WithDescription("Words carried by emitted timing events."),
	); err != nil {
		return nil, err
	}
	if o.frames, err = m.Int64Counter("lipsync.pipeline.frames",
		metric.WithDescription("Frames seen by the pipeline by direction and kind."),
	); err != nil {
		return nil, err
	}
	if o.stageDuration, err = m.Float64Histogram("lipsync.pipeline.stage.duration",
		metric.WithDescription("Processor latency."),
		metric.WithUnit("us"),
	); err != nil {
		return nil, err
	}
	if o.breaker, err = m.Int64Counter("lipsync.breaker.events",
		metric.WithDescription("Native timing circuit breaker events."),
	); err != nil {
		return nil, err
	}
	if o.sessions, err = m.Int64UpDownCounter("lipsync.sessions.active",
		metric.WithDescription("Connected sessions."),
	); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *OTelObserver) RecordEvent(ev metrics.MetricsEvent) {
	ctx := context.Background()
	tag := func(k string) string { return ev.Tags[k] }
	switch ev.Name {
	case metrics.EventSynthesisLatency:
		attrs := metric.WithAttributes(
			attribute.String("backend", tag("backend")),
			attribute.String("path", tag("path")),
		)
		o.synthesisDuration.Record(ctx, ev.Value, attrs)
		o.synthesisResults.Add(ctx, 1, attrs)
	case metrics.EventSynthesisFallback:
		o.fallbacks.Add(ctx, 1, metric.WithAttributes(
			attribute.String("backend", tag("backend")),
			attribute.String("reason", tag("reason")),
		))
	case metrics.EventSynthesisFailed:
		o.synthesisResults.Add(ctx, 1, metric.WithAttributes(
			attribute.String("backend", tag("backend")),
			attribute.String("path", "failed"),
		))
	case metrics.EventTextFallback:
		o.textFallbacks.Add(ctx, 1)
	case metrics.EventTimingEmitted:
		o.words.Add(ctx, int64(ev.Value), metric.WithAttributes(
			attribute.String("path", tag(frames.MetaSynthesisPath)),
		))
	case metrics.EventFrameIn, metrics.EventFrameOut, metrics.EventFrameDrop:
		o.frames.Add(ctx, 1, metric.WithAttributes(
			attribute.String("direction", directionOf(ev.Name)),
			attribute.String("kind", tag("kind")),
		))
	case metrics.EventStageLatency:
		o.stageDuration.Record(ctx, ev.Value, metric.WithAttributes(
			attribute.String("processor", tag("processor")),
		))
	case metrics.EventRateLimit, metrics.EventBreakerOpen, metrics.EventBreakerClose, metrics.EventBreakerDenied:
		o.breaker.Add(ctx, 1, metric.WithAttributes(attribute.String("event", ev.Name)))
	case metrics.EventSessionStart:
		o.sessions.Add(ctx, 1)
	case metrics.EventSessionEnd:
		o.sessions.Add(ctx, -1)
	}
}

func directionOf(name string) string {
	switch name {
	case metrics.EventFrameIn:
		return "in"
	case metrics.EventFrameOut:
		return "out"
	default:
		return "drop"
	}
}

var _ metrics.Observer = (*OTelObserver)(nil)
