package metrics

import (
	"math"
	"sync/atomic"
)

// SamplingObserver forwards every n-th event for rate 1/n. Events named in
// keep always pass, so failures and fallbacks are never sampled away.
type SamplingObserver struct {
	inner       Observer
	rate        float64
	sampleEvery uint64
	counter     uint64
	keep        map[string]struct{}
}

// DefaultKeep lists the events a sampled sink should never lose.
var DefaultKeep = []string{
	EventSynthesisFallback,
	EventSynthesisFailed,
	EventTextFallback,
	EventBreakerOpen,
	EventBreakerClose,
	EventSessionStart,
	EventSessionEnd,
}

func NewSamplingObserver(inner Observer, rate float64, keep ...string) *SamplingObserver {
	if rate > 1 {
		rate = 1
	}
	if rate < 0 {
		rate = 0
	}
	var every uint64
	switch {
	case rate == 0:
		every = 0
	case rate == 1:
		every = 1
	default:
		every = uint64(math.Round(1.0 / rate))
		if every == 0 {
			every = 1
		}
	}
	s := &SamplingObserver{inner: inner, rate: rate, sampleEvery: every, keep: make(map[string]struct{}, len(keep))}
	for _, k := range keep {
		s.keep[k] = struct{}{}
	}
	return s
}

func (s *SamplingObserver) RecordEvent(ev MetricsEvent) {
	if _, ok := s.keep[ev.Name]; ok {
		s.inner.RecordEvent(ev)
		return
	}
	if s.rate == 0 {
		return
	}
	if s.sampleEvery <= 1 {
		s.inner.RecordEvent(ev)
		return
	}
	n := atomic.AddUint64(&s.counter, 1)
	if n%s.sampleEvery == 0 {
		s.inner.RecordEvent(ev)
	}
}
