package metrics

import (
	"testing"
	"time"
)

func TestAsyncObserverForwards(t *testing.T) {
	mem := NewMemoryObserver()
	a := NewAsyncObserver(mem, 4)
	a.RecordEvent(MetricsEvent{Name: EventFrameIn, Time: time.Now()})
	a.RecordEvent(MetricsEvent{Name: EventFrameOut, Time: time.Now()})
	a.Close()
	deadline := time.Now().Add(time.Second)
	for mem.Count(EventFrameIn)+mem.Count(EventFrameOut) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected events to be forwarded")
		}
		time.Sleep(5 * time.Millisecond)
	}
	a.RecordEvent(MetricsEvent{Name: EventFrameDrop})
	if mem.Count(EventFrameDrop) != 0 {
		t.Fatalf("expected events after close to be ignored")
	}
}

func TestAsyncObserverCloseFlushes(t *testing.T) {
	mem := NewMemoryObserver()
	a := NewAsyncObserver(mem, 16)
	for i := 0; i < 10; i++ {
		a.RecordEvent(MetricsEvent{Name: EventTimingEmitted, Time: time.Now()})
	}
	a.Close()
	if got := mem.Count(EventTimingEmitted); got != 10 {
		t.Fatalf("expected 10 flushed events, got %d", got)
	}
	a.Close()
}

func TestAsyncObserverDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	a := NewAsyncObserver(ObserverFunc(func(MetricsEvent) { <-block }), 1)
	for i := 0; i < 5; i++ {
		a.RecordEvent(MetricsEvent{Name: EventFrameIn})
	}
	if a.Dropped() == 0 {
		t.Fatalf("expected drops with a blocked consumer")
	}
	close(block)
	a.Close()
}
