package metrics

import (
	"bufio"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// JSONLObserver appends one JSON object per event to w. Writes are
// buffered; call Flush or Close to push them out.
type JSONLObserver struct {
	mu  sync.Mutex
	w   *bufio.Writer
	c   io.Closer
	err error
}

type jsonlEvent struct {
	Name   string            `json:"name"`
	Time   time.Time         `json:"time"`
	Value  float64           `json:"value"`
	Tags   map[string]string `json:"tags,omitempty"`
	Fields map[string]any    `json:"fields,omitempty"`
}

func NewJSONLObserver(w io.Writer) *JSONLObserver {
	if w == nil {
		w = io.Discard
	}
	o := &JSONLObserver{w: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		o.c = c
	}
	return o
}

func (o *JSONLObserver) RecordEvent(ev MetricsEvent) {
	b, err := json.Marshal(jsonlEvent{
		Name:   ev.Name,
		Time:   ev.Time,
		Value:  ev.Value,
		Tags:   ev.Tags,
		Fields: ev.Fields,
	})
	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.err = err
		return
	}
	if _, err := o.w.Write(append(b, '\n')); err != nil {
		o.err = err
	}
}

// Flush writes buffered events and returns the first error seen since the
// previous Flush.
func (o *JSONLObserver) Flush() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	err := o.w.Flush()
	if o.err != nil {
		err, o.err = o.err, nil
	}
	return err
}

func (o *JSONLObserver) Close() error {
	err := o.Flush()
	if o.c != nil {
		if cerr := o.c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

var _ Flusher = (*JSONLObserver)(nil)
