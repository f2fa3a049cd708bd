package transports

import (
	"context"
	"net/http"

	"github.com/harunnryd/lipsync/pkg/frames"
)

// Transport defines a vendor-agnostic I/O boundary for text, timing, audio
// and control frames. Implementations are responsible for their own network
// lifecycle.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Recv() <-chan frames.Frame
	Send(frames.Frame) error
}

// HandlerMounter lets callers expose extra HTTP handlers (e.g. /metrics)
// on the transport's server.
type HandlerMounter interface {
	Handle(pattern string, h http.Handler)
}

// ReadyReporter allows transports to expose readiness metadata.
// Implementations are optional and used for informational logging only.
type ReadyReporter interface {
	ReadyFields() map[string]any
}
