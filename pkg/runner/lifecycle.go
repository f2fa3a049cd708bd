package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrDrainTimeout      = errors.New("drain timeout")
)

// LifecycleRunner moves through new, starting, running, draining and
// stopped exactly once.
type LifecycleRunner struct {
	state    atomic.Int32
	ctx      context.Context
	cancel   context.CancelFunc
	onceStop sync.Once
	done     chan struct{}
	hooks    Hooks
	drainer  Drainer
	stopErr  error
	timeout  time.Duration
	banner   io.Writer
}

func NewLifecycleRunner(drainer Drainer, hooks Hooks, timeout time.Duration) *LifecycleRunner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LifecycleRunner{
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		hooks:   hooks,
		drainer: drainer,
		timeout: timeout,
		banner:  os.Stdout,
	}
}

// SetBannerOutput redirects the startup banner; nil disables it.
func (r *LifecycleRunner) SetBannerOutput(w io.Writer) { r.banner = w }

// Run blocks until ctx is cancelled or Stop is called, then drains.
func (r *LifecycleRunner) Run(ctx context.Context) error {
	if !r.state.CompareAndSwap(int32(StateNew), int32(StateStarting)) {
		return ErrInvalidTransition
	}
	PrintBanner(r.banner)
	if ctx != nil {
		parent := r.ctx
		r.ctx, r.cancel = context.WithCancel(ctx)
		// Stop may already have cancelled the original context.
		if parent.Err() != nil {
			r.cancel()
		}
	}
	if r.hooks.OnStart != nil {
		if err := r.hooks.OnStart(); err != nil {
			r.cancel()
			_ = r.stop()
			return err
		}
	}
	r.state.CompareAndSwap(int32(StateStarting), int32(StateRunning))
	<-r.ctx.Done()
	return r.stop()
}

func (r *LifecycleRunner) Stop() error {
	r.cancel()
	return r.stop()
}

func (r *LifecycleRunner) State() State {
	return State(r.state.Load())
}

// Done is closed once the runner reaches StateStopped.
func (r *LifecycleRunner) Done() <-chan struct{} { return r.done }

func (r *LifecycleRunner) stop() error {
	r.onceStop.Do(func() {
		r.state.Store(int32(StateDraining))
		if r.drainer != nil {
			errCh := make(chan error, 1)
			go func() { errCh <- r.drainer.Drain() }()
			select {
			case err := <-errCh:
				if err != nil {
					r.stopErr = fmt.Errorf("drain: %w", err)
				}
			case <-time.After(r.timeout):
				r.stopErr = ErrDrainTimeout
			}
		}
		if r.hooks.OnStop != nil {
			r.hooks.OnStop()
		}
		r.state.Store(int32(StateStopped))
		close(r.done)
	})
	return r.stopErr
}
