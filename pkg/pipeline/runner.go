package pipeline

import (
	"context"
	"time"

	"github.com/harunnryd/lipsync/pkg/runner"
)

// Runner puts a drain step, typically closing every session, under the
// lifecycle state machine.
type Runner struct {
	lc *runner.LifecycleRunner
}

type DrainerFunc func() error

func (r DrainerFunc) Drain() error { return r() }

func NewDrainRunner(drainer runner.Drainer, hooks runner.Hooks, timeout time.Duration) *Runner {
	return &Runner{lc: runner.NewLifecycleRunner(drainer, hooks, timeout)}
}

func (r *Runner) Run(ctx context.Context) error { return r.lc.Run(ctx) }
func (r *Runner) Stop() error                   { return r.lc.Stop() }
func (r *Runner) State() runner.State           { return r.lc.State() }

// Lifecycle exposes the underlying runner, e.g. to redirect the banner.
func (r *Runner) Lifecycle() *runner.LifecycleRunner { return r.lc }

var _ runner.Runner = (*Runner)(nil)
