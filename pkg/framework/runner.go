package framework

import (
	"context"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

type namedRunnable struct {
	Runnable
	name string
}

func (r *namedRunnable) Name() string {
	return r.name
}

// NamedRun wraps a Runnable with a name.
func NamedRun(name string, runnable Runnable) Runnable {
	return &namedRunnable{name: name, Runnable: runnable}
}

// ErrForcedExit is returned by Runner.Wait after a second stop signal.
var ErrForcedExit = errors.New("forced exit")

// Runner supervises the components serving a link, e.g. the link itself,
// a firmware simulator and a bridge. The first component failing cancels
// the context of all the others, so a dead link takes its components down.
type Runner struct {
	Context context.Context
	Runners []Runnable

	cancel context.CancelFunc
	exitCh chan runnerExit
	killCh chan struct{}
}

type runnerExit struct {
	name string
	err  error
}

// NewRunner creates a runner with a default background context.
func NewRunner() *Runner {
	return NewRunnerWith(context.Background())
}

// NewRunnerWith creates a runner derived from ctx.
func NewRunnerWith(ctx context.Context) *Runner {
	ctx, cancel := context.WithCancel(ctx)
	return &Runner{
		Context: ctx,
		cancel:  cancel,
		exitCh:  make(chan runnerExit, 1),
		killCh:  make(chan struct{}),
	}
}

// HandleSignals stops all components on CtrlC or SIGTERM. A second signal
// makes Wait return immediately.
func (r *Runner) HandleSignals() *Runner {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		glog.Info("stop requested")
		r.cancel()
		<-sigCh
		glog.Error("stop requested again, force exit")
		close(r.killCh)
	}()
	return r
}

// Stop cancels the context of all components.
func (r *Runner) Stop() {
	r.cancel()
}

// Go spawns Runnables with the runner's context.
func (r *Runner) Go(runners ...Runnable) *Runner {
	for _, runner := range runners {
		name := strconv.Itoa(len(r.Runners))
		if named, ok := runner.(Named); ok {
			name = named.Name()
		}
		r.Runners = append(r.Runners, runner)
		go r.run(runner, name)
	}
	return r
}

func (r *Runner) run(runner Runnable, name string) {
	glog.V(4).Infof("Runner[%s] started", name)
	err := runner.Run(r.Context)
	if err != nil && !errors.Is(err, context.Canceled) {
		glog.Errorf("Runner[%s] failed: %v", name, err)
		r.cancel()
	} else {
		glog.V(4).Infof("Runner[%s] stopped", name)
	}
	r.exitCh <- runnerExit{name: name, err: err}
}

// Wait waits until all Runnables stop and aggregates their failures, each
// prefixed with the name of the failed component.
func (r *Runner) Wait() error {
	defer r.cancel()
	var errs AggregatedError
	for range r.Runners {
		select {
		case <-r.killCh:
			return ErrForcedExit
		case exit := <-r.exitCh:
			if exit.err != nil && !errors.Is(exit.err, context.Canceled) {
				errs.Add(errors.Wrap(exit.err, exit.name))
			}
		}
	}
	return errs.Aggregate()
}

// RunWithContextCancel runs fn which doesn't accept a context, like a
// blocking Accept or Read. onCancel is called only when the context is
// canceled, and must unblock fn.
func RunWithContextCancel(ctx context.Context, onCancel func(), fn func() error) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- fn()
	}()
	select {
	case <-ctx.Done():
		if onCancel != nil {
			onCancel()
		}
		<-errCh
		return context.Canceled
	case err := <-errCh:
		return err
	}
}

// RunWithContextCloser runs fn until it returns or ctx is done. closer is
// closed in both cases, and its error is reported with the one from fn.
func RunWithContextCloser(ctx context.Context, closer io.Closer, fn func() error) error {
	var closeErr error
	closed := false
	err := RunWithContextCancel(ctx, func() {
		closeErr, closed = closer.Close(), true
	}, fn)
	if !closed {
		closeErr = closer.Close()
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return Aggregate(err, ignoreClosed(closeErr))
}

// ignoreClosed drops the errors of closing what fn already closed.
func ignoreClosed(err error) error {
	if errors.Is(err, os.ErrClosed) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	return err
}
