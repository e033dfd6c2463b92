package framework

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func waitRunner(t *testing.T, r *Runner) error {
	errCh := make(chan error, 1)
	go func() { errCh <- r.Wait() }()
	select {
	case err := <-errCh:
		return err
	case <-time.After(time.Second):
		t.Fatal("runner not stopped")
	}
	return nil
}

func blockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRunnerAggregatesErrors(t *testing.T) {
	failure := errors.New("failure")
	r := NewRunner()
	r.Go(
		RunnableFunc(func(context.Context) error { return failure }),
		NamedRun("link", RunnableFunc(func(context.Context) error { return io.EOF })),
		NamedRun("canceled", RunnableFunc(blockUntilDone)),
		RunnableFunc(func(context.Context) error { return nil }),
	)
	err := waitRunner(t, r)
	require.Error(t, err)
	agg, ok := err.(*AggregatedError)
	require.True(t, ok)
	require.Len(t, agg.Errors, 2)
	require.ErrorIs(t, err, failure)
	require.ErrorIs(t, err, io.EOF)
	require.Contains(t, err.Error(), "0: failure")
	require.Contains(t, err.Error(), "link: EOF")
}

func TestRunnerFailureStopsOthers(t *testing.T) {
	release := make(chan struct{})
	r := NewRunner()
	r.Go(
		NamedRun("sim", RunnableFunc(blockUntilDone)),
		NamedRun("link", RunnableFunc(func(context.Context) error {
			<-release
			return io.ErrUnexpectedEOF
		})),
	)
	close(release)
	err := waitRunner(t, r)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	require.Equal(t, "link: unexpected EOF", err.Error())
	require.Error(t, r.Context.Err())
}

func TestRunnerStop(t *testing.T) {
	r := NewRunner().Go(
		RunnableFunc(blockUntilDone),
		RunnableFunc(func(context.Context) error { return nil }),
	)
	r.Stop()
	require.NoError(t, waitRunner(t, r))
}

func TestAggregate(t *testing.T) {
	testCases := []struct {
		errs   []error
		expect string
	}{
		{errs: []error{nil, nil}},
		{errs: []error{nil, io.EOF}, expect: "EOF"},
		{errs: []error{nil, io.EOF, io.ErrClosedPipe}, expect: "multiple errors: EOF; io: read/write on closed pipe"},
		{errs: []error{io.EOF, Aggregate(io.ErrShortWrite, io.ErrClosedPipe)}, expect: "multiple errors: EOF; short write; io: read/write on closed pipe"},
	}
	for _, tc := range testCases {
		err := Aggregate(tc.errs...)
		if tc.expect == "" {
			require.NoError(t, err)
			continue
		}
		require.EqualError(t, err, tc.expect)
	}
	require.Equal(t, io.EOF, Aggregate(nil, io.EOF))
	require.ErrorIs(t, Aggregate(io.EOF, io.ErrShortWrite), io.ErrShortWrite)
}

type testCloser struct {
	closed chan struct{}
	err    error
}

func newTestCloser(err error) *testCloser {
	return &testCloser{closed: make(chan struct{}), err: err}
}

func (c *testCloser) Close() error {
	close(c.closed)
	return c.err
}

func TestRunWithContextCloser(t *testing.T) {
	c := newTestCloser(nil)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- RunWithContextCloser(ctx, c, func() error {
			<-c.closed
			return io.ErrClosedPipe
		})
	}()
	cancel()
	select {
	case err := <-errCh:
		require.Equal(t, context.Canceled, err)
	case <-time.After(time.Second):
		t.Fatal("fn not unblocked")
	}

	c = newTestCloser(nil)
	require.Equal(t, io.EOF, RunWithContextCloser(context.Background(), c, func() error {
		return io.EOF
	}))
	select {
	case <-c.closed:
	default:
		t.Fatal("closer not closed on exit")
	}

	c = newTestCloser(io.ErrShortWrite)
	err := RunWithContextCloser(context.Background(), c, func() error { return io.EOF })
	require.EqualError(t, err, "multiple errors: EOF; short write")

	c = newTestCloser(io.ErrClosedPipe)
	require.NoError(t, RunWithContextCloser(context.Background(), c, func() error { return nil }))
}
