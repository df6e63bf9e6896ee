package runtimecore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datakitchen/observability-agent/internal/obserrors"
	"github.com/datakitchen/observability-agent/internal/obslog"
)

func testLogger() *obslog.Logger {
	return obslog.New("test", "error", "text")
}

// An Unrecoverable error raised by any worker halts the whole scope:
// Wait returns it and every other worker observes StopChan closing.
func TestScope_UnrecoverableHaltsEveryWorker(t *testing.T) {
	scope := NewScope(testLogger())

	stopped := make(chan struct{})
	scope.AddWorker(func(ctx context.Context) {
		select {
		case <-scope.StopChan():
			close(stopped)
		case <-ctx.Done():
		}
	})
	scope.AddWorker(func(ctx context.Context) {
		scope.Fail(&obserrors.Unrecoverable{Cause: errors.New("boom")})
	})

	scope.Start(context.Background())

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("sibling worker was not stopped after Fail")
	}

	err := scope.Wait()
	require.Error(t, err)
	_, ok := obserrors.AsUnrecoverable(err)
	assert.True(t, ok)
}

// Fail is a no-op after the first call; only the first error is reported.
func TestScope_FailIsIdempotent(t *testing.T) {
	scope := NewScope(testLogger())
	scope.Fail(&obserrors.Unrecoverable{Cause: errors.New("first")})
	scope.Fail(&obserrors.Unrecoverable{Cause: errors.New("second")})

	err := scope.Wait()
	require.Error(t, err)
	u, ok := obserrors.AsUnrecoverable(err)
	require.True(t, ok)
	assert.Equal(t, "first", u.Cause.Error())
}

// A non-Unrecoverable error from a periodic worker is logged and does
// not stop the scope; only Unrecoverable propagates.
func TestAddPeriodicWorker_NonFatalErrorDoesNotStopScope(t *testing.T) {
	scope := NewScope(testLogger())

	calls := make(chan struct{}, 4)
	scope.AddPeriodicWorker("flaky", time.Millisecond, true, func(ctx context.Context) error {
		calls <- struct{}{}
		return errors.New("transient")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	scope.Start(ctx)

	count := 0
	timeout := time.After(50 * time.Millisecond)
loop:
	for {
		select {
		case <-calls:
			count++
			if count >= 2 {
				break loop
			}
		case <-timeout:
			break loop
		}
	}
	assert.GreaterOrEqual(t, count, 2, "periodic worker must keep running past a non-fatal error")

	scope.Stop()
	assert.NoError(t, scope.Wait())
}

// A periodic worker's Unrecoverable error does halt the scope.
func TestAddPeriodicWorker_UnrecoverableErrorStopsScope(t *testing.T) {
	scope := NewScope(testLogger())
	scope.AddPeriodicWorker("fatal", time.Millisecond, true, func(ctx context.Context) error {
		return &obserrors.Unrecoverable{Cause: errors.New("ingestion rejected credentials")}
	})

	scope.Start(context.Background())
	err := scope.Wait()
	require.Error(t, err)
	_, ok := obserrors.AsUnrecoverable(err)
	assert.True(t, ok)
}

// RunChannelConsumer drains items until the channel is closed, and a
// handler's Unrecoverable error halts the scope.
func TestRunChannelConsumer_StopsOnUnrecoverable(t *testing.T) {
	scope := NewScope(testLogger())
	ch := make(chan int, 4)
	ch <- 1
	ch <- 2

	scope.AddWorker(func(ctx context.Context) {
		RunChannelConsumer(ctx, scope, ch, func(ctx context.Context, item int) error {
			if item == 2 {
				return &obserrors.Unrecoverable{Cause: errors.New("bad item")}
			}
			return nil
		})
	})

	scope.Start(context.Background())
	err := scope.Wait()
	require.Error(t, err)
	_, ok := obserrors.AsUnrecoverable(err)
	assert.True(t, ok)
}

// RunChannelConsumer returns cleanly, without a fatal error, when the
// channel closes and every item succeeded.
func TestRunChannelConsumer_ReturnsOnChannelClose(t *testing.T) {
	scope := NewScope(testLogger())
	ch := make(chan int, 2)
	ch <- 1
	ch <- 2
	close(ch)

	done := make(chan struct{})
	scope.AddWorker(func(ctx context.Context) {
		RunChannelConsumer(ctx, scope, ch, func(ctx context.Context, item int) error { return nil })
		close(done)
	})

	scope.Start(context.Background())
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("channel consumer did not return after channel close")
	}
	assert.NoError(t, scope.Wait())
}

// AddScheduledWorker with an empty cron expression behaves exactly
// like AddPeriodicWorker: a fixed-interval, run-immediately loop.
func TestAddScheduledWorker_EmptyCronFallsBackToFixedInterval(t *testing.T) {
	scope := NewScope(testLogger())

	calls := make(chan struct{}, 4)
	scope.AddScheduledWorker("no-cron", "", time.Millisecond, true, func(ctx context.Context) error {
		calls <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	scope.Start(ctx)

	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("fixed-interval fallback never invoked the worker")
	}
	scope.Stop()
	assert.NoError(t, scope.Wait())
}

// AddScheduledWorker with a cron expression invokes the worker on the
// every-second schedule rather than a fixed interval.
func TestAddScheduledWorker_CronExpressionDrivesWakeups(t *testing.T) {
	scope := NewScope(testLogger())

	calls := make(chan struct{}, 4)
	scope.AddScheduledWorker("cron", "@every 1s", time.Hour, true, func(ctx context.Context) error {
		calls <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()
	scope.Start(ctx)

	count := 0
	timeout := time.After(1400 * time.Millisecond)
loop:
	for {
		select {
		case <-calls:
			count++
			if count >= 2 {
				break loop
			}
		case <-timeout:
			break loop
		}
	}
	assert.GreaterOrEqual(t, count, 2, "cron schedule must fire the immediate run plus at least one scheduled tick within 1.4s")

	scope.Stop()
	assert.NoError(t, scope.Wait())
}

// An invalid cron expression is a configuration error caught at
// registration time, before the scope ever starts.
func TestAddScheduledWorker_InvalidCronPanicsAtRegistration(t *testing.T) {
	scope := NewScope(testLogger())
	assert.Panics(t, func() {
		scope.AddScheduledWorker("bad-cron", "not a cron expression", time.Second, false, func(ctx context.Context) error { return nil })
	})
}

// Spawn starts work immediately without requiring Start to have been
// called, for the dynamic watcher pool.
func TestScope_SpawnRunsWithoutStart(t *testing.T) {
	scope := NewScope(testLogger())
	ran := make(chan struct{})
	scope.Spawn(context.Background(), func(ctx context.Context) error {
		close(ran)
		return nil
	})

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("Spawn did not run its function")
	}
}
