// Package runtimecore is the agent's concurrency runtime: a Scope that
// owns a set of cooperating goroutines (periodic pollers,
// channel-consumer workers, and a dynamically grown watcher pool) and
// propagates the single Unrecoverable signal to a process-wide halt.
//
// This replaces the structured-concurrency nursery/cancel-scope model
// of the source agent (trio) with goroutines, channels, and
// context.Context — the idiomatic Go shape for the same "a group of
// cooperating loops share a lifetime" problem. Grounded on
// infrastructure/service/base.go's AddWorker/AddTickerWorker/stopCh/
// sync.Once pattern, generalized from a single HTTP service's
// background-worker list into a reusable scope type and extended with
// fatal-error propagation, which the source pattern's fire-and-forget
// workers do not have (they log and keep going; this runtime must stop
// everything on an Unrecoverable).
package runtimecore

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/datakitchen/observability-agent/internal/obserrors"
	"github.com/datakitchen/observability-agent/internal/obslog"
)

// Scope owns a group of goroutines with a shared stop signal. Workers
// added before Start run for the scope's lifetime; Spawn adds more at
// any point, for the dynamic watcher pool where each discovered run
// gets its own goroutine.
type Scope struct {
	logger *obslog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once

	wg sync.WaitGroup

	mu      sync.Mutex
	workers []func(context.Context)
	started bool

	fatal     chan error
	fatalOnce sync.Once
}

// NewScope constructs an empty scope.
func NewScope(logger *obslog.Logger) *Scope {
	return &Scope{
		logger: logger,
		stopCh: make(chan struct{}),
		fatal:  make(chan error, 1),
	}
}

// StopChan is closed when the scope is stopped, by Stop or by a fatal
// error. Workers must select on it alongside ctx.Done().
func (s *Scope) StopChan() <-chan struct{} {
	return s.stopCh
}

// AddWorker registers a long-running worker function. Must be called
// before Start.
func (s *Scope) AddWorker(fn func(context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers = append(s.workers, fn)
}

// AddPeriodicWorker registers a worker run on a fixed interval until
// the scope stops, mirroring AddTickerWorker. A non-nil error returned
// by fn is logged unless it is (or wraps) an Unrecoverable, which
// instead halts the whole scope.
func (s *Scope) AddPeriodicWorker(name string, interval time.Duration, runImmediately bool, fn func(context.Context) error) {
	s.AddWorker(func(ctx context.Context) {
		report := func(err error) {
			if err == nil {
				return
			}
			if u, ok := obserrors.AsUnrecoverable(err); ok {
				s.Fail(u)
				return
			}
			s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"worker": name}).Warn("periodic worker error")
		}

		if runImmediately {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			default:
				report(fn(ctx))
			}
		}

		// A fresh timer per iteration: the wait starts after fn returns, so
		// execution time is never deducted from the interval.
		for {
			timer := time.NewTimer(interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-s.stopCh:
				timer.Stop()
				return
			case <-timer.C:
				report(fn(ctx))
			}
		}
	})
}

// cronParser accepts the five-field standard cron format plus the
// `@every`/`@hourly`-style descriptors, matching robfig/cron/v3's
// ParseStandard plus descriptor support.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// AddScheduledWorker is AddPeriodicWorker's cron-aware sibling: when
// cronExpr is non-empty it is parsed once at registration and the
// worker's sleep-then-invoke loop computes
// its next wake as schedule.Next(now) instead of a fixed interval,
// otherwise it falls back to AddPeriodicWorker's plain fixedInterval
// loop. Either way the loop's contract is unchanged: sleep, then
// invoke, with execution time never deducted from the next wait.
//
// A malformed cronExpr is a configuration error, not a runtime one: it
// is validated at registration (before Start) and causes an immediate
// panic, the same way a misconfigured required field should be fatal
// at startup rather than discovered on the first missed tick.
func (s *Scope) AddScheduledWorker(name, cronExpr string, fixedInterval time.Duration, runImmediately bool, fn func(context.Context) error) {
	if cronExpr == "" {
		s.AddPeriodicWorker(name, fixedInterval, runImmediately, fn)
		return
	}

	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		panic("runtimecore: invalid cron expression for worker " + name + ": " + err.Error())
	}

	s.AddWorker(func(ctx context.Context) {
		report := func(err error) {
			if err == nil {
				return
			}
			if u, ok := obserrors.AsUnrecoverable(err); ok {
				s.Fail(u)
				return
			}
			s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"worker": name}).Warn("scheduled worker error")
		}

		if runImmediately {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			default:
				report(fn(ctx))
			}
		}

		for {
			now := time.Now()
			wait := time.Until(schedule.Next(now))
			if wait <= 0 {
				wait = time.Millisecond
			}
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-s.stopCh:
				timer.Stop()
				return
			case <-timer.C:
				report(fn(ctx))
			}
		}
	})
}

// RunChannelConsumer drains ch, calling handle for each item, until the
// channel closes or the scope stops. It is meant to be launched via
// AddWorker: AddWorker(func(ctx) { RunChannelConsumer(ctx, s, ch, handle) }).
func RunChannelConsumer[T any](ctx context.Context, s *Scope, ch <-chan T, handle func(context.Context, T) error) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.StopChan():
			return
		case item, ok := <-ch:
			if !ok {
				return
			}
			if err := handle(ctx, item); err != nil {
				if u, ok := obserrors.AsUnrecoverable(err); ok {
					s.Fail(u)
					return
				}
				s.logger.WithContext(ctx).WithError(err).Warn("channel consumer error")
			}
		}
	}
}

// Spawn starts fn in its own tracked goroutine immediately, for workers
// discovered at runtime (one per watched run). Safe to call after
// Start. A fatal error from fn halts the scope exactly like a
// registered worker's.
func (s *Scope) Spawn(ctx context.Context, fn func(context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(ctx); err != nil {
			if u, ok := obserrors.AsUnrecoverable(err); ok {
				s.Fail(u)
				return
			}
			s.logger.WithContext(ctx).WithError(err).Warn("spawned worker error")
		}
	}()
}

// Start launches every worker registered via AddWorker/AddPeriodicWorker.
func (s *Scope) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	workers := s.workers
	s.mu.Unlock()

	for _, w := range workers {
		worker := w
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			worker(ctx)
		}()
	}
}

// Fail records a fatal error and stops the scope. Only the first call
// takes effect; later calls are no-ops.
func (s *Scope) Fail(err error) {
	s.fatalOnce.Do(func() {
		s.fatal <- err
		s.Stop()
	})
}

// Stop closes the stop channel, signaling every worker to return. Safe
// to call more than once.
func (s *Scope) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

// Wait blocks until every worker has returned, then reports the fatal
// error recorded via Fail, if any.
func (s *Scope) Wait() error {
	s.wg.Wait()
	select {
	case err := <-s.fatal:
		return err
	default:
		return nil
	}
}
