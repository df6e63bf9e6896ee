// Package common implements the hierarchical List-runs -> watch-run ->
// watch-tasks pattern shared by the Airflow, Databricks, PowerBI, Qlik,
// and Synapse adapters: a Lister periodic task discovers executions and
// spawns one Watcher per run, each polling its own execution until
// terminal.
//
// This generic composition has no single teacher file to mirror line
// for line — it is written fresh against the algorithm in §4.6 — but
// its building blocks are grounded throughout: the periodic-tick
// task shape on internal/runtimecore's AddPeriodicWorker/Scope.Spawn
// (itself grounded on infrastructure/service/base.go), and event
// construction on internal/events.
package common

import (
	"context"
	"sync"
	"time"

	"github.com/datakitchen/observability-agent/internal/events"
	"github.com/datakitchen/observability-agent/internal/obslog"
	"github.com/datakitchen/observability-agent/internal/runtimecore"
)

type RunKey string
type TaskKey string

// Normalized statuses every adapter must map its tool-native statuses
// onto before handing a RunState back to the Watcher.
const (
	StatusRunning                = "RUNNING"
	StatusCompleted              = "COMPLETED"
	StatusCompletedWithWarnings  = "COMPLETED_WITH_WARNINGS"
	StatusFailed                 = "FAILED"
	StatusUnknown                = "UNKNOWN"
)

func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusCompletedWithWarnings, StatusFailed:
		return true
	default:
		return false
	}
}

// RunSummary is one execution discovered by a Lister tick.
type RunSummary struct {
	RunKey    RunKey
	StartedAt time.Time
	UpdatedAt time.Time
}

// TaskState is one task/activity's current observed state within a run.
// TaskKey is the internal identity the Watcher dedupes and tracks
// finality by (for Airflow this is a retry-disambiguating name@timestamp
// key); Name
// is the value emitted on the wire as the event's task_key. Adapters
// whose internal identity already equals the wire name (the common
// case) may leave Name empty and it falls back to TaskKey.
type TaskState struct {
	TaskKey      TaskKey
	Name         string
	Status       string
	StartedAt    *time.Time
	EndedAt      *time.Time
	ErrorMessage string
}

// wireTaskKey is the task_key value emitted to the Observability
// service: the adapter-supplied Name where given, else the internal
// TaskKey itself.
func (t TaskState) wireTaskKey() string {
	if t.Name != "" {
		return t.Name
	}
	return string(t.TaskKey)
}

// DatasetOp is a dataset read/write exposed by a task, surfaced where
// the tool provides input/output dataset metadata.
type DatasetOp struct {
	TaskKey    TaskKey
	DatasetKey string
	Operation  string
}

// RunState is a Watcher tick's full snapshot of one execution. RunKey
// is the value emitted on the wire as the event's run_key (e.g.
// Airflow's dag_run_id); adapters whose internal RunKey identity
// already equals the wire value (the common case) may leave it empty
// and it falls back to the Watcher's internal RunKey.
type RunState struct {
	Status       string
	ExternalURL  string
	StartedAt    *time.Time
	EndedAt      *time.Time
	ErrorMessage string
	RunKey       string
	PipelineKey  string
	PipelineName string
	Tasks        []TaskState
	DatasetOps   []DatasetOp
}

// eventTime picks the timestamp an emitted event should carry: the
// end time where the tool supplies one, else the start time, else
// wall-clock now.
func eventTime(startedAt, endedAt *time.Time, fallback time.Time) time.Time {
	if endedAt != nil {
		return *endedAt
	}
	if startedAt != nil {
		return *startedAt
	}
	return fallback
}

// Adapter is the tool-specific contract a Lister/Watcher pair drives.
// Each concrete tool package (airflow, databricks, powerbi, qlik,
// synapse) implements this against its own REST API.
type Adapter interface {
	// ListRuns returns executions started or updated in [since, until).
	ListRuns(ctx context.Context, since, until time.Time) ([]RunSummary, error)
	// GetRunState fetches the current run/task snapshot for runKey.
	GetRunState(ctx context.Context, runKey RunKey) (*RunState, error)
	// ListPeriod is the Lister's polling interval.
	ListPeriod() time.Duration
	// ListCron is an optional cron expression overriding how the
	// Lister's next wake is computed; empty means "use ListPeriod as a
	// fixed interval".
	ListCron() string
	// WatchPeriod is a Watcher's polling interval.
	WatchPeriod() time.Duration
	// ExtendedWatch decides, once a non-COMPLETED terminal status is
	// observed, whether to keep polling at a slower cadence and for how
	// long (Databricks' failed-watch extension); adapters with no
	// extension return false.
	ExtendedWatch() (extend bool, period time.Duration, maxElapsed time.Duration)
	// FinalizeConfirmTicks is the number of consecutive ticks a final
	// status must be observed before the run is finalized (Synapse: 2,
	// everything else: 1).
	FinalizeConfirmTicks() int
	// ComponentTool names the tool this adapter polls, stamped as
	// component_tool on every event the Watcher emits (§8: every event
	// leaving a watcher must carry the agent's component_tool).
	ComponentTool() string
}

// Lister discovers new executions and hands each to its own Watcher.
type Lister struct {
	adapter Adapter
	scope   *runtimecore.Scope
	logger  *obslog.Logger
	sink    chan<- *events.Event

	mu       sync.Mutex
	watchers map[RunKey]*watcherHandle
	prevTime time.Time
}

type watcherHandle struct {
	done chan struct{}
}

// NewLister constructs a Lister bound to adapter, spawning Watchers on
// scope and emitting events to sink.
func NewLister(adapter Adapter, scope *runtimecore.Scope, logger *obslog.Logger, sink chan<- *events.Event) *Lister {
	return &Lister{
		adapter:  adapter,
		scope:    scope,
		logger:   logger,
		sink:     sink,
		watchers: make(map[RunKey]*watcherHandle),
	}
}

// Start registers the Lister as a periodic worker on scope, running
// immediately on Start and then every ListPeriod, or on the ListCron
// schedule when the adapter supplies one.
func (l *Lister) Start(scope *runtimecore.Scope) {
	var last time.Time
	scope.AddScheduledWorker("lister", l.adapter.ListCron(), l.adapter.ListPeriod(), true, func(ctx context.Context) error {
		now := time.Now()
		err := l.Tick(ctx, now, last)
		last = now
		return err
	})
}

// Tick is the Lister's periodic-task execute step.
func (l *Lister) Tick(ctx context.Context, now, prev time.Time) error {
	since := l.prevTime
	if since.IsZero() {
		since = prev
	}
	l.prevTime = now

	runs, err := l.adapter.ListRuns(ctx, since, now)
	if err != nil {
		l.logger.WithContext(ctx).WithError(err).Warn("list runs failed")
		return nil
	}

	l.reap()

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, run := range runs {
		if _, exists := l.watchers[run.RunKey]; exists {
			continue
		}
		handle := &watcherHandle{done: make(chan struct{})}
		l.watchers[run.RunKey] = handle
		watcher := newWatcher(l.adapter, run.RunKey, l.sink, l.logger, handle.done)
		l.scope.Spawn(ctx, watcher.Run)
	}
	return nil
}

// reap drops finished watchers from the map; a Watcher closes its done
// channel exactly once, when it judges itself complete.
func (l *Lister) reap() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, handle := range l.watchers {
		select {
		case <-handle.done:
			delete(l.watchers, key)
		default:
		}
	}
}

// watcher drives a single execution's PeriodicLoop until terminal.
type watcher struct {
	adapter Adapter
	runKey  RunKey
	sink    chan<- *events.Event
	logger  *obslog.Logger
	done    chan struct{}

	lastTaskStatus map[TaskKey]string
	lastRunStatus  string
	finalTicksSeen int
	finalized      bool
	spawnedAt      time.Time
	extending      bool
}

func newWatcher(adapter Adapter, runKey RunKey, sink chan<- *events.Event, logger *obslog.Logger, done chan struct{}) *watcher {
	return &watcher{
		adapter:        adapter,
		runKey:         runKey,
		sink:           sink,
		logger:         logger,
		done:           done,
		lastTaskStatus: make(map[TaskKey]string),
		spawnedAt:      time.Now(),
	}
}

// Run polls the adapter at WatchPeriod until the run is finalized,
// extended-watch budget expires, or ctx is cancelled. It always closes
// done exactly once on return so the owning Lister can reap it.
func (w *watcher) Run(ctx context.Context) error {
	defer close(w.done)

	ticker := time.NewTicker(w.adapter.WatchPeriod())
	defer ticker.Stop()

	for {
		if w.tick(ctx) {
			return nil
		}

		period := w.adapter.WatchPeriod()
		if w.extending {
			_, extPeriod, maxElapsed := w.adapter.ExtendedWatch()
			if time.Since(w.spawnedAt) > maxElapsed {
				return nil
			}
			period = extPeriod
		}
		ticker.Reset(period)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// tick fetches the run state, diffs and emits events, and reports
// whether the watcher is now done.
func (w *watcher) tick(ctx context.Context) bool {
	state, err := w.adapter.GetRunState(ctx, w.runKey)
	if err != nil {
		w.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"run_key": w.runKey}).Warn("get run state failed")
		return false
	}

	wallNow := time.Now()
	runKey := w.wireRunKey(state)

	// Task events are emitted before the run event (§4.6.5).
	for _, task := range state.Tasks {
		w.emitTaskTransition(wallNow, runKey, state, task)
	}
	for _, op := range state.DatasetOps {
		w.sink <- w.tag(events.DatasetOperation(wallNow, runKey, string(op.TaskKey), op.DatasetKey, op.Operation), state)
	}

	return w.emitRunTransition(wallNow, runKey, state)
}

// wireRunKey is the run_key value emitted to the Observability
// service: the adapter-supplied RunState.RunKey where given (e.g.
// Airflow's dag_run_id, distinct from its internal dag_id|dag_run_id
// identity), else the Watcher's internal RunKey.
func (w *watcher) wireRunKey(state *RunState) string {
	if state.RunKey != "" {
		return state.RunKey
	}
	return string(w.runKey)
}

// tag stamps the pipeline identity and component_tool fields onto e.
// Qlik maps app_id/app_name into pipeline_key/pipeline_name,
// correcting the source's swapped field assignment.
func (w *watcher) tag(e *events.Event, state *RunState) *events.Event {
	if state.PipelineKey != "" {
		e.Set("pipeline_key", state.PipelineKey)
	}
	if state.PipelineName != "" {
		e.Set("pipeline_name", state.PipelineName)
	}
	e.Set("component_tool", w.adapter.ComponentTool())
	return e
}

// emitTaskTransition applies §4.6.5's per-task emission rule: the
// first observed status is emitted with the task's start-time, unless
// that first observation is already a finished status (the task ran
// to completion between ticks, or — as with Airflow, whose internal
// TaskKey folds in the timestamp and so changes identity the moment a
// task finishes — the finishing observation looks like a fresh key),
// in which case it is emitted with its end-time like any other
// transition into a finished status. Other changes are emitted with
// the end-time where available else the start-time. A task once
// finished is never re-emitted.
func (w *watcher) emitTaskTransition(wallNow time.Time, runKey string, state *RunState, task TaskState) {
	prev, seen := w.lastTaskStatus[task.TaskKey]
	if seen && IsTerminal(prev) {
		return // a finished task is never re-emitted.
	}
	if seen && prev == task.Status {
		return
	}
	w.lastTaskStatus[task.TaskKey] = task.Status

	var ts time.Time
	if !seen && !IsTerminal(task.Status) {
		ts = eventTime(task.StartedAt, nil, wallNow)
	} else {
		ts = eventTime(task.StartedAt, task.EndedAt, wallNow)
	}

	taskKey := task.wireTaskKey()
	w.sink <- w.tag(events.RunStatus(ts, runKey, taskKey, task.Status, ""), state)
	if task.Status == StatusFailed && task.ErrorMessage != "" {
		w.sink <- w.tag(events.MessageLog(ts, runKey, taskKey, "error", task.ErrorMessage), state)
	}
}

// emitRunTransition applies the run-level terminal/finalize rules and
// returns whether the watcher should stop. Only a run's terminal
// status is ever reported at the run level (its non-terminal states
// are implied by the Lister having discovered it and are carried by
// its tasks' own RUNNING events instead).
func (w *watcher) emitRunTransition(wallNow time.Time, runKey string, state *RunState) bool {
	ts := eventTime(state.StartedAt, state.EndedAt, wallNow)

	if !IsTerminal(state.Status) {
		w.lastRunStatus = state.Status
		return false
	}

	// Terminal: require FinalizeConfirmTicks consecutive observations
	// of the same terminal status before finalizing.
	if state.Status != w.lastRunStatus {
		w.lastRunStatus = state.Status
		w.finalTicksSeen = 1
	} else {
		w.finalTicksSeen++
	}

	if w.finalTicksSeen < w.adapter.FinalizeConfirmTicks() {
		return false
	}

	if !w.finalized {
		w.finalized = true
		if state.Status == StatusFailed && state.ErrorMessage != "" {
			w.sink <- w.tag(events.MessageLog(ts, runKey, "", "error", state.ErrorMessage), state)
		}
		w.sink <- w.tag(events.RunStatus(ts, runKey, "", state.Status, state.ExternalURL), state)
	}

	if state.Status != StatusCompleted {
		if extend, _, _ := w.adapter.ExtendedWatch(); extend {
			// Run ends the extended watch once its maxElapsed budget is spent.
			w.extending = true
			return false
		}
	}
	return true
}
