package ssis

import (
	"context"
	"time"

	"github.com/datakitchen/observability-agent/internal/events"
	"github.com/datakitchen/observability-agent/internal/obslog"
)

// FetchNewExecutionsTask is §4.7 step 1: discovers execution ids above
// the last known cursor and registers each with AgentState, sending no
// events itself (that would race with steps 2 and 4 reading the state
// it just wrote).
type FetchNewExecutionsTask struct {
	catalog Catalog
	state   *AgentState
	logger  *obslog.Logger
}

func NewFetchNewExecutionsTask(catalog Catalog, state *AgentState, logger *obslog.Logger) *FetchNewExecutionsTask {
	return &FetchNewExecutionsTask{catalog: catalog, state: state, logger: logger}
}

func (t *FetchNewExecutionsTask) Tick(ctx context.Context) error {
	lastKnown, ok := t.state.LastKnownExecutionID()
	if !ok {
		maxID, found, err := t.catalog.MaxExecutionID(ctx)
		if err != nil {
			t.logger.WithContext(ctx).WithError(err).Warn("fetch max execution id failed")
			return nil
		}
		if !found {
			return nil
		}
		t.state.SetLastKnownExecutionID(maxID)
		return nil
	}

	ids, err := t.catalog.ExecutionsAbove(ctx, lastKnown)
	if err != nil {
		t.logger.WithContext(ctx).WithError(err).Warn("fetch new executions failed")
		return nil
	}
	if len(ids) == 0 {
		return nil
	}

	maxSeen := lastKnown
	for _, id := range ids {
		t.state.StartMonitoring(id)
		if id > maxSeen {
			maxSeen = id
		}
	}
	t.state.SetLastKnownExecutionID(maxSeen)
	return nil
}

// FindUpdatedExecutionsTask is §4.7 step 2: groups monitored
// executions by last-seen status and queries each group for rows whose
// current status differs, forwarding every changed snapshot.
type FindUpdatedExecutionsTask struct {
	catalog Catalog
	state   *AgentState
	logger  *obslog.Logger
	sink    chan<- Execution
}

func NewFindUpdatedExecutionsTask(catalog Catalog, state *AgentState, logger *obslog.Logger, sink chan<- Execution) *FindUpdatedExecutionsTask {
	return &FindUpdatedExecutionsTask{catalog: catalog, state: state, logger: logger, sink: sink}
}

func (t *FindUpdatedExecutionsTask) Tick(ctx context.Context) error {
	byStatus := make(map[ExecutionStatus][]int64)
	for _, state := range t.state.MonitoredWithFlag(MonitorStatusChange) {
		byStatus[state.LastSeenStatus] = append(byStatus[state.LastSeenStatus], state.ExecutionID)
	}

	for status, ids := range byStatus {
		executions, err := t.catalog.ExecutionsByStatus(ctx, status, ids)
		if err != nil {
			t.logger.WithContext(ctx).WithError(err).Warn("find updated executions failed")
			continue
		}
		for _, e := range executions {
			select {
			case <-ctx.Done():
				return nil
			case t.sink <- e:
			}
		}
	}
	return nil
}

// HandleUpdatedExecutionTask is §4.7 step 3: for each incoming
// snapshot, computes every implied status transition and emits a
// run-status event per transition, advancing or clearing the
// execution's monitored state.
type HandleUpdatedExecutionTask struct {
	state *AgentState
	sink  chan<- *events.Event
}

func NewHandleUpdatedExecutionTask(state *AgentState, sink chan<- *events.Event) *HandleUpdatedExecutionTask {
	return &HandleUpdatedExecutionTask{state: state, sink: sink}
}

func (t *HandleUpdatedExecutionTask) Execute(ctx context.Context, execution Execution) error {
	execState, ok := t.state.Get(execution.ExecutionID)
	if !ok {
		return nil
	}

	transitions := CalculateStatusTransitions(execState.LastSeenStatus, execution.Status)

	var lastEmitted ObsStatus
	for _, obsStatus := range transitions {
		var ts time.Time
		switch {
		case obsStatus == ObsRunning:
			ts = execution.StartTime
		case obsStatus.Finished() && execution.EndTime != nil:
			ts = *execution.EndTime
		default:
			ts = execution.StartTime
		}

		event := events.RunStatus(ts, execution.RunKey(), "", string(obsStatus), "")
		event.Set("pipeline_key", execution.PipelineKey())
		event.Set("pipeline_name", execution.PackageName)
		event.Set("component_tool", "ssis")

		select {
		case <-ctx.Done():
			return nil
		case t.sink <- event:
		}
		lastEmitted = obsStatus
	}

	if lastEmitted != "" && lastEmitted.Finished() {
		t.state.StopMonitoring(execution.ExecutionID, MonitorStatusChange)
	} else {
		t.state.UpdateLastSeenStatus(execution.ExecutionID, execution.Status)
	}
	return nil
}

// FindAddedStatisticsTask is §4.7 step 4: iterates monitored
// executions in batches of StatisticsBatchSize, forwards every new
// statistic, and stops statistics monitoring for executions that are
// no longer status-monitored and yielded nothing new this tick.
type FindAddedStatisticsTask struct {
	catalog   Catalog
	state     *AgentState
	logger    *obslog.Logger
	sink      chan<- ExecutableStatistic
	batchSize int
}

func NewFindAddedStatisticsTask(catalog Catalog, state *AgentState, logger *obslog.Logger, sink chan<- ExecutableStatistic, batchSize int) *FindAddedStatisticsTask {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &FindAddedStatisticsTask{catalog: catalog, state: state, logger: logger, sink: sink, batchSize: batchSize}
}

func (t *FindAddedStatisticsTask) Tick(ctx context.Context) error {
	monitored := t.state.MonitoredWithFlag(MonitorStatisticsAdded)
	if len(monitored) == 0 {
		return nil
	}

	ids := make([]int64, len(monitored))
	for i, state := range monitored {
		ids[i] = state.ExecutionID
	}

	for _, batch := range batches(ids, t.batchSize) {
		cursors := make(map[int64]int64, len(batch))
		for _, id := range batch {
			if state, ok := t.state.Get(id); ok {
				cursors[id] = state.LastSeenStatisticID
			}
		}

		stats, err := t.catalog.StatisticsAbove(ctx, cursors)
		if err != nil {
			t.logger.WithContext(ctx).WithError(err).Warn("find added statistics failed")
			continue
		}

		seenThisBatch := make(map[int64]bool, len(batch))
		for _, stat := range stats {
			if state, ok := t.state.Get(stat.ExecutionID); ok {
				state.SetLastStatID(stat.StatisticsID)
			}
			seenThisBatch[stat.ExecutionID] = true
			select {
			case <-ctx.Done():
				return nil
			case t.sink <- stat:
			}
		}

		for _, id := range batch {
			state, ok := t.state.Get(id)
			if !ok {
				continue
			}
			if state.Monitoring&MonitorStatusChange == 0 && !seenThisBatch[id] {
				t.state.StopMonitoring(id, MonitorStatisticsAdded)
			}
		}
	}
	return nil
}

// HandleNewStatisticsTask is §4.7 step 5: emits a RUNNING-then-terminal
// pair per statistic, collapsing container executables so a package's
// own container-level trace doesn't duplicate its children's events.
type HandleNewStatisticsTask struct {
	state *AgentState
	sink  chan<- *events.Event
}

func NewHandleNewStatisticsTask(state *AgentState, sink chan<- *events.Event) *HandleNewStatisticsTask {
	return &HandleNewStatisticsTask{state: state, sink: sink}
}

func (t *HandleNewStatisticsTask) Execute(ctx context.Context, stat ExecutableStatistic) error {
	execState, ok := t.state.Get(stat.ExecutionID)
	if !ok {
		return nil
	}

	if _, isContainer := execState.ContainerExecutables[stat.ExecutionPath]; isContainer {
		return nil
	}

	if container, hasContainer := ContainerPath(stat.ExecutionPath); hasContainer {
		execState.ContainerExecutables[container] = struct{}{}
	}

	emit := func(obsStatus ObsStatus, ts time.Time) error {
		event := events.RunStatus(ts, stat.RunKey(), stat.TaskKey(), string(obsStatus), "")
		event.Set("pipeline_key", stat.PipelineKey())
		event.Set("pipeline_name", stat.PipelineName())
		event.Set("task_name", stat.TaskName())
		event.Set("component_tool", "ssis")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t.sink <- event:
			return nil
		}
	}

	if err := emit(ObsRunning, stat.StartTime); err != nil {
		return nil
	}
	terminal := StatResultToRunStatus[stat.ExecutionResult]
	return emit(terminal, stat.EndTime)
}
