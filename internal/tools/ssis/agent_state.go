package ssis

import "sync"

// MonitorFlags is a bit-set drawn from {STATUS_CHANGE,
// STATISTICS_ADDED}, mirroring the source's StateMonitoring Flag enum.
type MonitorFlags uint8

const (
	MonitorStatusChange    MonitorFlags = 1 << iota
	MonitorStatisticsAdded
	MonitorAll = MonitorStatusChange | MonitorStatisticsAdded
)

// ExecutionState is the agent's per-execution bookkeeping: what to
// keep monitoring, the last Observability-relevant status observed,
// the statistics cursor, and the set of paths recognized as container
// executables.
type ExecutionState struct {
	ExecutionID         int64
	Monitoring          MonitorFlags
	LastSeenStatus      ExecutionStatus
	LastSeenStatisticID int64
	ContainerExecutables map[string]struct{}
}

func newExecutionState(executionID int64, monitoring MonitorFlags) *ExecutionState {
	return &ExecutionState{
		ExecutionID:          executionID,
		Monitoring:           monitoring,
		LastSeenStatus:       StatusNew,
		ContainerExecutables: make(map[string]struct{}),
	}
}

// SetLastStatID advances the statistics cursor, never moving it
// backward.
func (e *ExecutionState) SetLastStatID(statID int64) {
	if statID > e.LastSeenStatisticID {
		e.LastSeenStatisticID = statID
	}
}

// AgentState owns every monitored execution's bookkeeping. It is
// accessed only from this package's five tasks; because those tasks
// each own a disjoint slice of the work (FetchNewExecutions never
// emits, HandleUpdatedExecution only mutates STATUS_CHANGE state,
// HandleNewStatistics only mutates container sets), a single mutex
// guarding the map is sufficient — no per-field locking is needed.
type AgentState struct {
	mu                   sync.Mutex
	monitored            map[int64]*ExecutionState
	lastKnownExecutionID *int64
}

func NewAgentState() *AgentState {
	return &AgentState{monitored: make(map[int64]*ExecutionState)}
}

// LastKnownExecutionID returns the highest execution id the fetcher
// has seen, and whether one has been set yet.
func (a *AgentState) LastKnownExecutionID() (int64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastKnownExecutionID == nil {
		return 0, false
	}
	return *a.lastKnownExecutionID, true
}

// SetLastKnownExecutionID records the high-water mark.
func (a *AgentState) SetLastKnownExecutionID(id int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastKnownExecutionID = &id
}

// StartMonitoring registers a newly discovered execution with both
// monitoring flags set.
func (a *AgentState) StartMonitoring(executionID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.monitored[executionID] = newExecutionState(executionID, MonitorAll)
}

// StopMonitoring clears the given flags from an execution's
// monitoring set, dropping it entirely once nothing is left to watch.
func (a *AgentState) StopMonitoring(executionID int64, flags MonitorFlags) {
	a.mu.Lock()
	defer a.mu.Unlock()
	state, ok := a.monitored[executionID]
	if !ok {
		return
	}
	state.Monitoring &^= flags
	if state.Monitoring == 0 {
		delete(a.monitored, executionID)
	}
}

// Get returns the execution state for id, if monitored.
func (a *AgentState) Get(executionID int64) (*ExecutionState, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	state, ok := a.monitored[executionID]
	return state, ok
}

// MonitoredWithFlag returns every monitored execution carrying flag,
// snapshotted under the lock.
func (a *AgentState) MonitoredWithFlag(flag MonitorFlags) []*ExecutionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*ExecutionState, 0, len(a.monitored))
	for _, state := range a.monitored {
		if state.Monitoring&flag != 0 {
			out = append(out, state)
		}
	}
	return out
}

// UpdateLastSeenStatus records the new status for a monitored
// execution.
func (a *AgentState) UpdateLastSeenStatus(executionID int64, status ExecutionStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if state, ok := a.monitored[executionID]; ok {
		state.LastSeenStatus = status
	}
}
