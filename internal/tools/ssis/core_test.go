package ssis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// §4.7's status transition table, exercised exhaustively: for every
// (prev, reported) pair named there, the corresponding Observability
// statuses are emitted in the specified order and no others.
func TestCalculateStatusTransitions_TableExhaustive(t *testing.T) {
	cases := []struct {
		name     string
		prev     ExecutionStatus
		reported ExecutionStatus
		want     []ObsStatus
	}{
		{"new->running", StatusNew, StatusRunning, []ObsStatus{ObsRunning}},
		{"created->failed", StatusCreated, StatusFailed, []ObsStatus{ObsRunning, ObsFailed}},
		{"pending->succeeded", StatusPending, StatusSucceeded, []ObsStatus{ObsRunning, ObsCompleted}},
		{"new->completed", StatusNew, StatusCompleted, []ObsStatus{ObsRunning, ObsCompletedWithWarnings}},
		{"new->ended_unexpectedly", StatusNew, StatusEndedUnexpectedly, []ObsStatus{ObsRunning, ObsFailed}},
		// Non-{NEW,CREATED,PENDING} previous states never emit RUNNING.
		{"running->succeeded", StatusRunning, StatusSucceeded, []ObsStatus{ObsCompleted}},
		{"running->completed", StatusRunning, StatusCompleted, []ObsStatus{ObsCompletedWithWarnings}},
		{"running->failed", StatusRunning, StatusFailed, []ObsStatus{ObsFailed}},
		{"stopping->ended_unexpectedly", StatusStopping, StatusEndedUnexpectedly, []ObsStatus{ObsFailed}},
		// A reported status not in any rule's reported set emits nothing.
		{"running->running", StatusRunning, StatusRunning, nil},
		{"new->created", StatusNew, StatusCreated, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CalculateStatusTransitions(tc.prev, tc.reported)
			assert.Equal(t, tc.want, got)
		})
	}
}

// Scenario 3: an execution first seen at SUCCEEDED (previous
// last_seen_status = NEW) emits RUNNING then COMPLETED, in that order.
func TestCalculateStatusTransitions_Scenario3FirstSeenSucceeded(t *testing.T) {
	got := CalculateStatusTransitions(StatusNew, StatusSucceeded)
	assert.Equal(t, []ObsStatus{ObsRunning, ObsCompleted}, got)
}

func TestStatResultToRunStatus_Mapping(t *testing.T) {
	assert.Equal(t, ObsCompleted, StatResultToRunStatus[ResultSucceeded])
	assert.Equal(t, ObsCompletedWithWarnings, StatResultToRunStatus[ResultCompleted])
	assert.Equal(t, ObsFailed, StatResultToRunStatus[ResultCanceled])
	assert.Equal(t, ObsFailed, StatResultToRunStatus[ResultFailed])
}

// Scenario 4: container collapsing strips a `[digits]` loop-iteration
// suffix before registering the container path.
func TestContainerPath_StripsLoopIndices(t *testing.T) {
	container, ok := ContainerPath(`Package\Loop[1]\Child`)
	assert.True(t, ok)
	assert.Equal(t, `Package\Loop`, container)

	container2, ok2 := ContainerPath(`Package\Loop`)
	assert.True(t, ok2)
	assert.Equal(t, `Package`, container2)
}

func TestContainerPath_NoSeparatorMeansNotAContainer(t *testing.T) {
	_, ok := ContainerPath("Package")
	assert.False(t, ok)
}

func TestExecutableStatistic_TaskName(t *testing.T) {
	s := ExecutableStatistic{ExecutionPath: `Package\Loop\Child`}
	assert.Equal(t, "Child", s.TaskName())
}
