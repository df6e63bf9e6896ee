package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// §8 invariant: every event carries an ISO-8601 UTC-offset
// event_timestamp and the event_type discriminator.
func TestEvent_PayloadCarriesEventTypeAndTimestamp(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 1, 0, 0, time.FixedZone("PST", -8*3600))
	e := RunStatus(ts, "run-1", "task-1", "COMPLETED", "")

	payload := e.Payload()
	assert.Equal(t, "run-status", payload["event_type"])
	assert.Equal(t, "run-1", payload["run_key"])
	assert.Equal(t, "task-1", payload["task_key"])
	assert.Equal(t, "COMPLETED", payload["status"])

	formatted, ok := payload["event_timestamp"].(string)
	assert.True(t, ok)
	parsed, err := time.Parse(time.RFC3339Nano, formatted)
	assert.NoError(t, err)
	assert.True(t, parsed.Equal(ts))
	assert.Equal(t, time.UTC, parsed.Location())
}

func TestRunStatus_OmitsEmptyTaskKeyAndExternalURL(t *testing.T) {
	e := RunStatus(time.Now(), "run-1", "", "RUNNING", "")
	payload := e.Payload()
	_, hasTaskKey := payload["task_key"]
	_, hasURL := payload["external_url"]
	assert.False(t, hasTaskKey)
	assert.False(t, hasURL)
}

func TestRunStatus_IncludesExternalURLWhenSet(t *testing.T) {
	e := RunStatus(time.Now(), "run-1", "", "FAILED", "https://tool.example/run-1")
	assert.Equal(t, "https://tool.example/run-1", e.Payload()["external_url"])
}

func TestEvent_SetIsChainable(t *testing.T) {
	e := New(TypeMetricLog, time.Now()).Set("a", 1).Set("b", 2)
	assert.Equal(t, 1, e.Fields["a"])
	assert.Equal(t, 2, e.Fields["b"])
}

func TestMetricLog_Fields(t *testing.T) {
	e := MetricLog(time.Now(), "run-1", "task-1", "rows_written", 42.5)
	payload := e.Payload()
	assert.Equal(t, "metric-log", payload["event_type"])
	assert.Equal(t, "rows_written", payload["metric_name"])
	assert.InDelta(t, 42.5, payload["metric_value"], 0.0001)
}

func TestDatasetOperation_Fields(t *testing.T) {
	e := DatasetOperation(time.Now(), "run-1", "task-1", "ds-1", "WRITE")
	payload := e.Payload()
	assert.Equal(t, "dataset-operation", payload["event_type"])
	assert.Equal(t, "ds-1", payload["dataset_key"])
	assert.Equal(t, "WRITE", payload["operation"])
}
