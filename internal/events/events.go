// Package events defines the normalized lifecycle event emitted by
// every tool adapter toward the Observability ingestion service: an
// unordered string-keyed payload plus a discriminator naming which of
// the five event shapes it is.
//
// Grounded on original_source/toolkit/observability/event_types.py,
// which defines the same discriminated payload as a set of attrs/
// dataclasses serialized to JSON; re-expressed here as a single
// map-backed Event type (matching how infrastructure/logging/logger.go
// builds logrus.Fields payloads) rather than one Go struct per event
// type, since the agent fleet's tool adapters build these payloads
// incrementally field-by-field and the wire format has no fixed
// schema beyond the event_type discriminator.
package events

import "time"

// Type names the five event shapes the Observability service accepts.
type Type string

const (
	TypeRunStatus        Type = "run-status"
	TypeMessageLog       Type = "message-log"
	TypeMetricLog        Type = "metric-log"
	TypeDatasetOperation Type = "dataset-operation"
	TypeTestOutcomes     Type = "test-outcomes"
)

// Event is a single normalized payload bound for
// {obs_base_url}/events/v1/{event_type}.
type Event struct {
	EventType Type
	Timestamp time.Time
	Fields    map[string]any
}

// New starts an event of the given type, stamped with ts.
func New(t Type, ts time.Time) *Event {
	return &Event{
		EventType: t,
		Timestamp: ts,
		Fields:    make(map[string]any),
	}
}

// Set assigns a field and returns the event for chaining.
func (e *Event) Set(key string, value any) *Event {
	e.Fields[key] = value
	return e
}

// Payload renders the event as the JSON body the sender POSTs,
// merging event_type and timestamp into the field map.
func (e *Event) Payload() map[string]any {
	out := make(map[string]any, len(e.Fields)+2)
	for k, v := range e.Fields {
		out[k] = v
	}
	out["event_type"] = string(e.EventType)
	out["event_timestamp"] = e.Timestamp.UTC().Format(time.RFC3339Nano)
	return out
}

// RunStatus builds a run-status event: a run or task transitioning to
// a new status.
func RunStatus(ts time.Time, runKey, taskKey, status string, externalURL string) *Event {
	e := New(TypeRunStatus, ts)
	e.Set("run_key", runKey)
	if taskKey != "" {
		e.Set("task_key", taskKey)
	}
	e.Set("status", status)
	if externalURL != "" {
		e.Set("external_url", externalURL)
	}
	return e
}

// MessageLog builds a message-log event: a free-text log line attached
// to a run or task.
func MessageLog(ts time.Time, runKey, taskKey, level, message string) *Event {
	e := New(TypeMessageLog, ts)
	e.Set("run_key", runKey)
	if taskKey != "" {
		e.Set("task_key", taskKey)
	}
	e.Set("level", level)
	e.Set("message", message)
	return e
}

// MetricLog builds a metric-log event: a named numeric measurement.
func MetricLog(ts time.Time, runKey, taskKey, name string, value float64) *Event {
	e := New(TypeMetricLog, ts)
	e.Set("run_key", runKey)
	if taskKey != "" {
		e.Set("task_key", taskKey)
	}
	e.Set("metric_name", name)
	e.Set("metric_value", value)
	return e
}

// DatasetOperation builds a dataset-operation event: a read/write
// against a named dataset performed by a run or task.
func DatasetOperation(ts time.Time, runKey, taskKey, datasetKey, operation string) *Event {
	e := New(TypeDatasetOperation, ts)
	e.Set("run_key", runKey)
	if taskKey != "" {
		e.Set("task_key", taskKey)
	}
	e.Set("dataset_key", datasetKey)
	e.Set("operation", operation)
	return e
}

// TestOutcomes builds a test-outcomes event: the pass/fail result of a
// data quality test (notably emitted by the dbt test-outcomes
// adapter).
func TestOutcomes(ts time.Time, runKey, taskKey, testKey string, passed bool, testResult string) *Event {
	e := New(TypeTestOutcomes, ts)
	e.Set("run_key", runKey)
	if taskKey != "" {
		e.Set("task_key", taskKey)
	}
	e.Set("test_key", testKey)
	e.Set("passed", passed)
	if testResult != "" {
		e.Set("test_result", testResult)
	}
	return e
}
