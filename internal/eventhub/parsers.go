// Package eventhub bridges Azure Event Hubs, the one tool whose
// client library runs its own scheduler rather than cooperating with
// this agent's loop. §4.8: a goroutine drives the vendor SDK and
// pushes decoded records into a bounded channel; the agent's ordinary
// scheduler drains that channel and dispatches each record through a
// small parser pipeline.
//
// Grounded on original_source/agents/eventhub/parsers.go (Keys,
// EventHubBaseParser, ADFParser, UnknownStatusParser) and loop.py/
// tasks.py for the receive-thread/channel-drain split, re-expressed as
// a goroutine-plus-channel bridge instead of an asyncio thread nested
// inside a trio task.
package eventhub

import (
	"time"

	"github.com/datakitchen/observability-agent/internal/events"
)

// Record is one decoded JSON record out of an Event Hubs message body,
// matching the ADF diagnostic-log schema this agent understands.
type Record map[string]any

func (r Record) has(key string) bool {
	_, ok := r[key]
	return ok
}

func (r Record) str(key string) string {
	v, _ := r[key].(string)
	return v
}

// Relation names how a Keys predicate combines its key list.
type Relation int

const (
	AllOf Relation = iota
	OneOf
	NoneOf
)

// Keys is a single key-presence predicate over a record, combined by
// its Relation.
type Keys struct {
	Names    []string
	Relation Relation
}

func (k Keys) valid(r Record) bool {
	switch k.Relation {
	case AllOf:
		for _, name := range k.Names {
			if !r.has(name) {
				return false
			}
		}
		return true
	case OneOf:
		for _, name := range k.Names {
			if r.has(name) {
				return true
			}
		}
		return false
	default: // NoneOf
		for _, name := range k.Names {
			if r.has(name) {
				return false
			}
		}
		return true
	}
}

// Parser is the pluggable dispatch unit of §4.8's parser pipeline: a
// record is handled by the first parser whose Applies returns true.
type Parser interface {
	Applies(r Record) bool
	Publish(r Record) []*events.Event
}

func keysValid(keys []Keys, r Record) bool {
	for _, k := range keys {
		if !k.valid(r) {
			return false
		}
	}
	return true
}

func categoryValid(categories map[string]bool, r Record) bool {
	cat, ok := r["category"].(string)
	if !ok {
		return false
	}
	return categories[cat]
}

// TranslateStatus maps an Event Hubs diagnostic-log status string to
// the normalized Observability status, returning "UNKNOWN" for
// anything unrecognized.
func TranslateStatus(status string) string {
	switch status {
	case "InProgress":
		return "RUNNING"
	case "Succeeded":
		return "COMPLETED"
	case "Failed":
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// UnknownStatusParser swallows records whose translated status is
// UNKNOWN, so the absence of a matching named parser doesn't surface
// as a processing error.
type UnknownStatusParser struct{}

func (UnknownStatusParser) Applies(r Record) bool {
	return TranslateStatus(r.str("status")) == "UNKNOWN"
}

func (UnknownStatusParser) Publish(Record) []*events.Event { return nil }

// ADFParser handles Azure Data Factory activity/pipeline-run
// diagnostic-log records.
type ADFParser struct {
	ComponentTool string
}

var adfCategories = map[string]bool{"ActivityRuns": true, "PipelineRuns": true}

var adfKeys = []Keys{
	{Names: []string{"pipelineName", "resourceId", "status"}, Relation: AllOf},
	{Names: []string{"pipelineRunId", "runId"}, Relation: OneOf},
	{Names: []string{"start", "end"}, Relation: OneOf},
}

func (p ADFParser) Applies(r Record) bool {
	if !categoryValid(adfCategories, r) {
		return false
	}
	if !keysValid(adfKeys, r) {
		return false
	}
	return TranslateStatus(r.str("status")) != "UNKNOWN"
}

func coalesce(r Record, keys ...string) string {
	for _, k := range keys {
		if v, ok := r[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func (p ADFParser) Publish(r Record) []*events.Event {
	pipelineKey := r.str("pipelineName")
	runKey := coalesce(r, "pipelineRunId", "runId")
	resourceID := r.str("resourceId")
	taskKey := r.str("activityName")
	status := TranslateStatus(r.str("status"))
	externalURL := "https://adf.azure.com/monitoring/pipelineruns/" + runKey + "?factory=" + resourceID

	ts := parseTimestamp(r.str("timestamp"))

	out := []*events.Event{
		events.RunStatus(ts, runKey, taskKey, status, externalURL).
			Set("pipeline_key", pipelineKey).
			Set("component_tool", p.componentTool()),
	}

	if r.str("activityType") == "Copy" {
		if props, ok := r["properties"].(map[string]any); ok {
			if output, ok := props["Output"].(map[string]any); ok {
				for _, metricKey := range []string{"filesRead", "filesWritten", "dataRead", "dataWritten"} {
					raw, present := output[metricKey]
					if !present {
						continue
					}
					value, ok := toFloat(raw)
					if !ok {
						continue
					}
					out = append(out, events.MetricLog(ts, runKey, taskKey, metricKey, value).
						Set("pipeline_key", pipelineKey).
						Set("external_url", externalURL).
						Set("component_tool", p.componentTool()))
				}
			}
		}
	}

	return out
}

func (p ADFParser) componentTool() string {
	if p.ComponentTool != "" {
		return p.ComponentTool
	}
	return "eventhubs"
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func parseTimestamp(raw string) time.Time {
	if raw == "" {
		return time.Now().UTC()
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts
		}
	}
	return time.Now().UTC()
}
