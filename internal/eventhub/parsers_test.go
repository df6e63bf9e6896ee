package eventhub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateStatus(t *testing.T) {
	assert.Equal(t, "RUNNING", TranslateStatus("InProgress"))
	assert.Equal(t, "COMPLETED", TranslateStatus("Succeeded"))
	assert.Equal(t, "FAILED", TranslateStatus("Failed"))
	assert.Equal(t, "UNKNOWN", TranslateStatus("SomethingElse"))
}

func TestUnknownStatusParser_AppliesOnlyToUnknownStatus(t *testing.T) {
	p := UnknownStatusParser{}
	assert.True(t, p.Applies(Record{"status": "Queued"}))
	assert.False(t, p.Applies(Record{"status": "Succeeded"}))
	assert.Nil(t, p.Publish(Record{"status": "Queued"}))
}

func adfRecord() Record {
	return Record{
		"category":     "PipelineRuns",
		"pipelineName": "ingest-daily",
		"resourceId":   "/subscriptions/x/resourceGroups/rg/providers/Microsoft.DataFactory/factories/adf1",
		"status":       "Succeeded",
		"pipelineRunId": "run-abc",
		"start":        "2024-01-01T00:00:00Z",
		"timestamp":    "2024-01-01T00:05:00Z",
		"activityName": "CopyActivity1",
		"activityType": "Copy",
	}
}

func TestADFParser_AppliesRequiresCategoryKeysAndKnownStatus(t *testing.T) {
	p := ADFParser{}
	assert.True(t, p.Applies(adfRecord()))

	missingKeys := adfRecord()
	delete(missingKeys, "pipelineRunId")
	delete(missingKeys, "runId")
	assert.False(t, p.Applies(missingKeys))

	wrongCategory := adfRecord()
	wrongCategory["category"] = "Something"
	assert.False(t, p.Applies(wrongCategory))

	unknownStatus := adfRecord()
	unknownStatus["status"] = "Queued"
	assert.False(t, p.Applies(unknownStatus))
}

func TestADFParser_PublishEmitsRunStatusWithExternalURL(t *testing.T) {
	p := ADFParser{ComponentTool: "synapse-eventhubs"}
	out := p.Publish(adfRecord())
	require.Len(t, out, 1)

	payload := out[0].Payload()
	assert.Equal(t, "run-status", payload["event_type"])
	assert.Equal(t, "COMPLETED", payload["status"])
	assert.Equal(t, "run-abc", payload["run_key"])
	assert.Equal(t, "CopyActivity1", payload["task_key"])
	assert.Equal(t, "ingest-daily", payload["pipeline_key"])
	assert.Equal(t, "synapse-eventhubs", payload["component_tool"])
	assert.Contains(t, payload["external_url"], "run-abc")
}

func TestADFParser_CopyActivityEmitsMetricsFromOutputProperties(t *testing.T) {
	p := ADFParser{}
	record := adfRecord()
	record["properties"] = map[string]any{
		"Output": map[string]any{
			"filesRead":    float64(10),
			"filesWritten": float64(9),
			"dataRead":     float64(1024),
		},
	}

	out := p.Publish(record)
	require.Len(t, out, 4) // 1 run-status + 3 metrics

	metricNames := map[string]bool{}
	for _, e := range out[1:] {
		metricNames[e.Payload()["metric_name"].(string)] = true
	}
	assert.True(t, metricNames["filesRead"])
	assert.True(t, metricNames["filesWritten"])
	assert.True(t, metricNames["dataRead"])
	assert.False(t, metricNames["dataWritten"], "dataWritten was absent from Output and must not be emitted")
}

func TestADFParser_NonCopyActivityEmitsNoMetrics(t *testing.T) {
	p := ADFParser{}
	record := adfRecord()
	record["activityType"] = "Lookup"
	out := p.Publish(record)
	assert.Len(t, out, 1)
}

func TestCoalesce_ReturnsFirstNonEmptyStringKey(t *testing.T) {
	r := Record{"a": "", "b": "value", "c": "other"}
	assert.Equal(t, "value", coalesce(r, "a", "b", "c"))
	assert.Equal(t, "", coalesce(r, "missing"))
}

func TestKeysValid_Relations(t *testing.T) {
	r := Record{"x": 1, "y": 2}

	assert.True(t, Keys{Names: []string{"x", "y"}, Relation: AllOf}.valid(r))
	assert.False(t, Keys{Names: []string{"x", "z"}, Relation: AllOf}.valid(r))

	assert.True(t, Keys{Names: []string{"z", "y"}, Relation: OneOf}.valid(r))
	assert.False(t, Keys{Names: []string{"z", "w"}, Relation: OneOf}.valid(r))

	assert.True(t, Keys{Names: []string{"z", "w"}, Relation: NoneOf}.valid(r))
	assert.False(t, Keys{Names: []string{"x"}, Relation: NoneOf}.valid(r))
}
