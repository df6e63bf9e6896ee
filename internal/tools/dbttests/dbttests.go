// Package dbttests implements a producer for test-outcomes events (and
// the run/task/metric events that accompany a dbt invocation) read
// from a dbt `run_results.json` plus its sibling `manifest.json`. The
// test-outcomes event shape is reserved by the wire format but has no
// producer elsewhere in this repo; this adapter is that producer,
// grounded on original_source/dbt-core-connector/action_observer/
// commands/dbt_core.go's DBTResultsPublisher.
//
// The original is invoked once per CLI run with an in-memory results
// object; this agent instead polls the two JSON files on a period and
// republishes only when run_results.json's invocation_id changes, so
// it fits the same periodic-adapter shape as every other tool in the
// fleet.
package dbttests

import (
	"encoding/json"
	"os"
	"time"

	"github.com/datakitchen/observability-agent/internal/config"
	"github.com/datakitchen/observability-agent/internal/events"
)

const componentTool = "dbt"

// Adapter polls a dbt run_results.json/manifest.json pair and emits
// one full event graph per new invocation_id.
type Adapter struct {
	cfg              config.DBTTestsConfig
	lastInvocationID string
}

func NewAdapter(cfg config.DBTTestsConfig) *Adapter {
	return &Adapter{cfg: cfg}
}

func (a *Adapter) PollPeriod() time.Duration { return a.cfg.PollPeriod }

type runResults struct {
	Metadata struct {
		InvocationID string `json:"invocation_id"`
		GeneratedAt  string `json:"generated_at"`
	} `json:"metadata"`
	ElapsedTime float64      `json:"elapsed_time"`
	Results     []runResult `json:"results"`
}

type runResult struct {
	UniqueID string        `json:"unique_id"`
	Status   string        `json:"status"`
	Timing   []timingEntry `json:"timing"`
}

type timingEntry struct {
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at"`
}

type manifest struct {
	Nodes map[string]manifestNode `json:"nodes"`
}

type manifestNode struct {
	ResourceType string `json:"resource_type"`
	Description  string `json:"description"`
}

// Poll reads both files and, if the run's invocation_id is new,
// returns the full event graph for that run: a run-level RUNNING and
// final run-status event, one RUNNING/terminal run-status pair per
// result that was not skipped, one test-outcomes event per test node,
// and the accompanying metric-log events. Returns nil, nil if
// the run has already been published or the files aren't present yet.
func (a *Adapter) Poll() ([]*events.Event, error) {
	resultsRaw, err := os.ReadFile(a.cfg.RunResultsPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var results runResults
	if err := json.Unmarshal(resultsRaw, &results); err != nil {
		return nil, err
	}

	if results.Metadata.InvocationID == "" || results.Metadata.InvocationID == a.lastInvocationID {
		return nil, nil
	}

	manifestRaw, err := os.ReadFile(a.cfg.ManifestPath)
	if err != nil {
		return nil, err
	}
	var man manifest
	if err := json.Unmarshal(manifestRaw, &man); err != nil {
		return nil, err
	}

	out := a.parse(results, man)
	a.lastInvocationID = results.Metadata.InvocationID
	return out, nil
}

func parseTiming(layout string, raw string) (time.Time, bool) {
	ts, err := time.Parse(layout, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

const dbtTimeLayout = "2006-01-02T15:04:05.999999Z07:00"

var farFuture = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

func findResultTimings(r runResult) (start, end time.Time, ok bool) {
	if len(r.Timing) == 0 {
		return time.Time{}, time.Time{}, false
	}
	start = farFuture
	end = time.Unix(0, 0)
	foundTiming := false
	for _, t := range r.Timing {
		s, okS := parseTiming(dbtTimeLayout, t.StartedAt)
		e, okE := parseTiming(dbtTimeLayout, t.CompletedAt)
		if !okS || !okE {
			continue
		}
		foundTiming = true
		if s.Before(start) {
			start = s
		}
		if e.After(end) {
			end = e
		}
	}
	return start, end, foundTiming
}

func findRunStartAndEnd(r runResults) (time.Time, time.Time) {
	start := farFuture
	found := false
	for _, result := range r.Results {
		s, _, ok := findResultTimings(result)
		if !ok {
			continue
		}
		found = true
		if s.Before(start) {
			start = s
		}
	}
	if !found {
		generated, ok := parseTiming(dbtTimeLayout, r.Metadata.GeneratedAt)
		if ok {
			start = generated
		} else {
			start = time.Now().UTC()
		}
	}
	end := start.Add(time.Duration(r.ElapsedTime*float64(time.Second)) + time.Millisecond)
	start = start.Add(-time.Millisecond)
	return start, end
}

func dbtStatusToRunStatus(status, resourceType string) string {
	if resourceType == "test" {
		switch status {
		case "pass":
			return "COMPLETED"
		case "warn":
			return "COMPLETED_WITH_WARNINGS"
		case "fail":
			return "FAILED"
		default:
			return "COMPLETED_WITH_WARNINGS"
		}
	}
	switch status {
	case "success":
		return "COMPLETED"
	case "warn":
		return "COMPLETED_WITH_WARNINGS"
	case "error":
		return "FAILED"
	default:
		return "COMPLETED_WITH_WARNINGS"
	}
}

func dbtStatusToOutcome(status string) string {
	switch status {
	case "pass":
		return "PASSED"
	case "fail":
		return "FAILED"
	default:
		return "WARNING"
	}
}

func (a *Adapter) parse(r runResults, man manifest) []*events.Event {
	runKey := r.Metadata.InvocationID
	runStart, runEnd := findRunStartAndEnd(r)

	out := []*events.Event{
		events.RunStatus(runStart, runKey, "", "RUNNING", "").
			Set("pipeline_key", a.cfg.PipelineKey).
			Set("pipeline_name", a.cfg.PipelineName).
			Set("component_tool", componentTool),
	}

	var (
		testCount, testPassed, testFailed, testWarned int
		taskCount, taskError, taskWarning, taskSkipped int
		outcomes                                       []map[string]any
	)

	for _, result := range r.Results {
		node := man.Nodes[result.UniqueID]

		taskCount++
		switch result.Status {
		case "error":
			taskError++
		case "warn":
			taskWarning++
		case "skipped":
			taskSkipped++
			continue
		}

		if node.ResourceType == "test" {
			testCount++
			switch result.Status {
			case "pass":
				testPassed++
			case "fail":
				testFailed++
			case "warn":
				testWarned++
			}
		}

		start, end, ok := findResultTimings(result)
		if !ok {
			start = runStart.Add(time.Millisecond)
			end = runStart.Add(2 * time.Millisecond)
		}

		out = append(out,
			events.RunStatus(start, runKey, result.UniqueID, "RUNNING", "").
				Set("pipeline_key", a.cfg.PipelineKey).
				Set("pipeline_name", a.cfg.PipelineName).
				Set("task_name", result.UniqueID).
				Set("component_tool", componentTool),
			events.RunStatus(end, runKey, result.UniqueID, dbtStatusToRunStatus(result.Status, node.ResourceType), "").
				Set("pipeline_key", a.cfg.PipelineKey).
				Set("pipeline_name", a.cfg.PipelineName).
				Set("task_name", result.UniqueID).
				Set("component_tool", componentTool),
		)

		if node.ResourceType == "test" {
			outcomes = append(outcomes, map[string]any{
				"name":        result.UniqueID,
				"status":      dbtStatusToOutcome(result.Status),
				"description": node.Description,
				"start_time":  start.UTC().Format(time.RFC3339Nano),
				"end_time":    end.UTC().Format(time.RFC3339Nano),
			})
		}
	}

	if len(outcomes) > 0 {
		outcomesEnd := runEnd.Add(-6 * time.Millisecond)
		outcomesMetricsEnd := runEnd.Add(-4 * time.Millisecond)

		for _, outcome := range outcomes {
			passed := outcome["status"] == "PASSED"
			out = append(out, events.TestOutcomes(outcomesEnd, runKey, "", outcome["name"].(string), passed, outcome["status"].(string)).
				Set("pipeline_key", a.cfg.PipelineKey).
				Set("component_tool", componentTool).
				Set("description", outcome["description"]).
				Set("start_time", outcome["start_time"]).
				Set("end_time", outcome["end_time"]))
		}

		out = append(out,
			events.MetricLog(outcomesMetricsEnd, runKey, "", "total_tests", float64(testCount)).
				Set("pipeline_key", a.cfg.PipelineKey).Set("component_tool", componentTool),
			events.MetricLog(outcomesMetricsEnd, runKey, "", "tests_passed", float64(testPassed)).
				Set("pipeline_key", a.cfg.PipelineKey).Set("component_tool", componentTool),
			events.MetricLog(outcomesMetricsEnd, runKey, "", "tests_failed", float64(testFailed)).
				Set("pipeline_key", a.cfg.PipelineKey).Set("component_tool", componentTool),
			events.MetricLog(outcomesMetricsEnd, runKey, "", "tests_warned", float64(testWarned)).
				Set("pipeline_key", a.cfg.PipelineKey).Set("component_tool", componentTool),
		)
	}

	runMetricsTime := runEnd.Add(-2 * time.Millisecond)
	out = append(out,
		events.MetricLog(runMetricsTime, runKey, "", "tasks_total", float64(taskCount)).
			Set("pipeline_key", a.cfg.PipelineKey).Set("pipeline_name", a.cfg.PipelineName).Set("component_tool", componentTool),
		events.MetricLog(runMetricsTime, runKey, "", "tasks_successful", float64(taskCount-taskError-taskWarning-taskSkipped)).
			Set("pipeline_key", a.cfg.PipelineKey).Set("pipeline_name", a.cfg.PipelineName).Set("component_tool", componentTool),
		events.MetricLog(runMetricsTime, runKey, "", "task_warnings", float64(taskWarning)).
			Set("pipeline_key", a.cfg.PipelineKey).Set("pipeline_name", a.cfg.PipelineName).Set("component_tool", componentTool),
		events.MetricLog(runMetricsTime, runKey, "", "task_errors", float64(taskError)).
			Set("pipeline_key", a.cfg.PipelineKey).Set("pipeline_name", a.cfg.PipelineName).Set("component_tool", componentTool),
	)

	var runStatus string
	switch {
	case taskError != 0 || testFailed != 0:
		runStatus = "COMPLETED_WITH_WARNINGS"
	case taskWarning != 0 || testWarned != 0:
		runStatus = "COMPLETED_WITH_WARNINGS"
	default:
		runStatus = "COMPLETED"
	}

	out = append(out, events.RunStatus(runEnd, runKey, "", runStatus, "").
		Set("pipeline_key", a.cfg.PipelineKey).
		Set("pipeline_name", a.cfg.PipelineName).
		Set("component_tool", componentTool))

	return out
}
