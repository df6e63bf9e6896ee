// Package synapse implements the Azure Synapse Analytics adapter:
// list pipeline runs, then watch each run's activity runs, surfacing
// Copy activity dataset reads/writes from userProperties.Source /
// userProperties.Destination. Finalization requires two consecutive
// ticks observing the same terminal status (§4.6.5's Synapse-specific
// rule), expressed generically via FinalizeConfirmTicks.
//
// Grounded on original_source/agents/synapse_analytics/*.py for the
// pipelineruns/queryPipelineRuns and pipelineruns/{id}/queryActivityRuns
// REST surface and the userProperties dataset convention.
package synapse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/datakitchen/observability-agent/internal/config"
	"github.com/datakitchen/observability-agent/internal/httpclient"
	"github.com/datakitchen/observability-agent/internal/tools/common"
)

// Adapter implements common.Adapter against the Synapse Analytics
// pipeline-run REST API.
type Adapter struct {
	cfg              config.SynapseConfig
	queryRunsEndpoint *httpclient.RequestHandle
	queryActsEndpoint *httpclient.RequestHandle
}

func NewAdapter(client *httpclient.Client, cfg config.SynapseConfig) *Adapter {
	return &Adapter{
		cfg:               cfg,
		queryRunsEndpoint: client.NewHandle(http.MethodPost, "/pipelineruns/queryPipelineRuns", nil),
		queryActsEndpoint: client.NewHandle(http.MethodPost, "/pipelineruns/{run_id}/queryActivityRuns", nil),
	}
}

func (a *Adapter) ListPeriod() time.Duration  { return a.cfg.PollPeriod }
func (a *Adapter) ListCron() string          { return a.cfg.PollCron }
func (a *Adapter) WatchPeriod() time.Duration { return a.cfg.WatchPeriod }

func (a *Adapter) ExtendedWatch() (bool, time.Duration, time.Duration) { return false, 0, 0 }

// FinalizeConfirmTicks: Synapse requires a run's final status be
// observed in two consecutive ticks before finalizing, guarding
// against activities reported after the run's own terminal status.
func (a *Adapter) FinalizeConfirmTicks() int {
	if a.cfg.FinalizeConfirmTicks > 0 {
		return a.cfg.FinalizeConfirmTicks
	}
	return 2
}

func (a *Adapter) ComponentTool() string { return "synapse_analytics" }

type pipelineRun struct {
	RunID        string `json:"runId"`
	PipelineName string `json:"pipelineName"`
	Status       string `json:"status"`
	RunStart     string `json:"runStart"`
	RunEnd       string `json:"runEnd"`
	Message      string `json:"message"`
}

type queryRunsResponse struct {
	Value []pipelineRun `json:"value"`
}

func (a *Adapter) ListRuns(ctx context.Context, since, until time.Time) ([]common.RunSummary, error) {
	body, err := json.Marshal(map[string]any{
		"lastUpdatedAfter":  since.UTC().Format(time.RFC3339),
		"lastUpdatedBefore": until.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}
	resp, err := a.queryRunsEndpoint.Do(ctx, nil, body, nil, nil)
	if err != nil {
		return nil, err
	}
	var parsed queryRunsResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, fmt.Errorf("parse synapse pipeline runs: %w", err)
	}

	runs := make([]common.RunSummary, 0, len(parsed.Value))
	for _, r := range parsed.Value {
		started, _ := time.Parse(time.RFC3339, r.RunStart)
		runs = append(runs, common.RunSummary{RunKey: common.RunKey(r.RunID), StartedAt: started})
	}
	return runs, nil
}

type activityRun struct {
	ActivityName string          `json:"activityName"`
	ActivityType string          `json:"activityType"`
	Status       string          `json:"status"`
	ActivityRunStart string      `json:"activityRunStart"`
	ActivityRunEnd   string      `json:"activityRunEnd"`
	Error        json.RawMessage `json:"error"`
	UserProperties struct {
		Source      string `json:"Source"`
		Destination string `json:"Destination"`
	} `json:"userProperties"`
}

type queryActsResponse struct {
	Value []activityRun `json:"value"`
}

func (a *Adapter) GetRunState(ctx context.Context, runKey common.RunKey) (*common.RunState, error) {
	// Fetch the single run to get its own status/timestamps.
	body, err := json.Marshal(map[string]any{"filters": []any{}})
	if err != nil {
		return nil, err
	}
	runsResp, err := a.queryRunsEndpoint.Do(ctx, nil, body, nil, nil)
	if err != nil {
		return nil, err
	}
	var runsParsed queryRunsResponse
	if err := json.Unmarshal(runsResp.Body, &runsParsed); err != nil {
		return nil, fmt.Errorf("parse synapse pipeline runs: %w", err)
	}
	var run *pipelineRun
	for i := range runsParsed.Value {
		if common.RunKey(runsParsed.Value[i].RunID) == runKey {
			run = &runsParsed.Value[i]
			break
		}
	}
	if run == nil {
		return nil, fmt.Errorf("synapse run %s not found", runKey)
	}

	actsResp, err := a.queryActsEndpoint.Do(ctx, nil, body, map[string]string{"run_id": string(runKey)}, nil)
	if err != nil {
		return nil, err
	}
	var actsParsed queryActsResponse
	if err := json.Unmarshal(actsResp.Body, &actsParsed); err != nil {
		return nil, fmt.Errorf("parse synapse activity runs: %w", err)
	}

	tasks := make([]common.TaskState, 0, len(actsParsed.Value))
	var datasetOps []common.DatasetOp
	for _, act := range actsParsed.Value {
		taskKey := common.TaskKey(act.ActivityName)
		status := mapStatus(act.Status)
		var started, ended *time.Time
		if ts, err := time.Parse(time.RFC3339, act.ActivityRunStart); err == nil {
			started = &ts
		}
		if ts, err := time.Parse(time.RFC3339, act.ActivityRunEnd); err == nil {
			ended = &ts
		}
		tasks = append(tasks, common.TaskState{
			TaskKey:      taskKey,
			Status:       status,
			StartedAt:    started,
			EndedAt:      ended,
			ErrorMessage: string(act.Error),
		})

		if act.ActivityType == "Copy" {
			if act.UserProperties.Source != "" {
				datasetOps = append(datasetOps, common.DatasetOp{TaskKey: taskKey, DatasetKey: act.UserProperties.Source, Operation: "READ"})
			}
			if act.UserProperties.Destination != "" {
				datasetOps = append(datasetOps, common.DatasetOp{TaskKey: taskKey, DatasetKey: act.UserProperties.Destination, Operation: "WRITE"})
			}
		}
	}

	var started, ended *time.Time
	if ts, err := time.Parse(time.RFC3339, run.RunStart); err == nil {
		started = &ts
	}
	if ts, err := time.Parse(time.RFC3339, run.RunEnd); err == nil {
		ended = &ts
	}

	return &common.RunState{
		Status:       mapStatus(run.Status),
		StartedAt:    started,
		EndedAt:      ended,
		ErrorMessage: run.Message,
		PipelineName: run.PipelineName,
		Tasks:        tasks,
		DatasetOps:   datasetOps,
	}, nil
}

func mapStatus(status string) string {
	switch status {
	case "Succeeded":
		return common.StatusCompleted
	case "Failed":
		return common.StatusFailed
	case "Cancelled", "Cancelling":
		return common.StatusFailed
	case "InProgress", "Queued":
		return common.StatusRunning
	default:
		return common.StatusUnknown
	}
}
