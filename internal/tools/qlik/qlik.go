// Package qlik implements the Qlik Sense Enterprise adapter: list
// reload task executions via the Qlik Repository Service API, then
// watch each execution's own status.
//
// Grounded on original_source/agents/qlik/*.py. The source swaps
// pipeline_name/pipeline_key when building the event payload (it
// assigns the app's display name to the key field and the app id to
// the name field); this adapter fixes the swap:
// pipeline_key = app_id, pipeline_name = app_name.
package qlik

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

// Adapter implements common.Adapter against the Qlik Repository
// Service executionresult API.
type Adapter struct {
	cfg           config.QlikConfig
	listEndpoint  *httpclient.RequestHandle
	getEndpoint   *httpclient.RequestHandle
}

func NewAdapter(client *httpclient.Client, cfg config.QlikConfig) *Adapter {
	return &Adapter{
		cfg:          cfg,
		listEndpoint: client.NewHandle(http.MethodGet, "/qrs/executionresult/full", nil),
		getEndpoint:  client.NewHandle(http.MethodGet, "/qrs/executionresult/{id}", nil),
	}
}

func (a *Adapter) ListPeriod() time.Duration  { return a.cfg.PollPeriod }
func (a *Adapter) ListCron() string          { return a.cfg.PollCron }
func (a *Adapter) WatchPeriod() time.Duration { return a.cfg.WatchPeriod }

func (a *Adapter) ExtendedWatch() (bool, time.Duration, time.Duration) { return false, 0, 0 }

func (a *Adapter) FinalizeConfirmTicks() int { return 1 }

func (a *Adapter) ComponentTool() string { return "qlik" }

type executionResult struct {
	ID        string `json:"id"`
	StartTime string `json:"startTime"`
	StopTime  string `json:"stopTime"`
	Status    int    `json:"status"`
	Details   []struct {
		DetailsType int    `json:"detailsType"`
		Message     string `json:"message"`
	} `json:"details"`
	ReloadTask struct {
		App struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"app"`
	} `json:"reloadTask"`
}

func (a *Adapter) ListRuns(ctx context.Context, since, until time.Time) ([]common.RunSummary, error) {
	resp, err := a.listEndpoint.Do(ctx, nil, nil, nil, nil)
	if err != nil {
		return nil, err
	}
	var results []executionResult
	if err := json.Unmarshal(resp.Body, &results); err != nil {
		return nil, fmt.Errorf("parse qlik execution results: %w", err)
	}

	runs := make([]common.RunSummary, 0, len(results))
	for _, r := range results {
		started, err := time.Parse(time.RFC3339, r.StartTime)
		if err != nil || started.Before(since) || !started.Before(until) {
			continue
		}
		runs = append(runs, common.RunSummary{RunKey: common.RunKey(r.ID), StartedAt: started})
	}
	return runs, nil
}

func (a *Adapter) GetRunState(ctx context.Context, runKey common.RunKey) (*common.RunState, error) {
	resp, err := a.getEndpoint.Do(ctx, nil, nil, map[string]string{"id": string(runKey)}, nil)
	if err != nil {
		return nil, err
	}
	var r executionResult
	if err := json.Unmarshal(resp.Body, &r); err != nil {
		return nil, fmt.Errorf("parse qlik execution result: %w", err)
	}

	var started, ended *time.Time
	if ts, err := time.Parse(time.RFC3339, r.StartTime); err == nil {
		started = &ts
	}
	if ts, err := time.Parse(time.RFC3339, r.StopTime); err == nil {
		ended = &ts
	}

	errMsg := ""
	for _, d := range r.Details {
		if d.DetailsType == detailsTypeError {
			errMsg = d.Message
			break
		}
	}

	return &common.RunState{
		Status:       mapStatus(r.Status),
		StartedAt:    started,
		EndedAt:      ended,
		ErrorMessage: errMsg,
		PipelineKey:  r.ReloadTask.App.ID,
		PipelineName: r.ReloadTask.App.Name,
	}, nil
}

const detailsTypeError = 2

// mapStatus follows Qlik's ExecutionResult.status enum.
func mapStatus(status int) string {
	switch status {
	case 0, 1, 2: // NeverStarted, Triggered, Started
		return common.StatusRunning
	case 3: // QueuedForExecution... (reload still running in Qlik's cluster queue)
		return common.StatusRunning
	case 4: // AbortInitiated
		return common.StatusRunning
	case 5: // Aborting
		return common.StatusRunning
	case 6: // Aborted
		return common.StatusFailed
	case 7: // FinishedSuccess
		return common.StatusCompleted
	case 8: // FinishedFail
		return common.StatusFailed
	case 9: // Skipped
		return common.StatusCompletedWithWarnings
	default:
		return common.StatusUnknown
	}
}
