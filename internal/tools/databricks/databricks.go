// Package databricks implements the Databricks adapter: list job runs
// via the Jobs API, watch each run's state and its task runs, with a
// slower-cadence extended watch for non-COMPLETED terminal runs so
// late task statistics and retries are still captured.
//
// Grounded on the hierarchical pattern in §4.6 and on
// original_source/agents/airflow/job_runs.py's endpoint/watcher shape,
// adapted to Databricks' runs/list-and-runs/get API surface and its
// databricks_failed_watch_period/databricks_failed_watch_max_time
// extension, which has no Airflow analogue.
package databricks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/datakitchen/observability-agent/internal/config"
	"github.com/datakitchen/observability-agent/internal/httpclient"
	"github.com/datakitchen/observability-agent/internal/tools/common"
)

type Adapter struct {
	cfg          config.DatabricksConfig
	listEndpoint *httpclient.RequestHandle
	runEndpoint  *httpclient.RequestHandle
}

func NewAdapter(client *httpclient.Client, cfg config.DatabricksConfig) *Adapter {
	return &Adapter{
		cfg:          cfg,
		listEndpoint: client.NewHandle(http.MethodGet, "/api/2.1/jobs/runs/list", nil),
		runEndpoint:  client.NewHandle(http.MethodGet, "/api/2.1/jobs/runs/get", nil),
	}
}

func (a *Adapter) ListPeriod() time.Duration  { return a.cfg.PollPeriod }
func (a *Adapter) ListCron() string          { return a.cfg.PollCron }
func (a *Adapter) WatchPeriod() time.Duration { return a.cfg.WatchPeriod }

func (a *Adapter) ExtendedWatch() (bool, time.Duration, time.Duration) {
	return true, a.cfg.FailedWatchPeriod, a.cfg.FailedWatchMaxTime
}

func (a *Adapter) FinalizeConfirmTicks() int { return 1 }

func (a *Adapter) ComponentTool() string { return "databricks" }

type runEntry struct {
	RunID       int64  `json:"run_id"`
	JobID       int64  `json:"job_id"`
	StartTime   int64  `json:"start_time"`
	EndTime     int64  `json:"end_time"`
	State       struct {
		LifeCycleState string `json:"life_cycle_state"`
		ResultState    string `json:"result_state"`
		StateMessage   string `json:"state_message"`
	} `json:"state"`
	Tasks []struct {
		RunID     int64  `json:"run_id"`
		TaskKey   string `json:"task_key"`
		StartTime int64  `json:"start_time"`
		EndTime   int64  `json:"end_time"`
		State     struct {
			LifeCycleState string `json:"life_cycle_state"`
			ResultState    string `json:"result_state"`
			StateMessage   string `json:"state_message"`
		} `json:"state"`
	} `json:"tasks"`
}

func (a *Adapter) ListRuns(ctx context.Context, since, until time.Time) ([]common.RunSummary, error) {
	query := map[string][]string{
		"start_time_from": {strconv.FormatInt(since.UnixMilli(), 10)},
		"start_time_to":   {strconv.FormatInt(until.UnixMilli(), 10)},
	}
	resp, err := a.listEndpoint.Do(ctx, toValues(query), nil, nil, nil)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Runs []runEntry `json:"runs"`
	}
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, fmt.Errorf("parse databricks runs list: %w", err)
	}

	out := make([]common.RunSummary, 0, len(parsed.Runs))
	for _, r := range parsed.Runs {
		out = append(out, common.RunSummary{
			RunKey:    common.RunKey(strconv.FormatInt(r.RunID, 10)),
			StartedAt: time.UnixMilli(r.StartTime),
		})
	}
	return out, nil
}

func (a *Adapter) GetRunState(ctx context.Context, runKey common.RunKey) (*common.RunState, error) {
	resp, err := a.runEndpoint.Do(ctx, toValues(map[string][]string{"run_id": {string(runKey)}}), nil, nil, nil)
	if err != nil {
		return nil, err
	}
	var run runEntry
	if err := json.Unmarshal(resp.Body, &run); err != nil {
		return nil, fmt.Errorf("parse databricks run: %w", err)
	}

	tasks := make([]common.TaskState, 0, len(run.Tasks))
	for _, t := range run.Tasks {
		status := mapStatus(t.State.LifeCycleState, t.State.ResultState)
		var startedAt, endedAt *time.Time
		if t.StartTime > 0 {
			v := time.UnixMilli(t.StartTime)
			startedAt = &v
		}
		if t.EndTime > 0 {
			v := time.UnixMilli(t.EndTime)
			endedAt = &v
		}
		tasks = append(tasks, common.TaskState{
			TaskKey:      common.TaskKey(t.TaskKey),
			Status:       status,
			StartedAt:    startedAt,
			EndedAt:      endedAt,
			ErrorMessage: t.State.StateMessage,
		})
	}

	var runStarted, runEnded *time.Time
	if run.StartTime > 0 {
		v := time.UnixMilli(run.StartTime)
		runStarted = &v
	}
	if run.EndTime > 0 {
		v := time.UnixMilli(run.EndTime)
		runEnded = &v
	}

	return &common.RunState{
		Status:       mapStatus(run.State.LifeCycleState, run.State.ResultState),
		StartedAt:    runStarted,
		EndedAt:      runEnded,
		ErrorMessage: run.State.StateMessage,
		Tasks:        tasks,
	}, nil
}

func mapStatus(lifeCycle, result string) string {
	switch lifeCycle {
	case "PENDING", "RUNNING", "TERMINATING", "BLOCKED", "WAITING_FOR_RETRY", "QUEUED":
		return common.StatusRunning
	case "TERMINATED", "SKIPPED", "INTERNAL_ERROR":
		switch result {
		case "SUCCESS":
			return common.StatusCompleted
		case "SUCCESS_WITH_FAILURES":
			return common.StatusCompletedWithWarnings
		default:
			return common.StatusFailed
		}
	default:
		return common.StatusUnknown
	}
}

func toValues(m map[string][]string) map[string][]string { return m }
