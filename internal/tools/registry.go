// Package tools is the plugin registry: one named constructor function
// per adapter, dispatched by `core.agent_type` through a plain map
// built at init. This replaces a reflection-based subclass-scanning
// loader with an explicit, typo-checked table.
package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/datakitchen/observability-agent/internal/auth"
	"github.com/datakitchen/observability-agent/internal/config"
	"github.com/datakitchen/observability-agent/internal/events"
	"github.com/datakitchen/observability-agent/internal/eventhub"
	"github.com/datakitchen/observability-agent/internal/httpclient"
	"github.com/datakitchen/observability-agent/internal/obslog"
	"github.com/datakitchen/observability-agent/internal/runtimecore"
	"github.com/datakitchen/observability-agent/internal/tools/airflow"
	"github.com/datakitchen/observability-agent/internal/tools/common"
	"github.com/datakitchen/observability-agent/internal/tools/databricks"
	"github.com/datakitchen/observability-agent/internal/tools/dbttests"
	"github.com/datakitchen/observability-agent/internal/tools/powerbi"
	"github.com/datakitchen/observability-agent/internal/tools/qlik"
	"github.com/datakitchen/observability-agent/internal/tools/ssis"
	"github.com/datakitchen/observability-agent/internal/tools/synapse"
)

// Deps are the resources shared by every adapter constructor: the
// configuration registry it reads its own block(s) from, the
// concurrency scope it registers workers on, the logger, and the
// outbound channel its tasks send normalized events to.
type Deps struct {
	Registry *config.Registry
	Scope    *runtimecore.Scope
	Logger   *obslog.Logger
	Sink     chan<- *events.Event
}

// Constructor builds and wires one adapter's full task set onto
// deps.Scope, returning an error only for unrecoverable setup failures
// (bad config, unreachable auth endpoint construction); once wired the
// adapter runs for the scope's lifetime.
type Constructor func(deps Deps) error

// Registry maps `core.agent_type` to its Constructor.
var Registry = map[string]Constructor{
	"airflow":           newAirflow,
	"databricks":        newDatabricks,
	"powerbi":           newPowerBI,
	"qlik":              newQlik,
	"synapse_analytics": newSynapse,
	"ssis":              newSSIS,
	"eventhubs":         newEventHubs,
	"dbt_tests":         newDBTTests,
}

func envPrefixesFor(blockName string) []string {
	return []string{"DK_" + strings.ToUpper(blockName) + "_", "DK_"}
}

func buildAuthenticator(cfg config.ToolAuthConfig) (auth.Authenticator, error) {
	switch cfg.Type {
	case "", "none":
		return auth.NoAuth{}, nil
	case "static_token":
		return auth.NewStaticToken(cfg.Token, cfg.HeaderName, cfg.TokenPrefix), nil
	case "basic":
		return auth.NewBasic(cfg.Username, cfg.Password), nil
	case "azure_spn":
		return auth.NewAzureServicePrincipal(cfg.TenantID, cfg.ClientID, cfg.ClientSecret, cfg.Scope)
	case "azure_ropc":
		return auth.NewAzureResourceOwnerPassword(cfg.AuthorityURL, cfg.ClientID, cfg.Username, cfg.Password, cfg.Scope), nil
	default:
		return nil, fmt.Errorf("unknown auth type %q", cfg.Type)
	}
}

// buildClient assembles the shared HTTPConfig block with a
// tool-specific `<name>_auth` block into a ready httpclient.Client
// bound to baseURL.
func buildClient(deps Deps, name, baseURL string) (*httpclient.Client, error) {
	httpCfg, err := config.Lookup(deps.Registry, "http", config.HTTPEnvPrefixes, config.BuildHTTPConfig)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	authCfg, err := config.Lookup(deps.Registry, name+"_auth", envPrefixesFor(name+"_auth"), config.BuildToolAuthConfig)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	authenticator, err := buildAuthenticator(authCfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return httpclient.NewClient(httpCfg, baseURL, authenticator)
}

func newAirflow(deps Deps) error {
	cfg, err := config.Lookup(deps.Registry, "airflow", envPrefixesFor("airflow"), config.BuildAirflowConfig)
	if err != nil {
		return err
	}
	client, err := buildClient(deps, "airflow", cfg.BaseURL)
	if err != nil {
		return err
	}
	adapter := airflow.NewAdapter(client, cfg)
	common.NewLister(adapter, deps.Scope, deps.Logger, deps.Sink).Start(deps.Scope)
	return nil
}

func newDatabricks(deps Deps) error {
	cfg, err := config.Lookup(deps.Registry, "databricks", envPrefixesFor("databricks"), config.BuildDatabricksConfig)
	if err != nil {
		return err
	}
	client, err := buildClient(deps, "databricks", cfg.BaseURL)
	if err != nil {
		return err
	}
	adapter := databricks.NewAdapter(client, cfg)
	common.NewLister(adapter, deps.Scope, deps.Logger, deps.Sink).Start(deps.Scope)
	return nil
}

func newPowerBI(deps Deps) error {
	cfg, err := config.Lookup(deps.Registry, "powerbi", envPrefixesFor("powerbi"), config.BuildPowerBIConfig)
	if err != nil {
		return err
	}
	client, err := buildClient(deps, "powerbi", cfg.BaseURL)
	if err != nil {
		return err
	}
	adapter := powerbi.NewAdapter(client, cfg)
	common.NewLister(adapter, deps.Scope, deps.Logger, deps.Sink).Start(deps.Scope)
	return nil
}

func newQlik(deps Deps) error {
	cfg, err := config.Lookup(deps.Registry, "qlik", envPrefixesFor("qlik"), config.BuildQlikConfig)
	if err != nil {
		return err
	}
	client, err := buildClient(deps, "qlik", cfg.BaseURL)
	if err != nil {
		return err
	}
	adapter := qlik.NewAdapter(client, cfg)
	common.NewLister(adapter, deps.Scope, deps.Logger, deps.Sink).Start(deps.Scope)
	return nil
}

func newSynapse(deps Deps) error {
	cfg, err := config.Lookup(deps.Registry, "synapse_analytics", envPrefixesFor("synapse"), config.BuildSynapseConfig)
	if err != nil {
		return err
	}
	client, err := buildClient(deps, "synapse", cfg.BaseURL)
	if err != nil {
		return err
	}
	adapter := synapse.NewAdapter(client, cfg)
	common.NewLister(adapter, deps.Scope, deps.Logger, deps.Sink).Start(deps.Scope)
	return nil
}

func newSSIS(deps Deps) error {
	cfg, err := config.Lookup(deps.Registry, "ssis", envPrefixesFor("ssis"), config.BuildSSISConfig)
	if err != nil {
		return err
	}
	catalog, err := ssis.NewSQLCatalog(cfg.DSN)
	if err != nil {
		return fmt.Errorf("ssis: %w", err)
	}

	state := ssis.NewAgentState()
	executions := make(chan ssis.Execution, 64)
	statistics := make(chan ssis.ExecutableStatistic, 256)

	deps.Scope.AddScheduledWorker("ssis-fetch-new-executions", cfg.FetchPollCron, cfg.FetchPollPeriod, true,
		ssis.NewFetchNewExecutionsTask(catalog, state, deps.Logger).Tick)
	deps.Scope.AddPeriodicWorker("ssis-find-updated-executions", cfg.UpdatedPollPeriod, true,
		ssis.NewFindUpdatedExecutionsTask(catalog, state, deps.Logger, executions).Tick)
	deps.Scope.AddPeriodicWorker("ssis-find-added-statistics", cfg.StatisticsPollPeriod, true,
		ssis.NewFindAddedStatisticsTask(catalog, state, deps.Logger, statistics, cfg.StatisticsBatchSize).Tick)

	updatedHandler := ssis.NewHandleUpdatedExecutionTask(state, deps.Sink)
	deps.Scope.AddWorker(func(ctx context.Context) {
		runtimecore.RunChannelConsumer(ctx, deps.Scope, executions, updatedHandler.Execute)
	})

	newStatsHandler := ssis.NewHandleNewStatisticsTask(state, deps.Sink)
	deps.Scope.AddWorker(func(ctx context.Context) {
		runtimecore.RunChannelConsumer(ctx, deps.Scope, statistics, newStatsHandler.Execute)
	})

	return nil
}

func newEventHubs(deps Deps) error {
	cfg, err := config.Lookup(deps.Registry, "eventhubs", envPrefixesFor("eventhubs"), config.BuildEventHubsConfig)
	if err != nil {
		return err
	}

	bridge, err := eventhub.NewBridge(cfg, deps.Logger)
	if err != nil {
		return fmt.Errorf("eventhubs: %w", err)
	}

	receiveTask, err := eventhub.NewReceiveTask(cfg, "eventhubs", deps.Sink, deps.Logger)
	if err != nil {
		return fmt.Errorf("eventhubs: %w", err)
	}

	deps.Scope.AddWorker(func(ctx context.Context) {
		if err := bridge.Run(ctx); err != nil && ctx.Err() == nil {
			deps.Logger.WithContext(ctx).WithError(err).Warn("eventhub bridge exited")
		}
	})
	deps.Scope.AddWorker(func(ctx context.Context) {
		runtimecore.RunChannelConsumer(ctx, deps.Scope, bridge.Records(), receiveTask.Execute)
	})

	if cfg.CheckpointNotifyAddr != "" {
		notifyServer := eventhub.NewNotifyServer(cfg.CheckpointNotifyAddr, bridge.Notifier())
		deps.Scope.AddWorker(func(ctx context.Context) {
			if err := notifyServer.Run(ctx); err != nil && ctx.Err() == nil {
				deps.Logger.WithContext(ctx).WithError(err).Warn("checkpoint notify server exited")
			}
		})
	}

	return nil
}

func newDBTTests(deps Deps) error {
	cfg, err := config.Lookup(deps.Registry, "dbt_tests", envPrefixesFor("dbt_tests"), config.BuildDBTTestsConfig)
	if err != nil {
		return err
	}
	adapter := dbttests.NewAdapter(cfg)

	deps.Scope.AddPeriodicWorker("dbt-tests-poll", adapter.PollPeriod(), true, func(ctx context.Context) error {
		evts, err := adapter.Poll()
		if err != nil {
			deps.Logger.WithContext(ctx).WithError(err).Warn("dbt test-outcomes poll failed")
			return nil
		}
		for _, e := range evts {
			select {
			case <-ctx.Done():
				return nil
			case deps.Sink <- e:
			}
		}
		return nil
	})
	return nil
}
