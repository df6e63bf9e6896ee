// Command agent is the fleet's single process entry point: one
// process, one tool. It resolves the `core` configuration block,
// dispatches on `core.agent_type` to the matching constructor in
// internal/tools.Registry, wires the shared event sender and
// heartbeat, and runs until a signal or an Unrecoverable error stops
// the scope.
//
// Grounded on infrastructure/service/runner.go's Run(): resolve a
// type-selecting environment variable, look it up in a factory table,
// fatal on an unknown value, build shared dependencies once, start the
// selected service, and wait on an OS signal for graceful shutdown.
// This command narrows that shape from an HTTP-serving marble (router,
// TLS listener, middleware stack) to a pollers-and-channels agent with
// no inbound surface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/datakitchen/observability-agent/internal/auth"
	"github.com/datakitchen/observability-agent/internal/config"
	"github.com/datakitchen/observability-agent/internal/events"
	"github.com/datakitchen/observability-agent/internal/httpclient"
	"github.com/datakitchen/observability-agent/internal/obserrors"
	"github.com/datakitchen/observability-agent/internal/obslog"
	"github.com/datakitchen/observability-agent/internal/runtimecore"
	"github.com/datakitchen/observability-agent/internal/sender"
	"github.com/datakitchen/observability-agent/internal/state"
	"github.com/datakitchen/observability-agent/internal/tools"
)

func main() {
	os.Exit(run())
}

func run() int {
	registry := config.NewRegistry(nil)

	core, err := config.Lookup(registry, "core", config.CoreEnvPrefixes, config.BuildCoreConfig)
	if err != nil {
		config.FatalOnInvalid("core", err)
	}
	if core.AgentType == "" {
		fmt.Fprintln(os.Stderr, "core.agent_type is required (set DK_CORE_AGENT_TYPE or [core] agent_type in agent.toml)")
		return 1
	}
	constructor, ok := tools.Registry[core.AgentType]
	if !ok {
		names := make([]string, 0, len(tools.Registry))
		for name := range tools.Registry {
			names = append(names, name)
		}
		fmt.Fprintf(os.Stderr, "unknown core.agent_type %q; available: %v\n", core.AgentType, names)
		return 1
	}

	logFormat := os.Getenv("DK_LOG_FORMAT")
	if logFormat == "" {
		logFormat = "json"
	}
	logLevel := os.Getenv("DK_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logger := obslog.New(core.AgentType, logLevel, logFormat)

	obsClient, err := buildObservabilityClient(registry, core)
	if err != nil {
		logger.WithError(err).Error("failed to build observability client")
		return 1
	}

	latest := state.NewMonotonicTimestamp()
	scope := runtimecore.NewScope(logger)

	sinkCapacity := core.MaxChannelCapacity
	sink := make(chan *events.Event, sinkCapacity)

	senderTask := sender.NewEventSenderTask(obsClient, logger, latest, core.AgentType, core.AgentKey)
	scope.AddWorker(func(ctx context.Context) {
		runtimecore.RunChannelConsumer(ctx, scope, sink, senderTask.Send)
	})

	heartbeatTask := sender.NewHeartbeatTask(obsClient, logger, latest, core.AgentType, core.AgentKey, core.Version)
	var lastBeat time.Time
	scope.AddScheduledWorker("heartbeat", core.HeartbeatCron, core.HeartbeatPeriod, true, func(ctx context.Context) error {
		now := time.Now()
		err := heartbeatTask.Beat(ctx, now, lastBeat)
		lastBeat = now
		return err
	})

	deps := tools.Deps{
		Registry: registry,
		Scope:    scope,
		Logger:   logger,
		Sink:     sink,
	}
	if err := constructor(deps); err != nil {
		logger.WithError(err).WithFields(map[string]any{"agent_type": core.AgentType}).Error("failed to start adapter")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.WithFields(map[string]any{"agent_type": core.AgentType, "version": core.Version}).Info("agent started")
	scope.Start(ctx)

	go func() {
		<-ctx.Done()
		scope.Stop()
	}()

	if err := scope.Wait(); err != nil {
		if u, ok := obserrors.AsUnrecoverable(err); ok {
			logger.WithError(u).Error("unrecoverable error, shutting down")
			return 1
		}
		logger.WithError(err).Error("scope exited with error")
		return 1
	}

	logger.Info("agent stopped")
	return 0
}

// buildObservabilityClient wires the fixed ServiceAccountAuthenticationKey
// header auth against the `http` block's transport tuning for the
// outbound client that sends events and heartbeats to Observability.
func buildObservabilityClient(registry *config.Registry, core config.CoreConfig) (*httpclient.Client, error) {
	httpCfg, err := config.Lookup(registry, "http", config.HTTPEnvPrefixes, config.BuildHTTPConfig)
	if err != nil {
		return nil, fmt.Errorf("http config: %w", err)
	}
	authenticator := auth.NewStaticToken(core.ObservabilityServiceAccountKey, "ServiceAccountAuthenticationKey", "")
	return httpclient.NewClient(httpCfg, core.ObservabilityBaseURL, authenticator)
}
