// Package sender implements the two tasks that talk to the
// Observability ingestion service: EventSenderTask (a channel task that
// POSTs one event to {obs_base_url}/events/v1/{event_type}) and the
// periodic HeartbeatTask (POST to {obs_base_url}/agent/v1/heartbeat with the current freshness
// cursor). A 401 from either endpoint is the fleet's one Unrecoverable
// trigger.
//
// Grounded on original_source/framework/observability/event_sender.py
// for the endpoint paths and the 400-logged/401-fatal status split,
// and on infrastructure/state/state.go's CompareAndSwap idea (adapted
// in internal/state) for the monotonic timestamp the heartbeat
// reports.
package sender

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/datakitchen/observability-agent/internal/events"
	"github.com/datakitchen/observability-agent/internal/httpclient"
	"github.com/datakitchen/observability-agent/internal/obserrors"
	"github.com/datakitchen/observability-agent/internal/obslog"
	"github.com/datakitchen/observability-agent/internal/state"
)

// EventSenderTask drains a channel of events and POSTs each one.
type EventSenderTask struct {
	handle    *httpclient.RequestHandle
	logger    *obslog.Logger
	latest    *state.MonotonicTimestamp
	agentType string
	agentKey  string
}

func NewEventSenderTask(client *httpclient.Client, logger *obslog.Logger, latest *state.MonotonicTimestamp, agentType, agentKey string) *EventSenderTask {
	return &EventSenderTask{
		handle:    client.NewHandle(http.MethodPost, "/events/v1/{event_type}", nil),
		logger:    logger,
		latest:    latest,
		agentType: agentType,
		agentKey:  agentKey,
	}
}

// Send is the channel task's execute step: one call per event received
// off the fan-in channel.
func (t *EventSenderTask) Send(ctx context.Context, event *events.Event) error {
	payload := event.Payload()
	delete(payload, "event_type") // carried in the URL path, not the body
	payload["agent_type"] = t.agentType
	payload["agent_key"] = t.agentKey

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	resp, err := t.handle.Do(ctx, nil, body, map[string]string{"event_type": string(event.EventType)}, nil)
	if err != nil {
		return err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &obserrors.Unrecoverable{Cause: obserrors.Unauthorized("observability ingestion rejected credentials")}
	case resp.StatusCode >= 400:
		t.logger.WithContext(ctx).WithFields(map[string]any{
			"status":     resp.StatusCode,
			"event_type": event.EventType,
		}).Warn("event rejected by observability service")
		return nil
	}

	t.latest.Advance(time.Now().UTC())
	return nil
}

// HeartbeatTask is a periodic task POSTing the agent's liveness and
// freshness cursor.
type HeartbeatTask struct {
	handle    *httpclient.RequestHandle
	logger    *obslog.Logger
	latest    *state.MonotonicTimestamp
	agentType string
	agentKey  string
	version   string
}

func NewHeartbeatTask(client *httpclient.Client, logger *obslog.Logger, latest *state.MonotonicTimestamp, agentType, agentKey, version string) *HeartbeatTask {
	return &HeartbeatTask{
		handle:    client.NewHandle(http.MethodPost, "/agent/v1/heartbeat", nil),
		logger:    logger,
		latest:    latest,
		agentType: agentType,
		agentKey:  agentKey,
		version:   version,
	}
}

// heartbeatPayload matches §6's fixed wire shape: {key, tool,
// latest_event_timestamp, version}.
type heartbeatPayload struct {
	Key                  string  `json:"key"`
	Tool                 string  `json:"tool"`
	LatestEventTimestamp *string `json:"latest_event_timestamp"`
	Version              string  `json:"version"`
}

// Beat is the periodic task's execute step.
func (t *HeartbeatTask) Beat(ctx context.Context, now, _ time.Time) error {
	payload := heartbeatPayload{
		Key:     t.agentKey,
		Tool:    t.agentType,
		Version: t.version,
	}
	if ts, ok := t.latest.Get(); ok {
		formatted := ts.UTC().Format(time.RFC3339Nano)
		payload.LatestEventTimestamp = &formatted
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal heartbeat: %w", err)
	}

	resp, err := t.handle.Do(ctx, nil, body, nil, nil)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return &obserrors.Unrecoverable{Cause: obserrors.Unauthorized("observability heartbeat rejected credentials")}
	}
	if resp.StatusCode >= 400 {
		t.logger.WithContext(ctx).WithFields(map[string]any{"status": resp.StatusCode}).Warn("heartbeat rejected by observability service")
	}
	return nil
}
