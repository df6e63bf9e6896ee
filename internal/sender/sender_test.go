package sender

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datakitchen/observability-agent/internal/config"
	"github.com/datakitchen/observability-agent/internal/events"
	"github.com/datakitchen/observability-agent/internal/httpclient"
	"github.com/datakitchen/observability-agent/internal/obserrors"
	"github.com/datakitchen/observability-agent/internal/obslog"
	"github.com/datakitchen/observability-agent/internal/state"
	"github.com/datakitchen/observability-agent/internal/testutil"
)

func testClient(t *testing.T, url string) *httpclient.Client {
	t.Helper()
	client, err := httpclient.NewClient(config.HTTPConfig{
		ConnectTimeout: time.Second,
		ReadTimeout:    time.Second,
		WriteTimeout:   time.Second,
		MaxConnections: 5,
		MaxKeepAlive:   5,
	}, url, nil)
	require.NoError(t, err)
	return client
}

func testLogger() *obslog.Logger {
	return obslog.New("test-agent", "error", "text")
}

// §8 "Unauthorized propagation": a 401 from the ingestion service
// raises Unrecoverable within one tick.
func TestEventSenderTask_401IsUnrecoverable(t *testing.T) {
	server := testutil.NewHTTPTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	latest := state.NewMonotonicTimestamp()
	task := NewEventSenderTask(testClient(t, server.URL), testLogger(), latest, "airflow", "agent-key")

	event := events.RunStatus(time.Now(), "run-1", "", "RUNNING", "")
	err := task.Send(context.Background(), event)
	require.Error(t, err)
	_, ok := obserrors.AsUnrecoverable(err)
	assert.True(t, ok, "a 401 must be (or wrap) Unrecoverable")
}

// A 400 is logged and non-fatal; it must not update latest_event_timestamp.
func TestEventSenderTask_400IsNonFatal(t *testing.T) {
	server := testutil.NewHTTPTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	latest := state.NewMonotonicTimestamp()
	task := NewEventSenderTask(testClient(t, server.URL), testLogger(), latest, "airflow", "agent-key")

	event := events.RunStatus(time.Now(), "run-1", "", "RUNNING", "")
	err := task.Send(context.Background(), event)
	require.NoError(t, err)
	_, set := latest.Get()
	assert.False(t, set)
}

// §8 "Event-sender monotonicity": a successful send advances
// latest_event_timestamp, and it never moves backward.
func TestEventSenderTask_SuccessAdvancesLatestTimestampMonotonically(t *testing.T) {
	server := testutil.NewHTTPTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	latest := state.NewMonotonicTimestamp()
	task := NewEventSenderTask(testClient(t, server.URL), testLogger(), latest, "airflow", "agent-key")

	before := time.Now().UTC()
	require.NoError(t, task.Send(context.Background(), events.RunStatus(time.Now(), "run-1", "", "RUNNING", "")))
	first, ok := latest.Get()
	require.True(t, ok)
	assert.True(t, !first.Before(before))

	// Force the tracker backward directly; Advance must reject it.
	assert.False(t, latest.Advance(before.Add(-time.Hour)))
	still, _ := latest.Get()
	assert.Equal(t, first, still)
}

func TestHeartbeatTask_401IsUnrecoverable(t *testing.T) {
	server := testutil.NewHTTPTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	latest := state.NewMonotonicTimestamp()
	task := NewHeartbeatTask(testClient(t, server.URL), testLogger(), latest, "airflow", "agent-key", "1.2.3")

	err := task.Beat(context.Background(), time.Now(), time.Time{})
	require.Error(t, err)
	_, ok := obserrors.AsUnrecoverable(err)
	assert.True(t, ok)
}

// §8 boundary: heartbeat with latest_event_timestamp=null carries an
// explicit null, not a missing field.
func TestHeartbeatTask_NullLatestTimestampIsExplicit(t *testing.T) {
	var capturedBody string
	server := testutil.NewHTTPTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(buf)
		capturedBody = string(buf)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	latest := state.NewMonotonicTimestamp()
	task := NewHeartbeatTask(testClient(t, server.URL), testLogger(), latest, "airflow", "agent-key", "1.2.3")

	require.NoError(t, task.Beat(context.Background(), time.Now(), time.Time{}))
	assert.Contains(t, capturedBody, `"latest_event_timestamp":null`)
}

// §4.9/§6: the heartbeat body is fixed as {key, tool,
// latest_event_timestamp, version} — not agent_type/agent_key/timestamp.
func TestHeartbeatTask_BodyUsesSpecFieldNames(t *testing.T) {
	var capturedBody string
	server := testutil.NewHTTPTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(buf)
		capturedBody = string(buf)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	latest := state.NewMonotonicTimestamp()
	task := NewHeartbeatTask(testClient(t, server.URL), testLogger(), latest, "airflow", "agent-key", "1.2.3")

	require.NoError(t, task.Beat(context.Background(), time.Now(), time.Time{}))
	assert.Contains(t, capturedBody, `"key":"agent-key"`)
	assert.Contains(t, capturedBody, `"tool":"airflow"`)
	assert.Contains(t, capturedBody, `"version":"1.2.3"`)
	assert.NotContains(t, capturedBody, "agent_type")
	assert.NotContains(t, capturedBody, "agent_key")
}
