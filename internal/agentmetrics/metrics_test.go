package agentmetrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveSend_IncrementsSentCounterOnSuccess(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveSend("airflow", "run-status", true, 50*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.EventsSent.WithLabelValues("airflow", "run-status")))
}

func TestObserveSend_DoesNotIncrementSentCounterOnFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveSend("airflow", "run-status", false, 50*time.Millisecond)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.EventsSent.WithLabelValues("airflow", "run-status")))
}

func TestObserveRateLimitWait_IncrementsCounterAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRateLimitWait("databricks", 2*time.Second)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RateLimitWaits.WithLabelValues("databricks")))
}

func TestWatcherGauge_IncDecTracksActiveCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	g := m.WatcherGauge("synapse")
	g.Inc()
	g.Inc()
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ActiveWatchers.WithLabelValues("synapse")))
	g.Dec()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ActiveWatchers.WithLabelValues("synapse")))
}

func TestServer_ServesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.HeartbeatsSent.Inc()

	server := NewServer("127.0.0.1:0", reg)
	mux := http.NewServeMux()
	mux.Handle("/metrics", server.httpServer.Handler)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_RunShutsDownOnContextCancel(t *testing.T) {
	reg := prometheus.NewRegistry()
	server := NewServer("127.0.0.1:0", reg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down after context cancellation")
	}
}
