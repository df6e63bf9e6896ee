// Package agentmetrics exposes the fleet's operational counters and
// gauges to Prometheus: events produced and sent, active watchers per
// tool, HTTP retries, and rate-limit waits. Grounded on
// infrastructure/metrics/metrics.go's CounterVec/GaugeVec/HistogramVec
// construction and global-singleton shape, re-labeled for this agent's
// own signals in place of the source package's HTTP/blockchain/database
// ones.
package agentmetrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the agent fleet exports. Label values
// are kept low-cardinality: component_tool (airflow, databricks, ...)
// and, where useful, a coarse outcome/status.
type Metrics struct {
	EventsProduced  *prometheus.CounterVec
	EventsSent      *prometheus.CounterVec
	EventsDropped   *prometheus.CounterVec
	SendDuration    *prometheus.HistogramVec
	ActiveWatchers  *prometheus.GaugeVec
	HTTPRetries     *prometheus.CounterVec
	RateLimitWaits  *prometheus.CounterVec
	RateLimitWaitDuration *prometheus.HistogramVec
	HeartbeatsSent  prometheus.Counter
}

// New registers every collector against registerer and returns the
// bound Metrics. Pass prometheus.DefaultRegisterer for the global
// registry, or a fresh prometheus.NewRegistry() in tests.
func New(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)

	return &Metrics{
		EventsProduced: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dk_agent",
			Name:      "events_produced_total",
			Help:      "Normalized events produced by a tool adapter, before sending.",
		}, []string{"component_tool", "event_type"}),

		EventsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dk_agent",
			Name:      "events_sent_total",
			Help:      "Events successfully POSTed to the ingestion service.",
		}, []string{"component_tool", "event_type"}),

		EventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dk_agent",
			Name:      "events_dropped_total",
			Help:      "Events that could not be sent and were not retried (4xx other than 401, or a full outbound channel).",
		}, []string{"component_tool", "reason"}),

		SendDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dk_agent",
			Name:      "event_send_duration_seconds",
			Help:      "Wall time of a single event POST, including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),

		ActiveWatchers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dk_agent",
			Name:      "active_watchers",
			Help:      "Number of runs currently being watched to terminal status.",
		}, []string{"component_tool"}),

		HTTPRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dk_agent",
			Name:      "http_retries_total",
			Help:      "HTTP requests retried after a transient failure or configured-retry status code.",
		}, []string{"component_tool"}),

		RateLimitWaits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dk_agent",
			Name:      "rate_limit_waits_total",
			Help:      "Requests that slept for a Retry-After/rate-limit header before retrying.",
		}, []string{"component_tool"}),

		RateLimitWaitDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dk_agent",
			Name:      "rate_limit_wait_duration_seconds",
			Help:      "Duration slept honoring a rate-limit response.",
			Buckets:   []float64{.1, .5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"component_tool"}),

		HeartbeatsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dk_agent",
			Name:      "heartbeats_sent_total",
			Help:      "Heartbeat events successfully sent to the ingestion service.",
		}),
	}
}

// WatcherGauge returns an Inc/Dec-able gauge scoped to one tool, for a
// Lister to bump around a watcher's lifetime:
//
//	g := m.WatcherGauge("airflow")
//	g.Inc()
//	defer g.Dec()
func (m *Metrics) WatcherGauge(componentTool string) prometheus.Gauge {
	return m.ActiveWatchers.WithLabelValues(componentTool)
}

// ObserveSend records one event POST's outcome and latency.
func (m *Metrics) ObserveSend(componentTool, eventType string, sent bool, dur time.Duration) {
	m.SendDuration.WithLabelValues(eventType).Observe(dur.Seconds())
	if sent {
		m.EventsSent.WithLabelValues(componentTool, eventType).Inc()
	}
}

// ObserveRateLimitWait records a single rate-limit sleep.
func (m *Metrics) ObserveRateLimitWait(componentTool string, dur time.Duration) {
	m.RateLimitWaits.WithLabelValues(componentTool).Inc()
	m.RateLimitWaitDuration.WithLabelValues(componentTool).Observe(dur.Seconds())
}

// Server serves /metrics on its own listener, independent of any
// per-tool HTTP client traffic. Grounded on
// infrastructure/service/runner.go's promhttp.Handler() mount, broken
// out to its own minimal http.Server since this agent has no other
// inbound HTTP surface to mount it on.
type Server struct {
	httpServer *http.Server
}

// NewServer builds (but does not start) a /metrics listener bound to
// addr, serving the collectors registered against gatherer.
func NewServer(addr string, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &Server{httpServer: &http.Server{Addr: addr, Handler: mux}}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
