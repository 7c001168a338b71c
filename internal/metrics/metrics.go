package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds all Prometheus metric collectors for the Wicket gateway.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Auth operation metrics.
	AuthOperationsTotal *prometheus.CounterVec
	RefreshSharedTotal  prometheus.Counter
	ActiveSessions      prometheus.Gauge
	GuardDecisionsTotal *prometheus.CounterVec

	// Proxy metrics.
	ProxyRequestsTotal       *prometheus.CounterVec
	ProxyUpstreamDuration    prometheus.Histogram
	ProxyActiveRequests      prometheus.Gauge
	ProxyUpstreamErrorsTotal *prometheus.CounterVec
	ProxyRetriesTotal        prometheus.Counter

	// Rate limiting metrics.
	RateLimitRejectionsTotal *prometheus.CounterVec

	// Audit collector metrics.
	CollectorBufferSize   prometheus.Gauge
	CollectorFlushesTotal *prometheus.CounterVec
	CollectorEventsTotal  prometheus.Counter

	// Server lifecycle.
	ServerStartTime prometheus.Gauge
}

// New creates and registers all Prometheus metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wicket_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"kind", "method", "path_pattern", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wicket_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind", "method", "path_pattern"}),

		HTTPRequestSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wicket_http_request_size_bytes",
			Help:    "HTTP request size in bytes.",
			Buckets: prometheus.ExponentialBuckets(100, 10, 6),
		}, []string{"kind", "method", "path_pattern"}),

		HTTPResponseSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wicket_http_response_size_bytes",
			Help:    "HTTP response size in bytes.",
			Buckets: prometheus.ExponentialBuckets(100, 10, 6),
		}, []string{"kind", "method", "path_pattern"}),

		AuthOperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wicket_auth_operations_total",
			Help: "Total number of authentication operations by outcome.",
		}, []string{"operation", "outcome"}),

		RefreshSharedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wicket_refresh_shared_total",
			Help: "Refresh calls that joined an already in-flight exchange.",
		}),

		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wicket_active_sessions",
			Help: "Number of clients currently holding an authenticated session.",
		}),

		GuardDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wicket_guard_decisions_total",
			Help: "Total number of route guard decisions.",
		}, []string{"guard", "action"}),

		ProxyRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wicket_proxy_requests_total",
			Help: "Total number of proxied upstream requests.",
		}, []string{"method", "status_code"}),

		ProxyUpstreamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wicket_proxy_upstream_duration_seconds",
			Help:    "Upstream request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}),

		ProxyActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wicket_proxy_active_requests",
			Help: "Number of currently active proxy requests.",
		}),

		ProxyUpstreamErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wicket_proxy_upstream_errors_total",
			Help: "Total number of upstream request errors by error type.",
		}, []string{"error_type"}),

		ProxyRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wicket_proxy_retries_total",
			Help: "Upstream requests retried after a refreshed token.",
		}),

		RateLimitRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wicket_ratelimit_rejections_total",
			Help: "Total number of rate limit rejections.",
		}, []string{"scope"}),

		CollectorBufferSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wicket_collector_buffer_size",
			Help: "Current number of buffered audit events.",
		}),

		CollectorFlushesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wicket_collector_flushes_total",
			Help: "Total number of audit collector flushes.",
		}, []string{"status"}),

		CollectorEventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wicket_collector_events_total",
			Help: "Total number of audit events recorded.",
		}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wicket_server_start_time_seconds",
			Help: "Unix timestamp when the server started.",
		}),
	}

	// Register all metrics.
	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSize,
		m.HTTPResponseSize,
		m.AuthOperationsTotal,
		m.RefreshSharedTotal,
		m.ActiveSessions,
		m.GuardDecisionsTotal,
		m.ProxyRequestsTotal,
		m.ProxyUpstreamDuration,
		m.ProxyActiveRequests,
		m.ProxyUpstreamErrorsTotal,
		m.ProxyRetriesTotal,
		m.RateLimitRejectionsTotal,
		m.CollectorBufferSize,
		m.CollectorFlushesTotal,
		m.CollectorEventsTotal,
		m.ServerStartTime,
	)

	// Set server start time.
	m.ServerStartTime.Set(float64(time.Now().Unix()))

	// Register Go runtime and process collectors.
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// IncAuthOperation increments the auth operation counter.
func (m *Metrics) IncAuthOperation(operation, outcome string) {
	m.AuthOperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// IncGuardDecision increments the guard decision counter.
func (m *Metrics) IncGuardDecision(guard, action string) {
	m.GuardDecisionsTotal.WithLabelValues(guard, action).Inc()
}

// IncRateLimitRejection increments the rate limit rejection counter.
func (m *Metrics) IncRateLimitRejection(scope string) {
	m.RateLimitRejectionsTotal.WithLabelValues(scope).Inc()
}

// IncProxyRequests increments the proxy requests counter.
func (m *Metrics) IncProxyRequests(method string, statusCode int) {
	m.ProxyRequestsTotal.WithLabelValues(method, fmt.Sprintf("%d", statusCode)).Inc()
}

// ObserveUpstreamDuration records the upstream request duration.
func (m *Metrics) ObserveUpstreamDuration(seconds float64) {
	m.ProxyUpstreamDuration.Observe(seconds)
}

// IncUpstreamError increments the upstream error counter with error type classification.
func (m *Metrics) IncUpstreamError(errorType string) {
	m.ProxyUpstreamErrorsTotal.WithLabelValues(errorType).Inc()
}
