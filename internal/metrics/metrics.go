package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taxdesk_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "taxdesk_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	backendCalls = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "taxdesk_backend_call_duration_seconds",
		Help:    "Duration of calls to the processing service",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"endpoint", "outcome"})

	workflowRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taxdesk_workflow_runs_total",
		Help: "Processing runs by module and final status",
	}, []string{"module", "status"})

	accessDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taxdesk_access_denials_total",
		Help: "Navigation attempts blocked by the access policy",
	}, []string{"category"})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "taxdesk_active_sessions",
		Help: "Signed-in sessions held by this instance",
	})
)

// ObserveHTTPRequest records an HTTP request metric.
func ObserveHTTPRequest(method, route, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}

// ObserveBackendCall records one call to the processing service.
// outcome is "ok", "api_error" or "transport_error".
func ObserveBackendCall(endpoint, outcome string, duration time.Duration) {
	backendCalls.WithLabelValues(endpoint, outcome).Observe(duration.Seconds())
}

// ObserveWorkflowRun counts a finished run.
func ObserveWorkflowRun(module, status string) {
	workflowRuns.WithLabelValues(module, status).Inc()
}

// ObserveAccessDenied counts a blocked navigation.
func ObserveAccessDenied(category string) {
	accessDenials.WithLabelValues(category).Inc()
}

func SessionOpened() {
	activeSessions.Inc()
}

func SessionClosed() {
	activeSessions.Dec()
}
