// Package metrics holds the Prometheus collectors shared by the API and CLI.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the process-wide registry exposed on /metrics.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		HTTPRequests, HTTPInFlight,
		BatchesStarted, TasksSettled, AnalysisDuration,
		ExportArtifacts, StatusRefreshFailures,
	)
}

// HTTPRequests counts requests by status class.
var HTTPRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sca_http_requests_total",
		Help: "HTTP requests handled, by status code class.",
	},
	[]string{"code"},
)

// HTTPInFlight is the number of requests currently being served.
var HTTPInFlight = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "sca_http_requests_in_flight",
		Help: "HTTP requests currently in flight.",
	},
)

// BatchesStarted counts orchestration runs by provider.
var BatchesStarted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sca_batches_started_total",
		Help: "Batch analysis runs started.",
	},
	[]string{"provider"},
)

// TasksSettled counts tasks reaching a terminal state.
var TasksSettled = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sca_tasks_settled_total",
		Help: "Analysis tasks reaching a terminal state.",
	},
	[]string{"status", "cached"}, // completed|error, true|false
)

// AnalysisDuration observes single analysis calls.
var AnalysisDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "sca_analysis_duration_seconds",
		Help:    "Duration of one analysis call.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	},
	[]string{"provider"},
)

// ExportArtifacts counts export artifacts by format and outcome.
var ExportArtifacts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sca_export_artifacts_total",
		Help: "Export artifacts produced or failed.",
	},
	[]string{"format", "outcome"}, // pdf|markdown, ok|failed
)

// StatusRefreshFailures counts failed system-status fetches.
var StatusRefreshFailures = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "sca_status_refresh_failures_total",
		Help: "System status fetches that failed.",
	},
)

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
