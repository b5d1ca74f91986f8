// Package observability exposes Prometheus metrics for the detection
// engine and its query surface.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus collectors on a private registry
// so tests can create isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	RuleAlerts    *prometheus.GaugeVec
	MLAlerts      prometheus.Gauge
	StageDuration *prometheus.HistogramVec
	StageFailures *prometheus.CounterVec
	PipelineRuns  *prometheus.CounterVec
	HTTPRequests  *prometheus.CounterVec
	HTTPDuration  *prometheus.HistogramVec
}

// NewMetrics creates the collector set on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		RuleAlerts: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kestrel",
			Name:      "rule_alerts",
			Help:      "Alerts produced by the last evaluation of each rule.",
		}, []string{"rule"}),
		MLAlerts: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "kestrel",
			Name:      "ml_alerts",
			Help:      "Alerts produced by the last anomaly scoring run.",
		}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kestrel",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"stage"}),
		StageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "stage_failures_total",
			Help:      "Pipeline stage failures by stage.",
		}, []string{"stage"}),
		PipelineRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "pipeline_runs_total",
			Help:      "Completed pipeline runs by result.",
		}, []string{"result"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status class.",
		}, []string{"route", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kestrel",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
