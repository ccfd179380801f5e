package main

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics
var (
	requestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibegate_requests_total",
			Help: "Total number of requests processed",
		},
		[]string{"method", "path", "status"},
	)
	requestLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vibegate_request_duration_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15), // ~10ms to ~163s
		},
	)
	throttleRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibegate_throttle_rejections_total",
			Help: "Requests and connections rejected by a throttle",
		},
		[]string{"scope"}, // general, provider, connection, global
	)
	pipelineErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibegate_pipeline_errors_total",
			Help: "Errors resolved by each pipeline stage",
		},
		[]string{"stage"},
	)
)

// registerPrometheusMetrics registers the collectors with the default registry.
func registerPrometheusMetrics() {
	prometheus.MustRegister(requestTotal, requestLatency, throttleRejections, pipelineErrors)
}
