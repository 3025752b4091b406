// Package metrics defines the Prometheus instrumentation for the service.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ActivationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "license_activations_total",
			Help: "License activation attempts by outcome reason (ok on success)",
		},
		[]string{"outcome"},
	)

	ValidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "installation_validations_total",
			Help: "Installation validation checks by outcome reason (ok on success)",
		},
		[]string{"outcome"},
	)

	InstallationsReplacedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "installations_replaced_total",
			Help: "Installations evicted because the owner was at capacity",
		},
	)

	ExtractionRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "extraction_requests_total",
			Help: "Total extract-actions requests received",
		},
	)

	ExtractionCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "extraction_cache_hits_total",
			Help: "Extract-actions requests served from a prior identical result",
		},
	)

	ExtractionFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "extraction_failures_total",
			Help: "Extract-actions requests that ended in a backend failure",
		},
	)

	ExtractionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "extraction_duration_seconds",
			Help:    "End-to-end duration of extract-actions requests",
			Buckets: prometheus.DefBuckets,
		},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)

// Register registers all metrics with the default registry. Call once at
// startup.
func Register() {
	prometheus.MustRegister(ActivationsTotal)
	prometheus.MustRegister(ValidationsTotal)
	prometheus.MustRegister(InstallationsReplacedTotal)
	prometheus.MustRegister(ExtractionRequestsTotal)
	prometheus.MustRegister(ExtractionCacheHitsTotal)
	prometheus.MustRegister(ExtractionFailuresTotal)
	prometheus.MustRegister(ExtractionDuration)
	prometheus.MustRegister(HTTPRequestDuration)
}
