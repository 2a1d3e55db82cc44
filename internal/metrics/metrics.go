// Package metrics holds the prometheus collectors shared by the harvester's
// services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "certharvest"

// Metrics contains all collectors. Create it once per registry.
type Metrics struct {
	// Ingestion
	CertsImported  *prometheus.CounterVec
	Duplicates     prometheus.Counter
	ParseFailures  prometheus.Counter
	FetchFailures  prometheus.Counter
	DomainDuration prometheus.Histogram

	// Provider traffic
	ProviderRequests *prometheus.CounterVec
	ProviderRetries  *prometheus.CounterVec

	// Job groups
	TasksSubmitted prometheus.Counter
	TasksCompleted prometheus.Counter
	TasksFailed    prometheus.Counter
	TasksPanicked  prometheus.Counter
	TasksInFlight  prometheus.Gauge
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CertsImported: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "certificates_imported_total",
			Help:      "Certificates written, by partition.",
		}, []string{"partition"}),
		Duplicates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "certificates_duplicate_total",
			Help:      "Writes rejected because the certificate was already stored.",
		}),
		ParseFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "certificates_parse_failures_total",
			Help:      "Fetched bodies that could not be decoded.",
		}),
		FetchFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "certificates_fetch_failures_total",
			Help:      "Certificate bodies that could not be fetched.",
		}),
		DomainDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "domain_duration_seconds",
			Help:      "Time spent harvesting a single domain.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		ProviderRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "HTTP requests sent to CT providers, by provider and status code.",
		}, []string{"provider", "code"}),
		ProviderRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_retries_total",
			Help:      "Retried CT provider requests.",
		}, []string{"provider"}),
		TasksSubmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Tasks submitted to the job pool.",
		}),
		TasksCompleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Tasks finished, successfully or not.",
		}),
		TasksFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Tasks that returned an error.",
		}),
		TasksPanicked: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_panicked_total",
			Help:      "Tasks that panicked.",
		}),
		TasksInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Tasks currently running.",
		}),
	}
}

// Discard returns collectors registered on a private registry, for callers
// that do not export metrics.
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}
