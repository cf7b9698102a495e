// Package metrics exposes the Prometheus counters and histograms the
// ingest daemon, installer daemon, and deployment controller record
// against: a single registry, a vec collector per concern, exported via
// promhttp.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every TDS-specific Prometheus collector.
var Registry = prometheus.NewRegistry()

var (
	// DeploymentsTotal counts controller operations by kind and outcome.
	DeploymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tds",
			Subsystem: "controller",
			Name:      "operations_total",
			Help:      "Total number of deployment controller operations.",
		},
		[]string{"operation", "status"},
	)

	// HostDeploymentsTotal counts per-host apply outcomes.
	HostDeploymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tds",
			Subsystem: "controller",
			Name:      "host_deployments_total",
			Help:      "Total number of per-host deploy attempts by outcome.",
		},
		[]string{"status"},
	)

	// HostDeployDuration times one host's deploy-strategy call.
	HostDeployDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tds",
			Subsystem: "controller",
			Name:      "host_deploy_duration_seconds",
			Help:      "Duration of a single host deploy-strategy call.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"status"},
	)

	// IngestBatchesTotal counts ingest daemon batch outcomes.
	IngestBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tds",
			Subsystem: "ingest",
			Name:      "batches_total",
			Help:      "Total number of package ingest batches by final status.",
		},
		[]string{"status"},
	)

	// IngestPackagesTotal counts per-package ingest outcomes.
	IngestPackagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tds",
			Subsystem: "ingest",
			Name:      "packages_total",
			Help:      "Total number of packages processed by the ingest daemon, by outcome.",
		},
		[]string{"status"},
	)

	// InstallerQueueDepth reports the number of queued deployments observed
	// on the most recent poll.
	InstallerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tds",
			Subsystem: "installer",
			Name:      "queue_depth",
			Help:      "Number of deployments in status=queued at the last poll.",
		},
	)

	// InstallerStalledWorkers reports workers whose started_at exceeds the
	// stall threshold.
	InstallerStalledWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tds",
			Subsystem: "installer",
			Name:      "stalled_workers",
			Help:      "Number of installer workers flagged as stalled.",
		},
	)
)

func init() {
	Registry.MustRegister(
		DeploymentsTotal,
		HostDeploymentsTotal,
		HostDeployDuration,
		IngestBatchesTotal,
		IngestPackagesTotal,
		InstallerQueueDepth,
		InstallerStalledWorkers,
	)
}

// Handler returns the HTTP handler exposing the registry in Prometheus
// exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
