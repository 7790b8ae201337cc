package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Define global variables for metrics.
// We use 'promauto' which automatically registers metrics with the default registry.

var (
	// ReadsTotal counts reads by outcome: "found", "not_found", "rejected" or "error".
	ReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekv_reads_total",
			Help: "Total number of reads, labeled by outcome",
		},
		[]string{"outcome"},
	)

	// WritesTotal counts mutations by operation ("set", "delete") and result.
	WritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekv_writes_total",
			Help: "Total number of write operations, labeled by op and result",
		},
		[]string{"op", "result"},
	)

	// PersistenceAttempts counts every individual load/save attempt against the backing file.
	PersistenceAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekv_persistence_attempts_total",
			Help: "Total number of snapshot load/save attempts, labeled by op and result",
		},
		[]string{"op", "result"},
	)

	// ReadersActive tracks readers currently holding an admission slot.
	ReadersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gatekv_readers_active",
			Help: "Number of readers currently admitted",
		},
	)

	// DrainDuration measures how long a writer waits to take every reader slot.
	DrainDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "gatekv_drain_duration_seconds",
			Help: "Time spent by writers draining reader admission slots",
			// From an idle store (microseconds) to readers stuck behind a slow disk.
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)
)
