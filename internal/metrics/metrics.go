// Package metrics exposes the resolver's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueriesTotal tracks outbound queries by type, rcode and protocol.
	QueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atlas_queries_total",
		Help: "Total number of outbound DNS queries issued",
	}, []string{"qtype", "rcode", "protocol"})

	// ResolutionDuration tracks full resolution wall time by outcome.
	ResolutionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "atlas_resolution_duration_seconds",
		Help:    "Histogram of iterative resolution duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	// CacheOperations tracks record/nameserver cache hits and misses.
	CacheOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atlas_cache_operations_total",
		Help: "Total number of cache hits and misses",
	}, []string{"level", "result"})

	// ValidationsTotal tracks DNSSEC validation outcomes by verdict.
	ValidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atlas_validations_total",
		Help: "Total number of DNSSEC validations by verdict",
	}, []string{"verdict"})

	// ResolutionsInFlight tracks concurrent top-level resolutions.
	ResolutionsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "atlas_resolutions_in_flight",
		Help: "Number of resolutions currently in progress",
	})
)
