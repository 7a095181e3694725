// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// StorageOperationsTotal counts backend calls made by the orchestrator.
	// result is "ok" or an error kind.
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_operations_total",
			Help: "Storage operations by backend, operation and result",
		},
		[]string{"backend", "operation", "result"},
	)

	// StorageFallbacksTotal counts reads served from the offline store after a
	// remote failure.
	StorageFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_fallbacks_total",
			Help: "Reads served by the offline store after a remote failure",
		},
		[]string{"operation"},
	)

	// StorageState is 1 for the orchestrator's current state and 0 otherwise.
	StorageState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "storage_state",
			Help: "Current storage orchestrator state",
		},
		[]string{"state"},
	)

	BillsSavedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bills_saved_total",
		Help: "Bills saved through the billing service",
	})
)
