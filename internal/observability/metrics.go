package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AllocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "roadside_dispatch", Name: "allocations_total", Help: "Allocation attempts by outcome"},
		[]string{"outcome"},
	)
	AllocationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "roadside_dispatch",
		Name:      "allocation_latency_seconds",
		Help:      "Allocation decision latency",
		Buckets:   prometheus.DefBuckets,
	})
	HeartbeatsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "roadside_dispatch",
		Name:      "mechanic_heartbeats_total",
		Help:      "Mechanic location heartbeats ingested",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "roadside_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "roadside_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
