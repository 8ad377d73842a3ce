package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	invocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiver_kernel_invocations_total",
		Help: "Total number of kernel invocations started",
	}, []string{"kernel"})

	failures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiver_kernel_failures_total",
		Help: "Total number of kernel invocations that failed, by dispatch stage",
	}, []string{"kernel", "stage"})

	duration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quiver_kernel_duration_seconds",
		Help:    "Wall time from size query to synchronization",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
	}, []string{"kernel"})

	workspaceBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quiver_kernel_workspace_bytes",
		Help:    "Workspace requested by kernel size queries",
		Buckets: prometheus.ExponentialBuckets(64, 4, 10),
	})

	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "quiver_breaker_state",
		Help: "Device breaker position: 0 closed, 1 open, 2 half-open",
	}, []string{"breaker"})
)
