package device

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	allocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiver_device_allocations_total",
		Help: "Total number of device buffer allocations",
	}, []string{"device"})

	allocFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiver_device_alloc_failures_total",
		Help: "Total number of device allocations the runtime refused",
	}, []string{"device"})

	allocatedBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "quiver_device_allocated_bytes",
		Help: "Current device memory held by live buffers in bytes",
	}, []string{"device"})

	liveBuffers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "quiver_device_buffers_count",
		Help: "Current number of live device buffers",
	}, []string{"device"})
)
