package device

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "longbow_scan_device_dispatches_total",
		Help: "Total number of kernel launches executed",
	}, []string{"kernel"})

	dispatchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "longbow_scan_device_dispatch_failures_total",
		Help: "Total number of kernel launches rejected or failed",
	}, []string{"kernel"})

	dispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "longbow_scan_device_dispatch_duration_seconds",
		Help:    "Time spent executing a kernel launch",
		Buckets: []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
	}, []string{"kernel"})

	compilesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "longbow_scan_device_compiles_total",
		Help: "Total number of program compilations",
	})

	buffersAllocated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "longbow_scan_device_buffers_allocated_total",
		Help: "Total number of device buffers allocated",
	})

	bufferBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "longbow_scan_device_buffer_bytes",
		Help: "Current total size of live device buffers in bytes",
	})
)
