package scan

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	levelRebuilds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "longbow_scan_level_rebuilds_total",
		Help: "Total number of level arena rebuilds caused by input size changes",
	})

	levelDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "longbow_scan_level_depth",
		Help: "Recursion depth of the most recently sized level arena",
	})

	levelElements = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "longbow_scan_level_elements",
		Help: "Elements held by the most recently sized level arena",
	})

	scansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "longbow_scan_scans_total",
		Help: "Total number of inclusive scans enqueued",
	})

	scannedElements = promauto.NewCounter(prometheus.CounterOpts{
		Name: "longbow_scan_elements_total",
		Help: "Total number of elements submitted for scanning",
	})
)
