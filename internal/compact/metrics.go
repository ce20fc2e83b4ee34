package compact

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	compactionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "longbow_scan_compactions_total",
		Help: "Total number of stream compactions",
	})

	selectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "longbow_scan_compacted_ids_total",
		Help: "Total number of indices emitted by stream compaction",
	})

	selectivity = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "longbow_scan_compaction_selectivity",
		Help:    "Fraction of flags set per compaction",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	})
)
