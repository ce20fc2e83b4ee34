package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "longbow_scan_cache_hits_total",
		Help: "Total number of scan results served from cache",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "longbow_scan_cache_misses_total",
		Help: "Total number of cache lookups that missed",
	})

	cacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "longbow_scan_cache_entries",
		Help: "Number of scan results held in cache",
	})
)
