package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "longbow_scan_engine_request_duration_seconds",
		Help:    "Time from request to result, including time queued behind other requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	requestElements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "longbow_scan_engine_elements_total",
		Help: "Total number of elements processed per operation",
	}, []string{"op"})

	requestFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "longbow_scan_engine_failures_total",
		Help: "Total number of failed or cancelled requests",
	}, []string{"op"})
)
