package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "longbow_scan_client_breaker_transitions_total",
		Help: "Circuit breaker state transitions by target state",
	}, []string{"state"})

	remoteScans = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "longbow_scan_client_remote_scans_total",
		Help: "Remote scans by outcome",
	}, []string{"outcome"})
)
