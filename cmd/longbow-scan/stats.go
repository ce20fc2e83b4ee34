package main

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

type latencySummary struct {
	Mean   time.Duration
	StdDev time.Duration
	P50    time.Duration
	P99    time.Duration
}

// Throughput returns elements per second at the mean latency.
func (s latencySummary) Throughput(elements int) float64 {
	if s.Mean <= 0 {
		return 0
	}
	return float64(elements) / s.Mean.Seconds()
}

func summarize(durations []time.Duration) latencySummary {
	if len(durations) == 0 {
		return latencySummary{}
	}
	xs := make([]float64, len(durations))
	for i, d := range durations {
		xs[i] = float64(d)
	}
	sort.Float64s(xs)

	s := latencySummary{
		Mean: time.Duration(stat.Mean(xs, nil)),
		P50:  time.Duration(stat.Quantile(0.5, stat.Empirical, xs, nil)),
		P99:  time.Duration(stat.Quantile(0.99, stat.Empirical, xs, nil)),
	}
	if len(xs) > 1 {
		s.StdDev = time.Duration(stat.StdDev(xs, nil))
	}
	return s
}
