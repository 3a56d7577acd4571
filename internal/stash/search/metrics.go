package search

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	searchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stashpoint_search_duration_seconds",
		Help:    "Time spent answering availability searches grouped by outcome.",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})

	searchCandidates = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stashpoint_search_candidates",
		Help:    "Candidates returned by the locator per search.",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100, 200},
	})

	evaluationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capacity_evaluation_failures_total",
		Help: "Candidates dropped because their booked capacity could not be computed.",
	})
)
