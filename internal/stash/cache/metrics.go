package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capacity_cache_requests_total",
		Help: "Booked-capacity cache lookups grouped by outcome (hit, miss, error).",
	}, []string{"result"})

	cacheInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capacity_cache_invalidations_total",
		Help: "Stashpoint capacity version increments.",
	})
)
