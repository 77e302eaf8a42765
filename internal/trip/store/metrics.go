package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "partition_cache_hits_total",
		Help: "Partition lookups served from the local cache.",
	})

	fetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "partition_fetch_total",
		Help: "Partition downloads grouped by outcome.",
	}, []string{"result"})

	fetchShared = promauto.NewCounter(prometheus.CounterOpts{
		Name: "partition_fetch_shared_total",
		Help: "Callers that waited on a download already in flight.",
	})

	fetchBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "partition_fetch_bytes_total",
		Help: "Bytes written to the partition cache.",
	})

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "partition_fetch_duration_seconds",
		Help:    "Time spent downloading a partition.",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"result"})
)
