package scan

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scanDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trip_scan_duration_seconds",
		Help:    "Time spent scanning a partition file.",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})

	rowGroupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trip_scan_row_groups_total",
		Help: "Row groups visited by scans grouped by outcome.",
	}, []string{"outcome"})
)
