package service

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/example/tripquery/internal/trip/domain"
)

var (
	queryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trip_queries_total",
		Help: "Trip queries grouped by backend and outcome.",
	}, []string{"backend", "result"})

	tripsReturned = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trip_query_results",
		Help:    "Number of trips returned per successful query.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	}, []string{"backend"})
)

// Observe wraps a TripSource so every query is counted under backend.
func Observe(backend string, next domain.TripSource) domain.TripSource {
	return observed{backend: backend, next: next}
}

type observed struct {
	backend string
	next    domain.TripSource
}

func (o observed) QueryTrips(ctx context.Context, fromMS int64, n int64) ([]domain.Trip, error) {
	trips, err := o.next.QueryTrips(ctx, fromMS, n)
	observeQuery(o.backend, err, len(trips))
	return trips, err
}

func observeQuery(backend string, err error, n int) {
	queryTotal.WithLabelValues(backend, outcome(err)).Inc()
	if err == nil {
		tripsReturned.WithLabelValues(backend).Observe(float64(n))
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrResolution):
		return "resolution"
	case errors.Is(err, domain.ErrFetch):
		return "fetch"
	case errors.Is(err, domain.ErrIO):
		return "io"
	case errors.Is(err, domain.ErrSchema):
		return "schema"
	case errors.Is(err, domain.ErrScan):
		return "scan"
	default:
		return "error"
	}
}
