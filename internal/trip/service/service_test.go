package service_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/tripquery/internal/trip/domain"
	"github.com/example/tripquery/internal/trip/scan"
	"github.com/example/tripquery/internal/trip/service"
	"github.com/example/tripquery/internal/trip/store"
	"github.com/example/tripquery/internal/trip/tripstest"
)

var march = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

type stubStore struct {
	keys []domain.PartitionKey
	path string
	err  error
}

func (s *stubStore) EnsureLocal(_ context.Context, key domain.PartitionKey) (string, error) {
	s.keys = append(s.keys, key)
	return s.path, s.err
}

type stubScanner struct {
	calls  int
	limit  int
	fromMS int64
	trips  []domain.Trip
	err    error
}

func (s *stubScanner) Scan(_ context.Context, _ string, fromMS int64, limit int) ([]domain.Trip, error) {
	s.calls++
	s.fromMS = fromMS
	s.limit = limit
	return s.trips, s.err
}

func TestQueryTripsComposesStages(t *testing.T) {
	st := &stubStore{path: "/cache/yellow_tripdata_2024-03.parquet"}
	sc := &stubScanner{trips: []domain.Trip{{PickupTime: march}}}
	svc := service.New(st, sc, nil, service.Config{})

	from := march.Add(36 * time.Hour).UnixMilli()
	trips, err := svc.QueryTrips(context.Background(), from, 7)
	require.NoError(t, err)
	require.Len(t, trips, 1)
	require.Equal(t, []domain.PartitionKey{{Year: 2024, Month: 3}}, st.keys)
	require.Equal(t, from, sc.fromMS)
	require.Equal(t, 7, sc.limit)
}

func TestQueryTripsStopsAtFirstFailure(t *testing.T) {
	fetchErr := &domain.FetchError{URL: "https://example.test/x.parquet", StatusCode: 403}
	st := &stubStore{err: fetchErr}
	sc := &stubScanner{}
	svc := service.New(st, sc, nil, service.Config{})

	_, err := svc.QueryTrips(context.Background(), march.UnixMilli(), 5)
	require.ErrorIs(t, err, domain.ErrFetch)
	require.Zero(t, sc.calls)
}

func TestQueryTripsValidatesCount(t *testing.T) {
	st := &stubStore{}
	svc := service.New(st, &stubScanner{}, nil, service.Config{MaxResults: 100})

	_, err := svc.QueryTrips(context.Background(), march.UnixMilli(), -1)
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = svc.QueryTrips(context.Background(), march.UnixMilli(), 101)
	require.ErrorIs(t, err, domain.ErrValidation)
	require.Empty(t, st.keys)
}

func TestQueryTripsResolutionFailure(t *testing.T) {
	st := &stubStore{}
	svc := service.New(st, &stubScanner{}, nil, service.Config{})

	_, err := svc.QueryTrips(context.Background(), time.Date(12000, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(), 1)
	require.ErrorIs(t, err, domain.ErrResolution)
	require.Empty(t, st.keys)
}

// pipeline wires the real store and scan engine against a fake dataset host.
func pipeline(t *testing.T, handler http.HandlerFunc) (*service.Service, *store.Store, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	st, err := store.New(store.Config{Dir: t.TempDir(), BaseURL: srv.URL, FetchTimeout: 5 * time.Second})
	require.NoError(t, err)
	return service.New(st, scan.NewEngine(nil), nil, service.Config{}), st, &hits
}

func marchRows() []tripstest.Row {
	row := func(offset time.Duration, distance float64) tripstest.Row {
		pickup := march.Add(offset)
		return tripstest.Row{Pickup: pickup, Dropoff: pickup.Add(12 * time.Minute), Distance: distance, Fare: distance * 3}
	}
	return []tripstest.Row{
		row(48*time.Hour, 3),
		row(-time.Minute, 9),
		row(0, 1),
		row(24*time.Hour, 2),
	}
}

func TestQueryTripsReturnsShortResultWithinOnePartition(t *testing.T) {
	payload := tripstest.Encode(t, marchRows(), tripstest.Options{})
	svc, st, hits := pipeline(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/yellow_tripdata_2024-03.parquet" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(payload)
	})

	trips, err := svc.QueryTrips(context.Background(), march.UnixMilli(), 10)
	require.NoError(t, err)
	require.Len(t, trips, 3)
	for i, trip := range trips {
		require.False(t, trip.PickupTime.Before(march))
		if i > 0 {
			require.True(t, trip.PickupTime.After(trips[i-1].PickupTime))
		}
	}
	require.Equal(t, []float64{1, 2, 3}, []float64{trips[0].Distance, trips[1].Distance, trips[2].Distance})

	_, err = os.Stat(st.Path(domain.PartitionKey{Year: 2024, Month: 3}))
	require.NoError(t, err)

	again, err := svc.QueryTrips(context.Background(), march.Add(time.Hour).UnixMilli(), 10)
	require.NoError(t, err)
	require.Len(t, again, 2)
	require.EqualValues(t, 1, hits.Load(), "second query reuses the cached partition")
}

func TestQueryTripsZeroResults(t *testing.T) {
	payload := tripstest.Encode(t, marchRows(), tripstest.Options{})
	svc, _, _ := pipeline(t, func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write(payload) })

	trips, err := svc.QueryTrips(context.Background(), march.UnixMilli(), 0)
	require.NoError(t, err)
	require.Empty(t, trips)
}

func TestQueryTripsRemoteFailureCreatesNoFile(t *testing.T) {
	svc, st, _ := pipeline(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := svc.QueryTrips(context.Background(), march.UnixMilli(), 10)
	require.ErrorIs(t, err, domain.ErrFetch)
	var fetchErr *domain.FetchError
	require.True(t, errors.As(err, &fetchErr))
	require.Equal(t, http.StatusServiceUnavailable, fetchErr.StatusCode)

	_, statErr := os.Stat(st.Path(domain.PartitionKey{Year: 2024, Month: 3}))
	require.True(t, os.IsNotExist(statErr))
}

func TestQueryTripsMissingFareColumn(t *testing.T) {
	payload := tripstest.Encode(t, marchRows(), tripstest.Options{OmitColumn: scan.ColumnFare})
	svc, _, _ := pipeline(t, func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write(payload) })

	_, err := svc.QueryTrips(context.Background(), march.UnixMilli(), 10)
	require.ErrorIs(t, err, domain.ErrSchema)
}

type countingSource struct{ err error }

func (c countingSource) QueryTrips(context.Context, int64, int64) ([]domain.Trip, error) {
	return []domain.Trip{{}}, c.err
}

func TestObservePassesThrough(t *testing.T) {
	src := service.Observe("test", countingSource{})
	trips, err := src.QueryTrips(context.Background(), 0, 1)
	require.NoError(t, err)
	require.Len(t, trips, 1)

	_, err = service.Observe("test", countingSource{err: domain.ErrScan}).QueryTrips(context.Background(), 0, 1)
	require.ErrorIs(t, err, domain.ErrScan)
}

var _ domain.TripSource = (*service.Service)(nil)
