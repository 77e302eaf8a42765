package synthetic_test

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/tripquery/internal/trip/domain"
	"github.com/example/tripquery/internal/trip/synthetic"
)

func TestGeneratorShape(t *testing.T) {
	gen := synthetic.NewGenerator(rand.NewSource(42))
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	trips, err := gen.QueryTrips(context.Background(), from.UnixMilli(), 5)
	require.NoError(t, err)
	require.Len(t, trips, 5)
	for _, trip := range trips {
		require.False(t, trip.PickupTime.Before(from))
		require.True(t, trip.PickupTime.Before(from.Add(time.Minute)))
		ride := trip.DropoffTime.Sub(trip.PickupTime)
		require.GreaterOrEqual(t, ride, 300*time.Second)
		require.Less(t, ride, 3600*time.Second)
		require.True(t, trip.DropoffTime.After(trip.PickupTime))
		require.GreaterOrEqual(t, trip.Distance, 0.5)
		require.Less(t, trip.Distance, 20.0)
		require.GreaterOrEqual(t, trip.Fare, 2.5)
		require.Less(t, trip.Fare, 100.0)
	}
}

func TestGeneratorManyDrawsStayInRange(t *testing.T) {
	gen := synthetic.NewGenerator(rand.NewSource(1))
	trips, err := gen.QueryTrips(context.Background(), 0, 2000)
	require.NoError(t, err)
	require.Len(t, trips, 2000)
	for _, trip := range trips {
		require.Less(t, trip.PickupTime.Sub(time.UnixMilli(0)), time.Minute)
		require.Less(t, trip.Distance, 20.0)
		require.Less(t, trip.Fare, 100.0)
	}
}

func TestGeneratorZeroAndNegative(t *testing.T) {
	gen := synthetic.NewGenerator(nil)
	trips, err := gen.QueryTrips(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Empty(t, trips)

	_, err = gen.QueryTrips(context.Background(), 0, -1)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestGeneratorRejectsCountAboveCap(t *testing.T) {
	gen := synthetic.NewGenerator(nil, synthetic.WithMaxResults(100))
	trips, err := gen.QueryTrips(context.Background(), 0, 100)
	require.NoError(t, err)
	require.Len(t, trips, 100)

	_, err = gen.QueryTrips(context.Background(), 0, 101)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestGeneratorDefaultCapBoundsHugeCounts(t *testing.T) {
	gen := synthetic.NewGenerator(nil, synthetic.WithMaxResults(0))
	for _, n := range []int64{synthetic.DefaultMaxResults + 1, 2_000_000_000, math.MaxInt64} {
		require.NotPanics(t, func() {
			_, err := gen.QueryTrips(context.Background(), 0, n)
			require.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestGeneratorSeededIsReproducible(t *testing.T) {
	a, err := synthetic.NewGenerator(rand.NewSource(9)).QueryTrips(context.Background(), 1_700_000_000_000, 3)
	require.NoError(t, err)
	b, err := synthetic.NewGenerator(rand.NewSource(9)).QueryTrips(context.Background(), 1_700_000_000_000, 3)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestGeneratorConcurrentUse(t *testing.T) {
	gen := synthetic.NewGenerator(rand.NewSource(3))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			trips, err := gen.QueryTrips(context.Background(), 0, 50)
			require.NoError(t, err)
			require.Len(t, trips, 50)
		}()
	}
	wg.Wait()
}

var _ domain.TripSource = (*synthetic.Generator)(nil)
