package synthetic

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/example/tripquery/internal/trip/domain"
)

const (
	pickupWindow = 60 * time.Second
	minRide      = 300 * time.Second
	maxRide      = 3600 * time.Second
	minDistance  = 0.5
	maxDistance  = 20.0
	minFare      = 2.5
	maxFare      = 100.0
)

// DefaultMaxResults bounds a single request when no explicit cap is set.
const DefaultMaxResults = 10000

// Option customises a Generator.
type Option func(*Generator)

// WithMaxResults caps n per request. Values <= 0 keep DefaultMaxResults.
func WithMaxResults(limit int64) Option {
	return func(g *Generator) {
		if limit > 0 {
			g.maxResults = limit
		}
	}
}

// Generator produces plausible random trips without touching the dataset.
// It satisfies domain.TripSource and is safe for concurrent use.
type Generator struct {
	mu         sync.Mutex
	rng        *rand.Rand
	maxResults int64
}

// NewGenerator constructs a generator. A nil source seeds from the clock.
func NewGenerator(src rand.Source, opts ...Option) *Generator {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	g := &Generator{rng: rand.New(src), maxResults: DefaultMaxResults}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// QueryTrips returns exactly n random trips starting near fromMS.
func (g *Generator) QueryTrips(_ context.Context, fromMS int64, n int64) ([]domain.Trip, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: n_results must not be negative, got %d", domain.ErrValidation, n)
	}
	if n > g.maxResults {
		return nil, fmt.Errorf("%w: n_results must not exceed %d, got %d", domain.ErrValidation, g.maxResults, n)
	}
	from := time.UnixMilli(fromMS).UTC()

	g.mu.Lock()
	defer g.mu.Unlock()
	trips := make([]domain.Trip, 0, n)
	for i := int64(0); i < n; i++ {
		pickup := from.Add(g.duration(0, pickupWindow))
		trips = append(trips, domain.Trip{
			PickupTime:  pickup,
			DropoffTime: pickup.Add(g.duration(minRide, maxRide)),
			Distance:    g.between(minDistance, maxDistance),
			Fare:        g.between(minFare, maxFare),
		})
	}
	return trips, nil
}

// duration draws uniformly from [lo, hi) at millisecond resolution.
func (g *Generator) duration(lo, hi time.Duration) time.Duration {
	span := int64((hi - lo) / time.Millisecond)
	return lo + time.Duration(g.rng.Int63n(span))*time.Millisecond
}

func (g *Generator) between(lo, hi float64) float64 {
	return lo + g.rng.Float64()*(hi-lo)
}
