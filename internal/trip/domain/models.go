package domain

import (
	"context"
	"fmt"
	"time"
)

// Trip is a single taxi trip record produced by a scan or by the generator.
type Trip struct {
	PickupTime  time.Time `json:"tpep_pickup_datetime"`
	DropoffTime time.Time `json:"tpep_dropoff_datetime"`
	Distance    float64   `json:"trip_distance"`
	Fare        float64   `json:"fare_amount"`
}

// PartitionKey identifies one calendar month of the dataset.
type PartitionKey struct {
	Year  int
	Month int
}

// String renders the key as YYYY-MM.
func (k PartitionKey) String() string {
	return fmt.Sprintf("%04d-%02d", k.Year, k.Month)
}

// Valid reports whether the key addresses a real calendar month.
func (k PartitionKey) Valid() bool {
	return k.Year >= 1 && k.Year <= 9999 && k.Month >= 1 && k.Month <= 12
}

// ParsePartitionKey parses a YYYY-MM string.
func ParsePartitionKey(s string) (PartitionKey, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return PartitionKey{}, fmt.Errorf("%w: partition %q must be YYYY-MM", ErrValidation, s)
	}
	return PartitionKey{Year: t.Year(), Month: int(t.Month())}, nil
}

// TripSource answers "n trips at or after fromMS". The dataset pipeline and the
// synthetic generator both satisfy it.
type TripSource interface {
	QueryTrips(ctx context.Context, fromMS int64, n int64) ([]Trip, error)
}

// PartitionStore makes a partition file available locally.
type PartitionStore interface {
	EnsureLocal(ctx context.Context, key PartitionKey) (string, error)
}

// TripScanner reads trips from a local partition file.
type TripScanner interface {
	Scan(ctx context.Context, path string, fromMS int64, limit int) ([]Trip, error)
}

// PartitionEventType names a partition lifecycle event.
type PartitionEventType string

const (
	EventPartitionFetched PartitionEventType = "PartitionFetched"
)

// PartitionEvent is emitted after a partition lands in the local cache.
type PartitionEvent struct {
	Type      PartitionEventType `json:"type"`
	Partition string             `json:"partition"`
	SourceURL string             `json:"source_url"`
	Bytes     int64              `json:"bytes"`
	FetchedAt time.Time          `json:"fetched_at"`
}

// EventPublisher delivers partition events to interested parties.
type EventPublisher interface {
	Publish(ctx context.Context, event PartitionEvent) error
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
