package partition

import (
	"fmt"
	"time"

	"github.com/example/tripquery/internal/trip/domain"
)

// Resolve maps a UNIX millisecond timestamp to the UTC calendar month holding it.
func Resolve(fromMS int64) (domain.PartitionKey, error) {
	t := time.UnixMilli(fromMS).UTC()
	key := domain.PartitionKey{Year: t.Year(), Month: int(t.Month())}
	if !key.Valid() {
		return domain.PartitionKey{}, fmt.Errorf("%w: %d ms resolves to year %d", domain.ErrResolution, fromMS, t.Year())
	}
	return key, nil
}

// Start returns the first instant of the partition in UTC.
func Start(key domain.PartitionKey) time.Time {
	return time.Date(key.Year, time.Month(key.Month), 1, 0, 0, 0, 0, time.UTC)
}
