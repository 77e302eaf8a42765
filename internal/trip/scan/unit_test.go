package scan

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimeUnitFromUnixMilli(t *testing.T) {
	const ms = int64(1_704_067_200_000) // 2024-01-01T00:00:00Z
	require.Equal(t, ms, Millisecond.FromUnixMilli(ms))
	require.Equal(t, ms*1_000, Microsecond.FromUnixMilli(ms))
	require.Equal(t, ms*1_000_000, Nanosecond.FromUnixMilli(ms))
	require.Equal(t, int64(-5_000_000), Nanosecond.FromUnixMilli(-5))
}

func TestTimeUnitFromUnixMilliSaturates(t *testing.T) {
	require.Equal(t, int64(math.MaxInt64), Nanosecond.FromUnixMilli(math.MaxInt64/1000))
	require.Equal(t, int64(math.MinInt64), Nanosecond.FromUnixMilli(math.MinInt64/1000))
	require.Equal(t, int64(math.MaxInt64), Microsecond.FromUnixMilli(math.MaxInt64))
	require.Equal(t, int64(math.MaxInt64), Millisecond.FromUnixMilli(math.MaxInt64))
}

func TestTimeUnitRoundTrip(t *testing.T) {
	at := time.Date(2024, 1, 15, 8, 30, 12, 345e6, time.UTC)
	for _, unit := range []TimeUnit{Millisecond, Microsecond, Nanosecond} {
		t.Run(unit.String(), func(t *testing.T) {
			raw := unit.FromUnixMilli(at.UnixMilli())
			got := unit.Time(raw)
			require.True(t, at.Equal(got), "got %s", got)
			require.Equal(t, time.UTC, got.Location())
		})
	}
}
