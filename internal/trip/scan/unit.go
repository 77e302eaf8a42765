package scan

import (
	"math"
	"time"
)

// TimeUnit is the precision of a stored timestamp column.
type TimeUnit int

const (
	Millisecond TimeUnit = iota + 1
	Microsecond
	Nanosecond
)

func (u TimeUnit) String() string {
	switch u {
	case Millisecond:
		return "millisecond"
	case Microsecond:
		return "microsecond"
	case Nanosecond:
		return "nanosecond"
	default:
		return "unknown"
	}
}

// perMilli is how many ticks of u fit in one millisecond.
func (u TimeUnit) perMilli() int64 {
	switch u {
	case Microsecond:
		return 1_000
	case Nanosecond:
		return 1_000_000
	default:
		return 1
	}
}

// FromUnixMilli converts a millisecond timestamp into the column's unit.
// Values that do not fit saturate at the int64 bounds, which keeps
// comparisons against stored values correct.
func (u TimeUnit) FromUnixMilli(ms int64) int64 {
	factor := u.perMilli()
	switch {
	case ms > math.MaxInt64/factor:
		return math.MaxInt64
	case ms < math.MinInt64/factor:
		return math.MinInt64
	default:
		return ms * factor
	}
}

// Time converts a raw stored value into a UTC instant.
func (u TimeUnit) Time(v int64) time.Time {
	switch u {
	case Microsecond:
		return time.UnixMicro(v).UTC()
	case Nanosecond:
		return time.Unix(0, v).UTC()
	default:
		return time.UnixMilli(v).UTC()
	}
}
