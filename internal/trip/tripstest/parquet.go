// Package tripstest writes small partition files for tests.
package tripstest

import (
	"bytes"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/require"
)

// Row is one fixture record. Times are converted to the file's unit on write.
type Row struct {
	Pickup   time.Time
	Dropoff  time.Time
	Distance float64
	Fare     float64
	Vendor   string
	// NullPickup and NullFare write nulls; they need Options.Nullable.
	NullPickup bool
	NullFare   bool
}

// Options controls the layout of a fixture file.
type Options struct {
	Unit parquet.TimeUnit
	// OmitColumn drops one of the dataset columns from the schema.
	OmitColumn string
	// FareAsString stores fare_amount as a byte array column.
	FareAsString bool
	// RowGroupSize caps rows per row group; 0 writes a single row group.
	RowGroupSize int
	// Nullable declares every column OPTIONAL, as the published files do.
	Nullable bool
	// PageBufferSize forces small pages so reads cross page boundaries.
	PageBufferSize int
}

func (o Options) unit() parquet.TimeUnit {
	if o.Unit == nil {
		return parquet.Microsecond
	}
	return o.Unit
}

// Encode renders rows as a parquet file shaped like a yellow taxi partition.
func Encode(t testing.TB, rows []Row, opts Options) []byte {
	t.Helper()
	unit := opts.unit()
	fields := parquet.Group{
		"VendorID":              parquet.String(),
		"tpep_pickup_datetime":  parquet.Timestamp(unit),
		"tpep_dropoff_datetime": parquet.Timestamp(unit),
		"trip_distance":         parquet.Leaf(parquet.DoubleType),
		"fare_amount":           parquet.Leaf(parquet.DoubleType),
	}
	if opts.FareAsString {
		fields["fare_amount"] = parquet.String()
	}
	if opts.OmitColumn != "" {
		delete(fields, opts.OmitColumn)
	}
	if opts.Nullable {
		for name, node := range fields {
			fields[name] = parquet.Optional(node)
		}
	}
	schema := parquet.NewSchema("yellow_tripdata", fields)

	// Group columns are ordered by name.
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	writerOpts := []parquet.WriterOption{schema}
	if opts.PageBufferSize > 0 {
		writerOpts = append(writerOpts, parquet.PageBufferSize(opts.PageBufferSize))
	}
	w := parquet.NewWriter(&buf, writerOpts...)
	groupSize := opts.RowGroupSize
	if groupSize <= 0 {
		groupSize = len(rows) + 1
	}
	for start := 0; start < len(rows); start += groupSize {
		end := start + groupSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := make([]parquet.Row, 0, end-start)
		for _, r := range rows[start:end] {
			batch = append(batch, encodeRow(r, names, unit, opts))
		}
		_, err := w.WriteRows(batch)
		require.NoError(t, err)
		if end < len(rows) {
			require.NoError(t, w.Flush())
		}
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// WriteFile writes an encoded fixture to path.
func WriteFile(t testing.TB, path string, rows []Row, opts Options) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, Encode(t, rows, opts), 0o644))
}

func encodeRow(r Row, names []string, unit parquet.TimeUnit, opts Options) parquet.Row {
	out := make(parquet.Row, 0, len(names))
	for i, name := range names {
		var v parquet.Value
		switch name {
		case "VendorID":
			v = parquet.ByteArrayValue([]byte(r.Vendor))
		case "tpep_pickup_datetime":
			if r.NullPickup {
				v = parquet.NullValue()
			} else {
				v = parquet.Int64Value(toUnit(r.Pickup, unit))
			}
		case "tpep_dropoff_datetime":
			v = parquet.Int64Value(toUnit(r.Dropoff, unit))
		case "trip_distance":
			v = parquet.DoubleValue(r.Distance)
		case "fare_amount":
			switch {
			case r.NullFare:
				v = parquet.NullValue()
			case opts.FareAsString:
				v = parquet.ByteArrayValue([]byte("12.50"))
			default:
				v = parquet.DoubleValue(r.Fare)
			}
		}
		def := 0
		if opts.Nullable && !v.IsNull() {
			def = 1
		}
		out = append(out, v.Level(0, def, i))
	}
	return out
}

func toUnit(at time.Time, unit parquet.TimeUnit) int64 {
	switch unit {
	case parquet.Millisecond:
		return at.UnixMilli()
	case parquet.Nanosecond:
		return at.UnixNano()
	default:
		return at.UnixMicro()
	}
}
