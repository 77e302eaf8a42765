package scan

import (
	"fmt"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/deprecated"

	"github.com/example/tripquery/internal/trip/domain"
)

// Column names of the yellow taxi trip dataset.
const (
	ColumnPickup   = "tpep_pickup_datetime"
	ColumnDropoff  = "tpep_dropoff_datetime"
	ColumnDistance = "trip_distance"
	ColumnFare     = "fare_amount"
)

type column struct {
	name  string
	index int
	kind  parquet.Kind
	unit  TimeUnit
}

// projection holds the four columns a scan reads; every other column in the
// file is ignored.
type projection struct {
	pickup   column
	dropoff  column
	distance column
	fare     column
}

func (p projection) columns() [4]column {
	return [4]column{p.pickup, p.dropoff, p.distance, p.fare}
}

func project(schema *parquet.Schema) (projection, error) {
	var (
		p   projection
		err error
	)
	if p.pickup, err = timestampColumn(schema, ColumnPickup); err != nil {
		return projection{}, err
	}
	if p.dropoff, err = timestampColumn(schema, ColumnDropoff); err != nil {
		return projection{}, err
	}
	if p.distance, err = floatColumn(schema, ColumnDistance); err != nil {
		return projection{}, err
	}
	if p.fare, err = floatColumn(schema, ColumnFare); err != nil {
		return projection{}, err
	}
	return p, nil
}

func lookupLeaf(schema *parquet.Schema, name string) (parquet.LeafColumn, error) {
	leaf, ok := schema.Lookup(name)
	if !ok {
		return parquet.LeafColumn{}, &domain.SchemaError{Column: name, Reason: "is missing"}
	}
	if leaf.MaxRepetitionLevel > 0 {
		return parquet.LeafColumn{}, &domain.SchemaError{Column: name, Reason: "is repeated"}
	}
	return leaf, nil
}

func timestampColumn(schema *parquet.Schema, name string) (column, error) {
	leaf, err := lookupLeaf(schema, name)
	if err != nil {
		return column{}, err
	}
	typ := leaf.Node.Type()
	if typ.Kind() != parquet.Int64 {
		return column{}, &domain.SchemaError{Column: name, Reason: fmt.Sprintf("has type %s, want INT64 timestamp", typ.Kind())}
	}
	unit, ok := timestampUnit(typ)
	if !ok {
		return column{}, &domain.SchemaError{Column: name, Reason: "is not annotated as a timestamp"}
	}
	return column{name: name, index: leaf.ColumnIndex, kind: parquet.Int64, unit: unit}, nil
}

func floatColumn(schema *parquet.Schema, name string) (column, error) {
	leaf, err := lookupLeaf(schema, name)
	if err != nil {
		return column{}, err
	}
	kind := leaf.Node.Type().Kind()
	if kind != parquet.Double && kind != parquet.Float {
		return column{}, &domain.SchemaError{Column: name, Reason: fmt.Sprintf("has type %s, want floating point", kind)}
	}
	return column{name: name, index: leaf.ColumnIndex, kind: kind}, nil
}

func timestampUnit(typ parquet.Type) (TimeUnit, bool) {
	if lt := typ.LogicalType(); lt != nil && lt.Timestamp != nil {
		switch {
		case lt.Timestamp.Unit.Nanos != nil:
			return Nanosecond, true
		case lt.Timestamp.Unit.Micros != nil:
			return Microsecond, true
		case lt.Timestamp.Unit.Millis != nil:
			return Millisecond, true
		}
	}
	if ct := typ.ConvertedType(); ct != nil {
		switch *ct {
		case deprecated.TimestampMicros:
			return Microsecond, true
		case deprecated.TimestampMillis:
			return Millisecond, true
		}
	}
	return 0, false
}
