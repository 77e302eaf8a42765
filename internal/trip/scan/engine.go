package scan

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/format"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/tripquery/internal/trip/domain"
)

const defaultBatchSize = 1024

// Engine runs projected, filtered, sorted and limited scans over parquet
// partition files. It holds no per-file state and is safe for concurrent use.
type Engine struct {
	logger    *zap.Logger
	tracer    trace.Tracer
	batchSize int
}

// NewEngine constructs a scan engine.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		logger:    logger,
		tracer:    otel.Tracer("trips.scan"),
		batchSize: defaultBatchSize,
	}
}

// Scan returns at most limit trips from the file at path whose pickup time is
// at or after fromMS, ordered by pickup time ascending.
func (e *Engine) Scan(ctx context.Context, path string, fromMS int64, limit int) (trips []domain.Trip, err error) {
	if limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative, got %d", domain.ErrValidation, limit)
	}
	_, span := e.tracer.Start(ctx, "trips.scan", trace.WithAttributes(
		attribute.Int64("from_ms", fromMS),
		attribute.Int("limit", limit),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
			span.RecordError(err)
		}
		scanDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	}()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open partition: %v", domain.ErrIO, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat partition: %v", domain.ErrIO, err)
	}

	file, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("%w: open parquet %s: %v", domain.ErrScan, path, err)
	}

	proj, err := project(file.Schema())
	if err != nil {
		return nil, err
	}
	if limit == 0 {
		return []domain.Trip{}, nil
	}

	bound := proj.pickup.unit.FromUnixMilli(fromMS)
	top := newTopN(limit)
	meta := file.Metadata()
	for i, rowGroup := range file.RowGroups() {
		if lo, hi, ok := columnBounds(meta, i, proj.pickup.index); ok {
			if hi < bound {
				rowGroupsTotal.WithLabelValues("below_bound").Inc()
				continue
			}
			if top.full() && lo > top.worst() {
				rowGroupsTotal.WithLabelValues("after_limit").Inc()
				continue
			}
		}
		rowGroupsTotal.WithLabelValues("scanned").Inc()
		if err := e.scanRowGroup(rowGroup, proj, bound, top); err != nil {
			return nil, fmt.Errorf("%w: row group %d of %s: %v", domain.ErrScan, i, path, err)
		}
	}

	rows := top.sorted()
	trips = make([]domain.Trip, len(rows))
	for i, r := range rows {
		trips[i] = domain.Trip{
			PickupTime:  proj.pickup.unit.Time(r.pickup),
			DropoffTime: proj.dropoff.unit.Time(r.dropoff),
			Distance:    r.distance,
			Fare:        r.fare,
		}
	}
	e.logger.Debug("scan complete",
		zap.Int("row_groups", len(file.RowGroups())),
		zap.Int("returned", len(trips)),
		zap.String("pickup_unit", proj.pickup.unit.String()),
	)
	return trips, nil
}

func (e *Engine) scanRowGroup(rowGroup parquet.RowGroup, proj projection, bound int64, top *topN) error {
	chunks := rowGroup.ColumnChunks()
	cols := proj.columns()
	var cursors [4]*columnCursor
	for i, col := range cols {
		if col.index >= len(chunks) {
			return fmt.Errorf("column %s has no chunk", col.name)
		}
		cursors[i] = &columnCursor{pages: chunks[col.index].Pages()}
	}
	defer func() {
		for _, c := range cursors {
			c.close()
		}
	}()

	var buffers [4][]parquet.Value
	for i := range buffers {
		buffers[i] = make([]parquet.Value, e.batchSize)
	}

	for {
		n, err := cursors[0].read(buffers[0])
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read %s: %w", cols[0].name, err)
		}
		done := errors.Is(err, io.EOF)
		for i := 1; i < len(cursors); i++ {
			got, err := cursors[i].read(buffers[i][:n])
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("read %s: %w", cols[i].name, err)
			}
			if got != n {
				return fmt.Errorf("column %s has %d values, want %d", cols[i].name, got, n)
			}
		}

		for r := 0; r < n; r++ {
			pickup, dropoff := buffers[0][r], buffers[1][r]
			distance, fare := buffers[2][r], buffers[3][r]
			if pickup.IsNull() || pickup.Int64() < bound {
				continue
			}
			if dropoff.IsNull() || distance.IsNull() || fare.IsNull() {
				continue
			}
			top.offer(row{
				pickup:   pickup.Int64(),
				dropoff:  dropoff.Int64(),
				distance: floatValue(distance, proj.distance.kind),
				fare:     floatValue(fare, proj.fare.kind),
			})
		}
		if done {
			return nil
		}
	}
}

func floatValue(v parquet.Value, kind parquet.Kind) float64 {
	if kind == parquet.Float {
		return float64(v.Float())
	}
	return v.Double()
}

// columnBounds decodes the INT64 min/max statistics of one column chunk.
func columnBounds(meta *format.FileMetaData, rowGroup, column int) (lo, hi int64, ok bool) {
	if meta == nil || rowGroup >= len(meta.RowGroups) {
		return 0, 0, false
	}
	columns := meta.RowGroups[rowGroup].Columns
	if column >= len(columns) {
		return 0, 0, false
	}
	stats := columns[column].MetaData.Statistics
	minBytes, maxBytes := stats.MinValue, stats.MaxValue
	if len(minBytes) == 0 && len(maxBytes) == 0 {
		minBytes, maxBytes = stats.Min, stats.Max
	}
	if len(minBytes) != 8 || len(maxBytes) != 8 {
		return 0, 0, false
	}
	return int64(binary.LittleEndian.Uint64(minBytes)), int64(binary.LittleEndian.Uint64(maxBytes)), true
}

// columnCursor streams the values of a column chunk across page boundaries.
type columnCursor struct {
	pages  parquet.Pages
	values parquet.ValueReader
}

// read fills buf unless the chunk ends first, in which case it returns the
// number of values read and io.EOF.
func (c *columnCursor) read(buf []parquet.Value) (int, error) {
	n := 0
	for n < len(buf) {
		if c.values == nil {
			page, err := c.pages.ReadPage()
			if err != nil {
				return n, err
			}
			c.values = page.Values()
		}
		k, err := c.values.ReadValues(buf[n:])
		n += k
		if errors.Is(err, io.EOF) {
			c.values = nil
			continue
		}
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func (c *columnCursor) close() {
	if c != nil && c.pages != nil {
		_ = c.pages.Close()
	}
}
