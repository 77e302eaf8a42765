package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/tripquery/internal/trip/domain"
	"github.com/example/tripquery/internal/trip/partition"
)

// Config holds orchestrator limits.
type Config struct {
	// MaxResults caps n per query; zero means unlimited.
	MaxResults int64
}

// Service answers trip queries from the monthly dataset partitions: it
// resolves the partition for fromMS, ensures the file is cached locally and
// scans it. Only the one partition holding fromMS is read, so a query near the
// end of a month may return fewer than n trips.
type Service struct {
	store   domain.PartitionStore
	scanner domain.TripScanner
	cfg     Config
	logger  *zap.Logger
	tracer  trace.Tracer
}

// New constructs a Service with the required collaborators.
func New(store domain.PartitionStore, scanner domain.TripScanner, logger *zap.Logger, cfg Config) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   store,
		scanner: scanner,
		cfg:     cfg,
		logger:  logger,
		tracer:  otel.Tracer("trips.service"),
	}
}

// QueryTrips returns up to n trips with pickup at or after fromMS, ordered by
// pickup time.
func (s *Service) QueryTrips(ctx context.Context, fromMS int64, n int64) ([]domain.Trip, error) {
	ctx, span := s.tracer.Start(ctx, "trips.query", trace.WithAttributes(
		attribute.Int64("from_ms", fromMS),
		attribute.Int64("n_results", n),
	))
	defer span.End()

	limit, err := s.limit(n)
	if err != nil {
		return nil, err
	}

	key, err := partition.Resolve(fromMS)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("resolve partition: %w", err)
	}
	span.SetAttributes(attribute.String("partition", key.String()))
	s.logger.Info("resolved partition", zap.Int("year", key.Year), zap.Int("month", key.Month))

	path, err := s.store.EnsureLocal(ctx, key)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("ensure partition %s: %w", key, err)
	}

	start := time.Now()
	trips, err := s.scanner.Scan(ctx, path, fromMS, limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("scan partition %s: %w", key, err)
	}

	s.logger.Info("returning trips",
		zap.String("partition", key.String()),
		zap.Int("count", len(trips)),
		zap.Duration("scan", time.Since(start)),
	)
	return trips, nil
}

func (s *Service) limit(n int64) (int, error) {
	if n < 0 {
		return 0, fmt.Errorf("%w: n_results must not be negative, got %d", domain.ErrValidation, n)
	}
	if s.cfg.MaxResults > 0 && n > s.cfg.MaxResults {
		return 0, fmt.Errorf("%w: n_results must not exceed %d, got %d", domain.ErrValidation, s.cfg.MaxResults, n)
	}
	if n > math.MaxInt32 {
		return 0, fmt.Errorf("%w: n_results %d is too large", domain.ErrValidation, n)
	}
	return int(n), nil
}
