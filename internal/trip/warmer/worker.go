package warmer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/tripquery/internal/trip/domain"
	"github.com/example/tripquery/internal/trip/partition"
)

var (
	warmTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "partition_warm_total",
		Help: "Partition warm attempts by result.",
	}, []string{"result"})
	warmLastSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "partition_warm_last_success_timestamp_seconds",
		Help: "Unix time of the last pass that left every warmed partition cached.",
	})
)

// WorkerConfig defines tunables for the warm-up worker.
type WorkerConfig struct {
	// Months is how many partitions to keep warm, counting back from the
	// month before the current one. The current month is skipped because the
	// dataset publishes a month only after it ends.
	Months       int
	PollInterval time.Duration
	RetryMax     int
	Backoff      time.Duration
}

// Worker keeps recent partitions in the local cache so the first query of a
// month does not pay for the download.
type Worker struct {
	store  domain.PartitionStore
	clock  domain.Clock
	logger *zap.Logger
	cfg    WorkerConfig
	tracer trace.Tracer
}

// NewWorker constructs a warm-up worker.
func NewWorker(store domain.PartitionStore, clock domain.Clock, logger *zap.Logger, cfg WorkerConfig) *Worker {
	if cfg.Months <= 0 {
		cfg.Months = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Hour
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		store:  store,
		clock:  clock,
		logger: logger,
		cfg:    cfg,
		tracer: otel.Tracer("trips.warmer"),
	}
}

// Run warms partitions immediately and then on every tick until ctx is
// cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w.store == nil {
		return errors.New("warm-up worker requires a partition store")
	}
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if err := w.WarmOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("partition warm-up failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Targets lists the partitions a pass at now would warm, newest first.
func (w *Worker) Targets(now time.Time) []domain.PartitionKey {
	month := time.Date(now.UTC().Year(), now.UTC().Month(), 1, 0, 0, 0, 0, time.UTC)
	keys := make([]domain.PartitionKey, 0, w.cfg.Months)
	for i := 1; i <= w.cfg.Months; i++ {
		key, err := partition.Resolve(month.AddDate(0, -i, 0).UnixMilli())
		if err != nil {
			break
		}
		keys = append(keys, key)
	}
	return keys
}

// WarmOnce ensures every target partition is cached. Failures of one
// partition do not stop the others; the joined error reports all of them.
func (w *Worker) WarmOnce(ctx context.Context) error {
	ctx, span := w.tracer.Start(ctx, "partition.warm")
	defer span.End()

	var errs []error
	for _, key := range w.Targets(w.clock.Now()) {
		if err := w.ensureWithRetry(ctx, key); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		return err
	}
	warmLastSuccess.Set(float64(w.clock.Now().Unix()))
	return nil
}

func (w *Worker) ensureWithRetry(ctx context.Context, key domain.PartitionKey) error {
	ctx, span := w.tracer.Start(ctx, "partition.warm_one", trace.WithAttributes(attribute.String("partition", key.String())))
	defer span.End()

	var attempt int
	for {
		attempt++
		path, err := w.store.EnsureLocal(ctx, key)
		if err == nil {
			warmTotal.WithLabelValues("ok").Inc()
			w.logger.Debug("partition warm", zap.String("partition", key.String()), zap.String("path", path))
			return nil
		}
		w.logger.Warn("partition warm attempt failed", zap.Error(err), zap.Int("attempt", attempt), zap.String("partition", key.String()))
		var fetchErr *domain.FetchError
		// A 404 means the month is not published yet; retrying now is pointless.
		if attempt >= w.cfg.RetryMax || (errors.As(err, &fetchErr) && fetchErr.StatusCode == 404) {
			warmTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("warm partition %s: %w", key, err)
		}
		backoff := time.Duration(attempt*attempt) * w.cfg.Backoff
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
