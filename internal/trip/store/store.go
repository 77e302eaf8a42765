package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/example/tripquery/internal/trip/domain"
)

// DefaultBaseURL is the public location of the yellow taxi trip partitions.
const DefaultBaseURL = "https://d37ci6vzurychx.cloudfront.net/trip-data"

// Config defines where partitions come from and where they are cached.
type Config struct {
	Dir          string
	BaseURL      string
	FetchTimeout time.Duration
	LockTTL      time.Duration
	LockPoll     time.Duration
}

// Option customises a Store.
type Option func(*Store)

// WithHTTPClient overrides the client used for downloads.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Store) { s.client = client }
}

// WithLocker serializes downloads across processes sharing Dir.
func WithLocker(locker Locker) Option {
	return func(s *Store) { s.locker = locker }
}

// WithEventPublisher announces partitions once they land in the cache.
func WithEventPublisher(events domain.EventPublisher) Option {
	return func(s *Store) { s.events = events }
}

// WithLogger sets the store logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock sets the clock used to stamp events.
func WithClock(clock domain.Clock) Option {
	return func(s *Store) { s.clock = clock }
}

// Store keeps one local file per partition, downloading it on first use.
// Files are never removed; the directory acts as a permanent cache.
//
// Concurrent callers for the same missing partition share a single download.
// Downloads are written to a temporary file and renamed into place, so only
// complete files ever appear under the canonical name.
type Store struct {
	dir     string
	baseURL string
	cfg     Config
	client  *http.Client
	locker  Locker
	events  domain.EventPublisher
	logger  *zap.Logger
	clock   domain.Clock
	tracer  trace.Tracer
	flights singleflight.Group
}

// New constructs a Store and creates the cache directory when missing.
func New(cfg Config, opts ...Option) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errors.New("partition cache directory is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid source base url: %w", err)
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.FetchTimeout + 30*time.Second
	}
	if cfg.LockPoll <= 0 {
		cfg.LockPoll = 500 * time.Millisecond
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create cache dir: %v", domain.ErrIO, err)
	}
	s := &Store{
		dir:     cfg.Dir,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		cfg:     cfg,
		client:  http.DefaultClient,
		clock:   domain.SystemClock{},
		tracer:  otel.Tracer("trips.partition"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s, nil
}

// FileName is the canonical file name of a partition.
func FileName(key domain.PartitionKey) string {
	return fmt.Sprintf("yellow_tripdata_%04d-%02d.parquet", key.Year, key.Month)
}

// Path returns the local cache path of a partition.
func (s *Store) Path(key domain.PartitionKey) string {
	return filepath.Join(s.dir, FileName(key))
}

// URL returns the remote address of a partition.
func (s *Store) URL(key domain.PartitionKey) string {
	return s.baseURL + "/" + FileName(key)
}

// EnsureLocal returns the path of the partition file, downloading it first
// when no non-empty file is cached. Cached files are trusted as-is.
func (s *Store) EnsureLocal(ctx context.Context, key domain.PartitionKey) (string, error) {
	if !key.Valid() {
		return "", fmt.Errorf("%w: partition %s", domain.ErrValidation, key)
	}
	ctx, span := s.tracer.Start(ctx, "partition.ensure_local", trace.WithAttributes(attribute.String("partition", key.String())))
	defer span.End()

	path := s.Path(key)
	ok, err := cached(path)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	if ok {
		cacheHits.Inc()
		s.logger.Debug("partition cache hit", zap.String("partition", key.String()))
		return path, nil
	}

	// The download outlives any single caller, it is bounded by FetchTimeout.
	// A cancelled caller stops waiting while the download carries on for the
	// others.
	flightCtx := context.WithoutCancel(ctx)
	results := s.flights.DoChan(key.String(), func() (any, error) {
		return nil, s.fill(flightCtx, key, path)
	})
	select {
	case res := <-results:
		if res.Shared {
			fetchShared.Inc()
		}
		if res.Err != nil {
			span.RecordError(res.Err)
			return "", res.Err
		}
		return path, nil
	case <-ctx.Done():
		err := &domain.FetchError{URL: s.URL(key), Err: ctx.Err()}
		span.RecordError(err)
		s.logger.Debug("stopped waiting for partition", zap.String("partition", key.String()), zap.Error(ctx.Err()))
		return "", err
	}
}

func (s *Store) fill(ctx context.Context, key domain.PartitionKey, path string) error {
	if ok, err := cached(path); err != nil || ok {
		return err
	}
	if s.locker != nil {
		unlock, done, err := s.lock(ctx, key, path)
		if err != nil || done {
			return err
		}
		if unlock != nil {
			defer func() {
				if err := unlock(context.Background()); err != nil {
					s.logger.Warn("release partition lock", zap.String("partition", key.String()), zap.Error(err))
				}
			}()
			if ok, err := cached(path); err != nil || ok {
				return err
			}
		}
	}
	return s.download(ctx, key, path)
}

// lock waits for the cross-process lock. done reports that another process
// finished the download while we waited. Lock backend failures degrade to an
// unlocked download, which the temp-file rename keeps safe.
func (s *Store) lock(ctx context.Context, key domain.PartitionKey, path string) (func(context.Context) error, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.LockTTL)
	defer cancel()
	for {
		unlock, ok, err := s.locker.TryLock(ctx, key.String(), s.cfg.LockTTL)
		if err != nil {
			s.logger.Warn("partition lock unavailable", zap.String("partition", key.String()), zap.Error(err))
			return nil, false, nil
		}
		if ok {
			return unlock, false, nil
		}
		select {
		case <-time.After(s.cfg.LockPoll):
		case <-ctx.Done():
			return nil, false, &domain.FetchError{URL: s.URL(key), Err: fmt.Errorf("waiting for partition lock: %w", ctx.Err())}
		}
		if ok, err := cached(path); err != nil || ok {
			return nil, ok, err
		}
	}
}

func (s *Store) download(ctx context.Context, key domain.PartitionKey, path string) (err error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()
	src := s.URL(key)
	ctx, span := s.tracer.Start(ctx, "partition.fetch", trace.WithAttributes(attribute.String("url", src)))
	defer span.End()

	start := time.Now()
	result := "ok"
	defer func() {
		fetchTotal.WithLabelValues(result).Inc()
		fetchDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
		}
	}()

	s.logger.Info("downloading partition", zap.String("partition", key.String()), zap.String("url", src))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		result = "transport"
		return &domain.FetchError{URL: src, Err: err}
	}
	resp, err := s.client.Do(req)
	if err != nil {
		result = "transport"
		return &domain.FetchError{URL: src, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		result = "status"
		s.logger.Error("partition download rejected", zap.String("url", src), zap.Int("status", resp.StatusCode))
		return &domain.FetchError{URL: src, StatusCode: resp.StatusCode}
	}

	tmp := filepath.Join(s.dir, "."+filepath.Base(path)+"."+uuid.NewString()+".part")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		result = "io"
		return fmt.Errorf("%w: create temp file: %v", domain.ErrIO, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	written, err := io.Copy(f, resp.Body)
	if err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			result = "io"
			return fmt.Errorf("%w: write partition: %v", domain.ErrIO, err)
		}
		result = "transport"
		return &domain.FetchError{URL: src, Err: err}
	}
	if resp.ContentLength >= 0 && written != resp.ContentLength {
		result = "transport"
		return &domain.FetchError{URL: src, Err: fmt.Errorf("short body: got %d of %d bytes", written, resp.ContentLength)}
	}
	if written == 0 {
		result = "transport"
		return &domain.FetchError{URL: src, Err: errors.New("empty body")}
	}
	if err := f.Sync(); err != nil {
		result = "io"
		return fmt.Errorf("%w: sync partition: %v", domain.ErrIO, err)
	}
	if err := f.Close(); err != nil {
		result = "io"
		return fmt.Errorf("%w: close partition: %v", domain.ErrIO, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		result = "io"
		return fmt.Errorf("%w: commit partition: %v", domain.ErrIO, err)
	}
	committed = true
	fetchBytes.Add(float64(written))

	s.logger.Info("partition downloaded",
		zap.String("partition", key.String()),
		zap.Int64("bytes", written),
		zap.Duration("took", time.Since(start)),
	)
	if s.events != nil {
		event := domain.PartitionEvent{
			Type:      domain.EventPartitionFetched,
			Partition: key.String(),
			SourceURL: src,
			Bytes:     written,
			FetchedAt: s.clock.Now(),
		}
		if err := s.events.Publish(ctx, event); err != nil {
			s.logger.Warn("publish partition event", zap.String("partition", key.String()), zap.Error(err))
		}
	}
	return nil
}

// cached reports whether a non-empty regular file exists at path.
func cached(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: stat partition: %v", domain.ErrIO, err)
	}
	return info.Mode().IsRegular() && info.Size() > 0, nil
}
