package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/tripquery/internal/config"
	ratelimit "github.com/example/tripquery/internal/http/middleware"
	"github.com/example/tripquery/internal/trip/domain"
	"github.com/example/tripquery/internal/trip/handler"
	"github.com/example/tripquery/internal/trip/scan"
	tripservice "github.com/example/tripquery/internal/trip/service"
	"github.com/example/tripquery/internal/trip/store"
	"github.com/example/tripquery/internal/trip/synthetic"
	"github.com/example/tripquery/internal/trip/warmer"
	"github.com/example/tripquery/pkg/events"
	"github.com/example/tripquery/pkg/observability"
)

func main() {
	configPath := flag.String("config", "", "optional config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zap.NewExample().Fatal("load config", zap.Error(err))
	}

	logger := observability.SetupLogger("trip-service", cfg.LogLevel)
	defer logger.Sync() //nolint:errcheck

	var traceOut io.Writer
	if cfg.TraceStdout {
		traceOut = os.Stdout
	}
	shutdown, err := observability.SetupTracer(ctx, "trip-service", traceOut)
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background())
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping", zap.Error(err))
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		if conn, err := nats.Connect(cfg.NATSURL, nats.Name("tripservice")); err == nil {
			natsConn = conn
			defer conn.Drain()
		} else {
			logger.Warn("nats connection failed", zap.Error(err))
		}
	}

	source, partitions, err := buildSource(cfg, redisClient, natsConn, logger)
	if err != nil {
		logger.Fatal("build trip source", zap.Error(err))
	}

	if partitions != nil && cfg.WarmMonths > 0 {
		worker := warmer.NewWorker(partitions, domain.SystemClock{}, logger.Named("warmer"), warmer.WorkerConfig{
			Months:       cfg.WarmMonths,
			PollInterval: cfg.WarmInterval,
		})
		go func() {
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("warm-up worker stopped", zap.Error(err))
			}
		}()
	}

	var opts []handler.Option
	if redisClient != nil {
		limiter := ratelimit.NewRateLimiter(redisClient, "trips", ratelimit.RateConfig{
			Rate:  cfg.RateRPS,
			Burst: cfg.RateBurst,
		}, logger.Named("ratelimit"))
		opts = append(opts, handler.WithRateLimit(limiter.Middleware))
	}
	tripHTTP := handler.NewHTTP(source, logger.Named("http"), opts...)

	r := chi.NewRouter()
	r.Mount("/observability", observability.MetricsRouter())
	r.Mount("/", tripHTTP.Router())

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("trip service listening",
			zap.String("addr", srv.Addr),
			zap.String("backend", cfg.Backend),
			zap.Bool("redis", redisClient != nil),
			zap.Bool("nats", natsConn != nil),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func buildSource(cfg config.Config, redisClient *redis.Client, natsConn *nats.Conn, logger *zap.Logger) (domain.TripSource, *store.Store, error) {
	if cfg.Backend == config.BackendSynthetic {
		return tripservice.Observe(config.BackendSynthetic, synthetic.NewGenerator(nil, synthetic.WithMaxResults(cfg.MaxResults))), nil, nil
	}

	opts := []store.Option{
		store.WithLogger(logger.Named("store")),
		store.WithEventPublisher(events.NewPublisher(natsConn, cfg.EventsSubject)),
	}
	if redisClient != nil {
		opts = append(opts, store.WithLocker(store.NewRedisLocker(redisClient, "")))
	}
	partitions, err := store.New(cfg.StoreConfig(), opts...)
	if err != nil {
		return nil, nil, err
	}
	svc := tripservice.New(partitions, scan.NewEngine(logger.Named("scan")), logger.Named("service"), tripservice.Config{
		MaxResults: cfg.MaxResults,
	})
	return tripservice.Observe(config.BackendDataset, svc), partitions, nil
}
