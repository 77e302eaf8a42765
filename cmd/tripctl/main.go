package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/tripquery/internal/config"
	"github.com/example/tripquery/internal/trip/domain"
	"github.com/example/tripquery/internal/trip/scan"
	tripservice "github.com/example/tripquery/internal/trip/service"
	"github.com/example/tripquery/internal/trip/store"
	"github.com/example/tripquery/internal/trip/synthetic"
	"github.com/example/tripquery/pkg/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type globals struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "tripctl",
		Short:         "Fetch, query and generate NYC taxi trips",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "optional config file")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "log to stderr")

	var month string
	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download a monthly partition into the cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := domain.ParsePartitionKey(month)
			if err != nil {
				return err
			}
			cfg, logger, err := g.load()
			if err != nil {
				return err
			}
			partitions, err := store.New(cfg.StoreConfig(), store.WithLogger(logger.Named("store")))
			if err != nil {
				return err
			}
			path, err := partitions.EnsureLocal(cmd.Context(), key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	fetchCmd.Flags().StringVar(&month, "month", "", "partition to fetch, YYYY-MM")
	_ = fetchCmd.MarkFlagRequired("month")

	var fromMS, n int64
	queryCmd := &cobra.Command{
		Use:   "query",
		Short: "Query trips from the cached dataset, downloading as needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load()
			if err != nil {
				return err
			}
			partitions, err := store.New(cfg.StoreConfig(), store.WithLogger(logger.Named("store")))
			if err != nil {
				return err
			}
			svc := tripservice.New(partitions, scan.NewEngine(logger.Named("scan")), logger.Named("service"), tripservice.Config{
				MaxResults: cfg.MaxResults,
			})
			return printTrips(cmd.Context(), cmd.OutOrStdout(), svc, fromMS, n)
		},
	}
	queryCmd.Flags().Int64Var(&fromMS, "from-ms", 0, "earliest pickup time, ms since the UNIX epoch")
	queryCmd.Flags().Int64Var(&n, "n", 10, "maximum number of trips")
	_ = queryCmd.MarkFlagRequired("from-ms")

	var seed int64
	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate synthetic trips",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, _ := cmd.Flags().GetInt64("from-ms")
			count, _ := cmd.Flags().GetInt64("n")
			gen := synthetic.NewGenerator(nil)
			if cmd.Flags().Changed("seed") {
				gen = synthetic.NewGenerator(rand.NewSource(seed))
			}
			return printTrips(cmd.Context(), cmd.OutOrStdout(), gen, from, count)
		},
	}
	generateCmd.Flags().Int64("from-ms", time.Now().UnixMilli(), "earliest pickup time, ms since the UNIX epoch")
	generateCmd.Flags().Int64("n", 10, "number of trips")
	generateCmd.Flags().Int64Var(&seed, "seed", 0, "random seed for reproducible output")

	root.AddCommand(fetchCmd, queryCmd, generateCmd)
	return root
}

func (g *globals) load() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := zap.NewNop()
	if g.verbose {
		logger = observability.SetupLogger("tripctl", cfg.LogLevel)
	}
	return cfg, logger, nil
}

func printTrips(ctx context.Context, w io.Writer, source domain.TripSource, fromMS, n int64) error {
	trips, err := source.QueryTrips(ctx, fromMS, n)
	if err != nil {
		return err
	}
	if trips == nil {
		trips = []domain.Trip{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{"trips": trips})
}
