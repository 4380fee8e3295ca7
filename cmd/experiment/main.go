package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/review-index/internal/experiment"
	"github.com/Adithya-Monish-Kumar-K/review-index/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/review-index/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/review-index/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/review-index/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/review-index/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/review-index/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	name := flag.String("name", "", "experiment name (overrides config)")
	input := flag.String("input", "", "construct input (overrides config)")
	queries := flag.String("queries", "", "comma-separated query words (overrides config)")
	fresh := flag.Bool("fresh", true, "delete the data directory before the run")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(apperrors.ExitCode(err))
	}
	if *name != "" {
		cfg.Experiment.Name = *name
	}
	if *input != "" {
		cfg.Experiment.Input = *input
	}
	if *queries != "" {
		cfg.Experiment.Queries = strings.Split(*queries, ",")
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting experiment",
		"name", cfg.Experiment.Name,
		"mode", cfg.Indexer.Mode,
		"data_dir", cfg.Indexer.DataDir,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *fresh {
		if err := os.RemoveAll(cfg.Indexer.DataDir); err != nil {
			slog.Error("failed to clear data directory", "error", err)
			os.Exit(1)
		}
	}

	var recorder experiment.Recorder = experiment.LogRecorder{}
	if cfg.Postgres.Enabled {
		pg, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			slog.Warn("postgres unavailable, recording to log only", "error", err)
		} else {
			defer pg.Close()
			rec, err := experiment.NewPostgresRecorder(ctx, pg)
			if err != nil {
				slog.Error("failed to prepare run ledger", "error", err)
				os.Exit(1)
			}
			recorder = rec
			slog.Info("recording runs to postgres", "database", cfg.Postgres.Database)
		}
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(prometheus.DefaultRegisterer)
		shutdown := metrics.StartServer(cfg.Metrics.Port, nil)
		defer shutdown(context.Background())
	}

	engine, err := indexer.Open(indexer.Options{Config: cfg.Indexer, Metrics: m})
	if err != nil {
		slog.Error("failed to open index", "error", err)
		os.Exit(apperrors.ExitCode(err))
	}
	runID, err := experiment.NewDriver(engine, cfg.Experiment, recorder).Run(ctx)
	engine.Close()
	if err != nil {
		slog.Error("experiment failed", "run_id", runID, "error", err)
		os.Exit(apperrors.ExitCode(err))
	}
	slog.Info("experiment complete", "run_id", runID)
}
