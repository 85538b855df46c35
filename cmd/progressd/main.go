// Package main wires together the progress pipeline service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/opencourse/progress-engine/internal/aggregator"
	"github.com/opencourse/progress-engine/internal/api"
	"github.com/opencourse/progress-engine/internal/clock/system"
	"github.com/opencourse/progress-engine/internal/config"
	"github.com/opencourse/progress-engine/internal/dispatcher"
	"github.com/opencourse/progress-engine/internal/logging"
	"github.com/opencourse/progress-engine/internal/metrics"
	"github.com/opencourse/progress-engine/internal/processor"
	"github.com/opencourse/progress-engine/internal/progress"
	pubsubPublisher "github.com/opencourse/progress-engine/internal/publisher/pubsub"
	"github.com/opencourse/progress-engine/internal/store"
	memoryStorage "github.com/opencourse/progress-engine/internal/storage/memory"
	"github.com/opencourse/progress-engine/internal/storage/postgres"
	"github.com/opencourse/progress-engine/internal/sweeper"
	"github.com/opencourse/progress-engine/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	recordStore, closeStore, err := buildRecordStore(ctx, cfg)
	if err != nil {
		logger.Fatal("record store init failed", zap.Error(err))
	}
	defer closeStore()

	catalog, closeCatalog, err := buildCatalog(ctx, cfg)
	if err != nil {
		logger.Fatal("catalog init failed", zap.Error(err))
	}
	defer closeCatalog()

	publisher, closePublisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal("publisher init failed", zap.Error(err))
	}
	defer closePublisher()

	clock := system.New()
	procCfg := processor.Config{
		MinProgressDelta:  cfg.Suppression.MinProgressDelta,
		MinTimeSpentDelta: int64(cfg.Suppression.MinTimeSpentSeconds),
	}

	var workers []*worker.Worker
	for i := 0; i < cfg.Pipeline.Workers; i++ {
		agg := aggregator.New(
			recordStore,
			catalog,
			publisher,
			cfg.PubSub.TopicName,
			clock,
			logger.Named("aggregator").With(zap.Int("index", i)),
		)
		proc := processor.New(recordStore, agg, procCfg, logger.Named("processor").With(zap.Int("index", i)))
		sweep := sweeper.New(recordStore, clock, logger.Named("sweeper").With(zap.Int("index", i)))
		workers = append(workers, worker.New(proc, sweep, logger.Named("worker").With(zap.Int("index", i))))
	}

	dispatch := dispatcher.New(dispatcher.Config{
		MaxBatchEvents: cfg.Pipeline.MaxBatchEvents,
		MaxBatchWait:   cfg.BatchWait(),
		BufferSize:     cfg.Pipeline.BufferSize,
		QueueDepth:     cfg.Pipeline.QueueDepth,
		BaseContext:    context.Background(),
		Logger:         logger.Named("dispatcher"),
	}, workers)

	var sched *sweeper.Scheduler
	if cfg.Sweeper.Enabled {
		sched = sweeper.NewScheduler(dispatch, cfg.SweepInterval(), cfg.Retention(), logger.Named("schedule"))
		if err := sched.Start(); err != nil {
			logger.Fatal("cleanup schedule start failed", zap.Error(err))
		}
	}

	apiServer := api.NewServer(dispatch, recordStore, cfg, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if sched != nil {
		sched.Stop()
	}
	if err := dispatch.Close(shutdownCtx); err != nil {
		logger.Error("dispatcher close error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func buildRecordStore(ctx context.Context, cfg config.Config) (store.RecordStore, func(), error) {
	switch cfg.Store.Provider {
	case "postgres":
		st, err := postgres.NewRecordStore(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	case "memory":
		return memoryStorage.NewRecordStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store provider: %s", cfg.Store.Provider)
	}
}

func buildCatalog(ctx context.Context, cfg config.Config) (store.Catalog, func(), error) {
	switch cfg.Catalog.Provider {
	case "postgres":
		cat, err := postgres.NewCatalog(ctx, cfg.CatalogDSN())
		if err != nil {
			return nil, nil, err
		}
		return cat, cat.Close, nil
	case "memory":
		return memoryStorage.NewCatalog(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown catalog provider: %s", cfg.Catalog.Provider)
	}
}

// buildPublisher returns a nil publisher when Pub/Sub is not configured;
// the aggregator treats nil as notifications disabled.
func buildPublisher(ctx context.Context, cfg config.Config) (progress.Publisher, func(), error) {
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.TopicName == "" {
		return nil, func() {}, nil
	}
	client, err := gcppubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(cfg.PubSub.TopicName)
	closeFn := func() {
		topic.Stop()
		if err := client.Close(); err != nil {
			zap.L().Warn("pubsub client close failed", zap.Error(err))
		}
	}
	return pubsubPublisher.New(topic), closeFn, nil
}
