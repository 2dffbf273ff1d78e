// Package main wires together the scrape orchestrator service.
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

	"go.uber.org/zap"

	"github.com/leadharvest/orchestrator/internal/api"
	"github.com/leadharvest/orchestrator/internal/clock/system"
	"github.com/leadharvest/orchestrator/internal/config"
	"github.com/leadharvest/orchestrator/internal/dispatcher"
	"github.com/leadharvest/orchestrator/internal/executor"
	"github.com/leadharvest/orchestrator/internal/id/uuid"
	"github.com/leadharvest/orchestrator/internal/logging"
	"github.com/leadharvest/orchestrator/internal/pool"
	"github.com/leadharvest/orchestrator/internal/progress"
	"github.com/leadharvest/orchestrator/internal/progress/sinks"
	pubsubpublisher "github.com/leadharvest/orchestrator/internal/publisher/pubsub"
	queuememory "github.com/leadharvest/orchestrator/internal/queue/memory"
	registrymemory "github.com/leadharvest/orchestrator/internal/registry/memory"
	registrypostgres "github.com/leadharvest/orchestrator/internal/registry/postgres"
	resultsmemory "github.com/leadharvest/orchestrator/internal/results/memory"
	resultspostgres "github.com/leadharvest/orchestrator/internal/results/postgres"
	"github.com/leadharvest/orchestrator/internal/scrape"
	"github.com/leadharvest/orchestrator/internal/sweeper"
	"github.com/leadharvest/orchestrator/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.NewWithLevel(cfg.Logging.Development, cfg.Logging.Level)
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

	clock := system.New()
	idGen := uuid.New()

	var (
		registry    scrape.Registry
		resultStore scrape.ResultStore
	)
	if cfg.DB.DSN != "" {
		pgRegistry, err := registrypostgres.NewRegistry(ctx, registrypostgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: int32(cfg.DB.MaxConns),
			MinConns: int32(cfg.DB.MinConns),
		})
		if err != nil {
			logger.Fatal("postgres registry init failed", zap.Error(err))
		}
		if err := pgRegistry.Migrate(ctx); err != nil {
			logger.Fatal("registry migration failed", zap.Error(err))
		}
		pgResults, err := resultspostgres.NewStore(ctx, cfg.DB.DSN)
		if err != nil {
			logger.Fatal("postgres result store init failed", zap.Error(err))
		}
		if err := pgResults.Migrate(ctx); err != nil {
			logger.Fatal("result store migration failed", zap.Error(err))
		}
		registry = pgRegistry
		resultStore = pgResults
		logger.Info("using postgres stores")
	} else {
		registry = registrymemory.NewRegistry()
		resultStore = resultsmemory.NewStore()
		logger.Info("using in-memory stores")
	}

	queue := queuememory.NewQueue(clock)
	coordinator := pool.NewCoordinator(cfg.HeartbeatInterval(), clock)
	disp := dispatcher.New(queue, nil)

	promSink, err := sinks.NewPrometheusSink(nil)
	if err != nil {
		logger.Fatal("prometheus sink init failed", zap.Error(err))
	}
	eventSink := sinks.NewSubscriberSink(0)
	hubSinks := []progress.Sink{
		sinks.NewRegistrySink(registry, logger.Named("progress")),
		sinks.NewLogSink(logger.Named("progress")),
		promSink,
		eventSink,
	}
	if cfg.PubSub.ProjectID != "" {
		publisher, err := pubsubpublisher.Connect(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("pubsub connect failed", zap.Error(err))
		}
		defer func() {
			if closeErr := publisher.Close(); closeErr != nil {
				logger.Warn("pubsub close failed", zap.Error(closeErr))
			}
		}()
		hubSinks = append(hubSinks,
			sinks.NewPublisherSink(publisher, cfg.PubSub.TopicName, logger.Named("publisher")))
		logger.Info("publishing terminal notifications",
			zap.String("topic", cfg.PubSub.TopicName))
	}
	hub := progress.NewHub(progress.Config{}, hubSinks...)

	engine := executor.NewSimulator(hub, resultStore, registry, clock, 0, 0)
	workerCfg := worker.Config{
		PollInterval: cfg.PollInterval(),
		Heartbeat:    cfg.HeartbeatInterval(),
	}
	for i := 0; i < cfg.Worker.ScrapeWorkers; i++ {
		wc := workerCfg
		wc.WorkerID = fmt.Sprintf("scrape-%d", i)
		disp.Attach(worker.NewScrapeWorker(
			wc, disp, registry, engine, hub, coordinator,
			logger.Named("worker"),
		))
	}
	for i := 0; i < cfg.Worker.OpsWorkers; i++ {
		wc := workerCfg
		wc.WorkerID = fmt.Sprintf("ops-%d", i)
		disp.Attach(worker.NewOpsWorker(
			wc, disp, executor.NewMaintenance(), coordinator,
			logger.Named("worker"),
		))
	}

	sweep := sweeper.New(sweeper.Config{
		StaleThreshold: cfg.StaleThreshold(),
		MaxAttempts:    cfg.Sweeper.MaxAttempts,
		Interval:       cfg.SweepInterval(),
	}, registry, queue, clock, logger.Named("sweeper"))
	sweep.Start(ctx)

	apiServer := api.NewServer(
		registry, resultStore, disp, queue, coordinator, sweep, eventSink,
		idGen, clock, cfg, logger.Named("api"),
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatcher started",
			zap.Int("scrape_workers", cfg.Worker.ScrapeWorkers),
			zap.Int("ops_workers", cfg.Worker.OpsWorkers))
		disp.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second,
	)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Error("progress hub close error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
