package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/opportunity-pipeline/internal/config"
	"github.com/cuongbtq/opportunity-pipeline/internal/inference"
	"github.com/cuongbtq/opportunity-pipeline/internal/jobqueue"
	"github.com/cuongbtq/opportunity-pipeline/internal/orchestrator"
	"github.com/cuongbtq/opportunity-pipeline/internal/stage"
	"github.com/cuongbtq/opportunity-pipeline/internal/storage/postgres"
	"github.com/cuongbtq/opportunity-pipeline/internal/telemetry"
	"github.com/cuongbtq/opportunity-pipeline/internal/worker"
	"github.com/cuongbtq/opportunity-pipeline/shared/logger"
	"github.com/cuongbtq/opportunity-pipeline/shared/postgresql"
	"github.com/cuongbtq/opportunity-pipeline/shared/rabbitmq"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		logger.NewDefault().Info("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	workerID := cfg.Worker.ID
	if workerID == "" {
		workerID = defaultWorkerID()
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("worker_id", workerID),
	)

	dbClient, err := postgresql.NewClient(cfg.PostgreSQL(), appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	appLogger.Info("Database connection established", dbClient.Stats()...)

	store := postgres.NewStore(dbClient.GetDB(), appLogger.Logger)
	if cfg.Database.AutoMigrate {
		if err := store.Migrate(context.Background()); err != nil {
			dbClient.Close()
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	rabbitClient, err := rabbitmq.NewClient(cfg.RabbitMQClient(), appLogger.Logger)
	if err != nil {
		dbClient.Close()
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	appLogger.Info("RabbitMQ connection established")

	cleanup := func() {
		if dbClient != nil {
			dbClient.Close()
		}
		if rabbitClient != nil {
			rabbitClient.Close()
		}
	}

	meterProvider := telemetry.NewProvider(cfg.TelemetryProvider("worker-service", appLogger.Logger))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := meterProvider.Shutdown(ctx); err != nil {
			appLogger.Warn("Failed to shut down meter provider", slog.Any("error", err))
		}
	}()

	orch, err := initOrchestrator(cfg, store, jobqueue.NewPublisher(rabbitClient, appLogger.Logger), meterProvider.Metrics(), appLogger.Logger)
	if err != nil {
		cleanup()
		return fmt.Errorf("failed to initialize orchestrator: %w", err)
	}

	workerInstance := worker.NewWorker(&worker.Config{
		Logger:            appLogger.Logger,
		Consumer:          rabbitClient,
		Runner:            orch,
		Store:             store,
		WorkerID:          workerID,
		Concurrency:       cfg.Worker.Concurrency,
		PrefetchCount:     cfg.RabbitMQ.Consumer.PrefetchCount,
		JobTimeout:        cfg.Worker.JobTimeout,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		SweepInterval:     cfg.Worker.SweepInterval,
		RedispatchAfter:   cfg.Worker.RedispatchAfter,
		StaleAfter:        cfg.Worker.StaleAfter,
		SweepBatchSize:    cfg.Worker.SweepBatchSize,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go rabbitClient.RunChannelCleanup(ctx, cfg.RabbitMQ.ChannelPool.CleanupInterval)

	errChan := make(chan error, 1)
	go func() {
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully",
		slog.Any("stages", orch.Stages()),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Worker error",
			slog.Any("error", err),
		)
		cleanup()
		return err
	}

	// Stop taking new deliveries; running jobs finish on their own deadline
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	cleanup()

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// initOrchestrator builds the stage registry and the orchestrator on top of it
func initOrchestrator(cfg *config.Config, store *postgres.Store, dispatcher orchestrator.Dispatcher, metrics *telemetry.Metrics, logger *slog.Logger) (*orchestrator.Orchestrator, error) {
	client := inference.NewClient(cfg.InferenceClient())

	enrichment, err := stage.NewEnrichment(client)
	if err != nil {
		return nil, err
	}

	stages, err := stage.NewRegistry(enrichment, stage.NewEmbedding(client))
	if err != nil {
		return nil, err
	}

	return orchestrator.New(store, stages, dispatcher, cfg.OrchestratorConfig(),
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(metrics),
	), nil
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
