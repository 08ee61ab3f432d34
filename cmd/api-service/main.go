package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/opportunity-pipeline/internal/api/handler"
	"github.com/cuongbtq/opportunity-pipeline/internal/api/router"
	"github.com/cuongbtq/opportunity-pipeline/internal/config"
	"github.com/cuongbtq/opportunity-pipeline/internal/inference"
	"github.com/cuongbtq/opportunity-pipeline/internal/jobqueue"
	"github.com/cuongbtq/opportunity-pipeline/internal/orchestrator"
	"github.com/cuongbtq/opportunity-pipeline/internal/stage"
	"github.com/cuongbtq/opportunity-pipeline/internal/storage/postgres"
	"github.com/cuongbtq/opportunity-pipeline/internal/telemetry"
	"github.com/cuongbtq/opportunity-pipeline/shared/logger"
	"github.com/cuongbtq/opportunity-pipeline/shared/postgresql"
	"github.com/cuongbtq/opportunity-pipeline/shared/rabbitmq"
	"github.com/cuongbtq/opportunity-pipeline/shared/ratelimit"
	"github.com/gin-gonic/gin"
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

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := postgresql.NewClient(cfg.PostgreSQL(), appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established", dbClient.Stats()...)

	store := postgres.NewStore(dbClient.GetDB(), appLogger.Logger)
	if cfg.Database.AutoMigrate {
		if err := store.Migrate(context.Background()); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	rabbitClient, err := rabbitmq.NewClient(cfg.RabbitMQClient(), appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	meterProvider := telemetry.NewProvider(cfg.TelemetryProvider("api-service", appLogger.Logger))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := meterProvider.Shutdown(ctx); err != nil {
			appLogger.Warn("Failed to shut down meter provider", slog.Any("error", err))
		}
	}()

	orch, err := initOrchestrator(cfg, store, jobqueue.NewPublisher(rabbitClient, appLogger.Logger), meterProvider.Metrics(), appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize orchestrator: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	limiter := ratelimit.New(cfg.RateLimiter())
	go purgeLimiter(ctx, limiter, cfg.RateLimit.PurgeInterval)
	go rabbitClient.RunChannelCleanup(ctx, cfg.RabbitMQ.ChannelPool.CleanupInterval)

	r := initRouter(cfg.App.Environment, &handler.Dependencies{
		Logger:      appLogger.Logger,
		ServiceName: cfg.App.Name,
		Jobs:        orch,
		Limiter:     limiter,
		HealthCheck: dbClient.HealthCheck,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
		slog.Any("stages", orch.Stages()),
	)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down server",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Server failed to start",
			slog.Any("error", err),
		)
		return err
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
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

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, deps *handler.Dependencies) *gin.Engine {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps)
}

// purgeLimiter drops expired rate limit windows until ctx is canceled
func purgeLimiter(ctx context.Context, limiter *ratelimit.Limiter, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Purge()
		}
	}
}
