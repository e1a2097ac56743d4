package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/script-studio/internal/api/handler"
	"github.com/cuongbtq/script-studio/internal/api/router"
	"github.com/cuongbtq/script-studio/internal/api/service"
	"github.com/cuongbtq/script-studio/internal/api/storage"
	"github.com/cuongbtq/script-studio/internal/config"
	"github.com/cuongbtq/script-studio/internal/job/backend"
	"github.com/cuongbtq/script-studio/internal/job/poller"
	"github.com/cuongbtq/script-studio/internal/tracker"
	"github.com/cuongbtq/script-studio/shared/logger"
	"github.com/cuongbtq/script-studio/shared/postgresql"
	"github.com/cuongbtq/script-studio/shared/rabbitmq"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service.yaml"
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
		slog.String("backend", cfg.Backend.BaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbClient, err := initPostgreSQL(ctx, &cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	if cfg.Database.Migrate {
		if err := dbClient.Migrate(ctx, storage.Migrations, storage.MigrationsDir); err != nil {
			return err
		}
	}

	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	backendClient, err := backend.NewClient(&backend.Config{
		BaseURL: cfg.Backend.BaseURL,
		Timeout: cfg.Backend.RequestTimeout,
		Logger:  appLogger.Logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize backend client: %w", err)
	}

	sessions, err := poller.New(poller.Config{
		Fetcher: backendClient,
		Policy: poller.Policy{
			Interval:             cfg.Poller.Interval,
			RetryDelay:           cfg.Poller.RetryDelay,
			MaxTransientFailures: cfg.Poller.MaxTransientFailures,
		},
		Logger:        appLogger.Logger,
		AnnounceStart: cfg.Poller.AnnounceStart,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize poller: %w", err)
	}

	runStore := storage.NewStorage(dbClient)
	runTracker := tracker.New(tracker.Config{
		Store:     runStore,
		Publisher: rabbitClient,
		Logger:    appLogger.Logger,
	})
	runService := service.NewRunService(backendClient, sessions, runStore, runTracker, appLogger.Logger)

	if _, err := runService.Resume(ctx); err != nil {
		appLogger.Error("Failed to resume running jobs", slog.Any("error", err))
	}

	r := initRouter(cfg, &handler.Dependencies{
		ServiceName: cfg.App.Name,
		Logger:      appLogger.Logger,
		Runs:        runService,
		Polling:     sessions,
		Database:    dbClient,
		Broker:      rabbitClient,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		appLogger.Info("Starting HTTP server", slog.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		stopPolling(sessions, appLogger.Logger)
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	appLogger.Info("Shutting down server...")

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := shutdown(shutdownCtx, srv, sessions, appLogger.Logger); err != nil {
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

type httpServer interface {
	Shutdown(ctx context.Context) error
}

type pollingStopper interface {
	Stop() []string
}

// shutdown drains the HTTP server, then halts polling. Polling is halted
// even when the server did not drain in time.
func shutdown(ctx context.Context, srv httpServer, sessions pollingStopper, logger *slog.Logger) error {
	err := srv.Shutdown(ctx)
	if err != nil {
		logger.Error("Server forced to shutdown", slog.Any("error", err))
	}
	stopPolling(sessions, logger)
	return err
}

// stopPolling halts sessions without outcomes. Runs left RUNNING are picked
// up again by Resume on the next start.
func stopPolling(sessions pollingStopper, logger *slog.Logger) {
	halted := sessions.Stop()
	logger.Info("Polling stopped", slog.Int("running_jobs", len(halted)))
}

func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

func initPostgreSQL(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(ctx, &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, logger)
}

func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}, logger)
}

func initRouter(cfg *config.Config, deps *handler.Dependencies) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	return router.SetupRouter(deps)
}
