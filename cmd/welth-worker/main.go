package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"welth/internal/amqp"
	"welth/internal/config"
	applog "welth/internal/log"
	"welth/internal/services"
	"welth/internal/storage"
	"welth/internal/throttle"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.Config{
		Level:     slog.LevelInfo,
		Component: "welth-worker",
	})
	applog.SetDefault(logger)

	logger.Info("Starting welth-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required, the worker only consumes queued work")
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	limiter := throttle.NewLimiter(cfg.MaxPerUserPerMinute)
	defer limiter.Stop()

	processor := services.NewRecurringProcessor(repo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The per-user cap is enforced here, at consumption time, so a burst of
	// due templates for one user drains at a bounded rate while other users'
	// work keeps flowing.
	handler := func(ctx context.Context, msg *amqp.RecurringWorkMessage) error {
		if err := limiter.Wait(ctx, msg.UserID); err != nil {
			return err
		}
		return processor.Process(ctx, msg.TransactionID)
	}

	retry := amqp.RetryPolicy{
		MaxAttempts: cfg.MaxRetryAttempts,
		BackoffBase: cfg.BackoffBase,
	}

	logger.Info("Worker configured",
		"queue", cfg.AMQPQueue,
		"per_user_per_minute", cfg.MaxPerUserPerMinute,
		"max_retry_attempts", cfg.MaxRetryAttempts)

	consumeErr := make(chan error, 1)
	go func() {
		consumeErr <- amqpClient.ConsumeRecurringWork(ctx, retry, handler)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
		cancel()
		<-consumeErr
	case err := <-consumeErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Consumer stopped unexpectedly", "error", err)
			os.Exit(1)
		}
	}

	logger.Info("welth-worker shutdown complete")
}
