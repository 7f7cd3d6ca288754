package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"welth/internal/amqp"
	"welth/internal/config"
	"welth/internal/insights"
	applog "welth/internal/log"
	"welth/internal/notify"
	"welth/internal/services"
	"welth/internal/storage"
	"welth/internal/throttle"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.Config{
		Level:     slog.LevelInfo,
		Component: "welth-scheduler",
	})
	applog.SetDefault(logger)

	logger.Info("Starting welth-scheduler")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Without a broker the dispatcher processes due templates inline, so a
	// missing AMQP setup degrades throughput but never correctness.
	var publisher services.WorkPublisher
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, processing recurring transactions inline", "error", err)
		} else {
			defer amqpClient.Close()
			publisher = amqpClient
			logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	} else {
		logger.Info("AMQP disabled, processing recurring transactions inline")
	}

	var mailer notify.Mailer
	if gm, err := notify.NewGmailMailer(ctx, cfg.MailFrom); err != nil {
		logger.Warn("Failed to initialize Gmail mailer, budget alerts and monthly reports disabled", "error", err)
	} else {
		mailer = gm
	}

	limiter := throttle.NewLimiter(cfg.MaxPerUserPerMinute)
	defer limiter.Stop()

	processor := services.NewRecurringProcessor(repo)
	dispatcher := services.NewDispatcher(repo, publisher, processor, limiter)

	var evaluator *services.BudgetEvaluator
	var reports *services.ReportGenerator
	if mailer != nil {
		evaluator = services.NewBudgetEvaluator(repo, mailer)
		reports = services.NewReportGenerator(repo, insights.NewGenerator(cfg.GeminiModel), mailer, cfg.ReportConcurrency)
	}

	logger.Info("Scheduler configured",
		"dispatch_interval", cfg.DispatchInterval,
		"budget_check_interval", cfg.BudgetCheckInterval,
		"per_user_per_minute", cfg.MaxPerUserPerMinute,
		"sqlite_db", cfg.SQLiteDBPath)

	runDispatch := func() {
		if count, err := dispatcher.DispatchDue(ctx); err != nil {
			logger.Error("Recurring dispatch failed", "error", err)
		} else {
			logger.Info("Recurring dispatch finished", "dispatched", count)
		}
	}

	runBudgetCheck := func() {
		if evaluator == nil {
			return
		}
		if count, err := evaluator.EvaluateAll(ctx); err != nil {
			logger.Error("Budget evaluation failed", "error", err)
		} else if count > 0 {
			logger.Info("Budget alerts delivered", "alerts", count)
		}
	}

	// Reports go out on the first of the month; the hourly check plus the
	// month marker makes a restart on the 1st safe from double sends within
	// one process lifetime.
	var lastReportMonth time.Time
	maybeRunReports := func(now time.Time) {
		if reports == nil || now.Day() != 1 {
			return
		}
		month := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		if month.Equal(lastReportMonth) {
			return
		}
		if count, err := reports.GenerateAll(ctx); err != nil {
			logger.Error("Monthly report run failed", "error", err)
		} else {
			lastReportMonth = month
			logger.Info("Monthly reports delivered", "reports", count)
		}
	}

	// Run an initial dispatch on startup to catch work missed while down.
	logger.Info("Running initial recurring dispatch...")
	runDispatch()

	dispatchTicker := time.NewTicker(cfg.DispatchInterval)
	defer dispatchTicker.Stop()
	budgetTicker := time.NewTicker(cfg.BudgetCheckInterval)
	defer budgetTicker.Stop()
	reportTicker := time.NewTicker(time.Hour)
	defer reportTicker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-dispatchTicker.C:
				runDispatch()
			case <-budgetTicker.C:
				runBudgetCheck()
			case now := <-reportTicker.C:
				maybeRunReports(now)
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Shutdown signal received", "signal", sig.String())
	cancel()

	logger.Info("welth-scheduler shutdown complete")
}
