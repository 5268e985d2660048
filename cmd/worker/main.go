/**
 * PDF Extraction Worker - Main Entry Point
 *
 * Pulls PDF jobs from a Redis list, extracts per-page text and hands the
 * ordered pages to the chunking stage.
 *
 * Architecture:
 * - Redis LIST consumer (BullMQ-compatible job records)
 * - Extraction policy: cloud OCR for every document, or primary text
 *   extraction with local Tesseract OCR when too little text comes back
 * - PostgreSQL persistence for job status and extraction results (optional)
 * - Asynq handoff of page segments to the chunking queue (optional)
 */

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/adverant/nexus/pdfextract-worker/internal/config"
	"github.com/adverant/nexus/pdfextract-worker/internal/logging"
	"github.com/adverant/nexus/pdfextract-worker/internal/processor"
	"github.com/adverant/nexus/pdfextract-worker/internal/queue"
	"github.com/adverant/nexus/pdfextract-worker/internal/storage"
)

func main() {
	logger := logging.NewLogger("main")

	// Load environment variables
	if err := godotenv.Load(".env.nexus"); err != nil {
		logger.Warn("Warning: .env.nexus not found, using system environment variables")
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logging.SetLevel(cfg.LogLevel)

	logger.Info("PDF Extraction Worker starting...",
		"redis", cfg.RedisURL,
		"queue", cfg.QueueName,
		"ocrMode", cfg.OCRMode,
		"workers", cfg.WorkerConcurrency)

	// Initialize PostgreSQL (optional)
	var db *storage.PostgresClient
	var store processor.ResultStore
	if cfg.DatabaseURL != "" {
		logger.Info("Connecting to PostgreSQL...")
		db, err = storage.NewPostgresClient(cfg.DatabaseURL)
		if err != nil {
			logger.Error("Failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = db.EnsureSchema(ctx)
		cancel()
		if err != nil {
			logger.Error("Failed to ensure database schema", "error", err)
			os.Exit(1)
		}
		store = db
		logger.Info("PostgreSQL initialized")
	} else {
		logger.Warn("WARNING: DATABASE_URL not set, extraction results will not be persisted")
	}

	// Initialize extraction policy
	policy, err := processor.NewPolicyFromConfig(cfg)
	if err != nil {
		logger.Error("Failed to initialize extraction policy", "error", err)
		os.Exit(1)
	}
	logger.Info("Extraction policy initialized", "mode", policy.Mode(), "threshold", cfg.OCRMinTextThreshold)

	// Initialize chunking handoff (optional)
	var handoff processor.Handoff
	var publisher *queue.HandoffPublisher
	if cfg.HandoffQueue != "" {
		publisher, err = queue.NewHandoffPublisher(&queue.HandoffConfig{
			RedisURL:  cfg.RedisURL,
			QueueName: cfg.HandoffQueue,
		})
		if err != nil {
			logger.Error("Failed to initialize handoff publisher", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		handoff = publisher
		logger.Info("Handoff publisher initialized", "queue", cfg.HandoffQueue)
	}

	// Initialize document processor
	proc, err := processor.NewDocumentProcessor(&processor.ProcessorConfig{
		Extractor:   policy,
		Store:       store,
		Handoff:     handoff,
		TempDir:     cfg.TempDir,
		MaxFileSize: cfg.MaxFileSize,
	})
	if err != nil {
		logger.Error("Failed to initialize document processor", "error", err)
		os.Exit(1)
	}

	// Initialize queue consumer
	logger.Info("Connecting to Redis queue...", "backend", cfg.QueueBackend)
	queueConsumer, err := newIntake(cfg, proc)
	if err != nil {
		logger.Error("Failed to initialize queue consumer", "error", err)
		os.Exit(1)
	}

	if err := queueConsumer.Start(); err != nil {
		logger.Error("Failed to start queue consumer", "error", err)
		os.Exit(1)
	}

	logger.Info("===========================================")
	logger.Info("PDF Extraction Worker is READY")
	logger.Info("===========================================")
	logger.Info("Waiting for jobs...", "queue", cfg.QueueName, "workers", cfg.WorkerConcurrency)

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received signal, initiating graceful shutdown...", "signal", sig.String())

	if err := queueConsumer.Stop(); err != nil {
		logger.Error("Error stopping queue consumer", "error", err)
	} else {
		logger.Info("Queue consumer stopped successfully")
	}

	if db != nil {
		stats := db.GetStats()
		logger.Info("Closing PostgreSQL", "openConnections", stats.OpenConnections, "inUse", stats.InUse)
	}

	logger.Info("Shutdown complete")
}

// intake is a running job source
type intake interface {
	Start() error
	Stop() error
}

func newIntake(cfg *config.Config, proc processor.DocumentProcessorInterface) (intake, error) {
	if cfg.QueueBackend == config.QueueBackendAsynq {
		return queue.NewConsumer(&queue.ConsumerConfig{
			RedisURL:          cfg.RedisURL,
			QueueName:         cfg.QueueName,
			Concurrency:       cfg.WorkerConcurrency,
			Processor:         proc,
			ProcessingTimeout: int64(cfg.ProcessingTimeout),
		})
	}

	return queue.NewRedisConsumer(&queue.RedisConsumerConfig{
		RedisURL:          cfg.RedisURL,
		QueueName:         cfg.QueueName,
		Concurrency:       cfg.WorkerConcurrency,
		Processor:         proc,
		ProcessingTimeout: int64(cfg.ProcessingTimeout),
	})
}
