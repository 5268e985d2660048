/**
 * Asynq Consumer for the PDF Extraction Worker
 *
 * Alternative intake for deployments that submit jobs as Asynq tasks
 * (QUEUE_BACKEND=asynq) instead of BullMQ-style Redis lists.
 * Task type pdf:extract carries the same JSON payload as a list job.
 */

package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/pdfextract-worker/internal/errors"
	"github.com/adverant/nexus/pdfextract-worker/internal/logging"
	"github.com/adverant/nexus/pdfextract-worker/internal/processor"
)

// TaskTypeExtractPDF is the Asynq task type handled by the consumer
const TaskTypeExtractPDF = "pdf:extract"

// Consumer handles Asynq task consumption
type Consumer struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor processor.DocumentProcessorInterface
	config    *ConsumerConfig
	logger    *logging.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.DocumentProcessorInterface
	ProcessingTimeout int64 // milliseconds (default: 300000 = 5 minutes)
}

// NewConsumer creates a new Asynq consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	consumer := newConsumer(cfg)
	logger := consumer.logger

	consumer.server = asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			RetryDelayFunc: retryDelay,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task processing error", "type", task.Type(), "error", err)
			}),
			Logger: logger.Entry(),
		},
	)

	return consumer, nil
}

func newConsumer(cfg *ConsumerConfig) *Consumer {
	consumer := &Consumer{
		mux:       asynq.NewServeMux(),
		processor: cfg.Processor,
		config:    cfg,
		logger:    logging.NewLogger("asynq-consumer"),
	}
	consumer.mux.HandleFunc(TaskTypeExtractPDF, consumer.handleExtractPDF)
	return consumer
}

// retryDelay backs off 5s, 10s, 20s... capped at one minute
func retryDelay(n int, err error, task *asynq.Task) time.Duration {
	delay := time.Duration(5*(1<<uint(n))) * time.Second
	if delay > 60*time.Second || delay <= 0 {
		delay = 60 * time.Second
	}
	return delay
}

// Start runs the Asynq server in the background
func (c *Consumer) Start() error {
	c.logger.Info("Starting Asynq consumer", "concurrency", c.config.Concurrency, "queue", c.config.QueueName)
	return c.server.Start(c.mux)
}

// Stop waits for in-flight tasks and shuts the server down
func (c *Consumer) Stop() error {
	c.logger.Info("Stopping Asynq consumer...")
	c.server.Shutdown()
	return nil
}

// handleExtractPDF processes one pdf:extract task
func (c *Consumer) handleExtractPDF(ctx context.Context, task *asynq.Task) error {
	startTime := time.Now()

	var payload JobPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal job data: %w: %w", err, asynq.SkipRetry)
	}
	if payload.JobID == "" {
		if id, ok := asynq.GetTaskID(ctx); ok {
			payload.JobID = id
		}
	}

	log := c.logger.With("jobId", payload.JobID)
	log.Info("Processing document", "filename", payload.Filename, "size", payload.FileSize)

	if err := c.processor.UpdateJobStatus(ctx, payload.JobID, "processing", 0, nil); err != nil {
		log.Warn("Failed to update status to processing", "error", err)
	}

	timeout := time.Duration(300000) * time.Millisecond
	if c.config.ProcessingTimeout > 0 {
		timeout = time.Duration(c.config.ProcessingTimeout) * time.Millisecond
	}

	processCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := c.processor.ProcessDocument(processCtx, payload.ToProcessRequest())

	duration := time.Since(startTime)

	if err != nil {
		if processCtx.Err() == context.DeadlineExceeded {
			err = errors.NewProcessingTimeoutError(payload.JobID, timeout, err)
		}
		log.Error("Processing failed", "duration", duration.String(), "error", err)

		failure := map[string]interface{}{
			"error":          err.Error(),
			"processingTime": duration.Milliseconds(),
		}
		var pe *errors.ProcessingError
		if stderrors.As(err, &pe) {
			failure["error_code"] = string(pe.Code)
		}
		if updateErr := c.processor.UpdateJobStatus(context.WithoutCancel(ctx), payload.JobID, "failed", 100, failure); updateErr != nil {
			log.Warn("Failed to update status to failed", "error", updateErr)
		}

		if !isRetryable(err) {
			return fmt.Errorf("document processing failed: %w: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("document processing failed: %w", err)
	}

	status := "completed"
	if result.Failed {
		status = "failed"
	}
	if err := c.processor.UpdateJobStatus(ctx, payload.JobID, status, 100, statusMetadata(result)); err != nil {
		log.Warn("Failed to update final status", "status", status, "error", err)
	}

	log.Info("Processing finished", "status", status, "method", result.Method, "pages", result.PageCount, "duration", duration.String())
	return nil
}

// GetStatistics returns consumer statistics
func (c *Consumer) GetStatistics() map[string]interface{} {
	return map[string]interface{}{
		"concurrency": c.config.Concurrency,
		"queue":       c.config.QueueName,
		"taskType":    TaskTypeExtractPDF,
	}
}
