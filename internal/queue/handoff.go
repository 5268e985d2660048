/**
 * Handoff Publisher for the PDF Extraction Worker
 *
 * Passes extracted page text to the chunking/embedding stage as Asynq tasks.
 * One task per document; the job ID doubles as the Asynq task ID so a job
 * that is retried after a successful handoff does not enqueue twice.
 */

package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/pdfextract-worker/internal/logging"
	"github.com/adverant/nexus/pdfextract-worker/internal/processor"
)

// TaskTypeChunkDocument is the Asynq task type consumed by the chunking service
const TaskTypeChunkDocument = "document:chunk"

// ChunkTaskPayload is the body of a document:chunk task
type ChunkTaskPayload struct {
	JobID     string              `json:"jobId"`
	Source    string              `json:"source"`
	Method    processor.Method    `json:"extractionMethod"`
	Segments  []processor.Segment `json:"segments"`
	Warnings  []string            `json:"warnings,omitempty"`
	CreatedAt time.Time           `json:"createdAt"`
}

// TaskEnqueuer is the part of *asynq.Client the publisher uses
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// HandoffConfig holds handoff publisher configuration
type HandoffConfig struct {
	RedisURL  string
	QueueName string
	MaxRetry  int
	Timeout   time.Duration // how long the chunking service may spend on one task
}

// HandoffPublisher enqueues extraction results for downstream chunking
type HandoffPublisher struct {
	client TaskEnqueuer
	config *HandoffConfig
	logger *logging.Logger
}

// NewHandoffPublisher connects an Asynq client to Redis
func NewHandoffPublisher(cfg *HandoffConfig) (*HandoffPublisher, error) {
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	return newHandoffPublisher(asynq.NewClient(redisOpt), cfg), nil
}

func newHandoffPublisher(client TaskEnqueuer, cfg *HandoffConfig) *HandoffPublisher {
	if cfg.QueueName == "" {
		cfg.QueueName = "document-chunking"
	}
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}

	return &HandoffPublisher{
		client: client,
		config: cfg,
		logger: logging.NewLogger("handoff"),
	}
}

// PublishExtraction enqueues the ordered page segments of a successful extraction
func (h *HandoffPublisher) PublishExtraction(ctx context.Context, jobID string, result *processor.ExtractionResult) error {
	if result.Failed() {
		return fmt.Errorf("refusing to hand off failed extraction for job %s", jobID)
	}

	payload, err := json.Marshal(ChunkTaskPayload{
		JobID:     jobID,
		Source:    result.Source,
		Method:    result.Method,
		Segments:  result.Segments(),
		Warnings:  result.Warnings,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal chunk task: %w", err)
	}

	task := asynq.NewTask(TaskTypeChunkDocument, payload)
	info, err := h.client.EnqueueContext(ctx, task,
		asynq.Queue(h.config.QueueName),
		asynq.TaskID(jobID),
		asynq.MaxRetry(h.config.MaxRetry),
		asynq.Timeout(h.config.Timeout),
	)
	if err != nil {
		if stderrors.Is(err, asynq.ErrTaskIDConflict) {
			h.logger.Info("Chunk task already enqueued", "jobId", jobID)
			return nil
		}
		return fmt.Errorf("failed to enqueue chunk task: %w", err)
	}

	h.logger.Info("Chunk task enqueued",
		"jobId", jobID,
		"taskId", info.ID,
		"queue", info.Queue,
		"segments", len(result.Pages))
	return nil
}

// Close releases the Redis connection
func (h *HandoffPublisher) Close() error {
	return h.client.Close()
}
