/**
 * Direct Redis Queue Consumer for the PDF Extraction Worker
 *
 * Compatible with the TypeScript RedisQueue implementation used by the API:
 * - job IDs are pushed onto the <queue> LIST
 * - job JSON lives in the <queue>:data HASH
 * - status is tracked in <queue>:processing|completed|failed SETs
 * - status changes are published on <queue>:events
 */

package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/pdfextract-worker/internal/errors"
	"github.com/adverant/nexus/pdfextract-worker/internal/logging"
	"github.com/adverant/nexus/pdfextract-worker/internal/processor"
)

var errNoJobs = stderrors.New("no jobs available")

// RedisJobData represents a job from the Redis queue
type RedisJobData struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Payload    JobPayload `json:"payload"`
	CreatedAt  time.Time  `json:"createdAt"`
	Attempts   int        `json:"attempts"`
	MaxRetries int        `json:"maxRetries"`
}

// JobPayload contains the actual job data
type JobPayload struct {
	JobID      string                 `json:"jobId"`
	Filename   string                 `json:"filename"`
	FileSize   int64                  `json:"fileSize,omitempty"`
	FilePath   string                 `json:"filePath,omitempty"`
	FileURL    string                 `json:"fileUrl,omitempty"`
	FileBuffer []byte                 `json:"-"` // set by UnmarshalJSON
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// UnmarshalJSON handles the two ways the API serialises fileBuffer:
// a base64 string, or a Node.js Buffer object {"type":"Buffer","data":[...]}
func (p *JobPayload) UnmarshalJSON(data []byte) error {
	type Alias JobPayload
	aux := &struct {
		FileBuffer interface{} `json:"fileBuffer,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(p),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal JobPayload: %w", err)
	}

	if aux.FileBuffer == nil {
		return nil
	}

	switch v := aux.FileBuffer.(type) {
	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return fmt.Errorf("failed to decode base64 fileBuffer: %w", err)
		}
		p.FileBuffer = decoded

	case map[string]interface{}:
		bufferType, ok := v["type"].(string)
		if !ok || bufferType != "Buffer" {
			return fmt.Errorf("invalid Buffer object format (missing or incorrect 'type' field)")
		}
		dataArray, ok := v["data"].([]interface{})
		if !ok {
			return fmt.Errorf("Buffer object missing 'data' array")
		}
		p.FileBuffer = make([]byte, len(dataArray))
		for i, val := range dataArray {
			byteVal, ok := val.(float64)
			if !ok || byteVal < 0 || byteVal > 255 {
				return fmt.Errorf("invalid byte value in Buffer data array at index %d", i)
			}
			p.FileBuffer[i] = byte(byteVal)
		}

	default:
		return fmt.Errorf("fileBuffer must be either base64 string or Buffer object, got %T", v)
	}

	return nil
}

// MarshalJSON writes fileBuffer back as base64 so re-queued jobs keep their file
func (p JobPayload) MarshalJSON() ([]byte, error) {
	type Alias JobPayload
	aux := struct {
		FileBuffer string `json:"fileBuffer,omitempty"`
		Alias
	}{
		Alias: Alias(p),
	}
	if len(p.FileBuffer) > 0 {
		aux.FileBuffer = base64.StdEncoding.EncodeToString(p.FileBuffer)
	}
	return json.Marshal(aux)
}

// ToProcessRequest converts the payload to the processor's request type
func (p *JobPayload) ToProcessRequest() *processor.ProcessRequest {
	return &processor.ProcessRequest{
		JobID:      p.JobID,
		Filename:   p.Filename,
		FileSize:   p.FileSize,
		FilePath:   p.FilePath,
		FileURL:    p.FileURL,
		FileBuffer: p.FileBuffer,
		Metadata:   p.Metadata,
	}
}

// RedisConsumer handles job consumption from Redis queue
type RedisConsumer struct {
	client    *redis.Client
	processor processor.DocumentProcessorInterface
	config    *RedisConsumerConfig
	logger    *logging.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// RedisConsumerConfig holds consumer configuration
type RedisConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.DocumentProcessorInterface
	ProcessingTimeout int64 // milliseconds (default: 300000 = 5 minutes)
}

// NewRedisConsumer creates a new Redis-based queue consumer
func NewRedisConsumer(cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		cfg.QueueName = "pdfextract:jobs"
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	consumerCtx, cancel := context.WithCancel(context.Background())

	return &RedisConsumer{
		client:    client,
		processor: cfg.Processor,
		config:    cfg,
		logger:    logging.NewLogger("queue"),
		ctx:       consumerCtx,
		cancel:    cancel,
	}, nil
}

// Start begins processing jobs from the queue
func (c *RedisConsumer) Start() error {
	c.logger.Info("Starting Redis queue consumer", "concurrency", c.config.Concurrency, "queue", c.config.QueueName)

	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}

	c.logger.Info("Queue consumer started successfully")
	return nil
}

// Stop gracefully stops the consumer, letting in-flight jobs finish
func (c *RedisConsumer) Stop() error {
	c.logger.Info("Stopping queue consumer...")
	c.cancel()
	c.wg.Wait()
	return c.client.Close()
}

func (c *RedisConsumer) worker(id int) {
	defer c.wg.Done()
	c.logger.Info("Worker started", "worker", id)

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Info("Worker stopping", "worker", id)
			return
		default:
			if err := c.processNextJob(); err != nil {
				if !stderrors.Is(err, errNoJobs) && c.ctx.Err() == nil {
					c.logger.Error("Worker error", "worker", id, "error", err)
					time.Sleep(1 * time.Second)
				}
			}
		}
	}
}

// processNextJob fetches and processes the next job from the queue
func (c *RedisConsumer) processNextJob() error {
	// Block for up to 5 seconds waiting for a job
	result, err := c.client.BRPop(c.ctx, 5*time.Second, c.config.QueueName).Result()
	if err != nil {
		if err == redis.Nil || c.ctx.Err() != nil {
			return errNoJobs
		}
		return fmt.Errorf("failed to fetch job: %w", err)
	}

	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}

	queueJobID := result[1]

	jobData, err := c.client.HGet(c.ctx, c.key("data"), queueJobID).Result()
	if err != nil {
		return fmt.Errorf("failed to get job data: %w", err)
	}

	var job RedisJobData
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		c.updateJobStatus(queueJobID, "failed", map[string]interface{}{"error": err.Error()})
		return fmt.Errorf("failed to unmarshal job: %w", err)
	}
	if job.Payload.JobID == "" {
		job.Payload.JobID = job.ID
	}

	jobID := job.Payload.JobID
	log := c.logger.With("jobId", jobID)

	if err := c.processor.UpdateJobStatus(c.ctx, jobID, "processing", 0, map[string]interface{}{
		"filename": job.Payload.Filename,
		"fileSize": job.Payload.FileSize,
	}); err != nil {
		log.Warn("Could not update job status to processing", "error", err)
	}
	c.updateJobStatus(jobID, "processing", nil)

	log.Info("Processing job", "filename", job.Payload.Filename, "attempt", job.Attempts+1)

	processResult, err := c.processJob(&job)
	if err != nil {
		log.Error("Job failed", "error", err)

		job.Attempts++
		if job.Attempts < job.MaxRetries && isRetryable(err) {
			requeueCtx := context.WithoutCancel(c.ctx)
			updatedData, _ := json.Marshal(job)
			c.client.HSet(requeueCtx, c.key("data"), job.ID, updatedData)
			c.client.LPush(requeueCtx, c.config.QueueName, job.ID)
			log.Info("Job re-queued for retry", "attempt", job.Attempts, "maxRetries", job.MaxRetries)
			return nil
		}

		failure := map[string]interface{}{
			"error":    err.Error(),
			"attempts": job.Attempts,
		}
		var pe *errors.ProcessingError
		if stderrors.As(err, &pe) {
			failure["error_code"] = string(pe.Code)
		}
		c.updateJobStatus(jobID, "failed", failure)
		return nil
	}

	if processResult.Failed {
		// Nothing could read the document; retrying will not change that
		c.updateJobStatus(jobID, "failed", processResult)
		return nil
	}

	c.updateJobStatus(jobID, "completed", processResult)
	log.Info("Job completed successfully", "method", processResult.Method, "pages", processResult.PageCount)
	return nil
}

// processJob runs the processor under the per-job timeout
func (c *RedisConsumer) processJob(job *RedisJobData) (*processor.ProcessResult, error) {
	startTime := time.Now()
	jobID := job.Payload.JobID

	timeout := time.Duration(300000) * time.Millisecond
	if c.config.ProcessingTimeout > 0 {
		timeout = time.Duration(c.config.ProcessingTimeout) * time.Millisecond
	}

	// Detached from the consumer context so Stop lets in-flight jobs finish
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	result, err := c.processor.ProcessDocument(ctx, job.Payload.ToProcessRequest())

	duration := time.Since(startTime)

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			c.logger.Error("Processing timed out", "jobId", jobID, "duration", duration.String(), "timeout", timeout.String())
			return nil, errors.NewProcessingTimeoutError(jobID, timeout, err)
		}
		return nil, err
	}

	c.logger.Info("Processing completed", "jobId", jobID, "duration", duration.String())
	return result, nil
}

// isRetryable reports whether another attempt could succeed
func isRetryable(err error) bool {
	switch {
	case errors.IsCode(err, errors.ErrorUnsupportedFormat),
		errors.IsCode(err, errors.ErrorConfiguration):
		return false
	default:
		return true
	}
}

func (c *RedisConsumer) key(suffix string) string {
	return fmt.Sprintf("%s:%s", c.config.QueueName, suffix)
}

// updateJobStatus updates the status of a job in both Redis and PostgreSQL
func (c *RedisConsumer) updateJobStatus(jobID string, status string, result interface{}) {
	// Status updates run even while shutting down
	ctx := context.WithoutCancel(c.ctx)

	switch status {
	case "processing":
		c.client.SAdd(ctx, c.key("processing"), jobID)
	case "completed":
		c.client.SRem(ctx, c.key("processing"), jobID)
		c.client.SAdd(ctx, c.key("completed"), jobID)
		if result != nil {
			resultData, _ := json.Marshal(result)
			c.client.HSet(ctx, c.key("results"), jobID, resultData)
		}
	case "failed":
		c.client.SRem(ctx, c.key("processing"), jobID)
		c.client.SAdd(ctx, c.key("failed"), jobID)
		if result != nil {
			errorData, _ := json.Marshal(result)
			c.client.HSet(ctx, c.key("errors"), jobID, errorData)
		}
	}

	if status != "processing" {
		if err := c.processor.UpdateJobStatus(ctx, jobID, status, 100, statusMetadata(result)); err != nil {
			c.logger.Error("Failed to update job status", "jobId", jobID, "status", status, "error", err)
		}
	}

	event := map[string]interface{}{
		"event":     fmt.Sprintf("job:%s", status),
		"jobId":     jobID,
		"timestamp": time.Now().Format(time.RFC3339),
	}
	eventData, _ := json.Marshal(event)
	c.client.Publish(ctx, c.key("events"), eventData)
}

// statusMetadata flattens a job outcome into the fields the store understands
func statusMetadata(result interface{}) map[string]interface{} {
	switch r := result.(type) {
	case *processor.ProcessResult:
		metadata := map[string]interface{}{
			"extractionMethod": string(r.Method),
			"pageCount":        r.PageCount,
			"processingTime":   r.ProcessingTimeMs,
			"totalChars":       r.TotalChars,
			"handedOff":        r.HandedOff,
		}
		if len(r.Warnings) > 0 {
			metadata["warnings"] = r.Warnings
		}
		if r.Failed {
			metadata["error"] = r.Error
			metadata["error_code"] = string(errors.ErrorExtractionFailed)
		}
		return metadata
	case map[string]interface{}:
		return r
	default:
		return nil
	}
}

// GetStats returns queue statistics
func (c *RedisConsumer) GetStats(ctx context.Context) (map[string]int64, error) {
	waiting, err := c.client.LLen(ctx, c.config.QueueName).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue length: %w", err)
	}
	processing, _ := c.client.SCard(ctx, c.key("processing")).Result()
	completed, _ := c.client.SCard(ctx, c.key("completed")).Result()
	failed, _ := c.client.SCard(ctx, c.key("failed")).Result()

	return map[string]int64{
		"waiting":    waiting,
		"processing": processing,
		"completed":  completed,
		"failed":     failed,
	}, nil
}
