package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/pdfextract-worker/internal/errors"
	"github.com/adverant/nexus/pdfextract-worker/internal/processor"
)

func TestJobPayloadUnmarshalBase64Buffer(t *testing.T) {
	raw := `{"jobId":"job-1","filename":"scan.pdf","fileBuffer":"JVBERi0xLjQ="}`

	var payload JobPayload
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))

	assert.Equal(t, "job-1", payload.JobID)
	assert.Equal(t, "scan.pdf", payload.Filename)
	assert.Equal(t, []byte("%PDF-1.4"), payload.FileBuffer)
}

func TestJobPayloadUnmarshalNodeBuffer(t *testing.T) {
	raw := `{"jobId":"job-2","fileBuffer":{"type":"Buffer","data":[37,80,68,70]}}`

	var payload JobPayload
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))
	assert.Equal(t, []byte("%PDF"), payload.FileBuffer)
}

func TestJobPayloadUnmarshalRejectsBadBuffers(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"bad base64", `{"fileBuffer":"***"}`},
		{"wrong object type", `{"fileBuffer":{"type":"Blob","data":[1]}}`},
		{"missing data", `{"fileBuffer":{"type":"Buffer"}}`},
		{"out of range byte", `{"fileBuffer":{"type":"Buffer","data":[256]}}`},
		{"number", `{"fileBuffer":42}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var payload JobPayload
			assert.Error(t, json.Unmarshal([]byte(tt.raw), &payload))
		})
	}
}

func TestRequeuedJobKeepsFileBuffer(t *testing.T) {
	job := RedisJobData{
		ID:         "queue-1",
		Attempts:   1,
		MaxRetries: 3,
		Payload: JobPayload{
			JobID:      "job-3",
			Filename:   "a.pdf",
			FileBuffer: []byte("%PDF-1.7 body"),
		},
	}

	data, err := json.Marshal(job)
	require.NoError(t, err)

	var decoded RedisJobData
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, job.Payload.FileBuffer, decoded.Payload.FileBuffer)
	assert.Equal(t, 1, decoded.Attempts)
}

func TestToProcessRequest(t *testing.T) {
	payload := JobPayload{
		JobID:    "job-4",
		Filename: "doc.pdf",
		FilePath: "/shared/doc.pdf",
		FileSize: 2048,
	}

	req := payload.ToProcessRequest()
	assert.Equal(t, "job-4", req.JobID)
	assert.Equal(t, "/shared/doc.pdf", req.FilePath)
	assert.Equal(t, int64(2048), req.FileSize)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, isRetryable(errors.NewUnsupportedFormatError("job", "text/plain")))
	assert.False(t, isRetryable(fmt.Errorf("wrapped: %w", errors.NewConfigurationError("bad", nil))))
	assert.True(t, isRetryable(errors.NewProcessingTimeoutError("job", time.Second, nil)))
	assert.True(t, isRetryable(stderrors.New("connection reset")))
}

func TestStatusMetadata(t *testing.T) {
	failed := statusMetadata(&processor.ProcessResult{
		Method: processor.MethodFailed,
		Failed: true,
		Error:  "primary extraction failed",
	})
	assert.Equal(t, "failed", failed["extractionMethod"])
	assert.Equal(t, "primary extraction failed", failed["error"])
	assert.Equal(t, string(errors.ErrorExtractionFailed), failed["error_code"])

	ok := statusMetadata(&processor.ProcessResult{Method: processor.MethodOCRLocal, PageCount: 3})
	assert.Equal(t, "ocr_local", ok["extractionMethod"])
	assert.Equal(t, 3, ok["pageCount"])
	_, hasError := ok["error"]
	assert.False(t, hasError)

	passthrough := map[string]interface{}{"error": "boom"}
	assert.Equal(t, passthrough, statusMetadata(passthrough))
	assert.Nil(t, statusMetadata(nil))
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)
	return &asynq.TaskInfo{ID: "task-1", Queue: "document-chunking"}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

func sampleResult() *processor.ExtractionResult {
	return &processor.ExtractionResult{
		Source: "report.pdf",
		Method: processor.MethodPrimary,
		Pages: []processor.Page{
			{PageNumber: 1, Text: "first", Metadata: map[string]interface{}{"page": 1, "extraction_method": "primary"}},
			{PageNumber: 2, Text: "second", Metadata: map[string]interface{}{"page": 2, "extraction_method": "primary"}},
		},
	}
}

func TestPublishExtractionEnqueuesOrderedSegments(t *testing.T) {
	enq := &fakeEnqueuer{}
	publisher := newHandoffPublisher(enq, &HandoffConfig{QueueName: "chunks"})

	require.NoError(t, publisher.PublishExtraction(context.Background(), "job-5", sampleResult()))
	require.Len(t, enq.tasks, 1)

	task := enq.tasks[0]
	assert.Equal(t, TaskTypeChunkDocument, task.Type())

	var payload ChunkTaskPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, "job-5", payload.JobID)
	assert.Equal(t, processor.MethodPrimary, payload.Method)
	require.Len(t, payload.Segments, 2)
	assert.Equal(t, "first", payload.Segments[0].Text)
	assert.Equal(t, "second", payload.Segments[1].Text)

	values := map[asynq.OptionType]interface{}{}
	for _, opt := range enq.opts[0] {
		values[opt.Type()] = opt.Value()
	}
	assert.Equal(t, "chunks", values[asynq.QueueOpt])
	assert.Equal(t, "job-5", values[asynq.TaskIDOpt])
	assert.Equal(t, 5, values[asynq.MaxRetryOpt])
}

func TestPublishExtractionTreatsDuplicateAsDone(t *testing.T) {
	enq := &fakeEnqueuer{err: asynq.ErrTaskIDConflict}
	publisher := newHandoffPublisher(enq, &HandoffConfig{})

	assert.NoError(t, publisher.PublishExtraction(context.Background(), "job-6", sampleResult()))
}

func TestPublishExtractionRejectsFailedResult(t *testing.T) {
	enq := &fakeEnqueuer{}
	publisher := newHandoffPublisher(enq, &HandoffConfig{})

	err := publisher.PublishExtraction(context.Background(), "job-7", &processor.ExtractionResult{Method: processor.MethodFailed})
	assert.Error(t, err)
	assert.Empty(t, enq.tasks)
}

func TestPublishExtractionReportsEnqueueErrors(t *testing.T) {
	enq := &fakeEnqueuer{err: stderrors.New("redis down")}
	publisher := newHandoffPublisher(enq, &HandoffConfig{})

	err := publisher.PublishExtraction(context.Background(), "job-8", sampleResult())
	assert.ErrorContains(t, err, "redis down")
}

type statusCall struct {
	status   string
	metadata map[string]interface{}
}

type fakeDocumentProcessor struct {
	result   *processor.ProcessResult
	err      error
	requests []*processor.ProcessRequest
	statuses []statusCall
}

func (f *fakeDocumentProcessor) ProcessDocument(ctx context.Context, req *processor.ProcessRequest) (*processor.ProcessResult, error) {
	f.requests = append(f.requests, req)
	return f.result, f.err
}

func (f *fakeDocumentProcessor) UpdateJobStatus(ctx context.Context, jobID string, status string, progress int, metadata map[string]interface{}) error {
	f.statuses = append(f.statuses, statusCall{status: status, metadata: metadata})
	return nil
}

func extractTask(t *testing.T, payload JobPayload) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return asynq.NewTask(TaskTypeExtractPDF, data)
}

func TestAsynqHandlerCompletesJob(t *testing.T) {
	proc := &fakeDocumentProcessor{result: &processor.ProcessResult{JobID: "job-20", Method: processor.MethodPrimary, PageCount: 2}}
	consumer := newConsumer(&ConsumerConfig{QueueName: "pdf", Processor: proc})

	task := extractTask(t, JobPayload{JobID: "job-20", Filename: "a.pdf", FileBuffer: []byte("%PDF-1.4")})
	require.NoError(t, consumer.handleExtractPDF(context.Background(), task))

	require.Len(t, proc.requests, 1)
	assert.Equal(t, []byte("%PDF-1.4"), proc.requests[0].FileBuffer)
	require.Len(t, proc.statuses, 2)
	assert.Equal(t, "processing", proc.statuses[0].status)
	assert.Equal(t, "completed", proc.statuses[1].status)
	assert.Equal(t, "primary", proc.statuses[1].metadata["extractionMethod"])
}

func TestAsynqHandlerFailedExtractionIsNotRetried(t *testing.T) {
	proc := &fakeDocumentProcessor{result: &processor.ProcessResult{Method: processor.MethodFailed, Failed: true, Error: "unreadable"}}
	consumer := newConsumer(&ConsumerConfig{QueueName: "pdf", Processor: proc})

	err := consumer.handleExtractPDF(context.Background(), extractTask(t, JobPayload{JobID: "job-21"}))
	require.NoError(t, err)
	assert.Equal(t, "failed", proc.statuses[len(proc.statuses)-1].status)
}

func TestAsynqHandlerSkipsRetryForUnsupportedFormat(t *testing.T) {
	proc := &fakeDocumentProcessor{err: errors.NewUnsupportedFormatError("job-22", "text/plain")}
	consumer := newConsumer(&ConsumerConfig{QueueName: "pdf", Processor: proc})

	err := consumer.handleExtractPDF(context.Background(), extractTask(t, JobPayload{JobID: "job-22"}))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.True(t, errors.IsCode(err, errors.ErrorUnsupportedFormat))

	last := proc.statuses[len(proc.statuses)-1]
	assert.Equal(t, "failed", last.status)
	assert.Equal(t, string(errors.ErrorUnsupportedFormat), last.metadata["error_code"])
}

func TestAsynqHandlerRetriesTransientErrors(t *testing.T) {
	proc := &fakeDocumentProcessor{err: stderrors.New("connection reset")}
	consumer := newConsumer(&ConsumerConfig{QueueName: "pdf", Processor: proc})

	err := consumer.handleExtractPDF(context.Background(), extractTask(t, JobPayload{JobID: "job-23"}))
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestAsynqHandlerRejectsMalformedPayload(t *testing.T) {
	proc := &fakeDocumentProcessor{}
	consumer := newConsumer(&ConsumerConfig{QueueName: "pdf", Processor: proc})

	err := consumer.handleExtractPDF(context.Background(), asynq.NewTask(TaskTypeExtractPDF, []byte("{not json")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, proc.requests)
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, 5*time.Second, retryDelay(0, nil, nil))
	assert.Equal(t, 20*time.Second, retryDelay(2, nil, nil))
	assert.Equal(t, 60*time.Second, retryDelay(10, nil, nil))
}
