/**
 * Document Processor for the PDF Extraction Worker
 *
 * Pipeline for one job:
 * - materialise the PDF on local disk (path, inline buffer, or URL download)
 * - check size and magic bytes
 * - run the extraction policy (cloud OCR, or primary text with local OCR fallback)
 * - persist the result and hand the ordered page segments to chunking
 *
 * A document no method could extract is a finished job with method=failed.
 * It is stored with its reason and never handed downstream.
 */

package processor

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adverant/nexus/pdfextract-worker/internal/errors"
	"github.com/adverant/nexus/pdfextract-worker/internal/logging"
	"github.com/adverant/nexus/pdfextract-worker/internal/storage"
)

// DocumentProcessorInterface defines the interface for document processing
type DocumentProcessorInterface interface {
	ProcessDocument(ctx context.Context, req *ProcessRequest) (*ProcessResult, error)
	UpdateJobStatus(ctx context.Context, jobID string, status string, progress int, metadata map[string]interface{}) error
}

// Extractor turns a PDF on disk into an extraction result. *Policy implements it.
type Extractor interface {
	Process(ctx context.Context, path string) *ExtractionResult
}

// ResultStore persists job state and extraction results
type ResultStore interface {
	UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error
	StoreExtraction(ctx context.Context, record *storage.ExtractionRecord) error
}

// Handoff passes extracted text to the downstream chunking stage
type Handoff interface {
	PublishExtraction(ctx context.Context, jobID string, result *ExtractionResult) error
}

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	Extractor   Extractor
	Store       ResultStore // optional; nil disables persistence
	Handoff     Handoff     // optional; nil disables downstream handoff
	TempDir     string
	MaxFileSize int64
	HTTPClient  *http.Client
}

// ProcessRequest represents a document processing request
type ProcessRequest struct {
	JobID      string
	Filename   string
	FileSize   int64
	FilePath   string // PDF already on local/shared disk
	FileURL    string
	FileBuffer []byte
	Metadata   map[string]interface{}
}

// ProcessResult represents the processing result
type ProcessResult struct {
	JobID            string   `json:"jobId"`
	Method           Method   `json:"method"`
	PageCount        int      `json:"pageCount"`
	TotalChars       int      `json:"totalChars"`
	Warnings         []string `json:"warnings,omitempty"`
	Error            string   `json:"error,omitempty"`
	Failed           bool     `json:"failed"`
	HandedOff        bool     `json:"handedOff"`
	ProcessingTimeMs int64    `json:"processingTimeMs"`
}

// DocumentProcessor handles document processing
type DocumentProcessor struct {
	config     *ProcessorConfig
	extractor  Extractor
	store      ResultStore
	handoff    Handoff
	httpClient *http.Client
	logger     *logging.Logger
}

// NewDocumentProcessor creates a new document processor
func NewDocumentProcessor(cfg *ProcessorConfig) (*DocumentProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	if cfg.Extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}

	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir %s: %w", cfg.TempDir, err)
	}

	logger := logging.NewLogger("processor")

	if cfg.Store == nil {
		logger.Warn("WARNING: No result store configured. Extraction results will not be persisted.")
	}
	if cfg.Handoff == nil {
		logger.Warn("WARNING: No handoff configured. Extracted text will not be sent to chunking.")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Minute}
	}

	return &DocumentProcessor{
		config:     cfg,
		extractor:  cfg.Extractor,
		store:      cfg.Store,
		handoff:    cfg.Handoff,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// ProcessDocument processes a document through the complete pipeline
func (p *DocumentProcessor) ProcessDocument(ctx context.Context, req *ProcessRequest) (*ProcessResult, error) {
	startTime := time.Now()
	log := p.logger.With("jobId", req.JobID)
	log.Info("Starting document processing", "filename", req.Filename)

	// Step 1: Materialise the file on disk
	path, cleanup, err := p.materialise(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to load file: %w", err)
	}
	defer cleanup()

	// Step 2: Check the file really is a PDF
	if err := ValidatePDF(req.JobID, path); err != nil {
		return nil, err
	}

	// Step 3: Extract
	result := p.extractor.Process(ctx, path)
	if req.FilePath == "" && req.Filename != "" {
		relabelSource(result, req.Filename)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("extraction interrupted: %w", err)
	}

	processResult := &ProcessResult{
		JobID:            req.JobID,
		Method:           result.Method,
		PageCount:        len(result.Pages),
		TotalChars:       result.TotalChars(),
		Warnings:         result.Warnings,
		Error:            result.Error,
		Failed:           result.Failed(),
		ProcessingTimeMs: time.Since(startTime).Milliseconds(),
	}

	// Step 4: Persist
	if p.store != nil {
		record := &storage.ExtractionRecord{
			JobID:      req.JobID,
			Source:     result.Source,
			Method:     string(result.Method),
			Pages:      result.Pages,
			PageCount:  len(result.Pages),
			TotalChars: processResult.TotalChars,
			Warnings:   result.Warnings,
			Error:      result.Error,
			DurationMs: result.Duration.Milliseconds(),
		}
		if err := p.store.StoreExtraction(ctx, record); err != nil {
			return nil, errors.NewStorageFailedError(req.JobID, err)
		}
	}

	if result.Failed() {
		log.Warn("No extraction method succeeded, skipping handoff", "error", result.Error)
		return processResult, nil
	}

	// Step 5: Hand off to chunking
	if p.handoff != nil {
		if err := p.handoff.PublishExtraction(ctx, req.JobID, result); err != nil {
			return nil, fmt.Errorf("failed to hand off extraction: %w", err)
		}
		processResult.HandedOff = true
	}

	processResult.ProcessingTimeMs = time.Since(startTime).Milliseconds()
	log.Info("Document processing complete",
		"method", result.Method,
		"pages", processResult.PageCount,
		"chars", processResult.TotalChars,
		"durationMs", processResult.ProcessingTimeMs)

	return processResult, nil
}

// UpdateJobStatus updates job status in the result store
func (p *DocumentProcessor) UpdateJobStatus(ctx context.Context, jobID string, status string, progress int, metadata map[string]interface{}) error {
	if p.store == nil {
		return nil
	}

	update := &storage.JobUpdate{
		JobID:    jobID,
		Status:   status,
		Progress: progress,
		Metadata: metadata,
	}

	if metadata != nil {
		if method, ok := metadata["extractionMethod"].(string); ok {
			update.Method = method
		} else if method, ok := metadata["extractionMethod"].(Method); ok {
			update.Method = string(method)
		}
		if pageCount, ok := metadata["pageCount"].(int); ok {
			update.PageCount = pageCount
		}
		if processingTime, ok := metadata["processingTime"].(int64); ok {
			update.ProcessingTimeMs = processingTime
		}
		if code, ok := metadata["error_code"].(string); ok {
			update.ErrorCode = code
		}
		if errorMsg, ok := metadata["error"].(string); ok {
			if update.ErrorCode == "" {
				update.ErrorCode = string(errors.ErrorExtractionFailed)
			}
			update.ErrorMessage = errorMsg
		} else if msg, ok := metadata["message"].(string); ok && update.ErrorCode != "" {
			update.ErrorMessage = msg
		}
	}

	return p.store.UpdateJobStatus(ctx, update)
}

// materialise returns a local path for the request's PDF and a cleanup func
func (p *DocumentProcessor) materialise(ctx context.Context, req *ProcessRequest) (string, func(), error) {
	noop := func() {}

	if req.FilePath != "" {
		info, err := os.Stat(req.FilePath)
		if err != nil {
			return "", noop, fmt.Errorf("failed to stat %s: %w", req.FilePath, err)
		}
		if err := p.checkSize(info.Size()); err != nil {
			return "", noop, err
		}
		p.logger.Info("Using local file", "jobId", req.JobID, "path", req.FilePath, "bytes", info.Size())
		return req.FilePath, noop, nil
	}

	var data []byte
	switch {
	case len(req.FileBuffer) > 0:
		p.logger.Info("Using file buffer", "jobId", req.JobID, "bytes", len(req.FileBuffer))
		data = req.FileBuffer
	case req.FileURL != "":
		downloaded, err := p.downloadFileFromURL(ctx, req.JobID, req.FileURL, req.FileSize)
		if err != nil {
			return "", noop, fmt.Errorf("failed to download file: %w", err)
		}
		data = downloaded
	default:
		return "", noop, fmt.Errorf("no file source provided (path, buffer or URL)")
	}

	if err := p.checkSize(int64(len(data))); err != nil {
		return "", noop, err
	}

	dir, err := os.MkdirTemp(p.config.TempDir, "job-")
	if err != nil {
		return "", noop, fmt.Errorf("failed to create job temp dir: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			p.logger.Warn("Failed to remove temp dir", "jobId", req.JobID, "dir", dir, "error", err)
		}
	}

	path := filepath.Join(dir, safeFilename(req.Filename))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		cleanup()
		return "", noop, fmt.Errorf("failed to write temp file: %w", err)
	}

	return path, cleanup, nil
}

func (p *DocumentProcessor) checkSize(size int64) error {
	if p.config.MaxFileSize > 0 && size > p.config.MaxFileSize {
		return fmt.Errorf("file size exceeds maximum: %d > %d bytes", size, p.config.MaxFileSize)
	}
	return nil
}

// downloadFileFromURL downloads a file with exponential backoff between attempts
func (p *DocumentProcessor) downloadFileFromURL(ctx context.Context, jobID string, fileURL string, expectedSize int64) ([]byte, error) {
	const maxRetries = 5

	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		p.logger.Info("Download attempt", "jobId", jobID, "attempt", attempt, "maxRetries", maxRetries, "url", fileURL)

		data, retryable, err := p.download(ctx, jobID, fileURL, expectedSize)
		if err == nil {
			p.logger.Info("Download successful", "jobId", jobID, "attempt", attempt, "bytes", len(data))
			return data, nil
		}

		lastErr = err
		p.logger.Warn("Download attempt failed", "jobId", jobID, "attempt", attempt, "error", err)
		if !retryable {
			return nil, err
		}

		if attempt < maxRetries {
			if err := waitBackoff(ctx, attempt); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("failed to download file after %d attempts: %w", maxRetries, lastErr)
}

// download makes one attempt. The bool reports whether a retry could help.
func (p *DocumentProcessor) download(ctx context.Context, jobID, fileURL string, expectedSize int64) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// 4xx other than 408/429 will not change on retry
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests
		return nil, retryable, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	contentLength := resp.ContentLength
	if contentLength > 0 && expectedSize > 0 && contentLength != expectedSize {
		p.logger.Warn("WARNING: Content-Length mismatch", "jobId", jobID, "expected", expectedSize, "got", contentLength)
	}

	if err := p.checkSize(contentLength); err != nil {
		return nil, false, err
	}

	maxReadBytes := p.config.MaxFileSize
	if maxReadBytes <= 0 {
		maxReadBytes = 10 * 1024 * 1024 * 1024 // 10GB safety limit
	}

	// Read one byte past the limit so oversize bodies without Content-Length are caught
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes+1))
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response body: %w", err)
	}
	if err := p.checkSize(int64(len(data))); err != nil {
		return nil, false, err
	}

	return data, false, nil
}

func waitBackoff(ctx context.Context, attempt int) error {
	const (
		initialBackoffMs = 1000
		maxBackoffMs     = 32000
	)

	backoffMs := initialBackoffMs * int(math.Pow(2, float64(attempt-1)))
	if backoffMs > maxBackoffMs {
		backoffMs = maxBackoffMs
	}

	select {
	case <-time.After(time.Duration(backoffMs) * time.Millisecond):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context cancelled during retry backoff: %w", ctx.Err())
	}
}

// relabelSource replaces a temp path with the name the document was submitted under
func relabelSource(result *ExtractionResult, source string) {
	result.Source = source
	for i := range result.Pages {
		result.Pages[i].Metadata[MetaSource] = source
	}
}

func safeFilename(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "document.pdf"
	}
	return name
}
