/**
 * Extraction Policy - decides which extraction path a document takes
 *
 * Two modes:
 * - cloud: every document is uploaded to the cloud OCR service; the upload is
 *   always deleted afterwards, even when OCR fails
 * - local-fallback: embedded text is read first; local OCR runs only when the
 *   document carries fewer characters than the configured threshold
 *
 * Process never returns an error. Recoverable failures degrade to the best
 * available result; MethodFailed is reported only when nothing produced text.
 */

package processor

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/adverant/nexus/pdfextract-worker/internal/errors"
	"github.com/adverant/nexus/pdfextract-worker/internal/logging"
)

const defaultCleanupTimeout = 30 * time.Second

// PolicyConfig holds the extraction policy configuration
type PolicyConfig struct {
	Mode             OCRMode
	MinTextThreshold int
	OCREnabled       bool

	Primary  PrimaryExtractor
	LocalOCR LocalOCR // optional; a missing engine is treated as an OCR failure
	CloudOCR CloudOCR

	// CleanupTimeout bounds remote file deletion, which runs even after the
	// request context is cancelled
	CleanupTimeout time.Duration

	Logger *logging.Logger
}

// Policy runs one document through primary extraction and OCR
type Policy struct {
	config *PolicyConfig
	logger *logging.Logger
}

// NewPolicy validates the configuration and creates a policy
func NewPolicy(cfg *PolicyConfig) (*Policy, error) {
	if cfg == nil {
		return nil, errors.NewConfigurationError("policy config is required", nil)
	}

	if cfg.MinTextThreshold < 0 {
		return nil, errors.NewConfigurationError(
			fmt.Sprintf("minimum text threshold must be >= 0, got %d", cfg.MinTextThreshold), nil)
	}

	switch cfg.Mode {
	case OCRModeCloudAlways:
		if cfg.CloudOCR == nil {
			return nil, errors.NewConfigurationError("cloud OCR mode requires a cloud OCR client (is OCR_API_KEY set?)", nil)
		}
	case OCRModeLocalFallback:
		if cfg.Primary == nil {
			return nil, errors.NewConfigurationError("local-fallback mode requires a primary extractor", nil)
		}
	default:
		return nil, errors.NewConfigurationError(fmt.Sprintf("unknown OCR mode %q", cfg.Mode), nil)
	}

	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = defaultCleanupTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("policy")
	}

	return &Policy{
		config: cfg,
		logger: logger,
	}, nil
}

// Mode returns the configured OCR mode
func (p *Policy) Mode() OCRMode {
	return p.config.Mode
}

// Process extracts the text of the PDF at path
func (p *Policy) Process(ctx context.Context, path string) *ExtractionResult {
	start := time.Now()

	var result *ExtractionResult
	if p.config.Mode == OCRModeCloudAlways {
		result = p.processCloud(ctx, path)
	} else {
		result = p.processLocalFallback(ctx, path)
	}

	if result.Pages == nil {
		result.Pages = []Page{}
	}
	result.Duration = time.Since(start)

	if result.Failed() {
		p.logger.Error("Extraction failed", "source", path, "error", result.Error, "durationMs", result.Duration.Milliseconds())
	} else {
		p.logger.Info("Extraction complete",
			"source", path,
			"method", result.Method,
			"pages", len(result.Pages),
			"chars", result.TotalChars(),
			"warnings", len(result.Warnings),
			"durationMs", result.Duration.Milliseconds())
	}

	return result
}

func (p *Policy) processCloud(ctx context.Context, path string) *ExtractionResult {
	result := &ExtractionResult{Source: path}

	file, err := p.config.CloudOCR.Upload(ctx, path)
	if err != nil {
		return failed(result, fmt.Sprintf("cloud OCR upload failed: %v", err))
	}
	defer p.release(ctx, file)

	texts, err := p.config.CloudOCR.RunOCR(ctx, file)
	if err != nil {
		return failed(result, fmt.Sprintf("cloud OCR failed: %v", err))
	}
	if len(texts) == 0 {
		return failed(result, "cloud OCR returned no pages")
	}

	pages := pagesFromOCR(path, texts, MethodOCRCloud)
	for i := range pages {
		pages[i].Metadata[MetaFileID] = file.ID
		pages[i].Metadata[MetaFileSize] = file.Size
		pages[i].Metadata[MetaOriginalFilename] = originalFilename(file, path)
	}
	stampTotalPages(pages)

	result.Pages = pages
	result.Method = MethodOCRCloud
	return result
}

// release deletes the uploaded file. It runs on a context detached from the
// request so a cancelled or expired request still cleans up.
func (p *Policy) release(ctx context.Context, file *RemoteFile) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.config.CleanupTimeout)
	defer cancel()

	if err := p.config.CloudOCR.Delete(cleanupCtx, file); err != nil {
		cleanupErr := errors.NewCleanupFailedError(file.ID, err)
		p.logger.Warn("WARNING: Failed to delete uploaded file, continuing", "fileId", file.ID, "error", cleanupErr)
		return
	}
	p.logger.Debug("Deleted uploaded file", "fileId", file.ID)
}

func (p *Policy) processLocalFallback(ctx context.Context, path string) *ExtractionResult {
	result := &ExtractionResult{Source: path}

	primary, primaryErr := p.config.Primary.Extract(ctx, path)
	if primaryErr != nil {
		if !p.config.OCREnabled {
			return failed(result, fmt.Sprintf("primary extraction failed: %v", primaryErr))
		}

		p.logger.Warn("Primary extraction failed, trying local OCR", "source", path, "error", primaryErr)
		texts, ocrErr := p.runLocalOCR(ctx, path)
		if ocrErr != nil {
			return failed(result, fmt.Sprintf("primary extraction failed: %v; local OCR failed: %v", primaryErr, ocrErr))
		}

		pages := pagesFromOCR(path, texts, MethodOCRLocal)
		stampTotalPages(pages)
		result.Pages = pages
		result.Method = MethodOCRLocal
		result.warn(fmt.Sprintf("primary extraction failed: %v", primaryErr))
		return result
	}

	result.Pages = primary
	result.Method = MethodPrimary

	chars := totalChars(primary)
	if !p.config.OCREnabled || chars >= p.config.MinTextThreshold {
		return result
	}

	p.logger.Info("Primary text below threshold, running local OCR",
		"source", path,
		"chars", chars,
		"threshold", p.config.MinTextThreshold)

	texts, err := p.runLocalOCR(ctx, path)
	if err != nil {
		msg := fmt.Sprintf("local OCR failed, keeping primary text (%d chars): %v", chars, err)
		p.logger.Warn(msg, "source", path)
		result.warn(msg)
		return result
	}

	merged, warnings := mergeOCRPages(path, primary, texts, MethodOCRLocal)
	stampTotalPages(merged)
	for _, w := range warnings {
		p.logger.Warn(w, "source", path)
		result.warn(w)
	}

	result.Pages = merged
	result.Method = MethodOCRLocal
	return result
}

// runLocalOCR treats a missing engine and an empty result as failures
func (p *Policy) runLocalOCR(ctx context.Context, path string) ([]string, error) {
	if p.config.LocalOCR == nil {
		return nil, errors.NewOCRFailedError(path, "local", fmt.Errorf("no local OCR engine configured"))
	}

	texts, err := p.config.LocalOCR.RunOCR(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, errors.NewExtractionFailedError(path, string(MethodOCRLocal), fmt.Errorf("OCR returned no pages"))
	}
	return texts, nil
}

func failed(result *ExtractionResult, reason string) *ExtractionResult {
	result.Pages = []Page{}
	result.Method = MethodFailed
	result.Error = reason
	return result
}

func originalFilename(file *RemoteFile, path string) string {
	if file.Filename != "" {
		return file.Filename
	}
	return filepath.Base(path)
}
