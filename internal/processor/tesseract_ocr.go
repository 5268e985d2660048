/**
 * Tesseract OCR - local fallback for scanned PDFs
 *
 * Free, offline OCR. Each page is rendered to PNG with MuPDF (go-fitz) and
 * recognised with Tesseract (gosseract).
 */

package processor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gen2brain/go-fitz"
	"github.com/otiai10/gosseract/v2"

	"github.com/adverant/nexus/pdfextract-worker/internal/errors"
	"github.com/adverant/nexus/pdfextract-worker/internal/logging"
)

// TesseractOCR handles local OCR using Tesseract
type TesseractOCR struct {
	language  string
	renderDPI float64
	maxPages  int
	logger    *logging.Logger
}

// TesseractConfig holds Tesseract configuration
type TesseractConfig struct {
	Language  string // tesseract language code(s), e.g. "eng" or "eng+deu"
	RenderDPI int
	MaxPages  int // 0 means no limit
}

// NewTesseractOCR creates a new Tesseract OCR instance
func NewTesseractOCR(cfg *TesseractConfig) *TesseractOCR {
	t := &TesseractOCR{
		language:  "eng",
		renderDPI: 300,
		logger:    logging.NewLogger("tesseract"),
	}
	if cfg == nil {
		return t
	}
	if cfg.Language != "" {
		t.language = cfg.Language
	}
	if cfg.RenderDPI > 0 {
		t.renderDPI = float64(cfg.RenderDPI)
	}
	t.maxPages = cfg.MaxPages
	return t
}

// RunOCR renders and recognises every page of the PDF at path.
// A page that fails is returned as empty text so later pages keep their numbers.
func (t *TesseractOCR) RunOCR(ctx context.Context, path string) ([]string, error) {
	startTime := time.Now()

	doc, err := fitz.New(path)
	if err != nil {
		return nil, errors.NewOCRFailedError(path, "tesseract", fmt.Errorf("failed to open PDF: %w", err))
	}
	defer doc.Close()

	numPages := doc.NumPage()
	if t.maxPages > 0 && numPages > t.maxPages {
		t.logger.Warn("Page count exceeds OCR limit, truncating", "source", path, "pages", numPages, "limit", t.maxPages)
		numPages = t.maxPages
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(strings.Split(t.language, "+")...); err != nil {
		return nil, errors.NewOCRFailedError(path, "tesseract", fmt.Errorf("failed to set language %q: %w", t.language, err))
	}

	texts := make([]string, numPages)
	failures := 0
	var lastErr error
	var confidenceSum float64

	for i := 0; i < numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		img, err := doc.ImagePNG(i, t.renderDPI)
		if err != nil {
			failures++
			lastErr = fmt.Errorf("render page %d: %w", i+1, err)
			t.logger.Warn("Failed to render page", "source", path, "page", i+1, "error", err)
			continue
		}

		text, confidence, err := recognize(client, img)
		if err != nil {
			failures++
			lastErr = fmt.Errorf("recognise page %d: %w", i+1, err)
			t.logger.Warn("Failed to recognise page", "source", path, "page", i+1, "error", err)
			continue
		}

		texts[i] = text
		confidenceSum += confidence
	}

	if numPages > 0 && failures == numPages {
		return nil, errors.NewOCRFailedError(path, "tesseract", fmt.Errorf("all %d pages failed: %w", numPages, lastErr))
	}

	recognised := numPages - failures
	avgConfidence := 0.0
	if recognised > 0 {
		avgConfidence = confidenceSum / float64(recognised)
	}

	t.logger.Info("Tesseract OCR complete",
		"source", path,
		"pages", numPages,
		"failedPages", failures,
		"confidence", fmt.Sprintf("%.2f", avgConfidence),
		"durationMs", time.Since(startTime).Milliseconds())

	return texts, nil
}

// RecognizeImage OCRs a single encoded image (PNG, JPEG, ...)
func (t *TesseractOCR) RecognizeImage(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(strings.Split(t.language, "+")...); err != nil {
		return "", fmt.Errorf("failed to set language %q: %w", t.language, err)
	}

	text, _, err := recognize(client, data)
	return text, err
}

// recognize returns the page text and its mean word confidence.
// Word boxes are read first; Text then reuses that recognition pass.
func recognize(client *gosseract.Client, img []byte) (string, float64, error) {
	if err := client.SetImageFromBytes(img); err != nil {
		return "", 0, fmt.Errorf("failed to set image: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return "", 0, fmt.Errorf("tesseract OCR failed: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", 0, fmt.Errorf("tesseract OCR failed: %w", err)
	}

	return text, meanWordConfidence(boxes), nil
}

// meanWordConfidence averages Tesseract's per-word confidence, scaled to 0..1
func meanWordConfidence(boxes []gosseract.BoundingBox) float64 {
	if len(boxes) == 0 {
		return 0
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence
	}
	return sum / float64(len(boxes)) / 100.0
}
