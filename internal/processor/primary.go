/**
 * Primary Extractor - reads the embedded text layer of a PDF
 *
 * No OCR here. Scanned pages come back empty and are left for the policy to
 * decide on.
 */

package processor

import (
	"context"
	"fmt"

	"github.com/ledongthuc/pdf"

	"github.com/adverant/nexus/pdfextract-worker/internal/errors"
	"github.com/adverant/nexus/pdfextract-worker/internal/logging"
)

// PDFTextExtractor extracts plain text page by page
type PDFTextExtractor struct {
	images *ImageTextExtractor
	logger *logging.Logger
}

// PDFTextExtractorConfig holds primary extractor configuration
type PDFTextExtractorConfig struct {
	// Images, when set, appends the OCR'd text of embedded images to each page
	Images *ImageTextExtractor
}

// NewPDFTextExtractor creates a new primary extractor
func NewPDFTextExtractor(cfg *PDFTextExtractorConfig) *PDFTextExtractor {
	e := &PDFTextExtractor{logger: logging.NewLogger("primary")}
	if cfg != nil {
		e.images = cfg.Images
	}
	return e
}

// Extract returns one Page per physical page, empty pages included
func (e *PDFTextExtractor) Extract(ctx context.Context, path string) (pages []Page, err error) {
	// The parser panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = errors.NewExtractionFailedError(path, string(MethodPrimary), fmt.Errorf("PDF parser panic: %v", r))
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, errors.NewExtractionFailedError(path, string(MethodPrimary), fmt.Errorf("open pdf: %w", err))
	}
	defer func() { _ = f.Close() }()

	numPages := r.NumPage()
	pages = make([]Page, 0, numPages)

	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		text := ""
		p := r.Page(i)
		if !p.V.IsNull() {
			// Font resource names are scoped to the page, so let the
			// parser build the font table from this page's resources.
			pageText, pageErr := p.GetPlainText(nil)
			if pageErr != nil {
				e.logger.Warn("Failed to read page text, treating page as empty", "source", path, "page", i, "error", pageErr)
			} else {
				text = pageText
			}
		}

		pages = append(pages, newPage(path, i, text, MethodPrimary))
	}

	if e.images != nil {
		imageText, imgErr := e.images.ExtractPageText(ctx, path)
		if imgErr != nil {
			e.logger.Warn("WARNING: Embedded image OCR failed, continuing with text layer only", "source", path, "error", imgErr)
		} else {
			appendImageText(pages, imageText)
		}
	}

	stampTotalPages(pages)

	e.logger.Debug("Primary extraction complete", "source", path, "pages", numPages, "chars", totalChars(pages))
	return pages, nil
}
