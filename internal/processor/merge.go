package processor

import (
	"fmt"
)

// mergeOCRPages replaces primary page text with OCR text page by page.
//
// Pages the OCR engine did not return keep their primary text and method.
// OCR pages beyond the primary page count are appended, flagged for review.
// With no primary pages there is nothing to conflict with, so OCR pages are
// taken as they are.
func mergeOCRPages(source string, primary []Page, ocrTexts []string, method Method) ([]Page, []string) {
	if len(primary) == 0 {
		return pagesFromOCR(source, ocrTexts, method), nil
	}

	var warnings []string

	merged := make([]Page, 0, max(len(primary), len(ocrTexts)))
	for i, p := range primary {
		if i < len(ocrTexts) {
			page := newPage(source, p.PageNumber, ocrTexts[i], method)
			copyExtraMetadata(page.Metadata, p.Metadata)
			merged = append(merged, page)
			continue
		}
		merged = append(merged, clonePage(p))
	}

	if len(ocrTexts) < len(primary) {
		warnings = append(warnings, fmt.Sprintf(
			"OCR returned %d of %d pages; pages %d-%d keep primary text",
			len(ocrTexts), len(primary), len(ocrTexts)+1, len(primary)))
	}

	if len(ocrTexts) > len(primary) {
		next := len(primary) + 1
		for _, text := range ocrTexts[len(primary):] {
			page := newPage(source, next, text, method)
			page.Metadata[MetaOCRReview] = true
			merged = append(merged, page)
			next++
		}
		warnings = append(warnings, fmt.Sprintf(
			"OCR returned %d pages but primary extraction found %d; extra pages appended for review",
			len(ocrTexts), len(primary)))
	}

	return merged, warnings
}

// pagesFromOCR numbers OCR output from page 1
func pagesFromOCR(source string, texts []string, method Method) []Page {
	pages := make([]Page, 0, len(texts))
	for i, text := range texts {
		pages = append(pages, newPage(source, i+1, text, method))
	}
	return pages
}

// copyExtraMetadata carries over keys the primary extractor added, without
// overwriting the keys that describe the new text.
func copyExtraMetadata(dst, src map[string]interface{}) {
	for k, v := range src {
		switch k {
		case MetaExtractionMethod, MetaOCRImages:
			continue
		}
		if _, exists := dst[k]; !exists {
			dst[k] = v
		}
	}
}

func clonePage(p Page) Page {
	meta := make(map[string]interface{}, len(p.Metadata))
	for k, v := range p.Metadata {
		meta[k] = v
	}
	p.Metadata = meta
	return p
}
