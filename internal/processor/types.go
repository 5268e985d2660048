/**
 * Extraction Types - Pages, results, and the methods that produce them
 */

package processor

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Method identifies which extraction path produced a result
type Method string

const (
	MethodPrimary  Method = "primary"
	MethodOCRCloud Method = "ocr_cloud"
	MethodOCRLocal Method = "ocr_local"
	MethodFailed   Method = "failed"
)

// OCRMode selects between sending every document to the cloud and local fallback OCR
type OCRMode string

const (
	OCRModeCloudAlways   OCRMode = "cloud"
	OCRModeLocalFallback OCRMode = "local-fallback"
)

// ParseOCRMode accepts the configured spelling of a mode, case-insensitively
func ParseOCRMode(s string) (OCRMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(OCRModeCloudAlways), "cloud_always":
		return OCRModeCloudAlways, nil
	case string(OCRModeLocalFallback), "local_fallback", "":
		return OCRModeLocalFallback, nil
	default:
		return "", fmt.Errorf("unknown OCR mode %q", s)
	}
}

// Page metadata keys
const (
	MetaSource           = "source"
	MetaPage             = "page"
	MetaPageIndex        = "page_index"
	MetaTotalPages       = "total_pages"
	MetaExtractionMethod = "extraction_method"
	MetaFileID           = "file_id"
	MetaFileSize         = "file_size"
	MetaOriginalFilename = "original_filename"
	MetaOCRReview        = "ocr_review"
	MetaOCRImages        = "ocr_images"
)

// Page is one physical page of a document
type Page struct {
	PageNumber int                    `json:"page_number"`
	Text       string                 `json:"text"`
	Metadata   map[string]interface{} `json:"metadata"`
}

// Method returns the extraction method recorded in the page metadata
func (p Page) Method() Method {
	if m, ok := p.Metadata[MetaExtractionMethod].(Method); ok {
		return m
	}
	if s, ok := p.Metadata[MetaExtractionMethod].(string); ok {
		return Method(s)
	}
	return ""
}

// newPage builds a page with the metadata every page must carry
func newPage(source string, number int, text string, method Method) Page {
	return Page{
		PageNumber: number,
		Text:       text,
		Metadata: map[string]interface{}{
			MetaSource:           source,
			MetaPage:             number,
			MetaPageIndex:        number - 1,
			MetaExtractionMethod: method,
		},
	}
}

// ExtractionResult is the outcome of processing one document
type ExtractionResult struct {
	Source   string        `json:"source"`
	Pages    []Page        `json:"pages"`
	Method   Method        `json:"method"`
	Error    string        `json:"error,omitempty"`
	Warnings []string      `json:"warnings,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Segment is one ordered unit of text handed to downstream chunking
type Segment struct {
	Text     string                 `json:"text"`
	Metadata map[string]interface{} `json:"metadata"`
}

// TotalChars counts characters (code points) across all pages
func (r *ExtractionResult) TotalChars() int {
	return totalChars(r.Pages)
}

// Failed reports whether no extraction method produced text
func (r *ExtractionResult) Failed() bool {
	return r.Method == MethodFailed
}

// Text joins every page's text in page order
func (r *ExtractionResult) Text() string {
	parts := make([]string, 0, len(r.Pages))
	for _, p := range r.Pages {
		parts = append(parts, p.Text)
	}
	return strings.Join(parts, "\n\n")
}

// Segments returns the pages as ordered text/metadata pairs
func (r *ExtractionResult) Segments() []Segment {
	segments := make([]Segment, 0, len(r.Pages))
	for _, p := range r.Pages {
		meta := make(map[string]interface{}, len(p.Metadata))
		for k, v := range p.Metadata {
			meta[k] = v
		}
		segments = append(segments, Segment{Text: p.Text, Metadata: meta})
	}
	return segments
}

func (r *ExtractionResult) warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

func totalChars(pages []Page) int {
	n := 0
	for _, p := range pages {
		n += utf8.RuneCountInString(p.Text)
	}
	return n
}

// stampTotalPages records the final page count on every page
func stampTotalPages(pages []Page) {
	for i := range pages {
		pages[i].Metadata[MetaTotalPages] = len(pages)
	}
}
