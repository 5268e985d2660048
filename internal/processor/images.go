/**
 * Embedded Image Text - OCR for images placed inside text PDFs
 *
 * Used when PDF_EXTRACT_IMAGES is enabled: pdfcpu pulls every embedded image
 * out of the document and the local OCR engine reads each one. The text is
 * attached to the page the image sits on.
 */

package processor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/adverant/nexus/pdfextract-worker/internal/logging"
)

// ImageRecognizer reads the text of a single encoded image
type ImageRecognizer interface {
	RecognizeImage(ctx context.Context, data []byte) (string, error)
}

// ImageTextExtractor OCRs the images embedded in a PDF
type ImageTextExtractor struct {
	recognizer ImageRecognizer
	logger     *logging.Logger
}

// NewImageTextExtractor creates an extractor backed by the given OCR engine
func NewImageTextExtractor(recognizer ImageRecognizer) *ImageTextExtractor {
	return &ImageTextExtractor{
		recognizer: recognizer,
		logger:     logging.NewLogger("image-ocr"),
	}
}

type pageImage struct {
	page  int
	objNr int
	data  []byte
}

// ExtractPageText returns, per page number, the recognised text of each image on that page
func (e *ImageTextExtractor) ExtractPageText(ctx context.Context, path string) (map[int][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	var images []pageImage
	conf := model.NewDefaultConfiguration()
	err = api.ExtractImages(f, nil, func(img model.Image, singleImgPerPage bool, maxPageDigits int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := io.ReadAll(img)
		if err != nil {
			return fmt.Errorf("failed to read image %s on page %d: %w", img.Name, img.PageNr, err)
		}
		images = append(images, pageImage{page: img.PageNr, objNr: img.ObjNr, data: data})
		return nil
	}, conf)
	if err != nil {
		return nil, fmt.Errorf("failed to extract images: %w", err)
	}

	sort.SliceStable(images, func(i, j int) bool {
		if images[i].page != images[j].page {
			return images[i].page < images[j].page
		}
		return images[i].objNr < images[j].objNr
	})

	result := make(map[int][]string)
	for _, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := e.recognizer.RecognizeImage(ctx, img.data)
		if err != nil {
			e.logger.Warn("Image OCR failed, skipping image", "source", path, "page", img.page, "error", err)
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			result[img.page] = append(result[img.page], text)
		}
	}

	e.logger.Debug("Embedded images recognised", "source", path, "images", len(images), "pagesWithText", len(result))
	return result, nil
}

// appendImageText adds recognised image text to the pages it belongs to
func appendImageText(pages []Page, imageText map[int][]string) {
	for i := range pages {
		texts := imageText[pages[i].PageNumber]
		if len(texts) == 0 {
			continue
		}
		var b bytes.Buffer
		b.WriteString(pages[i].Text)
		for _, t := range texts {
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(t)
		}
		pages[i].Text = b.String()
		pages[i].Metadata[MetaOCRImages] = len(texts)
	}
}
