/**
 * Cloud OCR - document OCR through the remote OCR service
 */

package processor

import (
	"context"
	"fmt"
	"sort"

	"github.com/adverant/nexus/pdfextract-worker/internal/clients"
	"github.com/adverant/nexus/pdfextract-worker/internal/logging"
)

// OCRService is the subset of the OCR API the cloud adapter uses
type OCRService interface {
	UploadFile(ctx context.Context, path string) (*clients.FileObject, error)
	RetrieveFile(ctx context.Context, fileID string) (*clients.FileObject, error)
	GetSignedURL(ctx context.Context, fileID string) (string, error)
	ProcessDocument(ctx context.Context, model, documentURL string) (*clients.OCRResponse, error)
	DeleteFile(ctx context.Context, fileID string) error
}

// MistralOCR adapts the OCR API to the CloudOCR contract
type MistralOCR struct {
	service OCRService
	model   string
	logger  *logging.Logger
}

// NewMistralOCR creates a cloud OCR adapter
func NewMistralOCR(service OCRService, model string) *MistralOCR {
	if model == "" {
		model = clients.DefaultOCRModel
	}
	return &MistralOCR{
		service: service,
		model:   model,
		logger:  logging.NewLogger("cloud-ocr"),
	}
}

// Upload sends the file to the OCR service
func (m *MistralOCR) Upload(ctx context.Context, path string) (*RemoteFile, error) {
	file, err := m.service.UploadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return &RemoteFile{
		ID:       file.ID,
		Filename: file.Filename,
		Size:     file.Bytes,
	}, nil
}

// RunOCR recognises an uploaded file and returns its pages in index order
func (m *MistralOCR) RunOCR(ctx context.Context, file *RemoteFile) ([]string, error) {
	info, err := m.service.RetrieveFile(ctx, file.ID)
	if err != nil {
		return nil, fmt.Errorf("retrieve uploaded file: %w", err)
	}
	m.logger.Debug("Uploaded file confirmed", "fileId", info.ID, "bytes", info.Bytes, "purpose", info.Purpose)

	signedURL, err := m.service.GetSignedURL(ctx, file.ID)
	if err != nil {
		return nil, fmt.Errorf("get signed URL: %w", err)
	}

	resp, err := m.service.ProcessDocument(ctx, m.model, signedURL)
	if err != nil {
		return nil, fmt.Errorf("process document: %w", err)
	}

	return pageTexts(resp), nil
}

// Delete removes the uploaded file
func (m *MistralOCR) Delete(ctx context.Context, file *RemoteFile) error {
	return m.service.DeleteFile(ctx, file.ID)
}

// pageTexts orders pages by index. A response without pages but with
// top-level text is treated as a single page.
func pageTexts(resp *clients.OCRResponse) []string {
	if len(resp.Pages) == 0 {
		if resp.Text != "" {
			return []string{resp.Text}
		}
		return nil
	}

	pages := make([]clients.OCRPage, len(resp.Pages))
	copy(pages, resp.Pages)
	sort.SliceStable(pages, func(i, j int) bool {
		return pages[i].Index < pages[j].Index
	})

	texts := make([]string, 0, len(pages))
	for _, p := range pages {
		texts = append(texts, p.Content())
	}
	return texts
}
