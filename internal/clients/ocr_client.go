/**
 * OCR Client for the PDF Extraction Worker
 *
 * Talks to a Mistral-compatible document OCR API.
 *
 * OCR Flow:
 * 1. Upload the PDF to the files endpoint with purpose=ocr
 * 2. Retrieve the file record to confirm the upload
 * 3. Request a signed URL for the uploaded file
 * 4. Run OCR on the signed URL; the response carries one entry per page
 * 5. Delete the uploaded file
 *
 * Every failed call is returned as a TRANSIENT_SERVICE_ERROR. Nothing is retried here.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/nexus/pdfextract-worker/internal/errors"
	"github.com/adverant/nexus/pdfextract-worker/internal/logging"
)

const DefaultOCRModel = "mistral-ocr-latest"

// OCRClient handles communication with the cloud OCR service
type OCRClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logging.Logger
}

// OCRClientConfig holds OCR client configuration
type OCRClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// FileObject is an uploaded file record
type FileObject struct {
	ID        string `json:"id"`
	Object    string `json:"object"`
	Bytes     int64  `json:"bytes"`
	CreatedAt int64  `json:"created_at"`
	Filename  string `json:"filename"`
	Purpose   string `json:"purpose"`
}

// SignedURL is a temporary URL the OCR endpoint can fetch the file from
type SignedURL struct {
	URL string `json:"url"`
}

// OCRDocument points the OCR endpoint at a document
type OCRDocument struct {
	Type        string `json:"type"`
	DocumentURL string `json:"document_url"`
}

// OCRRequest represents an OCR processing request
type OCRRequest struct {
	Model              string      `json:"model"`
	Document           OCRDocument `json:"document"`
	IncludeImageBase64 bool        `json:"include_image_base64"`
}

// OCRPage is the recognised content of one page
type OCRPage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
	Text     string `json:"text,omitempty"`
}

// Content returns the page markdown, or plain text when markdown is absent
func (p OCRPage) Content() string {
	if p.Markdown != "" {
		return p.Markdown
	}
	return p.Text
}

// OCRResponse represents the OCR processing response
type OCRResponse struct {
	Pages     []OCRPage `json:"pages"`
	Text      string    `json:"text,omitempty"`
	Model     string    `json:"model"`
	UsageInfo struct {
		PagesProcessed int   `json:"pages_processed"`
		DocSizeBytes   int64 `json:"doc_size_bytes"`
	} `json:"usage_info"`
}

// NewOCRClient creates a new cloud OCR client
func NewOCRClient(cfg *OCRClientConfig) (*OCRClient, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, errors.NewConfigurationError("OCR API key is required for the cloud OCR client", nil)
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.mistral.ai"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 300 * time.Second // 5 minutes for large documents
	}

	return &OCRClient{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logging.NewLogger("ocr-client"),
	}, nil
}

// HealthCheck verifies the OCR service is reachable and the key is accepted
func (c *OCRClient) HealthCheck(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/models", nil)
	if err != nil {
		return err
	}
	_, err = c.do(req, "health check")
	return err
}

// UploadFile uploads a local file for OCR
func (c *OCRClient) UploadFile(ctx context.Context, path string) (*FileObject, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	filename := filepath.Base(path)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file part: %w", err)
	}
	bytesWritten, err := part.Write(data)
	if err != nil {
		return nil, fmt.Errorf("failed to write file data to form: %w", err)
	}
	if bytesWritten != len(data) {
		return nil, fmt.Errorf("incomplete file write: expected %d bytes, wrote %d bytes", len(data), bytesWritten)
	}

	if err := writer.WriteField("purpose", "ocr"); err != nil {
		return nil, fmt.Errorf("failed to write purpose field: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/v1/files", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	startTime := time.Now()
	respBody, err := c.do(req, "upload")
	if err != nil {
		return nil, err
	}

	var file FileObject
	if err := json.Unmarshal(respBody, &file); err != nil {
		return nil, fmt.Errorf("failed to parse upload response: %w (raw response: %s)", err, truncate(respBody))
	}
	if file.ID == "" {
		return nil, errors.NewTransientServiceError("upload", 0, fmt.Errorf("upload succeeded but returned empty file ID"))
	}
	if file.Filename == "" {
		file.Filename = filename
	}
	if file.Bytes == 0 {
		file.Bytes = int64(len(data))
	}

	c.logger.Info("File uploaded", "fileId", file.ID, "filename", file.Filename, "bytes", file.Bytes, "durationMs", time.Since(startTime).Milliseconds())
	return &file, nil
}

// RetrieveFile fetches the record of an uploaded file
func (c *OCRClient) RetrieveFile(ctx context.Context, fileID string) (*FileObject, error) {
	if fileID == "" {
		return nil, fmt.Errorf("file ID is required")
	}

	req, err := c.newRequest(ctx, http.MethodGet, "/v1/files/"+url.PathEscape(fileID), nil)
	if err != nil {
		return nil, err
	}

	respBody, err := c.do(req, "retrieve")
	if err != nil {
		return nil, err
	}

	var file FileObject
	if err := json.Unmarshal(respBody, &file); err != nil {
		return nil, fmt.Errorf("failed to parse file response: %w", err)
	}
	return &file, nil
}

// GetSignedURL returns a temporary download URL for an uploaded file
func (c *OCRClient) GetSignedURL(ctx context.Context, fileID string) (string, error) {
	if fileID == "" {
		return "", fmt.Errorf("file ID is required")
	}

	req, err := c.newRequest(ctx, http.MethodGet, "/v1/files/"+url.PathEscape(fileID)+"/url?expiry=1", nil)
	if err != nil {
		return "", err
	}

	respBody, err := c.do(req, "signed url")
	if err != nil {
		return "", err
	}

	var signed SignedURL
	if err := json.Unmarshal(respBody, &signed); err != nil {
		return "", fmt.Errorf("failed to parse signed URL response: %w", err)
	}
	if signed.URL == "" {
		return "", errors.NewTransientServiceError("signed url", 0, fmt.Errorf("empty signed URL for file %s", fileID))
	}
	return signed.URL, nil
}

// ProcessDocument runs OCR on the document at documentURL
func (c *OCRClient) ProcessDocument(ctx context.Context, model, documentURL string) (*OCRResponse, error) {
	if model == "" {
		model = DefaultOCRModel
	}

	payload, err := json.Marshal(OCRRequest{
		Model: model,
		Document: OCRDocument{
			Type:        "document_url",
			DocumentURL: documentURL,
		},
		IncludeImageBase64: false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal OCR request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/v1/ocr", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	startTime := time.Now()
	respBody, err := c.do(req, "ocr")
	if err != nil {
		return nil, err
	}

	var result OCRResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse OCR response: %w (raw response: %s)", err, truncate(respBody))
	}

	c.logger.Info("OCR complete", "model", model, "pages", len(result.Pages), "durationMs", time.Since(startTime).Milliseconds())
	return &result, nil
}

// DeleteFile removes an uploaded file
func (c *OCRClient) DeleteFile(ctx context.Context, fileID string) error {
	if fileID == "" {
		return fmt.Errorf("file ID is required")
	}

	req, err := c.newRequest(ctx, http.MethodDelete, "/v1/files/"+url.PathEscape(fileID), nil)
	if err != nil {
		return err
	}

	_, err = c.do(req, "delete")
	return err
}

func (c *OCRClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	return req, nil
}

// do executes the request and returns the body of a 2xx response
func (c *OCRClient) do(req *http.Request, operation string) ([]byte, error) {
	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewTransientServiceError(operation, 0,
			fmt.Errorf("HTTP request failed after %v: %w", time.Since(startTime), err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewTransientServiceError(operation, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.NewTransientServiceError(operation, resp.StatusCode,
			fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(respBody)))
	}

	return respBody, nil
}

func truncate(body []byte) string {
	const limit = 512
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
