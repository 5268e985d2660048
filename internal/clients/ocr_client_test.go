package clients

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/pdfextract-worker/internal/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *OCRClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewOCRClient(&OCRClientConfig{BaseURL: server.URL + "/", APIKey: "test-key"})
	require.NoError(t, err)
	return client
}

func TestNewOCRClientRequiresAPIKey(t *testing.T) {
	client, err := NewOCRClient(&OCRClientConfig{BaseURL: "http://localhost"})
	assert.Nil(t, client)
	assert.True(t, errors.IsCode(err, errors.ErrorConfiguration))

	_, err = NewOCRClient(nil)
	assert.True(t, errors.IsCode(err, errors.ErrorConfiguration))
}

func TestUploadFileSendsMultipartWithPurpose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scan.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 test"), 0o644))

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/files", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "ocr", r.FormValue("purpose"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "scan.pdf", header.Filename)
		data, _ := io.ReadAll(file)
		assert.Equal(t, "%PDF-1.4 test", string(data))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"file-1","object":"file","purpose":"ocr"}`))
	})

	file, err := client.UploadFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "file-1", file.ID)
	assert.Equal(t, "scan.pdf", file.Filename)
	assert.Equal(t, int64(len("%PDF-1.4 test")), file.Bytes)
}

func TestUploadFileRejectsEmptyID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scan.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0o644))

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := client.UploadFile(context.Background(), path)
	assert.True(t, errors.IsCode(err, errors.ErrorTransientService))
}

func TestGetSignedURL(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/files/file-1/url", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("expiry"))
		_, _ = w.Write([]byte(`{"url":"https://files.example/signed"}`))
	})

	signed, err := client.GetSignedURL(context.Background(), "file-1")
	require.NoError(t, err)
	assert.Equal(t, "https://files.example/signed", signed)
}

func TestProcessDocumentSendsDocumentURL(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/ocr", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req OCRRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultOCRModel, req.Model)
		assert.Equal(t, "document_url", req.Document.Type)
		assert.Equal(t, "https://files.example/signed", req.Document.DocumentURL)

		_, _ = w.Write([]byte(`{"model":"mistral-ocr-latest","pages":[{"index":1,"markdown":"two"},{"index":0,"markdown":"one"}]}`))
	})

	resp, err := client.ProcessDocument(context.Background(), "", "https://files.example/signed")
	require.NoError(t, err)
	require.Len(t, resp.Pages, 2)
	assert.Equal(t, "two", resp.Pages[0].Content())
}

func TestDeleteFile(t *testing.T) {
	var deleted string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		deleted = r.URL.Path
		_, _ = w.Write([]byte(`{"id":"file-1","deleted":true}`))
	})

	require.NoError(t, client.DeleteFile(context.Background(), "file-1"))
	assert.Equal(t, "/v1/files/file-1", deleted)

	assert.Error(t, client.DeleteFile(context.Background(), ""))
}

func TestNon2xxIsTransientServiceError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"message":"overloaded"}`))
	})

	_, err := client.RetrieveFile(context.Background(), "file-1")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrorTransientService))
	assert.Contains(t, err.Error(), "overloaded")
}

func TestTransportFailureIsTransientServiceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client, err := NewOCRClient(&OCRClientConfig{BaseURL: url, APIKey: "k"})
	require.NoError(t, err)

	err = client.HealthCheck(context.Background())
	assert.True(t, errors.IsCode(err, errors.ErrorTransientService))
}

func TestOCRPageContentFallsBackToText(t *testing.T) {
	assert.Equal(t, "md", OCRPage{Markdown: "md", Text: "plain"}.Content())
	assert.Equal(t, "plain", OCRPage{Text: "plain"}.Content())
}
