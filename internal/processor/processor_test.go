package processor

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/pdfextract-worker/internal/errors"
	"github.com/adverant/nexus/pdfextract-worker/internal/storage"
)

var minimalPDF = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")

type fakeExtractor struct {
	result *ExtractionResult
	paths  []string
}

func (f *fakeExtractor) Process(ctx context.Context, path string) *ExtractionResult {
	f.paths = append(f.paths, path)
	if f.result != nil {
		return f.result
	}
	return &ExtractionResult{
		Source: path,
		Method: MethodPrimary,
		Pages:  []Page{newPage(path, 1, "hello world", MethodPrimary)},
	}
}

type fakeStore struct {
	updates  []*storage.JobUpdate
	records  []*storage.ExtractionRecord
	storeErr error
}

func (f *fakeStore) UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error {
	f.updates = append(f.updates, update)
	return nil
}

func (f *fakeStore) StoreExtraction(ctx context.Context, record *storage.ExtractionRecord) error {
	if f.storeErr != nil {
		return f.storeErr
	}
	f.records = append(f.records, record)
	return nil
}

type fakeHandoff struct {
	jobs []string
	err  error
}

func (f *fakeHandoff) PublishExtraction(ctx context.Context, jobID string, result *ExtractionResult) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, jobID)
	return nil
}

func newTestProcessor(t *testing.T, extractor Extractor, store ResultStore, handoff Handoff) *DocumentProcessor {
	t.Helper()
	p, err := NewDocumentProcessor(&ProcessorConfig{
		Extractor:   extractor,
		Store:       store,
		Handoff:     handoff,
		TempDir:     t.TempDir(),
		MaxFileSize: 1 << 20,
	})
	require.NoError(t, err)
	return p
}

func writeMinimalPDF(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "local.pdf")
	require.NoError(t, os.WriteFile(path, minimalPDF, 0o644))
	return path
}

func TestNewDocumentProcessorRequiresExtractor(t *testing.T) {
	_, err := NewDocumentProcessor(nil)
	assert.Error(t, err)

	_, err = NewDocumentProcessor(&ProcessorConfig{TempDir: t.TempDir()})
	assert.Error(t, err)
}

func TestProcessDocumentFromPath(t *testing.T) {
	extractor := &fakeExtractor{}
	store := &fakeStore{}
	handoff := &fakeHandoff{}
	p := newTestProcessor(t, extractor, store, handoff)
	path := writeMinimalPDF(t)

	result, err := p.ProcessDocument(context.Background(), &ProcessRequest{JobID: "job-1", Filename: "local.pdf", FilePath: path})
	require.NoError(t, err)

	assert.Equal(t, []string{path}, extractor.paths)
	assert.Equal(t, MethodPrimary, result.Method)
	assert.Equal(t, 1, result.PageCount)
	assert.Equal(t, 11, result.TotalChars)
	assert.True(t, result.HandedOff)
	assert.False(t, result.Failed)

	require.Len(t, store.records, 1)
	assert.Equal(t, "job-1", store.records[0].JobID)
	assert.Equal(t, path, store.records[0].Source)
	assert.Equal(t, []string{"job-1"}, handoff.jobs)

	// Caller-owned files are left in place
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestProcessDocumentFromBufferCleansUp(t *testing.T) {
	extractor := &fakeExtractor{}
	store := &fakeStore{}
	p := newTestProcessor(t, extractor, store, nil)

	result, err := p.ProcessDocument(context.Background(), &ProcessRequest{
		JobID:      "job-2",
		Filename:   "../upload.pdf",
		FileBuffer: minimalPDF,
	})
	require.NoError(t, err)
	assert.False(t, result.HandedOff)

	require.Len(t, extractor.paths, 1)
	tempPath := extractor.paths[0]
	assert.Equal(t, "upload.pdf", filepath.Base(tempPath))
	assert.Equal(t, p.config.TempDir, filepath.Dir(filepath.Dir(tempPath)))
	_, err = os.Stat(tempPath)
	assert.True(t, os.IsNotExist(err))

	require.Len(t, store.records, 1)
	assert.Equal(t, "../upload.pdf", store.records[0].Source)
}

func TestProcessDocumentFromURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(minimalPDF)
	}))
	defer server.Close()

	extractor := &fakeExtractor{}
	p := newTestProcessor(t, extractor, nil, nil)

	result, err := p.ProcessDocument(context.Background(), &ProcessRequest{
		JobID:    "job-3",
		Filename: "remote.pdf",
		FileURL:  server.URL + "/remote.pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, MethodPrimary, result.Method)
	require.Len(t, extractor.paths, 1)
}

func TestDownloadDoesNotRetryClientErrors(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	p := newTestProcessor(t, &fakeExtractor{}, nil, nil)

	_, err := p.ProcessDocument(context.Background(), &ProcessRequest{JobID: "job-4", FileURL: server.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestProcessDocumentRejectsOversizeFile(t *testing.T) {
	extractor := &fakeExtractor{}
	p := newTestProcessor(t, extractor, nil, nil)
	p.config.MaxFileSize = 10

	_, err := p.ProcessDocument(context.Background(), &ProcessRequest{JobID: "job-5", FileBuffer: minimalPDF})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds maximum")
	assert.Empty(t, extractor.paths)
}

func TestProcessDocumentRejectsNonPDF(t *testing.T) {
	extractor := &fakeExtractor{}
	p := newTestProcessor(t, extractor, nil, nil)

	_, err := p.ProcessDocument(context.Background(), &ProcessRequest{
		JobID:      "job-6",
		Filename:   "notes.txt",
		FileBuffer: []byte("just some plain text, not a document"),
	})
	assert.True(t, errors.IsCode(err, errors.ErrorUnsupportedFormat))
	assert.Empty(t, extractor.paths)
}

func TestProcessDocumentRequiresSource(t *testing.T) {
	p := newTestProcessor(t, &fakeExtractor{}, nil, nil)

	_, err := p.ProcessDocument(context.Background(), &ProcessRequest{JobID: "job-7"})
	assert.ErrorContains(t, err, "no file source")
}

func TestFailedExtractionIsStoredButNotHandedOff(t *testing.T) {
	extractor := &fakeExtractor{result: &ExtractionResult{
		Method: MethodFailed,
		Pages:  []Page{},
		Error:  "primary extraction failed: broken xref",
	}}
	store := &fakeStore{}
	handoff := &fakeHandoff{}
	p := newTestProcessor(t, extractor, store, handoff)

	result, err := p.ProcessDocument(context.Background(), &ProcessRequest{JobID: "job-8", FilePath: writeMinimalPDF(t)})
	require.NoError(t, err)

	assert.True(t, result.Failed)
	assert.Equal(t, MethodFailed, result.Method)
	assert.Equal(t, "primary extraction failed: broken xref", result.Error)
	require.Len(t, store.records, 1)
	assert.Equal(t, "failed", store.records[0].Method)
	assert.Empty(t, handoff.jobs)
}

func TestStoreFailureIsStorageError(t *testing.T) {
	store := &fakeStore{storeErr: stderrors.New("connection refused")}
	handoff := &fakeHandoff{}
	p := newTestProcessor(t, &fakeExtractor{}, store, handoff)

	_, err := p.ProcessDocument(context.Background(), &ProcessRequest{JobID: "job-9", FilePath: writeMinimalPDF(t)})
	assert.True(t, errors.IsCode(err, errors.ErrorStorageFailed))
	assert.Empty(t, handoff.jobs)
}

func TestHandoffFailureIsReturned(t *testing.T) {
	handoff := &fakeHandoff{err: stderrors.New("redis unavailable")}
	p := newTestProcessor(t, &fakeExtractor{}, nil, handoff)

	_, err := p.ProcessDocument(context.Background(), &ProcessRequest{JobID: "job-10", FilePath: writeMinimalPDF(t)})
	assert.ErrorContains(t, err, "redis unavailable")
}

func TestUpdateJobStatusMapsMetadata(t *testing.T) {
	store := &fakeStore{}
	p := newTestProcessor(t, &fakeExtractor{}, store, nil)

	err := p.UpdateJobStatus(context.Background(), "job-11", "completed", 100, map[string]interface{}{
		"extractionMethod": MethodOCRLocal,
		"pageCount":        4,
		"processingTime":   int64(1500),
	})
	require.NoError(t, err)

	err = p.UpdateJobStatus(context.Background(), "job-12", "failed", 0, map[string]interface{}{
		"error": "OCR engine crashed",
	})
	require.NoError(t, err)

	require.Len(t, store.updates, 2)
	done := store.updates[0]
	assert.Equal(t, "ocr_local", done.Method)
	assert.Equal(t, 4, done.PageCount)
	assert.Equal(t, int64(1500), done.ProcessingTimeMs)
	assert.Empty(t, done.ErrorCode)

	failed := store.updates[1]
	assert.Equal(t, string(errors.ErrorExtractionFailed), failed.ErrorCode)
	assert.Equal(t, "OCR engine crashed", failed.ErrorMessage)
}

func TestUpdateJobStatusWithoutStore(t *testing.T) {
	p := newTestProcessor(t, &fakeExtractor{}, nil, nil)
	assert.NoError(t, p.UpdateJobStatus(context.Background(), "job-13", "processing", 10, nil))
}

func TestSafeFilename(t *testing.T) {
	assert.Equal(t, "a.pdf", safeFilename("/etc/../a.pdf"))
	assert.Equal(t, "document.pdf", safeFilename(""))
	assert.Equal(t, "document.pdf", safeFilename("  "))
}
