package main

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/pdfextract-worker/internal/errors"
)

func TestCheckInputRejectsNonPDFWithoutJobID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.pdf")
	require.NoError(t, os.WriteFile(path, []byte("<html><body>hi</body></html>"), 0o644))

	err := checkInput(path)
	require.Error(t, err)

	var pe *errors.ProcessingError
	require.True(t, stderrors.As(err, &pe))
	assert.Equal(t, errors.ErrorUnsupportedFormat, pe.Code)
	assert.Empty(t, pe.JobID)
}
