package processor

import (
	"fmt"
	"os"

	"github.com/gabriel-vasile/mimetype"

	"github.com/adverant/nexus/pdfextract-worker/internal/errors"
)

const pdfMimeType = "application/pdf"

// ValidatePDF checks the file's magic bytes. Declared MIME types are not
// trusted since uploads often arrive as application/octet-stream.
func ValidatePDF(jobID, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return errors.NewUnsupportedFormatError(jobID, "inode/directory")
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return fmt.Errorf("failed to detect file type: %w", err)
	}

	if !mtype.Is(pdfMimeType) {
		return errors.NewUnsupportedFormatError(jobID, mtype.String())
	}
	return nil
}
