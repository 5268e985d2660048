/**
 * OCR Types - Adapter contracts shared by the extraction policy
 *
 * Local engines recognise a file on disk directly. Cloud services need the
 * file uploaded first; the returned RemoteFile is the handle that must be
 * deleted once OCR is done.
 */

package processor

import (
	"context"
)

// PrimaryExtractor reads the embedded text layer of a PDF, one Page per physical page
type PrimaryExtractor interface {
	Extract(ctx context.Context, path string) ([]Page, error)
}

// LocalOCR recognises every page of a document on this machine.
// Element i of the result is the text of page i+1.
type LocalOCR interface {
	RunOCR(ctx context.Context, path string) ([]string, error)
}

// RemoteFile is a document uploaded to a cloud OCR service
type RemoteFile struct {
	ID       string
	Filename string
	Size     int64
}

// CloudOCR recognises documents through a remote service
type CloudOCR interface {
	Upload(ctx context.Context, path string) (*RemoteFile, error)
	RunOCR(ctx context.Context, file *RemoteFile) ([]string, error)
	Delete(ctx context.Context, file *RemoteFile) error
}
