package storage

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
)

// SavedFile describes a stored blob
type SavedFile struct {
	SecureName string `json:"secure_name"`
	URL        string `json:"url"`
}

// BlobStore is the object-store collaborator used for payment receipts
// and generated invoices. Implementations must be safe for concurrent
// use; failures surface as errors to the caller and never mutate any
// pipeline state themselves.
type BlobStore interface {
	SaveFile(ctx context.Context, category string, ownerID uint, filename string, content []byte, contentType string) (*SavedFile, error)
	DeleteFile(ctx context.Context, category string, secureName string) error
}

// secureName derives an unguessable object name, keeping the original
// extension so content type stays recoverable from the key.
func secureName(filename string) string {
	return uuid.New().String() + filepath.Ext(filename)
}

// objectKey lays blobs out as category/ownerID/secureName
func objectKey(category string, ownerID uint, name string) string {
	return fmt.Sprintf("%s/%d/%s", category, ownerID, name)
}
