// Package gcs archives raw result pages to Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/JakeFAU/results-harvester/internal/results"
)

// Config names the archive bucket.
type Config struct {
	Bucket string `mapstructure:"bucket"`
}

// BlobStore writes pages to one bucket. Archive paths embed the page hash, so
// an object that already exists holds the same bytes and is never rewritten.
type BlobStore struct {
	client *storage.Client
	bucket string
}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: gcs client is required", results.ErrConfiguration)
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("%w: gcs bucket is required", results.ErrConfiguration)
	}
	return &BlobStore{client: client, bucket: cfg.Bucket}, nil
}

// PutObject uploads data in a single request and returns its gs:// URI. The
// DoesNotExist precondition makes the upload idempotent, which lets the client
// retry it; losing the precondition means the page is already archived.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("object path is required")
	}
	uri := fmt.Sprintf("gs://%s/%s", s.bucket, path)

	obj := s.client.Bucket(s.bucket).Object(path).If(storage.Conditions{DoesNotExist: true})
	w := obj.NewWriter(ctx)
	w.ChunkSize = 0 // pages are small; skip the resumable session
	w.ContentType = contentType
	w.CRC32C = crc32.Checksum(data, castagnoli)
	w.SendCRC32C = true

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write %s: %w", uri, err)
	}
	if err := w.Close(); err != nil {
		if alreadyArchived(err) {
			return uri, nil
		}
		return "", fmt.Errorf("upload %s: %w", uri, err)
	}
	return uri, nil
}

func alreadyArchived(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}
