// Package gcs provides an ArchiveStore backed by Google Cloud Storage. Raw
// index and chapter HTML is archived so failed extractions can be replayed
// without re-fetching the source site.
package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"novelkeeper/internal/novel"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	// Prefix is prepended to every object path, e.g. "raw".
	Prefix string
}

// ArchiveStore writes raw HTML artifacts to a configured GCS bucket.
type ArchiveStore struct {
	client *storage.Client
	cfg    Config
}

// New creates a GCS-backed archive store.
func New(client *storage.Client, cfg Config) (*ArchiveStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required: %w", novel.ErrNotConfigured)
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required: %w", novel.ErrNotConfigured)
	}
	return &ArchiveStore{client: client, cfg: cfg}, nil
}

// Put uploads data to the configured bucket and returns a gs:// URI.
func (s *ArchiveStore) Put(ctx context.Context, objectPath string, contentType string, data []byte) (string, error) {
	if strings.TrimSpace(objectPath) == "" {
		return "", fmt.Errorf("path is required")
	}
	full := objectPath
	if s.cfg.Prefix != "" {
		full = path.Join(s.cfg.Prefix, objectPath)
	}
	writer := s.client.Bucket(s.cfg.Bucket).Object(full).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.cfg.Bucket, full), nil
}
