// Package storage persists generated invoice documents in Cloud Storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

const defaultUploadTimeout = 30 * time.Second

// ErrBucketRequired is returned when a store is constructed without a bucket name.
var ErrBucketRequired = errors.New("storage: bucket name is required")

// DocumentStore uploads invoice documents and reports their canonical URLs.
type DocumentStore struct {
	client        *storage.Client
	bucket        string
	uploadTimeout time.Duration
}

// DocumentStoreOption customises the store.
type DocumentStoreOption func(*DocumentStore)

// WithUploadTimeout bounds individual upload calls.
func WithUploadTimeout(timeout time.Duration) DocumentStoreOption {
	return func(s *DocumentStore) {
		if timeout > 0 {
			s.uploadTimeout = timeout
		}
	}
}

// NewDocumentStore constructs a DocumentStore writing into the given bucket.
func NewDocumentStore(client *storage.Client, bucket string, opts ...DocumentStoreOption) (*DocumentStore, error) {
	if client == nil {
		return nil, errors.New("storage: client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, ErrBucketRequired
	}
	store := &DocumentStore{
		client:        client,
		bucket:        bucket,
		uploadTimeout: defaultUploadTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

// Put uploads the document under the given object name and returns its URL.
// Existing objects are overwritten, which keeps regeneration idempotent.
func (s *DocumentStore) Put(ctx context.Context, objectName, contentType string, data []byte) (string, error) {
	objectName = strings.Trim(strings.TrimSpace(objectName), "/")
	if objectName == "" {
		return "", errors.New("storage: object name is required")
	}

	uploadCtx := ctx
	var cancel context.CancelFunc
	if s.uploadTimeout > 0 {
		uploadCtx, cancel = context.WithTimeout(ctx, s.uploadTimeout)
		defer cancel()
	}

	writer := s.client.Bucket(s.bucket).Object(objectName).NewWriter(uploadCtx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("storage: write %s: %w", objectName, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("storage: finalise %s: %w", objectName, err)
	}
	return s.ObjectURL(objectName), nil
}

// ObjectURL returns the canonical GCS URL for an object in the store's bucket.
func (s *DocumentStore) ObjectURL(objectName string) string {
	escaped := url.PathEscape(strings.Trim(objectName, "/"))
	// PathEscape encodes slashes too; restore path separators.
	escaped = strings.ReplaceAll(escaped, "%2F", "/")
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, escaped)
}
