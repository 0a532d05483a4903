package gcsuploader

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

// ObjectStore reads and writes whole objects in one bucket.
// This interface enables mocking the bucket in tests.
type ObjectStore interface {
	Put(ctx context.Context, objectName, contentType string, r io.Reader) error
	Get(ctx context.Context, objectName string) ([]byte, error)
	Bucket() string
}

// GCSObjectStore is the Google Cloud Storage implementation of ObjectStore.
type GCSObjectStore struct {
	client *storage.Client
	bucket string
}

// NewGCSObjectStore opens a storage client for bucket.
// It assumes Application Default Credentials are configured.
func NewGCSObjectStore(ctx context.Context, bucket string) (*GCSObjectStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGCSObjectStore: create storage client: %w", err)
	}
	return &GCSObjectStore{client: client, bucket: bucket}, nil
}

func (s *GCSObjectStore) Bucket() string { return s.bucket }

// Put uploads the content of r under objectName.
func (s *GCSObjectStore) Put(ctx context.Context, objectName, contentType string, r io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("Put: copy to GCS writer: %w", err)
	}

	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("Put: finalize upload of %s: %w", objectName, err)
	}
	return nil
}

// Get downloads objectName.
func (s *GCSObjectStore) Get(ctx context.Context, objectName string) ([]byte, error) {
	rc, err := s.client.Bucket(s.bucket).Object(objectName).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("Get: reading object %s/%s: %w", s.bucket, objectName, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("Get: reading bytes: %w", err)
	}
	return data, nil
}

func (s *GCSObjectStore) Close() error {
	return s.client.Close()
}

// ParseGCSURI splits gs://bucket/path/to/object into bucket and object path.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}

	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// GCSURI builds the gs:// URI of an object.
func GCSURI(bucket, object string) string {
	return "gs://" + bucket + "/" + object
}
