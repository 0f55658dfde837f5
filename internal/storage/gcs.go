package storage

import (
	"context"
	"fmt"
	"strings"

	gcs "cloud.google.com/go/storage"
)

// GCSStore implements ObjectStore on a Google Cloud Storage bucket.
// The access URL is either PublicBaseURL + key (when the bucket is fronted by
// a CDN) or the canonical storage.googleapis.com form.
type GCSStore struct {
	client        *gcs.Client
	bucket        string
	publicBaseURL string
}

// NewGCSStore opens a GCS client for bucket. publicBaseURL may be empty.
func NewGCSStore(ctx context.Context, bucket, publicBaseURL string) (*GCSStore, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("storage: bucket name is required")
	}
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: open gcs client: %w", err)
	}
	return &GCSStore{
		client:        client,
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}, nil
}

// Upload writes content under key and returns its access URL.
func (s *GCSStore) Upload(ctx context.Context, key string, content []byte, contentType string) (string, error) {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := w.Write(content); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("storage: write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("storage: close %s: %w", key, err)
	}
	return s.URLFor(key), nil
}

// URLFor builds the access URL for an already-stored key.
func (s *GCSStore) URLFor(key string) string {
	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + key
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, key)
}

// Close releases the underlying client.
func (s *GCSStore) Close() error { return s.client.Close() }
