//go:build gcp

package audit

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
)

// GCSSink writes audit segments to a Google Cloud Storage bucket.
type GCSSink struct {
	client *storage.Client
	bucket string
}

// NewGCSSink creates a sink using Application Default Credentials.
func NewGCSSink(ctx context.Context, bucket string) (*GCSSink, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSSink{client: client, bucket: bucket}, nil
}

func (s *GCSSink) Put(ctx context.Context, key string, body []byte) error {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/x-ndjson"

	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs close failed: %w", err)
	}
	return nil
}

// Close closes the GCS client.
func (s *GCSSink) Close() error {
	return s.client.Close()
}

func newGCSSink(ctx context.Context, bucket string) (Sink, error) {
	return NewGCSSink(ctx, bucket)
}
