package audit

import (
	"context"
	"fmt"
)

// SinkConfig selects an archive backend.
type SinkConfig struct {
	Backend  string // "s3" or "gcs"
	Bucket   string
	Region   string
	Endpoint string
}

// NewSink builds the archive sink named by cfg.Backend.
func NewSink(ctx context.Context, cfg SinkConfig) (Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("audit archive bucket is required")
	}
	switch cfg.Backend {
	case "s3":
		return NewS3Sink(ctx, S3SinkConfig{Bucket: cfg.Bucket, Region: cfg.Region, Endpoint: cfg.Endpoint})
	case "gcs":
		return newGCSSink(ctx, cfg.Bucket)
	default:
		return nil, fmt.Errorf("unknown audit archive backend %q", cfg.Backend)
	}
}
