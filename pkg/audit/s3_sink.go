package audit

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Sink writes audit segments to an S3 bucket.
type S3Sink struct {
	client *s3.Client
	bucket string
}

// S3SinkConfig holds configuration for S3Sink.
type S3SinkConfig struct {
	Bucket   string
	Region   string
	Endpoint string // Optional custom endpoint (for MinIO, LocalStack, etc.)
}

// NewS3Sink creates a sink using the default AWS credential chain.
func NewS3Sink(ctx context.Context, cfg S3SinkConfig) (*S3Sink, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO/LocalStack
		}
	})
	return NewS3SinkWithClient(client, cfg.Bucket), nil
}

func NewS3SinkWithClient(client *s3.Client, bucket string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket}
}

func (s *S3Sink) Put(ctx context.Context, key string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("s3 put failed: %w", err)
	}
	return nil
}
