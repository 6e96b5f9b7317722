package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"neurospace-backend/internal/config"
	"neurospace-backend/internal/logger"
)

// ObjectStore is the slice of S3 the ingestion pipeline needs. The
// orchestrator depends on this interface so tests can run against an
// in-memory fake.
type ObjectStore interface {
	GetSize(ctx context.Context, key string) (int64, error)
	Download(ctx context.Context, key string) (string, error)
	Upload(ctx context.Context, key string, body io.Reader, contentType string) error
	Delete(ctx context.Context, key string) error
}

// S3Store implements ObjectStore against an S3 bucket.
type S3Store struct {
	client *s3.Client
	bucket string
}

func NewS3Store(ctx context.Context, cfg *config.Config) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &S3Store{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.S3BucketName,
	}, nil
}

// GetSize returns the object size without fetching the body, so
// oversized files are rejected before any bytes move.
func (s *S3Store) GetSize(ctx context.Context, key string) (int64, error) {
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to stat object %s: %w", key, err)
	}
	if head.ContentLength == nil {
		return 0, fmt.Errorf("object %s has no content length", key)
	}
	return *head.ContentLength, nil
}

// Download fetches the object into a temp file and returns its path.
// The caller owns cleanup; CleanupTemp removes it on every exit path.
func (s *S3Store) Download(ctx context.Context, key string) (string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("failed to download object %s: %w", key, err)
	}
	defer out.Body.Close()

	tmp, err := os.CreateTemp("", "ingest-*"+filepath.Ext(key))
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := io.Copy(tmp, out.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}

	return tmp.Name(), nil
}

func (s *S3Store) Upload(ctx context.Context, key string, body io.Reader, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload object %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

// CleanupTemp removes a downloaded temp file. Failures are logged and
// swallowed so cleanup never masks the error that got us here.
func CleanupTemp(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("Failed to remove temp file", "path", path, "error", err)
	}
}
