package report

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	json "github.com/goccy/go-json"

	"github.com/Snapchat/aws-support-tickets-aggregator/aws"
)

// Sink publishes a finished report.
type Sink interface {
	Write(ctx context.Context, r Report) error
}

// NewSink selects a sink by URI scheme: s3://bucket/key or file:///abs/path.
// An empty URI yields a nil sink.
func NewSink(uri string, client aws.S3Client) (Sink, error) {
	if uri == "" {
		return nil, nil
	}
	switch {
	case strings.HasPrefix(uri, "s3://"):
		sink, err := NewS3Sink(client, uri)
		if err != nil {
			return nil, err
		}
		return sink, nil
	case strings.HasPrefix(uri, "file:"):
		sink, err := NewFileSink(uri)
		if err != nil {
			return nil, err
		}
		return sink, nil
	default:
		return nil, fmt.Errorf("unsupported report URI: %s", uri)
	}
}

// S3Sink uploads reports to S3. A key ending in "/" is a prefix and each
// report is written to <prefix><runId>.json.
type S3Sink struct {
	client aws.S3Client
	bucket string
	key    string
}

// NewS3Sink creates an S3Sink from an S3 URI.
func NewS3Sink(client aws.S3Client, uri string) (*S3Sink, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid S3 URI: %w", err)
	}
	if u.Scheme != "s3" {
		return nil, fmt.Errorf("invalid S3 URI scheme: %s", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("S3 URI has no bucket: %s", uri)
	}
	if client == nil {
		return nil, fmt.Errorf("S3 client is required for %s", uri)
	}

	return &S3Sink{
		client: client,
		bucket: u.Host,
		key:    strings.TrimPrefix(u.Path, "/"),
	}, nil
}

// Key returns the object key a report is written to.
func (s *S3Sink) Key(r Report) string {
	if s.key == "" || strings.HasSuffix(s.key, "/") {
		return s.key + r.RunID + ".json"
	}
	return s.key
}

func (s *S3Sink) Write(ctx context.Context, r Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         sdkaws.String(s.Key(r)),
		Body:        bytes.NewReader(data),
		ContentType: sdkaws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload report: %w", err)
	}
	return nil
}

// FileSink writes reports to the local filesystem.
type FileSink struct {
	path string
}

// NewFileSink creates a FileSink from a file URI. The path must be absolute.
func NewFileSink(uri string) (*FileSink, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid file URI: %w", err)
	}
	if u.Scheme != "file" {
		return nil, fmt.Errorf("invalid file URI scheme: %s", u.Scheme)
	}

	cleanPath := filepath.Clean(u.Path)
	if !filepath.IsAbs(cleanPath) {
		return nil, fmt.Errorf("report path must be absolute: %s", cleanPath)
	}

	if err := os.MkdirAll(filepath.Dir(cleanPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	return &FileSink{path: cleanPath}, nil
}

func (f *FileSink) Write(ctx context.Context, r Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(f.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}
	return nil
}
