package mock

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Client is an in-memory implementation of aws.S3Client. It also streams
// objects line by line like s3streamer, transparently decompressing gzip.
type S3Client struct {
	mu           sync.Mutex
	files        map[string][]byte
	metadata     map[string]map[string]string
	contentTypes map[string]string
}

// NewS3Client creates an empty store.
func NewS3Client() *S3Client {
	return &S3Client{
		files:        make(map[string][]byte),
		metadata:     make(map[string]map[string]string),
		contentTypes: make(map[string]string),
	}
}

func objectKey(bucket, key string) string {
	return bucket + "/" + key
}

// AddFile stores content under bucket/key.
func (m *S3Client) AddFile(bucket, key string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[objectKey(bucket, key)] = content
}

// AddGzipFile stores content gzipped, the way CloudTrail delivers logs.
func (m *S3Client) AddGzipFile(bucket, key string, content []byte) error {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(content); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	m.AddFile(bucket, key, buf.Bytes())
	return nil
}

// File returns the content stored under bucket/key.
func (m *S3Client) File(bucket, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.files[objectKey(bucket, key)]
	return content, ok
}

// ContentType returns the content type an object was uploaded with.
func (m *S3Client) ContentType(bucket, key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.contentTypes[objectKey(bucket, key)]
}

func (m *S3Client) lookup(bucket, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.files[objectKey(bucket, key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String(fmt.Sprintf("The specified key does not exist: %s", key))}
	}
	return content, nil
}

// GetObject returns the stored object.
func (m *S3Client) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	content, err := m.lookup(aws.ToString(params.Bucket), aws.ToString(params.Key))
	if err != nil {
		return nil, err
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(content)),
		ContentLength: aws.Int64(int64(len(content))),
	}, nil
}

// PutObject stores the request body.
func (m *S3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}

	k := objectKey(aws.ToString(params.Bucket), aws.ToString(params.Key))
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[k] = data
	m.metadata[k] = params.Metadata
	m.contentTypes[k] = aws.ToString(params.ContentType)

	etag := fmt.Sprintf("\"%x\"", len(data))
	return &s3.PutObjectOutput{ETag: aws.String(etag)}, nil
}

// HeadObject returns the size and metadata of the stored object.
func (m *S3Client) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	content, err := m.lookup(aws.ToString(params.Bucket), aws.ToString(params.Key))
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(content))),
		Metadata:      m.metadata[objectKey(aws.ToString(params.Bucket), aws.ToString(params.Key))],
	}, nil
}

// Stream calls fn for every line of the object starting at line offset.
func (m *S3Client) Stream(ctx context.Context, bucket, key string, offset int64, fn func([]byte, int64) error) error {
	key = strings.TrimPrefix(key, bucket+"/")
	content, err := m.lookup(bucket, key)
	if err != nil {
		return err
	}

	var r io.Reader = bytes.NewReader(content)
	if len(content) > 2 && content[0] == 0x1f && content[1] == 0x8b {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return fmt.Errorf("mock S3: %w", err)
		}
		defer zr.Close()
		r = zr
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	lineNum := int64(0)
	for scanner.Scan() {
		if lineNum < offset {
			lineNum++
			continue
		}
		if err := fn(scanner.Bytes(), lineNum); err != nil {
			return err
		}
		lineNum++

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error scanning lines: %w", err)
	}
	return nil
}
