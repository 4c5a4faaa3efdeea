// Package objstore retains original uploaded documents alongside their
// extracted questions.
package objstore

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
)

// FileStore uploads and deletes retained document blobs.
type FileStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (url string, err error)
	Delete(ctx context.Context, key string) error
}

// OSS stores files in an Aliyun OSS bucket.
type OSS struct {
	bucket     *oss.Bucket
	bucketName string
	endpoint   string
}

// NewOSS connects to the bucket and verifies credentials.
func NewOSS(endpoint, accessKeyID, accessKeySecret, bucketName string) (*OSS, error) {
	client, err := oss.New(endpoint, accessKeyID, accessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("oss client: %w", err)
	}
	bucket, err := client.Bucket(bucketName)
	if err != nil {
		return nil, fmt.Errorf("oss bucket %s: %w", bucketName, err)
	}
	return &OSS{bucket: bucket, bucketName: bucketName, endpoint: endpoint}, nil
}

func (s *OSS) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	opts := []oss.Option{oss.WithContext(ctx)}
	if contentType != "" {
		opts = append(opts, oss.ContentType(contentType))
	}
	if err := s.bucket.PutObject(key, bytes.NewReader(data), opts...); err != nil {
		return "", fmt.Errorf("oss put %s: %w", key, err)
	}
	return fmt.Sprintf("https://%s.%s/%s", s.bucketName, s.endpoint, key), nil
}

func (s *OSS) Delete(ctx context.Context, key string) error {
	if err := s.bucket.DeleteObject(key, oss.WithContext(ctx)); err != nil {
		return fmt.Errorf("oss delete %s: %w", key, err)
	}
	return nil
}
