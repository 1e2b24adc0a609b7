// Package export uploads NDJSON map exports to S3-compatible object storage.
package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"maps-workers/internal/common/config"
)

const contentType = "application/ndjson"

// Upload is where an export ended up.
type Upload struct {
	Bucket      string `json:"bucket"`
	Key         string `json:"key"`
	Size        int64  `json:"size"`
	DownloadURL string `json:"downloadUrl,omitempty"`
}

// objectStore is the part of *minio.Client the sink uses.
type objectStore interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

type S3Sink struct {
	client   objectStore
	bucket   string
	region   string
	prefix   string
	urlTTL   time.Duration
	now      func() time.Time
	initOnce sync.Once
	initErr  error
}

func NewS3Sink(cfg config.ExportConfig) (*S3Sink, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("export endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("export access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("export bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	return newS3Sink(client, bucket, region, cfg.Prefix), nil
}

func newS3Sink(client objectStore, bucket, region, prefix string) *S3Sink {
	return &S3Sink{
		client: client,
		bucket: bucket,
		region: region,
		prefix: strings.Trim(strings.TrimSpace(prefix), "/"),
		urlTTL: time.Hour,
		now:    time.Now,
	}
}

func (s *S3Sink) ensureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

// Upload stores content under <prefix>/<timestamp>.ndjson and returns a
// presigned download URL valid for an hour.
func (s *S3Sink) Upload(ctx context.Context, content []byte) (*Upload, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}

	key := s.objectKey()
	info, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return nil, fmt.Errorf("put %s: %w", key, err)
	}

	upload := &Upload{Bucket: s.bucket, Key: key, Size: info.Size}
	if u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.urlTTL, nil); err == nil {
		upload.DownloadURL = u.String()
	}
	return upload, nil
}

func (s *S3Sink) objectKey() string {
	name := s.now().UTC().Format("20060102T150405.000Z") + ".ndjson"
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}
