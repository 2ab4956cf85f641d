package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOStorage implements ObjectStore using minio-go against any
// S3-compatible endpoint.
type MinIOStorage struct {
	client   *minio.Client
	bucket   string
	prefix   string
	endpoint string
	secure   bool
}

// MinIOConfig holds the configuration for MinIO connection.
type MinIOConfig struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Prefix    string
}

// NewMinIOStorage creates a new MinIO storage instance.
func NewMinIOStorage(cfg MinIOConfig) (*MinIOStorage, error) {
	host, secure, err := splitEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &MinIOStorage{
		client:   client,
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		endpoint: cfg.Endpoint,
		secure:   secure,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *MinIOStorage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

// ListBuckets returns the names of all buckets.
func (s *MinIOStorage) ListBuckets(ctx context.Context) ([]string, error) {
	buckets, err := s.client.ListBuckets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list buckets: %w", err)
	}

	names := make([]string, 0, len(buckets))
	for _, b := range buckets {
		names = append(names, b.Name)
	}
	return names, nil
}

// ListObjects returns every key in bucket, recursively.
func (s *MinIOStorage) ListObjects(ctx context.Context, bucket string) ([]string, error) {
	if bucket == "" {
		bucket = s.bucket
	}

	var keys []string
	for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    s.prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// PutObject uploads content and returns the object's public URL.
func (s *MinIOStorage) PutObject(ctx context.Context, key string, reader io.Reader, size int64, visibility Visibility) (string, error) {
	key = objectKey(s.prefix, key)

	opts := minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	}
	if visibility == PublicRead {
		opts.UserMetadata = map[string]string{"x-amz-acl": "public-read"}
	}

	if _, err := s.client.PutObject(ctx, s.bucket, key, reader, size, opts); err != nil {
		return "", fmt.Errorf("failed to put object: %w", err)
	}

	return publicURL(s.endpoint, s.bucket, key, s.secure), nil
}

// PresignedURL returns a time-limited GET URL for key.
func (s *MinIOStorage) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if expiry <= 0 {
		expiry = DefaultPresignExpiry
	}

	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectKey(s.prefix, key), expiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to presign object: %w", err)
	}
	return u.String(), nil
}

// DeleteObject removes an object from the bucket.
func (s *MinIOStorage) DeleteObject(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, objectKey(s.prefix, key), minio.RemoveObjectOptions{})
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" {
			return nil
		}
		return fmt.Errorf("failed to remove object: %w", err)
	}

	return nil
}

// Ping checks if MinIO is reachable.
func (s *MinIOStorage) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to ping MinIO: %w", err)
	}
	return nil
}
