package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"
)

var (
	ErrNotFound = errors.New("object not found")
)

// DefaultPresignExpiry is used when a caller asks for a zero expiry.
const DefaultPresignExpiry = time.Hour

// Visibility controls the canned ACL applied on upload.
type Visibility int

const (
	Private Visibility = iota
	PublicRead
)

func (v Visibility) String() string {
	if v == PublicRead {
		return "public-read"
	}
	return "private"
}

// ObjectStore defines the operations the service needs from the remote bucket.
// The sync pipeline only ever uses PresignedURL; the rest backs the
// diagnostic endpoints and the health check.
type ObjectStore interface {
	// ListBuckets returns the names of all buckets visible to the credentials.
	ListBuckets(ctx context.Context) ([]string, error)

	// ListObjects returns the keys in bucket. An empty bucket means the
	// configured one.
	ListObjects(ctx context.Context, bucket string) ([]string, error)

	// PutObject uploads content under key and returns its public URL.
	PutObject(ctx context.Context, key string, reader io.Reader, size int64, visibility Visibility) (string, error)

	// PresignedURL returns a time-limited GET URL for key.
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)

	// DeleteObject removes key. Deleting a missing key is not an error.
	DeleteObject(ctx context.Context, key string) error

	// Ping checks if the storage backend is reachable.
	Ping(ctx context.Context) error
}

// Config selects and configures an ObjectStore driver.
type Config struct {
	Driver    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Prefix    string
}

// New creates the ObjectStore named by cfg.Driver.
func New(ctx context.Context, cfg Config) (ObjectStore, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "minio":
		return NewMinIOStorage(MinIOConfig{
			Endpoint:  cfg.Endpoint,
			Region:    cfg.Region,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Bucket:    cfg.Bucket,
			UseSSL:    cfg.UseSSL,
			Prefix:    cfg.Prefix,
		})
	case "s3":
		return NewS3Storage(ctx, S3Config{
			Endpoint:  cfg.Endpoint,
			Region:    cfg.Region,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Bucket:    cfg.Bucket,
			Prefix:    cfg.Prefix,
		})
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// splitEndpoint accepts "host:port" or a full URL and returns the host
// together with whether TLS is implied by the scheme.
func splitEndpoint(endpoint string, useSSL bool) (string, bool, error) {
	if !strings.Contains(endpoint, "://") {
		return strings.TrimSuffix(endpoint, "/"), useSSL, nil
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("failed to parse endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("endpoint %q has no host", endpoint)
	}
	return u.Host, u.Scheme == "https", nil
}

// publicURL builds the durable URL of an object uploaded with public-read.
func publicURL(endpoint, bucket, key string, secure bool) string {
	base := strings.TrimSuffix(endpoint, "/")
	if !strings.Contains(base, "://") {
		scheme := "http"
		if secure {
			scheme = "https"
		}
		base = scheme + "://" + base
	}
	return base + "/" + bucket + "/" + key
}

func objectKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return strings.TrimSuffix(prefix, "/") + "/" + strings.TrimPrefix(key, "/")
}
