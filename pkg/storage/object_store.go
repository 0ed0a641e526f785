package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/noah-isme/formation-api/pkg/config"
)

// ObjectStore addresses binary objects by key and resolves them to public URLs.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, r io.Reader, size int64) (string, error)
	Remove(ctx context.Context, key string) error
	URL(key string) string
}

var (
	_ ObjectStore = (*LocalStorage)(nil)
	_ ObjectStore = (*MinIOStore)(nil)
)

// MinIOStore stores objects in an S3-compatible bucket.
type MinIOStore struct {
	client        *minio.Client
	bucket        string
	publicBaseURL string
}

// NewMinIOStore connects to the configured endpoint and makes sure the bucket exists.
func NewMinIOStore(ctx context.Context, cfg config.StorageConfig) (*MinIOStore, error) {
	client, err := minio.New(cfg.MinIOEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinIOAccessKey, cfg.MinIOSecretKey, ""),
		Secure: cfg.MinIOUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.MinIOBucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.MinIOBucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinIOBucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.MinIOBucket, err)
		}
	}

	base := cfg.PublicBaseURL
	if base == "" {
		scheme := "http"
		if cfg.MinIOUseSSL {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://%s/%s", scheme, cfg.MinIOEndpoint, cfg.MinIOBucket)
	}

	return &MinIOStore{client: client, bucket: cfg.MinIOBucket, publicBaseURL: strings.TrimRight(base, "/")}, nil
}

// Put uploads the object and returns its public URL.
func (s *MinIOStore) Put(ctx context.Context, key, contentType string, r io.Reader, size int64) (string, error) {
	key = strings.TrimLeft(key, "/")
	if _, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return s.URL(key), nil
}

// Remove deletes the object.
func (s *MinIOStore) Remove(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, strings.TrimLeft(key, "/"), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", key, err)
	}
	return nil
}

// URL returns the public URL of key.
func (s *MinIOStore) URL(key string) string {
	segments := strings.Split(strings.TrimLeft(key, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.publicBaseURL + "/" + strings.Join(segments, "/")
}
