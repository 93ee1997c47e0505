package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"cvtor/internal/config"
)

const (
	thumbnailContentType  = "image/jpeg"
	thumbnailCacheControl = "public, max-age=86400"
	bucketCheckTimeout    = 5 * time.Second
)

// Client stores catalog thumbnails. Objects are written through the in-cluster endpoint and
// presigned against the public one so browsers can fetch them directly.
type Client struct {
	objects   *minio.Client
	presigner *minio.Client
	bucket    string
}

// NewClient connects to MinIO and creates the bucket when missing. An empty public endpoint
// presigns against the internal endpoint.
func NewClient(cfg config.MinIOConfig) (*Client, error) {
	objects, err := dial(cfg, cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	host, secure, err := publicEndpoint(cfg)
	if err != nil {
		return nil, err
	}
	presigner := objects
	if host != cfg.Endpoint || secure != cfg.UseSSL {
		if presigner, err = dial(cfg, host, secure); err != nil {
			return nil, fmt.Errorf("init public minio client: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), bucketCheckTimeout)
	defer cancel()
	if err := ensureBucket(ctx, objects, cfg.Bucket, cfg.Region); err != nil {
		return nil, err
	}

	return &Client{objects: objects, presigner: presigner, bucket: cfg.Bucket}, nil
}

func dial(cfg config.MinIOConfig, host string, secure bool) (*minio.Client, error) {
	return minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
}

// publicEndpoint splits MINIO_PUBLIC_ENDPOINT (a full URL) into host and TLS flag.
func publicEndpoint(cfg config.MinIOConfig) (string, bool, error) {
	raw := strings.TrimSpace(cfg.PublicEndpoint)
	if raw == "" {
		return cfg.Endpoint, cfg.UseSSL, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse minio public endpoint: %w", err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("minio public endpoint %q has no host", raw)
	}
	return u.Host, u.Scheme == "https", nil
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket, region string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("make bucket %q: %w", bucket, err)
	}
	return nil
}

// PutThumbnail overwrites the preview image of a catalog template and returns its key.
func (c *Client) PutThumbnail(ctx context.Context, templateID uint, image []byte) (string, error) {
	key := ThumbnailKey(templateID)
	_, err := c.objects.PutObject(ctx, c.bucket, key, bytes.NewReader(image), int64(len(image)), minio.PutObjectOptions{
		ContentType:  thumbnailContentType,
		CacheControl: thumbnailCacheControl,
	})
	if err != nil {
		return "", fmt.Errorf("put thumbnail %q: %w", key, err)
	}
	return key, nil
}

// PresignThumbnail returns a browser-facing GET link valid for ttl.
func (c *Client) PresignThumbnail(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := c.presigner.PresignedGetObject(ctx, c.bucket, key, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("presign %q: %w", key, err)
	}
	return u.String(), nil
}

// DeleteObject removes an object. A missing object counts as success.
func (c *Client) DeleteObject(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	err := c.objects.RemoveObject(ctx, c.bucket, key, minio.RemoveObjectOptions{})
	if err != nil && !IsNoSuchKey(err) {
		return fmt.Errorf("remove object %q: %w", key, err)
	}
	return nil
}

// ThumbnailKey is the object key of a catalog template preview.
func ThumbnailKey(templateID uint) string {
	return fmt.Sprintf("thumbnails/template/%d/preview.jpg", templateID)
}
