package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/brightclass/file-api/pkg/config"
)

const cacheControlImmutable = "public, max-age=31536000, immutable"

// S3 stores objects in an S3-compatible bucket via MinIO.
type S3 struct {
	client *minio.Client
	bucket string
	region string
	logger *zap.Logger
}

// NewS3 creates a client from the credential triple.
func NewS3(cfg config.S3Config, logger *zap.Logger) (*S3, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return &S3{client: client, bucket: cfg.Bucket, region: cfg.Region, logger: logger}, nil
}

// EnsureBucket makes sure the bucket exists before use.
func (s *S3) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// Name identifies the backend variant.
func (s *S3) Name() string { return BackendS3 }

// Save uploads the object with content type, long-lived cache headers and
// an inline/attachment disposition set at write time.
func (s *S3) Save(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	if contentType == "" {
		contentType = ContentTypeByExtension(key)
	}
	disposition := "attachment"
	if InlineDisposition(contentType) {
		disposition = "inline"
	}
	opts := minio.PutObjectOptions{
		ContentType:        contentType,
		CacheControl:       cacheControlImmutable,
		ContentDisposition: fmt.Sprintf("%s; filename=%q", disposition, path.Base(key)),
	}
	if _, err := s.client.PutObject(ctx, s.bucket, key, r, size, opts); err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// Open fetches the object bytes and metadata.
func (s *S3) Open(ctx context.Context, key string) (io.ReadCloser, *Metadata, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("get object %s: %w", key, err)
	}
	info, err := obj.Stat()
	if err != nil {
		obj.Close() //nolint:errcheck
		return nil, nil, fmt.Errorf("stat object %s: %w", key, err)
	}
	return obj, metadataFromObjectInfo(key, info), nil
}

// Stat returns object metadata, or nil when the object is absent.
func (s *S3) Stat(ctx context.Context, key string) (*Metadata, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
			return nil, nil
		}
		return nil, fmt.Errorf("stat object %s: %w", key, err)
	}
	return metadataFromObjectInfo(key, info), nil
}

// Delete removes the object; missing objects and permission failures are
// logged and reported as false.
func (s *S3) Delete(ctx context.Context, key string) bool {
	meta, err := s.Stat(ctx, key)
	if err != nil {
		s.logger.Warn("failed to check object before delete", zap.String("key", key), zap.Error(err))
		return false
	}
	if meta == nil {
		s.logger.Debug("object already absent", zap.String("key", key))
		return false
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		s.logger.Warn("failed to delete object", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// SignedURL presigns a GET for the object.
func (s *S3) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign object %s: %w", key, err)
	}
	return u.String(), nil
}

func metadataFromObjectInfo(key string, info minio.ObjectInfo) *Metadata {
	contentType := info.ContentType
	if contentType == "" {
		contentType = ContentTypeByExtension(key)
	}
	etag := info.ETag
	if etag != "" && !isQuoted(etag) {
		etag = `"` + etag + `"`
	}
	return &Metadata{
		Size:        info.Size,
		ModTime:     info.LastModified,
		ETag:        etag,
		ContentType: contentType,
	}
}

func isQuoted(s string) bool {
	return len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"'
}
