package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// Backend names reported by adapters and surfaced in X-Served-From.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

// Metadata describes a stored object.
type Metadata struct {
	Size        int64
	ModTime     time.Time
	ETag        string
	ContentType string
}

// Adapter is the uniform contract both backends implement. Stat returns
// (nil, nil) for absent objects and Delete never returns an error; callers
// rely on those shapes for fallback and cleanup paths.
type Adapter interface {
	// Save stores the object under key and returns a reference URL or path.
	Save(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	// Open returns the object bytes and metadata.
	Open(ctx context.Context, key string) (io.ReadCloser, *Metadata, error)
	// Stat returns object metadata, or nil when the object is absent.
	Stat(ctx context.Context, key string) (*Metadata, error)
	// Delete removes the object; false means not found or not permitted.
	Delete(ctx context.Context, key string) bool
	// SignedURL returns a time-limited URL, or an error when the backend
	// cannot presign (local disk serves through the file endpoint instead).
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	// Name identifies the backend variant.
	Name() string
}

// ErrSigningUnsupported is returned by adapters that cannot presign URLs.
var ErrSigningUnsupported = fmt.Errorf("signed urls not supported by this backend")

// PartitionKey places a key under a date partition:
// {folder}/{year}/{month}/{key}. Upload and thumbnail partitions use the
// same rule so the two trees stay parallel.
func PartitionKey(folder, key string, now time.Time) string {
	return path.Join(folder, fmt.Sprintf("%04d", now.Year()), fmt.Sprintf("%02d", int(now.Month())), key)
}

// contentTypes maps extensions to the served Content-Type. Unknown
// extensions fall back to application/octet-stream.
var contentTypes = map[string]string{
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
	".txt":  "text/plain; charset=utf-8",
	".csv":  "text/csv",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".ppt":  "application/vnd.ms-powerpoint",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".zip":  "application/zip",
	".mp3":  "audio/mpeg",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".json": "application/json",
}

// ContentTypeByExtension resolves the Content-Type for a stored key.
func ContentTypeByExtension(key string) string {
	ext := strings.ToLower(path.Ext(key))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}

// InlineDisposition reports whether a content type is rendered inline in
// the browser; everything else downloads as an attachment.
func InlineDisposition(contentType string) bool {
	return strings.HasPrefix(contentType, "image/") || contentType == "application/pdf"
}
