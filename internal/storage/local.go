package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Local persists files on disk under a base directory.
type Local struct {
	baseDir string
	logger  *zap.Logger
}

// NewLocal ensures the base directory exists and returns a handle.
func NewLocal(baseDir string, logger *zap.Logger) (*Local, error) {
	if baseDir == "" {
		baseDir = "./data"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &Local{baseDir: baseDir, logger: logger}, nil
}

// Name identifies the backend variant.
func (s *Local) Name() string { return BackendLocal }

// Save copies from reader into the target file path and returns the
// relative key as the reference.
func (s *Local) Save(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	path, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("prepare storage directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create storage file: %w", err)
	}
	defer file.Close() //nolint:errcheck
	written, err := io.Copy(file, r)
	if err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("write storage file: %w", err)
	}
	if size >= 0 && written != size {
		// A body that ends early reads as a clean EOF; without this check a
		// truncated upload would commit as success.
		_ = os.Remove(path)
		return "", fmt.Errorf("write storage file: wrote %d of %d declared bytes", written, size)
	}
	return key, nil
}

// Open returns a read handle plus metadata for the stored file.
func (s *Local) Open(ctx context.Context, key string) (io.ReadCloser, *Metadata, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open storage file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close() //nolint:errcheck
		return nil, nil, fmt.Errorf("stat storage file: %w", err)
	}
	return file, s.metadata(key, info.Size(), info.ModTime()), nil
}

// Stat returns file metadata, or nil when the file is absent.
func (s *Local) Stat(ctx context.Context, key string) (*Metadata, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat storage file: %w", err)
	}
	return s.metadata(key, info.Size(), info.ModTime()), nil
}

// Delete removes a stored file. Missing files and permission failures are
// logged and reported as false, never raised.
func (s *Local) Delete(ctx context.Context, key string) bool {
	path, err := s.resolve(key)
	if err != nil {
		s.logger.Warn("refusing to delete unsafe key", zap.String("key", key))
		return false
	}
	if err := os.Remove(path); err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to delete stored file", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	return true
}

// SignedURL is unsupported for disk storage; the serving endpoint streams
// local bytes directly.
func (s *Local) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "", ErrSigningUnsupported
}

func (s *Local) metadata(key string, size int64, modTime time.Time) *Metadata {
	return &Metadata{
		Size:        size,
		ModTime:     modTime,
		ETag:        etagFor(key, size, modTime),
		ContentType: ContentTypeByExtension(key),
	}
}

// resolve joins the key under the base dir, rejecting anything that would
// escape it.
func (s *Local) resolve(key string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("unsafe storage key %q", key)
	}
	return filepath.Join(s.baseDir, cleaned), nil
}

func etagFor(key string, size int64, modTime time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d", key, size, modTime.UnixNano())))
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}
