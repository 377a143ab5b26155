package storage

import (
	"go.uber.org/zap"

	"github.com/brightclass/file-api/pkg/config"
)

// Backends holds the resolved adapters for the process lifetime. Primary
// receives writes; Secondary, when present, is consulted on serve misses.
type Backends struct {
	Primary   Adapter
	Secondary Adapter
}

// Has reports whether any adapter of the given name is configured.
func (b Backends) Has(name string) bool {
	if b.Primary != nil && b.Primary.Name() == name {
		return true
	}
	return b.Secondary != nil && b.Secondary.Name() == name
}

// ByName returns the adapter with the given backend name, or nil.
func (b Backends) ByName(name string) Adapter {
	if b.Primary != nil && b.Primary.Name() == name {
		return b.Primary
	}
	if b.Secondary != nil && b.Secondary.Name() == name {
		return b.Secondary
	}
	return nil
}

// Resolve picks the active backend once at startup. Priority order:
// an explicit STORAGE_BACKEND value (falling back with a warning when s3
// is named without credentials), then auto-detection by credential
// presence, then local disk. Call sites reuse the returned adapters and
// never re-detect.
func Resolve(cfg config.StorageConfig, logger *zap.Logger) (Backends, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	local, err := NewLocal(cfg.LocalDir, logger)
	if err != nil {
		return Backends{}, err
	}

	var s3 *S3
	if cfg.S3.Configured() {
		s3, err = NewS3(cfg.S3, logger)
		if err != nil {
			// Misconfiguration is never fatal: log and continue on disk.
			logger.Warn("s3 client init failed, continuing with local storage", zap.Error(err))
			s3 = nil
		}
	}

	switch cfg.Backend {
	case config.BackendLocal:
		if s3 != nil {
			return Backends{Primary: local, Secondary: s3}, nil
		}
		return Backends{Primary: local}, nil
	case config.BackendS3:
		if s3 == nil {
			logger.Warn("s3 backend requested but credentials missing, falling back to local storage")
			return Backends{Primary: local}, nil
		}
		return Backends{Primary: s3, Secondary: local}, nil
	case "":
		// Auto-detect: prefer the object store when credentials exist.
		if s3 != nil {
			logger.Info("detected s3 credentials, using object storage",
				zap.String("endpoint", cfg.S3.Endpoint), zap.String("bucket", cfg.S3.Bucket))
			return Backends{Primary: s3, Secondary: local}, nil
		}
		return Backends{Primary: local}, nil
	default:
		logger.Warn("unknown storage backend, falling back to local storage", zap.String("backend", cfg.Backend))
		return Backends{Primary: local}, nil
	}
}
