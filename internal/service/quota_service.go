package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/brightclass/file-api/internal/models"
	appErrors "github.com/brightclass/file-api/pkg/errors"
)

type usageReader interface {
	UsageByTeacher(ctx context.Context, teacherID string) (int64, error)
}

type usageCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

const quotaCacheTTL = 5 * time.Minute

// QuotaService reads per-teacher byte usage, caching sums in Redis so the
// shared counter holds across instances.
type QuotaService struct {
	repo   usageReader
	cache  usageCache
	logger *zap.Logger
	cap    int64
}

// NewQuotaService constructs the service.
func NewQuotaService(repo usageReader, cache usageCache, logger *zap.Logger, capBytes int64) *QuotaService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QuotaService{repo: repo, cache: cache, logger: logger, cap: capBytes}
}

// Usage returns the teacher's current usage against the cap.
func (s *QuotaService) Usage(ctx context.Context, teacherID string) (models.QuotaUsage, error) {
	key := quotaCacheKey(teacherID)

	if s.cache != nil {
		var cached int64
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return models.QuotaUsage{UsedBytes: cached, CapBytes: s.cap}, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("quota cache read failed", zap.Error(err))
		}
	}

	used, err := s.repo.UsageByTeacher(ctx, teacherID)
	if err != nil {
		return models.QuotaUsage{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read storage usage")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, used, quotaCacheTTL); err != nil {
			s.logger.Warn("quota cache write failed", zap.Error(err))
		}
	}

	return models.QuotaUsage{UsedBytes: used, CapBytes: s.cap}, nil
}

// Invalidate drops the cached sum after an upload or delete changes it.
func (s *QuotaService) Invalidate(ctx context.Context, teacherID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, quotaCacheKey(teacherID)); err != nil {
		s.logger.Warn("quota cache invalidate failed", zap.Error(err))
	}
}

func quotaCacheKey(teacherID string) string {
	return fmt.Sprintf("quota:usage:%s", teacherID)
}
