package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/brightclass/file-api/internal/models"
)

// Limiter bounds uploads per owner within a fixed window.
type Limiter interface {
	// Check consumes one slot for the owner and reports whether the
	// upload may proceed.
	Check(ctx context.Context, teacherID string) (models.RateLimitResult, error)
}

// Config carries the shared window parameters.
type Config struct {
	Window     time.Duration
	MaxUploads int
}

func (c Config) normalized() Config {
	if c.Window <= 0 {
		c.Window = time.Hour
	}
	if c.MaxUploads <= 0 {
		c.MaxUploads = 50
	}
	return c
}

// NewLimiter picks the redis-backed limiter when a client is available so
// counters hold across horizontally scaled instances, and falls back to a
// process-local window otherwise.
func NewLimiter(client *redis.Client, cfg Config, logger *zap.Logger) Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client != nil {
		return &RedisLimiter{client: client, cfg: cfg.normalized(), logger: logger}
	}
	logger.Warn("redis unavailable, upload rate limits are per-instance only")
	return NewMemoryLimiter(cfg)
}

// RedisLimiter implements a fixed window on a shared Redis counter.
type RedisLimiter struct {
	client *redis.Client
	cfg    Config
	logger *zap.Logger
}

// Check increments the owner's window counter, creating the window with a
// TTL on first use.
func (l *RedisLimiter) Check(ctx context.Context, teacherID string) (models.RateLimitResult, error) {
	key := fmt.Sprintf("ratelimit:upload:%s", teacherID)

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return models.RateLimitResult{}, fmt.Errorf("rate limit incr %s: %w", key, err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.cfg.Window).Err(); err != nil {
			l.logger.Warn("failed to set rate window expiry", zap.String("key", key), zap.Error(err))
		}
	}

	ttl, err := l.client.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = l.cfg.Window
	}
	resetAt := time.Now().Add(ttl)

	if count > int64(l.cfg.MaxUploads) {
		return models.RateLimitResult{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}
	return models.RateLimitResult{
		Allowed:   true,
		Remaining: l.cfg.MaxUploads - int(count),
		ResetAt:   resetAt,
	}, nil
}

type window struct {
	count       int
	windowStart time.Time
}

// MemoryLimiter keeps fixed windows in process memory. State is not shared
// across instances; production deployments should run the redis limiter.
type MemoryLimiter struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

// NewMemoryLimiter constructs an in-process limiter.
func NewMemoryLimiter(cfg Config) *MemoryLimiter {
	return &MemoryLimiter{
		cfg:     cfg.normalized(),
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// Check consumes one slot, resetting the window when it has elapsed.
func (l *MemoryLimiter) Check(ctx context.Context, teacherID string) (models.RateLimitResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[teacherID]
	if !ok || now.After(w.windowStart.Add(l.cfg.Window)) {
		w = &window{windowStart: now}
		l.windows[teacherID] = w
	}

	resetAt := w.windowStart.Add(l.cfg.Window)
	if w.count >= l.cfg.MaxUploads {
		return models.RateLimitResult{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}

	w.count++
	return models.RateLimitResult{
		Allowed:   true,
		Remaining: l.cfg.MaxUploads - w.count,
		ResetAt:   resetAt,
	}, nil
}
