package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/brightclass/file-api/internal/models"
	"github.com/brightclass/file-api/pkg/config"
	"github.com/brightclass/file-api/pkg/jobs"
)

type accessEventWriter interface {
	Insert(ctx context.Context, event *models.AccessEvent) error
}

// AnalyticsService records file access events off the request path. Events
// ride an in-memory queue; when the buffer is full they are dropped and
// counted, never blocking an upload or a serve.
type AnalyticsService struct {
	repo    accessEventWriter
	queue   *jobs.Queue
	metrics *MetricsService
	logger  *zap.Logger
	enabled bool
}

// NewAnalyticsService constructs the service and its worker queue.
func NewAnalyticsService(repo accessEventWriter, cfg config.AnalyticsConfig, metrics *MetricsService, logger *zap.Logger) *AnalyticsService {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &AnalyticsService{
		repo:    repo,
		metrics: metrics,
		logger:  logger,
		enabled: cfg.Enabled,
	}
	s.queue = jobs.NewQueue("analytics", s.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		Logger:     logger,
	})
	return s
}

// Start launches the worker pool.
func (s *AnalyticsService) Start(ctx context.Context) {
	if s.enabled {
		s.queue.Start(ctx)
	}
}

// Stop drains the workers.
func (s *AnalyticsService) Stop() {
	if s.enabled {
		s.queue.Stop()
	}
}

// Record enqueues one access event. Fire and forget.
func (s *AnalyticsService) Record(event models.AccessEvent) {
	if !s.enabled {
		return
	}
	if !s.queue.TryEnqueue(jobs.Job{Type: "access_event", Payload: &event}) {
		if s.metrics != nil {
			s.metrics.IncAnalyticsDropped()
		}
		s.logger.Warn("analytics buffer full, dropping access event",
			zap.String("storage_key", event.StorageKey), zap.String("method", event.Method))
	}
}

func (s *AnalyticsService) handle(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(*models.AccessEvent)
	if !ok {
		return fmt.Errorf("unexpected analytics payload %T", job.Payload)
	}
	return s.repo.Insert(ctx, event)
}
