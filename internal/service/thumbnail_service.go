package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"path"
	"strings"
	"time"

	_ "image/gif"
	_ "image/jpeg"

	"go.uber.org/zap"

	"github.com/brightclass/file-api/internal/models"
	"github.com/brightclass/file-api/internal/storage"
	"github.com/brightclass/file-api/pkg/config"
	"github.com/brightclass/file-api/pkg/jobs"
)

// thumbnailable lists the image types the stdlib decoder handles.
var thumbnailable = map[string]struct{}{
	"image/png":  {},
	"image/jpeg": {},
	"image/gif":  {},
}

type thumbnailStore interface {
	AttachThumbnail(ctx context.Context, id, thumbnailKey string) error
	UpdateStatus(ctx context.Context, id string, status models.ProcessingStatus) error
}

type thumbnailJob struct {
	FileID     string
	StorageKey string
	Backend    string
}

// ThumbnailService downscales uploaded images in the background and stores
// the result under the thumbnail partition parallel to the upload tree.
type ThumbnailService struct {
	repo     thumbnailStore
	backends storage.Backends
	queue    *jobs.Queue
	metrics  *MetricsService
	logger   *zap.Logger

	folder  string
	maxEdge int
	enabled bool
}

// NewThumbnailService constructs the service and its worker queue.
func NewThumbnailService(repo thumbnailStore, backends storage.Backends, storageCfg config.StorageConfig, cfg config.ThumbnailsConfig, metrics *MetricsService, logger *zap.Logger) *ThumbnailService {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &ThumbnailService{
		repo:     repo,
		backends: backends,
		metrics:  metrics,
		logger:   logger,
		folder:   storageCfg.ThumbnailFolder,
		maxEdge:  cfg.MaxEdge,
		enabled:  cfg.Enabled,
	}
	if s.folder == "" {
		s.folder = "thumbnails"
	}
	if s.maxEdge <= 0 {
		s.maxEdge = 320
	}
	s.queue = jobs.NewQueue("thumbnails", s.handle, jobs.QueueConfig{Workers: 1, Logger: logger})
	return s
}

// Start launches the worker pool.
func (s *ThumbnailService) Start(ctx context.Context) {
	if s.enabled {
		s.queue.Start(ctx)
	}
}

// Stop drains the workers.
func (s *ThumbnailService) Stop() {
	if s.enabled {
		s.queue.Stop()
	}
}

// Eligible reports whether an upload of this MIME type gets a thumbnail.
func (s *ThumbnailService) Eligible(mimeType string) bool {
	if !s.enabled {
		return false
	}
	_, ok := thumbnailable[strings.ToLower(mimeType)]
	return ok
}

// Enqueue schedules thumbnail generation for a stored image. When the
// buffer is full the file completes without a thumbnail instead of
// blocking the upload response.
func (s *ThumbnailService) Enqueue(ctx context.Context, record *models.FileRecord) {
	job := jobs.Job{Type: "thumbnail", Payload: thumbnailJob{
		FileID:     record.ID,
		StorageKey: record.StorageKey,
		Backend:    record.Backend,
	}}
	if !s.queue.TryEnqueue(job) {
		s.logger.Warn("thumbnail queue full, completing without thumbnail", zap.String("file_id", record.ID))
		if err := s.repo.UpdateStatus(ctx, record.ID, models.StatusCompleted); err != nil {
			s.logger.Error("failed to complete file after thumbnail drop", zap.String("file_id", record.ID), zap.Error(err))
		}
	}
}

func (s *ThumbnailService) handle(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(thumbnailJob)
	if !ok {
		return fmt.Errorf("unexpected thumbnail payload %T", job.Payload)
	}

	adapter := s.backends.ByName(payload.Backend)
	if adapter == nil {
		adapter = s.backends.Primary
	}

	reader, _, err := adapter.Open(ctx, payload.StorageKey)
	if err != nil {
		return fmt.Errorf("open source image %s: %w", payload.StorageKey, err)
	}
	defer reader.Close()

	src, _, err := image.Decode(reader)
	if err != nil {
		// Undecodable bytes will not improve on retry.
		s.logger.Warn("image decode failed, marking file failed",
			zap.String("file_id", payload.FileID), zap.Error(err))
		if statusErr := s.repo.UpdateStatus(ctx, payload.FileID, models.StatusFailed); statusErr != nil {
			s.logger.Error("failed to mark file failed", zap.String("file_id", payload.FileID), zap.Error(statusErr))
		}
		return nil
	}

	thumb := downscale(src, s.maxEdge)
	var buf bytes.Buffer
	if err := png.Encode(&buf, thumb); err != nil {
		return fmt.Errorf("encode thumbnail for %s: %w", payload.FileID, err)
	}

	thumbKey := thumbnailKeyFor(payload.StorageKey, s.folder)
	start := time.Now()
	_, err = adapter.Save(ctx, thumbKey, bytes.NewReader(buf.Bytes()), int64(buf.Len()), "image/png")
	if s.metrics != nil {
		s.metrics.ObserveStorageOp(adapter.Name(), "save", time.Since(start), err)
	}
	if err != nil {
		return fmt.Errorf("save thumbnail %s: %w", thumbKey, err)
	}

	if err := s.repo.AttachThumbnail(ctx, payload.FileID, thumbKey); err != nil {
		adapter.Delete(ctx, thumbKey)
		return fmt.Errorf("attach thumbnail %s: %w", payload.FileID, err)
	}

	s.logger.Info("thumbnail generated",
		zap.String("file_id", payload.FileID), zap.String("thumbnail_key", thumbKey))
	return nil
}

// thumbnailKeyFor mirrors the upload partition under the thumbnail folder
// and normalises the extension to png.
func thumbnailKeyFor(storageKey, folder string) string {
	rest := storageKey
	if idx := strings.Index(storageKey, "/"); idx >= 0 {
		rest = storageKey[idx+1:]
	}
	rest = strings.TrimSuffix(rest, path.Ext(rest)) + ".png"
	return path.Join(folder, rest)
}

// downscale resizes so the longest edge is at most maxEdge, preserving
// aspect ratio. Nearest neighbour is plenty for chat-sized previews.
func downscale(src image.Image, maxEdge int) image.Image {
	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= maxEdge && height <= maxEdge {
		return src
	}

	outW, outH := width, height
	if width >= height {
		outW = maxEdge
		outH = height * maxEdge / width
	} else {
		outH = maxEdge
		outW = width * maxEdge / height
	}
	if outW < 1 {
		outW = 1
	}
	if outH < 1 {
		outH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, outW, outH))
	for y := 0; y < outH; y++ {
		srcY := bounds.Min.Y + y*height/outH
		for x := 0; x < outW; x++ {
			srcX := bounds.Min.X + x*width/outW
			dst.Set(x, y, src.At(srcX, srcY))
		}
	}
	return dst
}
