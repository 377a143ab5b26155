package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/brightclass/file-api/internal/models"
	"github.com/brightclass/file-api/internal/ratelimit"
	"github.com/brightclass/file-api/internal/security"
	"github.com/brightclass/file-api/internal/storage"
	"github.com/brightclass/file-api/pkg/config"
	appErrors "github.com/brightclass/file-api/pkg/errors"
	"github.com/brightclass/file-api/pkg/retry"
)

type fileStore interface {
	Create(ctx context.Context, record *models.FileRecord) error
	GetByID(ctx context.Context, id string) (*models.FileRecord, error)
	ListByTeacher(ctx context.Context, teacherID string, limit, offset int) ([]models.FileRecord, error)
	Delete(ctx context.Context, id string) error
}

// UploadInput describes one incoming multipart upload.
type UploadInput struct {
	TeacherID string
	SessionID *string
	MessageID *string
	Filename  string
	MimeType  string
	SizeBytes int64
	Reader    io.Reader
}

// UploadResult pairs the created record with non-fatal validation warnings.
type UploadResult struct {
	File     *models.FileRecord `json:"file"`
	Warnings []string           `json:"warnings,omitempty"`
}

// UploadService runs the full upload pipeline: rate limit, quota, security
// validation, key generation, storage write with retry, metadata commit and
// background processing.
type UploadService struct {
	repo       fileStore
	quota      *QuotaService
	validator  *security.Validator
	keygen     *security.KeyGenerator
	limiter    ratelimit.Limiter
	backends   storage.Backends
	thumbnails *ThumbnailService
	analytics  *AnalyticsService
	metrics    *MetricsService
	logger     *zap.Logger

	uploadFolder string
}

// NewUploadService constructs the service.
func NewUploadService(
	repo fileStore,
	quota *QuotaService,
	validator *security.Validator,
	keygen *security.KeyGenerator,
	limiter ratelimit.Limiter,
	backends storage.Backends,
	thumbnails *ThumbnailService,
	analytics *AnalyticsService,
	metrics *MetricsService,
	storageCfg config.StorageConfig,
	logger *zap.Logger,
) *UploadService {
	if logger == nil {
		logger = zap.NewNop()
	}
	folder := storageCfg.UploadFolder
	if folder == "" {
		folder = "uploads"
	}
	return &UploadService{
		repo:         repo,
		quota:        quota,
		validator:    validator,
		keygen:       keygen,
		limiter:      limiter,
		backends:     backends,
		thumbnails:   thumbnails,
		analytics:    analytics,
		metrics:      metrics,
		logger:       logger,
		uploadFolder: folder,
	}
}

// Upload stores one file and commits its metadata.
func (s *UploadService) Upload(ctx context.Context, input UploadInput) (*UploadResult, error) {
	limit, err := s.limiter.Check(ctx, input.TeacherID)
	if err != nil {
		// A broken limiter store must not take uploads down with it.
		s.logger.Warn("rate limit check failed, allowing upload", zap.Error(err))
	} else if !limit.Allowed {
		return nil, appErrors.Clone(appErrors.ErrRateLimited,
			"upload rate limit exceeded, try again at "+limit.ResetAt.UTC().Format(time.RFC3339))
	}

	usage, err := s.quota.Usage(ctx, input.TeacherID)
	if err != nil {
		return nil, err
	}

	result := s.validator.Validate(security.Upload{
		Filename:   input.Filename,
		SizeBytes:  input.SizeBytes,
		MimeType:   input.MimeType,
		UsedBytes:  usage.UsedBytes,
		QuotaBytes: usage.CapBytes,
	})
	if !result.Valid {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, result.Errors)
	}

	now := time.Now().UTC()
	key := s.keygen.Generate(input.TeacherID, input.Filename, now)
	storageKey := storage.PartitionKey(s.uploadFolder, key, now)

	contentType := input.MimeType
	if contentType == "" {
		contentType = storage.ContentTypeByExtension(storageKey)
	}

	// A failed save attempt may have consumed part of the body, so every
	// attempt must restart from the first byte.
	body, err := seekableBody(input.Reader)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read upload body")
	}

	adapter := s.backends.Primary
	start := time.Now()
	_, err = retry.DoValue(ctx, "storage save", func(ctx context.Context) (string, error) {
		if _, seekErr := body.Seek(0, io.SeekStart); seekErr != nil {
			return "", seekErr
		}
		return adapter.Save(ctx, storageKey, body, input.SizeBytes, contentType)
	}, retry.Options{IsRetryable: func(err error) bool {
		return !appErrors.IsClientError(err)
	}})
	if s.metrics != nil {
		s.metrics.ObserveStorageOp(adapter.Name(), "save", time.Since(start), err)
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncUpload(adapter.Name(), "error")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store file")
	}

	record := &models.FileRecord{
		TeacherID:    input.TeacherID,
		StorageKey:   storageKey,
		OriginalName: input.Filename,
		MimeType:     contentType,
		SizeBytes:    input.SizeBytes,
		Backend:      adapter.Name(),
		Status:       models.StatusCompleted,
		SessionID:    input.SessionID,
		MessageID:    input.MessageID,
		CreatedAt:    now,
	}
	if meta, statErr := adapter.Stat(ctx, storageKey); statErr == nil && meta != nil {
		record.ETag = meta.ETag
	}
	thumbnailed := s.thumbnails != nil && s.thumbnails.Eligible(contentType)
	if thumbnailed {
		record.Status = models.StatusPending
	}

	if err := s.repo.Create(ctx, record); err != nil {
		// The metadata row is the source of truth; without it the stored
		// object is unreachable, so remove it rather than leak bytes.
		if !adapter.Delete(ctx, storageKey) {
			s.logger.Error("orphaned object after metadata failure",
				zap.String("storage_key", storageKey), zap.String("backend", adapter.Name()))
		}
		if s.metrics != nil {
			s.metrics.IncUpload(adapter.Name(), "error")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record file metadata")
	}

	s.quota.Invalidate(ctx, input.TeacherID)

	if thumbnailed {
		s.thumbnails.Enqueue(ctx, record)
	}
	if s.analytics != nil {
		s.analytics.Record(models.AccessEvent{
			TeacherID:  input.TeacherID,
			StorageKey: storageKey,
			Backend:    adapter.Name(),
			Method:     "UPLOAD",
			Status:     201,
			SizeBytes:  input.SizeBytes,
		})
	}
	if s.metrics != nil {
		s.metrics.IncUpload(adapter.Name(), "ok")
	}

	s.logger.Info("file uploaded",
		zap.String("file_id", record.ID),
		zap.String("teacher_id", input.TeacherID),
		zap.String("storage_key", storageKey),
		zap.String("backend", adapter.Name()),
		zap.Int64("size_bytes", input.SizeBytes))

	return &UploadResult{File: record, Warnings: result.Warnings}, nil
}

// seekableBody returns the upload body as a rewindable stream. Multipart
// file parts already seek; anything else is buffered once.
func seekableBody(r io.Reader) (io.ReadSeeker, error) {
	if rs, ok := r.(io.ReadSeeker); ok {
		return rs, nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}

// Get returns one file record owned by the teacher.
func (s *UploadService) Get(ctx context.Context, fileID, teacherID string) (*models.FileRecord, error) {
	record, err := s.repo.GetByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "file not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load file")
	}
	if record.TeacherID != teacherID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "file belongs to another teacher")
	}
	return record, nil
}

// List returns the teacher's files, newest first.
func (s *UploadService) List(ctx context.Context, teacherID string, limit, offset int) ([]models.FileRecord, error) {
	records, err := s.repo.ListByTeacher(ctx, teacherID, limit, offset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list files")
	}
	return records, nil
}

// Delete removes the stored object first and then the metadata row, so a
// failure in between leaves an orphaned row instead of an orphaned object.
func (s *UploadService) Delete(ctx context.Context, fileID, teacherID string) error {
	record, err := s.Get(ctx, fileID, teacherID)
	if err != nil {
		return err
	}

	adapter := s.backends.ByName(record.Backend)
	if adapter == nil {
		adapter = s.backends.Primary
	}

	if !adapter.Delete(ctx, record.StorageKey) {
		s.logger.Warn("stored object missing during delete",
			zap.String("storage_key", record.StorageKey), zap.String("backend", record.Backend))
	}
	if record.ThumbnailKey != nil && *record.ThumbnailKey != "" {
		adapter.Delete(ctx, *record.ThumbnailKey)
	}

	if err := s.repo.Delete(ctx, fileID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "file not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete file metadata")
	}

	s.quota.Invalidate(ctx, teacherID)

	if s.analytics != nil {
		s.analytics.Record(models.AccessEvent{
			TeacherID:  teacherID,
			StorageKey: record.StorageKey,
			Backend:    record.Backend,
			Method:     "DELETE",
			Status:     204,
		})
	}
	return nil
}

// Usage reports the teacher's quota position.
func (s *UploadService) Usage(ctx context.Context, teacherID string) (models.QuotaUsage, error) {
	return s.quota.Usage(ctx, teacherID)
}
