package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/brightclass/file-api/internal/models"
	"github.com/brightclass/file-api/internal/storage"
	"github.com/brightclass/file-api/internal/token"
	"github.com/brightclass/file-api/pkg/config"
	appErrors "github.com/brightclass/file-api/pkg/errors"
)

type fileLookup interface {
	GetByStorageKey(ctx context.Context, storageKey string) (*models.FileRecord, error)
}

type sessionValidator interface {
	Validate(ctx context.Context, sessionID, teacherID string) (bool, error)
}

// ServeRequest carries everything the serving pipeline needs for one fetch.
type ServeRequest struct {
	Path      string
	OwnerID   string
	SessionID string
	Token     string
	Method    string
}

// ServeResult is a ready-to-stream response. Reader is nil for HEAD
// requests; callers close it otherwise.
type ServeResult struct {
	Reader      io.ReadCloser
	Metadata    *storage.Metadata
	Record      *models.FileRecord
	Backend     string
	ContentType string
	Disposition string
	ETag        string
}

// FileLink is a shareable URL for one stored file.
type FileLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ServeService resolves and authorises file fetches. Requests walk a fixed
// pipeline: path validation, token or session authorisation, ownership
// check, then primary storage with a secondary fallback.
type ServeService struct {
	repo     fileLookup
	sessions sessionValidator
	signer   token.Signer
	backends storage.Backends
	metrics  *MetricsService
	logger   *zap.Logger

	apiPrefix    string
	tokenTTL     time.Duration
	signedURLTTL time.Duration
}

// NewServeService constructs the service.
func NewServeService(
	repo fileLookup,
	sessions sessionValidator,
	signer token.Signer,
	backends storage.Backends,
	metrics *MetricsService,
	cfg *config.Config,
	logger *zap.Logger,
) *ServeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ServeService{
		repo:         repo,
		sessions:     sessions,
		signer:       signer,
		backends:     backends,
		metrics:      metrics,
		logger:       logger,
		apiPrefix:    cfg.APIPrefix,
		tokenTTL:     cfg.Security.TokenTTL,
		signedURLTTL: cfg.Storage.SignedURLTTL,
	}
}

// Serve authorises the request and opens the stored object.
func (s *ServeService) Serve(ctx context.Context, req ServeRequest) (*ServeResult, error) {
	cleaned, err := sanitizePath(req.Path)
	if err != nil {
		return nil, err
	}

	ownerID := req.OwnerID
	if req.Token != "" {
		claims, err := s.signer.Verify(req.Token)
		if err != nil {
			return nil, err
		}
		if claims.Filename != cleaned {
			return nil, appErrors.Clone(appErrors.ErrInvalidToken, "token does not cover this file")
		}
		ownerID = claims.TeacherID
	} else if req.SessionID != "" && s.sessions != nil {
		ok, err := s.sessions.Validate(ctx, req.SessionID, ownerID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrFileAccess.Code, appErrors.ErrFileAccess.Status, appErrors.ErrFileAccess.Message)
		}
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "session is not valid for this teacher")
		}
	}

	record, err := s.lookupRecord(ctx, cleaned)
	if err != nil {
		return nil, err
	}
	if record != nil && ownerID != "" && record.TeacherID != ownerID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "file belongs to another teacher")
	}

	adapter, meta, err := s.locate(ctx, cleaned)
	if err != nil {
		return nil, err
	}
	if adapter == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "file not found")
	}

	contentType := storage.ContentTypeByExtension(cleaned)
	if record != nil && record.MimeType != "" {
		contentType = record.MimeType
	}

	result := &ServeResult{
		Metadata:    meta,
		Record:      record,
		Backend:     adapter.Name(),
		ContentType: contentType,
		Disposition: dispositionFor(contentType, record, cleaned),
		ETag:        meta.ETag,
	}

	if strings.EqualFold(req.Method, "HEAD") {
		return result, nil
	}

	start := time.Now()
	reader, openMeta, err := adapter.Open(ctx, cleaned)
	if s.metrics != nil {
		s.metrics.ObserveStorageOp(adapter.Name(), "open", time.Since(start), err)
	}
	if err != nil {
		// Internal storage detail stays in the log, not the response.
		s.logger.Error("failed to open stored object",
			zap.String("storage_key", cleaned), zap.String("backend", adapter.Name()), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrFileAccess.Code, appErrors.ErrFileAccess.Status, appErrors.ErrFileAccess.Message)
	}
	if openMeta != nil {
		result.Metadata = openMeta
		if openMeta.ETag != "" {
			result.ETag = openMeta.ETag
		}
	}
	result.Reader = reader
	return result, nil
}

// Link returns a time-limited URL for the file: a presigned URL when the
// backend supports signing, otherwise a tokenised serve-endpoint URL.
func (s *ServeService) Link(ctx context.Context, record *models.FileRecord) (*FileLink, error) {
	adapter := s.backends.ByName(record.Backend)
	if adapter == nil {
		adapter = s.backends.Primary
	}

	signed, err := adapter.SignedURL(ctx, record.StorageKey, s.signedURLTTL)
	if err == nil {
		return &FileLink{URL: signed, ExpiresAt: time.Now().Add(s.signedURLTTL)}, nil
	}
	if !errors.Is(err, storage.ErrSigningUnsupported) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign file url")
	}

	now := time.Now().UTC()
	tok, err := s.signer.Issue(models.AccessClaims{
		TeacherID: record.TeacherID,
		Filename:  record.StorageKey,
		Purpose:   models.PurposeFileAccess,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.tokenTTL),
	}, s.tokenTTL)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue file token")
	}

	query := url.Values{}
	query.Set("ownerId", record.TeacherID)
	query.Set("token", tok)
	return &FileLink{
		URL:       fmt.Sprintf("%s/files/%s?%s", s.apiPrefix, record.StorageKey, query.Encode()),
		ExpiresAt: now.Add(s.tokenTTL),
	}, nil
}

func (s *ServeService) lookupRecord(ctx context.Context, storageKey string) (*models.FileRecord, error) {
	record, err := s.repo.GetByStorageKey(ctx, storageKey)
	if err != nil {
		// Thumbnails and other derived objects have no row of their own.
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrFileAccess.Code, appErrors.ErrFileAccess.Status, appErrors.ErrFileAccess.Message)
	}
	return record, nil
}

// locate stats the primary backend and falls back to the secondary on a
// miss. Returns (nil, nil, nil) when neither backend holds the object.
func (s *ServeService) locate(ctx context.Context, storageKey string) (storage.Adapter, *storage.Metadata, error) {
	primary := s.backends.Primary

	start := time.Now()
	meta, err := primary.Stat(ctx, storageKey)
	if s.metrics != nil {
		s.metrics.ObserveStorageOp(primary.Name(), "stat", time.Since(start), err)
	}
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrFileAccess.Code, appErrors.ErrFileAccess.Status, appErrors.ErrFileAccess.Message)
	}
	if meta != nil {
		return primary, meta, nil
	}

	secondary := s.backends.Secondary
	if secondary == nil {
		return nil, nil, nil
	}

	start = time.Now()
	meta, err = secondary.Stat(ctx, storageKey)
	if s.metrics != nil {
		s.metrics.ObserveStorageOp(secondary.Name(), "stat", time.Since(start), err)
	}
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrFileAccess.Code, appErrors.ErrFileAccess.Status, appErrors.ErrFileAccess.Message)
	}
	if meta == nil {
		return nil, nil, nil
	}

	if s.metrics != nil {
		s.metrics.IncServeFallback()
	}
	s.logger.Info("served from secondary backend",
		zap.String("storage_key", storageKey), zap.String("backend", secondary.Name()))
	return secondary, meta, nil
}

// sanitizePath normalises the requested path and rejects traversal
// attempts before any filesystem or object-store call.
func sanitizePath(raw string) (string, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "/")
	if trimmed == "" {
		return "", appErrors.Clone(appErrors.ErrPathRequired, "")
	}

	for _, segment := range strings.Split(trimmed, "/") {
		if segment == ".." || strings.HasPrefix(segment, "~") {
			return "", appErrors.Clone(appErrors.ErrInvalidPath, "")
		}
	}

	cleaned := path.Clean(trimmed)
	if cleaned == "." || strings.HasPrefix(cleaned, "..") || path.IsAbs(cleaned) {
		return "", appErrors.Clone(appErrors.ErrInvalidPath, "")
	}
	return cleaned, nil
}

func dispositionFor(contentType string, record *models.FileRecord, storageKey string) string {
	name := path.Base(storageKey)
	if record != nil && record.OriginalName != "" {
		name = record.OriginalName
	}
	if storage.InlineDisposition(contentType) {
		return fmt.Sprintf("inline; filename=%q", name)
	}
	return fmt.Sprintf("attachment; filename=%q", name)
}
