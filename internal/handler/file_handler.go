package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/brightclass/file-api/internal/dto"
	"github.com/brightclass/file-api/internal/models"
	"github.com/brightclass/file-api/internal/service"
	appErrors "github.com/brightclass/file-api/pkg/errors"
	"github.com/brightclass/file-api/pkg/response"
)

// servedCacheControl is applied to file bodies. Storage keys are immutable,
// so clients may cache aggressively.
const servedCacheControl = "public, max-age=31536000, immutable"

// statusStreamAborted marks responses whose body write failed mid-stream,
// usually a client disconnect (nginx's 499 convention).
const statusStreamAborted = 499

type uploadService interface {
	Upload(ctx context.Context, input service.UploadInput) (*service.UploadResult, error)
	Get(ctx context.Context, fileID, teacherID string) (*models.FileRecord, error)
	List(ctx context.Context, teacherID string, limit, offset int) ([]models.FileRecord, error)
	Delete(ctx context.Context, fileID, teacherID string) error
	Usage(ctx context.Context, teacherID string) (models.QuotaUsage, error)
}

type serveService interface {
	Serve(ctx context.Context, req service.ServeRequest) (*service.ServeResult, error)
	Link(ctx context.Context, record *models.FileRecord) (*service.FileLink, error)
}

type accessRecorder interface {
	Record(event models.AccessEvent)
}

// FileHandler manages upload, management and serving endpoints.
type FileHandler struct {
	uploads   uploadService
	serve     serveService
	analytics accessRecorder
	logger    *zap.Logger
}

// NewFileHandler constructs the handler.
func NewFileHandler(uploads uploadService, serve serveService, analytics accessRecorder, logger *zap.Logger) *FileHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileHandler{uploads: uploads, serve: serve, analytics: analytics, logger: logger}
}

// Upload godoc
// @Summary Upload a file
// @Tags Files
// @Accept multipart/form-data
// @Produce json
// @Param teacherId formData string true "Owning teacher"
// @Param sessionId formData string false "Chat session"
// @Param messageId formData string false "Chat message"
// @Param file formData file true "File content"
// @Success 201 {object} response.Envelope
// @Router /uploads [post]
func (h *FileHandler) Upload(c *gin.Context) {
	var req dto.UploadFileRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "teacherId is required"))
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file"))
		return
	}
	defer src.Close()

	result, err := h.uploads.Upload(c.Request.Context(), service.UploadInput{
		TeacherID: req.TeacherID,
		SessionID: optional(req.SessionID),
		MessageID: optional(req.MessageID),
		Filename:  fileHeader.Filename,
		MimeType:  fileHeader.Header.Get("Content-Type"),
		SizeBytes: fileHeader.Size,
		Reader:    src,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	payload := uploadResponse{UploadResult: result}
	if link, linkErr := h.serve.Link(c.Request.Context(), result.File); linkErr == nil && link != nil {
		payload.URL = link.URL
	} else if linkErr != nil {
		h.logger.Warn("failed to build upload link", zap.Error(linkErr))
	}
	response.Created(c, payload)
}

type uploadResponse struct {
	*service.UploadResult
	URL string `json:"url,omitempty"`
}

// List godoc
// @Summary List a teacher's files
// @Tags Files
// @Produce json
// @Param teacherId query string true "Owning teacher"
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {object} response.Envelope
// @Router /uploads [get]
func (h *FileHandler) List(c *gin.Context) {
	var req dto.ListFilesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "teacherId is required"))
		return
	}
	records, err := h.uploads.List(c.Request.Context(), req.TeacherID, req.Limit, req.Offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records)
}

// Get godoc
// @Summary Get file metadata
// @Tags Files
// @Produce json
// @Param id path string true "File ID"
// @Param teacherId query string true "Owning teacher"
// @Success 200 {object} response.Envelope
// @Router /uploads/{id} [get]
func (h *FileHandler) Get(c *gin.Context) {
	teacherID := strings.TrimSpace(c.Query("teacherId"))
	if teacherID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "teacherId is required"))
		return
	}
	record, err := h.uploads.Get(c.Request.Context(), c.Param("id"), teacherID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record)
}

// Link godoc
// @Summary Get a shareable URL for a file
// @Tags Files
// @Produce json
// @Param id path string true "File ID"
// @Param teacherId query string true "Owning teacher"
// @Success 200 {object} response.Envelope
// @Router /uploads/{id}/url [get]
func (h *FileHandler) Link(c *gin.Context) {
	teacherID := strings.TrimSpace(c.Query("teacherId"))
	if teacherID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "teacherId is required"))
		return
	}
	record, err := h.uploads.Get(c.Request.Context(), c.Param("id"), teacherID)
	if err != nil {
		response.Error(c, err)
		return
	}
	link, err := h.serve.Link(c.Request.Context(), record)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link)
}

// Delete godoc
// @Summary Delete a file and its metadata
// @Tags Files
// @Produce json
// @Param id path string true "File ID"
// @Param teacherId query string true "Owning teacher"
// @Success 204
// @Router /uploads/{id} [delete]
func (h *FileHandler) Delete(c *gin.Context) {
	teacherID := strings.TrimSpace(c.Query("teacherId"))
	if teacherID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "teacherId is required"))
		return
	}
	if err := h.uploads.Delete(c.Request.Context(), c.Param("id"), teacherID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Quota godoc
// @Summary Get a teacher's storage quota position
// @Tags Files
// @Produce json
// @Param teacherId query string true "Owning teacher"
// @Success 200 {object} response.Envelope
// @Router /quota [get]
func (h *FileHandler) Quota(c *gin.Context) {
	teacherID := strings.TrimSpace(c.Query("teacherId"))
	if teacherID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "teacherId is required"))
		return
	}
	usage, err := h.uploads.Usage(c.Request.Context(), teacherID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, usage)
}

// Serve godoc
// @Summary Serve a stored file
// @Tags Files
// @Produce octet-stream
// @Param filepath path string true "Storage key"
// @Param ownerId query string false "Owning teacher"
// @Param sessionId query string false "Chat session"
// @Param token query string false "Access token"
// @Success 200 {file} binary
// @Router /files/{filepath} [get]
func (h *FileHandler) Serve(c *gin.Context) {
	start := time.Now()
	req := service.ServeRequest{
		Path:      c.Param("filepath"),
		OwnerID:   strings.TrimSpace(c.Query("ownerId")),
		SessionID: strings.TrimSpace(c.Query("sessionId")),
		Token:     strings.TrimSpace(c.Query("token")),
		Method:    c.Request.Method,
	}

	result, err := h.serve.Serve(c.Request.Context(), req)
	if err != nil {
		h.recordAccess(req, nil, appErrors.FromError(err).Status, 0, start)
		response.Error(c, err)
		return
	}
	if result.Reader != nil {
		defer result.Reader.Close() //nolint:errcheck
	}

	c.Header("ETag", result.ETag)
	c.Header("Cache-Control", servedCacheControl)
	c.Header("Content-Disposition", result.Disposition)
	c.Header("X-Served-From", result.Backend)
	c.Header("X-Content-Type-Options", "nosniff")
	c.Header("X-Frame-Options", "DENY")

	if etagMatches(c.GetHeader("If-None-Match"), result.ETag) {
		h.recordAccess(req, result, http.StatusNotModified, 0, start)
		c.Status(http.StatusNotModified)
		return
	}

	if result.Reader == nil {
		c.Header("Content-Type", result.ContentType)
		c.Header("Content-Length", fmt.Sprintf("%d", result.Metadata.Size))
		h.recordAccess(req, result, http.StatusOK, 0, start)
		c.Status(http.StatusOK)
		return
	}

	c.DataFromReader(http.StatusOK, result.Metadata.Size, result.ContentType, result.Reader, nil)

	// Recorded after the body is written so the duration covers the transfer
	// and a mid-stream failure is not logged as a success.
	status := http.StatusOK
	if len(c.Errors) > 0 {
		status = statusStreamAborted
	}
	h.recordAccess(req, result, status, result.Metadata.Size, start)
}

// etagMatches reports whether an If-None-Match header names the current
// entity tag, accepting weak validators and comma separated lists.
func etagMatches(header, etag string) bool {
	if header == "" || etag == "" {
		return false
	}
	strong := strings.TrimPrefix(etag, "W/")
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == "*" || candidate == strong {
			return true
		}
	}
	return false
}

func (h *FileHandler) recordAccess(req service.ServeRequest, result *service.ServeResult, status int, size int64, start time.Time) {
	if h.analytics == nil {
		return
	}
	event := models.AccessEvent{
		TeacherID:  req.OwnerID,
		StorageKey: strings.TrimPrefix(req.Path, "/"),
		Method:     req.Method,
		Status:     status,
		SizeBytes:  size,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if result != nil {
		event.Backend = result.Backend
		if result.Record != nil {
			event.TeacherID = result.Record.TeacherID
		}
	}
	h.analytics.Record(event)
}

func optional(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
