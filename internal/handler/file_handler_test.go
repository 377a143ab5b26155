package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/brightclass/file-api/internal/dto"
	"github.com/brightclass/file-api/internal/models"
	"github.com/brightclass/file-api/internal/service"
	"github.com/brightclass/file-api/internal/storage"
	appErrors "github.com/brightclass/file-api/pkg/errors"
)

type stubUploads struct {
	uploadResult *service.UploadResult
	uploadErr    error
	deleteErr    error
	usage        models.QuotaUsage

	lastInput service.UploadInput
}

func (s *stubUploads) Upload(_ context.Context, input service.UploadInput) (*service.UploadResult, error) {
	s.lastInput = input
	return s.uploadResult, s.uploadErr
}

func (s *stubUploads) Get(_ context.Context, fileID, _ string) (*models.FileRecord, error) {
	if s.uploadResult != nil && s.uploadResult.File.ID == fileID {
		return s.uploadResult.File, nil
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, "file not found")
}

func (s *stubUploads) List(_ context.Context, _ string, _, _ int) ([]models.FileRecord, error) {
	return nil, nil
}

func (s *stubUploads) Delete(_ context.Context, _, _ string) error {
	return s.deleteErr
}

func (s *stubUploads) Usage(_ context.Context, _ string) (models.QuotaUsage, error) {
	return s.usage, nil
}

type stubServe struct {
	result *service.ServeResult
	err    error
	link   *service.FileLink

	lastRequest service.ServeRequest
}

func (s *stubServe) Serve(_ context.Context, req service.ServeRequest) (*service.ServeResult, error) {
	s.lastRequest = req
	return s.result, s.err
}

func (s *stubServe) Link(_ context.Context, _ *models.FileRecord) (*service.FileLink, error) {
	return s.link, nil
}

type stubRecorder struct {
	events []models.AccessEvent
}

func (s *stubRecorder) Record(event models.AccessEvent) {
	s.events = append(s.events, event)
}

func newTestRouter(uploads uploadService, serve serveService) *gin.Engine {
	return newTestRouterWithAnalytics(uploads, serve, nil)
}

func newTestRouterWithAnalytics(uploads uploadService, serve serveService, analytics accessRecorder) *gin.Engine {
	gin.SetMode(gin.TestMode)
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = dto.RegisterValidations(v)
	}
	h := NewFileHandler(uploads, serve, analytics, nil)

	r := gin.New()
	api := r.Group("/api/v1")
	api.POST("/uploads", h.Upload)
	api.GET("/uploads/:id/url", h.Link)
	api.DELETE("/uploads/:id", h.Delete)
	api.GET("/quota", h.Quota)
	api.GET("/files/*filepath", h.Serve)
	api.HEAD("/files/*filepath", h.Serve)
	return r
}

func multipartUpload(t *testing.T, fields map[string]string, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = io.WriteString(part, content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestUploadEndpointCreated(t *testing.T) {
	uploads := &stubUploads{uploadResult: &service.UploadResult{
		File: &models.FileRecord{ID: "file-1", TeacherID: "teacher-1", StorageKey: "uploads/2026/09/key.pdf"},
	}}
	router := newTestRouter(uploads, &stubServe{})

	body, contentType := multipartUpload(t, map[string]string{
		"teacherId": "teacher-1",
		"sessionId": "session-1",
	}, "lesson.pdf", "pdf-bytes")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "teacher-1", uploads.lastInput.TeacherID)
	require.NotNil(t, uploads.lastInput.SessionID)
	require.Equal(t, "session-1", *uploads.lastInput.SessionID)
	require.Nil(t, uploads.lastInput.MessageID)
	require.Equal(t, "lesson.pdf", uploads.lastInput.Filename)
}

func TestUploadEndpointRequiresTeacherID(t *testing.T) {
	router := newTestRouter(&stubUploads{}, &stubServe{})

	body, contentType := multipartUpload(t, nil, "lesson.pdf", "pdf-bytes")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var envelope struct {
		Error *appErrors.Error `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Equal(t, appErrors.ErrValidation.Code, envelope.Error.Code)
}

func TestServeEndpointHeadersAndBody(t *testing.T) {
	serve := &stubServe{result: &service.ServeResult{
		Reader:      io.NopCloser(strings.NewReader("pdf-bytes")),
		Metadata:    &storage.Metadata{Size: 9},
		Backend:     storage.BackendLocal,
		ContentType: "application/pdf",
		Disposition: `inline; filename="lesson.pdf"`,
		ETag:        `"abc123"`,
	}}
	router := newTestRouter(&stubUploads{}, serve)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/files/uploads/2026/09/key.pdf?ownerId=teacher-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "pdf-bytes", rec.Body.String())
	require.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	require.Equal(t, `"abc123"`, rec.Header().Get("ETag"))
	require.Equal(t, "public, max-age=31536000, immutable", rec.Header().Get("Cache-Control"))
	require.Equal(t, storage.BackendLocal, rec.Header().Get("X-Served-From"))
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	require.Equal(t, "/uploads/2026/09/key.pdf", serve.lastRequest.Path)
	require.Equal(t, "teacher-1", serve.lastRequest.OwnerID)
}

func TestServeEndpointNotModified(t *testing.T) {
	serve := &stubServe{result: &service.ServeResult{
		Reader:      io.NopCloser(strings.NewReader("pdf-bytes")),
		Metadata:    &storage.Metadata{Size: 9},
		Backend:     storage.BackendLocal,
		ContentType: "application/pdf",
		Disposition: `inline; filename="lesson.pdf"`,
		ETag:        `"abc123"`,
	}}
	router := newTestRouter(&stubUploads{}, serve)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/files/uploads/2026/09/key.pdf", nil)
	req.Header.Set("If-None-Match", `"abc123"`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotModified, rec.Code)
	require.Empty(t, rec.Body.String())
}

func TestServeEndpointNotModifiedWeakAndListValidators(t *testing.T) {
	for _, header := range []string{
		`W/"abc123"`,
		`"zzz", "abc123"`,
		`W/"zzz" , W/"abc123"`,
		"*",
	} {
		serve := &stubServe{result: &service.ServeResult{
			Reader:      io.NopCloser(strings.NewReader("pdf-bytes")),
			Metadata:    &storage.Metadata{Size: 9},
			Backend:     storage.BackendLocal,
			ContentType: "application/pdf",
			Disposition: `inline; filename="lesson.pdf"`,
			ETag:        `"abc123"`,
		}}
		router := newTestRouter(&stubUploads{}, serve)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/files/uploads/2026/09/key.pdf", nil)
		req.Header.Set("If-None-Match", header)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusNotModified, rec.Code, "If-None-Match %q must revalidate", header)
		require.Empty(t, rec.Body.String())
	}
}

func TestServeEndpointRecordsAccessAfterTransfer(t *testing.T) {
	recorder := &stubRecorder{}
	serve := &stubServe{result: &service.ServeResult{
		Reader:      io.NopCloser(strings.NewReader("pdf-bytes")),
		Metadata:    &storage.Metadata{Size: 9},
		Record:      &models.FileRecord{TeacherID: "teacher-1"},
		Backend:     storage.BackendLocal,
		ContentType: "application/pdf",
		Disposition: `inline; filename="lesson.pdf"`,
		ETag:        `"abc123"`,
	}}
	router := newTestRouterWithAnalytics(&stubUploads{}, serve, recorder)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/files/uploads/2026/09/key.pdf", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, recorder.events, 1)
	require.Equal(t, http.StatusOK, recorder.events[0].Status)
	require.Equal(t, int64(9), recorder.events[0].SizeBytes)
	require.Equal(t, "teacher-1", recorder.events[0].TeacherID)
}

func TestServeEndpointRecordsMidStreamFailure(t *testing.T) {
	recorder := &stubRecorder{}
	body := io.NopCloser(io.MultiReader(
		strings.NewReader("par"),
		iotest.ErrReader(errors.New("backend read failed")),
	))
	serve := &stubServe{result: &service.ServeResult{
		Reader:      body,
		Metadata:    &storage.Metadata{Size: 9},
		Backend:     storage.BackendLocal,
		ContentType: "application/pdf",
		Disposition: `inline; filename="lesson.pdf"`,
		ETag:        `"abc123"`,
	}}
	router := newTestRouterWithAnalytics(&stubUploads{}, serve, recorder)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/files/uploads/2026/09/key.pdf", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Len(t, recorder.events, 1)
	require.Equal(t, statusStreamAborted, recorder.events[0].Status,
		"a body that dies mid-transfer must not be logged as a success")
}

func TestServeEndpointNotFound(t *testing.T) {
	serve := &stubServe{err: appErrors.Clone(appErrors.ErrNotFound, "file not found")}
	router := newTestRouter(&stubUploads{}, serve)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/files/uploads/2026/09/ghost.pdf", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeEndpointHead(t *testing.T) {
	serve := &stubServe{result: &service.ServeResult{
		Metadata:    &storage.Metadata{Size: 9},
		Backend:     storage.BackendLocal,
		ContentType: "application/pdf",
		Disposition: `inline; filename="lesson.pdf"`,
		ETag:        `"abc123"`,
	}}
	router := newTestRouter(&stubUploads{}, serve)

	req := httptest.NewRequest(http.MethodHead, "/api/v1/files/uploads/2026/09/key.pdf", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "9", rec.Header().Get("Content-Length"))
	require.Empty(t, rec.Body.String())
}

func TestDeleteEndpointNoContent(t *testing.T) {
	router := newTestRouter(&stubUploads{}, &stubServe{})

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/uploads/file-1?teacherId=teacher-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestQuotaEndpoint(t *testing.T) {
	uploads := &stubUploads{usage: models.QuotaUsage{UsedBytes: 1024, CapBytes: 4096}}
	router := newTestRouter(uploads, &stubServe{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/quota?teacherId=teacher-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Data models.QuotaUsage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Equal(t, int64(1024), envelope.Data.UsedBytes)
	require.Equal(t, int64(4096), envelope.Data.CapBytes)
}

func TestLinkEndpoint(t *testing.T) {
	uploads := &stubUploads{uploadResult: &service.UploadResult{
		File: &models.FileRecord{ID: "file-1", TeacherID: "teacher-1"},
	}}
	serve := &stubServe{link: &service.FileLink{URL: "/api/v1/files/uploads/2026/09/key.pdf?token=abc"}}
	router := newTestRouter(uploads, serve)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/uploads/file-1/url?teacherId=teacher-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "token=abc")
}
