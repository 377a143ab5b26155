package service

import (
	"context"
	"database/sql"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brightclass/file-api/internal/models"
	"github.com/brightclass/file-api/internal/storage"
	"github.com/brightclass/file-api/internal/token"
	"github.com/brightclass/file-api/pkg/config"
	appErrors "github.com/brightclass/file-api/pkg/errors"
)

type stubFileLookup struct {
	records map[string]*models.FileRecord
}

func (s *stubFileLookup) GetByStorageKey(_ context.Context, storageKey string) (*models.FileRecord, error) {
	if record, ok := s.records[storageKey]; ok {
		return record, nil
	}
	return nil, sql.ErrNoRows
}

type stubSessions struct {
	valid bool
	err   error
}

func (s *stubSessions) Validate(_ context.Context, _, _ string) (bool, error) {
	return s.valid, s.err
}

func newTestServeService(t *testing.T, lookup *stubFileLookup, sessions sessionValidator, backends storage.Backends) *ServeService {
	t.Helper()
	signer, err := token.NewSigner("serve-test-secret", token.ModeHMAC)
	require.NoError(t, err)
	cfg := &config.Config{
		APIPrefix: "/api/v1",
		Security:  config.SecurityConfig{TokenTTL: time.Hour},
		Storage:   config.StorageConfig{SignedURLTTL: time.Hour},
	}
	return NewServeService(lookup, sessions, signer, backends, nil, cfg, nil)
}

func TestServeRejectsEmptyPath(t *testing.T) {
	svc := newTestServeService(t, &stubFileLookup{}, nil, storage.Backends{Primary: newMemAdapter(storage.BackendLocal)})

	_, err := svc.Serve(context.Background(), ServeRequest{Path: "  ", Method: "GET"})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrPathRequired.Code, appErrors.FromError(err).Code)
}

func TestServeRejectsTraversal(t *testing.T) {
	svc := newTestServeService(t, &stubFileLookup{}, nil, storage.Backends{Primary: newMemAdapter(storage.BackendLocal)})

	for _, p := range []string{"../etc/passwd", "uploads/../../secret", "uploads/~root/file.pdf"} {
		_, err := svc.Serve(context.Background(), ServeRequest{Path: p, Method: "GET"})
		require.Error(t, err, p)
		require.Equal(t, appErrors.ErrInvalidPath.Code, appErrors.FromError(err).Code, p)
	}
}

func TestServeStreamsFromPrimary(t *testing.T) {
	adapter := newMemAdapter(storage.BackendLocal)
	_, err := adapter.Save(context.Background(), "uploads/2026/09/key.pdf", strings.NewReader("pdf-bytes"), 9, "application/pdf")
	require.NoError(t, err)

	lookup := &stubFileLookup{records: map[string]*models.FileRecord{
		"uploads/2026/09/key.pdf": {
			TeacherID:    "teacher-1",
			StorageKey:   "uploads/2026/09/key.pdf",
			OriginalName: "lesson.pdf",
			MimeType:     "application/pdf",
		},
	}}
	svc := newTestServeService(t, lookup, nil, storage.Backends{Primary: adapter})

	result, err := svc.Serve(context.Background(), ServeRequest{
		Path:    "uploads/2026/09/key.pdf",
		OwnerID: "teacher-1",
		Method:  "GET",
	})
	require.NoError(t, err)
	defer result.Reader.Close()

	body, err := io.ReadAll(result.Reader)
	require.NoError(t, err)
	require.Equal(t, "pdf-bytes", string(body))
	require.Equal(t, storage.BackendLocal, result.Backend)
	require.Equal(t, "application/pdf", result.ContentType)
	require.Equal(t, `inline; filename="lesson.pdf"`, result.Disposition)
	require.NotEmpty(t, result.ETag)
}

func TestServeHeadSkipsBody(t *testing.T) {
	adapter := newMemAdapter(storage.BackendLocal)
	_, err := adapter.Save(context.Background(), "uploads/2026/09/key.txt", strings.NewReader("body"), 4, "text/plain")
	require.NoError(t, err)

	svc := newTestServeService(t, &stubFileLookup{}, nil, storage.Backends{Primary: adapter})

	result, err := svc.Serve(context.Background(), ServeRequest{Path: "uploads/2026/09/key.txt", Method: "HEAD"})
	require.NoError(t, err)
	require.Nil(t, result.Reader)
	require.Equal(t, int64(4), result.Metadata.Size)
}

func TestServeFallsBackToSecondary(t *testing.T) {
	primary := newMemAdapter(storage.BackendS3)
	secondary := newMemAdapter(storage.BackendLocal)
	_, err := secondary.Save(context.Background(), "uploads/2026/09/old.txt", strings.NewReader("legacy"), 6, "text/plain")
	require.NoError(t, err)

	svc := newTestServeService(t, &stubFileLookup{}, nil, storage.Backends{Primary: primary, Secondary: secondary})

	result, err := svc.Serve(context.Background(), ServeRequest{Path: "uploads/2026/09/old.txt", Method: "GET"})
	require.NoError(t, err)
	defer result.Reader.Close()
	require.Equal(t, storage.BackendLocal, result.Backend)
}

func TestServeNotFoundOnBothBackends(t *testing.T) {
	svc := newTestServeService(t, &stubFileLookup{}, nil, storage.Backends{
		Primary:   newMemAdapter(storage.BackendS3),
		Secondary: newMemAdapter(storage.BackendLocal),
	})

	_, err := svc.Serve(context.Background(), ServeRequest{Path: "uploads/2026/09/ghost.txt", Method: "GET"})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestServeForbiddenForOtherOwner(t *testing.T) {
	adapter := newMemAdapter(storage.BackendLocal)
	_, err := adapter.Save(context.Background(), "uploads/2026/09/key.pdf", strings.NewReader("pdf"), 3, "application/pdf")
	require.NoError(t, err)

	lookup := &stubFileLookup{records: map[string]*models.FileRecord{
		"uploads/2026/09/key.pdf": {TeacherID: "teacher-1", StorageKey: "uploads/2026/09/key.pdf"},
	}}
	svc := newTestServeService(t, lookup, nil, storage.Backends{Primary: adapter})

	_, err = svc.Serve(context.Background(), ServeRequest{
		Path:    "uploads/2026/09/key.pdf",
		OwnerID: "teacher-2",
		Method:  "GET",
	})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestServeInvalidSessionForbidden(t *testing.T) {
	adapter := newMemAdapter(storage.BackendLocal)
	_, err := adapter.Save(context.Background(), "uploads/2026/09/key.txt", strings.NewReader("body"), 4, "text/plain")
	require.NoError(t, err)

	svc := newTestServeService(t, &stubFileLookup{}, &stubSessions{valid: false}, storage.Backends{Primary: adapter})

	_, err = svc.Serve(context.Background(), ServeRequest{
		Path:      "uploads/2026/09/key.txt",
		OwnerID:   "teacher-1",
		SessionID: "session-9",
		Method:    "GET",
	})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestServeWithAccessToken(t *testing.T) {
	adapter := newMemAdapter(storage.BackendLocal)
	_, err := adapter.Save(context.Background(), "uploads/2026/09/key.pdf", strings.NewReader("pdf"), 3, "application/pdf")
	require.NoError(t, err)

	lookup := &stubFileLookup{records: map[string]*models.FileRecord{
		"uploads/2026/09/key.pdf": {TeacherID: "teacher-1", StorageKey: "uploads/2026/09/key.pdf"},
	}}
	svc := newTestServeService(t, lookup, nil, storage.Backends{Primary: adapter})

	now := time.Now().UTC()
	tok, err := svc.signer.Issue(models.AccessClaims{
		TeacherID: "teacher-1",
		Filename:  "uploads/2026/09/key.pdf",
		Purpose:   models.PurposeFileAccess,
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}, time.Hour)
	require.NoError(t, err)

	result, err := svc.Serve(context.Background(), ServeRequest{
		Path:   "uploads/2026/09/key.pdf",
		Token:  tok,
		Method: "GET",
	})
	require.NoError(t, err)
	result.Reader.Close()

	// A token for one file must not open another.
	tok2, err := svc.signer.Issue(models.AccessClaims{
		TeacherID: "teacher-1",
		Filename:  "uploads/2026/09/other.pdf",
		Purpose:   models.PurposeFileAccess,
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}, time.Hour)
	require.NoError(t, err)

	_, err = svc.Serve(context.Background(), ServeRequest{
		Path:   "uploads/2026/09/key.pdf",
		Token:  tok2,
		Method: "GET",
	})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrInvalidToken.Code, appErrors.FromError(err).Code)
}

func TestLinkIssuesTokenURLWhenSigningUnsupported(t *testing.T) {
	adapter := newMemAdapter(storage.BackendLocal)
	svc := newTestServeService(t, &stubFileLookup{}, nil, storage.Backends{Primary: adapter})

	link, err := svc.Link(context.Background(), &models.FileRecord{
		TeacherID:  "teacher-1",
		StorageKey: "uploads/2026/09/key.pdf",
		Backend:    storage.BackendLocal,
	})
	require.NoError(t, err)
	require.Contains(t, link.URL, "/api/v1/files/uploads/2026/09/key.pdf?")
	require.Contains(t, link.URL, "token=")
	require.Contains(t, link.URL, "ownerId=teacher-1")
	require.True(t, link.ExpiresAt.After(time.Now()))
}
