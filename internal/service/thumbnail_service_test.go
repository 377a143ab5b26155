package service

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brightclass/file-api/internal/models"
	"github.com/brightclass/file-api/internal/storage"
	"github.com/brightclass/file-api/pkg/config"
	"github.com/brightclass/file-api/pkg/jobs"
)

type stubThumbnailStore struct {
	mu        sync.Mutex
	attached  map[string]string
	statuses  map[string]models.ProcessingStatus
	attachErr error
}

func newStubThumbnailStore() *stubThumbnailStore {
	return &stubThumbnailStore{
		attached: make(map[string]string),
		statuses: make(map[string]models.ProcessingStatus),
	}
}

func (s *stubThumbnailStore) AttachThumbnail(_ context.Context, id, thumbnailKey string) error {
	if s.attachErr != nil {
		return s.attachErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached[id] = thumbnailKey
	return nil
}

func (s *stubThumbnailStore) UpdateStatus(_ context.Context, id string, status models.ProcessingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = status
	return nil
}

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestThumbnailService(store *stubThumbnailStore, adapter *memAdapter) *ThumbnailService {
	return NewThumbnailService(store, storage.Backends{Primary: adapter},
		config.StorageConfig{ThumbnailFolder: "thumbnails"},
		config.ThumbnailsConfig{Enabled: true, MaxEdge: 64}, nil, nil)
}

func TestThumbnailEligibility(t *testing.T) {
	svc := newTestThumbnailService(newStubThumbnailStore(), newMemAdapter(storage.BackendLocal))

	require.True(t, svc.Eligible("image/png"))
	require.True(t, svc.Eligible("image/jpeg"))
	require.False(t, svc.Eligible("application/pdf"))
	require.False(t, svc.Eligible("video/mp4"))
}

func TestThumbnailHandleGeneratesAndAttaches(t *testing.T) {
	store := newStubThumbnailStore()
	adapter := newMemAdapter(storage.BackendLocal)
	svc := newTestThumbnailService(store, adapter)

	source := encodePNG(t, 640, 480)
	_, err := adapter.Save(context.Background(), "uploads/2026/09/photo.png", bytes.NewReader(source), int64(len(source)), "image/png")
	require.NoError(t, err)

	err = svc.handle(context.Background(), jobs.Job{Payload: thumbnailJob{
		FileID:     "file-1",
		StorageKey: "uploads/2026/09/photo.png",
		Backend:    storage.BackendLocal,
	}})
	require.NoError(t, err)
	require.Equal(t, "thumbnails/2026/09/photo.png", store.attached["file-1"])

	reader, _, err := adapter.Open(context.Background(), "thumbnails/2026/09/photo.png")
	require.NoError(t, err)
	defer reader.Close()

	thumb, err := png.Decode(reader)
	require.NoError(t, err)
	require.Equal(t, 64, thumb.Bounds().Dx())
	require.Equal(t, 48, thumb.Bounds().Dy())
}

func TestThumbnailHandleMarksUndecodableFailed(t *testing.T) {
	store := newStubThumbnailStore()
	adapter := newMemAdapter(storage.BackendLocal)
	svc := newTestThumbnailService(store, adapter)

	_, err := adapter.Save(context.Background(), "uploads/2026/09/bad.png", bytes.NewReader([]byte("not a png")), 9, "image/png")
	require.NoError(t, err)

	err = svc.handle(context.Background(), jobs.Job{Payload: thumbnailJob{
		FileID:     "file-2",
		StorageKey: "uploads/2026/09/bad.png",
		Backend:    storage.BackendLocal,
	}})
	require.NoError(t, err, "decode failures are terminal, not retried")
	require.Equal(t, models.StatusFailed, store.statuses["file-2"])
	require.Empty(t, store.attached)
}

func TestThumbnailKeyMirrorsPartition(t *testing.T) {
	require.Equal(t, "thumbnails/2026/09/key.png", thumbnailKeyFor("uploads/2026/09/key.jpeg", "thumbnails"))
	require.Equal(t, "thumbnails/key.png", thumbnailKeyFor("key.gif", "thumbnails"))
}

func TestDownscalePreservesSmallImages(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 32, 20))
	out := downscale(img, 64)
	require.Equal(t, 32, out.Bounds().Dx())
	require.Equal(t, 20, out.Bounds().Dy())

	tall := image.NewRGBA(image.Rect(0, 0, 100, 400))
	out = downscale(tall, 64)
	require.Equal(t, 64, out.Bounds().Dy())
	require.Equal(t, 16, out.Bounds().Dx())
}
