package storage

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestLocal(t *testing.T) *Local {
	t.Helper()
	local, err := NewLocal(t.TempDir(), nil)
	require.NoError(t, err)
	return local
}

func TestLocalSaveOpenRoundTrip(t *testing.T) {
	local := newTestLocal(t)
	ctx := context.Background()
	content := []byte("%PDF-1.4 lesson plan")
	key := PartitionKey("uploads", "t1-123-abc-def0.pdf", time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC))

	ref, err := local.Save(ctx, key, bytes.NewReader(content), int64(len(content)), "application/pdf")
	require.NoError(t, err)
	require.Equal(t, key, ref)

	reader, meta, err := local.Open(ctx, key)
	require.NoError(t, err)
	defer reader.Close()

	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.Equal(t, content, got)
	require.Equal(t, int64(len(content)), meta.Size)
	require.Equal(t, "application/pdf", meta.ContentType)
	require.NotEmpty(t, meta.ETag)
}

func TestLocalSaveRejectsShortBody(t *testing.T) {
	local := newTestLocal(t)
	ctx := context.Background()
	key := "uploads/2026/03/short.pdf"

	_, err := local.Save(ctx, key, strings.NewReader("abc"), 10, "application/pdf")
	require.Error(t, err)

	meta, err := local.Stat(ctx, key)
	require.NoError(t, err)
	require.Nil(t, meta, "truncated file must not be committed")
}

func TestLocalSaveUnknownSizeAcceptsAnyLength(t *testing.T) {
	local := newTestLocal(t)
	ctx := context.Background()
	key := "thumbnails/2026/03/preview.png"

	_, err := local.Save(ctx, key, strings.NewReader("png-bytes"), -1, "image/png")
	require.NoError(t, err)

	meta, err := local.Stat(ctx, key)
	require.NoError(t, err)
	require.Equal(t, int64(9), meta.Size)
}

func TestLocalStatReturnsNilOnMissing(t *testing.T) {
	local := newTestLocal(t)

	meta, err := local.Stat(context.Background(), "uploads/2026/03/absent.pdf")

	require.NoError(t, err)
	require.Nil(t, meta)
}

func TestLocalDeleteTolerant(t *testing.T) {
	local := newTestLocal(t)
	ctx := context.Background()

	require.False(t, local.Delete(ctx, "uploads/2026/03/absent.pdf"))

	key := "uploads/2026/03/present.txt"
	_, err := local.Save(ctx, key, bytes.NewReader([]byte("hi")), 2, "")
	require.NoError(t, err)
	require.True(t, local.Delete(ctx, key))
	require.False(t, local.Delete(ctx, key))
}

func TestLocalRejectsEscapingKeys(t *testing.T) {
	local := newTestLocal(t)

	_, err := local.Stat(context.Background(), "../outside.txt")
	require.Error(t, err)

	require.False(t, local.Delete(context.Background(), "../../etc/passwd"))
}

func TestLocalSignedURLUnsupported(t *testing.T) {
	local := newTestLocal(t)

	_, err := local.SignedURL(context.Background(), "uploads/x.pdf", time.Minute)
	require.ErrorIs(t, err, ErrSigningUnsupported)
}

func TestPartitionKeyShape(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	require.Equal(t, "uploads/2026/09/abc.pdf", PartitionKey("uploads", "abc.pdf", now))
	require.Equal(t, "thumbnails/2026/09/abc.png", PartitionKey("thumbnails", "abc.png", now))
}

func TestContentTypeLookup(t *testing.T) {
	require.Equal(t, "application/pdf", ContentTypeByExtension("uploads/2026/09/a.pdf"))
	require.Equal(t, "image/png", ContentTypeByExtension("a.PNG"))
	require.Equal(t, "application/octet-stream", ContentTypeByExtension("a.unknown"))
}

func TestInlineDisposition(t *testing.T) {
	require.True(t, InlineDisposition("application/pdf"))
	require.True(t, InlineDisposition("image/jpeg"))
	require.False(t, InlineDisposition("application/zip"))
}
