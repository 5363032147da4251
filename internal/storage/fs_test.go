package storage

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/entity"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func TestFS_PutListLoad(t *testing.T) {
	ctx := context.Background()
	s := NewFS(t.TempDir(), nil)
	docID := uuid.New()

	require.NoError(t, s.PutPage(ctx, "uploads/scan.pdf", 2, pngBytes(t, 20, 30)))
	require.NoError(t, s.PutPage(ctx, "uploads/scan.pdf", 1, pngBytes(t, 10, 10)))
	require.NoError(t, os.WriteFile(filepath.Join(s.Root, "uploads/scan/pages/notes.txt"), []byte("x"), 0o644))

	refs, err := s.ListPages(ctx, docID, "uploads/scan.pdf")
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, entity.PageRef{DocumentID: docID, Number: 1, Key: "uploads/scan/pages/0001.png"}, refs[0])
	assert.Equal(t, 2, refs[1].Number)

	img, err := s.LoadPage(ctx, refs[1])
	require.NoError(t, err)
	assert.Equal(t, 20, img.Width)
	assert.Equal(t, 30, img.Height)
	assert.Equal(t, "image/png", img.ContentType)
	assert.Contains(t, img.URL, "file://")
}

func TestFS_ListMissingPrefix(t *testing.T) {
	refs, err := NewFS(t.TempDir(), nil).ListPages(context.Background(), uuid.New(), "nothing/here.pdf")
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestFS_LoadMissingIsPermanent(t *testing.T) {
	_, err := NewFS(t.TempDir(), nil).LoadPage(context.Background(), entity.PageRef{Key: "a/pages/0001.png", Number: 1})
	assert.ErrorIs(t, err, common.ErrPermanentEngine)
}

func TestFS_PutRejectsPageZero(t *testing.T) {
	err := NewFS(t.TempDir(), nil).PutPage(context.Background(), "a.pdf", 0, []byte{1})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestPageNumber(t *testing.T) {
	n, ok := pageNumber("a/pages/", "a/pages/0012.png")
	assert.True(t, ok)
	assert.Equal(t, 12, n)

	_, ok = pageNumber("a/pages/", "a/pages/cover.png")
	assert.False(t, ok)
	_, ok = pageNumber("a/pages/", "a/pages/0001.pdf")
	assert.False(t, ok)
	_, ok = pageNumber("a/pages/", "a/pages/sub/0001.png")
	assert.False(t, ok)
	_, ok = pageNumber("a/pages/", "a/pages/0000.png")
	assert.False(t, ok)
}
