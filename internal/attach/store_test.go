package attach

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveDetectsMimeAndSize(t *testing.T) {
	ctx := context.Background()
	store := Local{Root: t.TempDir()}

	got, err := store.Save(ctx, "sub-1", "../evidence.txt", strings.NewReader("hello world"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got.Path, "sub-1/"))
	assert.True(t, strings.HasSuffix(got.Path, "-evidence.txt"))
	assert.Equal(t, int64(11), got.Size)
	assert.Contains(t, got.Mime, "text/plain")

	data, err := os.ReadFile(filepath.Join(store.Root, filepath.FromSlash(got.Path)))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestCopyKeepsSource(t *testing.T) {
	ctx := context.Background()
	store := Local{Root: t.TempDir()}
	src, err := store.Save(ctx, "sub-1", "report.pdf", strings.NewReader("%PDF-1.4\n"))
	require.NoError(t, err)

	dst, err := store.Copy(ctx, "sub-2", src.Path)
	require.NoError(t, err)
	assert.NotEqual(t, src.Path, dst.Path)
	assert.True(t, strings.HasSuffix(dst.Path, "-report.pdf"))
	assert.Equal(t, "application/pdf", dst.Mime)

	_, err = os.Stat(filepath.Join(store.Root, filepath.FromSlash(src.Path)))
	assert.NoError(t, err)
}

func TestStatAndRemove(t *testing.T) {
	ctx := context.Background()
	store := Local{Root: t.TempDir()}
	require.NoError(t, os.MkdirAll(filepath.Join(store.Root, "legacy"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(store.Root, "legacy", "a.txt"), []byte("abc"), 0o644))

	got, err := store.Stat(ctx, "legacy/a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Size)

	require.NoError(t, store.Remove(ctx, "legacy/a.txt"))
	require.NoError(t, store.Remove(ctx, "legacy/a.txt"))
	_, err = store.Stat(ctx, "legacy/a.txt")
	assert.Error(t, err)
}

func TestPathsCannotEscapeRoot(t *testing.T) {
	store := Local{Root: t.TempDir()}
	_, err := store.Stat(context.Background(), "../outside.txt")
	assert.ErrorIs(t, err, ErrOutsideRoot)
	_, err = store.Copy(context.Background(), "sub", "/etc/passwd")
	assert.ErrorIs(t, err, ErrOutsideRoot)
}
