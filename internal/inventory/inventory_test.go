package inventory

import (
	"context"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, fsys afero.Fs, files map[string]string) {
	t.Helper()
	for p, body := range files {
		require.NoError(t, afero.WriteFile(fsys, p, []byte(body), 0o644))
	}
}

func TestFilesHashesEveryRegularFile(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeTree(t, fsys, map[string]string{
		"/site/index.html":         "hello",
		"/site/css/style.css":      "body{}",
		"/site/css/deep/reset.css": "",
	})
	require.NoError(t, fsys.MkdirAll("/site/empty", 0o755))

	inv := New(fsys, "/site", nil)
	files, err := inv.Files(context.Background())
	require.NoError(t, err)

	var paths []string
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	assert.Equal(t, []string{"css/deep/reset.css", "css/style.css", "index.html"}, paths)

	rec, ok := inv.Lookup("index.html")
	require.True(t, ok)
	assert.Equal(t, "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d", rec.Hash)
	assert.Equal(t, int64(5), rec.Size)

	empty, ok := inv.Lookup("css/deep/reset.css")
	require.True(t, ok)
	assert.Equal(t, "da39a3ee5e6b4b0d3255bfef95601890afd80709", empty.Hash)
}

func TestFilesIsComputedOnce(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeTree(t, fsys, map[string]string{"/site/a.txt": "a"})

	inv := New(fsys, "/site", nil)
	first, err := inv.Files(context.Background())
	require.NoError(t, err)

	writeTree(t, fsys, map[string]string{"/site/b.txt": "b"})
	second, err := inv.Files(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestWalkMissingRoot(t *testing.T) {
	inv := New(afero.NewMemMapFs(), "/nope", nil)
	_, err := inv.Files(context.Background())
	require.Error(t, err)
}

func TestWalkHonoursCancellation(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeTree(t, fsys, map[string]string{"/site/a.txt": "a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(fsys, "/site", nil).Files(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestUnreadableFilesAreSkipped(t *testing.T) {
	base := afero.NewMemMapFs()
	writeTree(t, base, map[string]string{
		"/site/ok.txt":     "ok",
		"/site/locked.txt": "secret",
	})
	fsys := &failingOpenFs{Fs: base, fail: "locked.txt"}

	inv := New(fsys, "/site", nil)
	files, err := inv.Files(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "ok.txt", files[0].Path)
	assert.Equal(t, 1, inv.Skipped())
}

func TestHash(t *testing.T) {
	sum, n, err := Hash(strings.NewReader("abc"))
	require.NoError(t, err)
	assert.Equal(t, "a9993e364706816aba3e25717850c26c9cd0d89d", sum)
	assert.Equal(t, int64(3), n)
}

// failingOpenFs refuses to open files whose name ends in fail.
type failingOpenFs struct {
	afero.Fs
	fail string
}

func (f *failingOpenFs) Open(name string) (afero.File, error) {
	if strings.HasSuffix(name, f.fail) {
		return nil, afero.ErrFileNotFound
	}
	return f.Fs.Open(name)
}

func TestOpenStaysUnderRoot(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeTree(t, fsys, map[string]string{
		"/site/a/b.txt": "inside",
		"/secret.txt":   "outside",
	})
	inv := New(fsys, "/site", nil)

	f, err := inv.Open("a/b.txt")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = inv.Open("../secret.txt")
	assert.Error(t, err)
}
