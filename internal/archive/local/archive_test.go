package local

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewCreatesMissingBaseDir(t *testing.T) {
	t.Parallel()

	base := filepath.Join(t.TempDir(), "snapshots")
	_, err := New(Config{BaseDir: base})
	require.NoError(t, err)

	info, err := os.Stat(base)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestNewRequiresBaseDir(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}

func TestArchiveWritesFileAndReturnsURI(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	a, err := New(Config{BaseDir: base})
	require.NoError(t, err)

	uri, err := a.Archive(context.Background(), "standard/abc123.html", "text/html", []byte("<html>EC0217</html>"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(uri, "file://"))

	data, err := os.ReadFile(filepath.Join(base, "standard", "abc123.html"))
	require.NoError(t, err)
	require.Equal(t, "<html>EC0217</html>", string(data))
}

func TestArchiveRejectsPathTraversal(t *testing.T) {
	t.Parallel()

	a, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = a.Archive(context.Background(), "../escape.html", "text/html", []byte("x"))
	require.Error(t, err)
}

func TestArchiveRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	a, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = a.Archive(context.Background(), "  ", "text/html", []byte("x"))
	require.Error(t, err)
}
