package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresBaseDir(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}

func TestNewCreatesMissingBaseDir(t *testing.T) {
	t.Parallel()

	baseDir := filepath.Join(t.TempDir(), "captures")
	_, err := New(Config{BaseDir: baseDir})
	require.NoError(t, err)

	info, err := os.Stat(baseDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestPutObjectWritesFile(t *testing.T) {
	t.Parallel()

	baseDir := t.TempDir()
	store, err := New(Config{BaseDir: baseDir})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "a/b/page.html", "text/html", []byte("<html></html>"))
	require.NoError(t, err)
	assert.Equal(t, "file://"+filepath.Join(baseDir, "a", "b", "page.html"), uri)

	data, err := os.ReadFile(filepath.Join(baseDir, "a", "b", "page.html"))
	require.NoError(t, err)
	assert.Equal(t, []byte("<html></html>"), data)
}

func TestPutObjectRejectsTraversal(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "../escape.html", "text/html", []byte("x"))
	require.Error(t, err)

	_, err = store.PutObject(context.Background(), "  ", "text/html", []byte("x"))
	require.Error(t, err)
}
