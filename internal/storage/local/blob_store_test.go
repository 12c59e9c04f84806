package local

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/geoinforme/parcelreport/internal/report"
)

func TestPutObjectWritesAndReturnsURI(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := New(Config{BaseDir: dir})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "query-1/REF_informe.zip", "application/zip", bytes.NewReader([]byte("zip-bytes")))
	require.NoError(t, err)
	require.Equal(t, "file://"+filepath.Join(dir, "query-1", "REF_informe.zip"), uri)

	data, err := os.ReadFile(filepath.Join(dir, "query-1", "REF_informe.zip"))
	require.NoError(t, err)
	require.Equal(t, []byte("zip-bytes"), data)
}

func TestPutObjectLeavesNoTemporaryFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := New(Config{BaseDir: dir})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "a/b.zip", "", bytes.NewReader([]byte("x")))
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(dir, "a"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.False(t, strings.HasPrefix(entries[0].Name(), ".publish-"))
}

func TestPutObjectRejectsPathTraversal(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "../escape.zip", "", bytes.NewReader([]byte("x")))
	require.Error(t, err)
	require.Contains(t, err.Error(), "path traversal")
}

func TestGetObjectRoundTrip(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "query-1/REF_informe.zip", "application/zip", bytes.NewReader([]byte("zip-bytes")))
	require.NoError(t, err)

	rc, err := store.GetObject(context.Background(), "query-1/REF_informe.zip")
	require.NoError(t, err)
	defer func() {
		require.NoError(t, rc.Close())
	}()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, []byte("zip-bytes"), data)
}

func TestGetObjectUnknownPathIsNotFound(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.GetObject(context.Background(), "ghost/missing.zip")
	require.ErrorIs(t, err, report.ErrNotFound)
}

func TestNewRejectsEmptyBaseDir(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}

func TestNewCreatesMissingBaseDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "archives")
	_, err := New(Config{BaseDir: dir})
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}
