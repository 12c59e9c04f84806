package bundle

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/geoinforme/parcelreport/internal/storage/memory"
)

func newBundler(t *testing.T) (*Bundler, *memory.BlobStore) {
	t.Helper()
	store := memory.NewBlobStore()
	b, err := New(t.TempDir(), store, nil)
	require.NoError(t, err)
	return b, store
}

func writeMember(t *testing.T, ws *Workspace, name, content string) string {
	t.Helper()
	p := ws.Path(name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestBundlePublishesDeterministicArchive(t *testing.T) {
	t.Parallel()

	b, store := newBundler(t)
	ctx := context.Background()

	build := func(queryID string) []byte {
		ws, err := b.NewWorkspace(queryID)
		require.NoError(t, err)
		defer b.Cleanup(ws)

		// Deliberately unsorted input order.
		paths := []string{
			writeMember(t, ws, "REF_kml.kml", "<kml/>"),
			writeMember(t, ws, "REF_gml.gml", "<gml/>"),
		}
		uri, err := b.Bundle(ctx, ws, "REF", paths)
		require.NoError(t, err)
		require.Contains(t, uri, queryID)

		obj, ok := store.Object(queryID + "/REF_informe.zip")
		require.True(t, ok)
		return obj
	}

	first := build("query-1")
	second := build("query-2")
	require.Equal(t, first, second, "identical inputs must produce identical archive bytes")

	zr, err := zip.NewReader(bytes.NewReader(first), int64(len(first)))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	require.Equal(t, "REF_gml.gml", zr.File[0].Name)
	require.Equal(t, "REF_kml.kml", zr.File[1].Name)
}

func TestBundleRejectsEmptyInput(t *testing.T) {
	t.Parallel()

	b, _ := newBundler(t)
	ws, err := b.NewWorkspace("query-1")
	require.NoError(t, err)
	defer b.Cleanup(ws)

	_, err = b.Bundle(context.Background(), ws, "REF", nil)
	require.Error(t, err)
}

func TestCleanupRemovesEverything(t *testing.T) {
	t.Parallel()

	b, _ := newBundler(t)
	ws, err := b.NewWorkspace("query-1")
	require.NoError(t, err)

	writeMember(t, ws, "REF_kml.kml", "<kml/>")
	b.Cleanup(ws)

	_, statErr := os.Stat(ws.Dir)
	require.True(t, os.IsNotExist(statErr))
}

func TestBundleFailsOnMissingMember(t *testing.T) {
	t.Parallel()

	b, _ := newBundler(t)
	ws, err := b.NewWorkspace("query-1")
	require.NoError(t, err)
	defer b.Cleanup(ws)

	_, err = b.Bundle(context.Background(), ws, "REF", []string{ws.Path("missing.pdf")})
	require.Error(t, err)
}
