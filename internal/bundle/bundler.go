// Package bundle assembles generated artifacts into one compressed
// archive and owns the temporary storage lifecycle around it.
package bundle

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/geoinforme/parcelreport/internal/report"
)

// Zip member timestamps are pinned so archive bytes stay deterministic
// for identical inputs.
var fixedModTime = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// ArchiveName returns the archive file name for a reference.
func ArchiveName(reference string) string {
	return fmt.Sprintf("%s_informe.zip", reference)
}

// ArchiveObjectPath returns the durable-store location of a query's
// archive.
func ArchiveObjectPath(queryID, reference string) string {
	return filepath.ToSlash(filepath.Join(queryID, ArchiveName(reference)))
}

// Workspace is the per-query temporary directory. Every intermediate
// file lives here and is removed on all exit paths; only the published
// archive survives, in durable storage.
type Workspace struct {
	QueryID string
	Dir     string
}

// Path returns the location for a named file inside the workspace.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.Dir, name)
}

// Bundler packages artifacts and publishes the archive.
type Bundler struct {
	root   string
	store  report.ArchiveStore
	logger *zap.Logger
}

// New constructs a Bundler rooted at dir. The root is created eagerly so
// misconfiguration fails at startup, not mid-query.
func New(root string, store report.ArchiveStore, logger *zap.Logger) (*Bundler, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "parcelreport")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create bundle root: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bundler{root: root, store: store, logger: logger}, nil
}

// NewWorkspace creates the query-scoped temporary directory.
func (b *Bundler) NewWorkspace(queryID string) (*Workspace, error) {
	dir := filepath.Join(b.root, queryID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create workspace for %s: %w", queryID, err)
	}
	return &Workspace{QueryID: queryID, Dir: dir}, nil
}

// Cleanup removes the workspace and everything in it. Safe on every exit
// path; the published archive lives outside the workspace by then.
func (b *Bundler) Cleanup(ws *Workspace) {
	if ws == nil || ws.Dir == "" {
		return
	}
	if err := os.RemoveAll(ws.Dir); err != nil {
		b.logger.Warn("workspace cleanup failed",
			zap.String("query_id", ws.QueryID), zap.Error(err))
	}
}

// Bundle zips the named files and publishes the archive to durable
// storage, returning its URI. Member order and timestamps are fixed so
// repeated runs over identical inputs produce identical archives.
func (b *Bundler) Bundle(ctx context.Context, ws *Workspace, reference string, paths []string) (string, error) {
	if len(paths) == 0 {
		return "", fmt.Errorf("nothing to bundle for %s", reference)
	}

	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)

	archivePath := ws.Path(ArchiveName(reference))
	if err := writeZip(archivePath, sorted); err != nil {
		return "", fmt.Errorf("write archive: %w", err)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	uri, err := b.store.PutObject(ctx, ArchiveObjectPath(ws.QueryID, reference), "application/zip", f)
	if err != nil {
		return "", fmt.Errorf("publish archive: %w", err)
	}
	return uri, nil
}

func writeZip(archivePath string, paths []string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("create zip: %w", err)
	}
	zw := zip.NewWriter(out)

	for _, p := range paths {
		if err := addMember(zw, p); err != nil {
			_ = zw.Close()
			_ = out.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		_ = out.Close()
		return fmt.Errorf("finalize zip: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close zip: %w", err)
	}
	return nil
}

func addMember(zw *zip.Writer, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open member %s: %w", path, err)
	}
	defer func() {
		_ = in.Close()
	}()

	header := &zip.FileHeader{
		Name:     filepath.Base(path),
		Method:   zip.Deflate,
		Modified: fixedModTime,
	}
	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("create member %s: %w", header.Name, err)
	}
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("write member %s: %w", header.Name, err)
	}
	return nil
}
