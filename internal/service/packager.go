package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/klauspost/compress/zip"
	"github.com/phrazzld/plip-api/internal/domain"
	"github.com/phrazzld/plip-api/internal/platform/workspace"
	"github.com/phrazzld/plip-api/internal/store"
	"github.com/spf13/afero"
)

// ArchiveName returns the download file name for a task's results.
func ArchiveName(taskID string) string {
	return fmt.Sprintf("plip_results_%s.zip", taskID)
}

// Archive is a packaged result set staged in a temporary file.
// Close releases and removes the file.
type Archive struct {
	// Name is the client-facing file name
	Name string
	// Size is the archive length in bytes
	Size int64

	file afero.File
	fs   afero.Fs
}

// Read implements io.Reader.
func (a *Archive) Read(p []byte) (int, error) {
	return a.file.Read(p)
}

// Seek implements io.Seeker.
func (a *Archive) Seek(offset int64, whence int) (int64, error) {
	return a.file.Seek(offset, whence)
}

// Close closes the staged file and removes it.
func (a *Archive) Close() error {
	closeErr := a.file.Close()
	if err := a.fs.Remove(a.file.Name()); err != nil {
		return err
	}
	return closeErr
}

// ResultPackager bundles a completed task's output directory for download.
type ResultPackager struct {
	registry  store.TaskRegistry
	workspace *workspace.Workspace
	logger    *slog.Logger
}

// NewResultPackager creates a ResultPackager. Archives are staged in the
// temporary directory of the workspace filesystem.
func NewResultPackager(registry store.TaskRegistry, ws *workspace.Workspace, logger *slog.Logger) *ResultPackager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultPackager{
		registry:  registry,
		workspace: ws,
		logger:    logger.With("component", "result_packager"),
	}
}

// Package builds a zip of the regular files directly inside the task's
// output directory. Subdirectories are not included.
//
// Returns ErrTaskNotFound for unknown tasks, ErrInvalidState when the task is
// not completed and ErrResultsNotFound when its output directory is gone.
// The caller must Close the returned Archive.
func (p *ResultPackager) Package(ctx context.Context, taskID string) (*Archive, error) {
	rec, err := p.registry.Get(ctx, taskID)
	if err != nil {
		return nil, NewServiceError("package", "failed to get task", err)
	}
	if rec.Status != domain.TaskStatusCompleted {
		return nil, fmt.Errorf("%w: task is %s", ErrInvalidState, rec.Status)
	}

	entries, err := p.workspace.Entries(taskID)
	if err != nil {
		if errors.Is(err, workspace.ErrDirNotFound) {
			return nil, ErrResultsNotFound
		}
		return nil, NewServiceError("package", "failed to list results", err)
	}

	fsys := p.workspace.Fs()
	tmp, err := afero.TempFile(fsys, "", "plip_results_*.zip")
	if err != nil {
		return nil, NewServiceError("package", "failed to create temporary archive", err)
	}

	archive := &Archive{Name: ArchiveName(taskID), file: tmp, fs: fsys}
	if err := p.writeZip(tmp, taskID, entries); err != nil {
		if closeErr := archive.Close(); closeErr != nil {
			p.logger.WarnContext(ctx, "failed to remove temporary archive", "error", closeErr)
		}
		return nil, NewServiceError("package", "failed to build archive", err)
	}

	size, err := tmp.Seek(0, io.SeekCurrent)
	if err == nil {
		_, err = tmp.Seek(0, io.SeekStart)
	}
	if err != nil {
		_ = archive.Close()
		return nil, NewServiceError("package", "failed to rewind archive", err)
	}
	archive.Size = size

	p.logger.DebugContext(ctx, "packaged task results",
		"task_id", taskID,
		"files", len(entries),
		"bytes", size)

	return archive, nil
}

func (p *ResultPackager) writeZip(w io.Writer, taskID string, entries []workspace.Entry) error {
	zw := zip.NewWriter(w)

	for _, entry := range entries {
		if entry.IsDir || !entry.Info.Mode().IsRegular() {
			continue
		}
		if err := p.addFile(zw, taskID, entry); err != nil {
			return err
		}
	}

	return zw.Close()
}

func (p *ResultPackager) addFile(zw *zip.Writer, taskID string, entry workspace.Entry) error {
	header, err := zip.FileInfoHeader(entry.Info)
	if err != nil {
		return fmt.Errorf("header for %s: %w", entry.Name, err)
	}
	header.Name = entry.Name
	header.Method = zip.Deflate

	dst, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("add %s: %w", entry.Name, err)
	}

	src, err := p.workspace.Open(taskID, entry.Name)
	if err != nil {
		return fmt.Errorf("open %s: %w", entry.Name, err)
	}
	defer src.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy %s: %w", entry.Name, err)
	}
	return nil
}
