// Package workspace manages the per-task output directories on top of an
// afero filesystem. Each task owns exactly one directory named after its ID
// under a common root.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

var (
	// ErrInvalidTaskID is returned when a task ID cannot be used as a directory name.
	ErrInvalidTaskID = errors.New("invalid task id")

	// ErrInvalidFileName is returned when an artifact name is not a plain file name.
	ErrInvalidFileName = errors.New("invalid file name")

	// ErrDirNotFound is returned when a task directory does not exist.
	ErrDirNotFound = errors.New("task directory not found")
)

const maxTaskIDLen = 64

var taskIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

const (
	dirPerm  os.FileMode = 0o755
	filePerm os.FileMode = 0o644
)

// ValidateTaskID returns nil for IDs that are safe to use as a directory name.
// Only ASCII letters, digits, underscore and dash are allowed, which rules
// out separators and traversal.
func ValidateTaskID(id string) error {
	if id == "" {
		return fmt.Errorf("empty task id: %w", ErrInvalidTaskID)
	}
	if len(id) > maxTaskIDLen {
		return fmt.Errorf("task id too long: %w", ErrInvalidTaskID)
	}
	if !taskIDRe.MatchString(id) {
		return fmt.Errorf("task id contains invalid characters: %w", ErrInvalidTaskID)
	}
	return nil
}

func validateFileName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%q: %w", name, ErrInvalidFileName)
	}
	return nil
}

// Entry describes one direct child of a task directory.
type Entry struct {
	Name  string
	Size  int64
	IsDir bool
	Info  fs.FileInfo
}

// Workspace resolves and provisions task directories under Root.
type Workspace struct {
	fs   afero.Fs
	root string
}

// New creates a Workspace rooted at root on the given filesystem.
func New(fsys afero.Fs, root string) *Workspace {
	return &Workspace{fs: fsys, root: filepath.Clean(root)}
}

// NewOS creates a Workspace on the host filesystem.
func NewOS(root string) *Workspace {
	return New(afero.NewOsFs(), root)
}

// Fs returns the underlying filesystem.
func (w *Workspace) Fs() afero.Fs {
	return w.fs
}

// Root returns the directory that holds all task directories.
func (w *Workspace) Root() string {
	return w.root
}

// Dir derives the output directory for a task without touching the filesystem.
func (w *Workspace) Dir(taskID string) (string, error) {
	if err := ValidateTaskID(taskID); err != nil {
		return "", err
	}
	return filepath.Join(w.root, taskID), nil
}

// Ensure creates the task directory if it does not exist yet and returns its path.
func (w *Workspace) Ensure(taskID string) (string, error) {
	dir, err := w.Dir(taskID)
	if err != nil {
		return "", err
	}
	if err := w.fs.MkdirAll(dir, dirPerm); err != nil {
		return "", fmt.Errorf("create task directory: %w", err)
	}
	return dir, nil
}

// Exists reports whether the task directory is present.
func (w *Workspace) Exists(taskID string) (bool, error) {
	dir, err := w.Dir(taskID)
	if err != nil {
		return false, err
	}
	return afero.DirExists(w.fs, dir)
}

// WriteFile writes data to a file directly inside the task directory and
// returns its full path. The directory must already exist.
func (w *Workspace) WriteFile(taskID, name string, data []byte) (string, error) {
	dir, err := w.Dir(taskID)
	if err != nil {
		return "", err
	}
	if err := validateFileName(name); err != nil {
		return "", err
	}

	path := filepath.Join(dir, name)
	if err := afero.WriteFile(w.fs, path, data, filePerm); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return path, nil
}

// Entries lists the direct children of the task directory, sorted by name.
// Subdirectories are reported but not descended into.
func (w *Workspace) Entries(taskID string) ([]Entry, error) {
	dir, err := w.Dir(taskID)
	if err != nil {
		return nil, err
	}

	infos, err := afero.ReadDir(w.fs, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", taskID, ErrDirNotFound)
		}
		return nil, fmt.Errorf("read task directory: %w", err)
	}

	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, Entry{
			Name:  info.Name(),
			Size:  info.Size(),
			IsDir: info.IsDir(),
			Info:  info,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Open opens a file directly inside the task directory for reading.
func (w *Workspace) Open(taskID, name string) (afero.File, error) {
	dir, err := w.Dir(taskID)
	if err != nil {
		return nil, err
	}
	if err := validateFileName(name); err != nil {
		return nil, err
	}
	return w.fs.Open(filepath.Join(dir, name))
}
