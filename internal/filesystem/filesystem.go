package filesystem

import (
	"os"
	"path/filepath"
	"strings"
)

// OSFileSystem bundles the path and directory helpers used by the
// storage and persistence layers.
type OSFileSystem struct{}

// NewOSFileSystem creates a new OS filesystem
func NewOSFileSystem() *OSFileSystem {
	return &OSFileSystem{}
}

// BuildPath joins path elements, skipping empty ones.
func (fs *OSFileSystem) BuildPath(elem ...string) string {
	parts := make([]string, 0, len(elem))
	for _, e := range elem {
		if e != "" {
			parts = append(parts, e)
		}
	}

	return filepath.Join(parts...)
}

// DeleteFile deletes a file. Deleting a missing file is not an error.
func (fs *OSFileSystem) DeleteFile(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// EnsureDirectory ensures a directory exists
func (fs *OSFileSystem) EnsureDirectory(path string) error {
	return os.MkdirAll(path, 0o755)
}

// EnsureParent ensures the directory holding path exists.
func (fs *OSFileSystem) EnsureParent(path string) error {
	return fs.EnsureDirectory(filepath.Dir(path))
}

// FileExists checks if a regular file exists
func (fs *OSFileSystem) FileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err == nil {
		return !info.IsDir(), nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// WriteFileAtomic writes data to a temporary file next to path and renames
// it over path, so readers never observe a partially written file.
func (fs *OSFileSystem) WriteFileAtomic(path string, data []byte) error {
	if err := fs.EnsureParent(path); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}

	return nil
}

// IsSafeComponent reports whether a single path component from untrusted
// metadata may be used on disk.
func IsSafeComponent(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, "/\\\x00")
}
