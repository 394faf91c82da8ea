package registry

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// skipDirs are directory names never descended into.
var skipDirs = map[string]struct{}{
	"node_modules":  {},
	"vendor":        {},
	".git":          {},
	".venv":         {},
	"venv":          {},
	"__pycache__":   {},
	"site-packages": {},
}

// IsSkippedDir reports whether a directory with this base name is excluded
// from discovery and watching.
func IsSkippedDir(name string) bool {
	_, ok := skipDirs[name]
	return ok
}

// FSFinder finds files by base name on the local filesystem.
type FSFinder struct {
	name string
}

// NewFSFinder creates a finder for files called name.
func NewFSFinder(name string) *FSFinder {
	return &FSFinder{name: name}
}

// Find walks root and returns absolute paths of matching files.
// Unreadable subdirectories are skipped; a missing root yields no results.
func (f *FSFinder) Find(ctx context.Context, root string) ([]string, error) {
	var found []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == root {
				if errors.Is(err, fs.ErrNotExist) {
					return filepath.SkipAll
				}
				return err
			}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && IsSkippedDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() == f.name {
			abs, absErr := filepath.Abs(path)
			if absErr != nil {
				abs = path
			}
			found = append(found, abs)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// FSReader reads files from the local filesystem.
type FSReader struct{}

// ReadFile implements Reader.
func (FSReader) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path) //nolint:gosec // paths come from discovery
}
