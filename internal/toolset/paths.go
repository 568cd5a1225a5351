package toolset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/afero"
)

// resolve validates a caller-supplied filename and returns it cleaned and relative to the root. It performs no I/O
func (t *Toolset) resolve(filename string) (string, error) {
	if filename == "" {
		return "", fmt.Errorf("%w: filename is required", ErrPathViolation)
	}
	if strings.HasPrefix(filename, "/") || strings.HasPrefix(filename, `\`) ||
		filepath.IsAbs(filename) || filepath.VolumeName(filename) != "" {
		return "", fmt.Errorf("%w: %s is an absolute path but must be under the current directory", ErrPathViolation, filename)
	}
	segments := strings.FieldsFunc(filename, func(r rune) bool { return r == '/' || r == '\\' })
	for _, segment := range segments {
		if segment == ".." {
			return "", fmt.Errorf("%w: %s contains '..' but must be under the current directory", ErrPathViolation, filename)
		}
	}

	rel := filepath.Clean(filepath.FromSlash(filename))
	if rel == "." {
		return "", fmt.Errorf("%w: %s does not name a file under the current directory", ErrPathViolation, filename)
	}
	return rel, nil
}

// ensureParent creates the missing parent directories of rel
func (t *Toolset) ensureParent(rel string) error {
	dir := filepath.Dir(rel)
	if dir == "." {
		return nil
	}
	if err := t.fs.MkdirAll(dir, dirPerm); isNotDir(err) {
		return fmt.Errorf("%w: a parent of %s is a file", ErrNotFound, filepath.ToSlash(rel))
	} else if err != nil {
		return fmt.Errorf("failed to create parent directories of %s: %w", filepath.ToSlash(rel), err)
	}
	return nil
}

// pruneEmptyParents walks up from the parent of rel and removes each directory that is empty, stopping at the
// first non-empty directory. The root itself is never removed
func (t *Toolset) pruneEmptyParents(rel string) error {
	for dir := filepath.Dir(rel); dir != "." && dir != string(filepath.Separator); dir = filepath.Dir(dir) {
		entries, err := afero.ReadDir(t.fs, dir)
		if errors.Is(err, os.ErrNotExist) {
			continue
		} else if err != nil {
			return fmt.Errorf("failed to list %s: %w", filepath.ToSlash(dir), err)
		}
		if len(entries) > 0 {
			return nil
		}
		if err := t.fs.Remove(dir); err != nil {
			return fmt.Errorf("failed to remove empty directory %s: %w", filepath.ToSlash(dir), err)
		}
	}
	return nil
}

// statFile returns the file info of rel, reporting ErrNotFound or ErrIsDir when rel is not a regular file
func (t *Toolset) statFile(rel string) (os.FileInfo, error) {
	info, err := t.fs.Stat(rel)
	if errors.Is(err, os.ErrNotExist) || isNotDir(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, filepath.ToSlash(rel))
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", filepath.ToSlash(rel), err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrIsDir, filepath.ToSlash(rel))
	}
	return info, nil
}

// checkWritable reports ErrIsDir when rel is an existing directory. A missing rel, or one below a file, is left for
// ensureParent to judge
func (t *Toolset) checkWritable(rel string) error {
	info, err := t.fs.Stat(rel)
	switch {
	case err == nil && info.IsDir():
		return fmt.Errorf("%w: %s", ErrIsDir, filepath.ToSlash(rel))
	case err == nil, errors.Is(err, os.ErrNotExist), isNotDir(err):
		return nil
	default:
		return fmt.Errorf("failed to stat %s: %w", filepath.ToSlash(rel), err)
	}
}

// isNotDir reports whether err comes from a path component that is a file rather than a directory
func isNotDir(err error) bool {
	return errors.Is(err, syscall.ENOTDIR)
}

// readFile reads the whole content of rel
func (t *Toolset) readFile(rel string) ([]byte, error) {
	if _, err := t.statFile(rel); err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(t.fs, rel)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filepath.ToSlash(rel), err)
	}
	return data, nil
}
