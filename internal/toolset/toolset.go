// Package toolset implements line-oriented file operations confined to a single working root. Every operation is
// stateless: it resolves its filenames against the root, touches the file system, and returns a JSON-serializable
// result.
package toolset

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

const (
	// EndOfFile is the end line sentinel meaning "through the last line of the file".
	EndOfFile = -1

	filePerm = 0o644
	dirPerm  = 0o755

	defaultSearchConcurrency = 8
)

// DefaultExcludedNames are never listed or searched.
var DefaultExcludedNames = []string{".", "..", ".git", "__pycache__", "uv.lock"}

// Toolset operates on files under a fixed working root. It is safe for concurrent use.
type Toolset struct {
	root string
	base afero.Fs
	fs   afero.Fs

	excluded          map[string]struct{}
	searchConcurrency int

	// treeMu is held shared by operations that only touch individual files, and exclusively by operations that
	// prune directories
	treeMu sync.RWMutex
	files  *pathLocks
}

// Option configures a Toolset.
type Option func(*Toolset)

// WithFileSystem replaces the OS file system the root is resolved against, e.g. with afero.NewMemMapFs() in tests.
func WithFileSystem(fs afero.Fs) Option {
	return func(t *Toolset) {
		t.base = fs
	}
}

// WithExcludedNames excludes additional file and directory names from listing and searching.
func WithExcludedNames(names ...string) Option {
	return func(t *Toolset) {
		for _, name := range names {
			t.excluded[name] = struct{}{}
		}
	}
}

// WithSearchConcurrency bounds the number of files searched in parallel by FindLinesInAllFiles.
func WithSearchConcurrency(n int) Option {
	return func(t *Toolset) {
		if n > 0 {
			t.searchConcurrency = n
		}
	}
}

// New creates a Toolset rooted at root, creating the root directory if it does not exist.
func New(root string, opts ...Option) (*Toolset, error) {
	t := &Toolset{
		base:              afero.NewOsFs(),
		excluded:          map[string]struct{}{},
		searchConcurrency: defaultSearchConcurrency,
		files:             newPathLocks(),
	}
	for _, name := range DefaultExcludedNames {
		t.excluded[name] = struct{}{}
	}
	for _, opt := range opts {
		opt(t)
	}

	if _, isOS := t.base.(*afero.OsFs); isOS {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve working root '%s': %w", root, err)
		}
		root = abs
	}
	t.root = filepath.Clean(root)

	if err := t.base.MkdirAll(t.root, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create working root '%s': %w", t.root, err)
	}
	info, err := t.base.Stat(t.root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat working root '%s': %w", t.root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("working root '%s' is not a directory", t.root)
	}

	t.fs = afero.NewBasePathFs(t.base, t.root)
	return t, nil
}

// Root returns the absolute working root.
func (t *Toolset) Root() string {
	return t.root
}

// Ack acknowledges a successful mutating operation.
type Ack struct {
	Success string `json:"success"`
}

func (t *Toolset) isExcluded(name string) bool {
	_, ok := t.excluded[name]
	return ok
}

// acquire takes the tree lock shared and the file locks of the given relative paths. The returned function
// releases them
func (t *Toolset) acquire(ctx context.Context, paths ...string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.treeMu.RLock()
	unlock := t.files.lock(paths...)
	return func() {
		unlock()
		t.treeMu.RUnlock()
	}, nil
}

// acquireTree takes the tree lock exclusively
func (t *Toolset) acquireTree(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.treeMu.Lock()
	return t.treeMu.Unlock, nil
}
