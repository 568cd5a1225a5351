package toolset

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// Node is one entry of a directory tree snapshot: a directory when Children is non-nil, otherwise a file with its
// modification time.
type Node struct {
	Children map[string]*Node
	ModTime  time.Time
}

// IsDir returns true if the node is a directory
func (n *Node) IsDir() bool {
	return n.Children != nil
}

// MarshalJSON renders directories as objects and files as their modification time in epoch seconds
func (n *Node) MarshalJSON() ([]byte, error) {
	if n.IsDir() {
		return json.Marshal(n.Children)
	}
	return json.Marshal(epochSeconds(n.ModTime))
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// ListFiles returns a snapshot of the directory tree under the root. Excluded names are skipped entirely
func (t *Toolset) ListFiles(ctx context.Context) (*Node, error) {
	release, err := t.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	return t.walk(ctx, ".")
}

func (t *Toolset) walk(ctx context.Context, dir string) (*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// ReadDir returns entries sorted by name
	entries, err := afero.ReadDir(t.fs, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", filepath.ToSlash(dir), err)
	}

	node := &Node{Children: map[string]*Node{}}
	for _, entry := range entries {
		if t.isExcluded(entry.Name()) {
			continue
		}
		if entry.IsDir() {
			child, err := t.walk(ctx, filepath.Join(dir, entry.Name()))
			if err != nil {
				return nil, err
			}
			node.Children[entry.Name()] = child
		} else {
			node.Children[entry.Name()] = &Node{ModTime: entry.ModTime()}
		}
	}
	return node, nil
}

// walkFiles returns the relative paths of every regular, non-excluded file under dir, in lexical order
func (t *Toolset) walkFiles(ctx context.Context, dir string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := afero.ReadDir(t.fs, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", filepath.ToSlash(dir), err)
	}

	var files []string
	for _, entry := range entries {
		if t.isExcluded(entry.Name()) {
			continue
		}
		rel := filepath.Join(dir, entry.Name())
		switch {
		case entry.IsDir():
			nested, err := t.walkFiles(ctx, rel)
			if err != nil {
				return nil, err
			}
			files = append(files, nested...)
		case entry.Mode().IsRegular():
			files = append(files, rel)
		}
	}
	return files, nil
}
