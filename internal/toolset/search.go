package toolset

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/sync/errgroup"
)

// SearchResult is the result of a whole-tree search: a directory level when Children is non-nil, otherwise the
// matches of a single file.
type SearchResult struct {
	Children map[string]*SearchResult
	Lines    LineMap
}

// MarshalJSON renders directory levels as objects keyed by entry name and files as their line matches
func (sr *SearchResult) MarshalJSON() ([]byte, error) {
	if sr.Children != nil {
		return json.Marshal(sr.Children)
	}
	return json.Marshal(sr.Lines)
}

// IsEmpty returns true if nothing under this result matched
func (sr *SearchResult) IsEmpty() bool {
	if sr.Children != nil {
		return len(sr.Children) == 0
	}
	return len(sr.Lines) == 0
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPattern, err)
	}
	return re, nil
}

// FindLinesInFile returns every line of filename that matches pattern anywhere, keyed by line number. Bytes that
// are not valid UTF-8 are dropped before matching
func (t *Toolset) FindLinesInFile(ctx context.Context, filename string, pattern string) (LineMap, error) {
	re, err := compilePattern(pattern)
	if err != nil {
		return nil, err
	}
	rel, err := t.resolve(filename)
	if err != nil {
		return nil, err
	}

	release, err := t.acquire(ctx, rel)
	if err != nil {
		return nil, err
	}
	defer release()

	return t.searchFile(rel, re)
}

// FindLinesInAllFiles searches every non-excluded file under the root. Files without matches, and directories
// without matching descendants, are omitted
func (t *Toolset) FindLinesInAllFiles(ctx context.Context, pattern string) (*SearchResult, error) {
	re, err := compilePattern(pattern)
	if err != nil {
		return nil, err
	}

	release, err := t.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	files, err := t.walkFiles(ctx, ".")
	if err != nil {
		return nil, err
	}

	matches := make([]LineMap, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.searchConcurrency)
	for i, rel := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			unlock := t.files.lock(rel)
			defer unlock()

			m, err := t.searchFile(rel, re)
			if errors.Is(err, ErrNotFound) {
				// Removed since the walk
				return nil
			}
			matches[i] = m
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &SearchResult{Children: map[string]*SearchResult{}}
	for i, rel := range files {
		if len(matches[i]) == 0 {
			continue
		}
		level := result
		parts := strings.Split(filepath.ToSlash(rel), "/")
		for _, dir := range parts[:len(parts)-1] {
			next, ok := level.Children[dir]
			if !ok {
				next = &SearchResult{Children: map[string]*SearchResult{}}
				level.Children[dir] = next
			}
			level = next
		}
		level.Children[parts[len(parts)-1]] = &SearchResult{Lines: matches[i]}
	}
	return result, nil
}

func (t *Toolset) searchFile(rel string, re *regexp.Regexp) (LineMap, error) {
	if _, err := t.statFile(rel); err != nil {
		return nil, err
	}
	f, err := t.fs.Open(rel)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", filepath.ToSlash(rel), err)
	}
	defer f.Close()

	matches := LineMap{}
	reader := bufio.NewReader(f)
	for lineNumber := 1; ; lineNumber++ {
		line, err := reader.ReadString('\n')
		if line != "" {
			text := strings.ToValidUTF8(trimTerminator(line), "")
			if re.MatchString(text) {
				matches[lineNumber] = strings.TrimRightFunc(text, unicode.IsSpace)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", filepath.ToSlash(rel), err)
		}
	}
	return matches, nil
}
