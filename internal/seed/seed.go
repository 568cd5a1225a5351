// Package seed populates a working directory with the files of a GitHub repository.
package seed

import (
	"context"
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/google/go-github/v72/github"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cchalm/toolbag/internal/toolset"
)

const (
	defaultMaxFiles     = 2000
	defaultMaxBlobBytes = 1 << 20
	defaultConcurrency  = 8
	maxPathLength       = 500

	// Git tree entry modes that are not regular file contents
	modeSymlink   = "120000"
	modeSubmodule = "160000"
)

// Seeder downloads repository trees through the GitHub git data API
type Seeder struct {
	git    *github.GitService
	logger *zap.Logger

	maxFiles     int
	maxBlobBytes int
	concurrency  int
}

type Option func(*Seeder)

// WithMaxFiles bounds the number of files written by one Seed call
func WithMaxFiles(n int) Option {
	return func(s *Seeder) {
		s.maxFiles = n
	}
}

// WithMaxBlobBytes skips files larger than n bytes
func WithMaxBlobBytes(n int) Option {
	return func(s *Seeder) {
		s.maxBlobBytes = n
	}
}

func WithConcurrency(n int) Option {
	return func(s *Seeder) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Seeder) {
		s.logger = logger
	}
}

func New(client *github.Client, opts ...Option) *Seeder {
	s := &Seeder{
		git:          client.Git,
		logger:       zap.NewNop(),
		maxFiles:     defaultMaxFiles,
		maxBlobBytes: defaultMaxBlobBytes,
		concurrency:  defaultConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result lists what a Seed call did, by destination path
type Result struct {
	Written []string
	Skipped []string
}

// ParseRepository splits "owner/repo" into its parts
func ParseRepository(qualifiedName string) (string, string, error) {
	owner, repo, ok := strings.Cut(qualifiedName, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("invalid repository '%s', expected owner/repo", qualifiedName)
	}
	return owner, repo, nil
}

// Seed writes every file of the repository at ref into ts under prefix. Files go through ts.SaveToFile, so a path
// that would leave the working directory is skipped rather than written
func (s *Seeder) Seed(ctx context.Context, ts *toolset.Toolset, owner, repo, ref, prefix string) (*Result, error) {
	if ref == "" {
		ref = "HEAD"
	}
	tree, _, err := s.git.GetTree(ctx, owner, repo, ref, true)
	if err != nil {
		return nil, fmt.Errorf("failed to get recursive tree: %w", err)
	}
	if tree.GetTruncated() {
		s.logger.Warn("repository tree is truncated, some files will be missing",
			zap.String("owner", owner), zap.String("repo", repo), zap.String("ref", ref))
	}

	result := &Result{}
	var blobs []*github.TreeEntry
	for _, entry := range tree.Entries {
		if entry.GetType() != "blob" || entry.GetPath() == "" {
			continue
		}
		dest := path.Join(prefix, entry.GetPath())
		switch {
		case entry.GetMode() == modeSymlink || entry.GetMode() == modeSubmodule:
			s.logger.Debug("skipping non-file entry", zap.String("path", entry.GetPath()), zap.String("mode", entry.GetMode()))
			result.Skipped = append(result.Skipped, dest)
		case len(entry.GetPath()) > maxPathLength:
			result.Skipped = append(result.Skipped, dest)
		case s.maxBlobBytes > 0 && entry.GetSize() > s.maxBlobBytes:
			s.logger.Info("skipping large file", zap.String("path", entry.GetPath()), zap.Int("size", entry.GetSize()))
			result.Skipped = append(result.Skipped, dest)
		case s.maxFiles > 0 && len(blobs) >= s.maxFiles:
			result.Skipped = append(result.Skipped, dest)
		default:
			blobs = append(blobs, entry)
		}
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, entry := range blobs {
		g.Go(func() error {
			dest := path.Join(prefix, entry.GetPath())
			written, err := s.seedFile(ctx, ts, owner, repo, entry, dest)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if written {
				result.Written = append(result.Written, dest)
			} else {
				result.Skipped = append(result.Skipped, dest)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	slices.Sort(result.Written)
	slices.Sort(result.Skipped)
	s.logger.Info("seeded working directory",
		zap.String("repository", owner+"/"+repo),
		zap.String("ref", ref),
		zap.Int("written", len(result.Written)),
		zap.Int("skipped", len(result.Skipped)),
	)
	return result, nil
}

func (s *Seeder) seedFile(ctx context.Context, ts *toolset.Toolset, owner, repo string, entry *github.TreeEntry, dest string) (bool, error) {
	content, _, err := s.git.GetBlobRaw(ctx, owner, repo, entry.GetSHA())
	if err != nil {
		return false, fmt.Errorf("failed to download '%s': %w", entry.GetPath(), err)
	}
	if _, err := ts.SaveToFile(ctx, dest, string(content)); err != nil {
		if toolset.IsInputError(err) {
			s.logger.Warn("skipping file", zap.String("path", dest), zap.Error(err))
			return false, nil
		}
		return false, fmt.Errorf("failed to write '%s': %w", dest, err)
	}
	return true, nil
}
