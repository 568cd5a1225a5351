package toolset

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

// SaveToFile writes contents to filename verbatim, creating parent directories and overwriting any existing file
func (t *Toolset) SaveToFile(ctx context.Context, filename string, contents string) (Ack, error) {
	rel, err := t.resolve(filename)
	if err != nil {
		return Ack{}, err
	}

	release, err := t.acquire(ctx, rel)
	if err != nil {
		return Ack{}, err
	}
	defer release()

	if err := t.checkWritable(rel); err != nil {
		return Ack{}, err
	}
	if err := t.ensureParent(rel); err != nil {
		return Ack{}, err
	}
	if err := afero.WriteFile(t.fs, rel, []byte(contents), filePerm); err != nil {
		return Ack{}, fmt.Errorf("failed to write %s: %w", filepath.ToSlash(rel), err)
	}
	return Ack{Success: fmt.Sprintf("Content written to %s", filename)}, nil
}

// DeleteFile removes filename, then removes each ancestor directory left empty, up to but excluding the root
func (t *Toolset) DeleteFile(ctx context.Context, filename string) (Ack, error) {
	rel, err := t.resolve(filename)
	if err != nil {
		return Ack{}, err
	}

	release, err := t.acquireTree(ctx)
	if err != nil {
		return Ack{}, err
	}
	defer release()

	if _, err := t.statFile(rel); err != nil {
		return Ack{}, err
	}
	if err := t.fs.Remove(rel); err != nil {
		return Ack{}, fmt.Errorf("failed to delete %s: %w", filepath.ToSlash(rel), err)
	}
	if err := t.pruneEmptyParents(rel); err != nil {
		return Ack{}, err
	}
	return Ack{Success: fmt.Sprintf("Deleted %s and any empty parent dirs.", filename)}, nil
}

// MoveFile moves or renames srcFilename to destFilename, replacing any existing destination file, then prunes the
// source's ancestors as DeleteFile does
func (t *Toolset) MoveFile(ctx context.Context, srcFilename, destFilename string) (Ack, error) {
	srcRel, err := t.resolve(srcFilename)
	if err != nil {
		return Ack{}, err
	}
	destRel, err := t.resolve(destFilename)
	if err != nil {
		return Ack{}, err
	}

	release, err := t.acquireTree(ctx)
	if err != nil {
		return Ack{}, err
	}
	defer release()

	if _, err := t.statFile(srcRel); err != nil {
		return Ack{}, err
	}
	if err := t.checkWritable(destRel); err != nil {
		return Ack{}, err
	}

	if srcRel != destRel {
		if err := t.ensureParent(destRel); err != nil {
			return Ack{}, err
		}
		if err := t.fs.Rename(srcRel, destRel); err != nil {
			return Ack{}, fmt.Errorf("failed to move %s to %s: %w", srcFilename, destFilename, err)
		}
		if err := t.pruneEmptyParents(srcRel); err != nil {
			return Ack{}, err
		}
	}
	return Ack{Success: fmt.Sprintf("Renamed %s to %s", srcFilename, destFilename)}, nil
}
