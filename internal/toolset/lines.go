package toolset

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// splitLines splits file content into lines without their "\n" terminators, and reports whether the last line was
// terminated
func splitLines(data []byte) (lines []string, trailingNewline bool) {
	text := string(data)
	if text == "" {
		return nil, false
	}
	trailingNewline = strings.HasSuffix(text, "\n")
	text = strings.TrimSuffix(text, "\n")
	return strings.Split(text, "\n"), trailingNewline
}

// joinLines is the inverse of splitLines
func joinLines(lines []string, trailingNewline bool) string {
	if len(lines) == 0 {
		return ""
	}
	text := strings.Join(lines, "\n")
	if trailingNewline {
		text += "\n"
	}
	return text
}

// contentLines splits replacement content into lines. A single trailing newline terminates the last line rather
// than starting an empty one, and empty content has no lines at all
func contentLines(content string) []string {
	if content == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(content, "\n"), "\n")
}

func trimTerminator(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}

// checkRange validates an inclusive line range against a file with total lines. start may be one past the last
// line, which addresses the (empty) position after the end of the file
func checkRange(startName, endName string, start, end, total int) error {
	if start < 1 || start > total+1 {
		return fmt.Errorf("%w: %s %d is out of bounds (1 to %d)", ErrRange, startName, start, total+1)
	}
	if end == EndOfFile {
		return nil
	}
	if end < start {
		return fmt.Errorf("%w: %s (%d) cannot be before %s (%d)", ErrRange, endName, end, startName, start)
	}
	if end > total {
		return fmt.Errorf("%w: %s %d exceeds total lines (%d). Use %s=-1 to go through the end of the file",
			ErrRange, endName, end, total, endName)
	}
	return nil
}

// rangeEnd converts an inclusive 1-based end line into an exclusive slice index
func rangeEnd(end, total int) int {
	if end == EndOfFile {
		return total
	}
	return end
}

// ReadLineNumbers returns the lines of filename from start through end inclusive, keyed by line number. An end of
// zero or less reads through the end of the file
func (t *Toolset) ReadLineNumbers(ctx context.Context, filename string, start, end int) (LineMap, error) {
	rel, err := t.resolve(filename)
	if err != nil {
		return nil, err
	}

	release, err := t.acquire(ctx, rel)
	if err != nil {
		return nil, err
	}
	defer release()

	data, err := t.readFile(rel)
	if err != nil {
		return nil, err
	}

	lines, _ := splitLines(data)
	result := LineMap{}
	for i, line := range lines {
		n := i + 1
		if end > 0 && n > end {
			break
		}
		if n >= start {
			result[n] = strings.TrimSuffix(line, "\r")
		}
	}
	return result, nil
}

// ReplaceLinesInFile replaces lines start through end inclusive with content, rewriting the whole file. end may be
// EndOfFile. Empty content deletes the range. A file that does not exist yet is treated as empty, so it can be
// created by replacing from line 1
func (t *Toolset) ReplaceLinesInFile(ctx context.Context, filename string, start, end int, content string) (Ack, error) {
	rel, err := t.resolve(filename)
	if err != nil {
		return Ack{}, err
	}

	release, err := t.acquire(ctx, rel)
	if err != nil {
		return Ack{}, err
	}
	defer release()

	return t.replaceLines(rel, filename, start, end, contentLines(content))
}

// CopyLines replaces the destination range with a copy of the source range. The source file is not modified
func (t *Toolset) CopyLines(
	ctx context.Context,
	srcFilename string, srcStart, srcEnd int,
	destFilename string, destStart, destEnd int,
) (Ack, error) {
	srcRel, err := t.resolve(srcFilename)
	if err != nil {
		return Ack{}, err
	}
	destRel, err := t.resolve(destFilename)
	if err != nil {
		return Ack{}, err
	}

	release, err := t.acquire(ctx, srcRel, destRel)
	if err != nil {
		return Ack{}, err
	}
	defer release()

	data, err := t.readFile(srcRel)
	if err != nil {
		return Ack{}, err
	}
	lines, _ := splitLines(data)
	if err := checkRange("src_start_line", "src_end_line", srcStart, srcEnd, len(lines)); err != nil {
		return Ack{}, err
	}
	selected := append([]string(nil), lines[srcStart-1:rangeEnd(srcEnd, len(lines))]...)

	return t.replaceLines(destRel, destFilename, destStart, destEnd, selected)
}

// replaceLines splices replacement into rel. The caller must hold the lock on rel
func (t *Toolset) replaceLines(rel, filename string, start, end int, replacement []string) (Ack, error) {
	data, err := t.readFile(rel)
	if errors.Is(err, ErrIsDir) {
		return Ack{}, err
	} else if errors.Is(err, ErrNotFound) {
		data = nil
	} else if err != nil {
		return Ack{}, err
	}

	lines, trailingNewline := splitLines(data)
	if err := checkRange("start_line", "end_line", start, end, len(lines)); err != nil {
		return Ack{}, err
	}
	stop := rangeEnd(end, len(lines))

	spliced := make([]string, 0, len(lines)-(stop-start+1)+len(replacement))
	spliced = append(spliced, lines[:start-1]...)
	spliced = append(spliced, replacement...)
	spliced = append(spliced, lines[stop:]...)

	if err := t.ensureParent(rel); err != nil {
		return Ack{}, err
	}
	if err := afero.WriteFile(t.fs, rel, []byte(joinLines(spliced, trailingNewline)), filePerm); err != nil {
		return Ack{}, fmt.Errorf("failed to write %s: %w", filepath.ToSlash(rel), err)
	}

	return Ack{Success: fmt.Sprintf("Replaced lines %d:%d in %s", start, end, filename)}, nil
}
