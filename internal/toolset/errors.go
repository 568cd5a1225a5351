package toolset

import (
	"errors"
	"fmt"
)

// Errors returned by the toolset. They are wrapped with details about the offending call, so compare them with
// errors.Is.
var (
	// ErrPathViolation reports a filename that would resolve outside the working root.
	ErrPathViolation = errors.New("path violation")
	// ErrRange reports a line range that is inverted or out of bounds for the file.
	ErrRange = errors.New("line range error")
	// ErrNotFound reports a file that does not exist.
	ErrNotFound = errors.New("file not found")
	// ErrIsDir reports a directory where a file was expected. It matches ErrNotFound too, since no file by that
	// name exists.
	ErrIsDir = fmt.Errorf("%w: is a directory", ErrNotFound)
	// ErrPattern reports a regular expression that failed to compile.
	ErrPattern = errors.New("invalid pattern")
)

// IsInputError returns true if err was caused by the caller's arguments rather than by the file system, i.e. the
// same call with corrected arguments could succeed.
func IsInputError(err error) bool {
	return errors.Is(err, ErrPathViolation) ||
		errors.Is(err, ErrRange) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrPattern)
}
