package fetcher

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Error classes. Every error returned by FetchImages wraps exactly one of
// them, so callers can branch with errors.Is.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrFilesystem      = errors.New("filesystem error")
	ErrProvider        = errors.New("provider error")
)

// classify wraps err in ErrFilesystem when the filesystem produced it and in
// ErrProvider otherwise.
func classify(err error, format string, args ...any) error {
	class := ErrProvider
	var pathErr *fs.PathError
	var linkErr *os.LinkError
	if errors.As(err, &pathErr) || errors.As(err, &linkErr) {
		class = ErrFilesystem
	}
	return fmt.Errorf("%w: %s: %w", class, fmt.Sprintf(format, args...), err)
}
