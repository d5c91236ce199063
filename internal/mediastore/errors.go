// Package mediastore keeps uploads and generated results in two sandboxed
// directories and names every file the pipeline produces.
package mediastore

import (
	"github.com/ecoscout/ecoscout-go/internal/errors"
)

var (
	// ErrInvalidName is returned for names that are not a single local path
	// element, such as "../x", "a/b" or absolute paths.
	ErrInvalidName = errors.NewStd("mediastore: invalid file name")

	// ErrNotRegularFile is returned when serving something other than a file.
	ErrNotRegularFile = errors.NewStd("mediastore: not a regular file")
)
