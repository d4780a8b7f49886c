package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no object exists at the requested path.
	ErrNotFound = errors.New("object not found")
	// ErrInvalidPath is returned for logical paths that are absolute, empty,
	// or would escape the disk root.
	ErrInvalidPath = errors.New("invalid object path")
	// ErrDiskNotConfigured is returned by the Router for unknown disk names.
	ErrDiskNotConfigured = errors.New("disk not configured")

	errSourceDelete = errors.New("source delete failed after copy")
)

// BackendError describes a failed storage operation with enough context to
// log and debug it without losing the driver fault underneath.
type BackendError struct {
	Driver string
	Op     string
	Path   string
	Err    error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("storage %s: %s %q: %v", e.Driver, e.Op, e.Path, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

func backendErr(driver, op, path string, err error) error {
	return &BackendError{Driver: driver, Op: op, Path: path, Err: err}
}
