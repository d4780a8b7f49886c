// Package storage defines the disk abstraction for image objects and its
// drivers (local filesystem, S3-compatible, Azure Blob, GCS). Swap providers
// by changing the backends registered on the Router at startup; callers only
// ever see the Backend interface. All implementations are safe for concurrent
// use by multiple goroutines.
package storage

import (
	"context"
	"time"
)

// Backend is the contract a storage driver satisfies. Existence probes and
// deletes never fail loudly: a fault is reported as absence (false) so
// callers can treat "gone" and "unreachable" alike. Every other operation
// returns ErrNotFound for missing objects and *BackendError for driver
// faults, which callers can tell apart with errors.Is / errors.As.
type Backend interface {
	// Exists reports whether an object is present at path.
	Exists(ctx context.Context, path string) bool
	// Read returns the full object contents.
	Read(ctx context.Context, path string) ([]byte, error)
	// Write stores data at path, overwriting any existing object.
	Write(ctx context.Context, path string, data []byte, contentType string) error
	// Delete removes the object at path. It reports true only when an
	// existing object was removed.
	Delete(ctx context.Context, path string) bool
	// Copy duplicates the object at from to to within this backend.
	Copy(ctx context.Context, from, to string) error
	// Move relocates an object. It runs as copy-then-delete and is not
	// atomic: a failure between the steps can leave the object at both
	// paths, never at neither.
	Move(ctx context.Context, from, to string) error
	// Size returns the object size in bytes.
	Size(ctx context.Context, path string) (int64, error)
	// LastModified returns the object's last modification time.
	LastModified(ctx context.Context, path string) (time.Time, error)
	// MimeType returns the object's content type.
	MimeType(ctx context.Context, path string) (string, error)
	// URL returns the permanent browser-accessible URL for path. It is a
	// pure string operation and performs no existence check.
	URL(path string) string
	// TemporaryURL returns a signed, time-limited URL. Drivers without
	// signing support degrade to the permanent URL.
	TemporaryURL(ctx context.Context, path string, ttl time.Duration) (string, error)
	// Name identifies the driver kind ("local", "s3", "azure", "gcs").
	Name() string
}
