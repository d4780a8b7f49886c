// Package index persists asset records, the mapping from an image id to its
// stored object, owner and metadata. Lookups go through this index instead of
// scanning storage directories, so resolving an id stays O(1) regardless of
// how many images the service holds.
package index

import (
	"context"
	"errors"
	"time"
)

// Asset is the persisted record for one uploaded image.
type Asset struct {
	ID           string    `json:"id"`
	OriginalName string    `json:"originalName"`
	Filename     string    `json:"filename"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	MimeType     string    `json:"mimetype"`
	Disk         string    `json:"disk"`
	UploadedBy   string    `json:"uploadedBy"`
	UploadedAt   time.Time `json:"uploadedAt"`
}

// ErrNotFound is returned when no record exists for an id.
var ErrNotFound = errors.New("asset not found")

// Index is the persistence contract for asset records. Implementations are
// safe for concurrent use.
type Index interface {
	// Put stores or replaces the record for a.ID.
	Put(ctx context.Context, a Asset) error
	// Get returns the record for id, or ErrNotFound.
	Get(ctx context.Context, id string) (Asset, error)
	// Delete removes the record for id. Deleting an absent record is a no-op.
	Delete(ctx context.Context, id string) error
	// List returns all records, newest first.
	List(ctx context.Context) ([]Asset, error)
	// Close releases the underlying store.
	Close() error
}
