package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// LocalBackend stores objects as plain files under a root directory. Logical
// object paths use forward slashes regardless of OS.
type LocalBackend struct {
	root    string
	baseURL string
}

// NewLocalBackend creates the root directory if needed and returns a backend
// rooted there. baseURL is the public prefix URL() builds from.
func NewLocalBackend(root, baseURL string) (*LocalBackend, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root %q: %w", root, err)
	}
	return &LocalBackend{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// Name identifies the driver kind.
func (b *LocalBackend) Name() string { return "local" }

// resolve maps a logical path to an absolute file path under root. Absolute
// paths, backslashes and anything that climbs out of the root are rejected,
// so an id like "../../etc/passwd" can never address a file outside the
// storage tree.
func (b *LocalBackend) resolve(p string) (string, error) {
	if p == "" || strings.Contains(p, "\\") || path.IsAbs(p) {
		return "", ErrInvalidPath
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", ErrInvalidPath
	}
	return filepath.Join(b.root, filepath.FromSlash(clean)), nil
}

// Exists reports whether a regular file is present at path.
func (b *LocalBackend) Exists(ctx context.Context, p string) bool {
	fp, err := b.resolve(p)
	if err != nil {
		return false
	}
	info, err := os.Stat(fp)
	return err == nil && !info.IsDir()
}

// Read returns the file contents at path.
func (b *LocalBackend) Read(ctx context.Context, p string) ([]byte, error) {
	fp, err := b.resolve(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fp)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, backendErr("local", "read", p, err)
	}
	return data, nil
}

// Write stores data at path. The file lands via a temp file plus rename in
// the destination directory, so concurrent readers never observe a partial
// object.
func (b *LocalBackend) Write(ctx context.Context, p string, data []byte, contentType string) error {
	fp, err := b.resolve(p)
	if err != nil {
		return err
	}
	dir := filepath.Dir(fp)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return backendErr("local", "write", p, err)
	}
	tmp, err := os.CreateTemp(dir, ".write-*")
	if err != nil {
		return backendErr("local", "write", p, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return backendErr("local", "write", p, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return backendErr("local", "write", p, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return backendErr("local", "write", p, err)
	}
	if err := os.Rename(tmp.Name(), fp); err != nil {
		os.Remove(tmp.Name())
		return backendErr("local", "write", p, err)
	}
	return nil
}

// Delete removes the file at path. Absence and faults both report false.
func (b *LocalBackend) Delete(ctx context.Context, p string) bool {
	fp, err := b.resolve(p)
	if err != nil {
		return false
	}
	return os.Remove(fp) == nil
}

// Copy duplicates the object at from to to.
func (b *LocalBackend) Copy(ctx context.Context, from, to string) error {
	data, err := b.Read(ctx, from)
	if err != nil {
		return err
	}
	return b.Write(ctx, to, data, "")
}

// Move relocates an object via copy-then-delete.
func (b *LocalBackend) Move(ctx context.Context, from, to string) error {
	if err := b.Copy(ctx, from, to); err != nil {
		return err
	}
	if !b.Delete(ctx, from) {
		return backendErr("local", "move", from, errSourceDelete)
	}
	return nil
}

// Size returns the file size in bytes.
func (b *LocalBackend) Size(ctx context.Context, p string) (int64, error) {
	info, err := b.stat(p)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// LastModified returns the file's modification time.
func (b *LocalBackend) LastModified(ctx context.Context, p string) (time.Time, error) {
	info, err := b.stat(p)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// MimeType returns the content type derived from the file extension.
func (b *LocalBackend) MimeType(ctx context.Context, p string) (string, error) {
	if !b.Exists(ctx, p) {
		return "", ErrNotFound
	}
	if mt := mime.TypeByExtension(path.Ext(p)); mt != "" {
		return mt, nil
	}
	return "application/octet-stream", nil
}

// URL returns the permanent URL for path.
func (b *LocalBackend) URL(p string) string {
	return b.baseURL + "/" + p
}

// TemporaryURL on a local disk has no signing to offer and degrades to the
// permanent URL.
func (b *LocalBackend) TemporaryURL(ctx context.Context, p string, ttl time.Duration) (string, error) {
	return b.URL(p), nil
}

func (b *LocalBackend) stat(p string) (os.FileInfo, error) {
	fp, err := b.resolve(p)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(fp)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, backendErr("local", "stat", p, err)
	}
	return info, nil
}
