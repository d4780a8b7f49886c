package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

// GCSConfig configures a Google Cloud Storage disk.
type GCSConfig struct {
	Bucket          string
	CredentialsFile string // empty means ambient credentials (ADC)
	Timeout         time.Duration
}

// GCSBackend implements Backend on a Google Cloud Storage bucket.
type GCSBackend struct {
	client  *gcs.Client
	bucket  string
	timeout time.Duration
}

// NewGCSBackend builds a client for the configured bucket. The bucket must
// already exist; a missing bucket fails startup, an unverifiable one (for
// example when the service account lacks bucket metadata permission) is
// logged and tolerated.
func NewGCSBackend(ctx context.Context, cfg GCSConfig) (*GCSBackend, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}

	attrCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if _, err := client.Bucket(cfg.Bucket).Attrs(attrCtx); err != nil {
		if errors.Is(err, gcs.ErrBucketNotExist) {
			return nil, fmt.Errorf("bucket %q does not exist", cfg.Bucket)
		}
		log.Warn().Err(err).Str("bucket", cfg.Bucket).Msg("could not verify gcs bucket, proceeding")
	}

	return &GCSBackend{
		client:  client,
		bucket:  cfg.Bucket,
		timeout: cfg.Timeout,
	}, nil
}

// Name identifies the driver kind.
func (g *GCSBackend) Name() string { return "gcs" }

// Exists reports whether an object is present at path.
func (g *GCSBackend) Exists(ctx context.Context, path string) bool {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	_, err := g.client.Bucket(g.bucket).Object(path).Attrs(ctx)
	return err == nil
}

// Read returns the full object contents at path.
func (g *GCSBackend) Read(ctx context.Context, path string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	r, err := g.client.Bucket(g.bucket).Object(path).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, backendErr(g.Name(), "read", path, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, backendErr(g.Name(), "read", path, err)
	}
	return data, nil
}

// Write stores data at path with the given content type. GCS writes commit
// on Close, so a failed upload never leaves a partial object visible.
func (g *GCSBackend) Write(ctx context.Context, path string, data []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	w := g.client.Bucket(g.bucket).Object(path).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		w.Close()
		return backendErr(g.Name(), "write", path, err)
	}
	if err := w.Close(); err != nil {
		return backendErr(g.Name(), "write", path, err)
	}
	return nil
}

// Delete removes the object at path. Absence and faults both report false.
func (g *GCSBackend) Delete(ctx context.Context, path string) bool {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.client.Bucket(g.bucket).Object(path).Delete(ctx) == nil
}

// Copy duplicates the object server-side within the bucket.
func (g *GCSBackend) Copy(ctx context.Context, from, to string) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	bkt := g.client.Bucket(g.bucket)
	if _, err := bkt.Object(to).CopierFrom(bkt.Object(from)).Run(ctx); err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return ErrNotFound
		}
		return backendErr(g.Name(), "copy", from, err)
	}
	return nil
}

// Move relocates an object via copy-then-delete.
func (g *GCSBackend) Move(ctx context.Context, from, to string) error {
	if err := g.Copy(ctx, from, to); err != nil {
		return err
	}
	if !g.Delete(ctx, from) {
		return backendErr(g.Name(), "move", from, errSourceDelete)
	}
	return nil
}

// Size returns the object size in bytes.
func (g *GCSBackend) Size(ctx context.Context, path string) (int64, error) {
	attrs, err := g.attrs(ctx, path)
	if err != nil {
		return 0, err
	}
	return attrs.Size, nil
}

// LastModified returns the object's last update time.
func (g *GCSBackend) LastModified(ctx context.Context, path string) (time.Time, error) {
	attrs, err := g.attrs(ctx, path)
	if err != nil {
		return time.Time{}, err
	}
	return attrs.Updated, nil
}

// MimeType returns the content type recorded on the object.
func (g *GCSBackend) MimeType(ctx context.Context, path string) (string, error) {
	attrs, err := g.attrs(ctx, path)
	if err != nil {
		return "", err
	}
	if attrs.ContentType == "" {
		return "application/octet-stream", nil
	}
	return attrs.ContentType, nil
}

// URL returns the permanent URL for the given path.
func (g *GCSBackend) URL(path string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", g.bucket, path)
}

// TemporaryURL returns a V4 signed URL valid for ttl. Requires signing
// credentials (a service account key file or ambient IAM signing).
func (g *GCSBackend) TemporaryURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	u, err := g.client.Bucket(g.bucket).SignedURL(path, &gcs.SignedURLOptions{
		Scheme:  gcs.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", backendErr(g.Name(), "presign", path, err)
	}
	return u, nil
}

func (g *GCSBackend) attrs(ctx context.Context, path string) (*gcs.ObjectAttrs, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	attrs, err := g.client.Bucket(g.bucket).Object(path).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, backendErr(g.Name(), "stat", path, err)
	}
	return attrs, nil
}
