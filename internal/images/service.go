package images

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/imagebox/service/internal/index"
	"github.com/imagebox/service/internal/storage"
)

// allowedUploadExt is the set of file types accepted at ingest. Variants are
// rendered from the decodable subset; svg uploads are stored and served
// as-is.
var allowedUploadExt = map[string]bool{
	".jpeg": true, ".jpg": true, ".png": true, ".gif": true,
	".webp": true, ".svg": true, ".bmp": true, ".tiff": true,
}

// allowedUploadMime is the declared-type counterpart of allowedUploadExt.
// The declared type is recorded and later replayed as the serving
// Content-Type, so it is held to the same set.
var allowedUploadMime = map[string]bool{
	"image/jpeg": true, "image/jpg": true, "image/png": true,
	"image/gif": true, "image/webp": true, "image/svg+xml": true,
	"image/bmp": true, "image/tiff": true,
}

// renderBudget bounds one cold render end to end, including a possible
// backend read-through for the original.
const renderBudget = 2 * time.Minute

// Variant is a rendered (or cached) derivative ready to serve.
type Variant struct {
	Data     []byte
	MimeType string
}

// Info describes an asset together with metadata probed from its bytes.
type Info struct {
	ID         string
	Filename   string
	Size       int64
	UploadedAt time.Time
	Width      int
	Height     int
	Format     string
	MimeType   string
	Disk       string
}

// Summary is one listed asset with its derived URLs.
type Summary struct {
	ID         string
	Filename   string
	Size       int64
	MimeType   string
	Disk       string
	UploadedAt time.Time
	URL        string
	URLs       map[string]string
}

// Service orchestrates uploads, originals, variants and deletion across the
// storage router, the asset index, the derivative cache and the transformer.
type Service struct {
	disks          *storage.Router
	idx            index.Index
	working        storage.Backend
	cache          *DerivativeCache
	transformer    *Transformer
	baseURL        string
	maxUploadBytes int64

	// group collapses concurrent cold renders of the same cache key into a
	// single transform whose bytes all callers share.
	group singleflight.Group
}

// NewService wires the image pipeline together. working holds the local
// copies transforms read from; baseURL is the public URL this service is
// reachable under.
func NewService(disks *storage.Router, idx index.Index, working storage.Backend, cache *DerivativeCache, transformer *Transformer, baseURL string, maxUploadBytes int64) *Service {
	return &Service{
		disks:          disks,
		idx:            idx,
		working:        working,
		cache:          cache,
		transformer:    transformer,
		baseURL:        strings.TrimRight(baseURL, "/"),
		maxUploadBytes: maxUploadBytes,
	}
}

// Upload ingests one image: validate, assign an id, write it to the selected
// disk and the local working copy, and record it in the index. Validation
// failures happen before any byte is written.
func (s *Service) Upload(ctx context.Context, data []byte, originalName, contentType, diskName, uploadedBy string) (index.Asset, error) {
	if len(data) == 0 {
		return index.Asset{}, fmt.Errorf("%w: empty file", ErrValidation)
	}
	if int64(len(data)) > s.maxUploadBytes {
		return index.Asset{}, fmt.Errorf("%w: file exceeds %d bytes", ErrValidation, s.maxUploadBytes)
	}
	ext := strings.ToLower(filepath.Ext(originalName))
	if !allowedUploadExt[ext] {
		return index.Asset{}, fmt.Errorf("%w: unsupported file type %q", ErrValidation, ext)
	}
	if contentType != "" {
		mt, _, err := mime.ParseMediaType(contentType)
		if err != nil {
			return index.Asset{}, fmt.Errorf("%w: malformed content type %q", ErrValidation, contentType)
		}
		// octet-stream counts as no claim; anything else must be one of the
		// accepted image types.
		if mt != "application/octet-stream" && !allowedUploadMime[mt] {
			return index.Asset{}, fmt.Errorf("%w: unsupported content type %q", ErrValidation, mt)
		}
		contentType = mt
	}
	if diskName == "" {
		diskName = s.disks.DefaultDisk()
	}
	disk, err := s.disks.Disk(diskName)
	if err != nil {
		return index.Asset{}, err
	}

	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mime.TypeByExtension(ext)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	id := uuid.NewString()
	path := "images/" + id + ext

	if err := disk.Write(ctx, path, data, contentType); err != nil {
		return index.Asset{}, err
	}
	// The working copy is what transforms and original serving read from, so
	// object-store-backed originals are not fetched back on every request.
	if err := s.working.Write(ctx, path, data, contentType); err != nil {
		return index.Asset{}, err
	}

	a := index.Asset{
		ID:           id,
		OriginalName: originalName,
		Filename:     id + ext,
		Path:         path,
		Size:         int64(len(data)),
		MimeType:     contentType,
		Disk:         diskName,
		UploadedBy:   uploadedBy,
		UploadedAt:   time.Now().UTC(),
	}
	if err := s.idx.Put(ctx, a); err != nil {
		return index.Asset{}, err
	}

	log.Info().Str("id", id).Str("disk", diskName).Int64("size", a.Size).Msg("image uploaded")
	return a, nil
}

// Original returns the stored original bytes together with its record.
func (s *Service) Original(ctx context.Context, id string) ([]byte, index.Asset, error) {
	a, err := s.idx.Get(ctx, id)
	if err != nil {
		return nil, index.Asset{}, err
	}
	data, err := s.readOriginal(ctx, a)
	if err != nil {
		return nil, index.Asset{}, err
	}
	return data, a, nil
}

// readOriginal reads the working copy, falling back to the disk of record
// when the copy is gone (wiped working dir, fresh node). A successful
// fallback repairs the working copy for the next transform.
func (s *Service) readOriginal(ctx context.Context, a index.Asset) ([]byte, error) {
	data, err := s.working.Read(ctx, a.Path)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	disk, derr := s.disks.Disk(a.Disk)
	if derr != nil {
		return nil, storage.ErrNotFound
	}
	data, err = disk.Read(ctx, a.Path)
	if err != nil {
		return nil, err
	}
	if werr := s.working.Write(ctx, a.Path, data, a.MimeType); werr != nil {
		log.Warn().Err(werr).Str("id", a.ID).Msg("could not restore working copy")
	}
	return data, nil
}

// Variant runs the render pipeline for (id, size, format): parse the variant
// spec, locate the original, check the cache, transform on a miss and store
// the result best-effort.
func (s *Service) Variant(ctx context.Context, id, sizeToken, formatToken string) (Variant, error) {
	spec, err := ParseVariantSpec(sizeToken, formatToken)
	if err != nil {
		return Variant{}, err
	}
	a, err := s.idx.Get(ctx, id)
	if err != nil {
		return Variant{}, err
	}

	key := CacheKey(id, spec)
	if data, ok := s.cache.Get(key, spec.Format); ok {
		return Variant{Data: data, MimeType: formatMime(spec.Format)}, nil
	}

	rendered, err, _ := s.group.Do(key, func() (interface{}, error) {
		if data, ok := s.cache.Get(key, spec.Format); ok {
			return data, nil
		}
		// Renders run detached from the request context: a client that
		// disconnects mid-transform still populates the cache for the next
		// caller.
		renderCtx, cancel := context.WithTimeout(context.Background(), renderBudget)
		defer cancel()

		original, err := s.readOriginal(renderCtx, a)
		if err != nil {
			return nil, err
		}
		data, err := s.transformer.Render(original, spec)
		if err != nil {
			return nil, err
		}
		s.storeBestEffort(key, spec.Format, data)
		return data, nil
	})
	if err != nil {
		return Variant{}, err
	}
	return Variant{Data: rendered.([]byte), MimeType: formatMime(spec.Format)}, nil
}

// storeBestEffort is the one place a failed cache write is allowed to
// vanish: the rendered bytes are still served, only their reuse is lost.
func (s *Service) storeBestEffort(key, format string, data []byte) {
	if err := s.cache.Put(key, format, data); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("variant cache store failed")
	}
}

// Info returns the asset record enriched with dimensions decoded from the
// original. Undecodable originals (svg) report zero dimensions.
func (s *Service) Info(ctx context.Context, id string) (Info, error) {
	a, err := s.idx.Get(ctx, id)
	if err != nil {
		return Info{}, err
	}
	info := Info{
		ID:         a.ID,
		Filename:   a.Filename,
		Size:       a.Size,
		UploadedAt: a.UploadedAt,
		MimeType:   a.MimeType,
		Disk:       a.Disk,
	}

	data, err := s.readOriginal(ctx, a)
	if err != nil {
		return Info{}, err
	}
	info.Size = int64(len(data))
	if cfg, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		info.Width, info.Height, info.Format = cfg.Width, cfg.Height, format
	}
	return info, nil
}

// Delete removes the original from its disk, the working copy, all cached
// variants and the index record. It is idempotent: deleting what is already
// gone still counts as success, so it never returns an error to surface.
func (s *Service) Delete(ctx context.Context, id, diskName string) {
	purged := s.cache.Purge(id)

	a, err := s.idx.Get(ctx, id)
	if err != nil {
		log.Info().Str("id", id).Int("purgedVariants", purged).Msg("delete for unknown id")
		return
	}
	if diskName == "" {
		diskName = a.Disk
	}
	if disk, derr := s.disks.Disk(diskName); derr == nil {
		disk.Delete(ctx, a.Path)
	}
	s.working.Delete(ctx, a.Path)
	if err := s.idx.Delete(ctx, id); err != nil {
		log.Warn().Err(err).Str("id", id).Msg("could not drop index record")
	}

	log.Info().Str("id", id).Str("disk", diskName).Int("purgedVariants", purged).Msg("image deleted")
}

// List returns all known assets, newest first, with their derived URLs.
func (s *Service) List(ctx context.Context) ([]Summary, error) {
	assets, err := s.idx.List(ctx)
	if err != nil {
		return nil, err
	}
	summaries := make([]Summary, 0, len(assets))
	for _, a := range assets {
		summaries = append(summaries, Summary{
			ID:         a.ID,
			Filename:   a.Filename,
			Size:       a.Size,
			MimeType:   a.MimeType,
			Disk:       a.Disk,
			UploadedAt: a.UploadedAt,
			URL:        s.StoredURL(a),
			URLs:       s.VariantURLs(a),
		})
	}
	return summaries, nil
}

// TemporaryURL returns a signed URL for the original on its disk of record.
func (s *Service) TemporaryURL(ctx context.Context, id string, ttl time.Duration) (string, error) {
	a, err := s.idx.Get(ctx, id)
	if err != nil {
		return "", err
	}
	disk, err := s.disks.Disk(a.Disk)
	if err != nil {
		return "", err
	}
	return disk.TemporaryURL(ctx, a.Path, ttl)
}

// StoredURL returns the public URL of the original on its disk of record.
func (s *Service) StoredURL(a index.Asset) string {
	disk, err := s.disks.Disk(a.Disk)
	if err != nil {
		return s.baseURL + "/api/image/" + a.ID
	}
	return disk.URL(a.Path)
}

// VariantURLs returns this service's endpoints for the original and each
// preset size.
func (s *Service) VariantURLs(a index.Asset) map[string]string {
	format := variantFormatFor(a)
	urls := map[string]string{
		"original": fmt.Sprintf("%s/api/image/%s", s.baseURL, a.ID),
	}
	for _, name := range PresetNames() {
		urls[name] = fmt.Sprintf("%s/api/image/%s/%s/%s", s.baseURL, a.ID, name, format)
	}
	return urls
}

// variantFormatFor picks the default output format for an asset's preset
// URLs: the original's own format when the pipeline can encode it, jpeg
// otherwise (svg, bmp, tiff).
func variantFormatFor(a index.Asset) string {
	switch ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(a.Filename), ".")); ext {
	case "jpg", "jpeg":
		return "jpeg"
	case "png", "webp", "gif":
		return ext
	default:
		return "jpeg"
	}
}

// formatMime maps a normalized variant format to its content type.
func formatMime(format string) string {
	return "image/" + format
}
