package images

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/imagebox/service/internal/index"
	"github.com/imagebox/service/internal/middleware"
	"github.com/imagebox/service/internal/response"
	"github.com/imagebox/service/internal/storage"
)

const (
	// multipartSlack covers the multipart framing around the file itself
	// when bounding the request body.
	multipartSlack = 1 << 20

	defaultTemporaryTTL    = 15 * time.Minute
	maxTemporaryTTLSeconds = 604800 // the S3 presign ceiling, 7 days
)

// Handler holds HTTP handlers for image endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a new images Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type uploadedFile struct {
	ID           string            `json:"id"           example:"e7eedc79-0707-4fe4-8734-526b7ef13a7b"`
	OriginalName string            `json:"originalName" example:"holiday.jpg"`
	Filename     string            `json:"filename"     example:"e7eedc79-0707-4fe4-8734-526b7ef13a7b.jpg"`
	Path         string            `json:"path"         example:"images/e7eedc79-0707-4fe4-8734-526b7ef13a7b.jpg"`
	Size         int64             `json:"size"         example:"102400"`
	MimeType     string            `json:"mimetype"     example:"image/jpeg"`
	Disk         string            `json:"disk"         example:"local"`
	UploadedBy   string            `json:"uploadedBy"   example:"c0a2cf74-98b7-4b86-9a0f-52ec8a44f25f"`
	UploadedAt   time.Time         `json:"uploadedAt"`
	URL          string            `json:"url"`
	URLs         map[string]string `json:"urls"`
}

type uploadResponse struct {
	Success bool         `json:"success" example:"true"`
	File    uploadedFile `json:"file"`
}

type infoMetadata struct {
	Width    int    `json:"width"    example:"1920"`
	Height   int    `json:"height"   example:"1080"`
	Format   string `json:"format"   example:"jpeg"`
	MimeType string `json:"mimetype" example:"image/jpeg"`
	Disk     string `json:"disk"     example:"local"`
}

type infoResponse struct {
	ID         string       `json:"id"`
	Filename   string       `json:"filename"`
	Size       int64        `json:"size"`
	UploadedAt time.Time    `json:"uploadedAt"`
	Metadata   infoMetadata `json:"metadata"`
}

type listedImage struct {
	ID         string            `json:"id"`
	Filename   string            `json:"filename"`
	Size       int64             `json:"size"`
	MimeType   string            `json:"mimetype"`
	Disk       string            `json:"disk"`
	UploadedAt time.Time         `json:"uploadedAt"`
	URL        string            `json:"url"`
	URLs       map[string]string `json:"urls"`
}

type listResponse struct {
	Success bool          `json:"success" example:"true"`
	Images  []listedImage `json:"images"`
}

type temporaryURLResponse struct {
	Success   bool      `json:"success" example:"true"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Upload godoc
//
//	@Summary		Upload image
//	@Description	Ingest one image file, store it on the selected disk and return its record with derived variant URLs.
//	@Tags			images
//	@Accept			mpfd
//	@Produce		json
//	@Param			image	formData	file	true	"image file"
//	@Param			disk	formData	string	false	"target disk name (defaults to the configured default disk)"
//	@Success		201	{object}	uploadResponse
//	@Failure		400	{object}	response.Envelope
//	@Failure		401	{object}	response.Envelope
//	@Failure		500	{object}	response.Envelope
//	@Security		BearerAuth
//	@Router			/upload [post]
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.svc.maxUploadBytes+multipartSlack)

	file, header, err := r.FormFile("image")
	if err != nil {
		response.BadRequest(w, `multipart field "image" is required`)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		response.BadRequest(w, "could not read uploaded file")
		return
	}

	a, err := h.svc.Upload(r.Context(), data, header.Filename, header.Header.Get("Content-Type"), r.FormValue("disk"), middleware.SubjectID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.JSON(w, http.StatusCreated, uploadResponse{Success: true, File: h.fileBody(a)})
}

// GetOriginal godoc
//
//	@Summary		Serve original
//	@Description	Stream the unmodified original bytes for an image id.
//	@Tags			images
//	@Produce		octet-stream
//	@Param			id	path	string	true	"image id"
//	@Success		200	{file}		binary
//	@Failure		404	{object}	response.Envelope
//	@Failure		500	{object}	response.Envelope
//	@Router			/image/{id} [get]
func (h *Handler) GetOriginal(w http.ResponseWriter, r *http.Request) {
	data, a, err := h.svc.Original(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", a.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

// GetVariant godoc
//
//	@Summary		Serve variant
//	@Description	Serve a resized/re-encoded rendition, deriving and caching it on first request. Size is a preset name (thumbnail, small, medium, large) or WxH; format is jpeg, jpg, png, webp or gif.
//	@Tags			images
//	@Produce		octet-stream
//	@Param			id		path	string	true	"image id"
//	@Param			size	path	string	true	"preset name or WxH"
//	@Param			format	path	string	true	"output format"
//	@Success		200	{file}		binary
//	@Failure		400	{object}	response.Envelope
//	@Failure		404	{object}	response.Envelope
//	@Failure		500	{object}	response.Envelope
//	@Router			/image/{id}/{size}/{format} [get]
func (h *Handler) GetVariant(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.Variant(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "size"), chi.URLParam(r, "format"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", v.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(v.Data)))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Write(v.Data)
}

// GetInfo godoc
//
//	@Summary		Image info
//	@Description	Return the stored record plus dimensions decoded from the original.
//	@Tags			images
//	@Produce		json
//	@Param			id	path	string	true	"image id"
//	@Success		200	{object}	infoResponse
//	@Failure		404	{object}	response.Envelope
//	@Failure		500	{object}	response.Envelope
//	@Router			/info/{id} [get]
func (h *Handler) GetInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.svc.Info(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, infoResponse{
		ID:         info.ID,
		Filename:   info.Filename,
		Size:       info.Size,
		UploadedAt: info.UploadedAt,
		Metadata: infoMetadata{
			Width:    info.Width,
			Height:   info.Height,
			Format:   info.Format,
			MimeType: info.MimeType,
			Disk:     info.Disk,
		},
	})
}

// Delete godoc
//
//	@Summary		Delete image
//	@Description	Remove the original from its disk, the working copy, all cached variants and the index record. Idempotent: unknown ids still succeed.
//	@Tags			images
//	@Produce		json
//	@Param			id		path	string	true	"image id"
//	@Param			disk	query	string	false	"disk to delete from (defaults to the disk of record)"
//	@Success		200	{object}	response.Envelope
//	@Failure		401	{object}	response.Envelope
//	@Security		BearerAuth
//	@Router			/image/{id} [delete]
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	h.svc.Delete(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("disk"))
	response.OK(w, "image deleted")
}

// List godoc
//
//	@Summary		List images
//	@Description	List all known originals with their preset variant URLs, newest first.
//	@Tags			images
//	@Produce		json
//	@Success		200	{object}	listResponse
//	@Failure		500	{object}	response.Envelope
//	@Router			/images [get]
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.svc.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := make([]listedImage, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, listedImage{
			ID:         s.ID,
			Filename:   s.Filename,
			Size:       s.Size,
			MimeType:   s.MimeType,
			Disk:       s.Disk,
			UploadedAt: s.UploadedAt,
			URL:        s.URL,
			URLs:       s.URLs,
		})
	}
	response.JSON(w, http.StatusOK, listResponse{Success: true, Images: out})
}

// GetTemporaryURL godoc
//
//	@Summary		Temporary URL
//	@Description	Return a signed, time-limited URL for the original on its disk of record. Local disks return the permanent URL.
//	@Tags			images
//	@Produce		json
//	@Param			id	path	string	true	"image id"
//	@Param			ttl	query	int		false	"lifetime in seconds (default 900, max 604800)"
//	@Success		200	{object}	temporaryURLResponse
//	@Failure		400	{object}	response.Envelope
//	@Failure		401	{object}	response.Envelope
//	@Failure		404	{object}	response.Envelope
//	@Failure		500	{object}	response.Envelope
//	@Security		BearerAuth
//	@Router			/image/{id}/url [get]
func (h *Handler) GetTemporaryURL(w http.ResponseWriter, r *http.Request) {
	ttl := defaultTemporaryTTL
	if raw := r.URL.Query().Get("ttl"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 || secs > maxTemporaryTTLSeconds {
			response.BadRequest(w, "ttl must be a positive number of seconds, at most 604800")
			return
		}
		ttl = time.Duration(secs) * time.Second
	}

	u, err := h.svc.TemporaryURL(r.Context(), chi.URLParam(r, "id"), ttl)
	if err != nil {
		h.writeError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, temporaryURLResponse{
		Success:   true,
		URL:       u,
		ExpiresAt: time.Now().Add(ttl).UTC(),
	})
}

func (h *Handler) fileBody(a index.Asset) uploadedFile {
	return uploadedFile{
		ID:           a.ID,
		OriginalName: a.OriginalName,
		Filename:     a.Filename,
		Path:         a.Path,
		Size:         a.Size,
		MimeType:     a.MimeType,
		Disk:         a.Disk,
		UploadedBy:   a.UploadedBy,
		UploadedAt:   a.UploadedAt,
		URL:          h.svc.StoredURL(a),
		URLs:         h.svc.VariantURLs(a),
	}
}

// writeError maps pipeline errors onto the HTTP error taxonomy. Not-found
// stays quiet, client mistakes echo their reason, everything else logs and
// collapses to a generic 500.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, index.ErrNotFound) || errors.Is(err, storage.ErrNotFound):
		response.NotFound(w, "image not found")
	case errors.Is(err, ErrValidation) || errors.Is(err, ErrInvalidSize) ||
		errors.Is(err, ErrUnsupportedFormat) || errors.Is(err, storage.ErrInvalidPath) ||
		errors.Is(err, storage.ErrDiskNotConfigured):
		response.BadRequest(w, err.Error())
	case errors.Is(err, ErrDecode):
		log.Error().Err(err).Msg("variant render failed")
		response.Error(w, http.StatusInternalServerError, "could not process image")
	default:
		log.Error().Err(err).Msg("image request failed")
		response.InternalError(w)
	}
}
