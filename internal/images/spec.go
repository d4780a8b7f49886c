// Package images implements the image asset pipeline: upload ingest, variant
// parsing, on-demand transforms, the derivative cache and the HTTP handlers
// over them.
package images

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrValidation is returned for uploads that fail precondition checks.
	ErrValidation = errors.New("invalid upload")
	// ErrInvalidSize is returned for size tokens that are neither a preset
	// name nor a WxH pair of positive integers.
	ErrInvalidSize = errors.New("invalid size")
	// ErrUnsupportedFormat is returned for output formats the variant
	// pipeline cannot encode.
	ErrUnsupportedFormat = errors.New("unsupported output format")
	// ErrDecode is returned when the original bytes cannot be decoded as an
	// image.
	ErrDecode = errors.New("undecodable image data")
)

// VariantSpec fully determines one derived rendition of an original: the
// bounding box the image is fitted into and the output encoding.
type VariantSpec struct {
	Width  int
	Height int
	Format string // normalized: "jpeg", "png", "webp" or "gif"
}

// presets map the named sizes to their bounding boxes.
var presets = map[string][2]int{
	"thumbnail": {150, 150},
	"small":     {300, 300},
	"medium":    {800, 800},
	"large":     {1920, 1080},
}

var sizePattern = regexp.MustCompile(`^(\d+)x(\d+)$`)

// ParseVariantSpec validates the size and format tokens of a variant
// request. Preset names win over the literal WxH form, and the "jpg" alias
// normalizes to "jpeg" so both spell the same variant.
func ParseVariantSpec(sizeToken, formatToken string) (VariantSpec, error) {
	var spec VariantSpec

	if box, ok := presets[sizeToken]; ok {
		spec.Width, spec.Height = box[0], box[1]
	} else if m := sizePattern.FindStringSubmatch(sizeToken); m != nil {
		w, errW := strconv.Atoi(m[1])
		h, errH := strconv.Atoi(m[2])
		if errW != nil || errH != nil || w <= 0 || h <= 0 {
			return VariantSpec{}, fmt.Errorf("%w: %q", ErrInvalidSize, sizeToken)
		}
		spec.Width, spec.Height = w, h
	} else {
		return VariantSpec{}, fmt.Errorf("%w: %q", ErrInvalidSize, sizeToken)
	}

	switch f := strings.ToLower(formatToken); f {
	case "jpg", "jpeg":
		spec.Format = "jpeg"
	case "png", "webp", "gif":
		spec.Format = f
	default:
		return VariantSpec{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, formatToken)
	}

	return spec, nil
}

// CacheKey derives the canonical cache key for one variant of an image. The
// same (id, spec) always yields the same key, which is what makes concurrent
// renders of a variant collapse onto one cache file.
func CacheKey(id string, spec VariantSpec) string {
	return fmt.Sprintf("%s_%dx%d_%s", id, spec.Width, spec.Height, spec.Format)
}

// PresetNames returns the named sizes in a fixed order.
func PresetNames() []string {
	return []string{"thumbnail", "small", "medium", "large"}
}
