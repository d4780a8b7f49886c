package images

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/png"
	"sync/atomic"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	// Register decoders for formats the standard library does not cover.
	// Encoding webp goes through chai2010/webp; bmp and tiff are accepted as
	// uploads and decoded here for variants.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	jpegQuality = 85
	webpQuality = 85
)

// Transformer renders variants from original image bytes. It is stateless
// apart from a render counter and safe for concurrent use.
type Transformer struct {
	renders atomic.Int64
}

// NewTransformer returns a ready-to-use Transformer.
func NewTransformer() *Transformer {
	return &Transformer{}
}

// Render decodes the original, fits it inside the requested bounding box
// with Lanczos resampling and re-encodes it in the requested format. Images
// smaller than the box are never upscaled.
func (t *Transformer) Render(original []byte, spec VariantSpec) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(original))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	t.renders.Add(1)

	fitted := imaging.Fit(img, spec.Width, spec.Height, imaging.Lanczos)

	var buf bytes.Buffer
	switch spec.Format {
	case "jpeg":
		err = imaging.Encode(&buf, fitted, imaging.JPEG, imaging.JPEGQuality(jpegQuality))
	case "png":
		err = imaging.Encode(&buf, fitted, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression))
	case "webp":
		err = webp.Encode(&buf, fitted, &webp.Options{Quality: webpQuality})
	case "gif":
		err = gif.Encode(&buf, fitted, nil)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, spec.Format)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s variant: %w", spec.Format, err)
	}
	return buf.Bytes(), nil
}

// Renders reports how many transforms have actually run. Cache hits do not
// move it, which is what makes it useful for verifying cache behavior.
func (t *Transformer) Renders() int64 {
	return t.renders.Load()
}
