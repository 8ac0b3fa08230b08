package imagediff

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // GIF decoder
	_ "image/jpeg" // JPEG decoder
	"image/png"

	_ "golang.org/x/image/bmp"  // BMP decoder
	_ "golang.org/x/image/tiff" // TIFF decoder
	_ "golang.org/x/image/webp" // WebP decoder
)

// ErrNotDecodable is returned when bytes are empty or not a supported image.
var ErrNotDecodable = errors.New("imagediff: input is not a decodable image")

// Screenshot is a decoded image together with its raw encoded bytes.
// The bytes are kept so that metadata-only or compression-only changes
// can still be detected when every pixel matches.
type Screenshot struct {
	Image  image.Image
	Data   []byte
	Format string
}

// Decode decodes data into a Screenshot. Any format registered with the
// image package is accepted (png, jpeg, gif, bmp, tiff, webp).
func Decode(data []byte) (*Screenshot, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: zero bytes", ErrNotDecodable)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotDecodable, err)
	}
	return &Screenshot{Image: img, Data: data, Format: format}, nil
}

// Size returns the width and height of the screenshot.
func (s *Screenshot) Size() image.Point {
	if s == nil || s.Image == nil {
		return image.Point{}
	}
	return s.Image.Bounds().Size()
}

// EncodePNG encodes img as PNG. Diff artifacts are always PNG regardless
// of the source format.
func EncodePNG(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, errors.New("imagediff: nothing to encode")
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("imagediff: encode png: %w", err)
	}
	return buf.Bytes(), nil
}
