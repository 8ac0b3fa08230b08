package shotdiff

import (
	"encoding/hex"
	"fmt"
	"image/color"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/shotdiff/imagediff"
)

// ParseHighlight turns "RRGGBB" (optionally "#RRGGBB") and a blend
// strength into a highlight colour. Empty hex keeps the default red.
// alpha is clamped to 0..255.
func ParseHighlight(hexRGB string, alpha int) (color.NRGBA, error) {
	alpha = min(255, max(0, alpha))
	c := imagediff.DefaultHighlight
	if hexRGB != "" {
		s := strings.TrimPrefix(hexRGB, "#")
		b, err := hex.DecodeString(s)
		if len(s) != 6 || err != nil {
			return color.NRGBA{}, fmt.Errorf("%w: %q, use 6 hex digits like FF0000", ErrInvalidColorSpec, hexRGB)
		}
		c = color.NRGBA{R: b[0], G: b[1], B: b[2]}
	}
	c.A = uint8(alpha)
	return c, nil
}

func checkRadius(r int) error {
	if r < MinRadius || r > MaxRadius {
		return fmt.Errorf("%w: got %d", ErrInvalidRadius, r)
	}
	return nil
}

// NormalizePath accepts either separator and returns a native path.
func NormalizePath(p string) string {
	return filepath.FromSlash(strings.ReplaceAll(strings.TrimSpace(p), `\`, "/"))
}
