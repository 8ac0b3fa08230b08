package imagediff

import (
	"image"
	"image/color"
)

// White is the background of diff-only visualizations.
var White = color.NRGBA{R: 255, G: 255, B: 255, A: 255}

// DefaultHighlight is semi-transparent red.
var DefaultHighlight = color.NRGBA{R: 255, G: 0, B: 0, A: 128}

// Blend mixes the highlight over base using the highlight alpha as the
// weight. Arithmetic is integer and per channel; base alpha is ignored and
// the result is always opaque.
func Blend(highlight, base color.NRGBA) color.NRGBA {
	a := int(highlight.A)
	return color.NRGBA{
		R: uint8(int(highlight.R)*a/255 + int(base.R)*(255-a)/255),
		G: uint8(int(highlight.G)*a/255 + int(base.G)*(255-a)/255),
		B: uint8(int(highlight.B)*a/255 + int(base.B)*(255-a)/255),
		A: 255,
	}
}

// BlendWithWhite pre-blends the highlight against white. Saving a
// translucent marker instead would show up as a checkerboard in viewers.
func BlendWithWhite(highlight color.NRGBA) color.NRGBA {
	return Blend(highlight, White)
}

// toNRGBA returns img as a zero-origin NRGBA buffer. Images that already
// are zero-origin NRGBA are returned as is and must not be written to.
func toNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	if n, ok := img.(*image.NRGBA); ok && b.Min == (image.Point{}) {
		return n
	}
	w, h := b.Dx(), b.Dy()
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	switch src := img.(type) {
	case *image.RGBA:
		for y := 0; y < h; y++ {
			si := src.PixOffset(b.Min.X, b.Min.Y+y)
			di := y * dst.Stride
			for x := 0; x < w; x++ {
				s := src.Pix[si : si+4 : si+4]
				d := dst.Pix[di : di+4 : di+4]
				if s[3] == 255 || s[3] == 0 {
					copy(d, s)
				} else {
					c := color.NRGBAModel.Convert(color.RGBA{s[0], s[1], s[2], s[3]}).(color.NRGBA)
					d[0], d[1], d[2], d[3] = c.R, c.G, c.B, c.A
				}
				si += 4
				di += 4
			}
		}
	case *image.NRGBA:
		for y := 0; y < h; y++ {
			si := src.PixOffset(b.Min.X, b.Min.Y+y)
			copy(dst.Pix[y*dst.Stride:y*dst.Stride+w*4], src.Pix[si:si+w*4])
		}
	default:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
				dst.SetNRGBA(x, y, c)
			}
		}
	}
	return dst
}

// cloneNRGBA returns a writable zero-origin copy of img.
func cloneNRGBA(img image.Image) *image.NRGBA {
	src := toNRGBA(img)
	if src != img {
		return src
	}
	dst := image.NewNRGBA(src.Rect)
	copy(dst.Pix, src.Pix)
	return dst
}

// newFilled returns a w x h image where every pixel is c.
func newFilled(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	px := [4]uint8{c.R, c.G, c.B, c.A}
	for i := 0; i < len(img.Pix); i += 4 {
		copy(img.Pix[i:i+4], px[:])
	}
	return img
}
