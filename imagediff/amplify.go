package imagediff

import (
	"image"
	"image/color"
)

// Amplify returns a copy of base where every pixel within Chebyshev
// distance radius of any point is blended with highlight. Overlapping
// neighbourhoods are merged first so each pixel is blended exactly once.
// A negative radius is treated as 0. Returns nil when there are no points
// or no base image.
func Amplify(points []image.Point, base image.Image, highlight color.NRGBA, radius int) *image.NRGBA {
	if len(points) == 0 || base == nil {
		return nil
	}
	out := cloneNRGBA(base)
	mask := neighbourhood(points, out.Rect.Dx(), out.Rect.Dy(), radius)
	for i, set := range mask {
		if !set {
			continue
		}
		p := out.Pix[i*4 : i*4+4 : i*4+4]
		c := Blend(highlight, color.NRGBA{R: p[0], G: p[1], B: p[2], A: p[3]})
		p[0], p[1], p[2], p[3] = c.R, c.G, c.B, c.A
	}
	return out
}

// AmplifyOnWhite is the diff-only counterpart of Amplify: a white canvas of
// the given size with every neighbourhood pixel set to the highlight
// pre-blended against white.
func AmplifyOnWhite(points []image.Point, size image.Point, highlight color.NRGBA, radius int) *image.NRGBA {
	if len(points) == 0 || size.X <= 0 || size.Y <= 0 {
		return nil
	}
	out := newFilled(size.X, size.Y, White)
	marker := BlendWithWhite(highlight)
	mask := neighbourhood(points, size.X, size.Y, radius)
	for i, set := range mask {
		if set {
			out.Pix[i*4+0] = marker.R
			out.Pix[i*4+1] = marker.G
			out.Pix[i*4+2] = marker.B
			out.Pix[i*4+3] = marker.A
		}
	}
	return out
}

// neighbourhood marks the union of the clipped squares around points.
// Index is y*w+x.
func neighbourhood(points []image.Point, w, h, radius int) []bool {
	if radius < 0 {
		radius = 0
	}
	mask := make([]bool, w*h)
	for _, p := range points {
		left, top := max(0, p.X-radius), max(0, p.Y-radius)
		right, bottom := min(w-1, p.X+radius), min(h-1, p.Y+radius)
		for y := top; y <= bottom; y++ {
			row := mask[y*w : y*w+w]
			for x := left; x <= right; x++ {
				row[x] = true
			}
		}
	}
	return mask
}

// Amplified renders the highlighted view with each diff pixel grown into a
// (2*radius+1) square. Neighbourhoods are blended over the baseline, so a
// radius of 0 reproduces Highlighted exactly.
func (d *Diff) Amplified(radius int) *image.NRGBA {
	if d.DiffOnly == nil {
		return nil
	}
	return Amplify(d.Points, d.base, d.highlight, radius)
}

// AmplifiedDiffOnly renders the diff-only view with grown neighbourhoods.
func (d *Diff) AmplifiedDiffOnly(radius int) *image.NRGBA {
	if d.DiffOnly == nil {
		return nil
	}
	return AmplifyOnWhite(d.Points, d.SizeOld, d.highlight, radius)
}
