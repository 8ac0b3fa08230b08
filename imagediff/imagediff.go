// Package imagediff compares two screenshots pixel by pixel and renders
// reviewable visualizations of the differences.
//
// Comparison is exact: two pixels differ when any of their 8-bit NRGBA
// channels differ. Highlight colours are blended with integer arithmetic
// so the same inputs always produce the same output bytes.
package imagediff

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math"
	"strconv"
)

// Diff is the result of comparing a baseline screenshot with the current one.
// It is a value: nothing in it is shared with or mutated by later calls.
type Diff struct {
	SizeOld, SizeNew image.Point

	// PixelCount is len(Points).
	PixelCount int
	// Points holds every differing coordinate in raster order.
	Points []image.Point

	// Highlighted is the baseline with differing pixels blended with the
	// highlight colour. It is the baseline image itself when no pixel differs,
	// and nil when the sizes differ.
	Highlighted image.Image
	// DiffOnly is white with differing pixels set to the highlight
	// pre-blended against white. Nil when there is nothing to show.
	DiffOnly *image.NRGBA

	MemoryOld, MemoryNew []byte

	highlight color.NRGBA
	base      image.Image
}

// Compare compares old (the baseline) with cur. Both screenshots must be
// non-nil; a screenshot without a decoded image is treated as zero-sized.
func Compare(old, cur *Screenshot, highlight color.NRGBA) *Diff {
	d := &Diff{
		SizeOld:   old.Size(),
		SizeNew:   cur.Size(),
		MemoryOld: old.Data,
		MemoryNew: cur.Data,
		highlight: highlight,
	}
	if d.SizesDiffer() || old.Image == nil || cur.Image == nil {
		return d
	}
	d.base = old.Image
	d.compare(old.Image, cur.Image)
	return d
}

func (d *Diff) compare(oldImg, curImg image.Image) {
	a := toNRGBA(oldImg)
	b := toNRGBA(curImg)
	w, h := d.SizeOld.X, d.SizeOld.Y

	var result, diffOnly *image.NRGBA
	marker := BlendWithWhite(d.highlight)

	for y := 0; y < h; y++ {
		ra := a.Pix[y*a.Stride : y*a.Stride+w*4]
		rb := b.Pix[y*b.Stride : y*b.Stride+w*4]
		if bytes.Equal(ra, rb) {
			continue
		}
		for x := 0; x < w; x++ {
			i := x * 4
			if ra[i] == rb[i] && ra[i+1] == rb[i+1] && ra[i+2] == rb[i+2] && ra[i+3] == rb[i+3] {
				continue
			}
			if result == nil {
				// Lazily allocated: identical images never pay for the copies.
				result = cloneNRGBA(a)
				diffOnly = newFilled(w, h, White)
			}
			base := color.NRGBA{R: ra[i], G: ra[i+1], B: ra[i+2], A: ra[i+3]}
			result.SetNRGBA(x, y, Blend(d.highlight, base))
			diffOnly.SetNRGBA(x, y, marker)
			d.Points = append(d.Points, image.Pt(x, y))
		}
	}

	d.PixelCount = len(d.Points)
	if d.PixelCount == 0 {
		d.Highlighted = oldImg
		return
	}
	d.Highlighted = result
	d.DiffOnly = diffOnly
}

// SizesDiffer reports whether the two screenshots have different dimensions.
func (d *Diff) SizesDiffer() bool { return d.SizeOld != d.SizeNew }

// PixelsDiffer reports whether at least one pixel differs.
func (d *Diff) PixelsDiffer() bool { return d.PixelCount != 0 }

// BytesDiffer compares the encoded bytes, independent of decoding.
func (d *Diff) BytesDiffer() bool { return !bytes.Equal(d.MemoryOld, d.MemoryNew) }

// IsDiff reports whether the screenshots differ in any observable way.
func (d *Diff) IsDiff() bool { return d.SizesDiffer() || d.PixelsDiffer() || d.BytesDiffer() }

// Highlight returns the colour the diff was computed with.
func (d *Diff) Highlight() color.NRGBA { return d.highlight }

// Text returns a short parenthesised summary with a leading space, or ""
// when nothing differs.
func (d *Diff) Text() string {
	switch {
	case d.SizesDiffer():
		dw := percentText(d.SizeNew.X, d.SizeOld.X)
		dh := percentText(d.SizeNew.Y, d.SizeOld.Y)
		if dw == dh {
			return " (" + dw + ")"
		}
		return " (" + dw + " x " + dh + ")"
	case d.PixelsDiffer():
		return fmt.Sprintf(" (%d pixels)", d.PixelCount)
	case d.BytesDiffer():
		if len(d.MemoryOld) != len(d.MemoryNew) {
			return fmt.Sprintf(" (%d bytes)", len(d.MemoryNew)-len(d.MemoryOld))
		}
		start, count := 0, 0
		for i := range d.MemoryOld {
			if d.MemoryOld[i] != d.MemoryNew[i] {
				if count == 0 {
					start = i
				}
				count++
			}
		}
		return fmt.Sprintf(" (at %d, diff %d bytes)", start, count)
	}
	return ""
}

// percentText rounds half to even: 12.5% prints as 12%.
func percentText(cur, old int) string {
	if old == 0 {
		return "inf%"
	}
	return strconv.FormatFloat(math.RoundToEven(100*float64(cur)/float64(old)), 'f', -1, 64) + "%"
}
