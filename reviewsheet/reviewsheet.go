// Package reviewsheet lays a baseline, the current screenshot and a diff
// visualization side by side on one labelled image, so a reviewer can
// judge a change at a glance.
package reviewsheet

import (
	"bytes"
	"fmt"
	"image"

	"github.com/fogleman/gg"
)

const (
	margin  = 12
	header  = 26
	footer  = 22
	minSide = 160
)

// Panel is one column of the sheet. A nil Image draws Placeholder instead.
type Panel struct {
	Title       string
	Image       image.Image
	Placeholder string
}

// Sheet describes the whole composition.
type Sheet struct {
	Panels []Panel
	// Caption is drawn along the bottom edge, e.g. the diff summary.
	Caption string
}

// Render draws the sheet. Panels are laid out left to right, each as wide
// as its image and at least minSide pixels.
func Render(s Sheet) (image.Image, error) {
	dc, err := draw(s)
	if err != nil {
		return nil, err
	}
	return dc.Image(), nil
}

// RenderPNG renders the sheet and encodes it as PNG.
func RenderPNG(s Sheet) ([]byte, error) {
	dc, err := draw(s)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("reviewsheet: encode: %w", err)
	}
	return buf.Bytes(), nil
}

func draw(s Sheet) (*gg.Context, error) {
	if len(s.Panels) == 0 {
		return nil, fmt.Errorf("reviewsheet: no panels")
	}
	widths := make([]int, len(s.Panels))
	height := minSide
	total := margin
	for i, p := range s.Panels {
		w := minSide
		if p.Image != nil {
			b := p.Image.Bounds()
			w = max(w, b.Dx())
			height = max(height, b.Dy())
		}
		widths[i] = w
		total += w + margin
	}

	dc := gg.NewContext(total, header+height+footer+margin)
	dc.SetRGB(0.93, 0.93, 0.93)
	dc.Clear()

	x := margin
	for i, p := range s.Panels {
		dc.SetRGB(0.1, 0.1, 0.1)
		dc.DrawStringAnchored(p.Title, float64(x)+float64(widths[i])/2, float64(header)/2, 0.5, 0.5)

		dc.SetRGB(1, 1, 1)
		dc.DrawRectangle(float64(x), float64(header), float64(widths[i]), float64(height))
		dc.Fill()

		if p.Image != nil {
			b := p.Image.Bounds()
			dc.DrawImage(p.Image, x-b.Min.X, header-b.Min.Y)
		} else {
			dc.SetRGB(0.6, 0.1, 0.1)
			dc.DrawStringAnchored(p.Placeholder, float64(x)+float64(widths[i])/2, float64(header+height/2), 0.5, 0.5)
		}

		dc.SetRGB(0.7, 0.7, 0.7)
		dc.SetLineWidth(1)
		dc.DrawRectangle(float64(x)-0.5, float64(header)-0.5, float64(widths[i])+1, float64(height)+1)
		dc.Stroke()

		x += widths[i] + margin
	}

	if s.Caption != "" {
		dc.SetRGB(0.1, 0.1, 0.1)
		dc.DrawString(s.Caption, float64(margin), float64(header+height+footer-6))
	}
	return dc, nil
}

// PanelRect returns the content rectangle of panel i within the rendered sheet.
func PanelRect(s Sheet, i int) image.Rectangle {
	x := margin
	height := minSide
	for _, p := range s.Panels {
		if p.Image != nil {
			height = max(height, p.Image.Bounds().Dy())
		}
	}
	for j, p := range s.Panels {
		w := minSide
		if p.Image != nil {
			w = max(w, p.Image.Bounds().Dx())
		}
		if j == i {
			return image.Rect(x, header, x+w, header+height)
		}
		x += w + margin
	}
	return image.Rectangle{}
}
