package imagediff

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	gray  = color.NRGBA{R: 100, G: 100, B: 100, A: 255}
	black = color.NRGBA{A: 255}
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	return newFilled(w, h, c)
}

func shot(t *testing.T, img image.Image) *Screenshot {
	t.Helper()
	data, err := EncodePNG(img)
	require.NoError(t, err)
	s, err := Decode(data)
	require.NoError(t, err)
	return s
}

func nrgbaAt(img image.Image, x, y int) color.NRGBA {
	return color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
}

func TestDecode_RejectsEmptyAndGarbage(t *testing.T) {
	_, err := Decode(nil)
	assert.ErrorIs(t, err, ErrNotDecodable)
	_, err = Decode([]byte("definitely not a png"))
	assert.ErrorIs(t, err, ErrNotDecodable)
}

func TestDecode_PNG(t *testing.T) {
	s := shot(t, solid(3, 2, gray))
	assert.Equal(t, "png", s.Format)
	assert.Equal(t, image.Pt(3, 2), s.Size())
}

func TestCompare_Identical(t *testing.T) {
	old := shot(t, solid(8, 8, gray))
	cur := shot(t, solid(8, 8, gray))

	d := Compare(old, cur, DefaultHighlight)
	assert.False(t, d.SizesDiffer())
	assert.Equal(t, 0, d.PixelCount)
	assert.Empty(t, d.Points)
	assert.Equal(t, d.BytesDiffer(), d.IsDiff())
	assert.Same(t, old.Image, d.Highlighted)
	assert.Nil(t, d.DiffOnly)
	assert.Equal(t, "", d.Text())
}

func TestCompare_MetadataOnlyChange(t *testing.T) {
	old := shot(t, solid(4, 4, gray))
	cur := &Screenshot{Image: old.Image, Data: append(append([]byte{}, old.Data...), 0x00, 0x01)}

	d := Compare(old, cur, DefaultHighlight)
	assert.Equal(t, 0, d.PixelCount)
	assert.True(t, d.BytesDiffer())
	assert.True(t, d.IsDiff())
	assert.Equal(t, " (2 bytes)", d.Text())
}

func TestDiffText_SameLengthBytes(t *testing.T) {
	d := &Diff{MemoryOld: []byte{1, 2, 3, 4, 5}, MemoryNew: []byte{1, 9, 3, 9, 5}}
	assert.Equal(t, " (at 1, diff 2 bytes)", d.Text())
}

func TestCompare_SinglePixel(t *testing.T) {
	base := solid(10, 6, gray)
	changed := solid(10, 6, gray)
	changed.SetNRGBA(7, 2, black)

	old := shot(t, base)
	d := Compare(old, shot(t, changed), DefaultHighlight)

	require.Equal(t, 1, d.PixelCount)
	assert.Equal(t, []image.Point{{7, 2}}, d.Points)
	assert.True(t, d.IsDiff())
	assert.Equal(t, " (1 pixels)", d.Text())

	want := Blend(DefaultHighlight, gray)
	for y := 0; y < 6; y++ {
		for x := 0; x < 10; x++ {
			if x == 7 && y == 2 {
				assert.Equal(t, want, nrgbaAt(d.Highlighted, x, y))
				assert.Equal(t, BlendWithWhite(DefaultHighlight), d.DiffOnly.NRGBAAt(x, y))
				continue
			}
			assert.Equal(t, gray, nrgbaAt(d.Highlighted, x, y), "highlighted at %d,%d", x, y)
			assert.Equal(t, White, d.DiffOnly.NRGBAAt(x, y), "diff-only at %d,%d", x, y)
		}
	}
	// The baseline must be left untouched.
	assert.Equal(t, gray, nrgbaAt(old.Image, 7, 2))
}

func TestCompare_RasterOrder(t *testing.T) {
	changed := solid(5, 5, gray)
	for _, p := range []image.Point{{4, 3}, {0, 1}, {2, 1}, {1, 4}} {
		changed.SetNRGBA(p.X, p.Y, black)
	}
	d := Compare(shot(t, solid(5, 5, gray)), shot(t, changed), DefaultHighlight)
	assert.Equal(t, []image.Point{{0, 1}, {2, 1}, {4, 3}, {1, 4}}, d.Points)
}

func TestCompare_NonZeroOrigin(t *testing.T) {
	base := solid(6, 6, gray)
	changed := solid(6, 6, gray)
	changed.SetNRGBA(3, 3, black)

	sub := base.SubImage(image.Rect(2, 2, 6, 6))
	subChanged := changed.SubImage(image.Rect(2, 2, 6, 6))
	d := Compare(&Screenshot{Image: sub}, &Screenshot{Image: subChanged}, DefaultHighlight)
	assert.Equal(t, []image.Point{{1, 1}}, d.Points)
}

func TestCompare_SizeMismatch(t *testing.T) {
	d := Compare(shot(t, solid(100, 100, gray)), shot(t, solid(100, 50, gray)), DefaultHighlight)

	assert.True(t, d.SizesDiffer())
	assert.True(t, d.IsDiff())
	assert.Nil(t, d.Highlighted)
	assert.Nil(t, d.DiffOnly)
	assert.Equal(t, " (100% x 50%)", d.Text())

	img, err := d.Image(ModeAmplified, 3)
	require.NoError(t, err)
	assert.Nil(t, img)
}

func TestDiffText_SizePercentages(t *testing.T) {
	tests := []struct {
		old, cur image.Point
		want     string
	}{
		{image.Pt(100, 100), image.Pt(50, 50), " (50%)"},
		{image.Pt(100, 100), image.Pt(150, 100), " (150% x 100%)"},
		{image.Pt(3, 3), image.Pt(2, 2), " (67%)"},
		{image.Pt(8, 8), image.Pt(1, 1), " (12%)"},
		{image.Pt(200, 200), image.Pt(25, 25), " (12%)"},
		{image.Pt(8, 8), image.Pt(9, 9), " (112%)"},
		{image.Pt(8, 8), image.Pt(3, 3), " (38%)"},
	}
	for _, tt := range tests {
		d := &Diff{SizeOld: tt.old, SizeNew: tt.cur}
		assert.Equal(t, tt.want, d.Text(), "%v -> %v", tt.old, tt.cur)
	}
}

func TestBlend(t *testing.T) {
	base := color.NRGBA{R: 10, G: 200, B: 30, A: 255}

	t.Run("alpha zero keeps base", func(t *testing.T) {
		assert.Equal(t, base, Blend(color.NRGBA{R: 255, A: 0}, base))
	})
	t.Run("alpha full is the colour", func(t *testing.T) {
		assert.Equal(t, color.NRGBA{R: 1, G: 2, B: 3, A: 255}, Blend(color.NRGBA{R: 1, G: 2, B: 3, A: 255}, base))
	})
	t.Run("integer arithmetic", func(t *testing.T) {
		// 255*128/255 + 10*127/255 = 128 + 4
		got := Blend(DefaultHighlight, base)
		assert.Equal(t, color.NRGBA{R: 132, G: 99, B: 14, A: 255}, got)
	})
	t.Run("result is opaque", func(t *testing.T) {
		got := Blend(color.NRGBA{R: 9, A: 40}, color.NRGBA{A: 0})
		assert.Equal(t, uint8(255), got.A)
	})
}

func TestBlendWithWhite(t *testing.T) {
	assert.Equal(t, color.NRGBA{R: 255, G: 127, B: 127, A: 255}, BlendWithWhite(DefaultHighlight))
}

func TestAmplify_RadiusZeroMatchesUnamplified(t *testing.T) {
	changed := solid(12, 12, gray)
	changed.SetNRGBA(0, 0, black)
	changed.SetNRGBA(5, 6, black)
	changed.SetNRGBA(11, 11, black)
	d := Compare(shot(t, solid(12, 12, gray)), shot(t, changed), DefaultHighlight)

	amp := d.Amplified(0)
	require.NotNil(t, amp)
	assert.Equal(t, toNRGBA(d.Highlighted).Pix, amp.Pix)

	ampOnly := d.AmplifiedDiffOnly(0)
	require.NotNil(t, ampOnly)
	assert.Equal(t, d.DiffOnly.Pix, ampOnly.Pix)
}

func TestAmplify_OverlapBlendedOnce(t *testing.T) {
	changed := solid(20, 20, gray)
	changed.SetNRGBA(9, 10, black)
	changed.SetNRGBA(10, 10, black)
	d := Compare(shot(t, solid(20, 20, gray)), shot(t, changed), DefaultHighlight)

	amp := d.Amplified(3)
	require.NotNil(t, amp)
	once := Blend(DefaultHighlight, gray)
	twice := Blend(DefaultHighlight, once)
	require.NotEqual(t, once, twice)

	for _, p := range []image.Point{{9, 10}, {10, 10}, {8, 8}, {12, 13}, {6, 7}, {13, 13}} {
		assert.Equal(t, once, amp.NRGBAAt(p.X, p.Y), "pixel %v", p)
	}
	// Outside both squares the baseline shows through.
	assert.Equal(t, gray, amp.NRGBAAt(5, 10))
	assert.Equal(t, gray, amp.NRGBAAt(14, 10))
	assert.Equal(t, gray, amp.NRGBAAt(10, 14))
}

func TestAmplify_ClipsAndDiffOnly(t *testing.T) {
	changed := solid(6, 6, gray)
	changed.SetNRGBA(0, 0, black)
	d := Compare(shot(t, solid(6, 6, gray)), shot(t, changed), DefaultHighlight)

	img := d.AmplifiedDiffOnly(2)
	require.NotNil(t, img)
	marker := BlendWithWhite(DefaultHighlight)
	count := 0
	for y := 0; y < 6; y++ {
		for x := 0; x < 6; x++ {
			c := img.NRGBAAt(x, y)
			if x <= 2 && y <= 2 {
				assert.Equal(t, marker, c)
				count++
			} else {
				assert.Equal(t, White, c)
			}
		}
	}
	assert.Equal(t, 9, count)
}

func TestAmplify_NothingToDo(t *testing.T) {
	assert.Nil(t, Amplify(nil, solid(2, 2, gray), DefaultHighlight, 3))
	assert.Nil(t, Amplify([]image.Point{{0, 0}}, nil, DefaultHighlight, 3))

	d := Compare(shot(t, solid(4, 4, gray)), shot(t, solid(4, 4, gray)), DefaultHighlight)
	assert.Nil(t, d.Amplified(3))
	assert.Nil(t, d.AmplifiedDiffOnly(3))
}

func TestAmplify_Deterministic(t *testing.T) {
	changed := solid(30, 30, gray)
	for i := 0; i < 30; i += 4 {
		changed.SetNRGBA(i, (i*7)%30, black)
	}
	d := Compare(shot(t, solid(30, 30, gray)), shot(t, changed), DefaultHighlight)
	a := d.Amplified(4)
	b := d.Amplified(4)
	assert.Equal(t, a.Pix, b.Pix)
}

func TestAmplify_NegativeRadiusIsZero(t *testing.T) {
	base := solid(5, 5, gray)
	got := Amplify([]image.Point{{2, 2}}, base, DefaultHighlight, -4)
	assert.Equal(t, Blend(DefaultHighlight, gray), got.NRGBAAt(2, 2))
	assert.Equal(t, gray, got.NRGBAAt(1, 2))
	// Input is not modified.
	assert.Equal(t, gray, base.NRGBAAt(2, 2))
}
