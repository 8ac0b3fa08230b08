package imagediff

import (
	"errors"
	"fmt"
	"image"
	"strings"
)

// ErrUnsupportedMode is returned for a visualization mode name that is not recognized.
var ErrUnsupportedMode = errors.New("imagediff: unsupported mode")

// Mode selects which visualization of a Diff is rendered.
type Mode int

const (
	ModeHighlighted Mode = iota
	ModeDiffOnly
	ModeAmplified
	ModeAmplifiedDiffOnly
)

var modeNames = [...]string{
	ModeHighlighted:       "highlighted",
	ModeDiffOnly:          "diff_only",
	ModeAmplified:         "amplified",
	ModeAmplifiedDiffOnly: "amplified_diff_only",
}

// Modes lists every mode in declaration order.
func Modes() []Mode {
	return []Mode{ModeHighlighted, ModeDiffOnly, ModeAmplified, ModeAmplifiedDiffOnly}
}

// ParseMode maps a mode name to a Mode. The empty string selects ModeHighlighted.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ModeHighlighted, nil
	}
	for m, name := range modeNames {
		if name == s {
			return Mode(m), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedMode, s)
}

func (m Mode) valid() bool { return m >= 0 && int(m) < len(modeNames) }

func (m Mode) String() string {
	if !m.valid() {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return modeNames[m]
}

// Amplifies reports whether the mode uses the amplify radius.
func (m Mode) Amplifies() bool { return m == ModeAmplified || m == ModeAmplifiedDiffOnly }

// FileTag is the artifact file name infix for the mode: "" for
// highlighted, otherwise "-" plus the name without underscores.
func (m Mode) FileTag() string {
	if m == ModeHighlighted || !m.valid() {
		return ""
	}
	return "-" + strings.ReplaceAll(modeNames[m], "_", "")
}

func (m Mode) MarshalText() ([]byte, error) {
	if !m.valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedMode, int(m))
	}
	return []byte(modeNames[m]), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

type renderFunc func(d *Diff, radius int) image.Image

var renderers = [...]renderFunc{
	ModeHighlighted: func(d *Diff, _ int) image.Image {
		if d.Highlighted == nil {
			return nil
		}
		return d.Highlighted
	},
	ModeDiffOnly: func(d *Diff, _ int) image.Image {
		if d.DiffOnly == nil {
			return nil
		}
		return d.DiffOnly
	},
	ModeAmplified: func(d *Diff, r int) image.Image {
		if img := d.Amplified(r); img != nil {
			return img
		}
		return nil
	},
	ModeAmplifiedDiffOnly: func(d *Diff, r int) image.Image {
		if img := d.AmplifiedDiffOnly(r); img != nil {
			return img
		}
		return nil
	},
}

// Image renders the requested visualization. It returns nil when the sizes
// differ or when no pixel differs; radius is ignored by non-amplified modes.
func (d *Diff) Image(m Mode, radius int) (image.Image, error) {
	if !m.valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedMode, int(m))
	}
	if d.PixelCount == 0 {
		return nil, nil
	}
	return renderers[m](d, radius), nil
}
