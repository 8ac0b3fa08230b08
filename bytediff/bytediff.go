// Package bytediff renders a bounded side-by-side hex and ASCII comparison
// of two byte buffers. It is the fallback view when images cannot be
// decoded, differ in size, or differ only in their encoded bytes.
package bytediff

// LineWidth is the number of bytes shown per row.
const LineWidth = 16

// MaxLines caps the number of differing lines in a report.
const MaxLines = 4

// Cell is one byte position of a row.
type Cell struct {
	Byte    byte
	Present bool // false once this side's buffer has ended
	Differs bool // missing, or not equal to the other side
}

// Line is a differing 16-byte block shown as a left and a right row.
type Line struct {
	Offset      int
	Left, Right [LineWidth]Cell
}

// Report is the result of Compare.
type Report struct {
	Lines     []Line
	Truncated bool
}

// Empty reports whether the buffers had no differing line.
func (r *Report) Empty() bool { return r == nil || len(r.Lines) == 0 }

// Compare walks a and b in 16-byte lines and keeps the lines that differ.
// A position past the end of both buffers matches; past the end of only
// one it does not. After MaxLines differing lines the walk stops.
func Compare(a, b []byte) *Report {
	r := &Report{}
	n := max(len(a), len(b))
	for off := 0; off < n; off += LineWidth {
		if linesMatch(off, a, b) {
			continue
		}
		r.Lines = append(r.Lines, Line{
			Offset: off,
			Left:   row(off, a, b),
			Right:  row(off, b, a),
		})
		if len(r.Lines) >= MaxLines {
			r.Truncated = true
			break
		}
	}
	return r
}

func linesMatch(off int, a, b []byte) bool {
	for i := off; i < off+LineWidth; i++ {
		if i >= len(a) && i >= len(b) {
			return true
		}
		if i >= len(a) || i >= len(b) || a[i] != b[i] {
			return false
		}
	}
	return true
}

func row(off int, show, other []byte) [LineWidth]Cell {
	var cells [LineWidth]Cell
	for n := range cells {
		i := off + n
		if i >= len(show) {
			cells[n] = Cell{Differs: true}
			continue
		}
		cells[n] = Cell{
			Byte:    show[i],
			Present: true,
			Differs: i >= len(other) || show[i] != other[i],
		}
	}
	return cells
}

// ASCII returns the printable form of the cell: the character for 0x20
// through 0x7E, '.' for other bytes, '^' for a missing byte.
func (c Cell) ASCII() byte {
	switch {
	case !c.Present:
		return '^'
	case c.Byte >= 0x20 && c.Byte <= 0x7E:
		return c.Byte
	default:
		return '.'
	}
}
