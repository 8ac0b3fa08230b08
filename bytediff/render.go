package bytediff

import (
	"fmt"
	"html"
	"strings"
)

const (
	markerLeft  = "<<"
	markerRight = ">>"
	ellipsis    = "..."
)

// side tells a style which colour a differing cell gets.
type side int

const (
	sideLeft side = iota
	sideRight
)

// style wraps a run of text that belongs to a differing cell.
type style interface {
	plain(s string) string
	changed(s string, sd side) string
}

type textStyle struct{}

func (textStyle) plain(s string) string          { return s }
func (textStyle) changed(s string, _ side) string { return s }

type ansiStyle struct{}

const (
	ansiRed   = "\x1b[31m"
	ansiGreen = "\x1b[32m"
	ansiReset = "\x1b[0m"
)

func (ansiStyle) plain(s string) string { return s }
func (ansiStyle) changed(s string, sd side) string {
	if sd == sideLeft {
		return ansiRed + s + ansiReset
	}
	return ansiGreen + s + ansiReset
}

type htmlStyle struct{}

func (htmlStyle) plain(s string) string { return html.EscapeString(s) }
func (htmlStyle) changed(s string, sd side) string {
	class := "add"
	if sd == sideLeft {
		class = "del"
	}
	return `<span class="` + class + `">` + html.EscapeString(s) + `</span>`
}

func (r *Report) render(st style) string {
	if r.Empty() {
		return ""
	}
	var b strings.Builder
	for _, l := range r.Lines {
		writeRow(&b, st, markerLeft, l.Offset, &l.Left, sideLeft)
		writeRow(&b, st, markerRight, l.Offset, &l.Right, sideRight)
	}
	if r.Truncated {
		b.WriteString(st.plain(ellipsis))
	}
	return b.String()
}

func writeRow(b *strings.Builder, st style, marker string, offset int, cells *[LineWidth]Cell, sd side) {
	b.WriteString(st.plain(fmt.Sprintf("%s %08X ", marker, offset)))
	for n, c := range cells {
		if n == LineWidth/2 {
			b.WriteString("  ")
		}
		tok := "-- "
		if c.Present {
			tok = fmt.Sprintf("%02X ", c.Byte)
		}
		if c.Differs {
			b.WriteString(st.changed(tok, sd))
		} else {
			b.WriteString(st.plain(tok))
		}
	}
	b.WriteString("    ")
	for _, c := range cells {
		ch := string(c.ASCII())
		if c.Differs {
			b.WriteString(st.changed(ch, sd))
		} else {
			b.WriteString(st.plain(ch))
		}
	}
	b.WriteByte('\n')
}

// Text renders the report without colour.
func (r *Report) Text() string { return r.render(textStyle{}) }

// ANSI renders the report with left-side differences in red and right-side
// differences in green.
func (r *Report) ANSI() string { return r.render(ansiStyle{}) }

// HTML renders the report as a <pre> block. Differing cells are wrapped in
// spans of class "del" (left) or "add" (right).
func (r *Report) HTML() string {
	body := r.render(htmlStyle{})
	if body == "" {
		return ""
	}
	return `<pre class="bytediff">` + body + "</pre>"
}

// Markdown renders the plain text report inside a fenced code block.
func (r *Report) Markdown() string {
	body := r.Text()
	if body == "" {
		return ""
	}
	return "```\n" + strings.TrimSuffix(body, "\n") + "\n```\n"
}
