// Package report runs the pixel diff over every changed screenshot in a
// directory and renders the outcome as a markdown review report or a PDF
// packet of the saved diff images.
package report

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hazyhaar/shotdiff/baseline"
	"github.com/hazyhaar/shotdiff/shotfile"
)

// Group is the changed screenshots of one tutorial.
type Group struct {
	Name  string
	Files []shotfile.File
}

// Listing is the set of changed screenshots under a directory, grouped by
// tutorial name and sorted by name, locale and number.
type Listing struct {
	Dir    string
	Groups []Group
}

// List asks src for the changed paths under dir and keeps those that
// locate as screenshots.
func List(ctx context.Context, src baseline.Source, loc shotfile.Locator, dir string) (*Listing, error) {
	paths, err := src.ChangedPaths(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("report: list %s: %w", dir, err)
	}
	var files []shotfile.File
	for _, p := range paths {
		if f := loc.Parse(p); !f.IsEmpty() {
			files = append(files, f)
		}
	}
	sortFiles(files)

	l := &Listing{Dir: dir}
	for _, f := range files {
		if n := len(l.Groups); n == 0 || l.Groups[n-1].Name != f.Name {
			l.Groups = append(l.Groups, Group{Name: f.Name})
		}
		g := &l.Groups[len(l.Groups)-1]
		g.Files = append(g.Files, f)
	}
	return l, nil
}

func sortFiles(files []shotfile.File) {
	sort.SliceStable(files, func(i, j int) bool {
		a, b := files[i], files[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if a.Locale != b.Locale {
			return a.Locale < b.Locale
		}
		if a.Number != b.Number {
			return a.Number < b.Number
		}
		return a.Path < b.Path
	})
}

// Total is the number of listed screenshots.
func (l *Listing) Total() int {
	n := 0
	for _, g := range l.Groups {
		n += len(g.Files)
	}
	return n
}

// Files flattens the listing in report order.
func (l *Listing) Files() []shotfile.File {
	out := make([]shotfile.File, 0, l.Total())
	for _, g := range l.Groups {
		out = append(out, g.Files...)
	}
	return out
}

// Markdown renders one table per tutorial.
func (l *Listing) Markdown() string {
	total := l.Total()
	if total == 0 {
		return "No changed screenshots found."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Changed Screenshots (%d files)\n\n", total)
	for _, g := range l.Groups {
		fmt.Fprintf(&sb, "## %s\n\n", g.Name)
		sb.WriteString("| Screenshot | Locale | Path |\n")
		sb.WriteString("|---|---|---|\n")
		for _, f := range g.Files {
			fmt.Fprintf(&sb, "| %s | %s | %s |\n", f.Label(), f.Locale, f.Path)
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "**Total: %d changed screenshots**\n\n", total)
	sb.WriteString("Use `generate_diff_image` to inspect individual screenshots or `generate_diff_report` to generate diffs for all.\n")
	return sb.String()
}
