package report

import (
	"fmt"
	"strings"
)

// Markdown renders the report grouped by tutorial. Skipped and cancelled
// screenshots are counted but not listed.
func (r *Result) Markdown() string {
	if len(r.Entries) == 0 {
		return "No changed screenshots found."
	}
	var sb strings.Builder
	sb.WriteString("# Screenshot Diff Report\n")
	fmt.Fprintf(&sb, "Mode: %s | Min pixels: %d\n\n", r.Mode, r.MinPixelDiff)

	current := ""
	for _, e := range r.Entries {
		if e.File.Name != current {
			current = e.File.Name
			fmt.Fprintf(&sb, "## %s\n\n", current)
		}
		switch e.Status {
		case StatusDiff:
			fmt.Fprintf(&sb, "- **%s** (%s): %s\n", e.File.Label(), e.File.Locale, e.Message())
			if e.Artifact != "" {
				fmt.Fprintf(&sb, "  Diff image saved: %s\n", e.Artifact)
			}
		case StatusSizeChanged, StatusError:
			fmt.Fprintf(&sb, "- **%s** (%s): %s\n", e.File.Label(), e.File.Locale, e.Message())
		}
	}

	fmt.Fprintf(&sb, "\n**Summary**: %d diffs generated, %d skipped, %d errors\n", r.Processed, r.Skipped, r.Errors)
	return sb.String()
}

// Artifacts lists the saved diff images in report order.
func (r *Result) Artifacts() []string {
	var out []string
	for _, e := range r.Entries {
		if e.Artifact != "" {
			out = append(out, e.Artifact)
		}
	}
	return out
}
