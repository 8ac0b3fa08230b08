// Package shotfile maps a tutorial screenshot path to its identity
// (tutorial name, locale, page number or cover) and derives the addresses
// built from it: relative path, documentation URL, download URL and diff
// artifact file names.
package shotfile

import (
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// DefaultBaseURL is the published tutorial site the screenshots belong to.
const DefaultBaseURL = "https://skyline.ms/tutorials/25-1"

// Locale tokens look like "en", "ja" or "zh-CHS".
var (
	pagePattern  = regexp.MustCompile(`(?:^|[/\\])([a-zA-Z0-9\-]+)[/\\](\w\w-?[A-Z]*)[/\\]s-(\d\d)\.(\w+)$`)
	coverPattern = regexp.MustCompile(`(?:^|[/\\])([a-zA-Z0-9\-]+)[/\\](\w\w-?[A-Z]*)[/\\]cover\.(\w+)$`)
)

// Origin says where the bytes of a screenshot came from.
type Origin int

const (
	OriginDisk Origin = iota
	OriginGit
	OriginWeb
)

func (o Origin) String() string {
	switch o {
	case OriginGit:
		return "git"
	case OriginWeb:
		return "web"
	default:
		return "disk"
	}
}

// File is the identity of one screenshot. The zero value is empty.
type File struct {
	Path    string
	Name    string
	Locale  string
	Number  int
	IsCover bool
	Ext     string

	baseURL string
}

// Locator parses paths against a configurable base URL.
type Locator struct {
	BaseURL string
}

// Parse parses p with the default base URL.
func Parse(p string) File {
	return Locator{}.Parse(p)
}

// IsMatch reports whether p has one of the recognized screenshot shapes.
func IsMatch(p string) bool {
	return pagePattern.MatchString(p) || coverPattern.MatchString(p)
}

// Parse returns the identity of p. When p matches neither shape the
// returned File only carries Path and IsEmpty reports true.
func (l Locator) Parse(p string) File {
	f := File{Path: p, baseURL: strings.TrimRight(l.BaseURL, "/")}
	if f.baseURL == "" {
		f.baseURL = DefaultBaseURL
	}
	if m := pagePattern.FindStringSubmatch(p); m != nil {
		n, _ := strconv.Atoi(m[3])
		f.Name, f.Locale, f.Number, f.Ext = m[1], m[2], n, strings.ToLower(m[4])
		return f
	}
	if m := coverPattern.FindStringSubmatch(p); m != nil {
		f.Name, f.Locale, f.IsCover, f.Ext = m[1], m[2], true, strings.ToLower(m[3])
	}
	return f
}

// IsEmpty reports whether the path matched no recognized shape. Derived
// addresses of an empty File are meaningless.
func (f File) IsEmpty() bool { return f.Name == "" }

// Label is "cover" or "s-NN".
func (f File) Label() string {
	if f.IsCover {
		return "cover"
	}
	return fmt.Sprintf("s-%02d", f.Number)
}

func (f File) ext() string {
	if f.Ext == "" {
		return "png"
	}
	return f.Ext
}

// RelativePath is name/locale/cover.ext or name/locale/s-NN.ext, always
// with forward slashes.
func (f File) RelativePath() string {
	return f.Name + "/" + f.Locale + "/" + f.Label() + "." + f.ext()
}

func (f File) base() string {
	if f.baseURL == "" {
		return DefaultBaseURL
	}
	return f.baseURL
}

// URLInTutorial is the page of the published tutorial showing the screenshot.
func (f File) URLInTutorial() string {
	u := f.base() + "/" + f.Name + "/" + f.Locale + "/index.html"
	if !f.IsCover {
		u += "#" + f.Label()
	}
	return u
}

// URLToDownload is where the published copy of the screenshot is served.
func (f File) URLToDownload() string {
	return f.base() + "/" + f.RelativePath()
}

// DiffFileName is the artifact name for a highlighted diff. The pixel count
// keeps successive runs from overwriting each other.
func (f File) DiffFileName(pixelCount int) string {
	return f.DiffFileNameForMode("", pixelCount)
}

// DiffFileNameForMode inserts tag (for example "-amplified") after "diff".
func (f File) DiffFileNameForMode(tag string, pixelCount int) string {
	return fmt.Sprintf("%s-%s-%s-diff%s-%dpx.png", f.Name, f.Locale, f.Label(), tag, pixelCount)
}

// SheetFileName is the artifact name for a side-by-side review sheet.
func (f File) SheetFileName(pixelCount int) string {
	return fmt.Sprintf("%s-%s-%s-sheet-%dpx.png", f.Name, f.Locale, f.Label(), pixelCount)
}

// Description names the screenshot as seen from origin.
func (f File) Description(o Origin) string {
	switch o {
	case OriginGit:
		return "Git HEAD: " + f.RelativePath()
	case OriginWeb:
		return f.URLToDownload()
	default:
		return f.Path
	}
}

// ArtifactDir walks up from the screenshot to the pwiz_tools directory;
// the repository root is its parent and artifacts go to ai/.tmp next to
// that root. Returns "" when no pwiz_tools ancestor exists.
func (f File) ArtifactDir() string {
	p := path.Clean(strings.ReplaceAll(f.Path, `\`, "/"))
	dir := path.Dir(p)
	for {
		parent := path.Dir(dir)
		if parent == dir {
			return ""
		}
		if path.Base(dir) == "pwiz_tools" {
			root := path.Dir(parent)
			if root == parent {
				return ""
			}
			return filepath.FromSlash(path.Join(root, "ai", ".tmp"))
		}
		dir = parent
	}
}
