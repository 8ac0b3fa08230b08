package shotfile

import (
	"path/filepath"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		want   File
		wantOK bool
	}{
		{
			name:   "numbered page",
			path:   "/src/pwiz/pwiz_tools/Skyline/Documentation/Tutorials/TutorialA/en/s-03.png",
			want:   File{Name: "TutorialA", Locale: "en", Number: 3, Ext: "png"},
			wantOK: true,
		},
		{
			name:   "cover with compound locale",
			path:   "/docs/TutorialA/zh-CHS/cover.png",
			want:   File{Name: "TutorialA", Locale: "zh-CHS", IsCover: true, Ext: "png"},
			wantOK: true,
		},
		{
			name:   "backslash separators",
			path:   `C:\proj\pwiz\pwiz_tools\Skyline\Documentation\Tutorials\MethodEdit\ja\s-12.png`,
			want:   File{Name: "MethodEdit", Locale: "ja", Number: 12, Ext: "png"},
			wantOK: true,
		},
		{
			name:   "relative path",
			path:   "Targeted-MS2/en/s-01.PNG",
			want:   File{Name: "Targeted-MS2", Locale: "en", Number: 1, Ext: "png"},
			wantOK: true,
		},
		{
			name:   "other extension",
			path:   "/t/PRM/en/s-07.webp",
			want:   File{Name: "PRM", Locale: "en", Number: 7, Ext: "webp"},
			wantOK: true,
		},
		{name: "unrelated file", path: "/home/user/notes/readme.txt"},
		{name: "single digit page", path: "/t/TutorialA/en/s-3.png"},
		{name: "lowercase locale suffix", path: "/t/TutorialA/zh-chs/s-03.png"},
		{name: "trailing segment", path: "/t/TutorialA/en/s-03.png/extra"},
		{name: "empty", path: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.path)
			if got.Path != tt.path {
				t.Errorf("Path = %q, want %q", got.Path, tt.path)
			}
			if got.IsEmpty() == tt.wantOK {
				t.Fatalf("IsEmpty = %v, want %v", got.IsEmpty(), !tt.wantOK)
			}
			if IsMatch(tt.path) != tt.wantOK {
				t.Errorf("IsMatch = %v, want %v", !tt.wantOK, tt.wantOK)
			}
			if !tt.wantOK {
				return
			}
			if got.Name != tt.want.Name || got.Locale != tt.want.Locale ||
				got.Number != tt.want.Number || got.IsCover != tt.want.IsCover || got.Ext != tt.want.Ext {
				t.Errorf("Parse = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDerivedAddresses(t *testing.T) {
	page := Parse("/x/TutorialA/en/s-03.png")
	cover := Parse("/x/TutorialA/zh-CHS/cover.png")

	checks := []struct{ got, want string }{
		{page.RelativePath(), "TutorialA/en/s-03.png"},
		{cover.RelativePath(), "TutorialA/zh-CHS/cover.png"},
		{page.URLInTutorial(), DefaultBaseURL + "/TutorialA/en/index.html#s-03"},
		{cover.URLInTutorial(), DefaultBaseURL + "/TutorialA/zh-CHS/index.html"},
		{page.URLToDownload(), DefaultBaseURL + "/TutorialA/en/s-03.png"},
		{page.DiffFileName(42), "TutorialA-en-s-03-diff-42px.png"},
		{cover.DiffFileName(7), "TutorialA-zh-CHS-cover-diff-7px.png"},
		{page.DiffFileNameForMode("-amplified", 42), "TutorialA-en-s-03-diff-amplified-42px.png"},
		{page.SheetFileName(5), "TutorialA-en-s-03-sheet-5px.png"},
		{page.Label(), "s-03"},
		{cover.Label(), "cover"},
	}
	for i, c := range checks {
		if c.got != c.want {
			t.Errorf("check %d: got %q, want %q", i, c.got, c.want)
		}
	}
}

func TestLocator_BaseURL(t *testing.T) {
	f := Locator{BaseURL: "http://mirror.local/tutorials/"}.Parse("/x/Absolute/en/s-02.png")
	if got, want := f.URLToDownload(), "http://mirror.local/tutorials/Absolute/en/s-02.png"; got != want {
		t.Errorf("URLToDownload = %q, want %q", got, want)
	}
}

func TestDescription(t *testing.T) {
	f := Parse("/x/TutorialA/en/s-03.png")
	if got := f.Description(OriginGit); got != "Git HEAD: TutorialA/en/s-03.png" {
		t.Errorf("git: %q", got)
	}
	if got := f.Description(OriginWeb); got != f.URLToDownload() {
		t.Errorf("web: %q", got)
	}
	if got := f.Description(OriginDisk); got != "/x/TutorialA/en/s-03.png" {
		t.Errorf("disk: %q", got)
	}
}

func TestArtifactDir(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/proj/pwiz/pwiz_tools/Skyline/Documentation/Tutorials/TutorialA/en/s-03.png", "/proj/ai/.tmp"},
		{`C:\proj\pwiz\pwiz_tools\Skyline\Documentation\Tutorials\TutorialA\en\s-03.png`, "C:/proj/ai/.tmp"},
		{"/elsewhere/TutorialA/en/s-03.png", ""},
	}
	for _, tt := range tests {
		got := Parse(tt.path).ArtifactDir()
		if got != filepath.FromSlash(tt.want) {
			t.Errorf("ArtifactDir(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
