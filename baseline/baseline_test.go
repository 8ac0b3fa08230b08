package baseline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"sort"
	"testing"

	"github.com/hazyhaar/shotdiff/shotfile"
)

func TestParsePorcelain(t *testing.T) {
	out := []byte(" M Tutorials/A/en/s-01.png\n" +
		"?? Tutorials/A/en/s-02.png\n" +
		"R  Tutorials/A/en/old.png -> Tutorials/A/en/cover.png\n" +
		" D \"Tutorials/A/ja/s 03.png\"\n" +
		"\n")
	got := ParsePorcelain(out)
	want := []string{
		"Tutorials/A/en/s-01.png",
		"Tutorials/A/en/s-02.png",
		"Tutorials/A/en/cover.png",
		"Tutorials/A/ja/s 03.png",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParsePorcelain = %q, want %q", got, want)
	}
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Set("/repo/T/en/s-01.png", []byte("one"))
	m.MarkChanged("/repo/T/en/s-02.png")
	m.Set("/other/x.png", []byte("x"))

	data, err := m.Baseline(ctx, "/repo/T/en/../en/s-01.png")
	if err != nil || string(data) != "one" {
		t.Fatalf("Baseline = %q, %v", data, err)
	}
	if _, err := m.Baseline(ctx, "/repo/T/en/s-02.png"); !errors.Is(err, ErrBaselineUnavailable) {
		t.Fatalf("missing baseline err = %v", err)
	}

	paths, err := m.ChangedPaths(ctx, "/repo")
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(paths)
	want := []string{filepath.Clean("/repo/T/en/s-01.png"), filepath.Clean("/repo/T/en/s-02.png")}
	if !reflect.DeepEqual(paths, want) {
		t.Fatalf("ChangedPaths = %q, want %q", paths, want)
	}

	if err := m.Revert(ctx, "/repo/T/en/s-01.png"); err != nil {
		t.Fatal(err)
	}
	if err := m.Revert(ctx, "/repo/T/en/s-01.png"); !errors.Is(err, ErrBaselineUnavailable) {
		t.Fatalf("second revert err = %v", err)
	}
	if got := m.Reverted(); len(got) != 1 {
		t.Fatalf("Reverted = %q", got)
	}
}

func TestOrigin(t *testing.T) {
	if Origin(NewGit(nil)) != shotfile.OriginGit {
		t.Error("git origin")
	}
	if Origin(NewWeb("")) != shotfile.OriginWeb {
		t.Error("web origin")
	}
	if Origin(NewMemory()) != shotfile.OriginDisk {
		t.Error("memory origin")
	}
}

func TestWeb_Baseline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tutorials/TutorialA/en/s-03.png":
			w.Write([]byte("published"))
		case "/tutorials/Huge/en/s-01.png":
			w.Write(make([]byte, 64))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	web := NewWeb(srv.URL + "/tutorials")
	web.CheckURL = func(string) error { return nil }
	web.MaxBytes = 32
	ctx := context.Background()

	data, err := web.Baseline(ctx, "/local/TutorialA/en/s-03.png")
	if err != nil || string(data) != "published" {
		t.Fatalf("Baseline = %q, %v", data, err)
	}

	for _, p := range []string{"/local/Missing/en/s-01.png", "/local/Huge/en/s-01.png", "/local/readme.txt"} {
		if _, err := web.Baseline(ctx, p); !errors.Is(err, ErrBaselineUnavailable) {
			t.Errorf("Baseline(%q) err = %v", p, err)
		}
	}
	if _, err := web.ChangedPaths(ctx, "/local"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("ChangedPaths err = %v", err)
	}
}

func TestWeb_RejectsPrivateHosts(t *testing.T) {
	web := NewWeb("http://127.0.0.1:1/tutorials")
	_, err := web.Baseline(context.Background(), "/x/TutorialA/en/s-03.png")
	if !errors.Is(err, ErrBaselineUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

func TestRepoRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	deep := filepath.Join(root, "pwiz_tools", "Tutorials", "A", "en")
	if err := os.MkdirAll(deep, 0o755); err != nil {
		t.Fatal(err)
	}
	got, err := RepoRoot(filepath.Join(deep, "s-01.png"))
	if err != nil {
		t.Fatal(err)
	}
	want, _ := filepath.EvalSymlinks(root)
	gotReal, _ := filepath.EvalSymlinks(got)
	if gotReal != want {
		t.Fatalf("RepoRoot = %q, want %q", got, root)
	}
}

func gitRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	git := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", append([]string{"-C", dir, "-c", "user.email=t@example.com", "-c", "user.name=t"}, args...)...)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	git("init", "-q")
	shot := filepath.Join(dir, "Tutorials", "A", "en")
	if err := os.MkdirAll(shot, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(shot, "s-01.png"), []byte("committed"), 0o644); err != nil {
		t.Fatal(err)
	}
	git("add", ".")
	git("commit", "-q", "-m", "baseline")
	return dir
}

func TestGit_RoundTrip(t *testing.T) {
	dir := gitRepo(t)
	ctx := context.Background()
	path := filepath.Join(dir, "Tutorials", "A", "en", "s-01.png")
	if err := os.WriteFile(path, []byte("edited"), 0o644); err != nil {
		t.Fatal(err)
	}

	g := NewGit(nil)
	data, err := g.Baseline(ctx, path)
	if err != nil || string(data) != "committed" {
		t.Fatalf("Baseline = %q, %v", data, err)
	}

	changed, err := g.ChangedPaths(ctx, filepath.Join(dir, "Tutorials"))
	if err != nil {
		t.Fatal(err)
	}
	if len(changed) != 1 || filepath.Base(changed[0]) != "s-01.png" {
		t.Fatalf("ChangedPaths = %q", changed)
	}

	if err := g.Revert(ctx, path); err != nil {
		t.Fatal(err)
	}
	got, _ := os.ReadFile(path)
	if string(got) != "committed" {
		t.Fatalf("after revert = %q", got)
	}

	if _, err := g.Baseline(ctx, filepath.Join(dir, "Tutorials", "A", "en", "s-99.png")); !errors.Is(err, ErrBaselineUnavailable) {
		t.Fatalf("missing file err = %v", err)
	}
}

func TestGit_OutsideRepo(t *testing.T) {
	_, err := NewGit(nil).Baseline(context.Background(), filepath.Join(t.TempDir(), "x.png"))
	if !errors.Is(err, ErrBaselineUnavailable) {
		t.Fatalf("err = %v", err)
	}
}
