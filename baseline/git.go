package baseline

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Git reads baselines from HEAD of the repository containing each path.
type Git struct {
	// Binary is the git executable. Defaults to "git".
	Binary string
	Logger *slog.Logger
}

// NewGit returns a Git source using the git binary on PATH.
func NewGit(logger *slog.Logger) *Git {
	if logger == nil {
		logger = slog.Default()
	}
	return &Git{Binary: "git", Logger: logger}
}

// RepoRoot walks up from path to the first directory holding a .git entry.
func RepoRoot(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	dir := abs
	if fi, err := os.Stat(abs); err != nil || !fi.IsDir() {
		dir = filepath.Dir(abs)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w: %s is not inside a git repository", ErrBaselineUnavailable, path)
		}
		dir = parent
	}
}

func (g *Git) locate(path string) (root, rel string, err error) {
	root, err = RepoRoot(path)
	if err != nil {
		return "", "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", "", err
	}
	rel, err = filepath.Rel(root, abs)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrBaselineUnavailable, err)
	}
	return root, filepath.ToSlash(rel), nil
}

func (g *Git) run(ctx context.Context, root string, args ...string) ([]byte, error) {
	bin := g.Binary
	if bin == "" {
		bin = "git"
	}
	cmd := exec.CommandContext(ctx, bin, append([]string{"-C", root}, args...)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("%w: git %s: %s", ErrBaselineUnavailable, args[0], msg)
	}
	return out, nil
}

func (g *Git) logger() *slog.Logger {
	if g.Logger == nil {
		return slog.Default()
	}
	return g.Logger
}

// Baseline returns the content of path at HEAD.
func (g *Git) Baseline(ctx context.Context, path string) ([]byte, error) {
	root, rel, err := g.locate(path)
	if err != nil {
		return nil, err
	}
	out, err := g.run(ctx, root, "show", "HEAD:"+rel)
	if err != nil {
		return nil, err
	}
	g.logger().Debug("baseline: git show", "path", rel, "bytes", len(out))
	return out, nil
}

// ChangedPaths lists files under dir that git status reports as changed.
func (g *Git) ChangedPaths(ctx context.Context, dir string) ([]string, error) {
	root, rel, err := g.locate(dir)
	if err != nil {
		return nil, err
	}
	args := []string{"status", "--porcelain", "--untracked-files=all", "--"}
	if rel != "." {
		args = append(args, rel)
	}
	out, err := g.run(ctx, root, args...)
	if err != nil {
		return nil, err
	}
	rels := ParsePorcelain(out)
	paths := make([]string, 0, len(rels))
	for _, r := range rels {
		paths = append(paths, filepath.Join(root, filepath.FromSlash(r)))
	}
	return paths, nil
}

// Revert restores path to its HEAD content.
func (g *Git) Revert(ctx context.Context, path string) error {
	root, rel, err := g.locate(path)
	if err != nil {
		return err
	}
	if _, err := g.run(ctx, root, "checkout", "HEAD", "--", rel); err != nil {
		return err
	}
	g.logger().Info("baseline: reverted", "path", rel)
	return nil
}

// ParsePorcelain extracts repository-relative paths from
// `git status --porcelain` output. Renames yield the new path and quoted
// paths are unquoted.
func ParsePorcelain(out []byte) []string {
	var paths []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if len(line) < 4 {
			continue
		}
		p := line[3:]
		if i := strings.Index(p, " -> "); i >= 0 {
			p = p[i+4:]
		}
		if strings.HasPrefix(p, `"`) {
			if u, err := strconv.Unquote(p); err == nil {
				p = u
			}
		}
		paths = append(paths, p)
	}
	return paths
}
