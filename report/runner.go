package report

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/hazyhaar/shotdiff/baseline"
	"github.com/hazyhaar/shotdiff/guard"
	"github.com/hazyhaar/shotdiff/imagediff"
	"github.com/hazyhaar/shotdiff/shotfile"
)

// ErrNoArtifactDir is returned when a diff image has nowhere to go.
var ErrNoArtifactDir = errors.New("report: no artifact directory")

// Status classifies the outcome for one screenshot.
type Status int

const (
	StatusDiff Status = iota
	StatusSizeChanged
	StatusNoDiff
	StatusBytesOnly
	StatusBelowThreshold
	StatusError
	StatusCancelled
)

var statusNames = [...]string{
	StatusDiff:           "diff",
	StatusSizeChanged:    "size_changed",
	StatusNoDiff:         "no_diff",
	StatusBytesOnly:      "bytes_only",
	StatusBelowThreshold: "below_threshold",
	StatusError:          "error",
	StatusCancelled:      "cancelled",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Skipped reports whether the status counts as skipped in the summary.
func (s Status) Skipped() bool {
	return s == StatusNoDiff || s == StatusBytesOnly || s == StatusBelowThreshold
}

// Entry is the outcome for one screenshot.
type Entry struct {
	File       shotfile.File `json:"file"`
	Status     Status        `json:"status"`
	PixelCount int           `json:"pixel_count"`
	SizeOld    image.Point   `json:"size_old"`
	SizeNew    image.Point   `json:"size_new"`
	Text       string        `json:"text,omitempty"`
	Artifact   string        `json:"artifact,omitempty"`
	Err        error         `json:"-"`
}

// Message is the one-line description used in reports and tool results.
func (e Entry) Message() string {
	switch e.Status {
	case StatusDiff:
		return fmt.Sprintf("%d pixels changed", e.PixelCount)
	case StatusSizeChanged:
		return fmt.Sprintf("Size changed: %dx%d -> %dx%d", e.SizeOld.X, e.SizeOld.Y, e.SizeNew.X, e.SizeNew.Y)
	case StatusNoDiff:
		return "No differences"
	case StatusBytesOnly:
		return "No pixel differences; file bytes differ" + e.Text
	case StatusBelowThreshold:
		return fmt.Sprintf("%d pixels changed (below threshold)", e.PixelCount)
	case StatusError:
		if e.Err != nil {
			return "Error: " + e.Err.Error()
		}
		return "Error"
	default:
		return "Cancelled"
	}
}

// Progress is delivered after each screenshot finishes.
type Progress struct {
	Done  int   `json:"done"`
	Total int   `json:"total"`
	Entry Entry `json:"entry"`
}

// Saver stores an encoded diff image under name and returns its path.
type Saver func(f shotfile.File, name string, png []byte) (string, error)

// DirSaver writes artifacts into dir. An empty dir uses each file's own
// ArtifactDir.
func DirSaver(dir string) Saver {
	return func(f shotfile.File, name string, png []byte) (string, error) {
		target := dir
		if target == "" {
			target = f.ArtifactDir()
		}
		if target == "" {
			return "", fmt.Errorf("%w for %s", ErrNoArtifactDir, f.Path)
		}
		if err := os.MkdirAll(target, 0o755); err != nil {
			return "", fmt.Errorf("report: mkdir %s: %w", target, err)
		}
		p, err := guard.SafeJoin(target, name)
		if err != nil {
			return "", fmt.Errorf("report: %s: %w", name, err)
		}
		if err := os.WriteFile(p, png, 0o644); err != nil {
			return "", fmt.Errorf("report: write %s: %w", p, err)
		}
		return p, nil
	}
}

// Request selects what a Run covers.
type Request struct {
	// Dir is scanned through the Source for changed screenshots.
	Dir string
	// Files, when set, replaces the scan of Dir.
	Files []shotfile.File
}

// Result is the outcome of a Run. Entries follow report order.
type Result struct {
	Dir          string         `json:"dir"`
	Mode         imagediff.Mode `json:"mode"`
	MinPixelDiff int            `json:"min_pixel_diff"`
	Entries      []Entry        `json:"entries"`
	Processed    int            `json:"processed"`
	Skipped      int            `json:"skipped"`
	Errors       int            `json:"errors"`
}

// Runner diffs screenshots against their baselines. A zero Runner needs
// at least a Source.
type Runner struct {
	Source       baseline.Source
	Locator      shotfile.Locator
	Highlight    color.NRGBA
	Mode         imagediff.Mode
	Radius       int
	MinPixelDiff int
	Workers      int
	// ReadFile loads the current screenshot. Defaults to os.ReadFile.
	ReadFile func(string) ([]byte, error)
	// Save stores generated images. Defaults to DirSaver("").
	Save       Saver
	Logger     *slog.Logger
	OnProgress func(Progress)
}

// DefaultWorkers leaves a quarter of the CPUs free.
func DefaultWorkers() int {
	return max(1, runtime.NumCPU()*3/4)
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func (r *Runner) highlight() color.NRGBA {
	if r.Highlight == (color.NRGBA{}) {
		return imagediff.DefaultHighlight
	}
	return r.Highlight
}

// Compare loads the current and baseline bytes of f and compares them.
func (r *Runner) Compare(ctx context.Context, f shotfile.File) (*imagediff.Diff, error) {
	read := r.ReadFile
	if read == nil {
		read = os.ReadFile
	}
	curData, err := read(f.Path)
	if err != nil {
		return nil, fmt.Errorf("report: read %s: %w", f.Path, err)
	}
	oldData, err := r.Source.Baseline(ctx, f.Path)
	if err != nil {
		return nil, err
	}
	cur, err := imagediff.Decode(curData)
	if err != nil {
		return nil, fmt.Errorf("current %s: %w", filepath.Base(f.Path), err)
	}
	old, err := imagediff.Decode(oldData)
	if err != nil {
		return nil, fmt.Errorf("baseline %s: %w", filepath.Base(f.Path), err)
	}
	return imagediff.Compare(old, cur, r.highlight()), nil
}

// Process runs the whole pipeline for one screenshot: compare, classify,
// render in the runner's mode and save.
func (r *Runner) Process(ctx context.Context, f shotfile.File) Entry {
	e, _ := r.process(ctx, f)
	return e
}

func (r *Runner) process(ctx context.Context, f shotfile.File) (Entry, *imagediff.Diff) {
	e := Entry{File: f}
	fail := func(err error) (Entry, *imagediff.Diff) {
		e.Status, e.Err = StatusError, err
		return e, nil
	}

	d, err := r.Compare(ctx, f)
	if err != nil {
		return fail(err)
	}
	e.PixelCount, e.SizeOld, e.SizeNew, e.Text = d.PixelCount, d.SizeOld, d.SizeNew, d.Text()

	switch {
	case !d.IsDiff():
		e.Status = StatusNoDiff
		return e, d
	case d.SizesDiffer():
		e.Status = StatusSizeChanged
		return e, d
	case !d.PixelsDiffer():
		e.Status = StatusBytesOnly
		return e, d
	case r.MinPixelDiff > 0 && d.PixelCount < r.MinPixelDiff:
		e.Status = StatusBelowThreshold
		return e, d
	}

	img, err := d.Image(r.Mode, r.Radius)
	if err != nil {
		return fail(err)
	}
	png, err := imagediff.EncodePNG(img)
	if err != nil {
		return fail(err)
	}
	save := r.Save
	if save == nil {
		save = DirSaver("")
	}
	e.Artifact, err = save(f, f.DiffFileNameForMode(r.Mode.FileTag(), d.PixelCount), png)
	if err != nil {
		return fail(err)
	}
	e.Status = StatusDiff
	return e, d
}

// ProcessDiff is Process that also hands back the comparison, nil when
// the comparison itself failed.
func (r *Runner) ProcessDiff(ctx context.Context, f shotfile.File) (Entry, *imagediff.Diff) {
	return r.process(ctx, f)
}

// Run diffs every screenshot the request selects on a bounded pool of
// workers. Each file is independent: a failure is recorded on its entry
// and the others continue. Once ctx is done no new file is started; the
// entries that never ran are marked cancelled and ctx's error returned.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	files := req.Files
	if files == nil {
		l, err := List(ctx, r.Source, r.Locator, req.Dir)
		if err != nil {
			return nil, err
		}
		files = l.Files()
	}

	workers := r.Workers
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	log := r.logger()
	log.Info("report: run started", "dir", req.Dir, "files", len(files), "mode", r.Mode, "workers", workers)

	entries := make([]Entry, len(files))
	for i, f := range files {
		entries[i] = Entry{File: f, Status: StatusCancelled}
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		done int
	)
	sem := make(chan struct{}, workers)

dispatch:
	for i, f := range files {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			break dispatch
		}
		if ctx.Err() != nil {
			<-sem
			break
		}
		wg.Add(1)
		go func(i int, f shotfile.File) {
			defer wg.Done()
			defer func() { <-sem }()

			e := r.Process(ctx, f)
			if e.Status == StatusError {
				log.Warn("report: diff failed", "path", f.Path, "error", e.Err)
			} else {
				log.Debug("report: diffed", "path", f.Path, "status", e.Status, "pixels", e.PixelCount)
			}

			mu.Lock()
			defer mu.Unlock()
			entries[i] = e
			done++
			if r.OnProgress != nil {
				r.OnProgress(Progress{Done: done, Total: len(files), Entry: e})
			}
		}(i, f)
	}
	wg.Wait()

	res := &Result{Dir: req.Dir, Mode: r.Mode, MinPixelDiff: r.MinPixelDiff, Entries: entries}
	for _, e := range entries {
		switch {
		case e.Status == StatusDiff || e.Status == StatusSizeChanged:
			res.Processed++
		case e.Status.Skipped():
			res.Skipped++
		case e.Status == StatusError:
			res.Errors++
		}
	}
	log.Info("report: run finished", "processed", res.Processed, "skipped", res.Skipped, "errors", res.Errors)
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("report: run interrupted: %w", err)
	}
	return res, nil
}
