// Package shotdiff compares tutorial screenshots with their baselines and
// saves reviewable diff artifacts. It wires the diff engines to a baseline
// source, the artifact directory and the run store, and exposes the result
// as MCP tools.
//
// Usage:
//
//	svc, err := shotdiff.New(cfg)
//	defer svc.Close()
//	out, err := svc.DiffImage(ctx, shotdiff.DiffRequest{Path: p, Mode: "amplified"})
//	svc.RegisterMCP(mcpServer)
package shotdiff

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hazyhaar/shotdiff/baseline"
	"github.com/hazyhaar/shotdiff/bytediff"
	"github.com/hazyhaar/shotdiff/imagediff"
	"github.com/hazyhaar/shotdiff/internal/store"
	"github.com/hazyhaar/shotdiff/report"
	"github.com/hazyhaar/shotdiff/reviewsheet"
	"github.com/hazyhaar/shotdiff/shotfile"
)

// Service is the shotdiff entry point shared by the MCP tools, the review
// server and the CLI.
type Service struct {
	cfg    *Config
	src    baseline.Source
	loc    shotfile.Locator
	store  *store.Store
	logger *slog.Logger
	// ownStore is set when New opened the store and Close must close it.
	ownStore bool
}

// Option customises New.
type Option func(*Service)

// WithSource replaces the baseline source chosen by Config.Baseline.
func WithSource(src baseline.Source) Option { return func(s *Service) { s.src = src } }

// WithStore uses st instead of opening Config.DBPath.
func WithStore(st *store.Store) Option { return func(s *Service) { s.store = st } }

// New validates cfg and builds a Service.
func New(cfg *Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Service{
		cfg:    cfg,
		loc:    shotfile.Locator{BaseURL: cfg.BaseURL},
		logger: cfg.Logger,
	}
	for _, o := range opts {
		o(s)
	}
	if s.src == nil {
		switch cfg.Baseline {
		case "web":
			s.src = baseline.NewWeb(cfg.BaseURL)
		default:
			s.src = baseline.NewGit(s.logger)
		}
	}
	if s.store == nil && cfg.DBPath != "" {
		st, err := store.Open(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("shotdiff: open store: %w", err)
		}
		s.store, s.ownStore = st, true
	}
	return s, nil
}

// Close releases the store when New opened it.
func (s *Service) Close() error {
	if s.ownStore {
		return s.store.Close()
	}
	return nil
}

// Config returns the effective configuration.
func (s *Service) Config() *Config { return s.cfg }

// Store returns the run store, nil when persistence is off.
func (s *Service) Store() *store.Store { return s.store }

// Logger returns the service logger.
func (s *Service) Logger() *slog.Logger { return s.logger }

// Source returns the baseline source.
func (s *Service) Source() baseline.Source { return s.src }

// DiffRequest asks for one screenshot diff. Zero fields take the
// configured defaults.
type DiffRequest struct {
	Path           string `json:"path"`
	Mode           string `json:"mode,omitempty"`
	AmplifyRadius  int    `json:"amplify_radius,omitempty"`
	HighlightColor string `json:"highlight_color,omitempty"`
	HighlightAlpha *int   `json:"highlight_alpha,omitempty"`
	// Sheet also saves a side-by-side review sheet.
	Sheet bool `json:"sheet,omitempty"`
}

// DiffOutcome is the result of DiffImage.
type DiffOutcome struct {
	File       shotfile.File  `json:"file"`
	Status     report.Status  `json:"status"`
	Mode       imagediff.Mode `json:"mode"`
	PixelCount int            `json:"pixel_count"`
	SizeOld    image.Point    `json:"size_old"`
	SizeNew    image.Point    `json:"size_new"`
	Text       string         `json:"text,omitempty"`
	Artifact   string         `json:"artifact,omitempty"`
	Sheet      string         `json:"sheet,omitempty"`

	against string
}

// SizeChanged reports a dimension mismatch; no image is produced.
func (o *DiffOutcome) SizeChanged() bool { return o.Status == report.StatusSizeChanged }

// NoDiff reports that the screenshot matches its baseline.
func (o *DiffOutcome) NoDiff() bool { return o.Status == report.StatusNoDiff }

// Message is the human readable result used by the MCP tool.
func (o *DiffOutcome) Message() string {
	switch o.Status {
	case report.StatusNoDiff:
		return "No differences detected between current file and " + o.against + "."
	case report.StatusBytesOnly:
		return "No pixel differences detected; file bytes differ" + o.Text + "."
	case report.StatusSizeChanged:
		return fmt.Sprintf("Size changed: %dx%d -> %dx%d. Cannot generate pixel diff for different-sized images.",
			o.SizeOld.X, o.SizeOld.Y, o.SizeNew.X, o.SizeNew.Y)
	}
	msg := fmt.Sprintf("Diff image saved: %s\nPixels changed: %d\nMode: %s", o.Artifact, o.PixelCount, o.Mode)
	if o.Sheet != "" {
		msg += "\nReview sheet saved: " + o.Sheet
	}
	return msg
}

func (s *Service) against() string {
	switch baseline.Origin(s.src) {
	case shotfile.OriginGit:
		return "git HEAD"
	case shotfile.OriginWeb:
		return "the published copy"
	default:
		return "the baseline"
	}
}

type prepared struct {
	file   shotfile.File
	runner *report.Runner
}

// prepare validates a request before any file is read.
func (s *Service) prepare(req DiffRequest) (*prepared, error) {
	mode, err := imagediff.ParseMode(firstNonEmpty(req.Mode, s.cfg.Mode))
	if err != nil {
		return nil, err
	}
	radius := req.AmplifyRadius
	if radius == 0 {
		radius = s.cfg.AmplifyRadius
	}
	if mode.Amplifies() {
		if err := checkRadius(radius); err != nil {
			return nil, err
		}
	}
	alpha := s.cfg.HighlightAlpha
	if req.HighlightAlpha != nil {
		alpha = *req.HighlightAlpha
	}
	hl, err := ParseHighlight(firstNonEmpty(req.HighlightColor, s.cfg.HighlightColor), alpha)
	if err != nil {
		return nil, err
	}

	path := NormalizePath(req.Path)
	if err := fileExists(path); err != nil {
		return nil, err
	}
	f := s.loc.Parse(path)
	if f.IsEmpty() {
		return nil, fmt.Errorf("%w: %s", ErrNotScreenshot, path)
	}
	r := s.runner()
	r.Mode, r.Radius, r.Highlight = mode, radius, hl
	return &prepared{file: f, runner: r}, nil
}

func (s *Service) runner() *report.Runner {
	return &report.Runner{
		Source:       s.src,
		Locator:      s.loc,
		Highlight:    imagediff.DefaultHighlight,
		MinPixelDiff: s.cfg.MinPixelDiff,
		Workers:      s.cfg.Workers,
		Save:         report.DirSaver(s.cfg.ArtifactDir),
		Logger:       s.logger,
	}
}

func fileExists(path string) error {
	fi, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && fi.IsDir()) {
		return fmt.Errorf("%w: file %s", ErrNotFound, path)
	}
	if err != nil {
		return fmt.Errorf("shotdiff: stat %s: %w", path, err)
	}
	return nil
}

func dirExists(path string) error {
	fi, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && !fi.IsDir()) {
		return fmt.Errorf("%w: directory %s", ErrNotFound, path)
	}
	if err != nil {
		return fmt.Errorf("shotdiff: stat %s: %w", path, err)
	}
	return nil
}

// DiffImage compares one screenshot with its baseline and saves the diff
// image for the requested mode. A size change or an unchanged file is an
// outcome, not an error.
func (s *Service) DiffImage(ctx context.Context, req DiffRequest) (*DiffOutcome, error) {
	p, err := s.prepare(req)
	if err != nil {
		return nil, err
	}
	// A single request always reports its diff, whatever the bulk threshold.
	p.runner.MinPixelDiff = 0
	entry, d := p.runner.ProcessDiff(ctx, p.file)
	if entry.Status == report.StatusError {
		return nil, entry.Err
	}
	out := s.outcome(entry, p.runner.Mode)

	if req.Sheet && d != nil && entry.Status == report.StatusDiff {
		png, err := s.renderSheet(d, p.runner)
		if err != nil {
			return nil, err
		}
		out.Sheet, err = p.runner.Save(p.file, p.file.SheetFileName(d.PixelCount), png)
		if err != nil {
			return nil, err
		}
	}
	s.record(ctx, entry)
	return out, nil
}

// DiffPNG renders the diff image for req without saving it. The bytes are
// nil unless the outcome status is report.StatusDiff.
func (s *Service) DiffPNG(ctx context.Context, req DiffRequest) ([]byte, *DiffOutcome, error) {
	p, err := s.prepare(req)
	if err != nil {
		return nil, nil, err
	}
	p.runner.MinPixelDiff = 0
	var png []byte
	p.runner.Save = func(_ shotfile.File, _ string, data []byte) (string, error) {
		png = data
		return "", nil
	}
	entry, _ := p.runner.ProcessDiff(ctx, p.file)
	if entry.Status == report.StatusError {
		return nil, nil, entry.Err
	}
	return png, s.outcome(entry, p.runner.Mode), nil
}

// SheetPNG renders the baseline, the current screenshot and the diff side
// by side without saving. Unchanged and resized screenshots still get a
// sheet; their diff panel is a placeholder.
func (s *Service) SheetPNG(ctx context.Context, req DiffRequest) ([]byte, *DiffOutcome, error) {
	p, err := s.prepare(req)
	if err != nil {
		return nil, nil, err
	}
	d, err := p.runner.Compare(ctx, p.file)
	if err != nil {
		return nil, nil, err
	}
	png, err := s.renderSheet(d, p.runner)
	if err != nil {
		return nil, nil, err
	}
	entry := report.Entry{File: p.file, PixelCount: d.PixelCount, SizeOld: d.SizeOld, SizeNew: d.SizeNew, Text: d.Text()}
	switch {
	case !d.IsDiff():
		entry.Status = report.StatusNoDiff
	case d.SizesDiffer():
		entry.Status = report.StatusSizeChanged
	case !d.PixelsDiffer():
		entry.Status = report.StatusBytesOnly
	}
	return png, s.outcome(entry, p.runner.Mode), nil
}

func (s *Service) renderSheet(d *imagediff.Diff, r *report.Runner) ([]byte, error) {
	old, err := imagediff.Decode(d.MemoryOld)
	if err != nil {
		return nil, err
	}
	cur, err := imagediff.Decode(d.MemoryNew)
	if err != nil {
		return nil, err
	}
	diffPanel := reviewsheet.Panel{Title: "Diff (" + r.Mode.String() + ")"}
	switch {
	case d.SizesDiffer():
		diffPanel.Placeholder = "size changed" + d.Text()
	case !d.PixelsDiffer():
		diffPanel.Placeholder = "no pixel differences"
	default:
		diffPanel.Image, err = d.Image(r.Mode, r.Radius)
		if err != nil {
			return nil, err
		}
	}
	sheet := reviewsheet.Sheet{
		Panels: []reviewsheet.Panel{
			{Title: "Baseline (" + s.against() + ")", Image: old.Image},
			{Title: "Current", Image: cur.Image},
			diffPanel,
		},
		Caption: d.Text(),
	}
	return reviewsheet.RenderPNG(sheet)
}

func (s *Service) outcome(e report.Entry, mode imagediff.Mode) *DiffOutcome {
	return &DiffOutcome{
		File:       e.File,
		Status:     e.Status,
		Mode:       mode,
		PixelCount: e.PixelCount,
		SizeOld:    e.SizeOld,
		SizeNew:    e.SizeNew,
		Text:       e.Text,
		Artifact:   e.Artifact,
		against:    s.against(),
	}
}

func (s *Service) record(ctx context.Context, e report.Entry) {
	if s.store == nil {
		return
	}
	if err := s.store.RecordEntry(ctx, e); err != nil {
		s.logger.Warn("shotdiff: record diff", "path", e.File.Path, "error", err)
	}
}

// BinaryDiff renders the first differing 16-byte lines of the screenshot
// and its baseline. format is text, ansi, html or markdown (default).
func (s *Service) BinaryDiff(ctx context.Context, path, format string) (string, error) {
	path = NormalizePath(path)
	if err := fileExists(path); err != nil {
		return "", err
	}
	cur, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("shotdiff: read %s: %w", path, err)
	}
	old, err := s.src.Baseline(ctx, path)
	if err != nil {
		return "", err
	}
	rep := bytediff.Compare(old, cur)
	if rep.Empty() {
		return "", nil
	}
	switch format {
	case "text":
		return rep.Text(), nil
	case "ansi":
		return rep.ANSI(), nil
	case "html":
		return rep.HTML(), nil
	case "", "markdown":
		return rep.Markdown(), nil
	}
	return "", fmt.Errorf("shotdiff: unknown byte diff format %q", format)
}

// List returns the changed screenshots under dir.
func (s *Service) List(ctx context.Context, dir string) (*report.Listing, error) {
	dir = NormalizePath(dir)
	if err := dirExists(dir); err != nil {
		return nil, err
	}
	return report.List(ctx, s.src, s.loc, dir)
}

// ReportRequest asks for a bulk report. Zero fields take the configured
// defaults.
type ReportRequest struct {
	Dir           string `json:"dir"`
	Mode          string `json:"mode,omitempty"`
	MinPixelDiff  *int   `json:"min_pixel_diff,omitempty"`
	AmplifyRadius int    `json:"amplify_radius,omitempty"`
	// PDFPath, when set, receives a PDF packet of the saved diff images.
	PDFPath    string                 `json:"pdf_path,omitempty"`
	OnProgress func(report.Progress) `json:"-"`
}

// ReportOutcome is a finished bulk report.
type ReportOutcome struct {
	*report.Result
	RunID string `json:"run_id,omitempty"`
	PDF   string `json:"pdf,omitempty"`
}

// Markdown renders the report, noting the PDF packet when one was written.
func (o *ReportOutcome) Markdown() string {
	md := o.Result.Markdown()
	if o.PDF != "" {
		md += "PDF packet saved: " + o.PDF + "\n"
	}
	return md
}

// Report diffs every changed screenshot under req.Dir. An interrupted run
// returns the partial outcome along with ctx's error.
func (s *Service) Report(ctx context.Context, req ReportRequest) (*ReportOutcome, error) {
	mode, err := imagediff.ParseMode(firstNonEmpty(req.Mode, s.cfg.Mode))
	if err != nil {
		return nil, err
	}
	radius := req.AmplifyRadius
	if radius == 0 {
		radius = s.cfg.AmplifyRadius
	}
	if mode.Amplifies() {
		if err := checkRadius(radius); err != nil {
			return nil, err
		}
	}
	hl, err := ParseHighlight(s.cfg.HighlightColor, s.cfg.HighlightAlpha)
	if err != nil {
		return nil, err
	}
	dir := NormalizePath(req.Dir)
	if err := dirExists(dir); err != nil {
		return nil, err
	}

	r := s.runner()
	r.Mode, r.Radius, r.Highlight = mode, radius, hl
	if req.MinPixelDiff != nil {
		r.MinPixelDiff = max(0, *req.MinPixelDiff)
	}
	r.OnProgress = req.OnProgress

	started := time.Now()
	res, runErr := r.Run(ctx, report.Request{Dir: dir})
	if res == nil {
		return nil, runErr
	}
	out := &ReportOutcome{Result: res}

	if s.store != nil {
		// The run is stored even when interrupted; use a context that
		// outlives the cancelled one.
		run, err := s.store.SaveRun(context.WithoutCancel(ctx), res, started, runErr != nil)
		if err != nil {
			s.logger.Warn("shotdiff: save run", "dir", dir, "error", err)
		} else {
			out.RunID = run.ID
		}
	}

	if req.PDFPath != "" && runErr == nil && len(res.Artifacts()) > 0 {
		pdfPath := NormalizePath(req.PDFPath)
		if err := writePDF(pdfPath, res.Entries); err != nil {
			return out, err
		}
		out.PDF = pdfPath
	}
	return out, runErr
}

func writePDF(path string, entries []report.Entry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("shotdiff: pdf: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("shotdiff: pdf: %w", err)
	}
	if err := report.WritePDF(f, entries); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

// Revert restores the screenshot to its baseline content. Only sources
// that can write back (git) support it.
func (s *Service) Revert(ctx context.Context, path string) (string, error) {
	path = NormalizePath(path)
	if err := fileExists(path); err != nil {
		return "", err
	}
	rv, ok := s.src.(baseline.Reverter)
	if !ok {
		return "", fmt.Errorf("shotdiff: revert: %w", baseline.ErrUnsupported)
	}
	if err := rv.Revert(ctx, path); err != nil {
		return "", err
	}
	s.logger.Info("shotdiff: reverted", "path", path)
	return "Reverted to " + s.against() + ": " + path, nil
}

// Location describes how a path locates as a screenshot.
type Location struct {
	Path          string `json:"path"`
	Name          string `json:"name"`
	Locale        string `json:"locale"`
	Number        int    `json:"number"`
	IsCover       bool   `json:"is_cover"`
	Label         string `json:"label"`
	RelativePath  string `json:"relative_path"`
	URLInTutorial string `json:"url_in_tutorial"`
	URLToDownload string `json:"url_to_download"`
	Baseline      string `json:"baseline"`
	ArtifactDir   string `json:"artifact_dir,omitempty"`
}

// Locate parses path without touching the file system.
func (s *Service) Locate(path string) (*Location, error) {
	path = NormalizePath(path)
	f := s.loc.Parse(path)
	if f.IsEmpty() {
		return nil, fmt.Errorf("%w: %s", ErrNotScreenshot, path)
	}
	dir := s.cfg.ArtifactDir
	if dir == "" {
		dir = f.ArtifactDir()
	}
	return &Location{
		Path:          f.Path,
		Name:          f.Name,
		Locale:        f.Locale,
		Number:        f.Number,
		IsCover:       f.IsCover,
		Label:         f.Label(),
		RelativePath:  f.RelativePath(),
		URLInTutorial: f.URLInTutorial(),
		URLToDownload: f.URLToDownload(),
		Baseline:      f.Description(baseline.Origin(s.src)),
		ArtifactDir:   dir,
	}, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
