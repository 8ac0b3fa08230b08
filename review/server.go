// Package review serves the screenshot review UI backend: diff and sheet
// images, byte dumps, reviewer verdicts, stored runs, and a websocket that
// streams report progress.
//
// Routes:
//
//	GET  /healthz
//	GET  /api/changed?dir=
//	GET  /api/diff?path=&mode=&radius=&color=&alpha=
//	GET  /api/sheet?path=&mode=&radius=
//	GET  /api/bytes?path=
//	GET  /api/locate?path=
//	GET  /api/verdicts?path=
//	POST /api/verdicts
//	GET  /api/runs
//	GET  /api/runs/{id}
//	GET  /api/history?path=
//	GET  /api/live
//	GET  /ws/report?dir=&mode=&min=&radius=
//	GET  /ws/live
package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"image"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"golang.org/x/net/netutil"

	"github.com/hazyhaar/shotdiff/baseline"
	"github.com/hazyhaar/shotdiff/imagediff"
	"github.com/hazyhaar/shotdiff/internal/store"
	"github.com/hazyhaar/shotdiff/kit"
	"github.com/hazyhaar/shotdiff/report"
	"github.com/hazyhaar/shotdiff/shotdiff"
)

const maxJSONBody = 64 << 10

var (
	errBodyTooLarge = errors.New("request body too large")
	errUnauthorized = errors.New("unauthorized")
	errNoStore      = errors.New("persistence is disabled (set db_path)")
	errNoLive       = errors.New("live watch is not running")
)

// Server is the review HTTP server.
type Server struct {
	svc    *shotdiff.Service
	cfg    shotdiff.HTTPConfig
	logger *slog.Logger
	live   *Live
}

// Option customises New.
type Option func(*Server)

// WithLive attaches a live watcher; Serve runs it.
func WithLive(l *Live) Option { return func(s *Server) { s.live = l } }

// New builds a Server over svc.
func New(svc *shotdiff.Service, opts ...Option) *Server {
	s := &Server{
		svc:    svc,
		cfg:    svc.Config().HTTP,
		logger: svc.Logger(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the routed handler with its middleware stack.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID(s.logger))
	r.Use(HeadToGet)
	r.Use(SecurityHeaders(DefaultHeaders()))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		if s.cfg.AuthUser != "" {
			r.Use(BasicAuth(s.cfg.AuthUser, s.cfg.AuthHash))
		}

		r.Route("/api", func(r chi.Router) {
			r.Get("/changed", s.handleChanged)
			r.Get("/diff", s.handleDiff)
			r.Get("/sheet", s.handleSheet)
			r.Get("/bytes", s.handleBytes)
			r.Get("/locate", s.handleLocate)
			r.Get("/verdicts", s.handleListVerdicts)
			r.With(MaxBody(maxJSONBody)).Post("/verdicts", s.handleAddVerdict)
			r.Get("/runs", s.handleListRuns)
			r.Get("/runs/{id}", s.handleGetRun)
			r.Get("/history", s.handleHistory)
			r.Get("/live", s.handleLive)
		})

		r.Get("/ws/report", s.handleReportWS)
		r.Get("/ws/live", s.handleLiveWS)
	})
	return r
}

// Serve serves on ln until ctx is done, then shuts down gracefully. At most
// HTTPConfig.MaxConns connections are accepted at once.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	if s.live != nil {
		go s.live.Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(netutil.LimitListener(ln, s.cfg.MaxConns))
	}()
	s.logger.Info("review: listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("review: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on HTTPConfig.Addr.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("review: listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// --- JSON views ---

type fileView struct {
	Path          string `json:"path"`
	Name          string `json:"name"`
	Locale        string `json:"locale"`
	Label         string `json:"label"`
	URLInTutorial string `json:"url_in_tutorial"`
}

type groupView struct {
	Name  string     `json:"name"`
	Files []fileView `json:"files"`
}

type changedView struct {
	Dir    string      `json:"dir"`
	Total  int         `json:"total"`
	Groups []groupView `json:"groups"`
}

type outcomeView struct {
	Path       string      `json:"path"`
	Label      string      `json:"label"`
	Locale     string      `json:"locale"`
	Status     string      `json:"status"`
	Mode       string      `json:"mode"`
	PixelCount int         `json:"pixel_count"`
	SizeOld    image.Point `json:"size_old"`
	SizeNew    image.Point `json:"size_new"`
	Message    string      `json:"message"`
}

func viewOutcome(o *shotdiff.DiffOutcome) outcomeView {
	return outcomeView{
		Path:       o.File.Path,
		Label:      o.File.Label(),
		Locale:     o.File.Locale,
		Status:     o.Status.String(),
		Mode:       o.Mode.String(),
		PixelCount: o.PixelCount,
		SizeOld:    o.SizeOld,
		SizeNew:    o.SizeNew,
		Message:    o.Message(),
	}
}

// --- handlers ---

func (s *Server) handleChanged(w http.ResponseWriter, r *http.Request) {
	dir := r.URL.Query().Get("dir")
	if dir == "" {
		writeError(w, http.StatusBadRequest, errors.New("dir is required"))
		return
	}
	l, err := s.svc.List(r.Context(), dir)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	v := changedView{Dir: l.Dir, Total: l.Total(), Groups: []groupView{}}
	for _, g := range l.Groups {
		gv := groupView{Name: g.Name}
		for _, f := range g.Files {
			gv.Files = append(gv.Files, fileView{
				Path:          f.Path,
				Name:          f.Name,
				Locale:        f.Locale,
				Label:         f.Label(),
				URLInTutorial: f.URLInTutorial(),
			})
		}
		v.Groups = append(v.Groups, gv)
	}
	writeJSON(w, http.StatusOK, v)
}

// diffRequest reads path, mode, radius, color and alpha from the query.
func diffRequest(r *http.Request) (shotdiff.DiffRequest, error) {
	q := r.URL.Query()
	req := shotdiff.DiffRequest{
		Path:           q.Get("path"),
		Mode:           q.Get("mode"),
		HighlightColor: q.Get("color"),
	}
	if req.Path == "" {
		return req, errors.New("path is required")
	}
	if v := q.Get("radius"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, fmt.Errorf("radius: %w", err)
		}
		req.AmplifyRadius = n
	}
	if v := q.Get("alpha"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, fmt.Errorf("alpha: %w", err)
		}
		req.HighlightAlpha = &n
	}
	return req, nil
}

// handleDiff answers with the diff PNG, or with the JSON outcome when
// there is no image to show (unchanged, resized, bytes only).
func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	req, err := diffRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	png, out, err := s.svc.DiffPNG(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if png == nil {
		writeJSON(w, http.StatusOK, viewOutcome(out))
		return
	}
	writePNG(w, png, out)
}

func (s *Server) handleSheet(w http.ResponseWriter, r *http.Request) {
	req, err := diffRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	png, out, err := s.svc.SheetPNG(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writePNG(w, png, out)
}

func writePNG(w http.ResponseWriter, png []byte, out *shotdiff.DiffOutcome) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Diff-Status", out.Status.String())
	w.Header().Set("X-Diff-Pixels", strconv.Itoa(out.PixelCount))
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

const bytesPage = `<!doctype html>
<html><head><meta charset="utf-8"><title>Byte diff: %s</title>
<style>body{font-family:sans-serif}.bytediff{font-family:monospace}</style>
</head><body><h1>%s</h1>
%s
</body></html>
`

func (s *Server) handleBytes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, errors.New("path is required"))
		return
	}
	body, err := s.svc.BinaryDiff(r.Context(), path, "html")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if body == "" {
		body = "<p>No byte differences detected.</p>"
	}
	title := html.EscapeString(path)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, bytesPage, title, title, body)
}

func (s *Server) handleLocate(w http.ResponseWriter, r *http.Request) {
	loc, err := s.svc.Locate(r.URL.Query().Get("path"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

type verdictRequest struct {
	Path     string `json:"path"`
	Decision string `json:"decision"`
	// Note is HTML; it is sanitised before storage.
	Note string `json:"note"`
}

func (s *Server) handleAddVerdict(w http.ResponseWriter, r *http.Request) {
	st := s.svc.Store()
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, errNoStore)
		return
	}
	var req verdictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, errBodyTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, errors.New("path is required"))
		return
	}
	v := &store.Verdict{
		Path:     shotdiff.NormalizePath(req.Path),
		Decision: req.Decision,
		NoteHTML: req.Note,
		Reviewer: kit.GetUser(r.Context()),
	}
	if err := st.AddVerdict(r.Context(), v); err != nil {
		s.fail(w, r, err)
		return
	}
	Logger(r.Context()).Info("review: verdict", "path", v.Path, "decision", v.Decision, "reviewer", v.Reviewer)
	writeJSON(w, http.StatusCreated, v)
}

func (s *Server) handleListVerdicts(w http.ResponseWriter, r *http.Request) {
	st := s.svc.Store()
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, errNoStore)
		return
	}
	path := r.URL.Query().Get("path")
	if path != "" {
		path = shotdiff.NormalizePath(path)
	}
	vs, err := st.Verdicts(r.Context(), path)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if vs == nil {
		vs = []*store.Verdict{}
	}
	writeJSON(w, http.StatusOK, vs)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	st := s.svc.Store()
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, errNoStore)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("limit: %w", err))
			return
		}
		limit = n
	}
	runs, err := st.ListRuns(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if runs == nil {
		runs = []*store.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	st := s.svc.Store()
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, errNoStore)
		return
	}
	id := chi.URLParam(r, "id")
	run, err := st.GetRun(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	results, err := st.RunResults(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run, "results": results})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	st := s.svc.Store()
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, errNoStore)
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, errors.New("path is required"))
		return
	}
	results, err := st.History(r.Context(), shotdiff.NormalizePath(path))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if results == nil {
		results = []*store.Result{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if s.live == nil {
		writeError(w, http.StatusNotFound, errNoLive)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"dir":   s.live.Dir(),
		"last":  s.live.Last(),
		"stats": s.live.Stats(),
	})
}

// --- websocket ---

type progressMessage struct {
	Type       string `json:"type"` // "progress"
	Done       int    `json:"done"`
	Total      int    `json:"total"`
	Path       string `json:"path"`
	Label      string `json:"label"`
	Status     string `json:"status"`
	PixelCount int    `json:"pixel_count"`
	Artifact   string `json:"artifact,omitempty"`
	Message    string `json:"message"`
}

type doneMessage struct {
	Type      string `json:"type"` // "done"
	RunID     string `json:"run_id,omitempty"`
	Processed int    `json:"processed"`
	Skipped   int    `json:"skipped"`
	Errors    int    `json:"errors"`
	Markdown  string `json:"markdown"`
}

type errorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

type liveMessage struct {
	Type string `json:"type"` // "update"
	*LiveUpdate
}

// handleReportWS runs a report and streams one progress message per
// screenshot, then a done message. Closing the socket cancels the run.
func (s *Server) handleReportWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := shotdiff.ReportRequest{Dir: q.Get("dir"), Mode: q.Get("mode")}
	if v := q.Get("min"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("min: %w", err))
			return
		}
		req.MinPixelDiff = &n
	}
	if v := q.Get("radius"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("radius: %w", err))
			return
		}
		req.AmplifyRadius = n
	}
	if req.Dir == "" {
		writeError(w, http.StatusBadRequest, errors.New("dir is required"))
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		Logger(r.Context()).Warn("review: websocket accept", "error", err)
		return
	}
	defer conn.CloseNow()
	// Reads are discarded; the context ends when the client goes away.
	ctx := conn.CloseRead(r.Context())

	req.OnProgress = func(p report.Progress) {
		e := p.Entry
		msg := progressMessage{
			Type:       "progress",
			Done:       p.Done,
			Total:      p.Total,
			Path:       e.File.Path,
			Label:      e.File.Label(),
			Status:     e.Status.String(),
			PixelCount: e.PixelCount,
			Artifact:   e.Artifact,
			Message:    e.Message(),
		}
		if err := wsjson.Write(ctx, conn, msg); err != nil {
			Logger(ctx).Debug("review: progress write", "error", err)
		}
	}

	out, err := s.svc.Report(ctx, req)
	if err != nil {
		wsjson.Write(ctx, conn, errorMessage{Type: "error", Message: err.Error()})
		conn.Close(websocket.StatusInternalError, "report failed")
		return
	}
	wsjson.Write(ctx, conn, doneMessage{
		Type:      "done",
		RunID:     out.RunID,
		Processed: out.Processed,
		Skipped:   out.Skipped,
		Errors:    out.Errors,
		Markdown:  out.Markdown(),
	})
	conn.Close(websocket.StatusNormalClosure, "")
}

// handleLiveWS pushes the latest live report, then every new one.
func (s *Server) handleLiveWS(w http.ResponseWriter, r *http.Request) {
	if s.live == nil {
		writeError(w, http.StatusNotFound, errNoLive)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		Logger(r.Context()).Warn("review: websocket accept", "error", err)
		return
	}
	defer conn.CloseNow()
	ctx := conn.CloseRead(r.Context())

	updates, unsubscribe := s.live.Subscribe()
	defer unsubscribe()

	if last := s.live.Last(); last != nil {
		if err := wsjson.Write(ctx, conn, liveMessage{Type: "update", LiveUpdate: last}); err != nil {
			return
		}
	}
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case u := <-updates:
			if err := wsjson.Write(ctx, conn, liveMessage{Type: "update", LiveUpdate: u}); err != nil {
				return
			}
		}
	}
}

// --- errors ---

// status maps service errors to HTTP codes.
func status(err error) int {
	switch {
	case errors.Is(err, shotdiff.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shotdiff.ErrNotScreenshot),
		errors.Is(err, shotdiff.ErrInvalidColorSpec),
		errors.Is(err, shotdiff.ErrInvalidRadius),
		errors.Is(err, imagediff.ErrUnsupportedMode),
		errors.Is(err, store.ErrInvalidDecision):
		return http.StatusBadRequest
	case errors.Is(err, imagediff.ErrNotDecodable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, baseline.ErrBaselineUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, baseline.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := status(err)
	if code >= 500 {
		Logger(r.Context()).Error("review: request failed", "error", err)
	}
	writeError(w, code, err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
