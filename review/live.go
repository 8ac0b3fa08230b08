package review

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/shotdiff/shotdiff"
	"github.com/hazyhaar/shotdiff/watch"
)

// LiveUpdate is one finished report of the watched directory.
type LiveUpdate struct {
	Dir         string    `json:"dir"`
	RunID       string    `json:"run_id,omitempty"`
	Processed   int       `json:"processed"`
	Skipped     int       `json:"skipped"`
	Errors      int       `json:"errors"`
	Artifacts   []string  `json:"artifacts,omitempty"`
	Markdown    string    `json:"markdown,omitempty"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// Live re-runs the report for a directory whenever one of its changed
// screenshots is written, and fans the result out to subscribers.
type Live struct {
	svc    *shotdiff.Service
	dir    string
	w      *watch.Watcher
	logger *slog.Logger

	mu   sync.Mutex
	last *LiveUpdate
	subs map[chan *LiveUpdate]struct{}
}

// NewLive watches dir with the service's watch settings.
func NewLive(svc *shotdiff.Service, dir string) *Live {
	cfg := svc.Config().Watch
	l := &Live{
		svc:    svc,
		dir:    shotdiff.NormalizePath(dir),
		logger: svc.Logger().With("component", "live", "dir", dir),
		subs:   make(map[chan *LiveUpdate]struct{}),
	}
	l.w = watch.New(watch.Options{
		Interval: cfg.Interval,
		Debounce: cfg.Debounce,
		Detector: l.fingerprint,
		Logger:   l.logger,
	})
	return l
}

// Dir returns the watched directory.
func (l *Live) Dir() string { return l.dir }

// fingerprint covers the set of changed screenshots and their mtimes, so
// both a newly changed file and a rewrite of an already changed one fire.
func (l *Live) fingerprint(ctx context.Context) (string, error) {
	lst, err := l.svc.List(ctx, l.dir)
	if err != nil {
		return "", err
	}
	files := lst.Files()
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	return watch.FingerprintFiles(paths), nil
}

// Run reports once, then again after every change, until ctx is done.
func (l *Live) Run(ctx context.Context) {
	if err := l.Refresh(ctx); err != nil && ctx.Err() == nil {
		l.logger.Warn("live: initial report failed", "error", err)
	}
	l.w.OnChange(ctx, l.Refresh)
}

// Refresh runs the report now and publishes the result. A cancelled run
// publishes nothing; the run that replaced it will.
func (l *Live) Refresh(ctx context.Context) error {
	out, err := l.svc.Report(ctx, shotdiff.ReportRequest{Dir: l.dir})
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return err
	}
	u := &LiveUpdate{Dir: l.dir, CompletedAt: time.Now()}
	if err != nil {
		u.Error = err.Error()
		l.publish(u)
		return err
	}
	u.RunID = out.RunID
	u.Processed, u.Skipped, u.Errors = out.Processed, out.Skipped, out.Errors
	u.Artifacts = out.Artifacts()
	u.Markdown = out.Markdown()
	l.publish(u)
	return nil
}

func (l *Live) publish(u *LiveUpdate) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.last = u
	for ch := range l.subs {
		// Subscribers only care about the newest report.
		select {
		case <-ch:
		default:
		}
		ch <- u
	}
}

// Subscribe returns a channel receiving each new update and a function
// that unsubscribes. A slow reader misses intermediate updates.
func (l *Live) Subscribe() (<-chan *LiveUpdate, func()) {
	ch := make(chan *LiveUpdate, 1)
	l.mu.Lock()
	l.subs[ch] = struct{}{}
	l.mu.Unlock()
	return ch, func() {
		l.mu.Lock()
		delete(l.subs, ch)
		l.mu.Unlock()
	}
}

// Last returns the most recent update, nil before the first report.
func (l *Live) Last() *LiveUpdate {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

// Stats returns the watcher counters.
func (l *Live) Stats() watch.Stats { return l.w.Stats() }
