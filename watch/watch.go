// Package watch runs an action whenever a polled fingerprint changes:
// poll, detect, debounce, then run. A run still in flight when a newer
// change fires is cancelled, so a stale report never overwrites a newer one.
//
// Typical usage:
//
//	w := watch.New(watch.Options{Interval: time.Second, Debounce: 500 * time.Millisecond, Detector: det})
//	go w.OnChange(ctx, func(ctx context.Context) error { return runReport(ctx) })
package watch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Detector returns a fingerprint of the watched state. Two calls returning
// different strings mean something changed.
type Detector func(ctx context.Context) (string, error)

// Options tunes the watcher.
type Options struct {
	// Interval is the polling frequency. Default: 1s.
	Interval time.Duration
	// Debounce is the quiet period after a change before the action
	// fires; further changes restart it. 0 fires immediately.
	Debounce time.Duration
	// Detector is required.
	Detector Detector
	Logger   *slog.Logger
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher polls a Detector and runs an action on change.
type Watcher struct {
	opts Options
	sup  Supersede

	mu    sync.Mutex
	token string

	checks     atomic.Int64
	changes    atomic.Int64
	errors     atomic.Int64
	runs       atomic.Int64
	superseded atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Checks          int64 `json:"checks"`
	ChangesDetected int64 `json:"changes_detected"`
	Errors          int64 `json:"errors"`
	Runs            int64 `json:"runs"`
	Superseded      int64 `json:"superseded"`
}

// New creates a Watcher. Call OnChange to start the loop.
func New(opts Options) *Watcher {
	opts.defaults()
	return &Watcher{opts: opts}
}

// Stats returns the current counters.
func (w *Watcher) Stats() Stats {
	return Stats{
		Checks:          w.checks.Load(),
		ChangesDetected: w.changes.Load(),
		Errors:          w.errors.Load(),
		Runs:            w.runs.Load(),
		Superseded:      w.superseded.Load(),
	}
}

// Token returns the fingerprint of the last run that completed.
func (w *Watcher) Token() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.token
}

// OnChange blocks until ctx is cancelled. The first fingerprint seeds the
// watcher without running the action. A failed run leaves the token
// unchanged so the next poll fires again.
func (w *Watcher) OnChange(ctx context.Context, action func(context.Context) error) {
	log := w.opts.Logger
	if w.opts.Detector == nil {
		log.Error("watch: no detector configured")
		return
	}

	if tok, err := w.opts.Detector(ctx); err != nil {
		log.Warn("watch: initial check failed", "error", err)
	} else {
		w.setToken(tok)
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time
	pending, hasPending := "", false

	log.Info("watch: started", "interval", w.opts.Interval, "debounce", w.opts.Debounce)

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			w.sup.Cancel()
			w.sup.Wait()
			log.Info("watch: stopped")
			return

		case <-ticker.C:
			w.checks.Add(1)
			cur, err := w.opts.Detector(ctx)
			if err != nil {
				w.errors.Add(1)
				log.Warn("watch: check failed", "error", err)
				continue
			}
			if cur == w.Token() || (hasPending && cur == pending) {
				continue
			}
			w.changes.Add(1)
			pending, hasPending = cur, true
			if w.opts.Debounce <= 0 {
				w.fire(ctx, action, pending)
				hasPending = false
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(w.opts.Debounce)
			debounceCh = debounceTimer.C
			log.Debug("watch: change detected, debouncing")

		case <-debounceCh:
			debounceCh = nil
			if hasPending {
				w.fire(ctx, action, pending)
				hasPending = false
			}
		}
	}
}

func (w *Watcher) fire(ctx context.Context, action func(context.Context) error, tok string) {
	log := w.opts.Logger
	prev := w.Token()
	// Record the token up front so the same state is not fired twice
	// while the run is still going.
	w.setToken(tok)
	if w.sup.Running() {
		w.superseded.Add(1)
		log.Info("watch: superseding in-flight run")
	}
	w.sup.Go(ctx, func(runCtx context.Context) error {
		start := time.Now()
		err := action(runCtx)
		switch {
		case err == nil:
			w.runs.Add(1)
			log.Info("watch: run complete", "duration", time.Since(start))
		case errors.Is(err, context.Canceled):
			log.Debug("watch: run cancelled")
		default:
			w.errors.Add(1)
			log.Error("watch: run failed", "error", err)
			w.mu.Lock()
			if w.token == tok {
				w.token = prev
			}
			w.mu.Unlock()
		}
		return err
	})
}

func (w *Watcher) setToken(tok string) {
	w.mu.Lock()
	w.token = tok
	w.mu.Unlock()
}

// Supersede runs at most one action at a time: starting a new one cancels
// the context of the one before it. The zero value is ready to use.
type Supersede struct {
	mu      sync.Mutex
	cancel  context.CancelFunc
	gen     uint64
	running atomic.Int32
	wg      sync.WaitGroup
}

// Go cancels the in-flight action, if any, and starts fn in a new goroutine.
// The returned channel yields fn's error once.
func (s *Supersede) Go(parent context.Context, fn func(context.Context) error) <-chan error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	done := make(chan error, 1)
	s.running.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Add(-1)
		err := fn(ctx)
		s.mu.Lock()
		if s.gen == gen {
			s.cancel = nil
		}
		s.mu.Unlock()
		cancel()
		done <- err
	}()
	return done
}

// Running reports whether an action is in flight.
func (s *Supersede) Running() bool { return s.running.Load() > 0 }

// Cancel cancels the in-flight action without starting another.
func (s *Supersede) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Wait blocks until every started action has returned.
func (s *Supersede) Wait() { s.wg.Wait() }

// FingerprintFiles hashes the sorted paths with their size and
// modification time. Missing files hash as deleted.
func FingerprintFiles(paths []string) string {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)
	h := sha256.New()
	for _, p := range sorted {
		fi, err := os.Stat(p)
		if err != nil {
			fmt.Fprintf(h, "%s\x00deleted\n", p)
			continue
		}
		fmt.Fprintf(h, "%s\x00%d\x00%d\n", p, fi.Size(), fi.ModTime().UnixNano())
	}
	return hex.EncodeToString(h.Sum(nil))
}
