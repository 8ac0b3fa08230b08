package baseline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

// Memory is an in-memory Source keyed by cleaned path. Every path with a
// baseline or marked changed is reported by ChangedPaths when it lies
// under the requested directory.
type Memory struct {
	mu       sync.Mutex
	files    map[string][]byte
	changed  map[string]bool
	reverted []string
}

// NewMemory returns an empty Memory source.
func NewMemory() *Memory {
	return &Memory{files: make(map[string][]byte), changed: make(map[string]bool)}
}

// Set stores baseline bytes for path and marks it changed.
func (m *Memory) Set(path string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := filepath.Clean(path)
	m.files[p] = data
	m.changed[p] = true
}

// MarkChanged lists path as changed without a baseline (an added file).
func (m *Memory) MarkChanged(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changed[filepath.Clean(path)] = true
}

func (m *Memory) Baseline(_ context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[filepath.Clean(path)]
	if !ok {
		return nil, fmt.Errorf("%w: no baseline for %s", ErrBaselineUnavailable, path)
	}
	return data, nil
}

func (m *Memory) ChangedPaths(_ context.Context, dir string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dir = filepath.Clean(dir)
	var out []string
	for p := range m.changed {
		if p == dir || strings.HasPrefix(p, dir+string(filepath.Separator)) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Revert records the call and clears the changed mark.
func (m *Memory) Revert(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := filepath.Clean(path)
	if !m.changed[p] {
		return fmt.Errorf("%w: %s has no changes", ErrBaselineUnavailable, path)
	}
	delete(m.changed, p)
	m.reverted = append(m.reverted, p)
	return nil
}

// Reverted returns the paths passed to successful Revert calls.
func (m *Memory) Reverted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.reverted...)
}
