package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/oklog/ulid/v2"
)

// Scope owns everything a single run creates: a scratch directory, the
// artifacts written into or outside it, and teardown hooks. Close releases
// all of it exactly once.
type Scope struct {
	ID  string
	Dir string

	mu     sync.Mutex
	paths  []string
	hooks  []func() error
	closed bool
}

// NewScope creates a run scope with a fresh ULID-named directory under
// workDir/runs.
func NewScope(workDir string) (*Scope, error) {
	id := ulid.Make().String()
	dir := filepath.Join(workDir, "runs", id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	return &Scope{ID: id, Dir: dir}, nil
}

// Track registers an artifact for removal on Close.
func (s *Scope) Track(path string) {
	if path == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		os.Remove(path)
		return
	}
	s.paths = append(s.paths, path)
}

// OnClose registers fn to run on Close, in reverse registration order.
func (s *Scope) OnClose(fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// Close runs the hooks and removes every tracked artifact and the scratch
// directory. Only the first call does anything.
func (s *Scope) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	paths, hooks := s.paths, s.hooks
	s.paths, s.hooks = nil, nil
	s.mu.Unlock()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		if err := hooks[i](); err != nil {
			errs = append(errs, err)
		}
	}
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := os.RemoveAll(s.Dir); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Closed reports whether Close has run.
func (s *Scope) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
