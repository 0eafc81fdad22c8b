// Package lifecycle runs process-wide end-of-life handlers once on
// shutdown, collecting all errors. Session-scoped handlers live on
// session.Session itself, which already owns the per-session data map.
package lifecycle

import (
	"errors"
	"fmt"
	"sync"
)

// System runs once-per-process shutdown handlers.
type System struct {
	mu     sync.Mutex
	closed bool
	onExit []func() error
}

// NewSystem returns an empty System lifecycle.
func NewSystem() *System { return &System{} }

// AddHandler registers a system-end handler.
func (s *System) AddHandler(fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExit = append(s.onExit, fn)
}

// Shutdown runs every registered handler exactly once, in LIFO order,
// collecting all errors into one aggregated failure. Calling Shutdown
// again after it has already run is a no-op.
func (s *System) Shutdown() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	handlers := s.onExit
	s.onExit = nil
	s.mu.Unlock()

	var errs []error
	for i := len(handlers) - 1; i >= 0; i-- {
		if err := handlers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("system shutdown: %d handler(s) failed: %w", len(errs), errors.Join(errs...))
}
