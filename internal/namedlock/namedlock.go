// Package namedlock provides locks identified by name, with several
// interchangeable backends: an in-process read/write lock, an in-process
// counting semaphore, an OS advisory file lock shared across processes, and
// a no-op variant for single-threaded use. The in-process backends are not
// reentrant: acquiring a name again while it is held exclusively blocks,
// even from the same caller.
package namedlock

import (
	"context"
	"crypto/sha1" //nolint:gosec // content-addressing lock names, not a security boundary
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// NamedLock is a lock identified by a name, acquired shared or exclusive.
// Each handle tracks its own acquisitions; Unlock releases the most recent
// one.
type NamedLock interface {
	Name() string
	LockShared(ctx context.Context) error
	LockExclusive(ctx context.Context) error
	Unlock() error
}

// Factory produces NamedLock handles and tracks per-name reference counts
// so backends can free state once nobody references a name.
type Factory interface {
	// Lock returns a handle for name, creating backing state on first use.
	// Callers must call Release exactly once per handle when done with it,
	// independent of how many lock/unlock calls they made through it.
	Lock(name string) NamedLock
	Release(lock NamedLock)
}

// ---- rwlock-local ----

// rwState is the shared per-name state behind the "rwlock-local" backend.
// A holder of the shared side must release before acquiring exclusive;
// in-place upgrade is not supported.
type rwState struct {
	mu   sync.RWMutex
	refs int
}

type rwLockFactory struct {
	mu    sync.Mutex
	locks map[string]*rwState
}

// rwHandle is one caller's view of a named read/write lock. It records
// which mode each acquisition used so Unlock releases the matching side.
type rwHandle struct {
	name    string
	state   *rwState
	history []bool // true = exclusive, in acquisition order
}

// NewLocalRWFactory returns the "rwlock-local" backend.
func NewLocalRWFactory() Factory {
	return &rwLockFactory{locks: make(map[string]*rwState)}
}

func (f *rwLockFactory) Lock(name string) NamedLock {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.locks[name]
	if !ok {
		s = &rwState{}
		f.locks[name] = s
	}
	s.refs++
	return &rwHandle{name: name, state: s}
}

func (f *rwLockFactory) Release(l NamedLock) {
	h, ok := l.(*rwHandle)
	if !ok {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.locks[h.name]
	if !ok || s != h.state {
		return
	}
	s.refs--
	if s.refs <= 0 {
		delete(f.locks, h.name)
	}
}

func (h *rwHandle) Name() string { return h.name }

func (h *rwHandle) LockShared(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.state.mu.RLock()
	h.history = append(h.history, false)
	return nil
}

func (h *rwHandle) LockExclusive(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.state.mu.Lock()
	h.history = append(h.history, true)
	return nil
}

func (h *rwHandle) Unlock() error {
	n := len(h.history)
	if n == 0 {
		return fmt.Errorf("namedlock: unlock of %s without a matching lock", h.name)
	}
	exclusive := h.history[n-1]
	h.history = h.history[:n-1]
	if exclusive {
		h.state.mu.Unlock()
	} else {
		h.state.mu.RUnlock()
	}
	return nil
}

// ---- semaphore-local ----

// semState holds the permit pool for one name: the channel starts full
// with permits tokens, acquiring takes tokens out, releasing puts them
// back.
type semState struct {
	permits int
	tokens  chan struct{}
	refs    int
}

type semaphoreFactory struct {
	mu      sync.Mutex
	locks   map[string]*semState
	permits int
}

type semHandle struct {
	name    string
	state   *semState
	history []int // permits taken per acquisition
}

// NewLocalSemaphoreFactory returns the "semaphore-local" backend: shared
// acquisition consumes one permit, exclusive consumes all of them.
func NewLocalSemaphoreFactory(permits int) Factory {
	if permits <= 0 {
		permits = 1
	}
	return &semaphoreFactory{locks: make(map[string]*semState), permits: permits}
}

func (f *semaphoreFactory) Lock(name string) NamedLock {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.locks[name]
	if !ok {
		s = &semState{permits: f.permits, tokens: make(chan struct{}, f.permits)}
		for i := 0; i < f.permits; i++ {
			s.tokens <- struct{}{}
		}
		f.locks[name] = s
	}
	s.refs++
	return &semHandle{name: name, state: s}
}

func (f *semaphoreFactory) Release(l NamedLock) {
	h, ok := l.(*semHandle)
	if !ok {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.locks[h.name]
	if !ok || s != h.state {
		return
	}
	s.refs--
	if s.refs <= 0 {
		delete(f.locks, h.name)
	}
}

func (h *semHandle) Name() string { return h.name }

func (h *semHandle) acquire(ctx context.Context, n int) error {
	taken := 0
	for taken < n {
		select {
		case <-h.state.tokens:
			taken++
		case <-ctx.Done():
			for ; taken > 0; taken-- {
				h.state.tokens <- struct{}{}
			}
			return ctx.Err()
		}
	}
	h.history = append(h.history, n)
	return nil
}

func (h *semHandle) LockShared(ctx context.Context) error {
	return h.acquire(ctx, 1)
}

func (h *semHandle) LockExclusive(ctx context.Context) error {
	return h.acquire(ctx, h.state.permits)
}

func (h *semHandle) Unlock() error {
	n := len(h.history)
	if n == 0 {
		return fmt.Errorf("namedlock: unlock of %s without a matching lock", h.name)
	}
	taken := h.history[n-1]
	h.history = h.history[:n-1]
	for i := 0; i < taken; i++ {
		h.state.tokens <- struct{}{}
	}
	return nil
}

// ---- file-lock ----

type fileLockHandle struct {
	name string
	fl   *flock.Flock
}

type fileLockFactory struct {
	dir string
}

// NewFileLockFactory returns the "file-lock" backend: an OS advisory lock
// on a file under <local-repo>/.locks/<name>, reused across processes
// sharing the local cache.
func NewFileLockFactory(localRepoBase string) Factory {
	return &fileLockFactory{dir: filepath.Join(localRepoBase, ".locks")}
}

func (f *fileLockFactory) Lock(name string) NamedLock {
	_ = os.MkdirAll(f.dir, 0o755)
	path := filepath.Join(f.dir, sanitizeFilename(name))
	return &fileLockHandle{name: name, fl: flock.New(path)}
}

func (f *fileLockFactory) Release(NamedLock) {}

func (h *fileLockHandle) Name() string { return h.name }

func (h *fileLockHandle) LockShared(ctx context.Context) error {
	locked, err := h.fl.TryRLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("file-lock: acquire shared %s: %w", h.name, err)
	}
	if !locked {
		return fmt.Errorf("file-lock: could not acquire shared lock for %s", h.name)
	}
	return nil
}

func (h *fileLockHandle) LockExclusive(ctx context.Context) error {
	locked, err := h.fl.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("file-lock: acquire exclusive %s: %w", h.name, err)
	}
	if !locked {
		return fmt.Errorf("file-lock: could not acquire exclusive lock for %s", h.name)
	}
	return nil
}

func (h *fileLockHandle) Unlock() error {
	return h.fl.Unlock()
}

func sanitizeFilename(name string) string {
	sum := sha1.Sum([]byte(name)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// ---- noop ----

type noopLock struct{ name string }

type noopFactory struct{}

// NewNoopFactory grants all locks immediately; for tests and
// single-threaded offline use.
func NewNoopFactory() Factory { return &noopFactory{} }

func (noopFactory) Lock(name string) NamedLock { return noopLock{name: name} }
func (noopFactory) Release(NamedLock)          {}

func (l noopLock) Name() string                        { return l.name }
func (l noopLock) LockShared(context.Context) error    { return nil }
func (l noopLock) LockExclusive(context.Context) error { return nil }
func (l noopLock) Unlock() error                       { return nil }
