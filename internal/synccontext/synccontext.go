// Package synccontext provides a scoped acquisition of named locks
// covering a set of artifacts and metadatas, acquired shared or exclusive
// in canonical (sorted) order and released on close.
package synccontext

import (
	"context"
	"fmt"

	"github.com/forgecore/artresolve/internal/coordinate"
	"github.com/forgecore/artresolve/internal/namedlock"
)

// SyncContext groups a coordinate set into one scoped lock acquisition.
type SyncContext struct {
	factory namedlock.Factory
	mapper  namedlock.NameMapper
	basedir string
	shared  bool

	acquired []namedlock.NamedLock
	seen     map[string]struct{}
}

// New returns a SyncContext that will acquire locks shared or exclusive.
func New(factory namedlock.Factory, mapper namedlock.NameMapper, basedir string, shared bool) *SyncContext {
	return &SyncContext{
		factory: factory,
		mapper:  mapper,
		basedir: basedir,
		shared:  shared,
		seen:    make(map[string]struct{}),
	}
}

// Shared reports whether this context was opened in shared mode.
func (s *SyncContext) Shared() bool { return s.shared }

func artifactCoord(a coordinate.Artifact) namedlock.Coordinate {
	return namedlock.Coordinate{Kind: "artifact", GAV: a.Key()}
}

func metadataCoord(m coordinate.Metadata) namedlock.Coordinate {
	return namedlock.Coordinate{Kind: "metadata", GAV: m.String()}
}

// Acquire maps artifacts+metadatas to their sorted lock names and acquires
// any not already held by this context, in sorted order, to preclude
// deadlock across overlapping contexts. Acquisition is
// idempotent: calling Acquire again with overlapping coordinates only
// acquires the new names.
func (s *SyncContext) Acquire(ctx context.Context, artifacts []coordinate.Artifact, metadatas []coordinate.Metadata) error {
	coords := make([]namedlock.Coordinate, 0, len(artifacts)+len(metadatas))
	for _, a := range artifacts {
		coords = append(coords, artifactCoord(a))
	}
	for _, m := range metadatas {
		coords = append(coords, metadataCoord(m))
	}

	names := s.mapper.Names(s.basedir, coords)

	var acquiredThisCall []namedlock.NamedLock
	for _, name := range names {
		if _, ok := s.seen[name]; ok {
			continue
		}
		lock := s.factory.Lock(name)
		var err error
		if s.shared {
			err = lock.LockShared(ctx)
		} else {
			err = lock.LockExclusive(ctx)
		}
		if err != nil {
			// Roll back everything acquired in this call before failing,
			// upholding I3 ("releases exactly the locks it acquired, on
			// every exit path, even on failure").
			for i := len(acquiredThisCall) - 1; i >= 0; i-- {
				_ = acquiredThisCall[i].Unlock()
				s.factory.Release(acquiredThisCall[i])
			}
			return fmt.Errorf("synccontext: acquire %s: %w", name, err)
		}
		acquiredThisCall = append(acquiredThisCall, lock)
		s.seen[name] = struct{}{}
	}

	s.acquired = append(s.acquired, acquiredThisCall...)
	return nil
}

// Close releases every lock this context acquired, in reverse order, on
// every exit path.
func (s *SyncContext) Close() error {
	var firstErr error
	for i := len(s.acquired) - 1; i >= 0; i-- {
		lock := s.acquired[i]
		if err := lock.Unlock(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.factory.Release(lock)
	}
	s.acquired = nil
	s.seen = make(map[string]struct{})
	return firstErr
}
