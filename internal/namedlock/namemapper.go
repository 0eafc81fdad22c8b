package namedlock

import (
	"crypto/sha1" //nolint:gosec // content-addressing, not a security boundary
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sort"
)

// Coordinate is the minimal shape a NameMapper needs from an artifact or
// metadata coordinate: enough to build a stable lock name without this
// package importing internal/coordinate (it stays a leaf).
type Coordinate struct {
	// Kind is "artifact" or "metadata".
	Kind string
	// GAV is the pre-rendered "gid:aid:ext:cls:ver" (artifact) or
	// "gid:aid:ver:type" (metadata) identity string.
	GAV string
}

// NameMapper turns a set of artifact/metadata coordinates into the sorted
// set of lock names a SyncContext must acquire.
type NameMapper interface {
	Names(basedir string, coords []Coordinate) []string
}

// ---- gav ----

type gavMapper struct{}

// NewGAVMapper returns the "gav" mapper: name = "artifact:gid:aid:ext:cls:ver"
// or "metadata:gid:aid:ver:type".
func NewGAVMapper() NameMapper { return gavMapper{} }

func (gavMapper) Names(_ string, coords []Coordinate) []string {
	names := make([]string, 0, len(coords))
	seen := make(map[string]struct{}, len(coords))
	for _, c := range coords {
		n := c.Kind + ":" + c.GAV
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ---- file-gav ----

type fileGAVMapper struct{}

// NewFileGAVMapper returns the "file-gav" mapper: same identity as "gav" but
// rendered as a filesystem-friendly name, for use only with the file-lock
// backend.
func NewFileGAVMapper() NameMapper { return fileGAVMapper{} }

func (fileGAVMapper) Names(basedir string, coords []Coordinate) []string {
	inner := gavMapper{}.Names(basedir, coords)
	out := make([]string, len(inner))
	for i, n := range inner {
		out[i] = filepath.Clean(sanitizePathChars(n))
	}
	sort.Strings(out)
	return out
}

func sanitizePathChars(s string) string {
	b := []byte(s)
	for i, c := range b {
		switch c {
		case ':', '/', '\\':
			b[i] = '_'
		}
	}
	return string(b)
}

// ---- discriminating ----

type discriminatingMapper struct {
	delegate NameMapper
}

// NewDiscriminatingMapper wraps a delegate mapper, prefixing each name with
// a hash of the local-repo basedir so that distinct caches never collide in
// a shared lock-name space.
func NewDiscriminatingMapper(delegate NameMapper) NameMapper {
	return &discriminatingMapper{delegate: delegate}
}

func (d *discriminatingMapper) Names(basedir string, coords []Coordinate) []string {
	prefix := hashString(basedir)[:8]
	names := d.delegate.Names(basedir, coords)
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = prefix + ":" + n
	}
	sort.Strings(out)
	return out
}

// ---- hashing ----

type hashingMapper struct {
	delegate NameMapper
	spread   int // 0-4 directory levels for file-friendliness
}

// NewHashingMapper SHA-1-hashes the delegate's names, optionally spreading
// the hash over a 0-4 directory tree so a file-lock backend
// does not end up with a flat directory of millions of entries.
func NewHashingMapper(delegate NameMapper, spread int) NameMapper {
	if spread < 0 {
		spread = 0
	}
	if spread > 4 {
		spread = 4
	}
	return &hashingMapper{delegate: delegate, spread: spread}
}

func (h *hashingMapper) Names(basedir string, coords []Coordinate) []string {
	names := h.delegate.Names(basedir, coords)
	out := make([]string, len(names))
	for i, n := range names {
		sum := hashString(n)
		if h.spread == 0 {
			out[i] = sum
			continue
		}
		var parts []string
		for level := 0; level < h.spread && level*2+2 <= len(sum); level++ {
			parts = append(parts, sum[level*2:level*2+2])
		}
		parts = append(parts, sum)
		out[i] = filepath.Join(parts...)
	}
	sort.Strings(out)
	return out
}

func hashString(s string) string {
	sum := sha1.Sum([]byte(s)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// ---- static ----

type staticMapper struct {
	name string
}

// NewStaticMapper always yields a single fixed name regardless of the
// coordinate set: a coarse global lock.
func NewStaticMapper(name string) NameMapper {
	if name == "" {
		name = "static"
	}
	return staticMapper{name: name}
}

func (m staticMapper) Names(_ string, coords []Coordinate) []string {
	if len(coords) == 0 {
		return nil
	}
	return []string{m.name}
}

// ---- noop ----

type noopMapper struct{}

// NewNoopMapper yields an empty name set: no locking at all.
func NewNoopMapper() NameMapper { return noopMapper{} }

func (noopMapper) Names(string, []Coordinate) []string { return nil }

// ByConfigName resolves aether.syncContext.named.nameMapper config values to
// a concrete mapper, wrapping delegate as needed.
func ByConfigName(name string, fileBacked bool) (NameMapper, error) {
	switch name {
	case "", "gav":
		if fileBacked {
			return NewFileGAVMapper(), nil
		}
		return NewGAVMapper(), nil
	case "file-gav":
		return NewFileGAVMapper(), nil
	case "discriminating":
		return NewDiscriminatingMapper(NewGAVMapper()), nil
	case "hashing":
		return NewHashingMapper(NewGAVMapper(), 2), nil
	case "static":
		return NewStaticMapper("static"), nil
	case "noop":
		return NewNoopMapper(), nil
	default:
		return nil, fmt.Errorf("namedlock: unknown name mapper %q", name)
	}
}
