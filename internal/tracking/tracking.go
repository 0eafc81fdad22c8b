// Package tracking implements the per-directory "_remote.repositories"
// sidecar file that records which origin(s) a cached artifact came from,
// and the update-check outcome (lastUpdated/lastError) per (item, origin)
// pair.
//
// Readers take a shared OS file lock, writers an exclusive one, both with
// a bounded retry. Intra-process exclusion uses a weak-interning pool of
// per-path monitors so entries do not accumulate forever.
package tracking

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/forgecore/artresolve/internal/buildinfo"
)

// DefaultFilename is the default tracking filename.
const DefaultFilename = "_remote.repositories"

// ValidateFilename rejects tracking filenames that could escape the
// artifact's directory: path separators and ".." are not allowed.
func ValidateFilename(name string) error {
	if name == "" {
		return fmt.Errorf("tracking: filename must not be empty")
	}
	if strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return fmt.Errorf("tracking: filename %q must not contain path separators or ..", name)
	}
	return nil
}

// lockRetries/lockBackoff bound the retry loop for contended OS locks.
const (
	lockRetries = 8
	lockBackoff = 50 * time.Millisecond
)

// monitorPool weakly interns per-canonical-path mutexes so concurrent
// writers to the same tracking file serialize in-process without leaking an
// entry per path forever.
type monitorPool struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
	count map[string]int
}

func newMonitorPool() *monitorPool {
	return &monitorPool{locks: make(map[string]*sync.Mutex), count: make(map[string]int)}
}

func (p *monitorPool) acquire(key string) func() {
	p.mu.Lock()
	m, ok := p.locks[key]
	if !ok {
		m = &sync.Mutex{}
		p.locks[key] = m
	}
	p.count[key]++
	p.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		p.mu.Lock()
		p.count[key]--
		if p.count[key] <= 0 {
			delete(p.locks, key)
			delete(p.count, key)
		}
		p.mu.Unlock()
	}
}

// processMonitors is the single truly process-wide shared structure.
var processMonitors = newMonitorPool()

// Manager reads, merges and writes tracking files.
type Manager struct{}

// NewManager returns a tracking file Manager.
func NewManager() *Manager { return &Manager{} }

// Record is one (lastUpdated, lastError) outcome persisted per key.
type Record struct {
	LastUpdated time.Time
	LastError   string // empty means success
}

// file is the decoded logical content of a tracking file: origin keys
// ("<filename>><origin-id>" -> "") plus update-check records
// ("<item>|<origin>" -> Record), both stored in the same file so a single
// read/write covers both concerns.
type file struct {
	origins map[string]struct{}
	checks  map[string]Record
}

func newFile() *file {
	return &file{origins: make(map[string]struct{}), checks: make(map[string]Record)}
}

const checkKeyPrefix = "check>"

// Read loads the tracking file at path, returning an empty map if the
// file does not exist.
func (m *Manager) Read(path string) (map[string]struct{}, error) {
	release := processMonitors.acquire(path)
	defer release()

	f, err := m.readLocked(path)
	if err != nil {
		return nil, err
	}
	return f.origins, nil
}

func (m *Manager) readLocked(path string) (*file, error) {
	if _, err := os.Stat(filepath.Dir(path)); os.IsNotExist(err) {
		return newFile(), nil
	}
	fl := flock.New(path)
	locked, err := tryLockWithRetry(fl, fl.TryRLock)
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, fmt.Errorf("tracking: could not acquire shared lock on %s", path)
	}
	defer fl.Unlock()

	return parseFile(path)
}

func tryLockWithRetry(fl *flock.Flock, lockFn func() (bool, error)) (bool, error) {
	var lastErr error
	for i := 0; i < lockRetries; i++ {
		locked, err := lockFn()
		if err == nil && locked {
			return true, nil
		}
		lastErr = err
		time.Sleep(lockBackoff)
	}
	return false, lastErr
}

func parseFile(path string) (*file, error) {
	f := newFile()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, fmt.Errorf("read tracking file %s: %w", path, err)
	}

	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, hasValue := strings.Cut(line, "=")
		if strings.HasPrefix(key, checkKeyPrefix) {
			rec, perr := parseCheckValue(value)
			if perr == nil {
				f.checks[strings.TrimPrefix(key, checkKeyPrefix)] = rec
			}
			continue
		}
		if !hasValue {
			continue
		}
		f.origins[key] = struct{}{}
	}
	return f, sc.Err()
}

func parseCheckValue(v string) (Record, error) {
	parts := strings.SplitN(v, ";", 2)
	var rec Record
	if len(parts) > 0 && parts[0] != "" {
		var unixMillis int64
		if _, err := fmt.Sscanf(parts[0], "%d", &unixMillis); err != nil {
			return rec, err
		}
		rec.LastUpdated = time.UnixMilli(unixMillis)
	}
	if len(parts) > 1 {
		rec.LastError = parts[1]
	}
	return rec, nil
}

func serializeCheckValue(r Record) string {
	return fmt.Sprintf("%d;%s", r.LastUpdated.UnixMilli(), r.LastError)
}

// Update merges deltas (origin key -> keep/remove) into the tracking file
// at path and returns the merged origin-key set. The write is staged in
// memory then flushed under an exclusive OS lock in one region write.
func (m *Manager) Update(path string, deltas map[string]bool) (map[string]struct{}, error) {
	release := processMonitors.acquire(path)
	defer release()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create tracking dir: %w", err)
	}

	fl := flock.New(path)
	locked, err := tryLockWithRetry(fl, fl.TryLock)
	if err != nil {
		return nil, fmt.Errorf("tracking: lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("tracking: could not acquire exclusive lock on %s", path)
	}
	defer fl.Unlock()

	f, err := parseFile(path)
	if err != nil {
		return nil, err
	}
	for key, keep := range deltas {
		if keep {
			f.origins[key] = struct{}{}
		} else {
			delete(f.origins, key)
		}
	}
	if err := writeFile(path, f); err != nil {
		return nil, err
	}
	return f.origins, nil
}

// TouchCheck writes a Record for key = "<item>|<origin>". Callers invoke
// this strictly after their local-cache registration so a concurrent
// reader never observes "updated but absent".
func (m *Manager) TouchCheck(path, key string, rec Record) error {
	release := processMonitors.acquire(path)
	defer release()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create tracking dir: %w", err)
	}

	fl := flock.New(path)
	locked, err := tryLockWithRetry(fl, fl.TryLock)
	if err != nil {
		return fmt.Errorf("tracking: lock %s: %w", path, err)
	}
	if !locked {
		return fmt.Errorf("tracking: could not acquire exclusive lock on %s", path)
	}
	defer fl.Unlock()

	f, err := parseFile(path)
	if err != nil {
		return err
	}
	f.checks[key] = rec
	return writeFile(path, f)
}

// ReadCheck returns the Record for key, or the zero Record if absent.
func (m *Manager) ReadCheck(path, key string) (Record, error) {
	release := processMonitors.acquire(path)
	defer release()

	f, err := m.readLocked(path)
	if err != nil {
		return Record{}, err
	}
	return f.checks[key], nil
}

func writeFile(path string, f *file) error {
	fh, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open tracking file for write: %w", err)
	}
	defer fh.Close()

	var b strings.Builder
	b.WriteString("# ")
	b.WriteString(buildinfo.GetCreatedBy())
	b.WriteString("\n")
	keys := make([]string, 0, len(f.origins))
	for k := range f.origins {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString("=\n")
	}
	checkKeys := make([]string, 0, len(f.checks))
	for k := range f.checks {
		checkKeys = append(checkKeys, k)
	}
	sort.Strings(checkKeys)
	for _, k := range checkKeys {
		b.WriteString(checkKeyPrefix)
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(serializeCheckValue(f.checks[k]))
		b.WriteString("\n")
	}

	content := b.String()
	if _, err := fh.WriteAt([]byte(content), 0); err != nil {
		return fmt.Errorf("write tracking file: %w", err)
	}
	if err := fh.Truncate(int64(len(content))); err != nil {
		return fmt.Errorf("truncate tracking file: %w", err)
	}
	return nil
}

// OriginKey encodes an origin id: "<remoteId>-<context>" when context is
// non-empty, otherwise "<remoteId>". The empty string means "locally
// installed".
func OriginKey(remoteID, context string) string {
	if remoteID == "" {
		return ""
	}
	if context == "" {
		return remoteID
	}
	return remoteID + "-" + context
}

// FileKey builds the "<filename>><origin-id>" tracking key.
func FileKey(filename, originID string) string {
	return filename + ">" + originID
}

// HasOrigin reports whether any key with prefix "<filename>>" exists.
func HasOrigin(origins map[string]struct{}, filename string) bool {
	prefix := filename + ">"
	for k := range origins {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}

// ContainsKey reports whether the exact "<filename>><origin-id>" key is
// present.
func ContainsKey(origins map[string]struct{}, filename, originID string) bool {
	_, ok := origins[FileKey(filename, originID)]
	return ok
}
