// Package session implements the configuration bundle and per-session
// data map that the resolver/installer pipelines consult: typed accessors
// over a plain property bag; GetString also honours an environment-variable
// override.
package session

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// Config keys recognized by the core.
const (
	KeySnapshotNormalization = "aether.artifactResolver.snapshotNormalization"
	KeySimpleLRMInterop      = "aether.artifactResolver.simpleLrmInterop"
	KeyMetadataThreads       = "aether.metadataResolver.threads"
	KeyLRMComposer           = "aether.dynamicLocalRepository.composer"
	KeyLocalPrefix           = "aether.enhancedLocalRepository.localPrefix"
	KeyRemotePrefix          = "aether.enhancedLocalRepository.remotePrefix"
	KeyReleasePrefix         = "aether.enhancedLocalRepository.releasePrefix"
	KeySnapshotPrefix        = "aether.enhancedLocalRepository.snapshotPrefix"
	KeyTrackingFilename      = "aether.enhancedLocalRepository.trackingFilename"
	KeyNamedLockFactory      = "aether.syncContext.named.factory"
	KeyNamedLockNameMapper   = "aether.syncContext.named.nameMapper"
)

// Session is the configuration bundle handed to every resolver and
// installer call, plus a thread-safe per-session data map. It is created
// once and used for many requests.
type Session struct {
	// LocalRepositoryBasedir is the root of the shared local cache.
	LocalRepositoryBasedir string

	// Offline, when true, makes the resolver skip remote candidates unless
	// the artifact was previously downloaded from them.
	Offline bool

	// UpdatePolicy/MetadataUpdatePolicy/ChecksumPolicy are session-wide
	// overrides that take precedence over per-remote policy values only
	// during resolution, not aggregation.
	UpdatePolicy         string
	MetadataUpdatePolicy string
	ChecksumPolicy       string

	config map[string]any

	data DataMap

	lifecycleMu sync.Mutex
	onClose     []func() error
}

// New returns a Session rooted at basedir with an empty config bag.
func New(basedir string) *Session {
	return &Session{
		LocalRepositoryBasedir: basedir,
		config:                 make(map[string]any),
	}
}

// SetConfig sets a typed config-bag property.
func (s *Session) SetConfig(key string, value any) {
	if s.config == nil {
		s.config = make(map[string]any)
	}
	s.config[key] = value
}

// GetString returns the string config value for key, or def if unset. An
// environment variable named after the key wins over both.
func (s *Session) GetString(key, def string) string {
	if v, ok := envOverride(key); ok {
		return v
	}
	if v, ok := s.config[key]; ok {
		if str, ok := v.(string); ok {
			return str
		}
	}
	return def
}

// GetBool returns the bool config value for key, or def if unset.
func (s *Session) GetBool(key string, def bool) bool {
	if v, ok := s.config[key]; ok {
		switch t := v.(type) {
		case bool:
			return t
		case string:
			if b, err := strconv.ParseBool(t); err == nil {
				return b
			}
		}
	}
	return def
}

// GetInt returns the int config value for key, or def if unset.
func (s *Session) GetInt(key string, def int) int {
	if v, ok := s.config[key]; ok {
		switch t := v.(type) {
		case int:
			return t
		case string:
			if n, err := strconv.Atoi(t); err == nil {
				return n
			}
		}
	}
	return def
}

// envOverride resolves the environment variable named after a config key
// ("." replaced by "_", upper-cased).
func envOverride(key string) (string, bool) {
	envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
	return os.LookupEnv(envKey)
}

// Data returns the per-session data map used for build-once session
// singletons.
func (s *Session) Data() *DataMap { return &s.data }

// DataMap is a thread-safe map with a ComputeIfAbsent helper.
type DataMap struct {
	mu sync.Mutex
	m  map[string]any
}

// Get returns the stored value for key, if any.
func (d *DataMap) Get(key string) (any, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.m[key]
	return v, ok
}

// Set stores value under key.
func (d *DataMap) Set(key string, value any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.m == nil {
		d.m = make(map[string]any)
	}
	d.m[key] = value
}

// ComputeIfAbsent returns the existing value for key, or calls build to
// construct and store one exactly once, even under concurrent callers.
func (d *DataMap) ComputeIfAbsent(key string, build func() any) any {
	d.mu.Lock()
	defer d.mu.Unlock()
	if v, ok := d.m[key]; ok {
		return v
	}
	if d.m == nil {
		d.m = make(map[string]any)
	}
	v := build()
	d.m[key] = v
	return v
}

// OnClose registers a session-end handler, run once by Close in LIFO
// order.
func (s *Session) OnClose(fn func() error) {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	s.onClose = append(s.onClose, fn)
}

// Close runs every registered session-end handler once, LIFO, collecting
// all errors into one aggregated failure.
func (s *Session) Close() error {
	s.lifecycleMu.Lock()
	handlers := s.onClose
	s.onClose = nil
	s.lifecycleMu.Unlock()

	var errs []error
	for i := len(handlers) - 1; i >= 0; i-- {
		if err := handlers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("session close: %d handler(s) failed: %w", len(errs), errors.Join(errs...))
}

// configFile is the on-disk shape LoadConfigFile accepts: a flat table of
// config keys plus the few session-level settings.
type configFile struct {
	Offline              bool              `toml:"offline,omitempty"`
	UpdatePolicy         string            `toml:"update-policy,omitempty"`
	MetadataUpdatePolicy string            `toml:"metadata-update-policy,omitempty"`
	ChecksumPolicy       string            `toml:"checksum-policy,omitempty"`
	Properties           map[string]string `toml:"properties,omitempty"`
}

// LoadConfigFile merges a TOML settings file into the session. Missing
// file is not an error; a session works fine with defaults.
func (s *Session) LoadConfigFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read session config %s: %w", path, err)
	}
	var cf configFile
	if err := toml.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("parse session config %s: %w", path, err)
	}
	if cf.Offline {
		s.Offline = true
	}
	if cf.UpdatePolicy != "" {
		s.UpdatePolicy = cf.UpdatePolicy
	}
	if cf.MetadataUpdatePolicy != "" {
		s.MetadataUpdatePolicy = cf.MetadataUpdatePolicy
	}
	if cf.ChecksumPolicy != "" {
		s.ChecksumPolicy = cf.ChecksumPolicy
	}
	for k, v := range cf.Properties {
		s.SetConfig(k, v)
	}
	return nil
}
