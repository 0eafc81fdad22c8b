// Package localrepo maps artifact/metadata coordinates to paths under the
// local cache base directory, with an optional prefix scheme splitting
// the cache by local/remote, release/snapshot, and optionally by origin
// repository id. Origin bookkeeping lives in the sidecar tracking file.
package localrepo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/forgecore/artresolve/internal/coordinate"
	"github.com/forgecore/artresolve/internal/tracking"
)

// Composer is the prefix composer selected by
// aether.dynamicLocalRepository.composer.
type Composer string

const (
	ComposerNoop            Composer = "noop"
	ComposerSplit           Composer = "split"
	ComposerSplitRepository Composer = "split-repository"
)

// Prefixes are the configurable directory-name segments.
type Prefixes struct {
	Local    string
	Remote   string
	Release  string
	Snapshot string
}

// DefaultPrefixes returns the stock directory-name segments.
func DefaultPrefixes() Prefixes {
	return Prefixes{Local: "local", Remote: "remote", Release: "release", Snapshot: "snapshot"}
}

// Manager maps coordinates to cache paths and answers availability
// queries against the tracking file.
type Manager struct {
	Basedir          string
	Composer         Composer
	Prefixes         Prefixes
	TrackingFilename string

	tracking *tracking.Manager
}

// NewManager returns a Manager rooted at basedir.
func NewManager(basedir string, composer Composer, prefixes Prefixes, trackingFilename string) *Manager {
	if trackingFilename == "" {
		trackingFilename = tracking.DefaultFilename
	}
	return &Manager{
		Basedir:          basedir,
		Composer:         composer,
		Prefixes:         prefixes,
		TrackingFilename: trackingFilename,
		tracking:         tracking.NewManager(),
	}
}

// gavDir returns the "groupId-as-path/artifactId/baseVersion" directory
// segment shared by local and remote artifact layouts.
func gavDir(a coordinate.Artifact) string {
	base := a.BaseVersion
	if base == "" {
		base = a.Version
	}
	return filepath.Join(filepath.FromSlash(strings.ReplaceAll(a.GroupID, ".", "/")), a.ArtifactID, base)
}

func artifactFilename(a coordinate.Artifact) string {
	name := fmt.Sprintf("%s-%s", a.ArtifactID, a.Version)
	if a.Classifier != "" {
		name += "-" + a.Classifier
	}
	return name + "." + a.Extension
}

// prefixFor composes the optional {local|remote}[/{release|snapshot}[/{origin}]]
// directory prefix.
func (m *Manager) prefixFor(isLocal bool, isSnapshot bool, originID string) string {
	switch m.Composer {
	case ComposerSplit, ComposerSplitRepository:
		if isLocal {
			return m.Prefixes.Local
		}
		nature := m.Prefixes.Release
		if isSnapshot {
			nature = m.Prefixes.Snapshot
		}
		prefix := filepath.Join(m.Prefixes.Remote, nature)
		if m.Composer == ComposerSplitRepository && originID != "" {
			prefix = filepath.Join(prefix, originID)
		}
		return prefix
	default:
		return ""
	}
}

// PathForLocalArtifact returns the relative path for a locally-installed
// artifact.
func (m *Manager) PathForLocalArtifact(a coordinate.Artifact) string {
	prefix := m.prefixFor(true, a.IsSnapshot(), "")
	return filepath.Join(prefix, gavDir(a), artifactFilename(a))
}

// PathForRemoteArtifact returns the relative path for an artifact cached
// from remote.
func (m *Manager) PathForRemoteArtifact(a coordinate.Artifact, remote *coordinate.RemoteRepository) string {
	prefix := m.prefixFor(false, a.IsSnapshot(), remote.ID)
	return filepath.Join(prefix, gavDir(a), artifactFilename(a))
}

// AbsolutePathForRemoteArtifact is the destination path a download plans to
// write to.
func (m *Manager) AbsolutePathForRemoteArtifact(a coordinate.Artifact, remote *coordinate.RemoteRepository) string {
	return filepath.Join(m.Basedir, m.PathForRemoteArtifact(a, remote))
}

func metadataDir(md coordinate.Metadata) string {
	path := filepath.FromSlash(strings.ReplaceAll(md.GroupID, ".", "/"))
	if md.ArtifactID != "" {
		path = filepath.Join(path, md.ArtifactID)
	}
	if md.Version != "" {
		path = filepath.Join(path, md.Version)
	}
	return path
}

// PathForLocalMetadata mirrors PathForLocalArtifact for metadata.
func (m *Manager) PathForLocalMetadata(md coordinate.Metadata) string {
	isSnapshot := md.Nature == coordinate.NatureSnapshot
	prefix := m.prefixFor(true, isSnapshot, "")
	return filepath.Join(prefix, metadataDir(md), md.Type)
}

// PathForRemoteMetadata mirrors PathForRemoteArtifact for metadata.
func (m *Manager) PathForRemoteMetadata(md coordinate.Metadata, remote *coordinate.RemoteRepository) string {
	isSnapshot := md.Nature == coordinate.NatureSnapshot
	prefix := m.prefixFor(false, isSnapshot, remote.ID)
	return filepath.Join(prefix, metadataDir(md), md.Type)
}

// Result is what Find discovered about a locally cached artifact.
type Result struct {
	Path       string
	Available  bool
	Repository *coordinate.RemoteRepository
}

// Request names the artifact to look up and the candidate remotes whose
// layouts and origins count as available.
type Request struct {
	Artifact     coordinate.Artifact
	Repositories []*coordinate.RemoteRepository
	Context      string

	// DisableUntrackedFallback turns off the interop behavior that treats
	// a cached file with no tracking entry as locally installed. Callers
	// set it when a remote repository filter is in effect.
	DisableUntrackedFallback bool
}

func (m *Manager) trackingPathFor(fileDir string) string {
	return filepath.Join(fileDir, m.TrackingFilename)
}

// Find locates the cached file for a request and decides availability
// from the tracking file's origin keys.
func (m *Manager) Find(req Request) (Result, error) {
	// Step 1: local path, only tried for non-timestamped versions.
	if req.Artifact.Version == req.Artifact.BaseVersion || req.Artifact.BaseVersion == "" {
		rel := m.PathForLocalArtifact(req.Artifact)
		abs := filepath.Join(m.Basedir, rel)
		if info, err := os.Stat(abs); err == nil && info.Mode().IsRegular() {
			return m.decideAvailability(abs, req, true, nil)
		}
	}

	// Step 2: each candidate remote's layout path, first existing file wins.
	for _, remote := range req.Repositories {
		rel := m.PathForRemoteArtifact(req.Artifact, remote)
		abs := filepath.Join(m.Basedir, rel)
		if info, err := os.Stat(abs); err == nil && info.Mode().IsRegular() {
			return m.decideAvailability(abs, req, false, remote)
		}
	}

	return Result{}, nil
}

func (m *Manager) decideAvailability(abs string, req Request, isLocalPath bool, foundVia *coordinate.RemoteRepository) (Result, error) {
	filename := filepath.Base(abs)
	trackingPath := m.trackingPathFor(filepath.Dir(abs))

	origins, err := m.tracking.Read(trackingPath)
	if err != nil {
		return Result{}, err
	}

	res := Result{Path: abs}

	// "locally installed" key wins outright.
	if tracking.ContainsKey(origins, filename, "") {
		res.Available = true
		return res, nil
	}

	// Match against any candidate remote's origin key.
	for _, remote := range req.Repositories {
		key := tracking.OriginKey(remote.ID, req.Context)
		if tracking.ContainsKey(origins, filename, key) {
			res.Available = true
			res.Repository = remote
			return res, nil
		}
	}

	// Untracked interop fallback.
	if !req.DisableUntrackedFallback && !tracking.HasOrigin(origins, filename) {
		res.Available = true
		if isLocalPath {
			return res, nil
		}
		res.Repository = foundVia
		return res, nil
	}

	res.Available = false
	return res, nil
}

// Registration records where a newly cached artifact came from.
type Registration struct {
	Artifact          coordinate.Artifact
	Origin            *coordinate.RemoteRepository // nil means "locally installed"
	SupportedContexts []string
}

// Add merges new origin keys into the tracking file for a registration
//: one key per context for remote-origin
// registrations, or the single empty-origin key for local registrations.
func (m *Manager) Add(reg Registration) error {
	var abs string
	if reg.Origin == nil {
		abs = filepath.Join(m.Basedir, m.PathForLocalArtifact(reg.Artifact))
	} else {
		abs = filepath.Join(m.Basedir, m.PathForRemoteArtifact(reg.Artifact, reg.Origin))
	}
	filename := filepath.Base(abs)
	trackingPath := m.trackingPathFor(filepath.Dir(abs))

	deltas := make(map[string]bool)
	if reg.Origin == nil {
		deltas[tracking.FileKey(filename, "")] = true
	} else {
		contexts := reg.SupportedContexts
		if len(contexts) == 0 {
			contexts = []string{""}
		}
		for _, ctx := range contexts {
			deltas[tracking.FileKey(filename, tracking.OriginKey(reg.Origin.ID, ctx))] = true
		}
	}
	_, err := m.tracking.Update(trackingPath, deltas)
	return err
}

// TrackingFilePath exposes the tracking-file path for a given absolute
// cached-file path, so callers (resolver, updatecheck) can share it.
func (m *Manager) TrackingFilePath(absFilePath string) string {
	return m.trackingPathFor(filepath.Dir(absFilePath))
}
