// Package coordinate defines the artifact/metadata/repository value objects
// that flow through the resolution core.
package coordinate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Artifact is the tuple (groupId, artifactId, classifier, extension,
// version) plus the optional baseVersion, path and property map.
type Artifact struct {
	GroupID    string `toml:"group-id"`
	ArtifactID string `toml:"artifact-id"`
	Classifier string `toml:"classifier,omitempty"`
	Extension  string `toml:"extension"`
	Version    string `toml:"version"`

	// BaseVersion equals Version for releases. For snapshots, Version may be
	// a timestamp-qualified expansion while BaseVersion retains -SNAPSHOT.
	BaseVersion string `toml:"base-version,omitempty"`

	// Path is the artifact's resolved location on disk, if any.
	Path string `toml:"-"`

	// Properties is an open-ended property bag, never serialized verbatim.
	Properties map[string]string `toml:"-"`
}

// snapshotTimestampPattern matches the conventional Maven-style timestamped
// snapshot qualifier: BASEVERSION-yyyyMMdd.HHmmss-buildNumber, the concrete
// shape used throughout the ecosystem.
var snapshotTimestampPattern = regexp.MustCompile(`^(.+)-(\d{8}\.\d{6})-(\d+)$`)

const snapshotSuffix = "-SNAPSHOT"

// IsSnapshot reports whether this artifact is a snapshot: its BaseVersion
// (or Version, when BaseVersion is unset) ends with the -SNAPSHOT sentinel,
// or its Version matches the timestamped pattern.
func (a Artifact) IsSnapshot() bool {
	base := a.BaseVersion
	if base == "" {
		base = a.Version
	}
	if strings.HasSuffix(base, snapshotSuffix) {
		return true
	}
	return snapshotTimestampPattern.MatchString(a.Version)
}

// IsTimestamped reports whether Version itself carries a timestamp
// qualifier (i.e. this is a specific physical snapshot file, not the
// logical -SNAPSHOT label).
func (a Artifact) IsTimestamped() bool {
	return snapshotTimestampPattern.MatchString(a.Version)
}

// TimestampedToSnapshot returns the artifact with Version rewritten to the
// logical -SNAPSHOT label, used for snapshot-normalization.
func (a Artifact) TimestampedToSnapshot() Artifact {
	m := snapshotTimestampPattern.FindStringSubmatch(a.Version)
	if m == nil {
		return a
	}
	normalized := a
	normalized.Version = m[1] + snapshotSuffix
	normalized.Path = ""
	return normalized
}

// String renders the canonical G:A:E[:C]:V form used for lock names, log
// fields and error messages.
func (a Artifact) String() string {
	if a.Classifier != "" {
		return fmt.Sprintf("%s:%s:%s:%s:%s", a.GroupID, a.ArtifactID, a.Extension, a.Classifier, a.Version)
	}
	return fmt.Sprintf("%s:%s:%s:%s", a.GroupID, a.ArtifactID, a.Extension, a.Version)
}

// Key returns the full coordinate identity used for "same coordinates"
// comparisons and lock/download keys; it includes Version and deliberately
// excludes Path/Properties/system-scope.
func (a Artifact) Key() string {
	return fmt.Sprintf("%s:%s:%s:%s:%s", a.GroupID, a.ArtifactID, a.Extension, a.Classifier, a.Version)
}

// HasSystemPath reports whether this is a system-scoped artifact (a
// client-supplied absolute path that resolution short-circuits around).
func (a Artifact) HasSystemPath() bool {
	return a.Properties["systemPath"] != ""
}

// Nature is the metadata nature selecting which repository policies apply.
type Nature string

const (
	NatureRelease           Nature = "release"
	NatureSnapshot          Nature = "snapshot"
	NatureReleaseOrSnapshot Nature = "release_or_snapshot"
)

// Metadata identifies an ancillary indexing document by (groupId,
// artifactId?, version?, type, nature).
type Metadata struct {
	GroupID    string `toml:"group-id"`
	ArtifactID string `toml:"artifact-id,omitempty"`
	Version    string `toml:"version,omitempty"`
	Type       string `toml:"type"`
	Nature     Nature `toml:"nature"`

	Path string `toml:"-"`

	// Mergeable marks metadata that participates in deploy-side merging.
	Mergeable bool `toml:"-"`
	// Merge combines the existing destination content with this metadata's
	// content, writing the result to dst. Only set on mergeable metadata.
	Merge func(existing, dst string) error `toml:"-"`
}

// String renders a canonical identity for logging.
func (m Metadata) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", m.GroupID, m.ArtifactID, m.Version, m.Type)
}

// AppliesTo reports whether this metadata's nature is compatible with a
// repository's nature filter (release / snapshot / release_or_snapshot).
func (n Nature) AppliesTo(policyEnabled bool, wantRelease, wantSnapshot bool) bool {
	if !policyEnabled {
		return false
	}
	switch n {
	case NatureRelease:
		return wantRelease
	case NatureSnapshot:
		return wantSnapshot
	case NatureReleaseOrSnapshot:
		return wantRelease || wantSnapshot
	default:
		return false
	}
}

// Policy is a single release-or-snapshot repository policy.
type Policy struct {
	Enabled              bool
	UpdatePolicy         string
	MetadataUpdatePolicy string
	ChecksumPolicy       string
}

// RemoteRepository models a candidate remote source.
type RemoteRepository struct {
	ID          string
	ContentType string
	URL         string

	ReleasePolicy  Policy
	SnapshotPolicy Policy

	// MirroredRepositories are the authoritative sources this remote
	// aggregates, if it is a repository manager.
	MirroredRepositories []*RemoteRepository

	Proxy *ProxyInfo
	Auth  *AuthInfo

	Blocked             bool
	IsRepositoryManager bool
}

// ProxyInfo is an opaque proxy descriptor; proxy selection mechanics are an
// external collaborator.
type ProxyInfo struct {
	Host string
	Port int
}

// AuthInfo is an opaque auth descriptor; auth selection mechanics are an
// external collaborator. Credential storage is handled by
// internal/connector's keyring-backed store.
type AuthInfo struct {
	Username string
	Password string
}

// EquivalentTo reports whether two remotes are interchangeable for
// request-batching purposes: their url, content type and
// repository-manager flag all match.
func (r *RemoteRepository) EquivalentTo(other *RemoteRepository) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.URL == other.URL &&
		r.ContentType == other.ContentType &&
		r.IsRepositoryManager == other.IsRepositoryManager
}

// PolicyFor returns the effective policy for the given nature.
func (r *RemoteRepository) PolicyFor(nature Nature) Policy {
	switch nature {
	case NatureSnapshot:
		return r.SnapshotPolicy
	default:
		return r.ReleasePolicy
	}
}

// Enabled reports whether the repository accepts artifacts/metadata of the
// given nature (a snapshot artifact checks SnapshotPolicy, else
// ReleasePolicy).
func (r *RemoteRepository) Enabled(isSnapshot bool) bool {
	if isSnapshot {
		return r.SnapshotPolicy.Enabled
	}
	return r.ReleasePolicy.Enabled
}

// Trace carries a correlation id through a request/result pair.
type Trace struct {
	ID     string
	Parent *Trace
	Data   map[string]any
}

// NewTrace creates a root trace with a fresh correlation id.
func NewTrace(data map[string]any) *Trace {
	return &Trace{ID: uuid.New().String(), Data: data}
}

// Child creates a nested trace that keeps the same root id chain.
func (t *Trace) Child(data map[string]any) *Trace {
	return &Trace{ID: t.ID, Parent: t, Data: data}
}
