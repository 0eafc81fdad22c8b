// Package resolver implements the ArtifactResolver and MetadataResolver
// pipelines: the core entry points
// that turn a batch of requests into a batch of results, hitting the local
// cache where possible and falling back to a planned, grouped remote
// download otherwise.
package resolver

import (
	"context"

	"github.com/forgecore/artresolve/internal/coordinate"
	"github.com/forgecore/artresolve/internal/errs"
	"github.com/forgecore/artresolve/internal/session"
)

// ArtifactRequest asks for one artifact's bytes from a set of candidate
// remotes.
type ArtifactRequest struct {
	Artifact     coordinate.Artifact
	Repositories []*coordinate.RemoteRepository
	Context      string
	Trace        *coordinate.Trace
}

// ArtifactResult is the per-request outcome. Missing Artifact or missing
// Artifact.Path means the request failed.
type ArtifactResult struct {
	Artifact   *coordinate.Artifact
	Repository *coordinate.RemoteRepository
	Exceptions []error
}

// Failed reports whether this result lacks a usable artifact path.
func (r ArtifactResult) Failed() bool {
	return r.Artifact == nil || r.Artifact.Path == ""
}

// VersionResolver is the external collaborator that resolves a version
// constraint/range to a concrete version.
type VersionResolver interface {
	// Resolve returns the concrete version to use and, if the resolver
	// identified one specific source repository (rather than the whole
	// candidate set), that repository; nil means "any of remotes" or
	// "local".
	Resolve(ctx context.Context, artifact coordinate.Artifact, remotes []*coordinate.RemoteRepository) (version string, source *coordinate.RemoteRepository, isLocal bool, err error)
}

// WorkspaceReader is the external collaborator consulted before the local
// cache.
type WorkspaceReader interface {
	// FindArtifact returns a path if the workspace already has this
	// artifact in a local build output, ok=false otherwise.
	FindArtifact(artifact coordinate.Artifact) (path string, ok bool)
}

// PostProcessor may attach additional verification to resolved results
// or replace a result's artifact path.
// Post-processors run in the order they appear in
// ArtifactResolver.PostProcessors, each over the results that still have an
// artifact path; no priority ordering is applied.
type PostProcessor interface {
	Process(ctx context.Context, sess *session.Session, results []*ArtifactResult) error
}

// MetadataRequest asks for one metadata document, either from the local
// repository only (nil Repository) or from a remote.
type MetadataRequest struct {
	Metadata   coordinate.Metadata
	Repository *coordinate.RemoteRepository // nil means "local repository only"
	Context    string

	// FavorLocalRepository, when true, skips the update-check entirely and
	// resolves straight from the local cache if the file is already present.
	FavorLocalRepository bool
	// DeleteLocalCopyIfMissing removes the cached file when a download task
	// reports the metadata no longer exists on its authoritative repository.
	DeleteLocalCopyIfMissing bool
	Trace                    *coordinate.Trace
}

// MetadataResult is the per-request outcome of a metadata resolution.
type MetadataResult struct {
	Metadata  *coordinate.Metadata
	Exception error
	Updated   bool
}

// Event is the "downloaded"/"resolved" notification dispatched after a
// download is evaluated. The resolver just invokes a caller-supplied
// sink, if any; what happens to events is up to the embedding tool.
type Event struct {
	Kind     string // "downloaded" or "resolved"
	Artifact coordinate.Artifact
	Error    error
}

// EventSink receives resolver events.
type EventSink func(Event)

func wrapRepositoryErrors(kind errs.Kind, repositories []*coordinate.RemoteRepository, err error) []error {
	if len(repositories) == 0 {
		return []error{errs.Wrap(kind, "", err)}
	}
	out := make([]error, 0, len(repositories))
	for _, r := range repositories {
		out = append(out, errs.Wrap(kind, r.ID, err))
	}
	return out
}
