// Package filter provides predicates over (remote, artifact|metadata)
// pairs yielding accept/reject with a reason.
package filter

import "github.com/forgecore/artresolve/internal/coordinate"

// Result is the outcome of a filter decision.
type Result struct {
	Accepted bool
	Reason   string
}

func accept() Result { return Result{Accepted: true} }

func reject(reason string) Result { return Result{Accepted: false, Reason: reason} }

// Filter decides whether a remote may serve a given artifact or metadata
// request.
type Filter interface {
	AcceptArtifact(remote *coordinate.RemoteRepository, artifact coordinate.Artifact) Result
	AcceptMetadata(remote *coordinate.RemoteRepository, metadata coordinate.Metadata) Result
}

// Composite runs a sequence of filters, rejecting on the first reject and
// otherwise accepting (a short-circuiting AND).
type Composite struct {
	Filters []Filter
}

func (c Composite) AcceptArtifact(remote *coordinate.RemoteRepository, artifact coordinate.Artifact) Result {
	for _, f := range c.Filters {
		if r := f.AcceptArtifact(remote, artifact); !r.Accepted {
			return r
		}
	}
	return accept()
}

func (c Composite) AcceptMetadata(remote *coordinate.RemoteRepository, metadata coordinate.Metadata) Result {
	for _, f := range c.Filters {
		if r := f.AcceptMetadata(remote, metadata); !r.Accepted {
			return r
		}
	}
	return accept()
}

// BlockedFilter rejects any remote whose Blocked flag is set.
type BlockedFilter struct{}

func (BlockedFilter) AcceptArtifact(remote *coordinate.RemoteRepository, _ coordinate.Artifact) Result {
	if remote != nil && remote.Blocked {
		return reject("repository is blocked")
	}
	return accept()
}

func (BlockedFilter) AcceptMetadata(remote *coordinate.RemoteRepository, _ coordinate.Metadata) Result {
	if remote != nil && remote.Blocked {
		return reject("repository is blocked")
	}
	return accept()
}

// GroupIDFilter only accepts artifacts/metadata whose GroupID is present in
// Allowed (or any group when Allowed is empty), the idiomatic "prefix
// allowlist" shape basedir-scoped remote filters use in real builds.
type GroupIDFilter struct {
	Allowed map[string]struct{}
}

func (f GroupIDFilter) allows(groupID string) bool {
	if len(f.Allowed) == 0 {
		return true
	}
	_, ok := f.Allowed[groupID]
	return ok
}

func (f GroupIDFilter) AcceptArtifact(_ *coordinate.RemoteRepository, artifact coordinate.Artifact) Result {
	if !f.allows(artifact.GroupID) {
		return reject("groupId " + artifact.GroupID + " not in allowlist")
	}
	return accept()
}

func (f GroupIDFilter) AcceptMetadata(_ *coordinate.RemoteRepository, metadata coordinate.Metadata) Result {
	if !f.allows(metadata.GroupID) {
		return reject("groupId " + metadata.GroupID + " not in allowlist")
	}
	return accept()
}

// None accepts everything; used when no filter is configured.
type None struct{}

func (None) AcceptArtifact(*coordinate.RemoteRepository, coordinate.Artifact) Result { return accept() }
func (None) AcceptMetadata(*coordinate.RemoteRepository, coordinate.Metadata) Result { return accept() }
