package resolver

import (
	"context"
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/forgecore/artresolve/internal/coordinate"
)

// ConstraintVersionResolver is a VersionResolver for embedders that already
// know which versions each remote offers (typically from previously
// resolved metadata). A concrete version passes through unchanged; a
// constraint expression ("^1.2", ">=1.0, <2.0", "1.x") is matched against
// the offered versions and the highest satisfying one wins.
type ConstraintVersionResolver struct {
	// Available maps a remote repository id to the versions it offers for
	// the artifact being resolved. The "" key covers the local repository.
	Available map[string][]string
}

// Resolve picks the concrete version for artifact. When the winning version
// is offered by exactly one repository, that repository is returned as the
// pinned source; if that repository is the local one, isLocal is reported.
func (r *ConstraintVersionResolver) Resolve(_ context.Context, artifact coordinate.Artifact, remotes []*coordinate.RemoteRepository) (string, *coordinate.RemoteRepository, bool, error) {
	if _, err := semver.NewVersion(trimSnapshot(artifact.Version)); err == nil {
		// Already a concrete version; nothing to match.
		return artifact.Version, nil, false, nil
	}

	constraint, err := semver.NewConstraint(artifact.Version)
	if err != nil {
		return "", nil, false, fmt.Errorf("version %q is neither concrete nor a valid constraint: %w", artifact.Version, err)
	}

	type match struct {
		version *semver.Version
		raw     string
		source  string
	}
	var matches []match
	consider := func(sourceID string, versions []string) {
		for _, raw := range versions {
			v, err := semver.NewVersion(trimSnapshot(raw))
			if err != nil {
				continue
			}
			if constraint.Check(v) {
				matches = append(matches, match{version: v, raw: raw, source: sourceID})
			}
		}
	}

	consider("", r.Available[""])
	for _, remote := range remotes {
		consider(remote.ID, r.Available[remote.ID])
	}

	if len(matches) == 0 {
		return "", nil, false, fmt.Errorf("no version matching %q offered by any candidate repository", artifact.Version)
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].version.LessThan(matches[j].version)
	})
	best := matches[len(matches)-1]

	// Pin the source only when a single repository offers the winning
	// version; otherwise leave the candidate set alone.
	sources := make(map[string]struct{})
	for _, m := range matches {
		if m.raw == best.raw {
			sources[m.source] = struct{}{}
		}
	}
	if len(sources) == 1 {
		if best.source == "" {
			return best.raw, nil, true, nil
		}
		for _, remote := range remotes {
			if remote.ID == best.source {
				return best.raw, remote, false, nil
			}
		}
	}
	return best.raw, nil, false, nil
}

// trimSnapshot strips the -SNAPSHOT qualifier so snapshot labels parse as
// their base version.
func trimSnapshot(v string) string {
	const suffix = "-SNAPSHOT"
	if len(v) > len(suffix) && v[len(v)-len(suffix):] == suffix {
		return v[:len(v)-len(suffix)]
	}
	return v
}
