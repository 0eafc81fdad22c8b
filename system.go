// Package artresolve is the core of a build-artifact resolver: given
// requests referencing content-addressed artifacts and a set of candidate
// remote sources, it produces for each request either a local file path to
// the artifact's bytes or a structured error. Cached artifacts are
// returned without network activity; missing ones are fetched, validated
// and installed into a shared local cache that concurrent threads and
// processes cooperate on through named locks and sidecar tracking files.
package artresolve

import (
	"fmt"

	"github.com/forgecore/artresolve/internal/connector"
	"github.com/forgecore/artresolve/internal/filter"
	"github.com/forgecore/artresolve/internal/installer"
	"github.com/forgecore/artresolve/internal/lifecycle"
	"github.com/forgecore/artresolve/internal/localrepo"
	"github.com/forgecore/artresolve/internal/namedlock"
	"github.com/forgecore/artresolve/internal/resolver"
	"github.com/forgecore/artresolve/internal/session"
	"github.com/forgecore/artresolve/internal/tracking"
	"github.com/forgecore/artresolve/internal/updatecheck"
)

// System bundles the wired components an embedding build tool drives:
// the artifact and metadata resolvers, the installer/deployer pair, and
// the shutdown lifecycle.
type System struct {
	Artifacts *resolver.ArtifactResolver
	Metadata  *resolver.MetadataResolver
	Installer *installer.Installer
	Deployer  *installer.Deployer
	LocalRepo *localrepo.Manager
	Lifecycle *lifecycle.System

	Connectors *connector.Provider
}

// NewSystem wires a System from the session's configuration: local cache
// layout, named-lock backend and name mapper, connector registry, update
// checks. Callers register connector factories on Connectors (HTTP and
// file:// path factories are pre-registered) and may set Filter/VersionResolver/Workspace
// on the resolvers before first use.
func NewSystem(sess *session.Session) (*System, error) {
	basedir := sess.LocalRepositoryBasedir
	if basedir == "" {
		return nil, fmt.Errorf("artresolve: session has no local repository basedir")
	}

	prefixes := localrepo.Prefixes{
		Local:    sess.GetString(session.KeyLocalPrefix, "local"),
		Remote:   sess.GetString(session.KeyRemotePrefix, "remote"),
		Release:  sess.GetString(session.KeyReleasePrefix, "release"),
		Snapshot: sess.GetString(session.KeySnapshotPrefix, "snapshot"),
	}
	composer := localrepo.Composer(sess.GetString(session.KeyLRMComposer, string(localrepo.ComposerNoop)))
	switch composer {
	case localrepo.ComposerNoop, localrepo.ComposerSplit, localrepo.ComposerSplitRepository:
	default:
		return nil, fmt.Errorf("artresolve: unknown local repository composer %q", composer)
	}
	trackingName := sess.GetString(session.KeyTrackingFilename, tracking.DefaultFilename)
	if err := tracking.ValidateFilename(trackingName); err != nil {
		return nil, err
	}

	repo := localrepo.NewManager(basedir, composer, prefixes, trackingName)

	factoryName := sess.GetString(session.KeyNamedLockFactory, "rwlock-local")
	lockFactory, err := namedlock.NewFactory(factoryName, basedir)
	if err != nil {
		return nil, err
	}
	mapperName := sess.GetString(session.KeyNamedLockNameMapper, "gav")
	mapper, err := namedlock.ByConfigName(mapperName, factoryName == "file-lock")
	if err != nil {
		return nil, err
	}

	checks := updatecheck.NewManager(tracking.NewManager())
	provider := connector.NewProvider()
	provider.Register(connector.HTTPFactory{Auth: connector.NewAuthStore()})
	provider.Register(connector.PathFactory{})

	sys := &System{
		Artifacts:  resolver.NewArtifactResolver(repo, provider, checks, lockFactory, mapper),
		Metadata:   resolver.NewMetadataResolver(repo, provider, checks, lockFactory, mapper),
		Installer:  installer.NewInstaller(repo, lockFactory, mapper),
		Deployer:   installer.NewDeployer(provider, lockFactory, mapper, basedir),
		LocalRepo:  repo,
		Lifecycle:  lifecycle.NewSystem(),
		Connectors: provider,
	}
	return sys, nil
}

// SetFilter attaches a remote repository filter to the whole system: both
// resolvers consult it for candidate pruning, and every connector handed
// out by the provider short-circuits filtered-out transfers.
func (s *System) SetFilter(f filter.Filter) {
	s.Artifacts.Filter = f
	s.Metadata.Filter = f
	s.Connectors.WithFilter(f)
}

// Shutdown runs the system-end handlers once.
func (s *System) Shutdown() error {
	return s.Lifecycle.Shutdown()
}
