// Package installer writes locally-produced artifacts and metadata into
// the local cache (install) or uploads them to a remote (deploy), driving
// metadata generators that transform the artifact stream. Per-item
// failures are collected, never fail-fast. Cache mutation is serialized
// through the same named-lock discipline the resolvers use: an exclusive
// sync context over the installed/deployed coordinates.
package installer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/forgecore/artresolve/internal/connector"
	"github.com/forgecore/artresolve/internal/coordinate"
	"github.com/forgecore/artresolve/internal/localrepo"
	"github.com/forgecore/artresolve/internal/logger"
	"github.com/forgecore/artresolve/internal/namedlock"
	"github.com/forgecore/artresolve/internal/pathutil"
	"github.com/forgecore/artresolve/internal/synccontext"
)

// MetadataGenerator may transform the artifact stream and emit companion
// metadata during install/deploy.
type MetadataGenerator interface {
	// Transform returns the artifact set to actually install/deploy
	// (possibly replacing classifiers/extensions) and any metadata it
	// wants written alongside.
	Transform(artifacts []coordinate.Artifact) (transformed []coordinate.Artifact, generated []coordinate.Metadata)
	// Finalize is called after artifacts have been written/uploaded,
	// returning any metadata that depends on the final install/deploy
	// state.
	Finalize(artifacts []coordinate.Artifact) []coordinate.Metadata
}

// Request is InstallRequest/DeployRequest.
type Request struct {
	Artifacts  []coordinate.Artifact
	Metadata   []coordinate.Metadata
	Generators []MetadataGenerator
}

// Result is InstallResult/DeployResult.
type Result struct {
	Installed []coordinate.Artifact
	Errors    []error
}

// Installer writes locally-produced artifacts into the shared local
// cache.
type Installer struct {
	LocalRepo *localrepo.Manager
	Proc      *pathutil.Processor

	LockFactory namedlock.Factory
	NameMapper  namedlock.NameMapper
}

// NewInstaller returns an Installer backed by repo, serializing cache
// writes through the given named-lock backend.
func NewInstaller(repo *localrepo.Manager, lockFactory namedlock.Factory, nameMapper namedlock.NameMapper) *Installer {
	return &Installer{
		LocalRepo:   repo,
		Proc:        pathutil.New(),
		LockFactory: lockFactory,
		NameMapper:  nameMapper,
	}
}

// Install writes a batch of artifacts and metadata into the local cache,
// applying every generator's Transform first and its Finalize after. The
// whole write happens under an exclusive sync context, so a concurrent
// resolver of the same coordinates either runs before the install or sees
// the fully written files.
func (ins *Installer) Install(ctx context.Context, req Request) Result {
	artifacts := req.Artifacts
	var generated []coordinate.Metadata
	for _, g := range req.Generators {
		var gen []coordinate.Metadata
		artifacts, gen = g.Transform(artifacts)
		generated = append(generated, gen...)
	}
	metadatas := append(append([]coordinate.Metadata{}, req.Metadata...), generated...)

	sc := synccontext.New(ins.LockFactory, ins.NameMapper, ins.LocalRepo.Basedir, false)
	if err := sc.Acquire(ctx, artifacts, metadatas); err != nil {
		return Result{Errors: []error{fmt.Errorf("install: acquire locks: %w", err)}}
	}
	defer func() { _ = sc.Close() }()

	log := logger.Get()
	var result Result
	for _, a := range artifacts {
		if err := ins.installOne(a); err != nil {
			log.Debug("artifact install failed", "artifact", a.String(), "error", err)
			result.Errors = append(result.Errors, fmt.Errorf("install %s: %w", a.String(), err))
			continue
		}
		log.Debug("artifact installed", "artifact", a.String())
		result.Installed = append(result.Installed, a)
	}

	for _, md := range metadatas {
		if err := ins.installMetadata(md); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("install metadata %s: %w", md.String(), err))
		}
	}

	for _, g := range req.Generators {
		finalizers := g.Finalize(artifacts)
		if len(finalizers) == 0 {
			continue
		}
		// Finalizer metadata was not known at the first acquisition; the
		// context picks up the new names incrementally.
		if err := sc.Acquire(ctx, nil, finalizers); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("install: acquire finalizer locks: %w", err))
			continue
		}
		for _, md := range finalizers {
			if err := ins.installMetadata(md); err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("install finalizer metadata %s: %w", md.String(), err))
			}
		}
	}

	return result
}

// installOne stages one artifact into the cache and registers it as
// locally installed.
func (ins *Installer) installOne(a coordinate.Artifact) error {
	dst := filepath.Join(ins.LocalRepo.Basedir, ins.LocalRepo.PathForLocalArtifact(a))

	if a.Path != "" && samePath(a.Path, dst) {
		return fmt.Errorf("source and destination are the same file: %s", dst)
	}

	needCopy, err := ins.copyNeeded(a, dst)
	if err != nil {
		return err
	}
	if needCopy {
		if a.Path == "" {
			return fmt.Errorf("artifact %s has no source path to install from", a.String())
		}
		if err := ins.Proc.Copy(a.Path, dst, nil); err != nil {
			return fmt.Errorf("copy artifact: %w", err)
		}
	}

	return ins.LocalRepo.Add(localrepo.Registration{Artifact: a})
}

// copyNeeded reports whether the destination must be (re)written: always
// for pom files, otherwise when the destination is absent or its
// size/mtime differs from the source.
func (ins *Installer) copyNeeded(a coordinate.Artifact, dst string) (bool, error) {
	if a.Extension == "pom" {
		return true, nil
	}
	dstInfo, err := os.Stat(dst)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat destination: %w", err)
	}
	if a.Path == "" {
		return false, nil
	}
	srcInfo, err := os.Stat(a.Path)
	if err != nil {
		return false, fmt.Errorf("stat source: %w", err)
	}
	return !pathutil.SameContent(srcInfo, dstInfo), nil
}

func samePath(a, b string) bool {
	abs1, err1 := filepath.Abs(a)
	abs2, err2 := filepath.Abs(b)
	return err1 == nil && err2 == nil && abs1 == abs2
}

// installMetadata writes one metadata file: mergeable metadata merges
// itself into the existing destination; otherwise this refuses same-path
// install and copies.
func (ins *Installer) installMetadata(md coordinate.Metadata) error {
	dst := filepath.Join(ins.LocalRepo.Basedir, ins.LocalRepo.PathForLocalMetadata(md))

	if md.Mergeable && md.Merge != nil {
		return md.Merge(dst, dst)
	}

	if md.Path == "" {
		return fmt.Errorf("metadata %s has no source path to install from", md.String())
	}
	if samePath(md.Path, dst) {
		return fmt.Errorf("refusing same-path metadata install: %s", dst)
	}
	return ins.Proc.Copy(md.Path, dst, nil)
}

// Deployer uploads locally-produced artifacts and metadata to a remote
// repository.
type Deployer struct {
	Provider *connector.Provider

	LockFactory namedlock.Factory
	NameMapper  namedlock.NameMapper
	// Basedir is the local cache root whose lock domain deploy staging
	// participates in (mergeable metadata merges into local files before
	// uploading).
	Basedir string
}

// NewDeployer returns a Deployer using provider to select connectors.
func NewDeployer(provider *connector.Provider, lockFactory namedlock.Factory, nameMapper namedlock.NameMapper, basedir string) *Deployer {
	return &Deployer{
		Provider:    provider,
		LockFactory: lockFactory,
		NameMapper:  nameMapper,
		Basedir:     basedir,
	}
}

// Deploy uploads in two acquire phases: the first exclusive acquisition
// covers artifacts plus generator-produced metadata; after the artifact
// upload, a second acquisition adds the generators' finalizer metadata.
func (d *Deployer) Deploy(ctx context.Context, remote *coordinate.RemoteRepository, req Request) (Result, error) {
	conn, err := d.Provider.For(remote)
	if err != nil {
		return Result{}, fmt.Errorf("deploy: %w", err)
	}
	defer conn.Close()

	artifacts := req.Artifacts
	var generated []coordinate.Metadata
	for _, g := range req.Generators {
		var gen []coordinate.Metadata
		artifacts, gen = g.Transform(artifacts)
		generated = append(generated, gen...)
	}
	metadatas := append(append([]coordinate.Metadata{}, req.Metadata...), generated...)

	// Phase 1: artifacts + generated metadata.
	sc := synccontext.New(d.LockFactory, d.NameMapper, d.Basedir, false)
	if err := sc.Acquire(ctx, artifacts, metadatas); err != nil {
		return Result{}, fmt.Errorf("deploy: acquire locks: %w", err)
	}
	defer func() { _ = sc.Close() }()

	var result Result
	var uploads []*connector.Upload
	for i := range artifacts {
		uploads = append(uploads, &connector.Upload{Artifact: &artifacts[i], SrcPath: artifacts[i].Path})
	}
	for i, md := range metadatas {
		uploads = append(uploads, d.metadataUpload(ctx, conn, md, i))
	}

	if err := conn.Put(ctx, uploads); err != nil {
		return result, fmt.Errorf("deploy: put: %w", err)
	}
	for i, u := range uploads {
		if u.Exception != nil {
			result.Errors = append(result.Errors, u.Exception)
			continue
		}
		if i < len(artifacts) {
			result.Installed = append(result.Installed, artifacts[i])
		}
	}

	// Phase 2: finalizer metadata produced after the artifact upload,
	// covered by a second incremental acquisition.
	var finalizers []coordinate.Metadata
	for _, g := range req.Generators {
		finalizers = append(finalizers, g.Finalize(artifacts)...)
	}
	if len(finalizers) > 0 {
		if err := sc.Acquire(ctx, nil, finalizers); err != nil {
			return result, fmt.Errorf("deploy: acquire finalizer locks: %w", err)
		}
		var finalUploads []*connector.Upload
		for i, md := range finalizers {
			finalUploads = append(finalUploads, d.metadataUpload(ctx, conn, md, i))
		}
		if err := conn.Put(ctx, finalUploads); err != nil {
			return result, fmt.Errorf("deploy: put finalizer metadata: %w", err)
		}
		for _, u := range finalUploads {
			if u.Exception != nil {
				result.Errors = append(result.Errors, u.Exception)
			}
		}
	}

	return result, nil
}

// metadataUpload builds an Upload descriptor. For mergeable metadata the
// connector is first asked to Get the current remote version into a local
// staging path; a NotFound deletes the staging file; any other error is
// recorded on the descriptor's Exception and surfaced by the caller's
// error collection.
func (d *Deployer) metadataUpload(ctx context.Context, conn connector.Connector, md coordinate.Metadata, idx int) *connector.Upload {
	if !md.Mergeable {
		return &connector.Upload{Metadata: &md, SrcPath: md.Path}
	}

	stagingPath := md.Path + fmt.Sprintf(".staging-%d", idx)
	download := &connector.Download{Metadata: &md, DestPath: stagingPath}
	if err := conn.Get(ctx, []*connector.Download{download}); err != nil {
		return &connector.Upload{Metadata: &md, Exception: err}
	}
	switch {
	case download.Exception == nil && md.Merge != nil:
		if err := md.Merge(stagingPath, md.Path); err != nil {
			return &connector.Upload{Metadata: &md, Exception: err}
		}
	case connector.IsNotFound(download.Exception):
		_ = os.Remove(stagingPath)
	case download.Exception != nil:
		return &connector.Upload{Metadata: &md, Exception: download.Exception}
	}
	return &connector.Upload{Metadata: &md, SrcPath: md.Path}
}
