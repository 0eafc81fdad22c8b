package resolver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/forgecore/artresolve/internal/connector"
	"github.com/forgecore/artresolve/internal/coordinate"
	"github.com/forgecore/artresolve/internal/errs"
	"github.com/forgecore/artresolve/internal/filter"
	"github.com/forgecore/artresolve/internal/localrepo"
	"github.com/forgecore/artresolve/internal/logger"
	"github.com/forgecore/artresolve/internal/namedlock"
	"github.com/forgecore/artresolve/internal/pathutil"
	"github.com/forgecore/artresolve/internal/session"
	"github.com/forgecore/artresolve/internal/synccontext"
	"github.com/forgecore/artresolve/internal/updatecheck"
)

// ArtifactResolver turns a batch of artifact requests into results:
// version resolution, workspace and local-cache lookup, then grouped
// remote downloads for whatever is missing.
type ArtifactResolver struct {
	LocalRepo       *localrepo.Manager
	Connectors      *connector.Provider
	UpdateChecks    *updatecheck.Manager
	Filter          filter.Filter // nil means no filter configured
	VersionResolver VersionResolver
	Workspace       WorkspaceReader // nil means no workspace reader registered
	PostProcessors  []PostProcessor
	Events          EventSink

	LockFactory namedlock.Factory
	NameMapper  namedlock.NameMapper

	proc *pathutil.Processor
}

// NewArtifactResolver wires an ArtifactResolver from its collaborators.
func NewArtifactResolver(
	repo *localrepo.Manager,
	connectors *connector.Provider,
	checks *updatecheck.Manager,
	lockFactory namedlock.Factory,
	nameMapper namedlock.NameMapper,
) *ArtifactResolver {
	return &ArtifactResolver{
		LocalRepo:    repo,
		Connectors:   connectors,
		UpdateChecks: checks,
		LockFactory:  lockFactory,
		NameMapper:   nameMapper,
		proc:         pathutil.New(),
	}
}

// resolutionGroup batches resolution items whose remotes are canonically
// equivalent, so one connector serves them all.
type resolutionGroup struct {
	remote *coordinate.RemoteRepository
	items  []*resolutionItem
}

// resolutionItem is one request's pending download through one group. The
// artifact carries the version-pinned coordinates, which can differ from
// the request's original ones.
type resolutionItem struct {
	request  *ArtifactRequest
	artifact coordinate.Artifact
	result   *ArtifactResult
	local    localrepo.Result
	remote   *coordinate.RemoteRepository
}

// ResolveArtifacts returns one result per request, in input order. The
// returned error is non-nil iff any individual result lacks a usable
// path, and carries every per-request error.
func (ar *ArtifactResolver) ResolveArtifacts(ctx context.Context, sess *session.Session, requests []*ArtifactRequest) ([]*ArtifactResult, error) {
	log := logger.Get()
	start := time.Now()
	log.Debug("artifact resolution starting", "requests", len(requests))

	results := make([]*ArtifactResult, len(requests))
	for i := range requests {
		results[i] = &ArtifactResult{}
	}

	shared := true
	sc := synccontext.New(ar.LockFactory, ar.NameMapper, sess.LocalRepositoryBasedir, shared)
	if err := ar.acquireFor(ctx, sc, requests); err != nil {
		return results, err
	}
	defer func() { _ = sc.Close() }()

	for {
		groups, upgrade, err := ar.resolveOnePass(ctx, sess, requests, results, shared)
		if err != nil {
			return results, err
		}
		if !upgrade {
			if err := ar.runGroups(ctx, sess, groups); err != nil {
				return results, err
			}
			break
		}

		// A download is needed: close the shared context and redo the
		// loop under an exclusive one. A second thread may have
		// installed the artifact in the meantime, in which case the
		// exclusive pass produces no group.
		_ = sc.Close()
		shared = false
		sc = synccontext.New(ar.LockFactory, ar.NameMapper, sess.LocalRepositoryBasedir, shared)
		if err := ar.acquireFor(ctx, sc, requests); err != nil {
			return results, err
		}
	}

	if err := ar.postProcess(ctx, sess, results); err != nil {
		return results, err
	}

	err := ar.finalize(results)
	log.Debug("artifact resolution finished", "requests", len(requests), "duration", time.Since(start), "failed", err != nil)
	return results, err
}

func (ar *ArtifactResolver) acquireFor(ctx context.Context, sc *synccontext.SyncContext, requests []*ArtifactRequest) error {
	artifacts := make([]coordinate.Artifact, len(requests))
	for i, r := range requests {
		artifacts[i] = r.Artifact
	}
	return sc.Acquire(ctx, artifacts, nil)
}

// resolveOnePass runs every request up to the download-planning stage
// and returns the planned resolution groups, plus whether the caller must
// upgrade to an exclusive context and restart.
func (ar *ArtifactResolver) resolveOnePass(ctx context.Context, sess *session.Session, requests []*ArtifactRequest, results []*ArtifactResult, shared bool) ([]*resolutionGroup, bool, error) {
	var groups []*resolutionGroup
	producedGroup := false

	for i, req := range requests {
		res := results[i]
		if res.Artifact != nil && res.Artifact.Path != "" {
			continue // already satisfied by a prior pass
		}
		*res = ArtifactResult{Artifact: &req.Artifact}

		// Step 1: system-scoped short-circuit.
		if req.Artifact.HasSystemPath() {
			path := req.Artifact.Properties["systemPath"]
			if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
				a := req.Artifact
				a.Path = path
				res.Artifact = &a
				continue
			}
			res.Exceptions = append(res.Exceptions, errs.New(errs.KindNotFound, "", "system-scoped path not found"))
			continue
		}

		// Step 2: filtering.
		candidates := req.Repositories
		if ar.Filter != nil {
			var kept []*coordinate.RemoteRepository
			for _, remote := range candidates {
				if r := ar.Filter.AcceptArtifact(remote, req.Artifact); r.Accepted {
					kept = append(kept, remote)
				} else {
					res.Exceptions = append(res.Exceptions, errs.New(errs.KindFilteredOut, remote.ID, r.Reason))
				}
			}
			candidates = kept
			if len(candidates) == 0 && len(req.Repositories) > 0 {
				continue
			}
		}

		// Step 3-4: version resolution and pinning.
		artifact := req.Artifact
		identifiedLocalSource := false
		if ar.VersionResolver != nil {
			version, source, isLocal, err := ar.VersionResolver.Resolve(ctx, artifact, candidates)
			if err != nil {
				res.Exceptions = append(res.Exceptions, wrapRepositoryErrors(errs.KindVersionResolution, candidates, err)...)
				continue
			}
			artifact.Version = version
			identifiedLocalSource = isLocal
			if isLocal {
				candidates = nil
			} else if source != nil {
				candidates = []*coordinate.RemoteRepository{source}
			}
		}

		// Step 5: workspace lookup.
		if ar.Workspace != nil {
			if path, ok := ar.Workspace.FindArtifact(artifact); ok {
				a := artifact
				a.Path = path
				res.Artifact = &a
				continue
			}
		}

		// Step 6: local lookup.
		local, err := ar.LocalRepo.Find(localrepo.Request{
			Artifact:                 artifact,
			Repositories:             candidates,
			Context:                  req.Context,
			DisableUntrackedFallback: ar.Filter != nil,
		})
		if err != nil {
			res.Exceptions = append(res.Exceptions, err)
			continue
		}

		// Step 7: cache-hit decision. Without a filter, and when
		// KeySimpleLRMInterop is set, a legacy fallback also treats the
		// file present + version-resolver-identified-local case as a hit.
		hit := local.Available
		if ar.Filter == nil && local.Path != "" && identifiedLocalSource && sess.GetBool(session.KeySimpleLRMInterop, false) {
			hit = true
		}
		if hit && local.Path != "" {
			if err := ar.emitCacheHit(sess, &artifact, local, res); err != nil {
				res.Exceptions = append(res.Exceptions, err)
			}
			continue
		}

		// Step 8: download planning.
		if len(candidates) == 0 {
			res.Exceptions = append(res.Exceptions, errs.New(errs.KindNotFound, "", "no repository"))
			continue
		}

		itemAdded := false
		for _, remote := range candidates {
			isSnapshot := artifact.IsSnapshot()
			if !remote.Enabled(isSnapshot) {
				continue
			}
			if sess.Offline {
				res.Exceptions = append(res.Exceptions, errs.New(errs.KindOffline, remote.ID, "session is offline"))
				continue
			}
			item := &resolutionItem{request: req, artifact: artifact, result: res, local: local, remote: remote}
			groups = appendToGroup(groups, remote, item)
			itemAdded = true
		}
		if itemAdded {
			producedGroup = true
		} else if len(res.Exceptions) == 0 {
			res.Exceptions = append(res.Exceptions, errs.New(errs.KindOffline, "", "no enabled remote candidates"))
		}
	}

	// Upgrade only fires while still in shared mode; on the exclusive
	// retry, groups are executed instead.
	upgrade := producedGroup && shared
	return groups, upgrade, nil
}

func appendToGroup(groups []*resolutionGroup, remote *coordinate.RemoteRepository, item *resolutionItem) []*resolutionGroup {
	for _, g := range groups {
		if g.remote.EquivalentTo(remote) {
			g.items = append(g.items, item)
			return groups
		}
	}
	return append(groups, &resolutionGroup{remote: remote, items: []*resolutionItem{item}})
}

// emitCacheHit fills the result from the cached file, normalizing
// timestamped snapshots to their -SNAPSHOT sibling when enabled.
func (ar *ArtifactResolver) emitCacheHit(sess *session.Session, artifact *coordinate.Artifact, local localrepo.Result, res *ArtifactResult) error {
	a := *artifact
	a.Path = local.Path
	res.Repository = local.Repository

	if a.IsTimestamped() && sess.GetBool(session.KeySnapshotNormalization, true) {
		normalized := a.TimestampedToSnapshot()
		dst := filepath.Join(ar.LocalRepo.Basedir, ar.LocalRepo.PathForLocalArtifact(normalized))
		if err := ar.normalizeSnapshot(local.Path, dst); err != nil {
			return err
		}
		normalized.Path = dst
		a = normalized
	}

	res.Artifact = &a
	return nil
}

// normalizeSnapshot materializes the -SNAPSHOT sibling with matching
// length and last-modified time.
func (ar *ArtifactResolver) normalizeSnapshot(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("normalize snapshot: stat source: %w", err)
	}
	if dstInfo, err := os.Stat(dst); err == nil && pathutil.SameContent(srcInfo, dstInfo) {
		return nil
	}
	return ar.proc.Copy(src, dst, nil)
}

// runGroups executes every planned group's downloads and evaluates the
// outcomes.
func (ar *ArtifactResolver) runGroups(ctx context.Context, sess *session.Session, groups []*resolutionGroup) error {
	for _, g := range groups {
		if err := ar.runGroup(ctx, sess, g); err != nil {
			return err
		}
	}
	return nil
}

func (ar *ArtifactResolver) runGroup(ctx context.Context, sess *session.Session, g *resolutionGroup) error {
	conn, err := ar.Connectors.For(g.remote)
	if err != nil {
		for _, item := range g.items {
			item.result.Exceptions = append(item.result.Exceptions, errs.Wrap(errs.KindNoConnector, g.remote.ID, err))
		}
		return nil
	}
	defer conn.Close()

	var downloads []*connector.Download
	var liveItems []*resolutionItem
	for _, item := range g.items {
		if item.result.Artifact != nil && item.result.Artifact.Path != "" {
			continue // already satisfied through an equivalent remote
		}
		artifact := item.artifact
		dest := item.local.Path
		if dest == "" {
			dest = ar.LocalRepo.AbsolutePathForRemoteArtifact(artifact, g.remote)
		}

		// A non-empty session-wide policy overrides the remote's own.
		policy := g.remote.PolicyFor(natureOf(artifact)).UpdatePolicy
		if sess.UpdatePolicy != "" {
			policy = sess.UpdatePolicy
		}
		check := &updatecheck.Check{
			Item:                      artifact.Key(),
			AuthoritativeRepositoryID: g.remote.ID,
			TrackingFilePath:          ar.LocalRepo.TrackingFilePath(dest),
			Policy:                    policy,
		}
		if err := ar.UpdateChecks.Check(check); err != nil {
			item.result.Exceptions = append(item.result.Exceptions, err)
			continue
		}
		if !check.Required && check.Exception != nil {
			item.result.Exceptions = append(item.result.Exceptions, errs.Wrap(errs.KindTransferFailed, g.remote.ID, check.Exception))
			continue
		}

		d := &connector.Download{Artifact: &artifact, DestPath: dest, ExistenceCheck: item.local.Path != ""}
		downloads = append(downloads, d)
		liveItems = append(liveItems, item)
	}

	if len(downloads) == 0 {
		return nil
	}
	if err := conn.Get(ctx, downloads); err != nil {
		for _, item := range liveItems {
			item.result.Exceptions = append(item.result.Exceptions, errs.Wrap(errs.KindTransferFailed, g.remote.ID, err))
		}
		return nil
	}

	for i, item := range liveItems {
		ar.evaluateDownload(sess, g.remote, item, downloads[i])
	}
	return nil
}

func natureOf(a coordinate.Artifact) coordinate.Nature {
	if a.IsSnapshot() {
		return coordinate.NatureSnapshot
	}
	return coordinate.NatureRelease
}

// evaluateDownload applies one finished download to its result: register
// with the local repository on success, record the transfer error
// otherwise, and in both cases touch the update-check record afterwards.
func (ar *ArtifactResolver) evaluateDownload(sess *session.Session, remote *coordinate.RemoteRepository, item *resolutionItem, d *connector.Download) {
	artifact := item.artifact
	artifact.Path = d.DestPath

	var regErr error
	if d.Exception == nil {
		item.result.Repository = remote
		if artifact.IsTimestamped() && sess.GetBool(session.KeySnapshotNormalization, true) {
			normalized := artifact.TimestampedToSnapshot()
			dst := filepath.Join(ar.LocalRepo.Basedir, ar.LocalRepo.PathForLocalArtifact(normalized))
			if err := ar.normalizeSnapshot(d.DestPath, dst); err == nil {
				normalized.Path = dst
				artifact = normalized
			}
		}
		item.result.Artifact = &artifact
		regErr = ar.LocalRepo.Add(localrepo.Registration{Artifact: item.artifact, Origin: remote, SupportedContexts: []string{item.request.Context}})
	} else {
		kind := errs.KindTransferFailed
		if connector.IsNotFound(d.Exception) {
			kind = errs.KindNotFound
		}
		item.result.Exceptions = append(item.result.Exceptions, errs.Wrap(kind, remote.ID, d.Exception))
	}

	// Touch strictly after local registration, so a concurrent reader
	// either sees "not yet updated" or "updated and present" - never
	// "updated but absent".
	check := updatecheck.Check{
		Item:                      item.artifact.Key(),
		AuthoritativeRepositoryID: remote.ID,
		TrackingFilePath:          ar.LocalRepo.TrackingFilePath(d.DestPath),
	}
	if regErr != nil {
		_ = ar.UpdateChecks.Touch(check, regErr)
	} else {
		_ = ar.UpdateChecks.Touch(check, d.Exception)
	}

	logger.Get().Debug("artifact download evaluated", "artifact", artifact.String(), "repository", remote.ID, "error", d.Exception)

	if ar.Events != nil {
		ar.Events(Event{Kind: "downloaded", Artifact: artifact, Error: d.Exception})
		if d.Exception == nil {
			ar.Events(Event{Kind: "resolved", Artifact: artifact})
		}
	}
}

// postProcess runs every post-processor over the full results list. A
// post-processor only ever observes results whose artifact path is set,
// so a raised error fails exactly those results and halts nothing else.
func (ar *ArtifactResolver) postProcess(ctx context.Context, sess *session.Session, results []*ArtifactResult) error {
	for _, pp := range ar.PostProcessors {
		var subject []*ArtifactResult
		for _, r := range results {
			if r.Artifact != nil && r.Artifact.Path != "" {
				subject = append(subject, r)
			}
		}
		if len(subject) == 0 {
			continue
		}
		if err := pp.Process(ctx, sess, subject); err != nil {
			for _, r := range subject {
				r.Exceptions = append(r.Exceptions, err)
				failed := *r.Artifact
				failed.Path = ""
				r.Artifact = &failed
			}
		}
	}
	return nil
}

// finalize marks any result lacking a path as failed and builds the
// aggregated batch error.
func (ar *ArtifactResolver) finalize(results []*ArtifactResult) error {
	var allErrs []error
	anyFailed := false
	for _, r := range results {
		if r.Failed() {
			anyFailed = true
			if len(r.Exceptions) == 0 {
				r.Exceptions = append(r.Exceptions, errs.New(errs.KindNotFound, "", "artifact could not be resolved"))
			}
		}
		allErrs = append(allErrs, r.Exceptions...)
	}
	if !anyFailed {
		return nil
	}
	return errs.NewAggregatedBatch("artifact resolution failed", allErrs)
}

