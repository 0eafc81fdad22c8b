package resolver

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/forgecore/artresolve/internal/connector"
	"github.com/forgecore/artresolve/internal/coordinate"
	"github.com/forgecore/artresolve/internal/errs"
	"github.com/forgecore/artresolve/internal/filter"
	"github.com/forgecore/artresolve/internal/localrepo"
	"github.com/forgecore/artresolve/internal/logger"
	"github.com/forgecore/artresolve/internal/namedlock"
	"github.com/forgecore/artresolve/internal/session"
	"github.com/forgecore/artresolve/internal/synccontext"
	"github.com/forgecore/artresolve/internal/updatecheck"
)

// MetadataResolver runs the same shared->exclusive two-phase pipeline as
// ArtifactResolver, but executes downloads through a bounded-parallel
// pool of per-authoritative-repository tasks instead of a single batched
// connector.Get per remote.
type MetadataResolver struct {
	LocalRepo    *localrepo.Manager
	Connectors   *connector.Provider
	UpdateChecks *updatecheck.Manager
	Filter       filter.Filter // nil means no filter configured

	LockFactory namedlock.Factory
	NameMapper  namedlock.NameMapper
}

// NewMetadataResolver wires a MetadataResolver from its collaborators.
func NewMetadataResolver(
	repo *localrepo.Manager,
	connectors *connector.Provider,
	checks *updatecheck.Manager,
	lockFactory namedlock.Factory,
	nameMapper namedlock.NameMapper,
) *MetadataResolver {
	return &MetadataResolver{
		LocalRepo:    repo,
		Connectors:   connectors,
		UpdateChecks: checks,
		LockFactory:  lockFactory,
		NameMapper:   nameMapper,
	}
}

// metadataTask is one download unit: a single authoritative repository that
// an UpdateCheck found stale for one request's metadata.
type metadataTask struct {
	req           *MetadataRequest
	res           *MetadataResult
	authoritative *coordinate.RemoteRepository
	check         *updatecheck.Check
	destPath      string

	connErr  error
	download *connector.Download
}

// ResolveMetadata returns one result per request, in input order.
func (mr *MetadataResolver) ResolveMetadata(ctx context.Context, sess *session.Session, requests []*MetadataRequest) ([]*MetadataResult, error) {
	log := logger.Get()
	start := time.Now()
	log.Debug("metadata resolution starting", "requests", len(requests))

	results := make([]*MetadataResult, len(requests))
	for i := range requests {
		results[i] = &MetadataResult{}
	}

	shared := true
	sc := synccontext.New(mr.LockFactory, mr.NameMapper, sess.LocalRepositoryBasedir, shared)
	if err := mr.acquireFor(ctx, sc, requests); err != nil {
		return results, err
	}
	defer func() { _ = sc.Close() }()

	for {
		tasks, upgrade, err := mr.resolveOnePass(sess, requests, results, shared)
		if err != nil {
			return results, err
		}
		if !upgrade {
			mr.runTasks(ctx, sess, tasks)
			break
		}

		_ = sc.Close()
		shared = false
		sc = synccontext.New(mr.LockFactory, mr.NameMapper, sess.LocalRepositoryBasedir, shared)
		if err := mr.acquireFor(ctx, sc, requests); err != nil {
			return results, err
		}
	}

	log.Debug("metadata resolution finished", "requests", len(requests), "duration", time.Since(start))
	return results, nil
}

func (mr *MetadataResolver) acquireFor(ctx context.Context, sc *synccontext.SyncContext, requests []*MetadataRequest) error {
	metadatas := make([]coordinate.Metadata, len(requests))
	for i, r := range requests {
		metadatas[i] = r.Metadata
	}
	return sc.Acquire(ctx, nil, metadatas)
}

// resolveOnePass runs every request up to (but not including) the
// download phase and reports whether any request needs a download while
// the context is still shared.
func (mr *MetadataResolver) resolveOnePass(sess *session.Session, requests []*MetadataRequest, results []*MetadataResult, shared bool) ([]*metadataTask, bool, error) {
	var tasks []*metadataTask
	producedTask := false

	for i, req := range requests {
		res := results[i]
		if res.Metadata != nil && res.Metadata.Path != "" {
			continue // already satisfied by a prior pass
		}
		*res = MetadataResult{}
		md := req.Metadata

		// "If request.repository == null, the target is the local
		// repository only."
		if req.Repository == nil {
			abs := filepath.Join(mr.LocalRepo.Basedir, mr.LocalRepo.PathForLocalMetadata(md))
			if info, err := os.Stat(abs); err == nil && info.Mode().IsRegular() {
				m := md
				m.Path = abs
				res.Metadata = &m
			} else {
				res.Exception = errs.New(errs.KindNotFound, "", "metadata not found locally")
			}
			continue
		}

		destPath := filepath.Join(mr.LocalRepo.Basedir, mr.LocalRepo.PathForRemoteMetadata(md, req.Repository))

		if req.FavorLocalRepository {
			if info, err := os.Stat(destPath); err == nil && info.Mode().IsRegular() {
				m := md
				m.Path = destPath
				res.Metadata = &m
				continue
			}
		}

		authoritatives := authoritativesFor(req.Repository, md.Nature)
		if mr.Filter != nil {
			var kept []*coordinate.RemoteRepository
			for _, a := range authoritatives {
				if r := mr.Filter.AcceptMetadata(a, md); r.Accepted {
					kept = append(kept, a)
				}
			}
			authoritatives = kept
		}
		if len(authoritatives) == 0 {
			res.Exception = errs.New(errs.KindFilteredOut, req.Repository.ID, "no authoritative repository available")
			continue
		}

		trackingPath := mr.LocalRepo.TrackingFilePath(destPath)
		var localLastUpdated time.Time
		if info, err := os.Stat(destPath); err == nil {
			localLastUpdated = info.ModTime()
		}

		anyRequired := false
		for _, authoritative := range authoritatives {
			// A non-empty session-wide policy overrides the remote's own.
			policy := authoritative.PolicyFor(md.Nature).MetadataUpdatePolicy
			if sess.MetadataUpdatePolicy != "" {
				policy = sess.MetadataUpdatePolicy
			}
			check := &updatecheck.Check{
				Item:                      md.String(),
				AuthoritativeRepositoryID: authoritative.ID,
				TrackingFilePath:          trackingPath,
				Policy:                    policy,
				LocalLastUpdated:          localLastUpdated,
			}
			if err := mr.UpdateChecks.Check(check); err != nil {
				res.Exception = err
				continue
			}
			if !check.Required {
				if check.Exception != nil && res.Exception == nil {
					res.Exception = check.Exception
				}
				continue
			}
			anyRequired = true
			tasks = append(tasks, &metadataTask{
				req:           req,
				res:           res,
				authoritative: authoritative,
				check:         check,
				destPath:      destPath,
			})
		}

		if anyRequired {
			producedTask = true
			continue
		}
		if res.Exception != nil {
			continue
		}
		if info, err := os.Stat(destPath); err == nil && info.Mode().IsRegular() {
			m := md
			m.Path = destPath
			res.Metadata = &m
		} else {
			res.Exception = errs.New(errs.KindNotFound, req.Repository.ID, "metadata not cached and no update required")
		}
	}

	// Upgrade only fires while still in shared mode; on the exclusive
	// retry, tasks are executed instead.
	return tasks, producedTask && shared, nil
}

// authoritativesFor expands a requested repository into the set of
// authoritative sources an update check is built against: a repository
// manager's mirrored repositories filtered by nature, or the repository
// itself when it is not an aggregator.
func authoritativesFor(repo *coordinate.RemoteRepository, nature coordinate.Nature) []*coordinate.RemoteRepository {
	if repo.IsRepositoryManager {
		var out []*coordinate.RemoteRepository
		for _, m := range repo.MirroredRepositories {
			if natureEnabled(m, nature) {
				out = append(out, m)
			}
		}
		return out
	}
	if natureEnabled(repo, nature) {
		return []*coordinate.RemoteRepository{repo}
	}
	return nil
}

func natureEnabled(remote *coordinate.RemoteRepository, nature coordinate.Nature) bool {
	switch nature {
	case coordinate.NatureSnapshot:
		return remote.SnapshotPolicy.Enabled
	case coordinate.NatureRelease:
		return remote.ReleasePolicy.Enabled
	default:
		return remote.ReleasePolicy.Enabled || remote.SnapshotPolicy.Enabled
	}
}

// runTasks executes every task through a bounded pool of size
// aether.metadataResolver.threads (default 4), then sequentially touches
// each authoritative's update-check record and re-resolves the local
// path. One task's failure never cancels a sibling.
func (mr *MetadataResolver) runTasks(ctx context.Context, sess *session.Session, tasks []*metadataTask) {
	if len(tasks) == 0 {
		return
	}

	threads := sess.GetInt(session.KeyMetadataThreads, 4)
	if threads < 1 {
		threads = 1
	}

	sem := make(chan struct{}, threads)
	var wg sync.WaitGroup
	for _, t := range tasks {
		t := t
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			mr.downloadTask(ctx, t)
		}()
	}
	wg.Wait()

	// Sequential evaluation phase: touch first, then re-look-up the local
	// path the connector may have just populated, setting the result only
	// after the tracking-file record reflects the outcome.
	for _, t := range tasks {
		mr.evaluateTask(t)
	}
}

func (mr *MetadataResolver) downloadTask(ctx context.Context, t *metadataTask) {
	conn, err := mr.Connectors.For(t.authoritative)
	if err != nil {
		t.connErr = err
		return
	}
	defer conn.Close()

	d := &connector.Download{Metadata: &t.req.Metadata, DestPath: t.destPath}
	if err := conn.Get(ctx, []*connector.Download{d}); err != nil {
		d.Exception = err
	}
	t.download = d
}

// evaluateTask touches the task's update-check record with its outcome,
// then re-looks-up the local path the connector may have just populated
// and sets the result iff the task carried no exception.
func (mr *MetadataResolver) evaluateTask(t *metadataTask) {
	var taskErr error
	switch {
	case t.connErr != nil:
		taskErr = t.connErr
	case t.download != nil:
		taskErr = t.download.Exception
	}

	_ = mr.UpdateChecks.Touch(*t.check, taskErr)

	if taskErr != nil {
		if t.req.DeleteLocalCopyIfMissing && connector.IsNotFound(taskErr) {
			_ = os.Remove(t.destPath)
		}
		// A sibling authoritative that already delivered the file wins
		// over this task's failure.
		if t.res.Metadata == nil && t.res.Exception == nil {
			kind := errs.KindTransferFailed
			if connector.IsNotFound(taskErr) {
				kind = errs.KindNotFound
			}
			t.res.Exception = errs.Wrap(kind, t.authoritative.ID, taskErr)
		}
		return
	}

	if info, err := os.Stat(t.destPath); err == nil && info.Mode().IsRegular() {
		m := t.req.Metadata
		m.Path = t.destPath
		t.res.Metadata = &m
		t.res.Updated = true
		t.res.Exception = nil
	} else if t.res.Exception == nil {
		t.res.Exception = errs.New(errs.KindNotFound, t.authoritative.ID, "download reported success but file is absent")
	}
}
