package resolver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/forgecore/artresolve/internal/connector"
	"github.com/forgecore/artresolve/internal/coordinate"
	"github.com/forgecore/artresolve/internal/errs"
	"github.com/forgecore/artresolve/internal/tracking"
	"github.com/forgecore/artresolve/internal/updatecheck"
)

func versionsMetadata() coordinate.Metadata {
	return coordinate.Metadata{
		GroupID:    "com.example",
		ArtifactID: "lib",
		Type:       "maven-metadata.xml",
		Nature:     coordinate.NatureRelease,
	}
}

func TestMetadataLocalOnly(t *testing.T) {
	f := newFixture(t)
	md := versionsMetadata()

	// Absent: not found.
	results, err := f.metadata.ResolveMetadata(context.Background(), f.sess,
		[]*MetadataRequest{{Metadata: md}})
	if err != nil {
		t.Fatalf("ResolveMetadata failed: %v", err)
	}
	if !errs.Is(results[0].Exception, errs.KindNotFound) {
		t.Errorf("Expected not-found for absent local metadata, got %v", results[0].Exception)
	}

	// Present: returns the local path without touching the network.
	abs := filepath.Join(f.repo.Basedir, f.repo.PathForLocalMetadata(md))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte("<metadata/>"), 0o644); err != nil {
		t.Fatal(err)
	}

	results, err = f.metadata.ResolveMetadata(context.Background(), f.sess,
		[]*MetadataRequest{{Metadata: md}})
	if err != nil {
		t.Fatalf("ResolveMetadata failed: %v", err)
	}
	if results[0].Exception != nil {
		t.Fatalf("Unexpected exception: %v", results[0].Exception)
	}
	if results[0].Metadata.Path != abs {
		t.Errorf("Expected path %s, got %s", abs, results[0].Metadata.Path)
	}
	if got := f.conn.getCount(); got != 0 {
		t.Errorf("Local-only resolution must not download, gets = %d", got)
	}
}

func TestMetadataRemoteFetch(t *testing.T) {
	f := newFixture(t)
	md := versionsMetadata()
	f.conn.serve(md.String(), []byte("<metadata><versioning/></metadata>"))
	central := enabledRemote("central")

	results, err := f.metadata.ResolveMetadata(context.Background(), f.sess,
		[]*MetadataRequest{{Metadata: md, Repository: central}})
	if err != nil {
		t.Fatalf("ResolveMetadata failed: %v", err)
	}

	res := results[0]
	if res.Exception != nil {
		t.Fatalf("Unexpected exception: %v", res.Exception)
	}
	if !res.Updated {
		t.Error("Fresh download should mark the result updated")
	}
	if res.Metadata == nil || res.Metadata.Path == "" {
		t.Fatal("Expected a resolved path")
	}
	data, err := os.ReadFile(res.Metadata.Path)
	if err != nil || len(data) == 0 {
		t.Errorf("Resolved metadata unreadable: %v", err)
	}
}

func TestMetadataCachedByPolicy(t *testing.T) {
	f := newFixture(t)
	md := versionsMetadata()
	f.conn.serve(md.String(), []byte("<metadata/>"))
	central := enabledRemote("central")
	reqs := []*MetadataRequest{{Metadata: md, Repository: central}}

	if _, err := f.metadata.ResolveMetadata(context.Background(), f.sess, reqs); err != nil {
		t.Fatalf("Priming resolve failed: %v", err)
	}
	gets := f.conn.getCount()

	results, err := f.metadata.ResolveMetadata(context.Background(), f.sess, reqs)
	if err != nil {
		t.Fatalf("Second resolve failed: %v", err)
	}
	if results[0].Metadata == nil || results[0].Metadata.Path == "" {
		t.Fatal("Cached metadata should resolve to its path")
	}
	if results[0].Updated {
		t.Error("A policy-satisfied cache hit is not an update")
	}
	if got := f.conn.getCount(); got != gets {
		t.Errorf("Daily policy within the same day must not re-fetch, gets %d -> %d", gets, got)
	}
}

func TestMetadataRepositoryManagerFanOut(t *testing.T) {
	f := newFixture(t)
	md := versionsMetadata()
	f.conn.serve(md.String(), []byte("<metadata/>"))
	f.conn.failRemote["flaky"] = connector.NewNotFound("flaky metadata")

	manager := &coordinate.RemoteRepository{
		ID:                  "group",
		ContentType:         "default",
		URL:                 "https://group/",
		IsRepositoryManager: true,
		ReleasePolicy:       coordinate.Policy{Enabled: true, MetadataUpdatePolicy: "daily"},
		MirroredRepositories: []*coordinate.RemoteRepository{
			enabledRemote("first"),
			enabledRemote("flaky"),
			enabledRemote("second"),
		},
	}

	results, err := f.metadata.ResolveMetadata(context.Background(), f.sess,
		[]*MetadataRequest{{Metadata: md, Repository: manager}})
	if err != nil {
		t.Fatalf("ResolveMetadata failed: %v", err)
	}

	res := results[0]
	if res.Metadata == nil || res.Metadata.Path == "" {
		t.Fatalf("A surviving authoritative should have delivered the file, exception: %v", res.Exception)
	}
	if res.Exception != nil {
		t.Errorf("A successful authoritative should clear the exception, got %v", res.Exception)
	}
	if !res.Updated {
		t.Error("Expected the result to be marked updated")
	}

	// Every authoritative's update-check record is touched, including the
	// failing one.
	trackingPath := f.repo.TrackingFilePath(res.Metadata.Path)
	tm := tracking.NewManager()
	for _, id := range []string{"first", "flaky", "second"} {
		rec, err := tm.ReadCheck(trackingPath, md.String()+"|"+id)
		if err != nil {
			t.Fatalf("ReadCheck %s failed: %v", id, err)
		}
		if rec.LastUpdated.IsZero() {
			t.Errorf("Authoritative %s was not touched", id)
		}
		if id == "flaky" && rec.LastError == "" {
			t.Error("Failing authoritative should have its error recorded")
		}
		if id != "flaky" && rec.LastError != "" {
			t.Errorf("Successful authoritative %s recorded error %q", id, rec.LastError)
		}
	}
}

func TestMetadataNatureFiltersAuthoritatives(t *testing.T) {
	f := newFixture(t)
	md := versionsMetadata()
	md.Nature = coordinate.NatureSnapshot
	f.conn.serve(md.String(), []byte("<metadata/>"))

	releasesOnly := enabledRemote("releases")
	releasesOnly.SnapshotPolicy = coordinate.Policy{Enabled: false}

	results, err := f.metadata.ResolveMetadata(context.Background(), f.sess,
		[]*MetadataRequest{{Metadata: md, Repository: releasesOnly}})
	if err != nil {
		t.Fatalf("ResolveMetadata failed: %v", err)
	}
	if results[0].Metadata != nil {
		t.Error("Snapshot metadata must not resolve from a releases-only repository")
	}
	if got := f.conn.getCount(); got != 0 {
		t.Errorf("Nature-disabled repository must not be contacted, gets = %d", got)
	}
}

func TestMetadataFavorLocalRepository(t *testing.T) {
	f := newFixture(t)
	md := versionsMetadata()
	f.conn.serve(md.String(), []byte("<remote version/>"))
	central := enabledRemote("central")

	dest := filepath.Join(f.repo.Basedir, f.repo.PathForRemoteMetadata(md, central))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dest, []byte("<cached/>"), 0o644); err != nil {
		t.Fatal(err)
	}

	results, err := f.metadata.ResolveMetadata(context.Background(), f.sess,
		[]*MetadataRequest{{Metadata: md, Repository: central, FavorLocalRepository: true}})
	if err != nil {
		t.Fatalf("ResolveMetadata failed: %v", err)
	}
	if results[0].Metadata == nil || results[0].Metadata.Path != dest {
		t.Errorf("Expected the cached path without a fetch, got %+v", results[0].Metadata)
	}
	if got := f.conn.getCount(); got != 0 {
		t.Errorf("favorLocalRepository must skip the network, gets = %d", got)
	}
}

func TestMetadataDeleteLocalCopyIfMissing(t *testing.T) {
	f := newFixture(t)
	md := versionsMetadata()
	central := enabledRemote("central")
	// Not served by the fake: the remote reports it gone.

	dest := filepath.Join(f.repo.Basedir, f.repo.PathForRemoteMetadata(md, central))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dest, []byte("<stale/>"), 0o644); err != nil {
		t.Fatal(err)
	}

	// "always" forces a re-check despite the file being present.
	central.ReleasePolicy.MetadataUpdatePolicy = "always"

	results, err := f.metadata.ResolveMetadata(context.Background(), f.sess,
		[]*MetadataRequest{{Metadata: md, Repository: central, DeleteLocalCopyIfMissing: true}})
	if err != nil {
		t.Fatalf("ResolveMetadata failed: %v", err)
	}
	if !errs.Is(results[0].Exception, errs.KindNotFound) {
		t.Errorf("Expected not-found, got %v", results[0].Exception)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("Stale local copy should have been deleted")
	}
}

func TestMetadataBoundedParallelism(t *testing.T) {
	f := newFixture(t)
	f.sess.SetConfig("aether.metadataResolver.threads", 1)

	md := versionsMetadata()
	f.conn.serve(md.String(), []byte("<metadata/>"))

	manager := &coordinate.RemoteRepository{
		ID:                  "group",
		ContentType:         "default",
		URL:                 "https://group/",
		IsRepositoryManager: true,
		ReleasePolicy:       coordinate.Policy{Enabled: true},
		MirroredRepositories: []*coordinate.RemoteRepository{
			enabledRemote("a"), enabledRemote("b"), enabledRemote("c"),
		},
	}

	results, err := f.metadata.ResolveMetadata(context.Background(), f.sess,
		[]*MetadataRequest{{Metadata: md, Repository: manager}})
	if err != nil {
		t.Fatalf("ResolveMetadata failed: %v", err)
	}
	if results[0].Metadata == nil {
		t.Fatalf("Expected resolution to succeed, exception: %v", results[0].Exception)
	}
	// One task per authoritative.
	if got := f.conn.getCount(); got != 3 {
		t.Errorf("Expected 3 per-authoritative fetches, got %d", got)
	}
}

func TestMetadataUpdateCheckRecordsSurviveRestarts(t *testing.T) {
	f := newFixture(t)
	md := versionsMetadata()
	f.conn.serve(md.String(), []byte("<metadata/>"))
	central := enabledRemote("central")
	reqs := []*MetadataRequest{{Metadata: md, Repository: central}}

	if _, err := f.metadata.ResolveMetadata(context.Background(), f.sess, reqs); err != nil {
		t.Fatalf("Priming resolve failed: %v", err)
	}
	gets := f.conn.getCount()

	// A fresh resolver over the same basedir sees the persisted record.
	g := newFixture(t)
	g.metadata.LocalRepo = f.repo
	g.metadata.UpdateChecks = updatecheck.NewManager(tracking.NewManager())

	results, err := g.metadata.ResolveMetadata(context.Background(), f.sess, reqs)
	if err != nil {
		t.Fatalf("Second-process resolve failed: %v", err)
	}
	if results[0].Metadata == nil {
		t.Fatalf("Expected cached resolution, exception: %v", results[0].Exception)
	}
	if f.conn.getCount() != gets || g.conn.getCount() != 0 {
		t.Error("Persisted update-check record should suppress the re-fetch")
	}
}
