package localrepo

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/forgecore/artresolve/internal/coordinate"
	"github.com/forgecore/artresolve/internal/tracking"
)

func releaseArtifact() coordinate.Artifact {
	return coordinate.Artifact{
		GroupID:     "com.example",
		ArtifactID:  "lib",
		Extension:   "jar",
		Version:     "1.0",
		BaseVersion: "1.0",
	}
}

func remote(id string) *coordinate.RemoteRepository {
	return &coordinate.RemoteRepository{
		ID:            id,
		ContentType:   "default",
		URL:           "https://" + id + "/",
		ReleasePolicy: coordinate.Policy{Enabled: true},
	}
}

func newNoopManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(t.TempDir(), ComposerNoop, DefaultPrefixes(), "")
}

func TestPathLayouts(t *testing.T) {
	a := releaseArtifact()

	tests := []struct {
		name       string
		composer   Composer
		local      string
		remotePath string
	}{
		{
			name:       "noop",
			composer:   ComposerNoop,
			local:      "com/example/lib/1.0/lib-1.0.jar",
			remotePath: "com/example/lib/1.0/lib-1.0.jar",
		},
		{
			name:       "split",
			composer:   ComposerSplit,
			local:      "local/com/example/lib/1.0/lib-1.0.jar",
			remotePath: "remote/release/com/example/lib/1.0/lib-1.0.jar",
		},
		{
			name:       "split-repository",
			composer:   ComposerSplitRepository,
			local:      "local/com/example/lib/1.0/lib-1.0.jar",
			remotePath: "remote/release/central/com/example/lib/1.0/lib-1.0.jar",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(t.TempDir(), tt.composer, DefaultPrefixes(), "")
			if got := m.PathForLocalArtifact(a); got != filepath.FromSlash(tt.local) {
				t.Errorf("local path = %s, want %s", got, tt.local)
			}
			if got := m.PathForRemoteArtifact(a, remote("central")); got != filepath.FromSlash(tt.remotePath) {
				t.Errorf("remote path = %s, want %s", got, tt.remotePath)
			}
		})
	}
}

func TestSnapshotPathUsesBaseVersionDir(t *testing.T) {
	m := newNoopManager(t)
	a := coordinate.Artifact{
		GroupID:     "com.example",
		ArtifactID:  "lib",
		Extension:   "jar",
		Version:     "1.0-20200101.120000-3",
		BaseVersion: "1.0-SNAPSHOT",
	}
	got := m.PathForRemoteArtifact(a, remote("central"))
	want := filepath.FromSlash("com/example/lib/1.0-SNAPSHOT/lib-1.0-20200101.120000-3.jar")
	if got != want {
		t.Errorf("snapshot path = %s, want %s", got, want)
	}
}

func TestClassifierInFilename(t *testing.T) {
	m := newNoopManager(t)
	a := releaseArtifact()
	a.Classifier = "sources"
	if got := m.PathForLocalArtifact(a); !strings.HasSuffix(got, "lib-1.0-sources.jar") {
		t.Errorf("Expected classifier in filename, got %s", got)
	}
}

func TestFindMissReturnsEmpty(t *testing.T) {
	m := newNoopManager(t)
	res, err := m.Find(Request{Artifact: releaseArtifact(), Repositories: []*coordinate.RemoteRepository{remote("central")}})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if res.Path != "" || res.Available {
		t.Errorf("Expected empty result, got %+v", res)
	}
}

func writeCached(t *testing.T, m *Manager, rel string) string {
	t.Helper()
	abs := filepath.Join(m.Basedir, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte("bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	return abs
}

func TestFindLocallyInstalled(t *testing.T) {
	m := newNoopManager(t)
	a := releaseArtifact()
	abs := writeCached(t, m, m.PathForLocalArtifact(a))

	if err := m.Add(Registration{Artifact: a}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	res, err := m.Find(Request{Artifact: a, Repositories: []*coordinate.RemoteRepository{remote("central")}})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if !res.Available {
		t.Error("Locally installed artifact should be available")
	}
	if res.Path != abs {
		t.Errorf("Expected path %s, got %s", abs, res.Path)
	}
	if res.Repository != nil {
		t.Error("Locally installed artifact should have no source repository")
	}
}

func TestFindTrackedRemoteOrigin(t *testing.T) {
	m := newNoopManager(t)
	a := releaseArtifact()
	central := remote("central")
	writeCached(t, m, m.PathForRemoteArtifact(a, central))

	if err := m.Add(Registration{Artifact: a, Origin: central}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	res, err := m.Find(Request{Artifact: a, Repositories: []*coordinate.RemoteRepository{central}})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if !res.Available {
		t.Error("Tracked artifact should be available for its origin")
	}
	if res.Repository == nil || res.Repository.ID != "central" {
		t.Errorf("Expected source repository central, got %+v", res.Repository)
	}
}

func TestFindOriginMismatchNotAvailable(t *testing.T) {
	m := newNoopManager(t)
	a := releaseArtifact()
	central := remote("central")
	other := remote("other")
	writeCached(t, m, m.PathForRemoteArtifact(a, central))

	if err := m.Add(Registration{Artifact: a, Origin: central}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	res, err := m.Find(Request{Artifact: a, Repositories: []*coordinate.RemoteRepository{other}})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if res.Available {
		t.Error("Artifact tracked for a different origin must not be available")
	}
	if res.Path == "" {
		t.Error("Path should still be set so the caller can re-fetch in place")
	}
}

func TestFindUntrackedInteropFallback(t *testing.T) {
	m := newNoopManager(t)
	a := releaseArtifact()
	writeCached(t, m, m.PathForLocalArtifact(a))

	res, err := m.Find(Request{Artifact: a, Repositories: []*coordinate.RemoteRepository{remote("central")}})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if !res.Available {
		t.Error("Untracked cached file should fall back to available")
	}

	res, err = m.Find(Request{
		Artifact:                 a,
		Repositories:             []*coordinate.RemoteRepository{remote("central")},
		DisableUntrackedFallback: true,
	})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if res.Available {
		t.Error("Fallback must be disabled when the caller says so")
	}
}

func TestTimestampedSnapshotSkipsLocalLookup(t *testing.T) {
	m := newNoopManager(t)
	a := coordinate.Artifact{
		GroupID:     "com.example",
		ArtifactID:  "lib",
		Extension:   "jar",
		Version:     "1.0-20200101.120000-3",
		BaseVersion: "1.0-SNAPSHOT",
	}
	// A file at the local layout path must not match a timestamped lookup.
	local := a
	local.Version = "1.0-SNAPSHOT"
	writeCached(t, m, m.PathForLocalArtifact(local))

	res, err := m.Find(Request{Artifact: a})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if res.Path != "" {
		t.Errorf("Timestamped version must not resolve via the local layout, got %s", res.Path)
	}
}

func TestSplitRepositorySeparatesOrigins(t *testing.T) {
	m := NewManager(t.TempDir(), ComposerSplitRepository, DefaultPrefixes(), "")
	a := releaseArtifact()
	p1 := m.PathForRemoteArtifact(a, remote("central"))
	p2 := m.PathForRemoteArtifact(a, remote("mirror"))
	if p1 == p2 {
		t.Errorf("split-repository must separate origins, both mapped to %s", p1)
	}
}

func TestAddWritesContextQualifiedKeys(t *testing.T) {
	m := newNoopManager(t)
	a := releaseArtifact()
	central := remote("central")
	abs := writeCached(t, m, m.PathForRemoteArtifact(a, central))

	if err := m.Add(Registration{Artifact: a, Origin: central, SupportedContexts: []string{"compile", "plugin"}}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	origins, err := tracking.NewManager().Read(m.TrackingFilePath(abs))
	if err != nil {
		t.Fatalf("Read tracking failed: %v", err)
	}
	for _, key := range []string{"lib-1.0.jar>central-compile", "lib-1.0.jar>central-plugin"} {
		if _, ok := origins[key]; !ok {
			t.Errorf("Expected tracking key %q, have %v", key, origins)
		}
	}
}
