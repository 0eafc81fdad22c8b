package connector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/forgecore/artresolve/internal/buildinfo"
	"github.com/forgecore/artresolve/internal/coordinate"
	"github.com/forgecore/artresolve/internal/pathutil"
)

// HTTPFactory produces connectors for remotes whose URL scheme is
// http(s). The remote is laid out Maven-style: group segments as
// directories, then artifactId/version/filename.
type HTTPFactory struct {
	Auth *AuthStore
}

func (HTTPFactory) Name() string      { return "http" }
func (HTTPFactory) Priority() float64 { return 0 }

func (f HTTPFactory) New(remote *coordinate.RemoteRepository) (Connector, error) {
	if !strings.HasPrefix(remote.URL, "http://") && !strings.HasPrefix(remote.URL, "https://") {
		return nil, fmt.Errorf("http connector: remote %s is not an http(s) url", remote.ID)
	}
	return &httpConnector{
		remote: remote,
		auth:   f.Auth,
		client: &http.Client{Timeout: 5 * time.Minute},
		proc:   pathutil.New(),
	}, nil
}

type httpConnector struct {
	remote *coordinate.RemoteRepository
	auth   *AuthStore
	client *http.Client
	proc   *pathutil.Processor
}

func (c *httpConnector) artifactURL(a *coordinate.Artifact) string {
	ext := a.Extension
	name := fmt.Sprintf("%s-%s", a.ArtifactID, a.Version)
	if a.Classifier != "" {
		name += "-" + a.Classifier
	}
	return strings.TrimSuffix(c.remote.URL, "/") + "/" +
		strings.ReplaceAll(a.GroupID, ".", "/") + "/" + a.ArtifactID + "/" + a.Version + "/" +
		name + "." + ext
}

func (c *httpConnector) metadataURL(m *coordinate.Metadata) string {
	path := strings.ReplaceAll(m.GroupID, ".", "/")
	if m.ArtifactID != "" {
		path += "/" + m.ArtifactID
	}
	if m.Version != "" {
		path += "/" + m.Version
	}
	return strings.TrimSuffix(c.remote.URL, "/") + "/" + path + "/" + m.Type
}

// Get performs a batch of downloads, recording a per-item Exception rather
// than aborting siblings.
func (c *httpConnector) Get(ctx context.Context, downloads []*Download) error {
	for _, d := range downloads {
		d.Exception = c.getOne(ctx, d)
	}
	return nil
}

func (c *httpConnector) getOne(ctx context.Context, d *Download) error {
	var url string
	switch {
	case d.Artifact != nil:
		url = c.artifactURL(d.Artifact)
	case d.Metadata != nil:
		url = c.metadataURL(d.Metadata)
	default:
		return fmt.Errorf("http connector: download descriptor has neither artifact nor metadata")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("http connector: build request: %w", err)
	}
	req.Header.Set("User-Agent", buildinfo.GetUserAgent())
	if c.auth != nil {
		if user, pass, ok := c.auth.Lookup(c.remote.ID); ok {
			req.SetBasicAuth(user, pass)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http connector: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return notFoundError{url: url}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http connector: unexpected status %d for %s", resp.StatusCode, url)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("http connector: read body: %w", err)
	}

	return c.proc.WriteFile(d.DestPath, data, 0o644)
}

// Put performs a batch of uploads for deploy.
func (c *httpConnector) Put(ctx context.Context, uploads []*Upload) error {
	for _, u := range uploads {
		u.Exception = c.putOne(ctx, u)
	}
	return nil
}

func (c *httpConnector) putOne(ctx context.Context, u *Upload) error {
	var url string
	switch {
	case u.Artifact != nil:
		url = c.artifactURL(u.Artifact)
	case u.Metadata != nil:
		url = c.metadataURL(u.Metadata)
	default:
		return fmt.Errorf("http connector: upload descriptor has neither artifact nor metadata")
	}

	data, err := os.ReadFile(u.SrcPath)
	if err != nil {
		return fmt.Errorf("http connector: read %s: %w", u.SrcPath, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, strings.NewReader(string(data)))
	if err != nil {
		return fmt.Errorf("http connector: build request: %w", err)
	}
	req.Header.Set("User-Agent", buildinfo.GetUserAgent())
	req.ContentLength = int64(len(data))
	if c.auth != nil {
		if user, pass, ok := c.auth.Lookup(c.remote.ID); ok {
			req.SetBasicAuth(user, pass)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http connector: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http connector: unexpected status %d for %s", resp.StatusCode, url)
	}
	return nil
}

func (c *httpConnector) Close() {}

// notFoundError marks a confirmed-absent remote artifact/metadata.
type notFoundError struct{ url string }

func (e notFoundError) Error() string { return fmt.Sprintf("not found: %s", e.url) }

// NewNotFound builds the error a connector records when the remote
// confirms the requested file is absent.
func NewNotFound(url string) error { return notFoundError{url: url} }

// IsNotFound reports whether err is a confirmed-absent response.
func IsNotFound(err error) bool {
	_, ok := err.(notFoundError)
	return ok
}

// PathFactory produces connectors for file://-scheme remotes, a thin
// get/put over the local filesystem. Useful for network-free tests and
// mirror directories.
type PathFactory struct{}

func (PathFactory) Name() string      { return "path" }
func (PathFactory) Priority() float64 { return -1 }

func (PathFactory) New(remote *coordinate.RemoteRepository) (Connector, error) {
	if !strings.HasPrefix(remote.URL, "file://") {
		return nil, fmt.Errorf("path connector: remote %s is not a file:// url", remote.ID)
	}
	return &pathConnector{base: strings.TrimPrefix(remote.URL, "file://"), proc: pathutil.New()}, nil
}

type pathConnector struct {
	base string
	proc *pathutil.Processor
}

func (c *pathConnector) layoutPath(artifact *coordinate.Artifact, metadata *coordinate.Metadata) string {
	if artifact == nil && metadata == nil {
		return ""
	}
	if artifact != nil {
		name := fmt.Sprintf("%s-%s.%s", artifact.ArtifactID, artifact.Version, artifact.Extension)
		return filepath.Join(c.base, filepath.FromSlash(strings.ReplaceAll(artifact.GroupID, ".", "/")), artifact.ArtifactID, artifact.Version, name)
	}
	path := filepath.Join(c.base, filepath.FromSlash(strings.ReplaceAll(metadata.GroupID, ".", "/")))
	if metadata.ArtifactID != "" {
		path = filepath.Join(path, metadata.ArtifactID)
	}
	if metadata.Version != "" {
		path = filepath.Join(path, metadata.Version)
	}
	return filepath.Join(path, metadata.Type)
}

func (c *pathConnector) Get(_ context.Context, downloads []*Download) error {
	for _, d := range downloads {
		src := c.layoutPath(d.Artifact, d.Metadata)
		if _, err := os.Stat(src); err != nil {
			d.Exception = notFoundError{url: src}
			continue
		}
		d.Exception = c.proc.Copy(src, d.DestPath, nil)
	}
	return nil
}

func (c *pathConnector) Put(_ context.Context, uploads []*Upload) error {
	for _, u := range uploads {
		dst := c.layoutPath(u.Artifact, u.Metadata)
		u.Exception = c.proc.Copy(u.SrcPath, dst, nil)
	}
	return nil
}

func (c *pathConnector) Close() {}
