// Package connector selects a wire connector for a remote repository by
// factory priority, exposing batched get(downloads)/put(uploads) over
// opaque transfer descriptors. Per-transfer failures are recorded on the
// descriptor, never aborting sibling transfers.
package connector

import (
	"context"
	"fmt"

	"github.com/forgecore/artresolve/internal/coordinate"
	"github.com/forgecore/artresolve/internal/filter"
	"github.com/forgecore/artresolve/internal/priority"
)

// Download is an opaque download descriptor: what to fetch and
// where to put it.
type Download struct {
	Artifact     *coordinate.Artifact
	Metadata     *coordinate.Metadata
	DestPath     string
	ExistenceCheck bool

	Exception error
}

// Upload is an opaque upload descriptor for deploy.
type Upload struct {
	Artifact *coordinate.Artifact
	Metadata *coordinate.Metadata
	SrcPath  string

	Exception error
}

// Connector is a wire connector for one remote repository: "batched get(downloads) and put(uploads) operations over
// opaque download/upload descriptors".
type Connector interface {
	Get(ctx context.Context, downloads []*Download) error
	Put(ctx context.Context, uploads []*Upload) error
	Close()
}

// Factory produces a Connector for a remote, or reports it cannot serve
// that remote.
type Factory interface {
	Name() string
	Priority() float64
	New(remote *coordinate.RemoteRepository) (Connector, error)
}

// Provider selects a connector for a remote by trying registered factories
// in priority order and returning the first success.
type Provider struct {
	factories *priority.Components[Factory]
	filter    filter.Filter
}

// NewProvider returns a Provider with no registered factories.
func NewProvider() *Provider {
	return &Provider{factories: priority.New[Factory](false)}
}

// Register adds a connector factory at the given priority (NaN disables
// it).
func (p *Provider) Register(f Factory) {
	p.factories.Add(f.Name(), f.Priority(), f)
}

// WithFilter attaches a remote repository filter so Get() short-circuits
// filtered-out transfers.
func (p *Provider) WithFilter(f filter.Filter) *Provider {
	p.filter = f
	return p
}

// For returns the first connector a priority-ordered factory can produce
// for remote. If every enabled factory declines, or none is registered, it
// returns a plain error naming the remote (wrapping the last factory's
// error, if any); classifying it is left to the caller.
func (p *Provider) For(remote *coordinate.RemoteRepository) (Connector, error) {
	var lastErr error
	for _, entry := range p.factories.Ordered() {
		if !priority.Enabled(entry.Priority) {
			continue
		}
		c, err := entry.Value.New(remote)
		if err == nil {
			if p.filter != nil {
				return &filteredConnector{delegate: c, remote: remote, filter: p.filter}, nil
			}
			return c, nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return nil, fmt.Errorf("connector: no factory could serve remote %s: %w", remote.ID, lastErr)
	}
	return nil, fmt.Errorf("connector: no factory registered for remote %s", remote.ID)
}

// filteredConnector wraps a Connector so Get() drops filtered-out downloads
// before delegating, recording a FilteredOut exception on each.
type filteredConnector struct {
	delegate Connector
	remote   *coordinate.RemoteRepository
	filter   filter.Filter
}

func (f *filteredConnector) Get(ctx context.Context, downloads []*Download) error {
	var pass []*Download
	for _, d := range downloads {
		var r filter.Result
		switch {
		case d.Artifact != nil:
			r = f.filter.AcceptArtifact(f.remote, *d.Artifact)
		case d.Metadata != nil:
			r = f.filter.AcceptMetadata(f.remote, *d.Metadata)
		default:
			pass = append(pass, d)
			continue
		}
		if !r.Accepted {
			d.Exception = fmt.Errorf("filtered out: %s", r.Reason)
			continue
		}
		pass = append(pass, d)
	}
	return f.delegate.Get(ctx, pass)
}

func (f *filteredConnector) Put(ctx context.Context, uploads []*Upload) error {
	return f.delegate.Put(ctx, uploads)
}

func (f *filteredConnector) Close() { f.delegate.Close() }
