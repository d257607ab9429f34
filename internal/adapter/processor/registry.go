package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/cwygoda/audiodrop/internal/config"
	"github.com/cwygoda/audiodrop/internal/domain"
)

// ErrNoFetcher is returned when no registered fetcher matches a URL.
var ErrNoFetcher = errors.New("no fetcher for url")

// Fetcher is a MediaFetcher restricted to the URLs it matches.
type Fetcher interface {
	domain.MediaFetcher
	Name() string
	Match(url string) bool
}

// Registry holds registered fetchers and delegates to the first match.
type Registry struct {
	fetchers []Fetcher
}

// NewRegistry creates a new fetcher registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// NewRegistryFromConfig registers configured fetchers first, then the
// built-in YouTube and generic fetchers.
func NewRegistryFromConfig(fetchers []config.FetcherConfig, dl config.DownloadsConfig) (*Registry, error) {
	r := NewRegistry()
	for _, fc := range fetchers {
		f, err := NewCommandFetcher(fc, dl)
		if err != nil {
			return nil, fmt.Errorf("fetcher %q: %w", fc.Name, err)
		}
		r.Register(f)
	}
	r.Register(NewYouTubeFetcher(dl))
	r.Register(NewGenericFetcher(dl))
	return r, nil
}

// Register adds a fetcher to the registry.
func (r *Registry) Register(f Fetcher) {
	r.fetchers = append(r.fetchers, f)
}

// Match returns the first fetcher that matches the URL, or nil.
func (r *Registry) Match(url string) Fetcher {
	for _, f := range r.fetchers {
		if f.Match(url) {
			return f
		}
	}
	return nil
}

// Fetchers returns all registered fetchers.
func (r *Registry) Fetchers() []Fetcher {
	return r.fetchers
}

func (r *Registry) Metadata(ctx context.Context, url string) (*domain.Metadata, error) {
	f := r.Match(url)
	if f == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoFetcher, url)
	}
	return f.Metadata(ctx, url)
}

func (r *Registry) Download(ctx context.Context, url, basename string) error {
	f := r.Match(url)
	if f == nil {
		return fmt.Errorf("%w: %s", ErrNoFetcher, url)
	}
	return f.Download(ctx, url, basename)
}
