package noop

import (
	"context"
	"time"

	"github.com/lightloop/chat-service/internal/model/catalog"
	"github.com/lightloop/chat-service/internal/registry/cache"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (cache.ModelCatalogCache, error) {
			return &noopCatalogCache{}, nil
		},
	})
}

// MustNew returns a no-op cache without going through the registry. Used as
// the fallback when the configured cache fails to initialize.
func MustNew() cache.ModelCatalogCache {
	return &noopCatalogCache{}
}

type noopCatalogCache struct{}

func (n *noopCatalogCache) Available() bool { return false }
func (n *noopCatalogCache) Get(_ context.Context) ([]catalog.Model, bool, error) {
	return nil, false, nil
}
func (n *noopCatalogCache) Set(_ context.Context, _ []catalog.Model, _ time.Duration) error {
	return nil
}
func (n *noopCatalogCache) Remove(_ context.Context) error { return nil }

var _ cache.ModelCatalogCache = (*noopCatalogCache)(nil)
