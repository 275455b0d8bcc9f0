// Package memory provides an in-process model catalog cache backed by
// ristretto. Suitable for single-instance deployments; multi-instance
// deployments should prefer the redis plugin so listings stay consistent.
package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/lightloop/chat-service/internal/model/catalog"
	registrycache "github.com/lightloop/chat-service/internal/registry/cache"
)

const catalogKey = "model-catalog"

func init() {
	registrycache.Register(registrycache.Plugin{
		Name: "memory",
		Loader: func(ctx context.Context) (registrycache.ModelCatalogCache, error) {
			return New()
		},
	})
}

// New creates an in-process catalog cache.
func New() (registrycache.ModelCatalogCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, []catalog.Model]{
		NumCounters: 1024,
		MaxCost:     64,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("memory cache: %w", err)
	}
	return &catalogCache{cache: cache}, nil
}

type catalogCache struct {
	cache *ristretto.Cache[string, []catalog.Model]
}

func (c *catalogCache) Available() bool { return true }

func (c *catalogCache) Get(_ context.Context) ([]catalog.Model, bool, error) {
	models, found := c.cache.Get(catalogKey)
	if !found {
		return nil, false, nil
	}
	return models, true, nil
}

func (c *catalogCache) Set(_ context.Context, models []catalog.Model, ttl time.Duration) error {
	c.cache.SetWithTTL(catalogKey, models, 1, ttl)
	// Ristretto applies writes asynchronously; wait so a listing fetched
	// right after caching is served from cache.
	c.cache.Wait()
	return nil
}

func (c *catalogCache) Remove(_ context.Context) error {
	c.cache.Del(catalogKey)
	return nil
}

var _ registrycache.ModelCatalogCache = (*catalogCache)(nil)
