package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/lightloop/chat-service/internal/model/catalog"
)

// ModelCatalogCache caches the upstream model listing between requests.
// Implementations must be safe for concurrent use.
type ModelCatalogCache interface {
	Available() bool
	Get(ctx context.Context) ([]catalog.Model, bool, error)
	Set(ctx context.Context, models []catalog.Model, ttl time.Duration) error
	Remove(ctx context.Context) error
}

// Loader creates a cache from config carried in ctx.
type Loader func(ctx context.Context) (ModelCatalogCache, error)

// Plugin represents a cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
