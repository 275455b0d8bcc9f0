package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lightloop/chat-service/internal/config"
	"github.com/lightloop/chat-service/internal/model/catalog"
	registrycache "github.com/lightloop/chat-service/internal/registry/cache"
	goredis "github.com/redis/go-redis/v9"
)

const (
	catalogKey = "model-catalog"
	defaultTTL = 5 * time.Minute
)

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.ModelCatalogCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: LIGHTLOOP_REDIS_URL is required")
	}
	return LoadFromURL(ctx, cfg.RedisURL)
}

// LoadFromURL creates a ModelCatalogCache from a Redis-compatible URL.
func LoadFromURL(ctx context.Context, redisURL string) (registrycache.ModelCatalogCache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	return &catalogCache{client: client}, nil
}

type catalogCache struct {
	client *goredis.Client
}

func (c *catalogCache) Available() bool { return true }

func (c *catalogCache) Get(ctx context.Context) ([]catalog.Model, bool, error) {
	data, err := c.client.Get(ctx, catalogKey).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var models []catalog.Model
	if err := json.Unmarshal(data, &models); err != nil {
		return nil, false, err
	}
	return models, true, nil
}

func (c *catalogCache) Set(ctx context.Context, models []catalog.Model, ttl time.Duration) error {
	data, err := json.Marshal(models)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return c.client.Set(ctx, catalogKey, data, ttl).Err()
}

func (c *catalogCache) Remove(ctx context.Context) error {
	return c.client.Del(ctx, catalogKey).Err()
}

var _ registrycache.ModelCatalogCache = (*catalogCache)(nil)
