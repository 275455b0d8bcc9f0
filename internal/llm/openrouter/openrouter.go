// Package openrouter implements the llm.Provider interface against the
// OpenRouter chat completions and model listing APIs.
package openrouter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-resty/resty/v2"
	"github.com/lightloop/chat-service/internal/config"
	"github.com/lightloop/chat-service/internal/llm"
	"github.com/lightloop/chat-service/internal/model/catalog"
	registrycache "github.com/lightloop/chat-service/internal/registry/cache"
	"github.com/lightloop/chat-service/internal/security"
)

const requestTimeout = 120 * time.Second

type Client struct {
	rest    *resty.Client
	baseURL string
	apiKey  string
	referer string
	title   string
	cache   registrycache.ModelCatalogCache
	ttl     time.Duration
}

var _ llm.Provider = (*Client)(nil)

// New builds an OpenRouter client. The cache softens the model listing
// endpoint; pass a noop cache to always hit upstream.
func New(cfg *config.Config, cache registrycache.ModelCatalogCache) *Client {
	rest := resty.New().
		SetTimeout(requestTimeout).
		SetHeader("Content-Type", "application/json")
	return &Client{
		rest:    rest,
		baseURL: strings.TrimRight(cfg.OpenRouterBaseURL, "/"),
		apiKey:  cfg.OpenRouterAPIKey,
		referer: cfg.AppReferer,
		title:   cfg.AppTitle,
		cache:   cache,
		ttl:     cfg.ModelCacheTTL,
	}
}

func (c *Client) prepare(ctx context.Context) *resty.Request {
	req := c.rest.R().SetContext(ctx)
	if c.apiKey != "" {
		req.SetHeader("Authorization", "Bearer "+c.apiKey)
	}
	if c.referer != "" {
		req.SetHeader("HTTP-Referer", c.referer)
	}
	if c.title != "" {
		req.SetHeader("X-Title", c.title)
	}
	return req
}

// Models returns the model catalog, served from cache while the TTL holds.
func (c *Client) Models(ctx context.Context) ([]catalog.Model, error) {
	if c.cache != nil && c.cache.Available() {
		models, ok, err := c.cache.Get(ctx)
		if err != nil {
			log.Warn("Model cache read failed", "err", err)
		} else if ok {
			if security.CacheHitsTotal != nil {
				security.CacheHitsTotal.Inc()
			}
			return models, nil
		}
		if security.CacheMissesTotal != nil {
			security.CacheMissesTotal.Inc()
		}
	}

	var listing struct {
		Data []catalog.Model `json:"data"`
	}
	resp, err := c.prepare(ctx).
		SetResult(&listing).
		Get(c.baseURL + "/models")
	if err != nil {
		return nil, fmt.Errorf("fetching model catalog: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetching model catalog: upstream returned %s", resp.Status())
	}

	if c.cache != nil && c.cache.Available() {
		if err := c.cache.Set(ctx, listing.Data, c.ttl); err != nil {
			log.Warn("Model cache write failed", "err", err)
		}
	}
	return listing.Data, nil
}

// ValidateModel checks a model id against the catalog. Unknown ids get a
// best-effort suggestion from the same listing.
func (c *Client) ValidateModel(ctx context.Context, id string) (*catalog.ValidationResult, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return &catalog.ValidationResult{Valid: false, Error: "model id is required"}, nil
	}
	models, err := c.Models(ctx)
	if err != nil {
		return nil, err
	}
	for i := range models {
		if models[i].ID == id {
			return &catalog.ValidationResult{Valid: true, Model: &models[i]}, nil
		}
	}
	return &catalog.ValidationResult{
		Valid:      false,
		Error:      fmt.Sprintf("unknown model %q", id),
		Suggestion: suggestModel(models, id),
	}, nil
}

// suggestModel picks the closest catalog id for a near-miss: same id under a
// different vendor prefix first, then a substring match.
func suggestModel(models []catalog.Model, id string) string {
	bare := id
	if idx := strings.LastIndexByte(id, '/'); idx >= 0 {
		bare = id[idx+1:]
	}
	var substring string
	for _, m := range models {
		if strings.HasSuffix(m.ID, "/"+bare) || m.ID == bare {
			return m.ID
		}
		if substring == "" && bare != "" && strings.Contains(m.ID, bare) {
			substring = m.ID
		}
	}
	return substring
}
