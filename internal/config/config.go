package config

import (
	"context"
	"time"
)

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

const (
	ModeProd    = "prod"
	ModeTesting = "testing"
)

// Config holds all configuration for the chat service.
type Config struct {
	// Mode controls security behavior: "prod" (default) or "testing".
	// In testing mode, X-User-ID / X-Org-ID / X-Org-Role headers are
	// accepted in place of a verified token.
	Mode string

	// Server
	Port              int
	ReadHeaderTimeout time.Duration
	CORSEnabled       bool
	CORSOrigins       string
	MaxBodySize       int64
	// Graceful shutdown drain timeout (seconds)
	DrainTimeout int
	// ManagementAccessLog enables HTTP access logging for /health, /ready,
	// and /metrics. Disabled by default to suppress probe noise.
	ManagementAccessLog bool

	// Database
	DatastoreType           string // "sqlite" or "postgres"
	DBURL                   string
	DatastoreMigrateAtStart bool
	DBMaxOpenConns          int
	DBMaxIdleConns          int

	// Model catalog cache
	CacheType     string // "memory", "redis", or "none"
	RedisURL      string
	ModelCacheTTL time.Duration

	// OpenRouter
	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	DefaultModel      string
	AppReferer        string
	AppTitle          string
	// Maximum tool-call rounds per chat turn before the stream is finalized.
	ToolCallRounds int

	// OIDC
	OIDCIssuer       string
	OIDCDiscoveryURL string

	// ObservabilitySalt, when set, hashes external user ids before they are
	// forwarded upstream as the completion "user" field.
	ObservabilitySalt string

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics.
	MetricsLabels string

	// Conversation lifecycle
	ResumeWindow   time.Duration
	CheckpointTail int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:                    ModeProd,
		Port:                    8080,
		ReadHeaderTimeout:       5 * time.Second,
		MaxBodySize:             4 * 1024 * 1024,
		DrainTimeout:            30,
		DatastoreType:           "sqlite",
		DBURL:                   "file:lightloop.db?_fk=1",
		DatastoreMigrateAtStart: true,
		DBMaxOpenConns:          25,
		DBMaxIdleConns:          5,
		CacheType:               "memory",
		ModelCacheTTL:           5 * time.Minute,
		OpenRouterBaseURL:       "https://openrouter.ai/api/v1",
		DefaultModel:            "anthropic/claude-sonnet-4.5",
		AppReferer:              "https://lightloop.app",
		AppTitle:                "Lightloop",
		ToolCallRounds:          4,
		ResumeWindow:            12 * time.Hour,
		CheckpointTail:          4,
	}
}
