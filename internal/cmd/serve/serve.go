package serve

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/lightloop/chat-service/internal/config"
	registrycache "github.com/lightloop/chat-service/internal/registry/cache"
	registrystore "github.com/lightloop/chat-service/internal/registry/store"
	"github.com/urfave/cli/v3"

	// Import all plugins to trigger init() registration
	_ "github.com/lightloop/chat-service/internal/plugin/cache/memory"
	_ "github.com/lightloop/chat-service/internal/plugin/cache/noop"
	_ "github.com/lightloop/chat-service/internal/plugin/cache/redis"
	_ "github.com/lightloop/chat-service/internal/plugin/route/system"
	_ "github.com/lightloop/chat-service/internal/plugin/store/gormstore"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var readHeaderTimeoutSecs int = 5
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the chat service HTTP server",
		Flags: flags(&cfg, &readHeaderTimeoutSecs),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg.ReadHeaderTimeout = time.Duration(readHeaderTimeoutSecs) * time.Second
			return run(config.WithContext(ctx, &cfg), cfg)
		},
	}
}

func flags(cfg *config.Config, readHeaderTimeoutSecs *int) []cli.Flag {
	return []cli.Flag{

		// ── Server ────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "mode",
			Category:    "Server:",
			Sources:     cli.EnvVars("LIGHTLOOP_MODE"),
			Destination: &cfg.Mode,
			Value:       cfg.Mode,
			Usage:       "Security mode (prod|testing); testing accepts X-User-ID headers in place of tokens",
		},
		&cli.IntFlag{
			Name:        "port",
			Category:    "Server:",
			Sources:     cli.EnvVars("LIGHTLOOP_PORT"),
			Destination: &cfg.Port,
			Value:       cfg.Port,
			Usage:       "HTTP server port",
		},
		&cli.IntFlag{
			Name:        "read-header-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("LIGHTLOOP_READ_HEADER_TIMEOUT_SECONDS"),
			Destination: readHeaderTimeoutSecs,
			Value:       *readHeaderTimeoutSecs,
			Usage:       "HTTP read header timeout in seconds",
		},
		&cli.BoolFlag{
			Name:        "cors",
			Category:    "Server:",
			Sources:     cli.EnvVars("LIGHTLOOP_CORS"),
			Destination: &cfg.CORSEnabled,
			Usage:       "Enable CORS handling",
		},
		&cli.StringFlag{
			Name:        "cors-origins",
			Category:    "Server:",
			Sources:     cli.EnvVars("LIGHTLOOP_CORS_ORIGINS"),
			Destination: &cfg.CORSOrigins,
			Usage:       "Comma-separated allowed CORS origins; empty allows any",
		},
		&cli.IntFlag{
			Name:        "drain-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("LIGHTLOOP_DRAIN_TIMEOUT_SECONDS"),
			Destination: &cfg.DrainTimeout,
			Value:       cfg.DrainTimeout,
			Usage:       "Graceful shutdown drain timeout in seconds",
		},
		&cli.BoolFlag{
			Name:        "management-access-log",
			Category:    "Server:",
			Sources:     cli.EnvVars("LIGHTLOOP_MANAGEMENT_ACCESS_LOG"),
			Destination: &cfg.ManagementAccessLog,
			Usage:       "Enable HTTP access logging for management endpoints (/health, /ready, /metrics)",
		},

		// ── Database ───────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "db-kind",
			Category:    "Database:",
			Sources:     cli.EnvVars("LIGHTLOOP_DB_KIND"),
			Destination: &cfg.DatastoreType,
			Value:       cfg.DatastoreType,
			Usage:       "Backend store (" + strings.Join(registrystore.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Database:",
			Sources:     cli.EnvVars("LIGHTLOOP_DB_URL"),
			Destination: &cfg.DBURL,
			Value:       cfg.DBURL,
			Usage:       "Database connection URL",
		},
		&cli.BoolFlag{
			Name:        "db-migrate-at-start",
			Category:    "Database:",
			Sources:     cli.EnvVars("LIGHTLOOP_DB_MIGRATE_AT_START"),
			Destination: &cfg.DatastoreMigrateAtStart,
			Value:       cfg.DatastoreMigrateAtStart,
			Usage:       "Run schema migrations before serving",
		},
		&cli.IntFlag{
			Name:        "db-max-open-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("LIGHTLOOP_DB_MAX_OPEN_CONNS"),
			Destination: &cfg.DBMaxOpenConns,
			Value:       cfg.DBMaxOpenConns,
			Usage:       "Maximum number of open database connections",
		},
		&cli.IntFlag{
			Name:        "db-max-idle-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("LIGHTLOOP_DB_MAX_IDLE_CONNS"),
			Destination: &cfg.DBMaxIdleConns,
			Value:       cfg.DBMaxIdleConns,
			Usage:       "Maximum number of idle database connections",
		},

		// ── Cache ─────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "cache-kind",
			Category:    "Cache:",
			Sources:     cli.EnvVars("LIGHTLOOP_CACHE_KIND"),
			Destination: &cfg.CacheType,
			Value:       cfg.CacheType,
			Usage:       "Model catalog cache backend (" + strings.Join(registrycache.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Category:    "Cache:",
			Sources:     cli.EnvVars("LIGHTLOOP_REDIS_URL"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis connection URL for the redis cache backend",
		},
		&cli.DurationFlag{
			Name:        "model-cache-ttl",
			Category:    "Cache:",
			Sources:     cli.EnvVars("LIGHTLOOP_MODEL_CACHE_TTL"),
			Destination: &cfg.ModelCacheTTL,
			Value:       cfg.ModelCacheTTL,
			Usage:       "How long the upstream model listing is cached",
		},

		// ── OpenRouter ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "openrouter-api-key",
			Category:    "OpenRouter:",
			Sources:     cli.EnvVars("LIGHTLOOP_OPENROUTER_API_KEY", "OPENROUTER_API_KEY"),
			Destination: &cfg.OpenRouterAPIKey,
			Usage:       "OpenRouter API key",
		},
		&cli.StringFlag{
			Name:        "openrouter-base-url",
			Category:    "OpenRouter:",
			Sources:     cli.EnvVars("LIGHTLOOP_OPENROUTER_BASE_URL"),
			Destination: &cfg.OpenRouterBaseURL,
			Value:       cfg.OpenRouterBaseURL,
			Usage:       "OpenRouter API base URL",
		},
		&cli.StringFlag{
			Name:        "default-model",
			Category:    "OpenRouter:",
			Sources:     cli.EnvVars("LIGHTLOOP_DEFAULT_MODEL"),
			Destination: &cfg.DefaultModel,
			Value:       cfg.DefaultModel,
			Usage:       "Model used when a chat turn does not specify one",
		},
		&cli.StringFlag{
			Name:        "app-referer",
			Category:    "OpenRouter:",
			Sources:     cli.EnvVars("LIGHTLOOP_APP_REFERER"),
			Destination: &cfg.AppReferer,
			Value:       cfg.AppReferer,
			Usage:       "HTTP-Referer header sent to OpenRouter for app attribution",
		},
		&cli.StringFlag{
			Name:        "app-title",
			Category:    "OpenRouter:",
			Sources:     cli.EnvVars("LIGHTLOOP_APP_TITLE"),
			Destination: &cfg.AppTitle,
			Value:       cfg.AppTitle,
			Usage:       "X-Title header sent to OpenRouter for app attribution",
		},
		&cli.IntFlag{
			Name:        "tool-call-rounds",
			Category:    "OpenRouter:",
			Sources:     cli.EnvVars("LIGHTLOOP_TOOL_CALL_ROUNDS"),
			Destination: &cfg.ToolCallRounds,
			Value:       cfg.ToolCallRounds,
			Usage:       "Maximum tool-call rounds per chat turn",
		},

		// ── Authorization ─────────────────────────────────────────
		&cli.StringFlag{
			Name:        "oidc-issuer",
			Category:    "Authorization:",
			Sources:     cli.EnvVars("LIGHTLOOP_OIDC_ISSUER"),
			Destination: &cfg.OIDCIssuer,
			Usage:       "OIDC issuer URL (enables OIDC auth)",
		},
		&cli.StringFlag{
			Name:        "oidc-discovery-url",
			Category:    "Authorization:",
			Sources:     cli.EnvVars("LIGHTLOOP_OIDC_DISCOVERY_URL"),
			Destination: &cfg.OIDCDiscoveryURL,
			Usage:       "OIDC discovery URL (internal URL when issuer is not directly reachable)",
		},

		// ── Monitoring ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "observability-salt",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("LIGHTLOOP_OBSERVABILITY_SALT"),
			Destination: &cfg.ObservabilitySalt,
			Usage:       "Salt for hashing user ids before they are forwarded upstream",
		},
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("LIGHTLOOP_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Value:       "service=chat-service",
			Usage:       "Comma-separated key=value pairs added as constant labels to all Prometheus metrics. Supports ${VAR} expansion.",
		},

		// ── Conversation Lifecycle ────────────────────────────────
		&cli.DurationFlag{
			Name:        "resume-window",
			Category:    "Conversation Lifecycle:",
			Sources:     cli.EnvVars("LIGHTLOOP_RESUME_WINDOW"),
			Destination: &cfg.ResumeWindow,
			Value:       cfg.ResumeWindow,
			Usage:       "Idle window within which a located conversation is resumed instead of checkpointed",
		},
		&cli.IntFlag{
			Name:        "checkpoint-tail",
			Category:    "Conversation Lifecycle:",
			Sources:     cli.EnvVars("LIGHTLOOP_CHECKPOINT_TAIL"),
			Destination: &cfg.CheckpointTail,
			Value:       cfg.CheckpointTail,
			Usage:       "Number of trailing messages summarized into a checkpoint",
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	srv, err := StartServer(ctx, &cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Duration(cfg.DrainTimeout)*time.Second)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Server stopped")
	return nil
}

func maxBodySizeMiddleware(maxBodySize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
		c.Next()
	}
}
