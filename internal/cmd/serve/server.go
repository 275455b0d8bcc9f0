package serve

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/lightloop/chat-service/internal/chat"
	"github.com/lightloop/chat-service/internal/config"
	"github.com/lightloop/chat-service/internal/llm/openrouter"
	cachenoop "github.com/lightloop/chat-service/internal/plugin/cache/noop"
	chatroute "github.com/lightloop/chat-service/internal/plugin/route/chat"
	"github.com/lightloop/chat-service/internal/plugin/route/checkpoints"
	"github.com/lightloop/chat-service/internal/plugin/route/conversations"
	"github.com/lightloop/chat-service/internal/plugin/route/models"
	routesystem "github.com/lightloop/chat-service/internal/plugin/route/system"
	storemetrics "github.com/lightloop/chat-service/internal/plugin/store/metrics"
	registrycache "github.com/lightloop/chat-service/internal/registry/cache"
	registrymigrate "github.com/lightloop/chat-service/internal/registry/migrate"
	registryroute "github.com/lightloop/chat-service/internal/registry/route"
	registrystore "github.com/lightloop/chat-service/internal/registry/store"
	"github.com/lightloop/chat-service/internal/security"
	"github.com/lightloop/chat-service/internal/tools"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config       *config.Config
	Store        registrystore.ChatStore
	Router       *gin.Engine
	Orchestrator *chat.Orchestrator
	// Port is the actual listening port; differs from Config.Port when 0
	// was requested.
	Port int

	httpServer *http.Server
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// StartServer initializes all subsystems and starts the HTTP server.
// Use cfg.Port=0 for an OS-assigned port; the actual port is Server.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting chat service",
		"port", cfg.Port,
		"db", cfg.DatastoreType,
		"cache", cfg.CacheType,
		"model", cfg.DefaultModel,
	)

	// Initialize Prometheus metrics with configured constant labels.
	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	// Run migrations
	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	// Initialize the model catalog cache, degrading to no caching rather
	// than refusing to start.
	var catalogCache registrycache.ModelCatalogCache = cachenoop.MustNew()
	if cacheLoader, err := registrycache.Select(cfg.CacheType); err != nil {
		log.Warn("Cache not available", "cache", cfg.CacheType, "err", err)
	} else if loaded, err := cacheLoader(ctx); err != nil {
		log.Warn("Failed to initialize cache", "cache", cfg.CacheType, "err", err)
	} else {
		catalogCache = loaded
	}

	// Initialize store
	storeLoader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return nil, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	store = storemetrics.Wrap(store)

	// Set up gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(security.RequestIDMiddleware())
	if cfg.ManagementAccessLog {
		router.Use(security.AccessLogMiddleware())
	} else {
		router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(security.MetricsMiddleware())
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))
	if cfg.CORSEnabled {
		router.Use(corsMiddleware(cfg.CORSOrigins))
	}

	// Mount route plugins registered via init().
	for _, loader := range registryroute.Loaders(registryroute.RouteTypeMain) {
		if err := loader(router); err != nil {
			return nil, fmt.Errorf("failed to load routes: %w", err)
		}
	}
	for _, loader := range registryroute.Loaders(registryroute.RouteTypeManagement) {
		if err := loader(router); err != nil {
			return nil, fmt.Errorf("failed to load management routes: %w", err)
		}
	}

	// Completion provider and chat orchestrator.
	provider := openrouter.New(cfg, catalogCache)
	registry := tools.NewRegistry(store)
	orch := chat.NewOrchestrator(store, provider, registry, cfg)

	// Shared token resolver and auth middleware.
	resolver := security.NewTokenResolver(cfg)
	auth := security.AuthMiddleware(resolver)

	// Mount API routes.
	chatroute.MountRoutes(router, orch, auth)
	conversations.MountRoutes(router, orch, auth)
	checkpoints.MountRoutes(router, orch, auth)
	models.MountRoutes(router, provider, auth)

	httpServer := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	go func() {
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", "err", err)
		}
	}()

	port := listener.Addr().(*net.TCPAddr).Port
	log.Info("Server listening", "port", port)

	routesystem.MarkReady()
	return &Server{
		Config:       cfg,
		Store:        store,
		Router:       router,
		Orchestrator: orch,
		Port:         port,
		httpServer:   httpServer,
	}, nil
}
