package serve

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/chat"
	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/plugin/cache/noop"
	"github.com/chirino/chat-service/internal/plugin/route/conversations"
	"github.com/chirino/chat-service/internal/plugin/route/messages"
	routesystem "github.com/chirino/chat-service/internal/plugin/route/system"
	"github.com/chirino/chat-service/internal/plugin/route/users"
	storemetrics "github.com/chirino/chat-service/internal/plugin/store/metrics"
	registrycache "github.com/chirino/chat-service/internal/registry/cache"
	registrymigrate "github.com/chirino/chat-service/internal/registry/migrate"
	registryroute "github.com/chirino/chat-service/internal/registry/route"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/security"
	"github.com/gin-gonic/gin"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config          *config.Config
	Store           registrystore.ChatStore
	Service         *chat.Service
	Router          *gin.Engine
	Running         *RunningServers
	closeManagement func(context.Context) error
	closers         []io.Closer
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	routesystem.MarkNotReady()
	if s.closeManagement != nil {
		_ = s.closeManagement(ctx)
	}
	err := s.Running.Close(ctx)
	for _, c := range s.closers {
		if cerr := c.Close(); cerr != nil {
			log.Warn("Close failed", "err", cerr)
		}
	}
	return err
}

// StartServer initializes all subsystems and starts HTTP on a single port.
// Use cfg.Listener.Port=0 for a random port. Actual port: Server.Running.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting chat service",
		"httpPort", cfg.Listener.Port,
		"db", cfg.DatastoreType,
		"cache", cfg.CacheType,
		"mode", cfg.Mode,
	)
	if cfg.Mode == config.ModeTesting {
		log.Warn("Testing mode: bare user ids are accepted as bearer tokens")
	}

	// Initialize Prometheus metrics with configured constant labels.
	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	srv := &Server{Config: cfg}

	// A missing cache only costs lookups; the service falls back to the store.
	participants := noop.New()
	if cacheLoader, err := registrycache.Select(cfg.CacheType); err != nil {
		log.Warn("Cache not available", "cache", cfg.CacheType, "err", err)
	} else if loaded, err := cacheLoader(ctx); err != nil {
		log.Warn("Failed to initialize cache", "cache", cfg.CacheType, "err", err)
	} else {
		participants = loaded
		if c, ok := loaded.(io.Closer); ok {
			srv.closers = append(srv.closers, c)
		}
	}

	storeLoader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return nil, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	store = storemetrics.Wrap(store)
	srv.Store = store

	srv.Service = chat.NewService(store, participants, chat.Options{
		DefaultPageSize:  cfg.DefaultPageSize,
		MaxPageSize:      cfg.MaxPageSize,
		MaxMessageLength: cfg.MaxMessageLength,
	})

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(security.AccessLogMiddleware())
	} else {
		router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(security.MetricsMiddleware())
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))
	if cfg.PrivilegedAudit {
		// Reads the identity after the handler chain, so it may sit ahead of auth.
		router.Use(security.PrivilegedAuditMiddleware())
	}
	if cfg.CORSEnabled {
		router.Use(corsMiddleware(cfg.CORSOrigins))
	}
	srv.Router = router

	resolver := security.NewTokenResolver(cfg)
	auth := security.AuthMiddleware(resolver, store)

	if err := registryroute.MountAll(router, registryroute.RouteTypeMain); err != nil {
		return nil, fmt.Errorf("failed to load routes: %w", err)
	}
	conversations.MountRoutes(router, srv.Service, auth)
	messages.MountRoutes(router, srv.Service, auth)
	users.MountRoutes(router, store, auth)

	// With a dedicated management port, health and metrics run on their own engine.
	// Otherwise they share the main router.
	if cfg.ManagementListenerEnabled {
		mgmtRouter := gin.New()
		mgmtRouter.Use(gin.Recovery())
		if cfg.ManagementAccessLog {
			mgmtRouter.Use(security.AccessLogMiddleware())
		}
		if err := registryroute.MountAll(mgmtRouter, registryroute.RouteTypeManagement); err != nil {
			return nil, fmt.Errorf("failed to load management routes: %w", err)
		}
		// Management listener shares TLS cert/key with the main listener.
		mgmtCfg := cfg.ManagementListener
		mgmtCfg.TLSCertFile = cfg.Listener.TLSCertFile
		mgmtCfg.TLSKeyFile = cfg.Listener.TLSKeyFile
		_, srv.closeManagement, err = startManagementServer(mgmtCfg, mgmtRouter)
		if err != nil {
			return nil, fmt.Errorf("failed to start management server: %w", err)
		}
	} else if err := registryroute.MountAll(router, registryroute.RouteTypeManagement); err != nil {
		return nil, fmt.Errorf("failed to load management routes: %w", err)
	}

	running, err := StartSinglePortHTTP(ctx, cfg.Listener, router)
	if err != nil {
		return nil, err
	}
	srv.Running = running

	log.Info("Server listening",
		"port", running.Port,
		"plaintext", cfg.Listener.EnablePlainText,
		"tls", cfg.Listener.EnableTLS,
	)

	routesystem.MarkReady()
	return srv, nil
}
