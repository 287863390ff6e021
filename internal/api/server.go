package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/burrowhq/burrow/internal/api/handlers"
	"github.com/burrowhq/burrow/internal/api/middleware"
	"github.com/burrowhq/burrow/internal/config"
	"github.com/burrowhq/burrow/internal/logging"
	"github.com/burrowhq/burrow/internal/tunnel"
)

// Rate limits per control-plane route, requests per minute per client.
const (
	createRPM = 10
	deleteRPM = 20
	listRPM   = 30
	statusRPM = 60
)

// Server assembles the gateway's HTTP surface: service endpoints, the
// tunnel control plane, the owner channel endpoint, and the catch-all
// ingress proxy.
type Server struct {
	router   *gin.Engine
	cfg      *config.Config
	registry *tunnel.Registry
	logger   *logging.Logger
}

func NewServer(cfg *config.Config, registry *tunnel.Registry, logger *logging.Logger) *Server {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS())
	router.Use(middleware.ProcessTime())
	router.Use(middleware.RequestLogger(logger))
	if cfg.OTLPEndpoint != "" {
		router.Use(otelgin.Middleware(cfg.AppName))
	}

	server := &Server{
		router:   router,
		cfg:      cfg,
		registry: registry,
		logger:   logger,
	}
	server.initializeRoutes()
	return server
}

func (s *Server) initializeRoutes() {
	healthHandler := handlers.NewHealthHandler(s.cfg)
	tunnelHandler := handlers.NewTunnelHandler(s.cfg, s.registry, s.logger)
	channelHandler := handlers.NewChannelHandler(s.cfg, s.registry, s.logger)
	proxyHandler := handlers.NewProxyHandler(s.cfg, s.registry, s.logger)
	adminHandler := handlers.NewAdminHandler(s.logger)

	// Service endpoints, unauthenticated
	s.router.GET("/", healthHandler.RootNotFound)
	s.router.GET("/health", healthHandler.Check)
	s.router.GET("/api", healthHandler.ServiceInfo)

	// Control plane, either shared key
	tunnels := s.router.Group("/api/tunnels")
	tunnels.Use(middleware.RequireAPIKey(s.cfg.APIKey, s.cfg.AdminAPIKey))
	{
		tunnels.POST("/create", middleware.RateLimitPerMinute(createRPM), tunnelHandler.Create)
		tunnels.GET("/list", middleware.RateLimitPerMinute(listRPM), tunnelHandler.List)
		tunnels.GET("/:tunnel_id/status", middleware.RateLimitPerMinute(statusRPM), tunnelHandler.Status)
		tunnels.DELETE("/:tunnel_id", middleware.RateLimitPerMinute(deleteRPM), tunnelHandler.Delete)
	}

	// Owner channel endpoint; authentication happens in-band with the
	// tunnel's own token
	s.router.GET("/api/tunnel/connect/:tunnel_id", channelHandler.Connect)

	// Admin endpoints, admin key only
	admin := s.router.Group("/api/admin")
	admin.Use(middleware.RequireAPIKey(s.cfg.AdminAPIKey))
	{
		admin.GET("/logs", adminHandler.RecentLogs)
	}

	// Everything else is public tunnel traffic
	s.router.NoRoute(proxyHandler.Handle)
}

// Handler exposes the assembled routes for an http.Server or a test.
func (s *Server) Handler() http.Handler {
	return s.router
}
