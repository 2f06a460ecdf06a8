// Package api provides the HTTP API for entitlements and site settings.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/felixgeelhaar/agora/pkg/observability"
)

// Server is the HTTP API server.
type Server struct {
	engine *gin.Engine
	server *http.Server
	logger *slog.Logger
}

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         "0.0.0.0:8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Handlers groups everything the router dispatches to.
type Handlers struct {
	Entitlements *EntitlementHandler
	Settings     *SettingsHandler
	Tokens       *TokenVerifier
	Health       *observability.HealthRegistry
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig, h Handlers, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), RequestContext(), AccessLog(logger))

	s := &Server{engine: engine, logger: logger}
	s.registerRoutes(h)

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) registerRoutes(h Handlers) {
	s.engine.GET("/health", s.handleHealth(h.Health))
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.engine.Group("/api/v1", Authenticate(h.Tokens))

	v1.POST("/entitlements/reconcile", h.Entitlements.Reconcile)
	v1.GET("/entitlements", h.Entitlements.List)
	v1.GET("/entitlements/:kind/:resource_id", h.Entitlements.Get)
	v1.PUT("/entitlements/:kind/:resource_id", h.Entitlements.Set)
	v1.GET("/entitlements/:kind/:resource_id/history", h.Entitlements.History)
	v1.GET("/resources/:kind/:resource_id/count", h.Entitlements.Count)
	v1.POST("/payments/confirm", h.Entitlements.ConfirmPayment)

	admin := v1.Group("/admin")
	admin.PUT("/payment-status", h.Entitlements.SetPaymentStatus)
	admin.GET("/audit", h.Entitlements.SubjectAudit)

	v1.GET("/settings", h.Settings.Get)
	v1.PUT("/settings", h.Settings.Update)
}

func (s *Server) handleHealth(registry *observability.HealthRegistry) gin.HandlerFunc {
	return func(c *gin.Context) {
		if registry == nil {
			c.JSON(http.StatusOK, gin.H{"status": observability.HealthStatusHealthy, "timestamp": time.Now().UTC()})
			return
		}
		health := registry.Check(c.Request.Context())
		c.JSON(health.HTTPStatus(), health)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting API server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}
