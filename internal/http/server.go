// Package http provides the broker HTTP server, its router and shared middleware.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	authHTTP "github.com/allisson/agentbroker/internal/auth/http"
	"github.com/allisson/agentbroker/internal/config"
	consentHTTP "github.com/allisson/agentbroker/internal/consent/http"
	"github.com/allisson/agentbroker/internal/metrics"
	sessionHTTP "github.com/allisson/agentbroker/internal/session/http"
	streamHTTP "github.com/allisson/agentbroker/internal/stream/http"
)

// Routes that hold the connection for the session lifetime.
const (
	eventsRoute        = "/events/:sessionId"
	consentSocketRoute = "/consent/ws"
)

// Handlers groups the broker route handlers. They are not reached while the broker
// is disabled, so a zero value is valid in that case.
type Handlers struct {
	Session *sessionHTTP.SessionHandler
	Consent *consentHTTP.ConsentHandler
	Stream  *streamHTTP.StreamHandler
}

// Server represents the HTTP server
type Server struct {
	server          *http.Server
	router          *gin.Engine
	config          *config.Config
	handlers        Handlers
	metricsProvider *metrics.Provider
	logger          *slog.Logger
	ready           atomic.Bool
}

// NewServer creates a new HTTP server. The router is built on Start unless one was
// set beforehand.
func NewServer(
	cfg *config.Config,
	handlers Handlers,
	metricsProvider *metrics.Provider,
	logger *slog.Logger,
) *Server {
	return &Server{
		config:          cfg,
		handlers:        handlers,
		metricsProvider: metricsProvider,
		logger:          logger,
		server: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort),
			ReadHeaderTimeout: 15 * time.Second,
			ReadTimeout:       15 * time.Second,
			// Event streams and the consent socket stay open for the session lifetime.
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// SetupRouter builds the router. ctx bounds background work started by middleware.
func (s *Server) SetupRouter(ctx context.Context) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestid.New(requestid.WithGenerator(func() string {
		return uuid.Must(uuid.NewV7()).String()
	})))
	router.Use(CustomLoggerMiddleware(s.logger))

	if corsMiddleware := createCORSMiddleware(s.config.CORSEnabled, s.config.CORSAllowOrigins, s.logger); corsMiddleware != nil {
		router.Use(corsMiddleware)
	}

	if s.metricsProvider != nil {
		router.Use(metrics.HTTPMetricsMiddleware(
			s.metricsProvider.MeterProvider(),
			s.metricsProvider.Namespace(),
			eventsRoute,
			consentSocketRoute,
		))
	}

	router.GET("/health", s.healthHandler)
	router.GET("/ready", s.readinessHandler)

	broker := router.Group("", BrokerGateMiddleware(s.config.BrokerEnabled, s.logger))

	identified := broker.Group("", authHTTP.IdentityMiddleware(s.logger))
	{
		start := []gin.HandlerFunc{}
		if s.config.RateLimitEnabled {
			start = append(start, authHTTP.RateLimitMiddleware(
				ctx,
				s.config.RateLimitRequestsPerSec,
				s.config.RateLimitBurst,
				s.logger,
			))
		}
		start = append(start, s.handlers.Session.StartHandler)

		identified.POST("/start", start...)
		identified.GET("/sessions/:sessionId", s.handlers.Session.GetHandler)
		identified.POST("/sessions/:sessionId/cancel", s.handlers.Session.CancelHandler)
		identified.GET(eventsRoute, s.handlers.Stream.EventsHandler)
	}

	// The consent UI runs on the same machine and carries no caller identity.
	broker.POST("/consent", s.handlers.Consent.DecisionHandler)
	broker.GET(consentSocketRoute, s.handlers.Consent.WebSocketHandler)

	return router
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start(ctx context.Context) error {
	if s.router == nil {
		s.router = s.SetupRouter(ctx)
	}
	s.server.Handler = s.router
	// Streams and consent sockets end when ctx is cancelled instead of holding Shutdown open.
	s.server.BaseContext = func(net.Listener) context.Context { return ctx }

	s.logger.Info("starting http server",
		slog.String("addr", s.server.Addr),
		slog.Bool("broker_enabled", s.config.BrokerEnabled),
	)

	s.ready.Store(true)
	defer s.ready.Store(false)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	s.ready.Store(false)
	return s.server.Shutdown(ctx)
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// readinessHandler reports ready while the server is accepting requests.
func (s *Server) readinessHandler(c *gin.Context) {
	broker := "disabled"
	if s.config.BrokerEnabled {
		broker = "enabled"
	}
	components := gin.H{"broker": broker}

	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "components": components})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready", "components": components})
}
