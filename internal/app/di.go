// Package app provides dependency injection container for assembling application components.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	authService "github.com/allisson/agentbroker/internal/auth/service"
	automationDomain "github.com/allisson/agentbroker/internal/automation/domain"
	automationUseCase "github.com/allisson/agentbroker/internal/automation/usecase"
	"github.com/allisson/agentbroker/internal/config"
	consentHTTP "github.com/allisson/agentbroker/internal/consent/http"
	consentUseCase "github.com/allisson/agentbroker/internal/consent/usecase"
	"github.com/allisson/agentbroker/internal/http"
	"github.com/allisson/agentbroker/internal/metrics"
	policyService "github.com/allisson/agentbroker/internal/policy/service"
	sessionHTTP "github.com/allisson/agentbroker/internal/session/http"
	sessionRepository "github.com/allisson/agentbroker/internal/session/repository"
	sessionUseCase "github.com/allisson/agentbroker/internal/session/usecase"
	streamHTTP "github.com/allisson/agentbroker/internal/stream/http"
	streamUseCase "github.com/allisson/agentbroker/internal/stream/usecase"
)

// Container holds all application dependencies and provides methods to access them.
// It follows the lazy initialization pattern - components are created on first access.
type Container struct {
	// Configuration
	config *config.Config

	// Infrastructure
	logger          *slog.Logger
	metricsProvider *metrics.Provider
	brokerMetrics   metrics.BrokerMetrics

	// Services
	tokenService authService.TokenService
	policyEngine *policyService.Engine
	driver       automationDomain.Driver

	// Repositories
	sessionRepository *sessionRepository.MemorySessionRepository

	// Use Cases
	sessionUseCase sessionUseCase.SessionUseCase
	consentBroker  *consentUseCase.Broker
	executor       *automationUseCase.Executor
	gateway        streamUseCase.Gateway

	// Handlers
	sessionHandler *sessionHTTP.SessionHandler
	consentHandler *consentHTTP.ConsentHandler
	streamHandler  *streamHTTP.StreamHandler

	// Servers and Workers
	httpServer    *http.Server
	metricsServer *http.MetricsServer
	sweeper       *sessionUseCase.Sweeper

	// Initialization flags and mutex for thread-safety
	mu                    sync.Mutex
	loggerInit            sync.Once
	metricsProviderInit   sync.Once
	brokerMetricsInit     sync.Once
	tokenServiceInit      sync.Once
	policyEngineInit      sync.Once
	driverInit            sync.Once
	sessionRepositoryInit sync.Once
	sessionUseCaseInit    sync.Once
	consentBrokerInit     sync.Once
	executorInit          sync.Once
	gatewayInit           sync.Once
	sessionHandlerInit    sync.Once
	consentHandlerInit    sync.Once
	streamHandlerInit     sync.Once
	httpServerInit        sync.Once
	metricsServerInit     sync.Once
	sweeperInit           sync.Once
	initErrors            map[string]error
}

// NewContainer creates a new dependency injection container with the provided configuration.
func NewContainer(cfg *config.Config) *Container {
	return &Container{
		config:     cfg,
		initErrors: make(map[string]error),
	}
}

// Config returns the application configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// Logger returns the configured logger instance.
// It creates a new logger on first access based on the log level in configuration.
func (c *Container) Logger() *slog.Logger {
	c.loggerInit.Do(func() {
		c.logger = c.initLogger()
	})
	return c.logger
}

// MetricsProvider returns the metrics provider, or nil when metrics are disabled.
func (c *Container) MetricsProvider() (*metrics.Provider, error) {
	var err error
	c.metricsProviderInit.Do(func() {
		c.metricsProvider, err = c.initMetricsProvider()
		if err != nil {
			c.initErrors["metricsProvider"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["metricsProvider"]; exists {
		return nil, storedErr
	}
	return c.metricsProvider, nil
}

// BrokerMetrics returns the broker metrics recorder, a no-op when metrics are disabled.
func (c *Container) BrokerMetrics() (metrics.BrokerMetrics, error) {
	var err error
	c.brokerMetricsInit.Do(func() {
		c.brokerMetrics, err = c.initBrokerMetrics()
		if err != nil {
			c.initErrors["brokerMetrics"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["brokerMetrics"]; exists {
		return nil, storedErr
	}
	return c.brokerMetrics, nil
}

// HTTPServer returns the HTTP server instance.
func (c *Container) HTTPServer() (*http.Server, error) {
	var err error
	c.httpServerInit.Do(func() {
		c.httpServer, err = c.initHTTPServer()
		if err != nil {
			c.initErrors["httpServer"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["httpServer"]; exists {
		return nil, storedErr
	}
	return c.httpServer, nil
}

// MetricsServer returns the metrics server, or nil when metrics are disabled.
func (c *Container) MetricsServer() (*http.MetricsServer, error) {
	var err error
	c.metricsServerInit.Do(func() {
		c.metricsServer, err = c.initMetricsServer()
		if err != nil {
			c.initErrors["metricsServer"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["metricsServer"]; exists {
		return nil, storedErr
	}
	return c.metricsServer, nil
}

// Shutdown performs cleanup of all initialized resources.
// It should be called when the application is shutting down.
func (c *Container) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var shutdownErrors []error

	if c.driver != nil {
		if err := c.driver.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("browser driver close: %w", err))
		}
	}

	if c.metricsProvider != nil {
		if err := c.metricsProvider.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics provider shutdown: %w", err))
		}
	}

	return errors.Join(shutdownErrors...)
}

// initLogger creates and configures a structured logger based on the log level.
func (c *Container) initLogger() *slog.Logger {
	var logLevel slog.Level
	switch c.config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})

	return slog.New(handler)
}

// initMetricsProvider creates the Prometheus-backed provider when metrics are enabled.
func (c *Container) initMetricsProvider() (*metrics.Provider, error) {
	if !c.config.MetricsEnabled {
		return nil, nil
	}

	provider, err := metrics.NewProvider(c.config.MetricsNamespace)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics provider: %w", err)
	}
	return provider, nil
}

// initBrokerMetrics creates the broker metrics recorder.
func (c *Container) initBrokerMetrics() (metrics.BrokerMetrics, error) {
	provider, err := c.MetricsProvider()
	if err != nil {
		return nil, err
	}
	if provider == nil {
		return metrics.NewNoOpBrokerMetrics(), nil
	}

	brokerMetrics, err := metrics.NewBrokerMetrics(provider.MeterProvider(), provider.Namespace())
	if err != nil {
		return nil, fmt.Errorf("failed to create broker metrics: %w", err)
	}
	return brokerMetrics, nil
}

// initHTTPServer creates the HTTP server. Broker handlers are only assembled when the
// broker is enabled; otherwise every broker route answers 503.
func (c *Container) initHTTPServer() (*http.Server, error) {
	provider, err := c.MetricsProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics provider for http server: %w", err)
	}

	var handlers http.Handlers
	if c.config.BrokerEnabled {
		if handlers.Session, err = c.SessionHandler(); err != nil {
			return nil, fmt.Errorf("failed to get session handler for http server: %w", err)
		}
		if handlers.Consent, err = c.ConsentHandler(); err != nil {
			return nil, fmt.Errorf("failed to get consent handler for http server: %w", err)
		}
		if handlers.Stream, err = c.StreamHandler(); err != nil {
			return nil, fmt.Errorf("failed to get stream handler for http server: %w", err)
		}
	}

	return http.NewServer(c.config, handlers, provider, c.Logger()), nil
}

// initMetricsServer creates the metrics server when metrics are enabled.
func (c *Container) initMetricsServer() (*http.MetricsServer, error) {
	provider, err := c.MetricsProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics provider for metrics server: %w", err)
	}
	if provider == nil {
		return nil, nil
	}

	return http.NewMetricsServer(c.config.ServerHost, c.config.MetricsPort, c.Logger(), provider), nil
}
