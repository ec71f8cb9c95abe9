package app

import (
	"fmt"
	"log/slog"

	authService "github.com/allisson/agentbroker/internal/auth/service"
	automationDomain "github.com/allisson/agentbroker/internal/automation/domain"
	"github.com/allisson/agentbroker/internal/automation/driver"
	automationUseCase "github.com/allisson/agentbroker/internal/automation/usecase"
	"github.com/allisson/agentbroker/internal/config"
	consentHTTP "github.com/allisson/agentbroker/internal/consent/http"
	consentUseCase "github.com/allisson/agentbroker/internal/consent/usecase"
	"github.com/allisson/agentbroker/internal/metrics"
	policyService "github.com/allisson/agentbroker/internal/policy/service"
	sessionHTTP "github.com/allisson/agentbroker/internal/session/http"
	sessionRepository "github.com/allisson/agentbroker/internal/session/repository"
	sessionUseCase "github.com/allisson/agentbroker/internal/session/usecase"
	streamHTTP "github.com/allisson/agentbroker/internal/stream/http"
	streamUseCase "github.com/allisson/agentbroker/internal/stream/usecase"
)

// TokenService returns the capability token service.
func (c *Container) TokenService() (authService.TokenService, error) {
	var err error
	c.tokenServiceInit.Do(func() {
		c.tokenService, err = authService.NewTokenService(c.config.TokenSecret, c.config.TokenMaxAge, nil)
		if err != nil {
			c.initErrors["tokenService"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["tokenService"]; exists {
		return nil, storedErr
	}
	return c.tokenService, nil
}

// PolicyEngine returns the policy engine built from configuration and POLICY_FILE.
func (c *Container) PolicyEngine() (*policyService.Engine, error) {
	var err error
	c.policyEngineInit.Do(func() {
		c.policyEngine, err = c.initPolicyEngine()
		if err != nil {
			c.initErrors["policyEngine"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["policyEngine"]; exists {
		return nil, storedErr
	}
	return c.policyEngine, nil
}

// Driver returns the browser driver: Playwright when BROWSER_ENABLED, simulated otherwise.
func (c *Container) Driver() automationDomain.Driver {
	c.driverInit.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.driver = c.initDriver()
	})
	return c.driver
}

// SessionRepository returns the in-memory session registry.
func (c *Container) SessionRepository() *sessionRepository.MemorySessionRepository {
	c.sessionRepositoryInit.Do(func() {
		c.sessionRepository = sessionRepository.NewMemorySessionRepository()
	})
	return c.sessionRepository
}

// SessionUseCase returns the session manager wrapped with metrics.
func (c *Container) SessionUseCase() (sessionUseCase.SessionUseCase, error) {
	var err error
	c.sessionUseCaseInit.Do(func() {
		c.sessionUseCase, err = c.initSessionUseCase()
		if err != nil {
			c.initErrors["sessionUseCase"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["sessionUseCase"]; exists {
		return nil, storedErr
	}
	return c.sessionUseCase, nil
}

// ConsentBroker returns the consent broker, registered as a session lifecycle listener.
func (c *Container) ConsentBroker() (*consentUseCase.Broker, error) {
	var err error
	c.consentBrokerInit.Do(func() {
		c.consentBroker, err = c.initConsentBroker()
		if err != nil {
			c.initErrors["consentBroker"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["consentBroker"]; exists {
		return nil, storedErr
	}
	return c.consentBroker, nil
}

// Executor returns the automation executor.
func (c *Container) Executor() (*automationUseCase.Executor, error) {
	var err error
	c.executorInit.Do(func() {
		c.executor, err = c.initExecutor()
		if err != nil {
			c.initErrors["executor"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["executor"]; exists {
		return nil, storedErr
	}
	return c.executor, nil
}

// Gateway returns the event stream gateway.
func (c *Container) Gateway() (streamUseCase.Gateway, error) {
	var err error
	c.gatewayInit.Do(func() {
		c.gateway, err = c.initGateway()
		if err != nil {
			c.initErrors["gateway"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["gateway"]; exists {
		return nil, storedErr
	}
	return c.gateway, nil
}

// SessionHandler returns the session HTTP handler.
func (c *Container) SessionHandler() (*sessionHTTP.SessionHandler, error) {
	var err error
	c.sessionHandlerInit.Do(func() {
		var useCase sessionUseCase.SessionUseCase
		useCase, err = c.SessionUseCase()
		if err != nil {
			c.initErrors["sessionHandler"] = err
			return
		}
		c.sessionHandler = sessionHTTP.NewSessionHandler(useCase, c.Logger())
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["sessionHandler"]; exists {
		return nil, storedErr
	}
	return c.sessionHandler, nil
}

// ConsentHandler returns the consent UI handler.
func (c *Container) ConsentHandler() (*consentHTTP.ConsentHandler, error) {
	var err error
	c.consentHandlerInit.Do(func() {
		var broker *consentUseCase.Broker
		broker, err = c.ConsentBroker()
		if err != nil {
			c.initErrors["consentHandler"] = err
			return
		}
		c.consentHandler = consentHTTP.NewConsentHandler(
			broker,
			config.SplitList(c.config.ConsentAllowedOrigins),
			c.Logger(),
		)
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["consentHandler"]; exists {
		return nil, storedErr
	}
	return c.consentHandler, nil
}

// StreamHandler returns the event stream handler.
func (c *Container) StreamHandler() (*streamHTTP.StreamHandler, error) {
	var err error
	c.streamHandlerInit.Do(func() {
		var gateway streamUseCase.Gateway
		gateway, err = c.Gateway()
		if err != nil {
			c.initErrors["streamHandler"] = err
			return
		}
		var brokerMetrics metrics.BrokerMetrics
		brokerMetrics, err = c.BrokerMetrics()
		if err != nil {
			c.initErrors["streamHandler"] = err
			return
		}
		c.streamHandler = streamHTTP.NewStreamHandler(
			gateway,
			c.config.StreamRetry,
			c.config.StreamHeartbeat,
			brokerMetrics,
			c.Logger(),
		)
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["streamHandler"]; exists {
		return nil, storedErr
	}
	return c.streamHandler, nil
}

// Sweeper returns the expired session sweeper.
func (c *Container) Sweeper() (*sessionUseCase.Sweeper, error) {
	var err error
	c.sweeperInit.Do(func() {
		var useCase sessionUseCase.SessionUseCase
		useCase, err = c.SessionUseCase()
		if err != nil {
			c.initErrors["sweeper"] = err
			return
		}
		c.sweeper = sessionUseCase.NewSweeper(useCase, c.config.SessionSweepInterval, c.Logger())
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["sweeper"]; exists {
		return nil, storedErr
	}
	return c.sweeper, nil
}

func (c *Container) initPolicyEngine() (*policyService.Engine, error) {
	policy, err := policyService.LoadPolicy(c.config)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}

	engine, err := policyService.NewEngine(policy)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}

	loaded := engine.Policy()
	c.Logger().Info("automation policy loaded",
		slog.Any("allowed_domains", loaded.AllowedDomains),
		slog.Duration("typing_delay_min", loaded.TypingDelayMin),
		slog.Duration("typing_delay_max", loaded.TypingDelayMax),
		slog.Int("max_actions_per_minute", loaded.MaxActionsPerMinute),
		slog.Bool("same_origin_only", loaded.SameOriginOnly),
		slog.Bool("uploads_enabled", loaded.UploadDir != ""),
	)
	return engine, nil
}

func (c *Container) initDriver() automationDomain.Driver {
	if !c.config.BrowserEnabled {
		c.Logger().Warn("browser disabled, using simulated driver")
		return driver.NewSimulatedDriver()
	}

	return driver.NewPlaywrightDriver(driver.PlaywrightOptions{
		Headless: c.config.BrowserHeadless,
		Install:  c.config.BrowserInstall,
		Timeout:  c.config.BrowserTimeout,
	}, c.Logger())
}

func (c *Container) initSessionUseCase() (sessionUseCase.SessionUseCase, error) {
	tokens, err := c.TokenService()
	if err != nil {
		return nil, fmt.Errorf("failed to get token service for session use case: %w", err)
	}

	engine, err := c.PolicyEngine()
	if err != nil {
		return nil, fmt.Errorf("failed to get policy engine for session use case: %w", err)
	}

	brokerMetrics, err := c.BrokerMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get broker metrics for session use case: %w", err)
	}

	useCase := sessionUseCase.NewSessionUseCase(
		c.SessionRepository(),
		tokens,
		engine,
		c.config.TokenTTL,
		c.config.SessionEventBuffer,
		c.Logger(),
		nil,
	)

	return sessionUseCase.NewSessionUseCaseWithMetrics(useCase, brokerMetrics), nil
}

func (c *Container) initConsentBroker() (*consentUseCase.Broker, error) {
	useCase, err := c.SessionUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get session use case for consent broker: %w", err)
	}

	broker := consentUseCase.NewBroker(useCase, c.config.SessionEventBuffer, c.Logger())

	provider, err := c.MetricsProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics provider for consent broker: %w", err)
	}
	if provider != nil {
		repo := c.SessionRepository()
		err := metrics.RegisterBrokerGauges(provider.MeterProvider(), provider.Namespace(),
			func() int64 { return int64(repo.Len()) },
			func() int64 { return int64(broker.Subscribers()) },
		)
		if err != nil {
			return nil, err
		}
	}

	return broker, nil
}

func (c *Container) initExecutor() (*automationUseCase.Executor, error) {
	useCase, err := c.SessionUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get session use case for executor: %w", err)
	}

	engine, err := c.PolicyEngine()
	if err != nil {
		return nil, fmt.Errorf("failed to get policy engine for executor: %w", err)
	}

	return automationUseCase.NewExecutor(c.Driver(), useCase, engine, c.Logger()), nil
}

func (c *Container) initGateway() (streamUseCase.Gateway, error) {
	useCase, err := c.SessionUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get session use case for gateway: %w", err)
	}

	executor, err := c.Executor()
	if err != nil {
		return nil, fmt.Errorf("failed to get executor for gateway: %w", err)
	}

	return streamUseCase.NewGateway(useCase, executor, c.Logger()), nil
}
