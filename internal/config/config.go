// Package config provides application configuration through environment variables.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/allisson/go-env"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// ServerHost is the host address the server will bind to. Loopback by default.
	ServerHost string
	// ServerPort is the port number the server will listen on.
	ServerPort int
	// ShutdownTimeout bounds graceful shutdown of the servers.
	ShutdownTimeout time.Duration

	// LogLevel is the logging level (e.g., "debug", "info", "warn", "error").
	LogLevel string

	// BrokerEnabled is the master switch for the session broker routes.
	BrokerEnabled bool

	// TokenSecret is the symmetric secret capability tokens are signed with.
	TokenSecret string
	// TokenTTL is the lifetime of a minted capability token and therefore of its session.
	TokenTTL time.Duration
	// TokenMaxAge is the maximum age (now - iat) accepted when verifying a token.
	TokenMaxAge time.Duration

	// PolicyFile is an optional YAML file overriding the policy values below.
	PolicyFile string
	// PolicyAllowedDomains is a comma-separated domain allowlist (globs like *.example.com allowed).
	PolicyAllowedDomains string
	// PolicyTypingDelayMin is the lower bound of the humanized delay between interactions.
	PolicyTypingDelayMin time.Duration
	// PolicyTypingDelayMax is the upper bound of the humanized delay between interactions.
	PolicyTypingDelayMax time.Duration
	// PolicyMaxActionsPerMinute is the per-session action budget in a 60 second window.
	PolicyMaxActionsPerMinute int
	// PolicySameOriginOnly blocks navigation away from the session's origin.
	PolicySameOriginOnly bool
	// PolicyUploadDir is the only directory form images may be uploaded from.
	PolicyUploadDir string

	// SessionSweepInterval is how often expired sessions are reclaimed.
	SessionSweepInterval time.Duration
	// SessionEventBuffer is the capacity of each session's event channel.
	SessionEventBuffer int

	// StreamRetry is the reconnection hint sent to event stream consumers.
	StreamRetry time.Duration
	// StreamHeartbeat is the interval between keep-alive comments on an idle event stream.
	StreamHeartbeat time.Duration

	// ConsentAllowedOrigins is a comma-separated list of origins allowed to attach to the consent UI socket.
	ConsentAllowedOrigins string

	// BrowserEnabled selects the Playwright driver; when false a simulated driver is used.
	BrowserEnabled bool
	// BrowserHeadless runs the browser without a window.
	BrowserHeadless bool
	// BrowserInstall downloads the Playwright browsers on first use.
	BrowserInstall bool
	// BrowserTimeout is the default timeout for page operations.
	BrowserTimeout time.Duration

	// RateLimitEnabled indicates whether request rate limiting for session creation is enabled.
	RateLimitEnabled bool
	// RateLimitRequestsPerSec is the number of session creation requests allowed per second per user.
	RateLimitRequestsPerSec float64
	// RateLimitBurst is the burst size for session creation rate limiting.
	RateLimitBurst int

	// CORSEnabled indicates whether CORS is enabled.
	CORSEnabled bool
	// CORSAllowOrigins is a comma-separated list of allowed origins for CORS.
	CORSAllowOrigins string

	// MetricsEnabled indicates whether metrics collection is enabled.
	MetricsEnabled bool
	// MetricsNamespace is the namespace for the application metrics.
	MetricsNamespace string
	// MetricsPort is the port number for the metrics server.
	MetricsPort int
}

// Load loads configuration from environment variables and .env file.
func Load() *Config {
	// Try to load .env file recursively
	loadDotEnv()

	return &Config{
		// Server configuration
		ServerHost:      env.GetString("SERVER_HOST", "127.0.0.1"),
		ServerPort:      env.GetInt("SERVER_PORT", 8080),
		ShutdownTimeout: env.GetDuration("SHUTDOWN_TIMEOUT_SECONDS", 10, time.Second),

		// Logging
		LogLevel: env.GetString("LOG_LEVEL", "info"),

		// Master switch, off unless explicitly enabled
		BrokerEnabled: env.GetBool("BROKER_ENABLED", false),

		// Capability tokens
		TokenSecret: env.GetString("TOKEN_SECRET", ""),
		TokenTTL:    env.GetDuration("TOKEN_TTL_SECONDS", 120, time.Second),
		TokenMaxAge: env.GetDuration("TOKEN_MAX_AGE_SECONDS", 600, time.Second),

		// Policy
		PolicyFile:                env.GetString("POLICY_FILE", ""),
		PolicyAllowedDomains:      env.GetString("POLICY_ALLOWED_DOMAINS", ""),
		PolicyTypingDelayMin:      env.GetDuration("POLICY_TYPING_DELAY_MIN_MS", 40, time.Millisecond),
		PolicyTypingDelayMax:      env.GetDuration("POLICY_TYPING_DELAY_MAX_MS", 160, time.Millisecond),
		PolicyMaxActionsPerMinute: env.GetInt("POLICY_MAX_ACTIONS_PER_MINUTE", 30),
		PolicySameOriginOnly:      env.GetBool("POLICY_SAME_ORIGIN_ONLY", true),
		PolicyUploadDir:           env.GetString("POLICY_UPLOAD_DIR", ""),

		// Sessions
		SessionSweepInterval: env.GetDuration("SESSION_SWEEP_INTERVAL_SECONDS", 30, time.Second),
		SessionEventBuffer:   env.GetInt("SESSION_EVENT_BUFFER", 32),

		// Event stream
		StreamRetry:     env.GetDuration("STREAM_RETRY_MS", 3000, time.Millisecond),
		StreamHeartbeat: env.GetDuration("STREAM_HEARTBEAT_SECONDS", 15, time.Second),

		// Consent UI
		ConsentAllowedOrigins: env.GetString("CONSENT_ALLOWED_ORIGINS", ""),

		// Browser driver
		BrowserEnabled:  env.GetBool("BROWSER_ENABLED", false),
		BrowserHeadless: env.GetBool("BROWSER_HEADLESS", true),
		BrowserInstall:  env.GetBool("BROWSER_INSTALL", false),
		BrowserTimeout:  env.GetDuration("BROWSER_TIMEOUT_SECONDS", 30, time.Second),

		// Rate Limiting (session creation, per user)
		RateLimitEnabled:        env.GetBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequestsPerSec: env.GetFloat64("RATE_LIMIT_REQUESTS_PER_SEC", 1.0),
		RateLimitBurst:          env.GetInt("RATE_LIMIT_BURST", 5),

		// CORS
		CORSEnabled:      env.GetBool("CORS_ENABLED", false),
		CORSAllowOrigins: env.GetString("CORS_ALLOW_ORIGINS", ""),

		// Metrics
		MetricsEnabled:   env.GetBool("METRICS_ENABLED", true),
		MetricsNamespace: env.GetString("METRICS_NAMESPACE", "broker"),
		MetricsPort:      env.GetInt("METRICS_PORT", 8081),
	}
}

// GetGinMode returns the appropriate Gin mode based on log level.
func (c *Config) GetGinMode() string {
	switch c.LogLevel {
	case "debug":
		return "debug"
	default:
		return "release"
	}
}

// SplitList parses a comma-separated list and trims whitespace, dropping empty entries.
func SplitList(value string) []string {
	if value == "" {
		return nil
	}

	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}

	return items
}

// loadDotEnv searches for a .env file recursively from the current directory
// up to the root directory and loads it if found.
func loadDotEnv() {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	dir := cwd
	for {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
}
