package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		validate func(t *testing.T, cfg *Config)
	}{
		{
			name:    "load default configuration",
			envVars: map[string]string{},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "127.0.0.1", cfg.ServerHost)
				assert.Equal(t, 8080, cfg.ServerPort)
				assert.Equal(t, "info", cfg.LogLevel)
				assert.False(t, cfg.BrokerEnabled)
				assert.Empty(t, cfg.TokenSecret)
				assert.Equal(t, 120*time.Second, cfg.TokenTTL)
				assert.Equal(t, 600*time.Second, cfg.TokenMaxAge)
				assert.Equal(t, 40*time.Millisecond, cfg.PolicyTypingDelayMin)
				assert.Equal(t, 160*time.Millisecond, cfg.PolicyTypingDelayMax)
				assert.Equal(t, 30, cfg.PolicyMaxActionsPerMinute)
				assert.True(t, cfg.PolicySameOriginOnly)
				assert.Empty(t, cfg.PolicyUploadDir)
				assert.Equal(t, 30*time.Second, cfg.SessionSweepInterval)
				assert.Equal(t, 32, cfg.SessionEventBuffer)
				assert.Equal(t, 3*time.Second, cfg.StreamRetry)
				assert.False(t, cfg.BrowserEnabled)
				assert.Equal(t, "broker", cfg.MetricsNamespace)
			},
		},
		{
			name: "load custom broker configuration",
			envVars: map[string]string{
				"BROKER_ENABLED":                "true",
				"TOKEN_SECRET":                  "s3cr3t",
				"TOKEN_TTL_SECONDS":             "60",
				"POLICY_ALLOWED_DOMAINS":        "example.com, *.ebay.com",
				"POLICY_MAX_ACTIONS_PER_MINUTE": "3",
				"POLICY_TYPING_DELAY_MIN_MS":    "0",
				"POLICY_TYPING_DELAY_MAX_MS":    "5",
				"POLICY_UPLOAD_DIR":             "/srv/listings",
				"SERVER_PORT":                   "9090",
				"LOG_LEVEL":                     "debug",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.BrokerEnabled)
				assert.Equal(t, "s3cr3t", cfg.TokenSecret)
				assert.Equal(t, 60*time.Second, cfg.TokenTTL)
				assert.Equal(t, []string{"example.com", "*.ebay.com"}, SplitList(cfg.PolicyAllowedDomains))
				assert.Equal(t, 3, cfg.PolicyMaxActionsPerMinute)
				assert.Equal(t, time.Duration(0), cfg.PolicyTypingDelayMin)
				assert.Equal(t, 5*time.Millisecond, cfg.PolicyTypingDelayMax)
				assert.Equal(t, "/srv/listings", cfg.PolicyUploadDir)
				assert.Equal(t, 9090, cfg.ServerPort)
				assert.Equal(t, "debug", cfg.GetGinMode())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Clear environment
			os.Clearenv()

			// Set test environment variables
			for key, value := range tt.envVars {
				err := os.Setenv(key, value)
				require.NoError(t, err)
			}

			cfg := Load()

			tt.validate(t, cfg)
		})
	}
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, SplitList(""))
	assert.Equal(t, []string{"a", "b"}, SplitList(" a ,, b ,"))
}

func TestGetGinMode(t *testing.T) {
	assert.Equal(t, "release", (&Config{LogLevel: "info"}).GetGinMode())
	assert.Equal(t, "release", (&Config{LogLevel: "bogus"}).GetGinMode())
	assert.Equal(t, "debug", (&Config{LogLevel: "debug"}).GetGinMode())
}
