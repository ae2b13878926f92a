// File: internal/config/config_test.go
package config

import (
	"strings"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "webpilot", cfg.Logger.ServiceName)
	assert.Equal(t, 150, cfg.Agent.MaxSteps)
	assert.Equal(t, 3, cfg.Agent.MaxRetries)
	assert.Equal(t, []string{"CLICK", "TYPE", "NAVIGATE"}, cfg.Agent.RiskyActions)
	assert.Equal(t, 2*time.Second, cfg.Agent.WaitDuration)
	assert.Equal(t, 5*time.Second, cfg.Agent.NavigationWindow)
	assert.Equal(t, 500, cfg.Agent.WindowScroll)
	assert.Equal(t, 200, cfg.Agent.ElementScroll)
	assert.Equal(t, "https://www.google.com/", cfg.Agent.SearchURL)
	assert.Equal(t, 10*time.Second, cfg.Browser.NavigationTimeout)
	assert.Equal(t, 1280, cfg.Browser.Viewport["width"])
	assert.True(t, cfg.Browser.Stealth)
	assert.Equal(t, "en-US", cfg.Browser.Locale)
	assert.Equal(t, ProviderGemini, cfg.LLM.Provider)
	assert.Equal(t, "memory", cfg.Checkpoint.Backend)
	assert.Equal(t, "console", cfg.Human.Channel)
	assert.False(t, cfg.Metrics.Enabled)

	assert.NoError(t, cfg.Validate(), "default configuration should be valid")
}

func TestNewConfigFromViper(t *testing.T) {
	t.Run("overrides and expands paths", func(t *testing.T) {
		t.Setenv("HOME", "/home/pilot")
		homedir.DisableCache = true
		t.Cleanup(func() { homedir.DisableCache = false })
		v := viper.New()
		SetDefaults(v)
		v.Set("agent.max_steps", 12)
		v.Set("recording.dir", "~/runs")
		v.Set("llm.api_key", "k-123")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, 12, cfg.Agent.MaxSteps)
		assert.Equal(t, "/home/pilot/runs", cfg.Recording.Dir)
		assert.Equal(t, "k-123", cfg.LLM.APIKey)
	})

	t.Run("api key from GEMINI_API_KEY", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "from-env")
		v := viper.New()
		SetDefaults(v)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "from-env", cfg.LLM.APIKey)
	})

	t.Run("rejects invalid values", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("agent.max_steps", 0)

		_, err := NewConfigFromViper(v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max_steps")
	})
}

func TestConfigValidation(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "negative retries",
			mutate:  func(c *Config) { c.Agent.MaxRetries = -1 },
			wantErr: "max_retries",
		},
		{
			name:    "zero annotate attempts",
			mutate:  func(c *Config) { c.Agent.AnnotateAttempts = 0 },
			wantErr: "annotate_attempts",
		},
		{
			name:    "unknown risky action",
			mutate:  func(c *Config) { c.Agent.RiskyActions = []string{"CLICK", "ANSWER"} },
			wantErr: "ANSWER",
		},
		{
			name:    "postgres sink without url",
			mutate:  func(c *Config) { c.Recording.Sinks = []string{"log", "postgres"} },
			wantErr: "database.url",
		},
		{
			name: "postgres sink with url",
			mutate: func(c *Config) {
				c.Recording.Sinks = []string{"postgres"}
				c.Database.URL = "postgres://localhost/webpilot"
			},
		},
		{
			name:    "unknown sink",
			mutate:  func(c *Config) { c.Recording.Sinks = []string{"s3"} },
			wantErr: "unknown recording sink",
		},
		{
			name:    "unknown checkpoint backend",
			mutate:  func(c *Config) { c.Checkpoint.Backend = "etcd" },
			wantErr: "unknown checkpoint backend",
		},
		{
			name: "redis backend without addr",
			mutate: func(c *Config) {
				c.Checkpoint.Backend = "redis"
				c.Checkpoint.Redis.Addr = ""
			},
			wantErr: "checkpoint.redis.addr",
		},
		{
			name: "websocket channel without listen addr",
			mutate: func(c *Config) {
				c.Human.Channel = "websocket"
				c.Human.ListenAddr = ""
			},
			wantErr: "human.listen_addr",
		},
		{
			name: "metrics without listen addr",
			mutate: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.ListenAddr = ""
			},
			wantErr: "metrics.listen_addr",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tc.wantErr), "got %q", err.Error())
		})
	}
}
