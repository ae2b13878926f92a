// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Browser    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	Agent      AgentConfig      `mapstructure:"agent" yaml:"agent"`
	LLM        LLMModelConfig   `mapstructure:"llm" yaml:"llm"`
	Recording  RecordingConfig  `mapstructure:"recording" yaml:"recording"`
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint" yaml:"checkpoint"`
	Human      HumanConfig      `mapstructure:"human" yaml:"human"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the controlled Chrome instance.
type BrowserConfig struct {
	Headless          bool           `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors   bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args              []string       `mapstructure:"args" yaml:"args"`
	Viewport          map[string]int `mapstructure:"viewport" yaml:"viewport"`
	UserDataDir       string         `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	ExecPath          string         `mapstructure:"exec_path" yaml:"exec_path"`
	StartURL          string         `mapstructure:"start_url" yaml:"start_url"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration  `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	LaunchTimeout     time.Duration  `mapstructure:"launch_timeout" yaml:"launch_timeout"`

	// Stealth masks the usual automation fingerprints. The persona fields
	// are only applied when it is on.
	Stealth   bool   `mapstructure:"stealth" yaml:"stealth"`
	UserAgent string `mapstructure:"user_agent" yaml:"user_agent"`
	Locale    string `mapstructure:"locale" yaml:"locale"`
	Timezone  string `mapstructure:"timezone" yaml:"timezone"`
}

// AgentConfig tunes the perceive-predict-act loop.
type AgentConfig struct {
	MaxSteps          int           `mapstructure:"max_steps" yaml:"max_steps"`
	MaxRetries        int           `mapstructure:"max_retries" yaml:"max_retries"`
	HumanIntervention bool          `mapstructure:"human_intervention" yaml:"human_intervention"`
	RiskyActions      []string      `mapstructure:"risky_actions" yaml:"risky_actions"`
	WaitDuration      time.Duration `mapstructure:"wait_duration" yaml:"wait_duration"`
	NavigationWindow  time.Duration `mapstructure:"navigation_window" yaml:"navigation_window"`
	SettleDelay       time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	AnnotateAttempts  int           `mapstructure:"annotate_attempts" yaml:"annotate_attempts"`
	AnnotateBackoff   time.Duration `mapstructure:"annotate_backoff" yaml:"annotate_backoff"`
	WindowScroll      int           `mapstructure:"window_scroll" yaml:"window_scroll"`
	ElementScroll     int           `mapstructure:"element_scroll" yaml:"element_scroll"`
	SearchURL         string        `mapstructure:"search_url" yaml:"search_url"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
)

// LLMModelConfig defines the configuration for the predictor's model.
type LLMModelConfig struct {
	Provider          LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model             string        `mapstructure:"model" yaml:"model"`
	APIKey            string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint          string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout        time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature       float32       `mapstructure:"temperature" yaml:"temperature"`
	TopP              float32       `mapstructure:"top_p" yaml:"top_p"`
	TopK              int           `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens         int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	RequestsPerMinute float64       `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	MaxAttempts       int           `mapstructure:"max_attempts" yaml:"max_attempts"`

	// FastModel serves requests for the fast tier. Empty routes every tier
	// to Model.
	FastModel string `mapstructure:"fast_model" yaml:"fast_model"`
}

// RecordingConfig selects where step summaries go.
type RecordingConfig struct {
	// Sinks is any combination of "log", "file" and "postgres".
	Sinks           []string `mapstructure:"sinks" yaml:"sinks"`
	Dir             string   `mapstructure:"dir" yaml:"dir"`
	SaveScreenshots bool     `mapstructure:"save_screenshots" yaml:"save_screenshots"`
}

// DatabaseConfig holds the database connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// CheckpointConfig selects the store used for suspended runs.
type CheckpointConfig struct {
	Backend string        `mapstructure:"backend" yaml:"backend"`
	TTL     time.Duration `mapstructure:"ttl" yaml:"ttl"`
	Redis   RedisConfig   `mapstructure:"redis" yaml:"redis"`
}

// RedisConfig holds connection details for the redis checkpoint backend.
type RedisConfig struct {
	Addr      string `mapstructure:"addr" yaml:"addr"`
	Password  string `mapstructure:"password" yaml:"password"`
	DB        int    `mapstructure:"db" yaml:"db"`
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`
}

// HumanConfig selects the operator channel used by the intervention gate.
type HumanConfig struct {
	Channel    string `mapstructure:"channel" yaml:"channel"`
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
	Namespace  string `mapstructure:"namespace" yaml:"namespace"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults are static, so this only trips on a programming error.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "webpilot")
	v.SetDefault("logger.log_file", "webpilot.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.viewport", map[string]int{"width": 1280, "height": 900})
	v.SetDefault("browser.user_data_dir", "~/.webpilot/profile")
	v.SetDefault("browser.start_url", "https://www.google.com")
	v.SetDefault("browser.navigation_timeout", "10s")
	v.SetDefault("browser.post_load_wait", "2s")
	v.SetDefault("browser.launch_timeout", "30s")
	v.SetDefault("browser.stealth", true)
	v.SetDefault("browser.locale", "en-US")

	// -- Agent --
	v.SetDefault("agent.max_steps", 150)
	v.SetDefault("agent.max_retries", 3)
	v.SetDefault("agent.human_intervention", false)
	v.SetDefault("agent.risky_actions", []string{"CLICK", "TYPE", "NAVIGATE"})
	v.SetDefault("agent.wait_duration", "2s")
	v.SetDefault("agent.navigation_window", "5s")
	v.SetDefault("agent.settle_delay", "1s")
	v.SetDefault("agent.annotate_attempts", 3)
	v.SetDefault("agent.annotate_backoff", "1s")
	v.SetDefault("agent.window_scroll", 500)
	v.SetDefault("agent.element_scroll", 200)
	v.SetDefault("agent.search_url", "https://www.google.com/")

	// -- LLM --
	v.SetDefault("llm.provider", string(ProviderGemini))
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.api_timeout", "2m")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.requests_per_minute", 30.0)
	v.SetDefault("llm.max_attempts", 3)

	// -- Recording --
	v.SetDefault("recording.sinks", []string{"log"})
	v.SetDefault("recording.dir", "history")
	v.SetDefault("recording.save_screenshots", true)

	// -- Checkpoint --
	v.SetDefault("checkpoint.backend", "memory")
	v.SetDefault("checkpoint.ttl", "24h")
	v.SetDefault("checkpoint.redis.addr", "localhost:6379")
	v.SetDefault("checkpoint.redis.db", 0)
	v.SetDefault("checkpoint.redis.key_prefix", "webpilot:checkpoint:")

	// -- Human --
	v.SetDefault("human.channel", "console")
	v.SetDefault("human.listen_addr", "127.0.0.1:8765")

	// -- Metrics --
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", "127.0.0.1:9464")
	v.SetDefault("metrics.namespace", "webpilot")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Secrets are usually supplied through the environment.
	_ = v.BindEnv("llm.api_key", "WEBPILOT_LLM_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("database.url", "WEBPILOT_DATABASE_URL")
	_ = v.BindEnv("checkpoint.redis.password", "WEBPILOT_REDIS_PASSWORD")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.ExpandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ExpandPaths resolves a leading "~" in every filesystem path setting.
func (c *Config) ExpandPaths() error {
	for _, p := range []*string{&c.Browser.UserDataDir, &c.Recording.Dir, &c.Logger.LogFile} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.Agent.Validate(); err != nil {
		return fmt.Errorf("agent configuration invalid: %w", err)
	}
	for _, sink := range c.Recording.Sinks {
		switch strings.ToLower(sink) {
		case "log", "file":
		case "postgres":
			if c.Database.URL == "" {
				return fmt.Errorf("recording sink 'postgres' requires database.url")
			}
		default:
			return fmt.Errorf("unknown recording sink %q", sink)
		}
	}
	switch strings.ToLower(c.Checkpoint.Backend) {
	case "memory":
	case "redis":
		if c.Checkpoint.Redis.Addr == "" {
			return fmt.Errorf("checkpoint.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown checkpoint backend %q", c.Checkpoint.Backend)
	}
	switch strings.ToLower(c.Human.Channel) {
	case "console":
	case "websocket":
		if c.Human.ListenAddr == "" {
			return fmt.Errorf("human.listen_addr is required for the websocket channel")
		}
	default:
		return fmt.Errorf("unknown human channel %q", c.Human.Channel)
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return fmt.Errorf("metrics.listen_addr is required when metrics are enabled")
	}
	return nil
}

// Validate checks the loop settings.
func (a *AgentConfig) Validate() error {
	if a.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be a positive integer")
	}
	if a.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	if a.AnnotateAttempts <= 0 {
		return fmt.Errorf("annotate_attempts must be a positive integer")
	}
	if a.NavigationWindow <= 0 {
		return fmt.Errorf("navigation_window must be a positive duration")
	}
	if a.WaitDuration < 0 {
		return fmt.Errorf("wait_duration cannot be negative")
	}
	for _, action := range a.RiskyActions {
		switch strings.ToUpper(action) {
		case "CLICK", "TYPE", "SCROLL", "WAIT", "GOBACK", "GOOGLE", "NAVIGATE":
		default:
			return fmt.Errorf("risky_actions contains %q, which is not a dispatchable action", action)
		}
	}
	return nil
}
