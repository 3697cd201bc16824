// Package config loads application configuration from config.yaml and
// RESEARCH_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/research-agent/internal/cost"
	"github.com/sells-group/research-agent/internal/resilience"
)

// Config is the top-level application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Gemini     GeminiConfig     `yaml:"gemini" mapstructure:"gemini"`
	LLM        LLMConfig        `yaml:"llm" mapstructure:"llm"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Tools      ToolsConfig      `yaml:"tools" mapstructure:"tools"`
	Agent      AgentConfig      `yaml:"agent" mapstructure:"agent"`
	Pricing    cost.Rates       `yaml:"pricing" mapstructure:"pricing"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`

	// Criteria and Entities are local YAML/JSON files. When empty, the
	// matching Notion database is used instead.
	Criteria string `yaml:"criteria" mapstructure:"criteria"`
	Entities string `yaml:"entities" mapstructure:"entities"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key      string `yaml:"key" mapstructure:"key"`
	Model    string `yaml:"model" mapstructure:"model"`
	BaseURL  string `yaml:"base_url" mapstructure:"base_url"`
	CacheTTL string `yaml:"cache_ttl" mapstructure:"cache_ttl"`
}

// GeminiConfig holds Google Gemini API settings.
type GeminiConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	Model   string `yaml:"model" mapstructure:"model"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// LLMConfig picks the model provider and sampling settings.
type LLMConfig struct {
	Provider    string  `yaml:"provider" mapstructure:"provider"`
	MaxTokens   int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// JinaConfig holds Jina reader and search settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
}

// NotionConfig holds Notion integration settings.
type NotionConfig struct {
	Token      string  `yaml:"token" mapstructure:"token"`
	CriteriaDB string  `yaml:"criteria_db" mapstructure:"criteria_db"`
	EntitiesDB string  `yaml:"entities_db" mapstructure:"entities_db"`
	RateLimit  float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// SalesforceConfig holds Salesforce JWT auth settings.
type SalesforceConfig struct {
	ClientID  string  `yaml:"client_id" mapstructure:"client_id"`
	Username  string  `yaml:"username" mapstructure:"username"`
	KeyPath   string  `yaml:"key_path" mapstructure:"key_path"`
	LoginURL  string  `yaml:"login_url" mapstructure:"login_url"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// ToolsConfig configures the tools offered to the model and the executor.
type ToolsConfig struct {
	Enabled             []string `yaml:"enabled" mapstructure:"enabled"`
	RateLimit           float64  `yaml:"rate_limit" mapstructure:"rate_limit"`
	BreakerThreshold    int      `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCooldownSecs int      `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
	FetchTimeoutSecs    int      `yaml:"fetch_timeout_secs" mapstructure:"fetch_timeout_secs"`
	VerifyTool          string   `yaml:"verify_tool" mapstructure:"verify_tool"`
}

// AgentConfig configures the per-pair investigation loop.
type AgentConfig struct {
	MaxIterations        int  `yaml:"max_iterations" mapstructure:"max_iterations"`
	PauseBetweenSearches bool `yaml:"pause_between_searches" mapstructure:"pause_between_searches"`
	VerifyResults        bool `yaml:"verify_results" mapstructure:"verify_results"`
	MaxReminders         int  `yaml:"max_reminders" mapstructure:"max_reminders"`
	MaxContextChars      int  `yaml:"max_context_chars" mapstructure:"max_context_chars"`
	CacheTTLMinutes      int  `yaml:"cache_ttl_minutes" mapstructure:"cache_ttl_minutes"`
}

// RetryConfig configures backoff for model and tool calls.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMS int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffSecs   int `yaml:"max_backoff_secs" mapstructure:"max_backoff_secs"`
}

// Resilience converts the settings into a resilience.RetryConfig.
func (r RetryConfig) Resilience() resilience.RetryConfig {
	rc := resilience.DefaultRetryConfig()
	if r.MaxAttempts > 0 {
		rc.MaxAttempts = r.MaxAttempts
	}
	if r.InitialBackoffMS > 0 {
		rc.InitialBackoff = time.Duration(r.InitialBackoffMS) * time.Millisecond
	}
	if r.MaxBackoffSecs > 0 {
		rc.MaxBackoff = time.Duration(r.MaxBackoffSecs) * time.Second
	}
	return rc
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "research.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("llm.provider", cost.ProviderAnthropic)
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.cache_ttl", "5m")
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar")
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("notion.rate_limit", 3.0)
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.rate_limit", 5.0)
	v.SetDefault("tools.enabled", []string{cost.ToolSearch})
	v.SetDefault("tools.rate_limit", 2.0)
	v.SetDefault("tools.breaker_threshold", 5)
	v.SetDefault("tools.breaker_cooldown_secs", 30)
	v.SetDefault("tools.fetch_timeout_secs", 15)
	v.SetDefault("tools.verify_tool", cost.ToolSearch)
	v.SetDefault("agent.max_iterations", 3)
	v.SetDefault("agent.pause_between_searches", false)
	v.SetDefault("agent.verify_results", false)
	v.SetDefault("agent.max_reminders", 2)
	v.SetDefault("agent.max_context_chars", 120000)
	v.SetDefault("agent.cache_ttl_minutes", 60)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_secs", 30)
	v.SetDefault("pricing.perplexity.per_query", 0.005)
	v.SetDefault("pricing.perplexity.input_per_mtok", 1.0)
	v.SetDefault("pricing.perplexity.output_per_mtok", 1.0)
	v.SetDefault("pricing.jina.per_mtok", 0.02)
	v.SetDefault("pricing.jina.per_search", 0.0)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	cfg.Pricing.Anthropic = withDefaultRates(cfg.Pricing.Anthropic, defaultAnthropicRates)
	cfg.Pricing.Gemini = withDefaultRates(cfg.Pricing.Gemini, defaultGeminiRates)

	return &cfg, nil
}

// Model names contain dots, which viper treats as key separators, so model
// rate defaults are merged after unmarshal instead of via SetDefault.
var (
	defaultAnthropicRates = map[string]cost.ModelRate{
		"claude-sonnet-4-5-20250929": {Input: 3.0, Output: 15.0, CacheWriteMul: 1.25, CacheReadMul: 0.1},
		"claude-haiku-4-5-20251001":  {Input: 1.0, Output: 5.0, CacheWriteMul: 1.25, CacheReadMul: 0.1},
	}
	defaultGeminiRates = map[string]cost.ModelRate{
		"gemini-2.5-flash": {Input: 0.30, Output: 2.50},
		"gemini-2.5-pro":   {Input: 1.25, Output: 10.0},
	}
)

func withDefaultRates(rates, defaults map[string]cost.ModelRate) map[string]cost.ModelRate {
	out := make(map[string]cost.ModelRate, len(rates)+len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range rates {
		out[k] = v
	}
	return out
}

// CacheTTL is the tool result cache lifetime.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Agent.CacheTTLMinutes) * time.Minute
}

// Validate checks the keys a command needs. Modes: investigate, serve,
// sync, export, status.
func (c *Config) Validate(mode string) error {
	var errs []string
	require := func(ok bool, key string) {
		if !ok {
			errs = append(errs, key+" is required")
		}
	}

	switch mode {
	case "investigate", "serve":
		errs = append(errs, c.validateAgent()...)
		switch c.LLM.Provider {
		case cost.ProviderAnthropic:
			require(c.Anthropic.Key != "", "anthropic.key")
		case cost.ProviderGemini:
			require(c.Gemini.Key != "", "gemini.key")
		default:
			errs = append(errs, fmt.Sprintf("llm.provider %q is not supported", c.LLM.Provider))
		}
		if len(c.Tools.Enabled) == 0 {
			errs = append(errs, "tools.enabled must list at least one tool")
		}
		for _, name := range c.Tools.Enabled {
			switch name {
			case cost.ToolSearch:
				require(c.Perplexity.Key != "", "perplexity.key")
			case cost.ToolJinaSearch:
				require(c.Jina.Key != "", "jina.key")
			case cost.ToolFetchPage:
			default:
				errs = append(errs, fmt.Sprintf("tools.enabled: unknown tool %q", name))
			}
		}
		errs = append(errs, c.validateSources()...)
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "sync":
		require(c.Salesforce.ClientID != "", "salesforce.client_id")
		require(c.Salesforce.Username != "", "salesforce.username")
		require(c.Salesforce.KeyPath != "", "salesforce.key_path")
		errs = append(errs, c.validateSources()...)
	case "export", "status":
		errs = append(errs, c.validateSources()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateAgent() []string {
	var errs []string
	if c.Agent.MaxIterations < 1 || c.Agent.MaxIterations > 20 {
		errs = append(errs, "agent.max_iterations must be between 1 and 20")
	}
	if c.Agent.MaxReminders < 0 {
		errs = append(errs, "agent.max_reminders must be >= 0")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 1 {
		errs = append(errs, "llm.temperature must be between 0 and 1")
	}
	return errs
}

func (c *Config) validateSources() []string {
	var errs []string
	if c.Criteria == "" && (c.Notion.Token == "" || c.Notion.CriteriaDB == "") {
		errs = append(errs, "criteria file or notion.token and notion.criteria_db is required")
	}
	if c.Entities == "" && (c.Notion.Token == "" || c.Notion.EntitiesDB == "") {
		errs = append(errs, "entities file or notion.token and notion.entities_db is required")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
