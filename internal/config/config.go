package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http" mapstructure:"http"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Schedule   ScheduleConfig   `yaml:"schedule" mapstructure:"schedule"`
	Validation ValidationConfig `yaml:"validation" mapstructure:"validation"`
	Search     SearchConfig     `yaml:"search" mapstructure:"search"`
	Reasoning  ReasoningConfig  `yaml:"reasoning" mapstructure:"reasoning"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Google     GoogleConfig     `yaml:"google" mapstructure:"google"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Breaker    BreakerConfig    `yaml:"breaker" mapstructure:"breaker"`
	Sources    SourcesConfig    `yaml:"sources" mapstructure:"sources"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// HTTPConfig configures the outbound fetcher.
type HTTPConfig struct {
	TimeoutSecs           int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	ConnectTimeoutSecs    int    `yaml:"connect_timeout_secs" mapstructure:"connect_timeout_secs"`
	WriteTimeoutSecs      int    `yaml:"write_timeout_secs" mapstructure:"write_timeout_secs"`
	Retries               int    `yaml:"retries" mapstructure:"retries"`
	MaxConcurrentRequests int    `yaml:"max_concurrent_requests" mapstructure:"max_concurrent_requests"`
	RateLimitPerMinute    int    `yaml:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"`
	UserAgent             string `yaml:"user_agent" mapstructure:"user_agent"`
}

// CacheConfig configures the response and content-hash cache.
type CacheConfig struct {
	Driver   string `yaml:"driver" mapstructure:"driver"` // sqlite or redis
	Path     string `yaml:"path" mapstructure:"path"`
	RedisURL string `yaml:"redis_url" mapstructure:"redis_url"`
	TTLHours int    `yaml:"ttl_hours" mapstructure:"ttl_hours"`
}

// StoreConfig configures the venue record store.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // sqlite or postgres
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ScheduleConfig holds the re-check interval for each risk tier.
type ScheduleConfig struct {
	RiskTierHighDays   int `yaml:"risk_tier_high_days" mapstructure:"risk_tier_high_days"`
	RiskTierMediumDays int `yaml:"risk_tier_medium_days" mapstructure:"risk_tier_medium_days"`
	RiskTierLowDays    int `yaml:"risk_tier_low_days" mapstructure:"risk_tier_low_days"`
}

// ValidationConfig tunes the validation pipeline.
type ValidationConfig struct {
	MinEvidenceURLs int `yaml:"min_evidence_urls" mapstructure:"min_evidence_urls"`
	MaxEvidence     int `yaml:"max_evidence" mapstructure:"max_evidence"`
	PromptEvidence  int `yaml:"prompt_evidence" mapstructure:"prompt_evidence"`
}

// SearchConfig selects the web search backend.
type SearchConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider"` // jina, google or none
	Results  int    `yaml:"results" mapstructure:"results"`
	Country  string `yaml:"country" mapstructure:"country"`
	Language string `yaml:"language" mapstructure:"language"`
}

// ReasoningConfig selects the reasoning backend.
type ReasoningConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider"` // anthropic, perplexity or none
}

// JinaConfig holds Jina search settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
}

// GoogleConfig holds Google Custom Search settings.
type GoogleConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	CX      string `yaml:"cx" mapstructure:"cx"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// BreakerConfig configures the circuit breakers around search and reasoning.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// SourcesConfig points at the candidate source list.
type SourcesConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the health and metrics server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures scheduled runs and run alerts.
type MonitoringConfig struct {
	IntervalSecs         int     `yaml:"interval_secs" mapstructure:"interval_secs"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	ErrorRateThreshold   float64 `yaml:"error_rate_threshold" mapstructure:"error_rate_threshold"`
	FlaggedRateThreshold float64 `yaml:"flagged_rate_threshold" mapstructure:"flagged_rate_threshold"`
	AlertCooldownMins    int     `yaml:"alert_cooldown_mins" mapstructure:"alert_cooldown_mins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
	Dir    string `yaml:"dir" mapstructure:"dir"` // audit logs
}

// Load reads ./config.yaml (when present) and the environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration from path and the environment. An empty path
// looks for ./config.yaml and tolerates its absence; an explicit path must
// exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("VENUE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http.timeout_secs", 10)
	v.SetDefault("http.connect_timeout_secs", 5)
	v.SetDefault("http.write_timeout_secs", 5)
	v.SetDefault("http.retries", 3)
	v.SetDefault("http.max_concurrent_requests", 5)
	v.SetDefault("http.rate_limit_per_minute", 30)
	v.SetDefault("http.user_agent", "venue-pipeline/1.0 (+freshness checks)")
	v.SetDefault("cache.driver", "sqlite")
	v.SetDefault("cache.path", "data/cache.db")
	v.SetDefault("cache.ttl_hours", 24)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "data/venues.db")
	v.SetDefault("schedule.risk_tier_high_days", 7)
	v.SetDefault("schedule.risk_tier_medium_days", 14)
	v.SetDefault("schedule.risk_tier_low_days", 60)
	v.SetDefault("validation.min_evidence_urls", 1)
	v.SetDefault("validation.max_evidence", 10)
	v.SetDefault("validation.prompt_evidence", 5)
	v.SetDefault("search.provider", "jina")
	v.SetDefault("search.results", 5)
	v.SetDefault("search.country", "hk")
	v.SetDefault("search.language", "zh-tw")
	v.SetDefault("reasoning.provider", "anthropic")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("google.base_url", "https://www.googleapis.com/customsearch/v1")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 512)
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar")
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.reset_timeout_secs", 60)
	v.SetDefault("sources.path", "config/sources.yaml")
	v.SetDefault("server.port", 8080)
	v.SetDefault("monitoring.interval_secs", 3600)
	v.SetDefault("monitoring.error_rate_threshold", 0.25)
	v.SetDefault("monitoring.flagged_rate_threshold", 0.5)
	v.SetDefault("monitoring.alert_cooldown_mins", 60)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.dir", "logs")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings needed by the given command mode. Every
// problem is reported, not just the first.
func (c *Config) Validate(mode string) error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if c.HTTP.MaxConcurrentRequests < 1 || c.HTTP.MaxConcurrentRequests > 50 {
		add("http.max_concurrent_requests must be between 1 and 50")
	}
	if c.HTTP.RateLimitPerMinute < 1 {
		add("http.rate_limit_per_minute must be > 0")
	}
	if c.HTTP.TimeoutSecs < 1 {
		add("http.timeout_secs must be > 0")
	}
	if c.Schedule.RiskTierHighDays < 1 || c.Schedule.RiskTierMediumDays < 1 || c.Schedule.RiskTierLowDays < 1 {
		add("schedule risk tier intervals must be > 0")
	}

	switch mode {
	case "check", "validate", "ingest":
		c.validateStore(add)
		c.validateCache(add)
		c.validateCapabilities(add)
	case "rebalance", "report":
		c.validateStore(add)
	case "cache":
		c.validateCache(add)
	case "serve":
		c.validateStore(add)
		c.validateCache(add)
		c.validateCapabilities(add)
		if c.Server.Port <= 0 {
			add("server.port must be > 0")
		}
		if c.Monitoring.IntervalSecs < 60 {
			add("monitoring.interval_secs must be >= 60")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore(add func(string, ...any)) {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		add("store.driver must be sqlite or postgres, got %q", c.Store.Driver)
	}
	if c.Store.DatabaseURL == "" {
		add("store.database_url is required")
	}
}

func (c *Config) validateCache(add func(string, ...any)) {
	switch c.Cache.Driver {
	case "sqlite":
		if c.Cache.Path == "" {
			add("cache.path is required for the sqlite cache")
		}
	case "redis":
		if c.Cache.RedisURL == "" {
			add("cache.redis_url is required for the redis cache")
		}
	default:
		add("cache.driver must be sqlite or redis, got %q", c.Cache.Driver)
	}
	if c.Cache.TTLHours < 1 {
		add("cache.ttl_hours must be > 0")
	}
}

func (c *Config) validateCapabilities(add func(string, ...any)) {
	switch c.Search.Provider {
	case "jina":
		if c.Jina.Key == "" {
			add("jina.key is required for search.provider=jina")
		}
	case "google":
		if c.Google.Key == "" || c.Google.CX == "" {
			add("google.key and google.cx are required for search.provider=google")
		}
	case "none", "":
	default:
		add("unknown search.provider %q", c.Search.Provider)
	}

	switch c.Reasoning.Provider {
	case "anthropic":
		if c.Anthropic.Key == "" {
			add("anthropic.key is required for reasoning.provider=anthropic")
		}
	case "perplexity":
		if c.Perplexity.Key == "" {
			add("perplexity.key is required for reasoning.provider=perplexity")
		}
	case "none", "":
	default:
		add("unknown reasoning.provider %q", c.Reasoning.Provider)
	}

	if c.Validation.MinEvidenceURLs < 0 {
		add("validation.min_evidence_urls must be >= 0")
	}
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
