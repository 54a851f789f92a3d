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
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Providers   ProvidersConfig   `yaml:"providers" mapstructure:"providers"`
	RateLimit   RateLimitConfig   `yaml:"ratelimit" mapstructure:"ratelimit"`
	Circuit     CircuitConfig     `yaml:"circuit" mapstructure:"circuit"`
	Hierarchy   HierarchyConfig   `yaml:"hierarchy" mapstructure:"hierarchy"`
	Temperature TemperatureConfig `yaml:"temperature" mapstructure:"temperature"`
	Pipeline    PipelineConfig    `yaml:"pipeline" mapstructure:"pipeline"`
	Classify    ClassifyConfig    `yaml:"classify" mapstructure:"classify"`
	Queue       QueueConfig       `yaml:"queue" mapstructure:"queue"`
	Salesforce  SalesforceConfig  `yaml:"salesforce" mapstructure:"salesforce"`
	Notion      NotionConfig      `yaml:"notion" mapstructure:"notion"`
	Batch       BatchConfig       `yaml:"batch" mapstructure:"batch"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Monitoring  MonitoringConfig  `yaml:"monitoring" mapstructure:"monitoring"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ProvidersConfig holds per-provider client settings.
type ProvidersConfig struct {
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Claude     ClaudeConfig     `yaml:"claude" mapstructure:"claude"`
	WebSearch  WebSearchConfig  `yaml:"websearch" mapstructure:"websearch"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key          string  `yaml:"key" mapstructure:"key"`
	BaseURL      string  `yaml:"base_url" mapstructure:"base_url"`
	Model        string  `yaml:"model" mapstructure:"model"`
	Enabled      bool    `yaml:"enabled" mapstructure:"enabled"`
	CostPerQuery float64 `yaml:"cost_per_query" mapstructure:"cost_per_query"`
}

// JinaConfig holds Jina AI search settings.
type JinaConfig struct {
	Key          string  `yaml:"key" mapstructure:"key"`
	SearchURL    string  `yaml:"search_url" mapstructure:"search_url"`
	Enabled      bool    `yaml:"enabled" mapstructure:"enabled"`
	CostPerQuery float64 `yaml:"cost_per_query" mapstructure:"cost_per_query"`
}

// ClaudeConfig holds Anthropic API settings.
type ClaudeConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
}

// WebSearchConfig holds Google Programmable Search settings.
type WebSearchConfig struct {
	Key          string  `yaml:"key" mapstructure:"key"`
	EngineID     string  `yaml:"engine_id" mapstructure:"engine_id"`
	BaseURL      string  `yaml:"base_url" mapstructure:"base_url"`
	Enabled      bool    `yaml:"enabled" mapstructure:"enabled"`
	CostPerQuery float64 `yaml:"cost_per_query" mapstructure:"cost_per_query"`
}

// QuotaConfig holds per-window request quotas for one provider.
type QuotaConfig struct {
	PerMinute int `yaml:"per_minute" mapstructure:"per_minute"`
	PerHour   int `yaml:"per_hour" mapstructure:"per_hour"`
	PerDay    int `yaml:"per_day" mapstructure:"per_day"`
}

// RateLimitConfig configures admission control.
type RateLimitConfig struct {
	Default             QuotaConfig            `yaml:"default" mapstructure:"default"`
	Providers           map[string]QuotaConfig `yaml:"providers" mapstructure:"providers"`
	CategoryMultipliers map[string]float64     `yaml:"category_multipliers" mapstructure:"category_multipliers"`
}

// CircuitConfig configures the per-provider circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	CooldownSecs     int `yaml:"cooldown_secs" mapstructure:"cooldown_secs"`
}

// HierarchyConfig configures priority-tier processing.
type HierarchyConfig struct {
	MinCoverage float64 `yaml:"min_coverage" mapstructure:"min_coverage"`
	MaxPerTier  int     `yaml:"max_per_tier" mapstructure:"max_per_tier"`
}

// TemperatureConfig configures multi-temperature search.
type TemperatureConfig struct {
	Values       []float64 `yaml:"values" mapstructure:"values"`
	CacheTTLMins int       `yaml:"cache_ttl_mins" mapstructure:"cache_ttl_mins"`
}

// PipelineConfig configures the stage orchestrator.
type PipelineConfig struct {
	MaxRetries           int `yaml:"max_retries" mapstructure:"max_retries"`
	RetryDelaySecs       int `yaml:"retry_delay_secs" mapstructure:"retry_delay_secs"`
	ProviderTimeoutSecs  int `yaml:"provider_timeout_secs" mapstructure:"provider_timeout_secs"`
	ProviderCacheTTLMins int `yaml:"provider_cache_ttl_mins" mapstructure:"provider_cache_ttl_mins"`
}

// ClassifyConfig configures source classification.
type ClassifyConfig struct {
	RulesPath string `yaml:"rules_path" mapstructure:"rules_path"`
}

// QueueConfig holds stage-transition webhook settings.
type QueueConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// SalesforceConfig holds Salesforce delivery settings.
type SalesforceConfig struct {
	Enabled        bool   `yaml:"enabled" mapstructure:"enabled"`
	Domain         string `yaml:"domain" mapstructure:"domain"`
	ConsumerKey    string `yaml:"consumer_key" mapstructure:"consumer_key"`
	ConsumerSecret string `yaml:"consumer_secret" mapstructure:"consumer_secret"`
	Object         string `yaml:"object" mapstructure:"object"`
}

// NotionConfig holds Notion API credentials and the subject database ID.
type NotionConfig struct {
	Token     string `yaml:"token" mapstructure:"token"`
	SubjectDB string `yaml:"subject_db" mapstructure:"subject_db"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentSubjects int `yaml:"max_concurrent_subjects" mapstructure:"max_concurrent_subjects"`
	Limit                 int `yaml:"limit" mapstructure:"limit"`
}

// ServerConfig configures the control-surface server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MonitoringConfig configures health checks and alert thresholds.
type MonitoringConfig struct {
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	DLQAlertDepth        int     `yaml:"dlq_alert_depth" mapstructure:"dlq_alert_depth"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CostThresholdUSD     float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
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
	v.AddConfigPath("$HOME/.intel-engine")

	// Environment
	v.SetEnvPrefix("INTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "intel.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("batch.max_concurrent_subjects", 5)
	v.SetDefault("batch.limit", 0)
	v.SetDefault("providers.perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("providers.perplexity.model", "sonar-pro")
	v.SetDefault("providers.perplexity.enabled", true)
	v.SetDefault("providers.perplexity.cost_per_query", 0.005)
	v.SetDefault("providers.jina.search_url", "https://s.jina.ai")
	v.SetDefault("providers.jina.enabled", true)
	v.SetDefault("providers.jina.cost_per_query", 0.003)
	v.SetDefault("providers.claude.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("providers.claude.max_tokens", 4096)
	v.SetDefault("providers.claude.enabled", true)
	v.SetDefault("providers.websearch.base_url", "https://customsearch.googleapis.com/customsearch/v1")
	v.SetDefault("providers.websearch.enabled", false)
	v.SetDefault("providers.websearch.cost_per_query", 0.005)
	v.SetDefault("ratelimit.default.per_minute", 30)
	v.SetDefault("ratelimit.default.per_hour", 300)
	v.SetDefault("ratelimit.default.per_day", 3000)
	v.SetDefault("circuit.failure_threshold", 3)
	v.SetDefault("circuit.cooldown_secs", 300)
	v.SetDefault("hierarchy.min_coverage", 0.8)
	v.SetDefault("hierarchy.max_per_tier", 10)
	v.SetDefault("temperature.values", []float64{0.3, 0.5, 0.7, 0.9})
	v.SetDefault("temperature.cache_ttl_mins", 60)
	v.SetDefault("pipeline.max_retries", 3)
	v.SetDefault("pipeline.retry_delay_secs", 30)
	v.SetDefault("pipeline.provider_timeout_secs", 30)
	v.SetDefault("pipeline.provider_cache_ttl_mins", 5)
	v.SetDefault("salesforce.object", "Account")
	v.SetDefault("monitoring.check_interval_secs", 60)
	v.SetDefault("monitoring.dlq_alert_depth", 10)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)

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

	return &cfg, nil
}

// Validate checks the configuration for the given command mode. All problems
// are reported in a single error.
func (c *Config) Validate(mode string) error {
	var problems []string

	addStoreProblems := func() {
		switch c.Store.Driver {
		case "sqlite":
			if c.Store.Path == "" {
				problems = append(problems, "store.path is required for the sqlite driver")
			}
		case "postgres":
			if c.Store.DatabaseURL == "" {
				problems = append(problems, "store.database_url is required for the postgres driver")
			}
		default:
			problems = append(problems, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
		}
	}

	addEngineProblems := func() {
		if !c.Providers.Perplexity.Enabled && !c.Providers.Jina.Enabled &&
			!c.Providers.Claude.Enabled && !c.Providers.WebSearch.Enabled {
			problems = append(problems, "at least one provider must be enabled")
		}
		if c.Providers.Perplexity.Enabled && c.Providers.Perplexity.Key == "" {
			problems = append(problems, "providers.perplexity.key is required")
		}
		if c.Providers.Jina.Enabled && c.Providers.Jina.Key == "" {
			problems = append(problems, "providers.jina.key is required")
		}
		if c.Providers.Claude.Enabled && c.Providers.Claude.Key == "" {
			problems = append(problems, "providers.claude.key is required")
		}
		if c.Providers.WebSearch.Enabled && (c.Providers.WebSearch.Key == "" || c.Providers.WebSearch.EngineID == "") {
			problems = append(problems, "providers.websearch.key and providers.websearch.engine_id are required")
		}
		if c.Pipeline.MaxRetries < 0 || c.Pipeline.MaxRetries > 10 {
			problems = append(problems, "pipeline.max_retries must be between 0 and 10")
		}
		if c.Pipeline.RetryDelaySecs < 0 {
			problems = append(problems, "pipeline.retry_delay_secs must be >= 0")
		}
		if c.Pipeline.ProviderTimeoutSecs <= 0 {
			problems = append(problems, "pipeline.provider_timeout_secs must be > 0")
		}
		if c.Hierarchy.MinCoverage < 0 || c.Hierarchy.MinCoverage > 1 {
			problems = append(problems, "hierarchy.min_coverage must be between 0 and 1")
		}
		if c.Hierarchy.MaxPerTier < 1 {
			problems = append(problems, "hierarchy.max_per_tier must be >= 1")
		}
		for _, temp := range c.Temperature.Values {
			if temp < 0 || temp > 1 {
				problems = append(problems, fmt.Sprintf("temperature.values entry %.2f is outside [0, 1]", temp))
			}
		}
		if c.Circuit.FailureThreshold < 1 {
			problems = append(problems, "circuit.failure_threshold must be >= 1")
		}
		if c.Circuit.CooldownSecs <= 0 {
			problems = append(problems, "circuit.cooldown_secs must be > 0")
		}
		if q := c.RateLimit.Default; q.PerMinute < 1 || q.PerHour < 1 || q.PerDay < 1 {
			problems = append(problems, "ratelimit.default quotas must be >= 1")
		}
		for cat, mul := range c.RateLimit.CategoryMultipliers {
			if mul < 0.7 || mul > 1.0 {
				problems = append(problems, fmt.Sprintf("ratelimit.category_multipliers.%s must be between 0.7 and 1.0", cat))
			}
		}
		if c.Salesforce.Enabled {
			if c.Salesforce.Domain == "" || c.Salesforce.ConsumerKey == "" || c.Salesforce.ConsumerSecret == "" {
				problems = append(problems, "salesforce.domain, salesforce.consumer_key, and salesforce.consumer_secret are required when delivery is enabled")
			}
		}
	}

	switch mode {
	case "run":
		addStoreProblems()
		addEngineProblems()
	case "batch":
		addStoreProblems()
		addEngineProblems()
		if c.Notion.Token == "" {
			problems = append(problems, "notion.token is required")
		}
		if c.Notion.SubjectDB == "" {
			problems = append(problems, "notion.subject_db is required")
		}
		if c.Batch.MaxConcurrentSubjects < 1 || c.Batch.MaxConcurrentSubjects > 50 {
			problems = append(problems, "batch.max_concurrent_subjects must be between 1 and 50")
		}
	case "serve":
		addStoreProblems()
		addEngineProblems()
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "import":
		addStoreProblems()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
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
