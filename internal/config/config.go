package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Voice      VoiceConfig      `yaml:"voice" mapstructure:"voice"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Ingest     IngestConfig     `yaml:"ingest" mapstructure:"ingest"`
	Scheduler  SchedulerConfig  `yaml:"scheduler" mapstructure:"scheduler"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Path        string `yaml:"path" mapstructure:"path"`
}

// VoiceConfig holds voice platform API settings.
type VoiceConfig struct {
	Key          string  `yaml:"key" mapstructure:"key"`
	BaseURL      string  `yaml:"base_url" mapstructure:"base_url"`
	PageSize     int     `yaml:"page_size" mapstructure:"page_size"`
	MaxPages     int     `yaml:"max_pages" mapstructure:"max_pages"`
	RateLimitRPS float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	TimeoutSecs  int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// IngestConfig configures the two-phase call ingestion run.
type IngestConfig struct {
	BatchSize          int `yaml:"batch_size" mapstructure:"batch_size"`
	CallDelaySecs      int `yaml:"call_delay_secs" mapstructure:"call_delay_secs"`
	MinTranscriptChars int `yaml:"min_transcript_chars" mapstructure:"min_transcript_chars"`
	RetryAttempts      int `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoffSecs   int `yaml:"retry_backoff_secs" mapstructure:"retry_backoff_secs"`
	ClaimLeaseMins     int `yaml:"claim_lease_mins" mapstructure:"claim_lease_mins"`
}

// SchedulerConfig configures the periodic sync loop.
type SchedulerConfig struct {
	IntervalSecs       int      `yaml:"interval_secs" mapstructure:"interval_secs"`
	MaxConcurrentUsers int      `yaml:"max_concurrent_users" mapstructure:"max_concurrent_users"`
	Users              []string `yaml:"users" mapstructure:"users"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures background health checks and alerting.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	BacklogThreshold     int     `yaml:"backlog_threshold" mapstructure:"backlog_threshold"`
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

	// Environment
	v.SetEnvPrefix("VOICESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "voicesync.db")
	v.SetDefault("voice.base_url", "https://api.bolna.ai")
	v.SetDefault("voice.page_size", 50)
	v.SetDefault("voice.max_pages", 100)
	v.SetDefault("voice.rate_limit_rps", 5.0)
	v.SetDefault("voice.timeout_secs", 30)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("ingest.batch_size", 20)
	v.SetDefault("ingest.call_delay_secs", 10)
	v.SetDefault("ingest.min_transcript_chars", 15)
	v.SetDefault("ingest.retry_attempts", 3)
	v.SetDefault("ingest.retry_backoff_secs", 35)
	v.SetDefault("ingest.claim_lease_mins", 10)
	v.SetDefault("scheduler.interval_secs", 300)
	v.SetDefault("scheduler.max_concurrent_users", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.backlog_threshold", 100)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.cost_threshold_usd", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks that required settings are present for the given run mode.
// Modes: "sync" (one-shot ingestion), "schedule" (periodic loop), "serve"
// (read API only).
func (c *Config) Validate(mode string) error {
	var problems []string

	check := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	check(c.Store.Driver == "sqlite" || c.Store.Driver == "postgres",
		"store.driver must be sqlite or postgres")
	if c.Store.Driver == "postgres" {
		check(c.Store.DatabaseURL != "", "store.database_url is required")
	} else {
		check(c.Store.Path != "", "store.path is required")
	}

	switch mode {
	case "sync", "schedule":
		check(c.Voice.Key != "", "voice.key is required")
		check(c.Anthropic.Key != "", "anthropic.key is required")
		check(c.Ingest.BatchSize >= 1 && c.Ingest.BatchSize <= 500,
			"ingest.batch_size must be between 1 and 500")
		check(c.Ingest.RetryAttempts >= 1, "ingest.retry_attempts must be >= 1")
		check(c.Ingest.CallDelaySecs >= 0, "ingest.call_delay_secs must be >= 0")
		check(c.Ingest.MinTranscriptChars >= 0, "ingest.min_transcript_chars must be >= 0")
		if mode == "schedule" {
			check(c.Scheduler.IntervalSecs > 0, "scheduler.interval_secs must be > 0")
			check(c.Scheduler.MaxConcurrentUsers >= 1 && c.Scheduler.MaxConcurrentUsers <= 32,
				"scheduler.max_concurrent_users must be between 1 and 32")
		}
	case "serve":
		check(c.Server.Port > 0, "server.port must be > 0")
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
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
