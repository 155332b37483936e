package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Dedupe     DedupeConfig     `yaml:"dedupe" mapstructure:"dedupe"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Enrich     EnrichConfig     `yaml:"enrich" mapstructure:"enrich"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the run history backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // sqlite, postgres or none
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	MaxBodyBytes   int64    `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// PipelineConfig configures validation behavior shared by every run.
type PipelineConfig struct {
	Concurrency               int     `yaml:"concurrency" mapstructure:"concurrency"`
	RequireSourceVerification bool    `yaml:"require_source_verification" mapstructure:"require_source_verification"`
	PageMatchPass             float64 `yaml:"page_match_pass" mapstructure:"page_match_pass"`
	PageMatchUncertain        float64 `yaml:"page_match_uncertain" mapstructure:"page_match_uncertain"`
}

// DedupeConfig holds defaults applied when a run spec leaves dedupe unset.
type DedupeConfig struct {
	KeyFields      []string `yaml:"key_fields" mapstructure:"key_fields"`
	Fuzzy          bool     `yaml:"fuzzy" mapstructure:"fuzzy"`
	FuzzyThreshold float64  `yaml:"fuzzy_threshold" mapstructure:"fuzzy_threshold"`
	SourcePriority []string `yaml:"source_priority" mapstructure:"source_priority"`
}

// FetchConfig configures source page fetching.
type FetchConfig struct {
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Retries           int     `yaml:"retries" mapstructure:"retries"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Concurrency       int     `yaml:"concurrency" mapstructure:"concurrency"`
	MaxBodyBytes      int64   `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
}

// Timeout returns the per-request timeout.
func (f FetchConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSecs) * time.Second
}

// EnrichConfig lists enrichment providers in the order they are consulted.
type EnrichConfig struct {
	Concurrency int              `yaml:"concurrency" mapstructure:"concurrency"`
	Providers   []ProviderConfig `yaml:"providers" mapstructure:"providers"`
}

// ProviderConfig configures one HTTP enrichment provider.
type ProviderConfig struct {
	Name              string   `yaml:"name" mapstructure:"name"`
	URL               string   `yaml:"url" mapstructure:"url"`
	APIKey            string   `yaml:"api_key" mapstructure:"api_key"`
	Fields            []string `yaml:"fields" mapstructure:"fields"`
	RequestsPerSecond float64  `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	TimeoutSecs       int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// MonitoringConfig configures quality alerts. Alerts are only sent when
// WebhookURL is set.
type MonitoringConfig struct {
	WebhookURL            string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	MinPassRate           float64 `yaml:"min_pass_rate" mapstructure:"min_pass_rate"` // percent
	MinCandidates         int     `yaml:"min_candidates" mapstructure:"min_candidates"`
	UnverifiableThreshold float64 `yaml:"unverifiable_threshold" mapstructure:"unverifiable_threshold"`
	FailureRateThreshold  float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	LookbackWindowHours   int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs     int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// Load reads configuration from ./config.yaml (if present) and environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration from path and environment. An empty path
// falls back to an optional ./config.yaml; an explicit path must exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}
	v.SetConfigType("yaml")

	// Environment
	v.SetEnvPrefix("RECORDGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "record-gate.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_body_bytes", 32<<20)
	v.SetDefault("pipeline.concurrency", 8)
	v.SetDefault("pipeline.require_source_verification", false)
	v.SetDefault("pipeline.page_match_pass", 0.8)
	v.SetDefault("pipeline.page_match_uncertain", 0.5)
	v.SetDefault("dedupe.key_fields", []string{"canonical_url"})
	v.SetDefault("dedupe.fuzzy", true)
	v.SetDefault("dedupe.fuzzy_threshold", 0.85)
	v.SetDefault("dedupe.source_priority", []string{})
	v.SetDefault("fetch.timeout_secs", 20)
	v.SetDefault("fetch.retries", 3)
	v.SetDefault("fetch.requests_per_second", 2.0)
	v.SetDefault("fetch.concurrency", 4)
	v.SetDefault("fetch.max_body_bytes", 2<<20)
	v.SetDefault("fetch.user_agent", "Mozilla/5.0 (compatible; record-gate/1.0)")
	v.SetDefault("enrich.concurrency", 4)
	v.SetDefault("monitoring.min_pass_rate", 20.0)
	v.SetDefault("monitoring.min_candidates", 10)
	v.SetDefault("monitoring.unverifiable_threshold", 0.5)
	v.SetDefault("monitoring.failure_rate_threshold", 0.2)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)

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

// Validate checks the settings a command mode depends on. Mode is one of
// "validate" or "serve".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	case "none", "":
	default:
		errs = append(errs, "store.driver must be sqlite, postgres or none")
	}

	if c.Pipeline.Concurrency < 1 || c.Pipeline.Concurrency > 64 {
		errs = append(errs, "pipeline.concurrency must be between 1 and 64")
	}
	if !unit(c.Pipeline.PageMatchPass) || !unit(c.Pipeline.PageMatchUncertain) {
		errs = append(errs, "pipeline.page_match thresholds must be between 0 and 1")
	} else if c.Pipeline.PageMatchUncertain > c.Pipeline.PageMatchPass {
		errs = append(errs, "pipeline.page_match_uncertain must not exceed page_match_pass")
	}
	if !unit(c.Dedupe.FuzzyThreshold) {
		errs = append(errs, "dedupe.fuzzy_threshold must be between 0 and 1")
	}

	if c.Monitoring.MinPassRate < 0 || c.Monitoring.MinPassRate > 100 {
		errs = append(errs, "monitoring.min_pass_rate must be between 0 and 100")
	}
	if !unit(c.Monitoring.UnverifiableThreshold) || !unit(c.Monitoring.FailureRateThreshold) {
		errs = append(errs, "monitoring thresholds must be between 0 and 1")
	}

	seen := make(map[string]bool, len(c.Enrich.Providers))
	for i, p := range c.Enrich.Providers {
		switch {
		case p.Name == "":
			errs = append(errs, fmt.Sprintf("enrich.providers[%d].name is required", i))
		case seen[p.Name]:
			errs = append(errs, fmt.Sprintf("enrich.providers[%d]: duplicate name %q", i, p.Name))
		}
		seen[p.Name] = true
		if p.URL == "" {
			errs = append(errs, fmt.Sprintf("enrich.providers[%d].url is required", i))
		}
		if len(p.Fields) == 0 {
			errs = append(errs, fmt.Sprintf("enrich.providers[%d].fields is required", i))
		}
	}

	switch mode {
	case "validate":
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func unit(f float64) bool { return f >= 0 && f <= 1 }

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
